package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autothreshold/pkg/predictor"
)

// trainCmd fits a model to expert thresholds
var trainCmd = &cobra.Command{
	Use:   "train [maps-dir] [thresholds.json]",
	Short: "Train a model from density maps and expert thresholds",
	Long: `Reads every .mrc and .map file in maps-dir and pairs it with the threshold
whose key in thresholds.json appears in the file name, for example

  {"emd_1234": 0.42, "emd_5678": 1.7}

The trained model is written to model.path and, when a registry is
configured, stored in it under model.name.`,
	Args: cobra.ExactArgs(2),
	RunE: runTrain,
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	metrics, err := cfg.LookupMetrics()
	if err != nil {
		return err
	}

	examples, err := gatherExamples(args[0], args[1], logger)
	if err != nil {
		return err
	}

	p, err := predictor.NewPredictor(metrics, cfg.PredictorParams(logger))
	if err != nil {
		return err
	}

	startTime := time.Now()
	model, err := p.Train(ctx, examples)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	logger.Info("training completed",
		zap.Int("examples", len(examples)),
		zap.Duration("elapsed", time.Since(startTime)))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Trained on %d maps\n", len(examples))
	for i, name := range cfg.Metrics {
		fmt.Fprintf(out, "  %-14s M_t=%-12.6g W=%.6g\n", name, model.Targets[i], model.Weights[i])
	}

	if cfg.Model.Path != "" {
		if err := predictor.SaveModel(model, cfg.Model.Path); err != nil {
			return err
		}
		fmt.Fprintf(out, "Model saved to %s\n", cfg.Model.Path)
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	if reg != nil {
		defer reg.Close()
		if err := reg.PutModel(ctx, cfg.Model.Name, cfg.Metrics, model); err != nil {
			return err
		}
		fmt.Fprintf(out, "Model stored in %s as %q\n", cfg.Model.Registry, cfg.Model.Name)
	}

	return nil
}
