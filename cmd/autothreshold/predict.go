package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"autothreshold/internal/models"
	"autothreshold/pkg/metric"
	"autothreshold/pkg/mrc"
	"autothreshold/pkg/predictor"
	"autothreshold/pkg/registry"
	"autothreshold/pkg/visualization"
)

var (
	fromRegistry bool
	previewDir   string
)

// predictCmd predicts thresholds for new maps
var predictCmd = &cobra.Command{
	Use:   "predict [map]...",
	Short: "Predict the threshold of one or more density maps",
	Long: `Loads the model from model.path, or from the registry with --from-registry,
and prints the predicted threshold of every map with the convergence of each
metric inversion. A prediction whose inversions did not all converge is still
printed but should be checked by hand.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().BoolVar(&fromRegistry, "from-registry", false, "Load the model from the registry instead of model.path")
	predictCmd.Flags().StringVar(&previewDir, "preview-dir", "", "Write central slices and threshold masks here (overrides output.previewDir)")
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	if previewDir != "" {
		cfg.Output.PreviewDir = previewDir
	}

	metrics, err := cfg.LookupMetrics()
	if err != nil {
		return err
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	if reg != nil {
		defer reg.Close()
	}

	model, source, err := loadModel(cmd, reg, metrics)
	if err != nil {
		return err
	}

	p, err := predictor.NewPredictor(metrics, cfg.PredictorParams(logger))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, path := range args {
		vol, _, err := mrc.ReadFile(path)
		if err != nil {
			return err
		}
		d := models.DensityMap{Path: path, Volume: vol}

		res, err := p.Predict(ctx, model, d)
		if err != nil {
			return fmt.Errorf("predict %s: %w", path, err)
		}

		fmt.Fprintf(out, "%s\t%.6g\tconverged=%v\n", path, res.Threshold, res.Converged)
		for i, name := range cfg.Metrics {
			logger.Debug("metric threshold",
				zap.String("map", path),
				zap.String("metric", name),
				zap.Float64("threshold", res.Thresholds[i]),
				zap.Bool("converged", res.Converged[i]))
		}
		if !res.AllConverged() {
			logger.Warn("not every metric inversion converged", zap.String("map", path))
		}

		if reg != nil {
			if _, err := reg.RecordPrediction(ctx, source, path, res); err != nil {
				return err
			}
		}

		if cfg.Output.PreviewDir != "" {
			if err := savePreview(vol, path, res.Threshold); err != nil {
				return err
			}
		}
	}

	return nil
}

// loadModel loads the model from the registry or the model file and returns
// the label predictions are recorded under
func loadModel(cmd *cobra.Command, reg *registry.Registry, metrics []metric.Metric) (*predictor.Model, string, error) {
	if fromRegistry {
		if reg == nil {
			return nil, "", errors.New("--from-registry needs model.registry or --registry")
		}
		model, err := reg.GetModel(commandContext(cmd), cfg.Model.Name, cfg.Metrics)
		if err != nil {
			return nil, "", err
		}
		return model, cfg.Model.Name, nil
	}

	if cfg.Model.Path == "" {
		return nil, "", errors.New("no model path configured")
	}
	model, err := predictor.LoadModel(cfg.Model.Path, metrics)
	if err != nil {
		return nil, "", err
	}
	return model, cfg.Model.Path, nil
}

func savePreview(vol *models.Volume, path string, threshold float64) error {
	viewer, err := visualization.NewViewer(vol)
	if err != nil {
		return fmt.Errorf("preview %s: %w", path, err)
	}

	prefix := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	written, err := viewer.SavePreview(cfg.Output.PreviewDir, prefix, threshold)
	if err != nil {
		return fmt.Errorf("preview %s: %w", path, err)
	}
	logger.Debug("wrote preview", zap.String("map", path), zap.Strings("files", written))
	return nil
}
