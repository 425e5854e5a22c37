package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"autothreshold/internal/models"
	"autothreshold/pkg/mrc"
)

var inspectThreshold float64

// inspectCmd prints a map's header and its metric values at a threshold
var inspectCmd = &cobra.Command{
	Use:   "inspect [map]",
	Short: "Show a density map's header and metric values at a threshold",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

// modelsCmd lists the models stored in the registry
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models stored in the registry",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

// historyCmd lists the predictions recorded for a model
var historyCmd = &cobra.Command{
	Use:   "history [model]",
	Short: "List the predictions recorded for a model",
	Long: `Lists the predictions recorded for a registry model name, or for a model
file path when predictions were made from a file. Defaults to model.name.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	inspectCmd.Flags().Float64VarP(&inspectThreshold, "threshold", "t", 0, "Threshold at which metrics are evaluated")
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	path := args[0]

	metrics, err := cfg.LookupMetrics()
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	vol, h, err := mrc.ReadFile(path)
	if err != nil {
		return err
	}

	var positive, above int
	for _, v := range vol.Data {
		if v > 0 {
			positive++
		}
		if v > inspectThreshold {
			above++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "File:        %s (%s)\n", path, humanize.Bytes(uint64(info.Size())))
	fmt.Fprintf(out, "Grid:        %d x %d x %d (mode %d)\n", h.NX, h.NY, h.NZ, h.Mode)
	fmt.Fprintf(out, "Voxel size:  %.4g x %.4g x %.4g\n", vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z)
	fmt.Fprintf(out, "Density:     min %.6g  max %.6g  mean %.6g  rms %.6g\n", h.DMin, h.DMax, h.DMean, h.RMS)
	fmt.Fprintf(out, "Voxels:      %s total, %s positive, %s above %g\n",
		humanize.Comma(int64(vol.Len())), humanize.Comma(int64(positive)), humanize.Comma(int64(above)), inspectThreshold)

	d := models.DensityMap{Path: path, Volume: vol}
	for i, m := range metrics {
		value, err := m.Value(ctx, d, inspectThreshold)
		if err != nil {
			fmt.Fprintf(out, "  %-14s error: %v\n", cfg.Metrics[i], err)
			continue
		}
		fmt.Fprintf(out, "  %-14s %.6g\n", cfg.Metrics[i], value)
	}
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	if reg == nil {
		return errors.New("no registry configured")
	}
	defer reg.Close()

	entries, err := reg.ListModels(commandContext(cmd))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No models stored")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\tmetrics=%v\tW=%v\t%s\n", e.Name, e.Metrics, e.Model.Weights, humanize.Time(e.CreatedAt))
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	name := cfg.Model.Name
	if len(args) == 1 {
		name = args[0]
	}

	reg, err := openRegistry()
	if err != nil {
		return err
	}
	if reg == nil {
		return errors.New("no registry configured")
	}
	defer reg.Close()

	predictions, err := reg.Predictions(commandContext(cmd), name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(predictions) == 0 {
		fmt.Fprintf(out, "No predictions recorded for %s\n", name)
		return nil
	}
	for _, p := range predictions {
		fmt.Fprintf(out, "%s\t%s\t%.6g\tconverged=%v\t%s\n",
			p.ID, p.MapPath, p.Threshold, p.Converged, humanize.Time(p.CreatedAt))
	}
	return nil
}
