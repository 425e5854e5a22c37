package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"autothreshold/pkg/config"
	"autothreshold/pkg/registry"
)

var (
	// Global flags
	configPath   string
	verbose      bool
	modelPath    string
	registryPath string
	modelName    string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "autothreshold",
	Short: "Predict display thresholds for cryo-EM density maps",
	Long: `autothreshold learns how experts choose the contour level of cryo-EM
density maps and predicts it for new maps.

Each metric (surface to volume ratio, fraction of remaining voxels, ...) is a
function of the threshold. Training records the mean metric value over the
expert thresholds and fits weights so that inverting every metric and
averaging reproduces the experts. Prediction inverts the metrics on a new map.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		applyFlags(cfg)

		// Initialize logger
		zc := zap.NewProductionConfig()
		if cfg.Output.Verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file with default values",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "autothreshold.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&modelPath, "model", "m", "", "Model record file (overrides model.path)")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "Model registry database (overrides model.registry)")
	rootCmd.PersistentFlags().StringVar(&modelName, "name", "", "Model name in the registry (overrides model.name)")

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

// applyFlags overrides configuration values with the global flags that were set
func applyFlags(c *config.Config) {
	if verbose {
		c.Output.Verbose = true
	}
	if modelPath != "" {
		c.Model.Path = modelPath
	}
	if registryPath != "" {
		c.Model.Registry = registryPath
	}
	if modelName != "" {
		c.Model.Name = modelName
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
	return nil
}

// commandContext returns the context the command was executed with
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openRegistry opens the configured registry, or returns nil when none is configured
func openRegistry() (*registry.Registry, error) {
	if cfg.Model.Registry == "" {
		return nil, nil
	}
	reg, err := registry.Open(cfg.Model.Registry, logger)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", cfg.Model.Registry, err)
	}
	return reg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
