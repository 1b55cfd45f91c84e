package main

import (
	"github.com/spf13/cobra"

	"github.com/copyleftdev/gridfit/internal/config"
	"github.com/copyleftdev/gridfit/internal/logging"
)

var (
	logLevel  string
	logFormat string
	cfg       *config.Config
	logger    *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gridfit",
	Short: "Exhaustive grid-search curve fitting",
	Long: `gridfit fits proportional, power-law and exponential curves to logged
samples by evaluating every candidate of a parameter grid in parallel.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Logging.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Logging.Format = logFormat
		}
		logCfg := cfg.LoggingConfig()
		logCfg.Development = false
		logger, err = logging.NewLogger(logCfg)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format (json, console)")
}
