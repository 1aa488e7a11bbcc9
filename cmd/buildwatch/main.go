package main

import (
	"fmt"
	"log/slog"
	"os"

	"Buildwatch/internal/config"
	"Buildwatch/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "buildwatch",
	Short: "Detects and stops runaway CircleCI pipeline triggering",
	Long: `buildwatch watches the recent pipelines of a CircleCI project, alerts when a single
actor or the project as a whole triggers too many pipelines inside a trailing window,
and cancels the offending actor's workflows.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(runCmd, watchCmd, costCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger and metrics shared by every command
func bootstrap(mode string) (*config.Config, *slog.Logger, *metrics.Metrics, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting buildwatch",
		"version", version,
		"mode", mode,
		"project", cfg.CircleCI.ProjectSlug(),
		"dry_run", cfg.DryRun,
	)

	met := metrics.NewMetrics(prometheus.NewRegistry())
	met.BuildInfo.WithLabelValues(version, modeString(cfg.DryRun)).Set(1)

	return cfg, logger, met, nil
}

// setupLogger writes JSON logs to stderr; stdout carries command output
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}

func modeString(dryRun bool) string {
	if dryRun {
		return "dry-run"
	}
	return "production"
}
