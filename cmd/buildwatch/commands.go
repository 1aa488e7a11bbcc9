package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"Buildwatch/internal/activity"
	"Buildwatch/internal/analytics"
	"Buildwatch/internal/api"
	"Buildwatch/internal/circleci"
	"Buildwatch/internal/config"
	"Buildwatch/internal/controller"
	"Buildwatch/internal/cost"
	"Buildwatch/internal/metrics"
	"Buildwatch/internal/models"
	"Buildwatch/internal/notify"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single detection cycle and print the alert summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, met, err := bootstrap("run")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := circleci.NewClient(cfg.CircleCI, met, logger)
		ctrl := controller.New(cfg, client, notify.NewWebhook(cfg.Notify, logger), nil, met, logger)

		report, runErr := ctrl.RunOnce(ctx)
		pushMetrics(cfg, met, logger)
		if runErr != nil {
			return runErr
		}

		return writeJSON(cmd.OutOrStdout(), report.Summary)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run detection cycles on an interval and serve status over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, met, err := bootstrap("watch")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tracker := analytics.NewTracker(cfg.Watch.HistorySize)
		client := circleci.NewClient(cfg.CircleCI, met, logger)
		ctrl := controller.New(cfg, client, notify.NewWebhook(cfg.Notify, logger), tracker, met, logger)
		apiServer := api.New(cfg, tracker, met, logger)

		errCh := make(chan error, 1)
		go func() {
			errCh <- apiServer.Start(ctx)
		}()

		go func() {
			if err := ctrl.Watch(ctx); err != nil {
				logger.Error("controller error", "error", err)
			}
		}()

		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		logger.Info("shutdown complete")
		return nil
	},
}

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Attribute workflow credit cost of recent pipelines to the actors that triggered them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, met, err := bootstrap("cost")
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := circleci.NewClient(cfg.CircleCI, met, logger)
		ledger, err := attributeCost(ctx, cfg, client, logger)
		if err != nil {
			return err
		}

		for actor, c := range ledger.Actors {
			met.ActorCost.WithLabelValues(actor).Set(c)
		}
		met.AttributedCost.Set(ledger.Total)
		pushMetrics(cfg, met, logger)

		return writeJSON(cmd.OutOrStdout(), ledger)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "buildwatch v%s\n", version)
	},
}

// costClient is what cost attribution needs from the CircleCI client
type costClient interface {
	controller.WorkflowLister
	cost.Source
	ListPipelines(ctx context.Context) ([]models.Pipeline, error)
}

func attributeCost(ctx context.Context, cfg *config.Config, client costClient, logger *slog.Logger) (*cost.Ledger, error) {
	pipelines, err := client.ListPipelines(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	idx, err := activity.Build(pipelines)
	if err != nil {
		return nil, fmt.Errorf("failed to index pipelines: %w", err)
	}

	pipelineIDs := make([]string, 0, idx.Len())
	for _, actor := range idx.Actors() {
		pipelineIDs = append(pipelineIDs, idx.Pipelines(actor)...)
	}

	resolved, err := controller.ResolveWorkflows(ctx, client, pipelineIDs, cfg.CircleCI.FetchConcurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workflows: %w", err)
	}

	engine := cost.NewEngine(client, cfg.Cost, logger)
	ledger, err := engine.Ledger(ctx, resolved, idx.PipelineActor())
	if err != nil {
		return nil, fmt.Errorf("failed to attribute cost: %w", err)
	}
	return ledger, nil
}

func pushMetrics(cfg *config.Config, met *metrics.Metrics, logger *slog.Logger) {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	if err := met.Push(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		logger.Error("failed to push metrics", "error", err)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}
