package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"Buildwatch/internal/activity"
	"Buildwatch/internal/analytics"
	"Buildwatch/internal/circleci"
	"Buildwatch/internal/config"
	"Buildwatch/internal/metrics"
	"Buildwatch/internal/models"
	"Buildwatch/internal/notify"
	"Buildwatch/internal/window"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// WorkflowLister resolves a pipeline to its workflows
type WorkflowLister interface {
	ListWorkflows(ctx context.Context, pipelineID string) ([]models.Workflow, error)
}

// CIClient is the provider surface the controller drives
type CIClient interface {
	WorkflowLister
	ListPipelines(ctx context.Context) ([]models.Pipeline, error)
	CancelWorkflow(ctx context.Context, workflowID string) error
}

type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

type Controller struct {
	cfg      *config.Config
	ci       CIClient
	notifier Notifier
	tracker  *analytics.Tracker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a controller. tracker may be nil when run history is not served.
func New(
	cfg *config.Config,
	ci CIClient,
	notifier Notifier,
	tracker *analytics.Tracker,
	met *metrics.Metrics,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		cfg:      cfg,
		ci:       ci,
		notifier: notifier,
		tracker:  tracker,
		metrics:  met,
		logger:   logger.With("component", "controller"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Watch runs a fresh detection cycle every watch interval until ctx is done. A failed
// cycle is logged and the next tick starts over from an empty index.
func (c *Controller) Watch(ctx context.Context) error {
	c.logger.Info("controller starting",
		"interval", c.cfg.Watch.Interval,
		"window_seconds", c.cfg.Thresholds.WindowSeconds,
		"dry_run", c.cfg.DryRun,
	)

	ticker := time.NewTicker(c.cfg.Watch.Interval)
	defer ticker.Stop()

	for {
		if _, err := c.RunOnce(ctx); err != nil {
			c.logger.Error("detection cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one fetch-and-decide cycle. Fetch and decode failures abort the cycle;
// notification and cancellation failures are logged and do not.
func (c *Controller) RunOnce(ctx context.Context) (models.RunReport, error) {
	start := time.Now()
	report := models.RunReport{
		ID:        uuid.NewString(),
		StartedAt: c.now(),
		DryRun:    c.cfg.DryRun,
	}

	err := c.cycle(ctx, &report)
	report.Duration = time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		report.Error = err.Error()
		c.metrics.RunErrors.WithLabelValues(errorType(err)).Inc()
	}
	c.metrics.RunsTotal.WithLabelValues(status).Inc()
	c.metrics.RunDuration.Observe(report.Duration.Seconds())
	c.metrics.LastRunAlert.WithLabelValues(notify.KindUser).Set(boolGauge(report.UserAlert))
	c.metrics.LastRunAlert.WithLabelValues(notify.KindBuild).Set(boolGauge(report.BuildAlert))

	if c.tracker != nil {
		c.tracker.RecordRun(report)
	}

	c.logger.Info("detection cycle complete",
		"run_id", report.ID,
		"status", status,
		"pipelines", report.Pipelines,
		"window_events", report.WindowEvents,
		"user_alert", report.UserAlert,
		"build_alert", report.BuildAlert,
		"duration_ms", report.Duration.Milliseconds(),
	)

	return report, err
}

func (c *Controller) cycle(ctx context.Context, report *models.RunReport) error {
	pipelines, err := c.ci.ListPipelines(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pipelines: %w", err)
	}

	idx, err := activity.Build(pipelines)
	if err != nil {
		return fmt.Errorf("failed to index pipelines: %w", err)
	}

	ref := c.now()
	th := c.cfg.Thresholds
	res := window.Evaluate(idx.Actors(), idx.Created(), ref, th)

	report.Pipelines = idx.Len()
	report.Actors = len(idx.Actors())
	report.WindowEvents = res.WindowEvents

	c.metrics.PipelinesFetched.Set(float64(idx.Len()))
	c.metrics.ActorsSeen.Set(float64(len(idx.Actors())))
	c.metrics.WindowEvents.Set(float64(res.WindowEvents))
	c.metrics.ActorWindowPeak.Set(float64(res.PeakActorCount()))

	c.logger.Debug("window evaluated",
		"reference", ref,
		"ages", res.Ages,
		"window_events", res.WindowEvents,
	)

	for _, v := range res.Violations {
		report.UserAlert = true
		violation, err := c.remediate(ctx, idx, v, ref)
		report.Violations = append(report.Violations, violation)
		if err != nil {
			return err
		}
	}

	if res.GlobalAlert {
		report.BuildAlert = true
		c.metrics.AlertsTotal.WithLabelValues(notify.KindBuild).Inc()
		c.logger.Warn("build alert",
			"window_events", res.WindowEvents,
			"max_global", th.MaxGlobal,
			"window_seconds", th.WindowSeconds,
		)
		c.send(ctx, notify.BuildAlert(res.WindowEvents, res.OldestInWindow, ref))
	}

	return nil
}

// remediate alerts on an offending actor and cancels every workflow of every pipeline the
// actor has in the fetch, not only the in-window ones.
func (c *Controller) remediate(ctx context.Context, idx *activity.Index, v window.Violation, ref time.Time) (models.ActorViolation, error) {
	th := c.cfg.Thresholds
	result := models.ActorViolation{
		Actor: v.Actor,
		Count: v.Count(),
		Ages:  v.Ages,
	}

	c.metrics.AlertsTotal.WithLabelValues(notify.KindUser).Inc()
	c.logger.Warn("user alert",
		"actor", v.Actor,
		"count", v.Count(),
		"max_per_actor", th.MaxPerActor,
		"window_seconds", th.WindowSeconds,
	)
	c.send(ctx, notify.UserAlert(v.Actor, v.Count(), th.WindowSeconds, ref, idx.Earliest(), c.cfg.DryRun))

	pipelineIDs := idx.Pipelines(v.Actor)
	resolved, err := ResolveWorkflows(ctx, c.ci, pipelineIDs, c.cfg.CircleCI.FetchConcurrency)
	if err != nil {
		return result, fmt.Errorf("failed to resolve workflows for %s: %w", v.Actor, err)
	}
	workflowIDs := Flatten(pipelineIDs, resolved)
	result.Workflows = len(workflowIDs)

	for _, id := range workflowIDs {
		if c.cfg.DryRun {
			c.logger.Info("dry run: would cancel workflow", "actor", v.Actor, "workflow_id", id)
			c.metrics.CancellationsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if err := c.ci.CancelWorkflow(ctx, id); err != nil {
			result.Failed++
			c.metrics.CancellationsTotal.WithLabelValues("failed").Inc()
			c.logger.Error("failed to cancel workflow", "actor", v.Actor, "workflow_id", id, "error", err)
			continue
		}
		result.Cancelled++
		c.metrics.CancellationsTotal.WithLabelValues("cancelled").Inc()
		c.logger.Info("cancelled workflow", "actor", v.Actor, "workflow_id", id)
	}

	return result, nil
}

func (c *Controller) send(ctx context.Context, msg notify.Message) {
	if err := c.notifier.Send(ctx, msg); err != nil {
		c.metrics.NotificationsTotal.WithLabelValues(msg.Kind, "failed").Inc()
		c.logger.Error("failed to send notification", "kind", msg.Kind, "error", err)
		return
	}
	c.metrics.NotificationsTotal.WithLabelValues(msg.Kind, "sent").Inc()
}

// ResolveWorkflows lists the workflows of each pipeline with at most concurrency calls in
// flight. Any failure aborts the whole resolution.
func ResolveWorkflows(ctx context.Context, lister WorkflowLister, pipelineIDs []string, concurrency int) (map[string][]string, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([][]string, len(pipelineIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, pipelineID := range pipelineIDs {
		i, pipelineID := i, pipelineID
		g.Go(func() error {
			workflows, err := lister.ListWorkflows(gctx, pipelineID)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", pipelineID, err)
			}
			ids := make([]string, len(workflows))
			for j, wf := range workflows {
				ids[j] = wf.ID
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved := make(map[string][]string, len(pipelineIDs))
	for i, pipelineID := range pipelineIDs {
		resolved[pipelineID] = results[i]
	}
	return resolved, nil
}

// Flatten returns workflow ids in pipeline order
func Flatten(pipelineIDs []string, resolved map[string][]string) []string {
	var ids []string
	seen := make(map[string]bool, len(pipelineIDs))
	for _, p := range pipelineIDs {
		if seen[p] {
			continue
		}
		seen[p] = true
		ids = append(ids, resolved[p]...)
	}
	return ids
}

func errorType(err error) string {
	var apiErr *circleci.APIError
	switch {
	case errors.Is(err, circleci.ErrMalformedResponse):
		return "malformed_response"
	case errors.As(err, &apiErr):
		return "upstream_status"
	case errors.Is(err, activity.ErrMissingActor), errors.Is(err, activity.ErrMissingTimestamp):
		return "index"
	default:
		return "fetch"
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
