package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "buildwatch"
)

// Metrics holds all Prometheus metrics for the monitor
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunDuration  prometheus.Histogram
	RunErrors    *prometheus.CounterVec
	LastRunAlert *prometheus.GaugeVec

	// Activity metrics
	PipelinesFetched prometheus.Gauge
	ActorsSeen       prometheus.Gauge
	WindowEvents     prometheus.Gauge
	ActorWindowPeak  prometheus.Gauge

	// Remediation metrics
	AlertsTotal        *prometheus.CounterVec
	CancellationsTotal *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec

	// CircleCI API metrics
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec

	// Cost metrics
	ActorCost      *prometheus.GaugeVec
	AttributedCost prometheus.Gauge

	// System metrics
	BuildInfo *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		// Run metrics
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of detection cycles",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of detection cycles",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),
		RunErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "run_errors_total",
				Help:      "Total number of aborted detection cycles",
			},
			[]string{"error_type"},
		),
		LastRunAlert: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_alert",
				Help:      "Whether the last cycle raised an alert of the given kind (1) or not (0)",
			},
			[]string{"kind"},
		),

		// Activity metrics
		PipelinesFetched: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipelines_fetched",
				Help:      "Number of pipelines fetched in the last cycle",
			},
		),
		ActorsSeen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "actors_seen",
				Help:      "Number of distinct triggering actors in the last cycle",
			},
		),
		WindowEvents: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "window_events",
				Help:      "Pipelines created inside the trailing window in the last cycle",
			},
		),
		ActorWindowPeak: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "actor_window_peak",
				Help:      "Highest in-window pipeline count of any single actor in the last cycle",
			},
		),

		// Remediation metrics
		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Total number of alerts raised",
			},
			[]string{"kind"},
		),
		CancellationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cancellations_total",
				Help:      "Total number of workflow cancellation attempts",
			},
			[]string{"status"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of webhook notifications",
			},
			[]string{"kind", "status"},
		),

		// CircleCI API metrics
		APIRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circleci_api_requests_total",
				Help:      "Total number of CircleCI API requests",
			},
			[]string{"endpoint", "status"},
		),
		APIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "circleci_api_duration_seconds",
				Help:      "Duration of CircleCI API requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),

		// Cost metrics
		ActorCost: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "actor_cost",
				Help:      "Attributed workflow cost per triggering actor",
			},
			[]string{"actor"},
		),
		AttributedCost: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "attributed_cost",
				Help:      "Total attributed workflow cost of the last ledger",
			},
		),

		// System metrics
		BuildInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Information about the monitor",
			},
			[]string{"version", "mode"},
		),
	}

	return m
}

// Registry returns the registry the metrics were registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends the current state of the registry to a Pushgateway. One-shot runs
// exit before anything could scrape them, so this is how they report.
func (m *Metrics) Push(url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).Push(); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
