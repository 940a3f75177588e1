package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Leadership metrics
	IsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rookery_is_leader",
			Help: "Whether this manager holds the leadership lock (1 = leader, 0 = follower)",
		},
	)

	LeadershipTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rookery_leadership_transitions_total",
			Help: "Leadership acquisitions and losses",
		},
		[]string{"transition"},
	)

	// Topology metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rookery_nodes_total",
			Help: "Number of managed nodes by engine state",
		},
		[]string{"state"},
	)

	FailoversTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rookery_failovers_total",
			Help: "Primary promotions by reason",
		},
		[]string{"reason"},
	)

	PromotionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rookery_promotion_failures_total",
			Help: "Promotions that ended without a primary",
		},
	)

	DiscoveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rookery_discovery_failures_total",
			Help: "Failed topology discovery attempts",
		},
	)

	// Decision metrics
	HealthReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rookery_health_reports_total",
			Help: "Health reports produced by local observers by state",
		},
		[]string{"state"},
	)

	DecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rookery_decision_duration_seconds",
			Help:    "Time taken to apply one verdict, including role changes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verdict"},
	)

	CheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rookery_check_duration_seconds",
			Help:    "Duration of node checks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rookery_reconciliation_duration_seconds",
			Help:    "Duration of reconciliation sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rookery_reconciliation_cycles_total",
			Help: "Total number of reconciliation sweeps",
		},
	)

	NodesRepaired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rookery_nodes_repaired_total",
			Help: "Role-mutation calls issued to repair drifted nodes",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rookery_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rookery_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rookery_events_dropped_total",
			Help: "Events not delivered to a subscriber whose buffer was full",
		},
		[]string{"type"},
	)

	// ComponentHealthy mirrors the component registry behind /health
	ComponentHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rookery_component_healthy",
			Help: "Whether a manager component reports healthy (1) or not (0)",
		},
		[]string{"component"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(IsLeader)
	prometheus.MustRegister(LeadershipTransitions)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(FailoversTotal)
	prometheus.MustRegister(PromotionFailures)
	prometheus.MustRegister(DiscoveryFailures)
	prometheus.MustRegister(HealthReportsTotal)
	prometheus.MustRegister(DecisionDuration)
	prometheus.MustRegister(CheckDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCycles)
	prometheus.MustRegister(NodesRepaired)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(ComponentHealthy)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in a histogram vector
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
