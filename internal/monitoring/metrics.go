package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StageDuration observes how long each pipeline stage takes.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insight_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage", "status"},
	)

	// CompletionRequests counts completion calls made by the pipeline.
	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_completion_requests_total",
			Help: "Total completion requests by outcome",
		},
		[]string{"status"},
	)

	// CompletionTokens counts tokens reported by completions.
	CompletionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_completion_tokens_total",
			Help: "Tokens consumed by completions",
		},
		[]string{"direction"},
	)

	// GateDecisions counts compliance gate outcomes.
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_compliance_gate_total",
			Help: "Compliance gate decisions",
		},
		[]string{"decision"},
	)

	// RetryExhausted counts stages that fell back after every attempt failed.
	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_retry_exhausted_total",
			Help: "Stages whose attempts were exhausted",
		},
		[]string{"stage"},
	)

	// SegmentsProcessed counts market segments by outcome.
	SegmentsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_segments_total",
			Help: "Market segments processed",
		},
		[]string{"status"},
	)

	// ValidationResults counts question validation reports by result type.
	ValidationResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insight_validation_results_total",
			Help: "Question validation results",
		},
		[]string{"result_type"},
	)

	// WindowRuns reports runs by status over the checker's lookback window.
	WindowRuns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "insight_window_runs",
			Help: "Runs in the lookback window by status",
		},
		[]string{"status"},
	)

	// WindowCostUSD reports spend over the checker's lookback window.
	WindowCostUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "insight_window_cost_usd",
			Help: "Completion cost in the lookback window",
		},
	)

	// AlertsFiring is 1 for each alert type currently over its threshold.
	AlertsFiring = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "insight_alerts_firing",
			Help: "Alerts currently firing by type",
		},
		[]string{"type"},
	)

	// RunsActive tracks runs currently in flight.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "insight_runs_active",
			Help: "Pipeline runs in flight",
		},
	)
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
