package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsStopped  int     `json:"runs_stopped"`
	RunsFailed   int     `json:"runs_failed"`
	RunsActive   int     `json:"runs_active"`
	FailRate     float64 `json:"fail_rate"`
	DenialRate   float64 `json:"denial_rate"`
	CostUSD      float64 `json:"cost_usd"`
	AvgTokens    int     `json:"avg_tokens"`

	// Segment metrics across finished runs.
	Segments        int     `json:"segments"`
	FailedSegments  int     `json:"failed_segments"`
	SegmentFailRate float64 `json:"segment_fail_rate"`
	Questions       int     `json:"questions"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	store RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunLister) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalTokens int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusStopped:
			snap.RunsStopped++
		case model.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsActive++
		}
		if r.Result != nil {
			snap.CostUSD += r.Result.TotalCost
			totalTokens += r.Result.TotalTokens
			snap.Segments += r.Result.Segments
			snap.FailedSegments += r.Result.Failed
			snap.Questions += r.Result.Questions
		}
	}

	finished := snap.RunsComplete + snap.RunsStopped + snap.RunsFailed
	if finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
		snap.DenialRate = float64(snap.RunsStopped) / float64(finished)
	}
	if snap.Segments > 0 {
		snap.SegmentFailRate = float64(snap.FailedSegments) / float64(snap.Segments)
	}
	if snap.RunsTotal > 0 {
		snap.AvgTokens = totalTokens / snap.RunsTotal
	}

	return snap, nil
}
