package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/store"
)

// mockStore implements RunLister for testing.
type mockStore struct {
	runs    []model.Run
	listErr error
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func TestCollector_EmptyStore(t *testing.T) {
	c := NewCollector(&mockStore{})

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RunsTotal)
	assert.Equal(t, 0, snap.RunsFailed)
	assert.Equal(t, 0.0, snap.FailRate)
	assert.Equal(t, 0.0, snap.CostUSD)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_RunMetrics(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		runs: []model.Run{
			{ID: "1", Status: model.RunStatusComplete, CreatedAt: now.Add(-1 * time.Hour), Result: &model.RunResult{TotalCost: 1.50, TotalTokens: 5000, Segments: 3, Failed: 1, Questions: 12}},
			{ID: "2", Status: model.RunStatusComplete, CreatedAt: now.Add(-2 * time.Hour), Result: &model.RunResult{TotalCost: 2.00, TotalTokens: 7000, Segments: 2, Questions: 8}},
			{ID: "3", Status: model.RunStatusStopped, CreatedAt: now.Add(-3 * time.Hour), Result: &model.RunResult{Outcome: model.OutcomeStopped}},
			{ID: "4", Status: model.RunStatusFailed, CreatedAt: now.Add(-3 * time.Hour), Result: &model.RunResult{}},
			{ID: "5", Status: model.RunStatusSegments, CreatedAt: now.Add(-30 * time.Minute)},
			// Outside lookback window.
			{ID: "6", Status: model.RunStatusFailed, CreatedAt: now.Add(-48 * time.Hour), Result: &model.RunResult{}},
		},
	}

	c := NewCollector(st)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsStopped)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsActive)
	assert.InDelta(t, 0.25, snap.FailRate, 0.001)
	assert.InDelta(t, 0.25, snap.DenialRate, 0.001)
	assert.InDelta(t, 3.50, snap.CostUSD, 0.001)
	assert.Equal(t, 2400, snap.AvgTokens) // (5000+7000)/5
	assert.Equal(t, 5, snap.Segments)
	assert.Equal(t, 1, snap.FailedSegments)
	assert.InDelta(t, 0.2, snap.SegmentFailRate, 0.001)
	assert.Equal(t, 20, snap.Questions)
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&mockStore{listErr: errors.New("db down")})

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}

func TestCollector_FailureRateZeroFinished(t *testing.T) {
	now := time.Now().UTC()
	st := &mockStore{
		runs: []model.Run{
			{ID: "1", Status: model.RunStatusQueued, CreatedAt: now.Add(-1 * time.Hour)},
			{ID: "2", Status: model.RunStatusAuditing, CreatedAt: now.Add(-2 * time.Hour)},
		},
	}

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0.0, snap.FailRate)
	assert.Equal(t, 2, snap.RunsActive)
}

func TestHandler_ServesMetrics(t *testing.T) {
	GateDecisions.WithLabelValues("allowed").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "insight_compliance_gate_total")
}
