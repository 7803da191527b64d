package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/pipeline"
	"github.com/sells-group/insight-cli/internal/store"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) RunScope(ctx context.Context, identity string, scope pipeline.Scope) (*model.AnalysisResult, error) {
	args := m.Called(ctx, identity, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AnalysisResult), args.Error(1)
}

func (m *mockPipeline) Review(ctx context.Context, tables []model.TableDescriptor) model.ComplianceSummary {
	args := m.Called(ctx, tables)
	return args.Get(0).(model.ComplianceSummary)
}

func (m *mockPipeline) Brand(ctx context.Context, data any) model.BrandStrategy {
	args := m.Called(ctx, data)
	return args.Get(0).(model.BrandStrategy)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Provider.Name = "anthropic"
	cfg.Anthropic.Key = "sk-test-secret"
	cfg.Anthropic.Model = "claude-sonnet-4-5"
	cfg.Supabase.ProjectID = "proj"
	cfg.Store.Driver = "sqlite"
	cfg.Session.Identity = "default-user"
	cfg.Server.CORSOrigins = []string{"https://app.example.com"}
	return cfg
}

func newTestServer(t *testing.T) (*Server, *mockPipeline, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	p := &mockPipeline{}
	return New(p, st, testConfig()), p, st
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func boolPtr(b bool) *bool { return &b }

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "insight-cli", body["service"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestConfig_DoesNotRevealSecrets(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/config", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-test-secret")

	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["provider_key_configured"])
	assert.Equal(t, true, body["supabase_project_id_configured"])
	assert.Equal(t, false, body["supabase_access_token_configured"])
	assert.Equal(t, "claude-sonnet-4-5", body["model"])
}

func TestAnalyze_Success(t *testing.T) {
	s, p, _ := newTestServer(t)
	res := &model.AnalysisResult{
		RunID:   "run-1",
		Outcome: model.OutcomeDone,
		Outputs: []string{"run-1/market_analysis_20250102_150405"},
	}
	p.On("RunScope", mock.Anything, "alice", pipeline.ScopeMarket).Return(res, nil)

	rec := do(t, s, http.MethodPost, "/analyze", `{"identity":"alice","analysis_type":"market"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[AnalyzeResponse](t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "market", body.AnalysisType)
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, res.Outputs, body.FilesGenerated)
	assert.Contains(t, body.Message, "completed")
	p.AssertExpectations(t)
}

func TestAnalyze_DefaultsToConfiguredIdentityAndAllScope(t *testing.T) {
	s, p, _ := newTestServer(t)
	p.On("RunScope", mock.Anything, "default-user", pipeline.ScopeAll).
		Return(&model.AnalysisResult{RunID: "run-2", Outcome: model.OutcomeDone}, nil)

	rec := do(t, s, http.MethodPost, "/analyze", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[AnalyzeResponse](t, rec)
	assert.Equal(t, "all", body.AnalysisType)
	assert.Empty(t, body.FilesGenerated)
	p.AssertExpectations(t)
}

func TestAnalyze_Stopped(t *testing.T) {
	s, p, _ := newTestServer(t)
	p.On("RunScope", mock.Anything, "alice", pipeline.ScopeAll).Return(&model.AnalysisResult{
		RunID:     "run-3",
		Outcome:   model.OutcomeStopped,
		StoppedAt: model.StageCompliance,
		Reason:    "compliance denied 1 of 2 tables: users",
	}, nil)

	rec := do(t, s, http.MethodPost, "/analyze", `{"identity":"alice"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[AnalyzeResponse](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, model.OutcomeStopped, body.Outcome)
	assert.Contains(t, body.Message, "users")
}

func TestAnalyze_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"analysis_type":"weather"}`},
		{"review rejected", `{"analysis_type":"all","data_review_result":false}`},
		{"malformed", `{"analysis_type":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, p, _ := newTestServer(t)
			rec := do(t, s, http.MethodPost, "/analyze", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode[map[string]string](t, rec), "error")
			p.AssertNotCalled(t, "RunScope", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAnalyze_ReviewApproved(t *testing.T) {
	s, p, _ := newTestServer(t)
	p.On("RunScope", mock.Anything, "default-user", pipeline.ScopeSchema).
		Return(&model.AnalysisResult{RunID: "run-4", Outcome: model.OutcomeDone}, nil)

	req := AnalyzeRequest{AnalysisType: "schema", DataReviewResult: boolPtr(true)}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/analyze", string(data))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalyze_PipelineError(t *testing.T) {
	s, p, _ := newTestServer(t)
	p.On("RunScope", mock.Anything, "alice", pipeline.ScopeAll).Return(nil, assert.AnError)

	rec := do(t, s, http.MethodPost, "/analyze", `{"identity":"alice"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReview_GivenTables(t *testing.T) {
	s, p, _ := newTestServer(t)
	tables := []model.TableDescriptor{{Name: "orders", Columns: []string{"id", "total"}}}
	summary := model.Summarize([]model.ComplianceVerdict{{TableName: "orders", AllowedToUse: true}})
	p.On("Review", mock.Anything, tables).Return(summary)

	rec := do(t, s, http.MethodPost, "/review", `{"tables_info":[{"table_name":"orders","columns":["id","total"]}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[ReviewResponse](t, rec)
	assert.True(t, body.Success)
	assert.True(t, body.FinalConclusion)
	require.Len(t, body.TablesAudited, 1)
	assert.Equal(t, "orders", body.TablesAudited[0].TableName)
	p.AssertNotCalled(t, "RunScope", mock.Anything, mock.Anything, mock.Anything)
}

func TestReview_RetrievesSchema(t *testing.T) {
	s, p, _ := newTestServer(t)
	summary := model.Summarize([]model.ComplianceVerdict{{TableName: "users", ContainsSensitiveData: true}})
	p.On("RunScope", mock.Anything, "bob", pipeline.ScopeSchema).Return(&model.AnalysisResult{
		RunID:      "run-5",
		Outcome:    model.OutcomeStopped,
		Schema:     &model.SchemaResult{Tables: []model.TableDescriptor{{Name: "users"}}},
		Compliance: &summary,
	}, nil)

	rec := do(t, s, http.MethodPost, "/review", `{"identity":"bob"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[ReviewResponse](t, rec)
	assert.False(t, body.FinalConclusion)
	assert.Equal(t, "run-5", body.RunID)
	assert.Len(t, body.TablesAudited, 1)
}

func TestReview_NoTables(t *testing.T) {
	s, p, _ := newTestServer(t)
	p.On("RunScope", mock.Anything, "default-user", pipeline.ScopeSchema).Return(&model.AnalysisResult{
		RunID:   "run-6",
		Outcome: model.OutcomeFailed,
		Schema:  &model.SchemaResult{},
	}, nil)

	rec := do(t, s, http.MethodPost, "/review", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBrand(t *testing.T) {
	s, p, _ := newTestServer(t)
	p.On("Brand", mock.Anything, map[string]any{"markets": "retail"}).Return(model.DefaultBrandStrategy())

	rec := do(t, s, http.MethodPost, "/brand", `{"integrated_analysis":{"markets":"retail"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[model.BrandStrategy](t, rec)
	assert.Equal(t, model.DefaultBrandStrategy().ChatappName, body.ChatappName)
	assert.Len(t, body.CoreFeatures, model.BrandFeatureCount)
}

func TestBrand_MissingAnalysis(t *testing.T) {
	s, p, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/brand", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	p.AssertNotCalled(t, "Brand", mock.Anything, mock.Anything)
}

func TestResults(t *testing.T) {
	s, _, st := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, st.WriteOutput(ctx, "run-a/market_analysis_20250102_150405", `{"x":1}`))
	require.NoError(t, st.WriteOutput(ctx, "run-b/market_analysis_20250102_150405", `{"x":2}`))

	rec := do(t, s, http.MethodGet, "/results?prefix=run-a/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Files []model.OutputInfo `json:"files"`
		Count int                `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Files, 1)
	assert.Equal(t, "run-a/market_analysis_20250102_150405", list.Files[0].Key)

	rec = do(t, s, http.MethodGet, "/results/run-b/market_analysis_20250102_150405", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, `{"x":2}`, got["content"])
	assert.EqualValues(t, 7, got["size"])

	rec = do(t, s, http.MethodGet, "/results/run-c/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuns(t *testing.T) {
	s, _, st := newTestServer(t)
	run, err := st.CreateRun(context.Background(), "carol")
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Run](t, rec)
	assert.Equal(t, "carol", got.Identity)

	rec = do(t, s, http.MethodGet, "/runs?identity=carol", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Run](t, rec), 1)

	rec = do(t, s, http.MethodGet, "/runs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
