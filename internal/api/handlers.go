package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/pipeline"
	"github.com/sells-group/insight-cli/internal/store"
)

// AnalyzeRequest starts an analysis. Credentials come only from the server
// configuration.
type AnalyzeRequest struct {
	Identity     string `json:"identity"`
	AnalysisType string `json:"analysis_type"`
	// DataReviewResult must not be false; the caller's own review gate.
	DataReviewResult *bool `json:"data_review_result,omitempty"`
}

// AnalyzeResponse reports a finished analysis.
type AnalyzeResponse struct {
	Success        bool                  `json:"success"`
	AnalysisType   string                `json:"analysis_type"`
	Message        string                `json:"message"`
	RunID          string                `json:"run_id"`
	Outcome        model.Outcome         `json:"outcome"`
	Results        *model.AnalysisResult `json:"results"`
	FilesGenerated []string              `json:"files_generated"`
	ExecutionTime  float64               `json:"execution_time"`
	Timestamp      string                `json:"timestamp"`
}

// ReviewRequest audits the given tables, or the schema reachable for
// Identity when no tables are given.
type ReviewRequest struct {
	Identity string                  `json:"identity"`
	Tables   []model.TableDescriptor `json:"tables_info"`
}

// ReviewResponse reports a compliance review.
type ReviewResponse struct {
	Success         bool                      `json:"success"`
	Message         string                    `json:"message"`
	RunID           string                    `json:"run_id,omitempty"`
	TablesAudited   []model.ComplianceVerdict `json:"tables_audited"`
	FinalConclusion bool                      `json:"final_conclusion"`
	ExecutionTime   float64                   `json:"execution_time"`
	Timestamp       string                    `json:"timestamp"`
}

// BrandRequest carries the analysis a brand strategy is built from.
type BrandRequest struct {
	IntegratedAnalysis any `json:"integrated_analysis"`
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s *Server) identity(requested string) string {
	if requested != "" {
		return requested
	}
	return s.cfg.Session.Identity
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "insight-cli",
		"timestamp": s.timestamp(),
	})
}

// handleConfig reports which settings are present without revealing them.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	c := s.cfg
	keyConfigured := c.Anthropic.Key != ""
	modelName := c.Anthropic.Model
	if c.Provider.Name == "gemini" {
		keyConfigured = c.Gemini.Key != ""
		modelName = c.Gemini.Model
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":                         c.Provider.Name,
		"model":                            modelName,
		"provider_key_configured":          keyConfigured,
		"supabase_project_id_configured":   c.Supabase.ProjectID != "" || c.Supabase.MCPURL != "",
		"supabase_access_token_configured": c.Supabase.AccessToken != "",
		"store_driver":                     c.Store.Driver,
		"brand":                            c.Pipeline.Brand,
		"context_probe":                    c.Pipeline.ContextProbe,
		"timestamp":                        s.timestamp(),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req AnalyzeRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DataReviewResult != nil && !*req.DataReviewResult {
		writeError(w, http.StatusBadRequest, "data review result is false; analysis cannot proceed")
		return
	}
	scope, err := pipeline.ParseScope(req.AnalysisType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "analysis_type must be one of schema, market, audience, all")
		return
	}

	res, err := s.pipeline.RunScope(r.Context(), s.identity(req.Identity), scope)
	if err != nil {
		zap.L().Error("api: analysis failed", zap.String("scope", string(scope)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("analysis failed: %v", err))
		return
	}

	msg := fmt.Sprintf("%s analysis completed successfully", scope)
	if res.Outcome != model.OutcomeDone {
		msg = fmt.Sprintf("%s analysis %s at %s: %s", scope, res.Outcome, res.StoppedAt, res.Reason)
	}
	files := res.Outputs
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Success:        res.Outcome == model.OutcomeDone,
		AnalysisType:   string(scope),
		Message:        msg,
		RunID:          res.RunID,
		Outcome:        res.Outcome,
		Results:        res,
		FilesGenerated: files,
		ExecutionTime:  time.Since(start).Seconds(),
		Timestamp:      s.timestamp(),
	})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ReviewRequest
	if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		summary model.ComplianceSummary
		runID   string
	)
	if len(req.Tables) > 0 {
		summary = s.pipeline.Review(r.Context(), req.Tables)
	} else {
		res, err := s.pipeline.RunScope(r.Context(), s.identity(req.Identity), pipeline.ScopeSchema)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("data compliance check failed: %v", err))
			return
		}
		if res.Schema == nil || len(res.Schema.Tables) == 0 || res.Compliance == nil {
			writeError(w, http.StatusBadRequest, "unable to retrieve database table information; check the Supabase configuration")
			return
		}
		summary = *res.Compliance
		runID = res.RunID
	}

	writeJSON(w, http.StatusOK, ReviewResponse{
		Success:         true,
		Message:         fmt.Sprintf("data compliance check completed, %d tables reviewed", len(summary.Verdicts)),
		RunID:           runID,
		TablesAudited:   summary.Verdicts,
		FinalConclusion: summary.AllAllowed,
		ExecutionTime:   time.Since(start).Seconds(),
		Timestamp:       s.timestamp(),
	})
}

func (s *Server) handleBrand(w http.ResponseWriter, r *http.Request) {
	var req BrandRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IntegratedAnalysis == nil {
		writeError(w, http.StatusBadRequest, "integrated_analysis is required")
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Brand(r.Context(), req.IntegratedAnalysis))
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	outputs, err := s.store.ListOutputs(r.Context(), r.URL.Query().Get("prefix"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list results failed")
		return
	}
	if outputs == nil {
		outputs = []model.OutputInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files": outputs,
		"count": len(outputs),
	})
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	out, err := s.store.GetOutput(r.Context(), key)
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read result failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":        out.Key,
		"content":    out.Content,
		"size":       len(out.Content),
		"created_at": out.CreatedAt,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status:   model.RunStatus(q.Get("status")),
		Identity: q.Get("identity"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
