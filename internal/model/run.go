package model

import (
	"time"
)

// RunStatus represents the current state of an analysis run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusRetrieving RunStatus = "retrieving_schema"
	RunStatusAuditing   RunStatus = "auditing"
	RunStatusMarket     RunStatus = "market_analysis"
	RunStatusSegments   RunStatus = "segment_analysis"
	RunStatusMerging    RunStatus = "merging"
	RunStatusBranding   RunStatus = "branding"
	RunStatusComplete   RunStatus = "complete"
	RunStatusStopped    RunStatus = "stopped"
	RunStatusFailed     RunStatus = "failed"
)

// Run represents a single pipeline run for a session identity.
type Run struct {
	ID        string     `json:"id"`
	Identity  string     `json:"identity"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the persisted outcome of a run.
type RunResult struct {
	Outcome     Outcome       `json:"outcome"`
	StoppedAt   string        `json:"stopped_at,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Segments    int           `json:"segments"`
	Failed      int           `json:"failed_segments"`
	Questions   int           `json:"questions"`
	TotalTokens int           `json:"total_tokens"`
	TotalCost   float64       `json:"total_cost"`
	Phases      []PhaseResult `json:"phases"`
	Outputs     []string      `json:"outputs,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// RunPhase represents a phase within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline phase.
type PhaseResult struct {
	Name       string         `json:"name"`
	Status     PhaseStatus    `json:"status"`
	Duration   int64          `json:"duration_ms"`
	TokenUsage TokenUsage     `json:"token_usage"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Outcome is the terminal state of the orchestrator.
type Outcome string

const (
	OutcomeDone    Outcome = "DONE"
	OutcomeStopped Outcome = "STOPPED"
	OutcomeFailed  Outcome = "FAILED"
)

// Stage names used for phase tracking and output keys.
const (
	StageSchema       = "schema_description"
	StageCompliance   = "data_audit"
	StageMarket       = "market_analysis"
	StageContextProbe = "context_probe"
	StageAudience     = "audience_analysis"
	StageCustomer     = "customer_analysis"
	StageValidation   = "data_modeling_validation"
	StageMerge        = "integrated_analysis"
	StageBrand        = "brand_strategy"
)

// AnalysisResult is the caller-visible result of one orchestrator run. It
// always names the terminal state and, when the run did not finish, the
// stage that stopped it and why.
type AnalysisResult struct {
	RunID      string                     `json:"run_id"`
	Identity   string                     `json:"identity"`
	Outcome    Outcome                    `json:"outcome"`
	StoppedAt  string                     `json:"stopped_at,omitempty"`
	Reason     string                     `json:"reason,omitempty"`
	Schema     *SchemaResult              `json:"schema,omitempty"`
	Compliance *ComplianceSummary         `json:"compliance,omitempty"`
	Market     *MarketDocument            `json:"market,omitempty"`
	Audience   *CustomerAnalysis          `json:"audience,omitempty"`
	Validation []QuestionValidationReport `json:"validation,omitempty"`
	Integrated *IntegratedAnalysis        `json:"integrated,omitempty"`
	Brand      *BrandStrategy             `json:"brand,omitempty"`
	Phases     []PhaseResult              `json:"phases"`
	Usage      TokenUsage                 `json:"usage"`
	TotalCost  float64                    `json:"total_cost"`
	Outputs    []string                   `json:"outputs,omitempty"`
}

// RunStatus maps a terminal outcome to the run status stored with it.
func (o Outcome) RunStatus() RunStatus {
	switch o {
	case OutcomeDone:
		return RunStatusComplete
	case OutcomeStopped:
		return RunStatusStopped
	default:
		return RunStatusFailed
	}
}
