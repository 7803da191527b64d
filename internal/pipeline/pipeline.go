package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/agent"
	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/prompts"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/internal/store"
)

// Scope selects how far a run goes.
type Scope string

const (
	// ScopeSchema stops after the compliance gate.
	ScopeSchema Scope = "schema"
	// ScopeMarket stops after the market stage.
	ScopeMarket Scope = "market"
	// ScopeAudience runs one audience stage over the whole market analysis.
	ScopeAudience Scope = "audience"
	// ScopeAll runs every stage, with an audience stage per market segment.
	ScopeAll Scope = "all"
)

// ParseScope maps a name to a Scope. Empty means ScopeAll.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeAll:
		return ScopeAll, nil
	case ScopeSchema:
		return ScopeSchema, nil
	case ScopeMarket:
		return ScopeMarket, nil
	case ScopeAudience:
		return ScopeAudience, nil
	}
	return "", eris.Errorf("pipeline: unknown analysis type %q", s)
}

// previewLen bounds logged completion previews.
const previewLen = 100

// Pipeline orchestrates an analysis run for a session identity.
type Pipeline struct {
	cfg       config.PipelineConfig
	store     store.Store
	sessions  SessionOpener
	completer agent.Completer
	prompts   *prompts.Set
	attempts  resilience.AttemptConfig
	now       func() time.Time
}

// New creates a Pipeline. completer answers the stateless prompts (audits,
// validations, brand); sessions supplies the conversation the other stages
// share.
func New(
	cfg config.PipelineConfig,
	st store.Store,
	sessions SessionOpener,
	completer agent.Completer,
	ps *prompts.Set,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		sessions:  sessions,
		completer: completer,
		prompts:   ps,
		attempts:  resilience.FromAttemptConfig(cfg.Retry.MaxAttempts, cfg.Retry.TimeoutSecs, cfg.Retry.DelaySecs),
		now:       time.Now,
	}
}

// Run executes the full analysis for identity.
func (p *Pipeline) Run(ctx context.Context, identity string) (*model.AnalysisResult, error) {
	return p.RunScope(ctx, identity, ScopeAll)
}

// RunScope executes the analysis up to scope. Stage failures, the gate
// denying and cancellation are reported in the result; an error is returned
// only when the run cannot start.
func (p *Pipeline) RunScope(ctx context.Context, identity string, scope Scope) (*model.AnalysisResult, error) {
	if _, err := ParseScope(string(scope)); err != nil {
		return nil, err
	}

	conv, err := p.sessions.Open(ctx, identity)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: open session")
	}

	run, err := p.store.CreateRun(ctx, identity)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	monitoring.RunsActive.Inc()
	defer monitoring.RunsActive.Dec()

	e := p.newExecution(run, conv)
	e.log.Info("pipeline: starting analysis", zap.String("scope", string(scope)))
	return e.execute(ctx, scope), nil
}

// Review audits tables directly, with no run and no conversation.
func (p *Pipeline) Review(ctx context.Context, tables []model.TableDescriptor) model.ComplianceSummary {
	sender := Oneshot{Completer: p.completer, System: p.prompts.Text(prompts.KeyAuditSystem)}
	return NewAuditor(sender, p.prompts, p.cfg.AuditConcurrency).AuditAll(ctx, tables)
}

// Brand runs the brand stage alone over data, falling back to the default
// strategy when every attempt fails.
func (p *Pipeline) Brand(ctx context.Context, data any) model.BrandStrategy {
	sender := Oneshot{Completer: p.completer, System: p.prompts.Text(prompts.KeyBrandSystem)}
	return NewBrander(sender, p.prompts, p.attempts).Strategy(ctx, data)
}

// execution is the state of one run.
type execution struct {
	p         *Pipeline
	run       *model.Run
	log       *zap.Logger
	tally     *tally
	conv      Conversation
	auditor   *Auditor
	validator *Validator
	brander   *Brander
	stages    *Stages
	result    *model.AnalysisResult
	started   time.Time
}

func (p *Pipeline) newExecution(run *model.Run, conv Conversation) *execution {
	t := &tally{}
	oneshot := func(system string) Sender {
		return meter{next: Oneshot{Completer: p.completer, System: system}, tally: t}
	}

	stages := NewStages(p.store, run.ID)
	stages.now = p.now

	return &execution{
		p:   p,
		run: run,
		log: zap.L().With(
			zap.String("run_id", run.ID),
			zap.String("identity", run.Identity),
		),
		tally:     t,
		conv:      meteredConversation{meter: meter{next: conv, tally: t}, identity: conv.Identity()},
		auditor:   NewAuditor(oneshot(p.prompts.Text(prompts.KeyAuditSystem)), p.prompts, p.cfg.AuditConcurrency),
		validator: NewValidator(oneshot(""), p.prompts, p.cfg.ValidateConcurrency),
		brander:   NewBrander(oneshot(p.prompts.Text(prompts.KeyBrandSystem)), p.prompts, p.attempts),
		stages:    stages,
		result: &model.AnalysisResult{
			RunID:    run.ID,
			Identity: run.Identity,
		},
		started: p.now(),
	}
}

func (e *execution) execute(ctx context.Context, scope Scope) *model.AnalysisResult {
	// ===== Schema retrieval =====
	e.setStatus(ctx, model.RunStatusRetrieving)
	var schema *model.SchemaResult
	e.trackPhase(ctx, model.StageSchema, func() (*model.PhaseResult, error) {
		schema = DescribeSchema(ctx, e.conv, e.p.prompts)
		if schema.RawText != "" {
			e.stages.Persist(ctx, model.StageSchema, schema.RawText)
		}
		pr := &model.PhaseResult{Metadata: map[string]any{
			"state":  string(schema.State),
			"tables": len(schema.Tables),
		}}
		if schema.State == model.SchemaDegraded {
			return pr, eris.Errorf("schema degraded: %s", schema.Error)
		}
		return pr, nil
	})
	e.result.Schema = schema
	if err := ctx.Err(); err != nil {
		return e.cancelled(ctx, model.StageSchema, err)
	}

	// ===== Compliance gate =====
	e.setStatus(ctx, model.RunStatusAuditing)
	var summary model.ComplianceSummary
	e.trackPhase(ctx, model.StageCompliance, func() (*model.PhaseResult, error) {
		summary = e.auditor.AuditAll(ctx, schema.Tables)
		e.persistAudit(ctx, summary)
		return &model.PhaseResult{Metadata: map[string]any{
			"tables":  len(summary.Verdicts),
			"allowed": summary.AllAllowed,
			"denied":  len(summary.Denied()),
		}}, nil
	})
	e.result.Compliance = &summary
	if err := ctx.Err(); err != nil {
		return e.cancelled(ctx, model.StageCompliance, err)
	}
	if !summary.AllAllowed {
		monitoring.GateDecisions.WithLabelValues("denied").Inc()
		return e.finish(ctx, model.OutcomeStopped, model.StageCompliance, denialReason(schema, summary))
	}
	monitoring.GateDecisions.WithLabelValues("allowed").Inc()
	if scope == ScopeSchema {
		return e.finish(ctx, model.OutcomeDone, "", "")
	}

	// ===== Market analysis =====
	e.setStatus(ctx, model.RunStatusMarket)
	doc := e.market(ctx)
	if err := ctx.Err(); err != nil {
		return e.cancelled(ctx, model.StageMarket, err)
	}
	if e.p.cfg.ContextProbe {
		e.probe(ctx, doc)
	}
	if scope == ScopeMarket {
		return e.finish(ctx, model.OutcomeDone, "", "")
	}

	// ===== Whole-audience analysis =====
	if scope == ScopeAudience {
		e.setStatus(ctx, model.RunStatusSegments)
		pr := e.audience(ctx, schema)
		if err := ctx.Err(); err != nil {
			return e.cancelled(ctx, model.StageAudience, err)
		}
		if pr.Status == model.PhaseStatusFailed {
			return e.finish(ctx, model.OutcomeFailed, model.StageAudience, pr.Error)
		}
		return e.finish(ctx, model.OutcomeDone, "", "")
	}

	// ===== Per-segment loop =====
	// Segments share the conversation, so they run one at a time in order.
	e.setStatus(ctx, model.RunStatusSegments)
	integrated := model.NewIntegratedAnalysis(doc, e.metadata(model.AnalysisTypeIntegrated))
	e.result.Integrated = integrated
	for i, seg := range doc.Segments {
		if err := ctx.Err(); err != nil {
			return e.cancelled(ctx, model.StageCustomer, err)
		}
		e.segment(ctx, integrated, seg.MarketName, schema, i, len(doc.Segments))
	}
	if err := ctx.Err(); err != nil {
		return e.cancelled(ctx, model.StageCustomer, err)
	}

	// ===== Merge =====
	e.setStatus(ctx, model.RunStatusMerging)
	e.trackPhase(ctx, model.StageMerge, func() (*model.PhaseResult, error) {
		e.stages.PersistJSON(ctx, model.StageMerge, integrated)
		e.stages.PersistJSON(ctx, model.StageValidation, e.validationDocument())
		segments, failed := countSegments(integrated)
		return &model.PhaseResult{Metadata: map[string]any{
			"segments":  segments,
			"failed":    failed,
			"questions": len(e.result.Validation),
		}}, nil
	})

	// ===== Brand strategy =====
	if e.p.cfg.Brand {
		e.setStatus(ctx, model.RunStatusBranding)
		e.trackPhase(ctx, model.StageBrand, func() (*model.PhaseResult, error) {
			bs := e.brander.Strategy(ctx, integrated)
			e.result.Brand = &bs
			e.stages.PersistJSON(ctx, model.StageBrand, bs)
			return &model.PhaseResult{Metadata: map[string]any{
				"chatapp_name": bs.ChatappName,
				"fallback":     bs.Fallback,
			}}, nil
		})
	}

	return e.finish(ctx, model.OutcomeDone, "", "")
}

// market runs the market stage. A failed completion degrades to the default
// segment rather than stopping the run.
func (e *execution) market(ctx context.Context) *model.MarketDocument {
	var doc *model.MarketDocument
	e.trackPhase(ctx, model.StageMarket, func() (*model.PhaseResult, error) {
		raw, err := e.stages.Run(ctx, e.conv, model.StageMarket, "", e.p.prompts.Text(prompts.KeyMarket), true)
		doc = ParseMarket(raw)
		e.stages.PersistJSON(ctx, model.StageMarket+"_pure", model.PureMarketAnalysis{
			Metadata: e.metadata(model.AnalysisTypeMarketOnly),
			Markets:  doc.Document(),
		})
		return &model.PhaseResult{Metadata: map[string]any{
			"shape":    string(doc.Shape),
			"segments": len(doc.Segments),
		}}, err
	})
	e.result.Market = doc
	return doc
}

// probe asks the conversation about the first market to confirm it still
// holds the market analysis.
func (e *execution) probe(ctx context.Context, doc *model.MarketDocument) {
	e.trackPhase(ctx, model.StageContextProbe, func() (*model.PhaseResult, error) {
		market := doc.Segments[0].MarketName
		prompt, err := e.p.prompts.ContextProbe(market)
		if err != nil {
			return nil, err
		}
		resp, err := e.conv.Send(ctx, prompt, false)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: context probe")
		}
		p := preview(resp.Text, previewLen)
		e.log.Info("pipeline: context probe", zap.String("market", market), zap.String("preview", p))
		return &model.PhaseResult{Metadata: map[string]any{"preview": p}}, nil
	})
}

// audience runs one audience stage over the whole market analysis and
// validates every question it yields.
func (e *execution) audience(ctx context.Context, schema *model.SchemaResult) *model.PhaseResult {
	return e.trackPhase(ctx, model.StageAudience, func() (*model.PhaseResult, error) {
		raw, err := e.stages.Run(ctx, e.conv, model.StageAudience, "", e.p.prompts.Text(prompts.KeyAudience), true)
		if err != nil {
			return nil, err
		}
		ca, err := ParseCustomerAnalysis(raw)
		if err != nil {
			return nil, err
		}
		e.result.Audience = ca

		rows := ca.Questions()
		e.result.Validation = e.validator.ValidateRows(ctx, rows, schema.RawText)
		e.stages.PersistJSON(ctx, model.StageValidation, e.validationDocument())
		return &model.PhaseResult{Metadata: map[string]any{
			"shape":     string(ca.Shape),
			"questions": len(rows),
			"results":   model.ValidationTally(e.result.Validation),
		}}, nil
	})
}

// segment runs the audience stage for one market and records the outcome on
// that market's entry only. The entry is persisted as soon as it is final.
func (e *execution) segment(ctx context.Context, ia *model.IntegratedAnalysis, name string, schema *model.SchemaResult, idx, total int) {
	e.trackPhase(ctx, model.StageCustomer+":"+name, func() (*model.PhaseResult, error) {
		e.log.Info("pipeline: processing market",
			zap.Int("index", idx+1),
			zap.Int("total", total),
			zap.String("market", name),
		)

		ca, reports, err := e.analyzeSegment(ctx, name, schema)
		entry := ia.Markets.Entry(name)
		if err != nil {
			entry.Status = model.SegmentFailed
			entry.Error = err.Error()
			entry.CustomerAnalysis = nil
			entry.ValidationReports = nil
		} else {
			entry.Status = model.SegmentComplete
			entry.Error = ""
			entry.CustomerAnalysis = ca
			entry.ValidationReports = reports
			e.result.Validation = append(e.result.Validation, reports...)
		}
		monitoring.SegmentsProcessed.WithLabelValues(string(entry.Status)).Inc()
		e.stages.PersistJSON(ctx, "segment_"+slug(name), entry)

		return &model.PhaseResult{Metadata: map[string]any{
			"market":    name,
			"status":    string(entry.Status),
			"questions": len(reports),
		}}, err
	})
}

func (e *execution) analyzeSegment(ctx context.Context, name string, schema *model.SchemaResult) (ca *model.CustomerAnalysis, reports []model.QuestionValidationReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			ca, reports, err = nil, nil, eris.Errorf("pipeline: segment %q panicked: %v", name, r)
		}
	}()

	prompt, err := e.p.prompts.SegmentAudience(name)
	if err != nil {
		return nil, nil, err
	}
	raw, err := e.stages.Run(ctx, e.conv, model.StageCustomer, name, prompt, true)
	if err != nil {
		return nil, nil, err
	}
	ca, err = ParseCustomerAnalysis(raw)
	if err != nil {
		return nil, nil, err
	}
	reports = e.validator.ValidateRows(ctx, ca.Questions(), schema.RawText)
	return ca, reports, nil
}

func (e *execution) persistAudit(ctx context.Context, summary model.ComplianceSummary) {
	name := model.StageCompliance
	if !summary.AllAllowed {
		name += "_failed"
	}
	e.stages.PersistJSON(ctx, name, model.AuditRecord{
		AllAllowed:     summary.AllAllowed,
		Summary:        summary,
		AuditTimestamp: e.started.UTC().Format(time.RFC3339),
	})
}

func (e *execution) validationDocument() map[string]any {
	reports := e.result.Validation
	if reports == nil {
		reports = []model.QuestionValidationReport{}
	}
	return map[string]any{
		"metadata": e.metadata(model.StageValidation),
		"summary":  model.ValidationTally(reports),
		"reports":  reports,
	}
}

func (e *execution) metadata(analysisType string) model.AnalysisMetadata {
	return model.AnalysisMetadata{
		AnalysisType: analysisType,
		Timestamp:    e.started.UTC().Format(timestampLayout),
		AnalysisDate: e.started.UTC().Format(time.RFC3339),
	}
}

func (e *execution) setStatus(ctx context.Context, status model.RunStatus) {
	if err := e.p.store.UpdateRunStatus(context.WithoutCancel(ctx), e.run.ID, status); err != nil {
		e.log.Warn("pipeline: failed to update status", zap.Error(err))
	}
}

// trackPhase records one phase: its duration, the tokens spent during it
// and whether it failed.
func (e *execution) trackPhase(ctx context.Context, name string, fn func() (*model.PhaseResult, error)) *model.PhaseResult {
	bg := context.WithoutCancel(ctx)
	phase, phaseErr := e.p.store.CreatePhase(bg, e.run.ID, name)
	if phaseErr != nil {
		e.log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
	}

	before := e.tally.Usage()
	start := time.Now()
	phaseResult, fnErr := fn()
	elapsed := time.Since(start)

	if phaseResult == nil {
		phaseResult = &model.PhaseResult{}
	}
	phaseResult.Name = name
	phaseResult.Duration = elapsed.Milliseconds()
	phaseResult.TokenUsage = usageSince(before, e.tally.Usage())

	if fnErr != nil {
		phaseResult.Status = model.PhaseStatusFailed
		phaseResult.Error = fnErr.Error()
		e.log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", phaseResult.Duration),
			zap.Error(fnErr),
		)
	} else {
		phaseResult.Status = model.PhaseStatusComplete
		e.log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.Int64("duration_ms", phaseResult.Duration),
		)
	}

	stage, _, _ := strings.Cut(name, ":")
	monitoring.StageDuration.WithLabelValues(stage, string(phaseResult.Status)).Observe(elapsed.Seconds())

	if phase != nil {
		if err := e.p.store.CompletePhase(bg, phase.ID, phaseResult); err != nil {
			e.log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
		}
	}
	e.result.Phases = append(e.result.Phases, *phaseResult)
	return phaseResult
}

func (e *execution) cancelled(ctx context.Context, stage string, err error) *model.AnalysisResult {
	return e.finish(ctx, model.OutcomeFailed, stage, "cancelled: "+err.Error())
}

// finish fills in the totals and stores the run result.
func (e *execution) finish(ctx context.Context, outcome model.Outcome, stoppedAt, reason string) *model.AnalysisResult {
	r := e.result
	r.Outcome = outcome
	r.StoppedAt = stoppedAt
	r.Reason = reason
	r.Usage = e.tally.Usage()
	r.TotalCost = r.Usage.Cost
	r.Outputs = e.stages.Keys()

	segments, failed := countSegments(r.Integrated)
	runResult := &model.RunResult{
		Outcome:     outcome,
		StoppedAt:   stoppedAt,
		Reason:      reason,
		Segments:    segments,
		Failed:      failed,
		Questions:   len(r.Validation),
		TotalTokens: r.Usage.Total(),
		TotalCost:   r.TotalCost,
		Phases:      r.Phases,
		Outputs:     r.Outputs,
	}
	if outcome == model.OutcomeFailed {
		runResult.Error = reason
	}
	if err := e.p.store.UpdateRunResult(context.WithoutCancel(ctx), e.run.ID, runResult); err != nil {
		e.log.Warn("pipeline: failed to save run result", zap.Error(err))
	}

	e.log.Info("pipeline: analysis finished",
		zap.String("outcome", string(outcome)),
		zap.String("stopped_at", stoppedAt),
		zap.String("reason", reason),
		zap.Int("segments", segments),
		zap.Int("tokens", r.Usage.Total()),
		zap.Float64("cost_usd", r.TotalCost),
	)
	return r
}

func denialReason(schema *model.SchemaResult, summary model.ComplianceSummary) string {
	if len(summary.Verdicts) == 0 {
		return fmt.Sprintf("no tables to audit (schema %s)", schema.State)
	}
	denied := summary.Denied()
	names := make([]string, len(denied))
	for i, v := range denied {
		names[i] = v.TableName
	}
	return fmt.Sprintf("compliance denied %d of %d tables: %s",
		len(denied), len(summary.Verdicts), strings.Join(names, ", "))
}

func countSegments(ia *model.IntegratedAnalysis) (total, failed int) {
	if ia == nil {
		return 0, 0
	}
	for i := range ia.Markets.Segments {
		total++
		if ia.Markets.Segments[i].Failed() {
			failed++
		}
	}
	return total, failed
}

func usageSince(before, after model.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:         after.InputTokens - before.InputTokens,
		OutputTokens:        after.OutputTokens - before.OutputTokens,
		CacheCreationTokens: after.CacheCreationTokens - before.CacheCreationTokens,
		CacheReadTokens:     after.CacheReadTokens - before.CacheReadTokens,
		Cost:                after.Cost - before.Cost,
	}
}

// preview truncates s to at most n runes.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
