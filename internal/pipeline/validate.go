package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/prompts"
)

// Validator decides, per question, whether the discovered schema can answer
// it. Each question is validated independently of the others.
type Validator struct {
	sender      Sender
	prompts     *prompts.Set
	concurrency int
}

// NewValidator creates a Validator. sender should not carry conversation
// history.
func NewValidator(sender Sender, ps *prompts.Set, concurrency int) *Validator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Validator{sender: sender, prompts: ps, concurrency: concurrency}
}

// Validate checks one question against the schema context. It never fails:
// a completion error or unparseable answer is reported NOT_ANSWERABLE with
// the raw text kept.
func (v *Validator) Validate(ctx context.Context, q model.ValuedQuestion, schemaContext string) model.QuestionValidationReport {
	question := q.Question.String()
	requirement := q.DataRequirement.String()

	prompt, err := v.prompts.Validation(question, requirement, schemaContext)
	if err != nil {
		return model.NotAnswerable(question, requirement, err.Error())
	}

	resp, err := v.sender.Send(ctx, prompt, false)
	if err != nil {
		zap.L().Warn("validate: completion failed", zap.String("question", question), zap.Error(err))
		return model.NotAnswerable(question, requirement, "validation failed: "+err.Error())
	}

	report, err := parseReport(resp.Text)
	if err != nil {
		zap.L().Warn("validate: unparseable report", zap.String("question", question), zap.Error(err))
		r := model.NotAnswerable(question, requirement, err.Error())
		r.RawResponse = resp.Text
		return r
	}
	// The prompt asks for the question to be echoed; keep ours.
	report.Question = question
	report.DataRequirement = requirement
	return report
}

// ValidateAll validates every question and returns one report per question
// in input order. A failure, even a panic, affects only its own report.
func (v *Validator) ValidateAll(ctx context.Context, questions []model.ValuedQuestion, schemaContext string) []model.QuestionValidationReport {
	reports := make([]model.QuestionValidationReport, len(questions))

	var g errgroup.Group
	g.SetLimit(v.concurrency)
	for i, q := range questions {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					zap.L().Error("validate: panic", zap.Int("index", i), zap.Any("panic", r))
					reports[i] = model.NotAnswerable(q.Question.String(), q.DataRequirement.String(), fmt.Sprintf("validation panicked: %v", r))
				}
			}()
			reports[i] = v.Validate(ctx, q, schemaContext)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range reports {
		monitoring.ValidationResults.WithLabelValues(r.ResultType.String()).Inc()
	}
	return reports
}

// ValidateRows validates flattened question rows and tags each report with
// its audience segment.
func (v *Validator) ValidateRows(ctx context.Context, rows []model.QuestionRow, schemaContext string) []model.QuestionValidationReport {
	questions := make([]model.ValuedQuestion, len(rows))
	for i, r := range rows {
		questions[i] = r.Question
	}
	reports := v.ValidateAll(ctx, questions, schemaContext)
	for i := range reports {
		reports[i].Segment = rows[i].CustomerName
	}
	return reports
}

func parseReport(raw string) (model.QuestionValidationReport, error) {
	var doc map[string]any
	if err := decodeJSON(raw, &doc); err != nil {
		return model.QuestionValidationReport{}, eris.Wrap(err, "validate: report")
	}
	if err := conform(reportSchema, doc); err != nil {
		return model.QuestionValidationReport{}, eris.Wrap(err, "validate: report")
	}

	var r model.QuestionValidationReport
	if n, ok := doc["result_type"].(float64); ok {
		r.ResultType = model.ResultType(int(n))
	}
	if s, ok := doc["sql_query"].(string); ok && strings.TrimSpace(s) != "" {
		r.SQLQuery = &s
	}
	if s, ok := doc["reasoning"].(string); ok {
		r.Reasoning = s
	}
	if !r.ResultType.Valid() {
		return model.QuestionValidationReport{}, eris.Errorf("validate: result_type %d out of range", r.ResultType)
	}
	r.Normalize()
	return r, nil
}
