package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/prompts"
)

// Auditor runs the compliance check for each table. Audits are stateless
// and independent, so they run concurrently.
type Auditor struct {
	sender      Sender
	prompts     *prompts.Set
	concurrency int
}

// NewAuditor creates an Auditor. sender should not carry conversation
// history.
func NewAuditor(sender Sender, ps *prompts.Set, concurrency int) *Auditor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Auditor{sender: sender, prompts: ps, concurrency: concurrency}
}

// Audit checks one table. It never returns an error: a failed completion or
// an answer that is not a valid verdict becomes a denied verdict carrying
// the error.
func (a *Auditor) Audit(ctx context.Context, table model.TableDescriptor) model.ComplianceVerdict {
	log := zap.L().With(zap.String("table", table.Name))

	payload, err := json.Marshal(table)
	if err != nil {
		return model.DeniedVerdict(table.Name, eris.Wrap(err, "compliance: marshal table"))
	}
	prompt, err := a.prompts.Audit(string(payload))
	if err != nil {
		return model.DeniedVerdict(table.Name, err)
	}

	resp, err := a.sender.Send(ctx, prompt, false)
	if err != nil {
		log.Warn("compliance: audit failed", zap.Error(err))
		return model.DeniedVerdict(table.Name, eris.Wrap(err, "compliance: audit"))
	}

	v, err := parseVerdict(resp.Text)
	if err != nil {
		log.Warn("compliance: unparseable verdict", zap.Error(err))
		return model.DeniedVerdict(table.Name, err)
	}
	v.TableName = table.Name

	log.Debug("compliance: table audited",
		zap.Bool("allowed", v.AllowedToUse),
		zap.Bool("sensitive", v.ContainsSensitiveData),
	)
	return v
}

// AuditAll audits every table and folds the verdicts. Verdicts keep the
// order of tables. An empty table list is never allowed.
func (a *Auditor) AuditAll(ctx context.Context, tables []model.TableDescriptor) model.ComplianceSummary {
	verdicts := make([]model.ComplianceVerdict, len(tables))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, t := range tables {
		g.Go(func() error {
			verdicts[i] = a.Audit(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	return model.Summarize(verdicts)
}

// parseVerdict reads a verdict and rejects one whose sensitive field list
// disagrees with contains_sensitive_data.
func parseVerdict(raw string) (model.ComplianceVerdict, error) {
	var doc map[string]any
	if err := decodeJSON(raw, &doc); err != nil {
		return model.ComplianceVerdict{}, eris.Wrap(err, "compliance: verdict")
	}
	if err := conform(verdictSchema, doc); err != nil {
		return model.ComplianceVerdict{}, eris.Wrap(err, "compliance: verdict")
	}

	var v model.ComplianceVerdict
	data, _ := json.Marshal(doc)
	if err := json.Unmarshal(data, &v); err != nil {
		return model.ComplianceVerdict{}, eris.Wrap(err, "compliance: verdict")
	}
	if (v.SensitiveFields != nil) != v.ContainsSensitiveData {
		return model.ComplianceVerdict{}, eris.Errorf(
			"compliance: contains_sensitive_fields must be set exactly when contains_sensitive_data is true (sensitive=%t)",
			v.ContainsSensitiveData,
		)
	}
	return v, nil
}
