package model

// ComplianceVerdict is the audit result for a single table. SensitiveFields
// is non-nil exactly when ContainsSensitiveData is true.
type ComplianceVerdict struct {
	TableName             string    `json:"table_name"`
	ContainsPersonalData  bool      `json:"contains_personal_data"`
	ContainsSensitiveData bool      `json:"contains_sensitive_data"`
	SensitiveFields       *[]string `json:"contains_sensitive_fields"`
	AllowedToUse          bool      `json:"allowed_to_use"`
	Error                 string    `json:"error,omitempty"`
}

// DeniedVerdict builds the synthetic verdict recorded when an audit errors
// or its response cannot be parsed.
func DeniedVerdict(table string, err error) ComplianceVerdict {
	v := ComplianceVerdict{TableName: table, AllowedToUse: false}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}

// ComplianceSummary aggregates per-table verdicts.
type ComplianceSummary struct {
	Verdicts   []ComplianceVerdict `json:"tables_audited"`
	AllAllowed bool                `json:"final_conclusion"`
}

// Summarize folds verdicts into a summary. An empty verdict list is not
// allowed: with no tables there is nothing known to be safe.
func Summarize(verdicts []ComplianceVerdict) ComplianceSummary {
	all := len(verdicts) > 0
	for _, v := range verdicts {
		if !v.AllowedToUse || v.Error != "" {
			all = false
		}
	}
	return ComplianceSummary{Verdicts: verdicts, AllAllowed: all}
}

// Denied returns the verdicts that blocked the gate.
func (s ComplianceSummary) Denied() []ComplianceVerdict {
	var out []ComplianceVerdict
	for _, v := range s.Verdicts {
		if !v.AllowedToUse || v.Error != "" {
			out = append(out, v)
		}
	}
	return out
}

// AuditRecord is the persisted form of a compliance gate decision.
type AuditRecord struct {
	AllAllowed     bool              `json:"all_allowed"`
	Summary        ComplianceSummary `json:"summary"`
	AuditTimestamp string            `json:"audit_timestamp"`
}
