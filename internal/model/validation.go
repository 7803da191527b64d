package model

// ResultType classifies whether a question can be answered from the schema.
type ResultType int

const (
	ResultDirectSQL     ResultType = 1
	ResultNeedsModeling ResultType = 2
	ResultNotAnswerable ResultType = 3
)

func (r ResultType) String() string {
	switch r {
	case ResultDirectSQL:
		return "DIRECT_SQL"
	case ResultNeedsModeling:
		return "NEEDS_MODELING"
	case ResultNotAnswerable:
		return "NOT_ANSWERABLE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether r is one of the three known tiers.
func (r ResultType) Valid() bool {
	return r >= ResultDirectSQL && r <= ResultNotAnswerable
}

// QuestionValidationReport is the validator's answer for one question.
// SQLQuery is set only for ResultDirectSQL. RawResponse keeps a completion
// that could not be parsed.
type QuestionValidationReport struct {
	Question        string     `json:"question"`
	DataRequirement string     `json:"data_requirement"`
	SQLQuery        *string    `json:"sql_query"`
	ResultType      ResultType `json:"result_type"`
	Reasoning       string     `json:"reasoning,omitempty"`
	Segment         string     `json:"segment,omitempty"`
	RawResponse     string     `json:"raw_response,omitempty"`
}

// NotAnswerable builds the report recorded when validation fails.
func NotAnswerable(question, requirement, reasoning string) QuestionValidationReport {
	return QuestionValidationReport{
		Question:        question,
		DataRequirement: requirement,
		ResultType:      ResultNotAnswerable,
		Reasoning:       reasoning,
	}
}

// Normalize enforces the SQL-only-for-direct rule.
func (r *QuestionValidationReport) Normalize() {
	if r.ResultType != ResultDirectSQL {
		r.SQLQuery = nil
	}
	if r.SQLQuery != nil && *r.SQLQuery == "" {
		r.SQLQuery = nil
	}
}

// ValidationTally counts reports by result type.
func ValidationTally(reports []QuestionValidationReport) map[string]int {
	out := map[string]int{}
	for _, r := range reports {
		out[r.ResultType.String()]++
	}
	return out
}
