package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexString accepts a JSON string, number, bool, list or object and keeps a
// text rendering of it. Lists are joined with ", "; objects are kept as
// compact JSON.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	case '[':
		var items []FlexString
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		parts := make([]string, 0, len(items))
		for _, it := range items {
			if it != "" {
				parts = append(parts, string(it))
			}
		}
		*f = FlexString(strings.Join(parts, ", "))
	case '{':
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*f = FlexString(buf.String())
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err == nil {
			*f = FlexString(n.String())
			return nil
		}
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*f = FlexString(strconv.FormatBool(b))
	}
	return nil
}

// String returns the text value.
func (f FlexString) String() string { return string(f) }

// Or returns the value, or def when empty.
func (f FlexString) Or(def string) string {
	if f == "" {
		return def
	}
	return string(f)
}

// ValuedQuestion is an analytical question produced for an audience segment.
type ValuedQuestion struct {
	Question         FlexString `json:"question"`
	MappedPainPoint  FlexString `json:"mapped_pain_point"`
	ProblemType      FlexString `json:"problem_type"`
	MonetizationPath FlexString `json:"monetization_path"`
	DecisionValue    FlexString `json:"decision_value"`
	DataRequirement  FlexString `json:"data_requirement"`
}

// SegmentProfile describes who an audience segment is.
type SegmentProfile struct {
	Industry    FlexString `json:"industry"`
	CompanySize FlexString `json:"company_size"`
	Region      FlexString `json:"region"`
	Roles       FlexString `json:"roles"`
}

// WillingnessToPay captures a segment's price tolerance.
type WillingnessToPay struct {
	Tier           FlexString `json:"tier"`
	BudgetRangeUSD FlexString `json:"budget_range_usd"`
}

// AudienceSegment is one customer segment from an audience analysis.
type AudienceSegment struct {
	SegmentName      FlexString       `json:"segment_name"`
	CustomerName     FlexString       `json:"customer_name"`
	Profile          SegmentProfile   `json:"profile"`
	WillingnessToPay WillingnessToPay `json:"willingness_to_pay"`
	ValuedQuestions  []ValuedQuestion `json:"valued_questions"`
}

// Name returns segment_name, falling back to customer_name.
func (s AudienceSegment) Name() string {
	if s.SegmentName != "" {
		return string(s.SegmentName)
	}
	return s.CustomerName.Or("Unknown")
}

// AudienceShape tags which known layout an audience completion matched.
type AudienceShape string

const (
	AudienceShapeSegments        AudienceShape = "segments"
	AudienceShapeTargetCustomers AudienceShape = "target_customers"
	AudienceShapeList            AudienceShape = "list"
	AudienceShapeUnknown         AudienceShape = "unknown"
)

// CustomerAnalysis is a parsed audience stage output. Document holds the
// decoded JSON as returned by the model; Raw is kept for the unknown shape.
type CustomerAnalysis struct {
	Shape    AudienceShape
	Segments []AudienceSegment
	Document any
	Raw      string
}

// MarshalJSON writes the decoded document unchanged, or an explicit unknown
// marker carrying the raw text.
func (c CustomerAnalysis) MarshalJSON() ([]byte, error) {
	if c.Shape != AudienceShapeUnknown && c.Document != nil {
		return json.Marshal(c.Document)
	}
	return json.Marshal(map[string]any{
		"shape":    string(AudienceShapeUnknown),
		"raw_text": c.Raw,
	})
}

// QuestionRow is a valued question flattened with its segment's profile.
type QuestionRow struct {
	CustomerName   string         `json:"customer_name"`
	Industry       string         `json:"industry"`
	CompanySize    string         `json:"company_size"`
	Region         string         `json:"region"`
	Roles          string         `json:"roles"`
	PayTier        string         `json:"willingness_to_pay_tier"`
	BudgetRangeUSD string         `json:"budget_range_usd"`
	Question       ValuedQuestion `json:"question"`
}

// Questions flattens every valued question into one row each, in segment
// order then question order.
func (c *CustomerAnalysis) Questions() []QuestionRow {
	if c == nil {
		return nil
	}
	var rows []QuestionRow
	for _, seg := range c.Segments {
		base := QuestionRow{
			CustomerName:   seg.Name(),
			Industry:       seg.Profile.Industry.Or("Unknown"),
			CompanySize:    seg.Profile.CompanySize.Or("Unknown"),
			Region:         seg.Profile.Region.Or("Unknown"),
			Roles:          seg.Profile.Roles.Or("Unknown"),
			PayTier:        seg.WillingnessToPay.Tier.Or("Unknown"),
			BudgetRangeUSD: seg.WillingnessToPay.BudgetRangeUSD.Or("Unknown"),
		}
		for _, q := range seg.ValuedQuestions {
			row := base
			row.Question = q
			rows = append(rows, row)
		}
	}
	return rows
}
