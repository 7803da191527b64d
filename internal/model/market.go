package model

import (
	"encoding/json"
)

// DefaultMarketName is used when the market stage yields no usable segment.
const DefaultMarketName = "Primary Market"

// MarketSegment is one market identified by the market stage. Fields the
// pipeline does not interpret are kept in Extra and survive round trips.
type MarketSegment struct {
	MarketName  string
	Description string
	Strategy    string
	Extra       map[string]any
}

// Clone returns a deep copy of the segment.
func (s MarketSegment) Clone() MarketSegment {
	out := s
	if s.Extra != nil {
		out.Extra = DeepCopyMap(s.Extra)
	}
	return out
}

func (s MarketSegment) fields() map[string]any {
	m := make(map[string]any, len(s.Extra)+3)
	for k, v := range s.Extra {
		m[k] = v
	}
	m["market_name"] = s.MarketName
	if s.Description != "" {
		m["description"] = s.Description
	}
	if s.Strategy != "" {
		m["strategy"] = s.Strategy
	}
	return m
}

// MarshalJSON flattens Extra into the segment object.
func (s MarketSegment) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.fields())
}

// UnmarshalJSON reads the known string fields and keeps everything else.
func (s *MarketSegment) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*s = SegmentFromMap(m)
	return nil
}

// SegmentFromMap builds a segment from a decoded JSON object. The map is
// not retained.
func SegmentFromMap(m map[string]any) MarketSegment {
	rest := DeepCopyMap(m)
	var s MarketSegment
	s.MarketName = takeString(rest, "market_name")
	s.Description = takeString(rest, "description")
	s.Strategy = takeString(rest, "strategy")
	if len(rest) > 0 {
		s.Extra = rest
	}
	return s
}

func takeString(m map[string]any, key string) string {
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	delete(m, key)
	return v
}

// MarketShape tags which known layout a market completion matched.
type MarketShape string

const (
	MarketShapeSegments MarketShape = "market_segments"
	MarketShapeSummary  MarketShape = "summary"
	MarketShapeUnknown  MarketShape = "unknown"
)

// MarketDocument is the parsed market stage output. Segments always holds at
// least one entry; Fields is the decoded document and is nil when the text
// was not a JSON object.
type MarketDocument struct {
	Shape    MarketShape     `json:"shape"`
	Segments []MarketSegment `json:"segments"`
	Fields   map[string]any  `json:"fields,omitempty"`
	Raw      string          `json:"raw_text,omitempty"`
}

// Document returns the value written as the pure market analysis.
func (d *MarketDocument) Document() any {
	if d.Fields != nil {
		return d.Fields
	}
	return map[string]any{
		"market_segments": d.Segments,
		"raw_text":        d.Raw,
	}
}

// SegmentStatus marks whether a segment finished the per-segment loop.
type SegmentStatus string

const (
	SegmentComplete SegmentStatus = "complete"
	SegmentFailed   SegmentStatus = "failed"
)

// SegmentEntry is a market segment inside the integrated analysis with its
// audience analysis and validation results attached.
type SegmentEntry struct {
	Segment           MarketSegment
	CustomerAnalysis  *CustomerAnalysis
	ValidationReports []QuestionValidationReport
	Status            SegmentStatus
	Error             string
}

// MarshalJSON writes the segment fields with the attachments alongside.
func (e SegmentEntry) MarshalJSON() ([]byte, error) {
	m := e.Segment.fields()
	if e.Status == SegmentFailed {
		m["customer_analysis"] = map[string]any{
			"status": string(SegmentFailed),
			"error":  e.Error,
		}
		return json.Marshal(m)
	}
	if e.CustomerAnalysis != nil {
		m["customer_analysis"] = e.CustomerAnalysis
	}
	if e.ValidationReports != nil {
		m["validation_reports"] = e.ValidationReports
	}
	if e.Status != "" {
		m["status"] = string(e.Status)
	}
	return json.Marshal(m)
}

// Failed reports whether the entry carries a failure marker.
func (e *SegmentEntry) Failed() bool {
	return e.Status == SegmentFailed
}

// IntegratedMarkets is the market document copy that accumulates
// per-segment results.
type IntegratedMarkets struct {
	Segments []SegmentEntry
	Extra    map[string]any
}

// Entry returns the entry for name, appending a new one when absent.
func (m *IntegratedMarkets) Entry(name string) *SegmentEntry {
	for i := range m.Segments {
		if m.Segments[i].Segment.MarketName == name {
			return &m.Segments[i]
		}
	}
	m.Segments = append(m.Segments, SegmentEntry{Segment: MarketSegment{MarketName: name}})
	return &m.Segments[len(m.Segments)-1]
}

// MarshalJSON flattens Extra next to market_segments.
func (m IntegratedMarkets) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+1)
	for k, v := range m.Extra {
		out[k] = v
	}
	segs := m.Segments
	if segs == nil {
		segs = []SegmentEntry{}
	}
	out["market_segments"] = segs
	return json.Marshal(out)
}

// AnalysisMetadata describes a persisted analysis document.
type AnalysisMetadata struct {
	AnalysisType string `json:"analysis_type"`
	Timestamp    string `json:"analysis_timestamp"`
	AnalysisDate string `json:"analysis_date"`
}

// Analysis types written to the output sink.
const (
	AnalysisTypeMarketOnly = "market_analysis_only"
	AnalysisTypeIntegrated = "integrated_market_and_customer"
)

// PureMarketAnalysis wraps the unmodified market document.
type PureMarketAnalysis struct {
	Metadata AnalysisMetadata `json:"metadata"`
	Markets  any              `json:"markets"`
}

// IntegratedAnalysis is the market document with audience analyses and
// validation reports attached per segment.
type IntegratedAnalysis struct {
	Metadata AnalysisMetadata  `json:"metadata"`
	Markets  IntegratedMarkets `json:"markets"`
}

// NewIntegratedAnalysis deep-copies doc into a fresh accumulator. Only a
// document that carried its own market_segments list seeds entries; other
// shapes gain entries as segments are processed. Segments sharing a
// market_name seed one entry, from the first of them.
func NewIntegratedAnalysis(doc *MarketDocument, meta AnalysisMetadata) *IntegratedAnalysis {
	ia := &IntegratedAnalysis{Metadata: meta}
	if doc == nil {
		return ia
	}
	if doc.Fields != nil {
		extra := DeepCopyMap(doc.Fields)
		delete(extra, "market_segments")
		if len(extra) > 0 {
			ia.Markets.Extra = extra
		}
	}
	if doc.Shape == MarketShapeSegments {
		ia.Markets.Segments = make([]SegmentEntry, 0, len(doc.Segments))
		seen := make(map[string]bool, len(doc.Segments))
		for _, s := range doc.Segments {
			if seen[s.MarketName] {
				continue
			}
			seen[s.MarketName] = true
			ia.Markets.Segments = append(ia.Markets.Segments, SegmentEntry{Segment: s.Clone()})
		}
	}
	return ia
}

// DeepCopyMap copies a decoded JSON object recursively.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopyValue(v)
	}
	return out
}

// DeepCopyValue copies a decoded JSON value recursively. Scalars are
// returned as is.
func DeepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return DeepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = DeepCopyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = DeepCopyMap(e)
		}
		return out
	default:
		return v
	}
}
