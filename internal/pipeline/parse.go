package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/model"
)

// cleanJSON extracts a JSON object or array from text that may contain
// markdown code fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	text = strings.TrimSpace(text)
	if json.Valid([]byte(text)) {
		return text
	}

	// Find the outermost object, then the outermost array.
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start >= 0 && end > start && json.Valid([]byte(text[start:end+1])) {
			return text[start : end+1]
		}
	}
	return text
}

// decodeJSON unmarshals the JSON found in text into v.
func decodeJSON(text string, v any) error {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return eris.New("parse: empty response")
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return eris.Wrap(err, "parse: invalid json")
	}
	return nil
}

// ParseMarket reads the market stage output. It never fails: a document with
// a market_segments list yields those segments, a summary-only document
// yields one segment built from the summary, and anything else yields the
// default segment.
func ParseMarket(raw string) *model.MarketDocument {
	doc := &model.MarketDocument{Raw: raw}

	var fields map[string]any
	if err := decodeJSON(raw, &fields); err == nil && fields != nil {
		doc.Fields = fields
	}

	if list, ok := doc.Fields["market_segments"].([]any); ok {
		for i, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			seg := model.SegmentFromMap(m)
			if seg.MarketName == "" {
				seg.MarketName = fmt.Sprintf("market_%d", i+1)
			}
			doc.Segments = append(doc.Segments, seg)
		}
		if len(doc.Segments) > 0 {
			doc.Shape = model.MarketShapeSegments
			return doc
		}
	}

	if summary, ok := doc.Fields["summary"].(map[string]any); ok {
		doc.Shape = model.MarketShapeSummary
		doc.Segments = []model.MarketSegment{{
			MarketName:  stringField(summary, "headline", "Unknown Market"),
			Description: stringField(summary, "core_insight", ""),
			Strategy:    stringField(summary, "strategic_call", ""),
		}}
		return doc
	}

	doc.Shape = model.MarketShapeUnknown
	doc.Segments = []model.MarketSegment{{
		MarketName:  model.DefaultMarketName,
		Description: "Market analysis completed",
		Strategy:    "Continue with customer analysis",
	}}
	return doc
}

func stringField(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

// ParseCustomerAnalysis reads one audience stage output. The known layouts
// are tried in order: a segments list, a target_customers list, a bare list
// of segments. JSON in any other layout is the unknown shape with no
// segments. Text that is not JSON is an error.
func ParseCustomerAnalysis(raw string) (*model.CustomerAnalysis, error) {
	var doc any
	if err := decodeJSON(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "parse: customer analysis")
	}

	ca := &model.CustomerAnalysis{Document: doc, Raw: raw}

	var list any
	switch t := doc.(type) {
	case map[string]any:
		if v, ok := t["segments"]; ok {
			ca.Shape, list = model.AudienceShapeSegments, v
		} else if v, ok := t["target_customers"]; ok {
			ca.Shape, list = model.AudienceShapeTargetCustomers, v
		}
	case []any:
		ca.Shape, list = model.AudienceShapeList, t
	}
	if ca.Shape == "" {
		ca.Shape = model.AudienceShapeUnknown
		return ca, nil
	}

	segments, err := decodeSegments(list)
	if err != nil {
		return nil, eris.Wrapf(err, "parse: %s", ca.Shape)
	}
	ca.Segments = segments
	return ca, nil
}

// decodeSegments converts a decoded JSON list into audience segments,
// skipping entries that are not objects.
func decodeSegments(list any) ([]model.AudienceSegment, error) {
	items, ok := list.([]any)
	if !ok {
		return nil, eris.Errorf("segments is %T, not a list", list)
	}
	out := make([]model.AudienceSegment, 0, len(items))
	for i, item := range items {
		if _, ok := item.(map[string]any); !ok {
			continue
		}
		data, err := json.Marshal(item)
		if err != nil {
			return nil, eris.Wrapf(err, "segment %d", i)
		}
		var seg model.AudienceSegment
		if err := json.Unmarshal(data, &seg); err != nil {
			return nil, eris.Wrapf(err, "segment %d", i)
		}
		out = append(out, seg)
	}
	return out, nil
}
