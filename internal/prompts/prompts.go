// Package prompts loads the pipeline's prompt templates.
package prompts

import (
	"bytes"
	_ "embed"
	"os"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultYAML []byte

// Prompt keys.
const (
	KeySystem          = "system"
	KeySchema          = "schema"
	KeyAuditSystem     = "audit_system"
	KeyAudit           = "audit"
	KeyMarket          = "market"
	KeyAudience        = "audience"
	KeyAudienceSegment = "audience_segment"
	KeyContextProbe    = "context_probe"
	KeyValidation      = "validation"
	KeyBrandSystem     = "brand_system"
	KeyBrand           = "brand"
)

var requiredKeys = []string{
	KeySystem, KeySchema, KeyAuditSystem, KeyAudit, KeyMarket, KeyAudience,
	KeyAudienceSegment, KeyContextProbe, KeyValidation, KeyBrandSystem, KeyBrand,
}

// Set is a parsed prompt set.
type Set struct {
	raw       map[string]string
	templates map[string]*template.Template
}

// Default returns the embedded prompt set.
func Default() (*Set, error) {
	return Load("")
}

// Load returns the embedded prompt set with any keys from the YAML file at
// path layered on top. An empty path loads the defaults only.
func Load(path string) (*Set, error) {
	raw := map[string]string{}
	if err := yaml.Unmarshal(defaultYAML, &raw); err != nil {
		return nil, eris.Wrap(err, "prompts: parse defaults")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "prompts: read %s", path)
		}
		overrides := map[string]string{}
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, eris.Wrapf(err, "prompts: parse %s", path)
		}
		for k, v := range overrides {
			raw[k] = v
		}
	}
	return build(raw)
}

func build(raw map[string]string) (*Set, error) {
	s := &Set{raw: raw, templates: make(map[string]*template.Template, len(raw))}
	for _, key := range requiredKeys {
		if strings.TrimSpace(raw[key]) == "" {
			return nil, eris.Errorf("prompts: missing %q", key)
		}
	}
	for key, text := range raw {
		t, err := template.New(key).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, eris.Wrapf(err, "prompts: parse template %q", key)
		}
		s.templates[key] = t
	}
	return s, nil
}

// Text returns the prompt for key with surrounding whitespace trimmed.
func (s *Set) Text(key string) string {
	return strings.TrimSpace(s.raw[key])
}

// Render executes the template for key with data.
func (s *Set) Render(key string, data any) (string, error) {
	t, ok := s.templates[key]
	if !ok {
		return "", eris.Errorf("prompts: unknown prompt %q", key)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", eris.Wrapf(err, "prompts: render %q", key)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Audit renders the compliance prompt for one table. table is the JSON form
// of the table descriptor.
func (s *Set) Audit(table string) (string, error) {
	return s.Render(KeyAudit, map[string]any{"Table": table})
}

// SegmentAudience renders the audience prompt scoped to one market.
func (s *Set) SegmentAudience(market string) (string, error) {
	return s.Render(KeyAudienceSegment, map[string]any{
		"Market":   market,
		"Audience": s.Text(KeyAudience),
	})
}

// ContextProbe renders the question that checks the conversation still
// holds the market analysis.
func (s *Set) ContextProbe(market string) (string, error) {
	return s.Render(KeyContextProbe, map[string]any{"Market": market})
}

// Validation renders the question validation prompt.
func (s *Set) Validation(question, requirement, schema string) (string, error) {
	return s.Render(KeyValidation, map[string]any{
		"Question":        question,
		"DataRequirement": requirement,
		"Schema":          schema,
	})
}

// Brand renders the brand strategy prompt around the integrated analysis.
func (s *Set) Brand(data string, features int) (string, error) {
	return s.Render(KeyBrand, map[string]any{"Data": data, "Features": features})
}
