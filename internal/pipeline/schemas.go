package pipeline

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
)

// verdictSchema describes the five-field compliance verdict. Whether the
// sensitive field list agrees with contains_sensitive_data is checked in
// parseVerdict.
var verdictSchema = mustSchema(`{
	"type": "object",
	"required": [
		"table_name",
		"contains_personal_data",
		"contains_sensitive_data",
		"contains_sensitive_fields",
		"allowed_to_use"
	],
	"properties": {
		"table_name": {"type": "string"},
		"contains_personal_data": {"type": "boolean"},
		"contains_sensitive_data": {"type": "boolean"},
		"contains_sensitive_fields": {
			"type": ["array", "null"],
			"items": {"type": "string"}
		},
		"allowed_to_use": {"type": "boolean"}
	}
}`)

// reportSchema describes a question validation answer.
var reportSchema = mustSchema(`{
	"type": "object",
	"required": ["result_type"],
	"properties": {
		"question": {"type": "string"},
		"data_requirement": {"type": ["string", "array", "null"]},
		"sql_query": {"type": ["string", "null"]},
		"result_type": {"type": "integer", "enum": [1, 2, 3]},
		"reasoning": {"type": ["string", "null"]}
	}
}`)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(eris.Wrap(err, "pipeline: compile schema"))
	}
	return s
}

// conform checks a decoded document against schema.
func conform(schema *gojsonschema.Schema, doc any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return eris.Wrap(err, "parse: schema validation")
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return eris.Errorf("parse: document does not match schema: %s", strings.Join(errs, "; "))
	}
	return nil
}
