package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/prompts"
)

// DescribeSchema asks the conversation to describe every table it can reach
// through its tools. It never fails: a completion error or an unparseable
// answer yields a degraded result with no tables, which the compliance gate
// denies.
func DescribeSchema(ctx context.Context, conv Sender, ps *prompts.Set) *model.SchemaResult {
	resp, err := conv.Send(ctx, ps.Text(prompts.KeySchema), true)
	if err != nil {
		zap.L().Warn("pipeline: schema retrieval failed", zap.Error(err))
		return &model.SchemaResult{
			State: model.SchemaDegraded,
			Error: err.Error(),
		}
	}
	return ParseSchema(resp.Text)
}

// ParseSchema reads a schema description. The same text always yields the
// same result; text without a table list is degraded, never guessed at.
func ParseSchema(raw string) *model.SchemaResult {
	res := &model.SchemaResult{RawText: raw}

	tables, err := parseTables(raw)
	if err != nil {
		res.State = model.SchemaDegraded
		res.Error = err.Error()
		zap.L().Warn("pipeline: schema degraded", zap.Error(err))
		return res
	}
	res.State = model.SchemaParsed
	res.Tables = tables
	return res
}

// parseTables accepts {"description": {"tables": [...]}}, {"tables": [...]}
// or a bare list of tables.
func parseTables(raw string) ([]model.TableDescriptor, error) {
	var doc any
	if err := decodeJSON(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "parse: schema")
	}

	var list []any
	switch t := doc.(type) {
	case []any:
		list = t
	case map[string]any:
		if desc, ok := t["description"].(map[string]any); ok {
			list, _ = desc["tables"].([]any)
		}
		if list == nil {
			list, _ = t["tables"].([]any)
		}
	}
	if list == nil {
		return nil, eris.New("parse: schema has no table list")
	}

	tables := make([]model.TableDescriptor, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		td := tableFromMap(m)
		if td.Name == "" {
			continue
		}
		tables = append(tables, td)
	}
	return tables, nil
}

// tableFromMap reads one table. Columns may be plain names or objects
// carrying a name.
func tableFromMap(m map[string]any) model.TableDescriptor {
	td := model.TableDescriptor{
		Name: firstString(m, "table_name", "name"),
	}
	if cols, ok := m["columns"].([]any); ok {
		for _, c := range cols {
			switch v := c.(type) {
			case string:
				td.Columns = append(td.Columns, v)
			case map[string]any:
				if name := firstString(v, "column_name", "name"); name != "" {
					td.Columns = append(td.Columns, name)
				}
			}
		}
	}
	if rows, ok := m["sample_data"].([]any); ok {
		for _, r := range rows {
			if row, ok := r.(map[string]any); ok {
				td.SampleRows = append(td.SampleRows, row)
			}
		}
	}
	return td
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
