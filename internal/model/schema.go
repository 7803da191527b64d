package model

// TableDescriptor describes one database table discovered by schema retrieval.
type TableDescriptor struct {
	Name       string           `json:"table_name"`
	Columns    []string         `json:"columns"`
	SampleRows []map[string]any `json:"sample_data,omitempty"`
}

// SchemaState reports how a schema retrieval was resolved.
type SchemaState string

const (
	// SchemaParsed means the completion parsed into a table inventory.
	SchemaParsed SchemaState = "parsed"
	// SchemaDegraded means parsing failed and no tables are known.
	SchemaDegraded SchemaState = "degraded"
)

// SchemaResult is the output of schema retrieval. RawText is always kept
// because validation prompts embed it as context.
type SchemaResult struct {
	State   SchemaState       `json:"state"`
	RawText string            `json:"raw_text"`
	Tables  []TableDescriptor `json:"tables"`
	Error   string            `json:"error,omitempty"`
}

// TableNames returns the names of all tables in order.
func (s *SchemaResult) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}
