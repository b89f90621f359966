// Package vault implements the TTL-governed, token-authenticated store for
// offloaded tool result data.
package vault

import "time"

// Row is one record of a stored dataset, column name to value. Values are
// the shapes produced by encoding/json.
type Row = map[string]any

// Entry is the stored form of a vaulted dataset. It is created once, never
// mutated, and collected by TTL expiry. It is never exposed whole.
type Entry struct {
	FullData    []Row             `json:"fullData"`
	OwnerID     string            `json:"ownerId"`
	SessionID   string            `json:"sessionId"`
	CreatedAt   time.Time         `json:"createdAt"`
	AccessToken string            `json:"accessToken"`
	Metadata    *MetadataEnvelope `json:"metadata"`
}

// ColumnSchema describes one column of the stored dataset.
type ColumnSchema struct {
	Column   string `json:"column"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Column types used in ColumnSchema.Type.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeDate    = "date"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeNull    = "null"
)

// TopValue is one entry of a column's most-frequent-values list.
type TopValue struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ColumnStats summarizes one column. Numeric aggregates are present only
// when at least one value is numeric; top values only when the column has
// at most 20 distinct values.
type ColumnStats struct {
	Unique    int        `json:"unique"`
	TopValues []TopValue `json:"topValues,omitempty"`
	Min       *float64   `json:"min,omitempty"`
	Max       *float64   `json:"max,omitempty"`
	Sum       *float64   `json:"sum,omitempty"`
	Avg       *float64   `json:"avg,omitempty"`
	NullCount int        `json:"nullCount"`
}

// DataSource records provenance of a stored dataset.
type DataSource struct {
	ToolName  string         `json:"toolName"`
	ToolArgs  map[string]any `json:"toolArgs,omitempty"`
	UserQuery string         `json:"userQuery,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Semantics carries the analysis agent's classification of a dataset.
type Semantics struct {
	Description             string         `json:"description"`
	DataType                string         `json:"dataType"`
	SuggestedVisualizations []string       `json:"suggestedVisualizations,omitempty"`
	VisualizationRationale  string         `json:"visualizationRationale,omitempty"`
	QualityInsights         []string       `json:"qualityInsights,omitempty"`
	Enhancements            map[string]any `json:"enhancements,omitempty"`
}

// MetadataEnvelope is the compact object returned to the LLM in place of
// offloaded bulk data.
type MetadataEnvelope struct {
	HandleID    string                 `json:"handleId"`
	FetchToken  string                 `json:"fetchToken"`
	SourceTool  string                 `json:"sourceTool"`
	Schema      []ColumnSchema         `json:"schema"`
	RowCount    int                    `json:"rowCount"`
	SampleRows  []Row                  `json:"sampleRows"`
	ColumnStats map[string]ColumnStats `json:"columnStats"`
	DataSource  *DataSource            `json:"dataSource,omitempty"`
	Semantics   *Semantics             `json:"semantics,omitempty"`
	Offloaded   bool                   `json:"_offloaded"`
	Note        string                 `json:"_note"`
}
