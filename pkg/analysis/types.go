// Package analysis invokes an external LLM with strategic samples of a tool
// response and parses its structured verdict on what to offload.
package analysis

import "fmt"

// Offload recommendations the agent may return.
const (
	RecommendOffloadAll     = "offload_all"
	RecommendOffloadArray   = "offload_array"
	RecommendKeepInline     = "keep_inline"
	RecommendAggregateFirst = "aggregate_first"
)

// Data type classifications the agent may return.
const (
	DataTypeTimeseries   = "timeseries"
	DataTypeTabular      = "tabular"
	DataTypeHierarchical = "hierarchical"
	DataTypeGeospatial   = "geospatial"
	DataTypeText         = "text"
	DataTypeMixed        = "mixed"
)

// Result is the agent's structured reply.
type Result struct {
	SemanticDescription      string         `json:"semanticDescription"`
	DataType                 string         `json:"dataType"`
	OffloadRecommendation    string         `json:"offloadRecommendation"`
	OffloadReason            string         `json:"offloadReason"`
	VisualizationSuggestions []string       `json:"visualizationSuggestions"`
	VisualizationRationale   string         `json:"visualizationRationale"`
	QualityInsights          []string       `json:"qualityInsights"`
	MetadataEnhancements     map[string]any `json:"metadataEnhancements"`
	DataExtractionPaths      []string       `json:"dataExtractionPaths"`
	PreserveInlinePaths      []string       `json:"preserveInlinePaths"`
}

// ToolContext identifies the tool call whose output is being analyzed.
type ToolContext struct {
	ToolName  string
	ToolArgs  map[string]any
	UserQuery string
}

// BasicMeta carries cheap structural facts about the payload, computed
// before analysis.
type BasicMeta struct {
	SizeBytes       int
	EstimatedTokens int
	TopLevelKind    string // "array", "object", "string", ...
	ArrayLength     int    // when TopLevelKind is "array"
}

// Error is an analysis failure: the agent was unreachable, replied with
// something unparsable, or omitted a required field. It propagates upward;
// the pipeline never falls back to heuristic extraction.
type Error struct {
	Stage   string // "request", "parse" or "validate"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis %s failed: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("analysis %s failed: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}
