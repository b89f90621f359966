package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const systemPrompt = `You are a data analysis agent inside a tool-response caching layer.
You receive raw samples of a tool's JSON output and must decide which parts
should be moved out of the LLM conversation into a data vault.

Respond with a single JSON object and nothing else. Fields:
  "semanticDescription": one sentence describing what the data represents
  "dataType": one of "timeseries", "tabular", "hierarchical", "geospatial", "text", "mixed"
  "offloadRecommendation": one of "offload_all", "offload_array", "keep_inline", "aggregate_first"
  "offloadReason": short justification
  "visualizationSuggestions": array of chart type names
  "visualizationRationale": why those charts fit
  "qualityInsights": array of observations about data quality
  "metadataEnhancements": object with any extra metadata worth keeping
  "dataExtractionPaths": dot-notation paths of the arrays to offload ("" for the whole payload)
  "preserveInlinePaths": dot-notation paths that must stay visible to the LLM

The fields semanticDescription, offloadRecommendation, dataExtractionPaths
and preserveInlinePaths are mandatory. Small payloads the LLM can read
directly should be "keep_inline" with empty path arrays.`

// Agent asks an LLM provider to classify a sampled payload.
type Agent struct {
	provider Provider
	logger   *slog.Logger
}

// NewAgent creates an analysis agent over a provider.
func NewAgent(provider Provider, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{provider: provider, logger: logger}
}

// Analyze sends the samples to the provider and parses the structured
// reply. Any failure is returned as *Error; there is no fallback.
func (a *Agent) Analyze(ctx context.Context, samples Samples, toolCtx ToolContext, meta BasicMeta) (*Result, error) {
	reply, err := a.provider.Complete(ctx, systemPrompt, buildUserPrompt(samples, toolCtx, meta))
	if err != nil {
		return nil, &Error{Stage: "request", Message: "provider call failed", Err: err}
	}

	result, err := ParseReply(reply)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("analysis complete",
		"tool", toolCtx.ToolName,
		"recommendation", result.OffloadRecommendation,
		"extract_paths", len(result.DataExtractionPaths))

	return result, nil
}

func buildUserPrompt(samples Samples, toolCtx ToolContext, meta BasicMeta) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tool: %s\n", toolCtx.ToolName)
	if len(toolCtx.ToolArgs) > 0 {
		if args, err := json.Marshal(toolCtx.ToolArgs); err == nil {
			fmt.Fprintf(&b, "Tool arguments: %s\n", args)
		}
	}
	if toolCtx.UserQuery != "" {
		fmt.Fprintf(&b, "User query: %s\n", toolCtx.UserQuery)
	}

	fmt.Fprintf(&b, "\nPayload: %d bytes, ~%d tokens, top-level %s",
		meta.SizeBytes, meta.EstimatedTokens, meta.TopLevelKind)
	if meta.TopLevelKind == "array" {
		fmt.Fprintf(&b, " of %d elements", meta.ArrayLength)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "\nSampling strategy: %s\n", samples.Strategy)
	fmt.Fprintf(&b, "\n--- payload start ---\n%s\n", samples.First)
	for i, slice := range samples.Middle {
		fmt.Fprintf(&b, "--- interior sample %d ---\n%s\n", i+1, slice)
	}
	if samples.Last != "" {
		fmt.Fprintf(&b, "--- payload end ---\n%s\n", samples.Last)
	}
	b.WriteString("\nSamples are raw slices and may cut JSON mid-token.")

	return b.String()
}
