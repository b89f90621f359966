// Package pipeline intercepts tool responses, offloads bulk data to the
// vault, and merges the metadata envelope back into the LLM-visible output.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/contextd/datavault/pkg/analysis"
	"github.com/contextd/datavault/pkg/pathops"
	"github.com/contextd/datavault/pkg/utils"
	"github.com/contextd/datavault/pkg/vault"
)

// ToolResponse is the upstream contract: one completed tool call with the
// identity of the principal that caused it.
type ToolResponse struct {
	ToolName  string
	ToolArgs  map[string]any
	UserQuery string
	OwnerID   string
	SessionID string

	// Raw is the tool's result: a string (possibly JSON), or an already
	// decoded value.
	Raw any
}

// Pipeline orchestrates intercept -> sample -> analyze -> extract -> store.
type Pipeline struct {
	store   *vault.Store
	agent   *analysis.Agent // nil disables analysis; responses pass through
	counter *utils.TokenCounter
	logger  *slog.Logger
}

// New creates a pipeline. agent may be nil for tools that opt out of
// offloading; counter may be nil to fall back to byte-based estimates.
func New(store *vault.Store, agent *analysis.Agent, counter *utils.TokenCounter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, agent: agent, counter: counter, logger: logger}
}

// Process runs the offload algorithm on one tool response and returns the
// JSON string delivered to the LLM: the original payload when nothing is
// offloaded, or the residual merged with the metadata envelope(s).
func (p *Pipeline) Process(ctx context.Context, resp ToolResponse) (string, error) {
	tracer := otel.Tracer("datavault/pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.process")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", resp.ToolName))

	serialized, err := serialize(resp.Raw)
	if err != nil {
		return "", fmt.Errorf("tool result is not serializable: %w", err)
	}

	estimatedTokens := p.estimateTokens(serialized)
	span.SetAttributes(
		attribute.Int("payload.bytes", len(serialized)),
		attribute.Int("payload.tokens_estimate", estimatedTokens),
	)
	p.logger.Debug("intercepted tool response",
		"tool", resp.ToolName,
		"bytes", len(serialized),
		"tokens_estimate", estimatedTokens,
		"owner", vault.SafePrincipal(resp.OwnerID))

	payload, rawText := decodePayload(resp.Raw)
	payload, rawText = unwrapEnvelope(payload, rawText)

	// Tools without a configured agent opt out of offloading entirely.
	if p.agent == nil {
		return serialize(payload)
	}

	samples := analysis.SamplePayload(serialized)
	result, err := p.agent.Analyze(ctx, samples, analysis.ToolContext{
		ToolName:  resp.ToolName,
		ToolArgs:  resp.ToolArgs,
		UserQuery: resp.UserQuery,
	}, basicMeta(payload, len(serialized), estimatedTokens))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return "", err
	}

	if result.OffloadRecommendation == analysis.RecommendKeepInline {
		p.logger.Debug("analysis kept payload inline", "tool", resp.ToolName)
		return serialize(payload)
	}

	extracted, residual, err := pathops.Extract(payload, result.DataExtractionPaths, result.PreserveInlinePaths)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	semantics := &vault.Semantics{
		Description:             result.SemanticDescription,
		DataType:                result.DataType,
		SuggestedVisualizations: result.VisualizationSuggestions,
		VisualizationRationale:  result.VisualizationRationale,
		QualityInsights:         result.QualityInsights,
		Enhancements:            result.MetadataEnhancements,
	}
	provenance := &vault.DataSource{
		ToolName:  resp.ToolName,
		ToolArgs:  resp.ToolArgs,
		UserQuery: resp.UserQuery,
		Timestamp: timeNow(),
	}

	// Offload each extracted array; later envelopes win key collisions.
	accumulator := make(map[string]any)
	offloaded := 0
	for _, path := range result.DataExtractionPaths {
		value, ok := extracted[path]
		if !ok {
			continue
		}
		rows := toRows(value)
		if rows == nil {
			p.logger.Debug("skipping non-array extraction", "tool", resp.ToolName, "path", path)
			continue
		}
		if len(rows) == 0 {
			// Empty arrays are never offloaded.
			continue
		}

		// Decoded maps lose the source key order; recover it from the raw
		// JSON text when the tool result arrived as one.
		var columnOrder []string
		if rawText != "" {
			columnOrder = pathops.FirstRowKeys([]byte(rawText), path)
		}

		handleID, metadata, err := p.store.Put(ctx, rows, resp.OwnerID, resp.SessionID, resp.ToolName, provenance, semantics, columnOrder)
		if err != nil {
			span.RecordError(err)
			return "", err
		}
		offloaded++

		envelopeMap, err := envelopeToMap(metadata)
		if err != nil {
			return "", err
		}
		for key, item := range envelopeMap {
			accumulator[key] = item
		}

		p.logger.Info("offloaded tool data",
			"tool", resp.ToolName,
			"path", path,
			"handle", handleID,
			"rows", len(rows),
			"owner", vault.SafePrincipal(resp.OwnerID))
	}

	span.SetAttributes(attribute.Int("offload.count", offloaded))
	if offloaded == 0 {
		return serialize(payload)
	}

	merged := make(map[string]any)
	if residualMap, ok := residual.(map[string]any); ok {
		for key, item := range residualMap {
			merged[key] = item
		}
	}
	for key, item := range accumulator {
		merged[key] = item
	}

	return serialize(merged)
}

// decodePayload re-parses a string result as JSON when possible; other
// values pass through. The second return is the source JSON text when the
// result arrived as a string, which still carries the original key order.
func decodePayload(raw any) (any, string) {
	s, ok := raw.(string)
	if !ok {
		return raw, ""
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return s, ""
	}
	return parsed, s
}

// unwrapEnvelope unwraps a {lc_serializable, content} wrapper, re-parsing
// string content that holds JSON. Unwrapping string content replaces the
// source text; unwrapping a decoded wrapper invalidates it.
func unwrapEnvelope(payload any, rawText string) (any, string) {
	m, ok := payload.(map[string]any)
	if !ok {
		return payload, rawText
	}
	if _, marked := m["lc_serializable"]; !marked {
		return payload, rawText
	}
	content, ok := m["content"]
	if !ok {
		return payload, rawText
	}
	return decodePayload(content)
}

func basicMeta(payload any, sizeBytes, estimatedTokens int) analysis.BasicMeta {
	meta := analysis.BasicMeta{SizeBytes: sizeBytes, EstimatedTokens: estimatedTokens}
	switch v := payload.(type) {
	case []any:
		meta.TopLevelKind = "array"
		meta.ArrayLength = len(v)
	case map[string]any:
		meta.TopLevelKind = "object"
	case string:
		meta.TopLevelKind = "string"
	case nil:
		meta.TopLevelKind = "null"
	default:
		meta.TopLevelKind = "scalar"
	}
	return meta
}

// toRows converts an extracted array to vault rows. Scalar elements are
// wrapped under a "value" column so their schema stays derivable. A nil
// return means the value is not an array at all.
func toRows(value any) []vault.Row {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	rows := make([]vault.Row, 0, len(items))
	for _, item := range items {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		} else {
			rows = append(rows, vault.Row{"value": item})
		}
	}
	return rows
}

func envelopeToMap(envelope *vault.MetadataEnvelope) (map[string]any, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize metadata envelope: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func serialize(value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// timeNow is swappable for provenance timestamp tests.
var timeNow = time.Now

func (p *Pipeline) estimateTokens(serialized string) int {
	if p.counter != nil {
		return p.counter.Count(serialized)
	}
	return utils.EstimateTokens(serialized)
}
