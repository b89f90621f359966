package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validReply = `{
	"semanticDescription": "a list of sales records",
	"dataType": "tabular",
	"offloadRecommendation": "offload_array",
	"offloadReason": "too large",
	"visualizationSuggestions": ["bar"],
	"visualizationRationale": "categorical totals",
	"qualityInsights": [],
	"metadataEnhancements": {},
	"dataExtractionPaths": ["data.items"],
	"preserveInlinePaths": ["status"]
}`

func TestParseReply_Plain(t *testing.T) {
	result, err := ParseReply(validReply)
	require.NoError(t, err)

	assert.Equal(t, "a list of sales records", result.SemanticDescription)
	assert.Equal(t, RecommendOffloadArray, result.OffloadRecommendation)
	assert.Equal(t, []string{"data.items"}, result.DataExtractionPaths)
	assert.Equal(t, []string{"status"}, result.PreserveInlinePaths)
}

func TestParseReply_CodeFence(t *testing.T) {
	fenced := "Here is my analysis:\n```json\n" + validReply + "\n```"

	// A leading prose line before the fence is not tolerated; the fence
	// must open the reply.
	_, err := ParseReply(fenced)
	assert.Error(t, err)

	result, err := ParseReply("```json\n" + validReply + "\n```")
	require.NoError(t, err)
	assert.Equal(t, RecommendOffloadArray, result.OffloadRecommendation)

	result, err = ParseReply("```\n" + validReply + "\n```")
	require.NoError(t, err)
	assert.Equal(t, RecommendOffloadArray, result.OffloadRecommendation)
}

func TestParseReply_LineComments(t *testing.T) {
	reply := `{
	// the payload is clearly tabular
	"semanticDescription": "rows from https://example.com/api",
	"offloadRecommendation": "keep_inline", // small enough
	"dataExtractionPaths": [],
	"preserveInlinePaths": []
}`

	result, err := ParseReply(reply)
	require.NoError(t, err)
	assert.Equal(t, RecommendKeepInline, result.OffloadRecommendation)
	assert.Equal(t, "rows from https://example.com/api", result.SemanticDescription,
		"slashes inside string literals survive comment stripping")
}

func TestParseReply_TrailingCommas(t *testing.T) {
	reply := `{
	"semanticDescription": "x",
	"offloadRecommendation": "keep_inline",
	"dataExtractionPaths": ["a", "b",],
	"preserveInlinePaths": [],
}`

	result, err := ParseReply(reply)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, result.DataExtractionPaths)
}

func TestParseReply_MissingRequiredField(t *testing.T) {
	reply := `{
	"semanticDescription": "x",
	"offloadRecommendation": "keep_inline",
	"dataExtractionPaths": []
}`

	_, err := ParseReply(reply)
	var analysisErr *Error
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, "validate", analysisErr.Stage)
	assert.Contains(t, analysisErr.Message, "preserveInlinePaths")
}

func TestParseReply_NotJSON(t *testing.T) {
	_, err := ParseReply("I could not analyze this payload.")
	var analysisErr *Error
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, "parse", analysisErr.Stage)
}

func TestParseReply_UnknownRecommendation(t *testing.T) {
	reply := `{
	"semanticDescription": "x",
	"offloadRecommendation": "maybe_offload",
	"dataExtractionPaths": [],
	"preserveInlinePaths": []
}`

	_, err := ParseReply(reply)
	var analysisErr *Error
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, "validate", analysisErr.Stage)
}

func TestParseReply_RequiredFieldsMayBeEmpty(t *testing.T) {
	reply := `{
	"semanticDescription": "",
	"offloadRecommendation": "keep_inline",
	"dataExtractionPaths": [],
	"preserveInlinePaths": []
}`

	result, err := ParseReply(reply)
	require.NoError(t, err)
	assert.Empty(t, result.SemanticDescription)
}
