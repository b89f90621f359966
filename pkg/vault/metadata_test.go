package vault

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMetadata_Empty(t *testing.T) {
	envelope := ExtractMetadata(nil, nil)

	assert.Equal(t, 0, envelope.RowCount)
	assert.Empty(t, envelope.Schema)
	assert.Empty(t, envelope.SampleRows)
	assert.Empty(t, envelope.ColumnStats)
	assert.True(t, envelope.Offloaded)
	assert.Contains(t, envelope.Note, "no data rows")
}

func TestExtractMetadata_SchemaOrderAndTypes(t *testing.T) {
	rows := []Row{
		{"name": "alice", "age": float64(30), "active": true},
		{"name": "bob", "age": float64(25), "active": nil},
	}

	envelope := ExtractMetadata(rows, nil)

	require.Len(t, envelope.Schema, 3)
	assert.Equal(t, "active", envelope.Schema[0].Column)
	assert.Equal(t, "age", envelope.Schema[1].Column)
	assert.Equal(t, "name", envelope.Schema[2].Column)

	assert.Equal(t, TypeBoolean, envelope.Schema[0].Type)
	assert.True(t, envelope.Schema[0].Nullable)
	assert.Equal(t, TypeNumber, envelope.Schema[1].Type)
	assert.False(t, envelope.Schema[1].Nullable)
	assert.Equal(t, TypeString, envelope.Schema[2].Type)

	assert.Equal(t, 2, envelope.RowCount)
	assert.Len(t, envelope.SampleRows, 2)
}

func TestExtractMetadata_SourceColumnOrder(t *testing.T) {
	rows := []Row{
		{"id": float64(1), "amount": 9.5, "date": "2026-01-01"},
		{"id": float64(2), "amount": 3.0, "date": "2026-01-02"},
	}

	envelope := ExtractMetadata(rows, []string{"id", "amount", "date"})

	require.Len(t, envelope.Schema, 3)
	assert.Equal(t, "id", envelope.Schema[0].Column)
	assert.Equal(t, "amount", envelope.Schema[1].Column)
	assert.Equal(t, "date", envelope.Schema[2].Column)
}

func TestOrderedColumns(t *testing.T) {
	first := Row{"id": 1, "amount": 9.5, "date": "2026-01-01"}

	tests := []struct {
		name string
		hint []string
		want []string
	}{
		{name: "full hint", hint: []string{"id", "amount", "date"}, want: []string{"id", "amount", "date"}},
		{name: "no hint is alphabetical", hint: nil, want: []string{"amount", "date", "id"}},
		{name: "partial hint, rest sorted", hint: []string{"date"}, want: []string{"date", "amount", "id"}},
		{name: "hinted key absent from row", hint: []string{"missing", "id"}, want: []string{"id", "amount", "date"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OrderedColumns(first, tt.hint))
		})
	}
}

func TestExtractMetadata_SampleRowCap(t *testing.T) {
	rows := make([]Row, 12)
	for i := range rows {
		rows[i] = Row{"n": float64(i)}
	}

	envelope := ExtractMetadata(rows, nil)
	assert.Len(t, envelope.SampleRows, 5)
	assert.Equal(t, 12, envelope.RowCount)
}

func TestInferType(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{nil, TypeNull},
		{true, TypeBoolean},
		{float64(3.5), TypeNumber},
		{42, TypeNumber},
		{"hello", TypeString},
		{"2024-01-31", TypeDate},
		{"2024-01-31T10:00:00Z", TypeDate},
		{"2024-01-31 10:00:00.123+02:00", TypeDate},
		{"2024-13", TypeString},
		{[]any{1}, TypeArray},
		{map[string]any{}, TypeObject},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.value), func(t *testing.T) {
			assert.Equal(t, tt.want, InferType(tt.value))
		})
	}
}

func TestColumnStats_TopValues(t *testing.T) {
	rows := []Row{
		{"color": "red"},
		{"color": "blue"},
		{"color": "red"},
		{"color": "green"},
		{"color": "red"},
		{"color": "blue"},
	}

	envelope := ExtractMetadata(rows, nil)
	stats := envelope.ColumnStats["color"]

	assert.Equal(t, 3, stats.Unique)
	require.Len(t, stats.TopValues, 3)
	assert.Equal(t, TopValue{Value: "red", Count: 3}, stats.TopValues[0])
	assert.Equal(t, TopValue{Value: "blue", Count: 2}, stats.TopValues[1])
	assert.Equal(t, TopValue{Value: "green", Count: 1}, stats.TopValues[2])
}

func TestColumnStats_TopValuesOmittedAboveCutoff(t *testing.T) {
	rows := make([]Row, 25)
	for i := range rows {
		rows[i] = Row{"id": fmt.Sprintf("id-%d", i)}
	}

	stats := ExtractMetadata(rows, nil).ColumnStats["id"]
	assert.Equal(t, 25, stats.Unique)
	assert.Nil(t, stats.TopValues)
}

func TestColumnStats_Numeric(t *testing.T) {
	rows := []Row{
		{"amount": float64(10)},
		{"amount": float64(20)},
		{"amount": nil},
		{"amount": float64(30)},
	}

	stats := ExtractMetadata(rows, nil).ColumnStats["amount"]

	require.NotNil(t, stats.Min)
	require.NotNil(t, stats.Max)
	require.NotNil(t, stats.Sum)
	require.NotNil(t, stats.Avg)
	assert.Equal(t, float64(10), *stats.Min)
	assert.Equal(t, float64(30), *stats.Max)
	assert.Equal(t, float64(60), *stats.Sum)
	assert.Equal(t, float64(20), *stats.Avg)
	assert.Equal(t, 1, stats.NullCount)
}

func TestColumnStats_NonNumericHasNoAggregates(t *testing.T) {
	rows := []Row{{"name": "a"}, {"name": "b"}}

	stats := ExtractMetadata(rows, nil).ColumnStats["name"]
	assert.Nil(t, stats.Min)
	assert.Nil(t, stats.Max)
	assert.Nil(t, stats.Sum)
	assert.Nil(t, stats.Avg)
}

func TestOffloadNote(t *testing.T) {
	note := OffloadNote(150, "vault-abc", "tok-123")

	assert.Contains(t, note, "150 rows")
	assert.Contains(t, note, `"vault-abc"`)
	assert.Contains(t, note, `"tok-123"`)
	assert.Contains(t, note, "{table}")
}
