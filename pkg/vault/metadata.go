package vault

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

const (
	maxSampleRows      = 5
	topValueCutoff     = 20
	topValueLimit      = 5
	emptyDatasetNote   = "The tool returned no data rows; nothing was stored in the data vault."
	offloadNoteFormat  = "This tool result (%d rows) was offloaded to the data vault. " +
		"Do not ask for the full data. Aggregate it with SQL via handle %q and token %q " +
		"(use {table} as the table name), or have the UI retrieve it directly."
)

// Matches ISO-8601 dates and date-times, e.g. 2024-01-31, 2024-01-31T10:00:00Z.
var isoDatePattern = regexp.MustCompile(
	`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)

// ExtractMetadata builds the metadata envelope for a row array. columnOrder
// is the first row's key order, captured from the raw JSON text by callers
// that still have it; keys it does not cover fall back to alphabetical
// (decoded maps carry no insertion order). An empty input yields an envelope
// with empty schema and stats and a distinct note.
func ExtractMetadata(rows []Row, columnOrder []string) *MetadataEnvelope {
	envelope := &MetadataEnvelope{
		Schema:      []ColumnSchema{},
		RowCount:    len(rows),
		SampleRows:  []Row{},
		ColumnStats: map[string]ColumnStats{},
		Offloaded:   true,
		Note:        emptyDatasetNote,
	}
	if len(rows) == 0 {
		return envelope
	}

	for _, column := range OrderedColumns(rows[0], columnOrder) {
		envelope.Schema = append(envelope.Schema, columnSchema(rows, column))
		envelope.ColumnStats[column] = columnStats(rows, column)
	}

	sampleCount := min(maxSampleRows, len(rows))
	envelope.SampleRows = rows[:sampleCount]

	return envelope
}

// OrderedColumns resolves the column order for a first row: hinted keys
// first, in hint order, then any remaining keys alphabetically. Hinted keys
// absent from the row are dropped.
func OrderedColumns(first Row, hint []string) []string {
	columns := make([]string, 0, len(first))
	seen := make(map[string]bool, len(first))
	for _, column := range hint {
		if _, ok := first[column]; ok && !seen[column] {
			columns = append(columns, column)
			seen[column] = true
		}
	}

	rest := make([]string, 0, len(first))
	for column := range first {
		if !seen[column] {
			rest = append(rest, column)
		}
	}
	sort.Strings(rest)
	return append(columns, rest...)
}

// InferType returns the column type tag for a single value.
func InferType(value any) string {
	switch v := value.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case float64, int, int64, json.Number:
		return TypeNumber
	case string:
		if isoDatePattern.MatchString(v) {
			return TypeDate
		}
		return TypeString
	case []any:
		return TypeArray
	case map[string]any:
		return TypeObject
	default:
		return TypeString
	}
}

func columnSchema(rows []Row, column string) ColumnSchema {
	schema := ColumnSchema{Column: column, Type: TypeNull}

	for _, row := range rows {
		value, ok := row[column]
		if !ok || value == nil {
			schema.Nullable = true
			continue
		}
		if schema.Type == TypeNull {
			schema.Type = InferType(value)
		}
	}
	return schema
}

func columnStats(rows []Row, column string) ColumnStats {
	stats := ColumnStats{}

	type valueCount struct {
		label string
		count int
		order int // first occurrence, for tie breaking
	}
	counts := make(map[string]*valueCount)
	var ordered []*valueCount

	var numeric []float64

	for _, row := range rows {
		value, ok := row[column]
		if !ok || value == nil {
			stats.NullCount++
			continue
		}

		label := stringifyValue(value)
		if vc, seen := counts[label]; seen {
			vc.count++
		} else {
			vc = &valueCount{label: label, count: 1, order: len(ordered)}
			counts[label] = vc
			ordered = append(ordered, vc)
		}

		if n, ok := asNumber(value); ok {
			numeric = append(numeric, n)
		}
	}

	stats.Unique = len(counts)

	if stats.Unique > 0 && stats.Unique <= topValueCutoff {
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].count != ordered[j].count {
				return ordered[i].count > ordered[j].count
			}
			return ordered[i].order < ordered[j].order
		})
		limit := min(topValueLimit, len(ordered))
		stats.TopValues = make([]TopValue, 0, limit)
		for _, vc := range ordered[:limit] {
			stats.TopValues = append(stats.TopValues, TopValue{Value: vc.label, Count: vc.count})
		}
	}

	if len(numeric) > 0 {
		minVal, maxVal, sum := numeric[0], numeric[0], 0.0
		for _, n := range numeric {
			if n < minVal {
				minVal = n
			}
			if n > maxVal {
				maxVal = n
			}
			sum += n
		}
		avg := sum / float64(len(numeric))
		stats.Min = &minVal
		stats.Max = &maxVal
		stats.Sum = &sum
		stats.Avg = &avg
	}

	return stats
}

// stringifyValue produces the counting key and top-value label for a value.
// Strings are used verbatim; everything else is JSON-serialized, which gives
// object values stable but opaque labels.
func stringifyValue(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// OffloadNote renders the LLM-facing instruction for a stored dataset.
func OffloadNote(rowCount int, handleID, token string) string {
	return fmt.Sprintf(offloadNoteFormat, rowCount, handleID, token)
}
