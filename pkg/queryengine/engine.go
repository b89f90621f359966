// Package queryengine mounts vault blobs as temporary SQL tables and runs
// capped, timeboxed aggregations over them.
package queryengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/contextd/datavault/pkg/vault"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// MaxResultRows is forced onto queries without an explicit LIMIT.
	MaxResultRows = 10000

	// QueryTimeout is the hard wall-clock cap per query.
	QueryTimeout = 30 * time.Second

	// TablePlaceholder in user SQL is replaced with the temp table name.
	TablePlaceholder = "{table}"
)

var limitPattern = regexp.MustCompile(`(?i)\blimit\b`)

// QueryRequest is one SQL execution over a vaulted dataset.
type QueryRequest struct {
	Handle    string
	SQL       string
	Principal string
	Token     string
}

// QueryResult is the outcome of a query.
type QueryResult struct {
	Rows            []map[string]any `json:"rows"`
	RowCount        int              `json:"rowCount"`
	Columns         []string         `json:"columns"`
	ExecutionTimeMs int64            `json:"executionTimeMs"`
	Truncated       bool             `json:"truncated"`
}

// RetrieveRequest fetches stored rows without SQL.
type RetrieveRequest struct {
	Handle    string
	Principal string
	Token     string
	Limit     int // 0 means all rows
}

// RetrieveResult is the outcome of a full-data retrieval.
type RetrieveResult struct {
	Rows            []vault.Row             `json:"rows"`
	RowCount        int                     `json:"rowCount"`
	LimitApplied    bool                    `json:"limitApplied"`
	SizeBytes       int                     `json:"sizeBytes"`
	EstimatedTokens int                     `json:"estimatedTokens"`
	Metadata        *vault.MetadataEnvelope `json:"metadata,omitempty"`
}

// Engine executes SQL over vault entries mounted as temp tables. Each query
// runs inside its own private in-memory sqlite database, so queries over
// distinct handles (and repeated queries over one handle) never contend.
type Engine struct {
	store  *vault.Store
	logger *slog.Logger
}

// New creates an engine over the given store.
func New(store *vault.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// openSession opens a private in-memory database for a single query.
// Closing it discards the database and every table in it.
func openSession() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded database: %w", err)
	}
	// A second connection would see a different :memory: database.
	db.SetMaxOpenConns(1)
	return db, nil
}

// ExecuteQuery mounts the handle's rows as a table in a fresh session, runs
// the user SQL with the row cap and timeout enforced, and discards the
// session afterwards.
func (e *Engine) ExecuteQuery(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	tracer := otel.Tracer("datavault/queryengine")
	ctx, span := tracer.Start(ctx, "queryengine.execute")
	defer span.End()
	span.SetAttributes(attribute.String("vault.handle", req.Handle))

	rows, metadata, err := e.store.GetWithMetadata(ctx, req.Handle, req.Principal, req.Token)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if rows == nil {
		err := &DataNotFoundError{Handle: req.Handle, Hint: NotFoundHint}
		span.SetStatus(codes.Error, "handle not found")
		return nil, err
	}

	db, err := openSession()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer db.Close()

	start := time.Now()
	tableName := TableName(req.Handle)

	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	if err := createTable(ctx, db, tableName, rows, schemaColumns(metadata)); err != nil {
		return nil, &QueryError{
			Handle: req.Handle,
			Query:  truncateQuery(req.SQL),
			Hint:   "the dataset could not be mounted as a table",
			Err:    err,
		}
	}

	userSQL := strings.ReplaceAll(req.SQL, TablePlaceholder, tableName)
	if !limitPattern.MatchString(userSQL) {
		userSQL = fmt.Sprintf("%s LIMIT %d", userSQL, MaxResultRows)
	}

	resultRows, columns, err := runQuery(ctx, db, userSQL)
	if err != nil {
		hint := "check the SQL syntax; column names come from the dataset schema"
		if ctx.Err() == context.DeadlineExceeded {
			hint = fmt.Sprintf("the query exceeded the %s timeout; aggregate less data", QueryTimeout)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, &QueryError{
			Handle: req.Handle,
			Query:  truncateQuery(req.SQL),
			Hint:   hint,
			Err:    err,
		}
	}

	result := &QueryResult{
		Rows:            resultRows,
		RowCount:        len(resultRows),
		Columns:         columns,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Truncated:       len(resultRows) >= MaxResultRows,
	}
	span.SetAttributes(attribute.Int("query.rows", result.RowCount))

	e.logger.Debug("query executed",
		"handle", req.Handle,
		"rows", result.RowCount,
		"elapsed_ms", result.ExecutionTimeMs,
		"principal", vault.SafePrincipal(req.Principal))

	return result, nil
}

// RetrieveFullData bypasses SQL and returns up to limit stored rows.
func (e *Engine) RetrieveFullData(ctx context.Context, req RetrieveRequest) (*RetrieveResult, error) {
	rows, metadata, err := e.store.GetWithMetadata(ctx, req.Handle, req.Principal, req.Token)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, &DataNotFoundError{Handle: req.Handle, Hint: NotFoundHint}
	}

	limitApplied := false
	if req.Limit > 0 && len(rows) > req.Limit {
		rows = rows[:req.Limit]
		limitApplied = true
	}

	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize rows: %w", err)
	}

	return &RetrieveResult{
		Rows:            rows,
		RowCount:        len(rows),
		LimitApplied:    limitApplied,
		SizeBytes:       len(raw),
		EstimatedTokens: (len(raw) + 3) / 4,
		Metadata:        metadata,
	}, nil
}

// TableName sanitizes a handle into the per-handle temp table name.
func TableName(handle string) string {
	return "vault_" + strings.ReplaceAll(handle, "-", "_")
}

// schemaColumns reads the stored column order back out of the metadata
// envelope. The stored entry round-trips through JSON maps, so the schema is
// the only carrier of the source's key order.
func schemaColumns(metadata *vault.MetadataEnvelope) []string {
	if metadata == nil {
		return nil
	}
	columns := make([]string, len(metadata.Schema))
	for i, column := range metadata.Schema {
		columns[i] = column.Column
	}
	return columns
}

func createTable(ctx context.Context, db *sql.DB, tableName string, rows []vault.Row, columnOrder []string) error {
	columns, types := inferColumns(rows[0], columnOrder)

	defs := make([]string, len(columns))
	for i, column := range columns {
		defs[i] = fmt.Sprintf("%s %s", quoteIdent(column), types[i])
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", tableName, strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = quoteIdent(column)
		placeholders[i] = "?"
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableName, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	stmt, err := db.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(columns))
		for i, column := range columns {
			args[i] = sqlValue(row[column])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}
	return nil
}

func runQuery(ctx context.Context, db *sql.DB, query string) ([]map[string]any, []string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, nil, err
		}

		record := make(map[string]any, len(columns))
		for i, column := range columns {
			record[column] = normalizeValue(values[i])
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(results) == 0 {
		return results, []string{}, nil
	}
	return results, columns, nil
}

// inferColumns maps the first row to SQL columns in the stored schema
// order (alphabetical when no order survives) and infers types:
// integer-valued numbers to INTEGER, other numbers to REAL, booleans to
// BOOLEAN, ISO-dateish strings to TIMESTAMP, other strings to TEXT, and
// nested values to JSON-serialized TEXT.
func inferColumns(first vault.Row, columnOrder []string) ([]string, []string) {
	columns := vault.OrderedColumns(first, columnOrder)

	types := make([]string, len(columns))
	for i, column := range columns {
		types[i] = sqlType(first[column])
	}
	return columns, types
}

func sqlType(value any) string {
	switch vault.InferType(value) {
	case vault.TypeNumber:
		if f, ok := value.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return "INTEGER"
		}
		if _, ok := value.(int); ok {
			return "INTEGER"
		}
		if _, ok := value.(int64); ok {
			return "INTEGER"
		}
		return "REAL"
	case vault.TypeBoolean:
		return "BOOLEAN"
	case vault.TypeDate:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// sqlValue converts a row value to a driver-friendly argument. Nested
// objects and arrays are stored as their JSON text.
func sqlValue(value any) any {
	switch v := value.(type) {
	case nil, bool, float64, int, int64, string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

// normalizeValue makes scanned values JSON-serializable: byte slices
// become strings and oversized integers become floats.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case int64:
		if v > 1<<53 || v < -(1<<53) {
			return float64(v)
		}
		return v
	default:
		return v
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
