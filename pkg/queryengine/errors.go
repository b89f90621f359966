package queryengine

import "fmt"

// NotFoundHint is the only sanctioned recovery path for a dead handle.
const NotFoundHint = "do not retry with this handle; call the original tool " +
	"that produced the data again to obtain a fresh handle"

// DataNotFoundError covers a missing, expired, wrong-owner or wrong-token
// handle. The cases are deliberately collapsed so callers cannot enumerate
// ownership.
type DataNotFoundError struct {
	Handle string
	Hint   string
}

func (e *DataNotFoundError) Error() string {
	return fmt.Sprintf("data not found for handle %s (%s)", e.Handle, e.Hint)
}

// QueryError is a SQL compile, execution, or timeout failure. Query holds
// at most the first 80 characters of the offending SQL.
type QueryError struct {
	Handle string
	Query  string
	Hint   string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed for handle %s: %v (query: %q)", e.Handle, e.Err, e.Query)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func truncateQuery(sql string) string {
	if len(sql) > 80 {
		return sql[:80]
	}
	return sql
}
