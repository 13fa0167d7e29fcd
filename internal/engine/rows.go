package engine

import (
	"context"
	"database/sql"
	"regexp"
	"strings"

	"github.com/dbglass/dbglass/internal/errs"
)

// ReturnsRows reports whether sqlText is a statement that produces a result
// set. Adapters use it to pick between Query and Exec paths; it is a prefix
// heuristic, not a parser.
func ReturnsRows(sqlText string) bool {
	head := strings.ToUpper(strings.TrimSpace(sqlText))
	for _, prefix := range []string{"SELECT", "WITH", "PRAGMA", "EXPLAIN", "SHOW", "DESCRIBE", "VALUES"} {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return false
}

var cteMutationPattern = regexp.MustCompile(`(?i)\b(?:INSERT|UPDATE|DELETE)\b`)

// MayMutate reports whether sqlText can change database state. Plain reads
// (SELECT, PRAGMA, EXPLAIN, SHOW, DESCRIBE, VALUES) report false;
// everything else reports true, including CTE-prefixed statements whose
// body carries a DML verb — `WITH x AS (...) INSERT INTO ...` returns no
// rows worth of guarantees but still writes. Erring toward true is
// deliberate: callers use this to decide whether durable state must be
// refreshed, and a spurious refresh is harmless where a missed one is not.
func MayMutate(sqlText string) bool {
	if !ReturnsRows(sqlText) {
		return true
	}
	head := strings.ToUpper(strings.TrimSpace(sqlText))
	if strings.HasPrefix(head, "WITH") {
		return cteMutationPattern.MatchString(sqlText)
	}
	return false
}

// CollectRows drains a database/sql result set into a QueryResult.
// It always closes rows. When coerceBytes is set, []byte cell values are
// converted to string — the mysql driver reports text columns as raw bytes.
func CollectRows(rows *sql.Rows, coerceBytes bool) (*QueryResult, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read column names", err)
	}

	result := &QueryResult{Columns: columns, Rows: make([]Row, 0)}

	for rows.Next() {
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to scan row", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			v := dest[i]
			if b, ok := v.([]byte); ok && coerceBytes {
				v = string(b)
			}
			row[col] = v
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "error during row iteration", err)
	}

	return result, nil
}

// sqlTx adapts *sql.Tx to the Tx interface for the database/sql-backed
// adapters (sqlite, mysql).
type sqlTx struct {
	tx          *sql.Tx
	coerceBytes bool
	mapErr      func(err error, msg string) error
}

// NewSQLTx wraps a database/sql transaction. mapErr translates driver
// errors into *errs.Error; a nil mapErr wraps everything as a query failure.
func NewSQLTx(tx *sql.Tx, coerceBytes bool, mapErr func(err error, msg string) error) Tx {
	if mapErr == nil {
		mapErr = func(err error, msg string) error {
			return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
		}
	}
	return &sqlTx{tx: tx, coerceBytes: coerceBytes, mapErr: mapErr}
}

func (t *sqlTx) ExecuteRaw(ctx context.Context, sqlText string) (*QueryResult, error) {
	if ReturnsRows(sqlText) {
		rows, err := t.tx.QueryContext(ctx, sqlText)
		if err != nil {
			return nil, t.mapErr(err, "query failed")
		}
		return CollectRows(rows, t.coerceBytes)
	}

	res, err := t.tx.ExecContext(ctx, sqlText)
	if err != nil {
		return nil, t.mapErr(err, "statement failed")
	}
	affected, _ := res.RowsAffected()
	return &QueryResult{RowsAffected: affected}, nil
}

func (t *sqlTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return t.mapErr(err, "commit failed")
	}
	return nil
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil {
		return t.mapErr(err, "rollback failed")
	}
	return nil
}
