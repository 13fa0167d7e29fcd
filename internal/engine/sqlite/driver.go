// Package sqlite implements the embedded engine.Engine adapter on top of
// modernc.org/sqlite (a pure-Go SQLite build) through database/sql.
//
// The adapter owns a private database materialized from a byte buffer and
// never touches the caller's files: loading copies the buffer into a
// process-private temp file, and exporting serializes current state back to
// bytes for an external persistence collaborator to write durably.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dbglass/dbglass/internal/engine"
	"github.com/dbglass/dbglass/internal/errs"

	sqlite3 "modernc.org/sqlite"
)

// Driver is the embedded adapter. Operations run synchronously on a single
// pinned connection, matching the one-writer model of the engine itself.
type Driver struct {
	db       *sql.DB
	tempPath string // process-private backing file
	source   string // logical path the buffer came from, for persistence round-trips

	mu     sync.Mutex
	closed bool
}

// Open materializes data into a new embedded database instance and
// validates it with a trivial catalog read. A nil or empty buffer opens a
// fresh empty database. sourcePath is retained verbatim for SourcePath.
//
// On validation failure the handle is torn down and an invalid-input error
// is returned; the caller ends up with no usable instance, not a crash.
func Open(ctx context.Context, data []byte, sourcePath string) (*Driver, error) {
	f, err := os.CreateTemp("", "dbglass-*.db")
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create backing file", err)
	}
	tempPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to write database buffer", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to write database buffer", err)
	}

	db, err := sql.Open("sqlite", tempPath)
	if err != nil {
		os.Remove(tempPath)
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to open database handle", err)
	}
	// One connection: the embedded engine is synchronous by contract, and a
	// single handle keeps PRAGMA state and transactions trivially coherent.
	db.SetMaxOpenConns(1)

	d := &Driver{db: db, tempPath: tempPath, source: sourcePath}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master`).Scan(&n); err != nil {
		_ = d.Close()
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "buffer is not a valid database file", err)
	}

	return d, nil
}

// SourcePath returns the logical path the database buffer was loaded from,
// or "" for a database created from scratch.
func (d *Driver) SourcePath() string {
	return d.source
}

// --- engine.Engine implementation ---

// ExecuteRaw runs one SQL statement. This is the single choke point all
// other operations route through.
func (d *Driver) ExecuteRaw(ctx context.Context, sqlText string) (*engine.QueryResult, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	if engine.ReturnsRows(sqlText) {
		rows, err := d.db.QueryContext(ctx, sqlText)
		if err != nil {
			return nil, mapError(err, "query failed")
		}
		return engine.CollectRows(rows, false)
	}

	res, err := d.db.ExecContext(ctx, sqlText)
	if err != nil {
		return nil, mapError(err, "statement failed")
	}
	affected, _ := res.RowsAffected()
	return &engine.QueryResult{RowsAffected: affected}, nil
}

func (d *Driver) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ListTables reads the catalog, skipping sqlite-internal tables.
func (d *Driver) ListTables(ctx context.Context) ([]engine.TableDescriptor, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	const q = `
		SELECT name, COALESCE(sql, '')
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, mapError(err, "failed to list tables")
	}
	defer rows.Close()

	var tables []engine.TableDescriptor
	for rows.Next() {
		var t engine.TableDescriptor
		if err := rows.Scan(&t.Name, &t.Definition); err != nil {
			return nil, mapError(err, "failed to scan table entry")
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating tables")
	}
	return tables, nil
}

// ListColumns reads PRAGMA table_info, which reports columns in physical
// ordinal order. An unknown table yields an empty slice.
func (d *Driver) ListColumns(ctx context.Context, table string) ([]engine.ColumnDescriptor, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	q := fmt.Sprintf("PRAGMA table_info(%s)", d.QuoteIdentifier(table))
	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []engine.ColumnDescriptor
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		cols = append(cols, engine.ColumnDescriptor{
			Ordinal:  cid,
			Name:     name,
			DataType: ctype,
			NotNull:  notNull != 0,
			// pk is the 1-based position within the primary key; composite
			// keys therefore surface as multiple flagged columns.
			PrimaryKey: pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating columns")
	}
	return cols, nil
}

func (d *Driver) Begin(ctx context.Context) (engine.Tx, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err, "failed to begin transaction")
	}
	return engine.NewSQLTx(tx, false, mapError), nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.usable(); err != nil {
		return err
	}
	if err := d.db.PingContext(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close releases the handle and deletes the backing file. Idempotent.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	err := d.db.Close()
	if rmErr := os.Remove(d.tempPath); err == nil {
		err = rmErr
	}
	return err
}

// --- snapshot export ---

// ExportBytes serializes the current in-memory state into a byte buffer.
// This is the only way changes become persistable; the adapter itself never
// writes to the caller's files.
func (d *Driver) ExportBytes(ctx context.Context) ([]byte, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "dbglass-export-")
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create export scratch dir", err)
	}
	defer os.RemoveAll(dir)

	target := filepath.Join(dir, "snapshot.db")
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO "+engine.EncodeLiteral(target)); err != nil {
		return nil, mapError(err, "failed to serialize database")
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to read serialized database", err)
	}
	return data, nil
}

// --- helpers ---

func (d *Driver) usable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errs.New(errs.ErrKindConnectionFailed, "database handle is closed")
	}
	return nil
}

// mapError translates sqlite driver errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var sqErr *sqlite3.Error
	if errors.As(err, &sqErr) {
		return errs.Wrap(errs.ErrKindQueryFailed, fmt.Sprintf("%s: %s", msg, sqErr.Error()), err)
	}

	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
