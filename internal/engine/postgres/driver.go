// Package postgres implements the remote engine.Engine adapter for
// PostgreSQL, backed by a pgxpool connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dbglass/dbglass/internal/engine"
	"github.com/dbglass/dbglass/internal/errs"
)

const (
	defaultMaxConns       = 10
	defaultMinConns       = 2
	defaultConnLifetime   = 30 * time.Minute
	defaultConnIdleTime   = 5 * time.Minute
	defaultConnectTimeout = 10 * time.Second
)

// Driver is the PostgreSQL adapter. State lives on the server; the driver
// holds only the pool and is safe for concurrent use.
type Driver struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	closed bool
}

// New opens a pgx pool for cfg and validates it with a ping before
// declaring success. On failure the pool is torn down and the error
// surfaced verbatim.
func New(ctx context.Context, cfg *engine.RemoteConfig) (*Driver, error) {
	poolCfg, err := pgxpool.ParseConfig(buildDSN(cfg))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid connection settings", err)
	}

	poolCfg.MaxConns = withDefault(cfg.MaxConns, defaultMaxConns)
	poolCfg.MinConns = withDefault(cfg.MinConns, defaultMinConns)
	poolCfg.MaxConnLifetime = withDefaultDur(cfg.MaxConnLifetime, defaultConnLifetime)
	poolCfg.MaxConnIdleTime = withDefaultDur(cfg.MaxConnIdleTime, defaultConnIdleTime)
	poolCfg.ConnConfig.ConnectTimeout = withDefaultDur(cfg.ConnectTimeout, defaultConnectTimeout)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	d := &Driver{pool: pool}

	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return d, nil
}

func buildDSN(cfg *engine.RemoteConfig) string {
	sslMode := "disable"
	if cfg.UseTLS {
		sslMode = "require"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.Username, cfg.Password, cfg.Database, sslMode,
	)
}

// --- engine.Engine implementation ---

func (d *Driver) ExecuteRaw(ctx context.Context, sqlText string) (*engine.QueryResult, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	if engine.ReturnsRows(sqlText) {
		rows, err := d.pool.Query(ctx, sqlText)
		if err != nil {
			return nil, mapError(err, "query failed")
		}
		return collectPgxRows(rows)
	}

	tag, err := d.pool.Exec(ctx, sqlText)
	if err != nil {
		return nil, mapError(err, "statement failed")
	}
	return &engine.QueryResult{RowsAffected: tag.RowsAffected()}, nil
}

func (d *Driver) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ListTables returns the public-schema base tables. Postgres has no
// SHOW CREATE TABLE, so the definition text is synthesized from the
// introspected columns.
func (d *Driver) ListTables(ctx context.Context) ([]engine.TableDescriptor, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := d.pool.Query(ctx, q)
	if err != nil {
		return nil, mapError(err, "failed to list tables")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError(err, "failed to scan table name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating tables")
	}

	tables := make([]engine.TableDescriptor, 0, len(names))
	for _, name := range names {
		cols, err := d.ListColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, engine.TableDescriptor{
			Name:       name,
			Definition: synthesizeDefinition(d, name, cols),
		})
	}
	return tables, nil
}

func synthesizeDefinition(d *Driver, table string, cols []engine.ColumnDescriptor) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		p := fmt.Sprintf("%s %s", d.QuoteIdentifier(c.Name), c.DataType)
		if c.PrimaryKey {
			p += " PRIMARY KEY"
		} else if c.NotNull {
			p += " NOT NULL"
		}
		parts = append(parts, p)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteIdentifier(table), strings.Join(parts, ", "))
}

// ListColumns reads information_schema in ordinal order and marks
// primary-key membership from the table constraints.
func (d *Driver) ListColumns(ctx context.Context, table string) ([]engine.ColumnDescriptor, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	const q = `
		SELECT ordinal_position,
		       column_name,
		       data_type,
		       is_nullable = 'NO'
		FROM information_schema.columns
		WHERE table_schema = 'public'
		  AND table_name   = $1
		ORDER BY ordinal_position`

	rows, err := d.pool.Query(ctx, q, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []engine.ColumnDescriptor
	for rows.Next() {
		var c engine.ColumnDescriptor
		if err := rows.Scan(&c.Ordinal, &c.Name, &c.DataType, &c.NotNull); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		c.Ordinal--
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error iterating columns")
	}

	pks, err := d.fetchPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	for i := range cols {
		if pks[cols[i].Name] {
			cols[i].PrimaryKey = true
		}
	}
	return cols, nil
}

func (d *Driver) fetchPrimaryKeys(ctx context.Context, table string) (map[string]bool, error) {
	const q = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema    = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema    = 'public'
		  AND tc.table_name      = $1
		ORDER BY kcu.ordinal_position`

	rows, err := d.pool.Query(ctx, q, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch primary keys")
	}
	defer rows.Close()

	pks := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError(err, "failed to scan primary key column")
		}
		pks[name] = true
	}
	return pks, rows.Err()
}

func (d *Driver) Begin(ctx context.Context) (engine.Tx, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, mapError(err, "failed to begin transaction")
	}
	return &pgxTx{tx: tx}, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.usable(); err != nil {
		return err
	}
	if err := d.pool.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close drains the pool. Idempotent.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.pool.Close()
	return nil
}

func (d *Driver) usable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errs.New(errs.ErrKindConnectionFailed, "no active connection")
	}
	return nil
}

// --- pgx wrappers ---

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) ExecuteRaw(ctx context.Context, sqlText string) (*engine.QueryResult, error) {
	if engine.ReturnsRows(sqlText) {
		rows, err := t.tx.Query(ctx, sqlText)
		if err != nil {
			return nil, mapError(err, "query failed")
		}
		return collectPgxRows(rows)
	}

	tag, err := t.tx.Exec(ctx, sqlText)
	if err != nil {
		return nil, mapError(err, "statement failed")
	}
	return &engine.QueryResult{RowsAffected: tag.RowsAffected()}, nil
}

func (t *pgxTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapError(err, "commit failed")
	}
	return nil
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil {
		return mapError(err, "rollback failed")
	}
	return nil
}

// collectPgxRows drains a pgx result set into a QueryResult.
func collectPgxRows(rows pgx.Rows) (*engine.QueryResult, error) {
	defer rows.Close()

	descs := rows.FieldDescriptions()
	columns := make([]string, len(descs))
	for i, fd := range descs {
		columns[i] = fd.Name
	}

	result := &engine.QueryResult{Columns: columns, Rows: make([]engine.Row, 0)}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, mapError(err, "failed to scan row")
		}
		row := make(engine.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err, "error during row iteration")
	}
	return result, nil
}

// --- helpers ---

func withDefault(val, def int32) int32 {
	if val == 0 {
		return def
	}
	return val
}

func withDefaultDur(val, def time.Duration) time.Duration {
	if val == 0 {
		return def
	}
	return val
}

// --- error mapping ---

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := errs.ErrKindQueryFailed
		// SQLSTATE class 08 covers connection exceptions.
		if strings.HasPrefix(pgErr.Code, "08") {
			kind = errs.ErrKindConnectionFailed
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Network, TLS, and auth failures never produce a PgError.
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
