// Package mysql implements the remote engine.Engine adapter for MySQL,
// backed by database/sql and the go-sql-driver connection pool.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

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

// Driver is the MySQL adapter. State lives on the server; the driver holds
// only the pooled connections and is safe for concurrent use.
type Driver struct {
	db *sql.DB

	mu     sync.Mutex
	closed bool
}

// New opens a connection pool for cfg and validates it with a ping before
// declaring success. On failure the pool is torn down and the error
// surfaced verbatim.
func New(ctx context.Context, cfg *engine.RemoteConfig) (*Driver, error) {
	mcfg := mysql.NewConfig()
	mcfg.Net = "tcp"
	mcfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mcfg.User = cfg.Username
	mcfg.Passwd = cfg.Password
	mcfg.DBName = cfg.Database
	mcfg.ParseTime = true
	if cfg.UseTLS {
		mcfg.TLSConfig = "true"
	}

	db, err := sql.Open("mysql", mcfg.FormatDSN())
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid connection settings", err)
	}

	db.SetMaxOpenConns(int(withDefault(cfg.MaxConns, defaultMaxConns)))
	db.SetMaxIdleConns(int(withDefault(cfg.MinConns, defaultMinConns)))
	db.SetConnMaxLifetime(withDefaultDur(cfg.MaxConnLifetime, defaultConnLifetime))
	db.SetConnMaxIdleTime(withDefaultDur(cfg.MaxConnIdleTime, defaultConnIdleTime))

	d := &Driver{db: db}

	pingCtx, cancel := context.WithTimeout(ctx, withDefaultDur(cfg.ConnectTimeout, defaultConnectTimeout))
	defer cancel()

	if err := d.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return d, nil
}

// --- engine.Engine implementation ---

func (d *Driver) ExecuteRaw(ctx context.Context, sqlText string) (*engine.QueryResult, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	if engine.ReturnsRows(sqlText) {
		rows, err := d.db.QueryContext(ctx, sqlText)
		if err != nil {
			return nil, mapError(err, "query failed")
		}
		return engine.CollectRows(rows, true)
	}

	res, err := d.db.ExecContext(ctx, sqlText)
	if err != nil {
		return nil, mapError(err, "statement failed")
	}
	affected, _ := res.RowsAffected()
	return &engine.QueryResult{RowsAffected: affected}, nil
}

func (d *Driver) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ListTables returns the current database's base tables with their
// SHOW CREATE TABLE definition text.
func (d *Driver) ListTables(ctx context.Context) ([]engine.TableDescriptor, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := d.db.QueryContext(ctx, q)
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
		def, err := d.tableDefinition(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, engine.TableDescriptor{Name: name, Definition: def})
	}
	return tables, nil
}

func (d *Driver) tableDefinition(ctx context.Context, table string) (string, error) {
	var name, def string
	q := "SHOW CREATE TABLE " + d.QuoteIdentifier(table)
	if err := d.db.QueryRowContext(ctx, q).Scan(&name, &def); err != nil {
		return "", mapError(err, fmt.Sprintf("failed to read definition of %q", table))
	}
	return def, nil
}

// ListColumns reads information_schema in ordinal order; column_key='PRI'
// marks primary-key membership.
func (d *Driver) ListColumns(ctx context.Context, table string) ([]engine.ColumnDescriptor, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}

	const q = `
		SELECT ordinal_position,
		       column_name,
		       column_type,
		       is_nullable = 'NO',
		       column_key = 'PRI'
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
		  AND table_name   = ?
		ORDER BY ordinal_position`

	rows, err := d.db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, mapError(err, "failed to fetch columns")
	}
	defer rows.Close()

	var cols []engine.ColumnDescriptor
	for rows.Next() {
		var c engine.ColumnDescriptor
		if err := rows.Scan(&c.Ordinal, &c.Name, &c.DataType, &c.NotNull, &c.PrimaryKey); err != nil {
			return nil, mapError(err, "failed to scan column info")
		}
		// information_schema positions are 1-based; descriptors are 0-based.
		c.Ordinal--
		cols = append(cols, c)
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
	return engine.NewSQLTx(tx, true, mapError), nil
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

// Close drains the pool. Idempotent.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}

func (d *Driver) usable() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errs.New(errs.ErrKindConnectionFailed, "no active connection")
	}
	return nil
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

// mapError translates go-sql-driver/mysql errors into *errs.Error.
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

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return errs.Wrap(
			classifyCode(mysqlErr.Number),
			fmt.Sprintf("%s: %s", msg, mysqlErr.Message),
			err,
		)
	}

	// Network-level failures never reach the server, so no MySQLError.
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

// classifyCode maps MySQL server error numbers to ErrKind.
func classifyCode(code uint16) errs.ErrKind {
	switch code {
	case 1040, 1044, 1045, 1046, 1049, 1203:
		// too many connections / access denied / no database selected /
		// unknown database / user limit reached
		return errs.ErrKindConnectionFailed
	default:
		return errs.ErrKindQueryFailed
	}
}
