// Package engine defines the backend-neutral data-access contract and the
// operations built on top of it: literal encoding, script execution, and
// primary-key-targeted row mutation.
//
// Two structurally different backends implement the Engine interface: the
// embedded sqlite adapter (in-process, one synchronous handle materialized
// from a byte buffer) and the remote mysql/postgres adapters (asynchronous,
// connection-pooled). Callers hold an Engine, never a concrete driver.
package engine

import (
	"context"
	"time"
)

// Executor runs one raw SQL statement. Both Engine and Tx satisfy it, so
// code can execute inside or outside a transaction.
type Executor interface {
	// ExecuteRaw executes a single SQL statement. Statements that return
	// rows produce Columns/Rows; all others produce RowsAffected.
	ExecuteRaw(ctx context.Context, sql string) (*QueryResult, error)
}

// Tx is a database transaction pinned to one underlying connection.
// Exactly one of Commit or Rollback must be called.
type Tx interface {
	Executor

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Engine is the capability contract shared by the embedded and remote
// adapters. All layers above talk only to this interface.
type Engine interface {
	Executor

	// QuoteIdentifier wraps name in the backend's identifier quoting
	// (double quotes for sqlite/postgres, backticks for mysql).
	QuoteIdentifier(name string) string

	// ListTables returns the user tables of the active database, ordered
	// by name, with their definition text where the backend exposes it.
	ListTables(ctx context.Context) ([]TableDescriptor, error)

	// ListColumns returns the columns of table in physical ordinal order.
	ListColumns(ctx context.Context, table string) ([]ColumnDescriptor, error)

	// Begin starts a backend-native transaction. Every statement executed
	// through the returned Tx runs on the same connection.
	Begin(ctx context.Context) (Tx, error)

	// Ping verifies the backend is reachable / the handle is usable.
	Ping(ctx context.Context) error

	// Close releases the handle or pool. Idempotent.
	Close() error
}

// TableDescriptor describes one table of the active database.
type TableDescriptor struct {
	Name       string `json:"name"`
	Definition string `json:"definition"` // CREATE TABLE text, "" when unavailable
}

// ColumnDescriptor describes one column in its table's ordinal order.
type ColumnDescriptor struct {
	Ordinal    int    `json:"ordinal"`
	Name       string `json:"name"`
	DataType   string `json:"dataType"` // declared type as reported by the backend
	NotNull    bool   `json:"notNull"`
	PrimaryKey bool   `json:"primaryKey"`
}

// Row maps column names to backend-native scalar values (or nil).
type Row map[string]any

// QueryResult is the outcome of a single statement. Row order is whatever
// the backend returned; no implicit sort.
type QueryResult struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         []Row    `json:"rows,omitempty"`
	RowsAffected int64    `json:"rowsAffected"`
}

// BatchResult is the aggregated outcome of a script run.
//
// Under transactional mode a failed run reports no affected tables and no
// executed statements, because nothing persisted. Under non-transactional
// mode AffectedTables, Errors, and Executed all reflect partial progress.
//
// Executed counts statements whose effects took hold; AffectedTables is a
// best-effort extraction for display. Callers deciding whether state
// changed must use Executed, never AffectedTables — statements the
// extraction heuristic misses still mutate the database.
type BatchResult struct {
	Success        bool     `json:"success"`
	Executed       int      `json:"executedStatements"`
	AffectedTables []string `json:"affectedTables,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// RemoteConfig holds the settings for a remote backend connection.
// It is consumed once to open a pool and never persisted to disk.
type RemoteConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	UseTLS   bool   `yaml:"useTLS" json:"useTLS"`

	// Pool tuning; zero values fall back to per-driver defaults.
	MaxConns        int32         `yaml:"maxConns" json:"-"`
	MinConns        int32         `yaml:"minConns" json:"-"`
	MaxConnLifetime time.Duration `yaml:"-" json:"-"`
	MaxConnIdleTime time.Duration `yaml:"-" json:"-"`
	ConnectTimeout  time.Duration `yaml:"-" json:"-"`
}
