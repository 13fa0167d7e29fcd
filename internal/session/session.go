// Package session owns the active database backend and exposes the
// uniform operation surface the UI layer calls: load/connect, browse,
// query, script, and row mutation.
//
// A session holds at most one engine at a time. Switching backends is
// destructive: the previous engine's handle or pool is released before the
// new one is acquired. After a successful embedded mutation the session
// re-exports the database bytes and hands them to the snapshot store keyed
// by the source path.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dbglass/dbglass/internal/engine"
	"github.com/dbglass/dbglass/internal/engine/mysql"
	"github.com/dbglass/dbglass/internal/engine/postgres"
	"github.com/dbglass/dbglass/internal/engine/sqlite"
	"github.com/dbglass/dbglass/internal/errs"
	"github.com/dbglass/dbglass/internal/logger"
	"github.com/dbglass/dbglass/internal/snapshot"
)

// Backend identifies a remote database engine.
type Backend string

const (
	BackendMySQL    Backend = "mysql"
	BackendPostgres Backend = "postgres"
)

const defaultRowLimit = 100

// QueryReport is a query result plus the elapsed wall time, measured here
// so both backends report it uniformly.
type QueryReport struct {
	Result  *engine.QueryResult `json:"result"`
	Elapsed time.Duration       `json:"elapsedNs"`
}

// ScriptReport is a script outcome plus the elapsed wall time.
type ScriptReport struct {
	Batch   *engine.BatchResult `json:"batch"`
	Elapsed time.Duration       `json:"elapsedNs"`
}

// Session is the single entry point for all engine operations.
// It is safe for concurrent use; backend switches are serialized.
type Session struct {
	log   *logger.Logger
	snaps snapshot.Store // nil disables snapshot persistence

	mu       sync.Mutex
	eng      engine.Engine
	embedded *sqlite.Driver // non-nil exactly when eng is the embedded adapter

	// attach deduplicates concurrent load/connect attempts: callers racing
	// a setup share one in-flight attempt instead of opening two backends.
	attach singleflight.Group
}

// New returns a Session with no active backend. snaps may be nil.
func New(log *logger.Logger, snaps snapshot.Store) *Session {
	if log == nil {
		log = logger.Nop()
	}
	return &Session{log: log, snaps: snaps}
}

// LoadDatabase opens an embedded database from a byte buffer, tearing down
// whatever backend was active before. sourcePath keys later snapshot
// persistence and may be empty for a scratch database.
func (s *Session) LoadDatabase(ctx context.Context, data []byte, sourcePath string) error {
	_, err, _ := s.attach.Do("attach", func() (any, error) {
		d, err := sqlite.Open(ctx, data, sourcePath)
		if err != nil {
			return nil, err
		}
		s.swap(d, d)
		s.log.With().Str("backend", "sqlite").Str("source", sourcePath).Logger().
			Info("embedded database loaded")
		return nil, nil
	})
	return err
}

// Connect opens a remote backend pool, tearing down whatever backend was
// active before. cfg is consumed here and never persisted.
func (s *Session) Connect(ctx context.Context, backend Backend, cfg *engine.RemoteConfig) error {
	_, err, _ := s.attach.Do("attach", func() (any, error) {
		var (
			eng engine.Engine
			err error
		)
		switch backend {
		case BackendMySQL:
			eng, err = mysql.New(ctx, cfg)
		case BackendPostgres:
			eng, err = postgres.New(ctx, cfg)
		default:
			return nil, errs.Newf(errs.ErrKindInvalidInput, "unknown backend %q", backend)
		}
		if err != nil {
			return nil, err
		}
		s.swap(eng, nil)
		s.log.With().Str("backend", string(backend)).
			Str("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)).Logger().
			Info("remote database connected")
		return nil, nil
	})
	return err
}

// Disconnect releases the active backend, if any. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	eng := s.eng
	s.eng = nil
	s.embedded = nil
	s.mu.Unlock()

	if eng == nil {
		return nil
	}
	return eng.Close()
}

// swap installs a new engine, closing the previous one first so its file
// handle or socket pool is never leaked.
func (s *Session) swap(eng engine.Engine, embedded *sqlite.Driver) {
	s.mu.Lock()
	old := s.eng
	s.eng = eng
	s.embedded = embedded
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.log.Warnf("failed to close previous backend: %v", err)
		}
	}
}

func (s *Session) active() (engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eng == nil {
		return nil, errs.New(errs.ErrKindConnectionFailed, "no active database")
	}
	return s.eng, nil
}

// --- browsing ---

// ListTables returns the active database's tables.
func (s *Session) ListTables(ctx context.Context) ([]engine.TableDescriptor, error) {
	eng, err := s.active()
	if err != nil {
		return nil, err
	}
	return eng.ListTables(ctx)
}

// ListColumns returns table's columns in ordinal order.
func (s *Session) ListColumns(ctx context.Context, table string) ([]engine.ColumnDescriptor, error) {
	eng, err := s.active()
	if err != nil {
		return nil, err
	}
	return eng.ListColumns(ctx, table)
}

// GetRows pages through table with LIMIT/OFFSET. A non-positive limit
// falls back to the default page size.
func (s *Session) GetRows(ctx context.Context, table string, limit, offset int) (*engine.QueryResult, error) {
	eng, err := s.active()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRowLimit
	}
	if offset < 0 {
		offset = 0
	}
	stmt := fmt.Sprintf("SELECT * FROM %s LIMIT %d OFFSET %d", eng.QuoteIdentifier(table), limit, offset)
	return eng.ExecuteRaw(ctx, stmt)
}

// --- execution ---

// RunQuery executes one ad-hoc statement and reports elapsed time. A
// successful mutating statement on the embedded backend triggers snapshot
// persistence.
func (s *Session) RunQuery(ctx context.Context, sqlText string) (*QueryReport, error) {
	eng, err := s.active()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := eng.ExecuteRaw(ctx, sqlText)
	elapsed := time.Since(start)
	if err != nil {
		return nil, err
	}

	if engine.MayMutate(sqlText) {
		s.persistSnapshot(ctx)
	}
	return &QueryReport{Result: result, Elapsed: elapsed}, nil
}

// RunScript executes statements in order, optionally inside one
// transaction, and reports the aggregated outcome with elapsed time.
// Execution errors land in the report, never in the error return — that is
// reserved for having no active backend.
func (s *Session) RunScript(ctx context.Context, statements []string, transactional bool) (*ScriptReport, error) {
	eng, err := s.active()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	batch := engine.NewScriptRunner(eng, s.log).Run(ctx, statements, transactional)
	elapsed := time.Since(start)

	// Gate on statements that actually ran, not on extracted table names:
	// the extraction is display-only and misses DDL like CREATE INDEX,
	// which still changes state that must be persisted.
	if batch.Executed > 0 {
		s.persistSnapshot(ctx)
	}
	return &ScriptReport{Batch: batch, Elapsed: elapsed}, nil
}

// --- row mutation ---

// UpdateRow updates one row of table identified by its primary-key value.
func (s *Session) UpdateRow(ctx context.Context, table string, oldRow, newRow engine.Row) error {
	eng, err := s.active()
	if err != nil {
		return err
	}
	if err := engine.UpdateRow(ctx, eng, table, oldRow, newRow); err != nil {
		return err
	}
	s.persistSnapshot(ctx)
	return nil
}

// DeleteRows deletes the rows of table whose primary-key value is in ids.
func (s *Session) DeleteRows(ctx context.Context, table, pkColumn string, ids []any) error {
	eng, err := s.active()
	if err != nil {
		return err
	}
	if err := engine.DeleteRows(ctx, eng, table, pkColumn, ids); err != nil {
		return err
	}
	s.persistSnapshot(ctx)
	return nil
}

// --- persistence ---

// ExportBytes serializes the embedded database. Remote backends hold no
// local bytes, so exporting them is a validation error.
func (s *Session) ExportBytes(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	embedded := s.embedded
	s.mu.Unlock()

	if embedded == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "export requires an embedded database; remote state lives on the server")
	}
	return embedded.ExportBytes(ctx)
}

// persistSnapshot re-exports the embedded database and hands the bytes to
// the snapshot store. Persistence failures are logged, not returned: the
// mutation itself already succeeded and durability is the collaborator's
// concern.
func (s *Session) persistSnapshot(ctx context.Context) {
	s.mu.Lock()
	embedded := s.embedded
	s.mu.Unlock()

	if embedded == nil || s.snaps == nil || embedded.SourcePath() == "" {
		return
	}

	data, err := embedded.ExportBytes(ctx)
	if err != nil {
		s.log.Warnf("snapshot export failed: %v", err)
		return
	}
	if err := s.snaps.Put(ctx, embedded.SourcePath(), data); err != nil {
		s.log.Warnf("snapshot persistence failed: %v", err)
		return
	}
	s.log.With().Str("source", embedded.SourcePath()).Int("bytes", len(data)).Logger().
		Debug("snapshot persisted")
}
