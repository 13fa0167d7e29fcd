package engine

import (
	"context"
	"strings"

	"github.com/dbglass/dbglass/internal/errs"
)

// fakeEngine records executed statements and fails on demand. It stands in
// for both adapters in tests that only exercise statement construction and
// control flow.
type fakeEngine struct {
	columns  map[string][]ColumnDescriptor
	executed []string
	failOn   func(sql string) error

	begun       int
	committed   int
	rolledBack  int
	commitErr   error
	beginErr    error
	rollbackErr error
}

func (f *fakeEngine) ExecuteRaw(ctx context.Context, sql string) (*QueryResult, error) {
	if f.failOn != nil {
		if err := f.failOn(sql); err != nil {
			return nil, err
		}
	}
	f.executed = append(f.executed, sql)
	return &QueryResult{}, nil
}

func (f *fakeEngine) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (f *fakeEngine) ListTables(ctx context.Context) ([]TableDescriptor, error) {
	tables := make([]TableDescriptor, 0, len(f.columns))
	for name := range f.columns {
		tables = append(tables, TableDescriptor{Name: name})
	}
	return tables, nil
}

func (f *fakeEngine) ListColumns(ctx context.Context, table string) ([]ColumnDescriptor, error) {
	cols, ok := f.columns[table]
	if !ok {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "unknown table %q", table)
	}
	return cols, nil
}

func (f *fakeEngine) Begin(ctx context.Context) (Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.begun++
	return &fakeTx{eng: f}, nil
}

func (f *fakeEngine) Ping(ctx context.Context) error { return nil }
func (f *fakeEngine) Close() error                   { return nil }

type fakeTx struct {
	eng *fakeEngine
}

func (t *fakeTx) ExecuteRaw(ctx context.Context, sql string) (*QueryResult, error) {
	return t.eng.ExecuteRaw(ctx, sql)
}

func (t *fakeTx) Commit(ctx context.Context) error {
	if t.eng.commitErr != nil {
		return t.eng.commitErr
	}
	t.eng.committed++
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.eng.rollbackErr != nil {
		return t.eng.rollbackErr
	}
	t.eng.rolledBack++
	return nil
}
