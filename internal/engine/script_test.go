package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "two statements",
			script: "CREATE TABLE t (id INT); INSERT INTO t VALUES (1)",
			want:   []string{"CREATE TABLE t (id INT)", "INSERT INTO t VALUES (1)"},
		},
		{
			name:   "trailing separator and blanks",
			script: "SELECT 1;;\n ;SELECT 2;",
			want:   []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:   "empty script",
			script: "  \n ",
			want:   []string{},
		},
		{
			// Documented heuristic behavior: separators inside string
			// literals split naively.
			name:   "semicolon inside literal",
			script: "INSERT INTO t VALUES ('a;b')",
			want:   []string{"INSERT INTO t VALUES ('a", "b')"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitStatements(tt.script))
		})
	}
}

func TestAffectedTable(t *testing.T) {
	tests := []struct {
		stmt string
		want string
	}{
		{"INSERT INTO users (id) VALUES (1)", "users"},
		{"insert into users values (1)", "users"},
		{"UPDATE orders SET total = 2", "orders"},
		{"DELETE FROM logs WHERE id = 1", "logs"},
		{"ALTER TABLE invoices ADD COLUMN note TEXT", "invoices"},
		{"CREATE TABLE IF NOT EXISTS cache (k TEXT)", "cache"},
		{"DROP TABLE IF EXISTS tmp", "tmp"},
		{"CREATE TABLE `order items` (id INT)", "order items"},
		{`UPDATE "Weird Name" SET x = 1`, "Weird Name"},
		{"SELECT * FROM users", ""},
		{"VACUUM", ""},
	}

	for _, tt := range tests {
		t.Run(tt.stmt, func(t *testing.T) {
			assert.Equal(t, tt.want, AffectedTable(tt.stmt))
		})
	}
}

func TestScriptRunner_EmptyScript(t *testing.T) {
	eng := &fakeEngine{}
	res := NewScriptRunner(eng, nil).Run(context.Background(), []string{" ", ""}, false)

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "no statements")
	assert.Empty(t, eng.executed)
}

func TestScriptRunner_NonTransactionalPartialFailure(t *testing.T) {
	eng := &fakeEngine{
		failOn: func(sql string) error {
			if strings.Contains(sql, "Bob") {
				return errors.New("UNIQUE constraint failed")
			}
			return nil
		},
	}

	res := NewScriptRunner(eng, nil).Run(context.Background(), []string{
		"INSERT INTO users (id,name) VALUES (3,'Ann')",
		"INSERT INTO users (id,name) VALUES (3,'Bob')",
		"INSERT INTO audit (id) VALUES (1)",
	}, false)

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "statement 2")
	// Successful statements keep accumulating affected tables.
	assert.Equal(t, []string{"users", "audit"}, res.AffectedTables)
	assert.Equal(t, 2, res.Executed)
	assert.Len(t, eng.executed, 2)
}

func TestScriptRunner_TransactionalRollback(t *testing.T) {
	eng := &fakeEngine{
		failOn: func(sql string) error {
			if strings.Contains(sql, "Bob") {
				return errors.New("UNIQUE constraint failed")
			}
			return nil
		},
	}

	res := NewScriptRunner(eng, nil).Run(context.Background(), []string{
		"INSERT INTO users (id,name) VALUES (3,'Ann')",
		"INSERT INTO users (id,name) VALUES (3,'Bob')",
	}, true)

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "rolled back")
	// Nothing persisted, so no affected tables or executed statements are
	// reported.
	assert.Empty(t, res.AffectedTables)
	assert.Zero(t, res.Executed)
	assert.Equal(t, 1, eng.rolledBack)
	assert.Zero(t, eng.committed)
}

func TestScriptRunner_TransactionalSuccess(t *testing.T) {
	eng := &fakeEngine{}

	res := NewScriptRunner(eng, nil).Run(context.Background(), []string{
		"CREATE TABLE t (id INT)",
		"INSERT INTO t VALUES (1)",
	}, true)

	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"t"}, res.AffectedTables)
	assert.Equal(t, 2, res.Executed)
	assert.Equal(t, 1, eng.committed)
	assert.Zero(t, eng.rolledBack)
}

func TestScriptRunner_CommitFailure(t *testing.T) {
	eng := &fakeEngine{
		commitErr:   errors.New("disk I/O error"),
		rollbackErr: errors.New("handle gone"),
	}

	res := NewScriptRunner(eng, nil).Run(context.Background(), []string{"INSERT INTO t VALUES (1)"}, true)

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	// The commit error is reported; the rollback failure is swallowed.
	assert.Contains(t, res.Errors[0], "commit failed")
	assert.Contains(t, res.Errors[0], "disk I/O error")
	assert.Empty(t, res.AffectedTables)
	assert.Zero(t, res.Executed)
}

func TestScriptRunner_BeginFailure(t *testing.T) {
	eng := &fakeEngine{beginErr: errors.New("no active connection")}

	res := NewScriptRunner(eng, nil).Run(context.Background(), []string{"SELECT 1"}, true)

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "begin")
	assert.Empty(t, eng.executed)
}

func TestScriptRunner_CountsStatementsTheExtractionMisses(t *testing.T) {
	// CREATE INDEX matches no extraction verb, but it still executed;
	// Executed is the signal that state changed, AffectedTables is not.
	eng := &fakeEngine{}

	res := NewScriptRunner(eng, nil).Run(context.Background(), []string{
		"CREATE INDEX idx_users_name ON users(name)",
	}, false)

	assert.True(t, res.Success)
	assert.Empty(t, res.AffectedTables)
	assert.Equal(t, 1, res.Executed)
}

func TestScriptRunner_DeduplicatesAffectedTables(t *testing.T) {
	eng := &fakeEngine{}

	res := NewScriptRunner(eng, nil).Run(context.Background(), []string{
		"INSERT INTO users (id) VALUES (1)",
		"INSERT INTO users (id) VALUES (2)",
	}, false)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"users"}, res.AffectedTables)
}
