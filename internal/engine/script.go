package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dbglass/dbglass/internal/logger"
)

// affectedTablePattern matches the canonical DDL/DML verbs followed by an
// identifier, optionally quoted with double quotes, backticks, or brackets.
// This is a documented heuristic for UI feedback, not SQL parsing: only the
// first match per statement counts, and statements the pattern misses
// simply report no affected table.
var affectedTablePattern = regexp.MustCompile(
	`(?i)\b(?:INSERT\s+INTO|UPDATE|DELETE\s+FROM|ALTER\s+TABLE|CREATE\s+TABLE(?:\s+IF\s+NOT\s+EXISTS)?|DROP\s+TABLE(?:\s+IF\s+EXISTS)?)\s+` +
		"(?:`([^`]+)`|\"([^\"]+)\"|\\[([^\\]]+)\\]|([A-Za-z_][A-Za-z0-9_.$]*))")

// SplitStatements splits a script on the statement terminator, trims each
// fragment, and drops empty ones.
//
// The split is naive: a semicolon inside a string literal also splits.
// Callers submitting such scripts must pre-split themselves.
func SplitStatements(script string) []string {
	parts := strings.Split(script, ";")
	statements := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			statements = append(statements, s)
		}
	}
	return statements
}

// AffectedTable extracts the table name targeted by a mutating statement,
// or "" when the statement does not match the heuristic.
func AffectedTable(stmt string) string {
	m := affectedTablePattern.FindStringSubmatch(stmt)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// ScriptRunner executes multi-statement scripts against one engine.
type ScriptRunner struct {
	eng Engine
	log *logger.Logger
}

// NewScriptRunner returns a ScriptRunner bound to eng.
func NewScriptRunner(eng Engine, log *logger.Logger) *ScriptRunner {
	if log == nil {
		log = logger.Nop()
	}
	return &ScriptRunner{eng: eng, log: log}
}

// Run executes statements in order and aggregates the outcome.
//
// In transactional mode all statements run inside one backend-native
// transaction: the first failure rolls everything back and the result
// carries a single aggregated error with no affected tables, because none
// of the effects persisted. In non-transactional mode a failure is recorded
// and execution continues, so AffectedTables and Errors both reflect
// partial progress.
//
// Statements run strictly sequentially — later ones may depend on earlier
// schema or data changes. Elapsed time is measured by the caller.
func (r *ScriptRunner) Run(ctx context.Context, statements []string, transactional bool) *BatchResult {
	stmts := make([]string, 0, len(statements))
	for _, s := range statements {
		if t := strings.TrimSpace(s); t != "" {
			stmts = append(stmts, t)
		}
	}
	if len(stmts) == 0 {
		return &BatchResult{Success: false, Errors: []string{"script contains no statements"}}
	}

	if transactional {
		return r.runTransactional(ctx, stmts)
	}
	return r.runSequential(ctx, stmts)
}

func (r *ScriptRunner) runTransactional(ctx context.Context, stmts []string) *BatchResult {
	tx, err := r.eng.Begin(ctx)
	if err != nil {
		return &BatchResult{Errors: []string{fmt.Sprintf("failed to begin transaction: %v", err)}}
	}

	result := &BatchResult{Success: true}

	for i, stmt := range stmts {
		if _, err := tx.ExecuteRaw(ctx, stmt); err != nil {
			r.rollback(ctx, tx)
			return &BatchResult{
				Errors: []string{fmt.Sprintf("statement %d failed, transaction rolled back: %v", i+1, err)},
			}
		}
		result.Executed++
		result.addAffectedTable(stmt)
	}

	if err := tx.Commit(ctx); err != nil {
		// A failed commit may leave the transaction open; roll back
		// best-effort and report the commit error, never the rollback's.
		r.rollback(ctx, tx)
		return &BatchResult{Errors: []string{fmt.Sprintf("commit failed: %v", err)}}
	}

	return result
}

func (r *ScriptRunner) runSequential(ctx context.Context, stmts []string) *BatchResult {
	result := &BatchResult{Success: true}

	for i, stmt := range stmts {
		if _, err := r.eng.ExecuteRaw(ctx, stmt); err != nil {
			result.Success = false
			result.Errors = append(result.Errors, fmt.Sprintf("statement %d failed: %v", i+1, err))
			continue
		}
		result.Executed++
		result.addAffectedTable(stmt)
	}

	return result
}

// rollback attempts a rollback and swallows its error. The rollback error
// is logged so it never masks the failure that triggered it.
func (r *ScriptRunner) rollback(ctx context.Context, tx Tx) {
	if err := tx.Rollback(ctx); err != nil {
		r.log.Warnf("rollback failed: %v", err)
	}
}

func (b *BatchResult) addAffectedTable(stmt string) {
	table := AffectedTable(stmt)
	if table == "" {
		return
	}
	for _, t := range b.AffectedTables {
		if t == table {
			return
		}
	}
	b.AffectedTables = append(b.AffectedTables, table)
}
