package sqlite

import (
	"context"
	"testing"

	"github.com/dbglass/dbglass/internal/engine"
	"github.com/dbglass/dbglass/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// usersDB builds the canonical two-row fixture and returns its serialized
// bytes, exercising the create → export path.
func usersDB(t *testing.T) []byte {
	t.Helper()
	ctx := context.Background()

	d, err := Open(ctx, nil, "")
	require.NoError(t, err)
	defer d.Close()

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO users (id, name) VALUES (1, 'Ann')`,
		`INSERT INTO users (id, name) VALUES (2, 'Bob')`,
	} {
		_, err := d.ExecuteRaw(ctx, stmt)
		require.NoError(t, err)
	}

	data, err := d.ExportBytes(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	return data
}

func openUsers(t *testing.T) *Driver {
	t.Helper()
	d, err := Open(context.Background(), usersDB(t), "/home/me/users.db")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_RejectsGarbageBuffer(t *testing.T) {
	_, err := Open(context.Background(), []byte("this is not a database"), "bad.db")

	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err), "malformed buffer must be a validation error, got %v", err)
}

func TestOpen_EmptyBufferCreatesFreshDatabase(t *testing.T) {
	d, err := Open(context.Background(), nil, "")
	require.NoError(t, err)
	defer d.Close()

	tables, err := d.ListTables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tables)
	assert.Equal(t, "", d.SourcePath())
}

func TestListTablesAndColumns(t *testing.T) {
	d := openUsers(t)
	ctx := context.Background()

	tables, err := d.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "users", tables[0].Name)
	assert.Contains(t, tables[0].Definition, "CREATE TABLE")

	cols, err := d.ListColumns(ctx, "users")
	require.NoError(t, err)
	require.Len(t, cols, 2)

	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "INTEGER", cols[0].DataType)
	assert.True(t, cols[0].PrimaryKey)

	assert.Equal(t, "name", cols[1].Name)
	assert.True(t, cols[1].NotNull)
	assert.False(t, cols[1].PrimaryKey)
}

func TestListColumns_UnknownTable(t *testing.T) {
	d := openUsers(t)

	cols, err := d.ListColumns(context.Background(), "ghosts")
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestExecuteRaw_SelectAndMutate(t *testing.T) {
	d := openUsers(t)
	ctx := context.Background()

	res, err := d.ExecuteRaw(ctx, `SELECT id, name FROM users ORDER BY id`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.EqualValues(t, 1, res.Rows[0]["id"])
	assert.Equal(t, "Ann", res.Rows[0]["name"])

	res, err = d.ExecuteRaw(ctx, `DELETE FROM users WHERE id = 2`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.RowsAffected)
}

func TestExecuteRaw_SyntaxErrorIsQueryFailure(t *testing.T) {
	d := openUsers(t)

	_, err := d.ExecuteRaw(context.Background(), `SELEC broken`)
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
}

func TestExecuteRaw_AfterClose(t *testing.T) {
	d := openUsers(t)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close(), "close must be idempotent")

	_, err := d.ExecuteRaw(context.Background(), `SELECT 1`)
	require.Error(t, err)
	assert.True(t, errs.IsConnectionFailed(err))
}

func TestExportBytes_RoundTrip(t *testing.T) {
	d := openUsers(t)
	ctx := context.Background()

	_, err := d.ExecuteRaw(ctx, `INSERT INTO users (id, name) VALUES (3, 'O''Hara')`)
	require.NoError(t, err)

	data, err := d.ExportBytes(ctx)
	require.NoError(t, err)

	reopened, err := Open(ctx, data, "/tmp/copy.db")
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, "/tmp/copy.db", reopened.SourcePath())

	res, err := reopened.ExecuteRaw(ctx, `SELECT name FROM users WHERE id = 3`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "O'Hara", res.Rows[0]["name"])
}

func TestScript_TransactionalAtomicity(t *testing.T) {
	d := openUsers(t)
	ctx := context.Background()

	res := engine.NewScriptRunner(d, nil).Run(ctx, []string{
		`INSERT INTO users (id, name) VALUES (3, 'Ann')`,
		`INSERT INTO users (id, name) VALUES (3, 'Bob')`, // PK violation
	}, true)

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Empty(t, res.AffectedTables)

	// All-or-nothing: the first insert must not have persisted.
	qr, err := d.ExecuteRaw(ctx, `SELECT count(*) AS n FROM users WHERE id = 3`)
	require.NoError(t, err)
	assert.EqualValues(t, 0, qr.Rows[0]["n"])
}

func TestScript_NonTransactionalPartialApplication(t *testing.T) {
	d := openUsers(t)
	ctx := context.Background()

	res := engine.NewScriptRunner(d, nil).Run(ctx, []string{
		`INSERT INTO users (id, name) VALUES (3, 'Ann')`,
		`INSERT INTO users (id, name) VALUES (3, 'Bob')`,
	}, false)

	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, []string{"users"}, res.AffectedTables)

	qr, err := d.ExecuteRaw(ctx, `SELECT name FROM users WHERE id = 3`)
	require.NoError(t, err)
	require.Len(t, qr.Rows, 1)
	assert.Equal(t, "Ann", qr.Rows[0]["name"])
}

func TestUpdateRow_AgainstLiveBackend(t *testing.T) {
	d := openUsers(t)
	ctx := context.Background()

	err := engine.UpdateRow(ctx, d, "users",
		engine.Row{"id": int64(1), "name": "Ann"},
		engine.Row{"id": int64(1), "name": "Annika"},
	)
	require.NoError(t, err)

	qr, err := d.ExecuteRaw(ctx, `SELECT name FROM users WHERE id = 1`)
	require.NoError(t, err)
	assert.Equal(t, "Annika", qr.Rows[0]["name"])
}

func TestDeleteRows_AgainstLiveBackend(t *testing.T) {
	d := openUsers(t)
	ctx := context.Background()

	err := engine.DeleteRows(ctx, d, "users", "id", []any{"1", "2"})
	require.NoError(t, err)

	qr, err := d.ExecuteRaw(ctx, `SELECT count(*) AS n FROM users`)
	require.NoError(t, err)
	assert.EqualValues(t, 0, qr.Rows[0]["n"])
}

func TestEncodeLiteral_QuoteRoundTripThroughBackend(t *testing.T) {
	d := openUsers(t)
	ctx := context.Background()

	tricky := `Robert'); DROP TABLE users;--`
	stmt := `INSERT INTO users (id, name) VALUES (9, ` + engine.EncodeLiteral(tricky) + `)`
	_, err := d.ExecuteRaw(ctx, stmt)
	require.NoError(t, err)

	// The payload must come back verbatim and the table must survive.
	qr, err := d.ExecuteRaw(ctx, `SELECT name FROM users WHERE id = 9`)
	require.NoError(t, err)
	require.Len(t, qr.Rows, 1)
	assert.Equal(t, tricky, qr.Rows[0]["name"])

	tables, err := d.ListTables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "users", tables[0].Name)
}
