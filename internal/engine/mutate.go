package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dbglass/dbglass/internal/errs"
)

// primaryKeyColumn returns the single primary-key column of table.
// Tables with zero or composite primary keys are rejected: mutations derive
// their WHERE clause from exactly one verified key column, and guessing
// would risk corrupting unrelated rows.
func primaryKeyColumn(ctx context.Context, eng Engine, table string) (*ColumnDescriptor, error) {
	columns, err := eng.ListColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "table %q does not exist or has no columns", table)
	}

	var pk *ColumnDescriptor
	for i := range columns {
		if !columns[i].PrimaryKey {
			continue
		}
		if pk != nil {
			return nil, errs.Newf(errs.ErrKindInvalidInput,
				"table %q has a composite primary key; row mutations require a single key column", table)
		}
		pk = &columns[i]
	}
	if pk == nil {
		return nil, errs.Newf(errs.ErrKindInvalidInput,
			"table %q has no primary key; row mutations require one", table)
	}
	return pk, nil
}

// UpdateRow updates the row identified by oldRow's primary-key value so its
// non-key columns match newRow. Columns whose encoded value did not change
// are left out of the SET clause; if nothing changed at all, UpdateRow
// succeeds without issuing any SQL.
func UpdateRow(ctx context.Context, eng Engine, table string, oldRow, newRow Row) error {
	pk, err := primaryKeyColumn(ctx, eng, table)
	if err != nil {
		return err
	}

	// Compare by encoded literal: equal literals produce the identical
	// statement effect, which is the equality that matters here.
	changed := make([]string, 0, len(newRow))
	for col, nv := range newRow {
		if col == pk.Name {
			continue
		}
		if ov, ok := oldRow[col]; !ok || EncodeLiteral(ov) != EncodeLiteral(nv) {
			changed = append(changed, col)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	sort.Strings(changed)

	pkValue, ok := oldRow[pk.Name]
	if !ok {
		return errs.Newf(errs.ErrKindInvalidInput,
			"old row is missing a value for primary key column %q", pk.Name)
	}

	assignments := make([]string, len(changed))
	for i, col := range changed {
		assignments[i] = fmt.Sprintf("%s = %s", eng.QuoteIdentifier(col), EncodeLiteral(newRow[col]))
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		eng.QuoteIdentifier(table),
		strings.Join(assignments, ", "),
		eng.QuoteIdentifier(pk.Name),
		EncodeLiteral(pkValue),
	)

	_, err = eng.ExecuteRaw(ctx, stmt)
	return err
}

// DeleteRows deletes the rows of table whose primary-key value is in ids.
// pkColumn must name the table's single primary-key column; passing any
// other column is rejected before SQL is issued.
func DeleteRows(ctx context.Context, eng Engine, table, pkColumn string, ids []any) error {
	pk, err := primaryKeyColumn(ctx, eng, table)
	if err != nil {
		return err
	}
	if pk.Name != pkColumn {
		return errs.Newf(errs.ErrKindInvalidInput,
			"column %q is not the primary key of table %q (expected %q)", pkColumn, table, pk.Name)
	}
	if len(ids) == 0 {
		return nil
	}

	encoded := make([]string, len(ids))
	for i, id := range ids {
		encoded[i] = EncodeLiteral(id)
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		eng.QuoteIdentifier(table),
		eng.QuoteIdentifier(pk.Name),
		strings.Join(encoded, ", "),
	)

	_, err = eng.ExecuteRaw(ctx, stmt)
	return err
}
