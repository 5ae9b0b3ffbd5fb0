package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/classchat/classchat/internal/errors"
)

// Introspector reads table, column, and foreign-key metadata from the store
type Introspector struct {
	db *sql.DB
}

// NewIntrospector creates an introspector over the given connection
func NewIntrospector(db *sql.DB) *Introspector {
	return &Introspector{db: db}
}

// Describe builds a full schema descriptor. It fails with a connection error
// when the store is unreachable and a schema error when the metadata is
// inconsistent (for example a foreign key pointing at a missing table).
func (in *Introspector) Describe(ctx context.Context) (*Descriptor, error) {
	tables, err := in.fetchTables(ctx)
	if err != nil {
		return nil, err
	}

	desc := &Descriptor{Tables: tables}

	for i := range desc.Tables {
		t := &desc.Tables[i]

		t.Columns, err = in.fetchColumns(ctx, t.Name)
		if err != nil {
			return nil, err
		}

		if err := in.markPrimaryKeys(ctx, t); err != nil {
			return nil, err
		}

		if err := in.applyForeignKeys(ctx, t); err != nil {
			return nil, err
		}
	}

	if err := checkForeignKeyTargets(desc); err != nil {
		return nil, err
	}

	desc.sortTables()

	return desc, nil
}

func (in *Introspector) fetchTables(ctx context.Context) ([]Table, error) {
	rows, err := in.db.QueryContext(ctx, queryTables)
	if err != nil {
		return nil, errors.NewConnectionError("failed to list tables", err)
	}
	defer rows.Close()

	var tables []Table

	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name, &t.RowEstimate); err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeSchema, "failed to scan table metadata")
		}

		tables = append(tables, t)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSchema, "failed to read table metadata")
	}

	return tables, nil
}

func (in *Introspector) fetchColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := in.db.QueryContext(ctx, queryColumns, table)
	if err != nil {
		return nil, errors.NewConnectionError("failed to list columns", err)
	}
	defer rows.Close()

	var cols []Column

	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable); err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeSchema, "failed to scan column metadata for %q", table)
		}

		cols = append(cols, c)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeSchema, "failed to read column metadata")
	}

	return cols, nil
}

func (in *Introspector) markPrimaryKeys(ctx context.Context, t *Table) error {
	rows, err := in.db.QueryContext(ctx, queryPrimaryKeys, t.Name)
	if err != nil {
		return errors.NewConnectionError("failed to list primary keys", err)
	}
	defer rows.Close()

	pkCols := make(map[string]bool)

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return errors.Wrap(err, errors.ErrTypeSchema, "failed to scan primary key metadata")
		}

		pkCols[name] = true
	}

	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrTypeSchema, "failed to read primary key metadata")
	}

	for i := range t.Columns {
		if pkCols[t.Columns[i].Name] {
			t.Columns[i].PrimaryKey = true
		}
	}

	return nil
}

func (in *Introspector) applyForeignKeys(ctx context.Context, t *Table) error {
	rows, err := in.db.QueryContext(ctx, queryForeignKeys, t.Name)
	if err != nil {
		return errors.NewConnectionError("failed to list foreign keys", err)
	}
	defer rows.Close()

	refs := make(map[string]ForeignRef)

	for rows.Next() {
		var (
			column string
			ref    ForeignRef
		)

		if err := rows.Scan(&column, &ref.Table, &ref.Column); err != nil {
			return errors.Wrap(err, errors.ErrTypeSchema, "failed to scan foreign key metadata")
		}

		refs[column] = ref
	}

	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrTypeSchema, "failed to read foreign key metadata")
	}

	for i := range t.Columns {
		if ref, ok := refs[t.Columns[i].Name]; ok {
			r := ref
			t.Columns[i].Ref = &r
		}
	}

	return nil
}

// checkForeignKeyTargets enforces the descriptor invariant: every foreign-key
// target resolves to a table present in the same descriptor.
func checkForeignKeyTargets(desc *Descriptor) error {
	for _, t := range desc.Tables {
		for _, c := range t.Columns {
			if c.Ref == nil {
				continue
			}

			if _, ok := desc.Table(c.Ref.Table); !ok {
				return errors.Newf(errors.ErrTypeSchema,
					"foreign key %s.%s references unknown table %q", t.Name, c.Name, c.Ref.Table)
			}
		}
	}

	return nil
}

// Counts returns the exact row count per table, sorted by table name.
// Backing data for the stats command.
func (in *Introspector) Counts(ctx context.Context, desc *Descriptor) (map[string]int64, error) {
	counts := make(map[string]int64, len(desc.Tables))

	for _, t := range desc.Tables {
		var n int64

		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(t.Name))
		if err := in.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, errors.ErrTypeExecution, "failed to count rows in %q", t.Name)
		}

		counts[t.Name] = n
	}

	return counts, nil
}

// SampleRows returns up to limit rows from a table known to the descriptor.
// The table name is checked against the descriptor before being interpolated,
// so arbitrary identifiers never reach the store.
func (in *Introspector) SampleRows(
	ctx context.Context,
	desc *Descriptor,
	table string,
	limit int,
) ([]string, [][]string, error) {
	t, ok := desc.Table(table)
	if !ok {
		return nil, nil, errors.Newf(errors.ErrTypeValidation, "unknown table %q", table)
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(t.Name), limit)

	rows, err := in.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, errors.Wrapf(err, errors.ErrTypeExecution, "failed to sample %q", t.Name)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrTypeExecution, "failed to read sample columns")
	}

	var out [][]string

	for rows.Next() {
		values := make([]any, len(columns))
		for i := range values {
			values[i] = new(sql.NullString)
		}

		if err := rows.Scan(values...); err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrTypeExecution, "failed to scan sample row")
		}

		row := make([]string, len(columns))

		for i, v := range values {
			ns := v.(*sql.NullString)
			if ns.Valid {
				row[i] = ns.String
			} else {
				row[i] = "NULL"
			}
		}

		out = append(out, row)
	}

	return columns, out, rows.Err()
}

// quoteIdent double-quotes an identifier for safe interpolation
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
