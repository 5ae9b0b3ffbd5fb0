// Package schema introspects the school database and renders a compact,
// deterministic textual description used in model prompts.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ForeignRef identifies the column a foreign key points at
type ForeignRef struct {
	Table  string
	Column string
}

// Column describes one column of a table
type Column struct {
	Name       string
	DataType   string
	Nullable   bool
	PrimaryKey bool
	Ref        *ForeignRef
}

// Table describes one table: columns in declaration order plus a row
// estimate from table statistics
type Table struct {
	Name        string
	Columns     []Column
	RowEstimate int64
}

// Descriptor is the full schema snapshot for one database. Tables are kept
// sorted by name so the rendering is stable. A descriptor is read-only once
// built.
type Descriptor struct {
	Tables []Table
}

// sortTables orders tables by name; column order is left as declared
func (d *Descriptor) sortTables() {
	sort.Slice(d.Tables, func(i, j int) bool {
		return d.Tables[i].Name < d.Tables[j].Name
	})
}

// Table looks up a table by name. Matching is case-insensitive because
// PostgreSQL folds unquoted identifiers to lowercase.
func (d *Descriptor) Table(name string) (*Table, bool) {
	for i := range d.Tables {
		if strings.EqualFold(d.Tables[i].Name, name) {
			return &d.Tables[i], true
		}
	}

	return nil, false
}

// HasColumn reports whether the named table has the named column
func (d *Descriptor) HasColumn(table, column string) bool {
	t, ok := d.Table(table)
	if !ok {
		return false
	}

	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, column) {
			return true
		}
	}

	return false
}

// HasAnyColumn reports whether any table has the named column. Used for
// unqualified column references.
func (d *Descriptor) HasAnyColumn(column string) bool {
	for _, t := range d.Tables {
		for _, c := range t.Columns {
			if strings.EqualFold(c.Name, column) {
				return true
			}
		}
	}

	return false
}

// Render produces the textual schema description injected into prompts.
// The output is deterministic: tables sorted by name, columns in declaration
// order, so an unchanged schema always renders byte-identically.
func (d *Descriptor) Render() string {
	var sb strings.Builder

	for _, t := range d.Tables {
		sb.WriteString(fmt.Sprintf("Table: %s (~%d rows)\n", t.Name, t.RowEstimate))

		for _, c := range t.Columns {
			sb.WriteString(fmt.Sprintf("  - %s %s", c.Name, c.DataType))

			if !c.Nullable {
				sb.WriteString(" NOT NULL")
			}

			if c.PrimaryKey {
				sb.WriteString(" PRIMARY KEY")
			}

			if c.Ref != nil {
				sb.WriteString(fmt.Sprintf(" REFERENCES %s(%s)", c.Ref.Table, c.Ref.Column))
			}

			sb.WriteString("\n")
		}

		sb.WriteString("\n")
	}

	return sb.String()
}
