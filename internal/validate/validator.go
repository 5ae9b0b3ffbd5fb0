// Package validate is the safety boundary between model-generated SQL and
// the store. It works on PostgreSQL's actual parse tree, never on substring
// matching, so obfuscated writes cannot slip through and identifiers that
// merely contain a keyword are not falsely rejected.
package validate

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/classchat/classchat/internal/schema"
)

// Reason is a rejection reason code
type Reason string

const (
	ReasonWriteOperation    Reason = "write-operation"
	ReasonUnknownIdentifier Reason = "unknown-identifier"
	ReasonMultiStatement    Reason = "multi-statement"
	ReasonEmptyStatement    Reason = "empty-statement"
	ReasonUnparseable       Reason = "unparseable"
)

// Verdict is the outcome of validating one candidate query. An accepted
// verdict carries the SQL to execute, which may differ from the input when a
// row cap was injected.
type Verdict struct {
	Accepted bool
	// SQL is the statement to execute; set only when Accepted.
	SQL string
	// Capped reports that a LIMIT clause was injected.
	Capped bool
	Reason Reason
	Detail string
}

func rejected(reason Reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

// Validator checks candidate queries against the schema descriptor
type Validator struct {
	largeTableThreshold int64
	rowCap              int
}

// NewValidator creates a validator. Queries touching tables whose row
// estimate exceeds largeTableThreshold get a LIMIT of rowCap injected when
// they carry none of their own.
func NewValidator(largeTableThreshold int64, rowCap int) *Validator {
	return &Validator{
		largeTableThreshold: largeTableThreshold,
		rowCap:              rowCap,
	}
}

// Validate inspects a single candidate statement. It never executes SQL.
func (v *Validator) Validate(sqlText string, desc *schema.Descriptor) Verdict {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return rejected(ReasonEmptyStatement, "statement is empty")
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return rejected(ReasonUnparseable, err.Error())
	}

	if len(tree.Stmts) == 0 {
		return rejected(ReasonEmptyStatement, "statement is empty")
	}

	if len(tree.Stmts) > 1 {
		return rejected(ReasonMultiStatement,
			fmt.Sprintf("%d statements found, only one is allowed", len(tree.Stmts)))
	}

	stmt := tree.Stmts[0].Stmt
	if stmt == nil {
		return rejected(ReasonEmptyStatement, "statement is empty")
	}

	sel := stmt.GetSelectStmt()
	if sel == nil {
		return rejected(ReasonWriteOperation, "only SELECT statements are allowed")
	}

	if sel.IntoClause != nil {
		return rejected(ReasonWriteOperation, "SELECT INTO creates a table")
	}

	refs := collectReferences(stmt)

	// A data-modifying statement can hide inside a CTE of a SELECT.
	if refs.hasWrite {
		return rejected(ReasonWriteOperation, "statement contains a data-modifying clause")
	}

	if verdict, ok := checkIdentifiers(refs, desc); !ok {
		return verdict
	}

	capped := false

	if v.needsRowCap(sel, refs, desc) {
		rewritten, err := injectLimit(tree, sel, v.rowCap)
		if err != nil {
			// Deparse failed; wrap instead of rejecting.
			rewritten = wrapWithCap(trimmed, v.rowCap)
		}

		trimmed = rewritten
		capped = true
	}

	return Verdict{Accepted: true, SQL: trimmed, Capped: capped}
}

// checkIdentifiers resolves table and column references against the schema
func checkIdentifiers(refs *references, desc *schema.Descriptor) (Verdict, bool) {
	for _, rv := range refs.rangeVars {
		if refs.virtualSources[strings.ToLower(rv.Relname)] {
			continue
		}

		if _, ok := desc.Table(rv.Relname); !ok {
			return rejected(ReasonUnknownIdentifier,
				fmt.Sprintf("unknown table %q", rv.Relname)), false
		}
	}

	aliasToTable := make(map[string]string)

	for _, rv := range refs.rangeVars {
		if refs.virtualSources[strings.ToLower(rv.Relname)] {
			continue
		}

		if rv.Alias != nil && rv.Alias.Aliasname != "" {
			aliasToTable[strings.ToLower(rv.Alias.Aliasname)] = rv.Relname
		}
	}

	for _, cr := range refs.columnRefs {
		qualifier, column, ok := splitColumnRef(cr)
		if !ok {
			continue // star or expression field
		}

		if qualifier != "" {
			if refs.virtualSources[strings.ToLower(qualifier)] {
				continue // column of a CTE or subquery, not checkable here
			}

			table := qualifier
			if mapped, ok := aliasToTable[strings.ToLower(qualifier)]; ok {
				table = mapped
			}

			if _, known := desc.Table(table); !known {
				return rejected(ReasonUnknownIdentifier,
					fmt.Sprintf("unknown table or alias %q", qualifier)), false
			}

			if !desc.HasColumn(table, column) {
				return rejected(ReasonUnknownIdentifier,
					fmt.Sprintf("unknown column %q in table %q", column, table)), false
			}

			continue
		}

		// Unqualified references cannot be resolved once CTEs or
		// subqueries are in play; scope tracking would be needed.
		if len(refs.virtualSources) > 0 {
			continue
		}

		// Output aliases are legal in GROUP BY and ORDER BY.
		if refs.outputAliases[strings.ToLower(column)] {
			continue
		}

		if !columnInReferencedTables(refs, desc, column) {
			return rejected(ReasonUnknownIdentifier,
				fmt.Sprintf("unknown column %q", column)), false
		}
	}

	return Verdict{}, true
}

func columnInReferencedTables(refs *references, desc *schema.Descriptor, column string) bool {
	for _, rv := range refs.rangeVars {
		if desc.HasColumn(rv.Relname, column) {
			return true
		}
	}

	return false
}

// needsRowCap reports whether the statement should get a LIMIT injected
func (v *Validator) needsRowCap(sel *pg_query.SelectStmt, refs *references, desc *schema.Descriptor) bool {
	if sel.LimitCount != nil {
		return false
	}

	for _, rv := range refs.rangeVars {
		if refs.virtualSources[strings.ToLower(rv.Relname)] {
			continue
		}

		if t, ok := desc.Table(rv.Relname); ok && t.RowEstimate > v.largeTableThreshold {
			return true
		}
	}

	return false
}

// wrapWithCap bounds a statement by wrapping it in a capped subquery. A
// trailing semicolon must not survive into the subquery.
func wrapWithCap(sqlText string, rowCap int) string {
	sqlText = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"))

	return fmt.Sprintf("SELECT * FROM (%s) AS _capped LIMIT %d", sqlText, rowCap)
}

// injectLimit mutates the top-level select's limit and deparses the tree
func injectLimit(tree *pg_query.ParseResult, sel *pg_query.SelectStmt, rowCap int) (string, error) {
	sel.LimitCount = pg_query.MakeAConstIntNode(int64(rowCap), -1)
	sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_COUNT

	return pg_query.Deparse(tree)
}

// splitColumnRef extracts (qualifier, column) from a ColumnRef. The last
// string field is the column, the one before it the table or alias.
func splitColumnRef(cr *pg_query.ColumnRef) (qualifier, column string, ok bool) {
	var names []string

	for _, f := range cr.Fields {
		if f.GetAStar() != nil {
			return "", "", false
		}

		if s := f.GetString_(); s != nil {
			names = append(names, s.Sval)
		}
	}

	switch len(names) {
	case 0:
		return "", "", false
	case 1:
		return "", names[0], true
	default:
		// schema-qualified refs use the last two parts
		return names[len(names)-2], names[len(names)-1], true
	}
}

// references is everything identifier-relevant found in one parse tree
type references struct {
	rangeVars  []*pg_query.RangeVar
	columnRefs []*pg_query.ColumnRef
	// virtualSources holds lowercased CTE names and subquery aliases;
	// range vars and qualifiers resolving to these are not real tables.
	virtualSources map[string]bool
	// outputAliases holds lowercased select-list aliases (AS names), which
	// GROUP BY and ORDER BY may reference without a table column existing.
	outputAliases map[string]bool
	hasWrite      bool
}

// collectReferences walks the whole parse tree via protobuf reflection,
// which covers every expression position without enumerating node types.
func collectReferences(root *pg_query.Node) *references {
	refs := &references{
		virtualSources: make(map[string]bool),
		outputAliases:  make(map[string]bool),
	}

	walk(root.ProtoReflect(), func(msg any) {
		switch n := msg.(type) {
		case *pg_query.RangeVar:
			refs.rangeVars = append(refs.rangeVars, n)
		case *pg_query.ColumnRef:
			refs.columnRefs = append(refs.columnRefs, n)
		case *pg_query.CommonTableExpr:
			refs.virtualSources[strings.ToLower(n.Ctename)] = true
		case *pg_query.RangeSubselect:
			if n.Alias != nil {
				refs.virtualSources[strings.ToLower(n.Alias.Aliasname)] = true
			}
		case *pg_query.RangeFunction:
			if n.Alias != nil {
				refs.virtualSources[strings.ToLower(n.Alias.Aliasname)] = true
			}
		case *pg_query.ResTarget:
			if n.Name != "" {
				refs.outputAliases[strings.ToLower(n.Name)] = true
			}
		case *pg_query.InsertStmt, *pg_query.UpdateStmt, *pg_query.DeleteStmt, *pg_query.MergeStmt:
			refs.hasWrite = true
		}
	})

	return refs
}

// walk visits every message reachable from m, depth-first
func walk(m protoreflect.Message, visit func(any)) {
	visit(m.Interface())

	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsList():
			if fd.Kind() != protoreflect.MessageKind {
				return true
			}

			list := v.List()
			for i := 0; i < list.Len(); i++ {
				walk(list.Get(i).Message(), visit)
			}
		case fd.IsMap():
			// no map fields in the pg_query tree
		case fd.Kind() == protoreflect.MessageKind:
			walk(v.Message(), visit)
		}

		return true
	})
}
