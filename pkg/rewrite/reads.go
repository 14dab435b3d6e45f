// SPDX-License-Identifier: Apache-2.0

package rewrite

import (
	"fmt"
	"strings"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/sqlparse"
	"github.com/lixdb/lix/pkg/statevtable"
)

// Rewriter is the stateful entry point into the rewrite engine: one
// instance per engine, parameterized by the physical dialect and a lookup
// for stored/built-in schemas.
type Rewriter struct {
	Dialect backend.SQLDialect
	Schemas SchemaLookup
}

// RewriteRead rewrites a SELECT against one of lix's logical views into a
// physical query over canonical base tables. Passes are tried in the fixed
// order spec.md §4.C specifies; each is a no-op unless its relation
// matches.
func (rw *Rewriter) RewriteRead(sel *sqlparse.SelectStatement) (*LogicalPlan, error) {
	switch sel.Relation {
	case ViewVersion:
		return rw.readBuiltinTable(sel, "lix_internal_version")
	case ViewActiveAccount:
		return rw.readBuiltinTable(sel, "lix_internal_active_account")
	case ViewActiveVersion:
		return rw.readBuiltinTable(sel, "lix_internal_active_version")
	case ViewStateByVersion:
		return rw.readStateProjection(sel, projectionByVersion)
	case ViewState:
		return rw.readStateProjection(sel, projectionActiveVersion)
	case ViewWorkingChanges:
		return rw.readWorkingChanges(sel)
	case InternalStateVtable:
		return rw.readBuiltinTable(sel, "lix_internal_state_vtable")
	}

	if schemaKey, variant, ok := ParseEntityView(sel.Relation); ok {
		return rw.readEntityView(sel, schemaKey, variant)
	}

	return nil, fmt.Errorf("rewrite: %q is not a recognized lix view", sel.Relation)
}

func (rw *Rewriter) readBuiltinTable(sel *sqlparse.SelectStatement, table string) (*LogicalPlan, error) {
	sql, params := physicalSelectSQL(table, sel)
	return &LogicalPlan{
		PreparedStatements: []PhysicalStatement{{SQL: sql, Params: params}},
		ResultContract:     ResultSelect,
	}, nil
}

type projectionScope int

const (
	projectionByVersion projectionScope = iota
	projectionActiveVersion
)

// readStateProjection builds the physical SQL for lix_state_by_version and
// lix_state: a union of the untracked overlay and the materialized tracked
// layer, resolved through the inheritance chain, with optional schema-key
// narrowing and a COUNT(*) fast path (spec.md §4.B).
func (rw *Rewriter) readStateProjection(sel *sqlparse.SelectStatement, scope projectionScope) (*LogicalPlan, error) {
	pd := Pushdown{Narrowable: true}
	if sel.Where != nil {
		pd = CollectPushdown(sel.Where)
	}

	narrowedSchemas := pd.Equalities["schema_key"]
	countFastPath := sel.IsCountStar

	sql := rw.buildStateProjectionSQL(scope, narrowedSchemas, countFastPath)

	var params []backend.Value
	return &LogicalPlan{
		PreparedStatements: []PhysicalStatement{{SQL: sql, Params: params}},
		ResultContract:     ResultSelect,
	}, nil
}

// buildStateProjectionSQL delegates to pkg/statevtable for the actual
// merge-and-inherit query (spec.md §4.B), narrowing the materialized source
// to the referenced schema's table when the WHERE clause pins schema_key.
func (rw *Rewriter) buildStateProjectionSQL(scope projectionScope, narrowedSchemas []sqlparse.Expr, countFastPath bool) string {
	vtScope := statevtable.ScopeAllVersions
	if scope == projectionActiveVersion {
		vtScope = statevtable.ScopeActiveVersion
	}

	var source string
	if len(narrowedSchemas) == 1 {
		if lit, ok := narrowedSchemas[0].(sqlparse.Literal); ok {
			source = statevtable.PerSchemaMaterializedTable(lit.Text)
		}
	}

	return statevtable.BuildQuery(statevtable.Options{
		Scope:              vtScope,
		MaterializedSource: source,
		CountStar:          countFastPath,
	})
}

func (rw *Rewriter) readWorkingChanges(sel *sqlparse.SelectStatement) (*LogicalPlan, error) {
	sql := `
SELECT c.entity_id, c.schema_key, c.file_id, c.snapshot_content, c.change_id
FROM lix_internal_change c
JOIN lix_internal_change_set_element e ON e.change_id = c.change_id
JOIN lix_internal_version v ON v.working_commit_id = (
  SELECT commit_id FROM lix_internal_commit WHERE change_set_id = e.change_set_id
)
WHERE v.version_id = (SELECT version_id FROM lix_internal_active_version)`
	return &LogicalPlan{
		PreparedStatements: []PhysicalStatement{{SQL: sql}},
		ResultContract:     ResultSelect,
	}, nil
}

// readEntityView builds the derived select for a `lix_<schema>[...]` entity
// view: the merged state projection's columns plus lixcol_* aliases
// (spec.md §4.C pass 4). Schema properties are not extracted into columns
// of their own; they stay inside snapshot_content.
func (rw *Rewriter) readEntityView(sel *sqlparse.SelectStatement, schemaKey string, variant EntityViewVariant) (*LogicalPlan, error) {
	target, err := rw.Schemas.Resolve(schemaKey)
	if err != nil {
		return nil, err
	}

	scope := projectionActiveVersion
	if variant == VariantByVersion {
		scope = projectionByVersion
	}

	inner := rw.buildStateProjectionSQL(scope, []sqlparse.Expr{sqlparse.Literal{Kind: sqlparse.LiteralString, Text: schemaKey}}, false)

	sql := fmt.Sprintf("SELECT s.*, %s FROM (%s) s WHERE s.schema_key = '%s'", lixcolProjection(target), inner, schemaKey)
	return &LogicalPlan{
		PreparedStatements: []PhysicalStatement{{SQL: sql}},
		ResultContract:     ResultSelect,
	}, nil
}

func lixcolProjection(target *SchemaTarget) string {
	return "s.entity_id AS lixcol_entity_id, s.version_id AS lixcol_version_id, s.change_id AS lixcol_change_id, s.commit_id AS lixcol_commit_id, s.inherited_from_version_id AS lixcol_inherited_from_version_id, s.writer_key AS lixcol_writer_key, s.untracked AS lixcol_untracked"
}

// physicalSelectSQL renders a plain (non-state) SELECT unchanged beyond
// identifier mapping onto its physical table name.
func physicalSelectSQL(table string, sel *sqlparse.SelectStatement) (string, []backend.Value) {
	cols := "*"
	if len(sel.Columns) > 0 && !sel.IsCountStar {
		names := make([]string, len(sel.Columns))
		for i, c := range sel.Columns {
			names[i] = exprSQL(c.Expr)
		}
		cols = strings.Join(names, ", ")
	}
	if sel.IsCountStar {
		cols = "COUNT(*)"
	}
	sql := fmt.Sprintf("SELECT %s FROM %s", cols, table)
	if sel.Where != nil {
		sql += " WHERE " + exprSQL(sel.Where)
	}
	return sql, nil
}

func exprSQL(e sqlparse.Expr) string {
	switch v := e.(type) {
	case sqlparse.ColumnRef:
		if v.Qualifier != "" {
			return v.Qualifier + "." + v.Name
		}
		return v.Name
	case sqlparse.Placeholder:
		return fmt.Sprintf("$%d", v.Ordinal)
	case sqlparse.Literal:
		return literalSQL(v)
	case sqlparse.RawExpr:
		return v.SQL
	case sqlparse.BinaryExpr:
		return exprSQL(v.Left) + " " + v.Op + " " + exprSQL(v.Right)
	case sqlparse.InExpr:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = exprSQL(item)
		}
		return v.Column.Name + " IN (" + strings.Join(parts, ", ") + ")"
	case sqlparse.IsNullExpr:
		if v.Not {
			return v.Column.Name + " IS NOT NULL"
		}
		return v.Column.Name + " IS NULL"
	default:
		return "NULL"
	}
}

func literalSQL(l sqlparse.Literal) string {
	switch l.Kind {
	case sqlparse.LiteralNull:
		return "NULL"
	case sqlparse.LiteralInt:
		return fmt.Sprintf("%d", l.Int)
	case sqlparse.LiteralFloat:
		return l.Text
	case sqlparse.LiteralBool:
		if l.Int != 0 {
			return "TRUE"
		}
		return "FALSE"
	default:
		return "'" + strings.ReplaceAll(l.Text, "'", "''") + "'"
	}
}
