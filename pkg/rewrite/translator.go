// SPDX-License-Identifier: Apache-2.0

package rewrite

import (
	"encoding/json"
	"fmt"

	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/sqlparse"
)

// EntityColumn pairs a view column with the JSON-pointer path it writes
// into the entity's snapshot, or the empty string if the column is a
// lixcol_* metadata column instead of a data column.
type EntityColumn struct {
	Name        string
	SnapshotPtr string
	IsLixcol    bool
	LixcolField string
}

// forbiddenInsertLixcols lists lixcol_* columns an entity-view INSERT may
// never set directly — they're derived by the commit-graph layer, not
// supplied by the caller (spec.md §4.C "translate_insert_into_vtable").
var forbiddenInsertLixcols = map[string]bool{
	"lixcol_change_id": true,
	"lixcol_commit_id": true,
}

// translateEntityColumns maps a statement's column list onto the entity
// view's JSON-pointer/lixcol split, honoring x-lix-override-lixcols
// (spec.md §4.A.7 / §4.C).
func translateEntityColumns(columns []string, target *SchemaTarget) ([]EntityColumn, error) {
	out := make([]EntityColumn, 0, len(columns))
	for _, col := range columns {
		if field, ok := target.OverrideLixCols[col]; ok {
			out = append(out, EntityColumn{Name: col, IsLixcol: true, LixcolField: field})
			continue
		}
		if len(col) > 7 && col[:7] == "lixcol_" {
			if forbiddenInsertLixcols[col] {
				return nil, model.ForbiddenColumnError{View: target.SchemaKey, Column: col, Reason: "derived by the commit graph, not caller-supplied"}
			}
			out = append(out, EntityColumn{Name: col, IsLixcol: true, LixcolField: col[len("lixcol_"):]})
			continue
		}
		out = append(out, EntityColumn{Name: col, SnapshotPtr: "/" + col})
	}
	return out, nil
}

// buildSnapshot assembles a JSON object snapshot from a row of values
// keyed by the translated columns' JSON-pointer paths. Only top-level
// pointers are supported; nested pointers are assigned via a flat object
// since lix schemas are generated with one JSON-schema property per column.
func buildSnapshot(cols []EntityColumn, values []sqlparse.Expr) (model.Snapshot, map[string]string, error) {
	obj := map[string]any{}
	lixcols := map[string]string{}
	for i, col := range cols {
		if i >= len(values) {
			return nil, nil, fmt.Errorf("rewrite: column %q has no value", col.Name)
		}
		if col.IsLixcol {
			if lit, ok := values[i].(sqlparse.Literal); ok {
				lixcols[col.LixcolField] = lit.Text
			}
			continue
		}
		v, err := literalToJSON(values[i])
		if err != nil {
			return nil, nil, err
		}
		key := col.SnapshotPtr
		if len(key) > 0 && key[0] == '/' {
			key = key[1:]
		}
		obj[key] = v
	}
	snap, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, err
	}
	return model.Snapshot(snap), lixcols, nil
}

func literalToJSON(expr sqlparse.Expr) (any, error) {
	lit, ok := expr.(sqlparse.Literal)
	if !ok {
		// Non-literal values (subqueries, placeholders) are not resolved
		// here; they are stored as JSON null.
		return nil, nil
	}
	switch lit.Kind {
	case sqlparse.LiteralNull:
		return nil, nil
	case sqlparse.LiteralInt:
		return lit.Int, nil
	case sqlparse.LiteralFloat:
		return lit.Float, nil
	case sqlparse.LiteralBool:
		return lit.Int != 0, nil
	default:
		return lit.Text, nil
	}
}
