// SPDX-License-Identifier: Apache-2.0

package rewrite

import "github.com/lixdb/lix/pkg/sqlparse"

// PushableColumns is the fixed set of columns predicate pushdown recognizes
// on state-shaped views (spec.md §4.C).
var PushableColumns = map[string]bool{
	"schema_key": true,
	"entity_id":  true,
	"file_id":    true,
	"version_id": true,
	"plugin_key": true,
}

// Pushdown is the result of walking a WHERE clause for pushable predicates:
// a set of equality/IN constraints per recognized column, plus a flag
// telling the caller whether narrowing is safe at all.
type Pushdown struct {
	Equalities map[string][]sqlparse.Expr
	Narrowable bool
}

// CollectPushdown walks expr, a top-level conjunction, and extracts
// equality and IN-list predicates on unqualified pushable columns;
// qualified column references are not collected (spec.md §4.B). An OR
// that mentions a pushable column disables narrowing for the whole
// predicate.
func CollectPushdown(expr sqlparse.Expr) Pushdown {
	pd := Pushdown{Equalities: map[string][]sqlparse.Expr{}, Narrowable: true}
	collectConjuncts(expr, &pd)
	return pd
}

func collectConjuncts(expr sqlparse.Expr, pd *Pushdown) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case sqlparse.BinaryExpr:
		if e.Op == "AND" {
			collectConjuncts(e.Left, pd)
			collectConjuncts(e.Right, pd)
			return
		}
		if e.Op == "OR" {
			// An OR across tracked filter columns disables narrowing
			// entirely; a relation-only fallback filter is used instead
			// (spec.md §4.J "derived filter").
			if mentionsPushableColumn(e.Left) || mentionsPushableColumn(e.Right) {
				pd.Narrowable = false
			}
			return
		}
		if e.Op == "=" {
			if col, ok := e.Left.(sqlparse.ColumnRef); ok && isSafeColumn(col) && PushableColumns[col.Name] {
				pd.Equalities[col.Name] = append(pd.Equalities[col.Name], e.Right)
				return
			}
		}
	case sqlparse.InExpr:
		if isSafeColumn(e.Column) && PushableColumns[e.Column.Name] {
			pd.Equalities[e.Column.Name] = append(pd.Equalities[e.Column.Name], e.List...)
			return
		}
	}
	// Anything else (a qualified column, a function call, a raw fallback
	// expression) is simply not collected; it doesn't disable narrowing by
	// itself, it's just not pushed.
}

// isSafeColumn reports whether a column reference is unqualified — the
// "safe-column recognition" rule shared by every read pass (spec.md §4.C).
func isSafeColumn(col sqlparse.ColumnRef) bool {
	return col.Qualifier == ""
}

func mentionsPushableColumn(expr sqlparse.Expr) bool {
	switch e := expr.(type) {
	case sqlparse.ColumnRef:
		return PushableColumns[e.Name]
	case sqlparse.InExpr:
		return PushableColumns[e.Column.Name]
	case sqlparse.BinaryExpr:
		return mentionsPushableColumn(e.Left) || mentionsPushableColumn(e.Right)
	default:
		return false
	}
}

// CanonicalizePlaceholders rewrites bare `?` placeholders (ordinal 0) into
// 1-based ordinals in the order they're encountered, per spec.md §4.C
// "placeholder ordinal canonicalization". It returns the canonicalized
// expressions alongside the highest ordinal assigned.
func CanonicalizePlaceholders(exprs []sqlparse.Expr) ([]sqlparse.Expr, int) {
	next := 1
	out := make([]sqlparse.Expr, len(exprs))
	for i, expr := range exprs {
		if p, ok := expr.(sqlparse.Placeholder); ok && p.Ordinal == 0 {
			out[i] = sqlparse.Placeholder{Ordinal: next}
			next++
			continue
		}
		out[i] = expr
	}
	return out, next - 1
}
