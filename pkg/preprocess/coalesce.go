// SPDX-License-Identifier: Apache-2.0

package preprocess

import (
	"github.com/lixdb/lix/pkg/rewrite"
	"github.com/lixdb/lix/pkg/sqlparse"
)

// CoalesceVtableInserts merges adjacent plain-VALUES INSERTs against the
// internal state vtable that share an identical column list, within a
// single explicit transaction, into one multi-row INSERT (spec.md §4.D.2).
// It is conservative by design: anything with ON CONFLICT, RETURNING, or a
// SELECT source breaks the run rather than risk merging incompatible
// semantics.
func CoalesceVtableInserts(script *sqlparse.Script) []sqlparse.Statement {
	if !script.ExplicitTransaction {
		return script.Statements
	}

	out := make([]sqlparse.Statement, 0, len(script.Statements))
	var pending *sqlparse.InsertStatement

	flush := func() {
		if pending != nil {
			out = append(out, pending)
			pending = nil
		}
	}

	for _, stmt := range script.Statements {
		ins, ok := stmt.(*sqlparse.InsertStatement)
		if !ok || !targetsVtable(ins) {
			flush()
			out = append(out, stmt)
			continue
		}
		if pending == nil {
			pending = ins
			continue
		}
		if canMerge(pending, ins) {
			pending.Values = append(pending.Values, ins.Values...)
			continue
		}
		flush()
		pending = ins
	}
	flush()

	return out
}

func targetsVtable(ins *sqlparse.InsertStatement) bool {
	return ins.Relation == rewrite.InternalStateVtable
}

func canMerge(left, right *sqlparse.InsertStatement) bool {
	if !targetsVtable(left) || !targetsVtable(right) {
		return false
	}
	if left.OnConflict != nil || right.OnConflict != nil {
		return false
	}
	if len(left.Returning) > 0 || len(right.Returning) > 0 {
		return false
	}
	if left.Source != nil || right.Source != nil {
		return false
	}
	return columnsEqual(left.Columns, right.Columns)
}

func columnsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
