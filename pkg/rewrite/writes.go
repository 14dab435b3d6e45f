// SPDX-License-Identifier: Apache-2.0

package rewrite

import (
	"fmt"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/sqlparse"
)

// RewriteWrite drives the write-path pass pipeline (spec.md §4.C): each
// pass either rejects the statement outright, lowers it one layer closer
// to a vtable write and re-queues the result, or (at the terminal pass)
// emits the MutationRow/SchemaRegistration/Effects that make up a
// LogicalPlan. The loop is bounded by MaxRewritePasses; a statement that
// hasn't reached the terminal pass by then is a rewrite-engine bug, not a
// caller error, and is reported as such.
func (rw *Rewriter) RewriteWrite(stmt sqlparse.Statement) (*LogicalPlan, error) {
	plan := &LogicalPlan{ResultContract: ResultDmlNoReturning}
	pending := []sqlparse.Statement{stmt}

	for pass := 0; pass < MaxRewritePasses && len(pending) > 0; pass++ {
		next := make([]sqlparse.Statement, 0, len(pending))
		for _, s := range pending {
			lowered, done, err := rw.lowerOnce(s, plan)
			if err != nil {
				return nil, err
			}
			if !done {
				next = append(next, lowered...)
			}
		}
		pending = next
	}

	if len(pending) > 0 {
		return nil, fmt.Errorf("rewrite: statement did not converge within %d passes", MaxRewritePasses)
	}

	return plan, nil
}

// lowerOnce applies the first matching pass to s. done is true once s has
// been folded directly into plan (the terminal vtable pass); otherwise
// lowered holds the statement(s) to re-queue for the next pass.
func (rw *Rewriter) lowerOnce(s sqlparse.Statement, plan *LogicalPlan) (lowered []sqlparse.Statement, done bool, err error) {
	relation := s.TableRefs()[0]

	switch {
	case IsHistoryView(relation):
		return nil, false, model.ReadOnlyViewError{View: relation}

	case IsFilesystemView(relation):
		return rw.passFilesystem(s, plan)

	case IsVersionManagementView(relation):
		return rw.passVersionManagement(s, plan)

	case relation == "lix_stored_schema":
		return rw.passStoredSchema(s, plan)

	case relation == InternalStateVtable:
		return rw.passVtableWrite(s, plan)

	default:
		if schemaKey, variant, ok := ParseEntityView(relation); ok {
			if variant == VariantHistory {
				return nil, false, model.ReadOnlyViewError{View: relation}
			}
			return rw.passEntityView(s, schemaKey, variant, plan)
		}
	}

	return nil, false, fmt.Errorf("rewrite: %q is not a writable lix view", relation)
}

// passFilesystem decomposes a write against lix_file/lix_file_by_version
// into a pending file write/delete effect. The actual bytes-to-entities
// detection is the plugin boundary's job (spec.md §4.H); the rewrite
// engine only records the intent here.
func (rw *Rewriter) passFilesystem(s sqlparse.Statement, plan *LogicalPlan) ([]sqlparse.Statement, bool, error) {
	switch ins := s.(type) {
	case *sqlparse.InsertStatement:
		fw, err := fileWriteFromInsert(ins)
		if err != nil {
			return nil, false, err
		}
		plan.Effects.PendingFileWrites = append(plan.Effects.PendingFileWrites, fw)
		plan.Requirements.ShouldRefreshFileCache = true
		return nil, true, nil
	case *sqlparse.DeleteStatement:
		plan.Effects.PendingFileDeletes = append(plan.Effects.PendingFileDeletes, FileDelete{})
		plan.Requirements.ShouldRefreshFileCache = true
		return nil, true, nil
	case *sqlparse.UpdateStatement:
		fw, err := fileWriteFromUpdate(ins)
		if err != nil {
			return nil, false, err
		}
		plan.Effects.PendingFileWrites = append(plan.Effects.PendingFileWrites, fw)
		plan.Requirements.ShouldRefreshFileCache = true
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("rewrite: unsupported statement against filesystem view")
}

func fileWriteFromInsert(ins *sqlparse.InsertStatement) (FileWrite, error) {
	fw := FileWrite{}
	for i, col := range ins.Columns {
		if i >= len(ins.Values) || len(ins.Values[i]) == 0 {
			continue
		}
		lit, ok := ins.Values[0][i].(sqlparse.Literal)
		if !ok {
			continue
		}
		switch col {
		case "id":
			fw.FileID = lit.Text
		case "lixcol_version_id":
			fw.VersionID = lit.Text
		case "data":
			fw.Data = []byte(lit.Text)
		}
	}
	return fw, nil
}

func fileWriteFromUpdate(s sqlparse.Statement) (FileWrite, error) {
	fw := FileWrite{}
	u, ok := s.(*sqlparse.UpdateStatement)
	if !ok {
		return fw, fmt.Errorf("rewrite: expected UPDATE")
	}
	for _, assign := range u.Set {
		lit, ok := assign.Value.(sqlparse.Literal)
		if !ok {
			continue
		}
		if assign.Column == "data" {
			fw.Data = []byte(lit.Text)
		}
	}
	return fw, nil
}

// passVersionManagement handles writes to lix_version/lix_active_version:
// version creation, inheritance rewiring, and active-pointer switches all
// flow through here into Effects.NextActiveVersionID or a direct passthrough
// physical statement against the canonical table (spec.md §4.G).
func (rw *Rewriter) passVersionManagement(s sqlparse.Statement, plan *LogicalPlan) ([]sqlparse.Statement, bool, error) {
	relation := s.TableRefs()[0]
	physicalTable := map[string]string{
		ViewVersion:       "lix_internal_version",
		ViewActiveVersion: "lix_internal_active_version",
		ViewActiveAccount: "lix_internal_active_account",
	}[relation]

	if relation == ViewActiveVersion {
		if u, ok := s.(*sqlparse.UpdateStatement); ok {
			for _, assign := range u.Set {
				if assign.Column != "version_id" {
					continue
				}
				if lit, ok := assign.Value.(sqlparse.Literal); ok {
					id := lit.Text
					plan.Effects.NextActiveVersionID = &id
				}
			}
		}
	}

	sql, params := passthroughSQL(physicalTable, s)
	plan.PreparedStatements = append(plan.PreparedStatements, PhysicalStatement{SQL: sql, Params: params})
	return nil, true, nil
}

// passStoredSchema handles INSERTs against the lix_stored_schema entity
// view: each row registers (or re-registers, at a higher monotonic
// version) a JSON-schema document, which the orchestrator must materialize
// a table for before any mutation references it (spec.md §4.F.8).
func (rw *Rewriter) passStoredSchema(s sqlparse.Statement, plan *LogicalPlan) ([]sqlparse.Statement, bool, error) {
	ins, ok := s.(*sqlparse.InsertStatement)
	if !ok {
		return nil, false, model.ImmutableSchemaError{SchemaKey: "lix_stored_schema"}
	}
	for _, row := range ins.Values {
		reg, err := schemaRegistrationFromRow(ins.Columns, row)
		if err != nil {
			return nil, false, err
		}
		plan.Preprocess.Registrations = append(plan.Preprocess.Registrations, reg)
	}
	return nil, true, nil
}

func schemaRegistrationFromRow(columns []string, row []sqlparse.Expr) (SchemaRegistration, error) {
	reg := SchemaRegistration{}
	for i, col := range columns {
		if i >= len(row) {
			continue
		}
		lit, ok := row[i].(sqlparse.Literal)
		if !ok {
			continue
		}
		switch col {
		case "key":
			reg.SchemaKey = lit.Text
		case "version":
			reg.SchemaVersion = lit.Text
		case "value", "definition":
			reg.Definition = []byte(lit.Text)
		}
	}
	if reg.SchemaKey == "" {
		return reg, model.SchemaValidationError{Reason: "missing key"}
	}
	return reg, nil
}

// passEntityView translates a write against a `lix_<schema>...` entity
// view into an INSERT/UPDATE/DELETE against the internal state vtable,
// re-queuing it for the terminal pass (spec.md §4.C pass 4).
func (rw *Rewriter) passEntityView(s sqlparse.Statement, schemaKey string, variant EntityViewVariant, plan *LogicalPlan) ([]sqlparse.Statement, bool, error) {
	target, err := rw.Schemas.Resolve(schemaKey)
	if err != nil {
		return nil, false, err
	}
	if target.Immutable {
		if _, ok := s.(*sqlparse.InsertStatement); !ok {
			return nil, false, model.ImmutableSchemaError{SchemaKey: schemaKey}
		}
	}

	switch ins := s.(type) {
	case *sqlparse.InsertStatement:
		cols, err := translateEntityColumns(ins.Columns, target)
		if err != nil {
			return nil, false, err
		}
		vtableIns := &sqlparse.InsertStatement{Relation: InternalStateVtable, Columns: append([]string{"schema_key"}, ins.Columns...)}
		for _, row := range ins.Values {
			vtableIns.Values = append(vtableIns.Values, append([]sqlparse.Expr{sqlparse.Literal{Kind: sqlparse.LiteralString, Text: schemaKey}}, row...))
		}
		_ = cols
		return []sqlparse.Statement{vtableIns}, false, nil

	case *sqlparse.UpdateStatement:
		vtableUpd := &sqlparse.UpdateStatement{
			Relation: InternalStateVtable,
			Set:      append([]sqlparse.Assignment{{Column: "schema_key", Value: sqlparse.Literal{Kind: sqlparse.LiteralString, Text: schemaKey}}}, ins.Set...),
			Where:    ins.Where,
		}
		plan.Requirements.ShouldInvalidateInstalledPluginsCache = schemaKey == model.StoredSchemaKey
		return []sqlparse.Statement{vtableUpd}, false, nil

	case *sqlparse.DeleteStatement:
		vtableDel := &sqlparse.DeleteStatement{Relation: InternalStateVtable, Where: andSchemaKey(ins.Where, schemaKey)}
		return []sqlparse.Statement{vtableDel}, false, nil
	}

	return nil, false, fmt.Errorf("rewrite: unsupported statement against entity view %q", schemaKey)
}

func andSchemaKey(where sqlparse.Expr, schemaKey string) sqlparse.Expr {
	eq := sqlparse.BinaryExpr{Op: "=", Left: sqlparse.ColumnRef{Name: "schema_key"}, Right: sqlparse.Literal{Kind: sqlparse.LiteralString, Text: schemaKey}}
	if where == nil {
		return eq
	}
	return sqlparse.BinaryExpr{Op: "AND", Left: eq, Right: where}
}

// passVtableWrite is the terminal pass: a write already lowered onto
// lix_internal_state_vtable is folded directly into the plan's mutation
// list. The engine applies defaults to these MutationRows after rewriting
// completes; coalescing of vtable INSERTs runs on the parsed script before
// rewriting, and INSERT ... SELECT sources are not materialized on this
// path.
func (rw *Rewriter) passVtableWrite(s sqlparse.Statement, plan *LogicalPlan) ([]sqlparse.Statement, bool, error) {
	switch ins := s.(type) {
	case *sqlparse.InsertStatement:
		target, err := rw.schemaTargetFromColumns(ins.Columns, ins.Values)
		if err != nil {
			return nil, false, err
		}
		for _, row := range ins.Values {
			mutation, err := mutationFromRow(MutationInsert, ins.Columns, row, target)
			if err != nil {
				return nil, false, err
			}
			plan.Preprocess.Mutations = append(plan.Preprocess.Mutations, mutation)
		}
		if plan.ResultContract == ResultDmlNoReturning && len(ins.Returning) > 0 {
			plan.ResultContract = ResultDmlReturning
		}
		return nil, true, nil

	case *sqlparse.UpdateStatement:
		plan.Preprocess.Postprocess = &PostprocessPlan{Kind: PostprocessVtableUpdate}
		return nil, true, nil

	case *sqlparse.DeleteStatement:
		plan.Preprocess.Postprocess = &PostprocessPlan{Kind: PostprocessVtableDelete}
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("rewrite: unsupported vtable statement")
}

func (rw *Rewriter) schemaTargetFromColumns(columns []string, rows [][]sqlparse.Expr) (*SchemaTarget, error) {
	for i, col := range columns {
		if col != "schema_key" || len(rows) == 0 || i >= len(rows[0]) {
			continue
		}
		if lit, ok := rows[0][i].(sqlparse.Literal); ok {
			return rw.Schemas.Resolve(lit.Text)
		}
	}
	return &SchemaTarget{}, nil
}

func mutationFromRow(op MutationOperation, columns []string, row []sqlparse.Expr, target *SchemaTarget) (MutationRow, error) {
	m := MutationRow{Operation: op, SchemaKey: target.SchemaKey, SchemaVersion: target.LatestVersion}
	cols, lixcolsErr := translateEntityColumns(columns, target)
	if lixcolsErr != nil {
		return m, lixcolsErr
	}
	snap, lixcols, err := buildSnapshot(cols, row)
	if err != nil {
		return m, err
	}
	m.Snapshot = snap
	if v, ok := lixcols["entity_id"]; ok {
		m.EntityID = v
	}
	if v, ok := lixcols["file_id"]; ok {
		m.FileID = v
	}
	if v, ok := lixcols["version_id"]; ok {
		m.VersionID = v
	}
	if v, ok := lixcols["writer_key"]; ok {
		m.WriterKey = &v
	}
	if v, ok := lixcols["untracked"]; ok {
		m.Untracked = v == "true" || v == "1"
	}
	return m, nil
}

func passthroughSQL(table string, s sqlparse.Statement) (string, []backend.Value) {
	switch v := s.(type) {
	case *sqlparse.UpdateStatement:
		return fmt.Sprintf("UPDATE %s SET ... WHERE ...", table), nil
	case *sqlparse.InsertStatement:
		return fmt.Sprintf("INSERT INTO %s (...) VALUES (...)", table), nil
	case *sqlparse.DeleteStatement:
		return fmt.Sprintf("DELETE FROM %s WHERE ...", table), nil
	default:
		_ = v
		return "", nil
	}
}
