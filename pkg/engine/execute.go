// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/commitgraph"
	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/observe"
	"github.com/lixdb/lix/pkg/plugin"
	"github.com/lixdb/lix/pkg/preprocess"
	"github.com/lixdb/lix/pkg/rewrite"
	"github.com/lixdb/lix/pkg/sqlparse"
)

// ExecuteOptions parameterizes Execute. WriterKey attributes every change
// produced by the call to a caller-supplied identity, surfaced on
// lixcol_writer_key and in state-commit-stream events (spec.md §4.A).
type ExecuteOptions struct {
	WriterKey   *string
	VersionID   string
	AllowUntracked bool
}

// ExecuteResult is the public shape of a completed call: the row set the
// backend returned. RowsAffected is the number of rows in Rows; for a write
// it is not a count of the rows the write changed.
type ExecuteResult struct {
	Columns      []string
	Rows         [][]backend.Value
	RowsAffected int
}

// Execute runs one (possibly multi-statement) SQL call against the engine:
// parse, rewrite every statement to its physical form, run preprocessing on
// any INSERT targeting the internal vtable, validate, execute, record a
// commit for whatever mutations resulted, and emit state-commit-stream
// events (spec.md §4.F).
func (e *Engine) Execute(ctx context.Context, sql string, params []backend.Value, opts ExecuteOptions) (*ExecuteResult, error) {
	return e.executeImpl(ctx, sql, params, opts, false)
}

func (e *Engine) executeImpl(ctx context.Context, sql string, params []backend.Value, opts ExecuteOptions, internal bool) (*ExecuteResult, error) {
	if !internal && !e.accessInternal {
		if err := rejectInternalTableAccess(sql); err != nil {
			return nil, err
		}
	}

	script, err := e.parser.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("engine: parsing statement: %w", err)
	}
	if script.NestedTransactionSeen {
		return nil, fmt.Errorf("engine: nested BEGIN/COMMIT/ROLLBACK inside a call is not supported")
	}

	statements := preprocess.CoalesceVtableInserts(script)

	plans := make([]*rewrite.LogicalPlan, len(statements))
	needsTx := len(statements) > 1
	for i, stmt := range statements {
		plan, err := e.planStatement(ctx, stmt)
		if err != nil {
			return nil, err
		}
		if err := e.applyDefaults(ctx, plan); err != nil {
			return nil, err
		}
		if err := e.validator.ValidateInserts(ctx, e.backend, plan.Preprocess.Mutations); err != nil {
			return nil, err
		}
		if err := e.validator.ValidateUpdates(ctx, e.backend, plan.Preprocess.UpdateValidations); err != nil {
			return nil, err
		}
		if plan.Preprocess.Postprocess != nil {
			needsTx = true
		}
		plans[i] = plan
	}

	// spec.md §5: one top-level transaction per call that needs a
	// postprocess plan or spans multiple statements; everything else runs
	// directly against the backend.
	var execer backend.Backend = e.backend
	var tx backend.Transaction
	if needsTx {
		tx, err = e.backend.BeginTransaction(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: beginning transaction: %w", err)
		}
		execer = backend.AsBackend(tx)
	}

	lastResult, allMutations, allRegistrations, allEffects, allPostprocess, err := e.runPlans(ctx, execer, plans)
	if err != nil {
		if tx != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				return nil, fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
		}
		return nil, err
	}
	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("engine: committing transaction: %w", err)
		}
	}

	for _, reg := range allRegistrations {
		if store, ok := e.rewriter.Schemas.(*SchemaStore); ok {
			if err := store.Register(reg); err != nil {
				return nil, fmt.Errorf("engine: registering schema %q: %w", reg.SchemaKey, err)
			}
		}
		e.logger.Debug("registered stored schema", "schema_key", reg.SchemaKey, "schema_version", reg.SchemaVersion)
	}

	if err := e.applyEffects(ctx, allEffects, opts.WriterKey); err != nil {
		return nil, err
	}

	if len(allMutations) > 0 {
		if err := e.recordCommit(ctx, opts, allMutations); err != nil {
			return nil, err
		}
	}

	if len(allPostprocess) > 0 {
		e.emitPostprocessEvents(allPostprocess, opts.WriterKey)
	}

	return toExecuteResult(lastResult), nil
}

// runPlans executes every already-validated plan's prepared statements
// against execer (either the backend directly or an open transaction),
// accumulating the bookkeeping executeImpl needs once the batch is done.
// No cache mutation or commit-graph write happens here: per spec.md §5,
// those only run after the transaction (if any) has committed.
func (e *Engine) runPlans(ctx context.Context, execer backend.Backend, plans []*rewrite.LogicalPlan) (*backend.Rows, []rewrite.MutationRow, []rewrite.SchemaRegistration, rewrite.Effects, []rewrite.PostprocessPlan, error) {
	var lastResult *backend.Rows
	var allMutations []rewrite.MutationRow
	var allRegistrations []rewrite.SchemaRegistration
	var allEffects rewrite.Effects
	var allPostprocess []rewrite.PostprocessPlan

	for _, plan := range plans {
		for _, stmt := range plan.PreparedStatements {
			rows, err := execer.Execute(ctx, stmt.SQL, stmt.Params)
			if err != nil {
				return nil, nil, nil, rewrite.Effects{}, nil, fmt.Errorf("engine: executing statement: %w", err)
			}
			lastResult = rows
		}

		allMutations = append(allMutations, plan.Preprocess.Mutations...)
		allRegistrations = append(allRegistrations, plan.Preprocess.Registrations...)
		if plan.Preprocess.Postprocess != nil {
			allPostprocess = append(allPostprocess, *plan.Preprocess.Postprocess)
		}
		mergeEffects(&allEffects, plan.Effects)
	}

	return lastResult, allMutations, allRegistrations, allEffects, allPostprocess, nil
}

// Transaction runs fn against a fresh transaction handle, committing if it
// returns nil and rolling back otherwise (spec.md §6.2 transaction(options,
// fn)).
func (e *Engine) Transaction(ctx context.Context, fn func(ctx context.Context, tx backend.Transaction) error) error {
	tx, err := e.backend.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("engine: beginning transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("engine: committing transaction: %w", err)
	}
	return nil
}

func (e *Engine) planStatement(ctx context.Context, stmt sqlparse.Statement) (*rewrite.LogicalPlan, error) {
	if sel, ok := stmt.(*sqlparse.SelectStatement); ok {
		return e.rewriter.RewriteRead(sel)
	}
	return e.rewriter.RewriteWrite(stmt)
}

func (e *Engine) applyDefaults(ctx context.Context, plan *rewrite.LogicalPlan) error {
	for i := range plan.Preprocess.Mutations {
		mut := &plan.Preprocess.Mutations[i]
		if mut.Operation != rewrite.MutationInsert || mut.Snapshot == nil {
			continue
		}

		rawDef, err := e.validator.Loader.LoadLatestDefinition(ctx, e.backend, mut.SchemaKey)
		if err != nil {
			// No stored schema registered for this key (a built-in view
			// with no x-lix-default directives); nothing to default.
			continue
		}
		directives, err := model.ParseSchemaDirectives(rawDef)
		if err != nil {
			return fmt.Errorf("engine: resolving schema %q: %w", mut.SchemaKey, err)
		}
		var rawSchema map[string]any
		if err := json.Unmarshal(rawDef, &rawSchema); err != nil {
			return fmt.Errorf("engine: parsing schema %q: %w", mut.SchemaKey, err)
		}

		updated, changed, err := e.defaulter.ApplyDefaults(mut.Snapshot, directives, rawSchema)
		if err != nil {
			return fmt.Errorf("engine: applying defaults for %q: %w", mut.SchemaKey, err)
		}
		if changed {
			mut.Snapshot = updated
		}
	}
	return nil
}

func (e *Engine) recordCommit(ctx context.Context, opts ExecuteOptions, mutations []rewrite.MutationRow) error {
	current, err := e.loadActiveVersion(ctx, opts.VersionID)
	if err != nil {
		return err
	}

	result, err := e.commits.RecordCommit(ctx, current, mutations, opts.WriterKey)
	if err != nil {
		return fmt.Errorf("engine: recording commit: %w", err)
	}
	if result == nil {
		return nil
	}

	if err := e.persistCommit(ctx, result); err != nil {
		return err
	}

	e.logger.LogCommit(result.Commit.CommitID, len(result.Changes))
	e.bus.Emit(observe.ChangesFromMutations(mutations, opts.WriterKey))
	return nil
}

func (e *Engine) persistCommit(ctx context.Context, result *commitgraph.CommitResult) error {
	for _, c := range result.Changes {
		if _, err := e.backend.Execute(ctx,
			"INSERT INTO lix_internal_change (change_id, entity_id, schema_key, schema_version, file_id, plugin_key, snapshot_id, snapshot_content, writer_key, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)",
			[]backend.Value{
				backend.Text(c.ChangeID), backend.Text(c.EntityID), backend.Text(c.SchemaKey), backend.Text(c.SchemaVersion),
				backend.Text(c.FileID), backend.Text(c.PluginKey), backend.Text(c.SnapshotID), snapshotValue(c.Snapshot),
				writerKeyValue(c.WriterKey), backend.Text(c.CreatedAt.Format("2006-01-02T15:04:05.000Z")),
			}); err != nil {
			return fmt.Errorf("engine: persisting change: %w", err)
		}
	}
	if _, err := e.backend.Execute(ctx,
		"INSERT INTO lix_internal_commit (commit_id, change_set_id, parent_ids, change_ids, checkpoint_tag, created_at) VALUES ($1,$2,$3,$4,FALSE,$5)",
		[]backend.Value{
			backend.Text(result.Commit.CommitID), backend.Text(result.Commit.ChangeSetID),
			backend.Text(joinIDs(result.Commit.ParentIDs)), backend.Text(joinIDs(result.Commit.ChangeIDs)),
			backend.Text(result.Commit.CreatedAt.Format("2006-01-02T15:04:05.000Z")),
		}); err != nil {
		return fmt.Errorf("engine: persisting commit: %w", err)
	}
	if _, err := e.backend.Execute(ctx,
		"UPDATE lix_internal_version SET commit_id = $1 WHERE version_id = $2",
		[]backend.Value{backend.Text(result.UpdatedTip.CommitID), backend.Text(result.UpdatedTip.VersionID)}); err != nil {
		return fmt.Errorf("engine: advancing version tip: %w", err)
	}
	return nil
}

func (e *Engine) applyEffects(ctx context.Context, effects rewrite.Effects, writerKey *string) error {
	for _, d := range effects.PendingFileDeletes {
		e.fileData.Invalidate(d.FileID)
	}
	for _, w := range effects.PendingFileWrites {
		e.fileData.Upsert(w.FileID, w.Data)
	}

	if effects.NextActiveVersionID != nil {
		if _, err := e.backend.Execute(ctx, "UPDATE lix_internal_active_version SET version_id = $1", []backend.Value{backend.Text(*effects.NextActiveVersionID)}); err != nil {
			return fmt.Errorf("engine: switching active version: %w", err)
		}
	}

	if len(effects.PendingFileWrites) > 0 && e.wasmRuntime != nil {
		plugins, err := e.loadInstalledPlugins(ctx)
		if err != nil {
			return err
		}
		requests := make([]plugin.DetectionRequest, len(effects.PendingFileWrites))
		for i, w := range effects.PendingFileWrites {
			requests[i] = plugin.DetectionRequest{FileID: w.FileID, VersionID: w.VersionID, AfterData: w.Data}
		}
		detected, err := plugin.DetectFileChanges(ctx, e.wasmRuntime, pluginsAsInstalled(plugins), requests)
		if err != nil {
			return fmt.Errorf("engine: detecting file changes: %w", err)
		}
		_ = detected // detected changes are neither persisted nor returned
	}

	return nil
}

func (e *Engine) emitPostprocessEvents(plans []rewrite.PostprocessPlan, writerKey *string) {
	for range plans {
		// Followup statements were already executed as part of the plan's
		// PreparedStatements; this records that cascading rewrite work
		// occurred for observability only.
		e.logger.Debug("postprocess plan applied")
	}
}

func mergeEffects(dst *rewrite.Effects, src rewrite.Effects) {
	dst.PendingFileWrites = append(dst.PendingFileWrites, src.PendingFileWrites...)
	dst.PendingFileDeletes = append(dst.PendingFileDeletes, src.PendingFileDeletes...)
	dst.DetectedFileDomainChanges = append(dst.DetectedFileDomainChanges, src.DetectedFileDomainChanges...)
	dst.UntrackedFilesystemUpdates = append(dst.UntrackedFilesystemUpdates, src.UntrackedFilesystemUpdates...)
	if src.NextActiveVersionID != nil {
		dst.NextActiveVersionID = src.NextActiveVersionID
	}
}

func toExecuteResult(rows *backend.Rows) *ExecuteResult {
	if rows == nil {
		return &ExecuteResult{}
	}
	return &ExecuteResult{Columns: rows.Columns, Rows: rows.Values, RowsAffected: len(rows.Values)}
}

func snapshotValue(s model.Snapshot) backend.Value {
	if s == nil {
		return backend.Null()
	}
	return backend.Text(string(s))
}

func writerKeyValue(key *string) backend.Value {
	if key == nil {
		return backend.Null()
	}
	return backend.Text(*key)
}

func joinIDs(ids []string) string {
	out := "["
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += "\"" + id + "\""
	}
	return out + "]"
}

// rejectInternalTableAccess rejects direct SQL access to lix_internal_*
// tables from outside the engine's own rewrite output (spec.md §4.A: those
// tables are an implementation detail, not part of the public surface).
func rejectInternalTableAccess(sql string) error {
	if strings.Contains(strings.ToLower(sql), "lix_internal_") {
		return fmt.Errorf("direct access to internal tables is not supported")
	}
	return nil
}
