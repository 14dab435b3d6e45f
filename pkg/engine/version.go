// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/model"
)

// loadActiveVersion resolves the version a call should commit against:
// versionID if given, otherwise the process-wide active version (spec.md
// §4.A).
func (e *Engine) loadActiveVersion(ctx context.Context, versionID string) (model.Version, error) {
	id := versionID
	if id == "" {
		rows, err := e.backend.Execute(ctx, "SELECT version_id FROM lix_internal_active_version", nil)
		if err != nil {
			return model.Version{}, fmt.Errorf("engine: loading active version: %w", err)
		}
		id = rows.Scalar().Text
		if id == "" {
			return model.Version{}, fmt.Errorf("engine: no active version set")
		}
	}
	return e.loadVersion(ctx, id)
}

func (e *Engine) loadVersion(ctx context.Context, versionID string) (model.Version, error) {
	rows, err := e.backend.Execute(ctx,
		"SELECT version_id, name, commit_id, working_commit_id, inherits_from_version_id FROM lix_internal_version WHERE version_id = $1",
		[]backend.Value{backend.Text(versionID)})
	if err != nil {
		return model.Version{}, fmt.Errorf("engine: loading version %q: %w", versionID, err)
	}
	if len(rows.Values) == 0 {
		return model.Version{}, fmt.Errorf("engine: version %q not found", versionID)
	}
	row := rows.Values[0]
	v := model.Version{
		VersionID:       row[0].Text,
		Name:            row[1].Text,
		CommitID:        row[2].Text,
		WorkingCommitID: row[3].Text,
	}
	if !row[4].IsNull() {
		inherits := row[4].Text
		v.InheritsFromVersionID = &inherits
	}
	return v, nil
}

// CreateCheckpointResult is the public result of promoting a checkpoint.
type CreateCheckpointResult struct {
	CommitID    string
	ChangeSetID string
}

// CreateCheckpoint promotes the active version's working commit into its
// tip, starting a fresh empty working commit (spec.md §6.2
// create_checkpoint).
func (e *Engine) CreateCheckpoint(ctx context.Context, versionID string) (*CreateCheckpointResult, error) {
	current, err := e.loadActiveVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	changeIDs, err := e.workingChangeIDs(ctx, current)
	if err != nil {
		return nil, err
	}

	tagged, newWorking, updated, err := e.commits.Checkpoint(current, changeIDs)
	if err != nil {
		return nil, fmt.Errorf("engine: creating checkpoint: %w", err)
	}
	if tagged == nil {
		return &CreateCheckpointResult{CommitID: current.CommitID}, nil
	}

	e.accessInternal = true
	defer func() { e.accessInternal = false }()

	if _, err := e.backend.Execute(ctx,
		"UPDATE lix_internal_commit SET checkpoint_tag = TRUE WHERE commit_id = $1",
		[]backend.Value{backend.Text(tagged.CommitID)}); err != nil {
		return nil, fmt.Errorf("engine: tagging checkpoint commit: %w", err)
	}
	if _, err := e.backend.Execute(ctx,
		"INSERT INTO lix_internal_commit (commit_id, change_set_id, parent_ids, change_ids, checkpoint_tag, created_at) VALUES ($1,NULL,$2,'[]',FALSE,$3)",
		[]backend.Value{backend.Text(newWorking.CommitID), backend.Text(joinIDs(newWorking.ParentIDs)), backend.Text(newWorking.CreatedAt.Format("2006-01-02T15:04:05.000Z"))}); err != nil {
		return nil, fmt.Errorf("engine: creating fresh working commit: %w", err)
	}
	if _, err := e.backend.Execute(ctx,
		"UPDATE lix_internal_version SET commit_id = $1, working_commit_id = $2 WHERE version_id = $3",
		[]backend.Value{backend.Text(updated.CommitID), backend.Text(updated.WorkingCommitID), backend.Text(updated.VersionID)}); err != nil {
		return nil, fmt.Errorf("engine: advancing version pointers: %w", err)
	}

	e.logger.LogCheckpoint(tagged.CommitID, newWorking.CommitID)
	return &CreateCheckpointResult{CommitID: tagged.CommitID}, nil
}

func (e *Engine) workingChangeIDs(ctx context.Context, v model.Version) ([]string, error) {
	rows, err := e.backend.Execute(ctx, "SELECT change_ids FROM lix_internal_commit WHERE commit_id = $1", []backend.Value{backend.Text(v.WorkingCommitID)})
	if err != nil {
		return nil, fmt.Errorf("engine: loading working commit: %w", err)
	}
	if len(rows.Values) == 0 {
		return nil, nil
	}
	return parseIDs(rows.Values[0][0].Text), nil
}

// CreateVersionOptions parameterizes CreateVersion.
type CreateVersionOptions struct {
	Name string
	From string // source version ID; defaults to the active version
}

// CreateVersion derives a new named version inheriting from an existing one
// (spec.md §6.2 create_version).
func (e *Engine) CreateVersion(ctx context.Context, opts CreateVersionOptions) (model.Version, error) {
	from, err := e.loadActiveVersion(ctx, opts.From)
	if err != nil {
		return model.Version{}, err
	}

	v, working, err := e.commits.CreateVersion(opts.Name, from)
	if err != nil {
		return model.Version{}, fmt.Errorf("engine: creating version: %w", err)
	}

	e.accessInternal = true
	defer func() { e.accessInternal = false }()

	if _, err := e.backend.Execute(ctx,
		"INSERT INTO lix_internal_commit (commit_id, change_set_id, parent_ids, change_ids, checkpoint_tag, created_at) VALUES ($1,NULL,$2,'[]',FALSE,$3)",
		[]backend.Value{backend.Text(working.CommitID), backend.Text(joinIDs(working.ParentIDs)), backend.Text(working.CreatedAt.Format("2006-01-02T15:04:05.000Z"))}); err != nil {
		return model.Version{}, fmt.Errorf("engine: creating working commit: %w", err)
	}

	var inherits backend.Value = backend.Null()
	if v.InheritsFromVersionID != nil {
		inherits = backend.Text(*v.InheritsFromVersionID)
	}
	if _, err := e.backend.Execute(ctx,
		"INSERT INTO lix_internal_version (version_id, name, commit_id, working_commit_id, inherits_from_version_id) VALUES ($1,$2,$3,$4,$5)",
		[]backend.Value{backend.Text(v.VersionID), backend.Text(v.Name), backend.Text(v.CommitID), backend.Text(v.WorkingCommitID), inherits}); err != nil {
		return model.Version{}, fmt.Errorf("engine: inserting version: %w", err)
	}

	return v, nil
}

// SwitchVersion changes the process-wide active version pointer (spec.md
// §6.2 switch_version).
func (e *Engine) SwitchVersion(ctx context.Context, versionID string) error {
	current, err := e.loadActiveVersion(ctx, "")
	if err != nil {
		return err
	}

	e.accessInternal = true
	defer func() { e.accessInternal = false }()

	if _, err := e.backend.Execute(ctx, "UPDATE lix_internal_active_version SET version_id = $1", []backend.Value{backend.Text(versionID)}); err != nil {
		return fmt.Errorf("engine: switching active version: %w", err)
	}
	e.logger.LogVersionSwitch(current.VersionID, versionID)
	return nil
}

func parseIDs(raw string) []string {
	var ids []string
	cur := ""
	inStr := false
	for _, r := range raw {
		switch {
		case r == '"':
			if inStr {
				ids = append(ids, cur)
				cur = ""
			}
			inStr = !inStr
		case inStr:
			cur += string(r)
		}
	}
	return ids
}
