// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/cache"
	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/plugin"
)

// MaterializationRequest names a file whose current bytes should be
// (re)computed from its entity changes via its plugin's apply-changes
// export (spec.md §6.2 materialization_plan).
type MaterializationRequest struct {
	FileID    string
	VersionID string
}

// MaterializationPlan is the set of file writes materialize would perform,
// without performing them — callers can inspect it before committing to the
// (potentially expensive) apply-changes replay.
type MaterializationPlan struct {
	Targets []MaterializationRequest
}

// MaterializationPlan builds the plan for the given requests: every target
// whose bytes are not already cached. Cached targets are always left out;
// there is no way to request a refresh.
func (e *Engine) MaterializationPlan(ctx context.Context, requests []MaterializationRequest) (*MaterializationPlan, error) {
	var targets []MaterializationRequest
	for _, r := range requests {
		if _, ok := e.fileData.Get(r.FileID); !ok {
			targets = append(targets, r)
		}
	}
	return &MaterializationPlan{Targets: targets}, nil
}

// ApplyMaterializationPlan executes a previously computed plan, replaying
// each target file's entity changes through its plugin's apply-changes
// export and caching the result.
func (e *Engine) ApplyMaterializationPlan(ctx context.Context, plan *MaterializationPlan) error {
	for _, t := range plan.Targets {
		if err := e.materializeOne(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Materialize is the one-shot convenience form: plan then apply for a
// single file (spec.md §6.2 materialize).
func (e *Engine) Materialize(ctx context.Context, req MaterializationRequest) ([]byte, error) {
	if data, ok := e.fileData.Get(req.FileID); ok {
		return data, nil
	}
	if err := e.materializeOne(ctx, req); err != nil {
		return nil, err
	}
	data, _ := e.fileData.Get(req.FileID)
	return data, nil
}

func (e *Engine) materializeOne(ctx context.Context, req MaterializationRequest) error {
	if e.wasmRuntime == nil {
		return fmt.Errorf("engine: materializing %q: no WASM runtime configured", req.FileID)
	}

	plugins, err := e.loadInstalledPlugins(ctx)
	if err != nil {
		return err
	}

	descRows, err := e.backend.Execute(ctx,
		"SELECT snapshot_content FROM lix_internal_state_vtable WHERE entity_id = $1 AND schema_key = 'lix_file_descriptor' AND version_id = $2",
		[]backend.Value{backend.Text(req.FileID), backend.Text(req.VersionID)})
	if err != nil {
		return fmt.Errorf("engine: loading file descriptor for %q: %w", req.FileID, err)
	}
	if len(descRows.Values) == 0 {
		return fmt.Errorf("engine: file %q has no descriptor in version %q", req.FileID, req.VersionID)
	}

	var descriptor model.FileDescriptor
	if err := json.Unmarshal([]byte(descRows.Values[0][0].Text), &descriptor); err != nil {
		return fmt.Errorf("engine: parsing file descriptor for %q: %w", req.FileID, err)
	}
	path := descriptor.Name
	if descriptor.Extension != "" {
		path = descriptor.Name + "." + descriptor.Extension
	}

	selected, ok := plugin.SelectForPath(path, pluginsAsInstalled(plugins))
	if !ok {
		return fmt.Errorf("engine: no plugin matches file %q", path)
	}

	changeRows, err := e.backend.Execute(ctx,
		"SELECT entity_id, schema_key, schema_version, snapshot_content FROM lix_internal_state_vtable WHERE file_id = $1 AND version_id = $2",
		[]backend.Value{backend.Text(req.FileID), backend.Text(req.VersionID)})
	if err != nil {
		return fmt.Errorf("engine: loading entity changes for %q: %w", req.FileID, err)
	}

	changes := make([]plugin.EntityChange, 0, len(changeRows.Values))
	for _, row := range changeRows.Values {
		var snapshot *string
		if !row[3].IsNull() {
			text := row[3].Text
			snapshot = &text
		}
		changes = append(changes, plugin.EntityChange{
			EntityID:      row[0].Text,
			SchemaKey:     row[1].Text,
			SchemaVersion: row[2].Text,
			SnapshotContent: snapshot,
		})
	}

	existing, _ := e.fileData.Get(req.FileID)
	data, err := plugin.ApplyChanges(ctx, e.wasmRuntime, selected, plugin.File{ID: req.FileID, Path: path, Data: existing}, changes)
	if err != nil {
		return fmt.Errorf("engine: applying changes for %q via plugin %q: %w", req.FileID, selected.Key, err)
	}

	e.fileData.Upsert(req.FileID, data)
	return nil
}

// breakpointFor returns the nearest timeline breakpoint for fileID within
// maxDepth. Nothing calls it: materializeOne replays every change without
// consulting the breakpoint cache.
func (e *Engine) breakpointFor(fileID string, maxDepth int) (cache.Breakpoint, bool) {
	return e.breakpoints.Nearest(fileID, maxDepth)
}
