// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"encoding/json"
	"fmt"
)

var detectChangesExports = []string{"detect-changes", "api#detect-changes"}
var applyChangesExports = []string{"apply-changes", "api#apply-changes"}

// Instance is a loaded WASM component ready to service plugin calls. Export
// resolution tries each of a handful of known export names in turn, since
// both a bare `detect-changes` export and a `api#detect-changes`
// interface-qualified export are valid depending on how the component was
// built.
type Instance interface {
	Call(ctx context.Context, export string, payload []byte) ([]byte, error)
}

// Runtime loads a plugin's compiled WASM bytes into a callable Instance.
// The component model wiring itself (linking, memory limits, host imports)
// lives behind this interface and is out of scope here.
type Runtime interface {
	LoadComponent(ctx context.Context, key string, wasm []byte) (Instance, error)
}

// DetectFileChanges runs every pending file write through its selected
// plugin's detect-changes export, collecting the entity changes each
// plugin reports (spec.md §4.F). A write whose path matches no installed
// plugin is silently skipped — lix only tracks file types it has a plugin
// for.
func DetectFileChanges(ctx context.Context, rt Runtime, plugins []InstalledPlugin, writes []DetectionRequest) ([]DetectedChange, error) {
	if len(writes) == 0 || len(plugins) == 0 {
		return nil, nil
	}

	var detected []DetectedChange
	for _, write := range writes {
		selected, ok := SelectForPath(write.Path, plugins)
		if !ok {
			continue
		}

		var before *File
		if write.BeforeData != nil {
			before = &File{ID: write.FileID, Path: write.Path, Data: write.BeforeData}
		}
		after := File{ID: write.FileID, Path: write.Path, Data: write.AfterData}

		payload, err := json.Marshal(detectChangesRequest{Before: before, After: after})
		if err != nil {
			return nil, fmt.Errorf("plugin detect-changes: encoding request: %w", err)
		}

		instance, err := rt.LoadComponent(ctx, selected.Key, selected.Wasm)
		if err != nil {
			return nil, fmt.Errorf("plugin detect-changes: loading component %q: %w", selected.Key, err)
		}

		output, err := callExports(ctx, instance, detectChangesExports, payload)
		if err != nil {
			return nil, fmt.Errorf("plugin detect-changes: calling plugin %q: %w", selected.Key, err)
		}

		var changes []EntityChange
		if err := json.Unmarshal(output, &changes); err != nil {
			return nil, fmt.Errorf("plugin detect-changes: decoding output from %q: %w", selected.Key, err)
		}

		seen := make(map[[2]string]bool, len(changes))
		for _, c := range changes {
			key := [2]string{c.SchemaKey, c.EntityID}
			if seen[key] {
				return nil, fmt.Errorf("plugin detect-changes: duplicate change key for plugin %q file %q version %q: schema_key=%q entity_id=%q",
					selected.Key, write.FileID, write.VersionID, c.SchemaKey, c.EntityID)
			}
			seen[key] = true

			detected = append(detected, DetectedChange{
				EntityID:        c.EntityID,
				SchemaKey:       c.SchemaKey,
				SchemaVersion:   c.SchemaVersion,
				FileID:          write.FileID,
				VersionID:       write.VersionID,
				PluginKey:       selected.Key,
				SnapshotContent: c.SnapshotContent,
			})
		}
	}

	return detected, nil
}

// ApplyChanges runs a file's current entity changes through its plugin's
// apply-changes export to rematerialize the file's bytes (spec.md §4.F).
func ApplyChanges(ctx context.Context, rt Runtime, p InstalledPlugin, file File, changes []EntityChange) ([]byte, error) {
	payload, err := json.Marshal(applyChangesRequest{File: file, Changes: changes})
	if err != nil {
		return nil, fmt.Errorf("plugin apply-changes: encoding request: %w", err)
	}

	instance, err := rt.LoadComponent(ctx, p.Key, p.Wasm)
	if err != nil {
		return nil, fmt.Errorf("plugin apply-changes: loading component %q: %w", p.Key, err)
	}

	return callExports(ctx, instance, applyChangesExports, payload)
}

func callExports(ctx context.Context, instance Instance, exports []string, payload []byte) ([]byte, error) {
	var errs []error
	for _, export := range exports {
		out, err := instance.Call(ctx, export, payload)
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", export, err))
	}
	return nil, fmt.Errorf("no matching export found: %v", errs)
}
