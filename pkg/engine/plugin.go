// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/plugin"
	"github.com/lixdb/lix/pkg/pluginarchive"
)

// InstallPlugin validates and upserts a plugin archive's manifest, WASM
// bytes and schemas, then invalidates the installed-plugins cache (spec.md
// §6.2 install_plugin). Schemas the archive carries are upserted straight
// into lix_internal_state_vtable as lix_stored_schema rows; they bypass the
// rewrite engine, the validation layer and the SchemaStore, so only the
// archive reader's directive parsing and duplicate check apply to them.
func (e *Engine) InstallPlugin(ctx context.Context, archiveBytes []byte) (*model.PluginRecord, error) {
	extracted, err := pluginarchive.Read(archiveBytes)
	if err != nil {
		return nil, err
	}
	return e.installExtracted(ctx, extracted)
}

// InstallPluginManifest installs a plugin from an already-decoded manifest
// and WASM payload, the second form spec.md §6.2 allows install_plugin to
// take.
func (e *Engine) InstallPluginManifest(ctx context.Context, manifestJSON []byte, wasm []byte) (*model.PluginRecord, error) {
	var manifest pluginarchive.Manifest
	if err := json.Unmarshal(manifestJSON, &manifest); err != nil {
		return nil, fmt.Errorf("engine: invalid plugin manifest: %w", err)
	}
	return e.installExtracted(ctx, &pluginarchive.Extracted{Manifest: manifest, Wasm: wasm})
}

func (e *Engine) installExtracted(ctx context.Context, extracted *pluginarchive.Extracted) (*model.PluginRecord, error) {
	e.accessInternal = true
	defer func() { e.accessInternal = false }()

	for _, s := range extracted.Schemas {
		if _, err := e.backend.Execute(ctx,
			"INSERT INTO lix_internal_state_vtable (entity_id, schema_key, file_id, snapshot_content) VALUES ($1, $2, 'lix', $3) ON CONFLICT (entity_id) DO UPDATE SET snapshot_content = excluded.snapshot_content",
			[]backend.Value{
				backend.Text(s.Directives.Key + "~" + s.Directives.Version),
				backend.Text(model.StoredSchemaKey),
				backend.Text(string(s.Raw)),
			}); err != nil {
			return nil, fmt.Errorf("engine: registering plugin schema %q: %w", s.Directives.Key, err)
		}
	}

	manifestJSON, err := json.Marshal(extracted.Manifest)
	if err != nil {
		return nil, fmt.Errorf("engine: encoding plugin manifest: %w", err)
	}

	record := model.PluginRecord{
		Key:           extracted.Manifest.Key,
		Runtime:       extracted.Manifest.Runtime,
		APIVersion:    extracted.Manifest.APIVersion,
		MatchPathGlob: extracted.Manifest.Match.PathGlob,
		Entry:         extracted.Manifest.Entry,
		ManifestJSON:  manifestJSON,
		Wasm:          extracted.Wasm,
	}

	if _, err := e.backend.Execute(ctx,
		"INSERT INTO lix_internal_plugin (key, runtime, api_version, match_path_glob, entry, manifest_json, wasm) VALUES ($1,$2,$3,$4,$5,$6,$7) ON CONFLICT (key) DO UPDATE SET runtime=excluded.runtime, api_version=excluded.api_version, match_path_glob=excluded.match_path_glob, entry=excluded.entry, manifest_json=excluded.manifest_json, wasm=excluded.wasm",
		[]backend.Value{
			backend.Text(record.Key), backend.Text(record.Runtime), backend.Text(record.APIVersion),
			backend.Text(record.MatchPathGlob), backend.Text(record.Entry), backend.Blob(record.ManifestJSON), backend.Blob(record.Wasm),
		}); err != nil {
		return nil, fmt.Errorf("engine: upserting plugin record: %w", err)
	}

	e.InvalidateInstalledPluginsCache()
	e.logger.LogPluginInstalled(record.Key)
	return &record, nil
}

// loadInstalledPlugins returns the cached plugin list, loading it from
// lix_internal_plugin on a cache miss.
func (e *Engine) loadInstalledPlugins(ctx context.Context) ([]model.PluginRecord, error) {
	if cached, ok := e.installedPlugins.Get(); ok {
		return cached, nil
	}

	e.accessInternal = true
	defer func() { e.accessInternal = false }()

	rows, err := e.backend.Execute(ctx, "SELECT key, runtime, api_version, match_path_glob, entry, manifest_json, wasm FROM lix_internal_plugin", nil)
	if err != nil {
		return nil, fmt.Errorf("engine: loading installed plugins: %w", err)
	}

	plugins := make([]model.PluginRecord, 0, len(rows.Values))
	for _, row := range rows.Values {
		plugins = append(plugins, model.PluginRecord{
			Key: row[0].Text, Runtime: row[1].Text, APIVersion: row[2].Text,
			MatchPathGlob: row[3].Text, Entry: row[4].Text,
			ManifestJSON: row[5].Blob, Wasm: row[6].Blob,
		})
	}
	e.installedPlugins.Set(plugins)
	return plugins, nil
}

func pluginsAsInstalled(records []model.PluginRecord) []plugin.InstalledPlugin {
	out := make([]plugin.InstalledPlugin, len(records))
	for i, r := range records {
		out[i] = plugin.InstalledPlugin{Key: r.Key, DetectChangesGlob: r.MatchPathGlob, Wasm: r.Wasm}
	}
	return out
}
