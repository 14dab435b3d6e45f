// SPDX-License-Identifier: Apache-2.0

// Package pluginarchive reads lix's plugin archive format (spec.md §6.3): a
// ZIP file carrying a manifest, the plugin's compiled WASM bytes, and the
// schema documents it registers. Path-traversal guarding and duplicate
// schema-key detection happen here, before anything reaches the engine's
// install_plugin operation.
package pluginarchive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/lixdb/lix/pkg/model"
)

// Manifest is manifest.json's shape.
type Manifest struct {
	Key        string   `json:"key"`
	Runtime    string   `json:"runtime"`
	APIVersion string   `json:"api_version"`
	Match      Match    `json:"match"`
	Entry      string   `json:"entry"`
	Schemas    []string `json:"schemas"`
}

// Match is the manifest's file-selection clause.
type Match struct {
	PathGlob string `json:"path_glob"`
}

// Extracted is a fully-read, validated plugin archive.
type Extracted struct {
	Manifest Manifest
	Wasm     []byte
	Schemas  []ExtractedSchema
}

// ExtractedSchema is one schema file read out of the archive.
type ExtractedSchema struct {
	RelativePath string
	Directives   *model.SchemaDirectives
	Raw          json.RawMessage
}

const expectedRuntime = "wasm-component-v1"

// Read parses a plugin archive from raw ZIP bytes, validating the manifest
// shape, rejecting path traversal in any referenced path, loading the
// entry's WASM bytes, and parsing+validating every referenced schema file,
// rejecting duplicate (x-lix-key, x-lix-version) pairs across them (spec.md
// §6.3).
func Read(archiveBytes []byte) (*Extracted, error) {
	zr, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return nil, fmt.Errorf("plugin archive: not a valid zip: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if err := guardPath(f.Name); err != nil {
			return nil, err
		}
		files[f.Name] = f
	}

	manifestFile, ok := files["manifest.json"]
	if !ok {
		return nil, fmt.Errorf("plugin archive: missing manifest.json")
	}
	manifestRaw, err := readZipFile(manifestFile)
	if err != nil {
		return nil, fmt.Errorf("plugin archive: reading manifest.json: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(manifestRaw, &manifest); err != nil {
		return nil, fmt.Errorf("plugin archive: invalid manifest.json: %w", err)
	}
	if manifest.Key == "" {
		return nil, fmt.Errorf("plugin archive: manifest.key is required")
	}
	if manifest.Runtime != expectedRuntime {
		return nil, fmt.Errorf("plugin archive: unsupported runtime %q, expected %q", manifest.Runtime, expectedRuntime)
	}
	if manifest.Entry == "" {
		return nil, fmt.Errorf("plugin archive: manifest.entry is required")
	}
	if err := guardPath(manifest.Entry); err != nil {
		return nil, err
	}

	entryFile, ok := files[manifest.Entry]
	if !ok {
		return nil, fmt.Errorf("plugin archive: entry %q not found in archive", manifest.Entry)
	}
	wasm, err := readZipFile(entryFile)
	if err != nil {
		return nil, fmt.Errorf("plugin archive: reading entry %q: %w", manifest.Entry, err)
	}

	seen := make(map[string]string, len(manifest.Schemas))
	schemas := make([]ExtractedSchema, 0, len(manifest.Schemas))
	for _, rel := range manifest.Schemas {
		if err := guardPath(rel); err != nil {
			return nil, err
		}
		sf, ok := files[rel]
		if !ok {
			return nil, fmt.Errorf("plugin archive: schema %q not found in archive", rel)
		}
		raw, err := readZipFile(sf)
		if err != nil {
			return nil, fmt.Errorf("plugin archive: reading schema %q: %w", rel, err)
		}

		directives, err := model.ParseSchemaDirectives(raw)
		if err != nil {
			return nil, fmt.Errorf("plugin archive: schema %q: %w", rel, err)
		}

		dedupeKey := directives.Key + "~" + directives.Version
		if _, dup := seen[dedupeKey]; dup {
			return nil, model.DuplicateSchemaError{Key: dedupeKey}
		}
		seen[dedupeKey] = rel

		schemas = append(schemas, ExtractedSchema{RelativePath: rel, Directives: directives, Raw: raw})
	}

	return &Extracted{Manifest: manifest, Wasm: wasm, Schemas: schemas}, nil
}

// guardPath rejects any archive-internal path containing a relative-parent
// component (spec.md §6.3 "any relative-parent component in any path is
// rejected"), then confirms securejoin resolves it to the same path inside
// a nominal root as a second, independent check against traversal.
func guardPath(name string) error {
	if name == "" {
		return fmt.Errorf("plugin archive: empty path")
	}
	if strings.HasPrefix(name, "/") {
		return model.PathTraversalError{Path: name}
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return model.PathTraversalError{Path: name}
		}
	}

	resolved, err := securejoin.SecureJoin("/archive-root", name)
	if err != nil || resolved != path.Join("/archive-root", name) {
		return model.PathTraversalError{Path: name}
	}
	return nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
