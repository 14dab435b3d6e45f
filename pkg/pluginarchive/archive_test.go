// SPDX-License-Identifier: Apache-2.0

package pluginarchive

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const validManifest = `{
  "key": "text-lines",
  "runtime": "wasm-component-v1",
  "api_version": "1",
  "match": {"path_glob": "*.txt"},
  "entry": "plugin.wasm",
  "schemas": ["schemas/line.json"]
}`

const validSchema = `{"x-lix-key": "text_line", "x-lix-version": "1"}`

func TestReadValidArchive(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"manifest.json":     validManifest,
		"plugin.wasm":       "\x00asm-fake-bytes",
		"schemas/line.json": validSchema,
	})

	extracted, err := Read(archive)
	require.NoError(t, err)
	assert.Equal(t, "text-lines", extracted.Manifest.Key)
	assert.Equal(t, "*.txt", extracted.Manifest.Match.PathGlob)
	assert.Equal(t, []byte("\x00asm-fake-bytes"), extracted.Wasm)
	require.Len(t, extracted.Schemas, 1)
	assert.Equal(t, "text_line", extracted.Schemas[0].Directives.Key)
}

func TestReadRejectsPathTraversalInSchema(t *testing.T) {
	manifest := `{
  "key": "evil",
  "runtime": "wasm-component-v1",
  "api_version": "1",
  "match": {"path_glob": "*.txt"},
  "entry": "plugin.wasm",
  "schemas": ["../../etc/passwd"]
}`
	archive := buildArchive(t, map[string]string{
		"manifest.json": manifest,
		"plugin.wasm":   "fake",
	})
	_, err := Read(archive)
	assert.ErrorContains(t, err, "traversal")
}

func TestReadRejectsDuplicateSchema(t *testing.T) {
	manifest := `{
  "key": "dup",
  "runtime": "wasm-component-v1",
  "api_version": "1",
  "match": {"path_glob": "*.txt"},
  "entry": "plugin.wasm",
  "schemas": ["a.json", "b.json"]
}`
	archive := buildArchive(t, map[string]string{
		"manifest.json": manifest,
		"plugin.wasm":   "fake",
		"a.json":        validSchema,
		"b.json":        validSchema,
	})
	_, err := Read(archive)
	assert.ErrorContains(t, err, "duplicate schema")
}

func TestReadMissingManifest(t *testing.T) {
	archive := buildArchive(t, map[string]string{"plugin.wasm": "fake"})
	_, err := Read(archive)
	assert.ErrorContains(t, err, "manifest.json")
}

func TestReadRejectsWrongRuntime(t *testing.T) {
	manifest := `{"key": "k", "runtime": "native", "entry": "plugin.wasm", "schemas": []}`
	archive := buildArchive(t, map[string]string{
		"manifest.json": manifest,
		"plugin.wasm":   "fake",
	})
	_, err := Read(archive)
	assert.ErrorContains(t, err, "unsupported runtime")
}
