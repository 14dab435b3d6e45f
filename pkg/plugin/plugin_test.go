// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectForPathGlobs(t *testing.T) {
	plugins := []InstalledPlugin{
		{Key: "text-lines", DetectChangesGlob: "*.txt"},
		{Key: "catch-all", DetectChangesGlob: "**/*"},
	}

	p, ok := SelectForPath("/notes/todo.TXT", plugins)
	require.True(t, ok)
	assert.Equal(t, "text-lines", p.Key)

	p, ok = SelectForPath("/notes/todo.csv", plugins)
	require.True(t, ok)
	assert.Equal(t, "catch-all", p.Key)
}

func TestSelectForPathNoMatch(t *testing.T) {
	plugins := []InstalledPlugin{{Key: "text-lines", DetectChangesGlob: "*.txt"}}
	_, ok := SelectForPath("/notes/todo.csv", plugins)
	assert.False(t, ok)
}

type fakeInstance struct {
	output []byte
	err    error
}

func (f *fakeInstance) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	return f.output, f.err
}

type fakeRuntime struct {
	instance Instance
}

func (f *fakeRuntime) LoadComponent(ctx context.Context, key string, wasm []byte) (Instance, error) {
	return f.instance, nil
}

func TestDetectFileChangesAnnotatesPluginKey(t *testing.T) {
	changes := []EntityChange{
		{EntityID: "e1", SchemaKey: "line", SchemaVersion: "1"},
	}
	out, _ := json.Marshal(changes)
	rt := &fakeRuntime{instance: &fakeInstance{output: out}}

	plugins := []InstalledPlugin{{Key: "text-lines", DetectChangesGlob: "*.txt"}}
	writes := []DetectionRequest{
		{FileID: "f1", VersionID: "v1", Path: "/a.txt", AfterData: []byte("hello")},
	}

	detected, err := DetectFileChanges(context.Background(), rt, plugins, writes)
	require.NoError(t, err)
	require.Len(t, detected, 1)
	assert.Equal(t, "e1", detected[0].EntityID)
	assert.Equal(t, "text-lines", detected[0].PluginKey)
}

func TestDetectFileChangesDuplicateKeyErrors(t *testing.T) {
	changes := []EntityChange{
		{EntityID: "e1", SchemaKey: "line"},
		{EntityID: "e1", SchemaKey: "line"},
	}
	out, _ := json.Marshal(changes)
	rt := &fakeRuntime{instance: &fakeInstance{output: out}}
	plugins := []InstalledPlugin{{Key: "text-lines", DetectChangesGlob: "*.txt"}}
	writes := []DetectionRequest{{FileID: "f1", VersionID: "v1", Path: "/a.txt", AfterData: []byte("x")}}

	_, err := DetectFileChanges(context.Background(), rt, plugins, writes)
	assert.Error(t, err)
}

func TestDetectFileChangesSkipsUnmatchedPlugin(t *testing.T) {
	rt := &fakeRuntime{instance: &fakeInstance{output: []byte("[]")}}
	plugins := []InstalledPlugin{{Key: "text-lines", DetectChangesGlob: "*.txt"}}
	writes := []DetectionRequest{{FileID: "f1", VersionID: "v1", Path: "/a.csv", AfterData: []byte("x")}}

	detected, err := DetectFileChanges(context.Background(), rt, plugins, writes)
	require.NoError(t, err)
	assert.Empty(t, detected)
}
