// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lixdb/lix/pkg/model"
)

func TestFileDataCacheUpsertGetInvalidate(t *testing.T) {
	c, err := NewFileDataCache(8)
	require.NoError(t, err)

	_, ok := c.Get("file-1")
	assert.False(t, ok)

	c.Upsert("file-1", []byte("hello"))
	data, ok := c.Get("file-1")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)

	c.Invalidate("file-1")
	_, ok = c.Get("file-1")
	assert.False(t, ok)
}

func TestFileDataCacheInvalidateAll(t *testing.T) {
	c, err := NewFileDataCache(8)
	require.NoError(t, err)
	c.Upsert("a", []byte("1"))
	c.Upsert("b", []byte("2"))
	c.InvalidateAll()
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestInstalledPluginsCache(t *testing.T) {
	c := NewInstalledPluginsCache()
	_, loaded := c.Get()
	assert.False(t, loaded)

	c.Set([]model.PluginRecord{{Key: "text-lines"}})
	plugins, loaded := c.Get()
	require.True(t, loaded)
	assert.Len(t, plugins, 1)
	assert.Equal(t, "text-lines", plugins[0].Key)

	c.Invalidate()
	_, loaded = c.Get()
	assert.False(t, loaded)
}

func TestFileHistoryCache(t *testing.T) {
	c, err := NewFileHistoryCache(4)
	require.NoError(t, err)

	_, ok := c.Get("f1", "c1")
	assert.False(t, ok)

	c.Upsert("f1", "c1", []byte("v1"))
	data, ok := c.Get("f1", "c1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), data)

	_, ok = c.Get("f1", "c2")
	assert.False(t, ok)
}

func TestTimelineBreakpointsNearest(t *testing.T) {
	tb := NewTimelineBreakpoints()
	_, ok := tb.Nearest("f1", 100)
	assert.False(t, ok)

	tb.Record(Breakpoint{FileID: "f1", CommitID: "c50", Depth: 50})
	tb.Record(Breakpoint{FileID: "f1", CommitID: "c100", Depth: 100})
	tb.Record(Breakpoint{FileID: "f1", CommitID: "c25", Depth: 25})

	bp, ok := tb.Nearest("f1", 60)
	require.True(t, ok)
	assert.Equal(t, "c50", bp.CommitID)

	bp, ok = tb.Nearest("f1", 100)
	require.True(t, ok)
	assert.Equal(t, "c100", bp.CommitID)

	_, ok = tb.Nearest("f1", 10)
	assert.False(t, ok)

	tb.Invalidate("f1")
	_, ok = tb.Nearest("f1", 100)
	assert.False(t, ok)
}
