// SPDX-License-Identifier: Apache-2.0

// Package cache holds lix's in-process caches over materialized state: file
// bytes, per-file timeline breakpoints, and installed plugin records
// (spec.md §4.H). The two byte caches are size-bounded LRUs; the breakpoint
// index and the plugin list have no size bound. All are invalidated by
// callbacks rather than a TTL — lix has no notion of stale reads, only
// uninvalidated ones.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lixdb/lix/pkg/model"
)

// FileDataCache holds the materialized bytes of a file at the active
// version's current state, keyed by file ID. Plugin apply-changes output is
// expensive to recompute (it replays every change since the last
// materialization), so a write invalidates rather than recomputes.
type FileDataCache struct {
	mu    sync.Mutex
	inner *lru.Cache[string, []byte]
}

// NewFileDataCache constructs a FileDataCache holding up to size entries.
func NewFileDataCache(size int) (*FileDataCache, error) {
	inner, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &FileDataCache{inner: inner}, nil
}

// Get returns the cached bytes for fileID, if present.
func (c *FileDataCache) Get(fileID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(fileID)
}

// Upsert stores the materialized bytes for fileID, replacing any prior
// entry.
func (c *FileDataCache) Upsert(fileID string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(fileID, data)
}

// Invalidate drops fileID's cached bytes, forcing the next read to
// rematerialize through the plugin boundary.
func (c *FileDataCache) Invalidate(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(fileID)
}

// InvalidateAll drops every cached entry — used when a snapshot restore
// makes the whole keyspace stale at once.
func (c *FileDataCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}

// InstalledPluginsCache holds the decoded plugin records lix consults on
// every write to find the detect-changes/apply-changes component matching a
// file's extension (spec.md §4.F "plugin selection"). Small and
// long-lived: invalidated wholesale on install/uninstall, never per-entry.
type InstalledPluginsCache struct {
	mu      sync.RWMutex
	plugins []model.PluginRecord
	loaded  bool
}

// NewInstalledPluginsCache constructs an empty, unloaded cache.
func NewInstalledPluginsCache() *InstalledPluginsCache {
	return &InstalledPluginsCache{}
}

// Get returns the cached plugin list and whether it has been populated
// since the last invalidation.
func (c *InstalledPluginsCache) Get() ([]model.PluginRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plugins, c.loaded
}

// Set replaces the cached plugin list, marking it loaded.
func (c *InstalledPluginsCache) Set(plugins []model.PluginRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins = plugins
	c.loaded = true
}

// Invalidate marks the cache unloaded, forcing the next Get's caller to
// reload from lix_internal_plugin.
func (c *InstalledPluginsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plugins = nil
	c.loaded = false
}
