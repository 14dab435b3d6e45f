// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FileHistoryCache holds materialized file bytes at specific historical
// commits, keyed by (file ID, commit ID). lix_file_history replays changes
// from the nearest timeline breakpoint rather than from the file's
// creation, so a cache hit here can skip most of that replay (spec.md
// §4.H "file history cache").
type FileHistoryCache struct {
	mu    sync.Mutex
	inner *lru.Cache[historyKey, []byte]
}

type historyKey struct {
	fileID   string
	commitID string
}

// NewFileHistoryCache constructs a FileHistoryCache holding up to size
// entries. History materializations are read-mostly and never mutate once
// computed — a commit is immutable, so there is no invalidation path for an
// individual entry, only eviction under size pressure.
func NewFileHistoryCache(size int) (*FileHistoryCache, error) {
	inner, err := lru.New[historyKey, []byte](size)
	if err != nil {
		return nil, err
	}
	return &FileHistoryCache{inner: inner}, nil
}

// Get returns the cached materialization of fileID as of commitID.
func (c *FileHistoryCache) Get(fileID, commitID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Get(historyKey{fileID, commitID})
}

// Upsert stores the materialization of fileID as of commitID.
func (c *FileHistoryCache) Upsert(fileID, commitID string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(historyKey{fileID, commitID}, data)
}

// Breakpoint marks a commit at which a file's full materialized bytes were
// snapshotted, so a history read can replay forward from the nearest
// breakpoint instead of from the file's creation commit.
type Breakpoint struct {
	FileID   string
	CommitID string
	// Depth is the breakpoint's distance from the file's creation commit,
	// used to pick the nearest breakpoint behind a target commit without
	// walking the full commit chain.
	Depth int
}

// TimelineBreakpoints indexes a file's breakpoints by depth so the engine
// can find the nearest one behind an arbitrary target commit with a binary
// search instead of a linear scan of the commit graph (spec.md §4.H
// "timeline breakpoints"). Populated lazily: a file with no entry here has
// simply never had its history queried.
type TimelineBreakpoints struct {
	mu     sync.Mutex
	byFile map[string][]Breakpoint // kept sorted by Depth ascending
}

// NewTimelineBreakpoints constructs an empty breakpoint index.
func NewTimelineBreakpoints() *TimelineBreakpoints {
	return &TimelineBreakpoints{byFile: make(map[string][]Breakpoint)}
}

// Record adds a breakpoint for a file, keeping that file's slice sorted by
// depth. Every BreakpointInterval'th commit touching the file should be
// recorded by the caller to bound replay length.
func (t *TimelineBreakpoints) Record(bp Breakpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.byFile[bp.FileID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Depth >= bp.Depth })
	list = append(list, Breakpoint{})
	copy(list[i+1:], list[i:])
	list[i] = bp
	t.byFile[bp.FileID] = list
}

// Nearest returns the breakpoint with the greatest depth not exceeding
// maxDepth, if any.
func (t *TimelineBreakpoints) Nearest(fileID string, maxDepth int) (Breakpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.byFile[fileID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Depth > maxDepth })
	if i == 0 {
		return Breakpoint{}, false
	}
	return list[i-1], true
}

// Invalidate drops every recorded breakpoint for a file — used when a
// file's history is rewritten outside the normal append path (e.g. a
// snapshot restore).
func (t *TimelineBreakpoints) Invalidate(fileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byFile, fileID)
}

// BreakpointInterval is the default number of commits between automatically
// recorded breakpoints for a frequently-changed file.
const BreakpointInterval = 50
