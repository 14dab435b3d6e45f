// SPDX-License-Identifier: Apache-2.0

// Package observe implements the process-wide state-commit event bus
// (spec.md §4.J): every committed write fans out to subscribed listeners,
// each filtered independently, over a bounded pull-based queue.
package observe

import (
	"context"
	"strings"
	"sync"

	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/rewrite"
)

// MaxPendingBatchesPerListener bounds a listener's queue; once full, the
// oldest pending batch is dropped to admit the new one (spec.md §4.J).
const MaxPendingBatchesPerListener = 256

// Operation tags the logical mutation kind a Change represents in the
// stream, independent of how the rewrite engine physically stored it.
type Operation int

const (
	OperationInsert Operation = iota
	OperationUpdate
	OperationDelete
)

// Change is one entity-level mutation folded into a commit.
type Change struct {
	Operation     Operation
	EntityID      string
	SchemaKey     string
	SchemaVersion string
	FileID        string
	VersionID     string
	PluginKey     string
	Snapshot      model.Snapshot
	Untracked     bool
	WriterKey     *string
}

// Batch is everything one commit touched, with a bus-wide monotone
// sequence number.
type Batch struct {
	Sequence int64
	Changes  []Change
}

// Filter selects which batches a listener receives. Matching is AND across
// non-empty fields and OR within each field's list; include_untracked
// controls whether untracked (in-memory) writes are delivered at all.
type Filter struct {
	SchemaKeys         []string
	EntityIDs          []string
	FileIDs            []string
	VersionIDs         []string
	WriterKeys         []string
	ExcludeWriterKeys  []string
	IncludeUntracked   bool
}

type compiledFilter struct {
	schemaKeys        map[string]bool
	entityIDs         map[string]bool
	fileIDs           map[string]bool
	versionIDs        map[string]bool
	writerKeys        map[string]bool
	excludeWriterKeys map[string]bool
	includeUntracked  bool
}

func compile(f Filter) compiledFilter {
	return compiledFilter{
		schemaKeys:        toSet(f.SchemaKeys),
		entityIDs:         toSet(f.EntityIDs),
		fileIDs:           toSet(f.FileIDs),
		versionIDs:        toSet(f.VersionIDs),
		writerKeys:        toSet(f.WriterKeys),
		excludeWriterKeys: toSet(f.ExcludeWriterKeys),
		includeUntracked:  f.IncludeUntracked,
	}
}

func toSet(values []string) map[string]bool {
	out := map[string]bool{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out[v] = true
		}
	}
	return out
}

func (f compiledFilter) isWildcard() bool {
	return len(f.schemaKeys) == 0 && len(f.entityIDs) == 0 && len(f.fileIDs) == 0 && len(f.versionIDs) == 0 && len(f.writerKeys) == 0
}

func (f compiledFilter) matchesBatch(b Batch) bool {
	for _, c := range b.Changes {
		if f.matchesChange(c) {
			return true
		}
	}
	return false
}

func (f compiledFilter) matchesChange(c Change) bool {
	if !f.includeUntracked && c.Untracked {
		return false
	}
	if len(f.schemaKeys) > 0 && !f.schemaKeys[c.SchemaKey] {
		return false
	}
	if len(f.entityIDs) > 0 && !f.entityIDs[c.EntityID] {
		return false
	}
	if len(f.fileIDs) > 0 && !f.fileIDs[c.FileID] {
		return false
	}
	if len(f.versionIDs) > 0 && !f.versionIDs[c.VersionID] {
		return false
	}
	if len(f.writerKeys) > 0 {
		if c.WriterKey == nil || !f.writerKeys[*c.WriterKey] {
			return false
		}
	}
	if c.WriterKey != nil && f.excludeWriterKeys[*c.WriterKey] {
		return false
	}
	return true
}

// Bus is the process-wide dispatcher every Engine owns one of.
type Bus struct {
	mu             sync.Mutex
	nextListenerID uint64
	nextSequence   int64
	listeners      map[uint64]*listenerEntry
	wildcards      map[uint64]bool
	byField        [5]map[string]map[uint64]bool // schema, entity, file, version, writer
}

type listenerEntry struct {
	filter compiledFilter
	queue  *Stream
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	b := &Bus{
		listeners: map[uint64]*listenerEntry{},
		wildcards: map[uint64]bool{},
	}
	for i := range b.byField {
		b.byField[i] = map[string]map[uint64]bool{}
	}
	return b
}

const (
	fieldSchema = iota
	fieldEntity
	fieldFile
	fieldVersion
	fieldWriter
)

// Subscribe registers a new listener and returns its pull-based Stream.
func (b *Bus) Subscribe(filter Filter) *Stream {
	cf := compile(filter)
	s := &Stream{notify: make(chan struct{}, 1)}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextListenerID
	b.nextListenerID++
	b.listeners[id] = &listenerEntry{filter: cf, queue: s}
	s.bus = b
	s.id = id

	if cf.isWildcard() {
		b.wildcards[id] = true
	}
	index(b.byField[fieldSchema], cf.schemaKeys, id)
	index(b.byField[fieldEntity], cf.entityIDs, id)
	index(b.byField[fieldFile], cf.fileIDs, id)
	index(b.byField[fieldVersion], cf.versionIDs, id)
	index(b.byField[fieldWriter], cf.writerKeys, id)

	return s
}

func index(m map[string]map[uint64]bool, keys map[string]bool, id uint64) {
	for k := range keys {
		if m[k] == nil {
			m[k] = map[uint64]bool{}
		}
		m[k][id] = true
	}
}

func unindex(m map[string]map[uint64]bool, keys map[string]bool, id uint64) {
	for k := range keys {
		if ids, ok := m[k]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(m, k)
			}
		}
	}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.listeners[id]
	if !ok {
		return
	}
	delete(b.listeners, id)
	delete(b.wildcards, id)
	unindex(b.byField[fieldSchema], entry.filter.schemaKeys, id)
	unindex(b.byField[fieldEntity], entry.filter.entityIDs, id)
	unindex(b.byField[fieldFile], entry.filter.fileIDs, id)
	unindex(b.byField[fieldVersion], entry.filter.versionIDs, id)
	unindex(b.byField[fieldWriter], entry.filter.writerKeys, id)
}

// Emit fans changes out to every matching listener as one Batch, tagged
// with the bus-wide monotone sequence. A no-op for an empty change set.
func (b *Bus) Emit(changes []Change) {
	if len(changes) == 0 {
		return
	}

	b.mu.Lock()
	candidates := map[uint64]bool{}
	for id := range b.wildcards {
		candidates[id] = true
	}
	touched := touchedFields(changes)
	extend(candidates, b.byField[fieldSchema], touched.schemaKeys)
	extend(candidates, b.byField[fieldEntity], touched.entityIDs)
	extend(candidates, b.byField[fieldFile], touched.fileIDs)
	extend(candidates, b.byField[fieldVersion], touched.versionIDs)
	extend(candidates, b.byField[fieldWriter], touched.writerKeys)

	if len(candidates) == 0 {
		b.mu.Unlock()
		return
	}

	seq := b.nextSequence
	b.nextSequence++
	batch := Batch{Sequence: seq, Changes: changes}

	entries := make([]*listenerEntry, 0, len(candidates))
	for id := range candidates {
		if e, ok := b.listeners[id]; ok {
			entries = append(entries, e)
		}
	}
	b.mu.Unlock()

	for _, e := range entries {
		if !e.filter.matchesBatch(batch) {
			continue
		}
		e.queue.enqueue(batch)
	}
}

type touched struct {
	schemaKeys  map[string]bool
	entityIDs   map[string]bool
	fileIDs     map[string]bool
	versionIDs  map[string]bool
	writerKeys  map[string]bool
}

func touchedFields(changes []Change) touched {
	t := touched{
		schemaKeys: map[string]bool{}, entityIDs: map[string]bool{}, fileIDs: map[string]bool{},
		versionIDs: map[string]bool{}, writerKeys: map[string]bool{},
	}
	for _, c := range changes {
		t.schemaKeys[c.SchemaKey] = true
		t.entityIDs[c.EntityID] = true
		t.fileIDs[c.FileID] = true
		t.versionIDs[c.VersionID] = true
		if c.WriterKey != nil {
			t.writerKeys[*c.WriterKey] = true
		}
	}
	return t
}

func extend(candidates map[uint64]bool, index map[string]map[uint64]bool, keys map[string]bool) {
	for k := range keys {
		for id := range index[k] {
			candidates[id] = true
		}
	}
}

// Stream is a listener's pull-based handle onto the bus: a bounded,
// drop-oldest FIFO of batches, with both a non-blocking TryNext and a
// context-aware blocking Next.
type Stream struct {
	bus    *Bus
	id     uint64
	mu     sync.Mutex
	queue  []Batch
	notify chan struct{}
	closed bool
}

// TryNext pops the oldest pending batch without blocking.
func (s *Stream) TryNext() (Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Batch{}, false
	}
	b := s.queue[0]
	s.queue = s.queue[1:]
	return b, true
}

// Next blocks until a batch is available, the stream closes (returning
// false), or ctx is done.
func (s *Stream) Next(ctx context.Context) (Batch, bool) {
	for {
		if b, ok := s.TryNext(); ok {
			return b, true
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Batch{}, false
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return Batch{}, false
		case <-s.notify:
		}
	}
}

func (s *Stream) enqueue(b Batch) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= MaxPendingBatchesPerListener {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, b)
	s.mu.Unlock()
	s.wake()
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close unsubscribes the stream from its bus. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.wake()
	if s.bus != nil {
		s.bus.unsubscribe(s.id)
	}
}

// ChangesFromMutations adapts the rewrite engine's MutationRows into
// stream Changes for a just-committed write (spec.md §4.J).
func ChangesFromMutations(mutations []rewrite.MutationRow, writerKey *string) []Change {
	if len(mutations) == 0 {
		return nil
	}
	out := make([]Change, 0, len(mutations))
	for _, m := range mutations {
		out = append(out, Change{
			Operation:     operationFromMutation(m.Operation),
			EntityID:      m.EntityID,
			SchemaKey:     m.SchemaKey,
			SchemaVersion: m.SchemaVersion,
			FileID:        m.FileID,
			VersionID:     m.VersionID,
			PluginKey:     m.PluginKey,
			Snapshot:      m.Snapshot,
			Untracked:     m.Untracked,
			WriterKey:     writerKey,
		})
	}
	return out
}

func operationFromMutation(op rewrite.MutationOperation) Operation {
	switch op {
	case rewrite.MutationUpdate:
		return OperationUpdate
	case rewrite.MutationDelete:
		return OperationDelete
	default:
		return OperationInsert
	}
}
