// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"io"
)

// FakeBackend is an in-memory table-keyed stand-in for a physical backend,
// used by unit tests that exercise the rewrite and orchestration layers
// without a real database connection. It is deliberately minimal: it
// records every statement it is asked to execute and returns canned
// responses keyed by the exact SQL text, mirroring the spirit (if not the
// no-op bluntness) of pgroll's db.FakeDB.
type FakeBackend struct {
	dialect   SQLDialect
	Responses map[string]*Rows
	Executed  []ExecutedStatement
	Err       error

	// Snapshot backs ExportSnapshot/RestoreFromSnapshot with an in-memory
	// buffer, enough for tests asserting the engine's snapshot plumbing
	// without a real backend.
	Snapshot []byte
}

// ExecutedStatement records one call to Execute, for test assertions.
type ExecutedStatement struct {
	SQL    string
	Params []Value
}

func NewFakeBackend(dialect SQLDialect) *FakeBackend {
	return &FakeBackend{dialect: dialect, Responses: map[string]*Rows{}}
}

func (f *FakeBackend) Dialect() SQLDialect { return f.dialect }

func (f *FakeBackend) Execute(ctx context.Context, sql string, params []Value) (*Rows, error) {
	f.Executed = append(f.Executed, ExecutedStatement{SQL: sql, Params: params})
	if f.Err != nil {
		return nil, f.Err
	}
	if r, ok := f.Responses[sql]; ok {
		return r, nil
	}
	return &Rows{}, nil
}

func (f *FakeBackend) BeginTransaction(ctx context.Context) (Transaction, error) {
	return &fakeTx{FakeBackend: f}, nil
}

func (f *FakeBackend) ExportSnapshot(ctx context.Context, w io.Writer) error {
	_, err := w.Write(f.Snapshot)
	return err
}

func (f *FakeBackend) RestoreFromSnapshot(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.Snapshot = data
	return nil
}

type fakeTx struct {
	*FakeBackend
	committed, rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { t.rolledBack = true; return nil }
