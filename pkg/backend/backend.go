// SPDX-License-Identifier: Apache-2.0

// Package backend defines the dialect-abstracted contract every physical SQL
// backend (SQLite or PostgreSQL) must satisfy, per spec.md §6.1. The concrete
// connection pool / driver wiring is an external collaborator: this package
// owns only the contract, the dialect tag, and the lowering of lix's logical
// functions to each dialect's primitives.
package backend

import (
	"context"
	"fmt"
	"io"
)

// SQLDialect tags which physical backend a Backend talks to.
type SQLDialect int

const (
	Sqlite SQLDialect = iota
	Postgres
)

func (d SQLDialect) String() string {
	switch d {
	case Sqlite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// Value is the sum type every bound parameter and every returned column
// value is expressed in, so that rewrite and validation never depend on a
// particular driver's native types.
type Value struct {
	Kind    ValueKind
	Integer int64
	Real    float64
	Text    string
	Blob    []byte
}

func Null() Value                { return Value{Kind: KindNull} }
func Integer(v int64) Value      { return Value{Kind: KindInteger, Integer: v} }
func Real(v float64) Value       { return Value{Kind: KindReal, Real: v} }
func Text(v string) Value        { return Value{Kind: KindText, Text: v} }
func Blob(v []byte) Value        { return Value{Kind: KindBlob, Blob: v} }

// IsNull reports whether the value is SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Any returns the value unwrapped to its native Go representation, for
// callers (JSON schema validation, CEL evaluation) that want a plain value.
func (v Value) Any() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInteger:
		return v.Integer
	case KindReal:
		return v.Real
	case KindText:
		return v.Text
	case KindBlob:
		return v.Blob
	default:
		return nil
	}
}

// Rows is the tabular result of a single statement execution.
type Rows struct {
	Columns []string
	Values  [][]Value
}

// Scalar returns the single-row single-column value of the result set, or
// Null if the result set is empty. Used throughout the engine for
// aggregate/scalar reads (latest_version-style lookups).
func (r *Rows) Scalar() Value {
	if len(r.Values) == 0 || len(r.Values[0]) == 0 {
		return Null()
	}
	return r.Values[0][0]
}

// Backend is the single point of contact with the physical store. A
// Transaction satisfies the same capability so that rewrite and side-effect
// collection can run either directly against a Backend or inside an open
// Transaction without branching (spec.md §9 "polymorphism over capability
// sets").
type Backend interface {
	Dialect() SQLDialect
	Execute(ctx context.Context, sql string, params []Value) (*Rows, error)
	BeginTransaction(ctx context.Context) (Transaction, error)

	// ExportSnapshot and RestoreFromSnapshot move the physical store's bytes
	// through a chunked stream (spec.md §6.1). The chunking scheme and page
	// format are the concrete backend driver's concern, out of scope here;
	// this package only fixes the contract shape.
	ExportSnapshot(ctx context.Context, w io.Writer) error
	RestoreFromSnapshot(ctx context.Context, r io.Reader) error
}

// Transaction is a Backend plus commit/rollback. Calling Execute after
// Commit or Rollback is an error.
type Transaction interface {
	Backend
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ErrTransactionClosed is returned by Execute on an already-committed or
// already-rolled-back Transaction.
var ErrTransactionClosed = fmt.Errorf("transaction is already closed")

// AsBackend adapts a Transaction to the plain Backend interface, so code
// paths written against Backend are reusable unchanged inside a
// transactional scope.
func AsBackend(tx Transaction) Backend { return tx }
