// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"
	serializationFailureCode  pq.ErrorCode = "40001"
	maxBackoffDuration                     = time.Minute
	backoffInterval                        = time.Second
)

// PostgresBackend wraps a *sql.DB opened against lib/pq, retrying statements
// that fail with a lock-timeout or serialization-failure error using an
// exponential backoff with jitter, the same retry shape as pgroll's
// pkg/db.RDB.
type PostgresBackend struct {
	DB *sql.DB
}

func (b *PostgresBackend) Dialect() SQLDialect { return Postgres }

func (b *PostgresBackend) Execute(ctx context.Context, query string, params []Value) (*Rows, error) {
	return retryingExecute(ctx, func(ctx context.Context) (*Rows, error) {
		return execSQLDB(ctx, b.DB, query, params)
	})
}

func (b *PostgresBackend) BeginTransaction(ctx context.Context) (Transaction, error) {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

func (b *PostgresBackend) Close() error { return b.DB.Close() }

// ExportSnapshot and RestoreFromSnapshot are unimplemented for Postgres: a
// consistent physical snapshot needs pg_dump/pg_basebackup against the
// server's data directory, a separate operational tool outside a *sql.DB
// connection's reach, and explicitly out of scope for this contract
// (spec.md §1).
func (b *PostgresBackend) ExportSnapshot(ctx context.Context, w io.Writer) error {
	return errors.New("backend: ExportSnapshot is not supported by PostgresBackend; use pg_dump/pg_basebackup")
}

func (b *PostgresBackend) RestoreFromSnapshot(ctx context.Context, r io.Reader) error {
	return errors.New("backend: RestoreFromSnapshot is not supported by PostgresBackend; use pg_restore")
}

type postgresTx struct {
	tx     *sql.Tx
	closed bool
}

func (t *postgresTx) Dialect() SQLDialect { return Postgres }

func (t *postgresTx) Execute(ctx context.Context, query string, params []Value) (*Rows, error) {
	if t.closed {
		return nil, ErrTransactionClosed
	}
	return retryingExecute(ctx, func(ctx context.Context) (*Rows, error) {
		return execSQLTx(ctx, t.tx, query, params)
	})
}

func (t *postgresTx) BeginTransaction(ctx context.Context) (Transaction, error) {
	return nil, errors.New("backend: nested transactions are not supported")
}

func (t *postgresTx) Commit(ctx context.Context) error {
	t.closed = true
	return t.tx.Commit()
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	t.closed = true
	return t.tx.Rollback()
}

func (t *postgresTx) ExportSnapshot(ctx context.Context, w io.Writer) error {
	return errors.New("backend: ExportSnapshot is not supported inside a transaction")
}

func (t *postgresTx) RestoreFromSnapshot(ctx context.Context, r io.Reader) error {
	return errors.New("backend: RestoreFromSnapshot is not supported inside a transaction")
}

func retryingExecute(ctx context.Context, run func(context.Context) (*Rows, error)) (*Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		rows, err := run(ctx)
		if err == nil {
			return rows, nil
		}

		pqErr := &pq.Error{}
		if errors.As(err, &pqErr) && (pqErr.Code == lockNotAvailableErrorCode || pqErr.Code == serializationFailureCode) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.Duration()):
			}
			continue
		}
		return nil, err
	}
}
