// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"database/sql"
)

// execSQLDB and execSQLTx adapt the Value sum type to database/sql's
// driver.Value boundary and back; both PostgresBackend and SQLiteBackend
// share this conversion.

type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func execSQLDB(ctx context.Context, db *sql.DB, query string, params []Value) (*Rows, error) {
	return execSQL(ctx, db, query, params)
}

func execSQLTx(ctx context.Context, tx *sql.Tx, query string, params []Value) (*Rows, error) {
	return execSQL(ctx, tx, query, params)
}

func execSQL(ctx context.Context, ex sqlExecutor, query string, params []Value) (*Rows, error) {
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p.Any()
	}

	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		// Not every statement returns rows (DDL, plain DML); fall back to Exec.
		if _, execErr := ex.ExecContext(ctx, query, args...); execErr == nil {
			return &Rows{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &Rows{Columns: cols}
	scanDest := make([]any, len(cols))
	scanBuf := make([]any, len(cols))
	for i := range scanBuf {
		scanDest[i] = &scanBuf[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return nil, err
		}
		row := make([]Value, len(cols))
		for i, v := range scanBuf {
			row[i] = fromDriverValue(v)
		}
		result.Values = append(result.Values, row)
	}
	return result, rows.Err()
}

func fromDriverValue(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case int64:
		return Integer(t)
	case float64:
		return Real(t)
	case string:
		return Text(t)
	case []byte:
		return Blob(t)
	case bool:
		if t {
			return Integer(1)
		}
		return Integer(0)
	default:
		return Text("")
	}
}
