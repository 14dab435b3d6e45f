// SPDX-License-Identifier: Apache-2.0

package preprocess

import (
	"context"
	"fmt"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/sqlparse"
)

// MaterializeSelectSources resolves an INSERT ... SELECT against the
// vtable into plain literal VALUES rows by actually running the SELECT
// against the backend, so that defaulting and mutation extraction (both of
// which only understand literal rows) can operate uniformly regardless of
// how the insert was written (spec.md §4.D.3).
func MaterializeSelectSources(ctx context.Context, b backend.Backend, physical PhysicalSelect, ins *sqlparse.InsertStatement) error {
	if ins.Source == nil {
		return nil
	}

	rows, err := b.Execute(ctx, physical.SQL, physical.Params)
	if err != nil {
		return fmt.Errorf("preprocess: materializing select-sourced insert: %w", err)
	}

	ins.Values = make([][]sqlparse.Expr, 0, len(rows.Values))
	for _, row := range rows.Values {
		exprRow := make([]sqlparse.Expr, len(row))
		for i, v := range row {
			exprRow[i] = valueToLiteral(v)
		}
		ins.Values = append(ins.Values, exprRow)
	}
	ins.Source = nil
	return nil
}

// PhysicalSelect is the already-rewritten SELECT standing in for an
// insert's select source, produced by the rewrite engine before
// materialization runs.
type PhysicalSelect struct {
	SQL    string
	Params []backend.Value
}

func valueToLiteral(v backend.Value) sqlparse.Expr {
	switch v.Kind {
	case backend.KindNull:
		return sqlparse.Literal{Kind: sqlparse.LiteralNull}
	case backend.KindInteger:
		return sqlparse.Literal{Kind: sqlparse.LiteralInt, Int: v.Integer}
	case backend.KindReal:
		return sqlparse.Literal{Kind: sqlparse.LiteralFloat, Float: v.Real}
	case backend.KindBlob:
		return sqlparse.Literal{Kind: sqlparse.LiteralString, Text: string(v.Blob)}
	default:
		return sqlparse.Literal{Kind: sqlparse.LiteralString, Text: v.Text}
	}
}
