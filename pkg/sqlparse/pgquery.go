// SPDX-License-Identifier: Apache-2.0

package sqlparse

import (
	"fmt"
	"strings"

	pgq "github.com/pganalyze/pg_query_go/v6"
)

// Parser turns raw SQL text into a Script. lix ships one concrete binding,
// PgQueryParser, but the rewrite engine only depends on this interface so a
// different generic SQL parser can be substituted (spec.md §1 non-goals).
type Parser interface {
	Parse(sql string) (*Script, error)
}

// PgQueryParser is the default Parser, backed by pg_query_go's bindings to
// Postgres's own parser. It extracts only the shapes the rewrite engine
// needs (relation names, projected columns, simple conjunctions of
// equality/IN/IS NULL predicates) rather than a complete semantic AST,
// mirroring how pgroll's pkg/sql2pgroll/convert.go walks the same tree for
// DDL statements.
type PgQueryParser struct{}

func (PgQueryParser) Parse(sql string) (*Script, error) {
	tree, err := pgq.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("sqlparse: parse error: %w", err)
	}

	script := &Script{}
	depth := 0
	for _, raw := range tree.GetStmts() {
		node := raw.GetStmt().GetNode()
		switch n := node.(type) {
		case *pgq.Node_TransactionStmt:
			switch n.TransactionStmt.GetKind() {
			case pgq.TransactionStmtKind_TRANS_STMT_BEGIN:
				if depth > 0 {
					script.NestedTransactionSeen = true
				}
				depth++
				script.ExplicitTransaction = true
				continue
			case pgq.TransactionStmtKind_TRANS_STMT_COMMIT, pgq.TransactionStmtKind_TRANS_STMT_ROLLBACK:
				depth--
				continue
			}
		case *pgq.Node_SelectStmt:
			stmt, err := convertSelect(n.SelectStmt)
			if err != nil {
				return nil, err
			}
			script.Statements = append(script.Statements, stmt)
			continue
		case *pgq.Node_InsertStmt:
			stmt, err := convertInsert(n.InsertStmt)
			if err != nil {
				return nil, err
			}
			script.Statements = append(script.Statements, stmt)
			continue
		case *pgq.Node_UpdateStmt:
			stmt, err := convertUpdate(n.UpdateStmt)
			if err != nil {
				return nil, err
			}
			script.Statements = append(script.Statements, stmt)
			continue
		case *pgq.Node_DeleteStmt:
			stmt, err := convertDelete(n.DeleteStmt)
			if err != nil {
				return nil, err
			}
			script.Statements = append(script.Statements, stmt)
			continue
		}
		return nil, fmt.Errorf("sqlparse: unsupported statement kind %T", node)
	}
	return script, nil
}

func convertSelect(stmt *pgq.SelectStmt) (*SelectStatement, error) {
	relation, alias := "", ""
	var joins []Join
	for i, rt := range stmt.GetFromClause() {
		rel, al, err := relationOf(rt)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			relation, alias = rel, al
			continue
		}
		joins = append(joins, Join{Relation: rel, Alias: al})
	}

	items, isCountStar := convertTargetList(stmt.GetTargetList())

	var where Expr
	if stmt.GetWhereClause() != nil {
		var err error
		where, err = convertExpr(stmt.GetWhereClause())
		if err != nil {
			return nil, err
		}
	}

	return &SelectStatement{
		Relation:    relation,
		Alias:       alias,
		Columns:     items,
		Where:       where,
		IsCountStar: isCountStar,
		Joins:       joins,
	}, nil
}

func convertInsert(stmt *pgq.InsertStmt) (*InsertStatement, error) {
	relation := stmt.GetRelation().GetRelname()

	var cols []string
	for _, c := range stmt.GetCols() {
		cols = append(cols, c.GetResTarget().GetName())
	}

	out := &InsertStatement{Relation: relation, Columns: cols}

	sel := stmt.GetSelectStmt().GetSelectStmt()
	if sel != nil && len(sel.GetValuesLists()) > 0 {
		for _, row := range sel.GetValuesLists() {
			var exprs []Expr
			for _, item := range row.GetList().GetItems() {
				e, err := convertExpr(item)
				if err != nil {
					return nil, err
				}
				exprs = append(exprs, e)
			}
			out.Values = append(out.Values, exprs)
		}
	} else if sel != nil {
		srcSelect, err := convertSelect(sel)
		if err != nil {
			return nil, err
		}
		out.Source = srcSelect
	}

	if oc := stmt.GetOnConflictClause(); oc != nil {
		var assigns []Assignment
		for _, t := range oc.GetTargetList() {
			rt := t.GetResTarget()
			val, err := convertExpr(rt.GetVal())
			if err != nil {
				return nil, err
			}
			assigns = append(assigns, Assignment{Column: rt.GetName(), Value: val})
		}
		out.OnConflict = &OnConflict{
			DoNothing: oc.GetAction() == pgq.OnConflictAction_ONCONFLICT_NOTHING,
			UpdateSet: assigns,
		}
	}

	for _, rt := range stmt.GetReturningList() {
		out.Returning = append(out.Returning, rt.GetResTarget().GetName())
	}

	return out, nil
}

func convertUpdate(stmt *pgq.UpdateStmt) (*UpdateStatement, error) {
	relation := stmt.GetRelation().GetRelname()

	var assigns []Assignment
	for _, t := range stmt.GetTargetList() {
		rt := t.GetResTarget()
		val, err := convertExpr(rt.GetVal())
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, Assignment{Column: rt.GetName(), Value: val})
	}

	var where Expr
	if stmt.GetWhereClause() != nil {
		var err error
		where, err = convertExpr(stmt.GetWhereClause())
		if err != nil {
			return nil, err
		}
	}

	var returning []string
	for _, rt := range stmt.GetReturningList() {
		returning = append(returning, rt.GetResTarget().GetName())
	}

	return &UpdateStatement{Relation: relation, Set: assigns, Where: where, Returning: returning}, nil
}

func convertDelete(stmt *pgq.DeleteStmt) (*DeleteStatement, error) {
	relation := stmt.GetRelation().GetRelname()

	var where Expr
	if stmt.GetWhereClause() != nil {
		var err error
		where, err = convertExpr(stmt.GetWhereClause())
		if err != nil {
			return nil, err
		}
	}

	var returning []string
	for _, rt := range stmt.GetReturningList() {
		returning = append(returning, rt.GetResTarget().GetName())
	}

	return &DeleteStatement{Relation: relation, Where: where, Returning: returning}, nil
}

func relationOf(node *pgq.Node) (relation, alias string, err error) {
	rv := node.GetRangeVar()
	if rv == nil {
		return "", "", fmt.Errorf("sqlparse: unsupported FROM item %T", node.GetNode())
	}
	relation = rv.GetRelname()
	if rv.GetAlias() != nil {
		alias = rv.GetAlias().GetAliasname()
	}
	return relation, alias, nil
}

func convertTargetList(targets []*pgq.Node) ([]SelectItem, bool) {
	if len(targets) == 1 {
		rt := targets[0].GetResTarget()
		if fc := rt.GetVal().GetFuncCall(); fc != nil {
			name := strings.Join(funcNameParts(fc), ".")
			if strings.EqualFold(name, "count") && fc.GetAggStar() {
				return []SelectItem{{Expr: RawExpr{SQL: "COUNT(*)"}, Alias: rt.GetName()}}, true
			}
		}
	}

	items := make([]SelectItem, 0, len(targets))
	for _, t := range targets {
		rt := t.GetResTarget()
		e, err := convertExpr(rt.GetVal())
		if err != nil {
			e = RawExpr{SQL: "?"}
		}
		items = append(items, SelectItem{Expr: e, Alias: rt.GetName()})
	}
	return items, false
}

func funcNameParts(fc *pgq.FuncCall) []string {
	var parts []string
	for _, n := range fc.GetFuncname() {
		parts = append(parts, n.GetString_().GetSval())
	}
	return parts
}

// convertExpr recognizes the small set of expression shapes the rewriter's
// predicate-pushdown collector needs: column refs, constants, parameters,
// AND/OR, equality, IN-lists and IS [NOT] NULL. Anything else degrades to a
// RawExpr carrying its deparsed SQL, which is still usable in lowered
// output even though it can't participate in pushdown.
func convertExpr(node *pgq.Node) (Expr, error) {
	if node == nil {
		return nil, nil
	}

	switch n := node.GetNode().(type) {
	case *pgq.Node_ColumnRef:
		return convertColumnRef(n.ColumnRef), nil
	case *pgq.Node_ParamRef:
		return Placeholder{Ordinal: int(n.ParamRef.GetNumber())}, nil
	case *pgq.Node_AConst:
		return convertAConst(n.AConst), nil
	case *pgq.Node_BoolExpr:
		return convertBoolExpr(n.BoolExpr)
	case *pgq.Node_AExpr:
		return convertAExpr(n.AExpr)
	case *pgq.Node_NullTest:
		col, err := convertExpr(n.NullTest.GetArg())
		if err != nil {
			return nil, err
		}
		cref, ok := col.(ColumnRef)
		if !ok {
			return RawExpr{SQL: "<complex IS NULL target>"}, nil
		}
		return IsNullExpr{Column: cref, Not: n.NullTest.GetNulltesttype() == pgq.NullTestType_IS_NOT_NULL}, nil
	default:
		deparsed, derr := pgq.DeparseExpr(node)
		if derr != nil {
			deparsed = "<unrecognized expression>"
		}
		return RawExpr{SQL: deparsed}, nil
	}
}

func convertColumnRef(ref *pgq.ColumnRef) Expr {
	var parts []string
	for _, f := range ref.GetFields() {
		if s := f.GetString_(); s != nil {
			parts = append(parts, s.GetSval())
		}
	}
	switch len(parts) {
	case 1:
		return ColumnRef{Name: parts[0]}
	case 2:
		return ColumnRef{Qualifier: parts[0], Name: parts[1]}
	default:
		return ColumnRef{Name: strings.Join(parts, ".")}
	}
}

func convertAConst(c *pgq.A_Const) Expr {
	switch {
	case c.GetIsnull():
		return Literal{Kind: LiteralNull}
	case c.GetIval() != nil:
		return Literal{Kind: LiteralInt, Int: c.GetIval().GetIval()}
	case c.GetFval() != nil:
		return Literal{Kind: LiteralFloat, Text: c.GetFval().GetFval()}
	case c.GetSval() != nil:
		return Literal{Kind: LiteralString, Text: c.GetSval().GetSval()}
	case c.GetBoolval() != nil:
		return Literal{Kind: LiteralBool, Int: boolToInt(c.GetBoolval().GetBoolval())}
	default:
		return Literal{Kind: LiteralNull}
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func convertBoolExpr(be *pgq.BoolExpr) (Expr, error) {
	op := "AND"
	if be.GetBoolop() == pgq.BoolExprType_OR_EXPR {
		op = "OR"
	}
	if be.GetBoolop() == pgq.BoolExprType_NOT_EXPR {
		inner, err := convertExpr(be.GetArgs()[0])
		if err != nil {
			return nil, err
		}
		return BinaryExpr{Op: "NOT", Left: inner}, nil
	}

	args := be.GetArgs()
	if len(args) == 0 {
		return RawExpr{SQL: "TRUE"}, nil
	}
	acc, err := convertExpr(args[0])
	if err != nil {
		return nil, err
	}
	for _, a := range args[1:] {
		rhs, err := convertExpr(a)
		if err != nil {
			return nil, err
		}
		acc = BinaryExpr{Op: op, Left: acc, Right: rhs}
	}
	return acc, nil
}

func convertAExpr(ae *pgq.A_Expr) (Expr, error) {
	var opName string
	for _, n := range ae.GetName() {
		if s := n.GetString_(); s != nil {
			opName = s.GetSval()
		}
	}

	lhs, err := convertExpr(ae.GetLexpr())
	if err != nil {
		return nil, err
	}

	switch ae.GetKind() {
	case pgq.A_Expr_Kind_AEXPR_IN:
		col, ok := lhs.(ColumnRef)
		if !ok {
			return RawExpr{SQL: "<complex IN target>"}, nil
		}
		var list []Expr
		if sub := ae.GetRexpr().GetList(); sub != nil {
			for _, item := range sub.GetItems() {
				e, err := convertExpr(item)
				if err != nil {
					return nil, err
				}
				list = append(list, e)
			}
		}
		return InExpr{Column: col, List: list}, nil
	default:
		rhs, err := convertExpr(ae.GetRexpr())
		if err != nil {
			return nil, err
		}
		return BinaryExpr{Op: opName, Left: lhs, Right: rhs}, nil
	}
}
