// SPDX-License-Identifier: Apache-2.0

// Package sqlparse defines the dialect-neutral statement AST the rewrite
// engine consumes, and a parser binding (pg_query_go) that produces one from
// raw SQL text. lix itself never implements a SQL grammar: per spec.md §1
// that is delegated to a generic SQL parser, with pg_query_go as the
// concrete parser used by the Postgres-flavored surface dialect lix's own
// views are expressed in.
package sqlparse

// Script is the result of parsing a (possibly multi-statement) call. An
// explicit `BEGIN; ...; COMMIT;` script is flagged so the orchestrator can
// route it to the transaction executor (spec.md §4.F.1).
type Script struct {
	Statements            []Statement
	ExplicitTransaction   bool
	NestedTransactionSeen bool
}

// Statement is any top-level SQL statement the rewrite engine may
// encounter.
type Statement interface {
	statementNode()
	TableRefs() []string
}

// SelectStatement is a (possibly aggregate) read against a view or table.
type SelectStatement struct {
	Relation    string
	Alias       string
	Columns     []SelectItem
	Where       Expr
	IsCountStar bool
	Joins       []Join
}

// SelectItem is a single projected column or expression.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// Join is a single JOIN clause of a SELECT; TableRefs lists its relation.
type Join struct {
	Relation string
	Alias    string
	On       Expr
}

func (*SelectStatement) statementNode() {}
func (s *SelectStatement) TableRefs() []string {
	refs := []string{s.Relation}
	for _, j := range s.Joins {
		refs = append(refs, j.Relation)
	}
	return refs
}

// InsertStatement is an INSERT against a view or table, either with literal
// VALUES rows or a sourcing SELECT.
type InsertStatement struct {
	Relation       string
	Columns        []string
	Values         [][]Expr
	Source         *SelectStatement
	OnConflict     *OnConflict
	Returning      []string
	InExplicitTxn  bool
}

// OnConflict models `ON CONFLICT (cols) DO UPDATE SET ... / DO NOTHING`.
type OnConflict struct {
	Columns      []string
	DoNothing    bool
	UpdateSet    []Assignment
}

func (*InsertStatement) statementNode()          {}
func (s *InsertStatement) TableRefs() []string    { return []string{s.Relation} }

// UpdateStatement is an UPDATE against a view or table.
type UpdateStatement struct {
	Relation  string
	Set       []Assignment
	Where     Expr
	Returning []string
}

func (*UpdateStatement) statementNode()       {}
func (s *UpdateStatement) TableRefs() []string { return []string{s.Relation} }

// DeleteStatement is a DELETE against a view or table.
type DeleteStatement struct {
	Relation  string
	Where     Expr
	Returning []string
}

func (*DeleteStatement) statementNode()       {}
func (s *DeleteStatement) TableRefs() []string { return []string{s.Relation} }

// Assignment is a single `col = expr` pair in SET or the UPSERT excluded
// clause.
type Assignment struct {
	Column string
	Value  Expr
}

// Expr is any scalar expression the rewriter needs to reason about:
// identifiers, literals, placeholders and the small set of predicate shapes
// pushdown recognizes.
type Expr interface {
	exprNode()
}

// ColumnRef is a (possibly qualified) column reference.
type ColumnRef struct {
	Qualifier string // alias or relation name; empty if unqualified
	Name      string
}

func (ColumnRef) exprNode() {}

// Literal is a constant value, already typed to backend.Value's kinds via
// its Kind tag (kept string-based here to avoid an import cycle with
// backend; callers convert at the boundary).
type Literal struct {
	Kind  LiteralKind
	Text  string
	Int   int64
	Float float64
}

type LiteralKind int

const (
	LiteralNull LiteralKind = iota
	LiteralInt
	LiteralFloat
	LiteralString
	LiteralBool
)

func (Literal) exprNode() {}

// Placeholder is a bound parameter, canonicalized to a 1-based ordinal
// (spec.md §4.C "placeholder ordinal canonicalization").
type Placeholder struct {
	Ordinal int
}

func (Placeholder) exprNode() {}

// BinaryExpr is a binary operator expression (=, <>, AND, OR, ...).
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (BinaryExpr) exprNode() {}

// InExpr is `col IN (v1, v2, ...)` or `col IN ($1, $2, ...)`.
type InExpr struct {
	Column ColumnRef
	List   []Expr
}

func (InExpr) exprNode() {}

// IsNullExpr is `col IS [NOT] NULL`.
type IsNullExpr struct {
	Column ColumnRef
	Not    bool
}

func (IsNullExpr) exprNode() {}

// RawExpr is any expression shape the converter did not recognize; the
// rewriter treats it as an unsupported predicate for pushdown purposes but
// still passes it through verbatim in lowered SQL.
type RawExpr struct {
	SQL string
}

func (RawExpr) exprNode() {}
