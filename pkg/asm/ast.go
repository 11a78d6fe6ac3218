// Package asm implements the TreeWalker assembly surface: parsing
// graph definitions into the data-flow IR the VM type-checks and
// evaluates.
package asm

import "github.com/refinedb/refinedb/pkg/rdberr"

// Program is the parse result of one assembly document.
type Program struct {
	TypeAliases []*TypeAlias
	Graphs      []*Graph
}

// GraphByName returns the named graph, if present.
func (p *Program) GraphByName(name string) (*Graph, bool) {
	for _, g := range p.Graphs {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// TypeAlias is a `type Alias = T;` declaration.
type TypeAlias struct {
	Name string
	Loc  rdberr.Location
	Type *TypeRef
}

// Graph is a named procedure: ordered typed parameters, an optional
// return type, and a statement list. Exported graphs are callable from
// outside the program; the rest are internal.
type Graph struct {
	Name     string
	Loc      rdberr.Location
	Exported bool
	Params   []*Param
	Return   *TypeRef
	Body     []Stmt
}

// Param is one graph parameter.
type Param struct {
	Name string
	Loc  rdberr.Location
	Type *TypeRef
}

// TypeRefKind discriminates a TypeRef.
type TypeRefKind int

const (
	TypePrimitive TypeRefKind = iota // Name is int64/double/string/bytes
	TypeBool
	TypeSchema
	TypeSet   // one Arg
	TypeList  // one Arg
	TypeMap   // MapFields
	TypeTable // Name, Args are generic arguments
)

// TypeRef is a type expression in the assembly surface.
type TypeRef struct {
	Kind      TypeRefKind
	Loc       rdberr.Location
	Name      string
	Args      []*TypeRef
	MapFields []MapField
}

// MapField is one field of a `map { ... }` type.
type MapField struct {
	Name string
	Type *TypeRef
}

// Stmt is a statement in a graph body.
type Stmt interface{ stmt() }

// NodeStmt binds an expression's value to a node name; with an empty
// Name it is a bare expression evaluated for effect.
type NodeStmt struct {
	Name string
	Loc  rdberr.Location
	Expr Expr
}

// ReturnStmt finishes the graph with a value.
type ReturnStmt struct {
	Loc  rdberr.Location
	Expr Expr
}

// ThrowStmt aborts the graph with a user error value.
type ThrowStmt struct {
	Loc  rdberr.Location
	Expr Expr
}

// IfStmt executes exactly one branch based on a bool precondition.
type IfStmt struct {
	Loc  rdberr.Location
	Cond Expr
	Then []Stmt
	Else []Stmt
}

func (*NodeStmt) stmt()   {}
func (*ReturnStmt) stmt() {}
func (*ThrowStmt) stmt()  {}
func (*IfStmt) stmt()     {}

// Expr is an expression node. Every expression records its source
// location for diagnostics.
type Expr interface {
	Loc() rdberr.Location
}

type exprBase struct {
	At rdberr.Location
}

func (e exprBase) Loc() rdberr.Location { return e.At }

// LiteralKind discriminates a Literal.
type LiteralKind int

const (
	LitInt LiteralKind = iota
	LitString
	LitBytes
	LitBool
	LitNull     // typed null: null<T>
	LitEmptySet // empty_set<T>
)

// Literal is a literal value in the surface.
type Literal struct {
	exprBase
	Kind  LiteralKind
	Int   int64
	Str   string
	Bytes []byte
	Bool  bool
	Type  *TypeRef // LitNull, LitEmptySet
}

// Ident references a previously bound node or a graph parameter.
type Ident struct {
	exprBase
	Name string
}

// ParamExpr is the explicit `param(x)` form.
type ParamExpr struct {
	exprBase
	Name string
}

// FieldExpr projects a field out of a table or map: `base.field`.
type FieldExpr struct {
	exprBase
	Base  Expr
	Field string
}

// CreateMap is `create_map`.
type CreateMap struct {
	exprBase
}

// CreateList is `create_list(T)`.
type CreateList struct {
	exprBase
	Elem *TypeRef
}

// MapInsert is `m_insert(k) v base`: functional map insertion.
type MapInsert struct {
	exprBase
	Key   string
	Value Expr
	Base  Expr
}

// MapDelete is `m_delete(k) base`: functional map deletion.
type MapDelete struct {
	exprBase
	Key  string
	Base Expr
}

// TableInsert is `t_insert(k) v base`: (re)sets field k of a table.
type TableInsert struct {
	exprBase
	Key   string
	Value Expr
	Base  Expr
}

// SetInsert is `s_insert set v`.
type SetInsert struct {
	exprBase
	Set   Expr
	Value Expr
}

// SetDelete is `s_delete set k`: delete by primary key.
type SetDelete struct {
	exprBase
	Set Expr
	Key Expr
}

// BuildTable is `build_table(T) m`: reify a map as a table value.
type BuildTable struct {
	exprBase
	Type *TypeRef
	Map  Expr
}

// BuildSet is `build_set x`: singleton set containing x.
type BuildSet struct {
	exprBase
	Elem Expr
}

// PointGet is `point_get s k`: optional element by primary key.
type PointGet struct {
	exprBase
	Set Expr
	Key Expr
}

// Select is `select a b`: whichever of two optionals is present.
type Select struct {
	exprBase
	A Expr
	B Expr
}

// IsPresent is `is_present x`.
type IsPresent struct {
	exprBase
	X Expr
}

// IsNull is `is_null x`.
type IsNull struct {
	exprBase
	X Expr
}

// Not is `!x`.
type Not struct {
	exprBase
	X Expr
}

// BinaryOp discriminates a Binary.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpOrElse // a ?? b
)

func (op BinaryOp) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpOrElse:
		return "??"
	default:
		return "?"
	}
}

// Binary is an infix binary operation. And/Or short-circuit.
type Binary struct {
	exprBase
	Op BinaryOp
	L  Expr
	R  Expr
}

// Prepend is `x : xs`, cons onto a list.
type Prepend struct {
	exprBase
	Head Expr
	Tail Expr
}

// Pop is `pop xs`: the list's tail.
type Pop struct {
	exprBase
	List Expr
}

// Head is `head xs`: the list's head.
type Head struct {
	exprBase
	List Expr
}

// Call is `call(name)[a1, a2, ...]`.
type Call struct {
	exprBase
	Graph string
	Args  []Expr
}

// Reduce is `reduce(name) init coll`: fold a list or set with a
// subgraph callback.
type Reduce struct {
	exprBase
	Graph string
	Init  Expr
	Coll  Expr
}

// RangeReduce is `range_reduce(name) from to init`: fold over the
// integer range [from, to).
type RangeReduce struct {
	exprBase
	Graph string
	From  Expr
	To    Expr
	Init  Expr
}

// UnwrapOptional is `unwrap_optional x`: coerce a present optional to
// its bare value; throws NullUnwrap on null.
type UnwrapOptional struct {
	exprBase
	X Expr
}
