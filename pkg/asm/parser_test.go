package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_GraphShape(t *testing.T) {
	prog, err := Parse(`
	// write a row, then read it back
	export graph main(root: schema, id: string): int64 {
		s_insert root.s $ build_table(T) $ m_insert(id) id $ m_insert(n) 1 create_map;
		item = point_get root.s id;
		return item.n;
	}
	graph helper(a: int64, b: int64): int64 {
		return a + b;
	}
	`)
	require.NoError(t, err)
	require.Len(t, prog.Graphs, 2)

	main := prog.Graphs[0]
	assert.True(t, main.Exported)
	assert.Equal(t, "main", main.Name)
	require.Len(t, main.Params, 2)
	assert.Equal(t, TypeSchema, main.Params[0].Type.Kind)
	assert.Equal(t, "string", main.Params[1].Type.Name)
	require.NotNil(t, main.Return)
	require.Len(t, main.Body, 3)

	helper := prog.Graphs[1]
	assert.False(t, helper.Exported)

	_, ok := prog.GraphByName("helper")
	assert.True(t, ok)
	_, ok = prog.GraphByName("nope")
	assert.False(t, ok)
}

func TestParse_DollarRightAssociation(t *testing.T) {
	prog, err := Parse(`
	graph g(root: schema) {
		s_insert root.s $ build_table(T) $ m_insert(id) "a" create_map;
	}
	`)
	require.NoError(t, err)
	stmt := prog.Graphs[0].Body[0].(*NodeStmt)
	ins, ok := stmt.Expr.(*SetInsert)
	require.True(t, ok)

	// The $-introduced operand swallows the rest of the expression.
	bt, ok := ins.Value.(*BuildTable)
	require.True(t, ok)
	mi, ok := bt.Map.(*MapInsert)
	require.True(t, ok)
	assert.Equal(t, "id", mi.Key)
	_, ok = mi.Base.(*CreateMap)
	assert.True(t, ok)
}

func TestParse_Precedence(t *testing.T) {
	prog, err := Parse(`
	graph g(a: int64, b: int64, f: bool) {
		x = a + b == b + a && !f;
	}
	`)
	require.NoError(t, err)
	stmt := prog.Graphs[0].Body[0].(*NodeStmt)

	// && binds loosest: (a+b == b+a) && (!f)
	and, ok := stmt.Expr.(*Binary)
	require.True(t, ok)
	assert.Equal(t, OpAnd, and.Op)
	eq, ok := and.L.(*Binary)
	require.True(t, ok)
	assert.Equal(t, OpEq, eq.Op)
	add, ok := eq.L.(*Binary)
	require.True(t, ok)
	assert.Equal(t, OpAdd, add.Op)
	_, ok = and.R.(*Not)
	assert.True(t, ok)
}

func TestParse_ConsRightAssociative(t *testing.T) {
	prog, err := Parse(`
	graph g(xs: list<int64>) {
		ys = 1 : 2 : xs;
	}
	`)
	require.NoError(t, err)
	stmt := prog.Graphs[0].Body[0].(*NodeStmt)
	outer, ok := stmt.Expr.(*Prepend)
	require.True(t, ok)
	inner, ok := outer.Tail.(*Prepend)
	require.True(t, ok)
	_, ok = inner.Tail.(*Ident)
	assert.True(t, ok)
}

func TestParse_IfElseAndControl(t *testing.T) {
	prog, err := Parse(`
	graph g(flag: bool) : string {
		if flag {
			r1 = "yes";
		} else {
			r2 = "no";
		}
		return select r1 r2;
	}
	`)
	require.NoError(t, err)
	body := prog.Graphs[0].Body
	require.Len(t, body, 2)
	ifs, ok := body[0].(*IfStmt)
	require.True(t, ok)
	assert.Len(t, ifs.Then, 1)
	assert.Len(t, ifs.Else, 1)
	ret, ok := body[1].(*ReturnStmt)
	require.True(t, ok)
	_, ok = ret.Expr.(*Select)
	assert.True(t, ok)
}

func TestParse_CallReduceThrow(t *testing.T) {
	prog, err := Parse(`
	graph g(root: schema) : int64 {
		n = call(add)[1, 2];
		total = reduce(step) 0 root.items;
		r = range_reduce(step) 0 10 total;
		if r == 0 {
			throw "empty";
		}
		return r;
	}
	`)
	require.NoError(t, err)
	body := prog.Graphs[0].Body
	call, ok := body[0].(*NodeStmt).Expr.(*Call)
	require.True(t, ok)
	assert.Equal(t, "add", call.Graph)
	assert.Len(t, call.Args, 2)

	red, ok := body[1].(*NodeStmt).Expr.(*Reduce)
	require.True(t, ok)
	assert.Equal(t, "step", red.Graph)

	rr, ok := body[2].(*NodeStmt).Expr.(*RangeReduce)
	require.True(t, ok)
	assert.Equal(t, "step", rr.Graph)

	ifs, ok := body[3].(*IfStmt)
	require.True(t, ok)
	_, ok = ifs.Then[0].(*ThrowStmt)
	assert.True(t, ok)
}

func TestParse_Literals(t *testing.T) {
	prog, err := Parse(`
	graph g() {
		a = 0x10;
		b = "hi\n";
		c = h"deadbeef";
		d = true;
		e = null<int64>;
		f = empty_set<T>;
	}
	`)
	require.NoError(t, err)
	body := prog.Graphs[0].Body
	lit := func(i int) *Literal { return body[i].(*NodeStmt).Expr.(*Literal) }

	assert.Equal(t, int64(16), lit(0).Int)
	assert.Equal(t, "hi\n", lit(1).Str)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, lit(2).Bytes)
	assert.True(t, lit(3).Bool)
	assert.Equal(t, LitNull, lit(4).Kind)
	assert.Equal(t, LitEmptySet, lit(5).Kind)
	assert.Equal(t, "T", lit(5).Type.Name)
}

func TestParse_TypeAliasAndMapType(t *testing.T) {
	prog, err := Parse(`
	type Result = map { value: int64, label: string };
	graph g() : Result {
		m = create_map;
		return m;
	}
	`)
	require.NoError(t, err)
	require.Len(t, prog.TypeAliases, 1)
	alias := prog.TypeAliases[0]
	assert.Equal(t, "Result", alias.Name)
	require.Equal(t, TypeMap, alias.Type.Kind)
	assert.Len(t, alias.Type.MapFields, 2)
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{
		`graph {`,
		`graph g( {`,
		`graph g() { return ; }`,
		`graph g() { x = ; }`,
		`graph g() { if { } }`,
		`graph g() { m_insert(1) x y; }`,
		`export export graph g() {}`,
	} {
		_, err := Parse(src)
		assert.Error(t, err, "source %q should not parse", src)
	}
}
