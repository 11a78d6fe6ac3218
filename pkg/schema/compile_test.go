package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/value"
)

func TestCompile_Basic(t *testing.T) {
	s, err := CompileString(`
	// user-facing record
	type User {
		@primary id: string,
		karma: int64,
		bio: string?,
	}
	export set<User> users;
	`)
	require.NoError(t, err)

	user, ok := s.Types["User"]
	require.True(t, ok)
	assert.Equal(t, []string{"bio", "id", "karma"}, user.FieldNames())

	pkName, pkField, ok := user.PrimaryKey()
	require.True(t, ok)
	assert.Equal(t, "id", pkName)
	assert.Equal(t, Primitive{Kind: value.KindString}, pkField.Type)

	_, isOptional := user.Fields["bio"].Type.(Optional)
	assert.True(t, isOptional)

	require.Equal(t, []string{"users"}, s.ExportNames)
	set, ok := s.Exports["users"].(Set)
	require.True(t, ok)
	assert.Equal(t, Table{Name: "User"}, set.Elem)
}

func TestCompile_GenericSpecialisation(t *testing.T) {
	s, err := CompileString(`
	type Pair<A, B> {
		first: A,
		second: B,
	}
	type Wrap<T> {
		inner: T,
	}
	export Pair<int64, string> a;
	export Pair<int64, string> b;
	export Wrap<Pair<int64, string>> c;
	`)
	require.NoError(t, err)

	// Distinct instantiations are memoised: a and b share one node.
	pair, ok := s.Types["Pair<int64, string>"]
	require.True(t, ok)
	assert.Equal(t, Primitive{Kind: value.KindInt64}, pair.Fields["first"].Type)
	assert.Equal(t, Primitive{Kind: value.KindString}, pair.Fields["second"].Type)

	wrap, ok := s.Types["Wrap<Pair<int64, string>>"]
	require.True(t, ok)
	assert.Equal(t, Table{Name: "Pair<int64, string>"}, wrap.Fields["inner"].Type)

	// Only the two instantiations exist.
	assert.Len(t, s.Types, 2)
}

func TestCompile_Errors(t *testing.T) {
	cases := []struct {
		name   string
		src    string
		kind   rdberr.Kind
		substr string
	}{
		{
			name: "duplicate type",
			src:  `type A { x: int64 } type A { y: int64 } export A a;`,
			kind: rdberr.TypeError, substr: "duplicate type",
		},
		{
			name: "duplicate export",
			src:  `type A { x: int64 } export A a; export A a;`,
			kind: rdberr.TypeError, substr: "duplicate export",
		},
		{
			name: "missing type",
			src:  `export B b;`,
			kind: rdberr.TypeError, substr: "missing type",
		},
		{
			name: "arity mismatch",
			src:  `type A<T> { x: T } export A a;`,
			kind: rdberr.TypeError, substr: "expecting 1 arguments",
		},
		{
			name: "specialized primitive",
			src:  `type A { x: int64<string> } export A a;`,
			kind: rdberr.TypeError, substr: "cannot specialize primitive",
		},
		{
			name: "set of primitive",
			src:  `type A { x: set<int64> } export A a;`,
			kind: rdberr.TypeError, substr: "set element must be a table",
		},
		{
			name: "unknown annotation",
			src:  `type A { @wat x: int64 } export A a;`,
			kind: rdberr.TypeError, substr: "unknown annotation",
		},
		{
			name: "multiple primary keys",
			src:  `type A { @primary x: int64, @primary y: int64 } export A a;`,
			kind: rdberr.TypeError, substr: "multiple primary keys",
		},
		{
			name: "optional primary key",
			src:  `type A { @primary x: int64? } export A a;`,
			kind: rdberr.TypeError, substr: "cannot be optional",
		},
		{
			name: "double primary key",
			src:  `type A { @primary x: double } export set<A> a;`,
			kind: rdberr.TypeError, substr: "must be int64, string, or bytes",
		},
		{
			name: "set member without primary key",
			src:  `type A { x: int64 } export set<A> a;`,
			kind: rdberr.TypeError, substr: "no primary key",
		},
		{
			name: "index on table field",
			src:  `type B { @primary id: string } type A { @index b: B } export A a;`,
			kind: rdberr.TypeError, substr: "indexes are only allowed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileString(tc.src)
			require.Error(t, err)
			assert.Equal(t, tc.kind, rdberr.KindOf(err))
			assert.Contains(t, err.Error(), tc.substr)
		})
	}
}

func TestCompile_RecursionRules(t *testing.T) {
	t.Run("mandatory cycle rejected", func(t *testing.T) {
		_, err := CompileString(`
		type A { b: B }
		type B { a: A }
		export A a;
		`)
		require.Error(t, err)
		assert.Equal(t, rdberr.RecursionError, rdberr.KindOf(err))
	})

	t.Run("self cycle rejected", func(t *testing.T) {
		_, err := CompileString(`
		type A { a: A }
		export A a;
		`)
		require.Error(t, err)
		assert.Equal(t, rdberr.RecursionError, rdberr.KindOf(err))
	})

	t.Run("optional breaks cycle", func(t *testing.T) {
		_, err := CompileString(`
		type A { next: A? }
		export A a;
		`)
		assert.NoError(t, err)
	})

	t.Run("set breaks cycle", func(t *testing.T) {
		_, err := CompileString(`
		type Node {
			@primary id: string,
			children: set<Node>,
		}
		export set<Node> roots;
		`)
		assert.NoError(t, err)
	})
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{
		`type {`,
		`type A x: int64 }`,
		`export A`,
		`type A { x int64 } export A a;`,
		`type A { x: int64 } export A a; trailing`,
	} {
		_, err := Parse(src)
		assert.Error(t, err, "source %q should not parse", src)
	}
}

func TestSchema_String(t *testing.T) {
	s, err := CompileString(`
	type T { @primary id: string, n: int64 }
	export set<T> s;
	`)
	require.NoError(t, err)
	rendered := s.String()
	assert.Contains(t, rendered, "type T {")
	assert.Contains(t, rendered, "@primary id: string,")
	assert.Contains(t, rendered, "export set<T> s;")
}
