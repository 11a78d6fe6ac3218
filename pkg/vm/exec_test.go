package vm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refinedb/refinedb/pkg/kv"
	"github.com/refinedb/refinedb/pkg/plan"
	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/schema"
	"github.com/refinedb/refinedb/pkg/value"
)

// harness compiles a schema + program pair against a fresh in-memory
// store and runs graphs one transaction each.
type harness struct {
	t     *testing.T
	prog  *Program
	store *kv.MemoryStore
}

func newHarness(t *testing.T, schemaSrc, programSrc string) *harness {
	t.Helper()
	s, err := schema.CompileString(schemaSrc)
	require.NoError(t, err)
	p, err := plan.Generate(nil, nil, s, &plan.SequentialSource{})
	require.NoError(t, err)
	prog, err := CompileString(s, p, programSrc)
	require.NoError(t, err)
	return &harness{t: t, prog: prog, store: kv.NewMemoryStore()}
}

// run executes a graph, prepending the schema root, and commits.
func (h *harness) run(graph string, params ...Value) (Value, error) {
	h.t.Helper()
	ctx := context.Background()
	root, err := h.prog.RootMap()
	require.NoError(h.t, err)
	txn, err := h.store.Begin(ctx)
	require.NoError(h.t, err)
	out, err := NewExecutor(h.prog, txn).RunGraph(ctx, graph, append([]Value{root}, params...)...)
	if err != nil {
		txn.Rollback()
		return nil, err
	}
	require.NoError(h.t, txn.Commit(ctx))
	return out, nil
}

func (h *harness) mustRun(graph string, params ...Value) Value {
	h.t.Helper()
	out, err := h.run(graph, params...)
	require.NoError(h.t, err)
	return out
}

func requireInt64(t *testing.T, v Value, want int64) {
	t.Helper()
	p, ok := v.(Prim)
	require.True(t, ok, "expected int64, got %T", v)
	require.Equal(t, value.KindInt64, p.P.Kind)
	assert.Equal(t, want, p.P.I)
}

func requireBool(t *testing.T, v Value, want bool) {
	t.Helper()
	p, ok := v.(Prim)
	require.True(t, ok, "expected bool, got %T", v)
	require.Equal(t, value.KindBool, p.P.Kind)
	assert.Equal(t, want, p.P.T)
}

const itemSchema = `
type T {
	@primary id: string,
	n: int64,
}
export set<T> s;
`

const itemProgram = `
export graph insert(root: schema, id: string, n: int64) {
	s_insert root.s $ build_table(T) $ m_insert(id) id $ m_insert(n) n create_map;
}
export graph read_n(root: schema, id: string): int64 {
	return (point_get root.s id).n;
}
export graph present(root: schema, id: string): bool {
	return is_present $ point_get root.s id;
}
export graph remove(root: schema, id: string) {
	s_delete root.s id;
}
graph sum_step(env: int64, acc: int64, item: T): int64 {
	return acc + item.n;
}
export graph sum(root: schema): int64 {
	return reduce(sum_step) 0 root.s;
}
graph order_step(env: int64, acc: string, item: T): string {
	return acc + item.id;
}
export graph visit_order(root: schema): string {
	return reduce(order_step) "" root.s;
}
`

func TestExec_InsertThenPointGet(t *testing.T) {
	h := newHarness(t, itemSchema, itemProgram)
	h.mustRun("insert", StringValue("a"), Int64Value(1))
	requireInt64(t, h.mustRun("read_n", StringValue("a")), 1)
}

func TestExec_InsertOverwritesByPrimaryKey(t *testing.T) {
	h := newHarness(t, itemSchema, itemProgram)
	h.mustRun("insert", StringValue("a"), Int64Value(1))
	h.mustRun("insert", StringValue("a"), Int64Value(2))
	requireInt64(t, h.mustRun("read_n", StringValue("a")), 2)
	requireInt64(t, h.mustRun("sum"), 2)
}

func TestExec_DeleteRemovesElement(t *testing.T) {
	h := newHarness(t, itemSchema, itemProgram)
	h.mustRun("insert", StringValue("a"), Int64Value(1))
	requireBool(t, h.mustRun("present", StringValue("a")), true)
	h.mustRun("remove", StringValue("a"))
	requireBool(t, h.mustRun("present", StringValue("a")), false)
	requireInt64(t, h.mustRun("sum"), 0)
}

func TestExec_ReduceSumAndOrder(t *testing.T) {
	h := newHarness(t, itemSchema, itemProgram)
	// Insert out of order; reduce must visit in ascending primary-key
	// byte order regardless.
	h.mustRun("insert", StringValue("b"), Int64Value(2))
	h.mustRun("insert", StringValue("c"), Int64Value(3))
	h.mustRun("insert", StringValue("a"), Int64Value(1))

	requireInt64(t, h.mustRun("sum"), 6)

	out := h.mustRun("visit_order")
	p, ok := out.(Prim)
	require.True(t, ok)
	assert.Equal(t, "abc", p.P.S)
}

func TestExec_ShortCircuit(t *testing.T) {
	h := newHarness(t, itemSchema, `
	graph boom(env: int64): bool {
		throw "must not be evaluated";
	}
	export graph and_false(root: schema): bool {
		return false && call(boom)[0];
	}
	export graph or_true(root: schema): bool {
		return true || call(boom)[0];
	}
	export graph and_true(root: schema): bool {
		return true && call(boom)[0];
	}
	`)
	requireBool(t, h.mustRun("and_false"), false)
	requireBool(t, h.mustRun("or_true"), true)

	_, err := h.run("and_true")
	require.Error(t, err)
	assert.Equal(t, rdberr.UserThrow, rdberr.KindOf(err))
}

func TestExec_UserThrowCarriesValue(t *testing.T) {
	h := newHarness(t, itemSchema, `
	export graph fail(root: schema) {
		throw "custom failure";
	}
	`)
	_, err := h.run("fail")
	require.Error(t, err)
	v, ok := rdberr.ThrownValue(err)
	require.True(t, ok)
	p, ok := v.(Prim)
	require.True(t, ok)
	assert.Equal(t, "custom failure", p.P.S)
}

func TestExec_UnwrapOptional(t *testing.T) {
	h := newHarness(t, itemSchema, `
	export graph bad(root: schema): int64 {
		return unwrap_optional null<int64>;
	}
	export graph guarded(root: schema, id: string): int64 {
		x = point_get root.s id;
		if is_present x {
			r1 = unwrap_optional x.n;
		} else {
			r2 = 0 - 1;
		}
		return select r1 r2;
	}
	`)
	_, err := h.run("bad")
	require.Error(t, err)
	assert.Equal(t, rdberr.NullUnwrap, rdberr.KindOf(err))

	// The guard avoids the throw entirely.
	requireInt64(t, h.mustRun("guarded", StringValue("missing")), -1)
}

func TestExec_SelectJoinsBranches(t *testing.T) {
	h := newHarness(t, itemSchema, `
	export graph pick(root: schema, flag: bool): string {
		if flag {
			r1 = "yes";
		} else {
			r2 = "no";
		}
		return select r1 r2;
	}
	export graph both_null(root: schema): string {
		a = null<string>;
		b = null<string>;
		return select a b;
	}
	`)
	out := h.mustRun("pick", BoolValue(true))
	assert.Equal(t, "yes", out.(Prim).P.S)
	out = h.mustRun("pick", BoolValue(false))
	assert.Equal(t, "no", out.(Prim).P.S)

	_, err := h.run("both_null")
	require.Error(t, err)
	assert.Equal(t, rdberr.InvalidSelect, rdberr.KindOf(err))
}

func TestExec_OrElse(t *testing.T) {
	h := newHarness(t, itemSchema, `
	export graph fallback(root: schema, id: string): int64 {
		item = point_get root.s id;
		if is_present item {
			n1 = item.n;
		}
		return n1 ?? 42;
	}
	`)
	requireInt64(t, h.mustRun("fallback", StringValue("missing")), 42)

	h2 := newHarness(t, itemSchema, itemProgram+`
	export graph fallback(root: schema, id: string): int64 {
		item = point_get root.s id;
		if is_present item {
			n1 = item.n;
		}
		return n1 ?? 42;
	}
	`)
	h2.mustRun("insert", StringValue("a"), Int64Value(7))
	requireInt64(t, h2.mustRun("fallback", StringValue("a")), 7)
}

func TestExec_ListsAndRangeReduce(t *testing.T) {
	h := newHarness(t, itemSchema, `
	graph add_step(env: int64, acc: int64, x: int64): int64 {
		return acc + x;
	}
	export graph sum_list(root: schema): int64 {
		xs = 1 : 2 : 3 : create_list(int64);
		return reduce(add_step) 0 xs;
	}
	export graph sum_range(root: schema, from: int64, to: int64): int64 {
		return range_reduce(add_step) from to 0;
	}
	export graph heads(root: schema): int64 {
		xs = 10 : 20 : create_list(int64);
		a = head xs;
		rest = pop xs;
		b = head rest;
		return a + b;
	}
	export graph empty_head(root: schema): int64 {
		xs = create_list(int64);
		return (head xs) ?? 99;
	}
	`)
	requireInt64(t, h.mustRun("sum_list"), 6)
	requireInt64(t, h.mustRun("sum_range", Int64Value(0), Int64Value(5)), 10)
	requireInt64(t, h.mustRun("sum_range", Int64Value(5), Int64Value(5)), 0)
	requireInt64(t, h.mustRun("sum_range", Int64Value(7), Int64Value(3)), 0)
	requireInt64(t, h.mustRun("heads"), 30)
	requireInt64(t, h.mustRun("empty_head"), 99)
}

func TestExec_MapInsertDelete(t *testing.T) {
	h := newHarness(t, itemSchema, `
	export graph project(root: schema): int64 {
		m = m_insert(b) 2 $ m_insert(a) 1 create_map;
		m2 = m_delete(b) m;
		return m2.a;
	}
	`)
	requireInt64(t, h.mustRun("project"), 1)

	// Maps are functional: the deleted field is gone from the static
	// type, so projecting it is a compile-time error.
	s, err := schema.CompileString(itemSchema)
	require.NoError(t, err)
	p, err := plan.Generate(nil, nil, s, &plan.SequentialSource{})
	require.NoError(t, err)
	_, err = CompileString(s, p, `
	export graph bad(root: schema): int64 {
		m = m_insert(a) 1 create_map;
		m2 = m_delete(a) m;
		return m2.a;
	}
	`)
	require.Error(t, err)
	assert.Equal(t, rdberr.TypeError, rdberr.KindOf(err))
}

func TestExec_FreshSet(t *testing.T) {
	h := newHarness(t, itemSchema, `
	graph sum_step(env: int64, acc: int64, item: T): int64 {
		return acc + item.n;
	}
	export graph fresh_sum(root: schema): int64 {
		s = empty_set<T>;
		s_insert s $ build_table(T) $ m_insert(id) "b" $ m_insert(n) 2 create_map;
		s_insert s $ build_table(T) $ m_insert(id) "a" $ m_insert(n) 1 create_map;
		missing = point_get s "zzz";
		if is_null missing {
			checked = true;
		}
		return reduce(sum_step) 0 s;
	}
	export graph singleton(root: schema): int64 {
		s = build_set $ build_table(T) $ m_insert(id) "only" $ m_insert(n) 9 create_map;
		return reduce(sum_step) 0 s;
	}
	`)
	requireInt64(t, h.mustRun("fresh_sum"), 3)
	requireInt64(t, h.mustRun("singleton"), 9)
}

func TestExec_NestedTableFields(t *testing.T) {
	h := newHarness(t, `
	type User {
		@primary id: string,
		profile: Profile,
	}
	type Profile {
		age: int64,
		bio: string?,
	}
	export set<User> users;
	`, `
	export graph add(root: schema, id: string, age: int64) {
		s_insert root.users
			$ build_table(User)
			$ m_insert(profile) (build_table(Profile) $ m_insert(age) age create_map)
			$ m_insert(id) id create_map;
	}
	export graph age_of(root: schema, id: string): int64 {
		return (point_get root.users id).profile.age;
	}
	export graph bio_missing(root: schema, id: string): bool {
		return is_null (point_get root.users id).profile.bio;
	}
	`)
	h.mustRun("add", StringValue("u1"), Int64Value(33))
	requireInt64(t, h.mustRun("age_of", StringValue("u1")), 33)
	requireBool(t, h.mustRun("bio_missing", StringValue("u1")), true)
}

func TestExec_TableInsertUpdatesField(t *testing.T) {
	h := newHarness(t, itemSchema, itemProgram+`
	export graph bump(root: schema, id: string, n: int64) {
		item = point_get root.s id;
		t_insert(n) n item;
	}
	`)
	h.mustRun("insert", StringValue("a"), Int64Value(1))
	h.mustRun("bump", StringValue("a"), Int64Value(10))
	requireInt64(t, h.mustRun("read_n", StringValue("a")), 10)
}

func TestExec_EffectsAreStrict(t *testing.T) {
	// A bare statement's side effects must occur even though its value
	// is unused.
	h := newHarness(t, itemSchema, itemProgram+`
	export graph silent_insert(root: schema) {
		s_insert root.s $ build_table(T) $ m_insert(id) "x" $ m_insert(n) 5 create_map;
		done = true;
	}
	`)
	h.mustRun("silent_insert")
	requireInt64(t, h.mustRun("read_n", StringValue("x")), 5)
}

func TestExec_MissingFieldOnBuildTable(t *testing.T) {
	// build_table with a missing non-optional field fails the static
	// check already.
	s, err := schema.CompileString(itemSchema)
	require.NoError(t, err)
	p, err := plan.Generate(nil, nil, s, &plan.SequentialSource{})
	require.NoError(t, err)
	_, err = CompileString(s, p, `
	export graph broken(root: schema) {
		t = build_table(T) $ m_insert(id) "a" create_map;
	}
	`)
	require.Error(t, err)
	assert.Equal(t, rdberr.TypeError, rdberr.KindOf(err))
}

func TestExec_Cancellation(t *testing.T) {
	h := newHarness(t, itemSchema, itemProgram)
	h.mustRun("insert", StringValue("a"), Int64Value(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	root, err := h.prog.RootMap()
	require.NoError(t, err)
	txn, err := h.store.Begin(context.Background())
	require.NoError(t, err)
	defer txn.Rollback()
	_, err = NewExecutor(h.prog, txn).RunGraph(ctx, "read_n", root, StringValue("a"))
	require.Error(t, err)
}

func TestTypecheck_Errors(t *testing.T) {
	s, err := schema.CompileString(itemSchema)
	require.NoError(t, err)
	p, err := plan.Generate(nil, nil, s, &plan.SequentialSource{})
	require.NoError(t, err)

	cases := []struct {
		name string
		src  string
	}{
		{"unknown node", `export graph g(root: schema): int64 { return nope; }`},
		{"if non-bool", `export graph g(root: schema) { if 1 { x = 2; } }`},
		{"return type mismatch", `export graph g(root: schema): int64 { return "s"; }`},
		{"bad field", `export graph g(root: schema): int64 { return (point_get root.s "a").zzz; }`},
		{"call arity", `graph h(a: int64): int64 { return a; }
			export graph g(root: schema): int64 { return call(h)[1, 2]; }`},
		{"unknown graph", `export graph g(root: schema): int64 { return call(missing)[]; }`},
		{"reduce arity", `graph h(a: int64): int64 { return a; }
			export graph g(root: schema): int64 { return reduce(h) 0 root.s; }`},
		{"arith on bool", `export graph g(root: schema): int64 { return true + false; }`},
		{"incompatible branches", `export graph g(root: schema) {
			if true { x = 1; } else { x = "s"; }
		}`},
		{"cons onto non-list", `export graph g(root: schema) { x = 1 : 2; }`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileString(s, p, tc.src)
			require.Error(t, err)
			assert.Equal(t, rdberr.TypeError, rdberr.KindOf(err))
		})
	}
}
