package refinedb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refinedb/refinedb/pkg/config"
	"github.com/refinedb/refinedb/pkg/kv"
	"github.com/refinedb/refinedb/pkg/plan"
	"github.com/refinedb/refinedb/pkg/value"
	"github.com/refinedb/refinedb/pkg/vm"
)

const schemaV1 = `
type T {
	@primary id: string,
	n: int64,
}
export set<T> s;
`

const schemaV2 = `
type T {
	@primary id: string,
	n: int64,
	m: int64?,
}
export set<T> s;
`

func openTestDB(t *testing.T, store kv.Store) *DB {
	t.Helper()
	db, err := Open(context.Background(), store, "test")
	require.NoError(t, err)
	db.SetKeySource(&plan.SequentialSource{})
	return db
}

func TestDB_MigrateAndExecute(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	db := openTestDB(t, store)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx, schemaV1))
	require.NotNil(t, db.Schema())
	require.NotNil(t, db.Plan())

	prog, err := db.Compile(`
	export graph put(root: schema, id: string, n: int64) {
		s_insert root.s $ build_table(T) $ m_insert(id) id $ m_insert(n) n create_map;
	}
	export graph get_n(root: schema, id: string): int64 {
		return (point_get root.s id).n;
	}
	`)
	require.NoError(t, err)

	_, err = db.Execute(ctx, prog, "put", vm.StringValue("a"), vm.Int64Value(1))
	require.NoError(t, err)

	out, err := db.Execute(ctx, prog, "get_n", vm.StringValue("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.(vm.Prim).P.I)
}

func TestDB_ExecuteBeforeMigrate(t *testing.T) {
	db := openTestDB(t, kv.NewMemoryStore())
	defer db.Close()
	_, err := db.Compile(`export graph g(root: schema) {}`)
	assert.ErrorIs(t, err, ErrNoSchema)
}

func TestDB_MetadataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	db := openTestDB(t, store)
	require.NoError(t, db.Migrate(ctx, schemaV1))
	firstPlan := db.Plan()

	// A second handle on the same namespace sees the deployed schema
	// and the exact same plan.
	db2, err := Open(ctx, store, "test")
	require.NoError(t, err)
	require.NotNil(t, db2.Schema())
	assert.True(t, firstPlan.Equal(db2.Plan()), "reloaded plan must be identical")
}

func TestDB_MigrationAddsField(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	db := openTestDB(t, store)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx, schemaV1))
	progV1, err := db.Compile(`
	export graph put(root: schema, id: string, n: int64) {
		s_insert root.s $ build_table(T) $ m_insert(id) id $ m_insert(n) n create_map;
	}
	`)
	require.NoError(t, err)
	_, err = db.Execute(ctx, progV1, "put", vm.StringValue("old"), vm.Int64Value(7))
	require.NoError(t, err)

	// Migrate: add optional field m.
	require.NoError(t, db.Migrate(ctx, schemaV2))

	progV2, err := db.Compile(`
	export graph put2(root: schema, id: string, n: int64, m: int64) {
		s_insert root.s
			$ build_table(T)
			$ m_insert(m) m
			$ m_insert(id) id
			$ m_insert(n) n create_map;
	}
	export graph get_n(root: schema, id: string): int64 {
		return (point_get root.s id).n;
	}
	export graph has_m(root: schema, id: string): bool {
		return !(is_null (point_get root.s id).m);
	}
	export graph get_m(root: schema, id: string): int64 {
		return (point_get root.s id).m;
	}
	`)
	require.NoError(t, err)

	// Pre-existing entries stay readable; the new field reads as
	// absent.
	out, err := db.Execute(ctx, progV2, "get_n", vm.StringValue("old"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.(vm.Prim).P.I)

	out, err = db.Execute(ctx, progV2, "has_m", vm.StringValue("old"))
	require.NoError(t, err)
	assert.False(t, out.(vm.Prim).P.T)

	// New inserts persist m.
	_, err = db.Execute(ctx, progV2, "put2", vm.StringValue("new"), vm.Int64Value(8), vm.Int64Value(99))
	require.NoError(t, err)
	out, err = db.Execute(ctx, progV2, "get_m", vm.StringValue("new"))
	require.NoError(t, err)
	assert.Equal(t, int64(99), out.(vm.Prim).P.I)
}

func TestDB_RuntimeErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	db := openTestDB(t, store)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx, schemaV1))

	prog, err := db.Compile(`
	export graph put_then_throw(root: schema) {
		s_insert root.s $ build_table(T) $ m_insert(id) "x" $ m_insert(n) 1 create_map;
		throw "abort";
	}
	export graph present(root: schema, id: string): bool {
		return is_present $ point_get root.s id;
	}
	`)
	require.NoError(t, err)

	_, err = db.Execute(ctx, prog, "put_then_throw")
	require.Error(t, err)

	// No partial commit: the insert preceding the throw is gone.
	out, err := db.Execute(ctx, prog, "present", vm.StringValue("x"))
	require.NoError(t, err)
	assert.False(t, out.(vm.Prim).P.T)
}

func TestDB_InternalGraphNotCallable(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, kv.NewMemoryStore())
	defer db.Close()
	require.NoError(t, db.Migrate(ctx, schemaV1))

	prog, err := db.Compile(`
	graph internal(root: schema): int64 {
		return 1;
	}
	export graph public(root: schema): int64 {
		return call(internal)[root];
	}
	`)
	require.NoError(t, err)

	_, err = db.Execute(ctx, prog, "internal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal")

	out, err := db.Execute(ctx, prog, "public")
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.(vm.Prim).P.I)
}

func TestDB_NamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	a, err := Open(ctx, store, "ns-a")
	require.NoError(t, err)
	a.SetKeySource(&plan.SequentialSource{})
	b, err := Open(ctx, store, "ns-b")
	require.NoError(t, err)

	require.NoError(t, a.Migrate(ctx, schemaV1))
	assert.Nil(t, b.Schema(), "a migration in one namespace must not leak into another")
}

func TestDB_ValueHelpersRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t, kv.NewMemoryStore())
	defer db.Close()
	require.NoError(t, db.Migrate(ctx, `
	type R {
		@primary k: string,
		b: bytes,
		flag: bool,
	}
	export set<R> rs;
	`))

	out, err := db.ExecuteString(ctx, `
	export graph echo(root: schema, k: string, b: bytes, flag: bool): bool {
		s_insert root.rs
			$ build_table(R)
			$ m_insert(flag) flag
			$ m_insert(b) b
			$ m_insert(k) k create_map;
		return (point_get root.rs k).flag;
	}
	`, "echo", vm.StringValue("r1"), vm.BytesValue([]byte{1, 2}), vm.BoolValue(true))
	require.NoError(t, err)
	assert.True(t, out.(vm.Prim).P.T)
	assert.Equal(t, value.KindBool, out.(vm.Prim).P.Kind)
}

func TestOpenStore_Backends(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	store, err := OpenStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.DataDir = t.TempDir()
	store, err = OpenStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	cfg.Storage.Backend = "bogus"
	_, err = OpenStore(cfg)
	assert.Error(t, err)
}
