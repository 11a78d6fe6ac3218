// Package refinedb provides the embedded API: open a KV store, deploy
// and migrate schemas, and execute TreeWalker programs transactionally.
//
// Example Usage:
//
//	store := kv.NewMemoryStore()
//	db, err := refinedb.Open(context.Background(), store, "myapp")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.Migrate(context.Background(), `
//	  type User { @primary id: string, karma: int64 }
//	  export set<User> users;
//	`)
//
//	prog, err := db.Compile(`
//	  export graph add_user(root: schema, id: string) {
//	    s_insert root.users
//	      $ build_table(User)
//	      $ m_insert(karma) 0
//	      $ m_insert(id) id create_map;
//	  }
//	`)
//	_, err = db.Execute(context.Background(), prog, "add_user", vm.StringValue("alice"))
//
// A graph whose first parameter is declared `schema` receives the
// virtual schema root automatically.
package refinedb

import (
	"context"
	"errors"
	"fmt"

	"github.com/refinedb/refinedb/pkg/asm"
	"github.com/refinedb/refinedb/pkg/config"
	"github.com/refinedb/refinedb/pkg/kv"
	"github.com/refinedb/refinedb/pkg/plan"
	"github.com/refinedb/refinedb/pkg/rdberr"
	"github.com/refinedb/refinedb/pkg/schema"
	"github.com/refinedb/refinedb/pkg/vm"
)

var (
	// ErrNoSchema is returned when executing against a database that
	// has never been migrated.
	ErrNoSchema = errors.New("no schema deployed")
)

// Metadata keys live under a reserved prefix that cannot collide with
// structural keys (which never start with 0x00 'm').
var (
	metaSchemaKey = []byte("\x00meta:schema")
	metaPlanKey   = []byte("\x00meta:plan")
)

// DB is one logical RefineDB database: a namespace on a KV store plus
// the deployed schema and storage plan.
type DB struct {
	store     kv.Store
	keySource plan.KeySource

	schema *schema.Schema
	plan   *plan.Plan
	// schemaSrc is the deployed schema's source text, kept for
	// migration against the stored version.
	schemaSrc string
}

// Open wraps the store in the namespace and loads any deployed schema
// and plan.
func Open(ctx context.Context, store kv.Store, namespace string) (*DB, error) {
	db := &DB{
		store:     kv.NewNamespaced(store, []byte(namespace)),
		keySource: plan.UUIDSource{},
	}
	if err := db.loadMeta(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenStore constructs the KV backend selected by the configuration.
func OpenStore(cfg *config.Config) (kv.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return kv.NewMemoryStore(), nil
	case config.BackendBadger:
		return kv.NewBadgerStore(cfg.Storage.DataDir)
	case config.BackendSQLite:
		return kv.NewSQLiteStore(cfg.SQLitePath())
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Close closes the underlying store.
func (db *DB) Close() error { return db.store.Close() }

// Schema returns the deployed schema, or nil before the first
// migration.
func (db *DB) Schema() *schema.Schema { return db.schema }

// Plan returns the deployed storage plan, or nil before the first
// migration.
func (db *DB) Plan() *plan.Plan { return db.plan }

// SetKeySource overrides the storage key source. Tests use a
// deterministic source to make planning reproducible.
func (db *DB) SetKeySource(ks plan.KeySource) { db.keySource = ks }

func (db *DB) loadMeta(ctx context.Context) error {
	txn, err := db.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open metadata transaction: %w", err)
	}
	defer txn.Rollback()

	rawSchema, err := txn.Get(ctx, metaSchemaKey)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil // fresh namespace
	}
	if err != nil {
		return fmt.Errorf("failed to load schema metadata: %w", err)
	}
	rawPlan, err := txn.Get(ctx, metaPlanKey)
	if err != nil {
		return fmt.Errorf("failed to load plan metadata: %w", err)
	}

	compiled, err := schema.CompileString(string(rawSchema))
	if err != nil {
		return fmt.Errorf("stored schema does not compile: %w", err)
	}
	stored, err := plan.DecodeCompressed(rawPlan)
	if err != nil {
		return fmt.Errorf("stored plan does not decode: %w", err)
	}
	db.schema = compiled
	db.plan = stored
	db.schemaSrc = string(rawSchema)
	return nil
}

// Migrate compiles schemaSrc and plans it against the deployed plan,
// preserving keys for every path present in both versions. The new
// schema and plan are persisted atomically; old data for removed paths
// stays on disk, cold but recoverable.
func (db *DB) Migrate(ctx context.Context, schemaSrc string) error {
	newSchema, err := schema.CompileString(schemaSrc)
	if err != nil {
		return err
	}
	newPlan, err := plan.Generate(db.plan, db.schema, newSchema, db.keySource)
	if err != nil {
		return err
	}

	encoded, err := newPlan.EncodeCompressed()
	if err != nil {
		return err
	}
	txn, err := db.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open migration transaction: %w", err)
	}
	defer txn.Rollback()
	if err := txn.Put(metaSchemaKey, []byte(schemaSrc)); err != nil {
		return fmt.Errorf("failed to persist schema: %w", err)
	}
	if err := txn.Put(metaPlanKey, encoded); err != nil {
		return fmt.Errorf("failed to persist plan: %w", err)
	}
	if err := txn.Commit(ctx); err != nil {
		if errors.Is(err, kv.ErrConflict) {
			return rdberr.Wrap(rdberr.TransactionConflict, err, "migration commit")
		}
		return fmt.Errorf("migration commit: %w", err)
	}

	db.schema = newSchema
	db.plan = newPlan
	db.schemaSrc = schemaSrc
	return nil
}

// Compile type-checks a TreeWalker program against the deployed schema
// and plan. Compile-time errors are returned before any transaction is
// opened.
func (db *DB) Compile(programSrc string) (*vm.Program, error) {
	if db.schema == nil {
		return nil, ErrNoSchema
	}
	return vm.CompileString(db.schema, db.plan, programSrc)
}

// Execute runs one graph inside a fresh transaction: commit on
// success, rollback on any error. A graph whose first parameter is
// declared `schema` receives the virtual root map prepended to params.
//
// A serialisation failure surfaces as a TransactionConflict error; the
// VM is deterministic given its inputs and snapshot, so the caller may
// re-run safely.
func (db *DB) Execute(ctx context.Context, prog *vm.Program, graphName string, params ...vm.Value) (vm.Value, error) {
	g, ok := prog.Graph(graphName)
	if !ok {
		return nil, rdberr.New(rdberr.TypeError, "graph `%s` not found", graphName)
	}
	if !g.Exported {
		return nil, rdberr.New(rdberr.TypeError, "graph `%s` is internal; only exported graphs are callable", graphName)
	}
	if len(g.Params) > 0 && g.Params[0].Type.Kind == asm.TypeSchema {
		root, err := prog.RootMap()
		if err != nil {
			return nil, err
		}
		params = append([]vm.Value{root}, params...)
	}

	txn, err := db.store.Begin(ctx)
	if err != nil {
		return nil, rdberr.Wrap(rdberr.BackendError, err, "begin transaction")
	}
	out, err := vm.NewExecutor(prog, txn).RunGraph(ctx, graphName, params...)
	if err != nil {
		txn.Rollback()
		return nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		if errors.Is(err, kv.ErrConflict) {
			return nil, rdberr.Wrap(rdberr.TransactionConflict, err, "commit")
		}
		return nil, rdberr.Wrap(rdberr.BackendError, err, "commit")
	}
	return out, nil
}

// ExecuteString compiles and executes in one step. Prefer Compile +
// Execute when running a program repeatedly.
func (db *DB) ExecuteString(ctx context.Context, programSrc, graphName string, params ...vm.Value) (vm.Value, error) {
	prog, err := db.Compile(programSrc)
	if err != nil {
		return nil, err
	}
	return db.Execute(ctx, prog, graphName, params...)
}
