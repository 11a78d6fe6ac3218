package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore provides persistent storage using BadgerDB.
//
// Badger transactions natively satisfy the Store contract: snapshot
// reads at the transaction's read timestamp, reads of the transaction's
// own pending writes, and conflict detection at commit.
//
// Example:
//
//	store, err := kv.NewBadgerStore("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
type BadgerStore struct {
	db       *badger.DB
	inMemory bool
}

// NewBadgerStore opens (or creates) a Badger database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	log.Printf("badger: opened database at %s", dir)
	return &BadgerStore{db: db}, nil
}

// NewBadgerStoreInMemory opens a memory-only Badger database. Used in
// tests - there's no disk to fsync to.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory BadgerDB: %w", err)
	}
	return &BadgerStore{db: db, inMemory: true}, nil
}

// IsInMemory reports whether the store runs in memory-only mode.
func (s *BadgerStore) IsInMemory() bool { return s.inMemory }

// Begin opens a read-write Badger transaction.
func (s *BadgerStore) Begin(ctx context.Context) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.db.IsClosed() {
		return nil, ErrStoreClosed
	}
	return &badgerTxn{txn: s.db.NewTransaction(true)}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerTxn struct {
	txn    *badger.Txn
	closed bool
}

func (t *badgerTxn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.closed {
		return nil, ErrTxnClosed
	}
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Put(key, value []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	return t.txn.Set(append([]byte(nil), key...), append([]byte(nil), value...))
}

func (t *badgerTxn) Delete(key []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	return t.txn.Delete(append([]byte(nil), key...))
}

func (t *badgerTxn) DeleteRange(start, end []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	// Badger has no native range deletion inside a transaction; collect
	// the keys first, then delete them through the same transaction so
	// the deletes participate in conflict detection.
	var keys [][]byte
	it := t.txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	for it.Seek(start); it.Valid(); it.Next() {
		k := it.Item().KeyCopy(nil)
		if end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		keys = append(keys, k)
	}
	it.Close()
	for _, k := range keys {
		if err := t.txn.Delete(k); err != nil {
			return fmt.Errorf("badger range delete: %w", err)
		}
	}
	return nil
}

func (t *badgerTxn) Scan(ctx context.Context, start, end []byte) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.closed {
		return nil, ErrTxnClosed
	}
	// A read-write Badger transaction allows only one live iterator, but
	// graph evaluation issues point reads (and nested scans) while a set
	// scan is in flight. Materialise the range up front; snapshot reads
	// make this equivalent to lazy iteration.
	var pairs []memPair
	it := t.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(start); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if end != nil && bytes.Compare(key, end) >= 0 {
			break
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("badger scan value: %w", err)
		}
		pairs = append(pairs, memPair{key: string(key), value: value})
	}
	return &memoryIterator{pairs: pairs}, nil
}

func (t *badgerTxn) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true
	err := t.txn.Commit()
	if errors.Is(err, badger.ErrConflict) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("badger commit: %w", err)
	}
	return nil
}

func (t *badgerTxn) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.txn.Discard()
	return nil
}
