// Package kv provides the ordered transactional key-value abstraction
// the storage plan and TreeWalker VM execute against, plus three engine
// implementations:
//
//   - MemoryStore: MVCC in-memory store for testing and small datasets
//   - BadgerStore: persistent disk-based storage using BadgerDB
//   - SQLiteStore: single-file storage using modernc.org/sqlite
//
// All engines share the same contract:
//   - Keys are ordered byte strings.
//   - Reads are snapshot-isolated within a transaction.
//   - Scans reflect writes made earlier in the same transaction.
//   - Commit is serialisable; a serialisation failure surfaces as
//     ErrConflict and the caller decides whether to retry.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned by Get when the key has no value.
	ErrKeyNotFound = errors.New("key not found")

	// ErrConflict is returned by Commit when the transaction lost a
	// serialisation race and must be retried by the caller.
	ErrConflict = errors.New("transaction conflict")

	// ErrTxnClosed is returned when using a committed or rolled back
	// transaction.
	ErrTxnClosed = errors.New("transaction is closed")

	// ErrStoreClosed is returned when the underlying store was closed.
	ErrStoreClosed = errors.New("store is closed")
)

// Store is an ordered transactional key-value store.
type Store interface {
	// Begin opens a new transaction with a stable snapshot.
	Begin(ctx context.Context) (Transaction, error)

	// Close releases the store. In-flight transactions fail afterwards.
	Close() error
}

// Transaction is a single snapshot-isolated transaction. A transaction
// is exclusive to one execution and is not safe for concurrent use.
type Transaction interface {
	// Get returns the value stored at key, or ErrKeyNotFound.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Put buffers a write of value at key.
	Put(key, value []byte) error

	// Delete buffers a deletion of key.
	Delete(key []byte) error

	// DeleteRange buffers deletion of every key in [start, end).
	DeleteRange(start, end []byte) error

	// Scan returns an iterator over [start, end) in ascending key order.
	// The iterator observes writes buffered earlier in this transaction.
	Scan(ctx context.Context, start, end []byte) (Iterator, error)

	// Commit atomically applies the buffered writes. Returns ErrConflict
	// if the snapshot was invalidated by a concurrent commit.
	Commit(ctx context.Context) error

	// Rollback discards the transaction. Safe to call after Commit.
	Rollback() error
}

// Iterator walks scan results lazily. Key and value slices are only
// valid until the next call to Next.
type Iterator interface {
	// Next advances the iterator. ok is false once exhausted.
	Next(ctx context.Context) (key, value []byte, ok bool, err error)

	// Close releases iterator resources. Iterators may be dropped
	// without being fully consumed.
	Close() error
}

// PrefixEnd returns the smallest key strictly greater than every key
// with the given prefix, for use as a Scan/DeleteRange end bound.
// Returns nil for an all-0xff prefix (meaning "no upper bound").
func PrefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
