package kv

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store with MVCC snapshot
// isolation. It's useful for:
// - Unit testing (no disk I/O)
// - Ephemeral namespaces that fit in RAM
//
// Every committed key carries the version of the commit that last wrote
// it. A transaction snapshots the committed state at Begin and conflicts
// at Commit when any key it read or wrote has been committed again since.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]memEntry
	version uint64
	closed  bool
}

type memEntry struct {
	value   []byte
	version uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memEntry)}
}

// Begin opens a transaction against a snapshot of the current state.
func (s *MemoryStore) Begin(ctx context.Context) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	snapshot := make(map[string]memEntry, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	return &memoryTxn{
		store:    s,
		snapshot: snapshot,
		version:  s.version,
		writes:   make(map[string]*[]byte),
		reads:    make(map[string]struct{}),
	}, nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = nil
	return nil
}

// Len returns the number of live keys. Intended for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

type memoryTxn struct {
	store    *MemoryStore
	snapshot map[string]memEntry
	version  uint64

	// writes maps key -> value; a nil pointer target marks a deletion.
	writes map[string]*[]byte
	reads  map[string]struct{}
	closed bool
}

func (t *memoryTxn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.closed {
		return nil, ErrTxnClosed
	}
	k := string(key)
	t.reads[k] = struct{}{}
	if w, ok := t.writes[k]; ok {
		if w == nil {
			return nil, ErrKeyNotFound
		}
		return append([]byte(nil), (*w)...), nil
	}
	e, ok := t.snapshot[k]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (t *memoryTxn) Put(key, value []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	v := append([]byte(nil), value...)
	t.writes[string(key)] = &v
	return nil
}

func (t *memoryTxn) Delete(key []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	t.writes[string(key)] = nil
	return nil
}

func (t *memoryTxn) DeleteRange(start, end []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	for _, k := range t.visibleKeys(start, end) {
		t.writes[k] = nil
	}
	return nil
}

func (t *memoryTxn) Scan(ctx context.Context, start, end []byte) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.closed {
		return nil, ErrTxnClosed
	}
	keys := t.visibleKeys(start, end)
	pairs := make([]memPair, 0, len(keys))
	for _, k := range keys {
		t.reads[k] = struct{}{}
		if w, ok := t.writes[k]; ok {
			pairs = append(pairs, memPair{k, *w})
		} else {
			pairs = append(pairs, memPair{k, t.snapshot[k].value})
		}
	}
	return &memoryIterator{pairs: pairs}, nil
}

// visibleKeys returns the sorted keys in [start, end) visible to this
// transaction: snapshot keys plus buffered writes, minus buffered
// deletions.
func (t *memoryTxn) visibleKeys(start, end []byte) []string {
	inRange := func(k string) bool {
		kb := []byte(k)
		if bytes.Compare(kb, start) < 0 {
			return false
		}
		return end == nil || bytes.Compare(kb, end) < 0
	}
	seen := make(map[string]struct{})
	var keys []string
	for k := range t.snapshot {
		if inRange(k) {
			if w, ok := t.writes[k]; ok && w == nil {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k, w := range t.writes {
		if w == nil || !inRange(k) {
			continue
		}
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (t *memoryTxn) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	// A key read or written by this transaction must not have been
	// committed again since our snapshot.
	conflicts := func(k string) bool {
		e, ok := s.data[k]
		_, sawIt := t.snapshot[k]
		if ok != sawIt {
			return true
		}
		return ok && e.version > t.version
	}
	for k := range t.reads {
		if conflicts(k) {
			return ErrConflict
		}
	}
	for k := range t.writes {
		if conflicts(k) {
			return ErrConflict
		}
	}

	s.version++
	for k, w := range t.writes {
		if w == nil {
			delete(s.data, k)
		} else {
			s.data[k] = memEntry{value: *w, version: s.version}
		}
	}
	return nil
}

func (t *memoryTxn) Rollback() error {
	t.closed = true
	return nil
}

type memPair struct {
	key   string
	value []byte
}

type memoryIterator struct {
	pairs []memPair
	pos   int
}

func (it *memoryIterator) Next(ctx context.Context) ([]byte, []byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, false, err
	}
	if it.pos >= len(it.pairs) {
		return nil, nil, false, nil
	}
	p := it.pairs[it.pos]
	it.pos++
	return []byte(p.key), p.value, true, nil
}

func (it *memoryIterator) Close() error { return nil }
