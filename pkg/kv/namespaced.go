package kv

import (
	"bytes"
	"context"
	"fmt"
)

// Namespaced wraps a Store so that every key lives under a fixed byte
// prefix. One logical RefineDB database occupies one namespace; several
// namespaces can share a physical store.
type Namespaced struct {
	inner  Store
	prefix []byte
}

// NewNamespaced wraps inner with the given namespace prefix.
func NewNamespaced(inner Store, prefix []byte) *Namespaced {
	return &Namespaced{inner: inner, prefix: append([]byte(nil), prefix...)}
}

// Begin opens a transaction scoped to the namespace.
func (n *Namespaced) Begin(ctx context.Context) (Transaction, error) {
	txn, err := n.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &namespacedTxn{inner: txn, prefix: n.prefix}, nil
}

// Close closes the underlying store.
func (n *Namespaced) Close() error { return n.inner.Close() }

type namespacedTxn struct {
	inner  Transaction
	prefix []byte
}

func (t *namespacedTxn) wrap(key []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(key))
	out = append(out, t.prefix...)
	return append(out, key...)
}

// wrapEnd maps a range end bound into the namespace. A nil end means
// "to the end of the namespace", not the end of the store.
func (t *namespacedTxn) wrapEnd(end []byte) []byte {
	if end == nil {
		return PrefixEnd(t.prefix)
	}
	return t.wrap(end)
}

func (t *namespacedTxn) Get(ctx context.Context, key []byte) ([]byte, error) {
	return t.inner.Get(ctx, t.wrap(key))
}

func (t *namespacedTxn) Put(key, value []byte) error {
	return t.inner.Put(t.wrap(key), value)
}

func (t *namespacedTxn) Delete(key []byte) error {
	return t.inner.Delete(t.wrap(key))
}

func (t *namespacedTxn) DeleteRange(start, end []byte) error {
	return t.inner.DeleteRange(t.wrap(start), t.wrapEnd(end))
}

func (t *namespacedTxn) Scan(ctx context.Context, start, end []byte) (Iterator, error) {
	it, err := t.inner.Scan(ctx, t.wrap(start), t.wrapEnd(end))
	if err != nil {
		return nil, err
	}
	return &namespacedIterator{inner: it, prefix: t.prefix}, nil
}

func (t *namespacedTxn) Commit(ctx context.Context) error { return t.inner.Commit(ctx) }
func (t *namespacedTxn) Rollback() error                  { return t.inner.Rollback() }

type namespacedIterator struct {
	inner  Iterator
	prefix []byte
}

func (it *namespacedIterator) Next(ctx context.Context) ([]byte, []byte, bool, error) {
	key, value, ok, err := it.inner.Next(ctx)
	if !ok || err != nil {
		return nil, nil, ok, err
	}
	if !bytes.HasPrefix(key, it.prefix) {
		return nil, nil, false, fmt.Errorf("key %x escaped namespace %x", key, it.prefix)
	}
	return key[len(it.prefix):], value, true, nil
}

func (it *namespacedIterator) Close() error { return it.inner.Close() }
