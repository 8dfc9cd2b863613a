// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

// namespace wraps a DB and prefixes every key so that multiple
// authenticated structures can share one underlying store without key
// collisions.  Each structure occupies its own namespace.
type namespace struct {
	db     DB
	prefix []byte
}

// NewNamespace returns a DB view whose keys are all prefixed with the
// given namespace prefix.  Batches created from the view inherit the
// prefix, so a batch spanning several namespaces of the same underlying
// store still commits atomically.
func NewNamespace(db DB, prefix []byte) DB {
	return &namespace{db: db, prefix: prefix}
}

func (n *namespace) key(key []byte) []byte {
	out := make([]byte, 0, len(n.prefix)+len(key))
	out = append(out, n.prefix...)
	return append(out, key...)
}

func (n *namespace) Get(key []byte) ([]byte, error) {
	return n.db.Get(n.key(key))
}

func (n *namespace) Has(key []byte) (bool, error) {
	return n.db.Has(n.key(key))
}

func (n *namespace) Put(key, value []byte) error {
	return n.db.Put(n.key(key), value)
}

func (n *namespace) Delete(key []byte) error {
	return n.db.Delete(n.key(key))
}

func (n *namespace) NewBatch() Batch {
	return &namespaceBatch{batch: n.db.NewBatch(), prefix: n.prefix}
}

// NewNamespaceBatch wraps an existing batch so every key staged through
// the wrapper carries the namespace prefix.  It lets several namespaced
// structures flush into one shared batch and commit atomically.  The
// batch must have been created at the same level as the DB view the
// prefix was applied to.
func NewNamespaceBatch(batch Batch, prefix []byte) Batch {
	return &namespaceBatch{batch: batch, prefix: prefix}
}

func (n *namespace) NewIteratorWithPrefix(prefix []byte) Iterator {
	return &namespaceIterator{
		it:        n.db.NewIteratorWithPrefix(n.key(prefix)),
		prefixLen: len(n.prefix),
	}
}

// Close is a no-op for a namespace view; the owner of the underlying
// store is responsible for closing it.
func (n *namespace) Close() error {
	return nil
}

type namespaceBatch struct {
	batch  Batch
	prefix []byte
}

func (b *namespaceBatch) key(key []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(key))
	out = append(out, b.prefix...)
	return append(out, key...)
}

func (b *namespaceBatch) Put(key, value []byte) error {
	return b.batch.Put(b.key(key), value)
}

func (b *namespaceBatch) Delete(key []byte) error {
	return b.batch.Delete(b.key(key))
}

func (b *namespaceBatch) Write() error {
	return b.batch.Write()
}

func (b *namespaceBatch) Reset() {
	b.batch.Reset()
}

type namespaceIterator struct {
	it        Iterator
	prefixLen int
}

func (it *namespaceIterator) Next() bool { return it.it.Next() }

func (it *namespaceIterator) Key() []byte {
	key := it.it.Key()
	if len(key) < it.prefixLen {
		return nil
	}
	return key[it.prefixLen:]
}

func (it *namespaceIterator) Value() []byte { return it.it.Value() }
func (it *namespaceIterator) Release()      { it.it.Release() }
func (it *namespaceIterator) Error() error  { return it.it.Error() }
