// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package database provides the transactional key-value storage
// abstraction used by every persistent structure in the node.  Concrete
// backends register themselves as drivers, selected by the dbtype
// configuration option.
package database

// KeyValueReader wraps the read side of a key-value store.
type KeyValueReader interface {
	// Get retrieves the value for the given key.  It returns an Error
	// with ErrKeyNotFound if the key is not present.
	Get(key []byte) ([]byte, error)

	// Has reports whether the given key exists.
	Has(key []byte) (bool, error)
}

// KeyValueWriter wraps the write side of a key-value store.
type KeyValueWriter interface {
	// Put inserts or replaces the value for the given key.
	Put(key, value []byte) error

	// Delete removes the value for the given key.  Deleting a missing
	// key is not an error.
	Delete(key []byte) error
}

// Batch is a write-only buffer of pending operations that is committed
// atomically: after Write returns nil every operation is durable, and a
// crash before Write returns leaves none of them visible.
type Batch interface {
	KeyValueWriter

	// Write flushes any accumulated operations to the underlying store
	// in one atomic, durable commit.
	Write() error

	// Reset discards the accumulated operations so the batch can be
	// reused.
	Reset()
}

// Iterator walks a key range in ascending key order.  It must be
// released when no longer needed.
type Iterator interface {
	// Next moves the iterator to the next key/value pair.  It returns
	// false when the iterator is exhausted.
	Next() bool

	// Key returns the key of the current pair.  The slice is only valid
	// until the next call to Next.
	Key() []byte

	// Value returns the value of the current pair.  The slice is only
	// valid until the next call to Next.
	Value() []byte

	// Release frees resources held by the iterator.
	Release()

	// Error returns any accumulated iteration error.
	Error() error
}

// DB is a transactional key-value store.  All mutations to a single
// logical structure must be routed through one owner; concurrent batch
// writers against the same structure are not supported.
type DB interface {
	KeyValueReader
	KeyValueWriter

	// NewBatch creates a write batch whose operations are applied
	// atomically by Write.
	NewBatch() Batch

	// NewIteratorWithPrefix returns an iterator over all keys sharing
	// the given prefix.
	NewIteratorWithPrefix(prefix []byte) Iterator

	// Close flushes and releases the store.  The DB and any structures
	// built on it must not be used afterwards.
	Close() error
}
