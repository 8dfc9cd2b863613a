// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package vector implements a crash-safe, disk-backed growable array on
// top of the database abstraction.  Every on-disk authenticated
// structure in the node is built from one or more of these.
package vector

import (
	"encoding/binary"
	"fmt"

	"github.com/seraphnet/seraph/database"
)

var (
	// lengthKey stores the committed element count, big endian.
	lengthKey = []byte("l")

	// elementKeyPrefix prefixes the per-index element records.
	elementKeyPrefix = []byte("e")
)

// defaultCacheLimit bounds the number of clean entries retained in the
// in-memory cache once they have been flushed.
const defaultCacheLimit = 4096

// Vector is a persistent growable array of byte slices.  Mutations are
// staged in memory and become durable only when flushed through an
// atomic batch; a crash between flushes leaves the previously committed
// state intact with no partial index updates.
//
// A Vector is owned by a single structure and is not safe for
// concurrent mutation.  Callers must route all writes through one
// owner.
type Vector struct {
	db database.DB

	// length is the staged element count including uncommitted pushes
	// and pops.
	length uint64

	// committedLength is the element count as of the last successful
	// flush.
	committedLength uint64

	// dirty holds staged writes keyed by index.  A nil value marks a
	// staged deletion from a pop.
	dirty map[uint64][]byte

	// cache holds clean entries for read acceleration.  Bounded by
	// cacheLimit with arbitrary eviction.
	cache      map[uint64][]byte
	cacheLimit int
}

// Open loads a vector from the given database namespace.  Length and
// contents reflect only fully committed batches.
func Open(db database.DB) (*Vector, error) {
	v := &Vector{
		db:         db,
		dirty:      make(map[uint64][]byte),
		cache:      make(map[uint64][]byte),
		cacheLimit: defaultCacheLimit,
	}

	lenBytes, err := db.Get(lengthKey)
	switch {
	case err == nil:
		if len(lenBytes) != 8 {
			return nil, database.MakeError(database.ErrCorruption,
				fmt.Sprintf("vector length record has size %d, want 8",
					len(lenBytes)), nil)
		}
		v.length = binary.BigEndian.Uint64(lenBytes)
	case database.IsErrorCode(err, database.ErrKeyNotFound):
		v.length = 0
	default:
		return nil, err
	}
	v.committedLength = v.length

	return v, nil
}

func elementKey(index uint64) []byte {
	key := make([]byte, len(elementKeyPrefix)+8)
	copy(key, elementKeyPrefix)
	binary.BigEndian.PutUint64(key[len(elementKeyPrefix):], index)
	return key
}

// Len returns the element count including staged mutations.
func (v *Vector) Len() uint64 {
	return v.length
}

// Get returns the element at the given index.  Staged writes are
// visible to the reader.  An ErrOutOfBounds database error is returned
// for indices at or past Len.
func (v *Vector) Get(index uint64) ([]byte, error) {
	if index >= v.length {
		return nil, database.MakeError(database.ErrOutOfBounds,
			fmt.Sprintf("index %d out of bounds (len %d)", index, v.length), nil)
	}

	if value, ok := v.dirty[index]; ok && value != nil {
		return value, nil
	}
	if value, ok := v.cache[index]; ok {
		return value, nil
	}

	value, err := v.db.Get(elementKey(index))
	if err != nil {
		if database.IsErrorCode(err, database.ErrKeyNotFound) {
			return nil, database.MakeError(database.ErrCorruption,
				fmt.Sprintf("missing element %d below committed length", index), err)
		}
		return nil, err
	}
	v.cacheStore(index, value)
	return value, nil
}

// Set stages a replacement of the element at the given index.
func (v *Vector) Set(index uint64, value []byte) error {
	if index >= v.length {
		return database.MakeError(database.ErrOutOfBounds,
			fmt.Sprintf("index %d out of bounds (len %d)", index, v.length), nil)
	}
	v.dirty[index] = append([]byte(nil), value...)
	return nil
}

// Push stages an append and returns the index the element will occupy.
func (v *Vector) Push(value []byte) uint64 {
	index := v.length
	v.dirty[index] = append([]byte(nil), value...)
	v.length++
	return index
}

// Pop stages removal of the last element and returns its value.
func (v *Vector) Pop() ([]byte, error) {
	if v.length == 0 {
		return nil, database.MakeError(database.ErrOutOfBounds,
			"pop from empty vector", nil)
	}
	last := v.length - 1
	value, err := v.Get(last)
	if err != nil {
		return nil, err
	}
	// Keep a copy: the staged deletion below invalidates cache entries.
	value = append([]byte(nil), value...)

	if last < v.committedLength {
		// The element exists on disk and must be deleted at flush.
		v.dirty[last] = nil
	} else {
		// The element was never committed; drop the staged write.
		delete(v.dirty, last)
	}
	delete(v.cache, last)
	v.length = last
	return value, nil
}

// Flush appends all staged mutations, including the length record, to
// the supplied batch.  The caller commits the batch; because a batch is
// all-or-nothing, either every staged mutation becomes durable or none
// does.  Several vectors sharing one underlying store may flush into
// the same batch to commit together.
//
// The staged state is promoted to clean optimistically: a failed batch
// write is a fatal storage error after which the structure instance
// must not be reused.
func (v *Vector) Flush(batch database.Batch) error {
	for index, value := range v.dirty {
		if value == nil {
			if err := batch.Delete(elementKey(index)); err != nil {
				return err
			}
			continue
		}
		if err := batch.Put(elementKey(index), value); err != nil {
			return err
		}
		v.cacheStore(index, value)
	}

	var lenBytes [8]byte
	binary.BigEndian.PutUint64(lenBytes[:], v.length)
	if err := batch.Put(lengthKey, lenBytes[:]); err != nil {
		return err
	}

	v.dirty = make(map[uint64][]byte)
	v.committedLength = v.length
	return nil
}

// Commit flushes all staged mutations in one atomic, durable batch
// against the vector's own store.
func (v *Vector) Commit() error {
	batch := v.db.NewBatch()
	if err := v.Flush(batch); err != nil {
		return err
	}
	return batch.Write()
}

// cacheStore inserts a clean entry, evicting arbitrary entries while
// over the limit.
func (v *Vector) cacheStore(index uint64, value []byte) {
	if len(v.cache) >= v.cacheLimit {
		for k := range v.cache {
			delete(v.cache, k)
			if len(v.cache) < v.cacheLimit {
				break
			}
		}
	}
	v.cache[index] = value
}
