// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ldb

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	ldbiter "github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/seraphnet/seraph/database"
)

// ldbDB wraps a goleveldb instance behind the database.DB interface.
type ldbDB struct {
	ldb *leveldb.DB
}

// syncWrites forces every batch commit through fsync so that a batch
// reported as written survives a crash.
var syncWrites = &opt.WriteOptions{Sync: true}

// openDB opens (and optionally creates) the leveldb instance at dbPath.
func openDB(dbPath string, create bool) (database.DB, error) {
	opts := &opt.Options{
		ErrorIfMissing: !create,
		Strict:         opt.DefaultStrict,
		Filter:         filter.NewBloomFilter(10),
	}
	ldb, err := leveldb.OpenFile(dbPath, opts)
	if err != nil {
		return nil, convertErr("failed to open database", err)
	}

	return &ldbDB{ldb: ldb}, nil
}

// NewMemDB returns a database.DB backed by an in-memory leveldb storage.
// It is intended for tests.
func NewMemDB() (database.DB, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, convertErr("failed to open memory database", err)
	}
	return &ldbDB{ldb: ldb}, nil
}

// convertErr maps goleveldb errors onto the database error taxonomy.
func convertErr(desc string, err error) database.Error {
	code := database.ErrIo
	switch {
	case errors.IsCorrupted(err):
		code = database.ErrCorruption
	case err == leveldb.ErrNotFound:
		code = database.ErrKeyNotFound
	case err == leveldb.ErrClosed:
		code = database.ErrDbNotOpen
	case err == storage.ErrClosed:
		code = database.ErrDbNotOpen
	}
	return database.MakeError(code, desc, err)
}

func (db *ldbDB) Get(key []byte) ([]byte, error) {
	value, err := db.ldb.Get(key, nil)
	if err != nil {
		return nil, convertErr("get failed", err)
	}
	return value, nil
}

func (db *ldbDB) Has(key []byte) (bool, error) {
	exists, err := db.ldb.Has(key, nil)
	if err != nil {
		return false, convertErr("has failed", err)
	}
	return exists, nil
}

func (db *ldbDB) Put(key, value []byte) error {
	if err := db.ldb.Put(key, value, syncWrites); err != nil {
		return convertErr("put failed", err)
	}
	return nil
}

func (db *ldbDB) Delete(key []byte) error {
	if err := db.ldb.Delete(key, syncWrites); err != nil {
		return convertErr("delete failed", err)
	}
	return nil
}

func (db *ldbDB) NewBatch() database.Batch {
	return &ldbBatch{db: db.ldb, b: new(leveldb.Batch)}
}

func (db *ldbDB) NewIteratorWithPrefix(prefix []byte) database.Iterator {
	return &ldbIterator{it: db.ldb.NewIterator(util.BytesPrefix(prefix), nil)}
}

func (db *ldbDB) Close() error {
	if err := db.ldb.Close(); err != nil {
		return convertErr("close failed", err)
	}
	return nil
}

// ldbBatch implements database.Batch over a leveldb write batch.  The
// commit is all-or-nothing: leveldb applies the whole batch through its
// write-ahead log or none of it.
type ldbBatch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *ldbBatch) Put(key, value []byte) error {
	b.b.Put(key, value)
	return nil
}

func (b *ldbBatch) Delete(key []byte) error {
	b.b.Delete(key)
	return nil
}

func (b *ldbBatch) Write() error {
	if err := b.db.Write(b.b, syncWrites); err != nil {
		return convertErr("batch write failed", err)
	}
	return nil
}

func (b *ldbBatch) Reset() {
	b.b.Reset()
}

type ldbIterator struct {
	it ldbiter.Iterator
}

func (it *ldbIterator) Next() bool    { return it.it.Next() }
func (it *ldbIterator) Key() []byte   { return it.it.Key() }
func (it *ldbIterator) Value() []byte { return it.it.Value() }
func (it *ldbIterator) Release()      { it.it.Release() }
func (it *ldbIterator) Error() error  { return it.it.Error() }
