// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package badgerdb implements the badger backed database driver.  It is
// selectable with the dbtype configuration option for deployments that
// prefer badger's LSM layout over leveldb.
package badgerdb

import (
	"fmt"

	"github.com/dgraph-io/badger"

	"github.com/seraphnet/seraph/database"
)

const dbType = "badger"

// badgerDB wraps a badger instance behind the database.DB interface.
type badgerDB struct {
	bdb *badger.DB
}

func openDB(dbPath string) (database.DB, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil
	// Every update transaction is committed synchronously so that a
	// batch reported as written survives a crash.
	opts.SyncWrites = true
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, database.MakeError(database.ErrIo,
			"failed to open database", err)
	}
	return &badgerDB{bdb: bdb}, nil
}

func (db *badgerDB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := db.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, database.MakeError(database.ErrKeyNotFound,
			"key not found", err)
	}
	if err != nil {
		return nil, database.MakeError(database.ErrIo, "get failed", err)
	}
	return value, nil
}

func (db *badgerDB) Has(key []byte) (bool, error) {
	_, err := db.Get(key)
	if err != nil {
		if database.IsErrorCode(err, database.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (db *badgerDB) Put(key, value []byte) error {
	err := db.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return database.MakeError(database.ErrIo, "put failed", err)
	}
	return nil
}

func (db *badgerDB) Delete(key []byte) error {
	err := db.bdb.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return database.MakeError(database.ErrIo, "delete failed", err)
	}
	return nil
}

func (db *badgerDB) NewBatch() database.Batch {
	return &badgerBatch{db: db.bdb}
}

func (db *badgerDB) NewIteratorWithPrefix(prefix []byte) database.Iterator {
	txn := db.bdb.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	it.Rewind()
	return &badgerIterator{txn: txn, it: it, prefix: prefix, first: true}
}

func (db *badgerDB) Close() error {
	if err := db.bdb.Close(); err != nil {
		return database.MakeError(database.ErrIo, "close failed", err)
	}
	return nil
}

// badgerBatch buffers operations and commits them in one badger update
// transaction, which is atomic and, with SyncWrites, durable.
type badgerBatch struct {
	db  *badger.DB
	ops []batchOp
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

func (b *badgerBatch) Put(key, value []byte) error {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	b.ops = append(b.ops, batchOp{key: k, value: v})
	return nil
}

func (b *badgerBatch) Delete(key []byte) error {
	k := append([]byte(nil), key...)
	b.ops = append(b.ops, batchOp{key: k, delete: true})
	return nil
}

func (b *badgerBatch) Write() error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return database.MakeError(database.ErrIo, "batch write failed", err)
	}
	return nil
}

func (b *badgerBatch) Reset() {
	b.ops = b.ops[:0]
}

type badgerIterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	prefix []byte
	first  bool
	err    error
}

func (it *badgerIterator) Next() bool {
	if !it.first {
		it.it.Next()
	}
	it.first = false
	return it.it.ValidForPrefix(it.prefix)
}

func (it *badgerIterator) Key() []byte {
	return it.it.Item().KeyCopy(nil)
}

func (it *badgerIterator) Value() []byte {
	value, err := it.it.Item().ValueCopy(nil)
	if err != nil {
		it.err = err
		return nil
	}
	return value
}

func (it *badgerIterator) Release() {
	it.it.Close()
	it.txn.Discard()
}

func (it *badgerIterator) Error() error {
	return it.err
}

func init() {
	driver := database.Driver{
		DbType: dbType,
		Create: func(args ...interface{}) (database.DB, error) {
			dbPath, err := parseArgs("Create", args...)
			if err != nil {
				return nil, err
			}
			return openDB(dbPath)
		},
		Open: func(args ...interface{}) (database.DB, error) {
			dbPath, err := parseArgs("Open", args...)
			if err != nil {
				return nil, err
			}
			return openDB(dbPath)
		},
	}
	if err := database.RegisterDriver(driver); err != nil {
		panic(fmt.Sprintf("Failed to regiser database driver '%s': %v",
			dbType, err))
	}
}

func parseArgs(funcName string, args ...interface{}) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("invalid arguments to %s.%s -- "+
			"expected database path", dbType, funcName)
	}
	dbPath, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("first argument to %s.%s is invalid -- "+
			"expected database path string", dbType, funcName)
	}
	return dbPath, nil
}
