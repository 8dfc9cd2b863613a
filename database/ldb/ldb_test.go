// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ldb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seraphnet/seraph/database"
)

func newTestDB(t *testing.T) database.DB {
	t.Helper()
	db, err := NewMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBasicOperations(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Get([]byte("missing"))
	assert.True(t, database.IsErrorCode(err, database.ErrKeyNotFound))

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	has, err := db.Has([]byte("k"))
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, db.Delete([]byte("k")))
	has, err = db.Has([]byte("k"))
	require.NoError(t, err)
	assert.False(t, has)

	// Deleting an absent key is not an error.
	require.NoError(t, db.Delete([]byte("k")))
}

func TestBatchIsAtomicUnit(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Put([]byte("doomed"), []byte("x")))

	batch := db.NewBatch()
	require.NoError(t, batch.Put([]byte("a"), []byte("1")))
	require.NoError(t, batch.Put([]byte("b"), []byte("2")))
	require.NoError(t, batch.Delete([]byte("doomed")))

	// Nothing lands before Write.
	has, err := db.Has([]byte("a"))
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, batch.Write())

	got, err := db.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
	has, err = db.Has([]byte("doomed"))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestBatchReset(t *testing.T) {
	db := newTestDB(t)

	batch := db.NewBatch()
	require.NoError(t, batch.Put([]byte("dropped"), []byte("x")))
	batch.Reset()
	require.NoError(t, batch.Put([]byte("kept"), []byte("y")))
	require.NoError(t, batch.Write())

	has, err := db.Has([]byte("dropped"))
	require.NoError(t, err)
	assert.False(t, has)
	has, err = db.Has([]byte("kept"))
	require.NoError(t, err)
	assert.True(t, has)
}

func TestIteratorWithPrefix(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.Put([]byte("p/a"), []byte("1")))
	require.NoError(t, db.Put([]byte("p/b"), []byte("2")))
	require.NoError(t, db.Put([]byte("q/a"), []byte("3")))

	it := db.NewIteratorWithPrefix([]byte("p/"))
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	assert.Equal(t, []string{"p/a", "p/b"}, keys)
}

func TestNamespaceIsolation(t *testing.T) {
	db := newTestDB(t)

	first := database.NewNamespace(db, []byte("one/"))
	second := database.NewNamespace(db, []byte("two/"))

	require.NoError(t, first.Put([]byte("k"), []byte("first")))
	require.NoError(t, second.Put([]byte("k"), []byte("second")))

	got, err := first.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
	got, err = second.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	// Namespaced iterators see unprefixed keys.
	require.NoError(t, first.Put([]byte("k2"), []byte("x")))
	it := first.NewIteratorWithPrefix(nil)
	defer it.Release()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	assert.Equal(t, []string{"k", "k2"}, keys)
}

func TestNamespaceBatchSharesCommit(t *testing.T) {
	db := newTestDB(t)

	batch := db.NewBatch()
	nsBatch := database.NewNamespaceBatch(batch, []byte("ns/"))
	require.NoError(t, nsBatch.Put([]byte("k"), []byte("v")))
	require.NoError(t, batch.Put([]byte("plain"), []byte("w")))
	require.NoError(t, batch.Write())

	ns := database.NewNamespace(db, []byte("ns/"))
	got, err := ns.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	got, err = db.Get([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, []byte("w"), got)
}
