// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mutator

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/database"
	"github.com/seraphnet/seraph/database/ldb"
)

func newTestArchival(t *testing.T) (*Archival, database.DB) {
	t.Helper()
	db, err := ldb.NewMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ms, err := OpenArchival(db)
	require.NoError(t, err)
	return ms, db
}

// testRecord derives a deterministic addition record for test item i.
func testRecord(i uint64) AdditionRecord {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], i)
	item := hash.HashH(buf[:])
	randomness := hash.HashH(append(buf[:], 'r'))
	return Commit(item, randomness)
}

func TestCommitBindsRandomness(t *testing.T) {
	item := hash.HashH([]byte("item"))
	r1 := hash.HashH([]byte("r1"))
	r2 := hash.HashH([]byte("r2"))

	assert.Equal(t, Commit(item, r1), Commit(item, r1))
	assert.NotEqual(t, Commit(item, r1), Commit(item, r2))
}

func TestDeriveIndicesDeterministic(t *testing.T) {
	commitment := hash.HashH([]byte("commitment"))

	first := DeriveIndices(commitment, 17)
	second := DeriveIndices(commitment, 17)
	require.Equal(t, first, second)
	require.Len(t, first, NumTrials)

	batchOffset := uint64(17/BatchSize) * ChunkSize
	for _, idx := range first {
		assert.GreaterOrEqual(t, idx, batchOffset)
		assert.Less(t, idx, batchOffset+WindowSize)
	}

	other := DeriveIndices(commitment, 18)
	assert.NotEqual(t, first, other)
}

func TestWindowSlideRoundTrip(t *testing.T) {
	w := NewActiveWindow()
	require.NoError(t, w.Increment(5))
	require.NoError(t, w.Increment(5))
	require.NoError(t, w.Increment(ChunkSize+9))

	before := w.Hash()
	sealed := w.SlideOut()
	assert.Equal(t, uint64(ChunkSize), w.Start)
	assert.True(t, sealed.IsSet(5))
	assert.False(t, w.Contains(5))
	assert.True(t, w.IsSet(ChunkSize+9))

	require.NoError(t, w.SlideIn(sealed))
	assert.Equal(t, before, w.Hash())
}

func TestAccumulatorSlidesEveryBatch(t *testing.T) {
	acc := NewAccumulator()
	for i := uint64(0); i < 3*BatchSize; i++ {
		index := acc.Add(testRecord(i))
		assert.Equal(t, i, index)
	}
	assert.Equal(t, uint64(3), acc.SwbfInactive.LeafCount)
	assert.Equal(t, uint64(3*ChunkSize), acc.SwbfActive.Start)
}

func TestArchivalMatchesAccumulator(t *testing.T) {
	ms, _ := newTestArchival(t)
	acc := NewAccumulator()

	for i := uint64(0); i < 40; i++ {
		record := testRecord(i)
		archIdx, err := ms.Add(record)
		require.NoError(t, err)
		accIdx := acc.Add(record)
		require.Equal(t, accIdx, archIdx)

		fromArchival, err := ms.Accumulator()
		require.NoError(t, err)
		require.True(t, acc.Equal(fromArchival), "diverged at addition %d", i)
		require.Equal(t, acc.Hash(), fromArchival.Hash())
	}
}

func TestRemovalInActiveWindow(t *testing.T) {
	ms, _ := newTestArchival(t)
	for i := uint64(0); i < 4; i++ {
		_, err := ms.Add(testRecord(i))
		require.NoError(t, err)
	}

	// No slide has happened yet, so every derived position is active.
	rr, err := ms.DropRecord(2)
	require.NoError(t, err)
	assert.Empty(t, rr.TargetChunks)

	acc, err := ms.Accumulator()
	require.NoError(t, err)
	require.True(t, acc.CanRemove(rr))

	require.NoError(t, ms.Remove(rr))
	require.NoError(t, acc.Remove(rr.Copy(), nil))

	fromArchival, err := ms.Accumulator()
	require.NoError(t, err)
	assert.Equal(t, acc.Hash(), fromArchival.Hash())

	// The spent commitment cannot be removed twice.
	fresh, err := ms.DropRecord(2)
	require.NoError(t, err)
	assert.False(t, fromArchival.CanRemove(fresh))

	// An unspent one still can.
	other, err := ms.DropRecord(3)
	require.NoError(t, err)
	assert.True(t, fromArchival.CanRemove(other))
}

func TestRemovalAcrossSealedChunks(t *testing.T) {
	ms, _ := newTestArchival(t)

	// Slide the window past the full span of the first batch so every
	// position of item 0 lands in a sealed chunk.
	total := uint64(BatchSize * ChunksPerWindow)
	for i := uint64(0); i < total; i++ {
		_, err := ms.Add(testRecord(i))
		require.NoError(t, err)
	}

	rr0, err := ms.DropRecord(0)
	require.NoError(t, err)
	require.NotEmpty(t, rr0.TargetChunks)
	rr1, err := ms.DropRecord(1)
	require.NoError(t, err)

	acc, err := ms.Accumulator()
	require.NoError(t, err)
	require.True(t, acc.CanRemove(rr0))
	require.True(t, acc.CanRemove(rr1))

	// Applying both removals through the accumulator exercises the
	// pending-record patching; the archival set is the authority the
	// result must agree with.
	update := &Update{Removals: []*RemovalRecord{rr0, rr1}}
	require.NoError(t, acc.Apply(update))
	require.NoError(t, ms.Apply(update))

	fromArchival, err := ms.Accumulator()
	require.NoError(t, err)
	require.Equal(t, acc.Hash(), fromArchival.Hash())

	fresh, err := ms.DropRecord(0)
	require.NoError(t, err)
	assert.False(t, fromArchival.CanRemove(fresh))
}

func TestApplyRevertInverse(t *testing.T) {
	ms, _ := newTestArchival(t)
	for i := uint64(0); i < 32; i++ {
		_, err := ms.Add(testRecord(i))
		require.NoError(t, err)
	}
	baseline, err := ms.Hash()
	require.NoError(t, err)

	rr3, err := ms.DropRecord(3)
	require.NoError(t, err)
	rr7, err := ms.DropRecord(7)
	require.NoError(t, err)
	update := &Update{
		Removals:  []*RemovalRecord{rr3, rr7},
		Additions: []AdditionRecord{testRecord(100), testRecord(101)},
	}

	require.NoError(t, ms.Apply(update))
	applied, err := ms.Hash()
	require.NoError(t, err)
	require.NotEqual(t, baseline, applied)

	require.NoError(t, ms.Revert(update))
	reverted, err := ms.Hash()
	require.NoError(t, err)
	assert.Equal(t, baseline, reverted)
}

func TestRevertAddUnwindsWindowSlide(t *testing.T) {
	ms, _ := newTestArchival(t)

	records := make([]AdditionRecord, 0, BatchSize+2)
	hashes := make([]hash.Hash, 0, BatchSize+3)
	digest, err := ms.Hash()
	require.NoError(t, err)
	hashes = append(hashes, digest)

	for i := uint64(0); i < BatchSize+2; i++ {
		record := testRecord(i)
		records = append(records, record)
		_, err := ms.Add(record)
		require.NoError(t, err)
		digest, err := ms.Hash()
		require.NoError(t, err)
		hashes = append(hashes, digest)
	}

	for i := len(records) - 1; i >= 0; i-- {
		require.NoError(t, ms.RevertAdd(records[i]))
		digest, err := ms.Hash()
		require.NoError(t, err)
		assert.Equal(t, hashes[i], digest, "mismatch after reverting add %d", i)
	}
}

func TestRevertAddRejectsWrongRecord(t *testing.T) {
	ms, _ := newTestArchival(t)
	_, err := ms.Add(testRecord(0))
	require.NoError(t, err)

	err = ms.RevertAdd(testRecord(1))
	assert.Error(t, err)
}

func TestRemovalOrderConverges(t *testing.T) {
	// Two permutations of the same removals must still converge: the
	// counters commute even though the proof patching runs in sequence.
	build := func(order []uint64) hash.Hash {
		ms, _ := newTestArchival(t)
		for i := uint64(0); i < 32; i++ {
			_, err := ms.Add(testRecord(i))
			require.NoError(t, err)
		}
		acc, err := ms.Accumulator()
		require.NoError(t, err)

		removals := make([]*RemovalRecord, 0, len(order))
		for _, leaf := range order {
			rr, err := ms.DropRecord(leaf)
			require.NoError(t, err)
			removals = append(removals, rr)
		}
		require.NoError(t, acc.Apply(&Update{Removals: removals}))
		return acc.Hash()
	}

	assert.Equal(t, build([]uint64{3, 11}), build([]uint64{11, 3}))
}

func TestArchivalPersistence(t *testing.T) {
	db, err := ldb.NewMemDB()
	require.NoError(t, err)
	defer db.Close()

	ms, err := OpenArchival(db)
	require.NoError(t, err)
	for i := uint64(0); i < 20; i++ {
		_, err := ms.Add(testRecord(i))
		require.NoError(t, err)
	}
	rr, err := ms.DropRecord(5)
	require.NoError(t, err)
	require.NoError(t, ms.Remove(rr))
	require.NoError(t, ms.Commit())

	before, err := ms.Hash()
	require.NoError(t, err)

	reopened, err := OpenArchival(db)
	require.NoError(t, err)
	after, err := reopened.Hash()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	count, err := reopened.AoclLeafCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(20), count)
}

func TestOpenArchivalRejectsTornState(t *testing.T) {
	db, err := ldb.NewMemDB()
	require.NoError(t, err)
	defer db.Close()

	ms, err := OpenArchival(db)
	require.NoError(t, err)
	for i := uint64(0); i < 2*BatchSize; i++ {
		_, err := ms.Add(testRecord(i))
		require.NoError(t, err)
	}
	require.NoError(t, ms.Commit())

	// Corrupt the stored window anchor.
	w := NewActiveWindow()
	w.Start = 7 * ChunkSize
	require.NoError(t, db.Put(windowKey, w.Serialize()))

	_, err = OpenArchival(db)
	require.Error(t, err)
	assert.True(t, database.IsErrorCode(err, database.ErrCorruption),
		fmt.Sprintf("unexpected error: %v", err))
}
