// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mmr

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/database"
	"github.com/seraphnet/seraph/database/ldb"
)

func testLeaf(i uint64) hash.Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], i)
	return hash.HashH(buf[:])
}

func newTestArchival(t *testing.T) *Archival {
	t.Helper()
	db, err := ldb.NewMemDB()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ar, err := OpenArchival(db)
	require.NoError(t, err)
	return ar
}

func TestPositionMath(t *testing.T) {
	// Known postorder layout for the first few leaves.
	assert.Equal(t, uint64(0), leafToPos(0))
	assert.Equal(t, uint64(1), leafToPos(1))
	assert.Equal(t, uint64(3), leafToPos(2))
	assert.Equal(t, uint64(4), leafToPos(3))
	assert.Equal(t, uint64(7), leafToPos(4))

	assert.Equal(t, uint64(0), posHeight(0))
	assert.Equal(t, uint64(1), posHeight(2))
	assert.Equal(t, uint64(2), posHeight(6))

	parent, sibling := family(0)
	assert.Equal(t, uint64(2), parent)
	assert.Equal(t, uint64(1), sibling)
	parent, sibling = family(4)
	assert.Equal(t, uint64(5), parent)
	assert.Equal(t, uint64(3), sibling)

	// 4 leaves -> 7 nodes, single peak at position 6.
	assert.Equal(t, uint64(7), nodeCountForLeaves(4))
	assert.Equal(t, []uint64{6}, peakPositions(7))
	// 3 leaves -> 4 nodes, peaks at 2 and 3.
	assert.Equal(t, []uint64{2, 3}, peakPositions(4))
}

// Every proof issued so far stays verifiable after every append.
func TestAppendProofsStayValid(t *testing.T) {
	ar := newTestArchival(t)

	const numLeaves = 130
	leaves := make([]hash.Hash, 0, numLeaves)
	for i := uint64(0); i < numLeaves; i++ {
		leaf := testLeaf(i)
		index, err := ar.Append(leaf)
		require.NoError(t, err)
		require.Equal(t, i, index)
		leaves = append(leaves, leaf)

		acc, err := ar.Accumulator()
		require.NoError(t, err)
		for j := uint64(0); j <= i; j++ {
			proof, err := ar.GetProof(j)
			require.NoError(t, err)
			assert.True(t, acc.Verify(leaves[j], &proof),
				"proof for leaf %d invalid at leaf count %d", j, i+1)
		}
	}
}

func TestAccumulatorMatchesArchival(t *testing.T) {
	ar := newTestArchival(t)
	acc := NewAccumulator()

	for i := uint64(0); i < 100; i++ {
		leaf := testLeaf(i)
		_, err := ar.Append(leaf)
		require.NoError(t, err)
		acc.Append(leaf)

		arAcc, err := ar.Accumulator()
		require.NoError(t, err)
		require.True(t, acc.Equal(arAcc), "divergence at leaf %d", i)
		require.Equal(t, acc.Bag(), mustBag(t, ar))
	}
}

func mustBag(t *testing.T, ar *Archival) hash.Hash {
	t.Helper()
	bag, err := ar.Bag()
	require.NoError(t, err)
	return bag
}

func TestVerifyRejectsWrongLeaf(t *testing.T) {
	ar := newTestArchival(t)
	for i := uint64(0); i < 10; i++ {
		_, err := ar.Append(testLeaf(i))
		require.NoError(t, err)
	}
	acc, err := ar.Accumulator()
	require.NoError(t, err)

	proof, err := ar.GetProof(3)
	require.NoError(t, err)
	assert.True(t, acc.Verify(testLeaf(3), &proof))
	assert.False(t, acc.Verify(testLeaf(4), &proof))

	wrongIndex := proof.Copy()
	wrongIndex.LeafIndex = 4
	assert.False(t, acc.Verify(testLeaf(3), &wrongIndex))

	outOfRange := proof.Copy()
	outOfRange.LeafIndex = 99
	assert.False(t, acc.Verify(testLeaf(3), &outOfRange))
}

func TestMutateLeaf(t *testing.T) {
	ar := newTestArchival(t)
	const numLeaves = 9
	for i := uint64(0); i < numLeaves; i++ {
		_, err := ar.Append(testLeaf(i))
		require.NoError(t, err)
	}

	newLeaf := testLeaf(1000)
	require.NoError(t, ar.MutateLeaf(4, newLeaf))

	acc, err := ar.Accumulator()
	require.NoError(t, err)

	// The mutated leaf verifies under its fresh proof, the old value
	// does not, and untouched leaves' fresh proofs still verify.
	proof, err := ar.GetProof(4)
	require.NoError(t, err)
	assert.True(t, acc.Verify(newLeaf, &proof))
	assert.False(t, acc.Verify(testLeaf(4), &proof))

	for i := uint64(0); i < numLeaves; i++ {
		if i == 4 {
			continue
		}
		p, err := ar.GetProof(i)
		require.NoError(t, err)
		assert.True(t, acc.Verify(testLeaf(i), &p))
	}
}

func TestAccumulatorMutateLeafWithProof(t *testing.T) {
	ar := newTestArchival(t)
	acc := NewAccumulator()
	for i := uint64(0); i < 20; i++ {
		_, err := ar.Append(testLeaf(i))
		require.NoError(t, err)
		acc.Append(testLeaf(i))
	}

	proof, err := ar.GetProof(7)
	require.NoError(t, err)
	newLeaf := testLeaf(777)

	require.NoError(t, acc.MutateLeaf(&proof, newLeaf))
	require.NoError(t, ar.MutateLeaf(7, newLeaf))

	arAcc, err := ar.Accumulator()
	require.NoError(t, err)
	assert.True(t, acc.Equal(arAcc),
		"proof-driven mutation must match store-driven mutation")
}

func TestBatchMutateAndUpdateProofs(t *testing.T) {
	ar := newTestArchival(t)
	acc := NewAccumulator()
	const numLeaves = 35
	for i := uint64(0); i < numLeaves; i++ {
		_, err := ar.Append(testLeaf(i))
		require.NoError(t, err)
		acc.Append(testLeaf(i))
	}

	// Mutate three leaves, two of them sharing ancestors, and keep a
	// proof for an untouched leaf alive across the batch.
	mutatedIndices := []uint64{2, 3, 17}
	mutations := make([]LeafMutation, 0, len(mutatedIndices))
	for _, idx := range mutatedIndices {
		proof, err := ar.GetProof(idx)
		require.NoError(t, err)
		mutations = append(mutations, LeafMutation{
			NewLeaf: testLeaf(idx + 5000),
			Proof:   proof,
		})
	}

	preservedProof, err := ar.GetProof(9)
	require.NoError(t, err)

	require.NoError(t, acc.BatchMutateAndUpdateProofs(mutations,
		[]*MembershipProof{&preservedProof}))

	archivalMutations := make([]ArchivalMutation, 0, len(mutatedIndices))
	for _, idx := range mutatedIndices {
		archivalMutations = append(archivalMutations, ArchivalMutation{
			LeafIndex: idx,
			NewLeaf:   testLeaf(idx + 5000),
		})
	}
	require.NoError(t, ar.BatchMutate(archivalMutations))

	arAcc, err := ar.Accumulator()
	require.NoError(t, err)
	require.True(t, acc.Equal(arAcc))

	// The preserved proof was patched in place and still verifies.
	assert.True(t, acc.Verify(testLeaf(9), &preservedProof))

	// The mutation proofs were patched to authenticate the new leaves.
	for i, idx := range mutatedIndices {
		assert.True(t, acc.Verify(testLeaf(idx+5000), &mutations[i].Proof),
			"patched proof for mutated leaf %d must verify", idx)
	}
}

func TestPopLeafInverse(t *testing.T) {
	ar := newTestArchival(t)

	var bags []hash.Hash
	bags = append(bags, mustBag(t, ar))
	for i := uint64(0); i < 40; i++ {
		_, err := ar.Append(testLeaf(i))
		require.NoError(t, err)
		bags = append(bags, mustBag(t, ar))
	}

	for i := int64(39); i >= 0; i-- {
		leaf, err := ar.PopLeaf()
		require.NoError(t, err)
		assert.Equal(t, testLeaf(uint64(i)), leaf)
		assert.Equal(t, bags[i], mustBag(t, ar),
			"bag after popping leaf %d must match history", i)
	}

	_, err := ar.PopLeaf()
	require.Error(t, err)
	assert.True(t, database.IsErrorCode(err, database.ErrOutOfBounds))
}

func TestArchivalPersistence(t *testing.T) {
	db, err := ldb.NewMemDB()
	require.NoError(t, err)
	defer db.Close()

	ar, err := OpenArchival(db)
	require.NoError(t, err)
	for i := uint64(0); i < 12; i++ {
		_, err := ar.Append(testLeaf(i))
		require.NoError(t, err)
	}
	require.NoError(t, ar.Commit())
	want := mustBag(t, ar)

	reopened, err := OpenArchival(db)
	require.NoError(t, err)
	got, err := reopened.Bag()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	count, err := reopened.LeafCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), count)
}
