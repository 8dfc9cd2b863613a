// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mutator

import (
	"encoding/binary"
	"sort"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mmr"
)

// AdditionRecord carries the canonical commitment a block appends to
// the AOCL.  It reveals nothing about the committed output beyond the
// commitment itself.
type AdditionRecord struct {
	Commitment hash.Hash
}

// Commit produces the addition record for an item and its sender
// randomness.  The commitment binds both, so equal items with different
// randomness produce unlinkable records.
func Commit(item, randomness hash.Hash) AdditionRecord {
	return AdditionRecord{Commitment: hash.HashPair(item, randomness)}
}

// ChunkDictEntry authenticates one sealed chunk a removal record
// touches: the chunk contents and its membership proof in the inactive
// SWBF mountain range.
type ChunkDictEntry struct {
	Proof mmr.MembershipProof
	Chunk *Chunk
}

// ChunkDictionary maps sealed chunk indices to their authenticated
// contents.  The chunk index equals the MMR leaf index.
type ChunkDictionary map[uint64]*ChunkDictEntry

// Copy returns a deep copy of the dictionary.
func (d ChunkDictionary) Copy() ChunkDictionary {
	out := make(ChunkDictionary, len(d))
	for idx, entry := range d {
		proof := entry.Proof.Copy()
		out[idx] = &ChunkDictEntry{Proof: proof, Chunk: entry.Chunk.Copy()}
	}
	return out
}

// SortedIndices returns the dictionary's chunk indices ascending.
func (d ChunkDictionary) SortedIndices() []uint64 {
	indices := make([]uint64, 0, len(d))
	for idx := range d {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	return indices
}

// RemovalRecord proves that a previously added commitment may be
// removed, without revealing the commitment's AOCL position to anyone
// who cannot already derive its filter positions.
type RemovalRecord struct {
	// AbsoluteIndices are the NumTrials filter positions the removal
	// sets, as absolute positions over the whole filter history.
	AbsoluteIndices []uint64

	// Commitment is the AOCL leaf being spent.
	Commitment hash.Hash

	// AoclProof authenticates Commitment against the AOCL.
	AoclProof mmr.MembershipProof

	// TargetChunks authenticates every sealed chunk holding one of the
	// record's positions.  Positions inside the active window need no
	// entry.
	TargetChunks ChunkDictionary
}

// Copy returns a deep copy of the record.
func (rr *RemovalRecord) Copy() *RemovalRecord {
	indices := make([]uint64, len(rr.AbsoluteIndices))
	copy(indices, rr.AbsoluteIndices)
	return &RemovalRecord{
		AbsoluteIndices: indices,
		Commitment:      rr.Commitment,
		AoclProof:       rr.AoclProof.Copy(),
		TargetChunks:    rr.TargetChunks.Copy(),
	}
}

// ID returns the identifier of the removal record: a digest of its
// sorted absolute index set.  Two records spending the same commitment
// derive the same positions and therefore the same ID, which is what
// the double-spend checks key on.
func (rr *RemovalRecord) ID() hash.Hash {
	indices := make([]uint64, len(rr.AbsoluteIndices))
	copy(indices, rr.AbsoluteIndices)
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	buf := make([]byte, 8*len(indices))
	for i, idx := range indices {
		binary.LittleEndian.PutUint64(buf[i*8:], idx)
	}
	return hash.HashH(buf)
}

// DeriveIndices computes the absolute filter positions for the
// commitment at the given AOCL leaf index.  The derivation is anchored
// to the window position at insertion time, so a commitment's positions
// stay inside the window for ChunksPerWindow batches and then fall into
// sealed chunks.
func DeriveIndices(commitment hash.Hash, leafIndex uint64) []uint64 {
	batchOffset := (leafIndex / BatchSize) * ChunkSize

	seed := make([]byte, hash.HashSize+8)
	copy(seed, commitment[:])
	binary.LittleEndian.PutUint64(seed[hash.HashSize:], leafIndex)

	samples := hash.SampleIndices(seed, NumTrials, WindowSize)
	indices := make([]uint64, NumTrials)
	for i, s := range samples {
		indices[i] = batchOffset + s
	}
	return indices
}
