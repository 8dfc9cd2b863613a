// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mutator

import (
	"fmt"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mmr"
)

// Accumulator is the compact form of the mutator set: the AOCL and
// inactive-SWBF mountain range accumulators plus the active window.
// Two accumulators are equal exactly when the same ordered history of
// additions and removals produced them.
type Accumulator struct {
	Aocl         *mmr.Accumulator
	SwbfInactive *mmr.Accumulator
	SwbfActive   *ActiveWindow
}

// NewAccumulator returns the accumulator of the empty mutator set.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		Aocl:         mmr.NewAccumulator(),
		SwbfInactive: mmr.NewAccumulator(),
		SwbfActive:   NewActiveWindow(),
	}
}

// Copy returns a deep copy of the accumulator.
func (msa *Accumulator) Copy() *Accumulator {
	return &Accumulator{
		Aocl:         msa.Aocl.Copy(),
		SwbfInactive: msa.SwbfInactive.Copy(),
		SwbfActive:   msa.SwbfActive.Copy(),
	}
}

// Hash returns the accumulator commitment: the digest a block header
// declares as its post-state.
func (msa *Accumulator) Hash() hash.Hash {
	aoclBag := msa.Aocl.Bag()
	inactiveBag := msa.SwbfInactive.Bag()
	activeHash := msa.SwbfActive.Hash()

	buf := make([]byte, 0, 3*hash.HashSize)
	buf = append(buf, aoclBag[:]...)
	buf = append(buf, inactiveBag[:]...)
	buf = append(buf, activeHash[:]...)
	return hash.HashH(buf)
}

// Equal reports whether two accumulators commit to the same set state.
func (msa *Accumulator) Equal(other *Accumulator) bool {
	return msa.Aocl.Equal(other.Aocl) &&
		msa.SwbfInactive.Equal(other.SwbfInactive) &&
		msa.SwbfActive.Equal(other.SwbfActive)
}

// Add appends the commitment to the AOCL and returns its leaf index.
// Every BatchSize additions the active window slides: its oldest chunk
// is sealed into a new inactive-SWBF leaf and cleared from the window.
func (msa *Accumulator) Add(record AdditionRecord) uint64 {
	index := msa.Aocl.Append(record.Commitment)
	if msa.Aocl.LeafCount%BatchSize == 0 {
		sealed := msa.SwbfActive.SlideOut()
		msa.SwbfInactive.Append(sealed.Hash())
	}
	return index
}

// validateRemoval checks the removal record's proofs against the
// accumulator: the AOCL membership proof for the spent commitment and
// the chunk dictionary entries for every position below the window.
func (msa *Accumulator) validateRemoval(rr *RemovalRecord) error {
	if len(rr.AbsoluteIndices) != NumTrials {
		return fmt.Errorf("removal record has %d indices, want %d",
			len(rr.AbsoluteIndices), NumTrials)
	}
	if !msa.Aocl.Verify(rr.Commitment, &rr.AoclProof) {
		return fmt.Errorf("removal record AOCL proof invalid for leaf %d",
			rr.AoclProof.LeafIndex)
	}

	verifiedChunks := make(map[uint64]bool)
	for _, absolute := range rr.AbsoluteIndices {
		if absolute >= msa.SwbfActive.Start+WindowSize {
			return fmt.Errorf("filter position %d is past the active window",
				absolute)
		}
		if msa.SwbfActive.Contains(absolute) {
			continue
		}
		chunkIdx := absolute / ChunkSize
		if verifiedChunks[chunkIdx] {
			continue
		}
		entry, ok := rr.TargetChunks[chunkIdx]
		if !ok {
			return fmt.Errorf("removal record misses chunk %d for "+
				"position %d", chunkIdx, absolute)
		}
		if entry.Proof.LeafIndex != chunkIdx {
			return fmt.Errorf("chunk %d dictionary entry proves leaf %d",
				chunkIdx, entry.Proof.LeafIndex)
		}
		if !msa.SwbfInactive.Verify(entry.Chunk.Hash(), &entry.Proof) {
			return fmt.Errorf("chunk %d membership proof invalid", chunkIdx)
		}
		verifiedChunks[chunkIdx] = true
	}
	return nil
}

// alreadyRemoved reports whether every filter position of the record is
// already set, which is the mark of a spent commitment.
func (msa *Accumulator) alreadyRemoved(rr *RemovalRecord) bool {
	for _, absolute := range rr.AbsoluteIndices {
		var set bool
		if msa.SwbfActive.Contains(absolute) {
			set = msa.SwbfActive.IsSet(absolute)
		} else if entry, ok := rr.TargetChunks[absolute/ChunkSize]; ok {
			set = entry.Chunk.IsSet(uint32(absolute % ChunkSize))
		}
		if !set {
			return false
		}
	}
	return true
}

// CanRemove reports whether the removal record is valid against the
// accumulator and its commitment has not already been removed.
func (msa *Accumulator) CanRemove(rr *RemovalRecord) bool {
	if err := msa.validateRemoval(rr); err != nil {
		return false
	}
	return !msa.alreadyRemoved(rr)
}

// Remove applies the removal record: counters at its filter positions
// are incremented, in the active window directly and in sealed chunks
// through proof-driven leaf mutation of the inactive SWBF.  Records in
// pending are patched so they stay valid against the updated
// accumulator; this is how the removals of one block are applied in
// sequence even though all were built against the parent state.
//
// The record must have been checked with CanRemove first.
func (msa *Accumulator) Remove(rr *RemovalRecord, pending []*RemovalRecord) error {
	if err := msa.validateRemoval(rr); err != nil {
		return err
	}

	// Group sealed-chunk increments by chunk index.
	increments := make(map[uint64][]uint32)
	for _, absolute := range rr.AbsoluteIndices {
		if msa.SwbfActive.Contains(absolute) {
			continue
		}
		chunkIdx := absolute / ChunkSize
		increments[chunkIdx] = append(increments[chunkIdx],
			uint32(absolute%ChunkSize))
	}

	// Patch pending records' dictionary chunks that share a mutated
	// chunk; the proof paths are patched by the batch mutation below.
	for _, other := range pending {
		for chunkIdx, offsets := range increments {
			entry, ok := other.TargetChunks[chunkIdx]
			if !ok {
				continue
			}
			for _, offset := range offsets {
				entry.Chunk.Increment(offset)
			}
		}
	}

	// Build the leaf mutations from this record's own dictionary.
	mutations := make([]mmr.LeafMutation, 0, len(increments))
	for _, chunkIdx := range rr.TargetChunks.SortedIndices() {
		offsets, touched := increments[chunkIdx]
		if !touched {
			continue
		}
		entry := rr.TargetChunks[chunkIdx]
		newChunk := entry.Chunk.Copy()
		for _, offset := range offsets {
			newChunk.Increment(offset)
		}
		entry.Chunk = newChunk
		mutations = append(mutations, mmr.LeafMutation{
			NewLeaf: newChunk.Hash(),
			Proof:   entry.Proof,
		})
	}

	var preserved []*mmr.MembershipProof
	for _, other := range pending {
		for _, chunkIdx := range other.TargetChunks.SortedIndices() {
			preserved = append(preserved, &other.TargetChunks[chunkIdx].Proof)
		}
	}
	if err := msa.SwbfInactive.BatchMutateAndUpdateProofs(mutations,
		preserved); err != nil {
		return err
	}

	for _, absolute := range rr.AbsoluteIndices {
		if !msa.SwbfActive.Contains(absolute) {
			continue
		}
		if err := msa.SwbfActive.Increment(absolute); err != nil {
			return err
		}
	}
	return nil
}

// Update is the effect of a block on the mutator set: the removal
// records of all its transactions followed by all addition records.
type Update struct {
	Removals  []*RemovalRecord
	Additions []AdditionRecord
}

// Apply folds an update into the accumulator.  Removals are applied
// first, in order, against the state the records were built on; then
// additions, in order.  The fixed order makes the resulting digest a
// deterministic function of the update on every node.
//
// Apply works on copies of the removal records, so the caller's records
// are not invalidated by the proof patching along the way.
func (msa *Accumulator) Apply(update *Update) error {
	records := make([]*RemovalRecord, len(update.Removals))
	for i, rr := range update.Removals {
		records[i] = rr.Copy()
	}

	for i, rr := range records {
		if !msa.CanRemove(rr) {
			return fmt.Errorf("removal record %d cannot be removed", i)
		}
		if err := msa.Remove(rr, records[i+1:]); err != nil {
			return err
		}
	}
	for _, ar := range update.Additions {
		msa.Add(ar)
	}
	return nil
}
