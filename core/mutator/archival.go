// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mutator

import (
	"fmt"
	"sort"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mmr"
	"github.com/seraphnet/seraph/database"
	"github.com/seraphnet/seraph/database/vector"
)

var (
	// aoclPrefix namespaces the AOCL mountain range nodes.
	aoclPrefix = []byte("a/")

	// swbfPrefix namespaces the inactive SWBF mountain range nodes.
	swbfPrefix = []byte("s/")

	// chunksPrefix namespaces the sealed chunk contents, indexed by
	// chunk index.
	chunksPrefix = []byte("c/")

	// windowKey stores the serialized active window.
	windowKey = []byte("w")
)

// Archival is the full, disk-backed form of the mutator set.  Where the
// compact Accumulator needs records to carry their own proofs, the
// archival set keeps every AOCL leaf, every sealed chunk's contents,
// and the full mountain range node stores, so it can build removal
// records for any commitment and undo any applied mutation.  The node
// maintains one archival set for the canonical chain tip.
type Archival struct {
	db           database.DB
	aocl         *mmr.Archival
	swbfInactive *mmr.Archival
	chunks       *vector.Vector
	active       *ActiveWindow
}

// OpenArchival loads the archival mutator set from the given database
// namespace, creating an empty one on first open.
func OpenArchival(db database.DB) (*Archival, error) {
	aocl, err := mmr.OpenArchival(database.NewNamespace(db, aoclPrefix))
	if err != nil {
		return nil, err
	}
	swbfInactive, err := mmr.OpenArchival(database.NewNamespace(db, swbfPrefix))
	if err != nil {
		return nil, err
	}
	chunks, err := vector.Open(database.NewNamespace(db, chunksPrefix))
	if err != nil {
		return nil, err
	}

	active := NewActiveWindow()
	windowBytes, err := db.Get(windowKey)
	switch {
	case err == nil:
		active, err = DeserializeActiveWindow(windowBytes)
		if err != nil {
			return nil, database.MakeError(database.ErrCorruption,
				"stored active window is malformed", err)
		}
	case database.IsErrorCode(err, database.ErrKeyNotFound):
	default:
		return nil, err
	}

	ms := &Archival{
		db:           db,
		aocl:         aocl,
		swbfInactive: swbfInactive,
		chunks:       chunks,
		active:       active,
	}
	if err := ms.checkGeometry(); err != nil {
		return nil, err
	}
	return ms, nil
}

// checkGeometry verifies the cross-structure invariants that tie the
// four stores together.  A violation means a torn commit or foreign
// data, both fatal.
func (ms *Archival) checkGeometry() error {
	aoclLeaves, err := ms.aocl.LeafCount()
	if err != nil {
		return err
	}
	sealedChunks, err := ms.swbfInactive.LeafCount()
	if err != nil {
		return err
	}
	if sealedChunks != ms.chunks.Len() {
		return database.MakeError(database.ErrCorruption,
			fmt.Sprintf("inactive SWBF has %d leaves but %d chunks stored",
				sealedChunks, ms.chunks.Len()), nil)
	}
	if sealedChunks != aoclLeaves/BatchSize {
		return database.MakeError(database.ErrCorruption,
			fmt.Sprintf("%d sealed chunks inconsistent with %d AOCL leaves",
				sealedChunks, aoclLeaves), nil)
	}
	if ms.active.Start != sealedChunks*ChunkSize {
		return database.MakeError(database.ErrCorruption,
			fmt.Sprintf("active window starts at %d, want %d",
				ms.active.Start, sealedChunks*ChunkSize), nil)
	}
	return nil
}

// AoclLeafCount returns the number of commitments ever added.
func (ms *Archival) AoclLeafCount() (uint64, error) {
	return ms.aocl.LeafCount()
}

// Accumulator returns the compact form of the set.
func (ms *Archival) Accumulator() (*Accumulator, error) {
	aocl, err := ms.aocl.Accumulator()
	if err != nil {
		return nil, err
	}
	swbf, err := ms.swbfInactive.Accumulator()
	if err != nil {
		return nil, err
	}
	return &Accumulator{
		Aocl:         aocl,
		SwbfInactive: swbf,
		SwbfActive:   ms.active.Copy(),
	}, nil
}

// Hash returns the accumulator commitment of the set.
func (ms *Archival) Hash() (hash.Hash, error) {
	acc, err := ms.Accumulator()
	if err != nil {
		return hash.ZeroHash, err
	}
	return acc.Hash(), nil
}

// Add appends the commitment to the AOCL and returns its leaf index,
// sliding the window when the new leaf completes a batch.
func (ms *Archival) Add(record AdditionRecord) (uint64, error) {
	index, err := ms.aocl.Append(record.Commitment)
	if err != nil {
		return 0, err
	}
	if (index+1)%BatchSize == 0 {
		sealed := ms.active.SlideOut()
		ms.chunks.Push(sealed.Serialize())
		if _, err := ms.swbfInactive.Append(sealed.Hash()); err != nil {
			return 0, err
		}
	}
	return index, nil
}

// RevertAdd undoes the most recent addition.  The supplied record must
// be the one whose addition is being reverted; a mismatch means the
// caller is unwinding out of order.
func (ms *Archival) RevertAdd(record AdditionRecord) error {
	leafCount, err := ms.aocl.LeafCount()
	if err != nil {
		return err
	}
	if leafCount == 0 {
		return fmt.Errorf("revert of addition on empty mutator set")
	}

	// The window slid after this addition completed a batch; undo the
	// slide first, then pop the leaf.
	if leafCount%BatchSize == 0 {
		if _, err := ms.swbfInactive.PopLeaf(); err != nil {
			return err
		}
		sealedBytes, err := ms.chunks.Pop()
		if err != nil {
			return err
		}
		sealed, err := DeserializeChunk(sealedBytes)
		if err != nil {
			return database.MakeError(database.ErrCorruption,
				fmt.Sprintf("stored chunk %d is malformed", ms.chunks.Len()), err)
		}
		if err := ms.active.SlideIn(sealed); err != nil {
			return err
		}
	}

	popped, err := ms.aocl.PopLeaf()
	if err != nil {
		return err
	}
	if popped != record.Commitment {
		return fmt.Errorf("reverted commitment %s does not match record %s",
			popped, record.Commitment)
	}
	return nil
}

// getChunk loads the sealed chunk at the given chunk index.
func (ms *Archival) getChunk(chunkIdx uint64) (*Chunk, error) {
	raw, err := ms.chunks.Get(chunkIdx)
	if err != nil {
		return nil, err
	}
	chunk, err := DeserializeChunk(raw)
	if err != nil {
		return nil, database.MakeError(database.ErrCorruption,
			fmt.Sprintf("stored chunk %d is malformed", chunkIdx), err)
	}
	return chunk, nil
}

// putChunk stores the chunk contents and recomputes its leaf in the
// inactive SWBF.
func (ms *Archival) putChunk(chunkIdx uint64, chunk *Chunk) error {
	if err := ms.chunks.Set(chunkIdx, chunk.Serialize()); err != nil {
		return err
	}
	return ms.swbfInactive.MutateLeaf(chunkIdx, chunk.Hash())
}

// sealedIncrements groups the record's sealed filter positions by chunk
// index.  Positions past the window end are rejected; they cannot arise
// from honest index derivation.
func (ms *Archival) sealedIncrements(rr *RemovalRecord) (map[uint64][]uint32, error) {
	grouped := make(map[uint64][]uint32)
	for _, absolute := range rr.AbsoluteIndices {
		if absolute >= ms.active.Start+WindowSize {
			return nil, fmt.Errorf("filter position %d is past the active "+
				"window", absolute)
		}
		if ms.active.Contains(absolute) {
			continue
		}
		chunkIdx := absolute / ChunkSize
		grouped[chunkIdx] = append(grouped[chunkIdx], uint32(absolute%ChunkSize))
	}
	return grouped, nil
}

// Remove applies the removal record against the archival set.  The
// record's proofs are not consulted; the archival stores are
// authoritative.  Validity is the block validator's concern.
func (ms *Archival) Remove(rr *RemovalRecord) error {
	grouped, err := ms.sealedIncrements(rr)
	if err != nil {
		return err
	}
	for _, chunkIdx := range sortedKeys(grouped) {
		chunk, err := ms.getChunk(chunkIdx)
		if err != nil {
			return err
		}
		for _, offset := range grouped[chunkIdx] {
			chunk.Increment(offset)
		}
		if err := ms.putChunk(chunkIdx, chunk); err != nil {
			return err
		}
	}
	for _, absolute := range rr.AbsoluteIndices {
		if !ms.active.Contains(absolute) {
			continue
		}
		if err := ms.active.Increment(absolute); err != nil {
			return err
		}
	}
	return nil
}

// RevertRemove is the exact inverse of Remove: every counter the
// removal incremented is decremented.  Counters track multiplicity, so
// the inverse holds even when several removals collide on a position.
func (ms *Archival) RevertRemove(rr *RemovalRecord) error {
	grouped, err := ms.sealedIncrements(rr)
	if err != nil {
		return err
	}
	for _, chunkIdx := range sortedKeys(grouped) {
		chunk, err := ms.getChunk(chunkIdx)
		if err != nil {
			return err
		}
		for _, offset := range grouped[chunkIdx] {
			if err := chunk.Decrement(offset); err != nil {
				return err
			}
		}
		if err := ms.putChunk(chunkIdx, chunk); err != nil {
			return err
		}
	}
	for _, absolute := range rr.AbsoluteIndices {
		if !ms.active.Contains(absolute) {
			continue
		}
		if err := ms.active.Decrement(absolute); err != nil {
			return err
		}
	}
	return nil
}

// DropRecord builds the removal record for the commitment at the given
// AOCL leaf index: its derived filter positions, a fresh AOCL proof,
// and authenticated contents for every sealed chunk the positions
// touch.  The record is valid against the set's current accumulator.
func (ms *Archival) DropRecord(leafIndex uint64) (*RemovalRecord, error) {
	commitment, err := ms.aocl.GetLeaf(leafIndex)
	if err != nil {
		return nil, err
	}
	aoclProof, err := ms.aocl.GetProof(leafIndex)
	if err != nil {
		return nil, err
	}

	indices := DeriveIndices(commitment, leafIndex)
	dict := make(ChunkDictionary)
	for _, absolute := range indices {
		if ms.active.Contains(absolute) {
			continue
		}
		chunkIdx := absolute / ChunkSize
		if _, ok := dict[chunkIdx]; ok {
			continue
		}
		chunk, err := ms.getChunk(chunkIdx)
		if err != nil {
			return nil, err
		}
		proof, err := ms.swbfInactive.GetProof(chunkIdx)
		if err != nil {
			return nil, err
		}
		dict[chunkIdx] = &ChunkDictEntry{Proof: proof, Chunk: chunk}
	}

	return &RemovalRecord{
		AbsoluteIndices: indices,
		Commitment:      commitment,
		AoclProof:       aoclProof,
		TargetChunks:    dict,
	}, nil
}

// Apply folds a block's update into the archival set: removals in
// order, then additions in order, matching the accumulator form.
func (ms *Archival) Apply(update *Update) error {
	for _, rr := range update.Removals {
		if err := ms.Remove(rr); err != nil {
			return err
		}
	}
	for _, ar := range update.Additions {
		if _, err := ms.Add(ar); err != nil {
			return err
		}
	}
	return nil
}

// Revert is the inverse of Apply: additions are unwound in reverse
// order, then removals in reverse order.
func (ms *Archival) Revert(update *Update) error {
	for i := len(update.Additions) - 1; i >= 0; i-- {
		if err := ms.RevertAdd(update.Additions[i]); err != nil {
			return err
		}
	}
	for i := len(update.Removals) - 1; i >= 0; i-- {
		if err := ms.RevertRemove(update.Removals[i]); err != nil {
			return err
		}
	}
	return nil
}

// Flush stages every pending mutation of the set, including the active
// window, into the supplied batch created at the set's namespace level.
func (ms *Archival) Flush(batch database.Batch) error {
	if err := ms.aocl.Flush(database.NewNamespaceBatch(batch, aoclPrefix)); err != nil {
		return err
	}
	if err := ms.swbfInactive.Flush(database.NewNamespaceBatch(batch, swbfPrefix)); err != nil {
		return err
	}
	if err := ms.chunks.Flush(database.NewNamespaceBatch(batch, chunksPrefix)); err != nil {
		return err
	}
	return batch.Put(windowKey, ms.active.Serialize())
}

// Commit flushes all pending mutations in one atomic, durable batch.
func (ms *Archival) Commit() error {
	batch := ms.db.NewBatch()
	if err := ms.Flush(batch); err != nil {
		return err
	}
	return batch.Write()
}

// sortedKeys returns the map's keys ascending.  Counter updates are
// order independent, but the fixed order keeps storage access patterns
// deterministic.
func sortedKeys(m map[uint64][]uint32) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
