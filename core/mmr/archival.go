// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mmr

import (
	"fmt"
	"sort"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/database"
	"github.com/seraphnet/seraph/database/vector"
)

// Archival is a mountain range whose every node is kept in a persistent
// vector.  Unlike the compact Accumulator it can produce membership
// proofs and mutate leaves without being handed a proof, and it can pop
// the most recent leaf, which the accumulator form cannot undo.
//
// Nodes are owned exclusively by the backing vector and addressed only
// by position; the structure holds no pointers into the tree.
type Archival struct {
	nodes *vector.Vector
}

// OpenArchival loads an archival mountain range from the given database
// namespace.
func OpenArchival(db database.DB) (*Archival, error) {
	nodes, err := vector.Open(db)
	if err != nil {
		return nil, err
	}
	ar := &Archival{nodes: nodes}

	// A committed node count that does not decompose into a perfect
	// forest means torn or foreign data.
	if _, err := ar.LeafCount(); err != nil {
		return nil, err
	}
	return ar, nil
}

// leavesForNodeCount inverts the node-count formula by greedy peak
// decomposition.
func leavesForNodeCount(nodeCount uint64) (uint64, error) {
	var leaves uint64
	remaining := nodeCount
	for remaining > 0 {
		var h uint
		for (uint64(1)<<(h+2))-1 <= remaining {
			h++
		}
		leaves += uint64(1) << h
		remaining -= (uint64(1) << (h + 1)) - 1
	}
	if nodeCountForLeaves(leaves) != nodeCount {
		return 0, database.MakeError(database.ErrCorruption,
			fmt.Sprintf("node count %d is not a valid mountain range size",
				nodeCount), nil)
	}
	return leaves, nil
}

// LeafCount returns the number of leaves in the range.
func (ar *Archival) LeafCount() (uint64, error) {
	return leavesForNodeCount(ar.nodes.Len())
}

func (ar *Archival) getNode(pos uint64) (hash.Hash, error) {
	raw, err := ar.nodes.Get(pos)
	if err != nil {
		return hash.ZeroHash, err
	}
	var digest hash.Hash
	if err := digest.SetBytes(raw); err != nil {
		return hash.ZeroHash, database.MakeError(database.ErrCorruption,
			fmt.Sprintf("node %d has invalid digest size", pos), err)
	}
	return digest, nil
}

// Append adds a leaf and returns its leaf index.  O(log n) nodes are
// written: the leaf plus one parent per completed subtree.
func (ar *Archival) Append(leaf hash.Hash) (uint64, error) {
	leafCount, err := ar.LeafCount()
	if err != nil {
		return 0, err
	}

	pos := ar.nodes.Len()
	peakMap, height := peakMapHeight(pos)
	if height != 0 {
		return 0, database.MakeError(database.ErrCorruption,
			fmt.Sprintf("append position %d is not a leaf slot", pos), nil)
	}

	current := leaf
	ar.nodes.Push(current[:])
	for peak := uint64(1); peakMap&peak != 0; peak <<= 1 {
		leftPos := pos + 1 - 2*peak
		left, err := ar.getNode(leftPos)
		if err != nil {
			return 0, err
		}
		current = hash.HashPair(left, current)
		pos++
		ar.nodes.Push(current[:])
	}

	return leafCount, nil
}

// GetLeaf returns the leaf digest at the given leaf index.
func (ar *Archival) GetLeaf(leafIndex uint64) (hash.Hash, error) {
	return ar.getNode(leafToPos(leafIndex))
}

// GetProof returns a membership proof for the given leaf.
func (ar *Archival) GetProof(leafIndex uint64) (MembershipProof, error) {
	leafCount, err := ar.LeafCount()
	if err != nil {
		return MembershipProof{}, err
	}
	if leafIndex >= leafCount {
		return MembershipProof{}, database.MakeError(database.ErrOutOfBounds,
			fmt.Sprintf("leaf %d out of bounds (count %d)", leafIndex,
				leafCount), nil)
	}

	positions := proofPositions(leafCount, leafIndex)
	path := make([]hash.Hash, 0, len(positions))
	for _, pos := range positions {
		digest, err := ar.getNode(pos)
		if err != nil {
			return MembershipProof{}, err
		}
		path = append(path, digest)
	}
	return MembershipProof{LeafIndex: leafIndex, Path: path}, nil
}

// MutateLeaf replaces the leaf at the given index and recomputes every
// ancestor up to its peak.  Other leaves' proofs remain valid wherever
// they do not run through the mutated branch.
func (ar *Archival) MutateLeaf(leafIndex uint64, newLeaf hash.Hash) error {
	leafCount, err := ar.LeafCount()
	if err != nil {
		return err
	}
	if leafIndex >= leafCount {
		return database.MakeError(database.ErrOutOfBounds,
			fmt.Sprintf("leaf %d out of bounds (count %d)", leafIndex,
				leafCount), nil)
	}

	nodeCount := ar.nodes.Len()
	pos := leafToPos(leafIndex)
	current := newLeaf
	if err := ar.nodes.Set(pos, current[:]); err != nil {
		return err
	}
	for {
		parent, siblingPos := family(pos)
		if parent >= nodeCount {
			break
		}
		sibling, err := ar.getNode(siblingPos)
		if err != nil {
			return err
		}
		if isLeftChild(pos) {
			current = hash.HashPair(current, sibling)
		} else {
			current = hash.HashPair(sibling, current)
		}
		pos = parent
		if err := ar.nodes.Set(pos, current[:]); err != nil {
			return err
		}
	}
	return nil
}

// ArchivalMutation pairs a leaf index with its replacement digest.
type ArchivalMutation struct {
	LeafIndex uint64
	NewLeaf   hash.Hash
}

// BatchMutate applies several leaf mutations in increasing leaf-index
// order, the fixed ordering that keeps overlapping ancestor updates
// deterministic across nodes.
func (ar *Archival) BatchMutate(mutations []ArchivalMutation) error {
	sorted := make([]ArchivalMutation, len(mutations))
	copy(sorted, mutations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LeafIndex < sorted[j].LeafIndex
	})
	for _, m := range sorted {
		if err := ar.MutateLeaf(m.LeafIndex, m.NewLeaf); err != nil {
			return err
		}
	}
	return nil
}

// PopLeaf removes the most recently appended leaf and returns its
// digest.  It is the exact inverse of Append and exists to support
// rollback during chain reorganization.
func (ar *Archival) PopLeaf() (hash.Hash, error) {
	leafCount, err := ar.LeafCount()
	if err != nil {
		return hash.ZeroHash, err
	}
	if leafCount == 0 {
		return hash.ZeroHash, database.MakeError(database.ErrOutOfBounds,
			"pop from empty mountain range", nil)
	}

	leaf, err := ar.GetLeaf(leafCount - 1)
	if err != nil {
		return hash.ZeroHash, err
	}

	target := nodeCountForLeaves(leafCount - 1)
	for ar.nodes.Len() > target {
		if _, err := ar.nodes.Pop(); err != nil {
			return hash.ZeroHash, err
		}
	}
	return leaf, nil
}

// Accumulator returns the compact form of the range.
func (ar *Archival) Accumulator() (*Accumulator, error) {
	leafCount, err := ar.LeafCount()
	if err != nil {
		return nil, err
	}
	positions := peakPositions(ar.nodes.Len())
	peaks := make([]hash.Hash, 0, len(positions))
	for _, pos := range positions {
		digest, err := ar.getNode(pos)
		if err != nil {
			return nil, err
		}
		peaks = append(peaks, digest)
	}
	return &Accumulator{LeafCount: leafCount, Peaks: peaks}, nil
}

// Bag returns the single digest committing to the entire range.
func (ar *Archival) Bag() (hash.Hash, error) {
	acc, err := ar.Accumulator()
	if err != nil {
		return hash.ZeroHash, err
	}
	return acc.Bag(), nil
}

// Flush stages all pending node writes into the supplied batch.
func (ar *Archival) Flush(batch database.Batch) error {
	return ar.nodes.Flush(batch)
}

// Commit flushes all pending node writes in one atomic batch.
func (ar *Archival) Commit() error {
	return ar.nodes.Commit()
}
