// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mmr

import (
	"fmt"
	"sort"

	"github.com/seraphnet/seraph/common/hash"
)

// MembershipProof authenticates one leaf against a mountain range root.
// Path holds the sibling digests from the leaf to its peak, bottom up.
type MembershipProof struct {
	LeafIndex uint64
	Path      []hash.Hash
}

// Copy returns a deep copy of the proof.
func (p *MembershipProof) Copy() MembershipProof {
	path := make([]hash.Hash, len(p.Path))
	copy(path, p.Path)
	return MembershipProof{LeafIndex: p.LeafIndex, Path: path}
}

// Accumulator is the compact form of a mountain range: the peak digests
// and the leaf count.  It supports append, proof verification, and
// proof-driven leaf mutation without access to the node store.
type Accumulator struct {
	LeafCount uint64
	Peaks     []hash.Hash
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Copy returns a deep copy of the accumulator.
func (a *Accumulator) Copy() *Accumulator {
	peaks := make([]hash.Hash, len(a.Peaks))
	copy(peaks, a.Peaks)
	return &Accumulator{LeafCount: a.LeafCount, Peaks: peaks}
}

// Equal reports whether two accumulators commit to the same leaf set.
func (a *Accumulator) Equal(other *Accumulator) bool {
	if a.LeafCount != other.LeafCount || len(a.Peaks) != len(other.Peaks) {
		return false
	}
	for i := range a.Peaks {
		if a.Peaks[i] != other.Peaks[i] {
			return false
		}
	}
	return true
}

// Append adds a leaf and returns its leaf index.  Merging trailing
// peaks is the binary-counter carry: appending to a range whose leaf
// count has k trailing one bits folds k peaks into the new one.
func (a *Accumulator) Append(leaf hash.Hash) uint64 {
	index := a.LeafCount
	newPeak := leaf
	for m := a.LeafCount; m&1 == 1; m >>= 1 {
		last := a.Peaks[len(a.Peaks)-1]
		a.Peaks = a.Peaks[:len(a.Peaks)-1]
		newPeak = hash.HashPair(last, newPeak)
	}
	a.Peaks = append(a.Peaks, newPeak)
	a.LeafCount++
	return index
}

// Bag returns the single digest committing to the entire range: the
// peak digests folded right to left, bound to the leaf count.
func (a *Accumulator) Bag() hash.Hash {
	if len(a.Peaks) == 0 {
		return hash.HashWithIndex(0, hash.ZeroHash[:])
	}
	root := a.Peaks[len(a.Peaks)-1]
	for i := len(a.Peaks) - 2; i >= 0; i-- {
		root = hash.HashPair(a.Peaks[i], root)
	}
	return hash.HashWithIndex(a.LeafCount, root[:])
}

// Verify checks a membership proof for the given leaf against the
// accumulator.  It is a pure function of its inputs: no storage is
// touched.
func (a *Accumulator) Verify(leaf hash.Hash, proof *MembershipProof) bool {
	peakIdx, localIdx, height, ok := leafPeak(a.LeafCount, proof.LeafIndex)
	if !ok || uint64(len(proof.Path)) != height {
		return false
	}
	cur := foldPath(leaf, localIdx, proof.Path)
	return peakIdx < len(a.Peaks) && a.Peaks[peakIdx] == cur
}

// foldPath recomputes the peak digest from a leaf and its sibling path.
// Bit h of localIdx selects the side at height h.
func foldPath(leaf hash.Hash, localIdx uint64, path []hash.Hash) hash.Hash {
	cur := leaf
	for h, sibling := range path {
		if (localIdx>>uint(h))&1 == 0 {
			cur = hash.HashPair(cur, sibling)
		} else {
			cur = hash.HashPair(sibling, cur)
		}
	}
	return cur
}

// MutateLeaf replaces the leaf authenticated by the given proof and
// updates the affected peak.  The proof must be valid for the current
// peaks; the caller is expected to have verified the old leaf first.
func (a *Accumulator) MutateLeaf(proof *MembershipProof, newLeaf hash.Hash) error {
	peakIdx, localIdx, height, ok := leafPeak(a.LeafCount, proof.LeafIndex)
	if !ok || uint64(len(proof.Path)) != height {
		return fmt.Errorf("membership proof does not fit accumulator "+
			"with %d leaves", a.LeafCount)
	}
	a.Peaks[peakIdx] = foldPath(newLeaf, localIdx, proof.Path)
	return nil
}

// LeafMutation pairs a new leaf value with the proof addressing it.
type LeafMutation struct {
	NewLeaf hash.Hash
	Proof   MembershipProof
}

// BatchMutateAndUpdateProofs applies several leaf mutations and patches
// the supplied membership proofs so they stay valid against the updated
// peaks.  Mutations are applied in increasing leaf-index order so that
// shared ancestor updates are applied exactly once; digests recomputed
// along one mutation's path feed the paths of later mutations and of
// the preserved proofs.
func (a *Accumulator) BatchMutateAndUpdateProofs(mutations []LeafMutation, preserved []*MembershipProof) error {
	sorted := make([]LeafMutation, len(mutations))
	copy(sorted, mutations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Proof.LeafIndex < sorted[j].Proof.LeafIndex
	})

	// newDigests collects every node position whose digest changes.
	newDigests := make(map[uint64]hash.Hash)

	for _, m := range sorted {
		peakIdx, _, height, ok := leafPeak(a.LeafCount, m.Proof.LeafIndex)
		if !ok || uint64(len(m.Proof.Path)) != height {
			return fmt.Errorf("membership proof for leaf %d does not fit "+
				"accumulator with %d leaves", m.Proof.LeafIndex, a.LeafCount)
		}

		pos := leafToPos(m.Proof.LeafIndex)
		cur := m.NewLeaf
		newDigests[pos] = cur
		for _, sibling := range m.Proof.Path {
			parent, siblingPos := family(pos)
			if updated, ok := newDigests[siblingPos]; ok {
				sibling = updated
			}
			if isLeftChild(pos) {
				cur = hash.HashPair(cur, sibling)
			} else {
				cur = hash.HashPair(sibling, cur)
			}
			pos = parent
			newDigests[pos] = cur
		}
		a.Peaks[peakIdx] = cur
	}

	// Patch the mutated proofs themselves and the preserved proofs with
	// the recomputed digests.
	for i := range mutations {
		patchProof(&mutations[i].Proof, a.LeafCount, newDigests)
	}
	for _, proof := range preserved {
		patchProof(proof, a.LeafCount, newDigests)
	}
	return nil
}

// patchProof substitutes updated node digests into a proof's path.
func patchProof(proof *MembershipProof, leafCount uint64, newDigests map[uint64]hash.Hash) {
	positions := proofPositions(leafCount, proof.LeafIndex)
	for i, pos := range positions {
		if i >= len(proof.Path) {
			break
		}
		if updated, ok := newDigests[pos]; ok {
			proof.Path[i] = updated
		}
	}
}
