// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mmr implements the archival Merkle Mountain Range: an
// authenticated append-only accumulator over a forest of perfect binary
// trees, with O(log n) append, membership proofs, and in-place leaf
// mutation that leaves other leaves' proofs intact.
package mmr

import "math/bits"

// The node store uses the postorder forest layout: nodes are stored in
// insertion order, so a parent immediately follows its right subtree.
// Positions are zero based.

const allOnes = ^uint64(0)

// peakMapHeight returns the peak bitmap of the mountain range with pos
// nodes, and the height of the node that position pos would hold.  The
// bitmap has one bit per peak, most significant peak first.
func peakMapHeight(pos uint64) (uint64, uint64) {
	if pos == 0 {
		return 0, 0
	}
	peakSize := allOnes >> uint(bits.LeadingZeros64(pos))
	var bitmap uint64
	for peakSize != 0 {
		bitmap <<= 1
		if pos >= peakSize {
			pos -= peakSize
			bitmap |= 1
		}
		peakSize >>= 1
	}
	return bitmap, pos
}

// posHeight returns the height of the node at the given position.
func posHeight(pos uint64) uint64 {
	_, height := peakMapHeight(pos)
	return height
}

// family returns the parent and sibling positions of the node at the
// given position.
func family(pos uint64) (parent uint64, sibling uint64) {
	peakMap, height := peakMapHeight(pos)
	peak := uint64(1) << height
	if peakMap&peak != 0 {
		// pos is a right child.
		return pos + 1, pos + 1 - 2*peak
	}
	return pos + 2*peak, pos + 2*peak - 1
}

// isLeftChild reports whether the node at the given position is the
// left child of its parent.
func isLeftChild(pos uint64) bool {
	peakMap, height := peakMapHeight(pos)
	return peakMap&(uint64(1)<<height) == 0
}

// peakPositions returns the positions of all peaks of a mountain range
// with the given node count, largest peak first.
func peakPositions(nodeCount uint64) []uint64 {
	if nodeCount == 0 {
		return nil
	}
	peakSize := allOnes >> uint(bits.LeadingZeros64(nodeCount))
	var (
		peaks   []uint64
		numLeft = nodeCount
		offset  uint64
	)
	for peakSize != 0 {
		if numLeft >= peakSize {
			peaks = append(peaks, offset+peakSize-1)
			offset += peakSize
			numLeft -= peakSize
		}
		peakSize >>= 1
	}
	return peaks
}

// leafToPos returns the node position of the leaf with the given leaf
// index.
func leafToPos(leafIndex uint64) uint64 {
	return 2*leafIndex - uint64(bits.OnesCount64(leafIndex))
}

// nodeCountForLeaves returns the total node count of a mountain range
// holding the given number of leaves.
func nodeCountForLeaves(leafCount uint64) uint64 {
	return 2*leafCount - uint64(bits.OnesCount64(leafCount))
}

// leafPeak locates the peak holding the given leaf in a range with
// leafCount leaves.  It returns the index of the peak (largest first),
// the leaf's index local to that peak's subtree, and the peak height.
// The second return is false when the leaf index is out of range.
func leafPeak(leafCount, leafIndex uint64) (peakIdx int, localIdx uint64, height uint64, ok bool) {
	if leafIndex >= leafCount {
		return 0, 0, 0, false
	}
	var covered uint64
	for b := 63; b >= 0; b-- {
		size := uint64(1) << uint(b)
		if leafCount&size == 0 {
			continue
		}
		if leafIndex < covered+size {
			return peakIdx, leafIndex - covered, uint64(b), true
		}
		covered += size
		peakIdx++
	}
	return 0, 0, 0, false
}

// proofPositions returns the node positions of the sibling hashes along
// the authentication path of the given leaf, bottom up.
func proofPositions(leafCount, leafIndex uint64) []uint64 {
	nodeCount := nodeCountForLeaves(leafCount)
	pos := leafToPos(leafIndex)
	var positions []uint64
	for {
		parent, sibling := family(pos)
		if parent >= nodeCount {
			break
		}
		positions = append(positions, sibling)
		pos = parent
	}
	return positions
}
