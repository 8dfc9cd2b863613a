// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"
	"sort"
	"time"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/types"
	"github.com/seraphnet/seraph/core/types/pow"
)

// medianTimeBlocks is the number of previous blocks which should be
// used to calculate the median time used to validate block timestamps.
const medianTimeBlocks = 11

// blockStatus is a bit field representing the validation state of the
// block.
type blockStatus byte

// The following constants specify possible status bit flags for a
// block.
//
// NOTE: This section specifically does not use iota since the block
// status is serialized and must be stable for long-term storage.
const (
	// statusNone indicates that the block has no validation state flags
	// set.
	statusNone blockStatus = 0

	// statusDataStored indicates that the block's payload is stored on
	// disk.
	statusDataStored blockStatus = 1 << 0

	// statusValid indicates that the block has been fully validated:
	// its header, body, and the mutator set state it produces.
	statusValid blockStatus = 1 << 1

	// statusValidateFailed indicates that the block has failed
	// validation.  Terminal: the block is never revalidated.
	statusValidateFailed blockStatus = 1 << 2

	// statusInvalidAncestor indicates that one of the ancestors of the
	// block has failed validation, thus the block is also invalid.
	statusInvalidAncestor blockStatus = 1 << 3
)

// HaveData returns whether the full block data is stored in the
// database.
func (status blockStatus) HaveData() bool {
	return status&statusDataStored != 0
}

// KnownValid returns whether the block is known to be valid.  This will
// return false for a valid block that has not been fully validated yet.
func (status blockStatus) KnownValid() bool {
	return status&statusValid != 0
}

// KnownInvalid returns whether the block is known to be invalid.  This
// will return false for invalid blocks that have not been proven
// invalid yet.
func (status blockStatus) KnownInvalid() bool {
	return status&(statusValidateFailed|statusInvalidAncestor) != 0
}

// blockNode represents a block within the block chain and is primarily
// used to aid in selecting the best chain to be the main chain.
type blockNode struct {
	// parent is the parent block for this node.
	parent *blockNode

	// hash is the hash of the block this node represents.
	hash hash.Hash

	// workSum is the total amount of work in the chain up to and
	// including this node.
	workSum *big.Int

	// Some fields from block headers to aid in best chain selection and
	// reconstructing headers from memory.  These must be treated as
	// immutable.
	height       uint64
	blockVersion uint32
	bits         uint32
	timestamp    int64
	txRoot       hash.Hash
	stateRoot    hash.Hash
	nonce        uint64

	// status is a bitfield representing the validation state of the
	// block.  This field, unlike the other fields, may be changed after
	// the block node is created, so it must only be accessed or updated
	// using the concurrent-safe methods on blockIndex once the node has
	// been added to the index.
	status blockStatus
}

// newBlockNode returns a new block node for the given block header and
// parent node.  The workSum is calculated based on the parent, or, in
// the case no parent is provided, it will just be the work for the
// passed block.
func newBlockNode(blockHeader *types.BlockHeader, parent *blockNode) *blockNode {
	node := &blockNode{
		hash:         blockHeader.BlockHash(),
		workSum:      pow.CalcWork(blockHeader.Difficulty),
		height:       blockHeader.Height,
		blockVersion: blockHeader.Version,
		bits:         blockHeader.Difficulty,
		timestamp:    blockHeader.Timestamp.Unix(),
		txRoot:       blockHeader.TxRoot,
		stateRoot:    blockHeader.StateRoot,
		nonce:        blockHeader.Nonce,
	}
	if parent != nil {
		node.parent = parent
		node.workSum = node.workSum.Add(parent.workSum, node.workSum)
	}
	return node
}

// Header constructs a block header from the node and returns it.
//
// This function is safe for concurrent access.
func (node *blockNode) Header() types.BlockHeader {
	// No lock is needed because all accessed fields are immutable.
	prevHash := hash.ZeroHash
	if node.parent != nil {
		prevHash = node.parent.hash
	}
	header := types.BlockHeader{
		Version:    node.blockVersion,
		ParentHash: prevHash,
		Height:     node.height,
		TxRoot:     node.txRoot,
		StateRoot:  node.stateRoot,
		Difficulty: node.bits,
		Timestamp:  time.Unix(node.timestamp, 0),
		Nonce:      node.nonce,
	}
	header.SetCumulativeWork(node.workSum)
	return header
}

// CalcPastMedianTime calculates the median time of the previous few
// blocks prior to, and including, the block node.
//
// This function is safe for concurrent access.
func (node *blockNode) CalcPastMedianTime() time.Time {
	timestamps := make([]int64, 0, medianTimeBlocks)
	iterNode := node
	for i := 0; i < medianTimeBlocks && iterNode != nil; i++ {
		timestamps = append(timestamps, iterNode.timestamp)
		iterNode = iterNode.parent
	}

	sort.Slice(timestamps, func(i, j int) bool {
		return timestamps[i] < timestamps[j]
	})
	return time.Unix(timestamps[len(timestamps)/2], 0)
}

// Ancestor returns the ancestor block node at the provided height by
// following the chain backwards from this node.  The returned block
// will be nil when a height is requested that is after the height of
// the passed node.
//
// This function is safe for concurrent access.
func (node *blockNode) Ancestor(height uint64) *blockNode {
	if height > node.height {
		return nil
	}

	n := node
	for ; n != nil && n.height != height; n = n.parent {
		// Intentionally left blank
	}
	return n
}
