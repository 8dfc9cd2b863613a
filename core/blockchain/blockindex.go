// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"sync"

	"github.com/seraphnet/seraph/common/hash"
)

// blockIndex provides facilities for keeping track of an in-memory
// index of the block chain.  Although the name block chain suggests a
// single chain of blocks, it is actually a tree-shaped structure where
// any node can have multiple children.  However, there can only be one
// active branch which does indeed form a chain from the tip all the way
// back to the genesis block.
type blockIndex struct {
	sync.RWMutex
	index map[hash.Hash]*blockNode
}

// newBlockIndex returns a new empty instance of a block index.  The
// index will be dynamically populated as block nodes are loaded from
// the database and manually added.
func newBlockIndex() *blockIndex {
	return &blockIndex{
		index: make(map[hash.Hash]*blockNode),
	}
}

// lookupNode returns the block node identified by the provided hash.
// It will return nil if there is no entry for the hash.
//
// This function MUST be called with the block index lock held (for
// reads).
func (bi *blockIndex) lookupNode(hash *hash.Hash) *blockNode {
	return bi.index[*hash]
}

// LookupNode returns the block node identified by the provided hash.
// It will return nil if there is no entry for the hash.
//
// This function is safe for concurrent access.
func (bi *blockIndex) LookupNode(hash *hash.Hash) *blockNode {
	bi.RLock()
	node := bi.lookupNode(hash)
	bi.RUnlock()
	return node
}

// AddNode adds the provided node to the block index.  Duplicate entries
// are not checked so it is up to caller to avoid adding them.
//
// This function is safe for concurrent access.
func (bi *blockIndex) AddNode(node *blockNode) {
	bi.Lock()
	bi.index[node.hash] = node
	bi.Unlock()
}

// HaveBlock returns whether or not the block index contains the
// provided hash.
//
// This function is safe for concurrent access.
func (bi *blockIndex) HaveBlock(hash *hash.Hash) bool {
	bi.RLock()
	_, hasBlock := bi.index[*hash]
	bi.RUnlock()
	return hasBlock
}

// NodeStatus returns the status associated with the provided node.
//
// This function is safe for concurrent access.
func (bi *blockIndex) NodeStatus(node *blockNode) blockStatus {
	bi.RLock()
	status := node.status
	bi.RUnlock()
	return status
}

// SetStatusFlags sets the provided status flags for the given block
// node regardless of their previous state.  It does not unset any
// flags.
//
// This function is safe for concurrent access.
func (bi *blockIndex) SetStatusFlags(node *blockNode, flags blockStatus) {
	bi.Lock()
	node.status |= flags
	bi.Unlock()
}

// UnsetStatusFlags unsets the provided status flags for the given block
// node regardless of their previous state.
//
// This function is safe for concurrent access.
func (bi *blockIndex) UnsetStatusFlags(node *blockNode, flags blockStatus) {
	bi.Lock()
	node.status &^= flags
	bi.Unlock()
}
