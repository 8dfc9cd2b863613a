// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mutator"
	"github.com/seraphnet/seraph/core/types"
	"github.com/seraphnet/seraph/database"
)

// ProcessStatus describes the outcome of submitting a block to the
// chain.
type ProcessStatus int

const (
	// StatusAccepted means the block extended the canonical chain or
	// caused a reorganization onto its branch.
	StatusAccepted ProcessStatus = iota

	// StatusSideChain means the block was stored on a side chain that
	// does not carry more work than the canonical tip.
	StatusSideChain

	// StatusAlreadyKnown means the chain had already processed the
	// block.
	StatusAlreadyKnown

	// StatusRejected means the block failed a consensus rule and will
	// never be accepted.
	StatusRejected
)

// String returns the ProcessStatus as a human-readable name.
func (s ProcessStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusSideChain:
		return "side chain"
	case StatusAlreadyKnown:
		return "already known"
	case StatusRejected:
		return "rejected"
	}
	return fmt.Sprintf("unknown status (%d)", int(s))
}

// ProcessBlock is the main workhorse for handling insertion of new
// blocks into the block chain.  It includes functionality such as
// rejecting duplicate blocks, ensuring blocks follow all consensus
// rules, and insertion into the block chain along with best chain
// selection and reorganization.
//
// A RuleError is returned together with StatusRejected when the block
// violates a consensus rule.  A VerifierUnavailableError or
// ReorgDepthError is not a consensus judgment: the block is not marked
// invalid and may be resubmitted.
//
// This function is safe for concurrent access.
func (b *BlockChain) ProcessBlock(block *types.Block) (ProcessStatus, error) {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	blockHash := block.BlockHash()
	log.Tracef("Processing block %s: %v", blockHash,
		newLogClosure(func() string {
			return spew.Sdump(&block.Header)
		}))

	if b.rejected.Contains(blockHash) {
		str := fmt.Sprintf("block %s was already rejected", blockHash)
		return StatusRejected, ruleError(ErrDuplicateBlock, str)
	}
	if node := b.index.LookupNode(&blockHash); node != nil {
		if b.index.NodeStatus(node).KnownInvalid() {
			str := fmt.Sprintf("block %s is known to be invalid", blockHash)
			return StatusRejected, ruleError(ErrDuplicateBlock, str)
		}
		// A stored block that carries more work than the tip but is not
		// canonical was left behind by an indeterminate outcome, such
		// as an unavailable proof verifier.  Resubmission retries the
		// connection.
		if b.isCanonical(node) || node.workSum.Cmp(b.bestNode.workSum) <= 0 {
			return StatusAlreadyKnown, nil
		}
		return b.connectBestChain(node, block)
	}

	if err := b.checkBlockSanity(block); err != nil {
		b.rejectBlock(blockHash)
		return StatusRejected, err
	}

	parent := b.index.LookupNode(&block.Header.ParentHash)
	if parent == nil {
		// An orphan is not a verdict on the block; it is not cached as
		// rejected and may be resubmitted once its parent arrives.
		str := fmt.Sprintf("block %s references unknown parent %s",
			blockHash, block.Header.ParentHash)
		return StatusRejected, ruleError(ErrUnknownParent, str)
	}
	if b.index.NodeStatus(parent).KnownInvalid() {
		b.rejectBlock(blockHash)
		str := fmt.Sprintf("block %s builds on invalid block %s",
			blockHash, parent.hash)
		return StatusRejected, ruleError(ErrInvalidAncestorBlock, str)
	}

	if err := b.checkBlockHeaderContext(&block.Header, parent); err != nil {
		b.rejectBlock(blockHash)
		return StatusRejected, err
	}

	// The header and body are durable before the chain decides what to
	// do with them, so a reorganization can always read side chain
	// bodies back from disk.
	node := newBlockNode(&block.Header, parent)
	node.status = statusDataStored
	if err := b.storeBlock(node, block); err != nil {
		return StatusRejected, err
	}
	b.index.AddNode(node)

	return b.connectBestChain(node, block)
}

// connectBestChain decides what to do with a stored, contextually valid
// block: leave it on a side chain, extend the canonical tip, or
// reorganize onto its branch.  Fork choice is by cumulative work, with
// ties broken in favor of the chain seen first.
//
// This function MUST be called with the chain lock held (for writes).
func (b *BlockChain) connectBestChain(node *blockNode, block *types.Block) (ProcessStatus, error) {
	if node.workSum.Cmp(b.bestNode.workSum) <= 0 {
		log.Debugf("Block %s stored on side chain at height %d",
			node.hash, node.height)
		return StatusSideChain, nil
	}

	if node.parent == b.bestNode {
		if err := b.connectBlock(node, block); err != nil {
			if IsRuleError(err) {
				return StatusRejected, err
			}
			// Indeterminate outcomes leave the stored block eligible
			// for another attempt.
			return StatusSideChain, err
		}
		log.Infof("Block %s connected at height %d", node.hash, node.height)
		return StatusAccepted, nil
	}

	status, err := b.reorganizeChain(node)
	if err != nil {
		return status, err
	}
	log.Infof("Chain reorganized onto block %s at height %d", node.hash,
		node.height)
	return StatusAccepted, nil
}

// rejectBlock records a terminal rejection in the duplicate cache.
func (b *BlockChain) rejectBlock(blockHash hash.Hash) {
	if b.rejected.Cardinality() >= maxRejectedCacheSize {
		b.rejected.Clear()
	}
	b.rejected.Add(blockHash)
	b.rejectedCounter.Inc(1)
}

// storeBlock durably writes the header record and block body.
func (b *BlockChain) storeBlock(node *blockNode, block *types.Block) error {
	batch := b.db.NewBatch()
	if err := dbPutHeader(batch, node); err != nil {
		return err
	}
	if err := dbPutBlock(batch, block); err != nil {
		return err
	}
	return batch.Write()
}

// markInvalid marks the node as having failed validation, persists the
// status, and caches the terminal rejection.
func (b *BlockChain) markInvalid(node *blockNode, status blockStatus) {
	b.index.SetStatusFlags(node, status)
	batch := b.db.NewBatch()
	err := dbPutHeader(batch, node)
	if err == nil {
		err = batch.Write()
	}
	if err != nil {
		log.Errorf("Failed to persist invalid status for %s: %v",
			node.hash, err)
	}
	b.rejectBlock(node.hash)
}

// connectBlock validates the block's body against the mutator set at
// the current tip and, on success, commits the block, its canonical
// mapping, the advanced tip, and every mutator set change in one
// atomic batch.
//
// This function MUST be called with the chain lock held (for writes)
// and with node.parent == b.bestNode.
func (b *BlockChain) connectBlock(node *blockNode, block *types.Block) error {
	acc, err := b.ms.Accumulator()
	if err != nil {
		return err
	}
	if err := b.checkConnectBlock(block, acc); err != nil {
		if IsRuleError(err) {
			b.markInvalid(node, statusValidateFailed)
		}
		return err
	}

	// The accumulator copy already replayed the update, so the archival
	// apply can only disagree through a defect.
	update := blockUpdate(block)
	if err := b.ms.Apply(update); err != nil {
		return AssertError(fmt.Sprintf("archival apply diverged from "+
			"validated update for block %s: %v", node.hash, err))
	}
	msHash, err := b.ms.Hash()
	if err != nil {
		return err
	}
	if msHash != node.stateRoot {
		return AssertError(fmt.Sprintf("archival digest %s diverged from "+
			"validated state root %s", msHash, node.stateRoot))
	}

	b.index.SetStatusFlags(node, statusValid)
	b.opSeq++
	batch := b.db.NewBatch()
	if err := dbPutHeader(batch, node); err != nil {
		return err
	}
	if err := dbPutCanonical(batch, node.height, &node.hash); err != nil {
		return err
	}
	if err := dbPutChainTip(batch, &node.hash, node.height, b.opSeq); err != nil {
		return err
	}
	if err := b.ms.Flush(database.NewNamespaceBatch(batch, mutatorSetPrefix)); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}

	b.bestNode = node
	b.tipHeight.Store(node.height)
	b.connectedCounter.Inc(1)
	b.sendNotification(NTBlockConnected, block)
	return nil
}

// reorganizeChain switches the canonical chain to the branch ending at
// the given node, which must carry strictly more cumulative work than
// the current tip.  Blocks between the fork point and the old tip are
// disconnected and their mutator set effects reverted; blocks on the
// new branch are validated and connected in order.  All database
// changes land in one atomic batch, so a crash leaves either the old
// chain or the new one, never a mixture.
//
// This function MUST be called with the chain lock held (for writes).
func (b *BlockChain) reorganizeChain(node *blockNode) (ProcessStatus, error) {
	// Find the fork point between the branch and the canonical chain.
	fork := node.parent
	for fork != nil && !b.isCanonical(fork) {
		fork = fork.parent
	}
	if fork == nil {
		return StatusRejected, AssertError("reorganize target does not " +
			"connect to the canonical chain")
	}

	forkDepth := b.bestNode.height - fork.height
	if forkDepth > b.params.ReorgRetentionDepth {
		// Refusing a deep reorganization is an availability choice, not
		// a consensus judgment; the branch stays stored and the error
		// tells the caller how deep the fork is.
		return StatusSideChain, ReorgDepthError{
			ForkDepth: forkDepth,
			Retention: b.params.ReorgRetentionDepth,
		}
	}

	// Collect the blocks to detach, tip first, and to attach, fork
	// first.
	var detach []*blockNode
	for n := b.bestNode; n != fork; n = n.parent {
		detach = append(detach, n)
	}
	var attach []*blockNode
	for n := node; n != fork; n = n.parent {
		attach = append(attach, n)
	}
	for i, j := 0, len(attach)-1; i < j; i, j = i+1, j-1 {
		attach[i], attach[j] = attach[j], attach[i]
	}

	log.Infof("Reorganize: old tip %s, new tip %s, fork height %d "+
		"(detaching %d, attaching %d)", b.bestNode.hash, node.hash,
		fork.height, len(detach), len(attach))

	// Revert the detached blocks' mutator set effects.  The mutations
	// stay staged in memory until the final flush.
	detachedBlocks := make([]*types.Block, len(detach))
	detachedUpdates := make([]*mutator.Update, len(detach))
	for i, n := range detach {
		block, err := b.dbFetchBlock(&n.hash)
		if err != nil {
			return StatusRejected, err
		}
		detachedBlocks[i] = block
		detachedUpdates[i] = blockUpdate(block)
		if err := b.ms.Revert(detachedUpdates[i]); err != nil {
			return StatusRejected, AssertError(fmt.Sprintf("failed to "+
				"revert connected block %s: %v", n.hash, err))
		}
	}

	// Validate and apply the attached blocks in order.  A failure rolls
	// the staged state back to the old chain and marks the offending
	// block and its descendants invalid.
	attachedBlocks := make([]*types.Block, 0, len(attach))
	attachedUpdates := make([]*mutator.Update, 0, len(attach))
	for i, n := range attach {
		block, err := b.dbFetchBlock(&n.hash)
		if err != nil {
			b.rollbackReorg(attachedUpdates, detachedUpdates)
			return StatusRejected, err
		}

		acc, err := b.ms.Accumulator()
		if err != nil {
			b.rollbackReorg(attachedUpdates, detachedUpdates)
			return StatusRejected, err
		}
		if err := b.checkConnectBlock(block, acc); err != nil {
			b.rollbackReorg(attachedUpdates, detachedUpdates)
			if IsRuleError(err) {
				b.markInvalid(n, statusValidateFailed)
				for _, descendant := range attach[i+1:] {
					b.markInvalid(descendant, statusInvalidAncestor)
				}
				return StatusRejected, err
			}
			return StatusSideChain, err
		}

		update := blockUpdate(block)
		if err := b.ms.Apply(update); err != nil {
			b.rollbackReorg(attachedUpdates, detachedUpdates)
			return StatusRejected, AssertError(fmt.Sprintf("archival "+
				"apply diverged from validated update for block %s: %v",
				n.hash, err))
		}
		attachedBlocks = append(attachedBlocks, block)
		attachedUpdates = append(attachedUpdates, update)
		b.index.SetStatusFlags(n, statusValid)
	}

	// Commit the switch atomically: canonical mappings, statuses, the
	// new tip, and the mutator set.
	b.opSeq++
	batch := b.db.NewBatch()
	for _, n := range detach {
		if n.height > node.height {
			if err := dbRemoveCanonical(batch, n.height); err != nil {
				return StatusRejected, err
			}
		}
	}
	for _, n := range attach {
		if err := dbPutHeader(batch, n); err != nil {
			return StatusRejected, err
		}
		if err := dbPutCanonical(batch, n.height, &n.hash); err != nil {
			return StatusRejected, err
		}
	}
	if err := dbPutChainTip(batch, &node.hash, node.height, b.opSeq); err != nil {
		return StatusRejected, err
	}
	if err := b.ms.Flush(database.NewNamespaceBatch(batch, mutatorSetPrefix)); err != nil {
		return StatusRejected, err
	}
	if err := batch.Write(); err != nil {
		return StatusRejected, err
	}

	b.bestNode = node
	b.tipHeight.Store(node.height)
	for _, block := range detachedBlocks {
		b.disconnectedCounter.Inc(1)
		b.sendNotification(NTBlockDisconnected, block)
	}
	for _, block := range attachedBlocks {
		b.connectedCounter.Inc(1)
		b.sendNotification(NTBlockConnected, block)
	}
	return StatusAccepted, nil
}

// rollbackReorg restores the staged mutator set state to the old chain
// after a mid-reorganization failure: applied attach updates are
// reverted in reverse order, then the detached updates are reapplied
// oldest first.
func (b *BlockChain) rollbackReorg(applied, detached []*mutator.Update) {
	for i := len(applied) - 1; i >= 0; i-- {
		if err := b.ms.Revert(applied[i]); err != nil {
			panic(AssertError(fmt.Sprintf("reorg rollback failed: %v", err)))
		}
	}
	for i := len(detached) - 1; i >= 0; i-- {
		if err := b.ms.Apply(detached[i]); err != nil {
			panic(AssertError(fmt.Sprintf("reorg rollback failed: %v", err)))
		}
	}
}

// isCanonical reports whether the node lies on the current canonical
// chain.
//
// This function MUST be called with the chain lock held (for reads).
func (b *BlockChain) isCanonical(node *blockNode) bool {
	return b.bestNode.Ancestor(node.height) == node
}
