// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mutator"
	"github.com/seraphnet/seraph/core/types"
	"github.com/seraphnet/seraph/core/types/pow"
	"github.com/seraphnet/seraph/crypto/zk"
)

// checkProofOfWork ensures the block header hash is less than or equal
// to the target difficulty the header declares, and that the declared
// target is within the valid range for the network.
func (b *BlockChain) checkProofOfWork(header *types.BlockHeader) error {
	target := pow.CompactToBig(header.Difficulty)
	if target.Sign() <= 0 {
		str := fmt.Sprintf("block target difficulty of %064x is too low",
			target)
		return ruleError(ErrBadProofOfWork, str)
	}
	if target.Cmp(b.params.PowLimit) > 0 {
		str := fmt.Sprintf("block target difficulty of %064x is higher "+
			"than max of %064x", target, b.params.PowLimit)
		return ruleError(ErrBadProofOfWork, str)
	}

	blockHash := header.BlockHash()
	if pow.HashToBig(blockHash[:]).Cmp(target) > 0 {
		str := fmt.Sprintf("block hash of %064x is higher than expected "+
			"max of %064x", pow.HashToBig(blockHash[:]), target)
		return ruleError(ErrBadProofOfWork, str)
	}
	return nil
}

// checkBlockHeaderSanity performs the context-free checks on a block
// header: the proof of work and the future timestamp bound.
func (b *BlockChain) checkBlockHeaderSanity(header *types.BlockHeader) error {
	if err := b.checkProofOfWork(header); err != nil {
		return err
	}

	maxTimestamp := b.timeSource().Add(b.params.MaxTimeOffset)
	if header.Timestamp.After(maxTimestamp) {
		str := fmt.Sprintf("block timestamp of %v is too far in the "+
			"future", header.Timestamp)
		return ruleError(ErrTimestampOutOfRange, str)
	}
	return nil
}

// checkBlockSanity performs the context-free checks on a full block:
// header sanity, size bounds, the coinbase placement rules, and the
// transaction root commitment.
func (b *BlockChain) checkBlockSanity(block *types.Block) error {
	if err := b.checkBlockHeaderSanity(&block.Header); err != nil {
		return err
	}

	if len(block.Transactions) == 0 {
		return ruleError(ErrNoTransactions, "block does not contain any "+
			"transactions")
	}

	serializedSize := block.SerializeSize()
	if serializedSize > types.MaxBlockPayload {
		str := fmt.Sprintf("serialized block is too big - got %d, max %d",
			serializedSize, types.MaxBlockPayload)
		return ruleError(ErrBlockTooBig, str)
	}

	if !block.Transactions[0].IsCoinbase() {
		return ruleError(ErrFirstTxNotCoinbase, "first transaction in "+
			"block is not the coinbase")
	}
	for i, tx := range block.Transactions[1:] {
		if tx.IsCoinbase() {
			str := fmt.Sprintf("block contains second coinbase at index %d",
				i+1)
			return ruleError(ErrMultipleCoinbases, str)
		}
	}

	calculatedTxRoot := types.CalcTxRoot(block.Transactions)
	if calculatedTxRoot != block.Header.TxRoot {
		str := fmt.Sprintf("block transaction root is invalid - block "+
			"header indicates %s, but calculated value is %s",
			block.Header.TxRoot, calculatedTxRoot)
		return ruleError(ErrBadTxRoot, str)
	}
	return nil
}

// checkBlockHeaderContext performs the validation rules which depend on
// the header's position within the block chain.
func (b *BlockChain) checkBlockHeaderContext(header *types.BlockHeader, parent *blockNode) error {
	if header.Height != parent.height+1 {
		str := fmt.Sprintf("block declares height %d, but parent has "+
			"height %d", header.Height, parent.height)
		return ruleError(ErrBadBlockHeight, str)
	}

	expectedBits := b.calcNextRequiredDifficulty(parent)
	if header.Difficulty != expectedBits {
		str := fmt.Sprintf("block difficulty of %08x is not the expected "+
			"value of %08x", header.Difficulty, expectedBits)
		return ruleError(ErrBadDifficultyRetarget, str)
	}

	medianTime := parent.CalcPastMedianTime()
	if !header.Timestamp.After(medianTime) {
		str := fmt.Sprintf("block timestamp of %v is not after expected %v",
			header.Timestamp, medianTime)
		return ruleError(ErrTimestampOutOfRange, str)
	}

	expectedWork := pow.CalcWork(header.Difficulty)
	expectedWork.Add(expectedWork, parent.workSum)
	if header.CumulativeWorkBig().Cmp(expectedWork) != 0 {
		str := fmt.Sprintf("block declares cumulative work %064x, "+
			"expected %064x", header.CumulativeWorkBig(), expectedWork)
		return ruleError(ErrBadCumulativeWork, str)
	}
	return nil
}

// checkCoinbaseValue ensures the coinbase declares exactly the block
// subsidy plus the fees of the other transactions.  Output amounts are
// hidden inside commitments, so the declared mint is what the coinbase
// proof attests to and what every node can recompute.
func (b *BlockChain) checkCoinbaseValue(block *types.Block) error {
	var totalFees uint64
	for _, tx := range block.Transactions[1:] {
		totalFees += tx.Fee
	}
	expected := b.params.BlockSubsidy(block.Header.Height) + totalFees
	if block.Transactions[0].Fee != expected {
		str := fmt.Sprintf("coinbase declares value %d, expected %d",
			block.Transactions[0].Fee, expected)
		return ruleError(ErrBadCoinbaseValue, str)
	}
	return nil
}

// checkDuplicateRemovals rejects blocks where two transactions remove
// the same commitment.  The removal ID is derived from the commitment
// and its AOCL position, so equal IDs mean the same spend.
func checkDuplicateRemovals(block *types.Block) error {
	seen := mapset.NewThreadUnsafeSet[hash.Hash]()
	for _, tx := range block.Transactions {
		for _, rr := range tx.Removals {
			id := rr.ID()
			if !seen.Add(id) {
				str := fmt.Sprintf("block removes %s more than once", id)
				return ruleError(ErrDoubleSpendInBlock, str)
			}
		}
	}
	return nil
}

// txClaim builds the public claim a transaction's proof must attest to
// against the given mutator set digest.
func txClaim(tx *types.Transaction, msHash hash.Hash) *zk.Claim {
	claim := &zk.Claim{
		MutatorSetHash:      msHash,
		RemovalIDs:          make([]hash.Hash, 0, len(tx.Removals)),
		AdditionCommitments: make([]hash.Hash, 0, len(tx.Additions)),
		Fee:                 tx.Fee,
	}
	for _, rr := range tx.Removals {
		claim.RemovalIDs = append(claim.RemovalIDs, rr.ID())
	}
	for _, ar := range tx.Additions {
		claim.AdditionCommitments = append(claim.AdditionCommitments,
			ar.Commitment)
	}
	return claim
}

// checkTransactionProofs verifies every transaction's validity proof
// against the mutator set digest of the parent block.  A proof that
// fails to attest is a consensus rejection of the block; a verifier
// that cannot currently answer makes the outcome indeterminate and the
// error is surfaced as VerifierUnavailableError so the caller retries
// rather than rejects.
func (b *BlockChain) checkTransactionProofs(block *types.Block, msHash hash.Hash) error {
	for i, tx := range block.Transactions {
		err := b.verifier.Verify(txClaim(tx, msHash), tx.Proof)
		if err == nil {
			continue
		}
		if zk.IsInvalidProof(err) {
			str := fmt.Sprintf("transaction %d proof does not attest to "+
				"its claim: %v", i, err)
			return ruleError(ErrProofVerificationFailed, str)
		}
		return VerifierUnavailableError{Err: err}
	}
	return nil
}

// blockUpdate collects the mutator set effect of the block: the removal
// records of all transactions in order, then all addition records in
// order.
func blockUpdate(block *types.Block) *mutator.Update {
	update := &mutator.Update{}
	for _, tx := range block.Transactions {
		update.Removals = append(update.Removals, tx.Removals...)
	}
	for _, tx := range block.Transactions {
		update.Additions = append(update.Additions, tx.Additions...)
	}
	return update
}

// checkConnectBlock performs the state transition checks that require
// the mutator set at the block's parent: every removal record must be
// valid and removable against it, and folding the block's update into
// it must yield exactly the state root the header commits to.  The
// passed accumulator is mutated; callers hand in a copy.
func (b *BlockChain) checkConnectBlock(block *types.Block, acc *mutator.Accumulator) error {
	if err := checkDuplicateRemovals(block); err != nil {
		return err
	}
	if err := b.checkCoinbaseValue(block); err != nil {
		return err
	}
	if err := b.checkTransactionProofs(block, acc.Hash()); err != nil {
		return err
	}

	if err := acc.Apply(blockUpdate(block)); err != nil {
		str := fmt.Sprintf("block update does not apply: %v", err)
		return ruleError(ErrInvalidRemovalRecord, str)
	}

	if got := acc.Hash(); got != block.Header.StateRoot {
		str := fmt.Sprintf("block state root is invalid - block header "+
			"indicates %s, but applying the block yields %s",
			block.Header.StateRoot, got)
		return ruleError(ErrMutatorSetCommitmentMismatch, str)
	}
	return nil
}
