// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool provides a fee-prioritized holding area for
// individually valid, not-yet-confirmed transactions, kept consistent
// with the chain tip by block connect and disconnect notifications.
package mempool

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/types"
	"github.com/seraphnet/seraph/crypto/zk"
)

// TxDesc is a descriptor containing a transaction in the mempool along
// with additional metadata.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *types.Transaction

	// Added is the time when the entry was added to the pool.
	Added time.Time

	// Fee is the declared fee the transaction pays.
	Fee uint64

	// FeeRate is the fee per serialized byte, the entry's priority.
	FeeRate float64
}

// TxPool is used as a source of transactions that need to be mined into
// blocks and relayed to other peers.  It is safe for concurrent access
// from multiple peers.
type TxPool struct {
	// lastUpdated must only be used atomically.
	lastUpdated int64 // last time pool was updated, unix seconds

	mtx  sync.RWMutex
	cfg  Config
	pool map[hash.Hash]*TxDesc

	// removals maps the removal record IDs claimed by pool entries to
	// the claiming transaction hash, for conflict detection.
	removals map[hash.Hash]hash.Hash

	// additions maps the addition commitments produced by pool entries
	// to the producing transaction hash, for pruning entries whose
	// outputs a block already created.
	additions map[hash.Hash]hash.Hash
}

// New returns a new memory pool for validating and storing standalone
// transactions until they are mined into a block.
func New(cfg *Config) *TxPool {
	mp := &TxPool{
		cfg:       *cfg,
		pool:      make(map[hash.Hash]*TxDesc),
		removals:  make(map[hash.Hash]hash.Hash),
		additions: make(map[hash.Hash]hash.Hash),
	}
	if mp.cfg.TimeSource == nil {
		mp.cfg.TimeSource = time.Now
	}
	return mp
}

// Count returns the number of transactions in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	count := len(mp.pool)
	mp.mtx.RUnlock()
	return count
}

// HaveTransaction returns whether the passed transaction hash already
// exists in the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HaveTransaction(txHash *hash.Hash) bool {
	mp.mtx.RLock()
	_, have := mp.pool[*txHash]
	mp.mtx.RUnlock()
	return have
}

// LastUpdated returns the last time a transaction was added to or
// removed from the pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	return time.Unix(atomic.LoadInt64(&mp.lastUpdated), 0)
}

// TxDescs returns a slice of descriptors for all the transactions in
// the pool, ordered by priority descending: fee rate first, insertion
// time as tie-break with older entries first.  The descriptors are to
// be treated as read only.
//
// This function is safe for concurrent access.
func (mp *TxPool) TxDescs() []*TxDesc {
	mp.mtx.RLock()
	descs := make([]*TxDesc, 0, len(mp.pool))
	for _, desc := range mp.pool {
		descs = append(descs, desc)
	}
	mp.mtx.RUnlock()

	sort.Slice(descs, func(i, j int) bool {
		return higherPriority(descs[i], descs[j])
	})
	return descs
}

// higherPriority reports whether a outranks b for mining and admission.
func higherPriority(a, b *TxDesc) bool {
	if a.FeeRate != b.FeeRate {
		return a.FeeRate > b.FeeRate
	}
	return a.Added.Before(b.Added)
}

// buildClaim assembles the public claim the transaction's proof must
// attest to against the given mutator set digest.
func buildClaim(tx *types.Transaction, msHash hash.Hash) *zk.Claim {
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

// ProcessTransaction is the main workhorse for handling insertion of
// new standalone transactions into the memory pool.  It includes
// functionality such as rejecting duplicate transactions, ensuring
// transactions follow all rules, and detecting conflicts with entries
// already in the pool.
//
// A RuleError is returned when the transaction is rejected on its
// merits.  Any other error means the outcome is indeterminate, such as
// the proof verifier being unavailable, and the transaction may be
// resubmitted.
//
// This function is safe for concurrent access.
func (mp *TxPool) ProcessTransaction(tx *types.Transaction) error {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()
	return mp.maybeAcceptTransaction(tx)
}

// maybeAcceptTransaction runs the admission checks and inserts the
// transaction on success.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) maybeAcceptTransaction(tx *types.Transaction) error {
	mp.limitExpired()

	txHash := tx.TxHash()
	if _, exists := mp.pool[txHash]; exists {
		str := fmt.Sprintf("already have transaction %s", txHash)
		return txRuleError(ErrDuplicate, str)
	}

	// A standalone transaction must spend something.  Coinbases are
	// created by miners inside blocks and never relayed alone.
	if tx.IsCoinbase() {
		str := fmt.Sprintf("transaction %s is an individual coinbase",
			txHash)
		return txRuleError(ErrCoinbase, str)
	}

	serializedSize := tx.SerializeSize()
	if serializedSize > mp.cfg.Policy.MaxTxSize {
		str := fmt.Sprintf("transaction %s size of %d is larger than max "+
			"allowed size of %d", txHash, serializedSize,
			mp.cfg.Policy.MaxTxSize)
		return txRuleError(ErrTooLarge, str)
	}

	feeRate := float64(tx.Fee) / float64(serializedSize)
	if feeRate < float64(mp.cfg.Policy.MinFeeRate) {
		str := fmt.Sprintf("transaction %s has fee rate %.2f below the "+
			"required minimum of %d", txHash, feeRate,
			mp.cfg.Policy.MinFeeRate)
		return txRuleError(ErrInsufficientFee, str)
	}

	// Reject early when another pool entry already spends one of the
	// same commitments.
	for _, rr := range tx.Removals {
		if conflictHash, exists := mp.removals[rr.ID()]; exists {
			str := fmt.Sprintf("transaction %s removes %s already removed "+
				"by pool transaction %s", txHash, rr.ID(), conflictHash)
			return txRuleError(ErrConflict, str)
		}
	}

	// Individual validity against the current chain tip: every removal
	// record must be removable, and the proof must attest to the claim
	// at the tip's mutator set digest.
	acc, err := mp.cfg.Accumulator()
	if err != nil {
		return err
	}
	for i, rr := range tx.Removals {
		if !acc.CanRemove(rr) {
			str := fmt.Sprintf("transaction %s removal record %d cannot "+
				"be removed against the current mutator set", txHash, i)
			return txRuleError(ErrInvalidRemoval, str)
		}
	}
	if err := mp.cfg.Verifier.Verify(buildClaim(tx, acc.Hash()), tx.Proof); err != nil {
		if zk.IsInvalidProof(err) {
			str := fmt.Sprintf("transaction %s proof does not attest to "+
				"its claim: %v", txHash, err)
			return txRuleError(ErrInvalidProof, str)
		}
		return err
	}

	// Admission under the capacity bound: a full pool only takes the
	// newcomer when it outranks the lowest-priority entry, which is
	// then evicted.
	desc := &TxDesc{
		Tx:      tx,
		Added:   mp.cfg.TimeSource(),
		Fee:     tx.Fee,
		FeeRate: feeRate,
	}
	for len(mp.pool) >= mp.cfg.Policy.MaxPoolSize {
		lowest := mp.lowestPriority()
		if lowest == nil || !higherPriority(desc, lowest) {
			str := fmt.Sprintf("pool is full and transaction %s fee rate "+
				"%.2f does not beat the current minimum", txHash, feeRate)
			return txRuleError(ErrBelowMinPriority, str)
		}
		log.Debugf("Evicting transaction %s (fee rate %.2f) for %s "+
			"(fee rate %.2f)", lowest.Tx.TxHash(), lowest.FeeRate, txHash,
			feeRate)
		mp.removeTransaction(lowest.Tx)
	}

	mp.pool[txHash] = desc
	for _, rr := range tx.Removals {
		mp.removals[rr.ID()] = txHash
	}
	for _, ar := range tx.Additions {
		mp.additions[ar.Commitment] = txHash
	}
	atomic.StoreInt64(&mp.lastUpdated, mp.cfg.TimeSource().Unix())

	log.Debugf("Accepted transaction %s (pool size: %d)", txHash,
		len(mp.pool))
	return nil
}

// lowestPriority returns the pool entry with the lowest priority, or
// nil when the pool is empty.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) lowestPriority() *TxDesc {
	var lowest *TxDesc
	for _, desc := range mp.pool {
		if lowest == nil || higherPriority(lowest, desc) {
			lowest = desc
		}
	}
	return lowest
}

// removeTransaction is the internal function which implements the
// public RemoveTransaction.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeTransaction(tx *types.Transaction) {
	txHash := tx.TxHash()
	desc, exists := mp.pool[txHash]
	if !exists {
		return
	}
	for _, rr := range desc.Tx.Removals {
		delete(mp.removals, rr.ID())
	}
	for _, ar := range desc.Tx.Additions {
		delete(mp.additions, ar.Commitment)
	}
	delete(mp.pool, txHash)
	atomic.StoreInt64(&mp.lastUpdated, mp.cfg.TimeSource().Unix())
}

// RemoveTransaction removes the passed transaction from the mempool.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveTransaction(tx *types.Transaction) {
	mp.mtx.Lock()
	mp.removeTransaction(tx)
	mp.mtx.Unlock()
}

// limitExpired prunes entries that have sat unmined past the policy
// expiry.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) limitExpired() {
	if mp.cfg.Policy.TxExpiry <= 0 {
		return
	}
	cutoff := mp.cfg.TimeSource().Add(-mp.cfg.Policy.TxExpiry)
	for _, desc := range mp.pool {
		if desc.Added.Before(cutoff) {
			log.Debugf("Expiring transaction %s added %v", desc.Tx.TxHash(),
				desc.Added)
			mp.removeTransaction(desc.Tx)
		}
	}
}

// PruneExpiredTx prunes expired transactions from the mempool that may
// no longer be able to be included in a block.
//
// This function is safe for concurrent access.
func (mp *TxPool) PruneExpiredTx() {
	mp.mtx.Lock()
	mp.limitExpired()
	mp.mtx.Unlock()
}

// OnBlockConnected prunes the pool after a block reached the canonical
// chain: entries whose removal records the block spent, whose addition
// commitments the block created, or which the block confirmed outright
// are all evicted.
//
// This function is safe for concurrent access.
func (mp *TxPool) OnBlockConnected(block *types.Block) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	for _, tx := range block.Transactions {
		for _, rr := range tx.Removals {
			if claimant, exists := mp.removals[rr.ID()]; exists {
				if desc, ok := mp.pool[claimant]; ok {
					mp.removeTransaction(desc.Tx)
				}
			}
		}
		for _, ar := range tx.Additions {
			if producer, exists := mp.additions[ar.Commitment]; exists {
				if desc, ok := mp.pool[producer]; ok {
					mp.removeTransaction(desc.Tx)
				}
			}
		}
	}
}

// OnBlockDisconnected reinserts the transactions of a block abandoned
// by a reorganization, keeping only those still individually valid
// against the restored mutator set state.
//
// This function is safe for concurrent access.
func (mp *TxPool) OnBlockDisconnected(block *types.Block) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	for _, tx := range block.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		if err := mp.maybeAcceptTransaction(tx); err != nil {
			log.Debugf("Disconnected transaction %s not reinserted: %v",
				tx.TxHash(), err)
		}
	}
}
