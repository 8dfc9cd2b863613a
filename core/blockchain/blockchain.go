// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package blockchain implements the consensus engine: block and
// transaction validation, canonical chain selection by cumulative
// proof of work, and the crash-consistent application of blocks to the
// archival mutator set.
package blockchain

import (
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rcrowley/go-metrics"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mutator"
	"github.com/seraphnet/seraph/core/types"
	"github.com/seraphnet/seraph/crypto/zk"
	"github.com/seraphnet/seraph/database"
	"github.com/seraphnet/seraph/params"
)

// maxRejectedCacheSize bounds the cache of block hashes that have been
// terminally rejected, so a block need not be revalidated when another
// peer relays it.
const maxRejectedCacheSize = 4096

// Config is a descriptor which specifies the blockchain instance
// configuration.
type Config struct {
	// DB is the database the chain persists all state to.  The chain
	// owns the namespaces it uses within it.
	DB database.DB

	// Params identifies the network the chain validates for.
	Params *params.Params

	// Verifier checks transaction validity proofs.  It must be pure
	// and deterministic.
	Verifier zk.Verifier

	// TimeSource returns the node's view of the current time, used for
	// the future timestamp bound.  Defaults to time.Now.
	TimeSource func() time.Time
}

// BlockChain provides functions for working with the seraph block
// chain.  It includes functionality such as rejecting duplicate
// blocks, ensuring blocks follow all rules, and best chain selection
// with reorganization.
type BlockChain struct {
	db         database.DB
	params     *params.Params
	verifier   zk.Verifier
	timeSource func() time.Time

	// chainLock protects the chain state: the best node, the archival
	// mutator set, and all canonical mappings change together under
	// the write lock, so no reader ever observes headers that advanced
	// without the accumulator or vice versa.
	chainLock sync.RWMutex

	index    *blockIndex
	bestNode *blockNode
	ms       *mutator.Archival

	// opSeq is the sync label sequence number, incremented with every
	// committed chain operation.
	opSeq uint64

	// prunedHeight is the height up to which canonical block bodies
	// have been removed from disk.
	prunedHeight uint64

	// tipHeight mirrors bestNode.height for lock-free inspection.
	tipHeight atomic.Uint64

	// rejected caches hashes of terminally rejected blocks.
	rejected mapset.Set[hash.Hash]

	// syncLabel describes the chain's relation to its peers' announced
	// work; maintained by the caller via SetSyncLabel.
	syncLabel atomic.Value

	notificationsLock sync.RWMutex
	notifications     []NotificationCallback

	connectedCounter    metrics.Counter
	disconnectedCounter metrics.Counter
	rejectedCounter     metrics.Counter
}

// New returns a BlockChain instance using the provided configuration
// details.  A fresh database is initialized with the network's genesis
// block.
func New(config *Config) (*BlockChain, error) {
	timeSource := config.TimeSource
	if timeSource == nil {
		timeSource = time.Now
	}

	b := &BlockChain{
		db:         config.DB,
		params:     config.Params,
		verifier:   config.Verifier,
		timeSource: timeSource,
		index:      newBlockIndex(),
		rejected:   mapset.NewThreadUnsafeSet[hash.Hash](),

		connectedCounter:    metrics.GetOrRegisterCounter("chain.blocks.connected", nil),
		disconnectedCounter: metrics.GetOrRegisterCounter("chain.blocks.disconnected", nil),
		rejectedCounter:     metrics.GetOrRegisterCounter("chain.blocks.rejected", nil),
	}
	b.syncLabel.Store(SyncLabelSyncing)

	ms, err := mutator.OpenArchival(database.NewNamespace(config.DB,
		mutatorSetPrefix))
	if err != nil {
		return nil, err
	}
	b.ms = ms

	if err := b.initChainState(); err != nil {
		return nil, err
	}

	log.Infof("Chain state loaded (tip %s, height %d)", b.bestNode.hash,
		b.bestNode.height)
	return b, nil
}

// initChainState loads the persisted chain state or creates it from
// the genesis block on a fresh database.
func (b *BlockChain) initChainState() error {
	tip, height, opSeq, found, err := b.dbFetchChainTip()
	if err != nil {
		return err
	}

	if !found {
		return b.createChainState()
	}

	if err := b.loadBlockIndex(); err != nil {
		return err
	}
	tipNode := b.index.LookupNode(&tip)
	if tipNode == nil || tipNode.height != height {
		return database.MakeError(database.ErrCorruption,
			"tip record references an unknown or mismatched header", nil)
	}
	b.bestNode = tipNode
	b.opSeq = opSeq
	b.tipHeight.Store(tipNode.height)

	b.prunedHeight, err = b.dbFetchPruneHeight()
	if err != nil {
		return err
	}

	// The archival mutator set and the tip are committed in the same
	// batch, so a mismatch here means foreign interference.
	msHash, err := b.ms.Hash()
	if err != nil {
		return err
	}
	if msHash != tipNode.stateRoot {
		return database.MakeError(database.ErrCorruption,
			"mutator set digest does not match the tip state root", nil)
	}
	return nil
}

// createChainState initializes a fresh database with the genesis
// block.
func (b *BlockChain) createChainState() error {
	genesis := b.params.GenesisBlock
	node := newBlockNode(&genesis.Header, nil)
	node.status = statusDataStored | statusValid
	b.index.AddNode(node)
	b.bestNode = node
	b.opSeq = 1
	b.tipHeight.Store(0)

	msHash, err := b.ms.Hash()
	if err != nil {
		return err
	}
	if msHash != genesis.Header.StateRoot {
		return AssertError("genesis state root does not match the empty " +
			"mutator set")
	}

	batch := b.db.NewBatch()
	if err := dbPutHeader(batch, node); err != nil {
		return err
	}
	if err := dbPutBlock(batch, genesis); err != nil {
		return err
	}
	if err := dbPutCanonical(batch, 0, &node.hash); err != nil {
		return err
	}
	if err := dbPutChainTip(batch, &node.hash, 0, b.opSeq); err != nil {
		return err
	}
	return batch.Write()
}

// BestSnapshot returns an immutable view of the current canonical tip.
//
// This function is safe for concurrent access.
func (b *BlockChain) BestSnapshot() *BestState {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return &BestState{
		Hash:      b.bestNode.hash,
		Height:    b.bestNode.height,
		StateRoot: b.bestNode.stateRoot,
		Work:      new(big.Int).Set(b.bestNode.workSum),
	}
}

// TipHeight returns the canonical tip height without taking the chain
// lock.
func (b *BlockChain) TipHeight() uint64 {
	return b.tipHeight.Load()
}

// HaveBlock reports whether the chain knows the block, on any branch.
//
// This function is safe for concurrent access.
func (b *BlockChain) HaveBlock(h *hash.Hash) bool {
	return b.index.HaveBlock(h)
}

// Accumulator returns a copy of the mutator set accumulator at the
// canonical tip.
//
// This function is safe for concurrent access.
func (b *BlockChain) Accumulator() (*mutator.Accumulator, error) {
	b.chainLock.RLock()
	defer b.chainLock.RUnlock()
	return b.ms.Accumulator()
}

// FetchBlock returns the full block body for the given hash.
//
// This function is safe for concurrent access.
func (b *BlockChain) FetchBlock(h *hash.Hash) (*types.Block, error) {
	return b.dbFetchBlock(h)
}

// PruneTo removes canonical block bodies at and below the given height.
// Headers and canonical mappings are kept, so the chain remains fully
// verifiable and extendable.  The prune point is clamped so every body
// a permitted reorganization could need to disconnect stays on disk.
//
// This function is safe for concurrent access.
func (b *BlockChain) PruneTo(height uint64) error {
	b.chainLock.Lock()
	defer b.chainLock.Unlock()

	if b.bestNode.height <= b.params.ReorgRetentionDepth {
		return nil
	}
	if limit := b.bestNode.height - b.params.ReorgRetentionDepth; height > limit {
		height = limit
	}
	if height <= b.prunedHeight {
		return nil
	}

	batch := b.db.NewBatch()
	for h := b.prunedHeight + 1; h <= height; h++ {
		blockHash, err := b.dbFetchCanonicalHash(h)
		if err != nil {
			return err
		}
		if err := batch.Delete(blockKey(&blockHash)); err != nil {
			return err
		}
	}
	if err := dbPutPruneHeight(batch, height); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return err
	}

	log.Infof("Pruned %d block bodies through height %d",
		height-b.prunedHeight, height)
	b.prunedHeight = height
	return nil
}

// BestState houses the tip facts readers most often need, captured
// atomically with respect to chain mutation.
type BestState struct {
	Hash      hash.Hash
	Height    uint64
	StateRoot hash.Hash
	Work      *big.Int
}

// SyncLabel describes how the node currently relates to the network.
type SyncLabel int32

const (
	// SyncLabelSyncing means the node believes peers have announced
	// more cumulative work than its tip carries.
	SyncLabelSyncing SyncLabel = iota

	// SyncLabelCurrent means the node's tip matches the best announced
	// work.
	SyncLabelCurrent
)

// SetSyncLabel records the node's sync state.  Maintained by the block
// manager from peer announcements; read by the mempool and RPC.
func (b *BlockChain) SetSyncLabel(label SyncLabel) {
	b.syncLabel.Store(label)
}

// GetSyncLabel returns the node's sync state.
func (b *BlockChain) GetSyncLabel() SyncLabel {
	return b.syncLabel.Load().(SyncLabel)
}

// NotificationType represents the type of a chain notification.
type NotificationType int

const (
	// NTBlockConnected indicates the associated block was connected to
	// the canonical chain.
	NTBlockConnected NotificationType = iota

	// NTBlockDisconnected indicates the associated block was
	// disconnected from the canonical chain during a reorganization.
	NTBlockDisconnected
)

// Notification defines an asynchronous chain event: the type and the
// *types.Block it concerns.
type Notification struct {
	Type  NotificationType
	Block *types.Block
}

// NotificationCallback is used for a caller to receive chain events.
type NotificationCallback func(*Notification)

// Subscribe registers a callback for chain notifications.  Callbacks
// run synchronously on the chain's mutation path and must be fast.
func (b *BlockChain) Subscribe(callback NotificationCallback) {
	b.notificationsLock.Lock()
	b.notifications = append(b.notifications, callback)
	b.notificationsLock.Unlock()
}

// sendNotification dispatches an event to all subscribers.
func (b *BlockChain) sendNotification(typ NotificationType, block *types.Block) {
	b.notificationsLock.RLock()
	callbacks := b.notifications
	b.notificationsLock.RUnlock()
	n := &Notification{Type: typ, Block: block}
	for _, callback := range callbacks {
		callback(n)
	}
}
