// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package node ties the consensus engine, the archival mutator set,
// and the memory pool together behind the two entry points the
// networking layer drives: block and transaction submission.
package node

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seraphnet/seraph/core/blockchain"
	"github.com/seraphnet/seraph/core/types"
	"github.com/seraphnet/seraph/crypto/zk"
	"github.com/seraphnet/seraph/database"
	"github.com/seraphnet/seraph/params"
	"github.com/seraphnet/seraph/services/mempool"
)

// Config is a descriptor containing the node configuration.
type Config struct {
	// DataDir is the network-specific directory holding the chain
	// database.
	DataDir string

	// DbType selects the registered database driver backing the chain.
	DbType string

	// Params identifies the network the node validates for.
	Params *params.Params

	// Verifier checks transaction validity proofs for both block
	// validation and mempool admission.
	Verifier zk.Verifier

	// Policy configures the memory pool.
	Policy mempool.Policy
}

// txExpiryScanInterval is how often the node sweeps the memory pool for
// entries that have sat unmined past the policy expiry.
const txExpiryScanInterval = 5 * time.Minute

// Node is a seraph full node: it owns the chain database, the consensus
// engine, and the memory pool, and exposes the submission entry points
// the networking layer calls into.
type Node struct {
	started  int32
	shutdown int32

	cfg    Config
	db     database.DB
	chain  *blockchain.BlockChain
	txPool *mempool.TxPool

	wg   sync.WaitGroup
	quit chan struct{}
}

// New builds a node from the configuration, opening or creating the
// chain database as needed.
func New(cfg *Config) (*Node, error) {
	dbPath := filepath.Join(cfg.DataDir, "blocks_"+cfg.DbType)
	log.Infof("Loading block database from '%s'", dbPath)
	db, err := database.Open(cfg.DbType, dbPath)
	if err != nil {
		if !database.IsErrorCode(err, database.ErrDbDoesNotExist) {
			return nil, err
		}
		db, err = database.Create(cfg.DbType, dbPath)
		if err != nil {
			return nil, err
		}
	}

	chain, err := blockchain.New(&blockchain.Config{
		DB:       db,
		Params:   cfg.Params,
		Verifier: cfg.Verifier,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	txPool := mempool.New(&mempool.Config{
		Policy:      cfg.Policy,
		ChainParams: cfg.Params,
		Accumulator: chain.Accumulator,
		Verifier:    cfg.Verifier,
	})

	n := &Node{
		cfg:    *cfg,
		db:     db,
		chain:  chain,
		txPool: txPool,
		quit:   make(chan struct{}),
	}
	chain.Subscribe(n.handleChainNotification)
	return n, nil
}

// Chain returns the node's consensus engine.
func (n *Node) Chain() *blockchain.BlockChain {
	return n.chain
}

// TxPool returns the node's memory pool.
func (n *Node) TxPool() *mempool.TxPool {
	return n.txPool
}

// Start marks the node as serving and launches its housekeeping.
func (n *Node) Start() error {
	if atomic.AddInt32(&n.started, 1) != 1 {
		return fmt.Errorf("node is already started")
	}
	best := n.chain.BestSnapshot()
	log.Infof("Node started (network %s, tip %s, height %d)",
		n.cfg.Params.Name, best.Hash, best.Height)

	n.wg.Add(1)
	go n.txExpiryHandler()
	return nil
}

// txExpiryHandler periodically sweeps expired transactions out of the
// memory pool.  It must be run as a goroutine.
func (n *Node) txExpiryHandler() {
	defer n.wg.Done()
	ticker := time.NewTicker(txExpiryScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.txPool.PruneExpiredTx()
		case <-n.quit:
			return
		}
	}
}

// Stop shuts the node down and closes the chain database.  Pending
// mutator set mutations were committed with their blocks, so there is
// nothing to flush beyond the store itself.
func (n *Node) Stop() error {
	if atomic.AddInt32(&n.shutdown, 1) != 1 {
		log.Infof("Node is already in the process of shutting down")
		return nil
	}
	log.Infof("Node shutting down")
	close(n.quit)
	n.wg.Wait()
	return n.db.Close()
}

// SubmitBlock delivers a block from the networking layer to the
// consensus engine and returns the typed outcome the caller uses for
// relay and peer-banning decisions.
func (n *Node) SubmitBlock(block *types.Block) (blockchain.ProcessStatus, error) {
	status, err := n.chain.ProcessBlock(block)
	if err != nil && blockchain.IsRuleError(err) {
		log.Debugf("Rejected block %s: %v", block.BlockHash(), err)
	}
	return status, err
}

// SubmitTransaction delivers a standalone transaction from the
// networking layer to the memory pool.
func (n *Node) SubmitTransaction(tx *types.Transaction) error {
	return n.txPool.ProcessTransaction(tx)
}

// handleChainNotification keeps the memory pool consistent with the
// canonical chain.
func (n *Node) handleChainNotification(notification *blockchain.Notification) {
	switch notification.Type {
	case blockchain.NTBlockConnected:
		n.txPool.OnBlockConnected(notification.Block)
	case blockchain.NTBlockDisconnected:
		n.txPool.OnBlockDisconnected(notification.Block)
	}
}
