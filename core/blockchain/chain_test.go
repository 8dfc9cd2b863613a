// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mutator"
	"github.com/seraphnet/seraph/core/types"
	"github.com/seraphnet/seraph/core/types/pow"
	"github.com/seraphnet/seraph/crypto/zk"
	"github.com/seraphnet/seraph/database"
	"github.com/seraphnet/seraph/database/ldb"
	"github.com/seraphnet/seraph/params"
)

// acceptAllVerifier treats every proof as attesting to its claim.
type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify(*zk.Claim, []byte) error { return nil }

// rejectAllVerifier treats every proof as failing to attest.
type rejectAllVerifier struct{}

func (rejectAllVerifier) Verify(*zk.Claim, []byte) error {
	return &zk.InvalidProofError{Err: errors.New("proof does not attest")}
}

// flakyVerifier fails a fixed number of calls with an indeterminate
// error before recovering.
type flakyVerifier struct {
	failures int
}

func (v *flakyVerifier) Verify(*zk.Claim, []byte) error {
	if v.failures > 0 {
		v.failures--
		return errors.New("verifier backend offline")
	}
	return nil
}

// chainHarness drives a BlockChain over an in-memory database and keeps
// enough bookkeeping to assemble valid blocks on any branch.
type chainHarness struct {
	t      *testing.T
	db     database.DB
	chain  *BlockChain
	params *params.Params

	// accs holds the mutator set accumulator after each known block.
	accs   map[hash.Hash]*mutator.Accumulator
	blocks map[hash.Hash]*types.Block

	itemSeq uint64
}

func newChainHarness(t *testing.T, verifier zk.Verifier) *chainHarness {
	t.Helper()

	db, err := ldb.NewMemDB()
	require.NoError(t, err)
	netParams := &params.PrivNetParams
	chain, err := New(&Config{
		DB:       db,
		Params:   netParams,
		Verifier: verifier,
	})
	require.NoError(t, err)

	h := &chainHarness{
		t:      t,
		db:     db,
		chain:  chain,
		params: netParams,
		accs:   make(map[hash.Hash]*mutator.Accumulator),
		blocks: make(map[hash.Hash]*types.Block),
	}
	genesisHash := netParams.GenesisBlock.BlockHash()
	h.accs[genesisHash] = mutator.NewAccumulator()
	h.blocks[genesisHash] = netParams.GenesisBlock
	return h
}

func (h *chainHarness) genesisHash() hash.Hash {
	return h.params.GenesisBlock.BlockHash()
}

// newAddition mints a unique addition record.
func (h *chainHarness) newAddition() mutator.AdditionRecord {
	h.itemSeq++
	item := hash.HashH([]byte(fmt.Sprintf("item-%d", h.itemSeq)))
	randomness := hash.HashH([]byte(fmt.Sprintf("rand-%d", h.itemSeq)))
	return mutator.Commit(item, randomness)
}

// solve grinds the nonce until the header satisfies its own target.
func solve(t *testing.T, header *types.BlockHeader) {
	t.Helper()
	target := pow.CompactToBig(header.Difficulty)
	for nonce := uint64(0); ; nonce++ {
		header.Nonce = nonce
		blockHash := header.BlockHash()
		if pow.HashToBig(blockHash[:]).Cmp(target) <= 0 {
			return
		}
	}
}

// buildBlock assembles and mines a contextually valid block on the
// given parent, with a correct coinbase prepended to the passed
// transactions.
func (h *chainHarness) buildBlock(parentHash hash.Hash, txs ...*types.Transaction) *types.Block {
	h.t.Helper()
	var fees uint64
	for _, tx := range txs {
		fees += tx.Fee
	}
	parent := h.blocks[parentHash]
	subsidy := h.params.BlockSubsidy(parent.Header.Height + 1)
	return h.buildBlockCoinbase(parentHash, subsidy+fees, txs...)
}

// buildBlockCoinbase is buildBlock with an explicit coinbase value, for
// exercising the coinbase rules.
func (h *chainHarness) buildBlockCoinbase(parentHash hash.Hash, coinbaseValue uint64, txs ...*types.Transaction) *types.Block {
	h.t.Helper()

	parent, ok := h.blocks[parentHash]
	require.True(h.t, ok, "unknown parent block")
	parentAcc, ok := h.accs[parentHash]
	require.True(h.t, ok, "no accumulator for parent block")

	blockTime := parent.Header.Timestamp.Add(h.params.TargetTimePerBlock)
	coinbase := &types.Transaction{
		Version:   1,
		Additions: []mutator.AdditionRecord{h.newAddition()},
		Fee:       coinbaseValue,
		Timestamp: blockTime,
		Proof:     []byte{0x01},
	}
	allTxs := append([]*types.Transaction{coinbase}, txs...)

	acc := parentAcc.Copy()
	block := &types.Block{Transactions: allTxs}
	require.NoError(h.t, acc.Apply(blockUpdate(block)))

	header := &block.Header
	header.Version = 1
	header.ParentHash = parentHash
	header.Height = parent.Header.Height + 1
	header.TxRoot = types.CalcTxRoot(allTxs)
	header.StateRoot = acc.Hash()
	header.Difficulty = h.params.PowLimitBits
	header.Timestamp = blockTime
	work := pow.CalcWork(header.Difficulty)
	work.Add(work, parent.Header.CumulativeWorkBig())
	header.SetCumulativeWork(work)
	solve(h.t, header)

	blockHash := block.BlockHash()
	h.blocks[blockHash] = block
	h.accs[blockHash] = acc
	return block
}

// extendChain builds and accepts n blocks on the given parent,
// returning the hash of the last one.
func (h *chainHarness) extendChain(parentHash hash.Hash, n int) hash.Hash {
	h.t.Helper()
	tip := parentHash
	for i := 0; i < n; i++ {
		block := h.buildBlock(tip)
		status, err := h.chain.ProcessBlock(block)
		require.NoError(h.t, err)
		require.Equal(h.t, StatusAccepted, status)
		tip = block.BlockHash()
	}
	return tip
}

func TestGenesisInitialization(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	best := h.chain.BestSnapshot()
	assert.Equal(t, h.genesisHash(), best.Hash)
	assert.Equal(t, uint64(0), best.Height)

	acc, err := h.chain.Accumulator()
	require.NoError(t, err)
	assert.Equal(t, best.StateRoot, acc.Hash())
}

func TestConnectBlocks(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	tip := h.extendChain(h.genesisHash(), 3)

	best := h.chain.BestSnapshot()
	assert.Equal(t, tip, best.Hash)
	assert.Equal(t, uint64(3), best.Height)
	assert.Equal(t, uint64(3), h.chain.TipHeight())

	// The archival mutator set tracks the header's state commitment.
	acc, err := h.chain.Accumulator()
	require.NoError(t, err)
	assert.Equal(t, best.StateRoot, acc.Hash())

	// Canonical mapping covers every height.
	for height := uint64(1); height <= 3; height++ {
		_, err := h.chain.dbFetchCanonicalHash(height)
		assert.NoError(t, err)
	}
}

func TestDuplicateBlock(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	block := h.buildBlock(h.genesisHash())
	status, err := h.chain.ProcessBlock(block)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)

	status, err = h.chain.ProcessBlock(block)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyKnown, status)
}

func TestOrphanBlockIsRetryable(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	parent := h.buildBlock(h.genesisHash())
	child := h.buildBlock(parent.BlockHash())

	status, err := h.chain.ProcessBlock(child)
	assert.Equal(t, StatusRejected, status)
	code, ok := ErrorCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrUnknownParent, code)

	// An orphan is not a terminal judgment: once the parent arrives the
	// same block connects.
	status, err = h.chain.ProcessBlock(parent)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)
	status, err = h.chain.ProcessBlock(child)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, status)
}

func TestSideChainTieKeepsFirstSeen(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	blockA := h.buildBlock(h.genesisHash())
	status, err := h.chain.ProcessBlock(blockA)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)

	// Equal cumulative work does not displace the tip.
	blockB := h.buildBlock(h.genesisHash())
	status, err = h.chain.ProcessBlock(blockB)
	require.NoError(t, err)
	assert.Equal(t, StatusSideChain, status)
	assert.Equal(t, blockA.BlockHash(), h.chain.BestSnapshot().Hash)
}

func TestReorganization(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	var connected, disconnected []hash.Hash
	h.chain.Subscribe(func(n *Notification) {
		switch n.Type {
		case NTBlockConnected:
			connected = append(connected, n.Block.BlockHash())
		case NTBlockDisconnected:
			disconnected = append(disconnected, n.Block.BlockHash())
		}
	})

	blockA := h.buildBlock(h.genesisHash())
	status, err := h.chain.ProcessBlock(blockA)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)

	blockB := h.buildBlock(h.genesisHash())
	status, err = h.chain.ProcessBlock(blockB)
	require.NoError(t, err)
	require.Equal(t, StatusSideChain, status)

	// B2 pushes the B branch past A in cumulative work.
	blockB2 := h.buildBlock(blockB.BlockHash())
	status, err = h.chain.ProcessBlock(blockB2)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)

	best := h.chain.BestSnapshot()
	assert.Equal(t, blockB2.BlockHash(), best.Hash)
	assert.Equal(t, uint64(2), best.Height)

	// The mutator set followed the branch switch exactly.
	acc, err := h.chain.Accumulator()
	require.NoError(t, err)
	assert.Equal(t, blockB2.Header.StateRoot, acc.Hash())

	assert.Equal(t, []hash.Hash{blockA.BlockHash()}, disconnected)
	assert.Equal(t, []hash.Hash{
		blockA.BlockHash(), blockB.BlockHash(), blockB2.BlockHash(),
	}, connected)

	// Canonical mappings now describe the B branch.
	canonical1, err := h.chain.dbFetchCanonicalHash(1)
	require.NoError(t, err)
	assert.Equal(t, blockB.BlockHash(), canonical1)
}

func TestSpendAndDoubleSpend(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	// Mirror the canonical mutator set archivally so removal records
	// with fresh proofs can be built.
	mirrorDB, err := ldb.NewMemDB()
	require.NoError(t, err)
	mirror, err := mutator.OpenArchival(mirrorDB)
	require.NoError(t, err)

	block1 := h.buildBlock(h.genesisHash())
	status, err := h.chain.ProcessBlock(block1)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)
	require.NoError(t, mirror.Apply(blockUpdate(block1)))

	// Spend the coinbase output of block 1 (AOCL leaf 0).
	removal, err := mirror.DropRecord(0)
	require.NoError(t, err)
	spend := &types.Transaction{
		Version:   1,
		Removals:  []*mutator.RemovalRecord{removal},
		Additions: []mutator.AdditionRecord{h.newAddition()},
		Fee:       1000,
		Timestamp: block1.Header.Timestamp,
		Proof:     []byte{0x02},
	}
	block2 := h.buildBlock(block1.BlockHash(), spend)
	status, err = h.chain.ProcessBlock(block2)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)
	require.NoError(t, mirror.Apply(blockUpdate(block2)))

	// Spending the same output again cannot apply: a fresh record for
	// the spent leaf is valid in form but its indices are already set.
	removal2, err := mirror.DropRecord(0)
	require.NoError(t, err)
	acc := h.accs[block2.BlockHash()]
	assert.False(t, acc.CanRemove(removal2))
}

func TestDoubleSpendWithinBlock(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	mirrorDB, err := ldb.NewMemDB()
	require.NoError(t, err)
	mirror, err := mutator.OpenArchival(mirrorDB)
	require.NoError(t, err)

	block1 := h.buildBlock(h.genesisHash())
	status, err := h.chain.ProcessBlock(block1)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, status)
	require.NoError(t, mirror.Apply(blockUpdate(block1)))

	removal, err := mirror.DropRecord(0)
	require.NoError(t, err)
	makeSpend := func(fee uint64) *types.Transaction {
		return &types.Transaction{
			Version:   1,
			Removals:  []*mutator.RemovalRecord{removal.Copy()},
			Additions: []mutator.AdditionRecord{h.newAddition()},
			Fee:       fee,
			Timestamp: block1.Header.Timestamp,
			Proof:     []byte{0x02},
		}
	}

	// Both transactions remove the same commitment.  Assembling the
	// block body by hand because the harness would fail to apply it.
	spendA, spendB := makeSpend(100), makeSpend(200)
	coinbase := &types.Transaction{
		Version:   1,
		Additions: []mutator.AdditionRecord{h.newAddition()},
		Fee:       h.params.BlockSubsidy(2) + 300,
		Timestamp: block1.Header.Timestamp.Add(10 * time.Second),
		Proof:     []byte{0x01},
	}
	block2 := &types.Block{
		Transactions: []*types.Transaction{coinbase, spendA, spendB},
	}
	header := &block2.Header
	header.Version = 1
	header.ParentHash = block1.BlockHash()
	header.Height = 2
	header.TxRoot = types.CalcTxRoot(block2.Transactions)
	header.StateRoot = block1.Header.StateRoot
	header.Difficulty = h.params.PowLimitBits
	header.Timestamp = coinbase.Timestamp
	work := pow.CalcWork(header.Difficulty)
	work.Add(work, block1.Header.CumulativeWorkBig())
	header.SetCumulativeWork(work)
	solve(t, header)

	status, err = h.chain.ProcessBlock(block2)
	assert.Equal(t, StatusRejected, status)
	code, ok := ErrorCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrDoubleSpendInBlock, code)
}

func TestRejectedBlockRules(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})
	genesis := h.genesisHash()

	tests := []struct {
		name   string
		mutate func(block *types.Block)
		want   ErrorCode
	}{
		{
			name: "bad height",
			mutate: func(block *types.Block) {
				block.Header.Height += 1
			},
			want: ErrBadBlockHeight,
		},
		{
			name: "bad tx root",
			mutate: func(block *types.Block) {
				block.Header.TxRoot[0] ^= 0x01
			},
			want: ErrBadTxRoot,
		},
		{
			name: "bad cumulative work",
			mutate: func(block *types.Block) {
				work := block.Header.CumulativeWorkBig()
				work.Add(work, work)
				block.Header.SetCumulativeWork(work)
			},
			want: ErrBadCumulativeWork,
		},
		{
			name: "bad state root",
			mutate: func(block *types.Block) {
				block.Header.StateRoot[0] ^= 0x01
			},
			want: ErrMutatorSetCommitmentMismatch,
		},
		{
			name: "stale timestamp",
			mutate: func(block *types.Block) {
				block.Header.Timestamp = h.params.GenesisBlock.Header.Timestamp
			},
			want: ErrTimestampOutOfRange,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			block := h.buildBlock(genesis)
			test.mutate(block)
			solve(t, &block.Header)

			status, err := h.chain.ProcessBlock(block)
			assert.Equal(t, StatusRejected, status)
			code, ok := ErrorCodeOf(err)
			require.True(t, ok, "expected rule error, got %v", err)
			assert.Equal(t, test.want, code)

			// Terminal rejections are remembered.
			status, err = h.chain.ProcessBlock(block)
			assert.Equal(t, StatusRejected, status)
			code, ok = ErrorCodeOf(err)
			require.True(t, ok)
			assert.Equal(t, ErrDuplicateBlock, code)
		})
	}
}

func TestBadCoinbaseValue(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	subsidy := h.params.BlockSubsidy(1)
	block := h.buildBlockCoinbase(h.genesisHash(), subsidy+1)
	status, err := h.chain.ProcessBlock(block)
	assert.Equal(t, StatusRejected, status)
	code, ok := ErrorCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrBadCoinbaseValue, code)
}

func TestProofVerificationFailureRejects(t *testing.T) {
	h := newChainHarness(t, rejectAllVerifier{})

	block := h.buildBlock(h.genesisHash())
	status, err := h.chain.ProcessBlock(block)
	assert.Equal(t, StatusRejected, status)
	code, ok := ErrorCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrProofVerificationFailed, code)
}

func TestVerifierUnavailableIsRetryable(t *testing.T) {
	h := newChainHarness(t, &flakyVerifier{failures: 1})

	block := h.buildBlock(h.genesisHash())
	status, err := h.chain.ProcessBlock(block)
	assert.Equal(t, StatusSideChain, status)
	var unavailable VerifierUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.False(t, IsRuleError(err))

	// Resubmission retries the connection once the verifier answers.
	status, err = h.chain.ProcessBlock(block)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, status)
	assert.Equal(t, block.BlockHash(), h.chain.BestSnapshot().Hash)
}

func TestReorgDepthLimit(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})
	retention := h.params.ReorgRetentionDepth

	// Canonical chain deeper than the retention depth.
	canonicalLen := int(retention) + 2
	h.extendChain(h.genesisHash(), canonicalLen)

	// A competing branch from genesis; it stays a side chain until it
	// overtakes the canonical tip.
	side := h.genesisHash()
	for i := 0; i < canonicalLen; i++ {
		block := h.buildBlock(side)
		status, err := h.chain.ProcessBlock(block)
		require.NoError(t, err)
		require.Equal(t, StatusSideChain, status)
		side = block.BlockHash()
	}

	// The overtaking block would require unwinding past the retention
	// depth, which is refused without condemning the branch.
	overtake := h.buildBlock(side)
	status, err := h.chain.ProcessBlock(overtake)
	assert.Equal(t, StatusSideChain, status)
	var depthErr ReorgDepthError
	require.ErrorAs(t, err, &depthErr)
	assert.Equal(t, uint64(canonicalLen), depthErr.ForkDepth)
	assert.Equal(t, retention, depthErr.Retention)
	assert.Equal(t, uint64(canonicalLen), h.chain.BestSnapshot().Height)
}

func TestPersistence(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	tip := h.extendChain(h.genesisHash(), 2)
	best := h.chain.BestSnapshot()

	// Reopen the chain over the same database.
	reopened, err := New(&Config{
		DB:       h.db,
		Params:   h.params,
		Verifier: acceptAllVerifier{},
	})
	require.NoError(t, err)

	rebest := reopened.BestSnapshot()
	assert.Equal(t, tip, rebest.Hash)
	assert.Equal(t, best.Height, rebest.Height)
	assert.Equal(t, best.StateRoot, rebest.StateRoot)
	assert.Equal(t, 0, best.Work.Cmp(rebest.Work))

	acc, err := reopened.Accumulator()
	require.NoError(t, err)
	assert.Equal(t, rebest.StateRoot, acc.Hash())
}

func TestPruneBlocks(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})
	retention := h.params.ReorgRetentionDepth

	// Deep enough that three bodies fall out of the retention window.
	var hashes []hash.Hash
	tip := h.genesisHash()
	for i := 0; i < int(retention)+3; i++ {
		block := h.buildBlock(tip)
		status, err := h.chain.ProcessBlock(block)
		require.NoError(t, err)
		require.Equal(t, StatusAccepted, status)
		tip = block.BlockHash()
		hashes = append(hashes, tip)
	}

	// The requested prune point is clamped to the retention window.
	require.NoError(t, h.chain.PruneTo(uint64(len(hashes))))

	for i, blockHash := range hashes[:3] {
		_, err := h.chain.FetchBlock(&blockHash)
		assert.True(t, database.IsErrorCode(err, database.ErrKeyNotFound),
			"body at height %d should be pruned", i+1)
	}
	for _, blockHash := range hashes[3:] {
		_, err := h.chain.FetchBlock(&blockHash)
		require.NoError(t, err)
	}

	// The genesis body and every header survive pruning.
	genesisHash := h.genesisHash()
	_, err := h.chain.FetchBlock(&genesisHash)
	require.NoError(t, err)
	assert.True(t, h.chain.HaveBlock(&hashes[0]))

	// Pruning below the watermark is a no-op and the chain still
	// extends; the watermark survives a reopen.
	require.NoError(t, h.chain.PruneTo(1))
	h.extendChain(tip, 1)

	reopened, err := New(&Config{
		DB:       h.db,
		Params:   h.params,
		Verifier: acceptAllVerifier{},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reopened.prunedHeight)
}

func TestInvalidAncestorPropagates(t *testing.T) {
	h := newChainHarness(t, acceptAllVerifier{})

	bad := h.buildBlock(h.genesisHash())
	bad.Header.StateRoot[0] ^= 0x01
	solve(t, &bad.Header)
	// Register the tampered block so a child can be built on it.
	badAcc := h.accs[h.genesisHash()].Copy()
	require.NoError(t, badAcc.Apply(blockUpdate(bad)))
	h.blocks[bad.BlockHash()] = bad
	h.accs[bad.BlockHash()] = badAcc

	status, err := h.chain.ProcessBlock(bad)
	require.Equal(t, StatusRejected, status)
	require.Error(t, err)

	child := h.buildBlock(bad.BlockHash())
	status, err = h.chain.ProcessBlock(child)
	assert.Equal(t, StatusRejected, status)
	code, ok := ErrorCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidAncestorBlock, code)
}
