// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package params

import (
	"time"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/mutator"
	"github.com/seraphnet/seraph/core/types"
	"github.com/seraphnet/seraph/core/types/pow"
)

// emptyStateRoot is the accumulator digest of the empty mutator set,
// the state every chain starts from.
var emptyStateRoot = mutator.NewAccumulator().Hash()

// newGenesisBlock assembles the genesis block for a network.  Genesis
// carries no transactions; its state root is the empty mutator set and
// its cumulative work is its own block work.
func newGenesisBlock(timestamp int64, nonce uint64, bits uint32) *types.Block {
	header := types.BlockHeader{
		Version:    1,
		ParentHash: hash.ZeroHash,
		Height:     0,
		TxRoot:     types.CalcTxRoot(nil),
		StateRoot:  emptyStateRoot,
		Difficulty: bits,
		Timestamp:  time.Unix(timestamp, 0),
		Nonce:      nonce,
	}
	header.SetCumulativeWork(pow.CalcWork(bits))
	return &types.Block{Header: header}
}

var (
	// genesisBlock defines the genesis block of the block chain which
	// serves as the public transaction ledger for the main network.
	genesisBlock = newGenesisBlock(1708300800, 0x1a2b3c4d, mainPowLimitBits)
	genesisHash  = genesisBlock.BlockHash()

	// testNetGenesisBlock defines the genesis block for the test
	// network.
	testNetGenesisBlock = newGenesisBlock(1708300800, 0x0badcafe, testPowLimitBits)
	testNetGenesisHash  = testNetGenesisBlock.BlockHash()

	// privNetGenesisBlock defines the genesis block for the private
	// test network.
	privNetGenesisBlock = newGenesisBlock(1708300800, 0, privPowLimitBits)
	privNetGenesisHash  = privNetGenesisBlock.BlockHash()
)
