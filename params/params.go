// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package params defines the consensus parameters for each seraph
// network.  Everything consensus critical that differs between the
// main, test, and private networks lives here.
package params

import (
	"math/big"
	"time"

	"github.com/seraphnet/seraph/common/hash"
	"github.com/seraphnet/seraph/core/types"
)

// Params defines a seraph network by its parameters.  These parameters
// may be used by seraph applications to differentiate networks as well
// as addresses and keys for one network from those intended for use on
// another network.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// Net is the network magic, used to reject cross-network messages.
	Net uint32

	// DefaultPort defines the default peer-to-peer port for the
	// network.
	DefaultPort string

	// GenesisBlock defines the first block of the chain.
	GenesisBlock *types.Block

	// GenesisHash is the starting block hash.
	GenesisHash *hash.Hash

	// PowLimit defines the highest allowed proof of work value for a
	// block as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for
	// a block in compact form.
	PowLimitBits uint32

	// TargetTimePerBlock is the desired amount of time to generate
	// each block.
	TargetTimePerBlock time.Duration

	// RetargetAdjustmentFactor is the adjustment factor used to limit
	// the minimum and maximum amount of adjustment that can occur
	// between difficulty retargets.
	RetargetAdjustmentFactor int64

	// WorkDiffWindowSize is the number of recent headers the per-block
	// retarget averages over.
	WorkDiffWindowSize uint64

	// MaxTimeOffset is the maximum allowed offset of a block timestamp
	// into the future relative to the validating node's clock.
	MaxTimeOffset time.Duration

	// ReorgRetentionDepth is the maximum depth of a chain
	// reorganization the node will apply.  A competing chain that
	// forks deeper than this below the current tip is rejected.
	ReorgRetentionDepth uint64

	// BaseSubsidy is the starting coinbase subsidy in atomic units.
	BaseSubsidy uint64

	// SubsidyHalvingInterval is the number of blocks between subsidy
	// halvings.
	SubsidyHalvingInterval uint64
}

// BlockSubsidy returns the coinbase subsidy for a block at the given
// height: the base subsidy halved once per halving interval.
func (p *Params) BlockSubsidy(height uint64) uint64 {
	halvings := height / p.SubsidyHalvingInterval
	if halvings >= 64 {
		return 0
	}
	return p.BaseSubsidy >> halvings
}
