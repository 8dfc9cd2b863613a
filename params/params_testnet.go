// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package params

import (
	"math/big"
	"time"
)

// testPowLimit is the highest proof of work value a test network block
// can have: 2^232 - 1.
var testPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 232), bigOne)

const testPowLimitBits = 0x1e00ffff

// TestNetParams defines the network parameters for the test seraph
// network.
var TestNetParams = Params{
	Name:        "testnet",
	Net:         0x73657202,
	DefaultPort: "20001",

	GenesisBlock: testNetGenesisBlock,
	GenesisHash:  &testNetGenesisHash,

	PowLimit:                 testPowLimit,
	PowLimitBits:             testPowLimitBits,
	TargetTimePerBlock:       time.Minute * 2,
	RetargetAdjustmentFactor: 4,
	WorkDiffWindowSize:       144,
	MaxTimeOffset:            time.Hour * 2,
	ReorgRetentionDepth:      288,

	BaseSubsidy:            50 * 100000000,
	SubsidyHalvingInterval: 210000,
}
