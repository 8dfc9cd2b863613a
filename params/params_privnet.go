// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package params

import (
	"math/big"
	"time"
)

// privPowLimit is the highest proof of work value a private network
// block can have: 2^255 - 1.  Effectively every header hash meets it,
// which is what tests and single-node development want.
var privPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)

const privPowLimitBits = 0x207fffff

// PrivNetParams defines the network parameters for the private test
// network.
var PrivNetParams = Params{
	Name:        "privnet",
	Net:         0x73657203,
	DefaultPort: "30001",

	GenesisBlock: privNetGenesisBlock,
	GenesisHash:  &privNetGenesisHash,

	PowLimit:                 privPowLimit,
	PowLimitBits:             privPowLimitBits,
	TargetTimePerBlock:       time.Second * 10,
	RetargetAdjustmentFactor: 4,
	WorkDiffWindowSize:       16,
	MaxTimeOffset:            time.Hour * 2,
	ReorgRetentionDepth:      64,

	BaseSubsidy:            50 * 100000000,
	SubsidyHalvingInterval: 150,
}
