// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package params

import (
	"math/big"
	"time"
)

// mainPowLimit is the highest proof of work value a main network block
// can have: 2^224 - 1.
var mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

const mainPowLimitBits = 0x1d00ffff

// MainNetParams defines the network parameters for the main seraph
// network.
var MainNetParams = Params{
	Name:        "mainnet",
	Net:         0x73657201,
	DefaultPort: "10001",

	GenesisBlock: genesisBlock,
	GenesisHash:  &genesisHash,

	PowLimit:                 mainPowLimit,
	PowLimitBits:             mainPowLimitBits,
	TargetTimePerBlock:       time.Minute * 10,
	RetargetAdjustmentFactor: 4,
	WorkDiffWindowSize:       144,
	MaxTimeOffset:            time.Hour * 2,
	ReorgRetentionDepth:      288,

	BaseSubsidy:            50 * 100000000,
	SubsidyHalvingInterval: 210000,
}
