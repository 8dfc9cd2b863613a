// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"math/big"

	"github.com/seraphnet/seraph/core/types/pow"
)

// calcNextRequiredDifficulty calculates the required difficulty for the
// block after the passed parent node based on the retarget rule.
//
// The rule is a per-block retarget: the target scales by the ratio of
// the actual time the last WorkDiffWindowSize blocks took to the time
// they should have taken, with the ratio clamped by the retarget
// adjustment factor so a single window can move the target at most
// that factor in either direction.  Every node computes the same value
// from the same headers, and a block declaring anything else is
// rejected.
func (b *BlockChain) calcNextRequiredDifficulty(parent *blockNode) uint32 {
	// Genesis block.
	if parent == nil {
		return b.params.PowLimitBits
	}

	windowSize := b.params.WorkDiffWindowSize
	if windowSize > parent.height {
		windowSize = parent.height
	}
	if windowSize == 0 {
		return parent.bits
	}

	first := parent.Ancestor(parent.height - windowSize)
	if first == nil {
		return parent.bits
	}

	actualTimespan := parent.timestamp - first.timestamp
	targetTimespan := int64(windowSize) *
		int64(b.params.TargetTimePerBlock.Seconds())

	// Clamp the measured timespan so the target moves at most by the
	// adjustment factor per retarget.
	adjustment := b.params.RetargetAdjustmentFactor
	minTimespan := targetTimespan / adjustment
	maxTimespan := targetTimespan * adjustment
	if actualTimespan < minTimespan {
		actualTimespan = minTimespan
	} else if actualTimespan > maxTimespan {
		actualTimespan = maxTimespan
	}

	// newTarget = oldTarget * actualTimespan / targetTimespan
	newTarget := pow.CompactToBig(parent.bits)
	newTarget.Mul(newTarget, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(targetTimespan))

	// Limit new value to the proof of work limit.
	if newTarget.Cmp(b.params.PowLimit) > 0 {
		newTarget.Set(b.params.PowLimit)
	}

	return pow.BigToCompact(newTarget)
}

// CalcNextRequiredDifficulty calculates the required difficulty for the
// block after the current best chain tip.
//
// This function is safe for concurrent access.
func (b *BlockChain) CalcNextRequiredDifficulty() uint32 {
	b.chainLock.RLock()
	bits := b.calcNextRequiredDifficulty(b.bestNode)
	b.chainLock.RUnlock()
	return bits
}
