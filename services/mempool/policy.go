// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import "time"

const (
	// DefaultMaxPoolSize is the default hard cap on pool entries.
	DefaultMaxPoolSize = 50000

	// DefaultMaxTxSize is the default maximum serialized transaction
	// size the pool accepts, in bytes.
	DefaultMaxTxSize = 1 << 20

	// DefaultMinFeeRate is the default minimum fee per serialized byte
	// for admission, in atomic units.
	DefaultMinFeeRate = 1

	// DefaultTxExpiry is the default duration an entry may sit unmined
	// before it is pruned.
	DefaultTxExpiry = 24 * time.Hour
)

// Policy houses the policy (configuration parameters) which is used to
// control the mempool.
type Policy struct {
	// MaxPoolSize is the maximum number of transactions held in the
	// pool.  When full, lower-priority entries are evicted to admit
	// higher-priority ones.
	MaxPoolSize int

	// MaxTxSize is the maximum serialized size of a transaction the
	// pool will admit.
	MaxTxSize int

	// MinFeeRate is the minimum fee per serialized byte for admission.
	MinFeeRate uint64

	// TxExpiry is how long an entry may stay in the pool before it is
	// pruned as stale.  Zero disables expiry.
	TxExpiry time.Duration
}

// DefaultPolicy returns the policy with default limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxPoolSize: DefaultMaxPoolSize,
		MaxTxSize:   DefaultMaxTxSize,
		MinFeeRate:  DefaultMinFeeRate,
		TxExpiry:    DefaultTxExpiry,
	}
}
