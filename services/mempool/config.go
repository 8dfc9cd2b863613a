// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"time"

	"github.com/seraphnet/seraph/core/mutator"
	"github.com/seraphnet/seraph/crypto/zk"
	"github.com/seraphnet/seraph/params"
)

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// Policy defines the various mempool configuration options related
	// to policy.
	Policy Policy

	// ChainParams identifies which chain parameters the pool is
	// associated with.
	ChainParams *params.Params

	// Accumulator defines the function to use to obtain a copy of the
	// mutator set accumulator at the current chain tip.  Removal
	// records are validated against it.
	Accumulator func() (*mutator.Accumulator, error)

	// Verifier checks transaction validity proofs.
	Verifier zk.Verifier

	// TimeSource returns the pool's view of the current time, used for
	// entry age.  Defaults to time.Now.
	TimeSource func() time.Time
}
