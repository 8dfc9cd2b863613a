// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package params

import (
	"fmt"
	"math/big"
)

// bigOne is 1 represented as a big.Int.  It is defined here to avoid
// the overhead of creating it multiple times.
var bigOne = big.NewInt(1)

// ActiveNetParams points to the parameters of the network the node is
// currently running on.  It defaults to mainnet and is switched once
// at startup from configuration, before any consensus code runs.
var ActiveNetParams = &MainNetParams

// ParamsByName returns the parameters of the named network.
func ParamsByName(name string) (*Params, error) {
	switch name {
	case MainNetParams.Name:
		return &MainNetParams, nil
	case TestNetParams.Name:
		return &TestNetParams, nil
	case PrivNetParams.Name:
		return &PrivNetParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", name)
}
