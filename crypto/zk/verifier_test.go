// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zk

import (
	"errors"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seraphnet/seraph/common/hash"
)

func testClaim() *Claim {
	return &Claim{
		MutatorSetHash: hash.HashH([]byte("accumulator")),
		RemovalIDs: []hash.Hash{
			hash.HashH([]byte("removal-0")),
			hash.HashH([]byte("removal-1")),
		},
		AdditionCommitments: []hash.Hash{
			hash.HashH([]byte("addition-0")),
		},
		Fee: 1500,
	}
}

func TestClaimHashDeterministic(t *testing.T) {
	assert.Equal(t, testClaim().Hash(), testClaim().Hash())
}

func TestClaimHashBindsEveryField(t *testing.T) {
	base := testClaim().Hash()

	c := testClaim()
	c.MutatorSetHash = hash.HashH([]byte("other accumulator"))
	assert.NotEqual(t, base, c.Hash())

	c = testClaim()
	c.RemovalIDs[0], c.RemovalIDs[1] = c.RemovalIDs[1], c.RemovalIDs[0]
	assert.NotEqual(t, base, c.Hash())

	c = testClaim()
	c.AdditionCommitments = append(c.AdditionCommitments,
		hash.HashH([]byte("addition-1")))
	assert.NotEqual(t, base, c.Hash())

	c = testClaim()
	c.Fee++
	assert.NotEqual(t, base, c.Hash())
}

// Moving a digest from the removal list to the front of the addition
// list keeps the concatenated bytes identical, so the claim digest must
// bind the list boundary itself.
func TestClaimHashBindsListBoundary(t *testing.T) {
	base := testClaim().Hash()

	c := testClaim()
	moved := c.RemovalIDs[1]
	c.RemovalIDs = c.RemovalIDs[:1]
	c.AdditionCommitments = append([]hash.Hash{moved}, c.AdditionCommitments...)
	assert.NotEqual(t, base, c.Hash())
}

func TestIsInvalidProof(t *testing.T) {
	inner := errors.New("pairing check failed")
	err := &InvalidProofError{Err: inner}

	assert.True(t, IsInvalidProof(err))
	assert.ErrorIs(t, err, inner)
	assert.False(t, IsInvalidProof(inner))
	assert.False(t, IsInvalidProof(nil))
}

func TestGroth16RejectsMalformedProof(t *testing.T) {
	v := NewGroth16Verifier(groth16.NewVerifyingKey(ecc.BW6_761))

	// A proof blob that cannot even be unmarshaled is a definitive
	// rejection, not an indeterminate verifier failure.
	err := v.Verify(testClaim(), []byte{0x00, 0x01, 0x02})
	require.Error(t, err)
	assert.True(t, IsInvalidProof(err))
}
