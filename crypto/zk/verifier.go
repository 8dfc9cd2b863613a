// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zk defines the node-side boundary to the zero-knowledge
// validity proof system.  The node never generates proofs and never
// inspects circuits; it binds a transaction's consensus-visible effect
// into a claim and asks a verifier whether the attached proof attests
// to it.
package zk

import (
	"bytes"
	"fmt"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"github.com/seraphnet/seraph/common/hash"
)

// Claim is the public statement a transaction's validity proof attests
// to: these removals and additions, at this fee, are the effect of
// well-formed transactions whose spent commitments are present in the
// stated mutator set.
type Claim struct {
	// MutatorSetHash is the accumulator digest the removal records are
	// proven against.
	MutatorSetHash hash.Hash

	// RemovalIDs are the identifiers of the removal records, in
	// transaction order.
	RemovalIDs []hash.Hash

	// AdditionCommitments are the new output commitments, in
	// transaction order.
	AdditionCommitments []hash.Hash

	// Fee is the declared transaction fee.
	Fee uint64
}

// Hash returns the canonical digest of the claim, the single public
// input bound into the proof.
func (c *Claim) Hash() hash.Hash {
	buf := make([]byte, 0,
		hash.HashSize*(1+len(c.RemovalIDs)+len(c.AdditionCommitments))+8)
	buf = append(buf, c.MutatorSetHash[:]...)
	for _, id := range c.RemovalIDs {
		buf = append(buf, id[:]...)
	}
	for _, cm := range c.AdditionCommitments {
		buf = append(buf, cm[:]...)
	}
	var fee [8]byte
	for i := 0; i < 8; i++ {
		fee[i] = byte(c.Fee >> (8 * i))
	}
	buf = append(buf, fee[:]...)
	return hash.HashWithIndex(uint64(len(c.RemovalIDs)), buf)
}

// Verifier checks validity proofs against claims.  Implementations
// must be pure and deterministic: the same claim and proof always
// produce the same outcome with no side effects visible to the caller.
type Verifier interface {
	// Verify returns nil when proof attests to claim.  A proof that is
	// well-formed but does not attest returns an error satisfying
	// IsInvalidProof; any other error is indeterminate and the caller
	// must treat verification as unavailable, never as passed.
	Verify(claim *Claim, proof []byte) error
}

// InvalidProofError marks a definitive rejection: the proof does not
// attest to the claim.
type InvalidProofError struct {
	Err error
}

func (e *InvalidProofError) Error() string {
	return fmt.Sprintf("invalid proof: %v", e.Err)
}

func (e *InvalidProofError) Unwrap() error { return e.Err }

// IsInvalidProof reports whether the error marks a definitive proof
// rejection rather than an indeterminate verifier failure.
func IsInvalidProof(err error) bool {
	_, ok := err.(*InvalidProofError)
	return ok
}

// ClaimWitness is the public-input layout shared with the proving
// system: the claim digest as a single field element.
type ClaimWitness struct {
	ClaimDigest frontend.Variable `gnark:",public"`
}

// Define satisfies frontend.Circuit so the witness layout can be
// passed to frontend.NewWitness; the node never compiles the circuit,
// so no constraints are declared here.
func (w *ClaimWitness) Define(frontend.API) error { return nil }

// Groth16Verifier verifies transaction validity proofs with the Groth16
// backend over BW6-761, matching the curve the proving side targets.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

// NewGroth16Verifier returns a verifier bound to the given verifying
// key.
func NewGroth16Verifier(vk groth16.VerifyingKey) *Groth16Verifier {
	return &Groth16Verifier{vk: vk}
}

// LoadVerifyingKey reads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (groth16.VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vk := groth16.NewVerifyingKey(ecc.BW6_761)
	if _, err := vk.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("verifying key read failed: %w", err)
	}
	return vk, nil
}

// Verify checks that proof attests to claim under the verifier's key.
func (v *Groth16Verifier) Verify(claim *Claim, proofBytes []byte) error {
	digest := claim.Hash()
	assignment := &ClaimWitness{
		ClaimDigest: new(big.Int).SetBytes(digest[:]),
	}
	witness, err := frontend.NewWitness(assignment, ecc.BW6_761.ScalarField(),
		frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness creation failed: %w", err)
	}

	proof := groth16.NewProof(ecc.BW6_761)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return &InvalidProofError{Err: fmt.Errorf("proof unmarshaling "+
			"failed: %w", err)}
	}

	if err := groth16.Verify(proof, v.vk, witness); err != nil {
		return &InvalidProofError{Err: err}
	}
	return nil
}
