// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"fmt"
)

// AssertError identifies an error that indicates an internal code
// consistency issue and should be treated as a critical and
// unrecoverable error.
type AssertError string

// Error returns the assertion error as a human-readable string and
// satisfies the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific RuleError.
const (
	// ErrDuplicateBlock indicates a block with the same hash already
	// exists.
	ErrDuplicateBlock ErrorCode = iota

	// ErrBlockTooBig indicates the serialized block size exceeds the
	// maximum allowed size.
	ErrBlockTooBig

	// ErrUnknownParent indicates the block's declared parent is not
	// known to the node.
	ErrUnknownParent

	// ErrBadBlockHeight indicates the block header's height is not one
	// greater than its parent's.
	ErrBadBlockHeight

	// ErrTimestampOutOfRange indicates the block timestamp is either
	// too far in the future relative to the node's clock or not after
	// the median time of the recent ancestor blocks.
	ErrTimestampOutOfRange

	// ErrBadDifficultyRetarget indicates the block's declared target
	// does not match the value required by the retarget rule at its
	// position in the chain.
	ErrBadDifficultyRetarget

	// ErrBadProofOfWork indicates the block's header hash does not meet
	// its declared target.
	ErrBadProofOfWork

	// ErrBadCumulativeWork indicates the header's declared cumulative
	// work does not equal the parent's total plus this block's work.
	ErrBadCumulativeWork

	// ErrBadTxRoot indicates the calculated transaction commitment does
	// not match the value in the header.
	ErrBadTxRoot

	// ErrNoTransactions indicates the block does not have at least one
	// transaction.  A valid block must carry at least the coinbase.
	ErrNoTransactions

	// ErrFirstTxNotCoinbase indicates the first transaction in a block
	// is not a coinbase transaction.
	ErrFirstTxNotCoinbase

	// ErrMultipleCoinbases indicates a block contains more than one
	// coinbase transaction.
	ErrMultipleCoinbases

	// ErrBadCoinbaseValue indicates the coinbase's declared fee does
	// not match the block subsidy plus the sum of transaction fees.
	ErrBadCoinbaseValue

	// ErrInvalidRemovalRecord indicates a transaction's removal record
	// does not verify against the parent block's mutator set, or its
	// commitment has already been removed.
	ErrInvalidRemovalRecord

	// ErrDoubleSpendInBlock indicates two transactions in the same
	// block carry removal records spending the same commitment.
	ErrDoubleSpendInBlock

	// ErrProofVerificationFailed indicates the transaction validity
	// proof does not attest to the block's claim.
	ErrProofVerificationFailed

	// ErrMutatorSetCommitmentMismatch indicates the mutator set digest
	// after applying the block does not equal the header's declared
	// state root.  The block body is corrupted or malicious even if
	// every proof verified, because proofs attest to transaction
	// semantics, not to the declared post-state.
	ErrMutatorSetCommitmentMismatch

	// ErrInvalidAncestorBlock indicates that an ancestor of this block
	// has failed validation.
	ErrInvalidAncestorBlock

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty
// printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicateBlock:               "ErrDuplicateBlock",
	ErrBlockTooBig:                  "ErrBlockTooBig",
	ErrUnknownParent:                "ErrUnknownParent",
	ErrBadBlockHeight:               "ErrBadBlockHeight",
	ErrTimestampOutOfRange:          "ErrTimestampOutOfRange",
	ErrBadDifficultyRetarget:        "ErrBadDifficultyRetarget",
	ErrBadProofOfWork:               "ErrBadProofOfWork",
	ErrBadCumulativeWork:            "ErrBadCumulativeWork",
	ErrBadTxRoot:                    "ErrBadTxRoot",
	ErrNoTransactions:               "ErrNoTransactions",
	ErrFirstTxNotCoinbase:           "ErrFirstTxNotCoinbase",
	ErrMultipleCoinbases:            "ErrMultipleCoinbases",
	ErrBadCoinbaseValue:             "ErrBadCoinbaseValue",
	ErrInvalidRemovalRecord:         "ErrInvalidRemovalRecord",
	ErrDoubleSpendInBlock:           "ErrDoubleSpendInBlock",
	ErrProofVerificationFailed:      "ErrProofVerificationFailed",
	ErrMutatorSetCommitmentMismatch: "ErrMutatorSetCommitmentMismatch",
	ErrInvalidAncestorBlock:         "ErrInvalidAncestorBlock",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules.  The caller can use type assertions to determine
// if a failure was specifically due to a rule violation and access the
// ErrorCode field to ascertain the specific reason for the rule
// violation.
type RuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates an RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// IsRuleError reports whether err is a RuleError.
func IsRuleError(err error) bool {
	_, ok := err.(RuleError)
	return ok
}

// ErrorCodeOf returns the rule error code of err and whether err is a
// rule error at all.
func ErrorCodeOf(err error) (ErrorCode, bool) {
	re, ok := err.(RuleError)
	if !ok {
		return 0, false
	}
	return re.ErrorCode, true
}

// ReorgDepthError indicates a competing chain forks below the node's
// reorg retention depth.  The chain is refused and the current tip is
// kept; the node itself is healthy.
type ReorgDepthError struct {
	ForkDepth uint64
	Retention uint64
}

func (e ReorgDepthError) Error() string {
	return fmt.Sprintf("reorganization depth %d exceeds retention limit %d",
		e.ForkDepth, e.Retention)
}

// VerifierUnavailableError indicates the external proof verifier failed
// in a way that is not a definitive rejection.  Validation of the block
// is indeterminate: it must be retried and never treated as passed or
// as a terminal rejection.
type VerifierUnavailableError struct {
	Err error
}

func (e VerifierUnavailableError) Error() string {
	return fmt.Sprintf("proof verifier unavailable: %v", e.Err)
}

func (e VerifierUnavailableError) Unwrap() error { return e.Err }
