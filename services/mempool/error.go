// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/seraphnet/seraph/core/blockchain"
)

// ErrorCode identifies the kind of transaction rule violation.
type ErrorCode int

const (
	// ErrDuplicate indicates the transaction is already in the pool.
	ErrDuplicate ErrorCode = iota

	// ErrCoinbase indicates a standalone coinbase transaction was
	// submitted.  Coinbases only exist inside blocks.
	ErrCoinbase

	// ErrConflict indicates the transaction removes a commitment an
	// existing pool entry already removes.
	ErrConflict

	// ErrInvalidRemoval indicates a removal record does not verify
	// against the current mutator set, or its filter positions are
	// already fully set so the spend can never apply.
	ErrInvalidRemoval

	// ErrInvalidProof indicates the transaction's validity proof does
	// not attest to its claim.
	ErrInvalidProof

	// ErrTooLarge indicates the serialized transaction exceeds the
	// policy size limit.
	ErrTooLarge

	// ErrInsufficientFee indicates the fee is below the policy minimum
	// fee rate.
	ErrInsufficientFee

	// ErrBelowMinPriority indicates the pool is full and the
	// transaction's priority does not beat the current minimum.
	ErrBelowMinPriority
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDuplicate:        "ErrDuplicate",
	ErrCoinbase:         "ErrCoinbase",
	ErrConflict:         "ErrConflict",
	ErrInvalidRemoval:   "ErrInvalidRemoval",
	ErrInvalidProof:     "ErrInvalidProof",
	ErrTooLarge:         "ErrTooLarge",
	ErrInsufficientFee:  "ErrInsufficientFee",
	ErrBelowMinPriority: "ErrBelowMinPriority",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return "Unknown ErrorCode"
}

// RuleError identifies a transaction rule violation.  The Err field is
// either a TxRuleError or a blockchain.RuleError, so the networking
// collaborator can map the rejection onto its peer policy.
type RuleError struct {
	Err error
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	if e.Err == nil {
		return "<nil>"
	}
	return e.Err.Error()
}

// Unwrap returns the wrapped rule violation.
func (e RuleError) Unwrap() error { return e.Err }

// TxRuleError identifies a mempool-specific rule violation.
type TxRuleError struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
}

// Error satisfies the error interface and prints human-readable errors.
func (e TxRuleError) Error() string {
	return e.Description
}

// txRuleError creates an underlying TxRuleError with the given set of
// arguments and returns a RuleError that encapsulates it.
func txRuleError(c ErrorCode, desc string) RuleError {
	return RuleError{
		Err: TxRuleError{ErrorCode: c, Description: desc},
	}
}

// chainRuleError returns a RuleError that encapsulates the given
// blockchain.RuleError.
func chainRuleError(chainErr blockchain.RuleError) RuleError {
	return RuleError{Err: chainErr}
}

// IsErrorCode reports whether err is a mempool rule error with the
// given code.
func IsErrorCode(err error, c ErrorCode) bool {
	ruleErr, ok := err.(RuleError)
	if !ok {
		return false
	}
	txErr, ok := ruleErr.Err.(TxRuleError)
	return ok && txErr.ErrorCode == c
}
