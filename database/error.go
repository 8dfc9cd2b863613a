// Copyright (c) 2024 The seraph developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import "fmt"

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific database Error.
const (
	// ErrDbTypeRegistered indicates two different database drivers
	// attempt to register with the name database type.
	ErrDbTypeRegistered ErrorCode = iota

	// ErrDbUnknownType indicates there is no driver registered for
	// the specified database type.
	ErrDbUnknownType

	// ErrDbDoesNotExist indicates open is called for a database that
	// does not exist.
	ErrDbDoesNotExist

	// ErrDbNotOpen indicates a database instance is accessed after
	// it has been closed.
	ErrDbNotOpen

	// ErrKeyNotFound indicates a Get was performed for a key that does
	// not exist.  Callers treat this as an ordinary miss, not a failure
	// of the store.
	ErrKeyNotFound

	// ErrIo indicates the underlying storage failed at the operating
	// system level.  On-disk state can no longer be trusted and the
	// error is fatal to the structure instance.
	ErrIo

	// ErrCorruption indicates a checksum or format mismatch was
	// detected in the underlying store.  Fatal to the structure
	// instance.
	ErrCorruption

	// ErrOutOfBounds indicates an indexed access past the end of a
	// persistent vector.
	ErrOutOfBounds

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDbTypeRegistered: "ErrDbTypeRegistered",
	ErrDbUnknownType:    "ErrDbUnknownType",
	ErrDbDoesNotExist:   "ErrDbDoesNotExist",
	ErrDbNotOpen:        "ErrDbNotOpen",
	ErrKeyNotFound:      "ErrKeyNotFound",
	ErrIo:               "ErrIo",
	ErrCorruption:       "ErrCorruption",
	ErrOutOfBounds:      "ErrOutOfBounds",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen during database
// operation.  The caller can use type assertions to access the ErrorCode
// field to react differently to misses, bounds errors, and fatal storage
// failures.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error, optional
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// makeError creates a database Error given a set of arguments.
func makeError(c ErrorCode, desc string, err error) Error {
	return Error{ErrorCode: c, Description: desc, Err: err}
}

// MakeError creates a database Error for use by drivers in other packages.
func MakeError(c ErrorCode, desc string, err error) Error {
	return makeError(c, desc, err)
}

// IsErrorCode reports whether err is a database Error with the given code.
func IsErrorCode(err error, c ErrorCode) bool {
	dbErr, ok := err.(Error)
	return ok && dbErr.ErrorCode == c
}

// IsFatal reports whether err indicates the on-disk state can no longer
// be trusted.  Fatal storage errors propagate uncaught to process
// shutdown after a clean flush attempt.
func IsFatal(err error) bool {
	return IsErrorCode(err, ErrIo) || IsErrorCode(err, ErrCorruption)
}
