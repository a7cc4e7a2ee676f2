// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txrecord

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the underlying database.
	ErrDatabase ErrorCode = iota

	// ErrData describes an error where data stored in the ledger is
	// incorrect or cannot be decoded.
	ErrData

	// ErrRecordNotFound is returned when no record exists for a
	// transaction hash.
	ErrRecordNotFound

	// ErrOutputLeased is returned when an output is already leased under
	// another id.
	ErrOutputLeased

	// ErrLeaseNotFound is returned when releasing an output that is not
	// leased, or leased under another id.
	ErrLeaseNotFound
)

// errorCodeStrings maps codes to names for printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:       "ErrDatabase",
	ErrData:           "ErrData",
	ErrRecordNotFound: "ErrRecordNotFound",
	ErrOutputLeased:   "ErrOutputLeased",
	ErrLeaseNotFound:  "ErrLeaseNotFound",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}

	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error provides a single type for errors that can happen during ledger
// operation.
type Error struct {
	Code ErrorCode
	Desc string
	Err  error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Desc + ": " + e.Err.Error()
	}

	return e.Desc
}

// Unwrap returns the underlying error, if any.
func (e Error) Unwrap() error {
	return e.Err
}

// storeError creates an Error given a set of arguments.
func storeError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsError returns whether err is an Error with a matching error code.
func IsError(err error, code ErrorCode) bool {
	var e Error

	return errors.As(err, &e) && e.Code == code
}
