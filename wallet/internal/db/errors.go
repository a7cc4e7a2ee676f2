// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package db

import (
	"errors"
	"fmt"
)

// ErrNilDB is returned when a constructor is handed a nil database.
var ErrNilDB = errors.New("nil database")

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates a database error.
	ErrDatabase ErrorCode = iota

	// ErrAnonOutputNotFound is returned when no output has the requested
	// index or key.
	ErrAnonOutputNotFound

	// ErrDuplicateAnonOutput is returned when an output key is inserted
	// twice.
	ErrDuplicateAnonOutput
)

// errorCodeStrings maps error codes to their names.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:            "ErrDatabase",
	ErrAnonOutputNotFound:  "ErrAnonOutputNotFound",
	ErrDuplicateAnonOutput: "ErrDuplicateAnonOutput",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}

	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error identifies an anon index error. It has an error code and a
// descriptive message.
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

// newError creates an Error given a set of arguments.
func newError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Desc: desc, Err: err}
}

// IsError reports whether err is an Error with code c.
func IsError(err error, c ErrorCode) bool {
	var e Error

	return errors.As(err, &e) && e.Code == c
}
