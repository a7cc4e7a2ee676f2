// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blind

import "errors"

var (
	// ErrRangeProofFailed is returned when a range proof cannot be
	// created, does not verify, or cannot be rewound with the given nonce.
	ErrRangeProofFailed = errors.New("range proof failed")

	// ErrCommitmentMismatch is returned when a commitment does not open to
	// the claimed value and blinding factor.
	ErrCommitmentMismatch = errors.New("commitment mismatch")

	// ErrInvalidBlind is returned when a blinding factor is not a valid
	// scalar, i.e. it is zero where a non-zero value is required or it is
	// not below the group order.
	ErrInvalidBlind = errors.New("invalid blinding factor")

	// ErrInvalidPoint is returned when a serialized point does not decode
	// to a point on the curve.
	ErrInvalidPoint = errors.New("invalid curve point")

	// ErrRingSignature is returned when a ring signature cannot be
	// generated or fails verification.
	ErrRingSignature = errors.New("ring signature invalid")

	// ErrUnbalanced is returned when input and output commitments do not
	// sum to the committed fee.
	ErrUnbalanced = errors.New("commitments do not balance")

	// ErrKeyMismatch is returned when a private key does not belong to the
	// public key it is used with.
	ErrKeyMismatch = errors.New("private key does not match public key")
)
