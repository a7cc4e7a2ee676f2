// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"

	"github.com/dmuralov/particl-core/blind"
)

var (
	// ErrInsufficientFunds is returned when the spendable value of the
	// requested kind does not cover the target. Funds of one kind never
	// count towards another.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientMixins is returned when the anonymous output set has
	// too few eligible decoys for the requested ring size.
	ErrInsufficientMixins = errors.New("insufficient mixins")

	// ErrInvalidMixin is returned when an explicitly requested decoy
	// cannot be used.
	ErrInvalidMixin = errors.New("invalid mixin")

	// ErrFeeDidNotConverge is returned when the fee iterator hits its
	// iteration bound.
	ErrFeeDidNotConverge = errors.New("fee did not converge")

	// ErrInvalidDestination is returned for a destination that cannot be
	// paid with the requested output kind, including stake-only
	// addresses used as payment targets.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrDuplicateKeyImage is returned when an anonymous input's key
	// image was already spent.
	ErrDuplicateKeyImage = errors.New("duplicate key image")

	// ErrLockedOutputConflict is returned when coin control pins an output
	// leased elsewhere.
	ErrLockedOutputConflict = errors.New("locked output conflict")

	// ErrMissingBlindingFactor is returned when the blind of a hidden
	// output is not known to the wallet.
	ErrMissingBlindingFactor = errors.New("missing blinding factor")

	// ErrRangeProofFailed is returned when a range proof cannot be
	// created or verified.
	ErrRangeProofFailed = blind.ErrRangeProofFailed

	// ErrCommitmentMismatch is returned when a commitment does not open
	// to the claimed value and blind.
	ErrCommitmentMismatch = blind.ErrCommitmentMismatch

	// ErrMempoolRejected wraps the verbatim rejection of the mempool or
	// relay layer.
	ErrMempoolRejected = errors.New("transaction rejected")

	// ErrNoRecipients is returned when a build has no recipients.
	ErrNoRecipients = errors.New("no recipients")

	// ErrInvalidAmount is returned for a non-positive or dust recipient
	// amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAmountTooSmallForFee is returned when subtracting the fee from
	// recipients leaves an unpayable amount.
	ErrAmountTooSmallForFee = errors.New("amount too small to pay the fee")

	// ErrNarrationTooLong is returned for a narration above
	// txrecord.MaxNarrationSize bytes.
	ErrNarrationTooLong = errors.New("narration too long")

	// ErrUtxoNotEligible is returned when a pinned input is not a
	// spendable wallet output of the requested kind.
	ErrUtxoNotEligible = errors.New("utxo not eligible to spend")

	// ErrFeeProbe is returned when committing a transaction built with
	// FeeProbe set.
	ErrFeeProbe = errors.New("fee probe transactions cannot be committed")

	// ErrUnsigned is returned when publishing an unsigned transaction.
	ErrUnsigned = errors.New("transaction is not signed")

	// ErrTxNotFound is returned when a transaction is unknown to the
	// wallet.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrAnonOutputNotFound is returned by an AnonIndex for an unknown
	// index or key.
	ErrAnonOutputNotFound = errors.New("anon output not found")

	// ErrWalletStopped is returned by operations that need a running
	// wallet.
	ErrWalletStopped = errors.New("wallet not running")
)

var (
	// ErrDuplicatedUtxo is returned when coin control pins an outpoint
	// twice.
	ErrDuplicatedUtxo = errors.New("duplicated utxo")

	// errInvalidControl is returned for a coin control outside the
	// wallet policy.
	errInvalidControl = errors.New("invalid coin control")
)
