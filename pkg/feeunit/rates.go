// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package feeunit provides fee rate and transaction size units for
// transactions with confidential and ring signed parts.
package feeunit

import (
	"log/slog"
	"math"
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// kilo is a generic multiplier for kilo units.
	kilo = 1000

	// floatStringPrecision is the number of decimal places used when
	// printing a fee rate.
	floatStringPrecision = 3
)

var (
	// ZeroSatPerKVByte is a fee rate of 0 sat/kvb.
	ZeroSatPerKVByte = NewSatPerKVByte(0)

	// ZeroSatPerVByte is a fee rate of 0 sat/vb.
	ZeroSatPerVByte = NewSatPerVByte(0)
)

// baseFeeRate stores a fee rate as satoshis per kilo-weight-unit. Every other
// unit is derived from it.
type baseFeeRate struct {
	satsPerKWU *big.Rat
}

// newBaseFeeRate creates a fee rate of numerator/denominator sat/kwu. A zero
// denominator yields a zero fee rate.
func newBaseFeeRate(numerator btcutil.Amount, denominator uint64) baseFeeRate {
	if denominator == 0 {
		return baseFeeRate{satsPerKWU: big.NewRat(0, 1)}
	}

	return baseFeeRate{satsPerKWU: big.NewRat(
		int64(numerator),
		safeUint64ToInt64(denominator),
	)}
}

// ToSatPerVByte converts the fee rate to sat/vb.
func (f baseFeeRate) ToSatPerVByte() SatPerVByte {
	return SatPerVByte{f}
}

// ToSatPerKVByte converts the fee rate to sat/kvb.
func (f baseFeeRate) ToSatPerKVByte() SatPerKVByte {
	return SatPerKVByte{f}
}

// feeRat returns the exact fee for weight as a rational.
func (f baseFeeRate) feeRat(w WeightUnit) *big.Rat {
	fee := big.NewRat(0, 1)

	return fee.Mul(
		f.satsPerKWU, big.NewRat(safeUint64ToInt64(w.wu), kilo),
	)
}

// FeeForWeight returns the fee for the given weight, rounded down.
func (f baseFeeRate) FeeForWeight(w WeightUnit) btcutil.Amount {
	fee := f.feeRat(w)
	q := big.NewInt(0)
	q.Div(fee.Num(), fee.Denom())

	return btcutil.Amount(q.Int64())
}

// FeeForWeightRoundUp returns the fee for the given weight, rounded up to the
// next satoshi.
func (f baseFeeRate) FeeForWeightRoundUp(w WeightUnit) btcutil.Amount {
	fee := f.feeRat(w)

	// (num + denom - 1) / denom.
	q := big.NewInt(0)
	q.Add(fee.Num(), fee.Denom())
	q.Sub(q, big.NewInt(1))
	q.Div(q, fee.Denom())

	return btcutil.Amount(q.Int64())
}

// FeeForVSize returns the fee for vsize virtual bytes, rounded up. This is
// the rule used by the fee iterator.
func (f baseFeeRate) FeeForVSize(vsize int) btcutil.Amount {
	if vsize <= 0 {
		return 0
	}

	return f.FeeForWeightRoundUp(NewVByte(uint64(vsize)).ToWU())
}

// IsZero reports whether the fee rate is zero.
func (f baseFeeRate) IsZero() bool {
	return f.satsPerKWU == nil || f.satsPerKWU.Sign() == 0
}

func (f baseFeeRate) cmp(other baseFeeRate) int {
	return f.satsPerKWU.Cmp(other.satsPerKWU)
}

// SatPerKVByte is a fee rate in satoshis per kilo virtual byte, the unit in
// which wallet fee rates are configured.
type SatPerKVByte struct {
	baseFeeRate
}

// NewSatPerKVByte creates a fee rate of rate sat/kvb.
func NewSatPerKVByte(rate btcutil.Amount) SatPerKVByte {
	return CalcSatPerKVByte(rate, NewKVByte(1))
}

// CalcSatPerKVByte returns the fee rate paid by fee over kvb.
func CalcSatPerKVByte(fee btcutil.Amount, kvb KVByte) SatPerKVByte {
	return SatPerKVByte{newBaseFeeRate(fee*kilo, kvb.wu)}
}

// String returns the fee rate in sat/kvb.
func (s SatPerKVByte) String() string {
	r := big.NewRat(0, 1)
	r.Mul(s.satsPerKWU, big.NewRat(WitnessScaleFactor, 1))

	return r.FloatString(floatStringPrecision) + " sat/kvb"
}

// Equal returns true if both fee rates are equal.
func (s SatPerKVByte) Equal(other SatPerKVByte) bool {
	return s.cmp(other.baseFeeRate) == 0
}

// GreaterThan returns true if s is above other.
func (s SatPerKVByte) GreaterThan(other SatPerKVByte) bool {
	return s.cmp(other.baseFeeRate) > 0
}

// LessThan returns true if s is below other.
func (s SatPerKVByte) LessThan(other SatPerKVByte) bool {
	return s.cmp(other.baseFeeRate) < 0
}

// SatPerVByte is a fee rate in satoshis per virtual byte.
type SatPerVByte struct {
	baseFeeRate
}

// NewSatPerVByte creates a fee rate of rate sat/vb.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return CalcSatPerVByte(rate, NewVByte(1))
}

// CalcSatPerVByte returns the fee rate paid by fee over vb.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	return SatPerVByte{newBaseFeeRate(fee*kilo, vb.wu)}
}

// String returns the fee rate in sat/vb.
func (s SatPerVByte) String() string {
	r := big.NewRat(0, 1)
	r.Mul(s.satsPerKWU, big.NewRat(WitnessScaleFactor, kilo))

	return r.FloatString(floatStringPrecision) + " sat/vb"
}

// Equal returns true if both fee rates are equal.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.cmp(other.baseFeeRate) == 0
}

// safeUint64ToInt64 converts a uint64 to an int64, capping at math.MaxInt64.
func safeUint64ToInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		slog.Warn("Capping uint64 value to math.MaxInt64",
			slog.Uint64("old", u), slog.Int64("new", math.MaxInt64))

		return math.MaxInt64
	}

	return int64(u)
}
