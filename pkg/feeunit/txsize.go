// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package feeunit

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/dmuralov/particl-core/blind"
)

// WitnessScaleFactor is the discount applied to witness bytes.
const WitnessScaleFactor = 4

// baseUnit stores a transaction size in weight units.
type baseUnit struct {
	wu uint64
}

// ToWU converts the unit to a WeightUnit.
func (b baseUnit) ToWU() WeightUnit {
	return WeightUnit{b}
}

// ToVB converts the unit to a VByte.
func (b baseUnit) ToVB() VByte {
	return VByte{b}
}

// WeightUnit is a size in weight units: base size * 3 + total size.
type WeightUnit struct {
	baseUnit
}

// NewWeightUnit creates a WeightUnit.
func NewWeightUnit(val uint64) WeightUnit {
	return WeightUnit{baseUnit{wu: val}}
}

// String returns the size in wu.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", w.wu)
}

// VByte is a size in virtual bytes, a quarter of a weight unit.
type VByte struct {
	baseUnit
}

// NewVByte creates a VByte.
func NewVByte(val uint64) VByte {
	return VByte{baseUnit{wu: val * WitnessScaleFactor}}
}

// VBytes returns the size rounded up to whole virtual bytes.
func (v VByte) VBytes() uint64 {
	return (v.wu + WitnessScaleFactor - 1) / WitnessScaleFactor
}

// String returns the size in vb.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", v.VBytes())
}

// KVByte is a size in kilo virtual bytes.
type KVByte struct {
	baseUnit
}

// NewKVByte creates a KVByte.
func NewKVByte(val uint64) KVByte {
	return KVByte{baseUnit{wu: val * kilo * WitnessScaleFactor}}
}

const (
	// inputBaseSize is outpoint and sequence.
	inputBaseSize = 32 + 4 + 4

	// plainWitnessSize is the witness of a pubkey hash spend: the item
	// count, a signature and a compressed public key.
	plainWitnessSize = 1 + txsizes.RedeemP2PKHSigScriptSize

	// ringIndexSize is the average encoded size of one ring index.
	ringIndexSize = 5

	// P2PKHScriptSize is the size of a pubkey hash script.
	P2PKHScriptSize = txsizes.P2PKHPkScriptSize

	// stealthDataSize is a tagged ephemeral public key record.
	stealthDataSize = 1 + 1 + blind.PointSize
)

// weight returns the weight of base non-witness and witness bytes.
func weight(base, witness int) WeightUnit {
	return NewWeightUnit(uint64(base*WitnessScaleFactor + witness))
}

// PlainInputWeight estimates the weight of a plain or blinded pubkey hash
// input.
func PlainInputWeight() WeightUnit {
	return weight(inputBaseSize, plainWitnessSize)
}

// AnonInputWeight estimates the weight of an anonymous input group signing
// rows inputs with a ring of ringSize.
func AnonInputWeight(rows, ringSize int) WeightUnit {
	base := inputBaseSize +
		wire.VarIntSerializeSize(uint64(rows)) +
		wire.VarIntSerializeSize(uint64(ringSize)) +
		rows*ringSize*ringIndexSize +
		rows*blind.PointSize + blind.PointSize

	sig := blind.MLSAGSize(rows, ringSize)
	witness := 1 + wire.VarIntSerializeSize(uint64(sig)) + sig

	return weight(base, witness)
}

// varBytes is the size of n bytes encoded as var bytes.
func varBytes(n int) int {
	return wire.VarIntSerializeSize(uint64(n)) + n
}

// StandardOutputSize returns the size of a plain output.
func StandardOutputSize(scriptLen int) int {
	return 1 + 8 + varBytes(scriptLen)
}

// BlindOutputSize returns the size of a blinded output.
func BlindOutputSize(proofLen, dataLen, scriptLen int) int {
	return 1 + blind.PointSize + varBytes(dataLen) + varBytes(scriptLen) +
		varBytes(proofLen)
}

// AnonOutputSize returns the size of an anonymous output.
func AnonOutputSize(proofLen, dataLen int) int {
	return 1 + 2*blind.PointSize + varBytes(dataLen) + varBytes(proofLen)
}

// RangeProofSize estimates the proof size of value with automatically chosen
// parameters and a message of msgLen bytes.
func RangeProofSize(value uint64, msgLen int) int {
	_, _, nbits := blind.SelectRangeProofParameters(value)
	if nbits > blind.LegacyMaxBits {
		return blind.ProofSize(blind.ProofFormCompact, nbits, msgLen)
	}

	return blind.ProofSize(blind.ProofFormLegacy, nbits, msgLen)
}

// EstimateBlindOutputSize estimates a blinded pubkey hash output paying value.
func EstimateBlindOutputSize(value uint64) int {
	return BlindOutputSize(
		RangeProofSize(value, 0), stealthDataSize, P2PKHScriptSize,
	)
}

// EstimateAnonOutputSize estimates an anonymous output paying value.
func EstimateAnonOutputSize(value uint64) int {
	return AnonOutputSize(RangeProofSize(value, 0), stealthDataSize)
}
