// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ctwire

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/blind"
)

// txInSize returns the non-witness size of an input.
func txInSize(in *TxIn) int {
	size := chainhash.HashSize + 4 + 4
	if in.Anon == nil {
		return size
	}

	a := in.Anon
	size += wire.VarIntSerializeSize(uint64(a.Rows()))
	size += wire.VarIntSerializeSize(uint64(a.RingSize()))
	for _, col := range a.Ring {
		for _, idx := range col {
			size += wire.VarIntSerializeSize(uint64(idx))
		}
	}

	return size + len(a.KeyImages)*blind.PointSize + blind.PointSize
}

// witnessSize returns the witness size of an input.
func witnessSize(in *TxIn) int {
	size := wire.VarIntSerializeSize(uint64(len(in.Witness)))
	for _, item := range in.Witness {
		size += varBytesSize(item)
	}
	if in.Anon != nil {
		size += varBytesSize(in.Anon.Signature)
	}

	return size
}

// baseSize returns the serialized size without witness data.
func (tx *MsgTx) baseSize() int {
	// Version, flags and lock time.
	size := 4 + 1 + 4

	size += wire.VarIntSerializeSize(uint64(len(tx.TxIn)))
	for _, in := range tx.TxIn {
		size += txInSize(in)
	}

	size += wire.VarIntSerializeSize(uint64(len(tx.TxOut)))
	for _, out := range tx.TxOut {
		size += out.SerializeSize()
	}

	return size
}

// SerializeSize returns the size of the full serialization.
func (tx *MsgTx) SerializeSize() int {
	size := tx.baseSize()
	if !tx.HasWitness() {
		return size
	}

	for _, in := range tx.TxIn {
		size += witnessSize(in)
	}

	return size
}

// SerializeSizeStripped returns the size without witness data.
func (tx *MsgTx) SerializeSizeStripped() int {
	return tx.baseSize()
}

// Weight returns base*3 + total, the witness discounted weight.
func (tx *MsgTx) Weight() int {
	base := tx.baseSize()

	return base*(WitnessScaleFactor-1) + tx.SerializeSize()
}

// VSize returns the virtual size, the weight divided by the scale factor
// rounded up.
func (tx *MsgTx) VSize() int {
	return (tx.Weight() + WitnessScaleFactor - 1) / WitnessScaleFactor
}

// SigHash returns the digest signed by the ECDSA witness of input idx.
// prevValue is the previous output's amount encoding: 8 bytes for a plain
// amount or the 33 byte commitment of a blinded output.
func (tx *MsgTx) SigHash(idx int, prevScript, prevValue []byte) chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(tx.baseSize() + len(prevScript) + len(prevValue) + 16)
	_ = tx.encode(&buf, false)

	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(idx))
	buf.Write(n[:])

	// Writing to a bytes.Buffer cannot fail.
	_ = wire.WriteVarBytes(&buf, 0, prevScript)
	_ = wire.WriteVarBytes(&buf, 0, prevValue)

	return chainhash.DoubleHashH(buf.Bytes())
}

// RingSigHash returns the digest signed by every MLSAG of the transaction.
// It commits to all inputs and outputs including key images and pseudo
// commitments but not to any signature.
func (tx *MsgTx) RingSigHash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(tx.baseSize() + 8)
	_ = tx.encode(&buf, false)
	buf.WriteString("mlsag")

	return chainhash.DoubleHashH(buf.Bytes())
}

// PlainValueBytes encodes an amount for SigHash.
func PlainValueBytes(v int64) []byte {
	var b [8]byte
	putInt64(b[:], v)

	return b[:]
}
