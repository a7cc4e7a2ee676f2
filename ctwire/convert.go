// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ctwire

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrNotPlain is returned when converting a transaction with hidden parts to
// the plain wire format.
var ErrNotPlain = errors.New("transaction has blinded or anonymous parts")

// ToWire converts a plain-only transaction to the wire format used by the
// plain transaction store. Data outputs become zero value OP_RETURN outputs
// so output indices are kept.
func (tx *MsgTx) ToWire() (*wire.MsgTx, error) {
	if !tx.IsPlainOnly() {
		return nil, ErrNotPlain
	}

	msg := wire.NewMsgTx(tx.Version)
	msg.LockTime = tx.LockTime
	for _, in := range tx.TxIn {
		op := in.PreviousOutPoint
		txIn := wire.NewTxIn(&op, nil, in.Witness)
		txIn.Sequence = in.Sequence
		msg.AddTxIn(txIn)
	}

	for i, out := range tx.TxOut {
		switch o := out.(type) {
		case *StandardOutput:
			msg.AddTxOut(wire.NewTxOut(o.Value, o.PkScript))

		case *DataOutput:
			script, err := txscript.NullDataScript(nil)
			if err != nil {
				return nil, err
			}
			msg.AddTxOut(wire.NewTxOut(0, script))

		default:
			return nil, fmt.Errorf("%w: output %d", ErrNotPlain, i)
		}
	}

	return msg, nil
}

// FromWire converts a wire transaction to a transaction of standard outputs.
func FromWire(msg *wire.MsgTx) *MsgTx {
	tx := &MsgTx{Version: msg.Version, LockTime: msg.LockTime}
	for _, in := range msg.TxIn {
		tx.AddTxIn(&TxIn{
			PreviousOutPoint: in.PreviousOutPoint,
			Sequence:         in.Sequence,
			Witness:          in.Witness,
		})
	}
	for _, out := range msg.TxOut {
		tx.AddTxOut(&StandardOutput{
			Value:    out.Value,
			PkScript: out.PkScript,
		})
	}

	return tx
}
