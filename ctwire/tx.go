// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ctwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/blind"
)

const (
	// TxVersion is the version of transactions built by the wallet.
	TxVersion = 0xa0

	// AnonMarker is the previous output index of an anonymous input. The
	// previous hash of such an input is all zero.
	AnonMarker = 0xffffffa0

	// WitnessScaleFactor is the discount applied to witness data.
	WitnessScaleFactor = 4

	// flagWitness marks a serialization that carries witness data.
	flagWitness = 0x01

	// maxTxInOut bounds the number of inputs or outputs decoded.
	maxTxInOut = 1 << 16

	// maxRingSize bounds the ring dimensions decoded.
	maxRingSize = 64

	// maxWitnessItemSize bounds a single witness item or signature.
	maxWitnessItemSize = 1 << 16
)

var (
	// ErrMalformedTx is returned when a transaction cannot be decoded.
	ErrMalformedTx = errors.New("malformed transaction")
)

// AnonInput is the ring part of an anonymous input.
type AnonInput struct {
	// Ring holds anon output indices as [column][row]. Every column
	// references len(KeyImages) outputs.
	Ring [][]int64

	// KeyImages holds one image per real input of the group.
	KeyImages []blind.KeyImage

	// PseudoCommitment commits to the total value of the real inputs.
	PseudoCommitment blind.Commitment

	// Signature is the MLSAG over the transaction digest.
	Signature []byte
}

// Rows returns the number of real inputs signed by the group.
func (a *AnonInput) Rows() int {
	return len(a.KeyImages)
}

// RingSize returns the number of ring columns.
func (a *AnonInput) RingSize() int {
	return len(a.Ring)
}

// TxIn is a transaction input. A plain or blinded input spends
// PreviousOutPoint. An anonymous input sets Anon and spends through its ring.
type TxIn struct {
	PreviousOutPoint wire.OutPoint
	Sequence         uint32
	Witness          wire.TxWitness
	Anon             *AnonInput
}

// IsAnon reports whether the input is an anonymous input group.
func (in *TxIn) IsAnon() bool {
	return in.Anon != nil
}

// MsgTx is a transaction that may mix plain, blinded and anonymous parts.
type MsgTx struct {
	Version  int32
	LockTime uint32
	TxIn     []*TxIn
	TxOut    []Output
}

// NewMsgTx returns an empty transaction.
func NewMsgTx() *MsgTx {
	return &MsgTx{Version: TxVersion}
}

// AddTxIn appends an input.
func (tx *MsgTx) AddTxIn(in *TxIn) {
	tx.TxIn = append(tx.TxIn, in)
}

// AddTxOut appends an output.
func (tx *MsgTx) AddTxOut(out Output) {
	tx.TxOut = append(tx.TxOut, out)
}

// HasWitness reports whether any input carries witness data or a ring
// signature.
func (tx *MsgTx) HasWitness() bool {
	for _, in := range tx.TxIn {
		if len(in.Witness) > 0 {
			return true
		}
		if in.Anon != nil && len(in.Anon.Signature) > 0 {
			return true
		}
	}

	return false
}

// IsPlainOnly reports whether every input is plain and every output is
// standard or data. It can not tell a blinded previous output from a plain
// one, so callers that know the input kinds check those separately.
func (tx *MsgTx) IsPlainOnly() bool {
	for _, in := range tx.TxIn {
		if in.Anon != nil {
			return false
		}
	}
	for _, out := range tx.TxOut {
		switch out.Type() {
		case OutputCT, OutputRingCT:
			return false
		}
	}

	return true
}

// Copy returns a deep copy of the transaction.
func (tx *MsgTx) Copy() *MsgTx {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		panic(fmt.Sprintf("serialize tx copy: %v", err))
	}

	c := &MsgTx{}
	if err := c.Deserialize(&buf); err != nil {
		panic(fmt.Sprintf("deserialize tx copy: %v", err))
	}

	return c
}

// TxHash returns the double sha256 of the serialization without witness
// data and ring signatures.
func (tx *MsgTx) TxHash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(tx.baseSize())
	_ = tx.encode(&buf, false)

	return chainhash.DoubleHashH(buf.Bytes())
}

// WitnessHash returns the double sha256 of the full serialization.
func (tx *MsgTx) WitnessHash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	_ = tx.encode(&buf, true)

	return chainhash.DoubleHashH(buf.Bytes())
}

// Serialize writes the full transaction to w.
func (tx *MsgTx) Serialize(w io.Writer) error {
	return tx.encode(w, tx.HasWitness())
}

// SerializeNoWitness writes the transaction without witness data.
func (tx *MsgTx) SerializeNoWitness(w io.Writer) error {
	return tx.encode(w, false)
}

// Bytes returns the full serialization.
func (tx *MsgTx) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (tx *MsgTx) encode(w io.Writer, withWitness bool) error {
	var hdr [5]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(tx.Version))
	if withWitness {
		hdr[4] = flagWitness
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(tx.TxIn))); err != nil {
		return err
	}
	for _, in := range tx.TxIn {
		if err := writeTxIn(w, in); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(tx.TxOut))); err != nil {
		return err
	}
	for _, out := range tx.TxOut {
		if err := out.encode(w); err != nil {
			return err
		}
	}

	if withWitness {
		for _, in := range tx.TxIn {
			if err := writeWitness(w, in); err != nil {
				return err
			}
		}
	}

	var lt [4]byte
	binary.LittleEndian.PutUint32(lt[:], tx.LockTime)
	_, err := w.Write(lt[:])

	return err
}

func writeTxIn(w io.Writer, in *TxIn) error {
	op := in.PreviousOutPoint
	if in.Anon != nil {
		op = wire.OutPoint{Index: AnonMarker}
	}

	var buf [chainhash.HashSize + 8]byte
	copy(buf[:], op.Hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], op.Index)
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize+4:], in.Sequence)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}

	if in.Anon == nil {
		return nil
	}

	a := in.Anon
	if err := wire.WriteVarInt(w, 0, uint64(a.Rows())); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, 0, uint64(a.RingSize())); err != nil {
		return err
	}
	for _, col := range a.Ring {
		if len(col) != a.Rows() {
			return fmt.Errorf("%w: ring column has %d rows, want %d",
				ErrMalformedTx, len(col), a.Rows())
		}
		for _, idx := range col {
			err := wire.WriteVarInt(w, 0, uint64(idx))
			if err != nil {
				return err
			}
		}
	}
	for _, ki := range a.KeyImages {
		if _, err := w.Write(ki[:]); err != nil {
			return err
		}
	}
	_, err := w.Write(a.PseudoCommitment[:])

	return err
}

func writeWitness(w io.Writer, in *TxIn) error {
	err := wire.WriteVarInt(w, 0, uint64(len(in.Witness)))
	if err != nil {
		return err
	}
	for _, item := range in.Witness {
		if err := wire.WriteVarBytes(w, 0, item); err != nil {
			return err
		}
	}

	if in.Anon != nil {
		return wire.WriteVarBytes(w, 0, in.Anon.Signature)
	}

	return nil
}

// Deserialize decodes a transaction from r.
func (tx *MsgTx) Deserialize(r io.Reader) error {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	tx.Version = int32(binary.LittleEndian.Uint32(hdr[:4]))
	withWitness := hdr[4]&flagWitness != 0
	if hdr[4]&^flagWitness != 0 {
		return fmt.Errorf("%w: unknown flags %x", ErrMalformedTx,
			hdr[4])
	}

	nIn, err := readCount(r, maxTxInOut, "inputs")
	if err != nil {
		return err
	}
	tx.TxIn = make([]*TxIn, nIn)
	for i := range tx.TxIn {
		tx.TxIn[i], err = readTxIn(r)
		if err != nil {
			return err
		}
	}

	nOut, err := readCount(r, maxTxInOut, "outputs")
	if err != nil {
		return err
	}
	tx.TxOut = make([]Output, nOut)
	for i := range tx.TxOut {
		tx.TxOut[i], err = readOutput(r)
		if err != nil {
			return err
		}
	}

	if withWitness {
		for _, in := range tx.TxIn {
			if err := readWitness(r, in); err != nil {
				return err
			}
		}
	}

	var lt [4]byte
	if _, err := io.ReadFull(r, lt[:]); err != nil {
		return err
	}
	tx.LockTime = binary.LittleEndian.Uint32(lt[:])

	return nil
}

// FromBytes decodes a serialized transaction.
func FromBytes(b []byte) (*MsgTx, error) {
	tx := &MsgTx{}
	r := bytes.NewReader(b)
	if err := tx.Deserialize(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTx,
			r.Len())
	}

	return tx, nil
}

func readCount(r io.Reader, limit uint64, field string) (uint64, error) {
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, err
	}
	if n > limit {
		return 0, fmt.Errorf("%w: %d %s exceeds %d", ErrMalformedTx,
			n, field, limit)
	}

	return n, nil
}

func readTxIn(r io.Reader) (*TxIn, error) {
	var buf [chainhash.HashSize + 8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}

	in := &TxIn{}
	copy(in.PreviousOutPoint.Hash[:], buf[:chainhash.HashSize])
	in.PreviousOutPoint.Index = binary.LittleEndian.Uint32(
		buf[chainhash.HashSize:],
	)
	in.Sequence = binary.LittleEndian.Uint32(buf[chainhash.HashSize+4:])

	if in.PreviousOutPoint.Index != AnonMarker ||
		in.PreviousOutPoint.Hash != (chainhash.Hash{}) {

		return in, nil
	}

	in.PreviousOutPoint = wire.OutPoint{}

	rows, err := readCount(r, maxRingSize, "ring rows")
	if err != nil {
		return nil, err
	}
	cols, err := readCount(r, maxRingSize, "ring columns")
	if err != nil {
		return nil, err
	}

	a := &AnonInput{
		Ring:      make([][]int64, cols),
		KeyImages: make([]blind.KeyImage, rows),
	}
	for c := range a.Ring {
		a.Ring[c] = make([]int64, rows)
		for row := range a.Ring[c] {
			idx, err := wire.ReadVarInt(r, 0)
			if err != nil {
				return nil, err
			}
			if idx > math.MaxInt64 {
				return nil, fmt.Errorf("%w: ring index overflow",
					ErrMalformedTx)
			}
			a.Ring[c][row] = int64(idx)
		}
	}
	for i := range a.KeyImages {
		if _, err := io.ReadFull(r, a.KeyImages[i][:]); err != nil {
			return nil, err
		}
	}
	if _, err := io.ReadFull(r, a.PseudoCommitment[:]); err != nil {
		return nil, err
	}
	in.Anon = a

	return in, nil
}

func readWitness(r io.Reader, in *TxIn) error {
	n, err := readCount(r, maxTxInOut, "witness items")
	if err != nil {
		return err
	}
	if n > 0 {
		in.Witness = make(wire.TxWitness, n)
	}
	for i := range in.Witness {
		in.Witness[i], err = wire.ReadVarBytes(
			r, 0, maxWitnessItemSize, "witness",
		)
		if err != nil {
			return err
		}
	}

	if in.Anon != nil {
		in.Anon.Signature, err = wire.ReadVarBytes(
			r, 0, maxWitnessItemSize, "mlsag",
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// putInt64 writes v little endian.
func putInt64(b []byte, v int64) {
	binary.LittleEndian.PutUint64(b, uint64(v))
}

// getInt64 reads a little endian int64.
func getInt64(b []byte) int64 {
	return int64(binary.LittleEndian.Uint64(b))
}
