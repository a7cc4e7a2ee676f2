// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ctwire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/blind"
)

// OutputType is the on-wire tag of a transaction output.
type OutputType uint8

const (
	// OutputStandard is a plain output with a visible amount.
	OutputStandard OutputType = 1

	// OutputCT is a blinded output: a commitment and a range proof.
	OutputCT OutputType = 2

	// OutputRingCT is an anonymous output: a one-time public key, a
	// commitment and a range proof. It is spent through a ring signature.
	OutputRingCT OutputType = 3

	// OutputData carries data only and has no value.
	OutputData OutputType = 4
)

// String returns a human readable name of the output type.
func (t OutputType) String() string {
	switch t {
	case OutputStandard:
		return "standard"

	case OutputCT:
		return "blind"

	case OutputRingCT:
		return "anon"

	case OutputData:
		return "data"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Data output record tags. A data output or the data field of a blinded
// output holds a sequence of tagged records.
const (
	// DataNarrationPlain is a cleartext narration.
	DataNarrationPlain byte = 1

	// DataNarrationCrypt is an encrypted narration.
	DataNarrationCrypt byte = 2

	// DataStealth is the ephemeral public key of a stealth payment.
	DataStealth byte = 3

	// DataFee is the explicit fee of a transaction with hidden amounts.
	DataFee byte = 6
)

const (
	// MaxScriptSize bounds the script of a single output.
	MaxScriptSize = 10000

	// MaxDataSize bounds the data field of a single output.
	MaxDataSize = 1024

	// MaxProofSize bounds a range proof.
	MaxProofSize = 16 * 1024
)

var (
	// ErrUnknownOutputType is returned when decoding an unknown output
	// tag.
	ErrUnknownOutputType = errors.New("unknown output type")

	// ErrMalformedData is returned when a data record cannot be parsed.
	ErrMalformedData = errors.New("malformed data record")
)

// Output is a transaction output. It is implemented by StandardOutput,
// CTOutput, RingCTOutput and DataOutput only.
type Output interface {
	// Type returns the on-wire tag.
	Type() OutputType

	// SerializeSize returns the encoded size including the tag.
	SerializeSize() int

	encode(w io.Writer) error
}

// StandardOutput is a plain output.
type StandardOutput struct {
	Value    int64
	PkScript []byte
}

// CTOutput is a blinded output.
type CTOutput struct {
	Commitment blind.Commitment
	Data       []byte
	PkScript   []byte
	RangeProof []byte
}

// RingCTOutput is an anonymous output.
type RingCTOutput struct {
	PubKey     [blind.PointSize]byte
	Commitment blind.Commitment
	Data       []byte
	RangeProof []byte
}

// DataOutput carries tagged data records.
type DataOutput struct {
	Data []byte
}

// Compile-time checks for the Output implementations.
var (
	_ Output = (*StandardOutput)(nil)
	_ Output = (*CTOutput)(nil)
	_ Output = (*RingCTOutput)(nil)
	_ Output = (*DataOutput)(nil)
)

// Type returns OutputStandard.
func (o *StandardOutput) Type() OutputType { return OutputStandard }

// Type returns OutputCT.
func (o *CTOutput) Type() OutputType { return OutputCT }

// Type returns OutputRingCT.
func (o *RingCTOutput) Type() OutputType { return OutputRingCT }

// Type returns OutputData.
func (o *DataOutput) Type() OutputType { return OutputData }

// varBytesSize is the size of b encoded as var bytes.
func varBytesSize(b []byte) int {
	return wire.VarIntSerializeSize(uint64(len(b))) + len(b)
}

// SerializeSize returns the encoded size.
func (o *StandardOutput) SerializeSize() int {
	return 1 + 8 + varBytesSize(o.PkScript)
}

// SerializeSize returns the encoded size.
func (o *CTOutput) SerializeSize() int {
	return 1 + blind.PointSize + varBytesSize(o.Data) +
		varBytesSize(o.PkScript) + varBytesSize(o.RangeProof)
}

// SerializeSize returns the encoded size.
func (o *RingCTOutput) SerializeSize() int {
	return 1 + 2*blind.PointSize + varBytesSize(o.Data) +
		varBytesSize(o.RangeProof)
}

// SerializeSize returns the encoded size.
func (o *DataOutput) SerializeSize() int {
	return 1 + varBytesSize(o.Data)
}

func (o *StandardOutput) encode(w io.Writer) error {
	var buf [9]byte
	buf[0] = byte(OutputStandard)
	putInt64(buf[1:], o.Value)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, o.PkScript)
}

func (o *CTOutput) encode(w io.Writer) error {
	if _, err := w.Write([]byte{byte(OutputCT)}); err != nil {
		return err
	}
	if _, err := w.Write(o.Commitment[:]); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, o.Data); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, o.PkScript); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, o.RangeProof)
}

func (o *RingCTOutput) encode(w io.Writer) error {
	if _, err := w.Write([]byte{byte(OutputRingCT)}); err != nil {
		return err
	}
	if _, err := w.Write(o.PubKey[:]); err != nil {
		return err
	}
	if _, err := w.Write(o.Commitment[:]); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, o.Data); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, o.RangeProof)
}

func (o *DataOutput) encode(w io.Writer) error {
	if _, err := w.Write([]byte{byte(OutputData)}); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, o.Data)
}

// readOutput decodes one output.
func readOutput(r io.Reader) (Output, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}

	switch OutputType(tag[0]) {
	case OutputStandard:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		script, err := wire.ReadVarBytes(
			r, 0, MaxScriptSize, "pkScript",
		)
		if err != nil {
			return nil, err
		}

		return &StandardOutput{
			Value:    getInt64(buf[:]),
			PkScript: script,
		}, nil

	case OutputCT:
		o := &CTOutput{}
		if _, err := io.ReadFull(r, o.Commitment[:]); err != nil {
			return nil, err
		}

		var err error
		o.Data, err = wire.ReadVarBytes(r, 0, MaxDataSize, "data")
		if err != nil {
			return nil, err
		}
		o.PkScript, err = wire.ReadVarBytes(
			r, 0, MaxScriptSize, "pkScript",
		)
		if err != nil {
			return nil, err
		}
		o.RangeProof, err = wire.ReadVarBytes(
			r, 0, MaxProofSize, "rangeProof",
		)
		if err != nil {
			return nil, err
		}

		return o, nil

	case OutputRingCT:
		o := &RingCTOutput{}
		if _, err := io.ReadFull(r, o.PubKey[:]); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, o.Commitment[:]); err != nil {
			return nil, err
		}

		var err error
		o.Data, err = wire.ReadVarBytes(r, 0, MaxDataSize, "data")
		if err != nil {
			return nil, err
		}
		o.RangeProof, err = wire.ReadVarBytes(
			r, 0, MaxProofSize, "rangeProof",
		)
		if err != nil {
			return nil, err
		}

		return o, nil

	case OutputData:
		data, err := wire.ReadVarBytes(r, 0, MaxDataSize, "data")
		if err != nil {
			return nil, err
		}

		return &DataOutput{Data: data}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOutputType, tag[0])
	}
}

// OutputValue returns the visible value of o and whether it has one.
func OutputValue(o Output) (int64, bool) {
	if s, ok := o.(*StandardOutput); ok {
		return s.Value, true
	}

	return 0, false
}

// OutputCommitment returns the commitment of a blinded or anonymous output.
func OutputCommitment(o Output) (blind.Commitment, bool) {
	switch out := o.(type) {
	case *CTOutput:
		return out.Commitment, true

	case *RingCTOutput:
		return out.Commitment, true
	}

	return blind.Commitment{}, false
}

// OutputScript returns the script of o, nil for anonymous and data outputs.
func OutputScript(o Output) []byte {
	switch out := o.(type) {
	case *StandardOutput:
		return out.PkScript

	case *CTOutput:
		return out.PkScript
	}

	return nil
}

// DataRecord is one tagged record inside output data.
type DataRecord struct {
	Tag   byte
	Value []byte
}

// EncodeDataRecords serializes records as tag || var bytes value.
func EncodeDataRecords(records ...DataRecord) []byte {
	var buf bytes.Buffer
	for _, rec := range records {
		buf.WriteByte(rec.Tag)

		// Writing to a bytes.Buffer cannot fail.
		_ = wire.WriteVarBytes(&buf, 0, rec.Value)
	}

	return buf.Bytes()
}

// DecodeDataRecords parses tagged records.
func DecodeDataRecords(data []byte) ([]DataRecord, error) {
	var records []DataRecord

	r := bytes.NewReader(data)
	for r.Len() > 0 {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		value, err := wire.ReadVarBytes(r, 0, MaxDataSize, "record")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
		}

		records = append(records, DataRecord{Tag: tag, Value: value})
	}

	return records, nil
}

// FindDataRecord returns the first record with tag.
func FindDataRecord(data []byte, tag byte) ([]byte, bool) {
	records, err := DecodeDataRecords(data)
	if err != nil {
		return nil, false
	}

	for _, rec := range records {
		if rec.Tag == tag {
			return rec.Value, true
		}
	}

	return nil, false
}

// NewFeeOutput returns the data output that states fee explicitly.
func NewFeeOutput(fee int64) *DataOutput {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, 0, uint64(fee))

	return &DataOutput{
		Data: EncodeDataRecords(DataRecord{
			Tag: DataFee, Value: buf.Bytes(),
		}),
	}
}

// ParseFee extracts the fee record from a data output.
func ParseFee(o *DataOutput) (int64, bool) {
	v, ok := FindDataRecord(o.Data, DataFee)
	if !ok {
		return 0, false
	}

	fee, err := wire.ReadVarInt(bytes.NewReader(v), 0)
	if err != nil {
		return 0, false
	}

	return int64(fee), true
}
