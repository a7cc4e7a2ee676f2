// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txrecord

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/lightningnetwork/lnd/tlv"
)

// TLV types of an encoded OutputRecord.
const (
	typeOutIndex       tlv.Type = 1
	typeOutFlags       tlv.Type = 3
	typeOutKind        tlv.Type = 5
	typeOutAddrType    tlv.Type = 7
	typeOutValue       tlv.Type = 9
	typeOutScript      tlv.Type = 11
	typeOutNarration   tlv.Type = 13
	typeOutKeyPath     tlv.Type = 15
	typeOutSpentBy     tlv.Type = 17
	typeOutSpentHeight tlv.Type = 19
)

// TLV types of an encoded TransactionRecord.
const (
	typeRecBlockHash   tlv.Type = 1
	typeRecBlockHeight tlv.Type = 3
	typeRecBlockTime   tlv.Type = 5
	typeRecIndex       tlv.Type = 7
	typeRecReceived    tlv.Type = 9
	typeRecFlags       tlv.Type = 11
	typeRecFee         tlv.Type = 13
	typeRecInputs      tlv.Type = 15
	typeRecKeyImages   tlv.Type = 17
	typeRecOutputs     tlv.Type = 19
	typeRecValues      tlv.Type = 21
)

// TLV types of an encoded StoredTransaction.
const (
	typeStoredTx     tlv.Type = 1
	typeStoredBlinds tlv.Type = 3
)

// maxListItemSize bounds one element of an encoded list.
const maxListItemSize = 1 << 20

// encodeTime encodes t as unix seconds, zero for the zero time.
func encodeTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}

	return uint64(t.Unix())
}

// decodeTime reverses encodeTime.
func decodeTime(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}

	return time.Unix(int64(v), 0)
}

// encodeOutputRecord serializes o as a TLV stream.
func encodeOutputRecord(w io.Writer, o *OutputRecord) error {
	var (
		index       = o.Index
		flags       = uint32(o.Flags)
		kind        = uint8(o.Kind)
		addrType    = uint8(o.AddrType)
		value       = uint64(o.Value)
		script      = o.Script
		narration   = []byte(o.Narration)
		keyPath     = o.KeyPath
		spentBy     = [32]byte(o.SpentBy)
		spentHeight = uint32(o.SpentHeight)
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeOutIndex, &index),
		tlv.MakePrimitiveRecord(typeOutFlags, &flags),
		tlv.MakePrimitiveRecord(typeOutKind, &kind),
		tlv.MakePrimitiveRecord(typeOutAddrType, &addrType),
		tlv.MakePrimitiveRecord(typeOutValue, &value),
		tlv.MakePrimitiveRecord(typeOutScript, &script),
		tlv.MakePrimitiveRecord(typeOutNarration, &narration),
		tlv.MakePrimitiveRecord(typeOutKeyPath, &keyPath),
		tlv.MakePrimitiveRecord(typeOutSpentBy, &spentBy),
		tlv.MakePrimitiveRecord(typeOutSpentHeight, &spentHeight),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// decodeOutputRecord reverses encodeOutputRecord.
func decodeOutputRecord(r io.Reader) (OutputRecord, error) {
	var (
		index, flags, spentHeight uint32
		kind, addrType            uint8
		value                     uint64
		script, narration, path   []byte
		spentBy                   [32]byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeOutIndex, &index),
		tlv.MakePrimitiveRecord(typeOutFlags, &flags),
		tlv.MakePrimitiveRecord(typeOutKind, &kind),
		tlv.MakePrimitiveRecord(typeOutAddrType, &addrType),
		tlv.MakePrimitiveRecord(typeOutValue, &value),
		tlv.MakePrimitiveRecord(typeOutScript, &script),
		tlv.MakePrimitiveRecord(typeOutNarration, &narration),
		tlv.MakePrimitiveRecord(typeOutKeyPath, &path),
		tlv.MakePrimitiveRecord(typeOutSpentBy, &spentBy),
		tlv.MakePrimitiveRecord(typeOutSpentHeight, &spentHeight),
	)
	if err != nil {
		return OutputRecord{}, err
	}
	if err := stream.Decode(r); err != nil {
		return OutputRecord{}, err
	}

	return OutputRecord{
		Index:       index,
		Flags:       OutputFlags(flags),
		Kind:        OutputKind(kind),
		AddrType:    AddressType(addrType),
		Value:       btcutil.Amount(value),
		Script:      nilIfEmpty(script),
		Narration:   string(narration),
		KeyPath:     nilIfEmpty(path),
		SpentBy:     chainhash.Hash(spentBy),
		SpentHeight: int32(spentHeight),
	}, nil
}

// nilIfEmpty normalises empty slices so decoded records compare equal to
// freshly built ones.
func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	return b
}

// encodeList writes each item as var bytes.
func encodeList(items [][]byte) []byte {
	var buf bytes.Buffer
	for _, item := range items {
		// Writing to a bytes.Buffer cannot fail.
		_ = wire.WriteVarBytes(&buf, 0, item)
	}

	return buf.Bytes()
}

// decodeList reverses encodeList.
func decodeList(b []byte) ([][]byte, error) {
	var items [][]byte

	r := bytes.NewReader(b)
	for r.Len() > 0 {
		item, err := wire.ReadVarBytes(r, 0, maxListItemSize, "item")
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

// encodeTransactionRecord serializes rec without its hash.
func encodeTransactionRecord(rec *TransactionRecord) ([]byte, error) {
	inputs := make([]byte, 0, len(rec.Inputs)*36)
	for _, op := range rec.Inputs {
		inputs = append(inputs, canonicalOutPoint(&op)...)
	}

	images := make([]byte, 0, len(rec.KeyImages)*blind.PointSize)
	for _, ki := range rec.KeyImages {
		images = append(images, ki[:]...)
	}

	outs := make([][]byte, 0, len(rec.Outputs))
	for i := range rec.Outputs {
		var b bytes.Buffer
		if err := encodeOutputRecord(&b, &rec.Outputs[i]); err != nil {
			return nil, err
		}
		outs = append(outs, b.Bytes())
	}
	outputs := encodeList(outs)

	keys := make([]int, 0, len(rec.Values))
	for k := range rec.Values {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	vals := make([][]byte, 0, len(keys))
	for _, k := range keys {
		v := append([]byte{byte(k)}, rec.Values[ValueKey(k)]...)
		vals = append(vals, v)
	}
	values := encodeList(vals)

	var (
		blockHash = [32]byte(rec.BlockHash)
		height    = uint32(rec.BlockHeight)
		blockTime = encodeTime(rec.BlockTime)
		index     = uint32(rec.Index)
		received  = encodeTime(rec.TimeReceived)
		flags     = uint32(rec.Flags)
		fee       = uint64(rec.Fee)
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeRecBlockHash, &blockHash),
		tlv.MakePrimitiveRecord(typeRecBlockHeight, &height),
		tlv.MakePrimitiveRecord(typeRecBlockTime, &blockTime),
		tlv.MakePrimitiveRecord(typeRecIndex, &index),
		tlv.MakePrimitiveRecord(typeRecReceived, &received),
		tlv.MakePrimitiveRecord(typeRecFlags, &flags),
		tlv.MakePrimitiveRecord(typeRecFee, &fee),
		tlv.MakePrimitiveRecord(typeRecInputs, &inputs),
		tlv.MakePrimitiveRecord(typeRecKeyImages, &images),
		tlv.MakePrimitiveRecord(typeRecOutputs, &outputs),
		tlv.MakePrimitiveRecord(typeRecValues, &values),
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeTransactionRecord reverses encodeTransactionRecord.
func decodeTransactionRecord(hash chainhash.Hash,
	v []byte) (*TransactionRecord, error) {

	var (
		blockHash                     [32]byte
		height, index, flags          uint32
		blockTime, received, fee      uint64
		inputs, images, outputs, vals []byte
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeRecBlockHash, &blockHash),
		tlv.MakePrimitiveRecord(typeRecBlockHeight, &height),
		tlv.MakePrimitiveRecord(typeRecBlockTime, &blockTime),
		tlv.MakePrimitiveRecord(typeRecIndex, &index),
		tlv.MakePrimitiveRecord(typeRecReceived, &received),
		tlv.MakePrimitiveRecord(typeRecFlags, &flags),
		tlv.MakePrimitiveRecord(typeRecFee, &fee),
		tlv.MakePrimitiveRecord(typeRecInputs, &inputs),
		tlv.MakePrimitiveRecord(typeRecKeyImages, &images),
		tlv.MakePrimitiveRecord(typeRecOutputs, &outputs),
		tlv.MakePrimitiveRecord(typeRecValues, &vals),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(v)); err != nil {
		return nil, storeError(ErrData, fmt.Sprintf("decode record "+
			"%v", hash), err)
	}

	if len(inputs)%36 != 0 || len(images)%blind.PointSize != 0 {
		return nil, storeError(ErrData, fmt.Sprintf("record %v has "+
			"truncated inputs", hash), nil)
	}

	rec := &TransactionRecord{
		Hash:         hash,
		BlockHash:    chainhash.Hash(blockHash),
		BlockHeight:  int32(height),
		BlockTime:    decodeTime(blockTime),
		Index:        int32(index),
		TimeReceived: decodeTime(received),
		Flags:        OutputFlags(flags),
		Fee:          btcutil.Amount(fee),
		Values:       make(map[ValueKey][]byte),
	}

	for i := 0; i < len(inputs); i += 36 {
		rec.Inputs = append(rec.Inputs, readOutPoint(inputs[i:i+36]))
	}
	for i := 0; i < len(images); i += blind.PointSize {
		var ki blind.KeyImage
		copy(ki[:], images[i:])
		rec.KeyImages = append(rec.KeyImages, ki)
	}

	outs, err := decodeList(outputs)
	if err != nil {
		return nil, storeError(ErrData, "decode outputs", err)
	}
	for _, b := range outs {
		o, err := decodeOutputRecord(bytes.NewReader(b))
		if err != nil {
			return nil, storeError(ErrData, "decode output", err)
		}
		rec.Outputs = append(rec.Outputs, o)
	}

	values, err := decodeList(vals)
	if err != nil {
		return nil, storeError(ErrData, "decode values", err)
	}
	for _, kv := range values {
		if len(kv) == 0 {
			continue
		}
		rec.Values[ValueKey(kv[0])] = kv[1:]
	}

	return rec, nil
}

// encodeStoredTransaction serializes s.
func encodeStoredTransaction(s *StoredTransaction) ([]byte, error) {
	txBytes, err := s.Tx.Bytes()
	if err != nil {
		return nil, err
	}

	blinds := make([]byte, 0, len(s.Blinds)*(4+blind.ScalarSize))
	for _, ib := range s.Blinds {
		blinds = binary.BigEndian.AppendUint32(blinds, ib.Index)
		blinds = append(blinds, ib.Blind[:]...)
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeStoredTx, &txBytes),
		tlv.MakePrimitiveRecord(typeStoredBlinds, &blinds),
	)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeStoredTransaction reverses encodeStoredTransaction.
func decodeStoredTransaction(v []byte) (*StoredTransaction, error) {
	var txBytes, blinds []byte

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeStoredTx, &txBytes),
		tlv.MakePrimitiveRecord(typeStoredBlinds, &blinds),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(v)); err != nil {
		return nil, storeError(ErrData, "decode stored tx", err)
	}

	const entry = 4 + blind.ScalarSize
	if len(blinds)%entry != 0 {
		return nil, storeError(ErrData, "truncated blinds", nil)
	}

	tx, err := ctwire.FromBytes(txBytes)
	if err != nil {
		return nil, storeError(ErrData, "decode stored tx", err)
	}

	s := &StoredTransaction{Tx: tx}
	for i := 0; i < len(blinds); i += entry {
		var b blind.Blind
		copy(b[:], blinds[i+4:i+entry])
		s.Blinds = append(s.Blinds, IndexedBlind{
			Index: binary.BigEndian.Uint32(blinds[i:]),
			Blind: b,
		})
	}

	return s, nil
}

// canonicalOutPoint serializes an outpoint as hash || index big endian.
func canonicalOutPoint(op *wire.OutPoint) []byte {
	k := make([]byte, 36)
	copy(k, op.Hash[:])
	binary.BigEndian.PutUint32(k[32:], op.Index)

	return k
}

// readOutPoint reverses canonicalOutPoint.
func readOutPoint(k []byte) wire.OutPoint {
	var op wire.OutPoint
	copy(op.Hash[:], k[:32])
	op.Index = binary.BigEndian.Uint32(k[32:36])

	return op
}
