// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txrecord

import (
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
)

// AbandonHash is the block hash of an abandoned record. The record stays in
// the ledger for conflict tracking but no longer spends its inputs.
var AbandonHash = chainhash.Hash{0x01}

// MaxNarrationSize bounds a narration.
const MaxNarrationSize = 24

// OutputRecord is the ledger entry of one output of a transaction.
type OutputRecord struct {
	// Index is the output index within the transaction.
	Index uint32

	Flags    OutputFlags
	Kind     OutputKind
	AddrType AddressType

	// Value is the amount, known in the clear only to the wallet for
	// blinded and anonymous outputs.
	Value btcutil.Amount

	// Script is the destination script. Anonymous outputs hold the
	// compressed one-time public key instead.
	Script []byte

	// Narration is a short message attached by the sender.
	Narration string

	// KeyPath identifies the key of an owned output in the key store.
	KeyPath []byte

	// SpentBy and SpentHeight are set together with FlagSpent.
	SpentBy     chainhash.Hash
	SpentHeight int32
}

// IsSpendable reports whether the wallet owns and can spend the output.
func (o *OutputRecord) IsSpendable() bool {
	return o.Flags.Has(FlagOwned) && !o.Flags.Has(FlagSpent) &&
		o.Flags&(FlagWatchOnly|FlagStakeOnly) == 0
}

// TransactionRecord is the ledger entry of a transaction that touches
// blinded or anonymous value.
type TransactionRecord struct {
	// Hash is the transaction hash. It is the ledger key and is not
	// encoded with the record.
	Hash chainhash.Hash

	// BlockHash is zero while unconfirmed and AbandonHash once abandoned.
	BlockHash   chainhash.Hash
	BlockHeight int32
	BlockTime   time.Time

	// Index is the position in the block. -1 marks a conflicted record.
	Index int32

	TimeReceived time.Time

	// Flags holds FlagBlindIn and FlagAnonIn.
	Flags OutputFlags

	Fee btcutil.Amount

	// Inputs lists spent plain and blinded outpoints.
	Inputs []wire.OutPoint

	// KeyImages lists the images of anonymous inputs.
	KeyImages []blind.KeyImage

	// Outputs is sorted by index with at most one entry per index.
	Outputs []OutputRecord

	// Values holds free form data keyed by ValueKey.
	Values map[ValueKey][]byte
}

// NewTransactionRecord returns an empty unconfirmed record.
func NewTransactionRecord(hash chainhash.Hash,
	received time.Time) *TransactionRecord {

	return &TransactionRecord{
		Hash:         hash,
		TimeReceived: received,
		Values:       make(map[ValueKey][]byte),
	}
}

// InsertOutput adds o, replacing an existing entry with the same index.
// It returns false when an entry was replaced.
func (r *TransactionRecord) InsertOutput(o OutputRecord) bool {
	i := sort.Search(len(r.Outputs), func(i int) bool {
		return r.Outputs[i].Index >= o.Index
	})
	if i < len(r.Outputs) && r.Outputs[i].Index == o.Index {
		r.Outputs[i] = o
		return false
	}

	r.Outputs = append(r.Outputs, OutputRecord{})
	copy(r.Outputs[i+1:], r.Outputs[i:])
	r.Outputs[i] = o

	return true
}

// EraseOutput removes the entry with the given index.
func (r *TransactionRecord) EraseOutput(index uint32) bool {
	for i := range r.Outputs {
		if r.Outputs[i].Index == index {
			r.Outputs = append(r.Outputs[:i], r.Outputs[i+1:]...)
			return true
		}
	}

	return false
}

// GetOutput returns the entry with the given index.
func (r *TransactionRecord) GetOutput(index uint32) *OutputRecord {
	for i := range r.Outputs {
		if r.Outputs[i].Index == index {
			return &r.Outputs[i]
		}
	}

	return nil
}

// GetChangeOutput returns the first change output.
func (r *TransactionRecord) GetChangeOutput() *OutputRecord {
	for i := range r.Outputs {
		if r.Outputs[i].Flags.Has(FlagChange) {
			return &r.Outputs[i]
		}
	}

	return nil
}

// HaveChange reports whether the record has a change output.
func (r *TransactionRecord) HaveChange() bool {
	return r.GetChangeOutput() != nil
}

// IsAbandoned reports whether the record was abandoned.
func (r *TransactionRecord) IsAbandoned() bool {
	return r.BlockHash == AbandonHash
}

// IsConfirmed reports whether the record is in a block.
func (r *TransactionRecord) IsConfirmed() bool {
	return r.BlockHash != (chainhash.Hash{}) && !r.IsAbandoned() &&
		r.Index >= 0
}

// IsConflicted reports whether the record conflicts with the chain.
func (r *TransactionRecord) IsConflicted() bool {
	return r.Index < 0
}

// Depth returns the confirmation count at tip height.
func (r *TransactionRecord) Depth(tip int32) int32 {
	if !r.IsConfirmed() || tip < r.BlockHeight {
		return 0
	}

	return tip - r.BlockHeight + 1
}

// TotalOutput sums outputs with all of the given flags. A zero mask sums
// every output.
func (r *TransactionRecord) TotalOutput(mask OutputFlags) btcutil.Amount {
	var total btcutil.Amount
	for i := range r.Outputs {
		if r.Outputs[i].Flags.Has(mask) {
			total += r.Outputs[i].Value
		}
	}

	return total
}

// GetTxTime returns the block time once confirmed and the receive time
// before.
func (r *TransactionRecord) GetTxTime() time.Time {
	if r.IsConfirmed() && !r.BlockTime.IsZero() {
		return r.BlockTime
	}

	return r.TimeReceived
}

// SetMerkleBlock records the block confirming the transaction.
func (r *TransactionRecord) SetMerkleBlock(hash chainhash.Hash, height int32,
	index int32, blockTime time.Time) {

	r.BlockHash = hash
	r.BlockHeight = height
	r.Index = index
	r.BlockTime = blockTime
}

// SetConflicted marks the record as conflicting with the chain.
func (r *TransactionRecord) SetConflicted() {
	r.Index = -1
}

// Merge folds other into r: outputs are merged by index, flags and input
// lists are combined and missing values are copied. Block data of other
// wins, and an abandoned r is revived by any other that is not abandoned.
func (r *TransactionRecord) Merge(other *TransactionRecord) {
	for _, o := range other.Outputs {
		if cur := r.GetOutput(o.Index); cur != nil {
			// Keep ledger owned state such as spends.
			keep := FlagSpent | FlagChange | FlagLocked
			o.Flags |= cur.Flags & keep
			if o.Value == 0 {
				o.Value = cur.Value
			}
			if o.Narration == "" {
				o.Narration = cur.Narration
			}
			if cur.Flags.Has(FlagSpent) {
				o.SpentBy = cur.SpentBy
				o.SpentHeight = cur.SpentHeight
			}
		}
		r.InsertOutput(o)
	}
	r.Flags |= other.Flags

	if len(r.Inputs) == 0 {
		r.Inputs = other.Inputs
	}
	if len(r.KeyImages) == 0 {
		r.KeyImages = other.KeyImages
	}
	if r.Fee == 0 {
		r.Fee = other.Fee
	}

	// A block or a new sighting of the transaction ends an abandon.
	switch {
	case other.IsAbandoned():

	case other.BlockHash != (chainhash.Hash{}):
		r.SetMerkleBlock(
			other.BlockHash, other.BlockHeight, other.Index,
			other.BlockTime,
		)

	case r.IsAbandoned():
		r.BlockHash = chainhash.Hash{}
	}

	if r.Values == nil {
		r.Values = make(map[ValueKey][]byte)
	}
	for k, v := range other.Values {
		if _, ok := r.Values[k]; !ok {
			r.Values[k] = v
		}
	}
}

// IndexedBlind is the blinding factor of one output.
type IndexedBlind struct {
	Index uint32
	Blind blind.Blind
}

// StoredTransaction keeps the full transaction with the blinds of its
// wallet outputs so hidden amounts can be opened without re-deriving keys.
type StoredTransaction struct {
	Tx     *ctwire.MsgTx
	Blinds []IndexedBlind
}

// InsertBlind stores the blind of output index, replacing any earlier one.
func (s *StoredTransaction) InsertBlind(index uint32, b blind.Blind) {
	for i := range s.Blinds {
		if s.Blinds[i].Index == index {
			s.Blinds[i].Blind = b
			return
		}
	}

	s.Blinds = append(s.Blinds, IndexedBlind{Index: index, Blind: b})
}

// GetBlind returns the blind of output index.
func (s *StoredTransaction) GetBlind(index uint32) (blind.Blind, bool) {
	for _, ib := range s.Blinds {
		if ib.Index == index {
			return ib.Blind, true
		}
	}

	return blind.Blind{}, false
}

// GetAnonPubKey returns the one-time key of anonymous output index.
func (s *StoredTransaction) GetAnonPubKey(index uint32) ([blind.PointSize]byte,
	bool) {

	if s.Tx == nil || int(index) >= len(s.Tx.TxOut) {
		return [blind.PointSize]byte{}, false
	}

	out, ok := s.Tx.TxOut[index].(*ctwire.RingCTOutput)
	if !ok {
		return [blind.PointSize]byte{}, false
	}

	return out.PubKey, true
}
