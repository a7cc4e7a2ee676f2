// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/dmuralov/particl-core/pkg/feeunit"
	"github.com/dmuralov/particl-core/txrecord"
)

// TxReader provides an interface for querying tx history.
type TxReader interface {
	// GetTx returns a detailed description of a tx given its tx hash.
	GetTx(ctx context.Context, txHash chainhash.Hash) (*TxDetail, error)

	// ListTxns returns the txns relevant to the wallet over a given
	// block range. An end height of -1 includes unconfirmed txns.
	ListTxns(ctx context.Context, startHeight, endHeight int32) (
		[]*TxDetail, error)
}

// A compile-time assertion to ensure that Wallet implements the TxReader
// interface.
var _ TxReader = (*Wallet)(nil)

// Output contains details for a tx output.
type Output struct {
	// Index is the index of the output in the tx.
	Index uint32

	Kind OutputKind

	// Amount is the value of the output. Hidden amounts are only known
	// for outputs of the wallet.
	Amount btcutil.Amount

	// PkScript is the output script. Anonymous outputs carry their
	// one-time key instead.
	PkScript []byte

	// Addresses are the addresses associated with the output script.
	Addresses []btcutil.Address

	// IsOurs is true if the output is controlled by the wallet.
	IsOurs bool

	Flags     txrecord.OutputFlags
	Narration string
}

// PrevOut describes a tx input.
type PrevOut struct {
	// OutPoint is the unique reference to the output being spent.
	OutPoint wire.OutPoint

	// IsOurs is true if the input spends an output controlled by the
	// wallet.
	IsOurs bool
}

// BlockDetails contains details about the block that includes a tx.
type BlockDetails struct {
	Hash   chainhash.Hash
	Height int32

	// Timestamp is the unix timestamp of the block.
	Timestamp int64
}

// TxDetail describes a tx relevant to a wallet, from either store.
type TxDetail struct {
	Hash chainhash.Hash

	// Legacy is set for txns kept in the plain-only store.
	Legacy bool

	// Value is the net value of this tx from the POV of the wallet.
	Value btcutil.Amount

	// Fee is the fee paid by this tx. For plain-only txns it is only
	// known when every input is ours.
	Fee btcutil.Amount

	// Weight is zero when the wallet does not hold the full tx.
	Weight feeunit.WeightUnit

	// Confirmations is zero for unconfirmed txns.
	Confirmations int32

	// Block is nil while unconfirmed.
	Block *BlockDetails

	ReceivedTime time.Time

	// Flags holds the input flags of the ledger record.
	Flags txrecord.OutputFlags

	Abandoned  bool
	Conflicted bool

	Outputs  []Output
	PrevOuts []PrevOut

	// KeyImages are the images of the anonymous inputs that are ours.
	KeyImages []blind.KeyImage
}

// GetTx returns a detailed description of a tx given its tx hash. The
// ledger is searched before the plain-only store.
func (w *Wallet) GetTx(ctx context.Context, txHash chainhash.Hash) (
	*TxDetail, error) {

	var detail *TxDetail
	err := w.withSnapshot(ctx, func(snap *snapshot) error {
		rec, err := w.store.FetchRecord(snap.rtxNs, txHash)
		switch {
		case err == nil:
			detail, err = w.recordDetail(snap, rec)
			return err

		case !txrecord.IsError(err, txrecord.ErrRecordNotFound):
			return err
		}

		details, err := w.txStore.TxDetails(snap.wtxNs, &txHash)
		if err != nil {
			return err
		}
		if details == nil {
			return ErrTxNotFound
		}
		detail = w.legacyDetail(details, snap.tip)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return detail, nil
}

// ListTxns returns the txns of both stores confirmed in [startHeight,
// endHeight], ordered by height with unconfirmed txns last.
func (w *Wallet) ListTxns(ctx context.Context, startHeight,
	endHeight int32) ([]*TxDetail, error) {

	var details []*TxDetail
	err := w.withSnapshot(ctx, func(snap *snapshot) error {
		err := w.store.ForEachRecord(snap.rtxNs,
			func(rec *txrecord.TransactionRecord) error {
				if !inRange(rec, startHeight, endHeight) {
					return nil
				}

				d, err := w.recordDetail(snap, rec)
				if err != nil {
					return err
				}
				details = append(details, d)

				return nil
			},
		)
		if err != nil {
			return err
		}

		return w.txStore.RangeTransactions(
			snap.wtxNs, startHeight, endHeight,
			func(d []wtxmgr.TxDetails) (bool, error) {
				for i := range d {
					details = append(details,
						w.legacyDetail(&d[i], snap.tip))
				}

				return false, nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(details, func(i, j int) bool {
		return detailHeight(details[i]) < detailHeight(details[j])
	})

	return details, nil
}

// inRange matches the range semantics of the plain-only store, where -1
// stands for the unconfirmed txns above every block.
func inRange(rec *txrecord.TransactionRecord, start, end int32) bool {
	lo, hi := rangeHeight(start), rangeHeight(end)
	if lo > hi {
		lo, hi = hi, lo
	}

	height := rangeHeight(-1)
	if rec.IsConfirmed() {
		height = rec.BlockHeight
	}

	return height >= lo && height <= hi
}

// rangeHeight maps the unconfirmed marker -1 above every block.
func rangeHeight(h int32) int32 {
	if h == -1 {
		return 1<<31 - 1
	}

	return h
}

// detailHeight sorts unconfirmed txns after every block.
func detailHeight(d *TxDetail) int32 {
	if d.Block == nil {
		return rangeHeight(-1)
	}

	return d.Block.Height
}

// ownedValue returns the value of a wallet output spent at op, looking in
// the ledger first.
func (w *Wallet) ownedValue(snap *snapshot,
	op wire.OutPoint) (btcutil.Amount, bool, error) {

	rec, err := w.store.FetchRecord(snap.rtxNs, op.Hash)
	switch {
	case err == nil:
		out := rec.GetOutput(op.Index)
		if out == nil || !out.Flags.Has(txrecord.FlagOwned) {
			return 0, false, nil
		}

		return out.Value, true, nil

	case !txrecord.IsError(err, txrecord.ErrRecordNotFound):
		return 0, false, err
	}

	details, err := w.txStore.TxDetails(snap.wtxNs, &op.Hash)
	if err != nil || details == nil {
		return 0, false, err
	}
	for _, c := range details.Credits {
		if c.Index == op.Index {
			return c.Amount, true, nil
		}
	}

	return 0, false, nil
}

// recordDetail flattens a ledger record.
func (w *Wallet) recordDetail(snap *snapshot,
	rec *txrecord.TransactionRecord) (*TxDetail, error) {

	d := &TxDetail{
		Hash:          rec.Hash,
		Fee:           rec.Fee,
		Confirmations: rec.Depth(snap.tip),
		ReceivedTime:  rec.TimeReceived,
		Flags:         rec.Flags,
		Abandoned:     rec.IsAbandoned(),
		Conflicted:    rec.IsConflicted(),
	}
	if rec.IsConfirmed() {
		d.Block = &BlockDetails{
			Hash:      rec.BlockHash,
			Height:    rec.BlockHeight,
			Timestamp: rec.BlockTime.Unix(),
		}
	}

	stx, err := w.storedTx(snap, rec.Hash)
	if err != nil {
		return nil, err
	}
	if stx != nil && stx.Tx != nil {
		d.Weight = feeunit.NewWeightUnit(uint64(stx.Tx.Weight()))
	}

	for i := range rec.Outputs {
		out := &rec.Outputs[i]
		owned := out.Flags.Has(txrecord.FlagOwned)
		if owned && out.Flags&txrecord.FlagWatchOnly == 0 {
			d.Value += out.Value
		}

		d.Outputs = append(d.Outputs, Output{
			Index:     out.Index,
			Kind:      out.Kind,
			Amount:    out.Value,
			PkScript:  out.Script,
			Addresses: w.scriptAddresses(out.Kind, out.Script),
			IsOurs:    owned,
			Flags:     out.Flags,
			Narration: out.Narration,
		})
	}

	for _, op := range rec.Inputs {
		value, ours, err := w.ownedValue(snap, op)
		if err != nil {
			return nil, err
		}
		d.Value -= value
		d.PrevOuts = append(d.PrevOuts, PrevOut{
			OutPoint: op, IsOurs: ours,
		})
	}

	for _, ki := range rec.KeyImages {
		op, ok, err := w.store.FetchOwnedKeyImage(snap.rtxNs, ki)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		value, _, err := w.ownedValue(snap, op)
		if err != nil {
			return nil, err
		}
		d.Value -= value
		d.KeyImages = append(d.KeyImages, ki)
	}

	return d, nil
}

// scriptAddresses extracts the addresses of a plain or blinded output.
func (w *Wallet) scriptAddresses(kind OutputKind,
	script []byte) []btcutil.Address {

	if kind == KindAnon || len(script) == 0 {
		return nil
	}

	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		script, w.cfg.ChainParams,
	)
	if err != nil {
		log.Debugf("Cannot extract addresses from pkScript: %v", err)
		return nil
	}

	return addrs
}

// legacyDetail flattens a tx of the plain-only store.
func (w *Wallet) legacyDetail(txDetails *wtxmgr.TxDetails,
	tip int32) *TxDetail {

	d := &TxDetail{
		Hash:         txDetails.Hash,
		Legacy:       true,
		ReceivedTime: txDetails.Received,
		Weight: feeunit.NewWeightUnit(uint64(
			ctwire.FromWire(&txDetails.MsgTx).Weight(),
		)),
	}

	// A tx in the tip block has one confirmation.
	if height := txDetails.Block.Height; height != -1 {
		d.Block = &BlockDetails{
			Hash:      txDetails.Block.Hash,
			Height:    height,
			Timestamp: txDetails.Block.Time.Unix(),
		}
		if tip >= height {
			d.Confirmations = tip - height + 1
		}
	}

	for _, debit := range txDetails.Debits {
		d.Value -= debit.Amount
	}
	for _, credit := range txDetails.Credits {
		d.Value += credit.Amount
	}

	if len(txDetails.Debits) == len(txDetails.MsgTx.TxIn) {
		var totalIn, totalOut btcutil.Amount
		for _, debit := range txDetails.Debits {
			totalIn += debit.Amount
		}
		for _, txOut := range txDetails.MsgTx.TxOut {
			totalOut += btcutil.Amount(txOut.Value)
		}
		d.Fee = totalIn - totalOut
	}

	ourOutputs := make(map[uint32]bool, len(txDetails.Credits))
	for _, credit := range txDetails.Credits {
		ourOutputs[credit.Index] = true
	}
	for i, txOut := range txDetails.MsgTx.TxOut {
		idx := uint32(i)
		d.Outputs = append(d.Outputs, Output{
			Index:     idx,
			Kind:      KindPlain,
			Amount:    btcutil.Amount(txOut.Value),
			PkScript:  txOut.PkScript,
			Addresses: w.scriptAddresses(KindPlain, txOut.PkScript),
			IsOurs:    ourOutputs[idx],
		})
	}

	ourInputs := make(map[uint32]bool, len(txDetails.Debits))
	for _, debit := range txDetails.Debits {
		ourInputs[debit.Index] = true
	}
	for i, txIn := range txDetails.MsgTx.TxIn {
		d.PrevOuts = append(d.PrevOuts, PrevOut{
			OutPoint: txIn.PreviousOutPoint,
			IsOurs:   ourInputs[uint32(i)],
		})
	}

	return d
}

