// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/txrecord"
)

// BuildRecord translates a finished build into its ledger entries. Outputs
// paying the wallet are owned, the change is flagged as such and every other
// recipient output is recorded as sent. Anonymous inputs are recorded by
// their key images since the spent output is hidden in the ring.
func (w *Wallet) BuildRecord(atx *AuthoredTx) (*txrecord.TransactionRecord,
	*txrecord.StoredTransaction) {

	rec := txrecord.NewTransactionRecord(
		atx.Tx.TxHash(), w.cfg.Clock.Now(),
	)
	rec.Fee = atx.Fee

	switch atx.InputKind {
	case KindPlain:
		for _, coin := range atx.Inputs {
			rec.Inputs = append(rec.Inputs, coin.OutPoint)
		}

	case KindBlinded:
		rec.Flags |= txrecord.FlagBlindIn
		for _, coin := range atx.Inputs {
			rec.Inputs = append(rec.Inputs, coin.OutPoint)
		}

	case KindAnon:
		rec.Flags |= txrecord.FlagAnonIn
		for _, in := range anonInputs(atx.Tx) {
			rec.KeyImages = append(rec.KeyImages, in.KeyImages...)
		}
	}

	stx := &txrecord.StoredTransaction{Tx: atx.Tx}
	for _, bo := range atx.Outputs {
		rec.InsertOutput(outputRecord(bo))

		if bo.Kind != KindPlain {
			stx.InsertBlind(bo.Index, bo.Blind)
		}
	}

	return rec, stx
}

// outputRecord returns the ledger entry of a built output.
func outputRecord(bo *BuiltOutput) txrecord.OutputRecord {
	rcp := bo.Recipient

	out := txrecord.OutputRecord{
		Index:     bo.Index,
		Kind:      bo.Kind,
		Value:     bo.Value,
		Script:    rcp.Script,
		Narration: rcp.Narration,
	}
	if bo.Kind == KindAnon && rcp.PubKey != nil {
		out.Script = rcp.PubKey.SerializeCompressed()
	}

	switch {
	case rcp.Owned:
		out.Flags |= txrecord.FlagOwned
		out.KeyPath = rcp.KeyPath
		out.AddrType = rcp.AddrType
		if rcp.IsChange {
			out.Flags |= txrecord.FlagChange
		}
		if isColdStakeScript(rcp.Script) {
			out.Flags |= txrecord.FlagStakeOnly
		}

	default:
		out.Flags |= txrecord.FlagFrom
		out.AddrType = txrecord.AddrStandard
		if rcp.Stealth {
			out.AddrType = txrecord.AddrStealth
		}
	}

	return out
}

// verifyAuthored checks every signature, proof and the balance of a signed
// build.
func (w *Wallet) verifyAuthored(ctx context.Context, atx *AuthoredTx) error {
	if !atx.Signed {
		return ErrUnsigned
	}

	if err := checkBalance(atx); err != nil {
		return err
	}

	var checks []blind.RangeCheck
	for _, bo := range atx.Outputs {
		if bo.Kind == KindPlain {
			continue
		}
		checks = append(checks, blind.RangeCheck{
			Commitment: bo.Commitment, Proof: bo.RangeProof,
		})
	}
	if err := blind.VerifyRanges(ctx, w.cfg.Crypto, checks); err != nil {
		return fmt.Errorf("%w: %v", ErrRangeProofFailed, err)
	}

	if atx.InputKind != KindAnon {
		for i, coin := range atx.Inputs {
			if err := verifyInput(atx.Tx, i, coin); err != nil {
				return err
			}
		}

		return nil
	}

	msg := atx.Tx.RingSigHash()
	for i, in := range anonInputs(atx.Tx) {
		ring := atx.Rings[i]
		err := w.cfg.Crypto.VerifyMLSAG(
			msg, ring.Members, in.PseudoCommitment, in.KeyImages,
			in.Signature,
		)
		if err != nil {
			return fmt.Errorf("ring %d: %w", i, err)
		}
	}

	return nil
}

// spentOutPoints returns the wallet outpoints spent by atx.
func spentOutPoints(atx *AuthoredTx) []wire.OutPoint {
	var ops []wire.OutPoint
	for _, coin := range atx.Inputs {
		ops = append(ops, coin.OutPoint)
	}
	for _, ring := range atx.Rings {
		for _, coin := range ring.Inputs {
			ops = append(ops, coin.OutPoint)
		}
	}

	return ops
}

// inputCoins returns every coin spent by atx.
func inputCoins(atx *AuthoredTx) []*Coin {
	coins := append([]*Coin(nil), atx.Inputs...)
	for _, ring := range atx.Rings {
		coins = append(coins, ring.Inputs...)
	}

	return coins
}

// isLegacyTx reports whether atx belongs in the plain-only store: it has no
// hidden part and spends only outputs of that store.
func isLegacyTx(atx *AuthoredTx) bool {
	if atx.hasHiddenParts() || !atx.Tx.IsPlainOnly() {
		return false
	}
	for _, coin := range atx.Inputs {
		if !coin.Legacy {
			return false
		}
	}

	return true
}
