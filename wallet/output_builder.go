// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
)

// BuiltOutput is a recipient after output construction.
type BuiltOutput struct {
	// Index is the transaction output index.
	Index uint32

	Recipient *Recipient
	Kind      OutputKind
	Value     btcutil.Amount

	// Blind and Commitment are set for blinded and anonymous outputs.
	Blind      blind.Blind
	Commitment blind.Commitment

	// Balancing marks the output whose blind balances the transaction.
	Balancing bool

	// RangeProof is the proof of the output. It is zero filled until the
	// final build.
	RangeProof []byte
}

// outputBuilder turns recipients into transaction outputs.
type outputBuilder struct {
	crypto blind.Provider
	rand   io.Reader
}

// proofParams returns the range proof parameters of value under the
// optional override. It is deterministic, so placeholder proofs have the
// exact size of the real ones.
func proofParams(rcp *Recipient, value uint64) (blind.ProofForm, int, int,
	uint64) {

	if rcp.ProofParams.IsSome() {
		p := rcp.ProofParams.UnwrapOr(RangeProofParams{})
		if p.Bits == 0 {
			return blind.ProofFormCompact, 0, blind.CompactBits, 0
		}

		return blind.ProofFormLegacy, p.Exponent, p.Bits, p.MinValue
	}

	minValue, exp, nbits := blind.SelectRangeProofParameters(value)
	if nbits > blind.LegacyMaxBits {
		return blind.ProofFormCompact, 0, blind.CompactBits, 0
	}

	return blind.ProofFormLegacy, exp, nbits, minValue
}

// balancingIndex picks the output balancing the transaction: the change
// when it is hidden, else the last hidden output. Outputs with an explicit
// blind cannot balance. It returns -1 when there is no hidden output.
func balancingIndex(recipients []*Recipient) (int, error) {
	idx, hidden := -1, 0
	for i, rcp := range recipients {
		if rcp.Kind == KindPlain {
			continue
		}
		hidden++
		if rcp.Blind.IsSome() {
			continue
		}
		if rcp.IsChange {
			return i, nil
		}
		idx = i
	}

	if hidden > 0 && idx < 0 {
		return -1, fmt.Errorf("%w: every hidden output has an "+
			"explicit blind, none can balance",
			ErrCommitmentMismatch)
	}

	return idx, nil
}

// BuildOutputs appends the outputs of recipients to tx, preceded by a fee
// output when withFeeOutput is set. inBlinds are the blinds of the inputs.
// The balancing output's blind is derived after every other blind is fixed.
// Without prove the range proofs are zero filled to their exact size.
func (b *outputBuilder) BuildOutputs(ctx context.Context, tx *ctwire.MsgTx,
	recipients []*Recipient, inBlinds []blind.Blind, fee btcutil.Amount,
	withFeeOutput, prove bool) ([]*BuiltOutput, error) {

	if withFeeOutput {
		tx.AddTxOut(ctwire.NewFeeOutput(int64(fee)))
	}

	balancing, err := balancingIndex(recipients)
	if err != nil {
		return nil, err
	}

	built := make([]*BuiltOutput, len(recipients))
	others := make([]blind.Blind, 0, len(recipients))
	for i, rcp := range recipients {
		bo := &BuiltOutput{
			Recipient: rcp,
			Kind:      rcp.Kind,
			Value:     rcp.Amount,
			Balancing: i == balancing,
		}
		built[i] = bo

		if rcp.Kind == KindPlain || bo.Balancing {
			continue
		}

		bo.Blind, err = b.blindFor(rcp)
		if err != nil {
			return nil, err
		}
		others = append(others, bo.Blind)
	}

	// The balancing output is constructed last.
	if balancing >= 0 {
		bo := built[balancing]
		bo.Blind, err = b.crypto.BlindSum(inBlinds, others)
		if err != nil {
			return nil, err
		}
		if bo.Blind.IsZero() {
			return nil, fmt.Errorf("%w: balancing blind is zero",
				ErrCommitmentMismatch)
		}
	}

	var proveList []*blind.ProveParams
	var proveOuts []*BuiltOutput
	for _, bo := range built {
		if bo.Kind == KindPlain {
			continue
		}

		bo.Commitment, err = b.crypto.Commit(bo.Blind, uint64(bo.Value))
		if err != nil {
			return nil, err
		}

		msg := []byte(bo.Recipient.Narration)
		form, exp, nbits, minValue := proofParams(
			bo.Recipient, uint64(bo.Value),
		)
		if !prove {
			bo.RangeProof = make(
				[]byte, blind.ProofSize(form, nbits, len(msg)),
			)
			continue
		}

		p := &blind.ProveParams{
			Commitment: bo.Commitment,
			Blind:      bo.Blind,
			Value:      uint64(bo.Value),
			Nonce:      bo.Recipient.Nonce,
			Message:    msg,
			Rand:       b.rand,
		}
		if form == blind.ProofFormLegacy {
			p.MinValue, p.Exponent, p.Bits = minValue, exp, nbits
		}
		proveList = append(proveList, p)
		proveOuts = append(proveOuts, bo)
	}

	if len(proveList) > 0 {
		proofs, err := blind.ProveRanges(ctx, b.crypto, proveList)
		if err != nil {
			return nil, err
		}
		for i, proof := range proofs {
			proveOuts[i].RangeProof = proof
		}
	}

	for _, bo := range built {
		if err := appendOutput(tx, bo); err != nil {
			return nil, err
		}
	}

	return built, nil
}

// blindFor returns the explicit or a fresh blind.
func (b *outputBuilder) blindFor(rcp *Recipient) (blind.Blind, error) {
	if rcp.Blind.IsSome() {
		bl := rcp.Blind.UnwrapOr(blind.Blind{})
		if bl.IsZero() {
			return bl, fmt.Errorf("%w: explicit blind is zero",
				blind.ErrInvalidBlind)
		}

		return bl, nil
	}

	return blind.NewBlind(b.rand)
}

// stealthData returns the data field carrying the ephemeral key of rcp.
func stealthData(rcp *Recipient) []byte {
	eph := rcp.ephemeralPub()
	if eph == nil {
		return nil
	}

	return ctwire.EncodeDataRecords(ctwire.DataRecord{
		Tag: ctwire.DataStealth, Value: eph.SerializeCompressed(),
	})
}

// appendOutput adds the wire form of bo to tx and records its index.
func appendOutput(tx *ctwire.MsgTx, bo *BuiltOutput) error {
	rcp := bo.Recipient
	bo.Index = uint32(len(tx.TxOut))

	switch bo.Kind {
	case KindPlain:
		tx.AddTxOut(&ctwire.StandardOutput{
			Value:    int64(bo.Value),
			PkScript: rcp.Script,
		})

		data, err := plainOutputData(rcp)
		if err != nil {
			return err
		}
		if data != nil {
			tx.AddTxOut(&ctwire.DataOutput{Data: data})
		}

	case KindBlinded:
		tx.AddTxOut(&ctwire.CTOutput{
			Commitment: bo.Commitment,
			Data:       stealthData(rcp),
			PkScript:   rcp.Script,
			RangeProof: bo.RangeProof,
		})

	case KindAnon:
		out := &ctwire.RingCTOutput{
			Commitment: bo.Commitment,
			Data:       stealthData(rcp),
			RangeProof: bo.RangeProof,
		}
		copy(out.PubKey[:], rcp.PubKey.SerializeCompressed())
		tx.AddTxOut(out)

	default:
		return fmt.Errorf("%w: output kind %v", ErrInvalidDestination,
			bo.Kind)
	}

	return nil
}

// plainOutputData returns the data output following a plain output: the
// ephemeral key and encrypted narration of a stealth payment, or a plain
// narration.
func plainOutputData(rcp *Recipient) ([]byte, error) {
	switch {
	case rcp.Stealth:
		records := []ctwire.DataRecord{{
			Tag:   ctwire.DataStealth,
			Value: rcp.ephemeralPub().SerializeCompressed(),
		}}
		if rcp.Narration != "" {
			sealed, err := sealNarration(rcp.shared, rcp.Narration)
			if err != nil {
				return nil, err
			}
			records = append(records, ctwire.DataRecord{
				Tag: ctwire.DataNarrationCrypt, Value: sealed,
			})
		}

		return ctwire.EncodeDataRecords(records...), nil

	case rcp.Narration != "":
		return ctwire.EncodeDataRecords(ctwire.DataRecord{
			Tag:   ctwire.DataNarrationPlain,
			Value: []byte(rcp.Narration),
		}), nil
	}

	return nil, nil
}
