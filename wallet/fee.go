// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/davecgh/go-spew/spew"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/dmuralov/particl-core/pkg/feeunit"
	"github.com/dmuralov/particl-core/txrecord"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// placeholderSigSize is a DER signature of maximum length plus the
	// sighash byte.
	placeholderSigSize = 73
)

// AuthoredTx is a finished build.
type AuthoredTx struct {
	// Tx is the transaction.
	Tx *ctwire.MsgTx

	// InputKind is the kind of every input.
	InputKind OutputKind

	// Inputs are the plain or blinded inputs in transaction order.
	Inputs []*Coin

	// Rings are the anonymous input groups in transaction order.
	Rings []*Ring

	// Outputs are the built recipient outputs, change included.
	Outputs []*BuiltOutput

	// Fee is the fee paid.
	Fee btcutil.Amount

	// FeeRate is the rate the fee was computed at.
	FeeRate feeunit.SatPerKVByte

	// ChangeIndex is the output index of the change, or -1.
	ChangeIndex int

	// Signed is set once every input is signed.
	Signed bool

	// FeeProbe marks a dry run that must not be committed.
	FeeProbe bool

	// Leased is set when the inputs were leased for the build.
	Leased bool
}

// Hash returns the transaction hash.
func (a *AuthoredTx) Hash() chainhash.Hash {
	return a.Tx.TxHash()
}

// hasHiddenParts reports whether the transaction has blinded or anonymous
// inputs or outputs.
func (a *AuthoredTx) hasHiddenParts() bool {
	if a.InputKind != KindPlain {
		return true
	}
	for _, bo := range a.Outputs {
		if bo.Kind != KindPlain {
			return true
		}
	}

	return false
}

// txBuilder holds the state of one BuildWithFee call.
type txBuilder struct {
	w    *Wallet
	snap *snapshot
	cc   *CoinControl

	kind         OutputKind
	feeRate      feeunit.SatPerKVByte
	ringSize     int
	inputsPerSig int

	recipients []*Recipient
	changeKind OutputKind
	changePos  int

	// changes holds the change recipient of each kind tried so far, all
	// paying to changeKey.
	changes   map[OutputKind]*Recipient
	changeKey *KeyDescriptor

	selector *coinSelector
	builder  *outputBuilder

	// rings and pseudo blinds are kept while the input set is stable.
	rings     []*Ring
	ringsFor  int
	subtracts []int
}

// iteration is the outcome of one pass of the fee loop.
type iteration struct {
	tx       *ctwire.MsgTx
	sel      *InputSelection
	outputs  []*BuiltOutput
	ordered  []*Recipient
	feePaid  btcutil.Amount
	required btcutil.Amount
}

// newTxBuilder prepares a build.
func (w *Wallet) newTxBuilder(snap *snapshot, kind OutputKind,
	recipients []*Recipient, cc *CoinControl) *txBuilder {

	b := &txBuilder{
		w:            w,
		snap:         snap,
		cc:           cc,
		kind:         kind,
		feeRate:      cc.FeeRate.UnwrapOr(w.cfg.FeeRate),
		ringSize:     w.cfg.RingSize,
		inputsPerSig: w.cfg.InputsPerSig,
		recipients:   recipients,
		builder: &outputBuilder{
			crypto: w.cfg.Crypto, rand: w.cfg.Rand,
		},
	}
	if cc.RingSize != 0 {
		b.ringSize = cc.RingSize
	}
	if cc.InputsPerSig != 0 {
		b.inputsPerSig = cc.InputsPerSig
	}

	// Hidden inputs keep their kind for the change. Plain inputs paying
	// hidden outputs get blinded change so the change can balance.
	b.changeKind = kind
	if kind == KindPlain && b.hiddenRecipients() > 0 {
		b.changeKind = KindBlinded
	}
	b.changeKind = cc.ChangeKind.UnwrapOr(b.changeKind)

	b.changePos = cc.ChangePosition.UnwrapOr(
		rand.IntN(len(recipients) + 1),
	)
	if b.changePos < 0 || b.changePos > len(recipients) {
		b.changePos = len(recipients)
	}

	// Small hidden outputs do not take part in fee subtraction.
	for i, rcp := range recipients {
		if !rcp.SubtractFee {
			continue
		}
		if rcp.Kind != KindPlain && rcp.Amount < w.cfg.MinBlindedValue {
			log.Debugf("Recipient %d below %v, exempt from fee "+
				"subtraction", i, w.cfg.MinBlindedValue)
			continue
		}
		b.subtracts = append(b.subtracts, i)
	}

	return b
}

// splitBlindOutput replaces the only hidden request of reqs with two
// requests to the same destination. The split part takes between 1% and
// 50% of the amount, at least minValue, and is exempt from fee subtraction.
// A request with a fixed blind, ephemeral key or nonce is left whole, as is
// one below twice minValue.
func splitBlindOutput(reqs []RecipientRequest,
	minValue btcutil.Amount) []RecipientRequest {

	split := -1
	for i := range reqs {
		if reqs[i].Kind == KindPlain {
			continue
		}
		if split != -1 {
			return reqs
		}
		split = i
	}
	if split == -1 {
		return reqs
	}

	req := reqs[split]
	if req.Blind.IsSome() || req.Ephemeral.IsSome() || req.Nonce.IsSome() ||
		req.Amount < 2*minValue {

		log.Debugf("Hidden recipient %d of %v is not split", split,
			req.Amount)

		return reqs
	}

	part := req.Amount * btcutil.Amount(1+rand.IntN(50)) / 100
	part = min(max(part, minValue), req.Amount-minValue)

	extra := req
	extra.Amount = part
	extra.SubtractFee = false
	extra.Narration = fn.None[string]()
	req.Amount -= part

	log.Debugf("Split hidden recipient %d into %v and %v", split,
		req.Amount, extra.Amount)

	res := make([]RecipientRequest, 0, len(reqs)+1)
	res = append(res, reqs[:split]...)
	res = append(res, req, extra)

	return append(res, reqs[split+1:]...)
}

// hiddenRecipients counts blinded and anonymous recipients.
func (b *txBuilder) hiddenRecipients() int {
	n := 0
	for _, rcp := range b.recipients {
		if rcp.Kind != KindPlain {
			n++
		}
	}

	return n
}

// needHiddenChange reports whether a hidden change output is required even
// when no change is left: hidden inputs need a hidden output to balance,
// and plain inputs need two hidden outputs so no blind is zero.
func (b *txBuilder) needHiddenChange() bool {
	hidden := b.hiddenRecipients()
	if b.kind != KindPlain {
		return hidden == 0
	}

	return hidden == 1
}

// changeRecipient returns the change recipient of kind, creating it on
// first use. Every kind pays to the same change key.
func (b *txBuilder) changeRecipient(kind OutputKind) (*Recipient, error) {
	if rcp, ok := b.changes[kind]; ok {
		return rcp, nil
	}

	res := b.w.resolver
	var (
		dest    Destination
		keyPath []byte
	)
	switch {
	case b.cc.ChangeDestination.IsSome():
		dest = b.cc.ChangeDestination.UnwrapOr(nil)

	// A dry run must not consume a wallet key.
	case b.cc.FeeProbe:
		bl, err := blind.NewBlind(b.w.cfg.Rand)
		if err != nil {
			return nil, err
		}
		_, pub := btcec.PrivKeyFromBytes(bl[:])
		dest = PubKeyDest{Key: pub}

	default:
		if b.changeKey == nil {
			desc, err := b.w.cfg.Keys.NewChangeKey()
			if err != nil {
				return nil, err
			}
			b.changeKey = desc
		}
		dest = PubKeyDest{Key: b.changeKey.PubKey}
		keyPath = b.changeKey.Path
	}

	rcp, err := res.resolveChange(dest, kind)
	if err != nil {
		return nil, fmt.Errorf("change: %w", err)
	}
	if keyPath != nil {
		rcp.Owned = true
		rcp.KeyPath = keyPath
		rcp.AddrType = txrecord.AddrExtKey
	}
	if b.changes == nil {
		b.changes = make(map[OutputKind]*Recipient)
	}
	b.changes[kind] = rcp

	return rcp, nil
}

// distributeFee returns the recipient amounts after the subtracting
// recipients paid fee. The first of them pays the remainder.
func (b *txBuilder) distributeFee(fee btcutil.Amount) ([]btcutil.Amount,
	error) {

	amounts := make([]btcutil.Amount, len(b.recipients))
	for i, rcp := range b.recipients {
		amounts[i] = rcp.Amount
	}
	if len(b.subtracts) == 0 || fee == 0 {
		return amounts, nil
	}

	n := btcutil.Amount(len(b.subtracts))
	share, rem := fee/n, fee%n
	for j, i := range b.subtracts {
		take := share
		if j == 0 {
			take += rem
		}
		amounts[i] -= take

		rcp := b.recipients[i]
		tooSmall := amounts[i] <= 0
		if rcp.Kind == KindPlain && !tooSmall {
			tooSmall = isDustAmount(amounts[i], rcp.Script)
		}
		if tooSmall {
			return nil, fmt.Errorf("%w: recipient %d pays %v of "+
				"%v", ErrAmountTooSmallForFee, i, take,
				rcp.Amount)
		}
	}

	return amounts, nil
}

// isDustAmount reports whether a plain output of the given value paying to
// script is dust under the default relay fee.
func isDustAmount(amount btcutil.Amount, script []byte) bool {
	out := wire.NewTxOut(int64(amount), script)

	return txrules.IsDustOutput(out, txrules.DefaultRelayFeePerKb)
}

// totalRequested sums the requested amounts.
func (b *txBuilder) totalRequested() btcutil.Amount {
	var total btcutil.Amount
	for _, rcp := range b.recipients {
		total += rcp.Amount
	}

	return total
}

// placeholderWitness is a witness of the size of a pubkey hash spend.
func placeholderWitness() wire.TxWitness {
	return wire.TxWitness{
		make([]byte, placeholderSigSize),
		make([]byte, btcec.PubKeyBytesLenCompressed),
	}
}

// addInputs adds the selected inputs to tx and returns their blinds.
func (b *txBuilder) addInputs(ctx context.Context, tx *ctwire.MsgTx,
	sel *InputSelection) ([]blind.Blind, error) {

	if b.kind != KindAnon {
		var blinds []blind.Blind
		for _, coin := range sel.Coins {
			tx.AddTxIn(&ctwire.TxIn{
				PreviousOutPoint: coin.OutPoint,
				Sequence:         wire.MaxTxInSequenceNum,
				Witness:          placeholderWitness(),
			})
			if coin.Kind == KindBlinded {
				blinds = append(blinds, coin.Blind)
			}
		}

		return blinds, nil
	}

	if err := b.ensureRings(ctx, sel); err != nil {
		return nil, err
	}

	blinds := make([]blind.Blind, 0, len(b.rings))
	for _, ring := range b.rings {
		rows := len(ring.Inputs)
		indices := make([][]int64, len(ring.Indices))
		for col := range ring.Indices {
			indices[col] = append(
				[]int64(nil), ring.Indices[col]...,
			)
		}

		tx.AddTxIn(&ctwire.TxIn{
			Sequence: wire.MaxTxInSequenceNum,
			Anon: &ctwire.AnonInput{
				Ring:             indices,
				KeyImages:        make([]blind.KeyImage, rows),
				PseudoCommitment: ring.PseudoCommitment,
				Signature: make([]byte, blind.MLSAGSize(
					rows, ring.Size(),
				)),
			},
		})
		blinds = append(blinds, ring.PseudoBlind)
	}

	return blinds, nil
}

// ensureRings selects mixins and pseudo outputs for the selected anonymous
// inputs. They are reused while the input set does not change.
func (b *txBuilder) ensureRings(ctx context.Context,
	sel *InputSelection) error {

	if b.rings != nil && b.ringsFor == len(sel.Coins) {
		return nil
	}

	reals := make([]RealAnonInput, 0, len(sel.Coins))
	for _, coin := range sel.Coins {
		reals = append(reals, RealAnonInput{Coin: coin})
	}

	rings, err := selectMixins(
		ctx, b.snap.anonIdx, reals, b.ringSize, b.inputsPerSig, b.cc,
		b.w.cfg.RCTSelectionGroup1, b.w.cfg.RCTSelectionGroup2,
	)
	if err != nil {
		return err
	}

	for _, ring := range rings {
		ring.PseudoBlind, err = blind.NewBlind(b.w.cfg.Rand)
		if err != nil {
			return err
		}
		ring.PseudoCommitment, err = b.w.cfg.Crypto.Commit(
			ring.PseudoBlind, uint64(ring.Value()),
		)
		if err != nil {
			return err
		}
	}

	b.rings = rings
	b.ringsFor = len(sel.Coins)

	return nil
}

// orderedRecipients returns the recipients with the change at its position.
func (b *txBuilder) orderedRecipients(amounts []btcutil.Amount,
	change *Recipient) []*Recipient {

	ordered := make([]*Recipient, 0, len(b.recipients)+1)
	for i, rcp := range b.recipients {
		if change != nil && i == b.changePos {
			ordered = append(ordered, change)
		}

		cp := *rcp
		cp.Amount = amounts[i]
		ordered = append(ordered, &cp)
	}
	if change != nil && b.changePos >= len(b.recipients) {
		ordered = append(ordered, change)
	}

	return ordered
}

// pass runs one iteration of the fee loop for fee.
func (b *txBuilder) pass(ctx context.Context, fee btcutil.Amount,
	prove bool) (*iteration, error) {

	target := b.totalRequested()
	if len(b.subtracts) == 0 {
		target += fee
	}

	sel, err := b.selector.Select(target)
	if err != nil {
		return nil, err
	}

	amounts, err := b.distributeFee(fee)
	if err != nil {
		return nil, err
	}
	var paid btcutil.Amount
	for _, a := range amounts {
		paid += a
	}

	feePaid := fee
	changeValue := sel.Total - paid - fee

	// Decide on the change output.
	var change *Recipient
	changeKind := b.changeKind
	dustChange := changeValue > 0 && changeKind == KindPlain &&
		isDustAmount(changeValue, make([]byte, feeunit.P2PKHScriptSize))
	switch {
	case dustChange:
		log.Debugf("Folding dust change %v into the fee", changeValue)
		feePaid += changeValue
		changeValue = 0

		if b.needHiddenChange() {
			changeKind = b.hiddenChangeKind()
			change, err = b.changeRecipient(changeKind)
		}

	case changeValue > 0:
		if b.needHiddenChange() && changeKind == KindPlain {
			changeKind = b.hiddenChangeKind()
		}
		change, err = b.changeRecipient(changeKind)

	case b.needHiddenChange():
		change, err = b.changeRecipient(b.hiddenChangeKind())
	}
	if err != nil {
		return nil, err
	}
	if change != nil {
		change.Amount = changeValue
	}

	tx := ctwire.NewMsgTx()
	inBlinds, err := b.addInputs(ctx, tx, sel)
	if err != nil {
		return nil, err
	}

	ordered := b.orderedRecipients(amounts, change)

	hidden := b.kind != KindPlain
	for _, rcp := range ordered {
		hidden = hidden || rcp.Kind != KindPlain
	}

	outputs, err := b.builder.BuildOutputs(
		ctx, tx, ordered, inBlinds, feePaid, hidden, prove,
	)
	if err != nil {
		return nil, err
	}

	required := b.feeRate.FeeForVSize(tx.VSize()) + b.cc.ExtraFee

	return &iteration{
		tx:       tx,
		sel:      sel,
		outputs:  outputs,
		ordered:  ordered,
		feePaid:  feePaid,
		required: required,
	}, nil
}

// hiddenChangeKind is the change kind used when the change must be hidden.
func (b *txBuilder) hiddenChangeKind() OutputKind {
	if b.changeKind != KindPlain {
		return b.changeKind
	}
	if b.kind != KindPlain {
		return b.kind
	}

	return KindBlinded
}

// run drives the fee loop until the fee matches the size, then builds the
// final transaction with real proofs.
func (b *txBuilder) run(ctx context.Context) (*AuthoredTx, error) {
	maxIter := b.w.cfg.MaxFeeIterations

	fee := btcutil.Amount(0)
	converged := false
	for iter := 0; iter < maxIter; iter++ {
		it, err := b.pass(ctx, fee, false)
		if err != nil {
			return nil, err
		}

		log.Tracef("Fee pass %d: fee=%v required=%v vsize=%d inputs=%d",
			iter, fee, it.required, it.tx.VSize(),
			len(it.sel.Coins))

		// A pass converges once the fee it was built with covers its
		// own size.
		if it.required <= fee {
			converged = true
			break
		}

		fee = it.required
	}
	if !converged {
		return nil, fmt.Errorf("%w after %d iterations, last fee %v",
			ErrFeeDidNotConverge, maxIter, fee)
	}

	final, err := b.pass(ctx, fee, true)
	if err != nil {
		return nil, err
	}

	atx := &AuthoredTx{
		Tx:          final.tx,
		InputKind:   b.kind,
		Outputs:     final.outputs,
		Fee:         final.feePaid,
		FeeRate:     b.feeRate,
		ChangeIndex: -1,
		FeeProbe:    b.cc.FeeProbe,
	}
	if b.kind == KindAnon {
		atx.Rings = b.rings
	} else {
		atx.Inputs = final.sel.Coins
	}
	for _, bo := range final.outputs {
		if bo.Recipient.IsChange {
			atx.ChangeIndex = int(bo.Index)
		}
	}

	if err := b.finalize(atx); err != nil {
		return nil, err
	}

	if vsize := atx.Tx.VSize(); b.feeRate.FeeForVSize(vsize) > atx.Fee {
		log.Warnf("Fee %v is below %v for final size %d", atx.Fee,
			b.feeRate, vsize)
	}

	log.Debugf("Built %s-input tx %v: fee=%v, %d outputs", b.kind,
		atx.Tx.TxHash(), atx.Fee, len(atx.Tx.TxOut))
	log.Tracef("Built tx: %v", newLogClosure(func() string {
		return spew.Sdump(atx.Tx)
	}))

	return atx, nil
}

// finalize fills key images, checks the balance and signs.
func (b *txBuilder) finalize(atx *AuthoredTx) error {
	// Clear the size placeholders.
	for _, in := range atx.Tx.TxIn {
		in.Witness = nil
		if in.Anon != nil {
			in.Anon.Signature = nil
		}
	}

	if atx.InputKind == KindAnon {
		if err := b.w.fillKeyImages(atx); err != nil {
			return err
		}
	}

	if err := checkBalance(atx); err != nil {
		return err
	}

	if b.cc.DontSign {
		return nil
	}

	return b.w.signTx(atx)
}

// checkBalance verifies the commitments of atx sum to zero.
func checkBalance(atx *AuthoredTx) error {
	var (
		ins, outs         []blind.Commitment
		plainIn, plainOut uint64
	)
	switch atx.InputKind {
	case KindPlain:
		for _, c := range atx.Inputs {
			plainIn += uint64(c.Value)
		}

	case KindBlinded:
		for _, c := range atx.Inputs {
			ins = append(ins, c.Commitment)
		}

	case KindAnon:
		for _, r := range atx.Rings {
			ins = append(ins, r.PseudoCommitment)
		}
	}

	for _, bo := range atx.Outputs {
		if bo.Kind == KindPlain {
			plainOut += uint64(bo.Value)
			continue
		}
		outs = append(outs, bo.Commitment)
	}

	err := blind.VerifyBalance(
		ins, outs, plainIn, plainOut, uint64(atx.Fee),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommitmentMismatch, err)
	}

	return nil
}
