// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/dmuralov/particl-core/pkg/feeunit"
	"github.com/dmuralov/particl-core/txrecord"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Coin is a spendable wallet output of any kind.
type Coin struct {
	wire.OutPoint

	Kind  OutputKind
	Value btcutil.Amount

	// PkScript is the script of plain and blinded outputs.
	PkScript []byte

	// Commitment and Blind open blinded and anonymous outputs.
	Commitment blind.Commitment
	Blind      blind.Blind

	// PubKey and AnonIndex identify anonymous outputs.
	PubKey    [33]byte
	AnonIndex int64

	// KeyPath identifies the spending key.
	KeyPath []byte

	Height       int32
	Confirmed    bool
	FromWallet   bool
	FromCoinBase bool
	Flags        txrecord.OutputFlags

	// Legacy is set for coins held by the plain-only store.
	Legacy bool

	// hasBlind is false for hidden coins whose blind is unknown.
	hasBlind bool
}

// conf returns the confirmation count at tip.
func (c *Coin) conf(tip int32) int32 {
	if !c.Confirmed || c.Height < 0 || tip < c.Height {
		return 0
	}

	return tip - c.Height + 1
}

// inputWeight estimates the weight the coin adds as an input.
func (c *Coin) inputWeight(ringSize int) feeunit.WeightUnit {
	if c.Kind == KindAnon {
		return feeunit.AnonInputWeight(1, ringSize)
	}

	return feeunit.PlainInputWeight()
}

// CoinSelectionStrategy orders eligible coins before they are handed to the
// input source.
type CoinSelectionStrategy interface {
	// ArrangeCoins takes a list of coins and arranges them according to
	// the strategy and fee rate.
	ArrangeCoins(eligible []*Coin, feeRate feeunit.SatPerKVByte) ([]*Coin,
		error)
}

var (
	// CoinSelectionBestFit adds, for the remaining target, the smallest
	// coin covering it, or the largest coin when none does.
	CoinSelectionBestFit CoinSelectionStrategy = &BestFitCoinSelector{}

	// CoinSelectionLargest always picks the largest available coin to add
	// to the transaction next.
	CoinSelectionLargest CoinSelectionStrategy = &LargestFirstCoinSelector{}

	// CoinSelectionRandom randomly selects the next coin to add to the
	// transaction.
	CoinSelectionRandom CoinSelectionStrategy = &RandomCoinSelector{}
)

// sortByAmount is a generic sortable type for sorting coins by their amount.
type sortByAmount []*Coin

func (s sortByAmount) Len() int { return len(s) }
func (s sortByAmount) Less(i, j int) bool {
	if s[i].Value == s[j].Value {
		return outPointLess(&s[i].OutPoint, &s[j].OutPoint)
	}

	return s[i].Value < s[j].Value
}
func (s sortByAmount) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// outPointLess orders outpoints for stable sorting.
func outPointLess(a, b *wire.OutPoint) bool {
	if a.Hash != b.Hash {
		for i := chainhash.HashSize - 1; i >= 0; i-- {
			if a.Hash[i] != b.Hash[i] {
				return a.Hash[i] < b.Hash[i]
			}
		}
	}

	return a.Index < b.Index
}

// BestFitCoinSelector arranges coins largest first. The input source of the
// wallet then picks, for each shortfall, the smallest coin covering it.
type BestFitCoinSelector struct{}

// ArrangeCoins sorts the coins largest first.
func (*BestFitCoinSelector) ArrangeCoins(eligible []*Coin,
	_ feeunit.SatPerKVByte) ([]*Coin, error) {

	sort.Sort(sort.Reverse(sortByAmount(eligible)))

	return eligible, nil
}

// LargestFirstCoinSelector is an implementation of the CoinSelectionStrategy
// that always selects the largest coins first.
type LargestFirstCoinSelector struct{}

// ArrangeCoins sorts the coins largest first.
func (*LargestFirstCoinSelector) ArrangeCoins(eligible []*Coin,
	_ feeunit.SatPerKVByte) ([]*Coin, error) {

	sort.Sort(sort.Reverse(sortByAmount(eligible)))

	return eligible, nil
}

// RandomCoinSelector is an implementation of the CoinSelectionStrategy that
// selects coins at random. This prevents the creation of ever smaller UTXOs
// over time that may never become economical to spend.
type RandomCoinSelector struct{}

// ArrangeCoins shuffles the coins that pay for themselves at feeRate.
func (*RandomCoinSelector) ArrangeCoins(eligible []*Coin,
	feeRate feeunit.SatPerKVByte) ([]*Coin, error) {

	// Skip inputs that do not raise the total transaction output
	// value at the requested fee rate.
	positivelyYielding := make([]*Coin, 0, len(eligible))
	for _, coin := range eligible {
		if !inputYieldsPositively(coin, feeRate) {
			continue
		}

		positivelyYielding = append(positivelyYielding, coin)
	}

	rand.Shuffle(len(positivelyYielding), func(i, j int) {
		positivelyYielding[i], positivelyYielding[j] =
			positivelyYielding[j], positivelyYielding[i]
	})

	return positivelyYielding, nil
}

// inputYieldsPositively returns a boolean indicating whether this input
// yields positively if added to a transaction. Plain coins are measured by
// their best case script spend size, hidden coins by their estimated input
// weight.
func inputYieldsPositively(coin *Coin, feeRate feeunit.SatPerKVByte) bool {
	var inputFee btcutil.Amount
	switch coin.Kind {
	case KindPlain:
		inputSize := txsizes.GetMinInputVirtualSize(coin.PkScript)
		inputFee = feeRate.FeeForVSize(inputSize)

	default:
		inputFee = feeRate.FeeForWeight(coin.inputWeight(DefaultRingSize))
	}

	return inputFee < coin.Value
}

// InputSelection is the result of SelectInputs.
type InputSelection struct {
	// Coins are the selected inputs, pinned ones first.
	Coins []*Coin

	// Total is the sum of the coin values.
	Total btcutil.Amount
}

// coinSelector runs one selection over a fixed candidate set. It keeps the
// coins chosen so far across calls, so raising the target only ever adds
// inputs.
type coinSelector struct {
	kind   OutputKind
	source txauthor.InputSource
	coins  map[wire.OutPoint]*Coin
	avail  btcutil.Amount
	max    int
}

// newCoinSelector builds the input source of pinned and ordered coins.
func newCoinSelector(kind OutputKind, pinned, ordered []*Coin, bestFit bool,
	maxInputs int) *coinSelector {

	s := &coinSelector{
		kind:  kind,
		coins: make(map[wire.OutPoint]*Coin, len(pinned)+len(ordered)),
		max:   maxInputs,
	}
	for _, c := range pinned {
		s.coins[c.OutPoint] = c
		s.avail += c.Value
	}
	for _, c := range ordered {
		s.coins[c.OutPoint] = c
		s.avail += c.Value
	}

	s.source = makeInputSource(pinned, ordered, bestFit)

	return s
}

// makeInputSource returns a txauthor.InputSource that always spends pinned
// and then adds coins from eligible until the target is met. With bestFit
// each step takes the smallest coin covering the remaining target, or the
// largest coin when none does; eligible must be sorted largest first.
func makeInputSource(pinned, eligible []*Coin,
	bestFit bool) txauthor.InputSource {

	// Current inputs and their total value. These are closed over by the
	// returned input source and reused across multiple calls.
	currentTotal := btcutil.Amount(0)
	currentInputs := make([]*wire.TxIn, 0, len(pinned)+len(eligible))
	currentScripts := make([][]byte, 0, len(pinned)+len(eligible))
	currentInputValues := make([]btcutil.Amount, 0,
		len(pinned)+len(eligible))

	add := func(c *Coin) {
		outpoint := c.OutPoint
		currentInputs = append(
			currentInputs, wire.NewTxIn(&outpoint, nil, nil),
		)
		currentScripts = append(currentScripts, c.PkScript)
		currentInputValues = append(currentInputValues, c.Value)
		currentTotal += c.Value
	}
	for _, c := range pinned {
		add(c)
	}

	remaining := append([]*Coin(nil), eligible...)

	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn,
		[]btcutil.Amount, [][]byte, error) {

		for currentTotal < target && len(remaining) != 0 {
			next := 0
			if bestFit {
				next = bestFitIndex(remaining, target-currentTotal)
			}

			add(remaining[next])
			remaining = append(remaining[:next], remaining[next+1:]...)
		}

		return currentTotal, currentInputs, currentInputValues,
			currentScripts, nil
	}
}

// bestFitIndex returns the index of the smallest coin of at least need in
// coins sorted largest first, or 0 when no coin covers need.
func bestFitIndex(coins []*Coin, need btcutil.Amount) int {
	best := 0
	for i, c := range coins {
		if c.Value < need {
			break
		}
		best = i
	}

	return best
}

// Select returns inputs worth at least target.
func (s *coinSelector) Select(target btcutil.Amount) (*InputSelection,
	error) {

	total, txIns, _, _, err := s.source(target)
	if err != nil {
		return nil, err
	}

	if total < target {
		return nil, fmt.Errorf("%w: %v %s spendable, need %v",
			ErrInsufficientFunds, s.avail, s.kind, target)
	}
	if s.max > 0 && len(txIns) > s.max {
		return nil, fmt.Errorf("%w: need %d inputs, limit is %d",
			ErrInsufficientFunds, len(txIns), s.max)
	}

	sel := &InputSelection{
		Coins: make([]*Coin, 0, len(txIns)),
		Total: total,
	}
	for _, in := range txIns {
		sel.Coins = append(sel.Coins, s.coins[in.PreviousOutPoint])
	}

	return sel, nil
}

// snapshot is the wallet state a build selects from.
type snapshot struct {
	tip     int32
	rtxNs   walletdb.ReadBucket
	wtxNs   walletdb.ReadBucket
	stored  map[chainhash.Hash]*txrecord.StoredTransaction
	anonIdx AnonIndex
}

// listCoins returns every unspent wallet coin of kind, spendable or not.
func (w *Wallet) listCoins(ctx context.Context, snap *snapshot,
	kind OutputKind) ([]*Coin, error) {

	credits, err := w.store.UnspentOutputs(snap.rtxNs, kind)
	if err != nil {
		return nil, err
	}

	coins := make([]*Coin, 0, len(credits))
	for i := range credits {
		coin, err := w.coinFromCredit(ctx, snap, &credits[i])
		if err != nil {
			return nil, err
		}
		if coin == nil {
			continue
		}
		coins = append(coins, coin)
	}

	if kind != KindPlain {
		return coins, nil
	}

	legacy, err := w.txStore.UnspentOutputs(snap.wtxNs)
	if err != nil {
		return nil, err
	}
	for i := range legacy {
		credit := &legacy[i]

		// Plain-only outputs spent by a confidential transaction are
		// only known to the ledger.
		sp, err := w.store.SpentBy(snap.rtxNs, credit.OutPoint)
		if err != nil {
			return nil, err
		}
		if sp != nil {
			continue
		}

		desc, ok := w.cfg.Keys.LookupScript(credit.PkScript)
		if !ok {
			continue
		}

		var flags txrecord.OutputFlags
		flags |= txrecord.FlagOwned
		if desc.WatchOnly {
			flags |= txrecord.FlagWatchOnly
		}

		coins = append(coins, &Coin{
			OutPoint:     credit.OutPoint,
			Kind:         KindPlain,
			Value:        credit.Amount,
			PkScript:     credit.PkScript,
			KeyPath:      desc.Path,
			Height:       credit.Height,
			Confirmed:    credit.Height >= 0,
			FromWallet:   true,
			FromCoinBase: credit.FromCoinBase,
			Flags:        flags,
			Legacy:       true,
		})
	}

	return coins, nil
}

// storedTx returns the stored transaction of hash, caching it in snap.
func (w *Wallet) storedTx(snap *snapshot,
	hash chainhash.Hash) (*txrecord.StoredTransaction, error) {

	if stx, ok := snap.stored[hash]; ok {
		return stx, nil
	}

	stx, err := w.store.FetchStoredTx(snap.rtxNs, hash)
	if txrecord.IsError(err, txrecord.ErrRecordNotFound) {
		stx = nil
	} else if err != nil {
		return nil, err
	}
	snap.stored[hash] = stx

	return stx, nil
}

// coinFromCredit turns a ledger credit into a coin. Hidden coins whose
// anonymous index is unknown are skipped, as they cannot be put in a ring.
func (w *Wallet) coinFromCredit(ctx context.Context, snap *snapshot,
	credit *txrecord.Credit) (*Coin, error) {

	out := &credit.Output
	coin := &Coin{
		OutPoint:   credit.OutPoint,
		Kind:       out.Kind,
		Value:      out.Value,
		PkScript:   out.Script,
		KeyPath:    out.KeyPath,
		Height:     credit.BlockHeight,
		Confirmed:  credit.Confirmed,
		FromWallet: credit.FromWallet,
		Flags:      out.Flags,
	}
	if out.Kind == KindPlain {
		return coin, nil
	}

	stx, err := w.storedTx(snap, credit.Hash)
	if err != nil {
		return nil, err
	}
	if stx == nil || int(credit.Index) >= len(stx.Tx.TxOut) {
		log.Warnf("No stored transaction for hidden output %v",
			credit.OutPoint)
		return nil, nil
	}

	txOut := stx.Tx.TxOut[credit.Index]
	commitment, ok := ctwire.OutputCommitment(txOut)
	if !ok {
		log.Warnf("Output %v is not hidden", credit.OutPoint)
		return nil, nil
	}
	coin.Commitment = commitment
	coin.Blind, coin.hasBlind = stx.GetBlind(credit.Index)

	if out.Kind != KindAnon {
		return coin, nil
	}

	coin.PubKey, _ = stx.GetAnonPubKey(credit.Index)
	idx, ok, err := w.store.FetchAnonIndex(snap.rtxNs, credit.OutPoint)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Unmined outputs have no index yet; look it up in case the
		// index saw the block first.
		ao, err := snap.anonIdx.FetchByPubKey(ctx, coin.PubKey)
		if err != nil {
			log.Tracef("Anon output %v not indexed yet",
				credit.OutPoint)
			return nil, nil
		}
		idx = ao.Index
	}
	coin.AnonIndex = idx

	return coin, nil
}

// filter reports whether an automatically selected coin may be spent under
// cc, and why not.
func (w *Wallet) filter(ctx context.Context, snap *snapshot, coin *Coin,
	cc *CoinControl, forSpend bool) (string, error) {

	if coin.Flags&(txrecord.FlagWatchOnly|txrecord.FlagStakeOnly) != 0 &&
		forSpend {

		return "watch-only", nil
	}

	if coin.Kind != KindPlain && !coin.hasBlind {
		return "blind unknown", nil
	}

	conf := coin.conf(snap.tip)
	if conf < cc.MinDepth || conf > cc.maxDepth() {
		return "depth", nil
	}

	// Unconfirmed coins received from others are not trusted.
	if conf == 0 && !coin.FromWallet {
		return "untrusted", nil
	}

	if coin.FromCoinBase && conf < w.cfg.CoinbaseMaturity &&
		(forSpend || !cc.IncludeImmature) {

		return "immature", nil
	}

	if coin.Flags.Has(txrecord.FlagLocked) && (coin.Kind == KindPlain ||
		!cc.SpendFrozenBlinded) {

		return "frozen", nil
	}

	if coin.Kind == KindAnon {
		ao, err := snap.anonIdx.FetchByIndex(ctx, coin.AnonIndex)
		if err != nil {
			return "", err
		}
		if ao.Blacklisted && !(cc.SpendFrozenBlinded &&
			cc.IncludeTaintedFrozen) {

			return "tainted", nil
		}
	}

	if !cc.AllowLocked {
		lease, err := w.store.IsLeased(snap.rtxNs, coin.OutPoint)
		if err != nil {
			return "", err
		}
		if lease != nil {
			return "leased", nil
		}
	}

	if cc.AvoidReuse && len(coin.PkScript) > 0 {
		used, err := w.store.IsScriptUsed(snap.rtxNs, coin.PkScript)
		if err != nil {
			return "", err
		}
		if used {
			return "reused", nil
		}
	}

	return "", nil
}

// pinnedCoins resolves the pinned inputs of cc. Pinned coins skip the depth
// filters but must be owned, of kind and not leased by someone else.
func (w *Wallet) pinnedCoins(snap *snapshot, all []*Coin, kind OutputKind,
	cc *CoinControl) ([]*Coin, error) {

	byOutPoint := make(map[wire.OutPoint]*Coin, len(all))
	for _, c := range all {
		byOutPoint[c.OutPoint] = c
	}

	pinned := make([]*Coin, 0, len(cc.Inputs))
	for _, op := range cc.Inputs {
		coin, ok := byOutPoint[op]
		if !ok {
			return nil, fmt.Errorf("%w: %v is not an unspent %s "+
				"output", ErrUtxoNotEligible, op, kind)
		}
		if coin.Flags&(txrecord.FlagWatchOnly|
			txrecord.FlagStakeOnly) != 0 {

			return nil, fmt.Errorf("%w: %v is watch-only",
				ErrUtxoNotEligible, op)
		}
		if kind != KindPlain && !coin.hasBlind {
			return nil, fmt.Errorf("%w: %v", ErrMissingBlindingFactor,
				op)
		}

		lease, err := w.store.IsLeased(snap.rtxNs, op)
		if err != nil {
			return nil, err
		}
		if lease != nil && lease.LeaseID != w.leaseID &&
			!cc.AllowLocked {

			return nil, fmt.Errorf("%w: %v leased until %v",
				ErrLockedOutputConflict, op, lease.Expiration)
		}

		if conf := coin.conf(snap.tip); conf < cc.MinDepth {
			log.Warnf("Spending pinned output %v with %d "+
				"confirmations, below min depth %d", op, conf,
				cc.MinDepth)
		}

		pinned = append(pinned, coin)
	}

	return pinned, nil
}

// eligibleCoins returns the automatically selectable coins of kind.
func (w *Wallet) eligibleCoins(ctx context.Context, snap *snapshot,
	all []*Coin, cc *CoinControl) ([]*Coin, error) {

	pinned := fn.NewSet(cc.Inputs...)

	eligible := make([]*Coin, 0, len(all))
	for _, coin := range all {
		if pinned.Contains(coin.OutPoint) {
			continue
		}

		reason, err := w.filter(ctx, snap, coin, cc, true)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			log.Tracef("Skipping %s output %v: %s", coin.Kind,
				coin.OutPoint, reason)
			continue
		}

		eligible = append(eligible, coin)
	}

	return eligible, nil
}

// newSelector prepares the selection of kind under cc. target is the first
// target of the build and decides whether anonymous coins are taken at
// random.
func (w *Wallet) newSelector(ctx context.Context, snap *snapshot,
	kind OutputKind, target btcutil.Amount, cc *CoinControl,
	feeRate feeunit.SatPerKVByte) (*coinSelector, error) {

	all, err := w.listCoins(ctx, snap, kind)
	if err != nil {
		return nil, err
	}

	pinned, err := w.pinnedCoins(snap, all, kind, cc)
	if err != nil {
		return nil, err
	}

	// Without permission to add inputs the pinned set is final.
	if len(pinned) > 0 && !cc.AllowOtherInputs {
		return newCoinSelector(kind, pinned, nil, false, cc.MaxInputs),
			nil
	}

	eligible, err := w.eligibleCoins(ctx, snap, all, cc)
	if err != nil {
		return nil, err
	}

	strategy := cc.Strategy
	if strategy == nil {
		strategy = CoinSelectionBestFit
		if kind == KindAnon && needsManyInputs(
			eligible, pinned, target, w.cfg.PreferMaxAnonInputs,
		) {

			log.Debugf("Selecting anon inputs at random, more "+
				"than %d needed", w.cfg.PreferMaxAnonInputs)
			strategy = CoinSelectionRandom
		}
	}

	ordered, err := strategy.ArrangeCoins(eligible, feeRate)
	if err != nil {
		return nil, err
	}

	_, bestFit := strategy.(*BestFitCoinSelector)

	return newCoinSelector(kind, pinned, ordered, bestFit, cc.MaxInputs),
		nil
}

// needsManyInputs reports whether largest-first selection needs more than
// limit coins to reach target.
func needsManyInputs(eligible, pinned []*Coin, target btcutil.Amount,
	limit int) bool {

	sorted := append([]*Coin(nil), eligible...)
	sort.Sort(sort.Reverse(sortByAmount(sorted)))

	var total btcutil.Amount
	n := len(pinned)
	for _, c := range pinned {
		total += c.Value
	}
	for _, c := range sorted {
		if total >= target {
			break
		}
		total += c.Value
		n++
	}

	return n > limit
}

// SelectInputs returns inputs of kind worth at least target. It reads the
// ledger only; nothing is reserved.
func (w *Wallet) SelectInputs(ctx context.Context, kind OutputKind,
	target btcutil.Amount, cc *CoinControl) (*InputSelection, error) {

	if cc == nil {
		cc = &CoinControl{}
	}
	if err := cc.validate(kind); err != nil {
		return nil, err
	}

	var sel *InputSelection
	err := w.withSnapshot(ctx, func(snap *snapshot) error {
		feeRate := cc.FeeRate.UnwrapOr(w.cfg.FeeRate)
		selector, err := w.newSelector(
			ctx, snap, kind, target, cc, feeRate,
		)
		if err != nil {
			return err
		}

		sel, err = selector.Select(target)

		return err
	})
	if err != nil {
		return nil, err
	}

	return sel, nil
}
