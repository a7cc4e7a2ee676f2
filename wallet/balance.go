// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/dmuralov/particl-core/txrecord"
)

// Balance sums the unspent outputs of one kind.
type Balance struct {
	// Trusted is confirmed value plus unconfirmed value the wallet sent
	// to itself.
	Trusted btcutil.Amount

	// UntrustedPending is unconfirmed value received from others.
	UntrustedPending btcutil.Amount

	// Immature is coinbase and coinstake value below maturity.
	Immature btcutil.Amount

	// WatchOnly is value the wallet sees but cannot spend.
	WatchOnly btcutil.Amount
}

// Total returns the sum of every bucket.
func (b *Balance) Total() btcutil.Amount {
	return b.Trusted + b.UntrustedPending + b.Immature + b.WatchOnly
}

// Balances holds a Balance per output kind. Amounts of different kinds are
// not fungible and are never added together.
type Balances struct {
	Plain   Balance
	Blinded Balance
	Anon    Balance
}

// Of returns the balance of kind.
func (b *Balances) Of(kind OutputKind) *Balance {
	switch kind {
	case KindBlinded:
		return &b.Blinded

	case KindAnon:
		return &b.Anon

	default:
		return &b.Plain
	}
}

// add counts coin in the bucket it belongs to at tip.
func (b *Balance) add(coin *Coin, tip, maturity int32) {
	conf := coin.conf(tip)
	switch {
	case coin.Flags&(txrecord.FlagWatchOnly|txrecord.FlagStakeOnly) != 0:
		b.WatchOnly += coin.Value

	case coin.FromCoinBase && conf < maturity:
		b.Immature += coin.Value

	case conf == 0 && !coin.FromWallet:
		b.UntrustedPending += coin.Value

	default:
		b.Trusted += coin.Value
	}
}

// Balances returns the balance of every kind, including the plain-only
// store.
func (w *Wallet) Balances(ctx context.Context) (*Balances, error) {
	var bals Balances
	err := w.withSnapshot(ctx, func(snap *snapshot) error {
		for _, kind := range []OutputKind{
			KindPlain, KindBlinded, KindAnon,
		} {

			coins, err := w.balanceCoins(ctx, snap, kind)
			if err != nil {
				return err
			}

			bal := bals.Of(kind)
			for _, coin := range coins {
				bal.add(coin, snap.tip, w.cfg.CoinbaseMaturity)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debugf("Balances: plain=%v blind=%v anon=%v",
		bals.Plain.Total(), bals.Blinded.Total(), bals.Anon.Total())

	return &bals, nil
}

// balanceCoins lists the unspent outputs of kind. Unlike listCoins it keeps
// anonymous outputs the index has not seen yet.
func (w *Wallet) balanceCoins(ctx context.Context, snap *snapshot,
	kind OutputKind) ([]*Coin, error) {

	if kind != KindAnon {
		return w.listCoins(ctx, snap, kind)
	}

	credits, err := w.store.UnspentOutputs(snap.rtxNs, kind)
	if err != nil {
		return nil, err
	}

	coins := make([]*Coin, 0, len(credits))
	for i := range credits {
		credit := &credits[i]
		coins = append(coins, &Coin{
			OutPoint:   credit.OutPoint,
			Kind:       kind,
			Value:      credit.Output.Value,
			Height:     credit.BlockHeight,
			Confirmed:  credit.Confirmed,
			FromWallet: credit.FromWallet,
			Flags:      credit.Output.Flags,
		})
	}

	return coins, nil
}

// ListUnspent returns the unspent outputs of kind that pass the depth and
// maturity filters of cc, ordered by outpoint. Leased and watch-only
// outputs are included.
func (w *Wallet) ListUnspent(ctx context.Context, kind OutputKind,
	cc *CoinControl) ([]*Coin, error) {

	if cc == nil {
		cc = &CoinControl{}
	}

	var unspent []*Coin
	err := w.withSnapshot(ctx, func(snap *snapshot) error {
		coins, err := w.listCoins(ctx, snap, kind)
		if err != nil {
			return err
		}

		listCC := *cc
		listCC.AllowLocked = true
		for _, coin := range coins {
			reason, err := w.filter(ctx, snap, coin, &listCC, false)
			if err != nil {
				return err
			}
			if reason != "" {
				log.Tracef("Unspent %v hidden: %s", coin.OutPoint,
					reason)
				continue
			}

			unspent = append(unspent, coin)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(unspent, func(i, j int) bool {
		return outPointLess(&unspent[i].OutPoint, &unspent[j].OutPoint)
	})

	return unspent, nil
}
