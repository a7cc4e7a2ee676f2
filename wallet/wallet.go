// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/dmuralov/particl-core/txrecord"
)

// buildLeaseID owns the leases a build takes on its inputs. Leases of any
// other id are foreign to the wallet's builds.
var buildLeaseID = txrecord.LeaseID(sha256.Sum256([]byte("rtx/build")))

// Wallet builds, records and publishes transactions with plain, blinded and
// anonymous parts.
type Wallet struct {
	cfg *Config

	// store is the ledger of transactions with hidden parts.
	store *txrecord.Store

	// txStore holds plain-only transactions.
	txStore *wtxmgr.Store

	resolver *Resolver

	state walletState

	// leaseID owns the leases taken by builds.
	leaseID txrecord.LeaseID

	// buildMtx serializes builds, commits and rollbacks. Two builds
	// holding it in turn never select the same unspent output once the
	// first has been committed or leased.
	buildMtx sync.Mutex

	lifetimeCtx context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New opens the wallet namespaces in cfg.DB, creating them on first use.
func New(cfg *Config) (*Wallet, error) {
	if cfg == nil {
		return nil, errMissingConfig
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	w := &Wallet{
		cfg:      cfg,
		resolver: NewResolver(cfg.ChainParams, cfg.Keys, cfg.Rand),
		leaseID:  buildLeaseID,
	}

	err := walletdb.Update(cfg.DB, func(tx walletdb.ReadWriteTx) error {
		rtxNs, err := openNamespace(tx, rtxNamespaceKey, txrecord.Create)
		if err != nil {
			return err
		}
		w.store, err = txrecord.Open(rtxNs, cfg.Clock)
		if err != nil {
			return err
		}

		wtxNs, err := openNamespace(tx, wtxmgrNamespaceKey, wtxmgr.Create)
		if err != nil {
			return err
		}
		w.txStore, err = wtxmgr.Open(wtxNs, cfg.ChainParams)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open wallet stores: %w", err)
	}

	return w, nil
}

// openNamespace returns the top level bucket key, creating and initializing
// it with create when missing.
func openNamespace(tx walletdb.ReadWriteTx, key []byte,
	create func(walletdb.ReadWriteBucket) error) (walletdb.ReadWriteBucket,
	error) {

	if ns := tx.ReadWriteBucket(key); ns != nil {
		return ns, nil
	}

	ns, err := tx.CreateTopLevelBucket(key)
	if err != nil {
		return nil, err
	}
	if err := create(ns); err != nil {
		return nil, err
	}
	log.Infof("Created wallet namespace %s", key)

	return ns, nil
}

// Start deletes expired leases and launches the lease sweeper.
func (w *Wallet) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.state.toStarting(); err != nil {
		return err
	}

	w.lifetimeCtx, w.cancel = context.WithCancel(context.Background())

	if _, err := w.sweepExpiredLeases(); err != nil {
		w.cancel()
		w.state.toStopped()

		return err
	}

	w.wg.Add(1)
	go w.leaseSweeper()

	w.state.toStarted()
	log.Infof("Wallet started, %v", w.state.String())

	return nil
}

// Stop signals the background goroutines to exit and waits for them. It
// returns an error if ctx is canceled first.
func (w *Wallet) Stop(ctx context.Context) error {
	if err := w.state.toStopping(); err != nil {
		log.Warnf("Wallet already stopped: %v", err)
		return nil
	}

	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stop request cancelled: %w", ctx.Err())
	}

	w.state.toStopped()
	log.Infof("Wallet stopped")

	return nil
}

// withSnapshot runs f against a consistent read view of the wallet.
func (w *Wallet) withSnapshot(ctx context.Context,
	f func(snap *snapshot) error) error {

	tip, _, err := w.cfg.Chain.BestBlock(ctx)
	if err != nil {
		return fmt.Errorf("best block: %w", err)
	}

	return walletdb.View(w.cfg.DB, func(tx walletdb.ReadTx) error {
		snap := &snapshot{
			tip:     tip,
			rtxNs:   tx.ReadBucket(rtxNamespaceKey),
			wtxNs:   tx.ReadBucket(wtxmgrNamespaceKey),
			anonIdx: w.cfg.AnonIndex,
			stored: make(
				map[chainhash.Hash]*txrecord.StoredTransaction,
			),
		}

		return f(snap)
	})
}

// ResolveRecipients expands requests into recipients without touching wallet
// state.
func (w *Wallet) ResolveRecipients(
	reqs []RecipientRequest) ([]*Recipient, error) {

	return w.resolver.ResolveRecipients(reqs)
}

// BuildWithFee builds a transaction spending inputs of kind to recipients.
// Nothing is leased or recorded.
func (w *Wallet) BuildWithFee(ctx context.Context, kind OutputKind,
	recipients []*Recipient, cc *CoinControl) (*AuthoredTx, error) {

	if cc == nil {
		cc = &CoinControl{}
	}
	if err := cc.validate(kind); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	w.buildMtx.Lock()
	defer w.buildMtx.Unlock()

	return w.buildWithFee(ctx, kind, recipients, cc)
}

// buildWithFee runs the fee loop in a snapshot. The caller holds buildMtx.
func (w *Wallet) buildWithFee(ctx context.Context, kind OutputKind,
	recipients []*Recipient, cc *CoinControl) (*AuthoredTx, error) {

	var atx *AuthoredTx
	err := w.withSnapshot(ctx, func(snap *snapshot) error {
		b := w.newTxBuilder(snap, kind, recipients, cc)

		selector, err := w.newSelector(
			ctx, snap, kind, b.totalRequested(), cc, b.feeRate,
		)
		if err != nil {
			return err
		}
		b.selector = selector

		atx, err = b.run(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return atx, nil
}

// BuildStandardInputs builds a transaction spending plain inputs.
func (w *Wallet) BuildStandardInputs(ctx context.Context,
	reqs []RecipientRequest, cc *CoinControl) (*AuthoredTx, error) {

	return w.buildInputs(ctx, KindPlain, reqs, cc)
}

// BuildBlindedInputs builds a transaction spending blinded inputs.
func (w *Wallet) BuildBlindedInputs(ctx context.Context,
	reqs []RecipientRequest, cc *CoinControl) (*AuthoredTx, error) {

	return w.buildInputs(ctx, KindBlinded, reqs, cc)
}

// BuildAnonInputs builds a transaction spending anonymous inputs through
// rings.
func (w *Wallet) BuildAnonInputs(ctx context.Context,
	reqs []RecipientRequest, cc *CoinControl) (*AuthoredTx, error) {

	return w.buildInputs(ctx, KindAnon, reqs, cc)
}

// buildInputs resolves reqs and builds under the build lock. With
// LockUnspents the inputs are leased before the lock is released, unless
// the build is a fee probe.
func (w *Wallet) buildInputs(ctx context.Context, kind OutputKind,
	reqs []RecipientRequest, cc *CoinControl) (*AuthoredTx, error) {

	if err := w.state.validateStarted(); err != nil {
		return nil, err
	}
	if cc == nil {
		cc = &CoinControl{}
	}
	if err := cc.validate(kind); err != nil {
		return nil, err
	}

	if cc.SplitBlindOutput && kind == KindPlain {
		reqs = splitBlindOutput(reqs, w.cfg.MinBlindedValue)
	}

	recipients, err := w.resolver.ResolveRecipients(reqs)
	if err != nil {
		return nil, err
	}

	w.buildMtx.Lock()
	defer w.buildMtx.Unlock()

	atx, err := w.buildWithFee(ctx, kind, recipients, cc)
	if err != nil {
		return nil, err
	}

	if cc.LockUnspents && !cc.FeeProbe {
		if err := w.leaseOutputs(spentOutPoints(atx)); err != nil {
			return nil, err
		}
		atx.Leased = true
	}

	return atx, nil
}
