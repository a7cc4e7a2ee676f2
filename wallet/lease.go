// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/dmuralov/particl-core/txrecord"
)

// knownOutput reports whether op is an output the wallet owns in either
// store.
func (w *Wallet) knownOutput(rtxNs, wtxNs walletdb.ReadBucket,
	op wire.OutPoint) (bool, error) {

	rec, err := w.store.FetchRecord(rtxNs, op.Hash)
	switch {
	case err == nil:
		out := rec.GetOutput(op.Index)
		return out != nil && out.Flags.Has(txrecord.FlagOwned), nil

	case !txrecord.IsError(err, txrecord.ErrRecordNotFound):
		return false, err
	}

	details, err := w.txStore.TxDetails(wtxNs, &op.Hash)
	if err != nil || details == nil {
		return false, err
	}
	for _, credit := range details.Credits {
		if credit.Index == op.Index {
			return true, nil
		}
	}

	return false, nil
}

// LeaseOutput reserves a wallet output for id until duration from now. A
// lease id already holds is extended. It returns the expiry.
func (w *Wallet) LeaseOutput(ctx context.Context, id txrecord.LeaseID,
	op wire.OutPoint, duration time.Duration) (time.Time, error) {

	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	var expiry time.Time
	err := walletdb.Update(w.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		rtxNs := tx.ReadWriteBucket(rtxNamespaceKey)
		wtxNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)

		known, err := w.knownOutput(rtxNs, wtxNs, op)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("%w: %v is not a wallet output",
				ErrUtxoNotEligible, op)
		}

		expiry, err = w.store.LeaseOutput(rtxNs, id, op, duration)

		return err
	})
	if txrecord.IsError(err, txrecord.ErrOutputLeased) {
		return time.Time{}, fmt.Errorf("%w: %v", ErrLockedOutputConflict,
			err)
	}
	if err != nil {
		return time.Time{}, err
	}

	log.Debugf("Leased %v until %v", op, expiry)

	return expiry, nil
}

// ReleaseOutput drops the lease id holds on op.
func (w *Wallet) ReleaseOutput(ctx context.Context, id txrecord.LeaseID,
	op wire.OutPoint) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	return walletdb.Update(w.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		return w.store.ReleaseOutput(
			tx.ReadWriteBucket(rtxNamespaceKey), id, op,
		)
	})
}

// ListLeasedOutputs returns every live lease.
func (w *Wallet) ListLeasedOutputs(
	ctx context.Context) ([]*txrecord.LeasedOutput, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var leases []*txrecord.LeasedOutput
	err := walletdb.View(w.cfg.DB, func(tx walletdb.ReadTx) error {
		var err error
		leases, err = w.store.ListLeases(tx.ReadBucket(rtxNamespaceKey))

		return err
	})

	return leases, err
}

// leaseOutputs takes build leases on ops in one database transaction.
func (w *Wallet) leaseOutputs(ops []wire.OutPoint) error {
	return walletdb.Update(w.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		ns := tx.ReadWriteBucket(rtxNamespaceKey)
		for _, op := range ops {
			_, err := w.store.LeaseOutput(
				ns, w.leaseID, op, w.cfg.LeaseDuration,
			)
			if err != nil {
				return fmt.Errorf("lease %v: %w", op, err)
			}
		}

		return nil
	})
}

// releaseBuildLeases drops the build leases held on ops. Outputs not leased
// by the wallet are skipped.
func (w *Wallet) releaseBuildLeases(ns walletdb.ReadWriteBucket,
	ops []wire.OutPoint) error {

	for _, op := range ops {
		err := w.store.ReleaseOutput(ns, w.leaseID, op)
		if txrecord.IsError(err, txrecord.ErrLeaseNotFound) {
			continue
		}
		if err != nil {
			return err
		}
	}

	return nil
}

// sweepExpiredLeases deletes expired leases.
func (w *Wallet) sweepExpiredLeases() (int, error) {
	var n int
	err := walletdb.Update(w.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		var err error
		n, err = w.store.DeleteExpiredLeases(
			tx.ReadWriteBucket(rtxNamespaceKey),
		)

		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Debugf("Deleted %d expired leases", n)
	}

	return n, nil
}

// leaseSweeper deletes expired leases on every tick until the wallet stops.
func (w *Wallet) leaseSweeper() {
	defer w.wg.Done()

	t := w.cfg.LeaseSweepTicker
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-t.Ticks():
			if _, err := w.sweepExpiredLeases(); err != nil {
				log.Errorf("Unable to sweep leases: %v", err)
			}

		case <-w.lifetimeCtx.Done():
			return
		}
	}
}
