// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/davecgh/go-spew/spew"
	"github.com/dmuralov/particl-core/txrecord"
)

// TxPublisher records and relays built transactions.
type TxPublisher interface {
	// TestMempoolAccept checks whether the mempool would take atx.
	TestMempoolAccept(ctx context.Context, atx *AuthoredTx) error

	// CommitTransaction records atx in the wallet without relaying it.
	CommitTransaction(ctx context.Context, atx *AuthoredTx) error

	// SendTransaction checks, records and relays atx.
	SendTransaction(ctx context.Context, atx *AuthoredTx) error
}

// A compile time check to ensure that Wallet implements the interface.
var _ TxPublisher = (*Wallet)(nil)

var (
	// ErrTxAlreadyKnown may be returned, wrapped, by a Publisher for a
	// transaction already in its mempool or chain.
	ErrTxAlreadyKnown = errors.New("transaction already known")

	// errAlreadyBroadcasted is a sentinel error used to indicate that a tx
	// has already been broadcasted.
	errAlreadyBroadcasted = errors.New("tx already broadcasted")

	// errNoPublisher is returned when relaying without a Publisher.
	errNoPublisher = errors.New("no publisher configured")
)

// TestMempoolAccept checks whether the mempool would take atx. Dry runs
// may be tested. A rejection is wrapped in ErrMempoolRejected.
func (w *Wallet) TestMempoolAccept(ctx context.Context,
	atx *AuthoredTx) error {

	if w.cfg.Publisher == nil {
		return errNoPublisher
	}
	if !atx.Signed {
		return ErrUnsigned
	}

	err := w.cfg.Publisher.TestMempoolAccept(ctx, atx.Tx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMempoolRejected, err)
	}

	return nil
}

// checkMempool runs the acceptance test before a relay.
func (w *Wallet) checkMempool(ctx context.Context, atx *AuthoredTx) error {
	err := w.TestMempoolAccept(ctx, atx)

	switch {
	// If the tx is already in the mempool or confirmed, we can return
	// early.
	case errors.Is(err, ErrTxAlreadyKnown):
		log.Infof("Tx %v already broadcasted", atx.Hash())
		return errAlreadyBroadcasted

	case err != nil:
		return err

	default:
		return nil
	}
}

// CommitTransaction verifies atx and records it: the spent outputs and key
// images are marked, owned outputs become spendable and the build leases
// are released. All writes happen in one database transaction. Committing
// the same transaction again changes nothing.
func (w *Wallet) CommitTransaction(ctx context.Context,
	atx *AuthoredTx) error {

	if err := w.state.validateStarted(); err != nil {
		return err
	}
	if atx.FeeProbe {
		return ErrFeeProbe
	}
	if err := w.verifyAuthored(ctx, atx); err != nil {
		return err
	}

	w.buildMtx.Lock()
	defer w.buildMtx.Unlock()

	err := walletdb.Update(w.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		return w.commitTx(
			tx.ReadWriteBucket(rtxNamespaceKey),
			tx.ReadWriteBucket(wtxmgrNamespaceKey), atx,
		)
	})
	if err != nil {
		return err
	}

	log.Infof("Committed %s-input tx %v, fee %v", atx.InputKind,
		atx.Hash(), atx.Fee)

	return nil
}

// checkDoubleSpend fails when an input of atx is already spent by another
// transaction.
func (w *Wallet) checkDoubleSpend(ns walletdb.ReadBucket,
	atx *AuthoredTx) error {

	hash := atx.Hash()
	for _, in := range anonInputs(atx.Tx) {
		for _, ki := range in.KeyImages {
			sp, err := w.store.FetchKeyImage(ns, ki)
			if err != nil {
				return err
			}
			if sp != nil && sp.Hash != hash {
				return fmt.Errorf("%w: %x spent by %v",
					ErrDuplicateKeyImage, ki[:], sp.Hash)
			}
		}
	}

	for _, coin := range atx.Inputs {
		sp, err := w.store.SpentBy(ns, coin.OutPoint)
		if err != nil {
			return err
		}
		if sp != nil && sp.Hash != hash {
			return fmt.Errorf("%w: %v spent by %v",
				ErrUtxoNotEligible, coin.OutPoint, sp.Hash)
		}
	}

	return nil
}

// commitTx writes atx to the ledger, or to the plain-only store when it has
// no hidden part.
func (w *Wallet) commitTx(rtxNs, wtxNs walletdb.ReadWriteBucket,
	atx *AuthoredTx) error {

	if err := w.checkDoubleSpend(rtxNs, atx); err != nil {
		return err
	}

	if isLegacyTx(atx) {
		if err := w.commitLegacy(wtxNs, atx); err != nil {
			return err
		}

		return w.releaseBuildLeases(rtxNs, spentOutPoints(atx))
	}

	hash := atx.Hash()
	rec, stx := w.BuildRecord(atx)
	if _, err := w.store.InsertRecord(rtxNs, rec); err != nil {
		return err
	}
	if err := w.store.PutStoredTx(rtxNs, hash, stx); err != nil {
		return err
	}

	for _, coin := range atx.Inputs {
		err := w.store.MarkSpent(rtxNs, coin.OutPoint, hash, 0)
		if err != nil {
			return err
		}
		err = w.store.MarkScriptUsed(rtxNs, coin.PkScript)
		if err != nil {
			return err
		}
	}

	ins := anonInputs(atx.Tx)
	for i, ring := range atx.Rings {
		for row, coin := range ring.Inputs {
			ki := ins[i].KeyImages[row]
			err := w.store.PutKeyImage(rtxNs, ki, hash, 0)
			if err != nil {
				return err
			}
			err = w.store.PutOwnedKeyImage(rtxNs, ki, coin.OutPoint)
			if err != nil {
				return err
			}
			err = w.store.MarkSpent(rtxNs, coin.OutPoint, hash, 0)
			if err != nil {
				return err
			}
		}
	}

	for _, bo := range atx.Outputs {
		if !bo.Recipient.Owned {
			continue
		}
		if err := w.recordOwnedOutput(rtxNs, hash, bo); err != nil {
			return fmt.Errorf("output %d: %w", bo.Index, err)
		}
	}

	return w.releaseBuildLeases(rtxNs, spentOutPoints(atx))
}

// recordOwnedOutput makes an output paying the wallet spendable: stealth
// keys are imported and anonymous outputs get their key image mapped.
func (w *Wallet) recordOwnedOutput(ns walletdb.ReadWriteBucket,
	hash chainhash.Hash, bo *BuiltOutput) error {

	rcp := bo.Recipient
	if rcp.AddrType != txrecord.AddrStealth && bo.Kind != KindAnon {
		return nil
	}

	priv, err := w.cfg.Keys.PrivKey(rcp.KeyPath)
	if err != nil {
		return err
	}

	if rcp.AddrType == txrecord.AddrStealth {
		desc := &KeyDescriptor{Path: rcp.KeyPath, PubKey: priv.PubKey()}
		if err := w.cfg.Keys.ImportKey(desc, priv); err != nil {
			return err
		}
	}

	if bo.Kind != KindAnon {
		return nil
	}

	ki, err := w.cfg.Crypto.KeyImage(rcp.PubKey, priv)
	if err != nil {
		return err
	}

	op := wire.OutPoint{Hash: hash, Index: bo.Index}

	return w.store.PutOwnedKeyImage(ns, ki, op)
}

// commitLegacy writes a plain-only transaction to the plain-only store.
func (w *Wallet) commitLegacy(ns walletdb.ReadWriteBucket,
	atx *AuthoredTx) error {

	rec, err := w.legacyRecord(atx)
	if err != nil {
		return err
	}

	if err := w.txStore.InsertTx(ns, rec, nil); err != nil {
		return err
	}
	for _, bo := range atx.Outputs {
		if !bo.Recipient.Owned {
			continue
		}
		err := w.txStore.AddCredit(
			ns, rec, nil, bo.Index, bo.Recipient.IsChange,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// legacyRecord returns the plain-only store record of atx, keyed by the
// transaction hash.
func (w *Wallet) legacyRecord(atx *AuthoredTx) (*wtxmgr.TxRecord, error) {
	msg, err := atx.Tx.ToWire()
	if err != nil {
		return nil, err
	}

	rec, err := wtxmgr.NewTxRecordFromMsgTx(msg, w.cfg.Clock.Now())
	if err != nil {
		return nil, err
	}
	rec.Hash = atx.Hash()

	return rec, nil
}

// SendTransaction checks atx against the mempool, commits it and relays it.
// When the relay fails the commit is rolled back and the rejection is
// returned wrapped in ErrMempoolRejected.
func (w *Wallet) SendTransaction(ctx context.Context,
	atx *AuthoredTx) error {

	if w.cfg.Publisher == nil {
		return errNoPublisher
	}

	// We'll start by checking if the tx is acceptable to the mempool.
	err := w.checkMempool(ctx, atx)
	if errors.Is(err, errAlreadyBroadcasted) {
		return w.CommitTransaction(ctx, atx)
	}
	if err != nil {
		return err
	}

	if err := w.CommitTransaction(ctx, atx); err != nil {
		return err
	}

	err = w.cfg.Publisher.SendTransaction(ctx, atx.Tx)
	if err == nil || errors.Is(err, ErrTxAlreadyKnown) {
		log.Infof("Published tx %v", atx.Hash())
		return nil
	}

	hash := atx.Hash()
	log.Errorf("%v: broadcast failed: %v", hash, err)

	// Keeping the record would let the wallet treat the inputs as spent
	// by a transaction that will never confirm.
	if removeErr := w.removeTx(atx); removeErr != nil {
		log.Errorf("Unable to remove tx %v after broadcast failed: %v",
			hash, removeErr)

		return fmt.Errorf("%w: %w; and failed to remove from "+
			"wallet: %v", ErrMempoolRejected, err, removeErr)
	}

	return fmt.Errorf("%w: %w", ErrMempoolRejected, err)
}

// removeTx rolls back the commit of atx.
func (w *Wallet) removeTx(atx *AuthoredTx) error {
	w.buildMtx.Lock()
	defer w.buildMtx.Unlock()

	hash := atx.Hash()
	err := walletdb.Update(w.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		if !isLegacyTx(atx) {
			return w.store.RemoveRecord(
				tx.ReadWriteBucket(rtxNamespaceKey), hash,
			)
		}

		rec, err := w.legacyRecord(atx)
		if err != nil {
			return err
		}

		return w.txStore.RemoveUnminedTx(
			tx.ReadWriteBucket(wtxmgrNamespaceKey), rec,
		)
	})
	if err != nil {
		return err
	}

	log.Infof("Removed invalid tx: %v", hash)

	var txRaw bytes.Buffer
	_ = atx.Tx.Serialize(&txRaw)

	const maxTxSizeForLog = 1_000_000
	if txRaw.Len() < maxTxSizeForLog {
		log.Debugf("Removed invalid tx: %v \n hex=%x",
			newLogClosure(func() string {
				return spew.Sdump(atx.Tx)
			}), txRaw.Bytes())
	} else {
		log.Debugf("Removed invalid tx %v due to its size "+
			"being too large", hash)
	}

	return nil
}

// AbandonTransaction gives up on an unconfirmed transaction. A ledger record
// is kept but marked abandoned and its inputs become spendable again. A
// plain-only transaction is removed from its store.
func (w *Wallet) AbandonTransaction(ctx context.Context,
	hash chainhash.Hash) error {

	if err := w.state.validateStarted(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.buildMtx.Lock()
	defer w.buildMtx.Unlock()

	err := walletdb.Update(w.cfg.DB, func(tx walletdb.ReadWriteTx) error {
		rtxNs := tx.ReadWriteBucket(rtxNamespaceKey)
		err := w.store.AbandonRecord(rtxNs, hash)
		if !txrecord.IsError(err, txrecord.ErrRecordNotFound) {
			return err
		}

		wtxNs := tx.ReadWriteBucket(wtxmgrNamespaceKey)
		details, err := w.txStore.TxDetails(wtxNs, &hash)
		if err != nil {
			return err
		}
		if details == nil {
			return fmt.Errorf("%w: %v", ErrTxNotFound, hash)
		}
		if details.Block.Height != -1 {
			return fmt.Errorf("%w: %v is confirmed",
				ErrStateForbidden, hash)
		}

		return w.txStore.RemoveUnminedTx(wtxNs, &details.TxRecord)
	})
	if err != nil {
		return err
	}

	log.Infof("Abandoned tx %v", hash)

	return nil
}
