// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/btcsuite/btcwallet/wtxmgr"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/dmuralov/particl-core/txrecord"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BlockMeta locates a confirmed transaction.
type BlockMeta struct {
	Hash   chainhash.Hash
	Height int32

	// Index is the position of the transaction in the block.
	Index int32
	Time  time.Time
}

// ScanResult summarizes what ScanTransaction recorded.
type ScanResult struct {
	Hash chainhash.Hash

	// Owned lists the outputs paying the wallet.
	Owned []txrecord.OutputRecord

	// Spent lists the wallet outputs the transaction spends.
	Spent []wire.OutPoint

	// Legacy is set when the transaction went to the plain-only store.
	Legacy bool
}

// Relevant reports whether the transaction touches the wallet.
func (r *ScanResult) Relevant() bool {
	return len(r.Owned) > 0 || len(r.Spent) > 0
}

// ownerKey is the wallet key an output pays to.
type ownerKey struct {
	desc *KeyDescriptor

	// priv is nil for watch-only keys.
	priv *btcec.PrivateKey

	stealth   bool
	shared    blind.Nonce
	stakeOnly bool
}

// scannedOutput is an owned output found by the scanner.
type scannedOutput struct {
	rec      txrecord.OutputRecord
	owner    *ownerKey
	blind    fn.Option[blind.Blind]
	keyImage fn.Option[blind.KeyImage]
	pubKey   [33]byte
}

// ScanTransaction classifies the outputs of an observed transaction, opens
// the hidden amounts paid to the wallet and marks wallet outputs it spends.
// Scanning the same transaction again, for example once it confirms, only
// updates its block data.
func (w *Wallet) ScanTransaction(ctx context.Context, tx *ctwire.MsgTx,
	block *BlockMeta) (*ScanResult, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	owned, err := w.scanOutputs(tx)
	if err != nil {
		return nil, err
	}

	w.buildMtx.Lock()
	defer w.buildMtx.Unlock()

	res := &ScanResult{Hash: tx.TxHash()}
	err = walletdb.Update(w.cfg.DB, func(dbtx walletdb.ReadWriteTx) error {
		return w.recordScan(
			ctx, dbtx.ReadWriteBucket(rtxNamespaceKey),
			dbtx.ReadWriteBucket(wtxmgrNamespaceKey), tx, block,
			owned, res,
		)
	})
	if err != nil {
		return nil, err
	}

	if res.Relevant() {
		log.Infof("Scanned tx %v: %d owned outputs, %d spends, "+
			"legacy=%v", res.Hash, len(res.Owned), len(res.Spent),
			res.Legacy)
	}

	return res, nil
}

// scanOutputs finds the outputs of tx paying the wallet. It reads keys
// only.
func (w *Wallet) scanOutputs(tx *ctwire.MsgTx) ([]*scannedOutput, error) {
	var owned []*scannedOutput
	for i, out := range tx.TxOut {
		var (
			so  *scannedOutput
			err error
		)
		switch o := out.(type) {
		case *ctwire.StandardOutput:
			var data []byte
			if i+1 < len(tx.TxOut) {
				if d, ok := tx.TxOut[i+1].(*ctwire.DataOutput); ok {
					data = d.Data
				}
			}
			so, err = w.scanPlain(o, data)

		case *ctwire.CTOutput:
			so, err = w.scanBlinded(o)

		case *ctwire.RingCTOutput:
			so, err = w.scanAnon(o)
		}
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		if so == nil {
			continue
		}

		so.rec.Index = uint32(i)
		owned = append(owned, so)
	}

	return owned, nil
}

// ephemeralKey parses the ephemeral key carried in output data.
func ephemeralKey(data []byte) *btcec.PublicKey {
	v, ok := ctwire.FindDataRecord(data, ctwire.DataStealth)
	if !ok {
		return nil
	}

	eph, err := btcec.ParsePubKey(v)
	if err != nil {
		return nil
	}

	return eph
}

// lookupOwner returns the wallet key of an output with the given script or
// one-time key, trying stealth addresses when data carries an ephemeral
// key.
func (w *Wallet) lookupOwner(script []byte, pub *btcec.PublicKey,
	data []byte) (*ownerKey, error) {

	keys := w.cfg.Keys

	var (
		desc      *KeyDescriptor
		ok        bool
		stakeOnly bool
	)
	switch {
	case pub != nil:
		var k [33]byte
		copy(k[:], pub.SerializeCompressed())
		desc, ok = keys.LookupPubKey(k)

	default:
		desc, ok = keys.LookupScript(script)
		if stake, spend, cs := parseColdStakeScript(script); !ok && cs {
			desc, ok = keys.LookupScript(spend)
			if !ok {
				desc, ok = keys.LookupScript(stake)
				stakeOnly = ok
			}
		}
	}
	if ok {
		owner := &ownerKey{desc: desc, stakeOnly: stakeOnly}
		if !desc.WatchOnly && !desc.Hardware {
			priv, err := keys.PrivKey(desc.Path)
			if err != nil {
				return nil, err
			}
			owner.priv = priv
		}

		return owner, nil
	}

	eph := ephemeralKey(data)
	if eph == nil {
		return nil, nil
	}

	for _, sk := range keys.StealthAddresses() {
		shared, err := blind.ECDHSecret(sk.ScanPriv, eph)
		if err != nil {
			return nil, err
		}
		dest, err := blind.DeriveStealthPubKey(
			sk.Address.SpendKey, shared,
		)
		if err != nil {
			continue
		}

		if pub != nil {
			if !dest.IsEqual(pub) {
				continue
			}
		} else {
			destScript, err := payToPubKeyHashScript(dest)
			if err != nil {
				return nil, err
			}
			if !sameScript(destScript, script) {
				continue
			}
		}

		path := stealthKeyPath(
			sk.Address.ScanKey.SerializeCompressed(), shared,
		)
		priv, err := keys.PrivKey(path)
		if err != nil {
			return nil, err
		}

		return &ownerKey{
			desc:    &KeyDescriptor{Path: path, PubKey: dest},
			priv:    priv,
			stealth: true,
			shared:  shared,
		}, nil
	}

	return nil, nil
}

// ownedRecord returns the ledger entry of an output paid to owner.
func ownedRecord(kind OutputKind, script []byte,
	owner *ownerKey) txrecord.OutputRecord {

	rec := txrecord.OutputRecord{
		Kind:     kind,
		Flags:    txrecord.FlagOwned,
		Script:   script,
		KeyPath:  owner.desc.Path,
		AddrType: txrecord.AddrExtKey,
	}
	if owner.stealth {
		rec.AddrType = txrecord.AddrStealth
	}
	if owner.priv == nil {
		rec.Flags |= txrecord.FlagWatchOnly
	}
	if owner.desc.Hardware {
		rec.Flags |= txrecord.FlagHardware
	}
	if owner.stakeOnly {
		rec.Flags |= txrecord.FlagStakeOnly
	}

	return rec
}

// scanPlain checks a standard output. data is the data output following
// it, if any.
func (w *Wallet) scanPlain(out *ctwire.StandardOutput,
	data []byte) (*scannedOutput, error) {

	owner, err := w.lookupOwner(out.PkScript, nil, data)
	if err != nil || owner == nil {
		return nil, err
	}

	rec := ownedRecord(KindPlain, out.PkScript, owner)
	rec.Value = btcutil.Amount(out.Value)

	if v, ok := ctwire.FindDataRecord(data, ctwire.DataNarrationPlain); ok {
		rec.Narration = string(v)
	}
	if v, ok := ctwire.FindDataRecord(
		data, ctwire.DataNarrationCrypt,
	); ok && owner.stealth {

		narration, err := openNarration(owner.shared, v)
		if err != nil {
			log.Debugf("Unable to open narration: %v", err)
		} else {
			rec.Narration = narration
		}
	}

	return &scannedOutput{rec: rec, owner: owner}, nil
}

// rewind opens the amount of a hidden output paid to owner. It returns nil
// when the proof was not made for the wallet.
func (w *Wallet) rewind(owner *ownerKey, c blind.Commitment, proof,
	data []byte) (*blind.RewindResult, error) {

	eph := ephemeralKey(data)
	if eph == nil || owner.priv == nil {
		return nil, nil
	}

	nonce, err := blind.ECDHSecret(owner.priv, eph)
	if err != nil {
		return nil, err
	}

	res, err := w.cfg.Crypto.RewindRange(c, proof, nonce)
	if err != nil {
		log.Debugf("Unable to rewind range proof: %v", err)
		return nil, nil
	}
	if err := w.cfg.Crypto.VerifyCommit(c, res.Blind, res.Value); err != nil {
		log.Warnf("Rewound opening does not match commitment: %v", err)
		return nil, nil
	}

	return res, nil
}

// scanBlinded checks a blinded output.
func (w *Wallet) scanBlinded(out *ctwire.CTOutput) (*scannedOutput, error) {
	owner, err := w.lookupOwner(out.PkScript, nil, out.Data)
	if err != nil || owner == nil {
		return nil, err
	}

	so := &scannedOutput{
		rec:   ownedRecord(KindBlinded, out.PkScript, owner),
		owner: owner,
	}

	res, err := w.rewind(owner, out.Commitment, out.RangeProof, out.Data)
	if err != nil {
		return nil, err
	}
	if res == nil {
		so.rec.Flags |= txrecord.FlagWatchOnly
		return so, nil
	}

	so.rec.Value = btcutil.Amount(res.Value)
	so.rec.Narration = string(res.Message)
	so.blind = fn.Some(res.Blind)

	return so, nil
}

// scanAnon checks an anonymous output.
func (w *Wallet) scanAnon(out *ctwire.RingCTOutput) (*scannedOutput, error) {
	pub, err := btcec.ParsePubKey(out.PubKey[:])
	if err != nil {
		return nil, nil
	}

	owner, err := w.lookupOwner(nil, pub, out.Data)
	if err != nil || owner == nil {
		return nil, err
	}

	so := &scannedOutput{
		rec:    ownedRecord(KindAnon, out.PubKey[:], owner),
		owner:  owner,
		pubKey: out.PubKey,
	}

	res, err := w.rewind(owner, out.Commitment, out.RangeProof, out.Data)
	if err != nil {
		return nil, err
	}
	if res == nil {
		so.rec.Flags |= txrecord.FlagWatchOnly
		return so, nil
	}

	so.rec.Value = btcutil.Amount(res.Value)
	so.rec.Narration = string(res.Message)
	so.blind = fn.Some(res.Blind)

	ki, err := w.cfg.Crypto.KeyImage(pub, owner.priv)
	if err != nil {
		return nil, err
	}
	so.keyImage = fn.Some(ki)

	return so, nil
}

// scanInputs returns the wallet outputs spent by tx. Anonymous inputs
// owned by the wallet are found by key image and marked spent here, with
// their images returned alongside.
func (w *Wallet) scanInputs(rtxNs, wtxNs walletdb.ReadWriteBucket,
	tx *ctwire.MsgTx, hash chainhash.Hash, height int32) (*inputScan,
	error) {

	var scan inputScan
	for _, in := range tx.TxIn {
		if in.Anon == nil {
			known, err := w.knownOutput(
				rtxNs, wtxNs, in.PreviousOutPoint,
			)
			if err != nil {
				return nil, err
			}
			if known {
				scan.plain = append(scan.plain, in.PreviousOutPoint)
			}

			continue
		}

		for _, ki := range in.Anon.KeyImages {
			op, owned, err := w.store.FetchOwnedKeyImage(rtxNs, ki)
			if err != nil {
				return nil, err
			}
			if !owned {
				continue
			}

			err = w.store.PutKeyImage(rtxNs, ki, hash, height)
			if err != nil {
				return nil, err
			}
			err = w.store.MarkSpent(rtxNs, op, hash, height)
			if err != nil {
				return nil, err
			}
			scan.anon = append(scan.anon, op)
			scan.images = append(scan.images, ki)
		}
	}

	return &scan, nil
}

// inputScan holds the wallet outputs a transaction spends.
type inputScan struct {
	plain  []wire.OutPoint
	anon   []wire.OutPoint
	images []blind.KeyImage
}

// all returns every spent outpoint.
func (s *inputScan) all() []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(s.plain)+len(s.anon))
	ops = append(ops, s.plain...)

	return append(ops, s.anon...)
}

// isLegacyScan reports whether a scanned transaction belongs in the
// plain-only store: it is plain only and spends no ledger output.
func (w *Wallet) isLegacyScan(ns walletdb.ReadBucket, tx *ctwire.MsgTx,
	spent []wire.OutPoint) (bool, error) {

	if !tx.IsPlainOnly() {
		return false, nil
	}
	for _, op := range spent {
		_, err := w.store.FetchRecord(ns, op.Hash)
		if err == nil {
			return false, nil
		}
		if !txrecord.IsError(err, txrecord.ErrRecordNotFound) {
			return false, err
		}
	}

	return true, nil
}

// recordScan writes the outcome of a scan.
func (w *Wallet) recordScan(ctx context.Context, rtxNs,
	wtxNs walletdb.ReadWriteBucket, tx *ctwire.MsgTx, block *BlockMeta,
	owned []*scannedOutput, res *ScanResult) error {

	hash := res.Hash
	var height int32
	if block != nil {
		height = block.Height
	}

	ins, err := w.scanInputs(rtxNs, wtxNs, tx, hash, height)
	if err != nil {
		return err
	}
	res.Spent = ins.all()
	for _, so := range owned {
		res.Owned = append(res.Owned, so.rec)
	}
	if !res.Relevant() {
		return nil
	}

	res.Legacy, err = w.isLegacyScan(rtxNs, tx, ins.plain)
	if err != nil {
		return err
	}
	if res.Legacy {
		return w.recordLegacyScan(wtxNs, tx, hash, block, owned)
	}

	rec := txrecord.NewTransactionRecord(hash, w.cfg.Clock.Now())
	if block != nil {
		rec.SetMerkleBlock(block.Hash, block.Height, block.Index,
			block.Time)
	}
	rec.KeyImages = ins.images
	for _, in := range tx.TxIn {
		if in.Anon != nil {
			rec.Flags |= txrecord.FlagAnonIn
		}
	}
	if len(tx.TxOut) > 0 {
		if d, ok := tx.TxOut[0].(*ctwire.DataOutput); ok {
			if fee, ok := ctwire.ParseFee(d); ok {
				rec.Fee = btcutil.Amount(fee)
			}
		}
	}

	for _, op := range ins.plain {
		rec.Inputs = append(rec.Inputs, op)
		if k, ok := w.outputKind(rtxNs, op); ok && k == KindBlinded {
			rec.Flags |= txrecord.FlagBlindIn
		}
		if err := w.store.MarkSpent(rtxNs, op, hash, height); err != nil {
			return err
		}
	}

	_, err = w.store.FetchRecord(rtxNs, hash)
	known := err == nil
	if err != nil && !txrecord.IsError(err, txrecord.ErrRecordNotFound) {
		return err
	}

	// Outputs of a transaction the wallet funded but did not build here
	// are recorded as sent.
	if len(res.Spent) > 0 && !known {
		for i, out := range tx.TxOut {
			kind, ok := txrecord.KindOf(out.Type())
			if !ok {
				continue
			}
			value, _ := ctwire.OutputValue(out)
			rec.InsertOutput(txrecord.OutputRecord{
				Index:  uint32(i),
				Kind:   kind,
				Flags:  txrecord.FlagFrom,
				Value:  btcutil.Amount(value),
				Script: ctwire.OutputScript(out),
			})
		}
	}

	stx, err := w.store.FetchStoredTx(rtxNs, hash)
	switch {
	case txrecord.IsError(err, txrecord.ErrRecordNotFound):
		stx = &txrecord.StoredTransaction{Tx: tx}

	case err != nil:
		return err
	}

	for _, so := range owned {
		rec.InsertOutput(so.rec)
		so.blind.WhenSome(func(b blind.Blind) {
			stx.InsertBlind(so.rec.Index, b)
		})

		err = w.recordScannedOutput(ctx, rtxNs, hash, so)
		if err != nil {
			return err
		}
	}

	if _, err := w.store.InsertRecord(rtxNs, rec); err != nil {
		return err
	}

	return w.store.PutStoredTx(rtxNs, hash, stx)
}

// outputKind returns the kind of a ledger output.
func (w *Wallet) outputKind(ns walletdb.ReadBucket,
	op wire.OutPoint) (OutputKind, bool) {

	rec, err := w.store.FetchRecord(ns, op.Hash)
	if err != nil {
		return 0, false
	}
	out := rec.GetOutput(op.Index)
	if out == nil {
		return 0, false
	}

	return out.Kind, true
}

// recordScannedOutput imports stealth keys and indexes an owned anonymous
// output.
func (w *Wallet) recordScannedOutput(ctx context.Context,
	ns walletdb.ReadWriteBucket, hash chainhash.Hash,
	so *scannedOutput) error {

	op := wire.OutPoint{Hash: hash, Index: so.rec.Index}

	if so.owner.stealth {
		err := w.cfg.Keys.ImportKey(so.owner.desc, so.owner.priv)
		if err != nil {
			return err
		}
	}

	if so.rec.Kind != KindAnon {
		return nil
	}

	var err error
	so.keyImage.WhenSome(func(ki blind.KeyImage) {
		err = w.store.PutOwnedKeyImage(ns, ki, op)
	})
	if err != nil {
		return err
	}

	ao, err := w.cfg.AnonIndex.FetchByPubKey(ctx, so.pubKey)
	if err != nil {
		log.Tracef("Anon output %v not indexed yet: %v", op, err)
		return nil
	}

	return w.store.PutAnonIndex(ns, op, ao.Index)
}

// recordLegacyScan writes a plain-only transaction to the plain-only store.
func (w *Wallet) recordLegacyScan(ns walletdb.ReadWriteBucket,
	tx *ctwire.MsgTx, hash chainhash.Hash, block *BlockMeta,
	owned []*scannedOutput) error {

	msg, err := tx.ToWire()
	if err != nil {
		return err
	}
	rec, err := wtxmgr.NewTxRecordFromMsgTx(msg, w.cfg.Clock.Now())
	if err != nil {
		return err
	}
	rec.Hash = hash

	var meta *wtxmgr.BlockMeta
	if block != nil {
		meta = &wtxmgr.BlockMeta{
			Block: wtxmgr.Block{Hash: block.Hash, Height: block.Height},
			Time:  block.Time,
		}
	}

	if err := w.txStore.InsertTx(ns, rec, meta); err != nil {
		return err
	}
	for _, so := range owned {
		if so.owner.stealth {
			err := w.cfg.Keys.ImportKey(so.owner.desc, so.owner.priv)
			if err != nil {
				return err
			}
		}

		err := w.txStore.AddCredit(ns, rec, meta, so.rec.Index, false)
		if err != nil {
			return err
		}
	}

	return nil
}
