// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txrecord

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/dmuralov/particl-core/blind"
	"github.com/lightningnetwork/lnd/clock"
)

// Bucket names of the ledger namespace.
var (
	bucketRecords     = []byte("records")
	bucketStored      = []byte("stored")
	bucketSpends      = []byte("spends")
	bucketKeyImages   = []byte("keyimages")
	bucketOwnedImages = []byte("ownedimages")
	bucketAnonIndex   = []byte("anonidx")
	bucketLeases      = []byte("leases")
	bucketUsedScripts = []byte("usedscripts")

	rootVersionKey = []byte("version")
)

// LatestVersion is the ledger schema version written by Create.
const LatestVersion = 1

// allBuckets lists every bucket created in the namespace.
var allBuckets = [][]byte{
	bucketRecords, bucketStored, bucketSpends, bucketKeyImages,
	bucketOwnedImages, bucketAnonIndex, bucketLeases, bucketUsedScripts,
}

// LeaseID identifies the owner of an output lease.
type LeaseID [32]byte

// LeasedOutput is an output reserved from coin selection until Expiration.
type LeasedOutput struct {
	Outpoint   wire.OutPoint
	LeaseID    LeaseID
	Expiration time.Time
}

// Spend describes the transaction consuming an outpoint.
type Spend struct {
	Hash   chainhash.Hash
	Height int32
}

// Credit is an unspent wallet owned output of a confidential record.
type Credit struct {
	wire.OutPoint

	// Output is the ledger entry of the output.
	Output OutputRecord

	// BlockHeight is the confirmation height, zero while unconfirmed.
	BlockHeight int32
	Confirmed   bool
	Received    time.Time

	// FromWallet is set when the wallet authored the transaction, which
	// makes its unconfirmed change trusted.
	FromWallet bool
}

// Store is the ledger of confidential transactions inside a walletdb
// namespace. All methods take the namespace bucket so callers control
// transaction scope and several writes commit atomically.
type Store struct {
	clock clock.Clock
}

// Create creates the ledger buckets in ns. Creating the ledger when one
// already exists fails.
func Create(ns walletdb.ReadWriteBucket) error {
	if ns.Get(rootVersionKey) != nil {
		return storeError(ErrDatabase, "ledger already exists", nil)
	}

	for _, name := range allBuckets {
		if _, err := ns.CreateBucket(name); err != nil {
			str := fmt.Sprintf("failed to create bucket %s", name)
			return storeError(ErrDatabase, str, err)
		}
	}

	var v [4]byte
	binary.BigEndian.PutUint32(v[:], LatestVersion)
	if err := ns.Put(rootVersionKey, v[:]); err != nil {
		return storeError(ErrDatabase, "failed to write version", err)
	}

	return nil
}

// Open checks the ledger in ns and returns a Store using clk for lease
// expiry.
func Open(ns walletdb.ReadBucket, clk clock.Clock) (*Store, error) {
	v := ns.Get(rootVersionKey)
	if len(v) != 4 {
		return nil, storeError(ErrDatabase, "ledger does not exist",
			nil)
	}
	if version := binary.BigEndian.Uint32(v); version > LatestVersion {
		str := fmt.Sprintf("ledger version %d is newer than %d",
			version, LatestVersion)
		return nil, storeError(ErrDatabase, str, nil)
	}

	for _, name := range allBuckets {
		if ns.NestedReadBucket(name) == nil {
			str := fmt.Sprintf("missing bucket %s", name)
			return nil, storeError(ErrDatabase, str, nil)
		}
	}

	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Store{clock: clk}, nil
}

// Clock returns the time source of the store.
func (s *Store) Clock() clock.Clock {
	return s.clock
}

// readBucket returns a nested bucket for reading.
func readBucket(ns walletdb.ReadBucket, name []byte) (walletdb.ReadBucket,
	error) {

	b := ns.NestedReadBucket(name)
	if b == nil {
		str := fmt.Sprintf("missing bucket %s", name)
		return nil, storeError(ErrDatabase, str, nil)
	}

	return b, nil
}

// writeBucket returns a nested bucket for writing.
func writeBucket(ns walletdb.ReadWriteBucket,
	name []byte) (walletdb.ReadWriteBucket, error) {

	b := ns.NestedReadWriteBucket(name)
	if b == nil {
		str := fmt.Sprintf("missing bucket %s", name)
		return nil, storeError(ErrDatabase, str, nil)
	}

	return b, nil
}

// putValue writes k=v into bucket name.
func putValue(ns walletdb.ReadWriteBucket, name, k, v []byte) error {
	b, err := writeBucket(ns, name)
	if err != nil {
		return err
	}
	if err := b.Put(k, v); err != nil {
		str := fmt.Sprintf("failed to put into %s", name)
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

// deleteValue removes k from bucket name.
func deleteValue(ns walletdb.ReadWriteBucket, name, k []byte) error {
	b, err := writeBucket(ns, name)
	if err != nil {
		return err
	}
	if err := b.Delete(k); err != nil {
		str := fmt.Sprintf("failed to delete from %s", name)
		return storeError(ErrDatabase, str, err)
	}

	return nil
}

// getValue reads k from bucket name. The returned slice is a copy.
func getValue(ns walletdb.ReadBucket, name, k []byte) ([]byte, error) {
	b, err := readBucket(ns, name)
	if err != nil {
		return nil, err
	}

	v := b.Get(k)
	if v == nil {
		return nil, nil
	}

	return append([]byte(nil), v...), nil
}

// PutRecord writes rec, replacing any existing record for its hash.
func (s *Store) PutRecord(ns walletdb.ReadWriteBucket,
	rec *TransactionRecord) error {

	v, err := encodeTransactionRecord(rec)
	if err != nil {
		return storeError(ErrData, "failed to encode record", err)
	}

	return putValue(ns, bucketRecords, rec.Hash[:], v)
}

// InsertRecord adds rec to the ledger. An existing record for the same hash
// is merged with rec so outputs stay unique per index and spent state is
// kept. It returns true when no record existed before.
func (s *Store) InsertRecord(ns walletdb.ReadWriteBucket,
	rec *TransactionRecord) (bool, error) {

	existing, err := s.FetchRecord(ns, rec.Hash)
	switch {
	case IsError(err, ErrRecordNotFound):
		log.Debugf("Inserting new record %v with %d outputs", rec.Hash,
			len(rec.Outputs))

		return true, s.PutRecord(ns, rec)

	case err != nil:
		return false, err
	}

	existing.Merge(rec)
	log.Debugf("Merged record %v, now %d outputs", rec.Hash,
		len(existing.Outputs))

	return false, s.PutRecord(ns, existing)
}

// FetchRecord returns the record of hash.
func (s *Store) FetchRecord(ns walletdb.ReadBucket,
	hash chainhash.Hash) (*TransactionRecord, error) {

	v, err := getValue(ns, bucketRecords, hash[:])
	if err != nil {
		return nil, err
	}
	if v == nil {
		str := fmt.Sprintf("no record for %v", hash)
		return nil, storeError(ErrRecordNotFound, str, nil)
	}

	return decodeTransactionRecord(hash, v)
}

// ForEachRecord calls f for every record in the ledger.
func (s *Store) ForEachRecord(ns walletdb.ReadBucket,
	f func(*TransactionRecord) error) error {

	b, err := readBucket(ns, bucketRecords)
	if err != nil {
		return err
	}

	return b.ForEach(func(k, v []byte) error {
		if len(k) != chainhash.HashSize {
			return nil
		}

		var hash chainhash.Hash
		copy(hash[:], k)
		rec, err := decodeTransactionRecord(hash, v)
		if err != nil {
			return err
		}

		return f(rec)
	})
}

// PutStoredTx writes the stored transaction of hash.
func (s *Store) PutStoredTx(ns walletdb.ReadWriteBucket, hash chainhash.Hash,
	stx *StoredTransaction) error {

	v, err := encodeStoredTransaction(stx)
	if err != nil {
		return storeError(ErrData, "failed to encode stored tx", err)
	}

	return putValue(ns, bucketStored, hash[:], v)
}

// FetchStoredTx returns the stored transaction of hash.
func (s *Store) FetchStoredTx(ns walletdb.ReadBucket,
	hash chainhash.Hash) (*StoredTransaction, error) {

	v, err := getValue(ns, bucketStored, hash[:])
	if err != nil {
		return nil, err
	}
	if v == nil {
		str := fmt.Sprintf("no stored tx for %v", hash)
		return nil, storeError(ErrRecordNotFound, str, nil)
	}

	return decodeStoredTransaction(v)
}

// encodeSpend serializes a spend value.
func encodeSpend(sp Spend) []byte {
	v := make([]byte, chainhash.HashSize+4)
	copy(v, sp.Hash[:])
	binary.BigEndian.PutUint32(v[chainhash.HashSize:], uint32(sp.Height))

	return v
}

// decodeSpend reverses encodeSpend.
func decodeSpend(v []byte) (Spend, error) {
	if len(v) != chainhash.HashSize+4 {
		return Spend{}, storeError(ErrData, "malformed spend", nil)
	}

	var sp Spend
	copy(sp.Hash[:], v)
	sp.Height = int32(binary.BigEndian.Uint32(v[chainhash.HashSize:]))

	return sp, nil
}

// setOutputSpent updates the spent state of op in its owning record, when
// the ledger has one.
func (s *Store) setOutputSpent(ns walletdb.ReadWriteBucket, op wire.OutPoint,
	sp *Spend) error {

	rec, err := s.FetchRecord(ns, op.Hash)
	if IsError(err, ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	out := rec.GetOutput(op.Index)
	if out == nil {
		return nil
	}

	if sp == nil {
		out.Flags &^= FlagSpent
		out.SpentBy = chainhash.Hash{}
		out.SpentHeight = 0
	} else {
		out.Flags |= FlagSpent
		out.SpentBy = sp.Hash
		out.SpentHeight = sp.Height
	}

	return s.PutRecord(ns, rec)
}

// MarkSpent records that spender consumes op and flags the owned output as
// spent.
func (s *Store) MarkSpent(ns walletdb.ReadWriteBucket, op wire.OutPoint,
	spender chainhash.Hash, height int32) error {

	sp := Spend{Hash: spender, Height: height}
	err := putValue(ns, bucketSpends, canonicalOutPoint(&op), encodeSpend(sp))
	if err != nil {
		return err
	}

	return s.setOutputSpent(ns, op, &sp)
}

// UnmarkSpent reverses MarkSpent.
func (s *Store) UnmarkSpent(ns walletdb.ReadWriteBucket,
	op wire.OutPoint) error {

	err := deleteValue(ns, bucketSpends, canonicalOutPoint(&op))
	if err != nil {
		return err
	}

	return s.setOutputSpent(ns, op, nil)
}

// SpentBy returns the spend of op, if any.
func (s *Store) SpentBy(ns walletdb.ReadBucket, op wire.OutPoint) (*Spend,
	error) {

	v, err := getValue(ns, bucketSpends, canonicalOutPoint(&op))
	if err != nil || v == nil {
		return nil, err
	}

	sp, err := decodeSpend(v)
	if err != nil {
		return nil, err
	}

	return &sp, nil
}

// PutKeyImage records that spender revealed ki.
func (s *Store) PutKeyImage(ns walletdb.ReadWriteBucket, ki blind.KeyImage,
	spender chainhash.Hash, height int32) error {

	sp := Spend{Hash: spender, Height: height}

	return putValue(ns, bucketKeyImages, ki[:], encodeSpend(sp))
}

// FetchKeyImage returns the spend that revealed ki, if any.
func (s *Store) FetchKeyImage(ns walletdb.ReadBucket,
	ki blind.KeyImage) (*Spend, error) {

	v, err := getValue(ns, bucketKeyImages, ki[:])
	if err != nil || v == nil {
		return nil, err
	}

	sp, err := decodeSpend(v)
	if err != nil {
		return nil, err
	}

	return &sp, nil
}

// DeleteKeyImage forgets the spend of ki.
func (s *Store) DeleteKeyImage(ns walletdb.ReadWriteBucket,
	ki blind.KeyImage) error {

	return deleteValue(ns, bucketKeyImages, ki[:])
}

// PutOwnedKeyImage maps the key image of an owned anonymous output to its
// outpoint.
func (s *Store) PutOwnedKeyImage(ns walletdb.ReadWriteBucket,
	ki blind.KeyImage, op wire.OutPoint) error {

	return putValue(ns, bucketOwnedImages, ki[:], canonicalOutPoint(&op))
}

// FetchOwnedKeyImage returns the owned outpoint of ki.
func (s *Store) FetchOwnedKeyImage(ns walletdb.ReadBucket,
	ki blind.KeyImage) (wire.OutPoint, bool, error) {

	v, err := getValue(ns, bucketOwnedImages, ki[:])
	if err != nil {
		return wire.OutPoint{}, false, err
	}
	if len(v) != 36 {
		return wire.OutPoint{}, false, nil
	}

	return readOutPoint(v), true, nil
}

// PutAnonIndex records the global anonymous output index of an owned
// output.
func (s *Store) PutAnonIndex(ns walletdb.ReadWriteBucket, op wire.OutPoint,
	index int64) error {

	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(index))

	return putValue(ns, bucketAnonIndex, canonicalOutPoint(&op), v[:])
}

// FetchAnonIndex returns the global index of an owned anonymous output.
func (s *Store) FetchAnonIndex(ns walletdb.ReadBucket,
	op wire.OutPoint) (int64, bool, error) {

	v, err := getValue(ns, bucketAnonIndex, canonicalOutPoint(&op))
	if err != nil {
		return 0, false, err
	}
	if len(v) != 8 {
		return 0, false, nil
	}

	return int64(binary.BigEndian.Uint64(v)), true, nil
}

// freeInputs releases every outpoint and key image spent by rec.
func (s *Store) freeInputs(ns walletdb.ReadWriteBucket,
	rec *TransactionRecord) error {

	for _, op := range rec.Inputs {
		sp, err := s.SpentBy(ns, op)
		if err != nil {
			return err
		}
		if sp == nil || sp.Hash != rec.Hash {
			continue
		}
		if err := s.UnmarkSpent(ns, op); err != nil {
			return err
		}
	}

	for _, ki := range rec.KeyImages {
		sp, err := s.FetchKeyImage(ns, ki)
		if err != nil {
			return err
		}
		if sp == nil || sp.Hash != rec.Hash {
			continue
		}
		if err := s.DeleteKeyImage(ns, ki); err != nil {
			return err
		}

		op, owned, err := s.FetchOwnedKeyImage(ns, ki)
		if err != nil {
			return err
		}
		if owned {
			if err := s.UnmarkSpent(ns, op); err != nil {
				return err
			}
		}
	}

	return nil
}

// RemoveRecord erases the record and stored transaction of hash and frees
// everything it spent. It is the rollback of a commit whose publish failed.
func (s *Store) RemoveRecord(ns walletdb.ReadWriteBucket,
	hash chainhash.Hash) error {

	rec, err := s.FetchRecord(ns, hash)
	if err != nil {
		return err
	}
	if err := s.freeInputs(ns, rec); err != nil {
		return err
	}

	if err := deleteValue(ns, bucketRecords, hash[:]); err != nil {
		return err
	}

	return deleteValue(ns, bucketStored, hash[:])
}

// AbandonRecord marks the record of hash abandoned and frees its inputs. The
// record itself is kept.
func (s *Store) AbandonRecord(ns walletdb.ReadWriteBucket,
	hash chainhash.Hash) error {

	rec, err := s.FetchRecord(ns, hash)
	if err != nil {
		return err
	}
	if rec.IsConfirmed() {
		str := fmt.Sprintf("record %v is confirmed", hash)
		return storeError(ErrData, str, nil)
	}
	if err := s.freeInputs(ns, rec); err != nil {
		return err
	}

	rec.BlockHash = AbandonHash

	return s.PutRecord(ns, rec)
}

// UnspentOutputs returns every unspent owned output of kind. Outputs of
// abandoned and conflicted records are skipped.
func (s *Store) UnspentOutputs(ns walletdb.ReadBucket,
	kind OutputKind) ([]Credit, error) {

	var credits []Credit
	err := s.ForEachRecord(ns, func(rec *TransactionRecord) error {
		if rec.IsAbandoned() || rec.IsConflicted() {
			return nil
		}

		fromWallet := rec.TotalOutput(FlagFrom) > 0 || rec.HaveChange()
		for _, out := range rec.Outputs {
			if out.Kind != kind || !out.Flags.Has(FlagOwned) ||
				out.Flags.Has(FlagSpent) {

				continue
			}

			credits = append(credits, Credit{
				OutPoint: wire.OutPoint{
					Hash: rec.Hash, Index: out.Index,
				},
				Output:      out,
				BlockHeight: rec.BlockHeight,
				Confirmed:   rec.IsConfirmed(),
				Received:    rec.TimeReceived,
				FromWallet:  fromWallet || out.Flags.Has(FlagChange),
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return credits, nil
}

// encodeLease serializes a lease value.
func encodeLease(id LeaseID, expiry time.Time) []byte {
	v := make([]byte, 32+8)
	copy(v, id[:])
	binary.BigEndian.PutUint64(v[32:], uint64(expiry.UnixNano()))

	return v
}

// decodeLease reverses encodeLease.
func decodeLease(v []byte) (LeaseID, time.Time, error) {
	if len(v) != 40 {
		return LeaseID{}, time.Time{}, storeError(ErrData,
			"malformed lease", nil)
	}

	var id LeaseID
	copy(id[:], v)
	expiry := time.Unix(0, int64(binary.BigEndian.Uint64(v[32:])))

	return id, expiry, nil
}

// IsLeased returns the active lease of op.
func (s *Store) IsLeased(ns walletdb.ReadBucket,
	op wire.OutPoint) (*LeasedOutput, error) {

	v, err := getValue(ns, bucketLeases, canonicalOutPoint(&op))
	if err != nil || v == nil {
		return nil, err
	}

	id, expiry, err := decodeLease(v)
	if err != nil {
		return nil, err
	}
	if !s.clock.Now().Before(expiry) {
		return nil, nil
	}

	return &LeasedOutput{Outpoint: op, LeaseID: id, Expiration: expiry}, nil
}

// LeaseOutput reserves op for id until duration from now and returns the
// expiry. A lease held by id is extended. A live lease of another id fails
// with ErrOutputLeased.
func (s *Store) LeaseOutput(ns walletdb.ReadWriteBucket, id LeaseID,
	op wire.OutPoint, duration time.Duration) (time.Time, error) {

	lease, err := s.IsLeased(ns, op)
	if err != nil {
		return time.Time{}, err
	}
	if lease != nil && lease.LeaseID != id {
		str := fmt.Sprintf("output %v already leased", op)
		return time.Time{}, storeError(ErrOutputLeased, str, nil)
	}

	expiry := s.clock.Now().Add(duration)
	err = putValue(
		ns, bucketLeases, canonicalOutPoint(&op), encodeLease(id, expiry),
	)
	if err != nil {
		return time.Time{}, err
	}

	return expiry, nil
}

// ReleaseOutput drops the lease id holds on op.
func (s *Store) ReleaseOutput(ns walletdb.ReadWriteBucket, id LeaseID,
	op wire.OutPoint) error {

	lease, err := s.IsLeased(ns, op)
	if err != nil {
		return err
	}
	if lease == nil || lease.LeaseID != id {
		str := fmt.Sprintf("output %v not leased by id", op)
		return storeError(ErrLeaseNotFound, str, nil)
	}

	return deleteValue(ns, bucketLeases, canonicalOutPoint(&op))
}

// forEachLease calls f for every stored lease, expired or not.
func forEachLease(ns walletdb.ReadBucket,
	f func(op wire.OutPoint, id LeaseID, expiry time.Time)) error {

	b, err := readBucket(ns, bucketLeases)
	if err != nil {
		return err
	}

	return b.ForEach(func(k, v []byte) error {
		if len(k) != 36 {
			return nil
		}

		id, expiry, err := decodeLease(v)
		if err != nil {
			return err
		}
		f(readOutPoint(k), id, expiry)

		return nil
	})
}

// ListLeases returns the live leases.
func (s *Store) ListLeases(ns walletdb.ReadBucket) ([]*LeasedOutput, error) {
	now := s.clock.Now()

	var leases []*LeasedOutput
	err := forEachLease(ns, func(op wire.OutPoint, id LeaseID,
		expiry time.Time) {

		if !now.Before(expiry) {
			return
		}
		leases = append(leases, &LeasedOutput{
			Outpoint:   op,
			LeaseID:    id,
			Expiration: expiry,
		})
	})
	if err != nil {
		return nil, err
	}

	return leases, nil
}

// DeleteExpiredLeases removes expired leases and returns how many were
// removed.
func (s *Store) DeleteExpiredLeases(ns walletdb.ReadWriteBucket) (int, error) {
	now := s.clock.Now()

	// Collect first, deleting while iterating invalidates the cursor.
	var expired []wire.OutPoint
	err := forEachLease(ns, func(op wire.OutPoint, _ LeaseID,
		expiry time.Time) {

		if !now.Before(expiry) {
			expired = append(expired, op)
		}
	})
	if err != nil {
		return 0, err
	}

	for _, op := range expired {
		err := deleteValue(ns, bucketLeases, canonicalOutPoint(&op))
		if err != nil {
			return 0, err
		}
	}

	return len(expired), nil
}

// MarkScriptUsed records that script received funds.
func (s *Store) MarkScriptUsed(ns walletdb.ReadWriteBucket,
	script []byte) error {

	return putValue(ns, bucketUsedScripts, btcutil.Hash160(script), []byte{1})
}

// IsScriptUsed reports whether script received funds before.
func (s *Store) IsScriptUsed(ns walletdb.ReadBucket, script []byte) (bool,
	error) {

	v, err := getValue(ns, bucketUsedScripts, btcutil.Hash160(script))
	if err != nil {
		return false, err
	}

	return bytes.Equal(v, []byte{1}), nil
}
