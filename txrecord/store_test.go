package txrecord

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

var (
	namespaceKey = []byte("rtx")

	testTime = time.Unix(1700000000, 0)
)

// setupStore creates a ledger in a fresh database.
func setupStore(t *testing.T) (walletdb.DB, *Store, *clock.TestClock) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	db, err := walletdb.Create("bdb", dbPath, true, time.Second*10, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewTestClock(testTime)

	var store *Store
	err = walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		ns, err := tx.CreateTopLevelBucket(namespaceKey)
		if err != nil {
			return err
		}
		if err := Create(ns); err != nil {
			return err
		}

		store, err = Open(ns, clk)

		return err
	})
	require.NoError(t, err)

	return db, store, clk
}

// update runs f in a read-write transaction on the ledger namespace.
func update(t *testing.T, db walletdb.DB,
	f func(ns walletdb.ReadWriteBucket) error) {

	t.Helper()

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return f(tx.ReadWriteBucket(namespaceKey))
	})
	require.NoError(t, err)
}

// view runs f in a read transaction on the ledger namespace.
func view(t *testing.T, db walletdb.DB, f func(ns walletdb.ReadBucket) error) {
	t.Helper()

	err := walletdb.View(db, func(tx walletdb.ReadTx) error {
		return f(tx.ReadBucket(namespaceKey))
	})
	require.NoError(t, err)
}

// testRecord returns a record with one owned blinded output and one sent
// anonymous output.
func testRecord(seed byte) *TransactionRecord {
	rec := NewTransactionRecord(chainhash.Hash{seed}, testTime)
	rec.Fee = 1200
	rec.Flags = FlagBlindIn
	rec.Inputs = []wire.OutPoint{{Hash: chainhash.Hash{0xaa, seed}}}
	rec.InsertOutput(OutputRecord{
		Index:     1,
		Flags:     FlagOwned | FlagChange,
		Kind:      KindBlinded,
		AddrType:  AddrExtKey,
		Value:     5000,
		Script:    []byte{0x76, 0xa9},
		KeyPath:   []byte{0, 0, 0, 1},
		Narration: "change",
	})
	rec.InsertOutput(OutputRecord{
		Index: 2,
		Flags: FlagFrom,
		Kind:  KindAnon,
		Value: 3000,
	})
	rec.Values[ValueComment] = []byte("rent")

	return rec
}

func TestCreateTwiceFails(t *testing.T) {
	t.Parallel()

	db, _, _ := setupStore(t)

	err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		return Create(tx.ReadWriteBucket(namespaceKey))
	})
	require.True(t, IsError(err, ErrDatabase))
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	db, store, _ := setupStore(t)
	rec := testRecord(1)
	rec.KeyImages = []blind.KeyImage{{0x02, 0x01}}
	rec.SetMerkleBlock(chainhash.Hash{0xbb}, 120, 3, testTime)

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		isNew, err := store.InsertRecord(ns, rec)
		require.True(t, isNew)

		return err
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		got, err := store.FetchRecord(ns, rec.Hash)
		require.NoError(t, err)
		require.Equal(t, rec, got)

		_, err = store.FetchRecord(ns, chainhash.Hash{0xff})
		require.True(t, IsError(err, ErrRecordNotFound))

		return nil
	})
}

// TestInsertRecordIdempotent checks that inserting the same record twice
// keeps one output per index and does not clear spent state.
func TestInsertRecordIdempotent(t *testing.T) {
	t.Parallel()

	db, store, _ := setupStore(t)
	rec := testRecord(2)
	spender := chainhash.Hash{0xcc}

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if _, err := store.InsertRecord(ns, rec); err != nil {
			return err
		}

		return store.MarkSpent(
			ns, wire.OutPoint{Hash: rec.Hash, Index: 1}, spender, 9,
		)
	})

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		isNew, err := store.InsertRecord(ns, testRecord(2))
		require.False(t, isNew)

		return err
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		got, err := store.FetchRecord(ns, rec.Hash)
		require.NoError(t, err)
		require.Len(t, got.Outputs, 2)

		out := got.GetOutput(1)
		require.True(t, out.Flags.Has(FlagSpent))
		require.Equal(t, spender, out.SpentBy)
		require.EqualValues(t, 9, out.SpentHeight)

		return nil
	})
}

func TestStoredTxRoundTrip(t *testing.T) {
	t.Parallel()

	db, store, _ := setupStore(t)

	tx := ctwire.NewMsgTx()
	tx.AddTxIn(&ctwire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{9}},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(ctwire.NewFeeOutput(1000))
	tx.AddTxOut(&ctwire.StandardOutput{Value: 10, PkScript: []byte{0x51}})

	stx := &StoredTransaction{Tx: tx}
	stx.InsertBlind(1, blind.Blind{7})
	stx.InsertBlind(3, blind.Blind{8})
	stx.InsertBlind(1, blind.Blind{9})

	hash := tx.TxHash()
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return store.PutStoredTx(ns, hash, stx)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		got, err := store.FetchStoredTx(ns, hash)
		require.NoError(t, err)
		require.Equal(t, hash, got.Tx.TxHash())
		require.Len(t, got.Blinds, 2)

		b, ok := got.GetBlind(1)
		require.True(t, ok)
		require.Equal(t, blind.Blind{9}, b)

		_, ok = got.GetBlind(2)
		require.False(t, ok)

		return nil
	})
}

func TestUnspentOutputs(t *testing.T) {
	t.Parallel()

	db, store, _ := setupStore(t)
	live := testRecord(3)
	abandoned := testRecord(4)

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if _, err := store.InsertRecord(ns, live); err != nil {
			return err
		}
		if _, err := store.InsertRecord(ns, abandoned); err != nil {
			return err
		}

		return store.AbandonRecord(ns, abandoned.Hash)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		credits, err := store.UnspentOutputs(ns, KindBlinded)
		require.NoError(t, err)
		require.Len(t, credits, 1)
		require.Equal(t, live.Hash, credits[0].Hash)
		require.EqualValues(t, 1, credits[0].Index)
		require.True(t, credits[0].FromWallet)
		require.False(t, credits[0].Confirmed)

		// The sent anonymous output is not owned.
		credits, err = store.UnspentOutputs(ns, KindAnon)
		require.NoError(t, err)
		require.Empty(t, credits)

		return nil
	})
}

// TestRemoveRecordFreesInputs checks the rollback path: every spend and key
// image of the removed record is released.
func TestRemoveRecordFreesInputs(t *testing.T) {
	t.Parallel()

	db, store, _ := setupStore(t)
	funding := testRecord(5)
	owned := wire.OutPoint{Hash: funding.Hash, Index: 1}
	anonOwned := wire.OutPoint{Hash: funding.Hash, Index: 7}
	ki := blind.KeyImage{0x03, 0x05}

	spend := NewTransactionRecord(chainhash.Hash{0x55}, testTime)
	spend.Inputs = []wire.OutPoint{owned}
	spend.KeyImages = []blind.KeyImage{ki}

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		funding.InsertOutput(OutputRecord{
			Index: 7, Flags: FlagOwned, Kind: KindAnon, Value: 1,
		})
		if _, err := store.InsertRecord(ns, funding); err != nil {
			return err
		}
		if err := store.PutOwnedKeyImage(ns, ki, anonOwned); err != nil {
			return err
		}
		if _, err := store.InsertRecord(ns, spend); err != nil {
			return err
		}
		if err := store.MarkSpent(ns, owned, spend.Hash, 0); err != nil {
			return err
		}
		err := store.MarkSpent(ns, anonOwned, spend.Hash, 0)
		if err != nil {
			return err
		}

		return store.PutKeyImage(ns, ki, spend.Hash, 0)
	})

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		return store.RemoveRecord(ns, spend.Hash)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		sp, err := store.SpentBy(ns, owned)
		require.NoError(t, err)
		require.Nil(t, sp)

		sp, err = store.FetchKeyImage(ns, ki)
		require.NoError(t, err)
		require.Nil(t, sp)

		rec, err := store.FetchRecord(ns, funding.Hash)
		require.NoError(t, err)
		require.False(t, rec.GetOutput(1).Flags.Has(FlagSpent))
		require.False(t, rec.GetOutput(7).Flags.Has(FlagSpent))

		_, err = store.FetchRecord(ns, spend.Hash)
		require.True(t, IsError(err, ErrRecordNotFound))

		return nil
	})
}

func TestAbandonRecord(t *testing.T) {
	t.Parallel()

	db, store, _ := setupStore(t)
	rec := testRecord(6)
	confirmed := testRecord(7)
	confirmed.SetMerkleBlock(chainhash.Hash{0x10}, 5, 0, testTime)

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if _, err := store.InsertRecord(ns, rec); err != nil {
			return err
		}
		if _, err := store.InsertRecord(ns, confirmed); err != nil {
			return err
		}

		return store.MarkSpent(ns, rec.Inputs[0], rec.Hash, 0)
	})

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		require.NoError(t, store.AbandonRecord(ns, rec.Hash))

		err := store.AbandonRecord(ns, confirmed.Hash)
		require.True(t, IsError(err, ErrData))

		return nil
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		got, err := store.FetchRecord(ns, rec.Hash)
		require.NoError(t, err)
		require.True(t, got.IsAbandoned())

		sp, err := store.SpentBy(ns, rec.Inputs[0])
		require.NoError(t, err)
		require.Nil(t, sp)

		return nil
	})
}

func TestLeases(t *testing.T) {
	t.Parallel()

	db, store, clk := setupStore(t)
	op := wire.OutPoint{Hash: chainhash.Hash{0x11}, Index: 2}
	idA := LeaseID{1}
	idB := LeaseID{2}

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		expiry, err := store.LeaseOutput(ns, idA, op, time.Minute)
		require.NoError(t, err)
		require.Equal(t, testTime.Add(time.Minute).UnixNano(),
			expiry.UnixNano())

		_, err = store.LeaseOutput(ns, idB, op, time.Minute)
		require.True(t, IsError(err, ErrOutputLeased))

		err = store.ReleaseOutput(ns, idB, op)
		require.True(t, IsError(err, ErrLeaseNotFound))

		return nil
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		leases, err := store.ListLeases(ns)
		require.NoError(t, err)
		require.Len(t, leases, 1)
		require.Equal(t, idA, leases[0].LeaseID)

		return nil
	})

	// Once expired the lease is ignored and swept.
	clk.SetTime(testTime.Add(2 * time.Minute))
	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		lease, err := store.IsLeased(ns, op)
		require.NoError(t, err)
		require.Nil(t, lease)

		n, err := store.DeleteExpiredLeases(ns)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		_, err = store.LeaseOutput(ns, idB, op, time.Minute)
		require.NoError(t, err)

		return store.ReleaseOutput(ns, idB, op)
	})
}

func TestUsedScriptsAndIndices(t *testing.T) {
	t.Parallel()

	db, store, _ := setupStore(t)
	script := []byte{0x00, 0x14, 0x01}
	op := wire.OutPoint{Hash: chainhash.Hash{0x12}}

	update(t, db, func(ns walletdb.ReadWriteBucket) error {
		if err := store.MarkScriptUsed(ns, script); err != nil {
			return err
		}

		return store.PutAnonIndex(ns, op, 4242)
	})

	view(t, db, func(ns walletdb.ReadBucket) error {
		used, err := store.IsScriptUsed(ns, script)
		require.NoError(t, err)
		require.True(t, used)

		used, err = store.IsScriptUsed(ns, []byte{0x51})
		require.NoError(t, err)
		require.False(t, used)

		idx, ok, err := store.FetchAnonIndex(ns, op)
		require.NoError(t, err)
		require.True(t, ok)
		require.EqualValues(t, 4242, idx)

		return nil
	})
}
