package wallet

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	// testTip is the chain height reported to test wallets.
	testTip int32 = 200

	// firstFundingHeight is the block height of the first funding tx.
	firstFundingHeight int32 = 100
)

var (
	testParams = &chaincfg.RegressionNetParams

	testSeed = []byte{
		0x1c, 0x4b, 0x3e, 0x7a, 0x58, 0x2f, 0x90, 0x0d,
		0xa1, 0x66, 0x2b, 0xc9, 0x5e, 0x14, 0x83, 0x37,
		0xf2, 0x08, 0x6d, 0xbb, 0x41, 0x9c, 0x25, 0xe0,
		0x73, 0x1a, 0xd4, 0x5f, 0x8e, 0x36, 0xc7, 0x02,
	}

	testStartTime = time.Unix(1700000000, 0)
)

// testHarness bundles a started wallet with its collaborators.
type testHarness struct {
	w         *Wallet
	db        walletdb.DB
	keys      *MemKeyStore
	index     AnonIndexWriter
	chain     *mockChain
	publisher *mockPublisher
	clock     *clock.TestClock
	ticker    *ticker.Force

	// height is the block height of the next funding tx.
	height int32
}

// setupTestDB creates a bdb wallet database in a temp dir.
func setupTestDB(t *testing.T) walletdb.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "wallet.db")
	db, err := walletdb.Create("bdb", dbPath, true, 10*time.Second, false)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

// newTestHarness returns a started wallet. modify may adjust the config
// before the wallet is created.
func newTestHarness(t *testing.T, modify ...func(*Config)) *testHarness {
	t.Helper()

	keys, err := NewMemKeyStore(testSeed, testParams)
	require.NoError(t, err)

	h := &testHarness{
		db:        setupTestDB(t),
		keys:      keys,
		index:     NewMemAnonIndex(),
		chain:     &mockChain{},
		publisher: &mockPublisher{},
		clock:     clock.NewTestClock(testStartTime),
		ticker:    ticker.NewForce(time.Minute),
		height:    firstFundingHeight,
	}
	h.chain.On("BestBlock", mock.Anything).Return(
		testTip, chainhash.Hash{}, nil,
	).Maybe()

	cfg := DefaultConfig()
	cfg.DB = h.db
	cfg.ChainParams = testParams
	cfg.Keys = keys
	cfg.AnonIndex = h.index
	cfg.Chain = h.chain
	cfg.Publisher = h.publisher
	cfg.Clock = h.clock
	cfg.LeaseSweepTicker = h.ticker
	for _, m := range modify {
		m(cfg)
	}
	if idx, ok := cfg.AnonIndex.(AnonIndexWriter); ok {
		h.index = idx
	}

	h.w, err = New(cfg)
	require.NoError(t, err)
	require.NoError(t, h.w.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, h.w.Stop(context.Background()))
	})

	return h
}

// nextBlock returns the block of the next funding tx.
func (h *testHarness) nextBlock() *BlockMeta {
	var hash chainhash.Hash
	_, _ = rand.Read(hash[:])

	block := &BlockMeta{
		Hash:   hash,
		Height: h.height,
		Time:   testStartTime.Add(time.Duration(h.height) * time.Minute),
	}
	h.height++

	return block
}

// randOutPoint returns an outpoint of an unknown tx.
func randOutPoint(t *testing.T) wire.OutPoint {
	t.Helper()

	var op wire.OutPoint
	_, err := rand.Read(op.Hash[:])
	require.NoError(t, err)

	return op
}

// randKey returns a fresh private key.
func randKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return priv
}

// foreignTx returns a tx spending an unknown output.
func foreignTx(t *testing.T) *ctwire.MsgTx {
	t.Helper()

	tx := ctwire.NewMsgTx()
	tx.AddTxIn(&ctwire.TxIn{
		PreviousOutPoint: randOutPoint(t),
		Sequence:         wire.MaxTxInSequenceNum,
	})

	return tx
}

// hiddenOpening is the commitment and proof of a hidden output paid to pub.
type hiddenOpening struct {
	commitment blind.Commitment
	blind      blind.Blind
	proof      []byte
	data       []byte
}

// openingTo commits to value for pub, with a proof pub's owner can rewind.
func openingTo(t *testing.T, pub *btcec.PublicKey,
	value btcutil.Amount) *hiddenOpening {

	t.Helper()

	eph := randKey(t)
	nonce, err := blind.ECDHSecret(eph, pub)
	require.NoError(t, err)

	b, err := blind.NewBlind(nil)
	require.NoError(t, err)
	c, err := blind.Commit(b, uint64(value))
	require.NoError(t, err)

	proof, err := blind.ProveRange(&blind.ProveParams{
		Commitment: c,
		Blind:      b,
		Value:      uint64(value),
		Nonce:      nonce,
	})
	require.NoError(t, err)

	return &hiddenOpening{
		commitment: c,
		blind:      b,
		proof:      proof,
		data: ctwire.EncodeDataRecords(ctwire.DataRecord{
			Tag:   ctwire.DataStealth,
			Value: eph.PubKey().SerializeCompressed(),
		}),
	}
}

// scan scans tx in the next block.
func (h *testHarness) scan(t *testing.T, tx *ctwire.MsgTx) *ScanResult {
	t.Helper()

	res, err := h.w.ScanTransaction(context.Background(), tx, h.nextBlock())
	require.NoError(t, err)

	return res
}

// fundPlain pays value to a fresh receive key in a confirmed plain-only tx.
func (h *testHarness) fundPlain(t *testing.T,
	value btcutil.Amount) wire.OutPoint {

	t.Helper()

	desc, err := h.keys.NewReceiveKey()
	require.NoError(t, err)
	script, err := payToPubKeyHashScript(desc.PubKey)
	require.NoError(t, err)

	tx := foreignTx(t)
	tx.AddTxOut(&ctwire.StandardOutput{
		Value: int64(value), PkScript: script,
	})

	res := h.scan(t, tx)
	require.True(t, res.Legacy)
	require.Len(t, res.Owned, 1)

	return wire.OutPoint{Hash: tx.TxHash(), Index: 0}
}

// fundBlinded pays value to a fresh receive key in a confirmed blinded
// output.
func (h *testHarness) fundBlinded(t *testing.T,
	value btcutil.Amount) wire.OutPoint {

	t.Helper()

	desc, err := h.keys.NewReceiveKey()
	require.NoError(t, err)
	script, err := payToPubKeyHashScript(desc.PubKey)
	require.NoError(t, err)

	o := openingTo(t, desc.PubKey, value)

	tx := foreignTx(t)
	tx.AddTxOut(ctwire.NewFeeOutput(1000))
	tx.AddTxOut(&ctwire.CTOutput{
		Commitment: o.commitment,
		Data:       o.data,
		PkScript:   script,
		RangeProof: o.proof,
	})

	res := h.scan(t, tx)
	require.False(t, res.Legacy)
	require.Len(t, res.Owned, 1)
	require.Equal(t, value, res.Owned[0].Value)

	return wire.OutPoint{Hash: tx.TxHash(), Index: 1}
}

// fundAnon pays value to a fresh receive key in a confirmed anonymous output
// and appends it to the anon index.
func (h *testHarness) fundAnon(t *testing.T,
	value btcutil.Amount) wire.OutPoint {

	t.Helper()

	desc, err := h.keys.NewReceiveKey()
	require.NoError(t, err)

	o := openingTo(t, desc.PubKey, value)

	var pub [33]byte
	copy(pub[:], desc.PubKey.SerializeCompressed())

	tx := foreignTx(t)
	tx.AddTxOut(ctwire.NewFeeOutput(1000))
	tx.AddTxOut(&ctwire.RingCTOutput{
		PubKey:     pub,
		Commitment: o.commitment,
		Data:       o.data,
		RangeProof: o.proof,
	})
	op := wire.OutPoint{Hash: tx.TxHash(), Index: 1}

	_, err = h.index.InsertAnonOutput(context.Background(), &AnonOutput{
		PubKey:     pub,
		Commitment: o.commitment,
		OutPoint:   op,
		Height:     h.height,
	})
	require.NoError(t, err)

	res := h.scan(t, tx)
	require.Len(t, res.Owned, 1)
	require.Equal(t, value, res.Owned[0].Value)

	return op
}

// addDecoys appends n foreign anonymous outputs to the index.
func (h *testHarness) addDecoys(t *testing.T, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		b, err := blind.NewBlind(nil)
		require.NoError(t, err)
		c, err := blind.Commit(b, uint64(i+1)*1000)
		require.NoError(t, err)

		var pub [33]byte
		copy(pub[:], randKey(t).PubKey().SerializeCompressed())

		_, err = h.index.InsertAnonOutput(
			context.Background(), &AnonOutput{
				PubKey:     pub,
				Commitment: c,
				OutPoint:   randOutPoint(t),
				Height:     h.height,
			},
		)
		require.NoError(t, err)
	}
}

// foreignPubKeyRequest pays amount of kind to a key the wallet does not own.
func foreignPubKeyRequest(t *testing.T, amount btcutil.Amount,
	kind OutputKind) RecipientRequest {

	t.Helper()

	return RecipientRequest{
		Destination: PubKeyDest{Key: randKey(t).PubKey()},
		Amount:      amount,
		Kind:        kind,
	}
}
