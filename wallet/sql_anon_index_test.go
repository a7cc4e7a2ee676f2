package wallet

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// newSQLiteAnonIndex returns an anon index in a fresh SQLite file.
func newSQLiteAnonIndex(t *testing.T) *SQLAnonIndex {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "anon.db") +
		"?_pragma=foreign_keys=on&_txlock=immediate"
	conn, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	idx, err := OpenSQLAnonIndex(AnonIndexSQLite, conn)
	require.NoError(t, err)

	return idx
}

// TestSQLAnonIndex checks the SQL index against the wallet error set.
func TestSQLAnonIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := newSQLiteAnonIndex(t)

	last, err := idx.LastIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(-1), last)

	var pub [33]byte
	copy(pub[:], randKey(t).PubKey().SerializeCompressed())
	out := &AnonOutput{
		PubKey:   pub,
		OutPoint: randOutPoint(t),
		Height:   42,
	}
	out.Commitment[0] = 0x08

	n, err := idx.InsertAnonOutput(ctx, out)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = idx.InsertAnonOutput(ctx, out)
	require.ErrorIs(t, err, ErrDuplicateAnonOutput)

	got, err := idx.FetchByPubKey(ctx, pub)
	require.NoError(t, err)
	require.Equal(t, out.OutPoint, got.OutPoint)
	require.Equal(t, int32(42), got.Height)

	_, err = idx.FetchByIndex(ctx, 1)
	require.ErrorIs(t, err, ErrAnonOutputNotFound)

	require.NoError(t, idx.SetBlacklisted(ctx, 0, true))
	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Count)
	require.Equal(t, int64(1), stats.Blacklisted)
	require.Equal(t, int32(42), stats.MaxHeight)

	_, err = OpenSQLAnonIndex("oracle", nil)
	require.ErrorIs(t, err, errInvalidConfig)
}

// TestBuildAnonSQLIndex checks that rings can be drawn from the SQL index.
func TestBuildAnonSQLIndex(t *testing.T) {
	t.Parallel()

	sqlIdx := newSQLiteAnonIndex(t)
	h := newTestHarness(t, func(cfg *Config) {
		cfg.AnonIndex = sqlIdx
	})
	ctx := context.Background()

	h.addDecoys(t, 4)
	op := h.fundAnon(t, 2*btcutil.SatoshiPerBitcoin)

	coins, err := h.w.ListUnspent(ctx, KindAnon, nil)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	require.Equal(t, int64(4), coins[0].AnonIndex)

	atx, err := h.w.BuildAnonInputs(ctx, []RecipientRequest{
		foreignPubKeyRequest(t, btcutil.SatoshiPerBitcoin, KindAnon),
	}, &CoinControl{RingSize: 5, Inputs: []wire.OutPoint{op}})
	require.NoError(t, err)
	require.Len(t, atx.Rings, 1)
	require.NoError(t, h.w.CommitTransaction(ctx, atx))
}
