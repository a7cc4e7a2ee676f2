package wallet

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/stretchr/testify/require"
)

// TestBuildPlainToPlain checks that a plain payment from plain inputs has
// no data output and sends the remainder back as change.
func TestBuildPlainToPlain(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	funding := h.fundPlain(t, 10*btcutil.SatoshiPerBitcoin)

	atx, err := h.w.BuildStandardInputs(ctx, []RecipientRequest{
		foreignPubKeyRequest(t, 3*btcutil.SatoshiPerBitcoin, KindPlain),
	}, nil)
	require.NoError(t, err)

	require.Len(t, atx.Tx.TxOut, 2)
	require.Positive(t, atx.Fee)
	require.True(t, atx.Signed)
	require.Len(t, atx.Inputs, 1)
	require.Equal(t, funding, atx.Inputs[0].OutPoint)
	require.NotEqual(t, -1, atx.ChangeIndex)

	var total int64
	for _, out := range atx.Tx.TxOut {
		std, ok := out.(*ctwire.StandardOutput)
		require.True(t, ok)
		total += std.Value
	}
	require.Equal(t, int64(10*btcutil.SatoshiPerBitcoin),
		total+int64(atx.Fee))

	change := atx.Tx.TxOut[atx.ChangeIndex].(*ctwire.StandardOutput)
	require.Equal(t, int64(7*btcutil.SatoshiPerBitcoin-atx.Fee),
		change.Value)

	require.NoError(t, h.w.CommitTransaction(ctx, atx))

	bals, err := h.w.Balances(ctx)
	require.NoError(t, err)
	require.Equal(t, btcutil.Amount(change.Value), bals.Plain.Trusted)
}

// TestBuildBlindedToBlinded checks the commitments of a blinded payment:
// every output opens, one output balances and the change rewinds to the
// remainder.
func TestBuildBlindedToBlinded(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	h.fundBlinded(t, 5*btcutil.SatoshiPerBitcoin)

	atx, err := h.w.BuildBlindedInputs(ctx, []RecipientRequest{
		foreignPubKeyRequest(
			t, 2*btcutil.SatoshiPerBitcoin, KindBlinded,
		),
	}, nil)
	require.NoError(t, err)

	// Fee data output, payment and change.
	require.Len(t, atx.Tx.TxOut, 3)
	fee, ok := ctwire.ParseFee(atx.Tx.TxOut[0].(*ctwire.DataOutput))
	require.True(t, ok)
	require.Equal(t, int64(atx.Fee), fee)

	var (
		balancing int
		outs      []blind.Commitment
		change    *BuiltOutput
	)
	for _, bo := range atx.Outputs {
		require.Equal(t, KindBlinded, bo.Kind)
		require.NoError(t, blind.VerifyCommit(
			bo.Commitment, bo.Blind, uint64(bo.Value),
		))
		outs = append(outs, bo.Commitment)

		if bo.Balancing {
			balancing++
		}
		if bo.Recipient.IsChange {
			change = bo
		}
	}
	require.Equal(t, 1, balancing)
	require.NotNil(t, change)
	require.True(t, change.Balancing)

	ins := []blind.Commitment{atx.Inputs[0].Commitment}
	require.NoError(t, blind.VerifyBalance(
		ins, outs, 0, 0, uint64(atx.Fee),
	))

	// The wallet can open its change from the chain data alone.
	ct := atx.Tx.TxOut[change.Index].(*ctwire.CTOutput)
	ephBytes, ok := ctwire.FindDataRecord(ct.Data, ctwire.DataStealth)
	require.True(t, ok)
	eph, err := btcec.ParsePubKey(ephBytes)
	require.NoError(t, err)

	priv, err := h.keys.PrivKey(change.Recipient.KeyPath)
	require.NoError(t, err)
	nonce, err := blind.ECDHSecret(priv, eph)
	require.NoError(t, err)

	res, err := blind.RewindRange(ct.Commitment, ct.RangeProof, nonce)
	require.NoError(t, err)
	require.Equal(t, uint64(3*btcutil.SatoshiPerBitcoin-atx.Fee),
		res.Value)

	require.NoError(t, h.w.CommitTransaction(ctx, atx))

	coins, err := h.w.ListUnspent(ctx, KindBlinded, nil)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	require.Equal(t, btcutil.Amount(res.Value), coins[0].Value)
}

// TestBuildAnonToAnon checks that an anonymous spend hides the real input
// among distinct decoys and signs a valid ring.
func TestBuildAnonToAnon(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	h.addDecoys(t, 10)
	funding := h.fundAnon(t, 5*btcutil.SatoshiPerBitcoin)
	h.addDecoys(t, 10)

	cc := &CoinControl{RingSize: 5}
	atx, err := h.w.BuildAnonInputs(ctx, []RecipientRequest{
		foreignPubKeyRequest(t, 2*btcutil.SatoshiPerBitcoin, KindAnon),
	}, cc)
	require.NoError(t, err)

	require.Len(t, atx.Rings, 1)
	ring := atx.Rings[0]
	require.Equal(t, 5, ring.Size())
	require.Len(t, ring.Inputs, 1)
	require.Equal(t, funding, ring.Inputs[0].OutPoint)

	seen := make(map[int64]bool)
	for col := range ring.Indices {
		idx := ring.Indices[col][0]
		require.False(t, seen[idx], "duplicate ring member %d", idx)
		seen[idx] = true
	}
	require.Equal(t, ring.Inputs[0].AnonIndex,
		ring.Indices[ring.RealColumn][0])

	ins := anonInputs(atx.Tx)
	require.Len(t, ins, 1)
	require.Len(t, ins[0].KeyImages, 1)
	require.NoError(t, blind.VerifyMLSAG(
		atx.Tx.RingSigHash(), ring.Members, ins[0].PseudoCommitment,
		ins[0].KeyImages, ins[0].Signature,
	))

	require.NoError(t, h.w.CommitTransaction(ctx, atx))

	// The spent output no longer counts and a second spend of it is
	// refused.
	bals, err := h.w.Balances(ctx)
	require.NoError(t, err)
	require.Equal(t, 3*btcutil.SatoshiPerBitcoin-atx.Fee,
		bals.Anon.Total())

	_, err = h.w.BuildAnonInputs(ctx, []RecipientRequest{
		foreignPubKeyRequest(t, 4*btcutil.SatoshiPerBitcoin, KindAnon),
	}, &CoinControl{RingSize: 5, Inputs: []wire.OutPoint{funding}})
	require.Error(t, err)
}

// TestSelectMixinsRealColumn checks that the real input does not sit at a
// fixed ring position.
func TestSelectMixinsRealColumn(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	h.addDecoys(t, 30)
	h.fundAnon(t, btcutil.SatoshiPerBitcoin)

	coins, err := h.w.ListUnspent(ctx, KindAnon, nil)
	require.NoError(t, err)
	require.Len(t, coins, 1)

	reals := []RealAnonInput{{Coin: coins[0]}}
	columns := make(map[int]int)
	for i := 0; i < 64; i++ {
		rings, err := h.w.SelectMixins(ctx, reals, 5, 1, nil)
		require.NoError(t, err)
		require.Len(t, rings, 1)

		ring := rings[0]
		require.Equal(t, coins[0].AnonIndex,
			ring.Indices[ring.RealColumn][0])
		columns[ring.RealColumn]++
	}

	require.Greater(t, len(columns), 1)
}

// TestBuildAnonInsufficientMixins checks that a build without enough decoys
// fails before anything is leased or recorded.
func TestBuildAnonInsufficientMixins(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	h.addDecoys(t, 2)
	h.fundAnon(t, 5*btcutil.SatoshiPerBitcoin)

	before, err := h.w.ListTxns(ctx, 0, -1)
	require.NoError(t, err)

	_, err = h.w.BuildAnonInputs(ctx, []RecipientRequest{
		foreignPubKeyRequest(t, btcutil.SatoshiPerBitcoin, KindAnon),
	}, &CoinControl{RingSize: 5, LockUnspents: true})
	require.ErrorIs(t, err, ErrInsufficientMixins)

	leases, err := h.w.ListLeasedOutputs(ctx)
	require.NoError(t, err)
	require.Empty(t, leases)

	after, err := h.w.ListTxns(ctx, 0, -1)
	require.NoError(t, err)
	require.Equal(t, before, after)

	bals, err := h.w.Balances(ctx)
	require.NoError(t, err)
	require.Equal(
		t, btcutil.Amount(5*btcutil.SatoshiPerBitcoin), bals.Anon.Trusted,
	)
}

// TestBuildInsufficientFunds checks the error of an unaffordable build.
func TestBuildInsufficientFunds(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.fundPlain(t, btcutil.SatoshiPerBitcoin)

	_, err := h.w.BuildStandardInputs(context.Background(),
		[]RecipientRequest{foreignPubKeyRequest(
			t, 2*btcutil.SatoshiPerBitcoin, KindPlain,
		)}, nil,
	)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

// TestBuildRequiresStartedWallet checks that a stopped wallet refuses to
// build.
func TestBuildRequiresStartedWallet(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.fundPlain(t, btcutil.SatoshiPerBitcoin)
	require.NoError(t, h.w.Stop(context.Background()))

	_, err := h.w.BuildStandardInputs(context.Background(),
		[]RecipientRequest{foreignPubKeyRequest(
			t, btcutil.SatoshiPerBitcoin/2, KindPlain,
		)}, nil,
	)
	require.ErrorIs(t, err, ErrWalletStopped)
}

// TestBuildSubtractFee checks that a subtracting recipient pays the whole
// fee and no change is created when the wallet is swept.
func TestBuildSubtractFee(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	h.fundPlain(t, 2*btcutil.SatoshiPerBitcoin)

	req := foreignPubKeyRequest(t, 2*btcutil.SatoshiPerBitcoin, KindPlain)
	req.SubtractFee = true

	atx, err := h.w.BuildStandardInputs(ctx, []RecipientRequest{req}, nil)
	require.NoError(t, err)

	require.Equal(t, -1, atx.ChangeIndex)
	require.Len(t, atx.Tx.TxOut, 1)

	out := atx.Tx.TxOut[0].(*ctwire.StandardOutput)
	require.Equal(t, int64(2*btcutil.SatoshiPerBitcoin-atx.Fee), out.Value)
}

// TestBuildFeeEstimate checks that a dry run leases and records nothing and
// cannot be committed.
func TestBuildFeeEstimate(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	h.fundPlain(t, 5*btcutil.SatoshiPerBitcoin)

	reqs := []RecipientRequest{
		foreignPubKeyRequest(t, btcutil.SatoshiPerBitcoin, KindPlain),
	}
	estimate, err := h.w.BuildStandardInputs(ctx, reqs, &CoinControl{
		FeeProbe: true, LockUnspents: true,
	})
	require.NoError(t, err)
	require.True(t, estimate.FeeProbe)
	require.False(t, estimate.Leased)
	require.Positive(t, estimate.Fee)

	leases, err := h.w.ListLeasedOutputs(ctx)
	require.NoError(t, err)
	require.Empty(t, leases)

	require.ErrorIs(t, h.w.CommitTransaction(ctx, estimate), ErrFeeProbe)

	// A real build of the same payment pays the estimated fee.
	atx, err := h.w.BuildStandardInputs(ctx, reqs, nil)
	require.NoError(t, err)
	require.Equal(t, estimate.Fee, atx.Fee)
}

// TestBuildLockUnspents checks that leased inputs are skipped by later
// builds until the tx is committed.
func TestBuildLockUnspents(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	funding := h.fundPlain(t, 5*btcutil.SatoshiPerBitcoin)

	reqs := []RecipientRequest{
		foreignPubKeyRequest(t, btcutil.SatoshiPerBitcoin, KindPlain),
	}
	atx, err := h.w.BuildStandardInputs(ctx, reqs, &CoinControl{
		LockUnspents: true,
	})
	require.NoError(t, err)
	require.True(t, atx.Leased)

	leases, err := h.w.ListLeasedOutputs(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, funding, leases[0].Outpoint)

	_, err = h.w.BuildStandardInputs(ctx, reqs, nil)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, h.w.CommitTransaction(ctx, atx))

	leases, err = h.w.ListLeasedOutputs(ctx)
	require.NoError(t, err)
	require.Empty(t, leases)
}

// TestBuildPinnedInputs checks coin control pinning.
func TestBuildPinnedInputs(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	h.fundPlain(t, 5*btcutil.SatoshiPerBitcoin)
	small := h.fundPlain(t, 2*btcutil.SatoshiPerBitcoin)

	reqs := []RecipientRequest{
		foreignPubKeyRequest(t, btcutil.SatoshiPerBitcoin, KindPlain),
	}
	atx, err := h.w.BuildStandardInputs(ctx, reqs, &CoinControl{
		Inputs: []wire.OutPoint{small},
	})
	require.NoError(t, err)
	require.Len(t, atx.Inputs, 1)
	require.Equal(t, small, atx.Inputs[0].OutPoint)

	_, err = h.w.BuildStandardInputs(ctx, reqs, &CoinControl{
		Inputs: []wire.OutPoint{small, small},
	})
	require.ErrorIs(t, err, ErrDuplicatedUtxo)

	_, err = h.w.BuildStandardInputs(ctx, reqs, &CoinControl{
		Inputs: []wire.OutPoint{randOutPoint(t)},
	})
	require.ErrorIs(t, err, ErrUtxoNotEligible)
}

// TestBuildPlainToBlinded checks that plain inputs paying a blinded output
// get blinded change so the blinds balance.
func TestBuildPlainToBlinded(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	h.fundPlain(t, 5*btcutil.SatoshiPerBitcoin)

	atx, err := h.w.BuildStandardInputs(ctx, []RecipientRequest{
		foreignPubKeyRequest(t, btcutil.SatoshiPerBitcoin, KindBlinded),
	}, nil)
	require.NoError(t, err)

	require.NotEqual(t, -1, atx.ChangeIndex)
	_, ok := atx.Tx.TxOut[0].(*ctwire.DataOutput)
	require.True(t, ok)

	var outs []blind.Commitment
	for _, bo := range atx.Outputs {
		require.Equal(t, KindBlinded, bo.Kind)
		outs = append(outs, bo.Commitment)
	}
	require.NoError(t, blind.VerifyBalance(
		nil, outs, uint64(5*btcutil.SatoshiPerBitcoin), 0,
		uint64(atx.Fee),
	))

	require.NoError(t, h.w.CommitTransaction(ctx, atx))

	bals, err := h.w.Balances(ctx)
	require.NoError(t, err)
	require.Zero(t, bals.Plain.Total())
	require.Equal(t, 4*btcutil.SatoshiPerBitcoin-atx.Fee,
		bals.Blinded.Trusted)
}
