package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/dmuralov/particl-core/txrecord"
	"github.com/stretchr/testify/require"
)

var (
	leaseA = txrecord.LeaseID{0xaa}
	leaseB = txrecord.LeaseID{0xbb}
)

// TestLeaseOutput checks leasing, extending and releasing an output.
func TestLeaseOutput(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	op := h.fundBlinded(t, btcutil.SatoshiPerBitcoin)

	expiry, err := h.w.LeaseOutput(ctx, leaseA, op, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, testStartTime.Add(10*time.Minute), expiry)

	// The holder may extend its own lease.
	expiry, err = h.w.LeaseOutput(ctx, leaseA, op, time.Hour)
	require.NoError(t, err)
	require.Equal(t, testStartTime.Add(time.Hour), expiry)

	_, err = h.w.LeaseOutput(ctx, leaseB, op, time.Hour)
	require.ErrorIs(t, err, ErrLockedOutputConflict)

	leases, err := h.w.ListLeasedOutputs(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	require.Equal(t, op, leases[0].Outpoint)
	require.Equal(t, leaseA, leases[0].LeaseID)

	// Leased outputs are listed but never selected.
	coins, err := h.w.ListUnspent(ctx, KindBlinded, nil)
	require.NoError(t, err)
	require.Len(t, coins, 1)

	_, err = h.w.BuildBlindedInputs(ctx, []RecipientRequest{
		foreignPubKeyRequest(t, 1000000, KindBlinded),
	}, nil)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	require.Error(t, h.w.ReleaseOutput(ctx, leaseB, op))
	require.NoError(t, h.w.ReleaseOutput(ctx, leaseA, op))

	leases, err = h.w.ListLeasedOutputs(ctx)
	require.NoError(t, err)
	require.Empty(t, leases)
}

// TestLeaseUnknownOutput checks that only wallet outputs can be leased.
func TestLeaseUnknownOutput(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.w.LeaseOutput(ctx, leaseA, randOutPoint(t), time.Hour)
	require.ErrorIs(t, err, ErrUtxoNotEligible)

	// Plain-only outputs are leasable too.
	op := h.fundPlain(t, btcutil.SatoshiPerBitcoin)
	_, err = h.w.LeaseOutput(ctx, leaseA, op, time.Hour)
	require.NoError(t, err)

	// The funding tx exists but has no output at this index.
	op.Index = 5
	_, err = h.w.LeaseOutput(ctx, leaseA, op, time.Hour)
	require.ErrorIs(t, err, ErrUtxoNotEligible)
}

// TestLeaseExpiry checks that an expired lease no longer holds the output.
func TestLeaseExpiry(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	op := h.fundBlinded(t, btcutil.SatoshiPerBitcoin)

	_, err := h.w.LeaseOutput(ctx, leaseA, op, time.Minute)
	require.NoError(t, err)

	h.clock.SetTime(testStartTime.Add(2 * time.Minute))

	leases, err := h.w.ListLeasedOutputs(ctx)
	require.NoError(t, err)
	require.Empty(t, leases)

	_, err = h.w.LeaseOutput(ctx, leaseB, op, time.Minute)
	require.NoError(t, err)
}

// TestLeaseSweeper checks that the sweeper deletes expired leases on tick.
func TestLeaseSweeper(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	op := h.fundBlinded(t, btcutil.SatoshiPerBitcoin)

	_, err := h.w.LeaseOutput(ctx, leaseA, op, time.Minute)
	require.NoError(t, err)

	h.clock.SetTime(testStartTime.Add(2 * time.Minute))

	// The second tick is only taken once the first sweep is done.
	h.ticker.Force <- time.Now()
	h.ticker.Force <- time.Now()

	// Had the lease survived, winding the clock back would revive it.
	h.clock.SetTime(testStartTime)

	leases, err := h.w.ListLeasedOutputs(ctx)
	require.NoError(t, err)
	require.Empty(t, leases)
}
