package wallet

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// p2pkhRecipient returns a plain recipient of amount to a foreign key.
func p2pkhRecipient(t *testing.T, amount btcutil.Amount,
	subtract bool) *Recipient {

	t.Helper()

	script, err := payToPubKeyHashScript(randKey(t).PubKey())
	require.NoError(t, err)

	return &Recipient{
		Kind:        KindPlain,
		Amount:      amount,
		Script:      script,
		SubtractFee: subtract,
	}
}

// TestDistributeFee checks how subtracting recipients share the fee.
func TestDistributeFee(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)

	tests := []struct {
		name       string
		recipients []*Recipient
		fee        btcutil.Amount
		want       []btcutil.Amount
		err        error
	}{{
		name: "first pays the remainder",
		recipients: []*Recipient{
			p2pkhRecipient(t, 100_000, true),
			p2pkhRecipient(t, 100_000, false),
			p2pkhRecipient(t, 100_000, true),
			p2pkhRecipient(t, 100_000, true),
		},
		fee:  1001,
		want: []btcutil.Amount{99_665, 100_000, 99_667, 99_667},
	}, {
		name: "small blinded exempt",
		recipients: []*Recipient{
			{Kind: KindBlinded, Amount: 500, SubtractFee: true},
			p2pkhRecipient(t, 100_000, true),
			{Kind: KindBlinded, Amount: 2000, SubtractFee: true},
		},
		fee:  1001,
		want: []btcutil.Amount{500, 99_499, 1500},
	}, {
		name: "no subtracting recipient",
		recipients: []*Recipient{
			p2pkhRecipient(t, 100_000, false),
		},
		fee:  1001,
		want: []btcutil.Amount{100_000},
	}, {
		name: "share above amount",
		recipients: []*Recipient{
			p2pkhRecipient(t, 100_000, true),
			{Kind: KindBlinded, Amount: 2000, SubtractFee: true},
		},
		fee: 5000,
		err: ErrAmountTooSmallForFee,
	}, {
		name: "plain share leaves dust",
		recipients: []*Recipient{
			p2pkhRecipient(t, 1000, true),
		},
		fee: 500,
		err: ErrAmountTooSmallForFee,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b := h.w.newTxBuilder(
				nil, KindPlain, tc.recipients, &CoinControl{},
			)
			amounts, err := b.distributeFee(tc.fee)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, amounts)
		})
	}
}

// TestIsDustAmount checks the relay dust limits of plain outputs.
func TestIsDustAmount(t *testing.T) {
	t.Parallel()

	p2pkh, err := payToPubKeyHashScript(randKey(t).PubKey())
	require.NoError(t, err)
	p2wpkh := append([]byte{txscript.OP_0, txscript.OP_DATA_20},
		make([]byte, 20)...)
	nullData := []byte{txscript.OP_RETURN, txscript.OP_DATA_1, 0x01}

	tests := []struct {
		name   string
		amount btcutil.Amount
		script []byte
		dust   bool
	}{
		{"p2pkh below limit", 545, p2pkh, true},
		{"p2pkh at limit", 546, p2pkh, false},
		{"p2wpkh below limit", 293, p2wpkh, true},
		{"p2wpkh at limit", 294, p2wpkh, false},
		{"zero", 0, p2pkh, true},
		{"null data", 0, nullData, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := isDustAmount(tc.amount, tc.script)
			require.Equal(t, tc.dust, got)
		})
	}
}

// TestBuildSubtractFeeSeveral checks a sweep paid by two subtracting
// recipients.
func TestBuildSubtractFeeSeveral(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()
	h.fundPlain(t, 4*btcutil.SatoshiPerBitcoin)

	reqs := []RecipientRequest{
		foreignPubKeyRequest(t, 2*btcutil.SatoshiPerBitcoin, KindPlain),
		foreignPubKeyRequest(t, 2*btcutil.SatoshiPerBitcoin, KindPlain),
	}
	reqs[0].SubtractFee = true
	reqs[1].SubtractFee = true

	atx, err := h.w.BuildStandardInputs(ctx, reqs, nil)
	require.NoError(t, err)
	require.Equal(t, -1, atx.ChangeIndex)
	require.Len(t, atx.Tx.TxOut, 2)

	share := atx.Fee / 2
	want := []btcutil.Amount{
		2*btcutil.SatoshiPerBitcoin - share - atx.Fee%2,
		2*btcutil.SatoshiPerBitcoin - share,
	}
	for i, req := range reqs {
		key := req.Destination.(PubKeyDest).Key
		script, err := payToPubKeyHashScript(key)
		require.NoError(t, err)

		var found bool
		for _, out := range atx.Tx.TxOut {
			std := out.(*ctwire.StandardOutput)
			if string(std.PkScript) != string(script) {
				continue
			}
			found = true
			require.Equal(t, int64(want[i]), std.Value)
		}
		require.True(t, found, "recipient %d", i)
	}
}

// TestBuildFeeDidNotConverge checks that the fee loop gives up after its
// iteration bound.
func TestBuildFeeDidNotConverge(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, func(cfg *Config) {
		cfg.MaxFeeIterations = 1
	})
	ctx := context.Background()
	h.fundPlain(t, 4*btcutil.SatoshiPerBitcoin)

	_, err := h.w.BuildStandardInputs(ctx, []RecipientRequest{
		foreignPubKeyRequest(t, btcutil.SatoshiPerBitcoin, KindPlain),
	}, &CoinControl{LockUnspents: true})
	require.ErrorIs(t, err, ErrFeeDidNotConverge)

	leases, err := h.w.ListLeasedOutputs(ctx)
	require.NoError(t, err)
	require.Empty(t, leases)
}

// TestSplitBlindOutput checks when the only hidden request is split.
func TestSplitBlindOutput(t *testing.T) {
	t.Parallel()

	const minValue = btcutil.Amount(1000)

	hidden := func(amount btcutil.Amount) RecipientRequest {
		return RecipientRequest{
			Destination: PubKeyDest{Key: randKey(t).PubKey()},
			Amount:      amount,
			Kind:        KindBlinded,
			SubtractFee: true,
			Narration:   fn.Some("rent"),
		}
	}
	plain := foreignPubKeyRequest(t, btcutil.SatoshiPerBitcoin, KindPlain)

	var nonce blind.Nonce
	nonce[0] = 1
	fixed := hidden(btcutil.SatoshiPerBitcoin)
	fixed.Nonce = fn.Some(nonce)

	tests := []struct {
		name  string
		reqs  []RecipientRequest
		split bool
	}{
		{"single hidden", []RecipientRequest{
			plain, hidden(btcutil.SatoshiPerBitcoin),
		}, true},
		{"smallest splittable", []RecipientRequest{
			hidden(2 * minValue),
		}, true},
		{"too small", []RecipientRequest{
			hidden(2*minValue - 1),
		}, false},
		{"two hidden", []RecipientRequest{
			hidden(btcutil.SatoshiPerBitcoin),
			hidden(btcutil.SatoshiPerBitcoin),
		}, false},
		{"fixed nonce", []RecipientRequest{fixed}, false},
		{"plain only", []RecipientRequest{plain}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := splitBlindOutput(tc.reqs, minValue)
			if !tc.split {
				require.Equal(t, tc.reqs, got)
				return
			}
			require.Len(t, got, len(tc.reqs)+1)

			n := len(got)
			whole, main, extra := tc.reqs[n-2], got[n-2], got[n-1]
			require.Equal(t, whole.Amount, main.Amount+extra.Amount)
			require.GreaterOrEqual(t, main.Amount, minValue)
			require.GreaterOrEqual(t, extra.Amount, minValue)
			require.Equal(t, whole.Destination, extra.Destination)
			require.Equal(t, whole.Kind, extra.Kind)

			require.True(t, main.SubtractFee)
			require.False(t, extra.SubtractFee)
			require.True(t, main.Narration.IsSome())
			require.True(t, extra.Narration.IsNone())
		})
	}
}

// TestBuildSplitBlindOutput checks that a plain sweep to one blinded output
// balances with a split output rather than zero value change.
func TestBuildSplitBlindOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		split bool
	}{
		{"zero change", false},
		{"split", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newTestHarness(t)
			ctx := context.Background()
			value := btcutil.Amount(4 * btcutil.SatoshiPerBitcoin)
			h.fundPlain(t, value)

			req := foreignPubKeyRequest(t, value, KindBlinded)
			req.SubtractFee = true

			atx, err := h.w.BuildStandardInputs(
				ctx, []RecipientRequest{req},
				&CoinControl{SplitBlindOutput: tc.split},
			)
			require.NoError(t, err)

			// Fee data output and two blinded outputs.
			require.Len(t, atx.Tx.TxOut, 3)
			require.Len(t, atx.Outputs, 2)

			var (
				outs  []blind.Commitment
				total btcutil.Amount
			)
			for _, bo := range atx.Outputs {
				require.Equal(t, KindBlinded, bo.Kind)
				outs = append(outs, bo.Commitment)
				total += bo.Value
			}
			require.Equal(t, value-atx.Fee, total)
			require.NoError(t, blind.VerifyBalance(
				nil, outs, uint64(value), 0, uint64(atx.Fee),
			))

			if !tc.split {
				require.NotEqual(t, -1, atx.ChangeIndex)
				change := atx.Outputs[0]
				if !change.Recipient.IsChange {
					change = atx.Outputs[1]
				}
				require.Zero(t, change.Value)

				return
			}

			require.Equal(t, -1, atx.ChangeIndex)
			for _, bo := range atx.Outputs {
				require.GreaterOrEqual(
					t, bo.Value, h.w.cfg.MinBlindedValue,
				)
			}
		})
	}
}

// walletView is everything a build could change.
type walletView struct {
	txns     []*TxDetail
	balances *Balances
	unspent  map[OutputKind][]*Coin
	leases   int
}

// viewWallet snapshots the ledger, coins and leases of h.
func viewWallet(t *testing.T, h *testHarness) *walletView {
	t.Helper()

	ctx := context.Background()
	txns, err := h.w.ListTxns(ctx, 0, -1)
	require.NoError(t, err)
	bals, err := h.w.Balances(ctx)
	require.NoError(t, err)
	leases, err := h.w.ListLeasedOutputs(ctx)
	require.NoError(t, err)

	view := &walletView{
		txns:     txns,
		balances: bals,
		unspent:  make(map[OutputKind][]*Coin),
		leases:   len(leases),
	}
	for _, kind := range []OutputKind{KindPlain, KindBlinded, KindAnon} {
		coins, err := h.w.ListUnspent(ctx, kind, nil)
		require.NoError(t, err)
		view.unspent[kind] = coins
	}

	return view
}

// TestFeeEstimateLeavesNoTrace checks that dry runs of every input kind
// change neither the ledger nor the key store.
func TestFeeEstimateLeavesNoTrace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind  OutputKind
		fund  func(h *testHarness, t *testing.T)
		build func(h *testHarness) func(context.Context,
			[]RecipientRequest, *CoinControl) (*AuthoredTx, error)
	}{{
		kind: KindPlain,
		fund: func(h *testHarness, t *testing.T) {
			h.fundPlain(t, 4*btcutil.SatoshiPerBitcoin)
		},
		build: func(h *testHarness) func(context.Context,
			[]RecipientRequest, *CoinControl) (*AuthoredTx, error) {

			return h.w.BuildStandardInputs
		},
	}, {
		kind: KindBlinded,
		fund: func(h *testHarness, t *testing.T) {
			h.fundBlinded(t, 4*btcutil.SatoshiPerBitcoin)
		},
		build: func(h *testHarness) func(context.Context,
			[]RecipientRequest, *CoinControl) (*AuthoredTx, error) {

			return h.w.BuildBlindedInputs
		},
	}, {
		kind: KindAnon,
		fund: func(h *testHarness, t *testing.T) {
			h.addDecoys(t, 8)
			h.fundAnon(t, 4*btcutil.SatoshiPerBitcoin)
		},
		build: func(h *testHarness) func(context.Context,
			[]RecipientRequest, *CoinControl) (*AuthoredTx, error) {

			return h.w.BuildAnonInputs
		},
	}}

	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			t.Parallel()

			h := newTestHarness(t)
			ctx := context.Background()
			tc.fund(h, t)

			before := viewWallet(t, h)

			estimate, err := tc.build(h)(ctx, []RecipientRequest{
				foreignPubKeyRequest(
					t, btcutil.SatoshiPerBitcoin, tc.kind,
				),
			}, &CoinControl{
				FeeProbe: true, LockUnspents: true, RingSize: 5,
			})
			require.NoError(t, err)
			require.True(t, estimate.FeeProbe)
			require.NotEqual(t, -1, estimate.ChangeIndex)

			require.Equal(t, before, viewWallet(t, h))

			// No change key was handed out.
			fresh, err := NewMemKeyStore(testSeed, testParams)
			require.NoError(t, err)
			want, err := fresh.NewChangeKey()
			require.NoError(t, err)
			got, err := h.keys.NewChangeKey()
			require.NoError(t, err)
			require.Equal(t, want.Path, got.Path)
		})
	}
}

// TestBuildAnonInputsPerSig checks a build signing two real inputs in one
// ring.
func TestBuildAnonInputsPerSig(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	ctx := context.Background()

	h.addDecoys(t, 10)
	first := h.fundAnon(t, btcutil.SatoshiPerBitcoin)
	second := h.fundAnon(t, btcutil.SatoshiPerBitcoin)
	h.addDecoys(t, 10)

	atx, err := h.w.BuildAnonInputs(ctx, []RecipientRequest{
		foreignPubKeyRequest(
			t, btcutil.SatoshiPerBitcoin*3/2, KindAnon,
		),
	}, &CoinControl{RingSize: 3, InputsPerSig: 2})
	require.NoError(t, err)

	require.Len(t, atx.Rings, 1)
	ring := atx.Rings[0]
	require.Len(t, ring.Inputs, 2)
	require.ElementsMatch(t, []wire.OutPoint{first, second},
		[]wire.OutPoint{
			ring.Inputs[0].OutPoint, ring.Inputs[1].OutPoint,
		})

	ins := anonInputs(atx.Tx)
	require.Len(t, ins, 1)
	require.Len(t, ins[0].KeyImages, 2)
	require.NotEqual(t, ins[0].KeyImages[0], ins[0].KeyImages[1])
	require.NoError(t, blind.VerifyMLSAG(
		atx.Tx.RingSigHash(), ring.Members, ins[0].PseudoCommitment,
		ins[0].KeyImages, ins[0].Signature,
	))

	require.NoError(t, h.w.CommitTransaction(ctx, atx))

	coins, err := h.w.ListUnspent(ctx, KindAnon, nil)
	require.NoError(t, err)
	for _, coin := range coins {
		require.NotEqual(t, first, coin.OutPoint)
		require.NotEqual(t, second, coin.OutPoint)
	}
}

// TestChangeRecipientSharesKey checks that the change of every kind in one
// build pays to a single wallet key, and that dry runs use none.
func TestChangeRecipientSharesKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cc       *CoinControl
		keysUsed int
	}{
		{"build", &CoinControl{}, 1},
		{"dry run", &CoinControl{FeeProbe: true}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newTestHarness(t)
			b := h.w.newTxBuilder(nil, KindPlain, nil, tc.cc)

			kinds := []OutputKind{
				KindPlain, KindBlinded, KindAnon, KindBlinded,
			}
			var first *Recipient
			for _, kind := range kinds {
				rcp, err := b.changeRecipient(kind)
				require.NoError(t, err)
				require.True(t, rcp.IsChange)
				require.Equal(t, kind, rcp.Kind)

				again, err := b.changeRecipient(kind)
				require.NoError(t, err)
				require.Same(t, rcp, again)

				if first == nil {
					first = rcp
					continue
				}
				if tc.keysUsed == 0 {
					require.Nil(t, rcp.KeyPath)
					continue
				}
				same := first.PubKey.IsEqual(rcp.PubKey)
				require.True(t, same)
				require.Equal(t, first.KeyPath, rcp.KeyPath)
			}

			// The next change key is the one after those used.
			fresh, err := NewMemKeyStore(testSeed, testParams)
			require.NoError(t, err)
			var want *KeyDescriptor
			for range tc.keysUsed + 1 {
				want, err = fresh.NewChangeKey()
				require.NoError(t, err)
			}
			got, err := h.keys.NewChangeKey()
			require.NoError(t, err)
			require.Equal(t, want.Path, got.Path)
		})
	}
}
