package feeunit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestFeeRateConversions checks conversion between sat/kvb and sat/vb.
func TestFeeRateConversions(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		kvb    SatPerKVByte
		vb     SatPerVByte
		kvbStr string
		vbStr  string
	}{
		{
			name:   "1000 sat/kvb",
			kvb:    NewSatPerKVByte(1000),
			vb:     NewSatPerVByte(1),
			kvbStr: "1000.000 sat/kvb",
			vbStr:  "1.000 sat/vb",
		},
		{
			name:   "1 sat/kvb",
			kvb:    NewSatPerKVByte(1),
			vb:     CalcSatPerVByte(1, NewVByte(1000)),
			kvbStr: "1.000 sat/kvb",
			vbStr:  "0.001 sat/vb",
		},
		{
			name:   "20000 sat/kvb",
			kvb:    NewSatPerKVByte(20000),
			vb:     NewSatPerVByte(20),
			kvbStr: "20000.000 sat/kvb",
			vbStr:  "20.000 sat/vb",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.True(t, tc.kvb.ToSatPerVByte().Equal(tc.vb))
			require.True(t, tc.vb.ToSatPerKVByte().Equal(tc.kvb))
			require.Equal(t, tc.kvbStr, tc.kvb.String())
			require.Equal(t, tc.vbStr, tc.vb.String())
		})
	}
}

// TestFeeForVSize checks rounding of fee calculations.
func TestFeeForVSize(t *testing.T) {
	t.Parallel()

	rate := NewSatPerKVByte(1500)

	// 1.5 sat/vb * 3 vb = 4.5 sat.
	require.Equal(t, btcutil.Amount(5), rate.FeeForVSize(3))
	require.Equal(t,
		btcutil.Amount(4), rate.FeeForWeight(NewVByte(3).ToWU()),
	)
	require.Equal(t, btcutil.Amount(1500), rate.FeeForVSize(1000))
	require.Zero(t, rate.FeeForVSize(0))

	require.True(t, ZeroSatPerKVByte.IsZero())
	require.True(t, rate.GreaterThan(NewSatPerKVByte(1000)))
	require.True(t, rate.LessThan(NewSatPerKVByte(2000)))

	// A fee paid over a size maps back to the same rate.
	require.True(t, CalcSatPerKVByte(750, NewKVByte(1)).Equal(
		NewSatPerKVByte(750),
	))
}

// TestSizeEstimates checks the confidential size estimates are ordered as
// expected.
func TestSizeEstimates(t *testing.T) {
	t.Parallel()

	plain := StandardOutputSize(P2PKHScriptSize)
	blinded := EstimateBlindOutputSize(5000)
	anon := EstimateAnonOutputSize(5000)

	require.Equal(t, 35, plain)
	require.Greater(t, blinded, plain)
	require.Greater(t, anon, plain)

	// Wide values need the compact proof which is larger.
	require.Greater(t,
		EstimateBlindOutputSize(1<<40+1), EstimateBlindOutputSize(7),
	)

	// Larger rings cost more.
	require.Greater(t,
		AnonInputWeight(1, 11).ToVB().VBytes(),
		AnonInputWeight(1, 5).ToVB().VBytes(),
	)
	require.Less(t,
		PlainInputWeight().ToVB().VBytes(),
		AnonInputWeight(1, 1).ToVB().VBytes(),
	)
}
