package main

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/dmuralov/particl-core/wallet"
	"github.com/stretchr/testify/require"
)

func TestNetParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want *chaincfg.Params
	}{
		{"mainnet", &chaincfg.MainNetParams},
		{"testnet", &chaincfg.TestNet3Params},
		{"testnet3", &chaincfg.TestNet3Params},
		{"regtest", &chaincfg.RegressionNetParams},
		{"simnet", &chaincfg.SimNetParams},
		{"signet", &chaincfg.SigNetParams},
	}
	for _, tc := range tests {
		params, err := netParams(tc.name)
		require.NoError(t, err, tc.name)
		require.Equal(t, tc.want, params, tc.name)
	}

	_, err := netParams("moonnet")
	require.Error(t, err)
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	tests := map[string]wallet.OutputKind{
		"plain":    wallet.KindPlain,
		"standard": wallet.KindPlain,
		"blind":    wallet.KindBlinded,
		"blinded":  wallet.KindBlinded,
		"anon":     wallet.KindAnon,
	}
	for s, want := range tests {
		kind, err := parseKind(s)
		require.NoError(t, err, s)
		require.Equal(t, want, kind, s)
	}

	_, err := parseKind("ct")
	require.Error(t, err)
}

func TestParseAndSetDebugLevels(t *testing.T) {
	t.Parallel()

	require.NoError(t, parseAndSetDebugLevels("info"))
	require.NoError(t, parseAndSetDebugLevels("CTWL=debug,AIDX=trace"))

	require.Error(t, parseAndSetDebugLevels("loud"))
	require.Error(t, parseAndSetDebugLevels("CTWL=debug=x"))
	require.Error(t, parseAndSetDebugLevels("NOPE=debug"))
	require.Error(t, parseAndSetDebugLevels("CTWL=loud"))

	require.Contains(t, supportedSubsystems(), "RTXS")
}
