package blind

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSelectRangeProofParameters checks the automatic parameter choice.
func TestSelectRangeProofParameters(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		value   uint64
		expExp  int
		expBits int
	}{
		{name: "zero", value: 0, expExp: 0, expBits: 32},
		{name: "round thousand", value: 1000, expExp: 3, expBits: 32},
		{name: "no trailing zeros", value: 12345, expExp: 0, expBits: 32},
		{
			name:    "exponent capped",
			value:   50_000_000_000,
			expExp:  4,
			expBits: 32,
		},
		{
			name:    "wide value",
			value:   1<<40 + 1,
			expExp:  0,
			expBits: 41,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			minValue, exp, nbits := SelectRangeProofParameters(
				tc.value,
			)
			require.Zero(t, minValue)
			require.Equal(t, tc.expExp, exp)
			require.Equal(t, tc.expBits, nbits)
		})
	}
}

// TestRangeProofRoundTrip proves, verifies and rewinds proofs of both forms.
func TestRangeProofRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		value    uint64
		minValue uint64
		exp      int
		bits     int
		expMin   uint64
		expMax   uint64
		form     ProofForm
	}{
		{
			name:   "compact",
			value:  123456789,
			expMin: 0,
			expMax: math.MaxUint64,
			form:   ProofFormCompact,
		},
		{
			name:   "legacy plain",
			value:  5000,
			bits:   32,
			expMin: 0,
			expMax: 1<<32 - 1,
			form:   ProofFormLegacy,
		},
		{
			name:     "legacy with min value and exponent",
			value:    1234500,
			minValue: 1000,
			exp:      2,
			bits:     32,
			expMin:   1000,
			expMax:   1000 + (1<<32-1)*100,
			form:     ProofFormLegacy,
		},
		{
			name:   "legacy remainder folds into min value",
			value:  1234567,
			exp:    2,
			bits:   32,
			expMin: 67,
			expMax: 67 + (1<<32-1)*100,
			form:   ProofFormLegacy,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b, c := newCommitment(t, tc.value)
			nonce := Nonce{1, 2, 3}
			msg := []byte("narration")

			proof, err := ProveRange(&ProveParams{
				Commitment: c,
				Blind:      b,
				Value:      tc.value,
				Nonce:      nonce,
				Message:    msg,
				MinValue:   tc.minValue,
				Exponent:   tc.exp,
				Bits:       tc.bits,
			})
			require.NoError(t, err)
			require.Equal(t, tc.form, ProofForm(proof[0]))

			nbits := tc.bits
			if nbits == 0 {
				nbits = CompactBits
			}
			require.Len(t, proof, ProofSize(tc.form, nbits, len(msg)))

			minV, maxV, err := VerifyRange(c, proof)
			require.NoError(t, err)
			require.Equal(t, tc.expMin, minV)
			require.Equal(t, tc.expMax, maxV)

			res, err := RewindRange(c, proof, nonce)
			require.NoError(t, err)
			require.Equal(t, tc.value, res.Value)
			require.Equal(t, b, res.Blind)
			require.Equal(t, msg, res.Message)

			// The wrong nonce must not recover the opening.
			_, err = RewindRange(c, proof, Nonce{9})
			require.ErrorIs(t, err, ErrRangeProofFailed)
		})
	}
}

// TestRangeProofRejects checks that invalid proofs and parameters fail.
func TestRangeProofRejects(t *testing.T) {
	t.Parallel()

	b, c := newCommitment(t, 700)
	proof, err := ProveRange(&ProveParams{
		Commitment: c,
		Blind:      b,
		Value:      700,
		Bits:       32,
	})
	require.NoError(t, err)

	// The proof does not verify against another commitment.
	_, other := newCommitment(t, 700)
	_, _, err = VerifyRange(other, proof)
	require.ErrorIs(t, err, ErrRangeProofFailed)

	// Flipping a byte inside a bit signature breaks it.
	tampered := append([]byte(nil), proof...)
	tampered[len(tampered)/2] ^= 0x01
	_, _, err = VerifyRange(c, tampered)
	require.Error(t, err)

	// Truncation is caught by the parser.
	_, _, err = VerifyRange(c, proof[:len(proof)-1])
	require.ErrorIs(t, err, ErrRangeProofFailed)

	// A value that does not fit the requested width is refused.
	_, err = ProveRange(&ProveParams{
		Commitment: c,
		Blind:      b,
		Value:      700,
		Bits:       8,
	})
	require.ErrorIs(t, err, ErrRangeProofFailed)

	// A value below the min value is refused.
	_, err = ProveRange(&ProveParams{
		Commitment: c,
		Blind:      b,
		Value:      700,
		MinValue:   800,
		Bits:       32,
	})
	require.ErrorIs(t, err, ErrRangeProofFailed)

	// The commitment must open to the value being proven.
	_, err = ProveRange(&ProveParams{
		Commitment: c,
		Blind:      b,
		Value:      701,
		Bits:       32,
	})
	require.ErrorIs(t, err, ErrCommitmentMismatch)
}
