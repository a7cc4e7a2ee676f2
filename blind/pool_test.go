package blind

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestProveVerifyRanges checks the parallel prover keeps output order.
func TestProveVerifyRanges(t *testing.T) {
	t.Parallel()

	prov := NewSecp256k1()
	values := []uint64{10, 20000, 3_000_000}

	params := make([]*ProveParams, len(values))
	checks := make([]RangeCheck, len(values))
	for i, v := range values {
		b, c := newCommitment(t, v)
		params[i] = &ProveParams{
			Commitment: c,
			Blind:      b,
			Value:      v,
			Nonce:      Nonce{byte(i)},
			Bits:       32,
		}
		checks[i].Commitment = c
	}

	proofs, err := ProveRanges(context.Background(), prov, params)
	require.NoError(t, err)
	require.Len(t, proofs, len(values))

	for i := range proofs {
		checks[i].Proof = proofs[i]

		res, err := prov.RewindRange(
			params[i].Commitment, proofs[i], params[i].Nonce,
		)
		require.NoError(t, err)
		require.Equal(t, values[i], res.Value)
	}
	require.NoError(t, VerifyRanges(context.Background(), prov, checks))

	// Swapping two proofs fails verification.
	checks[0].Proof, checks[1].Proof = checks[1].Proof, checks[0].Proof
	err = VerifyRanges(context.Background(), prov, checks)
	require.ErrorIs(t, err, ErrRangeProofFailed)

	// A bad opening fails the batch.
	params[2].Value++
	_, err = ProveRanges(context.Background(), prov, params)
	require.ErrorIs(t, err, ErrCommitmentMismatch)
}
