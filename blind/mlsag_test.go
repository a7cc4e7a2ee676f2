package blind

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// ringFixture is a ring with the spent outputs in one column.
type ringFixture struct {
	ring     [][]RingMember
	secrets  []*btcec.PrivateKey
	blinds   []Blind
	total    uint64
	realCol  int
	pseudoB  Blind
	pseudoC  Commitment
	message  [32]byte
	provider Provider
}

// newRingFixture builds a ring of cols columns with rows inputs each. Decoy
// members get random keys and commitments.
func newRingFixture(t *testing.T, rows, cols, realCol int) *ringFixture {
	t.Helper()

	f := &ringFixture{
		ring:     make([][]RingMember, cols),
		realCol:  realCol,
		message:  [32]byte{0xaa},
		provider: NewSecp256k1(),
	}
	for col := range f.ring {
		f.ring[col] = make([]RingMember, rows)
		for row := range f.ring[col] {
			priv, err := btcec.NewPrivateKey()
			require.NoError(t, err)

			value := uint64(1000 * (row + 1))
			b, c := newCommitment(t, value)

			copy(f.ring[col][row].PubKey[:],
				priv.PubKey().SerializeCompressed())
			f.ring[col][row].Commitment = c

			if col == realCol {
				f.secrets = append(f.secrets, priv)
				f.blinds = append(f.blinds, b)
				f.total += value
			}
		}
	}

	f.pseudoB, f.pseudoC = newCommitment(t, f.total)

	return f
}

func (f *ringFixture) input() *MLSAGInput {
	return &MLSAGInput{
		Message:          f.message,
		Ring:             f.ring,
		RealColumn:       f.realCol,
		Secrets:          f.secrets,
		InBlinds:         f.blinds,
		PseudoBlind:      f.pseudoB,
		PseudoCommitment: f.pseudoC,
	}
}

// TestMLSAGSignVerify signs and verifies rings of several shapes.
func TestMLSAGSignVerify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		rows    int
		cols    int
		realCol int
	}{
		{name: "single member", rows: 1, cols: 1, realCol: 0},
		{name: "one input", rows: 1, cols: 5, realCol: 3},
		{name: "two inputs", rows: 2, cols: 4, realCol: 0},
		{name: "real at end", rows: 2, cols: 3, realCol: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newRingFixture(t, tc.rows, tc.cols, tc.realCol)

			images, sig, err := f.provider.SignMLSAG(f.input())
			require.NoError(t, err)
			require.Len(t, images, tc.rows)
			require.Len(t, sig, MLSAGSize(tc.rows, tc.cols))

			for row, priv := range f.secrets {
				want, err := f.provider.KeyImage(
					priv.PubKey(), priv,
				)
				require.NoError(t, err)
				require.Equal(t, want, images[row])
			}

			err = f.provider.VerifyMLSAG(
				f.message, f.ring, f.pseudoC, images, sig,
			)
			require.NoError(t, err)

			// Another message does not verify.
			err = f.provider.VerifyMLSAG(
				[32]byte{0xbb}, f.ring, f.pseudoC, images, sig,
			)
			require.ErrorIs(t, err, ErrRingSignature)
		})
	}
}

// TestMLSAGRejects checks the signer's input validation.
func TestMLSAGRejects(t *testing.T) {
	t.Parallel()

	f := newRingFixture(t, 1, 3, 1)

	// A secret that does not own the real member.
	in := f.input()
	wrong, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	in.Secrets = []*btcec.PrivateKey{wrong}
	_, _, err = SignMLSAG(in)
	require.ErrorIs(t, err, ErrKeyMismatch)

	// A pseudo commitment to another amount.
	in = f.input()
	in.PseudoBlind, in.PseudoCommitment = newCommitment(t, f.total+1)
	_, _, err = SignMLSAG(in)
	require.ErrorIs(t, err, ErrUnbalanced)

	// A real column outside the ring.
	in = f.input()
	in.RealColumn = 3
	_, _, err = SignMLSAG(in)
	require.ErrorIs(t, err, ErrRingSignature)

	// Swapping the key image for another key's breaks verification.
	images, sig, err := SignMLSAG(f.input())
	require.NoError(t, err)

	other, err := ComputeKeyImage(wrong.PubKey(), wrong)
	require.NoError(t, err)
	require.NotEqual(t, images[0], other)

	err = VerifyMLSAG(
		f.message, f.ring, f.pseudoC, []KeyImage{other}, sig,
	)
	require.ErrorIs(t, err, ErrRingSignature)
}

// TestKeyImageDeterministic checks that key images depend only on the key.
func TestKeyImageDeterministic(t *testing.T) {
	t.Parallel()

	a, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	b, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	ia1, err := ComputeKeyImage(a.PubKey(), a)
	require.NoError(t, err)
	ia2, err := ComputeKeyImage(a.PubKey(), a)
	require.NoError(t, err)
	ib, err := ComputeKeyImage(b.PubKey(), b)
	require.NoError(t, err)

	require.Equal(t, ia1, ia2)
	require.NotEqual(t, ia1, ib)

	_, err = ComputeKeyImage(a.PubKey(), nil)
	require.ErrorIs(t, err, ErrKeyMismatch)

	_, err = ComputeKeyImage(b.PubKey(), a)
	require.ErrorIs(t, err, ErrKeyMismatch)
}
