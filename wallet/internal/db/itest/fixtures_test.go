//go:build itest

package itest

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/wallet/internal/db"
	"github.com/stretchr/testify/require"
)

// RandomBytes returns n random bytes.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)

	return b
}

// AnonOutputFixture returns an output with random keys at height.
func AnonOutputFixture(height int32) *db.AnonOutput {
	out := &db.AnonOutput{Height: height}
	out.PubKey[0] = 0x02
	copy(out.PubKey[1:], RandomBytes(32))
	out.Commitment[0] = 0x08
	copy(out.Commitment[1:], RandomBytes(32))
	copy(out.OutPoint.Hash[:], RandomBytes(32))
	out.OutPoint.Index = 1

	return out
}

// InsertFixtures appends n outputs, one per height from 1, and returns
// them with their indexes set.
func InsertFixtures(t *testing.T, idx *db.AnonIndex, n int) []*db.AnonOutput {
	t.Helper()

	outs := make([]*db.AnonOutput, 0, n)
	for i := range n {
		out := AnonOutputFixture(int32(i + 1))
		index, err := idx.InsertAnonOutput(t.Context(), out)
		require.NoError(t, err, "failed to insert anon output")

		out.Index = index
		outs = append(outs, out)
	}

	return outs
}

// outPoint is a shorthand for a test outpoint.
func outPoint(b byte, index uint32) wire.OutPoint {
	op := wire.OutPoint{Index: index}
	op.Hash[0] = b

	return op
}
