package wallet

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/stretchr/testify/mock"
)

// mockChain is a mock implementation of the ChainView interface.
type mockChain struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockChain implements ChainView.
var _ ChainView = (*mockChain)(nil)

// BestBlock implements the ChainView interface.
func (m *mockChain) BestBlock(ctx context.Context) (int32, chainhash.Hash,
	error) {

	args := m.Called(ctx)
	return args.Get(0).(int32), args.Get(1).(chainhash.Hash), args.Error(2)
}

// mockPublisher is a mock implementation of the Publisher interface.
type mockPublisher struct {
	mock.Mock
}

// A compile-time assertion to ensure that mockPublisher implements
// Publisher.
var _ Publisher = (*mockPublisher)(nil)

// TestMempoolAccept implements the Publisher interface.
func (m *mockPublisher) TestMempoolAccept(ctx context.Context,
	tx *ctwire.MsgTx) error {

	args := m.Called(ctx, tx)
	return args.Error(0)
}

// SendTransaction implements the Publisher interface.
func (m *mockPublisher) SendTransaction(ctx context.Context,
	tx *ctwire.MsgTx) error {

	args := m.Called(ctx, tx)
	return args.Error(0)
}
