// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
	"github.com/dmuralov/particl-core/pkg/feeunit"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultRingSize is the number of members of every ring, the real
	// input included.
	DefaultRingSize = 5

	// MinRingSize and MaxRingSize bound the ring size a caller may ask
	// for.
	MinRingSize = 3
	MaxRingSize = 32

	// DefaultInputsPerSig is the number of anonymous inputs signed by one
	// MLSAG.
	DefaultInputsPerSig = 1

	// MaxInputsPerSig bounds the rows of one MLSAG.
	MaxInputsPerSig = 32

	// DefaultMaxFeeIterations bounds the fee loop.
	DefaultMaxFeeIterations = 8

	// DefaultCoinbaseMaturity is the depth at which coinbase and coinstake
	// outputs can be spent.
	DefaultCoinbaseMaturity = 100

	// DefaultLeaseDuration is how long a reservation made by a build
	// lasts.
	DefaultLeaseDuration = 10 * time.Minute

	// DefaultLeaseSweepInterval is how often expired leases are deleted.
	DefaultLeaseSweepInterval = time.Minute

	// DefaultRCTSelectionGroup1 and DefaultRCTSelectionGroup2 are the
	// sizes of the newest-output windows used by MixinRecent.
	DefaultRCTSelectionGroup1 = 5000
	DefaultRCTSelectionGroup2 = 50000

	// DefaultPreferMaxAnonInputs is the input count above which anonymous
	// coins are selected at random instead of largest first.
	DefaultPreferMaxAnonInputs = 5

	// DefaultMinBlindedValue is the value below which a blinded recipient
	// is exempt from fee subtraction.
	DefaultMinBlindedValue = btcutil.Amount(1000)
)

var (
	// DefaultFeeRate is used when neither the coin control nor the config
	// names a fee rate.
	DefaultFeeRate = feeunit.NewSatPerKVByte(20000)

	// rtxNamespaceKey is the walletdb namespace of the confidential
	// ledger.
	rtxNamespaceKey = []byte("rtx")

	// wtxmgrNamespaceKey is the walletdb namespace of the plain-only
	// transaction store.
	wtxmgrNamespaceKey = []byte("wtxmgr")

	// errMissingConfig is returned by New for a config without a required
	// collaborator.
	errMissingConfig = errors.New("missing config field")

	errInvalidConfig = errors.New("invalid config")
)

// KeyDescriptor describes a wallet key.
type KeyDescriptor struct {
	// Path identifies the key in the key store.
	Path []byte

	// PubKey is the public key.
	PubKey *btcec.PublicKey

	// WatchOnly is set when the private key is not held.
	WatchOnly bool

	// Hardware is set when the private key lives on a device.
	Hardware bool
}

// StealthKeys is a stealth address the wallet can receive on.
type StealthKeys struct {
	Address *StealthAddress

	// ScanPriv is the private scan key.
	ScanPriv *btcec.PrivateKey

	// SpendPath identifies the spend key.
	SpendPath []byte
}

// KeyStore resolves wallet keys. Key derivation itself lives behind it.
type KeyStore interface {
	// NewChangeKey returns an unused internal key.
	NewChangeKey() (*KeyDescriptor, error)

	// LookupScript returns the key paying to script when the wallet
	// owns it.
	LookupScript(script []byte) (*KeyDescriptor, bool)

	// LookupPubKey returns the descriptor of a public key the wallet
	// owns.
	LookupPubKey(pub [33]byte) (*KeyDescriptor, bool)

	// PrivKey returns the private key at path.
	PrivKey(path []byte) (*btcec.PrivateKey, error)

	// StealthAddresses returns the stealth addresses to scan for.
	StealthAddresses() []*StealthKeys

	// ImportKey records a derived key so later lookups find it. Keys
	// of received stealth payments are imported this way.
	ImportKey(desc *KeyDescriptor, priv *btcec.PrivateKey) error
}

// AnonOutput is an entry of the global anonymous output set.
type AnonOutput struct {
	Index       int64
	PubKey      [33]byte
	Commitment  blind.Commitment
	OutPoint    wire.OutPoint
	Height      int32
	Blacklisted bool
}

// AnonIndex is the global, append only set of anonymous outputs.
type AnonIndex interface {
	// LastIndex returns the highest index, or -1 when empty.
	LastIndex(ctx context.Context) (int64, error)

	// FetchByIndex returns the output at idx. ErrAnonOutputNotFound is
	// returned for an unknown index.
	FetchByIndex(ctx context.Context, idx int64) (*AnonOutput, error)

	// FetchByPubKey returns the output with the given key.
	FetchByPubKey(ctx context.Context, pub [33]byte) (*AnonOutput, error)
}

// AnonIndexWriter is implemented by indexes the wallet may append to, which
// is the case for standalone and test setups.
type AnonIndexWriter interface {
	AnonIndex

	// InsertAnonOutput appends out and returns its index.
	InsertAnonOutput(ctx context.Context, out *AnonOutput) (int64, error)
}

// ChainView reports the chain tip.
type ChainView interface {
	BestBlock(ctx context.Context) (int32, chainhash.Hash, error)
}

// Publisher hands transactions to the mempool and relay layer.
type Publisher interface {
	// TestMempoolAccept checks tx without relaying it. A rejection is
	// returned as the error.
	TestMempoolAccept(ctx context.Context, tx *ctwire.MsgTx) error

	// SendTransaction relays tx.
	SendTransaction(ctx context.Context, tx *ctwire.MsgTx) error
}

// Config holds the collaborators and policy of a Wallet.
type Config struct {
	// DB is the wallet database. The rtx and wtxmgr namespaces are
	// created on first use.
	DB walletdb.DB

	// ChainParams is the network.
	ChainParams *chaincfg.Params

	// Keys resolves wallet keys.
	Keys KeyStore

	// AnonIndex is the global anonymous output set.
	AnonIndex AnonIndex

	// Chain reports the tip.
	Chain ChainView

	// Publisher relays transactions. It may be nil for offline wallets.
	Publisher Publisher

	// Crypto provides the confidential primitives.
	Crypto blind.Provider

	// Clock stamps records and expires leases.
	Clock clock.Clock

	// FeeRate is the default fee rate.
	FeeRate feeunit.SatPerKVByte

	// RingSize is the default ring size.
	RingSize int

	// InputsPerSig is the default number of anonymous inputs per
	// MLSAG.
	InputsPerSig int

	// MaxFeeIterations bounds the fee loop.
	MaxFeeIterations int

	// CoinbaseMaturity is the depth at which coinbase and coinstake
	// outputs mature.
	CoinbaseMaturity int32

	// LeaseDuration is the length of build reservations.
	LeaseDuration time.Duration

	// LeaseSweepInterval is the period of the expired lease sweeper.
	LeaseSweepInterval time.Duration

	// LeaseSweepTicker drives the sweeper. A ticker firing every
	// LeaseSweepInterval is used when nil.
	LeaseSweepTicker ticker.Ticker

	// RCTSelectionGroup1 and RCTSelectionGroup2 size the windows of
	// MixinRecent.
	RCTSelectionGroup1 int64
	RCTSelectionGroup2 int64

	// PreferMaxAnonInputs is the anonymous input count above which
	// selection switches to random order.
	PreferMaxAnonInputs int

	// MinBlindedValue exempts small blinded recipients from fee
	// subtraction.
	MinBlindedValue btcutil.Amount

	// Rand is the randomness source for keys, blinds and proofs.
	// crypto/rand is used when nil.
	Rand io.Reader
}

// DefaultConfig returns a Config with every policy field set to its default.
// Collaborators are left nil.
func DefaultConfig() *Config {
	return &Config{
		ChainParams:         &chaincfg.MainNetParams,
		Crypto:              blind.NewSecp256k1(),
		Clock:               clock.NewDefaultClock(),
		FeeRate:             DefaultFeeRate,
		RingSize:            DefaultRingSize,
		InputsPerSig:        DefaultInputsPerSig,
		MaxFeeIterations:    DefaultMaxFeeIterations,
		CoinbaseMaturity:    DefaultCoinbaseMaturity,
		LeaseDuration:       DefaultLeaseDuration,
		LeaseSweepInterval:  DefaultLeaseSweepInterval,
		RCTSelectionGroup1:  DefaultRCTSelectionGroup1,
		RCTSelectionGroup2:  DefaultRCTSelectionGroup2,
		PreferMaxAnonInputs: DefaultPreferMaxAnonInputs,
		MinBlindedValue:     DefaultMinBlindedValue,
	}
}

// validate checks the required collaborators and fills unset policy fields.
func (c *Config) validate() error {
	switch {
	case c.DB == nil:
		return errors.Join(errMissingConfig, errors.New("DB"))

	case c.Keys == nil:
		return errors.Join(errMissingConfig, errors.New("Keys"))

	case c.AnonIndex == nil:
		return errors.Join(errMissingConfig, errors.New("AnonIndex"))

	case c.Chain == nil:
		return errors.Join(errMissingConfig, errors.New("Chain"))
	}

	def := DefaultConfig()
	if c.ChainParams == nil {
		c.ChainParams = def.ChainParams
	}
	if c.Crypto == nil {
		c.Crypto = def.Crypto
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	if c.FeeRate.IsZero() {
		c.FeeRate = def.FeeRate
	}
	if c.RingSize == 0 {
		c.RingSize = def.RingSize
	}
	if c.InputsPerSig == 0 {
		c.InputsPerSig = def.InputsPerSig
	}
	if c.MaxFeeIterations == 0 {
		c.MaxFeeIterations = def.MaxFeeIterations
	}
	if c.CoinbaseMaturity == 0 {
		c.CoinbaseMaturity = def.CoinbaseMaturity
	}
	if c.LeaseDuration == 0 {
		c.LeaseDuration = def.LeaseDuration
	}
	if c.LeaseSweepInterval == 0 {
		c.LeaseSweepInterval = def.LeaseSweepInterval
	}
	if c.LeaseSweepTicker == nil {
		c.LeaseSweepTicker = ticker.New(c.LeaseSweepInterval)
	}
	if c.RCTSelectionGroup1 == 0 {
		c.RCTSelectionGroup1 = def.RCTSelectionGroup1
	}
	if c.RCTSelectionGroup2 == 0 {
		c.RCTSelectionGroup2 = def.RCTSelectionGroup2
	}
	if c.PreferMaxAnonInputs == 0 {
		c.PreferMaxAnonInputs = def.PreferMaxAnonInputs
	}
	if c.MinBlindedValue == 0 {
		c.MinBlindedValue = def.MinBlindedValue
	}

	if c.RingSize < MinRingSize || c.RingSize > MaxRingSize {
		return fmt.Errorf("%w: ring size %d outside [%d, %d]",
			errInvalidConfig, c.RingSize, MinRingSize, MaxRingSize)
	}
	if c.InputsPerSig < 1 || c.InputsPerSig > MaxInputsPerSig {
		return fmt.Errorf("%w: %d inputs per signature",
			errInvalidConfig, c.InputsPerSig)
	}

	return nil
}
