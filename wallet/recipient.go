// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/txrecord"
	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// OutputKind is the value representation of an output.
type OutputKind = txrecord.OutputKind

const (
	// KindPlain outputs show their amount.
	KindPlain = txrecord.KindPlain

	// KindBlinded outputs commit to their amount.
	KindBlinded = txrecord.KindBlinded

	// KindAnon outputs commit to their amount and are spent through
	// rings.
	KindAnon = txrecord.KindAnon
)

// RangeProofParams overrides the automatically chosen range proof
// parameters. Bits zero selects the compact form.
type RangeProofParams struct {
	MinValue uint64
	Exponent int
	Bits     int
}

// RecipientRequest is one payment of a build.
type RecipientRequest struct {
	// Destination is who gets paid.
	Destination Destination

	// Amount is the value paid.
	Amount btcutil.Amount

	// Kind is the representation of the output.
	Kind OutputKind

	// SubtractFee makes the recipient pay a share of the fee.
	SubtractFee bool

	// Narration is a short message for the recipient.
	Narration fn.Option[string]

	// Script replaces the script derived from Destination. It does not
	// apply to anonymous outputs.
	Script fn.Option[[]byte]

	// Blind is an explicit blinding factor.
	Blind fn.Option[blind.Blind]

	// ProofParams overrides the range proof parameters.
	ProofParams fn.Option[RangeProofParams]

	// Ephemeral is the ephemeral key. A fresh one is generated when
	// unset.
	Ephemeral fn.Option[*btcec.PrivateKey]

	// Nonce is an explicit range proof nonce. It is required for blinded
	// outputs to destinations without a public key.
	Nonce fn.Option[blind.Nonce]
}

// Recipient is a resolved RecipientRequest, ready for the output builder.
type Recipient struct {
	Kind   OutputKind
	Amount btcutil.Amount

	// Script is the output script of plain and blinded outputs.
	Script []byte

	// PubKey is the one-time destination key, when known.
	PubKey *btcec.PublicKey

	// Ephemeral is the ephemeral key whose public half is published with
	// the output.
	Ephemeral *btcec.PrivateKey

	// Nonce opens the range proof of a blinded or anonymous output.
	Nonce blind.Nonce

	// Stealth is set for payments to a stealth address. Plain stealth
	// outputs are followed by a data output carrying the ephemeral key.
	Stealth bool

	// shared is the stealth shared secret, used to encrypt the narration
	// of a plain stealth output.
	shared blind.Nonce

	Narration   string
	SubtractFee bool

	Blind       fn.Option[blind.Blind]
	ProofParams fn.Option[RangeProofParams]

	// IsChange marks the change output.
	IsChange bool

	// KeyPath and AddrType are set when the wallet owns the destination.
	KeyPath  []byte
	AddrType txrecord.AddressType
	Owned    bool
}

// ephemeralPub returns the published ephemeral key, if any.
func (r *Recipient) ephemeralPub() *btcec.PublicKey {
	if r.Ephemeral == nil {
		return nil
	}

	return r.Ephemeral.PubKey()
}

// Resolver expands recipient requests into recipients.
type Resolver struct {
	params *chaincfg.Params
	keys   KeyStore
	rand   io.Reader
}

// NewResolver returns a resolver for net. keys may be nil, in which case no
// destination is treated as owned.
func NewResolver(params *chaincfg.Params, keys KeyStore,
	r io.Reader) *Resolver {

	if r == nil {
		r = rand.Reader
	}

	return &Resolver{params: params, keys: keys, rand: r}
}

// ResolveRecipients resolves every request. It has no side effect.
func (r *Resolver) ResolveRecipients(
	reqs []RecipientRequest) ([]*Recipient, error) {

	if len(reqs) == 0 {
		return nil, ErrNoRecipients
	}

	recipients := make([]*Recipient, 0, len(reqs))
	for i := range reqs {
		rcp, err := r.resolve(&reqs[i])
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		recipients = append(recipients, rcp)
	}

	return recipients, nil
}

// resolve expands one request.
func (r *Resolver) resolve(req *RecipientRequest) (*Recipient, error) {
	if req.Amount <= 0 || req.Amount > btcutil.MaxSatoshi {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, req.Amount)
	}

	narration := req.Narration.UnwrapOr("")
	if len(narration) > txrecord.MaxNarrationSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrNarrationTooLong,
			len(narration))
	}

	rcp := &Recipient{
		Kind:        req.Kind,
		Amount:      req.Amount,
		Narration:   narration,
		SubtractFee: req.SubtractFee,
		Blind:       req.Blind,
		ProofParams: req.ProofParams,
	}

	switch req.Kind {
	case KindPlain, KindBlinded, KindAnon:
	default:
		return nil, fmt.Errorf("%w: unknown output kind %v",
			ErrInvalidDestination, req.Kind)
	}

	if err := r.resolveDestination(req, rcp); err != nil {
		return nil, err
	}

	if script, ok := req.Script.UnwrapOr(nil), req.Script.IsSome(); ok {
		if req.Kind == KindAnon {
			return nil, fmt.Errorf("%w: anonymous outputs have no "+
				"script", ErrInvalidDestination)
		}
		if len(script) == 0 {
			return nil, fmt.Errorf("%w: empty script override",
				ErrInvalidDestination)
		}
		rcp.Script = script
	}

	// Plain outputs must not be dust under the relay policy.
	if rcp.Kind == KindPlain && !rcp.SubtractFee &&
		isDustAmount(rcp.Amount, rcp.Script) {

		return nil, fmt.Errorf("%w: %v is dust", ErrInvalidAmount,
			rcp.Amount)
	}

	if rcp.Kind != KindPlain {
		if err := r.deriveNonce(req, rcp); err != nil {
			return nil, err
		}
	}

	r.markOwned(rcp)

	return rcp, nil
}

// resolveDestination sets the script and destination key of rcp.
func (r *Resolver) resolveDestination(req *RecipientRequest,
	rcp *Recipient) error {

	var err error
	switch dest := req.Destination.(type) {
	case AddressDest:
		if dest.Addr == nil {
			return fmt.Errorf("%w: no address", ErrInvalidDestination)
		}
		if !dest.Addr.IsForNet(r.params) {
			return fmt.Errorf("%w: %v", ErrInvalidDestination,
				errWrongNetwork)
		}
		rcp.Script, err = addressScript(dest.Addr)
		if err != nil {
			return err
		}
		if pk, ok := dest.Addr.(*btcutil.AddressPubKey); ok {
			rcp.PubKey = pk.PubKey()
		}

	case PubKeyDest:
		if dest.Key == nil {
			return fmt.Errorf("%w: no key", ErrInvalidDestination)
		}
		rcp.PubKey = dest.Key
		rcp.Script, err = payToPubKeyHashScript(dest.Key)
		if err != nil {
			return err
		}

	case ScriptDest:
		if len(dest.Script) == 0 {
			return fmt.Errorf("%w: empty script",
				ErrInvalidDestination)
		}
		rcp.Script = dest.Script

	case StealthDest:
		if dest.Addr == nil {
			return fmt.Errorf("%w: no stealth address",
				ErrInvalidDestination)
		}
		return r.resolveStealth(req, dest.Addr, rcp)

	case ColdStakeDest:
		if req.Kind == KindAnon {
			return fmt.Errorf("%w: cold staking outputs cannot be "+
				"anonymous", ErrInvalidDestination)
		}
		if dest.Stake == nil || dest.Spend == nil {
			return fmt.Errorf("%w: incomplete cold stake pair",
				ErrInvalidDestination)
		}
		rcp.Script, err = coldStakeScript(dest.Stake, dest.Spend)
		if err != nil {
			return err
		}

	case nil:
		return fmt.Errorf("%w: no destination", ErrInvalidDestination)

	default:
		return fmt.Errorf("%w: unsupported destination %T",
			ErrInvalidDestination, dest)
	}

	// Fill the destination key of owned scripts so blinded and anonymous
	// outputs to ourselves need no explicit nonce.
	if rcp.PubKey == nil && r.keys != nil {
		if desc, ok := r.keys.LookupScript(rcp.Script); ok {
			rcp.PubKey = desc.PubKey
		}
	}

	if req.Kind == KindAnon && rcp.PubKey == nil {
		return fmt.Errorf("%w: anonymous outputs need a destination "+
			"key", ErrInvalidDestination)
	}

	return nil
}

// ephemeralKey returns the requested or a fresh ephemeral key.
func (r *Resolver) ephemeralKey(req *RecipientRequest) (*btcec.PrivateKey,
	error) {

	if req.Ephemeral.IsSome() {
		key := req.Ephemeral.UnwrapOr(nil)
		if key == nil || key.Key.IsZero() {
			return nil, fmt.Errorf("%w: empty ephemeral key",
				ErrInvalidDestination)
		}

		return key, nil
	}

	b, err := blind.NewBlind(r.rand)
	if err != nil {
		return nil, err
	}
	key, _ := btcec.PrivKeyFromBytes(b[:])

	return key, nil
}

// resolveStealth derives the one-time key of a stealth payment.
func (r *Resolver) resolveStealth(req *RecipientRequest,
	addr *StealthAddress, rcp *Recipient) error {

	eph, err := r.ephemeralKey(req)
	if err != nil {
		return err
	}

	shared, err := blind.ECDHSecret(eph, addr.ScanKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	dest, err := blind.DeriveStealthPubKey(addr.SpendKey, shared)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}

	rcp.Script, err = payToPubKeyHashScript(dest)
	if err != nil {
		return err
	}
	rcp.PubKey = dest
	rcp.Ephemeral = eph
	rcp.Stealth = true
	rcp.shared = shared

	// A payment to one of our own stealth addresses is recorded with the
	// path the scanner would assign.
	if r.keys == nil {
		return nil
	}
	scan := addr.ScanKey.SerializeCompressed()
	for _, sk := range r.keys.StealthAddresses() {
		if !sk.Address.ScanKey.IsEqual(addr.ScanKey) {
			continue
		}

		rcp.KeyPath = stealthKeyPath(scan, shared)
		rcp.AddrType = txrecord.AddrStealth
		rcp.Owned = true
	}

	return nil
}

// deriveNonce sets the ephemeral key and range proof nonce of a blinded or
// anonymous recipient.
func (r *Resolver) deriveNonce(req *RecipientRequest, rcp *Recipient) error {
	if req.Nonce.IsSome() {
		rcp.Nonce = req.Nonce.UnwrapOr(blind.Nonce{})
		return nil
	}

	if rcp.PubKey == nil {
		return fmt.Errorf("%w: blinded output to a destination "+
			"without a key needs an explicit nonce",
			ErrInvalidDestination)
	}

	if rcp.Ephemeral == nil {
		eph, err := r.ephemeralKey(req)
		if err != nil {
			return err
		}
		rcp.Ephemeral = eph
	}

	nonce, err := blind.ECDHSecret(rcp.Ephemeral, rcp.PubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	rcp.Nonce = nonce

	return nil
}

// markOwned flags recipients paying the wallet.
func (r *Resolver) markOwned(rcp *Recipient) {
	if rcp.Owned || r.keys == nil {
		return
	}

	var (
		desc *KeyDescriptor
		ok   bool
	)
	switch {
	case rcp.Kind == KindAnon:
		var pub [33]byte
		copy(pub[:], rcp.PubKey.SerializeCompressed())
		desc, ok = r.keys.LookupPubKey(pub)

	default:
		desc, ok = r.keys.LookupScript(rcp.Script)
		if !ok {
			if _, spend, cs := parseColdStakeScript(
				rcp.Script,
			); cs {

				desc, ok = r.keys.LookupScript(spend)
			}
		}
	}
	if !ok {
		return
	}

	rcp.Owned = true
	rcp.KeyPath = desc.Path
	rcp.AddrType = txrecord.AddrExtKey
}

// stealthKeyPath is the key path of an output received on the stealth
// address with scan key scan.
func stealthKeyPath(scan []byte, shared blind.Nonce) []byte {
	path := make([]byte, 0, len(scan)+len(shared))
	path = append(path, scan...)

	return append(path, shared[:]...)
}

// narrationKey derives the key encrypting the narration of a plain stealth
// output.
func narrationKey(shared blind.Nonce) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, shared[:], nil, []byte("narration"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}

	return key, nil
}

// sealNarration encrypts a narration under the stealth shared secret. Every
// payment has a fresh secret, so a zero nonce is used.
func sealNarration(shared blind.Nonce, narration string) ([]byte, error) {
	key, err := narrationKey(shared)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())

	return aead.Seal(nil, nonce, []byte(narration), nil), nil
}

// openNarration reverses sealNarration.
func openNarration(shared blind.Nonce, sealed []byte) (string, error) {
	key, err := narrationKey(shared)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}

	return string(plain), nil
}

// resolveChange resolves a change destination of kind. Its amount is set
// by the fee loop.
func (r *Resolver) resolveChange(dest Destination,
	kind OutputKind) (*Recipient, error) {

	req := &RecipientRequest{Destination: dest, Kind: kind}
	rcp := &Recipient{Kind: kind, IsChange: true}
	if err := r.resolveDestination(req, rcp); err != nil {
		return nil, err
	}
	if kind != KindPlain {
		if err := r.deriveNonce(req, rcp); err != nil {
			return nil, err
		}
	}
	r.markOwned(rcp)

	return rcp, nil
}
