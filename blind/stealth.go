// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blind

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ECDHSecret returns sha256 of the compressed point priv*pub. Both sides of an
// exchange derive the same value, which serves as stealth shared secret and as
// range proof nonce.
func ECDHSecret(priv *btcec.PrivateKey, pub *btcec.PublicKey) (Nonce, error) {
	if priv == nil || pub == nil {
		return Nonce{}, fmt.Errorf("%w: missing key", ErrKeyMismatch)
	}

	p := pubKeyPoint(pub)
	shared := mul(&priv.Key, &p)
	if isInfinity(&shared) {
		return Nonce{}, ErrInvalidPoint
	}
	enc := encodePoint(&shared)

	return sha256.Sum256(enc[:]), nil
}

// sharedScalar interprets a shared secret as a tweak.
func sharedScalar(shared Nonce) (secp.ModNScalar, error) {
	var s secp.ModNScalar
	if s.SetByteSlice(shared[:]) || s.IsZero() {
		return s, fmt.Errorf("%w: shared secret is not a valid "+
			"scalar", ErrInvalidBlind)
	}

	return s, nil
}

// DeriveStealthPubKey returns spend + shared*G, the one-time destination key
// of a stealth payment.
func DeriveStealthPubKey(spend *btcec.PublicKey,
	shared Nonce) (*btcec.PublicKey, error) {

	s, err := sharedScalar(shared)
	if err != nil {
		return nil, err
	}

	p := pubKeyPoint(spend)
	sG := mulG(&s)
	dest := add(&p, &sG)
	if isInfinity(&dest) {
		return nil, ErrInvalidPoint
	}
	dest.ToAffine()

	return btcec.NewPublicKey(&dest.X, &dest.Y), nil
}

// DeriveStealthPrivKey returns spend + shared, the private key matching
// DeriveStealthPubKey.
func DeriveStealthPrivKey(spend *btcec.PrivateKey,
	shared Nonce) (*btcec.PrivateKey, error) {

	s, err := sharedScalar(shared)
	if err != nil {
		return nil, err
	}

	var k secp.ModNScalar
	k.Set(&spend.Key).Add(&s)
	if k.IsZero() {
		return nil, ErrInvalidBlind
	}

	return secp.NewPrivateKey(&k), nil
}
