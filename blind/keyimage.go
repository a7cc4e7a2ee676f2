// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blind

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// keyImagePoint returns x*Hp(P) where P is the compressed public key of x.
func keyImagePoint(x *secp.ModNScalar,
	pub []byte) (secp.JacobianPoint, error) {

	hp, err := hashToPoint(pub)
	if err != nil {
		return secp.JacobianPoint{}, err
	}

	return mul(x, &hp), nil
}

// ComputeKeyImage returns the key image of the output key pub owned by priv.
// The same key always yields the same image, which is how a spend of an anon
// output is detected twice.
func ComputeKeyImage(pub *btcec.PublicKey,
	priv *btcec.PrivateKey) (KeyImage, error) {

	if priv == nil || priv.Key.IsZero() {
		return KeyImage{}, fmt.Errorf("%w: empty private key",
			ErrKeyMismatch)
	}
	if pub == nil || !pub.IsEqual(priv.PubKey()) {
		return KeyImage{}, ErrKeyMismatch
	}

	p, err := keyImagePoint(&priv.Key, pub.SerializeCompressed())
	if err != nil {
		return KeyImage{}, err
	}

	return KeyImage(encodePoint(&p)), nil
}
