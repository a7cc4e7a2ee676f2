// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blind

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// Provider is the set of confidential primitives the transaction builder
// relies on. It is an interface so tests can count or fail individual calls.
type Provider interface {
	// Commit creates the Pedersen commitment to value under blind.
	Commit(blind Blind, value uint64) (Commitment, error)

	// VerifyCommit checks an opening of c.
	VerifyCommit(c Commitment, blind Blind, value uint64) error

	// BlindSum returns sum(ins) - sum(outs).
	BlindSum(ins, outs []Blind) (Blind, error)

	// ProveRange creates a range proof.
	ProveRange(p *ProveParams) ([]byte, error)

	// VerifyRange checks a range proof and returns the proven bounds.
	VerifyRange(c Commitment, proof []byte) (uint64, uint64, error)

	// RewindRange recovers the payload of a range proof.
	RewindRange(c Commitment, proof []byte,
		nonce Nonce) (*RewindResult, error)

	// KeyImage returns the key image of pub, which priv must own.
	KeyImage(pub *btcec.PublicKey, priv *btcec.PrivateKey) (KeyImage,
		error)

	// SignMLSAG signs one anon input group.
	SignMLSAG(in *MLSAGInput) ([]KeyImage, []byte, error)

	// VerifyMLSAG checks one anon input group signature.
	VerifyMLSAG(msg [32]byte, ring [][]RingMember, pseudo Commitment,
		images []KeyImage, sig []byte) error
}

// Secp256k1 implements Provider on the secp256k1 curve.
type Secp256k1 struct{}

// A compile-time assertion to ensure Secp256k1 satisfies Provider.
var _ Provider = (*Secp256k1)(nil)

// NewSecp256k1 returns the default provider.
func NewSecp256k1() *Secp256k1 {
	return &Secp256k1{}
}

// Commit creates the Pedersen commitment to value under blind.
func (*Secp256k1) Commit(blind Blind, value uint64) (Commitment, error) {
	return Commit(blind, value)
}

// VerifyCommit checks an opening of c.
func (*Secp256k1) VerifyCommit(c Commitment, blind Blind, value uint64) error {
	return VerifyCommit(c, blind, value)
}

// BlindSum returns sum(ins) - sum(outs).
func (*Secp256k1) BlindSum(ins, outs []Blind) (Blind, error) {
	return BlindSum(ins, outs)
}

// ProveRange creates a range proof.
func (*Secp256k1) ProveRange(p *ProveParams) ([]byte, error) {
	return ProveRange(p)
}

// VerifyRange checks a range proof.
func (*Secp256k1) VerifyRange(c Commitment, proof []byte) (uint64, uint64,
	error) {

	return VerifyRange(c, proof)
}

// RewindRange recovers the payload of a range proof.
func (*Secp256k1) RewindRange(c Commitment, proof []byte,
	nonce Nonce) (*RewindResult, error) {

	return RewindRange(c, proof, nonce)
}

// KeyImage returns the key image of pub, which priv must own.
func (*Secp256k1) KeyImage(pub *btcec.PublicKey,
	priv *btcec.PrivateKey) (KeyImage, error) {

	return ComputeKeyImage(pub, priv)
}

// SignMLSAG signs one anon input group.
func (*Secp256k1) SignMLSAG(in *MLSAGInput) ([]KeyImage, []byte, error) {
	return SignMLSAG(in)
}

// VerifyMLSAG checks one anon input group signature.
func (*Secp256k1) VerifyMLSAG(msg [32]byte, ring [][]RingMember,
	pseudo Commitment, images []KeyImage, sig []byte) error {

	return VerifyMLSAG(msg, ring, pseudo, images, sig)
}
