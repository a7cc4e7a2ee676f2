// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blind

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// PointSize is the size of a compressed curve point.
	PointSize = 33

	// ScalarSize is the size of a serialized scalar.
	ScalarSize = 32

	// maxHashToCurveTries bounds the try-and-increment loop used to map a
	// hash onto the curve. Roughly half of all x coordinates are valid, so
	// the chance of exhausting this bound is 2^-256.
	maxHashToCurveTries = 256
)

var (
	// tagGeneratorH is the domain tag for the value generator.
	tagGeneratorH = []byte("particl-core/pedersen/H")

	// tagHashToPoint is the domain tag used to derive the key image base
	// point from a public key.
	tagHashToPoint = []byte("particl-core/keyimage/Hp")

	// generatorH is the second Pedersen generator. Its discrete log
	// relative to G is unknown since it is derived by hashing.
	generatorH = mustHashToCurve(tagGeneratorH)
)

// Blind is a 32-byte blinding factor, a scalar modulo the group order.
type Blind [ScalarSize]byte

// Commitment is a compressed Pedersen commitment blind*G + value*H.
type Commitment [PointSize]byte

// KeyImage is the compressed point x*Hp(P) for a ring member key P = x*G.
type KeyImage [PointSize]byte

// Nonce is the shared secret used to encrypt and later rewind the payload of
// a range proof.
type Nonce [32]byte

// String returns the hex encoding of the commitment.
func (c Commitment) String() string {
	return fmt.Sprintf("%x", c[:])
}

// String returns the hex encoding of the key image.
func (k KeyImage) String() string {
	return fmt.Sprintf("%x", k[:])
}

// IsZero returns true if the blind is all zero bytes.
func (b Blind) IsZero() bool {
	return b == Blind{}
}

// scalar returns the blind as a scalar. An error is returned when the bytes
// are not below the group order.
func (b Blind) scalar() (secp.ModNScalar, error) {
	var s secp.ModNScalar
	if overflow := s.SetByteSlice(b[:]); overflow {
		return s, ErrInvalidBlind
	}

	return s, nil
}

// blindFromScalar serializes a scalar as a Blind.
func blindFromScalar(s *secp.ModNScalar) Blind {
	return Blind(s.Bytes())
}

// NewBlind draws a uniformly random non-zero blinding factor from r. If r is
// nil crypto/rand is used.
func NewBlind(r io.Reader) (Blind, error) {
	s, err := randomScalar(r)
	if err != nil {
		return Blind{}, err
	}

	return blindFromScalar(&s), nil
}

// randomScalar returns a non-zero scalar read from r.
func randomScalar(r io.Reader) (secp.ModNScalar, error) {
	if r == nil {
		r = rand.Reader
	}

	var (
		buf [ScalarSize]byte
		s   secp.ModNScalar
	)
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return s, fmt.Errorf("read randomness: %w", err)
		}

		if overflow := s.SetByteSlice(buf[:]); overflow || s.IsZero() {
			continue
		}

		return s, nil
	}
}

// scalarFromUint64 returns v as a scalar.
func scalarFromUint64(v uint64) secp.ModNScalar {
	var (
		buf [ScalarSize]byte
		s   secp.ModNScalar
	)
	binary.BigEndian.PutUint64(buf[ScalarSize-8:], v)
	s.SetBytes(&buf)

	return s
}

// hashToScalar hashes the given parts with sha256 and reduces the digest
// modulo the group order.
func hashToScalar(parts ...[]byte) secp.ModNScalar {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}

	var s secp.ModNScalar
	s.SetByteSlice(h.Sum(nil))

	return s
}

// hashToCurve maps msg onto the curve using try-and-increment over sha256.
func hashToCurve(msg []byte) (secp.JacobianPoint, error) {
	var ctr [4]byte
	for i := uint32(0); i < maxHashToCurveTries; i++ {
		binary.BigEndian.PutUint32(ctr[:], i)

		h := sha256.New()
		h.Write(msg)
		h.Write(ctr[:])

		var x, y secp.FieldVal
		if overflow := x.SetByteSlice(h.Sum(nil)); overflow {
			continue
		}
		if !secp.DecompressY(&x, false, &y) {
			continue
		}

		var one secp.FieldVal
		one.SetInt(1)

		return secp.MakeJacobianPoint(&x, &y, &one), nil
	}

	return secp.JacobianPoint{}, ErrInvalidPoint
}

// mustHashToCurve is hashToCurve for package level generators.
func mustHashToCurve(msg []byte) secp.JacobianPoint {
	p, err := hashToCurve(msg)
	if err != nil {
		panic(err)
	}

	return p
}

// hashToPoint returns Hp(P), the key image base point for a serialized public
// key.
func hashToPoint(pub []byte) (secp.JacobianPoint, error) {
	msg := make([]byte, 0, len(tagHashToPoint)+len(pub))
	msg = append(msg, tagHashToPoint...)
	msg = append(msg, pub...)

	return hashToCurve(msg)
}

// isInfinity reports whether p is the point at infinity.
func isInfinity(p *secp.JacobianPoint) bool {
	return (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero()
}

// mulG returns k*G.
func mulG(k *secp.ModNScalar) secp.JacobianPoint {
	var r secp.JacobianPoint
	secp.ScalarBaseMultNonConst(k, &r)

	return r
}

// mul returns k*p.
func mul(k *secp.ModNScalar, p *secp.JacobianPoint) secp.JacobianPoint {
	var r secp.JacobianPoint
	secp.ScalarMultNonConst(k, p, &r)

	return r
}

// add returns a+b.
func add(a, b *secp.JacobianPoint) secp.JacobianPoint {
	var r secp.JacobianPoint
	secp.AddNonConst(a, b, &r)

	return r
}

// negate returns -p.
func negate(p *secp.JacobianPoint) secp.JacobianPoint {
	r := *p
	r.Y.Normalize().Negate(1).Normalize()

	return r
}

// sub returns a-b.
func sub(a, b *secp.JacobianPoint) secp.JacobianPoint {
	nb := negate(b)

	return add(a, &nb)
}

// encodePoint returns the compressed encoding of p. The point at infinity
// encodes as all zero bytes.
func encodePoint(p *secp.JacobianPoint) [PointSize]byte {
	var out [PointSize]byte
	if isInfinity(p) {
		return out
	}
	copy(out[:], btcec.JacobianToByteSlice(*p))

	return out
}

// decodePoint parses a compressed point. All zero bytes decode to the point
// at infinity.
func decodePoint(b []byte) (secp.JacobianPoint, error) {
	p, err := btcec.ParseJacobian(b)
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}

	return p, nil
}

// pubKeyPoint returns the jacobian form of a public key.
func pubKeyPoint(pub *btcec.PublicKey) secp.JacobianPoint {
	var p secp.JacobianPoint
	pub.AsJacobian(&p)

	return p
}
