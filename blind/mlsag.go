// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blind

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// RingMember is one anon output referenced by a ring: its one-time public key
// and its value commitment.
type RingMember struct {
	PubKey     [PointSize]byte
	Commitment Commitment
}

// MLSAGInput is the data needed to sign one anon input group.
//
// The signed matrix has one row per real input plus a commitment row. Ring is
// indexed [column][row] and every column must have len(Secrets) members. The
// real inputs sit in column RealColumn.
type MLSAGInput struct {
	// Message is the digest being signed.
	Message [32]byte

	// Ring holds the decoy and real members.
	Ring [][]RingMember

	// RealColumn is the column holding the spent outputs.
	RealColumn int

	// Secrets are the one-time private keys of the real members, one per
	// row.
	Secrets []*btcec.PrivateKey

	// InBlinds are the blinds of the real members' commitments.
	InBlinds []Blind

	// PseudoBlind opens PseudoCommitment, which commits to the same total
	// as the real members.
	PseudoBlind      Blind
	PseudoCommitment Commitment

	// Rand is the randomness source. crypto/rand is used when nil.
	Rand io.Reader
}

// MLSAGSize returns the signature size for rows real inputs and a ring of
// the given size.
func MLSAGSize(rows, ringSize int) int {
	return ScalarSize * (1 + ringSize*(rows+1))
}

// mlsagMatrix is the decoded public matrix of a group.
type mlsagMatrix struct {
	keys   [][]secp.JacobianPoint
	bases  [][]secp.JacobianPoint
	sumRow []secp.JacobianPoint
}

// buildMatrix decodes the ring members and derives the commitment row
// sum(C[col]) - pseudo for every column.
func buildMatrix(ring [][]RingMember, rows int,
	pseudo Commitment) (*mlsagMatrix, error) {

	if len(ring) < 1 || rows < 1 {
		return nil, fmt.Errorf("%w: empty ring", ErrRingSignature)
	}

	pc, err := decodePoint(pseudo[:])
	if err != nil {
		return nil, err
	}

	m := &mlsagMatrix{
		keys:   make([][]secp.JacobianPoint, len(ring)),
		bases:  make([][]secp.JacobianPoint, len(ring)),
		sumRow: make([]secp.JacobianPoint, len(ring)),
	}
	for col, members := range ring {
		if len(members) != rows {
			return nil, fmt.Errorf("%w: column %d has %d rows, "+
				"want %d", ErrRingSignature, col, len(members),
				rows)
		}

		m.keys[col] = make([]secp.JacobianPoint, rows)
		m.bases[col] = make([]secp.JacobianPoint, rows)

		var sum secp.JacobianPoint
		for row, member := range members {
			p, err := decodePoint(member.PubKey[:])
			if err != nil {
				return nil, err
			}
			hp, err := hashToPoint(member.PubKey[:])
			if err != nil {
				return nil, err
			}
			c, err := decodePoint(member.Commitment[:])
			if err != nil {
				return nil, err
			}

			m.keys[col][row] = p
			m.bases[col][row] = hp
			sum = add(&sum, &c)
		}
		m.sumRow[col] = sub(&sum, &pc)
	}

	return m, nil
}

// mlsagChallenge hashes the message with the L and R points of every row.
func mlsagChallenge(msg []byte, ls, rs []secp.JacobianPoint) secp.ModNScalar {
	parts := make([][]byte, 0, 1+len(ls)+len(rs))
	parts = append(parts, msg)
	for i := range ls {
		enc := encodePoint(&ls[i])
		parts = append(parts, enc[:])

		if i < len(rs) {
			enc := encodePoint(&rs[i])
			parts = append(parts, enc[:])
		}
	}

	return hashToScalar(parts...)
}

// stepColumn computes the L and R points of a column for responses s under
// challenge c.
func (m *mlsagMatrix) stepColumn(col int, s []secp.ModNScalar,
	c *secp.ModNScalar, images []secp.JacobianPoint) ([]secp.JacobianPoint,
	[]secp.JacobianPoint) {

	rows := len(images)
	ls := make([]secp.JacobianPoint, rows+1)
	rs := make([]secp.JacobianPoint, rows)
	for row := 0; row < rows; row++ {
		sG := mulG(&s[row])
		cP := mul(c, &m.keys[col][row])
		ls[row] = add(&sG, &cP)

		sHp := mul(&s[row], &m.bases[col][row])
		cI := mul(c, &images[row])
		rs[row] = add(&sHp, &cI)
	}

	sG := mulG(&s[rows])
	cZ := mul(c, &m.sumRow[col])
	ls[rows] = add(&sG, &cZ)

	return ls, rs
}

// SignMLSAG signs an anon input group and returns the key images of the
// real inputs and the serialized signature.
func SignMLSAG(in *MLSAGInput) ([]KeyImage, []byte, error) {
	rows := len(in.Secrets)
	cols := len(in.Ring)
	if in.RealColumn < 0 || in.RealColumn >= cols {
		return nil, nil, fmt.Errorf("%w: real column %d outside "+
			"ring of %d", ErrRingSignature, in.RealColumn, cols)
	}
	if len(in.InBlinds) != rows {
		return nil, nil, fmt.Errorf("%w: %d blinds for %d inputs",
			ErrRingSignature, len(in.InBlinds), rows)
	}

	m, err := buildMatrix(in.Ring, rows, in.PseudoCommitment)
	if err != nil {
		return nil, nil, err
	}

	// The secret of the commitment row is sum(in blinds) - pseudo blind.
	z, err := BlindSum(in.InBlinds, []Blind{in.PseudoBlind})
	if err != nil {
		return nil, nil, err
	}
	zs, err := z.scalar()
	if err != nil {
		return nil, nil, err
	}
	zG := mulG(&zs)
	if !zG.EquivalentNonConst(&m.sumRow[in.RealColumn]) {
		return nil, nil, fmt.Errorf("%w: commitment row does not "+
			"match input blinds", ErrUnbalanced)
	}

	secrets := make([]secp.ModNScalar, rows+1)
	images := make([]secp.JacobianPoint, rows)
	keyImages := make([]KeyImage, rows)
	for row, priv := range in.Secrets {
		if priv == nil {
			return nil, nil, fmt.Errorf("%w: missing secret for "+
				"row %d", ErrKeyMismatch, row)
		}

		pub := in.Ring[in.RealColumn][row].PubKey
		xG := mulG(&priv.Key)
		if encodePoint(&xG) != pub {
			return nil, nil, fmt.Errorf("%w: secret for row %d "+
				"does not match ring key", ErrKeyMismatch, row)
		}

		images[row] = mul(&priv.Key, &m.bases[in.RealColumn][row])
		keyImages[row] = KeyImage(encodePoint(&images[row]))
		secrets[row] = priv.Key
	}
	secrets[rows] = zs

	// Nonces for the real column.
	alpha := make([]secp.ModNScalar, rows+1)
	ls := make([]secp.JacobianPoint, rows+1)
	rs := make([]secp.JacobianPoint, rows)
	for row := range alpha {
		alpha[row], err = randomScalar(in.Rand)
		if err != nil {
			return nil, nil, err
		}
		ls[row] = mulG(&alpha[row])

		if row < rows {
			rs[row] = mul(&alpha[row], &m.bases[in.RealColumn][row])
		}
	}

	s := make([][]secp.ModNScalar, cols)
	c := make([]secp.ModNScalar, cols)

	next := (in.RealColumn + 1) % cols
	c[next] = mlsagChallenge(in.Message[:], ls, rs)

	for col := next; col != in.RealColumn; col = (col + 1) % cols {
		s[col] = make([]secp.ModNScalar, rows+1)
		for row := range s[col] {
			s[col][row], err = randomScalar(in.Rand)
			if err != nil {
				return nil, nil, err
			}
		}

		ls, rs := m.stepColumn(col, s[col], &c[col], images)
		c[(col+1)%cols] = mlsagChallenge(in.Message[:], ls, rs)
	}

	// Close the ring: s = alpha - c*x.
	secretIdx := in.RealColumn
	s[secretIdx] = make([]secp.ModNScalar, rows+1)
	for row := range s[secretIdx] {
		var t secp.ModNScalar
		t.Mul2(&c[secretIdx], &secrets[row]).Negate()
		s[secretIdx][row].Set(&alpha[row]).Add(&t)
	}

	sig := make([]byte, 0, MLSAGSize(rows, cols))
	c0 := c[0].Bytes()
	sig = append(sig, c0[:]...)
	for col := range s {
		for row := range s[col] {
			b := s[col][row].Bytes()
			sig = append(sig, b[:]...)
		}
	}

	return keyImages, sig, nil
}

// VerifyMLSAG verifies sig over msg for the given ring, pseudo commitment
// and key images.
func VerifyMLSAG(msg [32]byte, ring [][]RingMember, pseudo Commitment,
	keyImages []KeyImage, sig []byte) error {

	rows := len(keyImages)
	cols := len(ring)
	if len(sig) != MLSAGSize(rows, cols) {
		return fmt.Errorf("%w: signature is %d bytes, want %d",
			ErrRingSignature, len(sig), MLSAGSize(rows, cols))
	}

	m, err := buildMatrix(ring, rows, pseudo)
	if err != nil {
		return err
	}

	images := make([]secp.JacobianPoint, rows)
	for row := range keyImages {
		images[row], err = decodePoint(keyImages[row][:])
		if err != nil {
			return err
		}
		if isInfinity(&images[row]) {
			return fmt.Errorf("%w: key image %d is infinity",
				ErrRingSignature, row)
		}
	}

	readScalar := func(off int) (secp.ModNScalar, error) {
		var s secp.ModNScalar
		if s.SetByteSlice(sig[off : off+ScalarSize]) {
			return s, fmt.Errorf("%w: scalar overflow",
				ErrRingSignature)
		}

		return s, nil
	}

	c0, err := readScalar(0)
	if err != nil {
		return err
	}

	c := c0
	off := ScalarSize
	for col := 0; col < cols; col++ {
		s := make([]secp.ModNScalar, rows+1)
		for row := range s {
			s[row], err = readScalar(off)
			if err != nil {
				return err
			}
			off += ScalarSize
		}

		ls, rs := m.stepColumn(col, s, &c, images)
		c = mlsagChallenge(msg[:], ls, rs)
	}

	if !c.Equals(&c0) {
		return fmt.Errorf("%w: ring does not close", ErrRingSignature)
	}

	return nil
}
