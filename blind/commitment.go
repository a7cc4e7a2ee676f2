// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blind

import (
	"fmt"

	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// commitPoint returns blind*G + value*H.
func commitPoint(blind *secp.ModNScalar, value uint64) secp.JacobianPoint {
	bG := mulG(blind)
	v := scalarFromUint64(value)
	vH := mul(&v, &generatorH)

	return add(&bG, &vH)
}

// Commit creates the Pedersen commitment blind*G + value*H.
func Commit(blind Blind, value uint64) (Commitment, error) {
	b, err := blind.scalar()
	if err != nil {
		return Commitment{}, err
	}

	p := commitPoint(&b, value)
	if isInfinity(&p) {
		return Commitment{}, fmt.Errorf("%w: commitment is the "+
			"point at infinity", ErrInvalidBlind)
	}

	return Commitment(encodePoint(&p)), nil
}

// VerifyCommit checks that c opens to value under blind.
func VerifyCommit(c Commitment, blind Blind, value uint64) error {
	want, err := Commit(blind, value)
	if err != nil {
		return err
	}

	if want != c {
		return fmt.Errorf("%w: %v does not open to value %d",
			ErrCommitmentMismatch, c, value)
	}

	return nil
}

// ValueCommitment returns value*H with a zero blind. It is used for explicit
// amounts such as plain outputs and the fee.
func ValueCommitment(value uint64) secp.JacobianPoint {
	v := scalarFromUint64(value)

	return mul(&v, &generatorH)
}

// BlindSum returns sum(ins) - sum(outs) modulo the group order. The result is
// the blind that, given to one more output, balances the set.
func BlindSum(ins, outs []Blind) (Blind, error) {
	var acc secp.ModNScalar
	for i := range ins {
		s, err := ins[i].scalar()
		if err != nil {
			return Blind{}, fmt.Errorf("input blind %d: %w", i, err)
		}
		acc.Add(&s)
	}

	for i := range outs {
		s, err := outs[i].scalar()
		if err != nil {
			return Blind{}, fmt.Errorf("output blind %d: %w", i, err)
		}
		s.Negate()
		acc.Add(&s)
	}

	return blindFromScalar(&acc), nil
}

// SumCommitments returns sum(pos) - sum(neg) as a point.
func SumCommitments(pos, neg []Commitment) (secp.JacobianPoint, error) {
	var acc secp.JacobianPoint
	for i := range pos {
		p, err := decodePoint(pos[i][:])
		if err != nil {
			return acc, err
		}
		acc = add(&acc, &p)
	}

	for i := range neg {
		p, err := decodePoint(neg[i][:])
		if err != nil {
			return acc, err
		}
		acc = sub(&acc, &p)
	}

	return acc, nil
}

// VerifyBalance checks sum(ins) + plainIn*H == sum(outs) + (plainOut+fee)*H.
// plainIn and plainOut are the totals of explicit input and output amounts.
func VerifyBalance(ins, outs []Commitment, plainIn, plainOut,
	fee uint64) error {

	acc, err := SumCommitments(ins, outs)
	if err != nil {
		return err
	}

	pin := ValueCommitment(plainIn)
	acc = add(&acc, &pin)

	pout := ValueCommitment(plainOut + fee)
	acc = sub(&acc, &pout)

	if !isInfinity(&acc) {
		return ErrUnbalanced
	}

	return nil
}
