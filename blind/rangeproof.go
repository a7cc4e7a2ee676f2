// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blind

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"

	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ProofForm identifies the layout of a range proof.
type ProofForm uint8

const (
	// ProofFormLegacy is the parameterised proof. It proves
	// value = min + m*10^exp with m < 2^bits and carries its payload as an
	// authenticated auxiliary message.
	ProofFormLegacy ProofForm = 1

	// ProofFormCompact proves a fixed 64-bit range with no public
	// parameters. Its payload is masked by a nonce-derived keystream.
	ProofFormCompact ProofForm = 2
)

const (
	// CompactBits is the fixed width proven by the compact form.
	CompactBits = 64

	// LegacyMaxBits is the widest range for which automatic parameter
	// selection still produces a legacy proof.
	LegacyMaxBits = 32

	// MaxExponent is the largest decimal exponent a legacy proof accepts.
	MaxExponent = 18

	// maxAutoExponent caps the exponent picked by
	// SelectRangeProofParameters.
	maxAutoExponent = 4

	// MaxMessageSize bounds the message carried inside a proof.
	MaxMessageSize = 256

	// legacyHeaderSize is form, exponent, bits and the min value.
	legacyHeaderSize = 1 + 1 + 1 + 8

	// compactHeaderSize is the form byte only.
	compactHeaderSize = 1

	// bitSigSize is e0, s0 and s1 of one bit ring.
	bitSigSize = 3 * ScalarSize

	// payloadPrefixSize is value and blind ahead of the message.
	payloadPrefixSize = 8 + ScalarSize
)

var (
	infoLegacy  = []byte("particl-core/rangeproof/legacy")
	infoCompact = []byte("particl-core/rangeproof/compact")
)

// ProveParams holds the inputs of a range proof.
type ProveParams struct {
	// Commitment is the commitment being proven. It must open to Value
	// under Blind.
	Commitment Commitment

	// Blind is the blinding factor of Commitment.
	Blind Blind

	// Value is the committed amount.
	Value uint64

	// Nonce keys the payload so the holder can later rewind the proof.
	Nonce Nonce

	// Message is an optional short message, e.g. an encrypted narration.
	Message []byte

	// MinValue, Exponent and Bits select a legacy proof. A zero Bits
	// selects the compact form and the other two are ignored.
	MinValue uint64
	Exponent int
	Bits     int

	// Rand is the randomness source. crypto/rand is used when nil.
	Rand io.Reader
}

// RewindResult is the data recovered from a proof with the right nonce.
type RewindResult struct {
	Value    uint64
	Blind    Blind
	Message  []byte
	MinValue uint64
	MaxValue uint64
}

// SelectRangeProofParameters picks legacy parameters for value: trailing
// decimal zeros move into the exponent (up to four) and the bit width is at
// least LegacyMaxBits. Callers switch to the compact form when the returned
// bits exceed LegacyMaxBits.
func SelectRangeProofParameters(value uint64) (uint64, int, int) {
	exp := 0
	v := value
	for exp < maxAutoExponent && v != 0 && v%10 == 0 {
		v /= 10
		exp++
	}

	nbits := bits.Len64(v)
	if nbits < LegacyMaxBits {
		nbits = LegacyMaxBits
	}

	return 0, exp, nbits
}

// ProofSize returns the serialized size of a proof.
func ProofSize(form ProofForm, nbits, msgLen int) int {
	size := 2 + payloadPrefixSize + msgLen
	switch form {
	case ProofFormLegacy:
		size += legacyHeaderSize + chacha20poly1305.Overhead

	default:
		size += compactHeaderSize
		nbits = CompactBits
	}

	return size + (nbits-1)*PointSize + nbits*bitSigSize
}

// pow10 returns 10^exp.
func pow10(exp int) uint64 {
	v := uint64(1)
	for i := 0; i < exp; i++ {
		v *= 10
	}

	return v
}

// bitUnit returns 2^i * scale as a scalar.
func bitUnit(i int, scale uint64) secp.ModNScalar {
	s := scalarFromUint64(1 << uint(i))
	sc := scalarFromUint64(scale)
	s.Mul(&sc)

	return s
}

// bitChallenge is the hash used inside each two member bit ring.
func bitChallenge(m []byte, i int, r *secp.JacobianPoint) secp.ModNScalar {
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], uint32(i))
	enc := encodePoint(r)

	return hashToScalar(m, idx[:], enc[:])
}

// payloadKeys derives the payload cipher key and nonce.
func payloadKeys(nonce Nonce, c Commitment, info []byte) ([]byte, []byte,
	error) {

	kdf := hkdf.New(sha256.New, nonce[:], c[:], info)
	key := make([]byte, chacha20poly1305.KeySize)
	iv := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, nil, err
	}
	if _, err := io.ReadFull(kdf, iv); err != nil {
		return nil, nil, err
	}

	return key, iv, nil
}

// sealPayload encrypts value, blind and message for the given form.
func sealPayload(form ProofForm, nonce Nonce, c Commitment, header []byte,
	value uint64, blind Blind, msg []byte) ([]byte, error) {

	plain := make([]byte, payloadPrefixSize+len(msg))
	binary.BigEndian.PutUint64(plain, value)
	copy(plain[8:], blind[:])
	copy(plain[payloadPrefixSize:], msg)

	if form == ProofFormLegacy {
		key, iv, err := payloadKeys(nonce, c, infoLegacy)
		if err != nil {
			return nil, err
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, err
		}

		return aead.Seal(nil, iv, plain, header), nil
	}

	key, iv, err := payloadKeys(nonce, c, infoCompact)
	if err != nil {
		return nil, err
	}
	stream, err := chacha20.NewUnauthenticatedCipher(key, iv)
	if err != nil {
		return nil, err
	}
	stream.XORKeyStream(plain, plain)

	return plain, nil
}

// openPayload reverses sealPayload.
func openPayload(form ProofForm, nonce Nonce, c Commitment, header,
	payload []byte) (uint64, Blind, []byte, error) {

	var plain []byte
	if form == ProofFormLegacy {
		key, iv, err := payloadKeys(nonce, c, infoLegacy)
		if err != nil {
			return 0, Blind{}, nil, err
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return 0, Blind{}, nil, err
		}
		plain, err = aead.Open(nil, iv, payload, header)
		if err != nil {
			return 0, Blind{}, nil, fmt.Errorf("%w: open "+
				"message: %v", ErrRangeProofFailed, err)
		}
	} else {
		key, iv, err := payloadKeys(nonce, c, infoCompact)
		if err != nil {
			return 0, Blind{}, nil, err
		}
		stream, err := chacha20.NewUnauthenticatedCipher(key, iv)
		if err != nil {
			return 0, Blind{}, nil, err
		}
		plain = make([]byte, len(payload))
		stream.XORKeyStream(plain, payload)
	}

	if len(plain) < payloadPrefixSize {
		return 0, Blind{}, nil, fmt.Errorf("%w: short payload",
			ErrRangeProofFailed)
	}

	var blind Blind
	copy(blind[:], plain[8:payloadPrefixSize])

	return binary.BigEndian.Uint64(plain), blind,
		plain[payloadPrefixSize:], nil
}

// ProveRange creates a range proof for p.Commitment.
func ProveRange(p *ProveParams) ([]byte, error) {
	if err := VerifyCommit(p.Commitment, p.Blind, p.Value); err != nil {
		return nil, err
	}
	if len(p.Message) > MaxMessageSize {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds %d",
			ErrRangeProofFailed, len(p.Message), MaxMessageSize)
	}

	form := ProofFormCompact
	exp, nbits, minValue := 0, CompactBits, uint64(0)
	if p.Bits != 0 {
		form = ProofFormLegacy
		exp, nbits, minValue = p.Exponent, p.Bits, p.MinValue
	}

	switch {
	case exp < 0 || exp > MaxExponent:
		return nil, fmt.Errorf("%w: exponent %d out of range",
			ErrRangeProofFailed, exp)

	case nbits < 1 || nbits > CompactBits:
		return nil, fmt.Errorf("%w: bits %d out of range",
			ErrRangeProofFailed, nbits)

	case p.Value < minValue:
		return nil, fmt.Errorf("%w: value %d below min value %d",
			ErrRangeProofFailed, p.Value, minValue)
	}

	scale := pow10(exp)
	delta := p.Value - minValue
	mantissa := delta / scale
	minValue += delta % scale

	if nbits < CompactBits && mantissa>>uint(nbits) != 0 {
		return nil, fmt.Errorf("%w: value %d does not fit %d bits "+
			"at exponent %d", ErrRangeProofFailed, p.Value, nbits,
			exp)
	}

	header := encodeHeader(form, exp, nbits, minValue)

	blind, err := p.Blind.scalar()
	if err != nil {
		return nil, err
	}

	// Split the blind across the bit commitments. The last share is
	// whatever remains so the digits sum back to the full commitment.
	bitBlinds := make([]secp.ModNScalar, nbits)
	var sum secp.ModNScalar
	for i := 0; i < nbits-1; i++ {
		r, err := randomScalar(p.Rand)
		if err != nil {
			return nil, err
		}
		bitBlinds[i] = r
		sum.Add(&r)
	}
	sum.Negate()
	bitBlinds[nbits-1].Set(&blind).Add(&sum)

	digits := make([]secp.JacobianPoint, nbits)
	var buf bytes.Buffer
	buf.Write(header)
	buf.Write(p.Commitment[:])
	for i := 0; i < nbits; i++ {
		digits[i] = mulG(&bitBlinds[i])
		if (mantissa>>uint(i))&1 == 1 {
			unit := bitUnit(i, scale)
			uH := mul(&unit, &generatorH)
			digits[i] = add(&digits[i], &uH)
		}

		if i < nbits-1 {
			enc := encodePoint(&digits[i])
			buf.Write(enc[:])
		}
	}
	m := sha256.Sum256(buf.Bytes())

	for i := 0; i < nbits; i++ {
		keys := bitKeys(&digits[i], i, scale)
		secretIdx := int((mantissa >> uint(i)) & 1)

		e0, s0, s1, err := signBit(
			m[:], i, keys, secretIdx, &bitBlinds[i], p.Rand,
		)
		if err != nil {
			return nil, err
		}

		for _, s := range []*secp.ModNScalar{&e0, &s0, &s1} {
			b := s.Bytes()
			buf.Write(b[:])
		}
	}

	payload, err := sealPayload(
		form, p.Nonce, p.Commitment, header, p.Value, p.Blind,
		p.Message,
	)
	if err != nil {
		return nil, err
	}

	var plen [2]byte
	binary.BigEndian.PutUint16(plen[:], uint16(len(payload)))
	buf.Write(plen[:])
	buf.Write(payload)

	// The commitment only served as hash input, drop it from the proof.
	out := buf.Bytes()
	proof := make([]byte, 0, len(out)-PointSize)
	proof = append(proof, out[:len(header)]...)
	proof = append(proof, out[len(header)+PointSize:]...)

	log.Tracef("Created %d-bit range proof (form=%d, exp=%d, min=%d, "+
		"size=%d)", nbits, form, exp, minValue, len(proof))

	return proof, nil
}

// encodeHeader serializes the public proof parameters.
func encodeHeader(form ProofForm, exp, nbits int, minValue uint64) []byte {
	if form == ProofFormCompact {
		return []byte{byte(form)}
	}

	header := make([]byte, legacyHeaderSize)
	header[0] = byte(form)
	header[1] = byte(exp)
	header[2] = byte(nbits)
	binary.BigEndian.PutUint64(header[3:], minValue)

	return header
}

// bitKeys returns the two ring members for digit i: the digit itself (the
// bit is zero) and the digit minus its unit (the bit is one).
func bitKeys(digit *secp.JacobianPoint, i int,
	scale uint64) [2]secp.JacobianPoint {

	unit := bitUnit(i, scale)
	uH := mul(&unit, &generatorH)

	return [2]secp.JacobianPoint{*digit, sub(digit, &uH)}
}

// signBit creates a two member ring signature over keys knowing the discrete
// log x of keys[secretIdx].
func signBit(m []byte, i int, keys [2]secp.JacobianPoint, secretIdx int,
	x *secp.ModNScalar, r io.Reader) (secp.ModNScalar, secp.ModNScalar,
	secp.ModNScalar, error) {

	var e, s [2]secp.ModNScalar

	k, err := randomScalar(r)
	if err != nil {
		return e[0], s[0], s[1], err
	}

	other := 1 - secretIdx
	kG := mulG(&k)
	e[other] = bitChallenge(m, i, &kG)

	s[other], err = randomScalar(r)
	if err != nil {
		return e[0], s[0], s[1], err
	}
	sG := mulG(&s[other])
	eK := mul(&e[other], &keys[other])
	rOther := add(&sG, &eK)
	e[secretIdx] = bitChallenge(m, i, &rOther)

	// s = k - e*x at the known index.
	var t secp.ModNScalar
	t.Mul2(&e[secretIdx], x).Negate()
	s[secretIdx].Set(&k).Add(&t)

	return e[0], s[0], s[1], nil
}

// verifyBit checks one bit ring.
func verifyBit(m []byte, i int, keys [2]secp.JacobianPoint, e0, s0,
	s1 *secp.ModNScalar) bool {

	sG := mulG(s0)
	eK := mul(e0, &keys[0])
	r0 := add(&sG, &eK)
	e1 := bitChallenge(m, i, &r0)

	sG = mulG(s1)
	eK = mul(&e1, &keys[1])
	r1 := add(&sG, &eK)
	check := bitChallenge(m, i, &r1)

	return check.Equals(e0)
}

// parsedProof is a decoded range proof.
type parsedProof struct {
	form     ProofForm
	exp      int
	nbits    int
	minValue uint64
	header   []byte
	digits   []secp.JacobianPoint
	sigs     [][3]secp.ModNScalar
	payload  []byte
	m        [32]byte
}

// maxValue returns the largest value the proof admits.
func (p *parsedProof) maxValue() uint64 {
	scale := pow10(p.exp)

	var span uint64 = math.MaxUint64
	if p.nbits < CompactBits {
		span = (uint64(1) << uint(p.nbits)) - 1
	}

	hi, lo := bits.Mul64(span, scale)
	if hi != 0 {
		return math.MaxUint64
	}

	sum, carry := bits.Add64(p.minValue, lo, 0)
	if carry != 0 {
		return math.MaxUint64
	}

	return sum
}

// parseProof decodes proof against commitment c.
func parseProof(c Commitment, proof []byte) (*parsedProof, error) {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrRangeProofFailed,
			fmt.Sprintf(format, args...))
	}

	if len(proof) < compactHeaderSize {
		return nil, fail("empty proof")
	}

	p := &parsedProof{form: ProofForm(proof[0])}
	switch p.form {
	case ProofFormCompact:
		p.nbits = CompactBits
		p.header = proof[:compactHeaderSize]

	case ProofFormLegacy:
		if len(proof) < legacyHeaderSize {
			return nil, fail("short header")
		}
		p.exp = int(proof[1])
		p.nbits = int(proof[2])
		p.minValue = binary.BigEndian.Uint64(proof[3:])
		p.header = proof[:legacyHeaderSize]

		if p.exp > MaxExponent || p.nbits < 1 ||
			p.nbits > CompactBits {

			return nil, fail("bad parameters exp=%d bits=%d",
				p.exp, p.nbits)
		}

	default:
		return nil, fail("unknown form %d", proof[0])
	}

	rest := proof[len(p.header):]
	need := (p.nbits-1)*PointSize + p.nbits*bitSigSize + 2
	if len(rest) < need {
		return nil, fail("truncated proof")
	}

	cp, err := decodePoint(c[:])
	if err != nil {
		return nil, err
	}

	// The last digit is implied: C - min*H - sum(other digits).
	minH := ValueCommitment(p.minValue)
	last := sub(&cp, &minH)

	var buf bytes.Buffer
	buf.Write(p.header)
	buf.Write(c[:])

	p.digits = make([]secp.JacobianPoint, p.nbits)
	for i := 0; i < p.nbits-1; i++ {
		enc := rest[i*PointSize : (i+1)*PointSize]
		d, err := decodePoint(enc)
		if err != nil {
			return nil, err
		}
		p.digits[i] = d
		last = sub(&last, &d)
		buf.Write(enc)
	}
	p.digits[p.nbits-1] = last
	p.m = sha256.Sum256(buf.Bytes())

	rest = rest[(p.nbits-1)*PointSize:]
	p.sigs = make([][3]secp.ModNScalar, p.nbits)
	for i := 0; i < p.nbits; i++ {
		for j := 0; j < 3; j++ {
			off := i*bitSigSize + j*ScalarSize
			overflow := p.sigs[i][j].SetByteSlice(
				rest[off : off+ScalarSize],
			)
			if overflow {
				return nil, fail("scalar overflow in bit %d", i)
			}
		}
	}

	rest = rest[p.nbits*bitSigSize:]
	plen := int(binary.BigEndian.Uint16(rest))
	rest = rest[2:]
	if len(rest) != plen {
		return nil, fail("payload length %d, have %d", plen,
			len(rest))
	}
	p.payload = rest

	return p, nil
}

// VerifyRange verifies proof for commitment c and returns the proven range.
func VerifyRange(c Commitment, proof []byte) (uint64, uint64, error) {
	p, err := parseProof(c, proof)
	if err != nil {
		return 0, 0, err
	}

	scale := pow10(p.exp)
	for i := 0; i < p.nbits; i++ {
		keys := bitKeys(&p.digits[i], i, scale)
		sig := &p.sigs[i]
		if !verifyBit(p.m[:], i, keys, &sig[0], &sig[1], &sig[2]) {
			return 0, 0, fmt.Errorf("%w: bit %d does not verify",
				ErrRangeProofFailed, i)
		}
	}

	return p.minValue, p.maxValue(), nil
}

// RewindRange recovers value, blind and message from proof with nonce. The
// recovered opening is checked against c.
func RewindRange(c Commitment, proof []byte,
	nonce Nonce) (*RewindResult, error) {

	p, err := parseProof(c, proof)
	if err != nil {
		return nil, err
	}

	value, blind, msg, err := openPayload(
		p.form, nonce, c, p.header, p.payload,
	)
	if err != nil {
		return nil, err
	}

	if err := VerifyCommit(c, blind, value); err != nil {
		return nil, fmt.Errorf("%w: rewound opening: %v",
			ErrRangeProofFailed, err)
	}

	return &RewindResult{
		Value:    value,
		Blind:    blind,
		Message:  msg,
		MinValue: p.minValue,
		MaxValue: p.maxValue(),
	}, nil
}
