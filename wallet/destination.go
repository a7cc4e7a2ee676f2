// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// opIsCoinstake pushes true when the spending transaction is a coinstake. It
// takes the place of OP_NOP9.
const opIsCoinstake = txscript.OP_NOP9

const (
	// stealthAddressSize is options, scan key, spend key count, spend
	// key, signature count and prefix length.
	stealthAddressSize = 1 + 33 + 1 + 33 + 1 + 1

	// p2pkhScriptSize is OP_DUP OP_HASH160 <20> OP_EQUALVERIFY
	// OP_CHECKSIG.
	p2pkhScriptSize = 25
)

// addressVersions are the base58 version bytes of the address kinds btcutil
// does not know about.
type addressVersions struct {
	stealth   byte
	stakeOnly byte
}

var (
	mainnetVersions = addressVersions{stealth: 0x14, stakeOnly: 0x3c}
	testnetVersions = addressVersions{stealth: 0x15, stakeOnly: 0x3d}
)

// versionsFor returns the version bytes of net.
func versionsFor(net *chaincfg.Params) addressVersions {
	if net != nil && net.Net == chaincfg.MainNetParams.Net {
		return mainnetVersions
	}

	return testnetVersions
}

var (
	// errWrongNetwork is returned when decoding an address of another
	// network.
	errWrongNetwork = errors.New("address is for another network")

	// errMalformedAddress is returned for an address that does not
	// decode.
	errMalformedAddress = errors.New("malformed address")
)

// StealthAddress is a reusable address from which the sender derives a fresh
// one-time key per payment.
type StealthAddress struct {
	Options  byte
	ScanKey  *btcec.PublicKey
	SpendKey *btcec.PublicKey

	net *chaincfg.Params
}

// NewStealthAddress returns the stealth address of a scan and spend key.
func NewStealthAddress(scan, spend *btcec.PublicKey,
	net *chaincfg.Params) *StealthAddress {

	return &StealthAddress{ScanKey: scan, SpendKey: spend, net: net}
}

// DecodeStealthAddress parses the text form of a stealth address.
func DecodeStealthAddress(s string,
	net *chaincfg.Params) (*StealthAddress, error) {

	payload, version, err := base58.CheckDecode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedAddress, err)
	}
	if version != versionsFor(net).stealth {
		return nil, errWrongNetwork
	}
	if len(payload) != stealthAddressSize || payload[34] != 1 ||
		payload[68] != 1 {

		return nil, fmt.Errorf("%w: unsupported stealth layout",
			errMalformedAddress)
	}

	scan, err := btcec.ParsePubKey(payload[1:34])
	if err != nil {
		return nil, fmt.Errorf("%w: scan key: %v", errMalformedAddress,
			err)
	}
	spend, err := btcec.ParsePubKey(payload[35:68])
	if err != nil {
		return nil, fmt.Errorf("%w: spend key: %v",
			errMalformedAddress, err)
	}

	return &StealthAddress{
		Options:  payload[0],
		ScanKey:  scan,
		SpendKey: spend,
		net:      net,
	}, nil
}

// Encode returns the text form of the address.
func (a *StealthAddress) Encode() string {
	payload := make([]byte, 0, stealthAddressSize)
	payload = append(payload, a.Options)
	payload = append(payload, a.ScanKey.SerializeCompressed()...)
	payload = append(payload, 1)
	payload = append(payload, a.SpendKey.SerializeCompressed()...)
	payload = append(payload, 1, 0)

	return base58.CheckEncode(payload, versionsFor(a.net).stealth)
}

// String returns the text form of the address.
func (a *StealthAddress) String() string {
	return a.Encode()
}

// StakeOnlyAddress is a pubkey hash that may only appear as the staking half
// of a cold staking script.
type StakeOnlyAddress struct {
	hash [20]byte
	net  *chaincfg.Params
}

// A compile-time assertion to ensure StakeOnlyAddress is a btcutil.Address.
var _ btcutil.Address = (*StakeOnlyAddress)(nil)

// NewStakeOnlyAddress returns the stake-only address of a pubkey hash.
func NewStakeOnlyAddress(hash []byte,
	net *chaincfg.Params) (*StakeOnlyAddress, error) {

	if len(hash) != 20 {
		return nil, fmt.Errorf("%w: hash must be 20 bytes",
			errMalformedAddress)
	}

	a := &StakeOnlyAddress{net: net}
	copy(a.hash[:], hash)

	return a, nil
}

// DecodeStakeOnlyAddress parses the text form of a stake-only address.
func DecodeStakeOnlyAddress(s string,
	net *chaincfg.Params) (*StakeOnlyAddress, error) {

	payload, version, err := base58.CheckDecode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedAddress, err)
	}
	if version != versionsFor(net).stakeOnly {
		return nil, errWrongNetwork
	}

	return NewStakeOnlyAddress(payload, net)
}

// EncodeAddress returns the text form of the address.
func (a *StakeOnlyAddress) EncodeAddress() string {
	return base58.CheckEncode(a.hash[:], versionsFor(a.net).stakeOnly)
}

// String returns the text form of the address.
func (a *StakeOnlyAddress) String() string {
	return a.EncodeAddress()
}

// ScriptAddress returns the pubkey hash.
func (a *StakeOnlyAddress) ScriptAddress() []byte {
	return a.hash[:]
}

// IsForNet reports whether the address belongs to net.
func (a *StakeOnlyAddress) IsForNet(net *chaincfg.Params) bool {
	return versionsFor(a.net) == versionsFor(net)
}

// Destination is where a recipient is paid. It is implemented by
// AddressDest, PubKeyDest, ScriptDest, StealthDest and ColdStakeDest only.
type Destination interface {
	isDestination()
}

// AddressDest pays a standard address.
type AddressDest struct {
	Addr btcutil.Address
}

// PubKeyDest pays a known public key.
type PubKeyDest struct {
	Key *btcec.PublicKey
}

// ScriptDest pays a raw script.
type ScriptDest struct {
	Script []byte
}

// StealthDest pays a fresh one-time key of a stealth address.
type StealthDest struct {
	Addr *StealthAddress
}

// ColdStakeDest pays a script that Stake may stake and Spend may spend.
type ColdStakeDest struct {
	Stake btcutil.Address
	Spend btcutil.Address
}

func (AddressDest) isDestination()   {}
func (PubKeyDest) isDestination()    {}
func (ScriptDest) isDestination()    {}
func (StealthDest) isDestination()   {}
func (ColdStakeDest) isDestination() {}

// Compile-time checks for the Destination implementations.
var (
	_ Destination = (*AddressDest)(nil)
	_ Destination = (*PubKeyDest)(nil)
	_ Destination = (*ScriptDest)(nil)
	_ Destination = (*StealthDest)(nil)
	_ Destination = (*ColdStakeDest)(nil)
)

// payToPubKeyHashScript returns the pubkey hash script of pub.
func payToPubKeyHashScript(pub *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pub.SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// payToHashScript returns the pubkey hash script of a 20 byte hash.
func payToHashScript(hash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(hash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// addressScript returns the output script of addr. Stake-only addresses
// have no standalone script.
func addressScript(addr btcutil.Address) ([]byte, error) {
	switch a := addr.(type) {
	case *StakeOnlyAddress:
		return nil, fmt.Errorf("%w: stake-only address %v is not a "+
			"payment target", ErrInvalidDestination, a)

	case *btcutil.AddressPubKey:
		return payToPubKeyHashScript(a.PubKey())
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}

	return script, nil
}

// coldStakeScript builds the two branch script paying stake when spent by a
// coinstake and spend otherwise. The spend half must not be a bare pubkey
// hash, which could never be moved by a staking node.
func coldStakeScript(stake, spend btcutil.Address) ([]byte, error) {
	var stakeHash []byte
	switch s := stake.(type) {
	case *StakeOnlyAddress:
		stakeHash = s.ScriptAddress()

	case *btcutil.AddressPubKeyHash:
		stakeHash = s.ScriptAddress()

	default:
		return nil, fmt.Errorf("%w: stake address %v must be a "+
			"pubkey hash", ErrInvalidDestination, stake)
	}

	switch spend.(type) {
	case *btcutil.AddressPubKeyHash, *btcutil.AddressWitnessPubKeyHash,
		*btcutil.AddressPubKey, *StakeOnlyAddress:

		return nil, fmt.Errorf("%w: spend address %v of a cold "+
			"stake script must be a script hash",
			ErrInvalidDestination, spend)
	}

	stakeScript, err := payToHashScript(stakeHash)
	if err != nil {
		return nil, err
	}
	spendScript, err := addressScript(spend)
	if err != nil {
		return nil, err
	}

	script := make([]byte, 0, 4+len(stakeScript)+len(spendScript))
	script = append(script, opIsCoinstake, txscript.OP_IF)
	script = append(script, stakeScript...)
	script = append(script, txscript.OP_ELSE)
	script = append(script, spendScript...)
	script = append(script, txscript.OP_ENDIF)

	return script, nil
}

// parseColdStakeScript splits a cold stake script into its stake and spend
// scripts.
func parseColdStakeScript(script []byte) ([]byte, []byte, bool) {
	const head = 2 + p2pkhScriptSize + 1
	if len(script) <= head+1 || script[0] != opIsCoinstake ||
		script[1] != txscript.OP_IF ||
		script[head-1] != txscript.OP_ELSE ||
		script[len(script)-1] != txscript.OP_ENDIF {

		return nil, nil, false
	}

	stake := script[2 : 2+p2pkhScriptSize]
	if !txscript.IsPayToPubKeyHash(stake) {
		return nil, nil, false
	}

	return stake, script[head : len(script)-1], true
}

// isColdStakeScript reports whether script is a cold stake script.
func isColdStakeScript(script []byte) bool {
	_, _, ok := parseColdStakeScript(script)
	return ok
}

// sameScript compares two scripts.
func sameScript(a, b []byte) bool {
	return bytes.Equal(a, b)
}
