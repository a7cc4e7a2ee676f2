// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/dmuralov/particl-core/blind"
)

const (
	// branchExternal, branchInternal and branchStealth are the child
	// indexes under the account key.
	branchExternal uint32 = 0
	branchInternal uint32 = 1
	branchStealth  uint32 = 2

	// DefaultKeyLookahead is the number of unused keys derived ahead on
	// each branch so scans find payments to them.
	DefaultKeyLookahead = 20

	// stealthPathSize is the length of a stealth key path: the scan key
	// followed by the shared secret.
	stealthPathSize = btcec.PubKeyBytesLenCompressed + 32
)

var (
	// errUnknownKeyPath is returned for a path the store never derived
	// or imported.
	errUnknownKeyPath = errors.New("unknown key path")

	// errWatchOnlyKey is returned when the private key of a watch-only
	// key is requested.
	errWatchOnlyKey = errors.New("watch-only key")

	// errKeyMismatch is returned when an imported private key does not
	// match its descriptor.
	errKeyMismatch = errors.New("private key does not match public key")
)

// memKey is a key held by MemKeyStore. priv is nil for watch-only keys.
type memKey struct {
	desc *KeyDescriptor
	priv *btcec.PrivateKey
}

// MemKeyStore is an in-memory KeyStore deriving keys from one BIP44 style
// account. It suits tests and standalone tools.
type MemKeyStore struct {
	mu sync.RWMutex

	params  *chaincfg.Params
	account *hdkeychain.ExtendedKey

	lookahead uint32

	// next is the first unused index per branch and derived the number
	// of keys derived on it.
	next    [2]uint32
	derived [2]uint32

	byPath   map[string]*memKey
	byScript map[string]*KeyDescriptor
	byPubKey map[[33]byte]*KeyDescriptor

	stealth      []*StealthKeys
	stealthSpend map[[33]byte]*btcec.PrivateKey
	nextStealth  uint32
}

// A compile-time assertion to ensure MemKeyStore implements KeyStore.
var _ KeyStore = (*MemKeyStore)(nil)

// NewMemKeyStore returns a key store for the account m/44'/coin'/0' of
// seed.
func NewMemKeyStore(seed []byte, params *chaincfg.Params) (*MemKeyStore,
	error) {

	root, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, err
	}

	account := root
	for _, idx := range []uint32{44, params.HDCoinType, 0} {
		account, err = account.Derive(hdkeychain.HardenedKeyStart + idx)
		if err != nil {
			return nil, err
		}
	}

	ks := &MemKeyStore{
		params:       params,
		account:      account,
		lookahead:    DefaultKeyLookahead,
		byPath:       make(map[string]*memKey),
		byScript:     make(map[string]*KeyDescriptor),
		byPubKey:     make(map[[33]byte]*KeyDescriptor),
		stealthSpend: make(map[[33]byte]*btcec.PrivateKey),
	}

	for _, branch := range []uint32{branchExternal, branchInternal} {
		if err := ks.extend(branch); err != nil {
			return nil, err
		}
	}

	return ks, nil
}

// keyPath encodes a branch and index as a key path.
func keyPath(branch, index uint32) []byte {
	var path [8]byte
	binary.BigEndian.PutUint32(path[:4], branch)
	binary.BigEndian.PutUint32(path[4:], index)

	return path[:]
}

// derive returns the private key at branch/index of the account.
func (ks *MemKeyStore) derive(branch, index uint32) (*btcec.PrivateKey,
	error) {

	bk, err := ks.account.Derive(branch)
	if err != nil {
		return nil, err
	}
	k, err := bk.Derive(index)
	if err != nil {
		return nil, err
	}

	return k.ECPrivKey()
}

// extend derives keys on branch until lookahead unused keys exist. The
// caller holds mu or has exclusive access.
func (ks *MemKeyStore) extend(branch uint32) error {
	for ks.derived[branch] < ks.next[branch]+ks.lookahead {
		idx := ks.derived[branch]
		priv, err := ks.derive(branch, idx)

		// Indexes yielding invalid keys are skipped as in BIP32.
		if errors.Is(err, hdkeychain.ErrInvalidChild) {
			ks.derived[branch]++
			continue
		}
		if err != nil {
			return err
		}

		desc := &KeyDescriptor{
			Path:   keyPath(branch, idx),
			PubKey: priv.PubKey(),
		}
		if err := ks.add(desc, priv); err != nil {
			return err
		}
		ks.derived[branch]++
	}

	return nil
}

// add indexes a key by path, P2PKH script and public key.
func (ks *MemKeyStore) add(desc *KeyDescriptor, priv *btcec.PrivateKey) error {
	script, err := payToPubKeyHashScript(desc.PubKey)
	if err != nil {
		return err
	}

	var pub [33]byte
	copy(pub[:], desc.PubKey.SerializeCompressed())

	ks.byPath[string(desc.Path)] = &memKey{desc: desc, priv: priv}
	ks.byScript[string(script)] = desc
	ks.byPubKey[pub] = desc

	return nil
}

// nextKey hands out the next unused key of branch.
func (ks *MemKeyStore) nextKey(branch uint32) (*KeyDescriptor, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	for {
		idx := ks.next[branch]
		ks.next[branch]++
		if err := ks.extend(branch); err != nil {
			return nil, err
		}

		if k, ok := ks.byPath[string(keyPath(branch, idx))]; ok {
			return k.desc, nil
		}
	}
}

// NewReceiveKey returns an unused external key.
func (ks *MemKeyStore) NewReceiveKey() (*KeyDescriptor, error) {
	return ks.nextKey(branchExternal)
}

// NewChangeKey returns an unused internal key.
func (ks *MemKeyStore) NewChangeKey() (*KeyDescriptor, error) {
	return ks.nextKey(branchInternal)
}

// NewStealthAddress derives a new stealth address and starts scanning for
// it.
func (ks *MemKeyStore) NewStealthAddress() (*StealthAddress, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	idx := ks.nextStealth * 2
	ks.nextStealth++

	scanPriv, err := ks.derive(branchStealth, idx)
	if err != nil {
		return nil, err
	}
	spendPriv, err := ks.derive(branchStealth, idx+1)
	if err != nil {
		return nil, err
	}

	addr := NewStealthAddress(scanPriv.PubKey(), spendPriv.PubKey(),
		ks.params)

	var scan [33]byte
	copy(scan[:], scanPriv.PubKey().SerializeCompressed())
	ks.stealthSpend[scan] = spendPriv
	ks.stealth = append(ks.stealth, &StealthKeys{
		Address:   addr,
		ScanPriv:  scanPriv,
		SpendPath: keyPath(branchStealth, idx+1),
	})

	return addr, nil
}

// ImportWatchOnly adds a public key the store can recognize but not sign
// for.
func (ks *MemKeyStore) ImportWatchOnly(pub *btcec.PublicKey) (*KeyDescriptor,
	error) {

	ks.mu.Lock()
	defer ks.mu.Unlock()

	desc := &KeyDescriptor{
		Path:      append([]byte("watch/"), pub.SerializeCompressed()...),
		PubKey:    pub,
		WatchOnly: true,
	}

	return desc, ks.add(desc, nil)
}

// LookupScript returns the key paying to a P2PKH script.
func (ks *MemKeyStore) LookupScript(script []byte) (*KeyDescriptor, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	desc, ok := ks.byScript[string(script)]

	return desc, ok
}

// LookupPubKey returns the descriptor of pub.
func (ks *MemKeyStore) LookupPubKey(pub [33]byte) (*KeyDescriptor, bool) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	desc, ok := ks.byPubKey[pub]

	return desc, ok
}

// PrivKey returns the private key at path. Stealth paths are derived from
// the spend key of the matching stealth address.
func (ks *MemKeyStore) PrivKey(path []byte) (*btcec.PrivateKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if k, ok := ks.byPath[string(path)]; ok {
		if k.priv == nil {
			return nil, fmt.Errorf("%w: %x", errWatchOnlyKey, path)
		}

		return k.priv, nil
	}

	if len(path) != stealthPathSize {
		return nil, fmt.Errorf("%w: %x", errUnknownKeyPath, path)
	}

	var scan [33]byte
	copy(scan[:], path[:33])
	spend, ok := ks.stealthSpend[scan]
	if !ok {
		return nil, fmt.Errorf("%w: no stealth address with scan key "+
			"%x", errUnknownKeyPath, scan)
	}

	var shared blind.Nonce
	copy(shared[:], path[33:])

	return blind.DeriveStealthPrivKey(spend, shared)
}

// StealthAddresses returns the stealth addresses to scan for.
func (ks *MemKeyStore) StealthAddresses() []*StealthKeys {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return append([]*StealthKeys(nil), ks.stealth...)
}

// ImportKey records a derived key, typically the one-time key of a stealth
// payment.
func (ks *MemKeyStore) ImportKey(desc *KeyDescriptor,
	priv *btcec.PrivateKey) error {

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if priv != nil && !priv.PubKey().IsEqual(desc.PubKey) {
		return fmt.Errorf("%w: %x", errKeyMismatch,
			desc.PubKey.SerializeCompressed())
	}

	return ks.add(desc, priv)
}
