// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/dmuralov/particl-core/blind"
	"github.com/dmuralov/particl-core/ctwire"
)

// anonInputs returns the anonymous inputs of tx in order.
func anonInputs(tx *ctwire.MsgTx) []*ctwire.AnonInput {
	var ins []*ctwire.AnonInput
	for _, in := range tx.TxIn {
		if in.Anon != nil {
			ins = append(ins, in.Anon)
		}
	}

	return ins
}

// ringSecrets returns the one-time private keys of the real inputs of ring.
func (w *Wallet) ringSecrets(ring *Ring) ([]*btcec.PrivateKey, error) {
	secrets := make([]*btcec.PrivateKey, 0, len(ring.Inputs))
	for _, coin := range ring.Inputs {
		priv, err := w.cfg.Keys.PrivKey(coin.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("key of %v: %w", coin.OutPoint,
				err)
		}
		secrets = append(secrets, priv)
	}

	return secrets, nil
}

// fillKeyImages sets the key images of every anonymous input. They are part
// of the signed data, so this runs before any signature.
func (w *Wallet) fillKeyImages(atx *AuthoredTx) error {
	ins := anonInputs(atx.Tx)
	if len(ins) != len(atx.Rings) {
		return fmt.Errorf("%d anon inputs for %d rings", len(ins),
			len(atx.Rings))
	}

	for i, ring := range atx.Rings {
		secrets, err := w.ringSecrets(ring)
		if err != nil {
			return err
		}

		images := make([]blind.KeyImage, len(secrets))
		for row, priv := range secrets {
			pub, err := btcec.ParsePubKey(ring.Inputs[row].PubKey[:])
			if err != nil {
				return err
			}
			images[row], err = w.cfg.Crypto.KeyImage(pub, priv)
			if err != nil {
				return err
			}
		}
		ins[i].KeyImages = images
	}

	return nil
}

// signTx signs every input of atx. Plain and blinded inputs get an ECDSA
// witness over the output they spend; anonymous inputs get an MLSAG over
// the whole transaction.
func (w *Wallet) signTx(atx *AuthoredTx) error {
	tx := atx.Tx

	switch atx.InputKind {
	case KindPlain, KindBlinded:
		for i, coin := range atx.Inputs {
			witness, err := w.signInput(tx, i, coin)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			tx.TxIn[i].Witness = witness
		}

	case KindAnon:
		msg := tx.RingSigHash()
		ins := anonInputs(tx)
		for i, ring := range atx.Rings {
			secrets, err := w.ringSecrets(ring)
			if err != nil {
				return err
			}

			inBlinds := make([]blind.Blind, 0, len(ring.Inputs))
			for _, coin := range ring.Inputs {
				inBlinds = append(inBlinds, coin.Blind)
			}

			images, sig, err := w.cfg.Crypto.SignMLSAG(
				&blind.MLSAGInput{
					Message:          msg,
					Ring:             ring.Members,
					RealColumn:       ring.RealColumn,
					Secrets:          secrets,
					InBlinds:         inBlinds,
					PseudoBlind:      ring.PseudoBlind,
					PseudoCommitment: ring.PseudoCommitment,
					Rand:             w.cfg.Rand,
				},
			)
			if err != nil {
				return fmt.Errorf("ring %d: %w", i, err)
			}
			for row := range images {
				if images[row] != ins[i].KeyImages[row] {
					return fmt.Errorf("ring %d: key image "+
						"changed while signing", i)
				}
			}
			ins[i].Signature = sig
		}
	}

	atx.Signed = true

	return nil
}

// signInput returns the witness spending coin at input idx.
func (w *Wallet) signInput(tx *ctwire.MsgTx, idx int,
	coin *Coin) (wire.TxWitness, error) {

	priv, err := w.cfg.Keys.PrivKey(coin.KeyPath)
	if err != nil {
		return nil, err
	}

	prevValue := ctwire.PlainValueBytes(int64(coin.Value))
	if coin.Kind == KindBlinded {
		prevValue = coin.Commitment[:]
	}

	hash := tx.SigHash(idx, coin.PkScript, prevValue)
	sig := ecdsa.Sign(priv, hash[:])

	return wire.TxWitness{
		append(sig.Serialize(), byte(txscript.SigHashAll)),
		priv.PubKey().SerializeCompressed(),
	}, nil
}

// verifyInput checks the witness of a plain or blinded input.
func verifyInput(tx *ctwire.MsgTx, idx int, coin *Coin) error {
	witness := tx.TxIn[idx].Witness
	if len(witness) != 2 || len(witness[0]) < 2 {
		return ErrUnsigned
	}

	pub, err := btcec.ParsePubKey(witness[1])
	if err != nil {
		return err
	}
	sigBytes := witness[0][:len(witness[0])-1]
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return err
	}

	prevValue := ctwire.PlainValueBytes(int64(coin.Value))
	if coin.Kind == KindBlinded {
		prevValue = coin.Commitment[:]
	}
	hash := tx.SigHash(idx, coin.PkScript, prevValue)
	if !sig.Verify(hash[:], pub) {
		return fmt.Errorf("input %d: signature invalid", idx)
	}

	return nil
}
