// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cry

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/core"
)

// SignatureLength is the byte length of a packed [R || S || V] signature record.
const SignatureLength = 65

// Sign signs the 32-byte message hash and produces a [R || S || V] signature
// where V is 0 or 1.
func Sign(msgHash core.Bytes32, priv *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(msgHash.Bytes(), priv)
	if err != nil {
		return nil, errors.Wrap(err, "sign")
	}
	return sig, nil
}

// Signer recovers the address of the key that produced the signature over the
// given message hash.
func Signer(msgHash core.Bytes32, sig []byte) (core.Address, error) {
	if len(sig) != SignatureLength {
		return core.Address{}, errors.New("invalid signature length")
	}
	pub, err := crypto.SigToPub(msgHash.Bytes(), sig)
	if err != nil {
		return core.Address{}, errors.Wrap(err, "recover signer")
	}
	return core.Address(crypto.PubkeyToAddress(*pub)), nil
}

// GenerateKey generates a new secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return crypto.GenerateKey()
}

// PubkeyToAddress derives the address of a public key.
func PubkeyToAddress(pub ecdsa.PublicKey) core.Address {
	return core.Address(crypto.PubkeyToAddress(pub))
}
