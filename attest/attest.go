// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package attest validates k-of-n oracle attestations over a message digest.
package attest

import (
	"bytes"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/cry"
)

// ErrInvalidSignature is returned whenever an attestation cannot be accepted:
// malformed records, unknown or repeated signers, or too few of them.
var ErrInvalidSignature = errors.New("invalid signature")

var signerCache, _ = lru.New(4096)

// SignerSet is the set of public identities whose signatures count towards
// the quorum.
type SignerSet map[core.Address]struct{}

// NewSignerSet builds a signer set from a list of addresses.
func NewSignerSet(signers ...core.Address) SignerSet {
	set := make(SignerSet, len(signers))
	for _, s := range signers {
		set[s] = struct{}{}
	}
	return set
}

// Contains returns whether the address is a member of the set.
func (s SignerSet) Contains(addr core.Address) bool {
	_, ok := s[addr]
	return ok
}

// Verify checks that the digest is attested by at least minSigners distinct
// members of the signer set.
//
// Signatures are packed fixed-width [R || S || V] records. Recovered signers
// must appear in strictly ascending address order, which enforces
// deduplication and keeps verification O(n).
func Verify(digest core.Bytes32, signatures []byte, minSigners int, signers SignerSet) error {
	if minSigners <= 0 {
		return errors.Wrap(ErrInvalidSignature, "non-positive quorum")
	}
	if len(signatures) == 0 || len(signatures)%cry.SignatureLength != 0 {
		return errors.Wrap(ErrInvalidSignature, "malformed signature bundle")
	}
	if len(signatures)/cry.SignatureLength < minSigners {
		return errors.Wrap(ErrInvalidSignature, "not enough signatures")
	}

	var lastSigner core.Address
	for offset := 0; offset < len(signatures); offset += cry.SignatureLength {
		sig := signatures[offset : offset+cry.SignatureLength]
		signer, err := recoverSigner(digest, sig)
		if err != nil {
			return errors.Wrap(ErrInvalidSignature, err.Error())
		}
		if !signers.Contains(signer) {
			return errors.Wrapf(ErrInvalidSignature, "unknown signer %v", signer)
		}
		if bytes.Compare(signer[:], lastSigner[:]) <= 0 {
			return errors.Wrap(ErrInvalidSignature, "signers out of order")
		}
		lastSigner = signer
	}
	return nil
}

func recoverSigner(digest core.Bytes32, sig []byte) (core.Address, error) {
	cacheKey := cry.HashSum(digest[:], sig)
	if cached, ok := signerCache.Get(cacheKey); ok {
		return cached.(core.Address), nil
	}

	signer, err := cry.Signer(digest, sig)
	if err != nil {
		return core.Address{}, err
	}
	signerCache.Add(cacheKey, signer)
	return signer, nil
}
