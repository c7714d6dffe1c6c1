// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package attest

import (
	"bytes"
	"crypto/ecdsa"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/cry"
)

type oracle struct {
	key  *ecdsa.PrivateKey
	addr core.Address
}

// newOracles returns n oracles sorted by ascending address.
func newOracles(t *testing.T, n int) []oracle {
	t.Helper()
	oracles := make([]oracle, 0, n)
	for i := 0; i < n; i++ {
		key, err := cry.GenerateKey()
		require.NoError(t, err)
		oracles = append(oracles, oracle{key: key, addr: cry.PubkeyToAddress(key.PublicKey)})
	}
	sort.Slice(oracles, func(i, j int) bool {
		return bytes.Compare(oracles[i].addr[:], oracles[j].addr[:]) < 0
	})
	return oracles
}

func signAll(t *testing.T, digest core.Bytes32, oracles []oracle) []byte {
	t.Helper()
	var packed []byte
	for _, o := range oracles {
		sig, err := cry.Sign(digest, o.key)
		require.NoError(t, err)
		packed = append(packed, sig...)
	}
	return packed
}

func signerSet(oracles []oracle) SignerSet {
	addrs := make([]core.Address, len(oracles))
	for i, o := range oracles {
		addrs[i] = o.addr
	}
	return NewSignerSet(addrs...)
}

func TestVerifyQuorum(t *testing.T) {
	oracles := newOracles(t, 5)
	digest := cry.HashSum([]byte("rewards root v1"))
	set := signerSet(oracles)

	// full quorum
	assert.NoError(t, Verify(digest, signAll(t, digest, oracles), 3, set))
	// exactly threshold
	assert.NoError(t, Verify(digest, signAll(t, digest, oracles[:3]), 3, set))
}

func TestVerifyTooFewSigners(t *testing.T) {
	oracles := newOracles(t, 5)
	digest := cry.HashSum([]byte("root"))
	set := signerSet(oracles)

	err := Verify(digest, signAll(t, digest, oracles[:2]), 3, set)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyUnknownSigner(t *testing.T) {
	oracles := newOracles(t, 4)
	digest := cry.HashSum([]byte("root"))
	// last oracle excluded from the set
	set := signerSet(oracles[:3])

	err := Verify(digest, signAll(t, digest, oracles), 3, set)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRepeatedSigner(t *testing.T) {
	oracles := newOracles(t, 3)
	digest := cry.HashSum([]byte("root"))
	set := signerSet(oracles)

	dup := []oracle{oracles[0], oracles[0], oracles[1]}
	err := Verify(digest, signAll(t, digest, dup), 3, set)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyOutOfOrder(t *testing.T) {
	oracles := newOracles(t, 3)
	digest := cry.HashSum([]byte("root"))
	set := signerSet(oracles)

	reversed := []oracle{oracles[2], oracles[1], oracles[0]}
	err := Verify(digest, signAll(t, digest, reversed), 3, set)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyMalformedBundle(t *testing.T) {
	oracles := newOracles(t, 3)
	digest := cry.HashSum([]byte("root"))
	set := signerSet(oracles)

	assert.ErrorIs(t, Verify(digest, nil, 1, set), ErrInvalidSignature)
	assert.ErrorIs(t, Verify(digest, make([]byte, 64), 1, set), ErrInvalidSignature)
	assert.ErrorIs(t, Verify(digest, signAll(t, digest, oracles), 0, set), ErrInvalidSignature)
}

func TestVerifyWrongDigest(t *testing.T) {
	oracles := newOracles(t, 3)
	set := signerSet(oracles)

	signed := cry.HashSum([]byte("signed digest"))
	other := cry.HashSum([]byte("other digest"))

	// signatures over a different digest recover to other addresses
	err := Verify(other, signAll(t, signed, oracles), 3, set)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
