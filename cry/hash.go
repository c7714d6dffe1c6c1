// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package cry

import (
	"hash"

	"golang.org/x/crypto/sha3"

	"github.com/stakewise/v3-core-sub003/core"
)

// NewHasher returns the widely used hasher (Keccak256).
func NewHasher() hash.Hash {
	return sha3.NewLegacyKeccak256()
}

// HashSum computes the Keccak256 hash of data.
func HashSum(data ...[]byte) core.Bytes32 {
	h := NewHasher()
	for _, b := range data {
		h.Write(b)
	}
	var b32 core.Bytes32
	h.Sum(b32[:0])
	return b32
}
