// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package datagen provides random value generators for tests.
package datagen

import (
	"crypto/rand"
	mathrand "math/rand"

	"github.com/holiman/uint256"

	"github.com/stakewise/v3-core-sub003/core"
)

func RandBytes32() (b core.Bytes32) {
	rand.Read(b[:])
	return
}

func RandAddress() (addr core.Address) {
	rand.Read(addr[:])
	return
}

func RandIntN(n int) int {
	return mathrand.Intn(n) //#nosec G404
}

// RandAmount returns a random amount in [1, max].
func RandAmount(max uint64) *uint256.Int {
	return uint256.NewInt(1 + mathrand.Uint64()%max) //#nosec G404
}
