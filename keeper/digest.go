// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package keeper

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/cry"
)

// UpdateDigest is the message the oracle quorum signs for a root update:
// keccak256(root ‖ keccak256(ipfsRef) ‖ avgRate ‖ updateTimestamp ‖ nonce),
// every numeric field left-padded to 32 bytes.
func UpdateDigest(update RootUpdate, nonce uint64) core.Bytes32 {
	ipfsHash := cry.HashSum([]byte(update.IpfsRef))
	rate := update.AvgRewardPerSecond.Bytes32()
	ts := uint256.NewInt(update.UpdateTimestamp).Bytes32()
	n := uint256.NewInt(nonce).Bytes32()
	return cry.HashSum(update.Root.Bytes(), ipfsHash.Bytes(), rate[:], ts[:], n[:])
}

// HarvestLeaf computes the reward table leaf for a vault:
// keccak256(keccak256(vault ‖ reward ‖ sideIncome)), with the vault address
// and side income left-padded to 32 bytes and the reward encoded as a
// 256-bit two's complement value. The double hash prevents a 64-byte leaf
// preimage from colliding with an inner tree node.
func HarvestLeaf(vault core.Address, reward *big.Int, sideIncome *uint256.Int) core.Bytes32 {
	vaultWord := core.BytesToBytes32(vault.Bytes())
	rewardWord := signedWord(reward)
	sideWord := sideIncome.Bytes32()
	inner := cry.HashSum(vaultWord.Bytes(), rewardWord.Bytes(), sideWord[:])
	return cry.HashSum(inner.Bytes())
}

var wordModulus = new(big.Int).Lsh(big.NewInt(1), 256)

// signedWord encodes a signed integer as a 256-bit two's complement word.
func signedWord(v *big.Int) core.Bytes32 {
	if v.Sign() >= 0 {
		return core.BytesToBytes32(v.Bytes())
	}
	twos := new(big.Int).Add(wordModulus, v)
	return core.BytesToBytes32(twos.Bytes())
}
