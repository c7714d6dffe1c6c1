// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/cry"
)

func makeLeaves(n int) []core.Bytes32 {
	leaves := make([]core.Bytes32, n)
	for i := range leaves {
		leaves[i] = cry.HashSum([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return leaves
}

func TestSingleLeaf(t *testing.T) {
	leaves := makeLeaves(1)
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	assert.Equal(t, leaves[0], tree.Root())

	proof, err := tree.Prove(0)
	require.NoError(t, err)
	assert.Empty(t, proof)
	assert.True(t, Verify(tree.Root(), leaves[0], proof))
}

func TestProveAndVerify(t *testing.T) {
	for _, n := range []int{2, 3, 5, 8, 33} {
		t.Run(fmt.Sprintf("%d leaves", n), func(t *testing.T) {
			leaves := makeLeaves(n)
			tree, err := NewTree(leaves)
			require.NoError(t, err)

			for i, leaf := range leaves {
				proof, err := tree.Prove(i)
				require.NoError(t, err)
				assert.True(t, Verify(tree.Root(), leaf, proof), "leaf %d", i)
			}
		})
	}
}

func TestVerifyRejectsWrongLeaf(t *testing.T) {
	leaves := makeLeaves(4)
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	proof, err := tree.Prove(1)
	require.NoError(t, err)

	assert.False(t, Verify(tree.Root(), leaves[2], proof))
	assert.False(t, Verify(tree.Root(), cry.HashSum([]byte("unknown")), proof))
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	leaves := makeLeaves(8)
	tree, err := NewTree(leaves)
	require.NoError(t, err)

	proof, err := tree.Prove(3)
	require.NoError(t, err)
	proof[0][0] ^= 0xff

	assert.False(t, Verify(tree.Root(), leaves[3], proof))
}

func TestEmptyLeaves(t *testing.T) {
	_, err := NewTree(nil)
	assert.Error(t, err)
}

func TestProveOutOfRange(t *testing.T) {
	tree, err := NewTree(makeLeaves(3))
	require.NoError(t, err)

	_, err = tree.Prove(3)
	assert.Error(t, err)
	_, err = tree.Prove(-1)
	assert.Error(t, err)
}
