// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package merkle implements sorted-pair keccak merkle trees and proofs.
//
// Pairs are hashed in ascending byte order, so a proof carries no left/right
// position bits. This is the convention the reward tables are committed with.
package merkle

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/cry"
)

// Verify checks that leaf is part of the tree committed to by root.
func Verify(root, leaf core.Bytes32, proof []core.Bytes32) bool {
	computed := leaf
	for _, node := range proof {
		computed = hashPair(computed, node)
	}
	return computed == root
}

func hashPair(a, b core.Bytes32) core.Bytes32 {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return cry.HashSum(a[:], b[:])
}

// Tree is an in-memory merkle tree over pre-hashed leaves.
type Tree struct {
	layers [][]core.Bytes32 // layers[0] is the leaf layer
}

// NewTree builds a tree over the given leaf hashes. Odd nodes are promoted
// to the next layer unchanged.
func NewTree(leaves []core.Bytes32) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, errors.New("empty leaf set")
	}

	layers := [][]core.Bytes32{append([]core.Bytes32(nil), leaves...)}
	for current := layers[0]; len(current) > 1; current = layers[len(layers)-1] {
		next := make([]core.Bytes32, 0, (len(current)+1)/2)
		for i := 0; i+1 < len(current); i += 2 {
			next = append(next, hashPair(current[i], current[i+1]))
		}
		if len(current)%2 == 1 {
			next = append(next, current[len(current)-1])
		}
		layers = append(layers, next)
	}
	return &Tree{layers: layers}, nil
}

// Root returns the tree root.
func (t *Tree) Root() core.Bytes32 {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

// Prove produces the proof for the leaf at the given index.
func (t *Tree) Prove(index int) ([]core.Bytes32, error) {
	if index < 0 || index >= len(t.layers[0]) {
		return nil, errors.Errorf("leaf index %d out of range", index)
	}

	var proof []core.Bytes32
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := index ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		index /= 2
	}
	return proof, nil
}
