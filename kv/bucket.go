// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package kv

import "github.com/syndtr/goleveldb/leveldb/util"

// Bucket provides a logical bucket on a kv store by key prefixing.
type Bucket string

// Key composes a full key from the bucket prefix and the given parts.
func (b Bucket) Key(parts ...[]byte) []byte {
	k := make([]byte, 0, len(b)+16)
	k = append(k, b...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

// Range returns the key range covering every key of the bucket.
func (b Bucket) Range() Range {
	r := util.BytesPrefix([]byte(b))
	return Range{Start: r.Start, Limit: r.Limit}
}

// StripKey removes the bucket prefix from a full key.
func (b Bucket) StripKey(key []byte) []byte {
	return key[len(b):]
}
