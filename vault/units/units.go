// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package units implements the share/asset fixed-point conversions.
//
// Every conversion rounds down, against the holder. A partial application of
// any of these operations would corrupt the exchange rate for every holder,
// so overflow is reported as a fatal error and nothing is ever saturated.
package units

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// ErrArithmetic marks overflow/underflow in ledger arithmetic. Operations
// returning it must not have mutated any state.
var ErrArithmetic = errors.New("arithmetic overflow")

// Wad is the 1e18 fixed-point scale used for exchange rates.
var Wad = uint256.NewInt(1e18)

// ToShares converts assets to shares at the rate totalShares/totalAssets,
// rounded down. An empty pool converts 1:1.
func ToShares(assets, totalShares, totalAssets *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() || totalAssets.IsZero() {
		return assets.Clone(), nil
	}
	res, overflow := new(uint256.Int).MulDivOverflow(assets, totalShares, totalAssets)
	if overflow {
		return nil, errors.Wrap(ErrArithmetic, "assets to shares")
	}
	return res, nil
}

// ToAssets converts shares to assets at the rate totalAssets/totalShares,
// rounded down. An empty pool converts 1:1.
func ToAssets(shares, totalShares, totalAssets *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() || totalAssets.IsZero() {
		return shares.Clone(), nil
	}
	res, overflow := new(uint256.Int).MulDivOverflow(shares, totalAssets, totalShares)
	if overflow {
		return nil, errors.Wrap(ErrArithmetic, "shares to assets")
	}
	return res, nil
}

// Add returns a+b, failing on overflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	res, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, errors.Wrap(ErrArithmetic, "add")
	}
	return res, nil
}

// Sub returns a-b, failing on underflow.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	res, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, errors.Wrap(ErrArithmetic, "sub")
	}
	return res, nil
}

// Min returns the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// FitsBits reports whether v fits the given unsigned bit width.
func FitsBits(v *uint256.Int, bits int) bool {
	return v.BitLen() <= bits
}

// Rate returns totalAssets/totalShares scaled by 1e18, the exchange rate
// exposed to collaborators. An empty pool reports the 1:1 rate.
func Rate(totalShares, totalAssets *uint256.Int) *uint256.Int {
	if totalShares.IsZero() {
		return Wad.Clone()
	}
	res, overflow := new(uint256.Int).MulDivOverflow(totalAssets, Wad, totalShares)
	if overflow {
		return new(uint256.Int) // rate too large to represent, report zero
	}
	return res
}
