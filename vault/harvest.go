// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vault

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/keeper"
	"github.com/stakewise/v3-core-sub003/vault/units"
)

// HarvestOutcome reports what one harvest-and-settle cycle changed.
type HarvestOutcome struct {
	RewardDelta     *big.Int
	SideIncomeDelta *uint256.Int
	FeeShares       *uint256.Int
	SharesBurned    *uint256.Int
	AssetsReleased  *uint256.Int
}

// HarvestAndSettle runs one accounting cycle: harvest the keeper, apply the
// reward delta to the asset pool, mint fee shares, then advance the exit
// queue with whatever liquidity is not already earmarked for exits. params
// may be nil to advance the queue without presenting a proof, since
// liquidity can change even without new rewards.
//
// The reward delta is applied before the fee conversion, so fee shares are
// minted at the post-delta exchange rate. A negative delta dilutes every
// holder pro rata, queued-but-unsettled positions included. Any arithmetic
// overflow aborts the whole cycle with no state change.
func (v *Vault) HarvestAndSettle(params *keeper.HarvestParams, now uint64) (*HarvestOutcome, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	deltas := keeper.HarvestResult{RewardDelta: new(big.Int), SideIncomeDelta: new(uint256.Int)}
	if params != nil {
		var err error
		deltas, err = v.keeper.Harvest(v.cfg.ID, *params)
		if err != nil {
			return nil, err
		}
	}

	// stage the new totals; nothing is committed until every step succeeded
	totalShares := v.totalShares.Clone()
	totalAssets, err := applySigned(v.totalAssets, deltas.RewardDelta)
	if err != nil {
		return nil, errors.Wrap(err, "reward delta")
	}

	feeShares := new(uint256.Int)
	if deltas.RewardDelta.Sign() > 0 && v.cfg.FeePercent > 0 {
		feeShares, err = v.feeSharesFor(deltas.RewardDelta, totalShares, totalAssets)
		if err != nil {
			return nil, err
		}
		if totalShares, err = units.Add(totalShares, feeShares); err != nil {
			return nil, err
		}
	}

	// side income arrives as liquid assets, released by the mev escrow
	sideIncome := deltas.SideIncomeDelta
	if v.mev != nil && !sideIncome.IsZero() {
		if sideIncome, err = v.mev.Release(deltas.SideIncomeDelta); err != nil {
			return nil, errors.Wrap(err, "mev escrow")
		}
	}
	liquid, err := units.Add(v.liquid, sideIncome)
	if err != nil {
		return nil, err
	}
	available, err := units.Sub(liquid, v.queue.UnclaimedAssets())
	if err != nil {
		return nil, errors.Wrap(err, "unclaimed exceeds liquid")
	}

	queue := v.queue.Clone()
	burned, released, err := queue.Advance(available, totalShares, totalAssets)
	if err != nil {
		return nil, err
	}
	// burning removes the escrowed shares and their asset claim; the
	// released assets stay liquid, earmarked as unclaimed until settled
	if totalShares, err = units.Sub(totalShares, burned); err != nil {
		return nil, err
	}
	if totalAssets, err = units.Sub(totalAssets, released); err != nil {
		return nil, err
	}

	var feeBalance *uint256.Int
	if !feeShares.IsZero() {
		if feeBalance, err = units.Add(v.balanceOf(v.cfg.FeeRecipient), feeShares); err != nil {
			return nil, err
		}
	}

	if v.jrn != nil {
		err := v.jrn.Update(v.cfg.ID, func(w JournalWriter) error {
			if err := w.PutLedger(v.stagedLedger(totalShares, totalAssets, liquid, queue)); err != nil {
				return err
			}
			if feeBalance != nil {
				if err := w.PutBalance(v.cfg.FeeRecipient, feeBalance); err != nil {
					return err
				}
			}
			if !burned.IsZero() {
				index := uint64(queue.CheckpointCount() - 1)
				cp, _ := queue.CheckpointAt(int(index))
				return w.PutCheckpoint(index, cp)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "journal")
		}
	}

	v.totalShares = totalShares
	v.totalAssets = totalAssets
	v.liquid = liquid
	v.queue = queue
	if feeBalance != nil {
		v.balances[v.cfg.FeeRecipient] = feeBalance
	}

	labels := map[string]string{"vault": v.cfg.ID.String()}
	metricQueuedShares().SetWithLabel(gaugeValue(v.queue.QueuedShares()), labels)
	metricUnclaimedAssets().SetWithLabel(gaugeValue(v.queue.UnclaimedAssets()), labels)
	metricCheckpoints().SetWithLabel(int64(v.queue.CheckpointCount()), labels)

	if params != nil {
		v.emit(Event{Type: EventHarvest, Vault: v.cfg.ID, Reward: new(big.Int).Set(deltas.RewardDelta), Assets: sideIncome.Clone(), Timestamp: now})
	}
	if !burned.IsZero() {
		v.emit(Event{Type: EventCheckpoint, Vault: v.cfg.ID, Shares: burned.Clone(), Assets: released.Clone(), Timestamp: now})
	}
	logger.Debug("harvested",
		"vault", v.cfg.ID,
		"rewardDelta", deltas.RewardDelta,
		"sideIncome", sideIncome,
		"feeShares", feeShares,
		"burned", burned,
		"released", released,
	)

	return &HarvestOutcome{
		RewardDelta:     new(big.Int).Set(deltas.RewardDelta),
		SideIncomeDelta: sideIncome.Clone(),
		FeeShares:       feeShares.Clone(),
		SharesBurned:    burned,
		AssetsReleased:  released,
	}, nil
}

// feeSharesFor converts the fee's asset cut to shares at the post-delta
// rate, rounded down.
func (v *Vault) feeSharesFor(rewardDelta *big.Int, totalShares, totalAssets *uint256.Int) (*uint256.Int, error) {
	delta, overflow := uint256.FromBig(rewardDelta)
	if overflow {
		return nil, errors.Wrap(units.ErrArithmetic, "reward delta width")
	}
	feeAssets, overflow := new(uint256.Int).MulDivOverflow(delta, uint256.NewInt(uint64(v.cfg.FeePercent)), uint256.NewInt(maxFeePercent))
	if overflow {
		return nil, errors.Wrap(units.ErrArithmetic, "fee assets")
	}
	return units.ToShares(feeAssets, totalShares, totalAssets)
}

// applySigned returns base+delta for a signed delta, failing on overflow in
// either direction.
func applySigned(base *uint256.Int, delta *big.Int) (*uint256.Int, error) {
	magnitude, overflow := uint256.FromBig(new(big.Int).Abs(delta))
	if overflow {
		return nil, units.ErrArithmetic
	}
	if delta.Sign() < 0 {
		return units.Sub(base, magnitude)
	}
	return units.Add(base, magnitude)
}
