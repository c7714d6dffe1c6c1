// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package keeper maintains the oracle-attested rewards root and the per-vault
// harvest records derived from it.
package keeper

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/attest"
	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/log"
	"github.com/stakewise/v3-core-sub003/merkle"
	"github.com/stakewise/v3-core-sub003/metrics"
)

var (
	logger = log.WithContext("pkg", "keeper")

	metricRootUpdates  = metrics.LazyLoadCounter("keeper_root_updates")
	metricHarvests     = metrics.LazyLoadCounterVec("keeper_harvests", []string{"vault"})
	metricRootNonceLag = metrics.LazyLoadGaugeVec("keeper_root_nonce_lag", []string{"vault"})
)

var (
	// ErrTooEarly rejects a root update submitted before the update delay elapsed.
	ErrTooEarly = errors.New("too early")
	// ErrInvalidRate rejects a root update whose average reward rate exceeds the ceiling.
	ErrInvalidRate = errors.New("invalid reward rate")
	// ErrInvalidRoot rejects an operation against a missing or outdated rewards root.
	ErrInvalidRoot = errors.New("invalid rewards root")
	// ErrInvalidProof rejects a harvest whose merkle proof matches neither root generation.
	ErrInvalidProof = errors.New("invalid merkle proof")
	// ErrAccessDenied rejects a harvest from anyone but the vault itself.
	ErrAccessDenied = errors.New("access denied")
	// ErrOutOfBounds rejects reported values exceeding their wire width.
	ErrOutOfBounds = errors.New("reported value out of bounds")
)

const (
	// rewardBits is the signed bit width of a reported cumulative reward.
	rewardBits = 192
	// sideIncomeBits is the unsigned bit width of reported cumulative side income.
	sideIncomeBits = 192
)

// RateReceiver consumes the attested average reward rate. The synthetic-token
// controller uses it to compound its debt curve between root updates.
type RateReceiver interface {
	SetAvgRewardPerSecond(rate *uint256.Int)
}

// Journal persists keeper state transitions. Implementations must write each
// call atomically.
type Journal interface {
	SaveRoots(current, previous RewardsRoot) error
	SaveHarvestRecord(vault core.Address, record HarvestRecord) error
}

// Config holds the quorum and policy parameters of the keeper.
type Config struct {
	Signers               []core.Address
	MinSigners            int
	UpdateDelay           uint64 // seconds that must pass between root updates
	MaxAvgRewardPerSecond *uint256.Int
}

// RewardsRoot is one generation of the rewards commitment.
type RewardsRoot struct {
	Root               core.Bytes32
	IpfsRef            string
	AvgRewardPerSecond *uint256.Int
	UpdateTimestamp    uint64
	Nonce              uint64
}

// IsZero returns whether this generation was ever installed.
func (r *RewardsRoot) IsZero() bool {
	return r.Root.IsZero()
}

// HarvestRecord tracks the cumulative values a vault was last credited with.
type HarvestRecord struct {
	Reward     *big.Int     // signed cumulative reward
	SideIncome *uint256.Int // cumulative unlocked side income
	Nonce      uint64
}

func emptyHarvestRecord() HarvestRecord {
	return HarvestRecord{Reward: new(big.Int), SideIncome: new(uint256.Int)}
}

// RootUpdate is the payload of an updateRewards call.
type RootUpdate struct {
	Root               core.Bytes32
	IpfsRef            string
	AvgRewardPerSecond *uint256.Int
	UpdateTimestamp    uint64
}

// HarvestParams carries a vault's reward leaf and its proof.
type HarvestParams struct {
	Reward     *big.Int
	SideIncome *uint256.Int
	Proof      []core.Bytes32
}

// HarvestResult holds the deltas to apply to the vault's ledger. Both zero
// means the harvest was a stale-nonce no-op.
type HarvestResult struct {
	RewardDelta     *big.Int
	SideIncomeDelta *uint256.Int
}

func zeroHarvestResult() HarvestResult {
	return HarvestResult{RewardDelta: new(big.Int), SideIncomeDelta: new(uint256.Int)}
}

// Snapshot is the persisted keeper state reloaded at startup.
type Snapshot struct {
	Current  RewardsRoot
	Previous RewardsRoot
	Records  map[core.Address]HarvestRecord
}

// Keeper is the reward consensus ledger. One instance serves many vaults.
type Keeper struct {
	mu sync.RWMutex

	signers     attest.SignerSet
	minSigners  int
	updateDelay uint64
	maxAvgRate  *uint256.Int

	current  RewardsRoot
	previous RewardsRoot
	records  map[core.Address]HarvestRecord
	vaults   map[core.Address]struct{}

	rateReceiver RateReceiver
	journal      Journal
}

// New creates a keeper. A nil snapshot starts from an empty root; a nil
// journal keeps state in memory only.
func New(cfg Config, rateReceiver RateReceiver, journal Journal, snap *Snapshot) (*Keeper, error) {
	if cfg.MinSigners <= 0 || cfg.MinSigners > len(cfg.Signers) {
		return nil, errors.New("quorum threshold out of range")
	}
	if cfg.MaxAvgRewardPerSecond == nil {
		return nil, errors.New("max average reward rate required")
	}

	k := &Keeper{
		signers:      attest.NewSignerSet(cfg.Signers...),
		minSigners:   cfg.MinSigners,
		updateDelay:  cfg.UpdateDelay,
		maxAvgRate:   cfg.MaxAvgRewardPerSecond.Clone(),
		records:      make(map[core.Address]HarvestRecord),
		vaults:       make(map[core.Address]struct{}),
		rateReceiver: rateReceiver,
		journal:      journal,
	}
	if snap != nil {
		k.current = snap.Current
		k.previous = snap.Previous
		for vault, record := range snap.Records {
			k.records[vault] = record
		}
	}
	return k, nil
}

// AddVault grants harvest capability to the vault.
func (k *Keeper) AddVault(vault core.Address) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.vaults[vault] = struct{}{}
}

// CurrentRoot returns the current root generation.
func (k *Keeper) CurrentRoot() RewardsRoot {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current
}

// PreviousRoot returns the previous root generation.
func (k *Keeper) PreviousRoot() RewardsRoot {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.previous
}

// HarvestRecordOf returns the stored record for the vault.
func (k *Keeper) HarvestRecordOf(vault core.Address) HarvestRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.recordOf(vault)
}

// IsCollateralized reports whether the vault has ever successfully harvested.
func (k *Keeper) IsCollateralized(vault core.Address) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.recordOf(vault).Nonce > 0
}

func (k *Keeper) recordOf(vault core.Address) HarvestRecord {
	if record, ok := k.records[vault]; ok {
		return record
	}
	return emptyHarvestRecord()
}

// UpdateRewards installs a new rewards root under quorum attestation.
// The old current root becomes the previous generation; exactly one
// generation of history is retained.
func (k *Keeper) UpdateRewards(update RootUpdate, signatures []byte) error {
	if update.Root.IsZero() {
		return errors.Wrap(ErrInvalidRoot, "zero root")
	}
	if update.AvgRewardPerSecond == nil {
		return errors.Wrap(ErrInvalidRate, "missing rate")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if update.Root == k.current.Root || update.Root == k.previous.Root {
		return errors.Wrap(ErrInvalidRoot, "root already installed")
	}
	if !k.current.IsZero() && update.UpdateTimestamp < k.current.UpdateTimestamp+k.updateDelay {
		return ErrTooEarly
	}
	if update.AvgRewardPerSecond.Gt(k.maxAvgRate) {
		return ErrInvalidRate
	}

	nonce := k.current.Nonce + 1
	digest := UpdateDigest(update, nonce)
	if err := attest.Verify(digest, signatures, k.minSigners, k.signers); err != nil {
		return err
	}

	installed := RewardsRoot{
		Root:               update.Root,
		IpfsRef:            update.IpfsRef,
		AvgRewardPerSecond: update.AvgRewardPerSecond.Clone(),
		UpdateTimestamp:    update.UpdateTimestamp,
		Nonce:              nonce,
	}
	if k.journal != nil {
		if err := k.journal.SaveRoots(installed, k.current); err != nil {
			return errors.Wrap(err, "persist rewards root")
		}
	}
	k.previous = k.current
	k.current = installed

	if k.rateReceiver != nil {
		k.rateReceiver.SetAvgRewardPerSecond(update.AvgRewardPerSecond)
	}
	metricRootUpdates().Add(1)
	logger.Info("rewards root updated",
		"root", update.Root.AbbrevString(),
		"nonce", nonce,
		"timestamp", update.UpdateTimestamp,
	)
	return nil
}

// Harvest verifies a vault's reported cumulative reward and side income
// against the two most recent root generations and returns the deltas since
// the vault's last harvest.
//
// The leaf always encodes cumulative totals, never per-period increments, so
// a vault that skipped one root generation still catches up in a single call.
// Harvesting against an already-applied root is a safe no-op.
func (k *Keeper) Harvest(vault core.Address, params HarvestParams) (HarvestResult, error) {
	if params.Reward == nil || params.SideIncome == nil {
		return HarvestResult{}, errors.Wrap(ErrOutOfBounds, "missing reported values")
	}
	if params.Reward.BitLen() >= rewardBits {
		return HarvestResult{}, errors.Wrap(ErrOutOfBounds, "reward exceeds 192 bits")
	}
	if params.SideIncome.BitLen() > sideIncomeBits {
		return HarvestResult{}, errors.Wrap(ErrOutOfBounds, "side income exceeds 192 bits")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.vaults[vault]; !ok {
		return HarvestResult{}, ErrAccessDenied
	}
	if k.current.IsZero() {
		return HarvestResult{}, errors.Wrap(ErrInvalidRoot, "no rewards root installed")
	}

	leaf := HarvestLeaf(vault, params.Reward, params.SideIncome)

	var nonce uint64
	switch {
	case merkle.Verify(k.current.Root, leaf, params.Proof):
		nonce = k.current.Nonce
	case !k.previous.IsZero() && merkle.Verify(k.previous.Root, leaf, params.Proof):
		nonce = k.previous.Nonce
	default:
		return HarvestResult{}, ErrInvalidProof
	}

	record := k.recordOf(vault)
	if nonce <= record.Nonce {
		// already harvested at this generation or later
		return zeroHarvestResult(), nil
	}

	rewardDelta := new(big.Int).Sub(params.Reward, record.Reward)
	if params.SideIncome.Lt(record.SideIncome) {
		return HarvestResult{}, errors.Wrap(ErrOutOfBounds, "side income decreased")
	}
	sideIncomeDelta := new(uint256.Int).Sub(params.SideIncome, record.SideIncome)

	updated := HarvestRecord{
		Reward:     new(big.Int).Set(params.Reward),
		SideIncome: params.SideIncome.Clone(),
		Nonce:      nonce,
	}
	if k.journal != nil {
		if err := k.journal.SaveHarvestRecord(vault, updated); err != nil {
			return HarvestResult{}, errors.Wrap(err, "persist harvest record")
		}
	}
	k.records[vault] = updated

	labels := map[string]string{"vault": vault.String()}
	metricHarvests().AddWithLabel(1, labels)
	metricRootNonceLag().SetWithLabel(int64(k.current.Nonce-nonce), labels)

	logger.Debug("harvested",
		"vault", vault,
		"nonce", nonce,
		"rewardDelta", rewardDelta,
		"sideIncomeDelta", sideIncomeDelta.Dec(),
	)
	return HarvestResult{RewardDelta: rewardDelta, SideIncomeDelta: sideIncomeDelta}, nil
}
