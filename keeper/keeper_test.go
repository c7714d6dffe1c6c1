// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package keeper

import (
	"bytes"
	"crypto/ecdsa"
	"math/big"
	"sort"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakewise/v3-core-sub003/attest"
	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/cry"
	"github.com/stakewise/v3-core-sub003/merkle"
	"github.com/stakewise/v3-core-sub003/test/datagen"
)

type rateSink struct {
	rates []*uint256.Int
}

func (r *rateSink) SetAvgRewardPerSecond(rate *uint256.Int) {
	r.rates = append(r.rates, rate.Clone())
}

type fixture struct {
	keeper *Keeper
	keys   []*ecdsa.PrivateKey // sorted by signer address
	sink   *rateSink
	vault  core.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	keys := make([]*ecdsa.PrivateKey, 0, 4)
	for i := 0; i < 4; i++ {
		key, err := cry.GenerateKey()
		require.NoError(t, err)
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a := cry.PubkeyToAddress(keys[i].PublicKey)
		b := cry.PubkeyToAddress(keys[j].PublicKey)
		return bytes.Compare(a[:], b[:]) < 0
	})

	signers := make([]core.Address, len(keys))
	for i, key := range keys {
		signers[i] = cry.PubkeyToAddress(key.PublicKey)
	}

	sink := &rateSink{}
	k, err := New(Config{
		Signers:               signers,
		MinSigners:            3,
		UpdateDelay:           3600,
		MaxAvgRewardPerSecond: uint256.NewInt(1e9),
	}, sink, nil, nil)
	require.NoError(t, err)

	vault := datagen.RandAddress()
	k.AddVault(vault)

	return &fixture{keeper: k, keys: keys, sink: sink, vault: vault}
}

func (f *fixture) sign(t *testing.T, update RootUpdate, nonce uint64, keys []*ecdsa.PrivateKey) []byte {
	t.Helper()
	digest := UpdateDigest(update, nonce)
	var packed []byte
	for _, key := range keys {
		sig, err := cry.Sign(digest, key)
		require.NoError(t, err)
		packed = append(packed, sig...)
	}
	return packed
}

// installRoot builds a tree over the given reports and installs it.
func (f *fixture) installRoot(t *testing.T, timestamp uint64, reports map[core.Address]HarvestParams) *merkle.Tree {
	t.Helper()

	vaults := make([]core.Address, 0, len(reports))
	for vault := range reports {
		vaults = append(vaults, vault)
	}
	sort.Slice(vaults, func(i, j int) bool {
		return bytes.Compare(vaults[i][:], vaults[j][:]) < 0
	})

	leaves := make([]core.Bytes32, len(vaults))
	for i, vault := range vaults {
		report := reports[vault]
		leaves[i] = HarvestLeaf(vault, report.Reward, report.SideIncome)
	}
	tree, err := merkle.NewTree(leaves)
	require.NoError(t, err)

	update := RootUpdate{
		Root:               tree.Root(),
		IpfsRef:            "bafytestref",
		AvgRewardPerSecond: uint256.NewInt(1000),
		UpdateTimestamp:    timestamp,
	}
	nonce := f.keeper.CurrentRoot().Nonce + 1
	sigs := f.sign(t, update, nonce, f.keys[:3])
	require.NoError(t, f.keeper.UpdateRewards(update, sigs))

	// attach proofs
	for i, vault := range vaults {
		report := reports[vault]
		proof, err := tree.Prove(i)
		require.NoError(t, err)
		report.Proof = proof
		reports[vault] = report
	}
	return tree
}

func report(reward int64, sideIncome uint64) HarvestParams {
	return HarvestParams{Reward: big.NewInt(reward), SideIncome: uint256.NewInt(sideIncome)}
}

func TestUpdateRewards(t *testing.T) {
	f := newFixture(t)

	update := RootUpdate{
		Root:               datagen.RandBytes32(),
		IpfsRef:            "bafyroot1",
		AvgRewardPerSecond: uint256.NewInt(500),
		UpdateTimestamp:    1000,
	}
	sigs := f.sign(t, update, 1, f.keys[:3])
	require.NoError(t, f.keeper.UpdateRewards(update, sigs))

	current := f.keeper.CurrentRoot()
	assert.Equal(t, update.Root, current.Root)
	assert.Equal(t, uint64(1), current.Nonce)
	previous := f.keeper.PreviousRoot()
	assert.True(t, previous.IsZero())
	require.Len(t, f.sink.rates, 1)
	assert.Equal(t, uint256.NewInt(500), f.sink.rates[0])
}

func TestUpdateRewardsShiftsGenerations(t *testing.T) {
	f := newFixture(t)

	first := RootUpdate{
		Root:               datagen.RandBytes32(),
		AvgRewardPerSecond: uint256.NewInt(1),
		UpdateTimestamp:    1000,
	}
	require.NoError(t, f.keeper.UpdateRewards(first, f.sign(t, first, 1, f.keys[:3])))

	second := RootUpdate{
		Root:               datagen.RandBytes32(),
		AvgRewardPerSecond: uint256.NewInt(2),
		UpdateTimestamp:    1000 + 3600,
	}
	require.NoError(t, f.keeper.UpdateRewards(second, f.sign(t, second, 2, f.keys[:3])))

	assert.Equal(t, second.Root, f.keeper.CurrentRoot().Root)
	assert.Equal(t, first.Root, f.keeper.PreviousRoot().Root)
	assert.Equal(t, uint64(2), f.keeper.CurrentRoot().Nonce)
}

func TestUpdateRewardsTooEarly(t *testing.T) {
	f := newFixture(t)

	first := RootUpdate{
		Root:               datagen.RandBytes32(),
		AvgRewardPerSecond: uint256.NewInt(1),
		UpdateTimestamp:    1000,
	}
	require.NoError(t, f.keeper.UpdateRewards(first, f.sign(t, first, 1, f.keys[:3])))

	early := RootUpdate{
		Root:               datagen.RandBytes32(),
		AvgRewardPerSecond: uint256.NewInt(1),
		UpdateTimestamp:    1000 + 3599,
	}
	err := f.keeper.UpdateRewards(early, f.sign(t, early, 2, f.keys[:3]))
	assert.ErrorIs(t, err, ErrTooEarly)
}

func TestUpdateRewardsInvalidRate(t *testing.T) {
	f := newFixture(t)

	update := RootUpdate{
		Root:               datagen.RandBytes32(),
		AvgRewardPerSecond: uint256.NewInt(1e9 + 1),
		UpdateTimestamp:    1000,
	}
	err := f.keeper.UpdateRewards(update, f.sign(t, update, 1, f.keys[:3]))
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestUpdateRewardsRejectsReplay(t *testing.T) {
	f := newFixture(t)

	update := RootUpdate{
		Root:               datagen.RandBytes32(),
		AvgRewardPerSecond: uint256.NewInt(1),
		UpdateTimestamp:    1000,
	}
	require.NoError(t, f.keeper.UpdateRewards(update, f.sign(t, update, 1, f.keys[:3])))

	update.UpdateTimestamp = 1000 + 3600
	err := f.keeper.UpdateRewards(update, f.sign(t, update, 2, f.keys[:3]))
	assert.ErrorIs(t, err, ErrInvalidRoot)
}

func TestUpdateRewardsBadQuorum(t *testing.T) {
	f := newFixture(t)

	update := RootUpdate{
		Root:               datagen.RandBytes32(),
		AvgRewardPerSecond: uint256.NewInt(1),
		UpdateTimestamp:    1000,
	}
	// two signatures, threshold is three
	err := f.keeper.UpdateRewards(update, f.sign(t, update, 1, f.keys[:2]))
	assert.ErrorIs(t, err, attest.ErrInvalidSignature)

	// signed over the wrong nonce
	err = f.keeper.UpdateRewards(update, f.sign(t, update, 2, f.keys[:3]))
	assert.ErrorIs(t, err, attest.ErrInvalidSignature)
}

func TestHarvest(t *testing.T) {
	f := newFixture(t)

	other := datagen.RandAddress()
	reports := map[core.Address]HarvestParams{
		f.vault: report(100, 30),
		other:   report(50, 0),
	}
	f.installRoot(t, 1000, reports)

	res, err := f.keeper.Harvest(f.vault, reports[f.vault])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), res.RewardDelta)
	assert.Equal(t, uint256.NewInt(30), res.SideIncomeDelta)
	assert.True(t, f.keeper.IsCollateralized(f.vault))

	record := f.keeper.HarvestRecordOf(f.vault)
	assert.Equal(t, big.NewInt(100), record.Reward)
	assert.Equal(t, uint64(1), record.Nonce)
}

func TestHarvestIdempotent(t *testing.T) {
	f := newFixture(t)

	reports := map[core.Address]HarvestParams{f.vault: report(100, 30)}
	f.installRoot(t, 1000, reports)

	_, err := f.keeper.Harvest(f.vault, reports[f.vault])
	require.NoError(t, err)
	before := f.keeper.HarvestRecordOf(f.vault)

	// same proof again is a no-op, not an error
	res, err := f.keeper.Harvest(f.vault, reports[f.vault])
	require.NoError(t, err)
	assert.True(t, res.RewardDelta.Sign() == 0)
	assert.True(t, res.SideIncomeDelta.IsZero())
	assert.Equal(t, before, f.keeper.HarvestRecordOf(f.vault))
}

func TestHarvestCatchUpViaPreviousRoot(t *testing.T) {
	f := newFixture(t)

	gen1 := map[core.Address]HarvestParams{f.vault: report(100, 0)}
	f.installRoot(t, 1000, gen1)

	gen2 := map[core.Address]HarvestParams{f.vault: report(250, 0)}
	f.installRoot(t, 1000+3600, gen2)

	// the vault never harvested gen1; a proof against the previous root
	// still credits the full cumulative value
	res, err := f.keeper.Harvest(f.vault, gen1[f.vault])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), res.RewardDelta)

	// then catching up to current credits only the increment
	res, err = f.keeper.Harvest(f.vault, gen2[f.vault])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(150), res.RewardDelta)
}

func TestHarvestStaleAfterTwoGenerations(t *testing.T) {
	f := newFixture(t)

	gen1 := map[core.Address]HarvestParams{f.vault: report(100, 0)}
	f.installRoot(t, 1000, gen1)
	gen2 := map[core.Address]HarvestParams{f.vault: report(200, 0)}
	f.installRoot(t, 1000+3600, gen2)
	gen3 := map[core.Address]HarvestParams{f.vault: report(300, 0)}
	f.installRoot(t, 1000+2*3600, gen3)

	// gen1 fell off the two-generation window
	_, err := f.keeper.Harvest(f.vault, gen1[f.vault])
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestHarvestAppliesPenalty(t *testing.T) {
	f := newFixture(t)

	gen1 := map[core.Address]HarvestParams{f.vault: report(100, 0)}
	f.installRoot(t, 1000, gen1)
	_, err := f.keeper.Harvest(f.vault, gen1[f.vault])
	require.NoError(t, err)

	// cumulative reward decreased: slashing
	gen2 := map[core.Address]HarvestParams{f.vault: report(40, 0)}
	f.installRoot(t, 1000+3600, gen2)

	res, err := f.keeper.Harvest(f.vault, gen2[f.vault])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(-60), res.RewardDelta)
}

func TestHarvestAccessAndRootChecks(t *testing.T) {
	f := newFixture(t)

	// no root installed yet
	_, err := f.keeper.Harvest(f.vault, report(1, 0))
	assert.ErrorIs(t, err, ErrInvalidRoot)

	reports := map[core.Address]HarvestParams{f.vault: report(100, 0)}
	f.installRoot(t, 1000, reports)

	// unregistered vault
	_, err = f.keeper.Harvest(datagen.RandAddress(), reports[f.vault])
	assert.ErrorIs(t, err, ErrAccessDenied)

	// garbage proof
	bad := reports[f.vault]
	bad.Proof = []core.Bytes32{datagen.RandBytes32()}
	_, err = f.keeper.Harvest(f.vault, bad)
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestHarvestBounds(t *testing.T) {
	f := newFixture(t)

	tooBig := new(big.Int).Lsh(big.NewInt(1), 192)
	_, err := f.keeper.Harvest(f.vault, HarvestParams{Reward: tooBig, SideIncome: uint256.NewInt(0)})
	assert.ErrorIs(t, err, ErrOutOfBounds)

	side := new(uint256.Int).Lsh(uint256.NewInt(1), 193)
	_, err = f.keeper.Harvest(f.vault, HarvestParams{Reward: big.NewInt(0), SideIncome: side})
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestSignedWordEncoding(t *testing.T) {
	pos := signedWord(big.NewInt(1))
	assert.Equal(t, uint8(1), pos[31])

	neg := signedWord(big.NewInt(-1))
	for _, b := range neg {
		assert.Equal(t, uint8(0xff), b)
	}
}
