// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vault

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/keeper"
	"github.com/stakewise/v3-core-sub003/test/datagen"
	"github.com/stakewise/v3-core-sub003/vault/exitqueue"
	"github.com/stakewise/v3-core-sub003/vault/units"
)

const testClaimDelay = 86400

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// stubKeeper scripts harvest results in call order.
type stubKeeper struct {
	results        []keeper.HarvestResult
	err            error
	collateralized bool
}

func (s *stubKeeper) Harvest(_ core.Address, _ keeper.HarvestParams) (keeper.HarvestResult, error) {
	if s.err != nil {
		return keeper.HarvestResult{}, s.err
	}
	if len(s.results) == 0 {
		return keeper.HarvestResult{RewardDelta: new(big.Int), SideIncomeDelta: new(uint256.Int)}, nil
	}
	res := s.results[0]
	s.results = s.results[1:]
	s.collateralized = true
	return res, nil
}

func (s *stubKeeper) IsCollateralized(core.Address) bool { return s.collateralized }

type stubEscrow struct {
	held *uint256.Int
}

func (s *stubEscrow) Release(max *uint256.Int) (*uint256.Int, error) {
	moved := units.Min(s.held, max)
	s.held = new(uint256.Int).Sub(s.held, moved)
	return moved, nil
}

// stubJournal accepts staged writes and can be switched to fail the whole
// update, the way a store does when its backing db is gone.
type stubJournal struct {
	fail    bool
	updates int
}

func (s *stubJournal) Update(_ core.Address, fn func(w JournalWriter) error) error {
	if s.fail {
		return errors.New("journal unavailable")
	}
	if err := fn(discardWriter{}); err != nil {
		return err
	}
	s.updates++
	return nil
}

type discardWriter struct{}

func (discardWriter) PutLedger(LedgerState) error                      { return nil }
func (discardWriter) PutBalance(core.Address, *uint256.Int) error      { return nil }
func (discardWriter) PutCheckpoint(uint64, exitqueue.Checkpoint) error { return nil }
func (discardWriter) PutTicket(TicketRecord) error                     { return nil }
func (discardWriter) DeleteTicket(*uint256.Int) error                  { return nil }

func harvested(reward int64, sideIncome uint64) keeper.HarvestResult {
	return keeper.HarvestResult{RewardDelta: big.NewInt(reward), SideIncomeDelta: u(sideIncome)}
}

func testConfig() Config {
	return Config{
		ID:           datagen.RandAddress(),
		FeePercent:   1000, // 10%
		FeeRecipient: datagen.RandAddress(),
		ClaimDelay:   testClaimDelay,
	}
}

func newTestVault(t *testing.T, stub *stubKeeper) *Vault {
	v, err := New(testConfig(), stub, nil, nil, nil)
	require.NoError(t, err)
	return v
}

// restoreLedger builds a vault in a hand-picked state, skipping the security
// deposit so totals match the scenario exactly.
func restoreLedger(t *testing.T, stub *stubKeeper, mev MevEscrow, totalShares, totalAssets, liquid uint64, holder core.Address) *Vault {
	v, err := Restore(testConfig(), stub, mev, nil, nil, &Snapshot{
		Ledger: LedgerState{
			TotalShares:     u(totalShares),
			TotalAssets:     u(totalAssets),
			Liquid:          u(liquid),
			QueuedShares:    new(uint256.Int),
			TotalTickets:    new(uint256.Int),
			UnclaimedAssets: new(uint256.Int),
		},
		Balances: map[core.Address]*uint256.Int{holder: u(totalShares)},
	})
	require.NoError(t, err)
	return v
}

func TestNewMintsSecurityDeposit(t *testing.T) {
	v := newTestVault(t, &stubKeeper{})

	assert.Equal(t, u(securityDeposit), v.TotalShares())
	assert.Equal(t, u(securityDeposit), v.TotalAssets())
	assert.Equal(t, u(securityDeposit), v.BalanceOf(burnAddress))
	assert.Equal(t, units.Wad, v.ExchangeRate())
	assert.False(t, v.IsCollateralized())
}

func TestNewInvalidFee(t *testing.T) {
	cfg := testConfig()
	cfg.FeePercent = maxFeePercent + 1
	_, err := New(cfg, &stubKeeper{}, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidFee)
}

func TestDeposit(t *testing.T) {
	v := newTestVault(t, &stubKeeper{})
	receiver := datagen.RandAddress()

	shares, err := v.Deposit(receiver, u(1000), 1)
	require.NoError(t, err)
	assert.Equal(t, u(1000), shares) // 1:1 at par
	assert.Equal(t, u(1000), v.BalanceOf(receiver))
	assert.Equal(t, u(securityDeposit+1000), v.TotalShares())
	assert.Equal(t, u(securityDeposit+1000), v.TotalAssets())

	_, err = v.Deposit(receiver, new(uint256.Int), 1)
	assert.ErrorIs(t, err, ErrInvalidAssets)
	_, err = v.Deposit(receiver, nil, 1)
	assert.ErrorIs(t, err, ErrInvalidAssets)
}

func TestDepositZeroShareMint(t *testing.T) {
	holder := datagen.RandAddress()
	// 1 share backed by 1000 assets: a 500-asset deposit mints 0 shares
	v := restoreLedger(t, &stubKeeper{}, nil, 1, 1000, 1000, holder)

	_, err := v.Deposit(holder, u(500), 1)
	assert.ErrorIs(t, err, ErrInvalidAssets)
}

func TestEnterExitQueue(t *testing.T) {
	v := newTestVault(t, &stubKeeper{})
	owner := datagen.RandAddress()
	_, err := v.Deposit(owner, u(1000), 1)
	require.NoError(t, err)

	_, err = v.EnterExitQueue(owner, u(2000), 2)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = v.EnterExitQueue(owner, new(uint256.Int), 2)
	assert.ErrorIs(t, err, exitqueue.ErrInvalidShares)

	ticket, err := v.EnterExitQueue(owner, u(400), 2)
	require.NoError(t, err)
	assert.Equal(t, u(600), v.BalanceOf(owner))
	// escrowed shares stay in the supply until burned
	assert.Equal(t, u(securityDeposit+1000), v.TotalShares())
	assert.Equal(t, u(400), v.QueuedShares())

	rec, ok := v.TicketOf(ticket.Offset)
	require.True(t, ok)
	assert.Equal(t, owner, rec.Owner)
	assert.Equal(t, u(400), rec.Ticket.Shares)
}

// The full cycle on an appreciated vault: +100 reward at 10% fee mints 9 fee
// shares at the post-delta rate, 300 of liquidity burns 275 queued shares
// for 299 assets, and settlement pays the covered prefix.
func TestHarvestAndSettleCycle(t *testing.T) {
	holder := datagen.RandAddress()
	stub := &stubKeeper{results: []keeper.HarvestResult{harvested(100, 0)}}
	v := restoreLedger(t, stub, nil, 1000, 1000, 300, holder)

	outcome, err := v.HarvestAndSettle(&keeper.HarvestParams{}, 1000)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), outcome.RewardDelta)
	assert.Equal(t, u(9), outcome.FeeShares) // 10 fee assets * 1000/1100
	assert.Equal(t, u(1009), v.TotalShares())
	assert.Equal(t, u(1100), v.TotalAssets())
	assert.Equal(t, u(9), v.BalanceOf(v.cfg.FeeRecipient))
	assert.True(t, v.IsCollateralized())

	ticket, err := v.EnterExitQueue(holder, u(500), 1000)
	require.NoError(t, err)
	assert.True(t, ticket.Offset.IsZero())

	// no new proof: the queue still advances with the 300 liquid assets
	outcome, err = v.HarvestAndSettle(nil, 1001)
	require.NoError(t, err)
	assert.Equal(t, u(275), outcome.SharesBurned)   // 300*1009/1100
	assert.Equal(t, u(299), outcome.AssetsReleased) // 275*1100/1009
	assert.Equal(t, u(734), v.TotalShares())
	assert.Equal(t, u(801), v.TotalAssets())
	assert.Equal(t, u(225), v.QueuedShares())
	assert.Equal(t, u(299), v.UnclaimedAssets())

	index, ok := v.GetExitQueueIndex(ticket.Offset)
	require.True(t, ok)
	assert.Zero(t, index)

	_, err = v.SettleExitTicket(holder, ticket.Offset, index, 1000+testClaimDelay-1)
	assert.ErrorIs(t, err, exitqueue.ErrTooEarly)

	settlement, err := v.SettleExitTicket(holder, ticket.Offset, index, 1000+testClaimDelay)
	require.NoError(t, err)
	assert.Equal(t, u(275), settlement.ExitedShares)
	assert.Equal(t, u(299), settlement.ExitedAssets)
	require.NotNil(t, settlement.Remaining)
	assert.Equal(t, u(275), settlement.Remaining.Offset)
	assert.Equal(t, u(225), settlement.Remaining.Shares)

	// the remainder was re-keyed under its advanced offset
	_, ok = v.TicketOf(ticket.Offset)
	assert.False(t, ok)
	rec, ok := v.TicketOf(u(275))
	require.True(t, ok)
	assert.Equal(t, holder, rec.Owner)
	assert.Equal(t, u(1), v.liquid) // 300 - 299 paid out
}

func TestHarvestNegativeDeltaDilutes(t *testing.T) {
	holder := datagen.RandAddress()
	stub := &stubKeeper{results: []keeper.HarvestResult{harvested(-60, 0)}}
	v := restoreLedger(t, stub, nil, 1000, 1000, 0, holder)

	outcome, err := v.HarvestAndSettle(&keeper.HarvestParams{}, 1)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(-60), outcome.RewardDelta)
	assert.True(t, outcome.FeeShares.IsZero()) // no fee on penalties
	assert.Equal(t, u(1000), v.TotalShares())  // dilution, not burning
	assert.Equal(t, u(940), v.TotalAssets())
}

func TestHarvestFatalArithmetic(t *testing.T) {
	holder := datagen.RandAddress()
	stub := &stubKeeper{results: []keeper.HarvestResult{harvested(-2000, 0)}}
	v := restoreLedger(t, stub, nil, 1000, 1000, 100, holder)
	_, err := v.EnterExitQueue(holder, u(100), 1)
	require.NoError(t, err)

	_, err = v.HarvestAndSettle(&keeper.HarvestParams{}, 2)
	require.ErrorIs(t, err, units.ErrArithmetic)

	// the whole cycle aborted: totals, queue and balances untouched
	assert.Equal(t, u(1000), v.TotalShares())
	assert.Equal(t, u(1000), v.TotalAssets())
	assert.Equal(t, u(100), v.QueuedShares())
	assert.True(t, v.UnclaimedAssets().IsZero())
}

func TestHarvestSideIncome(t *testing.T) {
	holder := datagen.RandAddress()
	stub := &stubKeeper{results: []keeper.HarvestResult{harvested(0, 40)}}
	mev := &stubEscrow{held: u(40)}
	v := restoreLedger(t, stub, mev, 1000, 1000, 0, holder)
	_, err := v.EnterExitQueue(holder, u(100), 1)
	require.NoError(t, err)

	outcome, err := v.HarvestAndSettle(&keeper.HarvestParams{}, 2)
	require.NoError(t, err)
	assert.Equal(t, u(40), outcome.SideIncomeDelta)
	assert.True(t, mev.held.IsZero())
	// side income became the only liquidity and advanced the queue
	assert.Equal(t, u(40), outcome.SharesBurned)
	assert.Equal(t, u(40), outcome.AssetsReleased)
	assert.Equal(t, u(960), v.TotalShares())
	assert.Equal(t, u(960), v.TotalAssets())
}

func TestSettleChecks(t *testing.T) {
	v := newTestVault(t, &stubKeeper{})
	owner := datagen.RandAddress()
	_, err := v.Deposit(owner, u(1000), 1)
	require.NoError(t, err)
	ticket, err := v.EnterExitQueue(owner, u(100), 1)
	require.NoError(t, err)
	_, err = v.HarvestAndSettle(nil, 2)
	require.NoError(t, err)

	now := uint64(1 + testClaimDelay)
	_, err = v.SettleExitTicket(owner, u(12345), 0, now)
	assert.ErrorIs(t, err, ErrTicketNotFound)
	_, err = v.SettleExitTicket(datagen.RandAddress(), ticket.Offset, 0, now)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = v.SettleExitTicket(owner, ticket.Offset, 0, now)
	require.NoError(t, err)
}

func TestPreviewSettlement(t *testing.T) {
	v := newTestVault(t, &stubKeeper{})
	owner := datagen.RandAddress()
	_, err := v.Deposit(owner, u(1000), 1)
	require.NoError(t, err)
	ticket, err := v.EnterExitQueue(owner, u(100), 1)
	require.NoError(t, err)

	_, _, err = v.PreviewSettlement(u(999), 1)
	assert.ErrorIs(t, err, ErrTicketNotFound)

	settlement, claimable, err := v.PreviewSettlement(ticket.Offset, 1)
	require.NoError(t, err)
	assert.False(t, claimable)
	assert.True(t, settlement.ExitedShares.IsZero())

	_, err = v.HarvestAndSettle(nil, 2)
	require.NoError(t, err)

	settlement, claimable, err = v.PreviewSettlement(ticket.Offset, 1+testClaimDelay)
	require.NoError(t, err)
	assert.True(t, claimable)
	assert.Equal(t, u(100), settlement.ExitedShares)
	// preview left the queue untouched
	assert.Equal(t, u(100), v.UnclaimedAssets())
}

func TestOnPrincipalMoved(t *testing.T) {
	v := newTestVault(t, &stubKeeper{})

	require.NoError(t, v.OnPrincipalMoved(big.NewInt(-500)))
	require.NoError(t, v.OnPrincipalMoved(big.NewInt(200)))
	// liquid accounting only, the pool is untouched
	assert.Equal(t, u(securityDeposit), v.TotalAssets())
	assert.Equal(t, u(securityDeposit-300), v.liquid)

	err := v.OnPrincipalMoved(new(big.Int).Neg(new(big.Int).SetUint64(securityDeposit * 2)))
	assert.ErrorIs(t, err, units.ErrArithmetic)
}

func TestRestoreRoundTrip(t *testing.T) {
	stub := &stubKeeper{}
	v := newTestVault(t, stub)
	owner := datagen.RandAddress()
	_, err := v.Deposit(owner, u(1000), 1)
	require.NoError(t, err)
	ticket, err := v.EnterExitQueue(owner, u(400), 1)
	require.NoError(t, err)
	_, err = v.HarvestAndSettle(nil, 2)
	require.NoError(t, err)

	snap := &Snapshot{
		Ledger:   v.ledgerState(),
		Balances: map[core.Address]*uint256.Int{owner: v.BalanceOf(owner)},
		Tickets:  []TicketRecord{{Owner: owner, Ticket: ticket}},
	}
	for i := 0; i < v.queue.CheckpointCount(); i++ {
		cp, _ := v.queue.CheckpointAt(i)
		snap.Checkpoints = append(snap.Checkpoints, cp)
	}

	restored, err := Restore(v.cfg, stub, nil, nil, nil, snap)
	require.NoError(t, err)
	assert.Equal(t, v.TotalShares(), restored.TotalShares())
	assert.Equal(t, v.QueuedShares(), restored.QueuedShares())

	settlement, err := restored.SettleExitTicket(owner, ticket.Offset, 0, 1+testClaimDelay)
	require.NoError(t, err)
	assert.Equal(t, u(400), settlement.ExitedShares)
	assert.Nil(t, settlement.Remaining)
}

func TestJournalFailureAbortsOperation(t *testing.T) {
	jrn := &stubJournal{}
	v, err := New(testConfig(), &stubKeeper{}, nil, jrn, nil)
	require.NoError(t, err)
	owner := datagen.RandAddress()
	_, err = v.Deposit(owner, u(1000), 1)
	require.NoError(t, err)

	jrn.fail = true
	_, err = v.Deposit(owner, u(50), 2)
	require.Error(t, err)
	assert.Equal(t, u(1000), v.BalanceOf(owner))
	assert.Equal(t, u(securityDeposit+1000), v.TotalShares())
	assert.Equal(t, u(securityDeposit+1000), v.TotalAssets())

	_, err = v.EnterExitQueue(owner, u(400), 2)
	require.Error(t, err)
	assert.Equal(t, u(1000), v.BalanceOf(owner))
	assert.True(t, v.QueuedShares().IsZero())
	_, ok := v.TicketOf(new(uint256.Int))
	assert.False(t, ok)

	// the journal heals and the same operation goes through
	jrn.fail = false
	ticket, err := v.EnterExitQueue(owner, u(400), 2)
	require.NoError(t, err)
	assert.Equal(t, u(400), ticket.Shares)
	assert.Equal(t, u(400), v.QueuedShares())
}

func TestJournalFailureDuringHarvest(t *testing.T) {
	jrn := &stubJournal{}
	v, err := New(testConfig(), &stubKeeper{}, nil, jrn, nil)
	require.NoError(t, err)
	owner := datagen.RandAddress()
	_, err = v.Deposit(owner, u(1000), 1)
	require.NoError(t, err)
	_, err = v.EnterExitQueue(owner, u(300), 1)
	require.NoError(t, err)

	jrn.fail = true
	_, err = v.HarvestAndSettle(nil, 2)
	require.Error(t, err)
	// the cycle was rolled back whole: no checkpoint, nothing burned
	assert.Equal(t, 0, v.queue.CheckpointCount())
	assert.Equal(t, u(300), v.QueuedShares())
	assert.True(t, v.UnclaimedAssets().IsZero())
	assert.Equal(t, u(securityDeposit+1000), v.TotalShares())

	jrn.fail = false
	outcome, err := v.HarvestAndSettle(nil, 3)
	require.NoError(t, err)
	assert.Equal(t, u(300), outcome.SharesBurned)
	assert.Equal(t, 1, v.queue.CheckpointCount())
	assert.True(t, v.QueuedShares().IsZero())
}

func TestSettleLiquidShortfallKeepsTicketClaimable(t *testing.T) {
	owner := datagen.RandAddress()
	// a burned-out queue owes 300 assets but only 50 are on hand
	v, err := Restore(testConfig(), &stubKeeper{}, nil, nil, nil, &Snapshot{
		Ledger: LedgerState{
			TotalShares:     u(400),
			TotalAssets:     u(400),
			Liquid:          u(50),
			QueuedShares:    new(uint256.Int),
			TotalTickets:    u(300),
			UnclaimedAssets: u(300),
		},
		Balances:    map[core.Address]*uint256.Int{owner: u(400)},
		Checkpoints: []exitqueue.Checkpoint{{SharesBurned: u(300), AssetsReleased: u(300)}},
		Tickets: []TicketRecord{{
			Owner:  owner,
			Ticket: exitqueue.Ticket{Offset: new(uint256.Int), Shares: u(300), RequestedAt: 1},
		}},
	})
	require.NoError(t, err)

	_, err = v.SettleExitTicket(owner, new(uint256.Int), 0, 1+testClaimDelay)
	assert.ErrorIs(t, err, units.ErrArithmetic)
	// the failed settlement changed nothing: the earmark and the ticket survive
	assert.Equal(t, u(300), v.UnclaimedAssets())
	assert.Equal(t, u(50), v.liquid)
	_, ok := v.TicketOf(new(uint256.Int))
	assert.True(t, ok)

	// once the principal is back, the same ticket settles in full
	require.NoError(t, v.OnPrincipalMoved(big.NewInt(250)))
	settlement, err := v.SettleExitTicket(owner, new(uint256.Int), 0, 1+testClaimDelay)
	require.NoError(t, err)
	assert.Equal(t, u(300), settlement.ExitedAssets)
	assert.True(t, v.liquid.IsZero())
	assert.True(t, v.UnclaimedAssets().IsZero())
}

func TestPrincipalMoveBelowUnclaimedFloor(t *testing.T) {
	v := newTestVault(t, &stubKeeper{})
	owner := datagen.RandAddress()
	_, err := v.Deposit(owner, u(1000), 1)
	require.NoError(t, err)
	_, err = v.EnterExitQueue(owner, u(300), 1)
	require.NoError(t, err)
	_, err = v.HarvestAndSettle(nil, 2)
	require.NoError(t, err)
	require.Equal(t, u(300), v.UnclaimedAssets())

	liquidBefore := v.liquid.Clone()
	// moving one asset past the earmarked floor is refused
	delta := new(big.Int).Neg(new(big.Int).SetUint64(securityDeposit + 701))
	err = v.OnPrincipalMoved(delta)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, liquidBefore, v.liquid)

	// down to the floor exactly is fine
	delta = new(big.Int).Neg(new(big.Int).SetUint64(securityDeposit + 700))
	require.NoError(t, v.OnPrincipalMoved(delta))
	assert.Equal(t, u(300), v.liquid)
}
