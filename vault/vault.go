// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package vault implements the accounting ledger of a pooled staking vault.
//
// A Vault tracks the share supply against the asset pool, issues shares on
// deposit, escrows shares queued for exit and orchestrates the periodic
// harvest-and-settle cycle against the keeper. All operations on one vault
// are serialized by a single mutex: a queue entry accepted mid-harvest sees
// either the pre-harvest or the fully applied post-harvest exchange rate,
// never a half-applied one.
package vault

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/keeper"
	"github.com/stakewise/v3-core-sub003/log"
	"github.com/stakewise/v3-core-sub003/metrics"
	"github.com/stakewise/v3-core-sub003/vault/exitqueue"
	"github.com/stakewise/v3-core-sub003/vault/units"
)

var (
	logger = log.WithContext("pkg", "vault")

	metricDeposits        = metrics.LazyLoadCounterVec("vault_deposits", []string{"vault"})
	metricSettlements     = metrics.LazyLoadCounterVec("vault_settlements", []string{"vault"})
	metricQueuedShares    = metrics.LazyLoadGaugeVec("vault_queued_shares", []string{"vault"})
	metricUnclaimedAssets = metrics.LazyLoadGaugeVec("vault_unclaimed_assets", []string{"vault"})
	metricCheckpoints     = metrics.LazyLoadGaugeVec("vault_checkpoints", []string{"vault"})
)

var (
	// ErrInvalidFee rejects a fee above 100%.
	ErrInvalidFee = errors.New("invalid fee")
	// ErrInvalidAssets rejects a deposit that would mint zero shares.
	ErrInvalidAssets = errors.New("invalid assets")
	// ErrInsufficientBalance rejects a queue entry exceeding the owner's shares.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrTicketNotFound rejects a settlement of an unknown ticket.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrAccessDenied rejects a settlement by anyone but the ticket owner.
	ErrAccessDenied = errors.New("access denied")
)

const (
	// maxFeePercent is the fee denominator, in basis points.
	maxFeePercent = 10_000

	// securityDeposit is minted to the burn address when a vault is created,
	// so the pool is never empty and the first depositor cannot inflate the
	// share price against later ones.
	securityDeposit = 1_000_000_000
)

// burnAddress holds the security deposit shares forever.
var burnAddress = core.MustParseAddress("0x000000000000000000000000000000000000dead")

// Harvester is the slice of the keeper a vault consumes.
type Harvester interface {
	Harvest(vault core.Address, params keeper.HarvestParams) (keeper.HarvestResult, error)
	IsCollateralized(vault core.Address) bool
}

// MevEscrow releases accumulated side income to the vault during a harvest.
// Release transfers at most max assets and returns the amount moved.
type MevEscrow interface {
	Release(max *uint256.Int) (*uint256.Int, error)
}

// Journal persists vault state transitions. Update writes everything staged
// by fn as one atomic unit; either all of it becomes durable or none does.
// The vault journals before touching its in-memory state, so a failed update
// rejects the operation with memory and disk both unchanged.
type Journal interface {
	Update(vault core.Address, fn func(w JournalWriter) error) error
}

// JournalWriter stages the writes of a single state transition.
type JournalWriter interface {
	PutLedger(ledger LedgerState) error
	PutBalance(account core.Address, shares *uint256.Int) error
	PutCheckpoint(index uint64, cp exitqueue.Checkpoint) error
	PutTicket(rec TicketRecord) error
	DeleteTicket(offset *uint256.Int) error
}

// LedgerState is the vault's persisted counters.
type LedgerState struct {
	TotalShares     *uint256.Int
	TotalAssets     *uint256.Int
	Liquid          *uint256.Int
	QueuedShares    *uint256.Int
	TotalTickets    *uint256.Int
	UnclaimedAssets *uint256.Int
}

// TicketRecord is a stored exit ticket together with its owner. Tickets are
// addressed by their queue offset.
type TicketRecord struct {
	Owner  core.Address
	Ticket exitqueue.Ticket
}

// Config holds the static parameters of a vault.
type Config struct {
	ID           core.Address
	FeePercent   uint16 // basis points of positive reward deltas
	FeeRecipient core.Address
	ClaimDelay   uint64 // seconds between queue entry and settlement
}

// Snapshot is the persisted vault state reloaded at startup.
type Snapshot struct {
	Ledger      LedgerState
	Balances    map[core.Address]*uint256.Int
	Checkpoints []exitqueue.Checkpoint
	Tickets     []TicketRecord
}

// Vault is the accounting ledger of one pooled staking vault.
type Vault struct {
	mu sync.Mutex

	cfg    Config
	keeper Harvester
	mev    MevEscrow
	jrn    Journal
	events EventSink

	totalShares *uint256.Int
	totalAssets *uint256.Int
	liquid      *uint256.Int // assets held, including those earmarked as unclaimed

	balances map[core.Address]*uint256.Int
	tickets  map[core.Bytes32]TicketRecord // keyed by offset word
	queue    *exitqueue.Queue
}

// New creates a vault and mints the security deposit. The mev escrow, journal
// and event sink are optional.
func New(cfg Config, harvester Harvester, mev MevEscrow, jrn Journal, events EventSink) (*Vault, error) {
	if cfg.FeePercent > maxFeePercent {
		return nil, errors.Wrapf(ErrInvalidFee, "%d bps", cfg.FeePercent)
	}
	if harvester == nil {
		return nil, errors.New("harvester required")
	}

	deposit := uint256.NewInt(securityDeposit)
	v := &Vault{
		cfg:         cfg,
		keeper:      harvester,
		mev:         mev,
		jrn:         jrn,
		events:      events,
		totalShares: deposit.Clone(),
		totalAssets: deposit.Clone(),
		liquid:      deposit.Clone(),
		balances:    map[core.Address]*uint256.Int{burnAddress: deposit.Clone()},
		tickets:     make(map[core.Bytes32]TicketRecord),
		queue:       exitqueue.New(cfg.ClaimDelay),
	}
	if jrn != nil {
		err := jrn.Update(cfg.ID, func(w JournalWriter) error {
			if err := w.PutLedger(v.ledgerState()); err != nil {
				return err
			}
			return w.PutBalance(burnAddress, deposit)
		})
		if err != nil {
			return nil, errors.Wrap(err, "journal")
		}
	}
	logger.Info("vault created", "id", cfg.ID, "fee", cfg.FeePercent)
	return v, nil
}

// Restore rebuilds a vault from a snapshot. No security deposit is minted;
// the snapshot already contains it.
func Restore(cfg Config, harvester Harvester, mev MevEscrow, jrn Journal, events EventSink, snap *Snapshot) (*Vault, error) {
	if cfg.FeePercent > maxFeePercent {
		return nil, errors.Wrapf(ErrInvalidFee, "%d bps", cfg.FeePercent)
	}
	if harvester == nil {
		return nil, errors.New("harvester required")
	}

	balances := make(map[core.Address]*uint256.Int, len(snap.Balances))
	for account, shares := range snap.Balances {
		balances[account] = shares.Clone()
	}
	tickets := make(map[core.Bytes32]TicketRecord, len(snap.Tickets))
	for _, rec := range snap.Tickets {
		tickets[ticketKey(rec.Ticket.Offset)] = rec
	}
	return &Vault{
		cfg:         cfg,
		keeper:      harvester,
		mev:         mev,
		jrn:         jrn,
		events:      events,
		totalShares: snap.Ledger.TotalShares.Clone(),
		totalAssets: snap.Ledger.TotalAssets.Clone(),
		liquid:      snap.Ledger.Liquid.Clone(),
		balances:    balances,
		tickets:     tickets,
		queue: exitqueue.Restore(cfg.ClaimDelay, exitqueue.State{
			QueuedShares:    snap.Ledger.QueuedShares,
			TotalTickets:    snap.Ledger.TotalTickets,
			UnclaimedAssets: snap.Ledger.UnclaimedAssets,
		}, snap.Checkpoints),
	}, nil
}

func ticketKey(offset *uint256.Int) core.Bytes32 {
	return core.Bytes32(offset.Bytes32())
}

// ID returns the vault's identity.
func (v *Vault) ID() core.Address { return v.cfg.ID }

// TotalShares returns the share supply, escrowed queue entries included.
func (v *Vault) TotalShares() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalShares.Clone()
}

// TotalAssets returns the assets backing the share supply.
func (v *Vault) TotalAssets() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAssets.Clone()
}

// BalanceOf returns the shares held by an account, excluding any escrowed
// in the exit queue.
func (v *Vault) BalanceOf(account core.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if shares, ok := v.balances[account]; ok {
		return shares.Clone()
	}
	return new(uint256.Int)
}

// ExchangeRate returns totalAssets per share, scaled by 1e18.
func (v *Vault) ExchangeRate() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return units.Rate(v.totalShares, v.totalAssets)
}

// QueuedShares returns the shares awaiting a checkpoint.
func (v *Vault) QueuedShares() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queue.QueuedShares()
}

// UnclaimedAssets returns assets earmarked for settled-but-unclaimed exits.
func (v *Vault) UnclaimedAssets() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queue.UnclaimedAssets()
}

// IsCollateralized reports whether the vault has ever harvested.
func (v *Vault) IsCollateralized() bool {
	return v.keeper.IsCollateralized(v.cfg.ID)
}

// Deposit mints shares for assets at the current exchange rate, rounded
// down. A deposit too small to mint a single share is rejected.
func (v *Vault) Deposit(receiver core.Address, assets *uint256.Int, now uint64) (*uint256.Int, error) {
	if assets == nil || assets.IsZero() {
		return nil, ErrInvalidAssets
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	shares, err := units.ToShares(assets, v.totalShares, v.totalAssets)
	if err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, errors.Wrap(ErrInvalidAssets, "zero shares minted")
	}
	newTotalShares, err := units.Add(v.totalShares, shares)
	if err != nil {
		return nil, err
	}
	newTotalAssets, err := units.Add(v.totalAssets, assets)
	if err != nil {
		return nil, err
	}
	newLiquid, err := units.Add(v.liquid, assets)
	if err != nil {
		return nil, err
	}
	newBalance, err := units.Add(v.balanceOf(receiver), shares)
	if err != nil {
		return nil, err
	}

	if v.jrn != nil {
		err := v.jrn.Update(v.cfg.ID, func(w JournalWriter) error {
			if err := w.PutLedger(v.stagedLedger(newTotalShares, newTotalAssets, newLiquid, v.queue)); err != nil {
				return err
			}
			return w.PutBalance(receiver, newBalance)
		})
		if err != nil {
			return nil, errors.Wrap(err, "journal")
		}
	}

	v.totalShares = newTotalShares
	v.totalAssets = newTotalAssets
	v.liquid = newLiquid
	v.balances[receiver] = newBalance

	metricDeposits().AddWithLabel(1, map[string]string{"vault": v.cfg.ID.String()})
	v.emit(Event{Type: EventDeposit, Vault: v.cfg.ID, Account: receiver, Assets: assets.Clone(), Shares: shares.Clone(), Timestamp: now})
	logger.Debug("deposit", "vault", v.cfg.ID, "receiver", receiver, "assets", assets, "shares", shares)
	return shares, nil
}

// EnterExitQueue escrows the owner's shares and returns an exit ticket. The
// shares stay in the total supply until a checkpoint burns them; only the
// queue tracks that they are earmarked for exit.
func (v *Vault) EnterExitQueue(owner core.Address, shares *uint256.Int, now uint64) (exitqueue.Ticket, error) {
	if shares == nil || shares.IsZero() {
		return exitqueue.Ticket{}, exitqueue.ErrInvalidShares
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	balance := v.balanceOf(owner)
	if balance.Lt(shares) {
		return exitqueue.Ticket{}, errors.Wrapf(ErrInsufficientBalance, "have %s, queueing %s", balance, shares)
	}
	queue := v.queue.Clone()
	ticket, err := queue.Enter(shares, now)
	if err != nil {
		return exitqueue.Ticket{}, err
	}
	newBalance := new(uint256.Int).Sub(balance, shares)
	rec := TicketRecord{Owner: owner, Ticket: ticket}

	if v.jrn != nil {
		err := v.jrn.Update(v.cfg.ID, func(w JournalWriter) error {
			if err := w.PutLedger(v.stagedLedger(v.totalShares, v.totalAssets, v.liquid, queue)); err != nil {
				return err
			}
			if err := w.PutBalance(owner, newBalance); err != nil {
				return err
			}
			return w.PutTicket(rec)
		})
		if err != nil {
			return exitqueue.Ticket{}, errors.Wrap(err, "journal")
		}
	}

	v.queue = queue
	v.balances[owner] = newBalance
	v.tickets[ticketKey(ticket.Offset)] = rec

	metricQueuedShares().SetWithLabel(gaugeValue(v.queue.QueuedShares()), map[string]string{"vault": v.cfg.ID.String()})
	v.emit(Event{Type: EventExitQueueEntered, Vault: v.cfg.ID, Account: owner, Shares: shares.Clone(), Offset: ticket.Offset.Clone(), Timestamp: now})
	logger.Debug("exit queue entered", "vault", v.cfg.ID, "owner", owner, "shares", shares, "offset", ticket.Offset)
	return ticket, nil
}

// OnPrincipalMoved is the validator-registry callback for principal moving
// between the vault and validators. It adjusts the liquid balance only; the
// principal never leaves totalAssets.
func (v *Vault) OnPrincipalMoved(delta *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	amount, overflow := uint256.FromBig(new(big.Int).Abs(delta))
	if overflow {
		return errors.Wrap(units.ErrArithmetic, "principal delta")
	}
	var (
		newLiquid *uint256.Int
		err       error
	)
	if delta.Sign() < 0 {
		newLiquid, err = units.Sub(v.liquid, amount)
	} else {
		newLiquid, err = units.Add(v.liquid, amount)
	}
	if err != nil {
		return err
	}
	// assets earmarked for settled exits may never leave for validators
	if unclaimed := v.queue.UnclaimedAssets(); newLiquid.Lt(unclaimed) {
		return errors.Wrapf(ErrInsufficientBalance, "liquid %s below unclaimed %s", newLiquid, unclaimed)
	}
	if v.jrn != nil {
		err := v.jrn.Update(v.cfg.ID, func(w JournalWriter) error {
			return w.PutLedger(v.stagedLedger(v.totalShares, v.totalAssets, newLiquid, v.queue))
		})
		if err != nil {
			return errors.Wrap(err, "journal")
		}
	}
	v.liquid = newLiquid
	logger.Debug("principal moved", "vault", v.cfg.ID, "delta", delta)
	return nil
}

func (v *Vault) balanceOf(account core.Address) *uint256.Int {
	if shares, ok := v.balances[account]; ok {
		return shares
	}
	return new(uint256.Int)
}

func (v *Vault) ledgerState() LedgerState {
	return v.stagedLedger(v.totalShares, v.totalAssets, v.liquid, v.queue)
}

// stagedLedger assembles the ledger record of a transition that is journaled
// but not yet committed, from the staged totals and queue.
func (v *Vault) stagedLedger(totalShares, totalAssets, liquid *uint256.Int, queue *exitqueue.Queue) LedgerState {
	return LedgerState{
		TotalShares:     totalShares.Clone(),
		TotalAssets:     totalAssets.Clone(),
		Liquid:          liquid.Clone(),
		QueuedShares:    queue.QueuedShares(),
		TotalTickets:    queue.TotalTickets(),
		UnclaimedAssets: queue.UnclaimedAssets(),
	}
}

func (v *Vault) emit(ev Event) {
	if v.events != nil {
		v.events.Record(ev)
	}
}

func gaugeValue(v *uint256.Int) int64 {
	if !v.IsUint64() {
		return int64(^uint64(0) >> 1)
	}
	u := v.Uint64()
	if u > uint64(^uint64(0)>>1) {
		return int64(^uint64(0) >> 1)
	}
	return int64(u)
}
