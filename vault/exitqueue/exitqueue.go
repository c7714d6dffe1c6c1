// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package exitqueue implements the FIFO withdrawal ledger.
//
// Queued withdrawal requests become tickets addressed by their offset in the
// share stream. As liquidity arrives, checkpoints record cumulative progress;
// a ticket settles against the checkpoints covering its interval, possibly
// across several calls.
//
// The queue carries no lock of its own: the owning vault serializes every
// call together with its ledger mutations.
package exitqueue

import (
	"sort"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/vault/units"
)

var (
	// ErrTooEarly rejects a settlement before the claim delay elapsed.
	ErrTooEarly = errors.New("too early")
	// ErrInvalidCheckpoint rejects a settlement against a checkpoint that
	// does not cover the ticket's offset.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
	// ErrInvalidShares rejects a zero-share queue entry.
	ErrInvalidShares = errors.New("invalid shares")
)

// checkpointBits bounds the cumulative counters to their wire width.
const checkpointBits = 128

// Checkpoint records cumulative queue progress. Both fields are monotone
// non-decreasing across the checkpoint list.
type Checkpoint struct {
	SharesBurned   *uint256.Int // cumulative shares burned
	AssetsReleased *uint256.Int // cumulative assets released
}

// Ticket is a claim receipt for a queued withdrawal. It occupies the
// half-open interval [Offset, Offset+Shares) of the FIFO share stream.
type Ticket struct {
	Offset      *uint256.Int
	Shares      *uint256.Int
	RequestedAt uint64
}

// Settlement is the outcome of settling a ticket. Remaining is non-nil when
// the ticket's interval was only partially covered by checkpoints; the tail
// keeps its advanced offset for a future settlement.
type Settlement struct {
	ExitedShares *uint256.Int
	ExitedAssets *uint256.Int
	Remaining    *Ticket
}

// State is the queue's persisted counters, used to restore after restart.
// Checkpoints are restored separately, in list order.
type State struct {
	QueuedShares    *uint256.Int
	TotalTickets    *uint256.Int
	UnclaimedAssets *uint256.Int
}

// Queue is the exit queue of a single vault.
type Queue struct {
	claimDelay uint64

	checkpoints     []Checkpoint
	queuedShares    *uint256.Int // requested, not yet checkpointed
	totalTickets    *uint256.Int // sum of all shares ever entered
	unclaimedAssets *uint256.Int // released by checkpoints, not yet paid out
}

// New creates an empty queue with the given claim delay in seconds.
func New(claimDelay uint64) *Queue {
	return &Queue{
		claimDelay:      claimDelay,
		queuedShares:    new(uint256.Int),
		totalTickets:    new(uint256.Int),
		unclaimedAssets: new(uint256.Int),
	}
}

// Restore rebuilds a queue from persisted state and its checkpoint list.
func Restore(claimDelay uint64, state State, checkpoints []Checkpoint) *Queue {
	return &Queue{
		claimDelay:      claimDelay,
		checkpoints:     checkpoints,
		queuedShares:    state.QueuedShares.Clone(),
		totalTickets:    state.TotalTickets.Clone(),
		unclaimedAssets: state.UnclaimedAssets.Clone(),
	}
}

// Clone returns a queue sharing this one's state, for staging mutations that
// may be discarded. Mutators replace counters and append to the checkpoint
// list instead of writing in place, so changes to the clone never show
// through the original.
func (q *Queue) Clone() *Queue {
	cloned := *q
	return &cloned
}

// QueuedShares returns the shares requested but not yet checkpointed.
func (q *Queue) QueuedShares() *uint256.Int { return q.queuedShares.Clone() }

// TotalTickets returns the monotone offset counter.
func (q *Queue) TotalTickets() *uint256.Int { return q.totalTickets.Clone() }

// UnclaimedAssets returns assets released by checkpoints but not yet paid out.
func (q *Queue) UnclaimedAssets() *uint256.Int { return q.unclaimedAssets.Clone() }

// CheckpointCount returns the length of the checkpoint list.
func (q *Queue) CheckpointCount() int { return len(q.checkpoints) }

// CheckpointAt returns the checkpoint at the given index.
func (q *Queue) CheckpointAt(index int) (Checkpoint, bool) {
	if index < 0 || index >= len(q.checkpoints) {
		return Checkpoint{}, false
	}
	cp := q.checkpoints[index]
	return Checkpoint{SharesBurned: cp.SharesBurned.Clone(), AssetsReleased: cp.AssetsReleased.Clone()}, true
}

// Enter queues shares for withdrawal and returns the ticket. The caller is
// responsible for escrowing the shares; they stay part of the total supply
// until a checkpoint burns them.
func (q *Queue) Enter(shares *uint256.Int, now uint64) (Ticket, error) {
	if shares == nil || shares.IsZero() {
		return Ticket{}, ErrInvalidShares
	}

	newTotal, err := units.Add(q.totalTickets, shares)
	if err != nil {
		return Ticket{}, err
	}
	newQueued, err := units.Add(q.queuedShares, shares)
	if err != nil {
		return Ticket{}, err
	}

	ticket := Ticket{
		Offset:      q.totalTickets.Clone(),
		Shares:      shares.Clone(),
		RequestedAt: now,
	}
	q.totalTickets = newTotal
	q.queuedShares = newQueued
	return ticket, nil
}

// Advance converts available liquidity into queue progress at the given
// exchange rate and appends a checkpoint. Burned shares and released assets
// are returned for the caller to apply to its ledger in the same atomic step.
// Zero liquidity or an empty queue is a no-op.
func (q *Queue) Advance(availableAssets, totalShares, totalAssets *uint256.Int) (burned, released *uint256.Int, err error) {
	zero := new(uint256.Int)
	if q.queuedShares.IsZero() || availableAssets == nil || availableAssets.IsZero() {
		return zero, zero.Clone(), nil
	}

	sharesAtRate, err := units.ToShares(availableAssets, totalShares, totalAssets)
	if err != nil {
		return nil, nil, err
	}
	burned = units.Min(sharesAtRate, q.queuedShares)
	if burned.IsZero() {
		return zero, zero.Clone(), nil
	}
	released, err = units.ToAssets(burned, totalShares, totalAssets)
	if err != nil {
		return nil, nil, err
	}

	prevShares, prevAssets := q.cumulativeTail()
	cumShares, err := units.Add(prevShares, burned)
	if err != nil {
		return nil, nil, err
	}
	cumAssets, err := units.Add(prevAssets, released)
	if err != nil {
		return nil, nil, err
	}
	if !units.FitsBits(cumShares, checkpointBits) || !units.FitsBits(cumAssets, checkpointBits) {
		return nil, nil, errors.Wrap(units.ErrArithmetic, "checkpoint counter width")
	}
	newQueued, err := units.Sub(q.queuedShares, burned)
	if err != nil {
		return nil, nil, err
	}
	newUnclaimed, err := units.Add(q.unclaimedAssets, released)
	if err != nil {
		return nil, nil, err
	}

	q.checkpoints = append(q.checkpoints, Checkpoint{SharesBurned: cumShares, AssetsReleased: cumAssets})
	q.queuedShares = newQueued
	q.unclaimedAssets = newUnclaimed
	return burned, released, nil
}

func (q *Queue) cumulativeTail() (shares, assets *uint256.Int) {
	if len(q.checkpoints) == 0 {
		return new(uint256.Int), new(uint256.Int)
	}
	tail := q.checkpoints[len(q.checkpoints)-1]
	return tail.SharesBurned, tail.AssetsReleased
}

// FindCheckpoint returns the index of the first checkpoint whose cumulative
// burned shares exceed the ticket offset, i.e. the checkpoint that started
// consuming the ticket's interval. ok is false while the ticket is still
// fully queued.
func (q *Queue) FindCheckpoint(offset *uint256.Int) (index int, ok bool) {
	index = sort.Search(len(q.checkpoints), func(i int) bool {
		return q.checkpoints[i].SharesBurned.Gt(offset)
	})
	return index, index < len(q.checkpoints)
}

// Settle resolves a ticket against the checkpoint list, starting at the
// given index, and pays out the covered prefix of its interval. The caller
// transfers the exited assets and deletes or replaces the stored ticket
// according to Settlement.Remaining.
func (q *Queue) Settle(ticket Ticket, checkpointIndex int, now uint64) (*Settlement, error) {
	if now < ticket.RequestedAt+q.claimDelay {
		return nil, ErrTooEarly
	}
	settlement, err := q.resolve(ticket, checkpointIndex)
	if err != nil {
		return nil, err
	}

	newUnclaimed, err := units.Sub(q.unclaimedAssets, settlement.ExitedAssets)
	if err != nil {
		// conservation guarantees settled assets never exceed what
		// checkpoints released; reaching this means corrupted state
		return nil, errors.Wrap(err, "unclaimed assets underflow")
	}
	q.unclaimedAssets = newUnclaimed
	return settlement, nil
}

// Preview computes the settlement a ticket would receive right now without
// mutating the queue. Claimable reports whether the claim delay has elapsed.
func (q *Queue) Preview(ticket Ticket, now uint64) (settlement *Settlement, claimable bool, err error) {
	index, ok := q.FindCheckpoint(ticket.Offset)
	if !ok {
		return &Settlement{
			ExitedShares: new(uint256.Int),
			ExitedAssets: new(uint256.Int),
			Remaining:    &ticket,
		}, false, nil
	}
	settlement, err = q.resolve(ticket, index)
	if err != nil {
		return nil, false, err
	}
	return settlement, now >= ticket.RequestedAt+q.claimDelay, nil
}

// resolve walks the checkpoints covering the ticket's interval and converts
// the covered share prefix to assets at each checkpoint's local rate.
func (q *Queue) resolve(ticket Ticket, checkpointIndex int) (*Settlement, error) {
	if checkpointIndex < 0 || checkpointIndex >= len(q.checkpoints) {
		return nil, ErrInvalidCheckpoint
	}
	// the checkpoint must be the first one reaching past the offset
	if !q.checkpoints[checkpointIndex].SharesBurned.Gt(ticket.Offset) {
		return nil, ErrInvalidCheckpoint
	}
	if checkpointIndex > 0 && q.checkpoints[checkpointIndex-1].SharesBurned.Gt(ticket.Offset) {
		return nil, ErrInvalidCheckpoint
	}

	cursor := ticket.Offset.Clone()
	remaining := ticket.Shares.Clone()
	exitedAssets := new(uint256.Int)

	for i := checkpointIndex; i < len(q.checkpoints) && !remaining.IsZero(); i++ {
		prevShares, prevAssets := new(uint256.Int), new(uint256.Int)
		if i > 0 {
			prevShares = q.checkpoints[i-1].SharesBurned
			prevAssets = q.checkpoints[i-1].AssetsReleased
		}
		cpShares, err := units.Sub(q.checkpoints[i].SharesBurned, prevShares)
		if err != nil {
			return nil, err
		}
		cpAssets, err := units.Sub(q.checkpoints[i].AssetsReleased, prevAssets)
		if err != nil {
			return nil, err
		}

		// shares of this ticket covered by checkpoint i from the cursor on
		covered, err := units.Sub(q.checkpoints[i].SharesBurned, cursor)
		if err != nil {
			return nil, err
		}
		take := units.Min(covered, remaining)
		if take.IsZero() {
			continue
		}

		// convert at the checkpoint-local rate, not the current global one
		portion, err := units.ToAssets(take, cpShares, cpAssets)
		if err != nil {
			return nil, err
		}
		exitedAssets, err = units.Add(exitedAssets, portion)
		if err != nil {
			return nil, err
		}
		cursor, err = units.Add(cursor, take)
		if err != nil {
			return nil, err
		}
		remaining, err = units.Sub(remaining, take)
		if err != nil {
			return nil, err
		}
	}

	exitedShares, err := units.Sub(ticket.Shares, remaining)
	if err != nil {
		return nil, err
	}
	settlement := &Settlement{ExitedShares: exitedShares, ExitedAssets: exitedAssets}
	if !remaining.IsZero() {
		settlement.Remaining = &Ticket{
			Offset:      cursor,
			Shares:      remaining,
			RequestedAt: ticket.RequestedAt,
		}
	}
	return settlement, nil
}
