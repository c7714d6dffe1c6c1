// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vault

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/vault/exitqueue"
	"github.com/stakewise/v3-core-sub003/vault/units"
)

// GetExitQueueIndex locates the checkpoint covering a ticket offset. ok is
// false while the ticket is still fully queued.
func (v *Vault) GetExitQueueIndex(offset *uint256.Int) (int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.queue.FindCheckpoint(offset)
}

// TicketOf returns the stored ticket at the given offset.
func (v *Vault) TicketOf(offset *uint256.Int) (TicketRecord, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.tickets[ticketKey(offset)]
	return rec, ok
}

// SettleExitTicket pays out the covered prefix of the caller's ticket. A
// partially covered ticket is re-stored under its advanced offset; the old
// offset stops resolving. Only the ticket owner may settle.
func (v *Vault) SettleExitTicket(caller core.Address, offset *uint256.Int, checkpointIndex int, now uint64) (*exitqueue.Settlement, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.tickets[ticketKey(offset)]
	if !ok {
		return nil, errors.Wrapf(ErrTicketNotFound, "offset %s", offset)
	}
	if rec.Owner != caller {
		return nil, ErrAccessDenied
	}

	queue := v.queue.Clone()
	settlement, err := queue.Settle(rec.Ticket, checkpointIndex, now)
	if err != nil {
		return nil, err
	}
	// exited assets leave the vault; a shortfall rejects the settlement with
	// the queue untouched, so the ticket stays claimable
	liquid, err := units.Sub(v.liquid, settlement.ExitedAssets)
	if err != nil {
		return nil, errors.Wrap(err, "liquid underflow")
	}
	var remaining *TicketRecord
	if settlement.Remaining != nil {
		remaining = &TicketRecord{Owner: rec.Owner, Ticket: *settlement.Remaining}
	}

	if v.jrn != nil {
		err := v.jrn.Update(v.cfg.ID, func(w JournalWriter) error {
			if err := w.PutLedger(v.stagedLedger(v.totalShares, v.totalAssets, liquid, queue)); err != nil {
				return err
			}
			if err := w.DeleteTicket(offset); err != nil {
				return err
			}
			if remaining != nil {
				return w.PutTicket(*remaining)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "journal")
		}
	}

	v.queue = queue
	v.liquid = liquid
	delete(v.tickets, ticketKey(offset))
	if remaining != nil {
		v.tickets[ticketKey(remaining.Ticket.Offset)] = *remaining
	}

	labels := map[string]string{"vault": v.cfg.ID.String()}
	metricSettlements().AddWithLabel(1, labels)
	metricUnclaimedAssets().SetWithLabel(gaugeValue(v.queue.UnclaimedAssets()), labels)
	v.emit(Event{
		Type:      EventSettlement,
		Vault:     v.cfg.ID,
		Account:   caller,
		Shares:    settlement.ExitedShares.Clone(),
		Assets:    settlement.ExitedAssets.Clone(),
		Offset:    offset.Clone(),
		Timestamp: now,
	})
	logger.Debug("ticket settled",
		"vault", v.cfg.ID,
		"owner", caller,
		"offset", offset,
		"shares", settlement.ExitedShares,
		"assets", settlement.ExitedAssets,
	)
	return settlement, nil
}

// PreviewSettlement reports what settling the ticket at the given offset
// would pay right now, without mutating anything.
func (v *Vault) PreviewSettlement(offset *uint256.Int, now uint64) (*exitqueue.Settlement, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, ok := v.tickets[ticketKey(offset)]
	if !ok {
		return nil, false, errors.Wrapf(ErrTicketNotFound, "offset %s", offset)
	}
	return v.queue.Preview(rec.Ticket, now)
}
