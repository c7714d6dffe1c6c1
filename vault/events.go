// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vault

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/stakewise/v3-core-sub003/core"
)

// EventType names a ledger event.
type EventType string

const (
	EventDeposit          EventType = "deposit"
	EventHarvest          EventType = "harvest"
	EventExitQueueEntered EventType = "exit_queue_entered"
	EventCheckpoint       EventType = "checkpoint"
	EventSettlement       EventType = "settlement"
)

// Event is one entry of the vault's append-only event log. Fields not
// meaningful for the event type are left nil.
type Event struct {
	Type      EventType
	Vault     core.Address
	Account   core.Address
	Assets    *uint256.Int
	Shares    *uint256.Int
	Offset    *uint256.Int // ticket offset, queue events only
	Reward    *big.Int     // signed reward delta, harvest events only
	Timestamp uint64
}

// EventSink receives ledger events. Recording is best-effort: sinks must not
// fail the operation that produced the event.
type EventSink interface {
	Record(ev Event)
}
