// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package eventdb keeps an append-only, queryable log of ledger events in
// sqlite. It backs the history endpoints; the ledger itself never reads it.
package eventdb

import (
	"context"
	"database/sql"
	"math/big"

	"github.com/holiman/uint256"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/log"
	"github.com/stakewise/v3-core-sub003/vault"
)

var logger = log.WithContext("pkg", "eventdb")

const eventTableSchema = `CREATE TABLE IF NOT EXISTS event (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	eventType TEXT NOT NULL,
	vault BLOB NOT NULL,
	account BLOB,
	assets BLOB,
	shares BLOB,
	ticketOffset BLOB,
	rewardNeg INTEGER NOT NULL DEFAULT 0,
	reward BLOB,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS event_vault_ts ON event(vault, ts);`

// OrderType sorts query results by sequence.
type OrderType string

const (
	ASC  OrderType = "ASC"
	DESC OrderType = "DESC"
)

// Range bounds a query by event timestamp.
type Range struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Options pages a query.
type Options struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

// Filter selects events. Nil fields match everything.
type Filter struct {
	Vault   *core.Address   `json:"vault"`
	Type    vault.EventType `json:"type"`
	Range   *Range          `json:"range"`
	Options *Options        `json:"options"`
	Order   OrderType       `json:"order"` // default asc
}

// Event is one stored ledger event.
type Event struct {
	Seq uint64 `json:"seq"`
	vault.Event
}

// EventDB is the sqlite-backed event log.
type EventDB struct {
	path          string
	db            *sql.DB
	driverVersion string
}

// New creates or opens the event db at the given path.
func New(path string) (eventDB *EventDB, err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if eventDB == nil {
			_ = db.Close()
		}
	}()
	if _, err := db.Exec(eventTableSchema); err != nil {
		return nil, err
	}

	driverVer, _, _ := sqlite3.Version()
	return &EventDB{
		path,
		db,
		driverVer,
	}, nil
}

// NewMem creates an event db in ram.
func NewMem() (*EventDB, error) {
	return New(":memory:")
}

// Close closes the event db.
func (db *EventDB) Close() {
	_ = db.db.Close()
}

func (db *EventDB) Path() string {
	return db.path
}

// Record appends a ledger event. Recording is best-effort per the sink
// contract: failures are logged, never surfaced to the ledger.
func (db *EventDB) Record(ev vault.Event) {
	if err := db.record(ev); err != nil {
		logger.Warn("failed to record event", "type", ev.Type, "vault", ev.Vault, "err", err)
	}
}

func (db *EventDB) record(ev vault.Event) error {
	rewardNeg := 0
	var reward []byte
	if ev.Reward != nil {
		if ev.Reward.Sign() < 0 {
			rewardNeg = 1
		}
		reward = new(big.Int).Abs(ev.Reward).Bytes()
	}
	_, err := db.db.Exec(
		`INSERT INTO event(eventType, vault, account, assets, shares, ticketOffset, rewardNeg, reward, ts) VALUES(?,?,?,?,?,?,?,?,?)`,
		string(ev.Type),
		ev.Vault.Bytes(),
		addressBlob(ev.Account),
		wordBlob(ev.Assets),
		wordBlob(ev.Shares),
		wordBlob(ev.Offset),
		rewardNeg,
		reward,
		ev.Timestamp,
	)
	return err
}

// Filter queries stored events.
func (db *EventDB) Filter(ctx context.Context, filter *Filter) ([]*Event, error) {
	if filter == nil {
		return db.queryEvents(ctx, "SELECT * FROM event ORDER BY seq ASC")
	}
	var args []interface{}
	stmt := "SELECT * FROM event WHERE 1"
	if filter.Vault != nil {
		args = append(args, filter.Vault.Bytes())
		stmt += " AND vault = ? "
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		stmt += " AND eventType = ? "
	}
	if filter.Range != nil {
		args = append(args, filter.Range.From)
		stmt += " AND ts >= ? "
		if filter.Range.To >= filter.Range.From {
			args = append(args, filter.Range.To)
			stmt += " AND ts <= ? "
		}
	}
	if filter.Order == DESC {
		stmt += " ORDER BY seq DESC "
	} else {
		stmt += " ORDER BY seq ASC "
	}
	if filter.Options != nil {
		stmt += " limit ?, ? "
		args = append(args, filter.Options.Offset, filter.Options.Limit)
	}
	return db.queryEvents(ctx, stmt, args...)
}

func (db *EventDB) queryEvents(ctx context.Context, stmt string, args ...interface{}) ([]*Event, error) {
	rows, err := db.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			ev        Event
			eventType string
			vaultID   []byte
			account   []byte
			assets    []byte
			shares    []byte
			offset    []byte
			rewardNeg int
			reward    []byte
		)
		if err := rows.Scan(
			&ev.Seq,
			&eventType,
			&vaultID,
			&account,
			&assets,
			&shares,
			&offset,
			&rewardNeg,
			&reward,
			&ev.Timestamp,
		); err != nil {
			return nil, err
		}
		ev.Type = vault.EventType(eventType)
		ev.Vault = core.BytesToAddress(vaultID)
		if account != nil {
			ev.Account = core.BytesToAddress(account)
		}
		ev.Assets = wordFromBlob(assets)
		ev.Shares = wordFromBlob(shares)
		ev.Offset = wordFromBlob(offset)
		if reward != nil {
			ev.Reward = new(big.Int).SetBytes(reward)
			if rewardNeg != 0 {
				ev.Reward.Neg(ev.Reward)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func addressBlob(a core.Address) []byte {
	if a.IsZero() {
		return nil
	}
	return a.Bytes()
}

func wordBlob(v *uint256.Int) []byte {
	if v == nil {
		return nil
	}
	return v.Bytes()
}

func wordFromBlob(b []byte) *uint256.Int {
	if b == nil {
		return nil
	}
	return new(uint256.Int).SetBytes(b)
}
