// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package store persists the ledger state in leveldb.
//
// Four monotone structures are kept: the two-generation rewards root
// singleton, the harvest-record table, the per-vault checkpoint list and the
// ticket table keyed by queue offset. Checkpoint keys embed the list index
// big-endian and ticket keys the offset word, so iterating a bucket replays
// entries in their original order. Keeper saves are single writes; a vault
// transition commits all of its records in one write batch.
package store

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/stakewise/v3-core-sub003/core"
	"github.com/stakewise/v3-core-sub003/keeper"
	"github.com/stakewise/v3-core-sub003/kv"
	"github.com/stakewise/v3-core-sub003/lvldb"
	"github.com/stakewise/v3-core-sub003/vault"
	"github.com/stakewise/v3-core-sub003/vault/exitqueue"
)

const (
	rootsBucket      kv.Bucket = "r"
	recordBucket     kv.Bucket = "h"
	ledgerBucket     kv.Bucket = "l"
	balanceBucket    kv.Bucket = "b"
	checkpointBucket kv.Bucket = "c"
	ticketBucket     kv.Bucket = "t"
)

// rootsKey addresses the singleton rewards-root entry.
var rootsKey = rootsBucket.Key()

type storedRoot struct {
	Root            []byte
	IpfsRef         string
	Rate            []byte
	UpdateTimestamp uint64
	Nonce           uint64
}

type storedRoots struct {
	Current  storedRoot
	Previous storedRoot
}

type storedRecord struct {
	Negative   bool
	Reward     []byte
	SideIncome []byte
	Nonce      uint64
}

type storedLedger struct {
	TotalShares     []byte
	TotalAssets     []byte
	Liquid          []byte
	QueuedShares    []byte
	TotalTickets    []byte
	UnclaimedAssets []byte
}

type storedCheckpoint struct {
	SharesBurned   []byte
	AssetsReleased []byte
}

type storedTicket struct {
	Owner       []byte
	Shares      []byte
	RequestedAt uint64
}

// Store implements the keeper and vault journals over one leveldb instance.
type Store struct {
	db *lvldb.LevelDB
}

var (
	_ keeper.Journal = (*Store)(nil)
	_ vault.Journal  = (*Store)(nil)
)

// New wraps the given database.
func New(db *lvldb.LevelDB) *Store {
	return &Store{db: db}
}

func wordBytes(v *uint256.Int) []byte {
	if v == nil {
		return nil
	}
	return v.Bytes()
}

func word(b []byte) *uint256.Int {
	return new(uint256.Int).SetBytes(b)
}

func indexKey(index uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], index)
	return b[:]
}

func offsetKey(offset *uint256.Int) []byte {
	b := offset.Bytes32()
	return b[:]
}

type putter interface {
	Put(key, value []byte) error
}

func putRLP(p putter, key []byte, val any) error {
	data, err := rlp.EncodeToBytes(val)
	if err != nil {
		return errors.Wrap(err, "encode")
	}
	return p.Put(key, data)
}

func (s *Store) put(key []byte, val any) error {
	return putRLP(s.db, key, val)
}

// SaveRoots persists both root generations.
func (s *Store) SaveRoots(current, previous keeper.RewardsRoot) error {
	return s.put(rootsKey, &storedRoots{
		Current:  packRoot(current),
		Previous: packRoot(previous),
	})
}

func packRoot(r keeper.RewardsRoot) storedRoot {
	return storedRoot{
		Root:            r.Root.Bytes(),
		IpfsRef:         r.IpfsRef,
		Rate:            wordBytes(r.AvgRewardPerSecond),
		UpdateTimestamp: r.UpdateTimestamp,
		Nonce:           r.Nonce,
	}
}

func unpackRoot(r storedRoot) keeper.RewardsRoot {
	return keeper.RewardsRoot{
		Root:               core.BytesToBytes32(r.Root),
		IpfsRef:            r.IpfsRef,
		AvgRewardPerSecond: word(r.Rate),
		UpdateTimestamp:    r.UpdateTimestamp,
		Nonce:              r.Nonce,
	}
}

// SaveHarvestRecord persists a vault's cumulative harvest record.
func (s *Store) SaveHarvestRecord(vaultID core.Address, rec keeper.HarvestRecord) error {
	return s.put(recordBucket.Key(vaultID.Bytes()), &storedRecord{
		Negative:   rec.Reward.Sign() < 0,
		Reward:     new(big.Int).Abs(rec.Reward).Bytes(),
		SideIncome: wordBytes(rec.SideIncome),
		Nonce:      rec.Nonce,
	})
}

// Update stages one vault transition and commits it as a single write batch.
// A transition that fails to stage, or a batch that fails to write, leaves
// the persisted state exactly as it was.
func (s *Store) Update(vaultID core.Address, fn func(w vault.JournalWriter) error) error {
	batch := s.db.NewBatch()
	if err := fn(&journalWriter{vaultID: vaultID, batch: batch}); err != nil {
		return err
	}
	return errors.Wrap(batch.Write(), "write batch")
}

// journalWriter stages one vault's journal records into a write batch.
type journalWriter struct {
	vaultID core.Address
	batch   kv.Batch
}

func (w *journalWriter) PutLedger(ledger vault.LedgerState) error {
	return putRLP(w.batch, ledgerBucket.Key(w.vaultID.Bytes()), &storedLedger{
		TotalShares:     wordBytes(ledger.TotalShares),
		TotalAssets:     wordBytes(ledger.TotalAssets),
		Liquid:          wordBytes(ledger.Liquid),
		QueuedShares:    wordBytes(ledger.QueuedShares),
		TotalTickets:    wordBytes(ledger.TotalTickets),
		UnclaimedAssets: wordBytes(ledger.UnclaimedAssets),
	})
}

func (w *journalWriter) PutBalance(account core.Address, shares *uint256.Int) error {
	return putRLP(w.batch, balanceBucket.Key(w.vaultID.Bytes(), account.Bytes()), wordBytes(shares))
}

func (w *journalWriter) PutCheckpoint(index uint64, cp exitqueue.Checkpoint) error {
	return putRLP(w.batch, checkpointBucket.Key(w.vaultID.Bytes(), indexKey(index)), &storedCheckpoint{
		SharesBurned:   wordBytes(cp.SharesBurned),
		AssetsReleased: wordBytes(cp.AssetsReleased),
	})
}

func (w *journalWriter) PutTicket(rec vault.TicketRecord) error {
	return putRLP(w.batch, ticketBucket.Key(w.vaultID.Bytes(), offsetKey(rec.Ticket.Offset)), &storedTicket{
		Owner:       rec.Owner.Bytes(),
		Shares:      wordBytes(rec.Ticket.Shares),
		RequestedAt: rec.Ticket.RequestedAt,
	})
}

func (w *journalWriter) DeleteTicket(offset *uint256.Int) error {
	return w.batch.Delete(ticketBucket.Key(w.vaultID.Bytes(), offsetKey(offset)))
}

// LoadKeeperSnapshot reloads the rewards roots and every harvest record.
// Returns nil when no root was ever saved.
func (s *Store) LoadKeeperSnapshot() (*keeper.Snapshot, error) {
	data, err := s.db.Get(rootsKey)
	if err != nil {
		if s.db.IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "load roots")
	}
	var roots storedRoots
	if err := rlp.DecodeBytes(data, &roots); err != nil {
		return nil, errors.Wrap(err, "decode roots")
	}

	snap := &keeper.Snapshot{
		Current:  unpackRoot(roots.Current),
		Previous: unpackRoot(roots.Previous),
		Records:  make(map[core.Address]keeper.HarvestRecord),
	}
	iter := s.db.NewIterator(recordBucket.Range())
	defer iter.Release()
	for iter.Next() {
		var rec storedRecord
		if err := rlp.DecodeBytes(iter.Value(), &rec); err != nil {
			return nil, errors.Wrap(err, "decode record")
		}
		reward := new(big.Int).SetBytes(rec.Reward)
		if rec.Negative {
			reward.Neg(reward)
		}
		vaultID := core.BytesToAddress(recordBucket.StripKey(iter.Key()))
		snap.Records[vaultID] = keeper.HarvestRecord{
			Reward:     reward,
			SideIncome: word(rec.SideIncome),
			Nonce:      rec.Nonce,
		}
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterate records")
	}
	return snap, nil
}

// LoadVaultSnapshot reloads one vault's ledger, balances, checkpoint list
// and open tickets. Returns nil when the vault was never saved.
func (s *Store) LoadVaultSnapshot(vaultID core.Address) (*vault.Snapshot, error) {
	data, err := s.db.Get(ledgerBucket.Key(vaultID.Bytes()))
	if err != nil {
		if s.db.IsNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "load ledger")
	}
	var ledger storedLedger
	if err := rlp.DecodeBytes(data, &ledger); err != nil {
		return nil, errors.Wrap(err, "decode ledger")
	}
	snap := &vault.Snapshot{
		Ledger: vault.LedgerState{
			TotalShares:     word(ledger.TotalShares),
			TotalAssets:     word(ledger.TotalAssets),
			Liquid:          word(ledger.Liquid),
			QueuedShares:    word(ledger.QueuedShares),
			TotalTickets:    word(ledger.TotalTickets),
			UnclaimedAssets: word(ledger.UnclaimedAssets),
		},
		Balances: make(map[core.Address]*uint256.Int),
	}

	if err := s.iterPrefix(balanceBucket, vaultID, func(key, val []byte) error {
		var shares []byte
		if err := rlp.DecodeBytes(val, &shares); err != nil {
			return errors.Wrap(err, "decode balance")
		}
		snap.Balances[core.BytesToAddress(key)] = word(shares)
		return nil
	}); err != nil {
		return nil, err
	}

	// checkpoint keys are index-ordered, so the list rebuilds positionally
	if err := s.iterPrefix(checkpointBucket, vaultID, func(_, val []byte) error {
		var cp storedCheckpoint
		if err := rlp.DecodeBytes(val, &cp); err != nil {
			return errors.Wrap(err, "decode checkpoint")
		}
		snap.Checkpoints = append(snap.Checkpoints, exitqueue.Checkpoint{
			SharesBurned:   word(cp.SharesBurned),
			AssetsReleased: word(cp.AssetsReleased),
		})
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.iterPrefix(ticketBucket, vaultID, func(key, val []byte) error {
		var st storedTicket
		if err := rlp.DecodeBytes(val, &st); err != nil {
			return errors.Wrap(err, "decode ticket")
		}
		snap.Tickets = append(snap.Tickets, vault.TicketRecord{
			Owner: core.BytesToAddress(st.Owner),
			Ticket: exitqueue.Ticket{
				Offset:      word(key),
				Shares:      word(st.Shares),
				RequestedAt: st.RequestedAt,
			},
		})
		return nil
	}); err != nil {
		return nil, err
	}
	return snap, nil
}

// iterPrefix walks a bucket's entries of one vault in ascending key order,
// passing the key with bucket and vault prefix stripped.
func (s *Store) iterPrefix(bucket kv.Bucket, vaultID core.Address, fn func(key, val []byte) error) error {
	prefix := util.BytesPrefix(bucket.Key(vaultID.Bytes()))
	iter := s.db.NewIterator(kv.Range{Start: prefix.Start, Limit: prefix.Limit})
	defer iter.Release()
	for iter.Next() {
		key := bucket.StripKey(iter.Key())[len(vaultID.Bytes()):]
		if err := fn(key, iter.Value()); err != nil {
			return err
		}
	}
	return errors.Wrap(iter.Error(), "iterate")
}
