// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package lvldb wraps goleveldb behind the kv interfaces.
package lvldb

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	dberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/stakewise/v3-core-sub003/kv"
)

var _ kv.GetPutCloser = (*LevelDB)(nil)

// Options options for creating a level db instance.
type Options struct {
	CacheSize              int
	OpenFilesCacheCapacity int
}

var (
	writeOpt = opt.WriteOptions{}
	readOpt  = opt.ReadOptions{}
)

// LevelDB wraps the level db impl.
type LevelDB struct {
	db *leveldb.DB
}

// New creates a persistent level db instance.
// Creates an empty one if not exists, or opens if already there.
func New(path string, opts Options) (*LevelDB, error) {
	stg, err := storage.OpenFile(path, false)
	if err != nil {
		return nil, errors.Wrap(err, "new persistent level db")
	}
	return openLevelDB(stg, opts.CacheSize, opts.OpenFilesCacheCapacity)
}

// NewMem creates a level db in memory.
func NewMem() (*LevelDB, error) {
	return openLevelDB(storage.NewMemStorage(), 0, 0)
}

func openLevelDB(stg storage.Storage, cacheSize, openFilesCacheCapacity int) (*LevelDB, error) {
	if cacheSize < 16 {
		cacheSize = 16
	}
	if openFilesCacheCapacity < 16 {
		openFilesCacheCapacity = 16
	}

	db, err := leveldb.Open(stg, &opt.Options{
		OpenFilesCacheCapacity: openFilesCacheCapacity,
		BlockCacheCapacity:     cacheSize / 2 * opt.MiB,
		WriteBuffer:            cacheSize / 4 * opt.MiB, // Two of these are used internally
		Filter:                 filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open level db")
	}
	return &LevelDB{db: db}, nil
}

// IsNotFound returns if the error indicates a missing key.
func (l *LevelDB) IsNotFound(err error) bool {
	return errors.Is(err, dberrors.ErrNotFound)
}

// Get retrieves the value for the given key.
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	return l.db.Get(key, &readOpt)
}

// Has returns whether the key exists.
func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, &readOpt)
}

// Put saves the key-value pair.
func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, &writeOpt)
}

// Delete removes the key.
func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, &writeOpt)
}

// NewBatch creates a write batch.
func (l *LevelDB) NewBatch() kv.Batch {
	return &batch{db: l.db, b: &leveldb.Batch{}}
}

// NewIterator creates an iterator over the given key range.
func (l *LevelDB) NewIterator(r kv.Range) kv.Iterator {
	return l.db.NewIterator(&util.Range{Start: r.Start, Limit: r.Limit}, &readOpt)
}

// Close closes the db.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

type batch struct {
	db *leveldb.DB
	b  *leveldb.Batch
}

func (b *batch) Put(key, value []byte) error {
	b.b.Put(key, value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.b.Delete(key)
	return nil
}

func (b *batch) Len() int {
	return b.b.Len()
}

func (b *batch) Write() error {
	return b.db.Write(b.b, &writeOpt)
}
