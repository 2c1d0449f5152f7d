package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond
)

// ErrTxClosed is returned when a transaction is used after Commit or Discard.
var ErrTxClosed = errors.New("storage transaction closed")

// KeyValue represents a key-value pair for Replace.
type KeyValue struct {
	Key   []byte // Key is the key to store
	Value []byte // Value is the value to store
}

// Storage provides a simple key-value store backed by Pebble.
// Writes are non-blocking (NoSync) and a background goroutine
// periodically syncs the WAL to disk for durability.
type Storage struct {
	db       *pebble.DB    // db is the underlying Pebble database
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
}

// New creates a new Storage instance at the given path.
// It starts a background goroutine that syncs the WAL periodically.
func New(path string) (*Storage, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20), // 32 MB cache
		MemTableSize:                16 << 20,                  // 16 MB memtable
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		db:       db,
		stopSync: make(chan struct{}),
	}

	s.startSyncLoop()

	return s, nil
}

// Get retrieves the value for the given key.
// Returns nil if the key does not exist.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return cloneBytes(value), nil
}

// Replace atomically swaps the whole content of the store for pairs.
// Existing keys not in pairs are deleted in the same batch, so readers
// see either the old state or the new one.
func (s *Storage) Replace(pairs []KeyValue) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	err := s.Iterate(func(key, _ []byte) error {
		return batch.Delete(key, nil)
	})
	if err != nil {
		return err
	}

	for _, kv := range pairs {
		if err := batch.Set(kv.Key, kv.Value, nil); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.Sync)
}

// NewTx opens a read-your-writes transaction.
// Reads see the transaction's own pending writes layered over committed state.
// Nothing is visible to other readers until Commit.
func (s *Storage) NewTx() *Tx {
	return &Tx{batch: s.db.NewIndexedBatch()}
}

// Iterate calls fn for each key-value pair in the database.
// If fn returns an error, iteration stops and the error is returned.
// Keys are visited in lexicographic order.
func (s *Storage) Iterate(fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	return walk(iter, fn)
}

// IteratePrefix calls fn for each key-value pair with the given prefix.
// Uses Pebble's iterator bounds for efficient prefix scanning.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(prefixOptions(prefix))
	if err != nil {
		return err
	}
	defer iter.Close()

	return walk(iter, fn)
}

// walk visits every entry of an already bounded iterator.
func walk(iter *pebble.Iterator, fn func(key, value []byte) error) error {
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(key, value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixOptions builds iterator bounds covering every key with the prefix.
func prefixOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	}
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Increments the last byte; returns nil if prefix is all 0xFF (full range).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}

	return nil // all 0xFF -> unbounded
}

// Close stops the sync goroutine and closes the database.
// It performs a final sync before closing to ensure durability.
func (s *Storage) Close() error {
	close(s.stopSync)
	s.wg.Wait()

	// Final sync before closing
	if err := s.sync(); err != nil {
		return err
	}

	return s.db.Close()
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (s *Storage) startSyncLoop() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}

// Tx is a pending set of writes that commits atomically.
// A Tx is not safe for concurrent use.
type Tx struct {
	batch  *pebble.Batch // batch is an indexed batch so reads see pending writes
	closed bool
}

// Get retrieves the value for the given key, including uncommitted writes.
// Returns nil if the key does not exist.
func (t *Tx) Get(key []byte) ([]byte, error) {
	if t.closed {
		return nil, ErrTxClosed
	}

	value, closer, err := t.batch.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return cloneBytes(value), nil
}

// Set stages a write.
func (t *Tx) Set(key, value []byte) error {
	if t.closed {
		return ErrTxClosed
	}

	return t.batch.Set(key, value, nil)
}

// Delete stages a deletion.
func (t *Tx) Delete(key []byte) error {
	if t.closed {
		return ErrTxClosed
	}

	return t.batch.Delete(key, nil)
}

// IteratePrefix visits committed and pending entries with the given prefix.
func (t *Tx) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	if t.closed {
		return ErrTxClosed
	}

	iter, err := t.batch.NewIter(prefixOptions(prefix))
	if err != nil {
		return err
	}
	defer iter.Close()

	return walk(iter, fn)
}

// Commit applies all staged writes atomically and closes the transaction.
// Transactions are synced to the WAL before returning.
func (t *Tx) Commit() error {
	if t.closed {
		return ErrTxClosed
	}

	t.closed = true
	defer t.batch.Close()

	return t.batch.Commit(pebble.Sync)
}

// Discard drops all staged writes. Safe to call after Commit.
func (t *Tx) Discard() {
	if t.closed {
		return
	}

	t.closed = true
	_ = t.batch.Close()
}

// cloneBytes copies a value that is only valid until its closer runs.
func cloneBytes(value []byte) []byte {
	result := make([]byte, len(value))
	copy(result, value)

	return result
}
