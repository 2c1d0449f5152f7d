package host

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"Launchpad/internal/events"
	"Launchpad/internal/logger"
	"Launchpad/internal/metrics"
	"Launchpad/internal/storage"
)

// Host executes transactions one at a time against persistent storage.
// It stands in for a chain's execution environment: each transaction is
// atomic, sees a single timestamp, and either commits all of its writes and
// events or none of them.
type Host struct {
	mu      sync.Mutex       // mu is the single-writer lock
	db      *storage.Storage // db is the committed state
	clock   Clock            // clock supplies transaction timestamps
	chainID *big.Int         // chainID is exposed to contracts
	log     *events.Log      // log persists and publishes events
}

// New creates a host over db.
func New(db *storage.Storage, clock Clock, chainID *big.Int) *Host {
	return &Host{
		db:      db,
		clock:   clock,
		chainID: new(big.Int).Set(chainID),
		log:     events.NewLog(db),
	}
}

// Events returns the host's event log.
func (h *Host) Events() *events.Log {
	return h.log
}

// ChainID returns a copy of the chain id.
func (h *Host) ChainID() *big.Int {
	return new(big.Int).Set(h.chainID)
}

// Now returns the current clock time.
func (h *Host) Now() uint64 {
	return h.clock.Now()
}

// LastSeq returns the sequence of the newest committed event.
func (h *Host) LastSeq() (uint64, error) {
	return h.log.LastSeq()
}

// Clock returns the host clock.
func (h *Host) Clock() Clock {
	return h.clock
}

// Execute runs fn as a transaction submitted by sender.
// If fn returns an error every staged write and event is discarded.
// On success the committed events are returned with their sequence numbers.
func (h *Host) Execute(op string, sender common.Address, fn func(ctx *Context) error) ([]events.Event, error) {
	start := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	tx := h.db.NewTx()
	defer tx.Discard()

	var pending []events.Event
	ctx := &Context{
		tx:      tx,
		sender:  sender,
		now:     h.clock.Now(),
		chainID: h.chainID,
		events:  &pending,
	}

	if err := fn(ctx); err != nil {
		metrics.ObserveTransaction(op, false)
		logger.Debug("tx reverted", "op", op, "sender", sender.Hex(), "error", err)
		return nil, err
	}

	committed, err := h.log.Append(tx, ctx.now, pending)
	if err != nil {
		metrics.ObserveTransaction(op, false)
		return nil, fmt.Errorf("append events:\n%w", err)
	}

	if err := tx.Commit(); err != nil {
		metrics.ObserveTransaction(op, false)
		return nil, fmt.Errorf("commit %s:\n%w", op, err)
	}

	metrics.ObserveTransaction(op, true)
	metrics.ObserveEvents(committed)
	h.log.Publish(committed)

	logger.Debug("tx committed", "op", op, "sender", sender.Hex(), "events", len(committed), logger.Timed(start))

	return committed, nil
}

// View runs fn against committed state without taking the writer lock.
// Any write attempted by fn fails with ErrReadOnly.
func (h *Host) View(fn func(ctx *Context) error) error {
	tx := h.db.NewTx()
	defer tx.Discard()

	var discarded []events.Event
	ctx := &Context{
		tx:       tx,
		now:      h.clock.Now(),
		chainID:  h.chainID,
		events:   &discarded,
		readOnly: true,
	}

	return fn(ctx)
}
