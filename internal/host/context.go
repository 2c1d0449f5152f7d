package host

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"Launchpad/internal/events"
	"Launchpad/internal/storage"
)

const (
	// maxCallDepth bounds nested contract calls within one transaction.
	maxCallDepth = 64
)

var (
	// ErrReadOnly is returned when a view context attempts a write.
	ErrReadOnly = errors.New("write in read-only context")

	// ErrCallDepth is returned when nested calls exceed maxCallDepth.
	ErrCallDepth = errors.New("call depth exceeded")

	// nonceKeyPrefix stores per-account contract creation nonces.
	nonceKeyPrefix = []byte("n:")
)

// Context is the execution environment of one transaction or view.
// Derived call contexts share the same pending writes and event buffer.
type Context struct {
	tx       *storage.Tx     // tx holds pending writes for the transaction
	sender   common.Address  // sender is msg.sender for this call frame
	now      uint64          // now is the block timestamp, fixed for the transaction
	chainID  *big.Int        // chainID is bound into typed-data domains
	events   *[]events.Event // events collects emitted events across call frames
	depth    int             // depth is the call nesting level
	readOnly bool
}

// Sender returns the immediate caller of the current frame.
func (c *Context) Sender() common.Address {
	return c.sender
}

// Now returns the transaction timestamp in unix seconds.
func (c *Context) Now() uint64 {
	return c.now
}

// ChainID returns a copy of the chain id.
func (c *Context) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Call derives a nested frame in which contract is the sender.
// Used when a contract calls another contract, e.g. a ledger moving its tokens.
func (c *Context) Call(contract common.Address) (*Context, error) {
	if c.depth+1 > maxCallDepth {
		return nil, ErrCallDepth
	}

	next := *c
	next.sender = contract
	next.depth = c.depth + 1

	return &next, nil
}

// Get reads a key including writes staged earlier in the transaction.
// Returns nil if the key does not exist.
func (c *Context) Get(key []byte) ([]byte, error) {
	return c.tx.Get(key)
}

// Has reports whether a key exists.
func (c *Context) Has(key []byte) (bool, error) {
	value, err := c.tx.Get(key)
	if err != nil {
		return false, err
	}

	return value != nil, nil
}

// Set stages a write.
func (c *Context) Set(key, value []byte) error {
	if c.readOnly {
		return ErrReadOnly
	}

	return c.tx.Set(key, value)
}

// Delete stages a deletion.
func (c *Context) Delete(key []byte) error {
	if c.readOnly {
		return ErrReadOnly
	}

	return c.tx.Delete(key)
}

// IteratePrefix visits every key with the given prefix, including staged writes.
func (c *Context) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	return c.tx.IteratePrefix(prefix, fn)
}

// Emit buffers an event. Events are persisted only if the transaction commits.
func (c *Context) Emit(ev events.Event) error {
	if c.readOnly {
		return ErrReadOnly
	}

	*c.events = append(*c.events, ev)

	return nil
}

// CreateAddress derives a fresh contract address from the sender and its nonce,
// the same way the EVM derives CREATE addresses, and bumps the nonce.
func (c *Context) CreateAddress() (common.Address, error) {
	key := nonceKey(c.sender)

	value, err := c.Get(key)
	if err != nil {
		return common.Address{}, fmt.Errorf("read nonce:\n%w", err)
	}

	var nonce uint64
	if len(value) == 8 {
		nonce = binary.BigEndian.Uint64(value)
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce+1)

	if err := c.Set(key, buf[:]); err != nil {
		return common.Address{}, fmt.Errorf("write nonce:\n%w", err)
	}

	return crypto.CreateAddress(c.sender, nonce), nil
}

// nonceKey builds "n:" + address.
func nonceKey(addr common.Address) []byte {
	key := make([]byte, len(nonceKeyPrefix)+common.AddressLength)
	copy(key, nonceKeyPrefix)
	copy(key[len(nonceKeyPrefix):], addr.Bytes())

	return key
}
