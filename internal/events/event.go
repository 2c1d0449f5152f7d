package events

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Event is one log entry emitted by a contract during a transaction.
// Data holds the ABI-encoded arguments, exactly like an EVM log body.
type Event struct {
	Seq      uint64         // Seq is the global position in the log, assigned at commit
	Time     uint64         // Time is the transaction timestamp (unix seconds)
	Contract common.Address // Contract is the emitting contract
	Name     string         // Name is the event name, e.g. "TokenClaimed"
	Topic    common.Hash    // Topic is keccak256 of the event signature
	Data     []byte         // Data is the ABI-encoded argument tuple
}

// Arg describes one event argument by name and Solidity type.
type Arg struct {
	Name string
	Type string
}

// Definition describes an event type and encodes its arguments.
type Definition struct {
	event abi.Event
}

var (
	registryMu sync.RWMutex
	registry   = make(map[common.Hash]Definition)
)

// Define builds an event definition and registers it for decoding.
// It panics on an invalid Solidity type, so definitions belong in package variables.
func Define(name string, args ...Arg) Definition {
	inputs := make(abi.Arguments, len(args))

	for i, arg := range args {
		typ, err := abi.NewType(arg.Type, "", nil)
		if err != nil {
			panic(fmt.Sprintf("event %s: argument %s: %v", name, arg.Name, err))
		}

		inputs[i] = abi.Argument{Name: arg.Name, Type: typ}
	}

	def := Definition{event: abi.NewEvent(name, name, false, inputs)}

	registryMu.Lock()
	registry[def.event.ID] = def
	registryMu.Unlock()

	return def
}

// Name returns the event name.
func (d Definition) Name() string {
	return d.event.Name
}

// Signature returns the canonical signature, e.g. "TokenClaimed(address,uint256,uint256)".
func (d Definition) Signature() string {
	return d.event.Sig
}

// Topic returns keccak256 of the signature.
func (d Definition) Topic() common.Hash {
	return d.event.ID
}

// New encodes values into an event emitted by contract.
func (d Definition) New(contract common.Address, values ...any) (Event, error) {
	data, err := d.event.Inputs.Pack(values...)
	if err != nil {
		return Event{}, fmt.Errorf("pack %s:\n%w", d.event.Name, err)
	}

	return Event{
		Contract: contract,
		Name:     d.event.Name,
		Topic:    d.event.ID,
		Data:     data,
	}, nil
}

// Decode unpacks an event's arguments into a name -> value map.
func (d Definition) Decode(ev Event) (map[string]any, error) {
	if ev.Topic != d.event.ID {
		return nil, fmt.Errorf("event topic %s is not %s", ev.Topic.Hex(), d.event.Sig)
	}

	values := make(map[string]any, len(d.event.Inputs))
	if len(d.event.Inputs) == 0 {
		return values, nil
	}

	if err := d.event.Inputs.UnpackIntoMap(values, ev.Data); err != nil {
		return nil, fmt.Errorf("unpack %s:\n%w", d.event.Name, err)
	}

	return values, nil
}

// Decode unpacks any event whose definition has been registered.
func Decode(ev Event) (map[string]any, error) {
	registryMu.RLock()
	def, ok := registry[ev.Topic]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown event topic %s", ev.Topic.Hex())
	}

	return def.Decode(ev)
}
