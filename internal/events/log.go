package events

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	flatbuffers "github.com/google/flatbuffers/go"

	"Launchpad/internal/storage"
	"Launchpad/internal/types"
)

var (
	// eventKeyPrefix is the storage prefix for event records, followed by the 8-byte sequence.
	eventKeyPrefix = []byte("e:")

	// lastSeqKey holds the sequence number of the newest committed event.
	lastSeqKey = []byte("m:events")
)

// Log is the persistent, append-only event log with live subscriptions.
type Log struct {
	db *storage.Storage // db holds committed events

	mu     sync.Mutex
	subs   map[int]chan Event // subs are live subscribers keyed by id
	nextID int
}

// NewLog creates an event log backed by db.
func NewLog(db *storage.Storage) *Log {
	return &Log{
		db:   db,
		subs: make(map[int]chan Event),
	}
}

// Append stages events into tx, assigning consecutive sequence numbers and time.
// The caller must serialize Append calls; the host does so with its writer lock.
// Returns the events with Seq and Time filled in.
func (l *Log) Append(tx *storage.Tx, time uint64, evs []Event) ([]Event, error) {
	if len(evs) == 0 {
		return nil, nil
	}

	last, err := lastSeq(tx)
	if err != nil {
		return nil, err
	}

	out := make([]Event, len(evs))

	for i, ev := range evs {
		last++
		ev.Seq = last
		ev.Time = time

		if err := tx.Set(eventKey(ev.Seq), encodeEvent(ev)); err != nil {
			return nil, fmt.Errorf("stage event %d:\n%w", ev.Seq, err)
		}

		out[i] = ev
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], last)

	if err := tx.Set(lastSeqKey, buf[:]); err != nil {
		return nil, fmt.Errorf("stage event sequence:\n%w", err)
	}

	return out, nil
}

// Publish delivers committed events to subscribers.
// Slow subscribers lose events rather than blocking the writer.
func (l *Log) Publish(evs []Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, ev := range evs {
		for _, ch := range l.subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Subscribe returns a channel of newly committed events and a cancel function.
func (l *Log) Subscribe(buffer int) (<-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++

	ch := make(chan Event, buffer)
	l.subs[id] = ch

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if sub, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(sub)
		}
	}

	return ch, cancel
}

// Since returns up to limit committed events with sequence greater than seq.
// A non-positive limit means no limit.
func (l *Log) Since(seq uint64, limit int) ([]Event, error) {
	var out []Event

	errStop := errors.New("limit reached")

	err := l.db.IteratePrefix(eventKeyPrefix, func(key, value []byte) error {
		if len(key) != len(eventKeyPrefix)+8 {
			return nil
		}

		if binary.BigEndian.Uint64(key[len(eventKeyPrefix):]) <= seq {
			return nil
		}

		out = append(out, decodeEvent(value))

		if limit > 0 && len(out) >= limit {
			return errStop
		}

		return nil
	})

	if err != nil && err != errStop {
		return nil, fmt.Errorf("read events:\n%w", err)
	}

	return out, nil
}

// LastSeq returns the sequence of the newest committed event (0 if none).
func (l *Log) LastSeq() (uint64, error) {
	value, err := l.db.Get(lastSeqKey)
	if err != nil {
		return 0, err
	}

	if len(value) != 8 {
		return 0, nil
	}

	return binary.BigEndian.Uint64(value), nil
}

// lastSeq reads the sequence counter including staged writes.
func lastSeq(tx *storage.Tx) (uint64, error) {
	value, err := tx.Get(lastSeqKey)
	if err != nil {
		return 0, fmt.Errorf("read event sequence:\n%w", err)
	}

	if len(value) != 8 {
		return 0, nil
	}

	return binary.BigEndian.Uint64(value), nil
}

// eventKey builds "e:" + big-endian seq so keys sort in log order.
func eventKey(seq uint64) []byte {
	key := make([]byte, len(eventKeyPrefix)+8)
	copy(key, eventKeyPrefix)
	binary.BigEndian.PutUint64(key[len(eventKeyPrefix):], seq)

	return key
}

// encodeEvent serializes an event as an EventRecord.
func encodeEvent(ev Event) []byte {
	builder := flatbuffers.NewBuilder(256)

	contractVec := builder.CreateByteVector(ev.Contract.Bytes())
	nameOff := builder.CreateString(ev.Name)
	topicVec := builder.CreateByteVector(ev.Topic.Bytes())
	dataVec := builder.CreateByteVector(ev.Data)

	types.EventRecordStart(builder)
	types.EventRecordAddSeq(builder, ev.Seq)
	types.EventRecordAddTime(builder, ev.Time)
	types.EventRecordAddContract(builder, contractVec)
	types.EventRecordAddName(builder, nameOff)
	types.EventRecordAddTopic(builder, topicVec)
	types.EventRecordAddData(builder, dataVec)
	builder.Finish(types.EventRecordEnd(builder))

	return builder.FinishedBytes()
}

// decodeEvent parses an EventRecord, copying out of the record buffer.
func decodeEvent(data []byte) Event {
	rec := types.GetRootAsEventRecord(data, 0)

	payload := make([]byte, len(rec.DataBytes()))
	copy(payload, rec.DataBytes())

	return Event{
		Seq:      rec.Seq(),
		Time:     rec.Time(),
		Contract: common.BytesToAddress(rec.ContractBytes()),
		Name:     string(rec.Name()),
		Topic:    common.BytesToHash(rec.TopicBytes()),
		Data:     payload,
	}
}
