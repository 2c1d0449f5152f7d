package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"Launchpad/internal/storage"
	"Launchpad/internal/types"
)

const (
	// formatVersion is the current snapshot format version.
	formatVersion = 1
)

var (
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
	ErrUnsupported      = errors.New("unsupported snapshot version")
)

// entry holds one key-value pair of the store.
type entry struct {
	key   []byte
	value []byte
}

// Create dumps every key of db into a compressed, checksummed snapshot.
// createdAt is recorded in the header and covered by the checksum.
func Create(db *storage.Storage, createdAt uint64) ([]byte, error) {
	entries, err := collectEntries(db)
	if err != nil {
		return nil, fmt.Errorf("collect entries:\n%w", err)
	}

	compressed, err := compress(build(createdAt, entries))
	if err != nil {
		return nil, fmt.Errorf("compress snapshot:\n%w", err)
	}

	return compressed, nil
}

// Restore replaces the contents of db with a snapshot produced by Create.
// The checksum is verified before anything is written, and the swap is a
// single batch.
func Restore(db *storage.Storage, compressed []byte) (*Header, error) {
	data, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	snap, entries, err := parse(data)
	if err != nil {
		return nil, err
	}

	pairs := make([]storage.KeyValue, len(entries))
	for i, e := range entries {
		pairs[i] = storage.KeyValue{Key: e.key, Value: e.value}
	}

	if err := db.Replace(pairs); err != nil {
		return nil, fmt.Errorf("replace state:\n%w", err)
	}

	return &Header{Version: snap.Version(), CreatedAt: snap.CreatedAt(), Entries: len(entries)}, nil
}

// Header summarizes a snapshot.
type Header struct {
	Version   uint32 `json:"version"`
	CreatedAt uint64 `json:"createdAt"`
	Entries   int    `json:"entries"`
}

// Inspect verifies a compressed snapshot and returns its header.
func Inspect(compressed []byte) (*Header, error) {
	data, err := decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	snap, entries, err := parse(data)
	if err != nil {
		return nil, err
	}

	return &Header{Version: snap.Version(), CreatedAt: snap.CreatedAt(), Entries: len(entries)}, nil
}

// collectEntries copies every key-value pair out of storage.
func collectEntries(db *storage.Storage) ([]entry, error) {
	var entries []entry

	err := db.Iterate(func(key, value []byte) error {
		entries = append(entries, entry{
			key:   append([]byte(nil), key...),
			value: append([]byte(nil), value...),
		})

		return nil
	})

	if err != nil {
		return nil, err
	}

	return entries, nil
}

// build creates the FlatBuffers snapshot with checksum.
func build(createdAt uint64, entries []entry) []byte {
	sortEntries(entries)

	checksum := computeChecksum(formatVersion, createdAt, entries)

	builder := flatbuffers.NewBuilder(1024)

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		keyOffset := builder.CreateByteVector(e.key)
		valueOffset := builder.CreateByteVector(e.value)

		types.SnapshotEntryStart(builder)
		types.SnapshotEntryAddKey(builder, keyOffset)
		types.SnapshotEntryAddValue(builder, valueOffset)
		offsets[i] = types.SnapshotEntryEnd(builder)
	}

	types.SnapshotStartEntriesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesVector := builder.EndVector(len(offsets))

	checksumOffset := builder.CreateByteVector(checksum[:])

	types.SnapshotStart(builder)
	types.SnapshotAddVersion(builder, formatVersion)
	types.SnapshotAddCreatedAt(builder, createdAt)
	types.SnapshotAddEntries(builder, entriesVector)
	types.SnapshotAddChecksum(builder, checksumOffset)
	builder.Finish(types.SnapshotEnd(builder))

	return builder.FinishedBytes()
}

// parse reads a snapshot, copies its entries out and verifies the checksum.
func parse(data []byte) (snap *types.Snapshot, entries []entry, err error) {
	defer func() {
		// flatbuffers accessors panic on truncated input
		if r := recover(); r != nil {
			snap, entries, err = nil, nil, fmt.Errorf("malformed snapshot: %v", r)
		}
	}()

	snap = types.GetRootAsSnapshot(data, 0)

	if snap.Version() != formatVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupported, snap.Version())
	}

	stored := snap.ChecksumBytes()
	if len(stored) != 32 {
		return nil, nil, fmt.Errorf("invalid checksum length: %d", len(stored))
	}

	entries = make([]entry, snap.EntriesLength())
	var e types.SnapshotEntry

	for i := range entries {
		if !snap.Entries(&e, i) {
			return nil, nil, fmt.Errorf("read entry %d", i)
		}

		entries[i] = entry{
			key:   append([]byte(nil), e.KeyBytes()...),
			value: append([]byte(nil), e.ValueBytes()...),
		}
	}

	sortEntries(entries)
	computed := computeChecksum(snap.Version(), snap.CreatedAt(), entries)

	if !bytes.Equal(computed[:], stored) {
		return nil, nil, ErrChecksumMismatch
	}

	return snap, entries, nil
}

// sortEntries sorts entries by key for deterministic ordering.
func sortEntries(entries []entry) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})
}

// computeChecksum computes a blake3 checksum over canonical snapshot data.
// Format: version (4 bytes) + createdAt (8 bytes) + for each entry
// key length (4) + key + value length (4) + value.
func computeChecksum(version uint32, createdAt uint64, entries []entry) [32]byte {
	hasher := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], version)
	hasher.Write(buf[:4])

	binary.BigEndian.PutUint64(buf[:], createdAt)
	hasher.Write(buf[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.key)))
		hasher.Write(buf[:4])
		hasher.Write(e.key)

		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.value)))
		hasher.Write(buf[:4])
		hasher.Write(e.value)
	}

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// compress compresses snapshot data using zstd.
func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompress decompresses zstd-compressed snapshot data.
func decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
