package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStorage creates a temporary storage for testing.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

// commit writes pairs through a single transaction.
func commit(t *testing.T, s *Storage, pairs ...KeyValue) {
	t.Helper()

	tx := s.NewTx()
	for _, kv := range pairs {
		require.NoError(t, tx.Set(kv.Key, kv.Value))
	}

	require.NoError(t, tx.Commit())
}

func kv(key, value string) KeyValue {
	return KeyValue{Key: []byte(key), Value: []byte(value)}
}

func TestGetNonExistent(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.Get([]byte("non-existent"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetEmptyValue(t *testing.T) {
	s := newTestStorage(t)
	commit(t, s, kv("empty", ""))

	got, err := s.Get([]byte("empty"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestIteratePrefix(t *testing.T) {
	s := newTestStorage(t)
	commit(t, s, kv("a:1", "1"), kv("b:1", "2"), kv("b:2", "3"), kv("c:1", "4"))

	var keys []string
	err := s.IteratePrefix([]byte("b:"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b:1", "b:2"}, keys)
}

func TestIterateVisitsInOrder(t *testing.T) {
	s := newTestStorage(t)
	commit(t, s, kv("z", "1"), kv("a", "2"), kv("m", "3"))

	var keys []string
	err := s.Iterate(func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "m", "z"}, keys)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte{0x02, 0x00}, prefixUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}

func TestReplace(t *testing.T) {
	s := newTestStorage(t)
	commit(t, s, kv("old", "1"), kv("shared", "before"))

	require.NoError(t, s.Replace([]KeyValue{kv("shared", "after"), kv("new", "2")}))

	old, err := s.Get([]byte("old"))
	require.NoError(t, err)
	assert.Nil(t, old, "keys missing from the replacement are removed")

	shared, err := s.Get([]byte("shared"))
	require.NoError(t, err)
	assert.Equal(t, "after", string(shared))

	added, err := s.Get([]byte("new"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(added))
}

func TestReplaceWithNothingClears(t *testing.T) {
	s := newTestStorage(t)
	commit(t, s, kv("a", "1"), kv("b", "2"))

	require.NoError(t, s.Replace(nil))

	count := 0
	require.NoError(t, s.Iterate(func(key, value []byte) error {
		count++
		return nil
	}))
	assert.Zero(t, count)
}

func TestTxReadsOwnWrites(t *testing.T) {
	s := newTestStorage(t)
	commit(t, s, kv("k", "committed"))

	tx := s.NewTx()
	defer tx.Discard()

	require.NoError(t, tx.Set([]byte("k"), []byte("pending")))

	got, err := tx.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "pending", string(got))

	outside, err := s.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "committed", string(outside), "uncommitted write leaked")
}

func TestTxCommit(t *testing.T) {
	s := newTestStorage(t)

	tx := s.NewTx()
	require.NoError(t, tx.Set([]byte("x"), []byte("1")))
	require.NoError(t, tx.Commit())

	got, err := s.Get([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	assert.ErrorIs(t, tx.Set([]byte("y"), []byte("2")), ErrTxClosed)
	assert.ErrorIs(t, tx.Commit(), ErrTxClosed)
}

func TestTxDiscard(t *testing.T) {
	s := newTestStorage(t)
	commit(t, s, kv("keep", "v"))

	tx := s.NewTx()
	require.NoError(t, tx.Delete([]byte("keep")))
	require.NoError(t, tx.Set([]byte("drop"), []byte("v")))

	tx.Discard()
	tx.Discard()

	kept, err := s.Get([]byte("keep"))
	require.NoError(t, err)
	assert.NotNil(t, kept, "discarded delete was applied")

	dropped, err := s.Get([]byte("drop"))
	require.NoError(t, err)
	assert.Nil(t, dropped, "discarded write was applied")
}

func TestTxIteratePrefixSeesPending(t *testing.T) {
	s := newTestStorage(t)
	commit(t, s, kv("p:1", "a"))

	tx := s.NewTx()
	defer tx.Discard()

	require.NoError(t, tx.Set([]byte("p:2"), []byte("b")))

	count := 0
	err := tx.IteratePrefix([]byte("p:"), func(key, value []byte) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
