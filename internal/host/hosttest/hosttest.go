// Package hosttest builds throwaway hosts for tests.
package hosttest

import (
	"math/big"
	"path/filepath"
	"testing"

	"Launchpad/internal/host"
	"Launchpad/internal/storage"
)

const (
	// ChainID is the chain id of test hosts.
	ChainID = 31337

	// StartTime is the initial clock value of test hosts.
	StartTime = 1_700_000_000
)

// New creates a host over a temporary database with a manual clock at StartTime.
// The database is closed when the test ends.
func New(t testing.TB) (*host.Host, *host.ManualClock) {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	clock := host.NewManualClock(StartTime)

	return host.New(db, clock, big.NewInt(ChainID)), clock
}
