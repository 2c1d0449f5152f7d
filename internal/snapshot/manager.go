package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"Launchpad/internal/logger"
	"Launchpad/internal/storage"
)

const (
	// defaultInterval is the default interval between snapshots.
	defaultInterval = time.Minute

	// latestFile is the snapshot file name inside the snapshot directory.
	latestFile = "latest.snap"
)

// Source reports how far the state has advanced.
// A new snapshot is only taken when the sequence has moved.
type Source interface {
	LastSeq() (uint64, error)
	Now() uint64
}

// Manager writes periodic snapshots of the store to disk.
type Manager struct {
	db       *storage.Storage
	source   Source
	dir      string
	interval time.Duration

	running sync.Mutex // running serializes Snapshot so only one writes the file

	mu      sync.RWMutex
	current []byte // compressed snapshot data
	seq     uint64 // event sequence of current snapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a snapshot manager writing into dir.
// A non-positive interval selects the default.
func NewManager(db *storage.Storage, source Source, dir string, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Manager{
		db:       db,
		source:   source,
		dir:      dir,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the periodic snapshot loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop stops the loop, takes a final snapshot and waits for it to finish.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Latest returns the most recent compressed snapshot and its event sequence.
// Returns nil if no snapshot has been taken yet.
func (m *Manager) Latest() (data []byte, seq uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current, m.seq
}

// Path returns the file the manager writes.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, latestFile)
}

// loop runs the periodic snapshot creation.
func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			if err := m.Snapshot(); err != nil {
				logger.Error("final snapshot", "error", err)
			}
			return
		case <-ticker.C:
			if err := m.Snapshot(); err != nil {
				logger.Error("snapshot", "error", err)
			}
		}
	}
}

// Snapshot takes a snapshot now unless nothing changed since the last one.
func (m *Manager) Snapshot() error {
	m.running.Lock()
	defer m.running.Unlock()

	seq, err := m.source.LastSeq()
	if err != nil {
		return fmt.Errorf("read event sequence:\n%w", err)
	}

	m.mu.RLock()
	unchanged := m.current != nil && m.seq == seq
	m.mu.RUnlock()

	if unchanged {
		return nil
	}

	data, err := Create(m.db, m.source.Now())
	if err != nil {
		return err
	}

	if err := m.write(data); err != nil {
		return err
	}

	m.mu.Lock()
	m.current = data
	m.seq = seq
	m.mu.Unlock()

	logger.Debug("snapshot created", "seq", seq, "size", len(data), "path", m.Path())

	return nil
}

// write replaces the snapshot file via a temp file and rename.
func (m *Manager) write(data []byte) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir:\n%w", err)
	}

	tmp := m.Path() + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot:\n%w", err)
	}

	if err := os.Rename(tmp, m.Path()); err != nil {
		return fmt.Errorf("rename snapshot:\n%w", err)
	}

	return nil
}
