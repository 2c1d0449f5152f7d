package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"Launchpad/internal/api"
	"Launchpad/internal/host"
	"Launchpad/internal/logger"
	"Launchpad/internal/service"
	"Launchpad/internal/snapshot"
	"Launchpad/internal/storage"
	"Launchpad/internal/voucher"
)

// apiServer is the HTTP front the node starts and stops.
type apiServer interface {
	Start() error
	Stop() error
}

// Node represents a running launchpad node.
type Node struct {
	cfg         *Config
	storage     *storage.Storage
	host        *host.Host
	service     *service.Service
	api         apiServer
	snapManager *snapshot.Manager
}

// NewNode opens storage, runs genesis and wires the API.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initService(); err != nil {
		n.Close()
		return nil, err
	}

	n.snapManager = snapshot.NewManager(n.storage, n.host, cfg.SnapshotDir, cfg.SnapshotInterval)
	n.api = api.New(cfg.HTTPAddress, n.service, n.snapManager, cfg.DevMode)

	if cfg.DevMode {
		logger.Warn("dev mode: unsigned requests are trusted")
	}

	return n, nil
}

// initStorage opens the pebble database.
func (n *Node) initStorage() error {
	db, err := storage.New(n.cfg.DataPath)
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}

	n.storage = db

	return nil
}

// initService builds the host and service and runs genesis.
func (n *Node) initService() error {
	key, err := voucher.LoadOrGenerateKey(n.cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	issuer := voucher.NewIssuer(key)

	var clock host.Clock = host.SystemClock{}
	var devClock *host.ManualClock

	if n.cfg.DevMode {
		start := n.cfg.StartTime
		if start == 0 {
			start = uint64(time.Now().Unix())
		}

		devClock = host.NewManualClock(start)
		clock = devClock
	}

	n.host = host.New(n.storage, clock, n.cfg.ChainID)
	n.service = service.New(n.host, issuer, devClock)

	owner := n.cfg.Owner
	if owner == (common.Address{}) {
		owner = issuer.Address()
	}

	_, err = n.service.Genesis(service.GenesisParams{
		Owner:        owner,
		PaymentToken: n.cfg.PaymentToken,
		CreationFee:  n.cfg.CreationFee,
	})
	if err != nil {
		return fmt.Errorf("genesis:\n%w", err)
	}

	return nil
}

// Run starts the node and blocks until shutdown signal.
func (n *Node) Run() error {
	n.snapManager.Start()

	if err := n.api.Start(); err != nil {
		n.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	return n.waitForShutdown()
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components and returns the first failure.
// Later components are closed even when an earlier one fails.
func (n *Node) Close() error {
	var first error

	if n.api != nil {
		if err := n.api.Stop(); err != nil {
			first = fmt.Errorf("stop api:\n%w", err)
		}
	}

	if n.snapManager != nil {
		n.snapManager.Stop()
	}

	if n.storage != nil {
		if err := n.storage.Close(); err != nil && first == nil {
			first = fmt.Errorf("close storage:\n%w", err)
		}
	}

	return first
}
