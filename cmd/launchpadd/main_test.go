package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Launchpad/internal/service"
	"Launchpad/internal/snapshot"
	"Launchpad/internal/storage"
	"Launchpad/internal/voucher"
)

// serveConfig parses serve flags and returns the resulting configuration.
func serveConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags(args))

	v, err := newViper(cmd)
	if err != nil {
		return nil, err
	}

	return loadConfig(v)
}

// execute runs the command tree and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)

	err := root.Execute()

	return out.String(), err
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := serveConfig(t)
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataPath)
	assert.Equal(t, ":8080", cfg.HTTPAddress)
	assert.Equal(t, int64(31337), cfg.ChainID.Int64())
	assert.False(t, cfg.DevMode)
	assert.Equal(t, filepath.Join("./data", "snapshots"), cfg.SnapshotDir)
	assert.Equal(t, time.Minute, cfg.SnapshotInterval)
	assert.Equal(t, common.Address{}, cfg.Owner)
	assert.Nil(t, cfg.CreationFee)
}

func TestConfigFlagsAndEnvironment(t *testing.T) {
	t.Setenv("LAUNCHPAD_HTTP", ":9000")
	t.Setenv("LAUNCHPAD_CHAIN_ID", "5")

	cfg, err := serveConfig(t,
		"--dev",
		"--chain-id", "11155111",
		"--owner", "0x00000000000000000000000000000000000000aa",
		"--creation-fee", "0x10",
	)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddress, "environment applies when the flag is unset")
	assert.Equal(t, int64(11155111), cfg.ChainID.Int64(), "flags take precedence over environment")
	assert.True(t, cfg.DevMode)
	assert.Equal(t, common.HexToAddress("0xaa"), cfg.Owner)
	assert.Equal(t, int64(16), cfg.CreationFee.Int64())
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http: \":7000\"\ndata: /var/lib/launchpad\n"), 0o644))

	t.Setenv("LAUNCHPAD_CONFIG", path)

	cfg, err := serveConfig(t)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.HTTPAddress)
	assert.Equal(t, "/var/lib/launchpad", cfg.DataPath)
	assert.Equal(t, filepath.Join("/var/lib/launchpad", "snapshots"), cfg.SnapshotDir)
}

func TestConfigRejectsBadValues(t *testing.T) {
	_, err := serveConfig(t, "--owner", "not-an-address")
	assert.Error(t, err)

	_, err = serveConfig(t, "--creation-fee", "-1")
	assert.Error(t, err)

	_, err = serveConfig(t, "--chain-id", "0")
	assert.Error(t, err)
}

func TestKeygenAndSignVoucher(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "authority.key")

	out, err := execute(t, "keygen", keyPath)
	require.NoError(t, err)

	signer := common.HexToAddress(strings.TrimSpace(out))
	require.NotEqual(t, common.Address{}, signer)

	_, err = execute(t, "keygen", keyPath)
	assert.Error(t, err, "keygen must not overwrite a key")

	lp := common.HexToAddress("0x01ad")
	user := common.HexToAddress("0xb1")

	out, err = execute(t, "sign-voucher",
		"--key", keyPath,
		"--launchpad", lp.Hex(),
		"--user", user.Hex(),
		"--amount", "500",
		"--round", "3",
		"--deadline", "1700003600",
	)
	require.NoError(t, err)

	var signed service.SignedVoucher
	require.NoError(t, json.Unmarshal([]byte(out), &signed))

	assert.Equal(t, signer, signed.Signer)
	assert.Equal(t, lp, signed.Launchpad)

	domain := voucher.Domain{
		Name:              service.DefaultDomainName,
		Version:           service.DefaultDomainVersion,
		ChainID:           big.NewInt(31337),
		VerifyingContract: lp,
	}

	claim := voucher.Voucher{
		User:          user,
		AllowedAmount: big.NewInt(500),
		RoundID:       3,
		Deadline:      1700003600,
	}

	assert.NoError(t, voucher.Verify(domain, claim, signed.Signature, signer))

	_, err = execute(t, "sign-voucher", "--key", keyPath, "--launchpad", lp.Hex(), "--user", user.Hex(), "--amount", "lots")
	assert.Error(t, err)
}

func TestSnapshotExportImport(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "src")
	dstDir := filepath.Join(t.TempDir(), "dst")
	file := filepath.Join(t.TempDir(), "state.snap")

	src, err := storage.New(srcDir)
	require.NoError(t, err)
	tx := src.NewTx()
	require.NoError(t, tx.Set([]byte("l:ledger"), []byte("record")))
	require.NoError(t, tx.Set([]byte("c:claim"), []byte{0x01}))
	require.NoError(t, tx.Commit())
	require.NoError(t, src.Close())

	_, err = execute(t, "snapshot", "export", file, "--data", srcDir)
	require.NoError(t, err)

	out, err := execute(t, "snapshot", "inspect", file)
	require.NoError(t, err)

	var header snapshot.Header
	require.NoError(t, json.Unmarshal([]byte(out), &header))
	assert.Equal(t, 2, header.Entries)

	_, err = execute(t, "snapshot", "import", file, "--data", dstDir)
	require.NoError(t, err)

	dst, err := storage.New(dstDir)
	require.NoError(t, err)
	defer dst.Close()

	value, err := dst.Get([]byte("l:ledger"))
	require.NoError(t, err)
	assert.Equal(t, "record", string(value))
}

// stuckServer is an API whose shutdown fails.
type stuckServer struct{ err error }

func (s stuckServer) Start() error { return nil }
func (s stuckServer) Stop() error  { return s.err }

func TestNodeCloseReportsFirstError(t *testing.T) {
	dir := t.TempDir()

	n, err := NewNode(&Config{
		DataPath:    filepath.Join(dir, "db"),
		SnapshotDir: filepath.Join(dir, "snapshots"),
		HTTPAddress: "127.0.0.1:0",
		ChainID:     big.NewInt(31337),
		DevMode:     true,
	})
	require.NoError(t, err)

	stopErr := errors.New("listener stuck")
	n.api = stuckServer{err: stopErr}

	require.ErrorIs(t, n.Close(), stopErr)

	// Storage was still closed, so the database can be reopened.
	db, err := storage.New(filepath.Join(dir, "db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
