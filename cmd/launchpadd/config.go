package main

import (
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagConfig           = "config"
	flagData             = "data"
	flagHTTP             = "http"
	flagKey              = "key"
	flagChainID          = "chain-id"
	flagDev              = "dev"
	flagStartTime        = "start-time"
	flagOwner            = "owner"
	flagPaymentToken     = "payment-token"
	flagCreationFee      = "creation-fee"
	flagSnapshotDir      = "snapshot-dir"
	flagSnapshotInterval = "snapshot-interval"
	flagLogLevel         = "log-level"

	// envPrefix prefixes every environment variable, e.g. LAUNCHPAD_HTTP.
	envPrefix = "LAUNCHPAD"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// KeyPath is the path to the voucher authority key (generates new if missing).
	KeyPath string

	// ChainID is the chain id bound into every voucher domain.
	ChainID *big.Int

	// DevMode replaces the wall clock with an adjustable one and trusts the
	// "from" field of unsigned requests.
	DevMode bool

	// StartTime is the initial dev clock value; zero means now.
	StartTime uint64

	// Owner is the factory owner at genesis; zero means the authority address.
	Owner common.Address

	// PaymentToken is the token charged for launchpad creation.
	PaymentToken common.Address

	// CreationFee is the fee charged per launchpad, nil for none.
	CreationFee *big.Int

	// SnapshotDir is where periodic snapshots are written.
	SnapshotDir string

	// SnapshotInterval is the delay between snapshots.
	SnapshotInterval time.Duration

	// LogLevel is the minimum log level.
	LogLevel string
}

// addNodeFlags registers the serve flags on cmd.
func addNodeFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.String(flagData, "./data", "Data directory path")
	f.String(flagHTTP, ":8080", "HTTP API address")
	f.String(flagKey, "", "Voucher authority key path (generates new if missing, ephemeral if empty)")
	f.Uint64(flagChainID, 31337, "Chain id bound into voucher signatures")
	f.Bool(flagDev, false, "Development mode: adjustable clock, unsigned requests trusted")
	f.Uint64(flagStartTime, 0, "Initial dev clock time in unix seconds (0 = now)")
	f.String(flagOwner, "", "Factory owner address at genesis (default: authority address)")
	f.String(flagPaymentToken, "", "Token charged for launchpad creation")
	f.String(flagCreationFee, "", "Fee per launchpad in payment token units")
	f.String(flagSnapshotDir, "", "Snapshot directory (default: <data>/snapshots)")
	f.Duration(flagSnapshotInterval, time.Minute, "Interval between snapshots")
}

// newViper binds cmd's flags, LAUNCHPAD_* environment variables and the
// optional config file, in increasing order of precedence: file, env, flags.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags:\n%w", err)
	}

	if err := v.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, fmt.Errorf("bind flags:\n%w", err)
	}

	if path := v.GetString(flagConfig); path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s:\n%w", path, err)
		}
	}

	return v, nil
}

// loadConfig builds the node configuration from v.
func loadConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DataPath:         v.GetString(flagData),
		HTTPAddress:      v.GetString(flagHTTP),
		KeyPath:          v.GetString(flagKey),
		ChainID:          new(big.Int).SetUint64(v.GetUint64(flagChainID)),
		DevMode:          v.GetBool(flagDev),
		StartTime:        v.GetUint64(flagStartTime),
		SnapshotDir:      v.GetString(flagSnapshotDir),
		SnapshotInterval: v.GetDuration(flagSnapshotInterval),
		LogLevel:         v.GetString(flagLogLevel),
	}

	if cfg.ChainID.Sign() == 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}

	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = filepath.Join(cfg.DataPath, "snapshots")
	}

	var err error

	if cfg.Owner, err = optionalAddress(flagOwner, v.GetString(flagOwner)); err != nil {
		return nil, err
	}

	if cfg.PaymentToken, err = optionalAddress(flagPaymentToken, v.GetString(flagPaymentToken)); err != nil {
		return nil, err
	}

	if raw := v.GetString(flagCreationFee); raw != "" {
		fee, ok := math.ParseBig256(raw)
		if !ok || fee.Sign() < 0 {
			return nil, fmt.Errorf("invalid %s %q", flagCreationFee, raw)
		}

		cfg.CreationFee = fee
	}

	return cfg, nil
}

// optionalAddress parses a hex address, allowing an empty value.
func optionalAddress(name, raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, nil
	}

	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, raw)
	}

	return common.HexToAddress(raw), nil
}

// parseAddress parses a required hex address.
func parseAddress(name, raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, fmt.Errorf("%s is required", name)
	}

	return optionalAddress(name, raw)
}
