package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"Launchpad/internal/service"
	"Launchpad/internal/snapshot"
	"Launchpad/internal/storage"
	"Launchpad/internal/voucher"
)

const (
	flagLaunchpad = "launchpad"
	flagUser      = "user"
	flagAmount    = "amount"
	flagRound     = "round"
	flagDeadline  = "deadline"
	flagName      = "name"
	flagVersion   = "version"
)

// newKeygenCmd writes a fresh authority key.
func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen [path]",
		Short: "Generate a voucher authority key and print its address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			key, err := voucher.LoadOrGenerateKey(path)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), crypto.PubkeyToAddress(key.PublicKey).Hex())

			return nil
		},
	}
}

// newSignVoucherCmd signs a voucher offline and prints it as JSON.
func newSignVoucherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign-voucher",
		Short: "Sign a claim voucher with an authority key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}

			signed, err := signVoucher(v)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), signed)
		},
	}

	f := cmd.Flags()
	f.String(flagKey, "", "Authority key path")
	f.Uint64(flagChainID, 31337, "Chain id of the node")
	f.String(flagLaunchpad, "", "Launchpad (verifying contract) address")
	f.String(flagUser, "", "Claimant address")
	f.String(flagAmount, "", "Allowed amount")
	f.Uint64(flagRound, 0, "Round id")
	f.Uint64(flagDeadline, 0, "Deadline in unix seconds")
	f.String(flagName, service.DefaultDomainName, "Domain name of the launchpad")
	f.String(flagVersion, service.DefaultDomainVersion, "Domain version of the launchpad")

	return cmd
}

// signVoucher builds and signs the voucher described by v.
func signVoucher(v *viper.Viper) (service.SignedVoucher, error) {
	keyPath := v.GetString(flagKey)
	if keyPath == "" {
		return service.SignedVoucher{}, fmt.Errorf("%s is required", flagKey)
	}

	key, err := crypto.LoadECDSA(keyPath)
	if err != nil {
		return service.SignedVoucher{}, fmt.Errorf("load key:\n%w", err)
	}

	lp, err := parseAddress(flagLaunchpad, v.GetString(flagLaunchpad))
	if err != nil {
		return service.SignedVoucher{}, err
	}

	user, err := parseAddress(flagUser, v.GetString(flagUser))
	if err != nil {
		return service.SignedVoucher{}, err
	}

	amount, ok := math.ParseBig256(v.GetString(flagAmount))
	if !ok || amount.Sign() < 0 {
		return service.SignedVoucher{}, fmt.Errorf("invalid %s %q", flagAmount, v.GetString(flagAmount))
	}

	chainID := new(big.Int).SetUint64(v.GetUint64(flagChainID))
	if chainID.Sign() == 0 {
		return service.SignedVoucher{}, fmt.Errorf("chain id must be positive")
	}

	domain := voucher.Domain{
		Name:              v.GetString(flagName),
		Version:           v.GetString(flagVersion),
		ChainID:           chainID,
		VerifyingContract: lp,
	}

	claim := voucher.Voucher{
		User:          user,
		AllowedAmount: amount,
		RoundID:       v.GetUint64(flagRound),
		Deadline:      v.GetUint64(flagDeadline),
	}

	issuer := voucher.NewIssuer(key)

	sig, err := issuer.Sign(domain, claim)
	if err != nil {
		return service.SignedVoucher{}, err
	}

	return service.SignedVoucher{
		Launchpad:     lp,
		User:          user,
		AllowedAmount: amount,
		RoundID:       claim.RoundID,
		Deadline:      claim.Deadline,
		Signature:     sig,
		Signer:        issuer.Address(),
	}, nil
}

// newSnapshotCmd groups the offline snapshot tools.
func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export, import and inspect state snapshots",
	}

	cmd.AddCommand(newSnapshotExportCmd(), newSnapshotImportCmd(), newSnapshotInspectCmd())

	return cmd
}

func newSnapshotExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write a snapshot of a stopped node's data directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, func(db *storage.Storage) error {
				data, err := snapshot.Create(db, uint64(time.Now().Unix()))
				if err != nil {
					return err
				}

				if err := os.WriteFile(args[0], data, 0o644); err != nil {
					return fmt.Errorf("write snapshot:\n%w", err)
				}

				return describe(cmd.OutOrStdout(), data)
			})
		},
	}

	cmd.Flags().String(flagData, "./data", "Data directory path")

	return cmd
}

func newSnapshotImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Replace a stopped node's state with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot:\n%w", err)
			}

			return withStorage(cmd, func(db *storage.Storage) error {
				header, err := snapshot.Restore(db, data)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), header)
			})
		},
	}

	cmd.Flags().String(flagData, "./data", "Data directory path")

	return cmd
}

func newSnapshotInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file]",
		Short: "Verify a snapshot file and print its header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot:\n%w", err)
			}

			return describe(cmd.OutOrStdout(), data)
		},
	}
}

// withStorage opens the configured data directory for the duration of fn.
func withStorage(cmd *cobra.Command, fn func(db *storage.Storage) error) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}

	db, err := storage.New(v.GetString(flagData))
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}
	defer db.Close()

	return fn(db)
}

// describe prints the header of a compressed snapshot.
func describe(w io.Writer, data []byte) error {
	header, err := snapshot.Inspect(data)
	if err != nil {
		return err
	}

	return printJSON(w, header)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
