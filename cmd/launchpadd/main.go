package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"Launchpad/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd assembles the launchpadd command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "launchpadd",
		Short:         "Launchpad claim ledger node",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().String(flagConfig, "", "Config file (yaml, toml or json)")
	root.PersistentFlags().String(flagLogLevel, "info", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(),
		newKeygenCmd(),
		newSignVoucherCmd(),
		newSnapshotCmd(),
	)

	return root
}

// newServeCmd runs the node until interrupted.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			logger.Init(cfg.LogLevel)

			node, err := NewNode(cfg)
			if err != nil {
				return fmt.Errorf("create node:\n%w", err)
			}

			printStartupInfo(node)

			return node.Run()
		},
	}

	addNodeFlags(cmd)

	return cmd
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(n *Node) {
	st, err := n.service.Status()
	if err != nil {
		logger.Warn("status unavailable", "error", err)
		return
	}

	logger.Info("starting launchpad node",
		"chain_id", st.ChainID.String(),
		"http", n.cfg.HTTPAddress,
		"data", n.cfg.DataPath,
		"factory", st.Factory.Hex(),
		"authority", st.Issuer.Hex(),
		"dev", st.DevMode,
		"time", st.Time,
	)

	if n.cfg.CreationFee != nil {
		logger.Info("creation fee", "token", n.cfg.PaymentToken.Hex(), "amount", n.cfg.CreationFee.String())
	}
}
