// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotandev/firma/internal/config"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/shutdown"
)

// Global flag variables
var (
	LogLevelFlag string
	HeadlessFlag bool
	KeystoreFlag string
	HistoryFlag  string
)

// cfg is loaded before any subcommand runs.
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "firma",
	Short: "Sign, co-sign and counter-sign electronic documents",
	Long: `Firma creates and inspects electronic signatures in the CAdES, XAdES and
PAdES families, FacturaE invoices and office documents included.

Key features:
  - Detect the signature format of any document automatically
  - Sign, co-sign and counter-sign with PKCS#12, PEM or PKCS#11 keys
  - Check existing signatures before adding a new one
  - Inspect the signers, certificates and policies of a container
  - Serve local applications over JSON-RPC

Examples:
  firma sign invoice.xml                       Sign with the detected format
  firma sign --format PAdES contract.pdf       Sign a PDF
  firma countersign --target tree doc.xsig     Counter-sign every signature
  firma analyze doc.xsig                       Show who signed a document
  firma certs                                  List the signing certificates

Configuration is read from .firma.toml, ~/.firma.toml or /etc/firma/config.toml
and FIRMA_* environment variables.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			c.LogLevel = LogLevelFlag
		}
		if HeadlessFlag {
			c.Headless = true
		}
		if KeystoreFlag != "" {
			c.Keystore.Path = KeystoreFlag
		}
		if HistoryFlag != "" {
			c.HistoryPath = HistoryFlag
		}
		logger.SetLevel(logger.ParseLevel(c.LogLevel))
		logger.Logger.Debug("Configuration loaded", "config", c.String())
		cfg = c
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI until it finishes or an interrupt arrives. Shutdown
// hooks registered by the command run in both cases.
func Execute() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	coordinator := shutdown.NewCoordinator()
	setShutdownCoordinator(coordinator)
	defer clearShutdownCoordinator()

	return executeWithSignals(ctx, cancel, sigCh, coordinator, func(execCtx context.Context) error {
		return rootCmd.ExecuteContext(execCtx)
	})
}

// executeWithSignals runs exec and cancels its context on the first
// signal. The command gets shutdownTimeout to return before the hooks run
// regardless.
func executeWithSignals(ctx context.Context, cancel context.CancelFunc, sigCh <-chan os.Signal, coordinator *shutdown.Coordinator, exec func(context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		done <- exec(ctx)
	}()

	select {
	case err := <-done:
		runShutdownHooksWithTimeout(coordinator, shutdownTimeout)
		return err
	case sig := <-sigCh:
		logger.Logger.Info("Interrupt received, cancelling", "signal", sig.String())
		cancel()
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			logger.Logger.Warn("Command did not stop in time")
		}
		runShutdownHooksWithTimeout(coordinator, shutdownTimeout)
		return ErrInterrupted
	}
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "signing", Title: "Signing Commands:"},
		&cobra.Group{ID: "inspect", Title: "Inspection Commands:"},
		&cobra.Group{ID: "utility", Title: "Utility Commands:"},
	)

	rootCmd.PersistentFlags().StringVar(
		&LogLevelFlag,
		"log-level",
		"info",
		"Log level (debug, info, warn, error)",
	)

	rootCmd.PersistentFlags().BoolVar(
		&HeadlessFlag,
		"headless",
		false,
		"Never prompt; apply default answers and fail where a choice is required",
	)

	rootCmd.PersistentFlags().StringVar(
		&KeystoreFlag,
		"keystore",
		"",
		"Keystore file, overriding keystore.path from the configuration",
	)

	rootCmd.PersistentFlags().StringVar(
		&HistoryFlag,
		"history",
		"",
		"History database, overriding history_path from the configuration",
	)
}
