// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotandev/firma/internal/history"
)

var (
	historyOutputFlag string
	historyStatusFlag string
	historyFormatFlag string
	historyErrorFlag  string
	historyLimitFlag  int
	historyMaxAgeFlag time.Duration
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "inspect",
	Short:   "Browse the journal of past operations",
	Long: `Every operation is journaled with its outcome, format and signer. No
document, signature or key material is stored.

Available subcommands:
  list     - Show recent operations
  show     - Show one operation
  cleanup  - Delete old entries`,
	Example: `  # Last failures
  firma history list --status failed

  # Failures caused by the keystore
  firma history list --error Keystore

  # Forget everything older than a week
  firma history cleanup --older-than 168h`,
}

func openHistory() (*history.Store, error) {
	journal, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return journal, nil
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		journal, err := openHistory()
		if err != nil {
			return err
		}
		defer journal.Close()

		entries, err := journal.List(cmd.Context(), history.ListParams{
			Status:     historyStatusFlag,
			Format:     historyFormatFlag,
			ErrorRegex: historyErrorFlag,
			Limit:      historyLimitFlag,
		})
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []history.Entry{}
		}
		return encode(cmd.OutOrStdout(), historyOutputFlag, entries, func() string { return historyTable(entries) })
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Show one operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		journal, err := openHistory()
		if err != nil {
			return err
		}
		defer journal.Close()

		entry, err := journal.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return encode(cmd.OutOrStdout(), historyOutputFlag, entry, func() string { return entryTable(entry) })
	},
}

var historyCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyMaxAgeFlag <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		journal, err := openHistory()
		if err != nil {
			return err
		}
		defer journal.Close()

		n, err := journal.Cleanup(cmd.Context(), historyMaxAgeFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d entries older than %s\n", n, historyMaxAgeFlag)
		return nil
	},
}

func init() {
	historyCmd.PersistentFlags().StringVarP(&historyOutputFlag, "output", "o", OutputTable, "Output format (table, json, yaml)")

	historyListCmd.Flags().StringVar(&historyStatusFlag, "status", "", "Filter by status (succeeded, failed, cancelled)")
	historyListCmd.Flags().StringVar(&historyFormatFlag, "format", "", "Filter by signature format")
	historyListCmd.Flags().StringVar(&historyErrorFlag, "error", "", "Filter by a regular expression over the error")
	historyListCmd.Flags().IntVarP(&historyLimitFlag, "limit", "n", 20, "Maximum entries to show, 0 for all")

	historyCleanupCmd.Flags().DurationVar(&historyMaxAgeFlag, "older-than", 30*24*time.Hour, "Delete entries older than this")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyCleanupCmd)
	rootCmd.AddCommand(historyCmd)
}
