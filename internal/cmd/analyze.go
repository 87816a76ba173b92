// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dotandev/firma/internal/analyzer"
	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format/builtin"
)

var analyzeOutputFlag string

var analyzeCmd = &cobra.Command{
	Use:     "analyze <file>",
	GroupID: "inspect",
	Short:   "Show the signers of a signed document",
	Long: `Analyze a signature container and list its signatures: signer and issuer
certificates, profile, algorithm, signing time, policy and the result of the
integrity check. Counter-signatures are shown under the signature they endorse.`,
	Example: `  # Table of signers
  firma analyze report_signed.xsig

  # Full report as JSON
  firma analyze -o json report_signed.xsig`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return errors.Classify("analyze", errors.WrapReadingData(err))
		}
		report, err := analyzer.New(builtin.Catalog()).Analyze(cmd.Context(), data)
		if err != nil {
			return err
		}
		return encode(cmd.OutOrStdout(), analyzeOutputFlag, report, func() string { return reportTable(report) })
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOutputFlag, "output", "o", OutputTable, "Output format (table, json, yaml)")
	_ = analyzeCmd.RegisterFlagCompletionFunc("output", cobra.FixedCompletions(outputFormats, cobra.ShellCompDirectiveNoFileComp))
	rootCmd.AddCommand(analyzeCmd)
}
