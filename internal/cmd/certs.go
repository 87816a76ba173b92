// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/keystore"
)

var (
	certsOutputFlag  string
	certsSubjectFlag string
	certsValidFlag   bool
)

var certsCmd = &cobra.Command{
	Use:     "certs",
	GroupID: "inspect",
	Short:   "List the certificates of the keystore",
	Long: `List the certificates available for signing in the configured keystore,
with the alias to pass to --alias.`,
	Example: `  # Every certificate
  firma certs

  # Certificates of one holder that are still valid
  firma certs --subject "GARCIA" --valid`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := keystore.Open(cfg)
		if err != nil {
			return errors.Classify("certs", err)
		}
		defer keystore.Close(store)

		var filters []keystore.Filter
		if certsSubjectFlag != "" {
			filters = append(filters, keystore.SubjectContains(certsSubjectFlag))
		}
		if certsValidFlag {
			filters = append(filters, keystore.NonExpired{})
		}
		candidates, err := keystore.Candidates(cmd.Context(), store, filters)
		if err != nil {
			return errors.Classify("certs", err)
		}
		rows := certificateRows(candidates)
		return encode(cmd.OutOrStdout(), certsOutputFlag, rows, func() string { return certificatesTable(rows) })
	},
}

func init() {
	certsCmd.Flags().StringVarP(&certsOutputFlag, "output", "o", OutputTable, "Output format (table, json, yaml)")
	certsCmd.Flags().StringVar(&certsSubjectFlag, "subject", "", "Only certificates whose subject contains this text")
	certsCmd.Flags().BoolVar(&certsValidFlag, "valid", false, "Only certificates valid now")
	rootCmd.AddCommand(certsCmd)
}
