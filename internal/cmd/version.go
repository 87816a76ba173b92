// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotandev/firma/internal/version"
)

var versionMinimumFlag string

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: "utility",
	Short:   "Print the version number of firma",
	Long: `Display the version of the firma CLI and the protocol version it speaks.
With --minimum, fail unless this build satisfies the given version, as a
calling application's minimumClientVersion would.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "firma version %s (protocol %d)\n", version.Current, version.Protocol)
		if versionMinimumFlag != "" {
			return version.CheckMinimum(version.Current, versionMinimumFlag)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().StringVar(&versionMinimumFlag, "minimum", "", "Required minimum version")
	rootCmd.AddCommand(versionCmd)
}
