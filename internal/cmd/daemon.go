// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotandev/firma/internal/daemon"
)

var (
	daemonPort      string
	daemonAuthToken string
	daemonTracing   bool
	daemonOTLPURL   string
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "utility",
	Short:   "Start JSON-RPC server for local applications",
	Long: `Start a JSON-RPC 2.0 server on 127.0.0.1 that signs on behalf of local
applications. The server never prompts: requests without data fail with
NoDataToSign and confirmations take their default answer.

Methods:
  - Firma.Sign: sign, co-sign or counter-sign one document
  - Firma.Batch: run several operations with one certificate
  - Firma.Analyze: list the signers of a container
  - Firma.ResetSticky: forget the remembered certificate

Example:
  firma daemon --port 8089
  firma daemon --port 8089 --auth-token secret123`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("tracing") {
			cfg.Telemetry.Enabled = daemonTracing
		}
		if cmd.Flags().Changed("otlp-url") {
			cfg.Telemetry.ExporterURL = daemonOTLPURL
		}
		port := cfg.Daemon.Port
		if cmd.Flags().Changed("port") {
			port = daemonPort
		}
		token := cfg.Daemon.AuthToken
		if cmd.Flags().Changed("auth-token") {
			token = daemonAuthToken
		}

		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		in := interaction{headless: true}
		server := daemon.NewServer(s.orchestrator(in), s.analyzer(), token)

		fmt.Fprintf(cmd.ErrOrStderr(), "Starting firma daemon on 127.0.0.1:%s\n", port)
		if token != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "Authentication: enabled")
		}
		return server.Start(ctx, port)
	},
}

func init() {
	daemonCmd.Flags().StringVarP(&daemonPort, "port", "p", "8089", "Port to listen on")
	daemonCmd.Flags().StringVar(&daemonAuthToken, "auth-token", "", "Authentication token for API access")
	daemonCmd.Flags().BoolVar(&daemonTracing, "tracing", false, "Enable OpenTelemetry tracing")
	daemonCmd.Flags().StringVar(&daemonOTLPURL, "otlp-url", "http://localhost:4318", "OTLP exporter URL")

	rootCmd.AddCommand(daemonCmd)
}
