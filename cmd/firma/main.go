// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dotandev/firma/internal/cmd"
	"github.com/dotandev/firma/internal/config"
	"github.com/dotandev/firma/internal/crashreport"
	"github.com/dotandev/firma/internal/version"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

func main() {
	version.Current = Version

	reporter := crashreport.New(crashConfig())
	ctx := context.Background()
	defer reporter.HandlePanic(ctx, subcommand())

	if err := cmd.Execute(); err != nil {
		if crashreport.ShouldReport(err) {
			_ = reporter.Send(ctx, err, nil, subcommand())
		}
		fmt.Fprintln(os.Stderr, cmd.FormatError(err))
		os.Exit(cmd.ExitCode(err))
	}
}

// crashConfig reads the [crash] section ahead of the command tree so that
// panics raised while parsing flags are covered too. A broken configuration
// disables reporting; the command itself reports the error.
func crashConfig() crashreport.Config {
	cfg, err := config.Load()
	if err != nil {
		return crashreport.Config{}
	}
	return crashreport.FromConfig(cfg.Crash, Version)
}

// subcommand names the command without its arguments, which may be paths.
func subcommand() string {
	if len(os.Args) < 2 {
		return "firma"
	}
	return "firma " + os.Args[1]
}
