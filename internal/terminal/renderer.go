// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package terminal draws command output and reads the answers of the
// interactive prompts.
package terminal

// Renderer defines the interface for terminal drawing and interaction.
type Renderer interface {
	Print(a ...any)
	Printf(format string, a ...any)
	Println(a ...any)
	Colorize(text, color string) string
	Success() string
	Warning() string
	Error() string
	// ReadLine returns the next input line without its line ending.
	// io.EOF means the input is closed.
	ReadLine() (string, error)
	IsTTY() bool
}
