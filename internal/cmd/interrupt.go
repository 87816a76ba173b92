// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/dotandev/firma/internal/errors"
)

const (
	InterruptExitCode = 130
	// CancelledExitCode is returned when the user declined a prompt.
	CancelledExitCode = 2
)

var ErrInterrupted = stderrors.New("interrupt received")

func IsInterrupted(err error) bool {
	return stderrors.Is(err, ErrInterrupted)
}

func IsCancellation(err error) bool {
	return stderrors.Is(err, context.Canceled)
}

// ExitCode maps a command error onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case IsInterrupted(err):
		return InterruptExitCode
	case IsCancellation(err), errors.KindOf(err) == errors.KindUserCancelled:
		return CancelledExitCode
	}
	return 1
}

// FormatError renders err for the terminal. Signing failures lead with
// their result kind so scripts can match on it.
func FormatError(err error) string {
	var se *errors.SignError
	if stderrors.As(err, &se) && se.Err != nil {
		return fmt.Sprintf("Error [%s]: %s: %v", se.Kind, se.Op, se.Err)
	}
	return fmt.Sprintf("Error: %v", err)
}
