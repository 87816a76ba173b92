// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package version holds the client and protocol versions and the checks
// requests make against them.
package version

import (
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/dotandev/firma/internal/errors"
)

// Current will be set by the main package
var Current = "dev"

// Protocol is the highest request protocol version understood.
const Protocol = 4

// CheckProtocol fails when requested is newer than Protocol. Zero means
// the caller did not say and is accepted.
func CheckProtocol(requested int) error {
	if requested > Protocol {
		return errors.WrapUnsupportedProtocol(requested, Protocol)
	}
	return nil
}

// CheckMinimum fails when current is older than minimum. Development
// builds satisfy every minimum.
func CheckMinimum(current, minimum string) error {
	current = strings.TrimPrefix(strings.TrimSpace(current), "v")
	minimum = strings.TrimPrefix(strings.TrimSpace(minimum), "v")
	if minimum == "" || current == "" || current == "dev" {
		return nil
	}

	want, err := goversion.NewVersion(minimum)
	if err != nil {
		return errors.WrapInvalidParameters("bad minimum client version " + minimum)
	}
	have, err := goversion.NewVersion(current)
	if err != nil {
		return errors.WrapMinimumVersion(current, minimum)
	}
	if have.LessThan(want) {
		return errors.WrapMinimumVersion(current, minimum)
	}
	return nil
}
