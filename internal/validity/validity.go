// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package validity models the outcome of checking existing signatures.
package validity

import (
	"fmt"

	"github.com/dotandev/firma/internal/params"
)

type State int

const (
	StateValid State = iota
	StateInvalid
	StateNeedsConfirmation
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	case StateNeedsConfirmation:
		return "needs-confirmation"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateValid, StateInvalid, StateNeedsConfirmation, StateUnknown} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown validity state %q", text)
}

// Reason explains an invalid or unknown outcome.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonNoSignature          Reason = "NO_SIGN"
	ReasonCorruptSignature     Reason = "CORRUPTED_SIGN"
	ReasonNoMatchData          Reason = "NO_MATCH_DATA"
	ReasonCertificateProblem   Reason = "CERTIFICATE_PROBLEM"
	ReasonAlgorithmUnsupported Reason = "ALGORITHM_NOT_SUPPORTED"
	ReasonModifiedForm         Reason = "MODIFIED_FORM"
	ReasonOverlappingSignature Reason = "OVERLAPPING_SIGNATURE"
	ReasonUnknownError         Reason = "UNKNOWN_ERROR"
)

// Outcome is the result of one validation attempt. Exactly one of the
// three shapes applies, selected by State:
//
//   - StateValid carries nothing else.
//   - StateInvalid and StateUnknown carry a Reason and optional Detail.
//   - StateNeedsConfirmation carries a Prompt and the two option sets to
//     merge depending on the answer.
type Outcome struct {
	State  State  `json:"state"`
	Reason Reason `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`

	Prompt          string         `json:"prompt,omitempty"`
	DefaultOptions  *params.Params `json:"-"`
	AcceptedOptions *params.Params `json:"-"`
}

func Valid() Outcome {
	return Outcome{State: StateValid}
}

func Invalid(reason Reason, detail string) Outcome {
	return Outcome{State: StateInvalid, Reason: reason, Detail: detail}
}

func Unknown(detail string) Outcome {
	return Outcome{State: StateUnknown, Reason: ReasonUnknownError, Detail: detail}
}

// NeedsConfirmation asks the caller to decide before validation can finish.
// defaults is merged when nobody can be asked, accepted when the user agrees.
func NeedsConfirmation(prompt string, defaults, accepted *params.Params) Outcome {
	return Outcome{
		State:           StateNeedsConfirmation,
		Prompt:          prompt,
		DefaultOptions:  defaults,
		AcceptedOptions: accepted,
	}
}

func (o Outcome) IsValid() bool { return o.State == StateValid }

// IsTerminal reports whether the outcome ends a validation loop.
func (o Outcome) IsTerminal() bool { return o.State != StateNeedsConfirmation }

func (o Outcome) String() string {
	switch o.State {
	case StateValid:
		return "valid"
	case StateNeedsConfirmation:
		return fmt.Sprintf("needs-confirmation: %s", o.Prompt)
	}
	if o.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", o.State, o.Reason, o.Detail)
	}
	return fmt.Sprintf("%s (%s)", o.State, o.Reason)
}
