// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import "github.com/dotandev/firma/internal/errors"

// State is a step of one request.
type State string

const (
	StateReceived             State = "received"
	StateSelectingData        State = "selecting-data"
	StateResolving            State = "resolving"
	StateValidating           State = "validating"
	StateAwaitingConfirmation State = "awaiting-confirmation"
	StateNegotiatingPlacement State = "negotiating-placement"
	StateSelectingCertificate State = "selecting-certificate"
	StateDispatching          State = "dispatching"
	StateSucceeded            State = "succeeded"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// StateChange is the payload of eventbus.TopicState events. Kind is set
// on the transition to StateFailed or StateCancelled.
type StateChange struct {
	RequestID string
	From      State
	To        State
	Kind      errors.Kind
}
