// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package confirmation runs the validate, ask, merge and retry loop that
// precedes a signature over existing signed data.
package confirmation

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/validity"
)

// MaxRounds bounds the loop even when every merge grows the parameters.
const MaxRounds = 16

// DefaultShadowPages is the number of pages compared for content changed
// after signing when the caller does not say otherwise.
const DefaultShadowPages = "10"

// Confirmer asks the user a yes or no question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Request is the input of one confirmation run.
type Request struct {
	Capability format.Capability
	Operation  operation.Kind
	Data       []byte
	Params     *params.Params
	// PDF enables the modified-after-signing page check.
	PDF bool
}

// Controller drives the loop. A nil Confirmer behaves as headless.
type Controller struct {
	confirmer Confirmer
	maxRounds int
	// OnPrompt, when set, is called before the user is asked.
	OnPrompt func(prompt string)
	// OnConfirmed, when set, is called once the user accepted a prompt and
	// before the data is validated again.
	OnConfirmed func(prompt string)
}

func New(confirmer Confirmer) *Controller {
	return &Controller{confirmer: confirmer, maxRounds: MaxRounds}
}

// Run validates req.Data until the outcome is terminal and returns the
// parameters to sign with. req.Params is not modified.
func (c *Controller) Run(ctx context.Context, req Request) (*params.Params, error) {
	p := req.Params.Clone()
	if req.PDF && !p.Bool(params.AllowShadowAttack) && !p.Has(params.PagesToCheckShadowAttack) {
		p.Set(params.PagesToCheckShadowAttack, DefaultShadowPages)
	}
	headless := p.Bool(params.Headless) || c.confirmer == nil

	for round := 1; ; round++ {
		if round > c.maxRounds {
			return nil, fmt.Errorf("%w: no terminal outcome after %d rounds", errors.ErrConfirmationStalled, c.maxRounds)
		}
		outcome, err := req.Capability.Validate(ctx, req.Data, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.ErrCancelled
			}
			outcome = validity.Invalid(validity.ReasonUnknownError, err.Error())
		}
		logger.Logger.Debug("Signature check", "round", round, "outcome", outcome.String())

		switch outcome.State {
		case validity.StateValid, validity.StateUnknown:
			return p, nil
		case validity.StateInvalid:
			if req.Operation == operation.Sign && outcome.Reason == validity.ReasonNoSignature {
				return p, nil
			}
			return nil, fmt.Errorf("%w: %s", errors.ErrInvalidSignature, outcome.String())
		}

		options, err := c.decide(ctx, outcome, headless)
		if err != nil {
			return nil, err
		}
		if !p.Merge(options) {
			return nil, fmt.Errorf("%w: options %s did not change the parameters", errors.ErrConfirmationStalled, options)
		}
	}
}

// decide returns the options to merge for a NeedsConfirmation outcome.
func (c *Controller) decide(ctx context.Context, outcome validity.Outcome, headless bool) (*params.Params, error) {
	if headless {
		logger.Logger.Info("Applying default answer", "prompt", outcome.Prompt)
		return outcome.DefaultOptions, nil
	}
	if c.OnPrompt != nil {
		c.OnPrompt(outcome.Prompt)
	}
	ok, err := c.confirmer.Confirm(ctx, outcome.Prompt)
	switch {
	case err != nil && (stderrors.Is(err, errors.ErrCancelled) || stderrors.Is(err, context.Canceled)):
		return nil, errors.ErrCancelled
	case err != nil:
		return nil, err
	case !ok:
		return nil, errors.ErrCancelled
	}
	if c.OnConfirmed != nil {
		c.OnConfirmed(outcome.Prompt)
	}
	return outcome.AcceptedOptions, nil
}
