// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package confirmation

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	firmaerrors "github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/validity"
)

// scripted answers Validate from a function of the current parameters and
// records every call.
type scripted struct {
	validate func(p *params.Params) (validity.Outcome, error)
	seen     []*params.Params
}

func (s *scripted) Name() string { return "fake" }
func (s *scripted) IsSign([]byte) bool { return true }
func (s *scripted) Validate(_ context.Context, _ []byte, p *params.Params) (validity.Outcome, error) {
	s.seen = append(s.seen, p.Clone())
	return s.validate(p)
}
func (s *scripted) Sign(context.Context, []byte, string, crypto.Signer, []*x509.Certificate, *params.Params) ([]byte, error) {
	return nil, nil
}
func (s *scripted) CoSign(context.Context, []byte, string, crypto.Signer, []*x509.Certificate, *params.Params) ([]byte, error) {
	return nil, nil
}
func (s *scripted) CounterSign(context.Context, []byte, string, format.Target, crypto.Signer, []*x509.Certificate, *params.Params) ([]byte, error) {
	return nil, nil
}
func (s *scripted) SignInfo([]byte) (*format.SignInfo, error) { return nil, nil }
func (s *scripted) SignersStructure([]byte) (*format.SignerTree, error) { return nil, nil }
func (s *scripted) Data([]byte) ([]byte, error) { return nil, nil }

type answer struct {
	yes     bool
	err     error
	prompts []string
}

func (a *answer) Confirm(_ context.Context, prompt string) (bool, error) {
	a.prompts = append(a.prompts, prompt)
	return a.yes, a.err
}

// unregistered behaves like a PDF with foreign signatures: it asks until
// the allow key is present.
func unregistered(p *params.Params) (validity.Outcome, error) {
	if p.Has("allowForeign") {
		return validity.Valid(), nil
	}
	return validity.NeedsConfirmation("Foreign signatures found",
		params.Of("allowForeign", "false"), params.Of("allowForeign", "true")), nil
}

func TestInteractiveAccept(t *testing.T) {
	capability := &scripted{validate: unregistered}
	confirmer := &answer{yes: true}
	var prompted []string
	c := New(confirmer)
	c.OnPrompt = func(p string) { prompted = append(prompted, p) }

	original := params.Of("k", "v")
	p, err := c.Run(context.Background(), Request{Capability: capability, Operation: operation.CoSign, Data: []byte("x"), Params: original})
	require.NoError(t, err)
	assert.Equal(t, "true", p.Value("allowForeign"))
	assert.Equal(t, "v", p.Value("k"))
	assert.False(t, original.Has("allowForeign"), "request parameters must not change")
	assert.Equal(t, []string{"Foreign signatures found"}, confirmer.prompts)
	assert.Equal(t, confirmer.prompts, prompted)
	assert.Len(t, capability.seen, 2)
}

func TestConfirmedHookRunsBeforeRevalidation(t *testing.T) {
	capability := &scripted{validate: unregistered}
	var events []string
	c := New(&answer{yes: true})
	c.OnPrompt = func(string) { events = append(events, "prompt") }
	c.OnConfirmed = func(p string) {
		events = append(events, "confirmed")
		assert.Len(t, capability.seen, 1, "the hook runs before the data is validated again")
		assert.Equal(t, "Foreign signatures found", p)
	}

	_, err := c.Run(context.Background(), Request{Capability: capability, Operation: operation.CoSign, Data: []byte("x"), Params: params.New()})
	require.NoError(t, err)
	assert.Equal(t, []string{"prompt", "confirmed"}, events)
	assert.Len(t, capability.seen, 2)

	declined := false
	c = New(&answer{yes: false})
	c.OnConfirmed = func(string) { declined = true }
	_, err = c.Run(context.Background(), Request{Capability: &scripted{validate: unregistered}, Operation: operation.CoSign, Data: []byte("x"), Params: params.New()})
	assert.ErrorIs(t, err, firmaerrors.ErrCancelled)
	assert.False(t, declined, "a declined prompt is not confirmed")
}

func TestHeadlessMergesDefaults(t *testing.T) {
	capability := &scripted{validate: unregistered}
	confirmer := &answer{yes: true}
	p, err := New(confirmer).Run(context.Background(), Request{
		Capability: capability, Operation: operation.Sign, Data: []byte("x"),
		Params: params.Of(params.Headless, "true"),
	})
	require.NoError(t, err)
	assert.Equal(t, "false", p.Value("allowForeign"))
	assert.Empty(t, confirmer.prompts)

	p, err = New(nil).Run(context.Background(), Request{Capability: &scripted{validate: unregistered}, Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, "false", p.Value("allowForeign"))
}

func TestDeclineCancels(t *testing.T) {
	for _, confirmer := range []*answer{{yes: false}, {err: firmaerrors.ErrCancelled}, {err: context.Canceled}} {
		_, err := New(confirmer).Run(context.Background(), Request{Capability: &scripted{validate: unregistered}, Data: []byte("x")})
		assert.True(t, errors.Is(err, firmaerrors.ErrCancelled))
		assert.Equal(t, firmaerrors.KindUserCancelled, firmaerrors.KindOf(err))
	}

	boom := errors.New("dialog crashed")
	_, err := New(&answer{err: boom}).Run(context.Background(), Request{Capability: &scripted{validate: unregistered}, Data: []byte("x")})
	assert.True(t, errors.Is(err, boom))
}

func TestStalledMergeAborts(t *testing.T) {
	// Asks forever with options that are already present.
	capability := &scripted{validate: func(*params.Params) (validity.Outcome, error) {
		return validity.NeedsConfirmation("again?", params.Of("a", "1"), params.Of("a", "1")), nil
	}}
	_, err := New(&answer{yes: true}).Run(context.Background(), Request{Capability: capability, Data: []byte("x")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, firmaerrors.ErrConfirmationStalled))
	assert.Equal(t, firmaerrors.KindGenericSigningFailure, firmaerrors.KindOf(err))
	assert.Len(t, capability.seen, 2)
}

func TestRoundCap(t *testing.T) {
	// Every answer grows the parameters but the validator never settles.
	n := 0
	capability := &scripted{validate: func(*params.Params) (validity.Outcome, error) {
		n++
		key := string(rune('a' + n%26))
		return validity.NeedsConfirmation("more?", params.Of(key, string(rune('0'+n%10))+key), nil), nil
	}}
	_, err := New(nil).Run(context.Background(), Request{Capability: capability, Data: []byte("x")})
	assert.True(t, errors.Is(err, firmaerrors.ErrConfirmationStalled))
	assert.Len(t, capability.seen, MaxRounds)
}

func TestTerminalOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		op      operation.Kind
		outcome validity.Outcome
		wantErr error
	}{
		{"valid", operation.CoSign, validity.Valid(), nil},
		{"unknown passes through", operation.CoSign, validity.Unknown("unreadable"), nil},
		{"sign over unsigned data", operation.Sign, validity.Invalid(validity.ReasonNoSignature, ""), nil},
		{"cosign over unsigned data", operation.CoSign, validity.Invalid(validity.ReasonNoSignature, ""), firmaerrors.ErrInvalidSignature},
		{"corrupt", operation.Sign, validity.Invalid(validity.ReasonCorruptSignature, "digest"), firmaerrors.ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capability := &scripted{validate: func(*params.Params) (validity.Outcome, error) { return tt.outcome, nil }}
			_, err := New(nil).Run(context.Background(), Request{Capability: capability, Operation: tt.op, Data: []byte("x")})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidationFailureIsInvalid(t *testing.T) {
	capability := &scripted{validate: func(*params.Params) (validity.Outcome, error) {
		return validity.Outcome{}, errors.New("disk on fire")
	}}
	_, err := New(nil).Run(context.Background(), Request{Capability: capability, Operation: operation.Sign, Data: []byte("x")})
	assert.True(t, errors.Is(err, firmaerrors.ErrInvalidSignature))
	assert.Contains(t, err.Error(), "disk on fire")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(nil).Run(ctx, Request{Capability: capability, Data: []byte("x")})
	assert.True(t, errors.Is(err, firmaerrors.ErrCancelled))
}

func TestShadowPagesDefault(t *testing.T) {
	run := func(p *params.Params) *params.Params {
		capability := &scripted{validate: func(*params.Params) (validity.Outcome, error) { return validity.Valid(), nil }}
		_, err := New(nil).Run(context.Background(), Request{Capability: capability, Data: []byte("x"), Params: p, PDF: true})
		require.NoError(t, err)
		return capability.seen[0]
	}
	assert.Equal(t, DefaultShadowPages, run(nil).Value(params.PagesToCheckShadowAttack))
	assert.Equal(t, "2", run(params.Of(params.PagesToCheckShadowAttack, "2")).Value(params.PagesToCheckShadowAttack))
	assert.False(t, run(params.Of(params.AllowShadowAttack, "true")).Has(params.PagesToCheckShadowAttack))
}
