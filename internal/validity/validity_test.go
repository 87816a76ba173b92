// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package validity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/firma/internal/params"
)

func TestOutcomeShapes(t *testing.T) {
	v := Valid()
	assert.True(t, v.IsValid())
	assert.True(t, v.IsTerminal())
	assert.Equal(t, "valid", v.String())

	inv := Invalid(ReasonNoSignature, "")
	assert.False(t, inv.IsValid())
	assert.True(t, inv.IsTerminal())
	assert.Equal(t, "invalid (NO_SIGN)", inv.String())

	unk := Unknown("read error")
	assert.Equal(t, StateUnknown, unk.State)
	assert.Equal(t, ReasonUnknownError, unk.Reason)
	assert.Contains(t, unk.String(), "read error")

	nc := NeedsConfirmation("accept obsolete policy?", params.Of("a", "1"), params.Of("a", "2"))
	assert.False(t, nc.IsTerminal())
	assert.Equal(t, "1", nc.DefaultOptions.Value("a"))
	assert.Equal(t, "2", nc.AcceptedOptions.Value("a"))
	assert.Contains(t, nc.String(), "obsolete policy")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "needs-confirmation", StateNeedsConfirmation.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestStateText(t *testing.T) {
	text, err := StateInvalid.MarshalText()
	require.NoError(t, err)

	var s State
	require.NoError(t, s.UnmarshalText(text))
	assert.Equal(t, StateInvalid, s)
	assert.Error(t, s.UnmarshalText([]byte("maybe")))
}
