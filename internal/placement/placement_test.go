// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	firmaerrors "github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/params"
)

type dialog struct {
	result map[string]string
	err    error

	calls        int
	existing     bool
	batch        bool
	customizable bool
}

func (d *dialog) SelectPlacement(_ context.Context, _ []byte, existing, batch, customizable bool) (map[string]string, error) {
	d.calls++
	d.existing, d.batch, d.customizable = existing, batch, customizable
	return d.result, d.err
}

var chosen = map[string]string{
	params.PositionLowerLeftX:  "10",
	params.PositionLowerLeftY:  "20",
	params.PositionUpperRightX: "200",
	params.PositionUpperRightY: "80",
	params.SignaturePage:       "-1",
	params.Layer2Text:          "Signed",
}

func TestNotApplicable(t *testing.T) {
	d := &dialog{result: chosen}
	for _, req := range []Request{
		{PDF: false, Params: params.Of(params.VisibleSignature, params.VisibleWant)},
		{PDF: true, Params: params.Of(params.VisibleSignature, "no")},
		{PDF: true},
	} {
		p, err := Negotiate(context.Background(), d, req)
		require.NoError(t, err)
		assert.False(t, p.Has(params.PositionLowerLeftX))
	}
	assert.Zero(t, d.calls)
}

func TestAcceptMergesResult(t *testing.T) {
	d := &dialog{result: chosen}
	original := params.Of(
		params.VisibleSignature, "Want",
		params.VisibleAppearance, params.AppearanceCustom,
		params.SignaturePages, "all",
		params.Layer2FontSize, "14",
	)
	p, err := Negotiate(context.Background(), d, Request{PDF: true, Batch: true, Operation: operation.CoSign, Params: original})
	require.NoError(t, err)

	assert.True(t, d.existing)
	assert.True(t, d.batch)
	assert.True(t, d.customizable)

	assert.Equal(t, "200", p.Value(params.PositionUpperRightX))
	assert.Equal(t, "-1", p.Value(params.SignaturePage))
	assert.False(t, p.Has(params.SignaturePages))
	assert.Equal(t, "Signed", p.Value(params.Layer2Text))
	assert.Equal(t, "14", p.Value(params.Layer2FontSize), "absent appearance keys keep their value")
	assert.False(t, original.Has(params.PositionUpperRightX))
}

func TestPositionKeysAlwaysWritten(t *testing.T) {
	p := params.Of(params.PositionLowerLeftX, "99")
	Apply(p, map[string]string{params.SignaturePages: "1,2"})
	assert.True(t, p.Has(params.PositionLowerLeftX))
	assert.Equal(t, "", p.Value(params.PositionLowerLeftX))
	assert.Equal(t, "1,2", p.Value(params.SignaturePages))
}

func TestCancel(t *testing.T) {
	explicit := params.Of(
		params.VisibleSignature, params.VisibleWant,
		params.PositionLowerLeftX, "1", params.PositionLowerLeftY, "1",
		params.PositionUpperRightX, "2", params.PositionUpperRightY, "2",
		params.SignaturePage, "1",
	)
	tests := []struct {
		name    string
		sel     Selector
		p       *params.Params
		wantErr error
	}{
		{"want without position", &dialog{}, params.Of(params.VisibleSignature, params.VisibleWant), firmaerrors.ErrVisibleSignatureMandatory},
		{"want cancelled by error", &dialog{err: firmaerrors.ErrCancelled}, params.Of(params.VisibleSignature, params.VisibleWant), firmaerrors.ErrVisibleSignatureMandatory},
		{"no dialog available", nil, params.Of(params.VisibleSignature, params.VisibleWant), firmaerrors.ErrVisibleSignatureMandatory},
		{"want with explicit position", &dialog{}, explicit, nil},
		{"optional", &dialog{}, params.Of(params.VisibleSignature, params.VisibleOptional), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Negotiate(context.Background(), tt.sel, Request{PDF: true, Params: tt.p})
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Equal(t, firmaerrors.KindVisibleSignatureMandatory, firmaerrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.p.Map(), p.Map())
		})
	}

	boom := errors.New("renderer failed")
	_, err := Negotiate(context.Background(), &dialog{err: boom}, Request{PDF: true, Params: params.Of(params.VisibleSignature, params.VisibleOptional)})
	assert.True(t, errors.Is(err, boom))
}
