// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package placement asks where a visible PDF signature goes and folds the
// answer into the signing parameters.
package placement

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/params"
)

// Selector shows the placement dialog. An empty result means the user
// cancelled.
type Selector interface {
	SelectPlacement(ctx context.Context, data []byte, isExistingSignature, isBatch, customizable bool) (map[string]string, error)
}

// Request is the input of one negotiation.
type Request struct {
	Data      []byte
	Operation operation.Kind
	Params    *params.Params
	PDF       bool
	Batch     bool
}

// Applies reports whether the request asks for a visible PDF signature.
func Applies(req Request) bool {
	if !req.PDF {
		return false
	}
	switch strings.ToLower(req.Params.Value(params.VisibleSignature)) {
	case params.VisibleWant, params.VisibleOptional:
		return true
	}
	return false
}

// HasExplicitPosition reports whether p already names the four corners and
// the page.
func HasExplicitPosition(p *params.Params) bool {
	for _, k := range params.PositionKeys {
		if strings.TrimSpace(p.Value(k)) == "" {
			return false
		}
	}
	return p.Value(params.SignaturePage) != "" || p.Value(params.SignaturePages) != ""
}

// Negotiate runs the dialog when it applies and returns the parameters to
// sign with. req.Params is not modified. A nil selector behaves as a
// cancelled dialog.
func Negotiate(ctx context.Context, sel Selector, req Request) (*params.Params, error) {
	p := req.Params.Clone()
	if !Applies(req) {
		return p, nil
	}
	want := strings.EqualFold(p.Value(params.VisibleSignature), params.VisibleWant)
	customizable := strings.EqualFold(p.Value(params.VisibleAppearance), params.AppearanceCustom)

	var result map[string]string
	if sel != nil {
		var err error
		result, err = sel.SelectPlacement(ctx, req.Data, req.Operation != operation.Sign, req.Batch, customizable)
		if err != nil && !stderrors.Is(err, errors.ErrCancelled) && !stderrors.Is(err, context.Canceled) {
			return nil, err
		}
	}

	if len(result) == 0 {
		if want && !HasExplicitPosition(p) {
			return nil, errors.ErrVisibleSignatureMandatory
		}
		logger.Logger.Debug("Placement dialog dismissed", "mandatory", want)
		return p, nil
	}

	Apply(p, result)
	return p, nil
}

// Apply merges a placement result into p. Position keys are always
// written; the page and appearance keys only when the result has them.
func Apply(p *params.Params, result map[string]string) {
	for _, k := range params.PositionKeys {
		p.Set(k, result[k])
	}
	switch {
	case result[params.SignaturePages] != "":
		p.Set(params.SignaturePages, result[params.SignaturePages])
		p.Delete(params.SignaturePage)
	case result[params.SignaturePage] != "":
		p.Set(params.SignaturePage, result[params.SignaturePage])
		p.Delete(params.SignaturePages)
	}
	for _, k := range params.AppearanceKeys {
		if v, ok := result[k]; ok {
			p.Set(k, v)
		}
	}
}
