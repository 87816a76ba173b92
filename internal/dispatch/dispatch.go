// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch runs the cryptographic operation of a request on the
// resolved capability and classifies its failures.
package dispatch

import (
	"context"
	"crypto"
	_ "crypto/sha1"
	"crypto/x509"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/telemetry"
)

// Request is everything the dispatcher needs for one operation.
type Request struct {
	Resolved  *format.Resolved
	Operation operation.Kind
	Data      []byte
	Algorithm string
	Key       crypto.Signer
	Chain     []*x509.Certificate
	Params    *params.Params
	// RequestID is generated when empty.
	RequestID string
}

// Dispatch performs the operation. Every error returned is a
// *errors.SignError.
func Dispatch(ctx context.Context, req Request) (*operation.Result, error) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.Start(ctx, "dispatch")
	defer span.End()

	op := req.Operation.String()
	if req.Resolved == nil || req.Resolved.Capability == nil {
		return nil, errors.Classify(op, errors.WrapUnsupportedFormat(""))
	}
	span.SetAttributes(
		attribute.String("operation", op),
		attribute.String("format", req.Resolved.ID),
		attribute.String("algorithm", req.Algorithm),
	)

	data, p := req.Data, req.Params.Clone()

	capability := req.Resolved.Capability
	var (
		signature []byte
		err       error
	)
	switch req.Operation {
	case operation.Sign:
		signature, err = capability.Sign(ctx, data, req.Algorithm, req.Key, req.Chain, p)
	case operation.CoSign:
		signature, err = capability.CoSign(ctx, data, req.Algorithm, req.Key, req.Chain, p)
	case operation.CounterSign:
		target := format.ParseTarget(p.Value(params.Target))
		span.SetAttributes(attribute.String("target", string(target)))
		signature, err = capability.CounterSign(ctx, data, req.Algorithm, target, req.Key, req.Chain, p)
	default:
		err = errors.WrapUnsupportedOperation(req.Resolved.ID, op)
	}
	if err == nil && ctx.Err() != nil {
		err = errors.ErrCancelled
	}
	if err != nil {
		classified := errors.Classify(op, err)
		span.RecordError(classified)
		span.SetStatus(codes.Error, string(errors.KindOf(classified)))
		logger.Logger.Warn("Operation failed", "operation", op, "format", req.Resolved.ID, "kind", errors.KindOf(classified), "error", err)
		return nil, classified
	}

	if len(req.Chain) == 0 || req.Chain[0] == nil || len(req.Chain[0].Raw) == 0 {
		return nil, errors.Classify(op, errors.ErrCertificateEncoding)
	}

	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	span.SetAttributes(attribute.Int("signature.size", len(signature)))
	logger.Logger.Info("Operation completed", "request", id, "operation", op, "format", req.Resolved.ID, "size", len(signature))
	return &operation.Result{
		RequestID:   id,
		Operation:   req.Operation,
		Format:      req.Resolved.ID,
		Signature:   signature,
		Certificate: req.Chain[0].Raw,
		Metadata:    make(map[string]string),
	}, nil
}

// PrepareData rewrites a deprecated explicit XAdES request so that it
// signs the SHA-1 digest of the data instead of the data. Any other
// request is returned as is. p is never modified; a rewritten request gets
// a copy.
func PrepareData(r *format.Resolved, op operation.Kind, data []byte, p *params.Params) ([]byte, *params.Params) {
	if r == nil || !usesDigestShim(r, op, p) {
		return data, p
	}
	return digestShim(data, p.Clone())
}

// usesDigestShim reports whether a deprecated explicit XAdES request asks
// to sign the SHA-1 digest of the data instead of the data.
func usesDigestShim(r *format.Resolved, op operation.Kind, p *params.Params) bool {
	return op == operation.Sign &&
		r.ID == format.XAdES &&
		strings.HasPrefix(strings.ToLower(r.Requested), "xades") &&
		!strings.EqualFold(r.Requested, format.XAdESTri) &&
		strings.EqualFold(p.Value(params.Mode), params.ModeExplicit)
}

// digestShim replaces data by its SHA-1 digest. When the digest cannot be
// computed the request goes on unchanged.
func digestShim(data []byte, p *params.Params) ([]byte, *params.Params) {
	if !crypto.SHA1.Available() {
		logger.Logger.Warn("SHA-1 unavailable, signing the data itself instead of its digest")
		return data, p
	}
	h := crypto.SHA1.New()
	h.Write(data)
	p.Set(params.MimeType, params.MimeTypeSHA1Digest)
	logger.Logger.Warn("Explicit XAdES mode is deprecated, signing the SHA-1 digest of the data")
	return h.Sum(nil), p
}
