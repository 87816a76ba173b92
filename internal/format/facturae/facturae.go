// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package facturae signs Spanish electronic invoices. Invoices are always
// signed enveloped, under the FacturaE policy unless the caller brings its
// own, and carry a single signature.
package facturae

import (
	"context"
	"crypto"
	"crypto/x509"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/format/xades"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/validity"
)

// DefaultRole is claimed by the signer when no role is given.
const DefaultRole = "emisor"

// Signer is the FacturaE capability.
type Signer struct {
	xml *xades.Signer
}

func New() *Signer {
	return &Signer{xml: xades.New()}
}

func (s *Signer) Name() string {
	return format.FacturaE
}

// IsSign reports whether data is a signed invoice.
func (s *Signer) IsSign(data []byte) bool {
	return format.IsFacturae(data) && s.xml.IsSign(data)
}

func (s *Signer) Validate(ctx context.Context, data []byte, p *params.Params) (validity.Outcome, error) {
	if !format.IsFacturae(data) {
		return validity.Invalid(validity.ReasonNoSignature, "not an electronic invoice"), nil
	}
	return s.xml.Validate(ctx, data, p)
}

// Sign signs an unsigned invoice.
func (s *Signer) Sign(ctx context.Context, data []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.ErrNoDataToSign
	}
	if !format.IsFacturae(data) {
		return nil, errors.ErrInvalidFacturae
	}
	if s.xml.IsSign(data) {
		return nil, errors.ErrFacturaeAlreadySigned
	}

	p = invoiceParams(p)
	logger.Logger.Debug("Signing electronic invoice", "policy", p.Value(params.PolicyIdentifier))
	return s.xml.Sign(ctx, data, algorithm, key, chain, p)
}

// invoiceParams forces the enveloped layout and fills in the invoice policy
// and signer role when the caller gave none.
func invoiceParams(p *params.Params) *params.Params {
	out := p.Clone()
	out.Set(params.SignatureFormat, params.FormatEnveloped)
	if !out.Has(params.PolicyIdentifier) {
		out.Set(params.PolicyIdentifier, params.FacturaE31.Identifier)
		out.Set(params.PolicyIdentifierHash, params.FacturaE31.Hash)
		out.Set(params.PolicyIdentifierHashAlgorithm, params.FacturaE31.HashAlgorithm)
	}
	if !out.Has(params.SignerClaimedRoles) {
		out.Set(params.SignerClaimedRoles, DefaultRole)
	}
	return out
}

func (s *Signer) CoSign(ctx context.Context, sign []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	return nil, errors.WrapUnsupportedOperation(format.FacturaE, "co-signing")
}

func (s *Signer) CounterSign(ctx context.Context, sign []byte, algorithm string, target format.Target, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	return nil, errors.WrapUnsupportedOperation(format.FacturaE, "counter-signing")
}

func (s *Signer) SignInfo(sign []byte) (*format.SignInfo, error) {
	info, err := s.xml.SignInfo(sign)
	if err != nil {
		return nil, err
	}
	info.Format = format.FacturaE
	return info, nil
}

func (s *Signer) SignersStructure(sign []byte) (*format.SignerTree, error) {
	return s.xml.SignersStructure(sign)
}

func (s *Signer) Data(sign []byte) ([]byte, error) {
	return s.xml.Data(sign)
}
