// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package cades implements CMS signatures with CAdES signed attributes on
// top of digitorus/pkcs7.
package cades

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"

	"github.com/digitorus/pkcs7"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/validity"
)

const (
	VariantImplicit = "implicit"
	VariantExplicit = "explicit"
)

// Signer is the CAdES capability.
type Signer struct{}

func New() *Signer {
	return &Signer{}
}

func (s *Signer) Name() string {
	return format.CAdES
}

func parse(sign []byte) (*pkcs7.PKCS7, error) {
	p7, err := pkcs7.Parse(sign)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrNoSignatureFound, err)
	}
	if len(p7.Signers) == 0 {
		return nil, errors.ErrNoSignatureFound
	}
	return p7, nil
}

func (s *Signer) IsSign(data []byte) bool {
	_, err := parse(data)
	return err == nil
}

// Validate verifies every signer of a CMS structure. Detached signatures
// cannot be checked without their data and are reported as unknown.
func (s *Signer) Validate(ctx context.Context, data []byte, _ *params.Params) (validity.Outcome, error) {
	p7, err := parse(data)
	if err != nil {
		return validity.Invalid(validity.ReasonNoSignature, ""), nil
	}
	if len(p7.Content) == 0 {
		return validity.Unknown("detached signature without its data"), nil
	}
	if err := p7.Verify(); err != nil {
		return validity.Invalid(validity.ReasonCorruptSignature, err.Error()), nil
	}
	roots, _, _, err := decodeSigners(p7)
	if err == nil {
		err = verifyCounterSignatures(roots, p7.Certificates)
	}
	if err != nil {
		return validity.Invalid(validity.ReasonCorruptSignature, err.Error()), nil
	}
	return validity.Valid(), nil
}

// Sign wraps data in a new SignedData. mode=explicit leaves the content out.
func (s *Signer) Sign(ctx context.Context, data []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.ErrNoDataToSign
	}
	sd, err := pkcs7.NewSignedData(data)
	if err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	if err := addSigner(sd, data, algorithm, key, chain, p); err != nil {
		return nil, err
	}
	if p.Value(params.Mode) == params.ModeExplicit {
		sd.Detach()
	}
	return finish(sd)
}

func addSigner(sd *pkcs7.SignedData, data []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) error {
	alg, err := format.LookupAlgorithm(algorithm)
	if err != nil {
		return err
	}
	if len(chain) == 0 {
		return errors.ErrCertificateEncoding
	}
	oid, err := DigestOID(alg.Hash)
	if err != nil {
		return err
	}
	sd.SetDigestAlgorithm(oid)

	if ct := p.Value(params.ContentTypeOid); ct != "" {
		ctOID, err := parseOID(ct)
		if err != nil {
			return errors.WrapInvalidParameters("content type is not an OID: " + ct)
		}
		sd.SetContentType(ctOID)
	}

	attrs, err := SignedAttributes(chain[0], alg.Hash, data, p)
	if err != nil {
		return err
	}
	logger.Logger.Debug("Adding CMS signer", "subject", chain[0].Subject.CommonName, "algorithm", alg.Name)
	if err := sd.AddSignerChain(chain[0], key, chain[1:], pkcs7.SignerInfoConfig{ExtraSignedAttributes: attrs}); err != nil {
		return errors.WrapSigningFailed(err)
	}
	return nil
}

func finish(sd *pkcs7.SignedData) ([]byte, error) {
	out, err := sd.Finish()
	if err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	return out, nil
}

// CoSign adds a parallel signer over the content already signed in sign.
func (s *Signer) CoSign(ctx context.Context, sign []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	p7, err := parse(sign)
	if err != nil {
		return nil, err
	}
	if IsArchival(p7) {
		return nil, errors.ErrSigningArchivalSignature
	}
	if len(p7.Content) == 0 {
		return nil, errors.WrapUnsupportedOperation(format.CAdES, "co-signing detached signatures without their data")
	}

	sd, err := pkcs7.NewSignedData(p7.Content)
	if err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	if err := addSigner(sd, p7.Content, algorithm, key, chain, p); err != nil {
		return nil, err
	}

	inner := sd.GetSignedData()
	signers := append(p7.Signers[:len(p7.Signers):len(p7.Signers)], inner.SignerInfos...)
	inner.SignerInfos = signers
	for _, si := range p7.Signers {
		known := false
		for _, d := range inner.DigestAlgorithmIdentifiers {
			if d.Algorithm.Equal(si.DigestAlgorithm.Algorithm) {
				known = true
				break
			}
		}
		if !known {
			inner.DigestAlgorithmIdentifiers = append(inner.DigestAlgorithmIdentifiers, si.DigestAlgorithm)
		}
	}
	for _, c := range p7.Certificates {
		if !containsCert(chain, c) {
			sd.AddCertificate(c)
		}
	}
	return finish(sd)
}

func containsCert(chain []*x509.Certificate, c *x509.Certificate) bool {
	for _, x := range chain {
		if bytes.Equal(x.Raw, c.Raw) {
			return true
		}
	}
	return false
}

// CounterSign endorses the signers selected by target. Each
// counter-signature is a SignerInfo over the signature value it endorses,
// stored in the counterSignature unsigned attribute of that signer.
func (s *Signer) CounterSign(ctx context.Context, sign []byte, algorithm string, target format.Target, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	p7, err := parse(sign)
	if err != nil {
		return nil, err
	}
	if IsArchival(p7) {
		return nil, errors.ErrSigningArchivalSignature
	}
	alg, err := format.LookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errors.ErrCertificateEncoding
	}

	roots, tree, nodes, err := decodeSigners(p7)
	if err != nil {
		return nil, errors.WrapInvalidFormat(err.Error())
	}
	targets := format.CounterSignTargets(tree, target)
	logger.Logger.Debug("Counter-signing CMS signers", "target", target, "signatures", len(targets))

	for _, node := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		endorsed := nodes[node]
		cs, err := counterSigner(endorsed.info.EncryptedDigest, alg, key, chain)
		if err != nil {
			return nil, err
		}
		endorsed.children = append(endorsed.children, cs)
	}
	return reassemble(p7, roots, chain)
}

// IsArchival reports whether any signer carries an archive time-stamp.
func IsArchival(p7 *pkcs7.PKCS7) bool {
	for _, si := range p7.Signers {
		for _, attr := range si.UnauthenticatedAttributes {
			if attr.Type.Equal(OIDArchiveTimestampV2) || attr.Type.Equal(OIDArchiveTimestampV3) {
				return true
			}
		}
	}
	return false
}

func (s *Signer) SignInfo(sign []byte) (*format.SignInfo, error) {
	p7, err := parse(sign)
	if err != nil {
		return nil, err
	}
	variant := VariantImplicit
	if len(p7.Content) == 0 {
		variant = VariantExplicit
	}
	signers := len(p7.Signers)
	if _, tree, _, err := decodeSigners(p7); err == nil {
		signers = tree.Count()
	}
	return &format.SignInfo{Format: format.CAdES, Variant: variant, Signers: signers}, nil
}

// SignersStructure returns the parallel signers of sign with their
// counter-signatures as children.
func (s *Signer) SignersStructure(sign []byte) (*format.SignerTree, error) {
	p7, err := parse(sign)
	if err != nil {
		return nil, err
	}
	_, tree, _, err := decodeSigners(p7)
	if err != nil {
		return nil, errors.WrapInvalidFormat(err.Error())
	}
	return tree, nil
}

func (s *Signer) Data(sign []byte) ([]byte, error) {
	p7, err := parse(sign)
	if err != nil {
		return nil, err
	}
	if len(p7.Content) == 0 {
		return nil, errors.WrapInvalidFormat("detached signature does not include the signed data")
	}
	return p7.Content, nil
}
