// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package office signs OpenDocument and Office Open XML packages. Each
// signature is an XAdES signature whose manifest lists the digest of every
// covered part of the zip package.
package office

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/format/xades"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/validity"
)

// Signer is the capability for one package type.
type Signer struct {
	name   string
	layout layout
}

func NewODF() *Signer {
	return &Signer{name: format.ODF, layout: odfLayout{}}
}

func NewOOXML() *Signer {
	return &Signer{name: format.OOXML, layout: ooxmlLayout{}}
}

func (s *Signer) Name() string {
	return s.name
}

// signatures parses every signature part of p. Parts that do not parse
// are reported as errors.
func (s *Signer) signatures(p *pkg) ([]*etree.Document, error) {
	var docs []*etree.Document
	for _, part := range s.layout.signatureParts(p) {
		raw, _ := p.get(part)
		doc := format.ParseXML(raw)
		if doc == nil {
			return nil, errors.WrapInvalidXML(fmt.Errorf("%s is not well-formed", part))
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Signer) open(data []byte) (*pkg, []*etree.Document, error) {
	if !s.layout.matches(data) {
		return nil, nil, errors.WrapInvalidInputFormat(fmt.Errorf("not a %s package", s.name))
	}
	p, err := readPackage(data)
	if err != nil {
		return nil, nil, err
	}
	docs, err := s.signatures(p)
	if err != nil {
		return nil, nil, err
	}
	return p, docs, nil
}

func countSignatures(docs []*etree.Document) int {
	n := 0
	for _, d := range docs {
		n += len(xades.Signatures(d))
	}
	return n
}

func (s *Signer) IsSign(data []byte) bool {
	_, docs, err := s.open(data)
	return err == nil && countSignatures(docs) > 0
}

// Validate checks every signature against the current package parts.
func (s *Signer) Validate(ctx context.Context, data []byte, _ *params.Params) (validity.Outcome, error) {
	p, docs, err := s.open(data)
	if err != nil || countSignatures(docs) == 0 {
		return validity.Invalid(validity.ReasonNoSignature, ""), nil
	}
	resolve := s.resolver(p)
	for _, doc := range docs {
		for _, sig := range xades.Signatures(doc) {
			if err := ctx.Err(); err != nil {
				return validity.Outcome{}, err
			}
			if err := xades.VerifyManifest(doc, sig, resolve); err != nil {
				return validity.Invalid(validity.ReasonCorruptSignature, err.Error()), nil
			}
		}
	}
	return validity.Valid(), nil
}

// resolver maps manifest URIs back to covered parts.
func (s *Signer) resolver(p *pkg) func(string) ([]byte, bool) {
	byURI := make(map[string]string)
	for _, name := range p.names() {
		if s.layout.covered(name) {
			byURI[s.layout.uri(name)] = name
		}
	}
	return func(uri string) ([]byte, bool) {
		name, ok := byURI[uri]
		if !ok {
			return nil, false
		}
		return p.get(name)
	}
}

// Sign adds a signature to the package. Existing signatures are kept and
// stay valid because signature parts are not covered.
func (s *Signer) Sign(ctx context.Context, data []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.ErrNoDataToSign
	}
	if id := p.Value(params.PolicyIdentifier); id != "" {
		return nil, errors.WrapIncompatiblePolicy(id, s.name)
	}
	pk, _, err := s.open(data)
	if err != nil {
		return nil, err
	}

	var entries []xades.ManifestEntry
	for _, name := range pk.names() {
		if !s.layout.covered(name) {
			continue
		}
		b, _ := pk.get(name)
		entries = append(entries, xades.ManifestEntry{URI: s.layout.uri(name), Data: b})
	}
	sig, err := xades.SignManifest(entries, algorithm, key, chain, p)
	if err != nil {
		return nil, err
	}
	if err := s.layout.addSignature(pk, sig); err != nil {
		return nil, err
	}
	logger.Logger.Debug("Package signed", "format", s.name, "parts", len(entries))
	return pk.bytes()
}

func (s *Signer) CoSign(ctx context.Context, sign []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	if !s.IsSign(sign) {
		return nil, errors.ErrNoSignatureFound
	}
	return s.Sign(ctx, sign, algorithm, key, chain, p)
}

func (s *Signer) CounterSign(ctx context.Context, sign []byte, algorithm string, target format.Target, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	return nil, errors.WrapUnsupportedOperation(s.name, "counter-signing")
}

func (s *Signer) SignInfo(sign []byte) (*format.SignInfo, error) {
	_, docs, err := s.open(sign)
	if err != nil {
		return nil, err
	}
	n := countSignatures(docs)
	if n == 0 {
		return nil, errors.ErrNoSignatureFound
	}
	return &format.SignInfo{Format: s.name, Signers: n}, nil
}

// SignersStructure merges the signer trees of every signature part.
func (s *Signer) SignersStructure(sign []byte) (*format.SignerTree, error) {
	_, docs, err := s.open(sign)
	if err != nil {
		return nil, err
	}
	tree := &format.SignerTree{}
	x := xades.New()
	for _, doc := range docs {
		raw, err := doc.WriteToBytes()
		if err != nil {
			return nil, errors.WrapInvalidXML(err)
		}
		part, err := x.SignersStructure(raw)
		if err != nil {
			return nil, err
		}
		tree.Signers = append(tree.Signers, part.Signers...)
	}
	if len(tree.Signers) == 0 {
		return nil, errors.ErrNoSignatureFound
	}
	return tree, nil
}

// Data returns the package: its signatures live inside it.
func (s *Signer) Data(sign []byte) ([]byte, error) {
	if !s.layout.matches(sign) {
		return nil, errors.WrapInvalidInputFormat(fmt.Errorf("not a %s package", s.name))
	}
	return sign, nil
}
