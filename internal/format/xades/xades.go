// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package xades implements XAdES signatures on top of etree and signedxml.
// Every signature is written with exclusive canonicalization so that it can
// be verified on its own, whatever other signatures share the document.
package xades

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/moov-io/signedxml"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/validity"
)

// Variant says where the signed data lives relative to the signature.
type Variant string

const (
	Enveloped          Variant = "enveloped"
	Enveloping         Variant = "enveloping"
	InternallyDetached Variant = "detached"
	ExternallyDetached Variant = "externally-detached"
)

// Signer is the XAdES capability.
type Signer struct{}

// New returns the XAdES capability.
func New() *Signer {
	return &Signer{}
}

func (s *Signer) Name() string {
	return format.XAdES
}

// IsSign reports whether data is an XML document holding at least one
// XMLDSig signature.
func (s *Signer) IsSign(data []byte) bool {
	doc := format.ParseXML(data)
	return doc != nil && len(Signatures(doc)) > 0
}

// Sign creates the first signature over data. XML payloads are signed
// enveloped unless the format parameter asks otherwise; anything else is
// embedded in an enveloping signature.
func (s *Signer) Sign(ctx context.Context, data []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.ErrNoDataToSign
	}
	alg, err := format.LookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errors.ErrCertificateEncoding
	}
	alg = alg.ForKey(key.Public())

	doc := format.ParseXML(data)
	variant := requestedVariant(p, doc != nil)
	logger.Logger.Debug("Creating XAdES signature", "variant", variant, "algorithm", alg.Name)

	switch variant {
	case Enveloped:
		if doc == nil {
			return nil, errors.WrapInvalidXML(fmt.Errorf("enveloped signatures need an XML document"))
		}
		return s.signEnveloped(doc, alg, key, chain, p, data)
	case InternallyDetached:
		return s.signDetached(data, doc, alg, key, chain, p)
	default:
		sig, err := s.signEnveloping(data, doc, alg, key, chain, p)
		if err != nil {
			return nil, err
		}
		return serialize(etree.NewDocumentWithRoot(sig))
	}
}

func requestedVariant(p *params.Params, isXML bool) Variant {
	switch strings.ToLower(p.Value(params.SignatureFormat)) {
	case strings.ToLower(params.FormatEnveloping):
		return Enveloping
	case strings.ToLower(params.FormatDetached):
		return InternallyDetached
	case strings.ToLower(params.FormatEnveloped):
		return Enveloped
	}
	if isXML {
		return Enveloped
	}
	return Enveloping
}

func (s *Signer) signEnveloped(doc *etree.Document, alg format.Algorithm, key crypto.Signer, chain []*x509.Certificate, p *params.Params, data []byte) ([]byte, error) {
	work := doc.Copy()
	stripSignatures(work, nil)

	t := newTemplate(alg, chain, p)
	t.refs = []reference{{
		uri:        "",
		transforms: []string{AlgEnveloped, AlgExcC14N},
		mimeType:   mimeTypeOf(p, data),
	}}
	signed, err := signTemplate(work, work.Root(), t, key)
	if err != nil {
		return nil, err
	}

	out := doc.Copy()
	out.Root().AddChild(signed)
	return serialize(out)
}

func (s *Signer) signEnveloping(data []byte, doc *etree.Document, alg format.Algorithm, key crypto.Signer, chain []*x509.Certificate, p *params.Params) (*etree.Element, error) {
	t := newTemplate(alg, chain, p)
	objID := "Object-" + uuid.NewString()

	obj := etree.NewElement("ds:Object")
	obj.CreateAttr("Id", objID)
	ref := reference{uri: "#" + objID, transforms: []string{AlgExcC14N}, mimeType: mimeTypeOf(p, data)}
	if doc != nil {
		obj.CreateAttr("MimeType", "text/xml")
		obj.AddChild(doc.Root().Copy())
	} else {
		obj.CreateAttr("MimeType", ref.mimeType)
		obj.CreateAttr("Encoding", AlgBase64)
		obj.SetText(base64.StdEncoding.EncodeToString(data))
		ref.encoding = AlgBase64
	}
	t.object = obj
	t.refs = []reference{ref}

	return signTemplate(etree.NewDocument(), nil, t, key)
}

func (s *Signer) signDetached(data []byte, doc *etree.Document, alg format.Algorithm, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	contentID := "Content-" + uuid.NewString()
	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := out.CreateElement(detachedRoot)
	content := root.CreateElement(detachedChild)
	content.CreateAttr("Id", contentID)

	ref := reference{uri: "#" + contentID, transforms: []string{AlgExcC14N}, mimeType: mimeTypeOf(p, data)}
	if doc != nil {
		content.CreateAttr("MimeType", "text/xml")
		content.AddChild(doc.Root().Copy())
	} else {
		content.CreateAttr("MimeType", ref.mimeType)
		content.CreateAttr("Encoding", AlgBase64)
		content.SetText(base64.StdEncoding.EncodeToString(data))
		ref.encoding = AlgBase64
	}

	t := newTemplate(alg, chain, p)
	t.refs = []reference{ref}
	signed, err := signTemplate(out.Copy(), nil, t, key)
	if err != nil {
		return nil, err
	}
	out.Root().AddChild(signed)
	return serialize(out)
}

// CoSign adds an independent signature over the data already signed in
// sign, keeping the layout of the first signature.
func (s *Signer) CoSign(ctx context.Context, sign []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	doc, sigs, err := parseSigned(sign)
	if err != nil {
		return nil, err
	}
	if IsArchival(doc) {
		return nil, errors.ErrSigningArchivalSignature
	}
	alg, err := format.LookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	alg = alg.ForKey(key.Public())

	variant, target := DetectVariant(doc, sigs[0])
	logger.Logger.Debug("Co-signing XAdES container", "variant", variant, "signatures", len(sigs))

	switch variant {
	case Enveloped:
		data, err := s.Data(sign)
		if err != nil {
			return nil, err
		}
		return s.signEnveloped(doc, alg, key, chain, p, data)

	case InternallyDetached:
		t := newTemplate(alg, chain, p)
		t.refs = []reference{{
			uri:        "#" + idOf(target),
			transforms: []string{AlgExcC14N},
			mimeType:   target.SelectAttrValue("MimeType", ""),
			encoding:   target.SelectAttrValue("Encoding", ""),
		}}
		work := doc.Copy()
		stripSignatures(work, nil)
		signed, err := signTemplate(work, nil, t, key)
		if err != nil {
			return nil, err
		}
		doc.Root().AddChild(signed)
		return serialize(doc)

	case Enveloping:
		data, err := s.Data(sign)
		if err != nil {
			return nil, err
		}
		signed, err := s.signEnveloping(data, format.ParseXML(data), alg, key, chain, p)
		if err != nil {
			return nil, err
		}
		root := doc.Root()
		if Is(root, NSDSig, "Signature") {
			wrapped := etree.NewDocument()
			wrapped.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
			wrapper := wrapped.CreateElement(detachedRoot)
			wrapper.AddChild(root.Copy())
			doc = wrapped
			root = wrapper
		}
		root.AddChild(signed)
		return serialize(doc)
	}

	return nil, errors.WrapUnsupportedOperation(format.XAdES, "co-signing externally detached signatures")
}

// CounterSign endorses the signatures selected by target. Each
// counter-signature signs the SignatureValue element of the signature it
// endorses and is stored in that signature's unsigned properties.
func (s *Signer) CounterSign(ctx context.Context, sign []byte, algorithm string, target format.Target, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	doc, _, err := parseSigned(sign)
	if err != nil {
		return nil, err
	}
	if IsArchival(doc) {
		return nil, errors.ErrSigningArchivalSignature
	}
	alg, err := format.LookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	alg = alg.ForKey(key.Public())

	tree, elements := buildTree(doc)
	targets := format.CounterSignTargets(tree, target)
	logger.Logger.Debug("Counter-signing XAdES container", "target", target, "signatures", len(targets))

	for _, node := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := counterSignOne(elements[node], alg, key, chain, p); err != nil {
			return nil, err
		}
	}
	return serialize(doc)
}

func counterSignOne(sig *etree.Element, alg format.Algorithm, key crypto.Signer, chain []*x509.Certificate, p *params.Params) error {
	sv := Child(sig, NSDSig, "SignatureValue")
	if sv == nil {
		return errors.WrapInvalidFormat("signature without SignatureValue")
	}
	qp := QualifyingProperties(sig)
	if qp == nil {
		return errors.WrapUnsupportedOperation(format.XAdES, "counter-signing signatures without qualifying properties")
	}
	svID := sv.SelectAttrValue("Id", "")
	if svID == "" {
		svID = "SignatureValue-" + uuid.NewString()
		sv.CreateAttr("Id", svID)
	}

	t := newTemplate(alg, chain, p)
	t.namespace = qp.NamespaceURI()
	t.refs = []reference{{uri: "#" + svID, typ: TypeCountersigned, transforms: []string{AlgExcC14N}}}

	work := counterSignatureContext(sv, nil)
	signed, err := signTemplate(work, nil, t, key)
	if err != nil {
		return err
	}

	ns := qp.NamespaceURI()
	prefix := qp.Space
	tag := func(local string) string {
		if prefix == "" {
			return local
		}
		return prefix + ":" + local
	}
	up := Child(qp, ns, "UnsignedProperties")
	if up == nil {
		up = qp.CreateElement(tag("UnsignedProperties"))
	}
	usp := Child(up, ns, "UnsignedSignatureProperties")
	if usp == nil {
		usp = up.CreateElement(tag("UnsignedSignatureProperties"))
	}
	usp.CreateElement(tag("CounterSignature")).AddChild(signed)
	return nil
}

// counterSignatureContext builds the standalone document a counter-signature
// is computed and verified in: a copy of the endorsed SignatureValue next to
// the counter-signature itself.
func counterSignatureContext(sv, counter *etree.Element) *etree.Document {
	doc := etree.NewDocument()
	root := doc.CreateElement("CounterSignatureContext")
	svCopy := sv.Copy()
	if svCopy.SelectAttr(nsAttr(svCopy)) == nil {
		declareNamespace(svCopy, sv.NamespaceURI())
	}
	root.AddChild(svCopy)
	if counter != nil {
		cp := counter.Copy()
		if cp.SelectAttr(nsAttr(cp)) == nil {
			declareNamespace(cp, counter.NamespaceURI())
		}
		for _, nested := range Descendants(cp, NSDSig, "Signature")[1:] {
			detach(nested)
		}
		root.AddChild(cp)
	}
	return doc
}

func nsAttr(e *etree.Element) string {
	if e.Space == "" {
		return "xmlns"
	}
	return "xmlns:" + e.Space
}

// Validate verifies every signature of data on its own. Data without
// signatures is reported as Invalid(NO_SIGN).
func (s *Signer) Validate(ctx context.Context, data []byte, _ *params.Params) (validity.Outcome, error) {
	doc := format.ParseXML(data)
	if doc == nil || len(Signatures(doc)) == 0 {
		return validity.Invalid(validity.ReasonNoSignature, ""), nil
	}
	for _, sig := range Descendants(doc.Root(), NSDSig, "Signature") {
		if err := ctx.Err(); err != nil {
			return validity.Outcome{}, err
		}
		if err := Verify(doc, sig); err != nil {
			return validity.Invalid(validity.ReasonCorruptSignature, err.Error()), nil
		}
	}
	return validity.Valid(), nil
}

// Verify checks the integrity of one signature element of doc.
func Verify(doc *etree.Document, sig *etree.Element) error {
	var isolated *etree.Document
	if endorsed := endorsedSignature(sig); endorsed != nil {
		sv := Child(endorsed, NSDSig, "SignatureValue")
		if sv == nil {
			return errors.WrapInvalidFormat("endorsed signature without SignatureValue")
		}
		isolated = counterSignatureContext(sv, sig)
	} else {
		isolated = doc.Copy()
		stripSignatures(isolated, follow(isolated, path(sig)))
	}

	if err := prepareForValidation(isolatedSignature(isolated, sig)); err != nil {
		return err
	}
	xml, err := isolated.WriteToString()
	if err != nil {
		return err
	}
	v, err := signedxml.NewValidator(xml)
	if err != nil {
		return err
	}
	v.SetReferenceIDAttribute("Id")
	_, err = v.ValidateReferences()
	return err
}

// isolatedSignature finds the copy of sig that Verify checks in isolated.
func isolatedSignature(isolated *etree.Document, sig *etree.Element) *etree.Element {
	if endorsedSignature(sig) == nil {
		return follow(isolated, path(sig))
	}
	if sigs := Descendants(isolated.Root(), NSDSig, "Signature"); len(sigs) > 0 {
		return sigs[0]
	}
	return nil
}

// stripSignatures removes every ds:Signature of doc except keep.
func stripSignatures(doc *etree.Document, keep *etree.Element) {
	var drop []*etree.Element
	for _, sig := range Descendants(doc.Root(), NSDSig, "Signature") {
		if sig == keep {
			continue
		}
		drop = append(drop, sig)
	}
	for _, sig := range drop {
		if keep != nil && IsInside(keep, sig) {
			continue
		}
		detach(sig)
	}
}

func mimeTypeOf(p *params.Params, data []byte) string {
	if m := p.Value(params.MimeType); m != "" {
		return m
	}
	m := mimetype.Detect(data).String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return m
}

func parseSigned(sign []byte) (*etree.Document, []*etree.Element, error) {
	doc := format.ParseXML(sign)
	if doc == nil {
		return nil, nil, errors.WrapInvalidXML(fmt.Errorf("signature is not a well formed XML document"))
	}
	sigs := Signatures(doc)
	if len(sigs) == 0 {
		return nil, nil, errors.ErrNoSignatureFound
	}
	return doc, sigs, nil
}

func serialize(doc *etree.Document) ([]byte, error) {
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	return out, nil
}

func idOf(e *etree.Element) string {
	for _, a := range []string{"Id", "ID", "id"} {
		if v := e.SelectAttrValue(a, ""); v != "" {
			return v
		}
	}
	return ""
}
