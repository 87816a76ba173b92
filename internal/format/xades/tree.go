// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package xades

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
)

// Signatures returns the top level signatures of doc, that is every
// ds:Signature that is not a counter-signature.
func Signatures(doc *etree.Document) []*etree.Element {
	var out []*etree.Element
	for _, sig := range Descendants(doc.Root(), NSDSig, "Signature") {
		if !isCounterSignature(sig) {
			out = append(out, sig)
		}
	}
	return out
}

func isCounterSignature(sig *etree.Element) bool {
	for n := sig.Parent(); n != nil; n = n.Parent() {
		if n.Tag == "CounterSignature" && IsQualifyingNamespace(n.NamespaceURI()) {
			return true
		}
	}
	return false
}

// endorsedSignature returns the signature a counter-signature endorses, or
// nil for top level signatures.
func endorsedSignature(sig *etree.Element) *etree.Element {
	if !isCounterSignature(sig) {
		return nil
	}
	for n := sig.Parent(); n != nil; n = n.Parent() {
		if Is(n, NSDSig, "Signature") {
			return n
		}
	}
	return nil
}

// IsArchival reports whether any signature of doc carries an archive
// time-stamp, usually xadesv141:ArchiveTimeStamp. Such containers are sealed
// for long-term preservation and must not be signed again.
func IsArchival(doc *etree.Document) bool {
	if doc == nil || doc.Root() == nil {
		return false
	}
	for _, e := range doc.Root().FindElements("//ArchiveTimeStamp") {
		if IsQualifyingNamespace(e.NamespaceURI()) {
			return true
		}
	}
	return false
}

// QualifyingProperties returns the XAdES properties of sig in any accepted
// namespace, or nil for plain XMLDSig signatures.
func QualifyingProperties(sig *etree.Element) *etree.Element {
	for _, obj := range Children(sig, NSDSig, "Object") {
		for _, c := range obj.ChildElements() {
			if c.Tag == "QualifyingProperties" && IsQualifyingNamespace(c.NamespaceURI()) {
				return c
			}
		}
	}
	return nil
}

// SignedSignatureProperties returns the SignedSignatureProperties element
// of sig, or nil.
func SignedSignatureProperties(sig *etree.Element) *etree.Element {
	qp := QualifyingProperties(sig)
	if qp == nil {
		return nil
	}
	ns := qp.NamespaceURI()
	return Child(Child(qp, ns, "SignedProperties"), ns, "SignedSignatureProperties")
}

// CounterSignatures returns the signatures stored directly in the unsigned
// properties of sig.
func CounterSignatures(sig *etree.Element) []*etree.Element {
	qp := QualifyingProperties(sig)
	if qp == nil {
		return nil
	}
	ns := qp.NamespaceURI()
	usp := Child(Child(qp, ns, "UnsignedProperties"), ns, "UnsignedSignatureProperties")
	var out []*etree.Element
	for _, cs := range Children(usp, ns, "CounterSignature") {
		out = append(out, Children(cs, NSDSig, "Signature")...)
	}
	return out
}

// DataReferences returns the references of sig that point at signed data,
// skipping the signed properties and manifests.
func DataReferences(sig *etree.Element) []*etree.Element {
	var out []*etree.Element
	for _, ref := range Children(Child(sig, NSDSig, "SignedInfo"), NSDSig, "Reference") {
		typ := ref.SelectAttrValue("Type", "")
		if strings.HasSuffix(typ, "#SignedProperties") || typ == TypeManifest {
			continue
		}
		out = append(out, ref)
	}
	return out
}

// DetectVariant classifies sig by its first data reference and returns the
// element holding the signed data when it is part of doc.
func DetectVariant(doc *etree.Document, sig *etree.Element) (Variant, *etree.Element) {
	refs := DataReferences(sig)
	if len(refs) == 0 {
		return ExternallyDetached, nil
	}
	uri := refs[0].SelectAttrValue("URI", "")
	if uri == "" || uri == "#xpointer(/)" {
		return Enveloped, nil
	}
	if !strings.HasPrefix(uri, "#") {
		return ExternallyDetached, nil
	}
	target := FindByID(doc.Root(), strings.TrimPrefix(uri, "#"))
	switch {
	case target == nil:
		return ExternallyDetached, nil
	case IsInside(target, sig):
		return Enveloping, target
	default:
		return InternallyDetached, target
	}
}

// SigningCertificate returns the first certificate of the key info of sig.
func SigningCertificate(sig *etree.Element) *x509.Certificate {
	certs := Certificates(sig)
	if len(certs) == 0 {
		return nil
	}
	return certs[0]
}

// Certificates returns every certificate carried in the key info of sig.
// Entries that do not parse are skipped.
func Certificates(sig *etree.Element) []*x509.Certificate {
	var out []*x509.Certificate
	for _, xd := range Children(Child(sig, NSDSig, "KeyInfo"), NSDSig, "X509Data") {
		for _, c := range Children(xd, NSDSig, "X509Certificate") {
			der, err := base64.StdEncoding.DecodeString(compact(c.Text()))
			if err != nil {
				continue
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				continue
			}
			out = append(out, cert)
		}
	}
	return out
}

// SigningTime returns the claimed signing time of sig, or the zero time.
func SigningTime(sig *etree.Element) time.Time {
	ssp := SignedSignatureProperties(sig)
	if ssp == nil {
		return time.Time{}
	}
	raw := ChildText(ssp, ssp.NamespaceURI(), "SigningTime")
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func compact(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}

// buildTree returns the signer tree of doc together with the element each
// node was built from.
func buildTree(doc *etree.Document) (*format.SignerTree, map[*format.SignerNode]*etree.Element) {
	elements := make(map[*format.SignerNode]*etree.Element)
	seq := 0
	var node func(sig *etree.Element) *format.SignerNode
	node = func(sig *etree.Element) *format.SignerNode {
		seq++
		n := &format.SignerNode{
			ID:          sig.SelectAttrValue("Id", fmt.Sprintf("signature-%d", seq)),
			Certificate: SigningCertificate(sig),
			SigningTime: SigningTime(sig),
		}
		if n.Certificate != nil {
			n.Subject = n.Certificate.Subject.String()
		}
		elements[n] = sig
		for _, cs := range CounterSignatures(sig) {
			n.Children = append(n.Children, node(cs))
		}
		return n
	}

	tree := &format.SignerTree{}
	for _, sig := range Signatures(doc) {
		tree.Signers = append(tree.Signers, node(sig))
	}
	return tree, elements
}

// SignersStructure returns the signers of sign as a tree whose children are
// counter-signatures.
func (s *Signer) SignersStructure(sign []byte) (*format.SignerTree, error) {
	doc, _, err := parseSigned(sign)
	if err != nil {
		return nil, err
	}
	tree, _ := buildTree(doc)
	return tree, nil
}

func (s *Signer) SignInfo(sign []byte) (*format.SignInfo, error) {
	doc, sigs, err := parseSigned(sign)
	if err != nil {
		return nil, err
	}
	variant, _ := DetectVariant(doc, sigs[0])
	tree, _ := buildTree(doc)
	return &format.SignInfo{Format: format.XAdES, Variant: string(variant), Signers: tree.Count()}, nil
}

// Data extracts the signed content of sign.
func (s *Signer) Data(sign []byte) ([]byte, error) {
	doc, sigs, err := parseSigned(sign)
	if err != nil {
		return nil, err
	}
	variant, holder := DetectVariant(doc, sigs[0])
	switch variant {
	case Enveloped:
		out := doc.Copy()
		stripSignatures(out, nil)
		return serialize(out)
	case Enveloping, InternallyDetached:
		return contentOf(holder)
	}
	return nil, errors.WrapInvalidFormat("the signed data is not included in the signature")
}

// contentOf decodes the data held by an enveloping ds:Object or a detached
// content node.
func contentOf(holder *etree.Element) ([]byte, error) {
	if children := holder.ChildElements(); len(children) > 0 {
		doc := etree.NewDocumentWithRoot(children[0].Copy())
		return serialize(doc)
	}
	text := holder.Text()
	if holder.SelectAttrValue("Encoding", "") == AlgBase64 || looksBase64(text) {
		data, err := base64.StdEncoding.DecodeString(compact(text))
		if err != nil {
			return nil, errors.WrapInvalidFormat("signed content is not valid base64")
		}
		return data, nil
	}
	return []byte(text), nil
}

func looksBase64(s string) bool {
	c := compact(s)
	if c == "" || len(c)%4 != 0 {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(c)
	return err == nil && !bytes.ContainsAny([]byte(c), "<&")
}
