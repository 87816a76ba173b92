// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package xades

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"github.com/beevik/etree"
	"github.com/moov-io/signedxml"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
)

// signTemplate places the signature template under parent (or as the
// document root when parent is nil), computes digests and the signature
// value, and returns the signed element detached from its document.
//
// Transforms and canonicalization come from signedxml so that the result
// verifies with its Validator. The signature value itself is computed
// through crypto.Signer, which keeps EC keys and token-backed keys usable.
func signTemplate(work *etree.Document, parent *etree.Element, t *template, key crypto.Signer) (*etree.Element, error) {
	tmpl := t.build()
	switch {
	case parent != nil:
		parent.AddChild(tmpl)
	case work.Root() != nil:
		work.Root().AddChild(tmpl)
	default:
		work.SetRoot(tmpl)
	}

	// Verifiers read the serialised form, so digests are computed on it too.
	xml, err := work.WriteToString()
	if err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	dropDeclaration(doc)

	sig := FindByID(doc.Root(), t.id)
	if sig == nil {
		return nil, errors.WrapSigningFailed(fmt.Errorf("signature template %s not found", t.id))
	}
	si := sig.SelectElement("SignedInfo")
	if si == nil {
		return nil, errors.WrapSigningFailed(fmt.Errorf("signature template without SignedInfo"))
	}
	scopeSignedInfo(doc, sig, si)

	if err := digestReferences(doc, si); err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	value, err := signatureValue(si, t.alg, key)
	if err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	sv := sig.SelectElement("SignatureValue")
	if sv == nil {
		return nil, errors.WrapSigningFailed(fmt.Errorf("signature template without SignatureValue"))
	}
	sv.SetText(base64.StdEncoding.EncodeToString(value))

	detach(sig)
	return sig, nil
}

// dropDeclaration removes the XML declaration and the whitespace around it,
// as signedxml does before it reads a document.
func dropDeclaration(doc *etree.Document) {
	for _, tok := range doc.Child {
		if pi, ok := tok.(*etree.ProcInst); ok && pi.Target == "xml" {
			doc.RemoveChild(pi)
			break
		}
	}
	for _, tok := range doc.Child {
		if cd, ok := tok.(*etree.CharData); ok {
			doc.RemoveChild(cd)
		}
	}
}

// scopeSignedInfo gives SignedInfo the namespace declaration of its
// signature in place of its own attributes. signedxml canonicalizes
// SignedInfo in that shape when it verifies, so it is signed in that shape.
func scopeSignedInfo(doc *etree.Document, sig, si *etree.Element) {
	key := "xmlns"
	if si.Space != "" {
		key = si.Space
	}
	if attr := sig.SelectAttr(key); attr != nil {
		si.Attr = []etree.Attr{*attr}
	}
	if root := doc.Root(); root != nil {
		if ns := root.SelectAttr("xmlns:" + si.Space); ns != nil && si.SelectAttr("xmlns:"+si.Space) == nil {
			si.CreateAttr("xmlns:"+si.Space, ns.Value)
		}
	}
}

// digestReferences fills the DigestValue of every Reference of si.
func digestReferences(doc *etree.Document, si *etree.Element) error {
	for _, ref := range si.FindElements("./Reference") {
		target := doc.Copy()
		if transforms := ref.SelectElement("Transforms"); transforms != nil {
			for _, tr := range transforms.SelectElements("Transform") {
				var err error
				if target, err = applyTransform(tr, target); err != nil {
					return err
				}
			}
		}
		referenced, err := referencedDocument(ref, target)
		if err != nil {
			return err
		}
		value, err := digestOf(ref, referenced)
		if err != nil {
			return err
		}
		dv := ref.SelectElement("DigestValue")
		if dv == nil {
			return fmt.Errorf("reference %q without DigestValue", ref.SelectAttrValue("URI", ""))
		}
		dv.SetText(value)
	}
	return nil
}

func applyTransform(tr *etree.Element, doc *etree.Document) (*etree.Document, error) {
	uri := tr.SelectAttrValue("Algorithm", "")
	alg, ok := signedxml.CanonicalizationAlgorithms[uri]
	if !ok {
		return nil, fmt.Errorf("unsupported transform %q", uri)
	}
	var content string
	if len(tr.ChildElements()) > 0 {
		td := etree.NewDocument()
		td.SetRoot(tr.Copy())
		var err error
		if content, err = td.WriteToString(); err != nil {
			return nil, err
		}
	}
	out, err := alg.ProcessDocument(doc, content)
	if err != nil {
		return nil, fmt.Errorf("transform %q: %w", uri, err)
	}
	next := etree.NewDocument()
	if err := next.ReadFromString(out); err != nil {
		return nil, fmt.Errorf("transform %q: %w", uri, err)
	}
	return next, nil
}

// referencedDocument resolves a same-document reference: the whole
// document for an empty URI, otherwise the element carrying the Id.
func referencedDocument(ref *etree.Element, doc *etree.Document) (*etree.Document, error) {
	id := strings.Replace(ref.SelectAttrValue("URI", ""), "#", "", 1)
	if id == "" {
		return doc, nil
	}
	e := doc.FindElement(fmt.Sprintf(".//[@Id='%s']", id))
	if e == nil {
		return nil, fmt.Errorf("referenced element %s not found", id)
	}
	out := etree.NewDocument()
	out.SetRoot(e.Copy())
	return out, nil
}

func digestOf(ref *etree.Element, doc *etree.Document) (string, error) {
	dm := ref.SelectElement("DigestMethod")
	if dm == nil {
		return "", fmt.Errorf("reference without DigestMethod")
	}
	uri := dm.SelectAttrValue("Algorithm", "")
	h, ok := format.HashForDigestURI(uri)
	if !ok || !h.Available() {
		return "", fmt.Errorf("unsupported digest method %q", uri)
	}
	doc.WriteSettings.CanonicalEndTags = true
	doc.WriteSettings.CanonicalText = true
	doc.WriteSettings.CanonicalAttrVal = true
	b, err := doc.WriteToBytes()
	if err != nil {
		return "", err
	}
	hh := h.New()
	hh.Write(b)
	return base64.StdEncoding.EncodeToString(hh.Sum(nil)), nil
}

// signatureValue canonicalizes si and signs it. ECDSA values are returned
// as the fixed size r||s concatenation XMLDSig mandates.
func signatureValue(si *etree.Element, alg format.Algorithm, key crypto.Signer) ([]byte, error) {
	cm := si.SelectElement("CanonicalizationMethod")
	if cm == nil {
		return nil, fmt.Errorf("SignedInfo without CanonicalizationMethod")
	}
	uri := cm.SelectAttrValue("Algorithm", "")
	canon, ok := signedxml.CanonicalizationAlgorithms[uri]
	if !ok {
		return nil, fmt.Errorf("unsupported canonicalization %q", uri)
	}
	c14n, err := canon.ProcessElement(si, "")
	if err != nil {
		return nil, err
	}

	h := alg.Hash.New()
	h.Write([]byte(c14n))
	value, err := key.Sign(rand.Reader, h.Sum(nil), alg.Hash)
	if err != nil {
		return nil, err
	}
	if alg.Key != format.KeyECDSA {
		return value, nil
	}
	return ecdsaRawSignature(value, key.Public())
}

type ecdsaSignature struct {
	R, S *big.Int
}

func ecdsaRawSignature(der []byte, pub crypto.PublicKey) ([]byte, error) {
	ec, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ECDSA signature method used with a %T key", pub)
	}
	var rs ecdsaSignature
	if rest, err := asn1.Unmarshal(der, &rs); err != nil || len(rest) > 0 {
		return nil, fmt.Errorf("malformed ECDSA signature")
	}
	size := (ec.Curve.Params().BitSize + 7) / 8
	if rs.R.BitLen() > size*8 || rs.S.BitLen() > size*8 {
		return nil, fmt.Errorf("ECDSA signature does not fit the curve")
	}
	out := make([]byte, 2*size)
	rs.R.FillBytes(out[:size])
	rs.S.FillBytes(out[size:])
	return out, nil
}

func ecdsaDERSignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("invalid ECDSA signature length %d", len(raw))
	}
	half := len(raw) / 2
	return asn1.Marshal(ecdsaSignature{
		R: new(big.Int).SetBytes(raw[:half]),
		S: new(big.Int).SetBytes(raw[half:]),
	})
}

// prepareForValidation rewrites an ECDSA SignatureValue of sig into the DER
// form x509 verification expects. Other signatures are left untouched.
func prepareForValidation(sig *etree.Element) error {
	method := Child(Child(sig, NSDSig, "SignedInfo"), NSDSig, "SignatureMethod")
	if method == nil {
		return nil
	}
	alg, ok := format.AlgorithmForURI(method.SelectAttrValue("Algorithm", ""))
	if !ok || alg.Key != format.KeyECDSA {
		return nil
	}
	sv := Child(sig, NSDSig, "SignatureValue")
	if sv == nil {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(compact(sv.Text()))
	if err != nil {
		return fmt.Errorf("SignatureValue is not base64: %w", err)
	}
	der, err := ecdsaDERSignature(raw)
	if err != nil {
		return err
	}
	sv.SetText(base64.StdEncoding.EncodeToString(der))
	return nil
}
