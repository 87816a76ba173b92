// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package xades

import (
	"crypto/x509"
	"encoding/base64"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/params"
)

// reference is one data reference of a new signature.
type reference struct {
	uri        string
	typ        string
	transforms []string
	mimeType   string
	encoding   string
}

// template describes the signature element to build before it is handed to
// the XMLDSig signer. object, when set, is embedded as the ds:Object of an
// enveloping signature.
type template struct {
	alg       format.Algorithm
	chain     []*x509.Certificate
	p         *params.Params
	namespace string
	refs      []reference
	object    *etree.Element
	now       time.Time
	id        string
}

func newTemplate(alg format.Algorithm, chain []*x509.Certificate, p *params.Params) *template {
	ns := p.ValueOr(params.XAdESNamespace, NSXAdESDefault)
	if !IsQualifyingNamespace(ns) {
		ns = NSXAdESDefault
	}
	return &template{
		alg:       alg,
		chain:     chain,
		p:         p,
		namespace: ns,
		now:       time.Now().UTC(),
		id:        "Signature-" + uuid.NewString(),
	}
}

func (t *template) signedPropertiesID() string { return t.id + "-SignedProperties" }
func (t *template) signatureValueID() string { return t.id + "-SignatureValue" }

// build returns the ds:Signature element. Digest and signature values are
// left empty.
func (t *template) build() *etree.Element {
	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", NSDSig)
	sig.CreateAttr("Id", t.id)

	si := sig.CreateElement("ds:SignedInfo")
	si.CreateAttr("Id", t.id+"-SignedInfo")
	si.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", AlgExcC14N)
	si.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", t.alg.XMLURI)

	refIDs := make([]string, len(t.refs))
	for i, r := range t.refs {
		refIDs[i] = "Reference-" + uuid.NewString()
		t.addReference(si, refIDs[i], r.uri, r.typ, r.transforms)
	}
	t.addReference(si, "", "#"+t.signedPropertiesID(), TypeSignedProps, []string{AlgExcC14N})

	sv := sig.CreateElement("ds:SignatureValue")
	sv.CreateAttr("Id", t.signatureValueID())

	ki := sig.CreateElement("ds:KeyInfo")
	ki.CreateAttr("Id", t.id+"-KeyInfo")
	x509Data := ki.CreateElement("ds:X509Data")
	for _, c := range t.chain {
		x509Data.CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(c.Raw))
	}

	if t.object != nil {
		sig.AddChild(t.object)
	}

	obj := sig.CreateElement("ds:Object")
	qp := obj.CreateElement("xades:QualifyingProperties")
	qp.CreateAttr("xmlns:xades", t.namespace)
	qp.CreateAttr("Target", "#"+t.id)
	sp := qp.CreateElement("xades:SignedProperties")
	sp.CreateAttr("Id", t.signedPropertiesID())

	ssp := sp.CreateElement("xades:SignedSignatureProperties")
	ssp.CreateElement("xades:SigningTime").SetText(t.now.Format(time.RFC3339))
	t.addSigningCertificate(ssp)
	t.addPolicy(ssp)
	t.addProductionPlace(ssp)
	t.addClaimedRoles(ssp)

	if len(t.refs) > 0 {
		sdop := sp.CreateElement("xades:SignedDataObjectProperties")
		for i, r := range t.refs {
			if r.mimeType == "" {
				continue
			}
			dof := sdop.CreateElement("xades:DataObjectFormat")
			dof.CreateAttr("ObjectReference", "#"+refIDs[i])
			if d := t.p.Value(params.ContentDescription); d != "" {
				dof.CreateElement("xades:Description").SetText(d)
			}
			dof.CreateElement("xades:MimeType").SetText(r.mimeType)
			if r.encoding != "" {
				dof.CreateElement("xades:Encoding").SetText(r.encoding)
			}
		}
		if len(sdop.ChildElements()) == 0 {
			sp.RemoveChild(sdop)
		}
	}
	return sig
}

func (t *template) addReference(si *etree.Element, id, uri, typ string, transforms []string) {
	ref := si.CreateElement("ds:Reference")
	if id != "" {
		ref.CreateAttr("Id", id)
	}
	if typ != "" {
		ref.CreateAttr("Type", typ)
	}
	ref.CreateAttr("URI", uri)
	if len(transforms) > 0 {
		tr := ref.CreateElement("ds:Transforms")
		for _, alg := range transforms {
			tr.CreateElement("ds:Transform").CreateAttr("Algorithm", alg)
		}
	}
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", format.DigestURI(t.alg.Hash))
	ref.CreateElement("ds:DigestValue")
}

func (t *template) addSigningCertificate(ssp *etree.Element) {
	if len(t.chain) == 0 {
		return
	}
	leaf := t.chain[0]
	h := t.alg.Hash.New()
	h.Write(leaf.Raw)

	cert := ssp.CreateElement("xades:SigningCertificate").CreateElement("xades:Cert")
	digest := cert.CreateElement("xades:CertDigest")
	digest.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", format.DigestURI(t.alg.Hash))
	digest.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(h.Sum(nil)))
	is := cert.CreateElement("xades:IssuerSerial")
	is.CreateElement("ds:X509IssuerName").SetText(leaf.Issuer.String())
	is.CreateElement("ds:X509SerialNumber").SetText(leaf.SerialNumber.String())
}

func (t *template) addPolicy(ssp *etree.Element) {
	id := t.p.Value(params.PolicyIdentifier)
	if id == "" {
		return
	}
	spid := ssp.CreateElement("xades:SignaturePolicyIdentifier").CreateElement("xades:SignaturePolicyId")
	sigPolicyID := spid.CreateElement("xades:SigPolicyId")
	sigPolicyID.CreateElement("xades:Identifier").SetText(id)
	if d := t.p.Value(params.PolicyDescription); d != "" {
		sigPolicyID.CreateElement("xades:Description").SetText(d)
	}

	hashAlg := t.p.ValueOr(params.PolicyIdentifierHashAlgorithm, format.DigestURI(t.alg.Hash))
	hash := spid.CreateElement("xades:SigPolicyHash")
	hash.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", policyDigestURI(hashAlg))
	hash.CreateElement("ds:DigestValue").SetText(t.p.Value(params.PolicyIdentifierHash))

	if q := t.p.Value(params.PolicyQualifier); q != "" {
		spid.CreateElement("xades:SigPolicyQualifiers").
			CreateElement("xades:SigPolicyQualifier").
			CreateElement("xades:SPURI").SetText(q)
	}
}

// policyDigestURI accepts either a DigestMethod URI or a short hash name.
func policyDigestURI(v string) string {
	if strings.Contains(v, "://") {
		return v
	}
	switch strings.ToUpper(strings.ReplaceAll(v, "-", "")) {
	case "SHA1":
		return "http://www.w3.org/2000/09/xmldsig#sha1"
	case "SHA256":
		return "http://www.w3.org/2001/04/xmlenc#sha256"
	case "SHA384":
		return "http://www.w3.org/2001/04/xmldsig-more#sha384"
	case "SHA512":
		return "http://www.w3.org/2001/04/xmlenc#sha512"
	}
	return v
}

func (t *template) addProductionPlace(ssp *etree.Element) {
	fields := []struct{ key, tag string }{
		{params.ProductionStreetAddress, "xades:StreetAddress"},
		{params.SignatureProductionCity, "xades:City"},
		{params.ProductionProvince, "xades:StateOrProvince"},
		{params.ProductionPostalCode, "xades:PostalCode"},
		{params.ProductionCountry, "xades:CountryName"},
	}
	var place *etree.Element
	for _, f := range fields {
		v := t.p.Value(f.key)
		if v == "" {
			continue
		}
		if place == nil {
			place = ssp.CreateElement("xades:SignatureProductionPlace")
		}
		place.CreateElement(f.tag).SetText(v)
	}
}

func (t *template) addClaimedRoles(ssp *etree.Element) {
	raw := t.p.Value(params.SignerClaimedRoles)
	if raw == "" {
		return
	}
	roles := ssp.CreateElement("xades:SignerRole").CreateElement("xades:ClaimedRoles")
	for _, r := range strings.Split(raw, "|") {
		if r = strings.TrimSpace(r); r != "" {
			roles.CreateElement("xades:ClaimedRole").SetText(r)
		}
	}
}
