// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/format/xades"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/validity"
)

// SignerNode describes one signature element. Counter-signatures are the
// children of the signature they endorse.
type SignerNode struct {
	ID                string                `json:"id"`
	Format            string                `json:"format"`
	Profile           string                `json:"profile,omitempty"`
	Algorithm         string                `json:"algorithm,omitempty"`
	SigningTime       time.Time             `json:"signingTime,omitempty"`
	Signers           []*CertificateDetails `json:"signers"`
	Policy            *SignaturePolicy      `json:"policy,omitempty"`
	DataObjectFormats []DataObjectFormat    `json:"dataObjectFormats,omitempty"`
	Metadata          map[string]string     `json:"metadata,omitempty"`
	Validity          validity.Outcome      `json:"validity"`
	Children          []*SignerNode         `json:"children,omitempty"`
}

// CertificateDetails is a certificate followed by the certificates that
// issued it, as far as the container carries them.
type CertificateDetails struct {
	Certificate     *x509.Certificate     `json:"-"`
	Subject         string                `json:"subject"`
	Issuer          string                `json:"issuer"`
	SerialNumber    string                `json:"serialNumber"`
	NotBefore       time.Time             `json:"notBefore"`
	NotAfter        time.Time             `json:"notAfter"`
	SubCertificates []*CertificateDetails `json:"subCertificates,omitempty"`
}

// SignaturePolicy is either a well-known policy, recognized by its
// identifier, or whatever the signature declares.
type SignaturePolicy struct {
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	Identifier   string `json:"identifier"`
	DigestValue  string `json:"digestValue,omitempty"`
	DigestMethod string `json:"digestMethod,omitempty"`
	LocationURI  string `json:"locationUri,omitempty"`
	WellKnown    bool   `json:"wellKnown"`
}

type DataObjectFormat struct {
	ObjectReference string `json:"objectReference"`
	Description     string `json:"description,omitempty"`
	MimeType        string `json:"mimeType"`
}

// Profiles reported for XML signatures, from the most to the least
// complete.
const (
	ProfileA       = "XAdES-A"
	ProfileXL      = "XAdES-XL"
	ProfileX       = "XAdES-X"
	ProfileC       = "XAdES-C"
	ProfileT       = "XAdES-T"
	ProfileEPES    = "XAdES-EPES"
	ProfileBES     = "XAdES-BES"
	ProfileXMLDSig = "XMLDSig"
)

// Metadata keys of the production place.
const (
	MetaStreetAddress = "streetAddress"
	MetaPostalCode    = "postalCode"
	MetaCity          = "city"
	MetaProvince      = "stateOrProvince"
	MetaCountry       = "countryName"
	metaClaimedRole   = "claimedRole"
)

func signatures(doc *etree.Document) []*etree.Element {
	return xades.Signatures(doc)
}

func buildNode(doc *etree.Document, sig *etree.Element, formatID string, external bool) (*SignerNode, error) {
	node := &SignerNode{
		ID:          sig.SelectAttrValue("Id", ""),
		Format:      formatID,
		Algorithm:   algorithmName(sig),
		SigningTime: xades.SigningTime(sig),
		Metadata:    make(map[string]string),
	}

	keyInfo := xades.Child(xades.Child(sig, xades.NSDSig, "KeyInfo"), xades.NSDSig, "X509Data")
	if keyInfo != nil {
		details, err := x509DataDetails(keyInfo)
		if err != nil {
			return nil, err
		}
		node.Signers = append(node.Signers, details)
	}

	qp := qualifyingProperties(sig)
	if qp == nil {
		node.Profile = ProfileXMLDSig
	} else if err := readQualifyingProperties(node, qp); err != nil {
		return nil, err
	}

	switch {
	case external:
		node.Validity = validity.Unknown("the signed data is not part of the container")
	default:
		if err := xades.Verify(doc, sig); err != nil {
			node.Validity = validity.Invalid(validity.ReasonCorruptSignature, err.Error())
		} else {
			node.Validity = validity.Valid()
		}
	}

	for _, cs := range xades.CounterSignatures(sig) {
		child, err := buildNode(doc, cs, formatID, false)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// algorithmName translates the SignatureMethod URI. Unknown URIs are kept.
func algorithmName(sig *etree.Element) string {
	method := xades.Child(xades.Child(sig, xades.NSDSig, "SignedInfo"), xades.NSDSig, "SignatureMethod")
	if method == nil {
		return ""
	}
	uri := method.SelectAttrValue("Algorithm", "")
	if alg, ok := format.AlgorithmForURI(uri); ok {
		return alg.Name
	}
	return uri
}

// qualifyingProperties finds the QualifyingProperties element of sig in
// whatever namespace it uses.
func qualifyingProperties(sig *etree.Element) *etree.Element {
	for _, obj := range xades.Children(sig, xades.NSDSig, "Object") {
		for _, c := range obj.ChildElements() {
			if c.Tag == "QualifyingProperties" {
				return c
			}
		}
	}
	return nil
}

func readQualifyingProperties(node *SignerNode, qp *etree.Element) error {
	ns := qp.NamespaceURI()
	if !xades.IsQualifyingNamespace(ns) {
		return errors.WrapInvalidFormat(fmt.Sprintf("signature %q uses an unknown XAdES namespace %q", node.ID, ns))
	}

	sp := xades.Child(qp, ns, "SignedProperties")
	ssp := xades.Child(sp, ns, "SignedSignatureProperties")

	formats, err := dataObjectFormats(xades.Child(sp, ns, "SignedDataObjectProperties"), ns)
	if err != nil {
		return err
	}
	node.DataObjectFormats = formats

	if node.Policy, err = signaturePolicy(ssp, ns); err != nil {
		return err
	}

	place := xades.Child(ssp, ns, "SignatureProductionPlace")
	if place == nil {
		place = xades.Child(ssp, ns, "SignatureProductionPlaceV2")
	}
	productionPlace(node.Metadata, place, ns)

	role := xades.Child(ssp, ns, "SignerRole")
	if role == nil {
		role = xades.Child(ssp, ns, "SignerRoleV2")
	}
	for i, r := range descendants(role, ns, "ClaimedRole") {
		node.Metadata[fmt.Sprintf("%s%d", metaClaimedRole, i)] = strings.TrimSpace(r.Text())
	}

	node.Profile = profile(qp, ns, node.Policy != nil)
	return nil
}

func dataObjectFormats(sdop *etree.Element, ns string) ([]DataObjectFormat, error) {
	var out []DataObjectFormat
	for _, dof := range xades.Children(sdop, ns, "DataObjectFormat") {
		mime := first(dof, ns, "MimeType")
		if mime == nil {
			return nil, errors.WrapInvalidFormat("DataObjectFormat without MimeType")
		}
		f := DataObjectFormat{
			ObjectReference: dof.SelectAttrValue("ObjectReference", ""),
			MimeType:        strings.TrimSpace(mime.Text()),
		}
		if d := first(dof, ns, "Description"); d != nil {
			f.Description = strings.TrimSpace(d.Text())
		}
		out = append(out, f)
	}
	return out, nil
}

// signaturePolicy reads the explicit policy of the signature. Implied
// policies and unsigned signatures return nil.
func signaturePolicy(ssp *etree.Element, ns string) (*SignaturePolicy, error) {
	spi := xades.Child(ssp, ns, "SignaturePolicyIdentifier")
	if spi == nil || xades.Child(spi, ns, "SignaturePolicyImplied") != nil {
		return nil, nil
	}
	idElem := first(spi, ns, "Identifier")
	if idElem == nil {
		return nil, errors.WrapInvalidFormat("signature policy without identifier")
	}
	id := strings.TrimSpace(idElem.Text())

	var description string
	if d := first(spi, ns, "Description"); d != nil {
		description = strings.TrimSpace(d.Text())
	}

	if known, ok := params.LookupPolicy(id); ok {
		return &SignaturePolicy{
			Name:         known.Name,
			Description:  description,
			Identifier:   id,
			DigestValue:  known.Hash,
			DigestMethod: known.HashAlgorithm,
			LocationURI:  known.Qualifier,
			WellKnown:    true,
		}, nil
	}

	policy := &SignaturePolicy{Identifier: id, Description: description}
	hash := first(spi, ns, "SigPolicyHash")
	if v := first(hash, xades.NSDSig, "DigestValue"); v != nil {
		policy.DigestValue = strings.TrimSpace(v.Text())
	}
	if m := first(hash, xades.NSDSig, "DigestMethod"); m != nil {
		policy.DigestMethod = m.SelectAttrValue("Algorithm", "")
	}
	if uri := first(spi, ns, "SPURI"); uri != nil {
		policy.LocationURI = strings.TrimSpace(uri.Text())
	}
	return policy, nil
}

func productionPlace(meta map[string]string, place *etree.Element, ns string) {
	fields := []struct{ tag, key string }{
		{"StreetAddress", MetaStreetAddress},
		{"PostalCode", MetaPostalCode},
		{"City", MetaCity},
		{"StateOrProvince", MetaProvince},
		{"CountryName", MetaCountry},
	}
	for _, f := range fields {
		if e := xades.Child(place, ns, f.tag); e != nil {
			meta[f.key] = strings.TrimSpace(e.Text())
		}
	}
}

// profile names the most complete XAdES form the unsigned properties
// reach.
func profile(qp *etree.Element, ns string, hasPolicy bool) string {
	usp := xades.Child(xades.Child(qp, ns, "UnsignedProperties"), ns, "UnsignedSignatureProperties")
	has := func(tags ...string) bool {
		for _, t := range tags {
			if xades.Child(usp, ns, t) != nil {
				return true
			}
		}
		return false
	}
	switch {
	case has("ArchiveTimeStamp"):
		return ProfileA
	case has("CertificateValues", "RevocationValues"):
		return ProfileXL
	case has("SigAndRefsTimeStamp", "RefsOnlyTimeStamp"):
		return ProfileX
	case has("CompleteCertificateRefs", "CompleteRevocationRefs"):
		return ProfileC
	case has("SignatureTimeStamp"):
		return ProfileT
	case hasPolicy:
		return ProfileEPES
	}
	return ProfileBES
}

// x509DataDetails describes the first certificate of an X509Data element.
// Its sub-certificates are whatever X509Data the container nests below it,
// inside the certificate element or next to it, walked exactly as embedded.
// A certificate repeated along one nesting path means the container is
// forged.
func x509DataDetails(data *etree.Element) (*CertificateDetails, error) {
	var leaf *x509.Certificate
	seen := make(map[string]bool)
	var walk func(data *etree.Element) (*CertificateDetails, error)
	walk = func(data *etree.Element) (*CertificateDetails, error) {
		certElement := xades.Child(data, xades.NSDSig, "X509Certificate")
		if certElement == nil {
			return nil, errors.WrapInvalidFormat("X509Data without certificates")
		}
		cert, err := parseCertificate(certElement)
		if err != nil {
			return nil, err
		}
		if leaf == nil {
			leaf = cert
		}
		if seen[string(cert.Raw)] {
			return nil, errors.WrapInvalidFormat(fmt.Sprintf("certificate chain of %q has a cycle", leaf.Subject.String()))
		}
		seen[string(cert.Raw)] = true
		defer delete(seen, string(cert.Raw))

		d := certificateDetails(cert)
		nested := xades.Child(certElement, xades.NSDSig, "X509Data")
		if nested == nil {
			nested = xades.Child(data, xades.NSDSig, "X509Data")
		}
		if nested != nil {
			sub, err := walk(nested)
			if err != nil {
				return nil, err
			}
			d.SubCertificates = append(d.SubCertificates, sub)
		}
		return d, nil
	}
	return walk(data)
}

func parseCertificate(e *etree.Element) (*x509.Certificate, error) {
	der, err := base64.StdEncoding.DecodeString(compact(e.Text()))
	if err != nil {
		return nil, errors.WrapInvalidFormat("certificate is not valid base64")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.WrapInvalidFormat(fmt.Sprintf("bad certificate: %v", err))
	}
	return cert, nil
}

func certificateDetails(cert *x509.Certificate) *CertificateDetails {
	return &CertificateDetails{
		Certificate:  cert,
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
	}
}

// first returns the first element below e with the given name, searching
// the whole subtree.
func first(e *etree.Element, ns, local string) *etree.Element {
	if e == nil {
		return nil
	}
	for _, c := range e.ChildElements() {
		if found := xades.Descendants(c, ns, local); len(found) > 0 {
			return found[0]
		}
	}
	return nil
}

func descendants(e *etree.Element, ns, local string) []*etree.Element {
	if e == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range e.ChildElements() {
		out = append(out, xades.Descendants(c, ns, local)...)
	}
	return out
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
