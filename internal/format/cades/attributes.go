// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cades

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/digitorus/pkcs7"
	"github.com/gabriel-vasile/mimetype"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/params"
)

// CMS attribute identifiers used by CAdES and PAdES signatures.
var (
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	OIDSigPolicyID          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 15}
	OIDContentHints         = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 4}
	OIDArchiveTimestampV2   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 48}
	OIDArchiveTimestampV3   = asn1.ObjectIdentifier{0, 4, 0, 1733, 2, 4}
	OIDSPURI                = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 5, 1}
)

type issuerSerial struct {
	Issuer       []asn1.RawValue
	SerialNumber *big.Int
}

type essCertIDv2 struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	CertHash      []byte
	IssuerSerial  issuerSerial
}

type signingCertificateV2 struct {
	Certs []essCertIDv2
}

type sigPolicyHash struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	HashValue     []byte
}

type policyQualifierInfo struct {
	ID        asn1.ObjectIdentifier
	Qualifier string `asn1:"ia5"`
}

type signaturePolicyID struct {
	ID         asn1.ObjectIdentifier
	Hash       sigPolicyHash
	Qualifiers []policyQualifierInfo `asn1:"optional,omitempty"`
}

type contentHints struct {
	Description string `asn1:"utf8,optional,omitempty"`
	ContentType asn1.ObjectIdentifier
}

// DigestOID returns the CMS digest algorithm identifier of h.
func DigestOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case crypto.SHA1:
		return pkcs7.OIDDigestAlgorithmSHA1, nil
	case crypto.SHA256:
		return pkcs7.OIDDigestAlgorithmSHA256, nil
	case crypto.SHA384:
		return pkcs7.OIDDigestAlgorithmSHA384, nil
	case crypto.SHA512:
		return pkcs7.OIDDigestAlgorithmSHA512, nil
	}
	return nil, errors.WrapInvalidParameters(fmt.Sprintf("unsupported digest %v", h))
}

func hashByName(name string) (crypto.Hash, bool) {
	switch strings.ToUpper(strings.ReplaceAll(name, "-", "")) {
	case "SHA1", "HTTP://WWW.W3.ORG/2000/09/XMLDSIG#SHA1":
		return crypto.SHA1, true
	case "SHA256", "HTTP://WWW.W3.ORG/2001/04/XMLENC#SHA256":
		return crypto.SHA256, true
	case "SHA384":
		return crypto.SHA384, true
	case "SHA512", "HTTP://WWW.W3.ORG/2001/04/XMLENC#SHA512":
		return crypto.SHA512, true
	}
	return 0, false
}

// SignedAttributes returns the CAdES signed attributes for a signature by
// leaf: the signing certificate reference, the signature policy when one is
// configured and a content hint describing data.
func SignedAttributes(leaf *x509.Certificate, h crypto.Hash, data []byte, p *params.Params) ([]pkcs7.Attribute, error) {
	certAttr, err := signingCertificate(leaf, h)
	if err != nil {
		return nil, err
	}
	attrs := []pkcs7.Attribute{{Type: OIDSigningCertificateV2, Value: certAttr}}

	if p.Value(params.PolicyIdentifier) != "" {
		policy, err := policyAttribute(p)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, pkcs7.Attribute{Type: OIDSigPolicyID, Value: policy})
	}

	if len(data) > 0 {
		hints := contentHints{Description: contentDescription(data, p), ContentType: pkcs7.OIDData}
		attrs = append(attrs, pkcs7.Attribute{Type: OIDContentHints, Value: hints})
	}
	return attrs, nil
}

func signingCertificate(leaf *x509.Certificate, h crypto.Hash) (signingCertificateV2, error) {
	oid, err := DigestOID(h)
	if err != nil {
		return signingCertificateV2{}, err
	}
	hasher := h.New()
	hasher.Write(leaf.Raw)
	return signingCertificateV2{Certs: []essCertIDv2{{
		HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: oid},
		CertHash:      hasher.Sum(nil),
		IssuerSerial: issuerSerial{
			Issuer:       []asn1.RawValue{{Class: asn1.ClassContextSpecific, Tag: 4, IsCompound: true, Bytes: leaf.RawIssuer}},
			SerialNumber: leaf.SerialNumber,
		},
	}}}, nil
}

func policyAttribute(p *params.Params) (signaturePolicyID, error) {
	raw := strings.TrimPrefix(p.Value(params.PolicyIdentifier), "urn:oid:")
	oid, err := parseOID(raw)
	if err != nil {
		return signaturePolicyID{}, errors.WrapInvalidParameters("policy identifier is not an OID: " + raw)
	}
	h, ok := hashByName(p.ValueOr(params.PolicyIdentifierHashAlgorithm, "SHA1"))
	if !ok {
		return signaturePolicyID{}, errors.WrapInvalidParameters("unsupported policy hash algorithm")
	}
	hashOID, err := DigestOID(h)
	if err != nil {
		return signaturePolicyID{}, err
	}
	value, err := base64.StdEncoding.DecodeString(p.Value(params.PolicyIdentifierHash))
	if err != nil {
		return signaturePolicyID{}, errors.WrapInvalidParameters("policy hash is not base64")
	}

	out := signaturePolicyID{
		ID:   oid,
		Hash: sigPolicyHash{HashAlgorithm: pkix.AlgorithmIdentifier{Algorithm: hashOID}, HashValue: value},
	}
	if q := p.Value(params.PolicyQualifier); q != "" {
		out.Qualifiers = []policyQualifierInfo{{ID: OIDSPURI, Qualifier: q}}
	}
	return out, nil
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("too few arcs in %q", s)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, part := range parts {
		arc, err := strconv.Atoi(part)
		if err != nil || arc < 0 {
			return nil, fmt.Errorf("bad arc %q", part)
		}
		oid[i] = arc
	}
	return oid, nil
}

func contentDescription(data []byte, p *params.Params) string {
	if d := p.Value(params.ContentDescription); d != "" {
		return d
	}
	if m := p.Value(params.MimeType); m != "" {
		return m
	}
	m := mimetype.Detect(data).String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return m
}
