// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cades

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/digitorus/pkcs7"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
)

// OIDCounterSignature is the unsigned attribute carrying the SignerInfos
// that endorse the signature value of their parent.
var OIDCounterSignature = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 6}

// Nesting deeper than this is treated as a malformed structure.
const maxCounterDepth = 32

// signerInfo and attribute mirror the CMS structures pkcs7 keeps private so
// that nested counter-signatures can be decoded and written back.
type signerInfo struct {
	Version                   int `asn1:"default:1"`
	IssuerAndSerialNumber     issuerAndSerial
	DigestAlgorithm           pkix.AlgorithmIdentifier
	AuthenticatedAttributes   []attribute `asn1:"optional,omitempty,tag:0"`
	DigestEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedDigest           []byte
	UnauthenticatedAttributes []attribute `asn1:"optional,omitempty,tag:1"`
}

type attribute struct {
	Type  asn1.ObjectIdentifier
	Value asn1.RawValue `asn1:"set"`
}

type issuerAndSerial struct {
	IssuerName   asn1.RawValue
	SerialNumber *big.Int
}

// signerNode is a SignerInfo together with its counter-signatures. The
// counterSignature attributes are moved out of info while decoding and
// written back by encode.
type signerNode struct {
	info     signerInfo
	children []*signerNode
}

func decodeSigner(der []byte, depth int) (*signerNode, error) {
	if depth > maxCounterDepth {
		return nil, fmt.Errorf("counter-signatures nested deeper than %d levels", maxCounterDepth)
	}
	n := &signerNode{}
	rest, err := asn1.Unmarshal(der, &n.info)
	if err != nil {
		return nil, fmt.Errorf("malformed SignerInfo: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("trailing data after SignerInfo")
	}

	var kept []attribute
	for _, attr := range n.info.UnauthenticatedAttributes {
		if !attr.Type.Equal(OIDCounterSignature) {
			kept = append(kept, attr)
			continue
		}
		values := attr.Value.Bytes
		for len(values) > 0 {
			var raw asn1.RawValue
			if values, err = asn1.Unmarshal(values, &raw); err != nil {
				return nil, fmt.Errorf("malformed counter-signature: %w", err)
			}
			child, err := decodeSigner(raw.FullBytes, depth+1)
			if err != nil {
				return nil, err
			}
			n.children = append(n.children, child)
		}
	}
	n.info.UnauthenticatedAttributes = kept
	return n, nil
}

func (n *signerNode) encode() ([]byte, error) {
	info := n.info
	info.UnauthenticatedAttributes = append([]attribute(nil), n.info.UnauthenticatedAttributes...)
	if len(n.children) > 0 {
		var set []byte
		for _, c := range n.children {
			der, err := c.encode()
			if err != nil {
				return nil, err
			}
			set = append(set, der...)
		}
		info.UnauthenticatedAttributes = append(info.UnauthenticatedAttributes, attribute{
			Type:  OIDCounterSignature,
			Value: asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagSet, IsCompound: true, Bytes: set},
		})
	}
	return asn1.Marshal(info)
}

// decodeSigners returns the top level signers of p7 with their
// counter-signatures, the matching signer tree and the node behind every
// tree entry.
func decodeSigners(p7 *pkcs7.PKCS7) ([]*signerNode, *format.SignerTree, map[*format.SignerNode]*signerNode, error) {
	var roots []*signerNode
	for _, si := range p7.Signers {
		der, err := asn1.Marshal(si)
		if err != nil {
			return nil, nil, nil, err
		}
		n, err := decodeSigner(der, 0)
		if err != nil {
			return nil, nil, nil, err
		}
		roots = append(roots, n)
	}

	tree := &format.SignerTree{}
	nodes := make(map[*format.SignerNode]*signerNode)
	var build func(n *signerNode, id string) *format.SignerNode
	build = func(n *signerNode, id string) *format.SignerNode {
		node := &format.SignerNode{ID: id, SigningTime: signingTime(n.info)}
		if c := certificateFor(p7.Certificates, n.info.IssuerAndSerialNumber); c != nil {
			node.Certificate = c
			node.Subject = c.Subject.String()
		}
		nodes[node] = n
		for i, c := range n.children {
			node.Children = append(node.Children, build(c, fmt.Sprintf("%s.%d", id, i+1)))
		}
		return node
	}
	for i, n := range roots {
		tree.Signers = append(tree.Signers, build(n, fmt.Sprintf("signer-%d", i+1)))
	}
	return roots, tree, nodes, nil
}

func certificateFor(certs []*x509.Certificate, ias issuerAndSerial) *x509.Certificate {
	if ias.SerialNumber == nil {
		return nil
	}
	for _, c := range certs {
		if c.SerialNumber.Cmp(ias.SerialNumber) == 0 && bytes.Equal(c.RawIssuer, ias.IssuerName.FullBytes) {
			return c
		}
	}
	return nil
}

func signingTime(info signerInfo) time.Time {
	for _, attr := range info.AuthenticatedAttributes {
		if !attr.Type.Equal(pkcs7.OIDAttributeSigningTime) {
			continue
		}
		var t time.Time
		if _, err := asn1.Unmarshal(attr.Value.Bytes, &t); err == nil {
			return t
		}
	}
	return time.Time{}
}

// counterSigner builds the SignerInfo endorsing signature. Its message
// digest covers the signature value, as counter-signatures do in CMS.
func counterSigner(signature []byte, alg format.Algorithm, key crypto.Signer, chain []*x509.Certificate) (*signerNode, error) {
	sd, err := pkcs7.NewSignedData(signature)
	if err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	oid, err := DigestOID(alg.Hash)
	if err != nil {
		return nil, err
	}
	sd.SetDigestAlgorithm(oid)
	attrs, err := SignedAttributes(chain[0], alg.Hash, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := sd.AddSignerChain(chain[0], key, chain[1:], pkcs7.SignerInfoConfig{ExtraSignedAttributes: attrs}); err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	der, err := asn1.Marshal(sd.GetSignedData().SignerInfos[0])
	if err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	return decodeSigner(der, 0)
}

// reassemble writes roots back into a SignedData carrying the content,
// certificates and digest algorithms of p7 plus the certificates in extra.
func reassemble(p7 *pkcs7.PKCS7, roots []*signerNode, extra []*x509.Certificate) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(p7.Content)
	if err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	if len(p7.Content) == 0 {
		sd.Detach()
	}

	inner := sd.GetSignedData()
	inner.SignerInfos = append(p7.Signers[:0:0], p7.Signers...)
	for i, root := range roots {
		der, err := root.encode()
		if err != nil {
			return nil, errors.WrapSigningFailed(err)
		}
		if _, err := asn1.Unmarshal(der, &inner.SignerInfos[i]); err != nil {
			return nil, errors.WrapSigningFailed(err)
		}
	}
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

	certs := append([]*x509.Certificate(nil), p7.Certificates...)
	for _, c := range extra {
		if !containsCert(certs, c) {
			certs = append(certs, c)
		}
	}
	for _, c := range certs {
		sd.AddCertificate(c)
	}
	return finish(sd)
}

// verifyCounterSignatures checks every counter-signature below roots
// against the signature value it endorses.
func verifyCounterSignatures(roots []*signerNode, certs []*x509.Certificate) error {
	var walk func(parent *signerNode) error
	walk = func(parent *signerNode) error {
		for _, c := range parent.children {
			if err := verifyCounterSignature(c, parent.info.EncryptedDigest, certs); err != nil {
				return err
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range roots {
		if err := walk(r); err != nil {
			return err
		}
	}
	return nil
}

func verifyCounterSignature(n *signerNode, endorsed []byte, certs []*x509.Certificate) error {
	cert := certificateFor(certs, n.info.IssuerAndSerialNumber)
	if cert == nil {
		return fmt.Errorf("counter-signer certificate not found")
	}
	h, ok := hashForOID(n.info.DigestAlgorithm.Algorithm)
	if !ok {
		return fmt.Errorf("unsupported counter-signature digest %s", n.info.DigestAlgorithm.Algorithm)
	}

	var digest []byte
	for _, attr := range n.info.AuthenticatedAttributes {
		if attr.Type.Equal(pkcs7.OIDAttributeMessageDigest) {
			if _, err := asn1.Unmarshal(attr.Value.Bytes, &digest); err != nil {
				return fmt.Errorf("malformed counter-signature message digest: %w", err)
			}
		}
	}
	hasher := h.New()
	hasher.Write(endorsed)
	if !bytes.Equal(digest, hasher.Sum(nil)) {
		return fmt.Errorf("counter-signature by %s does not match the signature it endorses", cert.Subject.CommonName)
	}

	signed, err := marshalAttributes(n.info.AuthenticatedAttributes)
	if err != nil {
		return err
	}
	sigAlg, ok := signatureAlgorithms[cert.PublicKeyAlgorithm][h]
	if !ok {
		return fmt.Errorf("unsupported counter-signature key %s with %s", cert.PublicKeyAlgorithm, h)
	}
	if err := cert.CheckSignature(sigAlg, signed, n.info.EncryptedDigest); err != nil {
		return fmt.Errorf("counter-signature by %s: %w", cert.Subject.CommonName, err)
	}
	return nil
}

var signatureAlgorithms = map[x509.PublicKeyAlgorithm]map[crypto.Hash]x509.SignatureAlgorithm{
	x509.RSA: {
		crypto.SHA1:   x509.SHA1WithRSA,
		crypto.SHA256: x509.SHA256WithRSA,
		crypto.SHA384: x509.SHA384WithRSA,
		crypto.SHA512: x509.SHA512WithRSA,
	},
	x509.ECDSA: {
		crypto.SHA1:   x509.ECDSAWithSHA1,
		crypto.SHA256: x509.ECDSAWithSHA256,
		crypto.SHA384: x509.ECDSAWithSHA384,
		crypto.SHA512: x509.ECDSAWithSHA512,
	},
}

func hashForOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	for _, h := range []crypto.Hash{crypto.SHA1, crypto.SHA256, crypto.SHA384, crypto.SHA512} {
		if d, err := DigestOID(h); err == nil && d.Equal(oid) {
			return h, true
		}
	}
	return 0, false
}

// marshalAttributes encodes signed attributes the way they are signed: as
// an explicitly tagged SET OF.
func marshalAttributes(attrs []attribute) ([]byte, error) {
	der, err := asn1.Marshal(struct {
		A []attribute `asn1:"set"`
	}{A: attrs})
	if err != nil {
		return nil, err
	}
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(der, &raw); err != nil {
		return nil, err
	}
	return raw.Bytes, nil
}
