// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package xades

import (
	"bytes"
	"context"
	"crypto"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	firmaerrors "github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/testkeys"
	"github.com/dotandev/firma/internal/validity"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?><invoice><item>1</item><total>10.00</total></invoice>`

func sign(t *testing.T, data []byte, p *params.Params) []byte {
	t.Helper()
	id := testkeys.RSA(t, "Alice")
	out, err := New().Sign(context.Background(), data, "SHA256withRSA", id.Key, id.Chain, p)
	require.NoError(t, err)
	return out
}

func parse(t *testing.T, data []byte) *etree.Document {
	t.Helper()
	doc := format.ParseXML(data)
	require.NotNil(t, doc)
	return doc
}

func TestSignEnveloped(t *testing.T) {
	s := New()
	signed := sign(t, []byte(sampleXML), params.New())

	assert.True(t, s.IsSign(signed))
	assert.False(t, s.IsSign([]byte(sampleXML)))

	doc := parse(t, signed)
	assert.Equal(t, "invoice", doc.Root().Tag)
	sigs := Signatures(doc)
	require.Len(t, sigs, 1)
	assert.NotNil(t, QualifyingProperties(sigs[0]))

	outcome, err := s.Validate(context.Background(), signed, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())

	info, err := s.SignInfo(signed)
	require.NoError(t, err)
	assert.Equal(t, string(Enveloped), info.Variant)
	assert.Equal(t, 1, info.Signers)

	data, err := s.Data(signed)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<item>1</item>")
	assert.NotContains(t, string(data), "Signature")
}

func TestTamperedSignatureIsCorrupt(t *testing.T) {
	signed := sign(t, []byte(sampleXML), params.New())
	tampered := bytes.Replace(signed, []byte("10.00"), []byte("99.00"), 1)

	outcome, err := New().Validate(context.Background(), tampered, nil)
	require.NoError(t, err)
	assert.Equal(t, validity.StateInvalid, outcome.State)
	assert.Equal(t, validity.ReasonCorruptSignature, outcome.Reason)
}

func TestValidateUnsignedData(t *testing.T) {
	for _, data := range [][]byte{[]byte(sampleXML), []byte("plain text")} {
		outcome, err := New().Validate(context.Background(), data, nil)
		require.NoError(t, err)
		assert.Equal(t, validity.ReasonNoSignature, outcome.Reason)
	}
}

func TestSignEnvelopingBinary(t *testing.T) {
	s := New()
	payload := []byte("hello world, this is not XML")
	signed := sign(t, payload, params.New())

	doc := parse(t, signed)
	assert.True(t, Is(doc.Root(), NSDSig, "Signature"))

	info, err := s.SignInfo(signed)
	require.NoError(t, err)
	assert.Equal(t, string(Enveloping), info.Variant)

	data, err := s.Data(signed)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	outcome, err := s.Validate(context.Background(), signed, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())
}

func TestSignDetachedOnRequest(t *testing.T) {
	s := New()
	signed := sign(t, []byte(sampleXML), params.Of(params.SignatureFormat, params.FormatDetached))

	doc := parse(t, signed)
	assert.Equal(t, detachedRoot, doc.Root().Tag)

	info, err := s.SignInfo(signed)
	require.NoError(t, err)
	assert.Equal(t, string(InternallyDetached), info.Variant)

	data, err := s.Data(signed)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<total>10.00</total>")
}

func TestSignErrors(t *testing.T) {
	id := testkeys.RSA(t, "Alice")
	s := New()

	_, err := s.Sign(context.Background(), nil, "SHA256withRSA", id.Key, id.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrNoDataToSign))

	_, err = s.Sign(context.Background(), []byte("binary"), "SHA256withRSA", id.Key, id.Chain,
		params.Of(params.SignatureFormat, params.FormatEnveloped))
	assert.True(t, errors.Is(err, firmaerrors.ErrInvalidXML))

	_, err = s.Sign(context.Background(), []byte(sampleXML), "MD5withRSA", id.Key, id.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrInvalidParameters))

	_, err = s.CoSign(context.Background(), []byte(sampleXML), "SHA256withRSA", id.Key, id.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrNoSignatureFound))
}

func TestCoSignEnveloped(t *testing.T) {
	s := New()
	bob := testkeys.RSA(t, "Bob")
	signed := sign(t, []byte(sampleXML), params.New())

	cosigned, err := s.CoSign(context.Background(), signed, "SHA512withRSA", bob.Key, bob.Chain, params.New())
	require.NoError(t, err)

	tree, err := s.SignersStructure(cosigned)
	require.NoError(t, err)
	require.Len(t, tree.Signers, 2)
	assert.Contains(t, tree.Signers[0].Subject, "Alice")
	assert.Contains(t, tree.Signers[1].Subject, "Bob")

	outcome, err := s.Validate(context.Background(), cosigned, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())
}

func TestCoSignEnveloping(t *testing.T) {
	s := New()
	bob := testkeys.RSA(t, "Bob")
	payload := []byte{0x00, 0x01, 0x02, 0xff}
	signed := sign(t, payload, params.New())

	cosigned, err := s.CoSign(context.Background(), signed, "SHA256withRSA", bob.Key, bob.Chain, params.New())
	require.NoError(t, err)

	doc := parse(t, cosigned)
	assert.Equal(t, detachedRoot, doc.Root().Tag)
	assert.Len(t, Signatures(doc), 2)

	data, err := s.Data(cosigned)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestCounterSign(t *testing.T) {
	s := New()
	carol := testkeys.RSA(t, "Carol")
	dave := testkeys.RSA(t, "Dave")
	signed := sign(t, []byte(sampleXML), params.New())

	once, err := s.CounterSign(context.Background(), signed, "SHA256withRSA", format.TargetLeafs, carol.Key, carol.Chain, params.New())
	require.NoError(t, err)

	tree, err := s.SignersStructure(once)
	require.NoError(t, err)
	require.Len(t, tree.Signers, 1)
	require.Len(t, tree.Signers[0].Children, 1)
	assert.Contains(t, tree.Signers[0].Children[0].Subject, "Carol")

	doc := parse(t, once)
	counter := CounterSignatures(Signatures(doc)[0])
	require.Len(t, counter, 1)
	refs := DataReferences(counter[0])
	require.Len(t, refs, 1)
	assert.Equal(t, TypeCountersigned, refs[0].SelectAttrValue("Type", ""))

	twice, err := s.CounterSign(context.Background(), once, "SHA256withRSA", format.TargetTree, dave.Key, dave.Chain, params.New())
	require.NoError(t, err)
	tree, err = s.SignersStructure(twice)
	require.NoError(t, err)
	// Dave endorses both Alice and Carol.
	assert.Equal(t, 4, tree.Count())

	info, err := s.SignInfo(twice)
	require.NoError(t, err)
	assert.Equal(t, 4, info.Signers)
}

func TestPolicyAndPropertiesAreWritten(t *testing.T) {
	p, err := params.Expand(params.Of(
		params.ExpPolicy, params.PolicyFirmaAGE,
		params.SignatureProductionCity, "Madrid",
		params.SignerClaimedRoles, "emisor|supplier",
		params.ContentDescription, "Invoice 1",
	), "xades")
	require.NoError(t, err)

	signed := sign(t, []byte(sampleXML), p)
	ssp := SignedSignatureProperties(Signatures(parse(t, signed))[0])
	require.NotNil(t, ssp)

	out := string(signed)
	assert.Contains(t, out, params.AGE19XML.Identifier)
	assert.Contains(t, out, "<xades:City>Madrid</xades:City>")
	assert.Contains(t, out, "<xades:ClaimedRole>supplier</xades:ClaimedRole>")
	assert.Contains(t, out, "<xades:Description>Invoice 1</xades:Description>")
	assert.False(t, SigningTime(Signatures(parse(t, signed))[0]).IsZero())
}

func TestNamespaceParameter(t *testing.T) {
	signed := sign(t, []byte(sampleXML), params.Of(params.XAdESNamespace, NSXAdES122))
	qp := QualifyingProperties(Signatures(parse(t, signed))[0])
	require.NotNil(t, qp)
	assert.Equal(t, NSXAdES122, qp.NamespaceURI())

	signed = sign(t, []byte(sampleXML), params.Of(params.XAdESNamespace, "urn:bogus"))
	qp = QualifyingProperties(Signatures(parse(t, signed))[0])
	assert.Equal(t, NSXAdESDefault, qp.NamespaceURI())
}

// opaqueSigner hides the concrete key type, as token-backed keys do.
type opaqueSigner struct {
	crypto.Signer
}

func TestSignWithECDSAKey(t *testing.T) {
	s := New()
	erin := testkeys.ECDSA(t, "Erin")

	// The RSA name is mapped to the ECDSA method of the same hash.
	signed, err := s.Sign(context.Background(), []byte(sampleXML), "SHA256withRSA", erin.Key, erin.Chain, params.New())
	require.NoError(t, err)

	sig := Signatures(parse(t, signed))[0]
	method := Child(Child(sig, NSDSig, "SignedInfo"), NSDSig, "SignatureMethod")
	assert.Equal(t, "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256", method.SelectAttrValue("Algorithm", ""))

	value, err := base64.StdEncoding.DecodeString(ChildText(sig, NSDSig, "SignatureValue"))
	require.NoError(t, err)
	assert.Len(t, value, 64, "P-256 values are r||s")

	outcome, err := s.Validate(context.Background(), signed, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())

	tampered := bytes.Replace(signed, []byte("10.00"), []byte("99.00"), 1)
	outcome, err = s.Validate(context.Background(), tampered, nil)
	require.NoError(t, err)
	assert.Equal(t, validity.ReasonCorruptSignature, outcome.Reason)
}

func TestCoSignAndCounterSignWithECDSAKey(t *testing.T) {
	s := New()
	erin := testkeys.ECDSA(t, "Erin")
	signed := sign(t, []byte(sampleXML), params.New())

	cosigned, err := s.CoSign(context.Background(), signed, "SHA384withECDSA", erin.Key, erin.Chain, params.New())
	require.NoError(t, err)
	countered, err := s.CounterSign(context.Background(), cosigned, "SHA256withECDSA", format.TargetLeafs, erin.Key, erin.Chain, params.New())
	require.NoError(t, err)

	tree, err := s.SignersStructure(countered)
	require.NoError(t, err)
	assert.Equal(t, 4, tree.Count())

	outcome, err := s.Validate(context.Background(), countered, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())
}

func TestSignWithOpaqueSigner(t *testing.T) {
	s := New()
	frank := testkeys.RSA(t, "Frank")
	key := opaqueSigner{frank.Key}

	for _, data := range [][]byte{[]byte(sampleXML), []byte("not xml")} {
		signed, err := s.Sign(context.Background(), data, "SHA256withRSA", key, frank.Chain, params.New())
		require.NoError(t, err)

		countered, err := s.CounterSign(context.Background(), signed, "SHA256withRSA", format.TargetLeafs, key, frank.Chain, params.New())
		require.NoError(t, err)

		outcome, err := s.Validate(context.Background(), countered, nil)
		require.NoError(t, err)
		assert.True(t, outcome.IsValid(), outcome.String())
	}
}

func TestArchivalSignaturesAreSealed(t *testing.T) {
	s := New()
	bob := testkeys.RSA(t, "Bob")
	signed := sign(t, []byte(sampleXML), params.New())
	assert.False(t, IsArchival(parse(t, signed)))

	doc := parse(t, signed)
	qp := QualifyingProperties(Signatures(doc)[0])
	require.NotNil(t, qp)
	usp := qp.CreateElement("xades:UnsignedProperties").CreateElement("xades:UnsignedSignatureProperties")
	ats := usp.CreateElement("xadesv141:ArchiveTimeStamp")
	ats.CreateAttr("xmlns:xadesv141", NSXAdES141)
	ats.CreateElement("xadesv141:EncapsulatedTimeStamp").SetText("MIIB")
	archived, err := doc.WriteToBytes()
	require.NoError(t, err)
	assert.True(t, IsArchival(parse(t, archived)))

	_, err = s.CoSign(context.Background(), archived, "SHA256withRSA", bob.Key, bob.Chain, params.New())
	assert.True(t, errors.Is(err, firmaerrors.ErrSigningArchivalSignature))
	assert.Equal(t, firmaerrors.KindAlreadySignedArchivalFormat, firmaerrors.KindOf(err))

	_, err = s.CounterSign(context.Background(), archived, "SHA256withRSA", format.TargetTree, bob.Key, bob.Chain, params.New())
	assert.True(t, errors.Is(err, firmaerrors.ErrSigningArchivalSignature))
}
