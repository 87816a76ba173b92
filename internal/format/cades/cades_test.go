// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cades

import (
	"context"
	"crypto"
	"encoding/asn1"
	"errors"
	"testing"

	"github.com/digitorus/pkcs7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	firmaerrors "github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/testkeys"
	"github.com/dotandev/firma/internal/validity"
)

var payload = []byte("%PDF-1.4 pretend document body")

func TestSignImplicit(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	s := New()

	signed, err := s.Sign(context.Background(), payload, "SHA256withRSA", alice.Key, alice.Chain, params.New())
	require.NoError(t, err)
	assert.True(t, s.IsSign(signed))
	assert.False(t, s.IsSign(payload))

	outcome, err := s.Validate(context.Background(), signed, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())

	data, err := s.Data(signed)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	info, err := s.SignInfo(signed)
	require.NoError(t, err)
	assert.Equal(t, VariantImplicit, info.Variant)
	assert.Equal(t, 1, info.Signers)

	p7, err := pkcs7.Parse(signed)
	require.NoError(t, err)
	var found bool
	for _, attr := range p7.Signers[0].AuthenticatedAttributes {
		if attr.Type.Equal(OIDSigningCertificateV2) {
			found = true
		}
	}
	assert.True(t, found, "signing certificate attribute missing")
}

func TestSignExplicit(t *testing.T) {
	alice := testkeys.ECDSA(t, "Alice")
	s := New()

	signed, err := s.Sign(context.Background(), payload, "SHA256withECDSA", alice.Key, alice.Chain,
		params.Of(params.Mode, params.ModeExplicit))
	require.NoError(t, err)

	info, err := s.SignInfo(signed)
	require.NoError(t, err)
	assert.Equal(t, VariantExplicit, info.Variant)

	outcome, err := s.Validate(context.Background(), signed, nil)
	require.NoError(t, err)
	assert.Equal(t, validity.StateUnknown, outcome.State)

	_, err = s.Data(signed)
	assert.True(t, errors.Is(err, firmaerrors.ErrInvalidFormat))

	_, err = s.CoSign(context.Background(), signed, "SHA256withECDSA", alice.Key, alice.Chain, nil)
	assert.Equal(t, firmaerrors.KindUnsupportedOperation, firmaerrors.KindOf(err))
}

func TestCoSign(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	bob := testkeys.RSA(t, "Bob")
	s := New()

	signed, err := s.Sign(context.Background(), payload, "SHA256withRSA", alice.Key, alice.Chain, nil)
	require.NoError(t, err)
	cosigned, err := s.CoSign(context.Background(), signed, "SHA512withRSA", bob.Key, bob.Chain, nil)
	require.NoError(t, err)

	tree, err := s.SignersStructure(cosigned)
	require.NoError(t, err)
	require.Len(t, tree.Signers, 2)
	assert.Contains(t, tree.Signers[0].Subject, "Alice")
	assert.Contains(t, tree.Signers[1].Subject, "Bob")
	assert.False(t, tree.Signers[1].SigningTime.IsZero())

	outcome, err := s.Validate(context.Background(), cosigned, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())
}

func TestCounterSign(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	bob := testkeys.RSA(t, "Bob")
	carol := testkeys.ECDSA(t, "Carol")
	dave := testkeys.RSA(t, "Dave")
	s := New()
	ctx := context.Background()

	signed, err := s.Sign(ctx, payload, "SHA256withRSA", alice.Key, alice.Chain, nil)
	require.NoError(t, err)
	cosigned, err := s.CoSign(ctx, signed, "SHA256withRSA", bob.Key, bob.Chain, nil)
	require.NoError(t, err)

	once, err := s.CounterSign(ctx, cosigned, "SHA256withECDSA", format.TargetLeafs, carol.Key, carol.Chain, nil)
	require.NoError(t, err)

	tree, err := s.SignersStructure(once)
	require.NoError(t, err)
	require.Len(t, tree.Signers, 2)
	for _, top := range tree.Signers {
		require.Len(t, top.Children, 1)
		assert.Contains(t, top.Children[0].Subject, "Carol")
		assert.False(t, top.Children[0].SigningTime.IsZero())
	}
	assert.Equal(t, "signer-1.1", tree.Signers[0].Children[0].ID)

	outcome, err := s.Validate(ctx, once, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())

	data, err := s.Data(once)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	// Dave endorses Alice, Bob and both of Carol's counter-signatures.
	twice, err := s.CounterSign(ctx, once, "SHA384withRSA", format.TargetTree, dave.Key, dave.Chain, nil)
	require.NoError(t, err)
	tree, err = s.SignersStructure(twice)
	require.NoError(t, err)
	assert.Equal(t, 8, tree.Count())
	require.Len(t, tree.Signers[0].Children, 2)
	require.Len(t, tree.Signers[0].Children[0].Children, 1)
	assert.Contains(t, tree.Signers[0].Children[0].Children[0].Subject, "Dave")

	info, err := s.SignInfo(twice)
	require.NoError(t, err)
	assert.Equal(t, 8, info.Signers)

	outcome, err = s.Validate(ctx, twice, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())

	// Leaves only: the four newest signatures of Carol and Dave.
	thrice, err := s.CounterSign(ctx, twice, "SHA256withRSA", format.TargetLeafs, alice.Key, alice.Chain, nil)
	require.NoError(t, err)
	tree, err = s.SignersStructure(thrice)
	require.NoError(t, err)
	assert.Equal(t, 12, tree.Count())
}

func TestCounterSignatureCoversEndorsedValue(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	bob := testkeys.RSA(t, "Bob")
	s := New()

	signed, err := s.Sign(context.Background(), payload, "SHA256withRSA", alice.Key, alice.Chain, nil)
	require.NoError(t, err)
	countered, err := s.CounterSign(context.Background(), signed, "SHA256withRSA", format.TargetLeafs, bob.Key, bob.Chain, nil)
	require.NoError(t, err)

	p7, err := pkcs7.Parse(countered)
	require.NoError(t, err)
	roots, _, _, err := decodeSigners(p7)
	require.NoError(t, err)
	require.Len(t, roots[0].children, 1)

	counter := roots[0].children[0]
	require.NoError(t, verifyCounterSignature(counter, roots[0].info.EncryptedDigest, p7.Certificates))
	assert.Error(t, verifyCounterSignature(counter, []byte("another signature value"), p7.Certificates))
	assert.Error(t, verifyCounterSignature(counter, roots[0].info.EncryptedDigest, nil), "unknown certificate")
}

func TestCounterSignDetached(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	bob := testkeys.ECDSA(t, "Bob")
	s := New()

	signed, err := s.Sign(context.Background(), payload, "SHA256withRSA", alice.Key, alice.Chain,
		params.Of(params.Mode, params.ModeExplicit))
	require.NoError(t, err)
	countered, err := s.CounterSign(context.Background(), signed, "SHA256withECDSA", format.TargetLeafs, bob.Key, bob.Chain, nil)
	require.NoError(t, err)

	info, err := s.SignInfo(countered)
	require.NoError(t, err)
	assert.Equal(t, VariantExplicit, info.Variant)
	assert.Equal(t, 2, info.Signers)
}

func TestArchivalSignaturesAreSealed(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	bob := testkeys.RSA(t, "Bob")

	sd, err := pkcs7.NewSignedData(payload)
	require.NoError(t, err)
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	require.NoError(t, sd.AddSignerChain(alice.Leaf(), alice.Key, alice.Chain[1:], pkcs7.SignerInfoConfig{
		ExtraUnsignedAttributes: []pkcs7.Attribute{{Type: OIDArchiveTimestampV2, Value: []byte{0x01}}},
	}))
	archived, err := sd.Finish()
	require.NoError(t, err)

	_, err = New().CoSign(context.Background(), archived, "SHA256withRSA", bob.Key, bob.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrSigningArchivalSignature))
	_, err = New().CounterSign(context.Background(), archived, "SHA256withRSA", format.TargetLeafs, bob.Key, bob.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrSigningArchivalSignature))
	assert.Equal(t, firmaerrors.KindAlreadySignedArchivalFormat, firmaerrors.KindOf(err))
}

func TestPolicyAttribute(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	p, err := params.Expand(params.Of(params.ExpPolicy, params.PolicyFirmaAGE), "cades")
	require.NoError(t, err)

	signed, err := New().Sign(context.Background(), payload, "SHA256withRSA", alice.Key, alice.Chain, p)
	require.NoError(t, err)

	p7, err := pkcs7.Parse(signed)
	require.NoError(t, err)
	var policy signaturePolicyID
	require.NoError(t, p7.UnmarshalSignedAttribute(OIDSigPolicyID, &policy))
	assert.Equal(t, "2.16.724.1.3.1.1.2.1.9", policy.ID.String())
	assert.True(t, policy.Hash.HashAlgorithm.Algorithm.Equal(pkcs7.OIDDigestAlgorithmSHA1))
	require.Len(t, policy.Qualifiers, 1)

	bad := params.Of(params.PolicyIdentifier, "not-an-oid", params.PolicyIdentifierHash, "AA==")
	_, err = New().Sign(context.Background(), payload, "SHA256withRSA", alice.Key, alice.Chain, bad)
	assert.True(t, errors.Is(err, firmaerrors.ErrInvalidParameters))
}

func TestSignErrors(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	s := New()

	_, err := s.Sign(context.Background(), nil, "SHA256withRSA", alice.Key, alice.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrNoDataToSign))

	_, err = s.Sign(context.Background(), payload, "SHA256withRSA", alice.Key, nil, nil)
	assert.Equal(t, firmaerrors.KindCertificateEncodingFailure, firmaerrors.KindOf(err))

	_, err = s.CoSign(context.Background(), payload, "SHA256withRSA", alice.Key, alice.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrNoSignatureFound))

	outcome, err := s.Validate(context.Background(), payload, nil)
	require.NoError(t, err)
	assert.Equal(t, validity.ReasonNoSignature, outcome.Reason)
}

func TestParseOIDAndDigests(t *testing.T) {
	oid, err := parseOID("1.2.840.113549")
	require.NoError(t, err)
	assert.True(t, oid.Equal(asn1.ObjectIdentifier{1, 2, 840, 113549}))

	for _, bad := range []string{"", "1", "1.x", "1.-2"} {
		_, err := parseOID(bad)
		assert.Error(t, err, bad)
	}

	_, err = DigestOID(crypto.MD5)
	assert.Error(t, err)
	h, ok := hashByName("http://www.w3.org/2000/09/xmldsig#sha1")
	assert.True(t, ok)
	assert.Equal(t, crypto.SHA1, h)
}
