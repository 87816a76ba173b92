// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package pades

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	firmaerrors "github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/testkeys"
	"github.com/dotandev/firma/internal/validity"
)

func fixedSigner() *Signer {
	return &Signer{now: func() time.Time { return time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC) }}
}

func TestSignInvisible(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	blank := testkeys.BlankPDF(2)
	s := fixedSigner()

	assert.False(t, s.IsSign(blank))
	outcome, err := s.Validate(context.Background(), blank, nil)
	require.NoError(t, err)
	assert.Equal(t, validity.ReasonNoSignature, outcome.Reason)

	signed, err := s.Sign(context.Background(), blank, "SHA256withRSA", alice.Key, alice.Chain,
		params.Of(params.SignReason, "Approval", params.SignatureProductionCity, "Madrid"))
	require.NoError(t, err)
	assert.Equal(t, blank, signed[:len(blank)], "update must keep the original bytes")
	assert.True(t, s.IsSign(signed))

	outcome, err = s.Validate(context.Background(), signed, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())

	doc, err := open(signed)
	require.NoError(t, err)
	require.Len(t, doc.sigs, 1)
	sig := doc.sigs[0]
	assert.Equal(t, "Signature1", sig.field)
	assert.Equal(t, SubFilterPKCS7, sig.subFilter)
	assert.Equal(t, "Approval", sig.reason)
	assert.Equal(t, int64(len(signed)), sig.revisionEnd())
	assert.Equal(t, 2024, sig.signingTime.Year())

	info, err := s.SignInfo(signed)
	require.NoError(t, err)
	assert.Equal(t, format.PAdES, info.Format)
	assert.Equal(t, 1, info.Signers)

	tree, err := s.SignersStructure(signed)
	require.NoError(t, err)
	require.Len(t, tree.Signers, 1)
	assert.Contains(t, tree.Signers[0].Subject, "Alice")

	data, err := s.Data(signed)
	require.NoError(t, err)
	assert.Equal(t, signed, data)
}

func TestSignVisibleOnSeveralPages(t *testing.T) {
	alice := testkeys.ECDSA(t, "Alice")
	p := params.Of(
		params.PositionLowerLeftX, "50",
		params.PositionLowerLeftY, "50",
		params.PositionUpperRightX, "250",
		params.PositionUpperRightY, "120",
		params.SignaturePages, "1,-1",
		params.Layer2Text, "Firmado por $$SUBJECTCN$$",
		params.SignatureRotation, "90",
	)
	signed, err := fixedSigner().Sign(context.Background(), testkeys.BlankPDF(3), "SHA256withECDSA", alice.Key, alice.Chain, p)
	require.NoError(t, err)

	doc, err := open(signed)
	require.NoError(t, err)
	for _, n := range []int{1, 3} {
		annots := doc.reader.Page(n).V.Key("Annots")
		require.Equal(t, 1, annots.Len(), "page %d", n)
		widget := annots.Index(0)
		assert.Equal(t, "Widget", widget.Key("Subtype").Name())
		assert.Equal(t, int64(250), widget.Key("Rect").Index(2).Int64())
		assert.Equal(t, int64(90), widget.Key("MK").Key("R").Int64())
		assert.False(t, widget.Key("AP").Key("N").IsNull())
	}
	assert.Equal(t, 0, doc.reader.Page(2).V.Key("Annots").Len())

	outcome, err := New().Validate(context.Background(), signed, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())
}

func TestCoSignKeepsEarlierSignatures(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	bob := testkeys.RSA(t, "Bob")
	s := New()

	signed, err := s.Sign(context.Background(), testkeys.BlankPDF(1), "SHA256withRSA", alice.Key, alice.Chain, nil)
	require.NoError(t, err)
	cosigned, err := s.CoSign(context.Background(), signed, "SHA512withRSA", bob.Key, bob.Chain,
		params.Of(params.SignatureSubFilter, SubFilterCAdES))
	require.NoError(t, err)

	doc, err := open(cosigned)
	require.NoError(t, err)
	require.Len(t, doc.sigs, 2)
	assert.Equal(t, "Signature2", doc.sigs[1].field)
	assert.Equal(t, SubFilterCAdES, doc.sigs[1].subFilter)
	assert.Less(t, doc.sigs[0].revisionEnd(), doc.sigs[1].revisionEnd())

	outcome, err := s.Validate(context.Background(), cosigned, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())

	_, err = s.CounterSign(context.Background(), cosigned, "SHA256withRSA", format.TargetLeafs, bob.Key, bob.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrUnsupportedOperation))
}

func TestTamperedSignatureIsCorrupt(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	signed, err := New().Sign(context.Background(), testkeys.BlankPDF(1), "SHA256withRSA", alice.Key, alice.Chain, nil)
	require.NoError(t, err)

	tampered := []byte(strings.Replace(string(signed), "(Page 1)", "(Page 9)", 1))
	outcome, err := New().Validate(context.Background(), tampered, nil)
	require.NoError(t, err)
	assert.Equal(t, validity.StateInvalid, outcome.State)
	assert.Equal(t, validity.ReasonCorruptSignature, outcome.Reason)
}

// withUnregisteredSignature appends a signature field whose handler is
// not one of the registered sub-filters.
func withUnregisteredSignature(t *testing.T, data []byte) []byte {
	t.Helper()
	doc, err := open(data)
	require.NoError(t, err)
	u, err := newUpdate(doc)
	require.NoError(t, err)
	sig := u.alloc()
	field := u.alloc()
	u.object(sig, "<< /Type /Sig /Filter /Vendor.Handler /SubFilter /vendor.proprietary /Contents <00> /ByteRange [0 0 0 0] >>")
	u.object(field, fmt.Sprintf("<< /FT /Sig /T (Legacy) /V %s >>", sig))
	u.rewriteCatalog(field)
	return u.finish()
}

func TestUnregisteredSignatures(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	data := withUnregisteredSignature(t, testkeys.BlankPDF(1))
	s := New()

	outcome, err := s.Validate(context.Background(), data, nil)
	require.NoError(t, err)
	require.Equal(t, validity.StateNeedsConfirmation, outcome.State)
	assert.Equal(t, "true", outcome.AcceptedOptions.Value(params.AllowCosigningUnregisteredSignatures))

	_, err = s.Sign(context.Background(), data, "SHA256withRSA", alice.Key, alice.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrPdfUnregisteredSignatures))

	accept := params.Of(params.AllowCosigningUnregisteredSignatures, "true")
	outcome, err = s.Validate(context.Background(), data, accept)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())

	signed, err := s.Sign(context.Background(), data, "SHA256withRSA", alice.Key, alice.Chain, accept)
	require.NoError(t, err)
	doc, err := open(signed)
	require.NoError(t, err)
	assert.Len(t, doc.sigs, 2)
	assert.Len(t, doc.unregistered(), 1)
	assert.Equal(t, "Signature2", doc.sigs[1].field)
}

func certify(t *testing.T, data []byte, level int) []byte {
	t.Helper()
	doc, err := open(data)
	require.NoError(t, err)
	u, err := newUpdate(doc)
	require.NoError(t, err)
	sig := u.alloc()
	u.object(sig, fmt.Sprintf("<< /Type /Sig /Reference [<< /TransformMethod /DocMDP /TransformParams << /P %d /V /1.2 >> >>] >>", level))
	var b strings.Builder
	writeDict(&b, doc.root, refOf(doc.root), map[string]string{"Perms": fmt.Sprintf("<< /DocMDP %s >>", sig)})
	u.object(refOf(doc.root), b.String())
	return u.finish()
}

func TestCertifiedDocuments(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	s := New()

	locked := certify(t, testkeys.BlankPDF(1), 1)
	d, err := open(locked)
	require.NoError(t, err)
	assert.Equal(t, 1, d.certificationLevel())

	_, err = s.Sign(context.Background(), locked, "SHA256withRSA", alice.Key, alice.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrPdfCertified))

	_, err = s.Sign(context.Background(), locked, "SHA256withRSA", alice.Key, alice.Chain,
		params.Of(params.AllowSigningCertifiedPdfs, "true"))
	require.NoError(t, err)

	open2 := certify(t, testkeys.BlankPDF(1), 2)
	_, err = s.Sign(context.Background(), open2, "SHA256withRSA", alice.Key, alice.Chain, nil)
	require.NoError(t, err)
}

// modifyFirstPage appends a revision replacing the content of page 1.
func modifyFirstPage(t *testing.T, data []byte) []byte {
	t.Helper()
	doc, err := open(data)
	require.NoError(t, err)
	u, err := newUpdate(doc)
	require.NoError(t, err)
	content := u.alloc()
	u.stream(content, "", []byte("BT /F1 24 Tf 72 720 Td (Pay 1000 EUR) Tj ET"))
	page := doc.reader.Page(1).V
	var b strings.Builder
	writeDict(&b, page, refOf(page), map[string]string{"Contents": content.String()})
	u.object(refOf(page), b.String())
	return u.finish()
}

func TestShadowAttackDetection(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	s := New()
	signed, err := s.Sign(context.Background(), testkeys.BlankPDF(2), "SHA256withRSA", alice.Key, alice.Chain, nil)
	require.NoError(t, err)

	check := params.Of(params.PagesToCheckShadowAttack, "1")
	outcome, err := s.Validate(context.Background(), signed, check)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), "an untouched document is not an attack")

	modified := modifyFirstPage(t, signed)
	outcome, err = s.Validate(context.Background(), modified, check)
	require.NoError(t, err)
	require.Equal(t, validity.StateNeedsConfirmation, outcome.State)
	assert.Equal(t, "false", outcome.DefaultOptions.Value(params.AllowShadowAttack))

	refused := check.Clone()
	refused.Set(params.AllowShadowAttack, "false")
	outcome, err = s.Validate(context.Background(), modified, refused)
	require.NoError(t, err)
	assert.Equal(t, validity.ReasonModifiedForm, outcome.Reason)

	accepted := check.Clone()
	accepted.Set(params.AllowShadowAttack, "true")
	outcome, err = s.Validate(context.Background(), modified, accepted)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), outcome.String())

	outcome, err = s.Validate(context.Background(), modified, nil)
	require.NoError(t, err)
	assert.True(t, outcome.IsValid(), "the check is off unless pages are requested")
}

func TestSignErrors(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	s := New()
	ctx := context.Background()

	_, err := s.Sign(ctx, nil, "SHA256withRSA", alice.Key, alice.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrNoDataToSign))

	_, err = s.Sign(ctx, []byte("plain text"), "SHA256withRSA", alice.Key, alice.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrInvalidPdf))

	_, err = s.Sign(ctx, []byte("%PDF-1.4\ngarbage"), "SHA256withRSA", alice.Key, alice.Chain, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrInvalidPdf))

	_, err = s.Sign(ctx, testkeys.BlankPDF(1), "SHA256withRSA", alice.Key, nil, nil)
	assert.True(t, errors.Is(err, firmaerrors.ErrCertificateEncoding))

	_, err = s.Sign(ctx, testkeys.BlankPDF(1), "SHA256withRSA", alice.Key, alice.Chain,
		params.Of(params.SignatureSubFilter, "adbe.x509.rsa_sha1"))
	assert.True(t, errors.Is(err, firmaerrors.ErrInvalidParameters))

	_, err = s.Sign(ctx, testkeys.BlankPDF(1), "SHA256withRSA", alice.Key, alice.Chain,
		params.Of(params.SignaturePage, "4",
			params.PositionLowerLeftX, "0", params.PositionLowerLeftY, "0",
			params.PositionUpperRightX, "10", params.PositionUpperRightY, "10"))
	assert.True(t, errors.Is(err, firmaerrors.ErrInvalidParameters))

	outcome, err := s.Validate(ctx, []byte("%PDF-1.4\ngarbage"), nil)
	require.NoError(t, err)
	assert.Equal(t, validity.StateUnknown, outcome.State)
}

func TestPlacement(t *testing.T) {
	corners := func(kv ...string) *params.Params {
		p := params.Of(
			params.PositionLowerLeftX, "10",
			params.PositionLowerLeftY, "20",
			params.PositionUpperRightX, "110",
			params.PositionUpperRightY, "70",
		)
		for i := 0; i+1 < len(kv); i += 2 {
			p.Set(kv[i], kv[i+1])
		}
		return p
	}

	pl, err := placementFrom(params.Of(params.PositionLowerLeftX, "10"), 3)
	require.NoError(t, err)
	assert.Nil(t, pl, "missing corners mean an invisible signature")

	pl, err = placementFrom(corners(), 3)
	require.NoError(t, err)
	assert.Equal(t, [4]float64{10, 20, 110, 70}, pl.rect)
	assert.Equal(t, []int{1}, pl.pages)

	pl, err = placementFrom(corners(params.SignaturePage, "0"), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, pl.pages)

	pl, err = placementFrom(corners(params.SignaturePages, "all"), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, pl.pages)

	pl, err = placementFrom(corners(params.SignaturePages, "2, 2,1"), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, pl.pages)

	pl, err = placementFrom(corners(params.SignatureRotation, "-90"), 3)
	require.NoError(t, err)
	assert.Equal(t, 270, pl.rotation)

	for _, bad := range []*params.Params{
		corners(params.PositionUpperRightX, "5"),
		corners(params.PositionLowerLeftY, "abc"),
		corners(params.SignatureRotation, "45"),
		corners(params.SignaturePages, "1,x"),
	} {
		_, err := placementFrom(bad, 3)
		assert.True(t, errors.Is(err, firmaerrors.ErrInvalidParameters), bad.String())
	}
}

func TestExpandText(t *testing.T) {
	alice := testkeys.RSA(t, "Alice")
	now := time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)
	p := params.Of(params.SignReason, "Conforme", params.SignatureProductionCity, "Sevilla")

	got := expandText("$$SUBJECTCN$$ / $$ISSUERCN$$ / $$SIGNDATE=yyyy-MM-dd HH:mm$$ / $$REASON$$ / $$LOCATION$$", alice.Leaf(), now, p)
	assert.Equal(t, "Alice / Test CA / 2024-03-01 09:05 / Conforme / Sevilla", got)
	assert.Equal(t, "01/03/2024", expandText("$$SIGNDATE$$", alice.Leaf(), now, nil))
	assert.Equal(t, alice.Leaf().SerialNumber.String(), expandText("$$CERTSERIAL$$", alice.Leaf(), now, nil))
}

func TestTextEncoding(t *testing.T) {
	assert.Equal(t, `(a\(b\)c)`, textString("a(b)c"))
	assert.Equal(t, "<FEFF00F1>", textString("ñ"))
	assert.Equal(t, "/A#20B", pdfName("A B"))
	assert.Equal(t, "Helvetica-BoldOblique", baseFont("1", "3"))
	assert.Equal(t, "Courier", baseFont("0", ""))
	assert.Equal(t, "D:20240301103000+00'00'", formatDate(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)))
	assert.Equal(t, 2024, parseDate("D:20240301103000+00'00'").Year())
}
