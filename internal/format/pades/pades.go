// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package pades signs PDF documents. Every signature is appended as an
// incremental update so that earlier signatures stay valid.
package pades

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/digitorus/pkcs7"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/format/cades"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/validity"
)

// Signer is the PAdES capability.
type Signer struct {
	now func() time.Time
}

func New() *Signer {
	return &Signer{now: time.Now}
}

func (s *Signer) Name() string {
	return format.PAdES
}

// IsSign reports whether data is a PDF holding at least one signature.
func (s *Signer) IsSign(data []byte) bool {
	if !format.IsPDF(data) {
		return false
	}
	doc, err := open(data)
	return err == nil && len(doc.sigs) > 0
}

// Validate checks the signatures of a PDF. Conditions that need a decision
// from the user (unregistered signatures, certified documents, content
// changed after signing) are returned as NeedsConfirmation until the
// corresponding parameter is present.
func (s *Signer) Validate(ctx context.Context, data []byte, p *params.Params) (validity.Outcome, error) {
	doc, err := open(data)
	if err != nil {
		// Signing reports the precise failure.
		return validity.Unknown(err.Error()), nil
	}
	if len(doc.sigs) == 0 {
		return validity.Invalid(validity.ReasonNoSignature, ""), nil
	}

	if len(doc.unregistered()) > 0 && !p.Has(params.AllowCosigningUnregisteredSignatures) {
		return validity.NeedsConfirmation(
			"The document contains signatures that cannot be verified. Sign it anyway?",
			params.Of(params.AllowCosigningUnregisteredSignatures, "false"),
			params.Of(params.AllowCosigningUnregisteredSignatures, "true"),
		), nil
	}
	if doc.certificationLevel() == 1 && !p.Has(params.AllowSigningCertifiedPdfs) {
		return validity.NeedsConfirmation(
			"The document is certified and new signatures will invalidate the certification. Sign it anyway?",
			params.Of(params.AllowSigningCertifiedPdfs, "false"),
			params.Of(params.AllowSigningCertifiedPdfs, "true"),
		), nil
	}

	for _, sig := range doc.sigs {
		if err := ctx.Err(); err != nil {
			return validity.Outcome{}, err
		}
		if !sig.registered() {
			continue
		}
		if err := sig.verify(data); err != nil {
			return validity.Invalid(validity.ReasonCorruptSignature, fmt.Sprintf("%s: %v", sig.field, err)), nil
		}
	}

	pages, _ := strconv.Atoi(p.Value(params.PagesToCheckShadowAttack))
	if pages > 0 && !p.Bool(params.AllowShadowAttack) {
		modified, err := doc.modifiedAfterSigning(pages)
		if err != nil {
			return validity.Unknown(err.Error()), nil
		}
		if modified {
			if p.Has(params.AllowShadowAttack) {
				return validity.Invalid(validity.ReasonModifiedForm, "page content changed after signing"), nil
			}
			return validity.NeedsConfirmation(
				"The document was modified after it was signed. Sign it anyway?",
				params.Of(params.AllowShadowAttack, "false"),
				params.Of(params.AllowShadowAttack, "true"),
			), nil
		}
	}
	return validity.Valid(), nil
}

func (s *Signer) Sign(ctx context.Context, data []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.ErrNoDataToSign
	}
	if !format.IsPDF(data) {
		return nil, errors.WrapInvalidPdf(fmt.Errorf("missing PDF header"))
	}
	alg, err := format.LookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errors.ErrCertificateEncoding
	}

	doc, err := open(data)
	if err != nil {
		return nil, err
	}
	if doc.encrypted() {
		if p.Has(params.OwnerPassword) || p.Has(params.UserPassword) {
			return nil, errors.WrapUnsupportedOperation(format.PAdES, "signing encrypted documents")
		}
		return nil, errors.ErrPdfPasswordProtected
	}
	if doc.certificationLevel() == 1 && !p.Bool(params.AllowSigningCertifiedPdfs) {
		return nil, errors.ErrPdfCertified
	}
	if n := len(doc.unregistered()); n > 0 && !p.Bool(params.AllowCosigningUnregisteredSignatures) {
		return nil, fmt.Errorf("%w: %d found", errors.ErrPdfUnregisteredSignatures, n)
	}

	var out []byte
	err = safely(func() error {
		var err error
		out, err = s.sign(doc, alg, key, chain, p)
		return err
	})
	return out, err
}

// CoSign adds a new signature revision, exactly as Sign does.
func (s *Signer) CoSign(ctx context.Context, sign []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	return s.Sign(ctx, sign, algorithm, key, chain, p)
}

func (s *Signer) CounterSign(ctx context.Context, sign []byte, algorithm string, target format.Target, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	return nil, errors.WrapUnsupportedOperation(format.PAdES, "counter-signing")
}

func (s *Signer) sign(doc *document, alg format.Algorithm, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error) {
	numPages := doc.reader.NumPage()
	if numPages == 0 {
		return nil, errors.WrapInvalidPdf(fmt.Errorf("document has no pages"))
	}
	pl, err := placementFrom(p, numPages)
	if err != nil {
		return nil, err
	}

	u, err := newUpdate(doc)
	if err != nil {
		return nil, err
	}
	now := s.now()
	leaf := chain[0]

	sigRef := u.alloc()
	fieldRef := u.alloc()
	subFilter := p.ValueOr(params.SignatureSubFilter, SubFilterPKCS7)
	if subFilter != SubFilterPKCS7 && subFilter != SubFilterCAdES {
		return nil, errors.WrapInvalidParameters("unsupported signature sub-filter " + subFilter)
	}

	// Placeholder sized for the CMS structure: certificates plus room for
	// the signed attributes and the signature value.
	size := 8192
	for _, c := range chain {
		size += len(c.Raw)
	}
	contentsAt, byteRangeAt := u.signatureObject(sigRef, subFilter, size, leaf, now, p)

	var widgets []string
	pageAnnots := make(map[int][]ref)
	var order []int
	if pl == nil {
		w := u.alloc()
		u.object(w, fmt.Sprintf("<< /Type /Annot /Subtype /Widget /Rect [0 0 0 0] /F 132 /P %s /Parent %s >>",
			refOf(doc.reader.Page(1).V), fieldRef))
		widgets = append(widgets, w.String())
		pageAnnots[1] = append(pageAnnots[1], w)
		order = append(order, 1)
	} else {
		text := expandText(p.ValueOr(params.Layer2Text, DefaultLayer2Text), leaf, now, p)
		width, height := pl.rect[2]-pl.rect[0], pl.rect[3]-pl.rect[1]
		font := u.alloc()
		u.object(font, fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /%s /Encoding /WinAnsiEncoding >>",
			baseFont(p.Value(params.Layer2FontFamily), p.Value(params.Layer2FontStyle))))
		ap := u.alloc()
		u.stream(ap, fmt.Sprintf(" /Type /XObject /Subtype /Form /BBox [0 0 %s %s] /Resources << /Font << /F1 %s >> >>",
			num(width), num(height), font), appearanceStream(text, width, height, p))

		for _, page := range pl.pages {
			w := u.alloc()
			u.object(w, fmt.Sprintf("<< /Type /Annot /Subtype /Widget /Rect [%s %s %s %s] /F 4 /P %s /Parent %s /AP << /N %s >> /MK << /R %d >> >>",
				num(pl.rect[0]), num(pl.rect[1]), num(pl.rect[2]), num(pl.rect[3]),
				refOf(doc.reader.Page(page).V), fieldRef, ap, pl.rotation))
			widgets = append(widgets, w.String())
			pageAnnots[page] = append(pageAnnots[page], w)
			order = append(order, page)
		}
	}

	names := doc.fieldNames()
	name := fmt.Sprintf("Signature%d", len(doc.sigs)+1)
	for i := len(doc.sigs) + 2; names[name]; i++ {
		name = fmt.Sprintf("Signature%d", i)
	}
	u.object(fieldRef, fmt.Sprintf("<< /FT /Sig /T %s /V %s /Kids [%s] >>", textString(name), sigRef, strings.Join(widgets, " ")))

	for _, page := range order {
		u.rewritePage(doc.reader.Page(page).V, pageAnnots[page])
		delete(pageAnnots, page)
	}
	u.rewriteCatalog(fieldRef)
	out := u.finish()

	if err := embedSignature(out, contentsAt, byteRangeAt, size, alg, key, chain, p); err != nil {
		return nil, err
	}
	logger.Logger.Debug("PDF signed", "field", name, "subFilter", subFilter, "visible", pl != nil)
	return out, nil
}

// signatureObject writes the signature dictionary with zeroed Contents and
// a blank ByteRange, and returns their offsets.
func (u *update) signatureObject(r ref, subFilter string, size int, leaf *x509.Certificate, now time.Time, p *params.Params) (contentsAt, byteRangeAt int64) {
	head := fmt.Sprintf("<< /Type /Sig /Filter /Adobe.PPKLite /SubFilter /%s /ByteRange ", subFilter)
	byteRange := "[" + strings.Repeat(" ", 40) + "]"
	contents := " /Contents <" + strings.Repeat("0", size*2) + ">"

	var tail strings.Builder
	fmt.Fprintf(&tail, " /M %s /Name %s", textString(formatDate(now)), textString(leaf.Subject.CommonName))
	if v := p.Value(params.SignReason); v != "" {
		fmt.Fprintf(&tail, " /Reason %s", textString(v))
	}
	if v := p.Value(params.SignatureProductionCity); v != "" {
		fmt.Fprintf(&tail, " /Location %s", textString(v))
	}
	if v := p.Value(params.SignerContact); v != "" {
		fmt.Fprintf(&tail, " /ContactInfo %s", textString(v))
	}
	tail.WriteString(" >>")

	at := u.object(r, head+byteRange+contents+tail.String())
	byteRangeAt = at + int64(len(head))
	contentsAt = byteRangeAt + int64(len(byteRange)) + int64(len(" /Contents "))
	return contentsAt, byteRangeAt
}

// embedSignature fills the ByteRange, signs the covered bytes and writes
// the hex encoded CMS structure into the Contents placeholder.
func embedSignature(out []byte, contentsAt, byteRangeAt int64, size int, alg format.Algorithm, key crypto.Signer, chain []*x509.Certificate, p *params.Params) error {
	end := contentsAt + int64(size*2) + 2
	byteRange := fmt.Sprintf("[0 %d %d %d", contentsAt, end, int64(len(out))-end)
	byteRange += strings.Repeat(" ", 41-len(byteRange)) + "]"
	copy(out[byteRangeAt:], byteRange)

	signed := make([]byte, 0, int64(len(out))-int64(size*2)-2)
	signed = append(signed, out[:contentsAt]...)
	signed = append(signed, out[end:]...)

	sd, err := pkcs7.NewSignedData(signed)
	if err != nil {
		return errors.WrapSigningFailed(err)
	}
	oid, err := cades.DigestOID(alg.Hash)
	if err != nil {
		return err
	}
	sd.SetDigestAlgorithm(oid)
	attrs, err := cades.SignedAttributes(chain[0], alg.Hash, nil, p)
	if err != nil {
		return err
	}
	if err := sd.AddSignerChain(chain[0], key, chain[1:], pkcs7.SignerInfoConfig{ExtraSignedAttributes: attrs}); err != nil {
		return errors.WrapSigningFailed(err)
	}
	sd.Detach()
	der, err := sd.Finish()
	if err != nil {
		return errors.WrapSigningFailed(err)
	}
	if len(der) > size {
		return errors.WrapSigningFailed(fmt.Errorf("signature needs %d bytes, %d reserved", len(der), size))
	}
	copy(out[contentsAt+1:], strings.ToUpper(hex.EncodeToString(der)))
	return nil
}

func (s *Signer) SignInfo(sign []byte) (*format.SignInfo, error) {
	doc, err := open(sign)
	if err != nil {
		return nil, err
	}
	if len(doc.sigs) == 0 {
		return nil, errors.ErrNoSignatureFound
	}
	return &format.SignInfo{Format: format.PAdES, Variant: doc.sigs[0].subFilter, Signers: len(doc.sigs)}, nil
}

// SignersStructure lists one node per signature field, in document order.
func (s *Signer) SignersStructure(sign []byte) (*format.SignerTree, error) {
	doc, err := open(sign)
	if err != nil {
		return nil, err
	}
	if len(doc.sigs) == 0 {
		return nil, errors.ErrNoSignatureFound
	}
	tree := &format.SignerTree{}
	for _, sig := range doc.sigs {
		node := &format.SignerNode{ID: sig.field, SigningTime: sig.signingTime}
		if p7, err := sig.cms(); err == nil {
			if cert := p7.GetOnlySigner(); cert != nil {
				node.Certificate = cert
				node.Subject = cert.Subject.String()
			}
		}
		tree.Signers = append(tree.Signers, node)
	}
	return tree, nil
}

// Data returns the document itself: a signed PDF is its own content.
func (s *Signer) Data(sign []byte) ([]byte, error) {
	if !format.IsPDF(sign) {
		return nil, errors.WrapInvalidPdf(fmt.Errorf("missing PDF header"))
	}
	return sign, nil
}
