// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package pades

import (
	"bytes"
	"crypto/sha256"
	"encoding/asn1"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/digitorus/pdf"
	"github.com/digitorus/pkcs7"

	"github.com/dotandev/firma/internal/errors"
)

// Signature handlers whose signatures can be verified here. Anything else
// found in a document is an unregistered signature.
var registeredSubFilters = map[string]bool{
	SubFilterPKCS7:    true,
	SubFilterCAdES:    true,
	"adbe.pkcs7.sha1": true,
	"ETSI.RFC3161":    true,
}

const (
	SubFilterPKCS7 = "adbe.pkcs7.detached"
	SubFilterCAdES = "ETSI.CAdES.detached"
)

// ref identifies an indirect object.
type ref struct {
	id  uint32
	gen uint16
}

func refOf(v pdf.Value) ref {
	p := v.GetPtr()
	return ref{id: p.GetID(), gen: p.GetGen()}
}

func (r ref) String() string {
	return fmt.Sprintf("%d %d R", r.id, r.gen)
}

// signature is one signature value found in the AcroForm.
type signature struct {
	field       string
	subFilter   string
	contents    []byte
	byteRange   []int64
	signingTime time.Time
	reason      string
}

func (s *signature) registered() bool {
	return registeredSubFilters[s.subFilter]
}

// revisionEnd is the length of the document revision the signature covers.
func (s *signature) revisionEnd() int64 {
	if len(s.byteRange) != 4 {
		return 0
	}
	return s.byteRange[2] + s.byteRange[3]
}

// signedBytes returns the bytes covered by the signature's byte range.
func (s *signature) signedBytes(data []byte) ([]byte, error) {
	if len(s.byteRange) != 4 {
		return nil, fmt.Errorf("signature %q has a malformed byte range", s.field)
	}
	a, b, c, d := s.byteRange[0], s.byteRange[1], s.byteRange[2], s.byteRange[3]
	n := int64(len(data))
	if a < 0 || b < 0 || c < a+b || d < 0 || a+b > n || c+d > n {
		return nil, fmt.Errorf("signature %q byte range exceeds the document", s.field)
	}
	out := make([]byte, 0, b+d)
	out = append(out, data[a:a+b]...)
	return append(out, data[c:c+d]...), nil
}

// cms parses the signature contents, dropping the zero padding that
// follows the DER structure.
func (s *signature) cms() (*pkcs7.PKCS7, error) {
	der := s.contents
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(der, &raw); err == nil {
		der = raw.FullBytes
	}
	return pkcs7.Parse(der)
}

// verify checks the signature against the revision it covers.
func (s *signature) verify(data []byte) error {
	signed, err := s.signedBytes(data)
	if err != nil {
		return err
	}
	p7, err := s.cms()
	if err != nil {
		return err
	}
	p7.Content = signed
	return p7.Verify()
}

// document is a parsed PDF with the signature related facts extracted.
type document struct {
	data   []byte
	reader *pdf.Reader
	root   pdf.Value
	sigs   []*signature
}

// safely runs fn converting parser panics on malformed input into
// InvalidPdf errors.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapInvalidPdf(fmt.Errorf("%v", r))
		}
	}()
	return fn()
}

func open(data []byte) (*document, error) {
	var doc *document
	err := safely(func() error {
		r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			if stderrors.Is(err, pdf.ErrInvalidPassword) {
				return errors.ErrPdfPasswordProtected
			}
			return errors.WrapInvalidPdf(err)
		}
		root := r.Trailer().Key("Root")
		if root.Kind() != pdf.Dict {
			return errors.WrapInvalidPdf(fmt.Errorf("document catalog not found"))
		}
		doc = &document{data: data, reader: r, root: root}
		doc.sigs = collectSignatures(root.Key("AcroForm").Key("Fields"), false)
		return nil
	})
	return doc, err
}

func (d *document) encrypted() bool {
	return !d.reader.Trailer().Key("Encrypt").IsNull()
}

// certificationLevel returns the DocMDP permission level, 0 when the
// document is not certified.
func (d *document) certificationLevel() int {
	mdp := d.root.Key("Perms").Key("DocMDP")
	if mdp.IsNull() {
		return 0
	}
	refs := mdp.Key("Reference")
	for i := 0; i < refs.Len(); i++ {
		if p := refs.Index(i).Key("TransformParams").Key("P"); p.Kind() == pdf.Integer {
			return int(p.Int64())
		}
	}
	return 2
}

func (d *document) unregistered() []*signature {
	var out []*signature
	for _, s := range d.sigs {
		if !s.registered() {
			out = append(out, s)
		}
	}
	return out
}

func (d *document) fieldNames() map[string]bool {
	names := make(map[string]bool)
	var walk func(pdf.Value)
	walk = func(fields pdf.Value) {
		for i := 0; i < fields.Len(); i++ {
			f := fields.Index(i)
			if t := f.Key("T"); !t.IsNull() {
				names[t.Text()] = true
			}
			walk(f.Key("Kids"))
		}
	}
	walk(d.root.Key("AcroForm").Key("Fields"))
	return names
}

func collectSignatures(fields pdf.Value, inheritedSig bool) []*signature {
	var out []*signature
	for i := 0; i < fields.Len(); i++ {
		f := fields.Index(i)
		isSig := inheritedSig || f.Key("FT").Name() == "Sig"
		if v := f.Key("V"); isSig && v.Kind() == pdf.Dict {
			out = append(out, readSignature(f.Key("T").Text(), v))
		}
		out = append(out, collectSignatures(f.Key("Kids"), isSig)...)
	}
	return out
}

func readSignature(field string, v pdf.Value) *signature {
	s := &signature{
		field:     field,
		subFilter: v.Key("SubFilter").Name(),
		contents:  []byte(v.Key("Contents").RawString()),
		reason:    v.Key("Reason").Text(),
	}
	br := v.Key("ByteRange")
	for i := 0; i < br.Len(); i++ {
		s.byteRange = append(s.byteRange, br.Index(i).Int64())
	}
	s.signingTime = parseDate(v.Key("M").Text())
	return s
}

// parseDate reads the date part of a PDF date string (D:YYYYMMDDHHmmSS...).
func parseDate(s string) time.Time {
	s = strings.TrimPrefix(s, "D:")
	if len(s) >= 14 {
		if t, err := time.Parse("20060102150405", s[:14]); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatDate(t time.Time) string {
	_, offset := t.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("D:%s%c%02d'%02d'", t.Format("20060102150405"), sign, offset/3600, offset%3600/60)
}

// modifiedAfterSigning reports whether the content of any of the first
// pages differs between the earliest signed revision and the current one.
func (d *document) modifiedAfterSigning(pages int) (bool, error) {
	var first *signature
	for _, s := range d.sigs {
		if end := s.revisionEnd(); end > 0 && (first == nil || end < first.revisionEnd()) {
			first = s
		}
	}
	if first == nil || first.revisionEnd() >= int64(len(d.data)) {
		return false, nil
	}

	rev, err := open(d.data[:first.revisionEnd()])
	if err != nil {
		return false, err
	}
	modified := false
	err = safely(func() error {
		if rev.reader.NumPage() != d.reader.NumPage() {
			modified = true
			return nil
		}
		n := min(pages, d.reader.NumPage())
		for i := 1; i <= n; i++ {
			before, err := pageDigest(rev.reader.Page(i))
			if err != nil {
				return err
			}
			after, err := pageDigest(d.reader.Page(i))
			if err != nil {
				return err
			}
			if !bytes.Equal(before, after) {
				modified = true
				return nil
			}
		}
		return nil
	})
	return modified, err
}

func pageDigest(p pdf.Page) ([]byte, error) {
	h := sha256.New()
	contents := p.V.Key("Contents")
	streams := []pdf.Value{contents}
	if contents.Kind() == pdf.Array {
		streams = streams[:0]
		for i := 0; i < contents.Len(); i++ {
			streams = append(streams, contents.Index(i))
		}
	}
	for _, s := range streams {
		if s.Kind() != pdf.Stream {
			continue
		}
		rc := s.Reader()
		_, err := io.Copy(h, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
	}
	return h.Sum(nil), nil
}
