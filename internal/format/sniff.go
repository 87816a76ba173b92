// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"bytes"
	"io"
	"strings"

	"github.com/beevik/etree"
	"github.com/klauspost/compress/zip"
)

// pdfHeaderWindow is how far into the data the PDF header may appear.
const pdfHeaderWindow = 1024

const (
	odfMimetypeEntry      = "mimetype"
	odfMimetypePrefix     = "application/vnd.oasis.opendocument."
	ooxmlContentTypeEntry = "[Content_Types].xml"
)

// IsPDF reports whether data starts with a PDF header.
func IsPDF(data []byte) bool {
	head := data
	if len(head) > pdfHeaderWindow {
		head = head[:pdfHeaderWindow]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

// ParseXML parses data as an XML document. It returns nil when data is not
// well formed or has no root element.
func ParseXML(data []byte) *etree.Document {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(trimmed); err != nil {
		return nil
	}
	if doc.Root() == nil {
		return nil
	}
	return doc
}

// IsXML reports whether data is a well formed XML document.
func IsXML(data []byte) bool {
	return ParseXML(data) != nil
}

// IsFacturae reports whether data is a FacturaE electronic invoice.
func IsFacturae(data []byte) bool {
	doc := ParseXML(data)
	if doc == nil {
		return false
	}
	return IsFacturaeRoot(doc.Root())
}

// IsFacturaeRoot reports whether root is the root element of an invoice.
func IsFacturaeRoot(root *etree.Element) bool {
	if root == nil || root.Tag != "Facturae" {
		return false
	}
	return strings.Contains(strings.ToLower(root.NamespaceURI()), "facturae")
}

// IsODF reports whether data is an OpenDocument package.
func IsODF(data []byte) bool {
	r := openZip(data)
	if r == nil {
		return false
	}
	for _, f := range r.File {
		if f.Name != odfMimetypeEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return false
		}
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, 256))
		if err != nil {
			return false
		}
		return strings.HasPrefix(string(b), odfMimetypePrefix)
	}
	return false
}

// IsOOXML reports whether data is an Office Open XML package.
func IsOOXML(data []byte) bool {
	r := openZip(data)
	if r == nil {
		return false
	}
	for _, f := range r.File {
		if f.Name == ooxmlContentTypeEntry {
			return true
		}
	}
	return false
}

func openZip(data []byte) *zip.Reader {
	if len(data) < 4 || !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return nil
	}
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}
	return r
}

// sniffers lists the payload classifiers in Priority order. CAdES accepts
// anything and must stay last.
var sniffers = []struct {
	format string
	match  func([]byte) bool
}{
	{PAdES, IsPDF},
	{FacturaE, IsFacturae},
	{XAdES, IsXML},
	{ODF, IsODF},
	{OOXML, IsOOXML},
	{CAdES, func([]byte) bool { return true }},
}

// Sniff classifies a payload to be signed.
func Sniff(data []byte) string {
	for _, s := range sniffers {
		if s.match(data) {
			return s.format
		}
	}
	return CAdES
}
