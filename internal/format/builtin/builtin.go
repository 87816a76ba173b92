// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package builtin wires the signer capabilities shipped with firma into a
// format catalog.
package builtin

import (
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/format/cades"
	"github.com/dotandev/firma/internal/format/facturae"
	"github.com/dotandev/firma/internal/format/office"
	"github.com/dotandev/firma/internal/format/pades"
	"github.com/dotandev/firma/internal/format/xades"
)

// Register adds every built-in capability to c.
func Register(c *format.Catalog) {
	c.Register(pades.New())
	c.Register(facturae.New(), "Factura-e", "FacturaE 3.2")
	c.Register(xades.New(), "XAdES Detached", "XAdES Enveloping", "XAdES Enveloped", "XMLDSig", format.XAdESTri)
	c.Register(office.NewODF(), "OpenDocument", "ODT")
	c.Register(office.NewOOXML(), "OOXML (Office Open XML)", "DOCX")
	c.Register(cades.New())
}

// Catalog returns a catalog holding the built-in capabilities.
func Catalog() *format.Catalog {
	c := format.NewCatalog()
	Register(c)
	return c
}
