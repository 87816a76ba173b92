// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package xades

import (
	"strings"

	"github.com/beevik/etree"
)

// Namespaces of XMLDSig and of every XAdES version accepted for the
// QualifyingProperties element.
const (
	NSDSig            = "http://www.w3.org/2000/09/xmldsig#"
	NSXAdESNoVersion  = "http://uri.etsi.org/01903#"
	NSXAdES122        = "http://uri.etsi.org/01903/v1.2.2#"
	NSXAdES132        = "http://uri.etsi.org/01903/v1.3.2#"
	NSXAdES141        = "http://uri.etsi.org/01903/v1.4.1#"
	NSXAdESDefault    = NSXAdES132
	TypeSignedProps   = "http://uri.etsi.org/01903#SignedProperties"
	TypeCountersigned = "http://uri.etsi.org/01903#CountersignedSignature"
	TypeManifest      = "http://www.w3.org/2000/09/xmldsig#Manifest"
)

// Algorithm URIs used in the signatures this package writes.
const (
	AlgExcC14N    = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgC14N       = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgEnveloped  = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	AlgBase64     = "http://www.w3.org/2000/09/xmldsig#base64"
	detachedRoot  = "AFIRMA"
	detachedChild = "CONTENT"
)

// QualifyingNamespaces lists the accepted XAdES namespaces, newest first.
var QualifyingNamespaces = []string{NSXAdES141, NSXAdES132, NSXAdES122, NSXAdESNoVersion}

// IsQualifyingNamespace reports whether ns is an accepted XAdES namespace.
func IsQualifyingNamespace(ns string) bool {
	for _, q := range QualifyingNamespaces {
		if q == ns {
			return true
		}
	}
	return false
}

// Is reports whether e has the given namespace and local name.
func Is(e *etree.Element, ns, local string) bool {
	return e != nil && e.Tag == local && e.NamespaceURI() == ns
}

// Child returns the first child element of e with namespace ns and local
// name local.
func Child(e *etree.Element, ns, local string) *etree.Element {
	if e == nil {
		return nil
	}
	for _, c := range e.ChildElements() {
		if Is(c, ns, local) {
			return c
		}
	}
	return nil
}

// Children returns every child element of e with namespace ns and local
// name local.
func Children(e *etree.Element, ns, local string) []*etree.Element {
	if e == nil {
		return nil
	}
	var out []*etree.Element
	for _, c := range e.ChildElements() {
		if Is(c, ns, local) {
			out = append(out, c)
		}
	}
	return out
}

// Descendants returns every element below e, e included, with namespace
// ns and local name local, in document order.
func Descendants(e *etree.Element, ns, local string) []*etree.Element {
	var out []*etree.Element
	var walk func(*etree.Element)
	walk = func(n *etree.Element) {
		if Is(n, ns, local) {
			out = append(out, n)
		}
		for _, c := range n.ChildElements() {
			walk(c)
		}
	}
	if e != nil {
		walk(e)
	}
	return out
}

// ChildText returns the trimmed text of the named child, or "".
func ChildText(e *etree.Element, ns, local string) string {
	if c := Child(e, ns, local); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

// FindByID returns the first element under root whose Id attribute is id.
func FindByID(root *etree.Element, id string) *etree.Element {
	if root == nil || id == "" {
		return nil
	}
	var found *etree.Element
	var walk func(*etree.Element) bool
	walk = func(n *etree.Element) bool {
		for _, a := range []string{"Id", "ID", "id"} {
			if n.SelectAttrValue(a, "") == id {
				found = n
				return true
			}
		}
		for _, c := range n.ChildElements() {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)
	return found
}

// IsInside reports whether e is ancestor itself or lies below it.
func IsInside(e, ancestor *etree.Element) bool {
	for n := e; n != nil; n = n.Parent() {
		if n == ancestor {
			return true
		}
	}
	return false
}

// path records the child positions leading from the document to e.
func path(e *etree.Element) []int {
	var out []int
	for n := e; n != nil && n.Parent() != nil; n = n.Parent() {
		out = append([]int{n.Index()}, out...)
	}
	return out
}

// follow resolves a path recorded on another copy of the same document.
func follow(doc *etree.Document, p []int) *etree.Element {
	cur := &doc.Element
	for _, idx := range p {
		if idx < 0 || idx >= len(cur.Child) {
			return nil
		}
		next, ok := cur.Child[idx].(*etree.Element)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// detach removes e from its parent.
func detach(e *etree.Element) {
	if p := e.Parent(); p != nil {
		p.RemoveChild(e)
	}
}

// declareNamespace makes a copied element self contained by declaring the
// namespace its prefix had in the source document.
func declareNamespace(cp *etree.Element, ns string) {
	if ns == "" {
		return
	}
	if cp.Space == "" {
		cp.CreateAttr("xmlns", ns)
		return
	}
	cp.CreateAttr("xmlns:"+cp.Space, ns)
}
