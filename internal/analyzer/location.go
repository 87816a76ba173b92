// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/dotandev/firma/internal/format/xades"
)

// DataLocation says where the signed data of an XML container lives.
type DataLocation string

const (
	LocationEnveloped          DataLocation = "enveloped"
	LocationManifest           DataLocation = "manifest"
	LocationExternallyDetached DataLocation = "externally-detached"
	LocationInternallyDetached DataLocation = "internally-detached"
	LocationEnveloping         DataLocation = "enveloping"
	LocationUnrecognized       DataLocation = "unrecognized"
)

// Locate classifies doc by the data references of its first signature.
// The checks run in a fixed order and the first match wins.
func Locate(doc *etree.Document) DataLocation {
	sigs := signatures(doc)
	if len(sigs) == 0 {
		return LocationUnrecognized
	}
	sig := sigs[0]
	refs := references(sig)

	switch {
	case isEnveloped(doc, sig, refs):
		return LocationEnveloped
	case hasManifest(refs):
		return LocationManifest
	case isExternallyDetached(refs):
		return LocationExternallyDetached
	case targetsData(doc, sig, refs, false):
		return LocationInternallyDetached
	case targetsData(doc, sig, refs, true):
		return LocationEnveloping
	}
	return LocationUnrecognized
}

// references returns the references of sig except the one covering its
// signed properties.
func references(sig *etree.Element) []*etree.Element {
	var out []*etree.Element
	for _, ref := range xades.Children(xades.Child(sig, xades.NSDSig, "SignedInfo"), xades.NSDSig, "Reference") {
		if strings.HasSuffix(ref.SelectAttrValue("Type", ""), "#SignedProperties") {
			continue
		}
		out = append(out, ref)
	}
	return out
}

func isEnveloped(doc *etree.Document, sig *etree.Element, refs []*etree.Element) bool {
	if sig == doc.Root() {
		return false
	}
	for _, ref := range refs {
		switch ref.SelectAttrValue("URI", "") {
		case "", "#xpointer(/)":
			return true
		}
		transforms := xades.Child(ref, xades.NSDSig, "Transforms")
		for _, t := range xades.Children(transforms, xades.NSDSig, "Transform") {
			if t.SelectAttrValue("Algorithm", "") == xades.AlgEnveloped {
				return true
			}
		}
	}
	return false
}

func hasManifest(refs []*etree.Element) bool {
	for _, ref := range refs {
		if ref.SelectAttrValue("Type", "") == xades.TypeManifest {
			return true
		}
	}
	return false
}

func isExternallyDetached(refs []*etree.Element) bool {
	for _, ref := range refs {
		uri := ref.SelectAttrValue("URI", "")
		if uri != "" && !strings.HasPrefix(uri, "#") {
			return true
		}
	}
	return false
}

// targetsData reports whether a reference points at an element of doc
// that lies inside sig (inside set) or outside it.
func targetsData(doc *etree.Document, sig *etree.Element, refs []*etree.Element, inside bool) bool {
	for _, ref := range refs {
		uri := ref.SelectAttrValue("URI", "")
		if !strings.HasPrefix(uri, "#") {
			continue
		}
		target := xades.FindByID(doc.Root(), strings.TrimPrefix(uri, "#"))
		if target != nil && xades.IsInside(target, sig) == inside {
			return true
		}
	}
	return false
}
