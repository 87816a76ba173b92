// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package office

import (
	"fmt"
	"sort"
	"strings"

	"github.com/beevik/etree"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
)

// layout knows where a package type keeps its signatures and which of its
// parts they cover.
type layout interface {
	matches(data []byte) bool
	covered(name string) bool
	uri(name string) string
	signatureParts(p *pkg) []string
	addSignature(p *pkg, sig *etree.Element) error
}

const (
	odfSignaturesPart = "META-INF/documentsignatures.xml"
	nsODFSignatures   = "urn:oasis:names:tc:opendocument:xmlns:digitalsignature:1.0"
)

type odfLayout struct{}

func (odfLayout) matches(data []byte) bool { return format.IsODF(data) }

func (odfLayout) covered(name string) bool {
	if name == "mimetype" || strings.HasSuffix(name, "/") {
		return false
	}
	return !(strings.HasPrefix(name, "META-INF/") && strings.Contains(strings.ToLower(name), "signatures"))
}

func (odfLayout) uri(name string) string { return name }

func (odfLayout) signatureParts(p *pkg) []string {
	if _, ok := p.get(odfSignaturesPart); ok {
		return []string{odfSignaturesPart}
	}
	return nil
}

// addSignature appends sig to the document signatures part, creating it on
// first use.
func (odfLayout) addSignature(p *pkg, sig *etree.Element) error {
	doc := etree.NewDocument()
	if raw, ok := p.get(odfSignaturesPart); ok {
		if err := doc.ReadFromBytes(raw); err != nil {
			return errors.WrapInvalidXML(err)
		}
	} else {
		doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
		root := doc.CreateElement("document-signatures")
		root.CreateAttr("xmlns", nsODFSignatures)
		root.CreateAttr("version", "1.2")
	}
	if doc.Root() == nil {
		return errors.WrapInvalidFormat(odfSignaturesPart + " has no root element")
	}
	doc.Root().AddChild(sig)
	out, err := doc.WriteToBytes()
	if err != nil {
		return errors.WrapSigningFailed(err)
	}
	p.put(odfSignaturesPart, out)
	return nil
}

const (
	ooxmlSignatureDir = "_xmlsignatures/"
	ooxmlOrigin       = ooxmlSignatureDir + "origin.sigs"
	ooxmlOriginRels   = ooxmlSignatureDir + "_rels/origin.sigs.rels"
	ooxmlRootRels     = "_rels/.rels"
	ooxmlContentTypes = "[Content_Types].xml"
	nsRelationships   = "http://schemas.openxmlformats.org/package/2006/relationships"
	nsContentTypes    = "http://schemas.openxmlformats.org/package/2006/content-types"
	relOrigin         = "http://schemas.openxmlformats.org/package/2006/relationships/digital-signature/origin"
	relSignature      = "http://schemas.openxmlformats.org/package/2006/relationships/digital-signature/signature"
	ctOrigin          = "application/vnd.openxmlformats-package.digital-signature-origin"
	ctSignature       = "application/vnd.openxmlformats-package.digital-signature-xmlsignature+xml"
)

type ooxmlLayout struct{}

func (ooxmlLayout) matches(data []byte) bool { return format.IsOOXML(data) }

// covered excludes the parts that change when a signature is added.
func (ooxmlLayout) covered(name string) bool {
	switch {
	case strings.HasSuffix(name, "/"),
		strings.HasPrefix(name, ooxmlSignatureDir),
		name == ooxmlRootRels,
		name == ooxmlContentTypes:
		return false
	}
	return true
}

func (ooxmlLayout) uri(name string) string { return "/" + name }

func (ooxmlLayout) signatureParts(p *pkg) []string {
	var out []string
	for _, name := range p.names() {
		if strings.HasPrefix(name, ooxmlSignatureDir+"sig") && strings.HasSuffix(name, ".xml") {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// addSignature stores sig as a new signature part and links it from the
// signature origin, creating the origin on first use.
func (ooxmlLayout) addSignature(p *pkg, sig *etree.Element) error {
	n := 1
	for {
		if _, taken := p.get(fmt.Sprintf("%ssig%d.xml", ooxmlSignatureDir, n)); !taken {
			break
		}
		n++
	}
	part := fmt.Sprintf("%ssig%d.xml", ooxmlSignatureDir, n)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(sig)
	out, err := doc.WriteToBytes()
	if err != nil {
		return errors.WrapSigningFailed(err)
	}
	p.put(part, out)

	if _, ok := p.get(ooxmlOrigin); !ok {
		p.put(ooxmlOrigin, []byte{})
		if err := editXML(p, ooxmlRootRels, "Relationships", nsRelationships, func(root *etree.Element) {
			addRelationship(root, relOrigin, ooxmlOrigin)
		}); err != nil {
			return err
		}
	}
	if err := editXML(p, ooxmlOriginRels, "Relationships", nsRelationships, func(root *etree.Element) {
		addRelationship(root, relSignature, strings.TrimPrefix(part, ooxmlSignatureDir))
	}); err != nil {
		return err
	}
	return editXML(p, ooxmlContentTypes, "Types", nsContentTypes, func(root *etree.Element) {
		if root.FindElement(`Default[@Extension='sigs']`) == nil {
			d := root.CreateElement("Default")
			d.CreateAttr("Extension", "sigs")
			d.CreateAttr("ContentType", ctOrigin)
		}
		o := root.CreateElement("Override")
		o.CreateAttr("PartName", "/"+part)
		o.CreateAttr("ContentType", ctSignature)
	})
}

// editXML parses an XML part, creating it with the given root when
// missing, applies fn and stores the result.
func editXML(p *pkg, name, rootTag, ns string, fn func(root *etree.Element)) error {
	doc := etree.NewDocument()
	if raw, ok := p.get(name); ok {
		if err := doc.ReadFromBytes(raw); err != nil {
			return errors.WrapInvalidXML(fmt.Errorf("%s: %w", name, err))
		}
	}
	if doc.Root() == nil {
		doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8" standalone="yes"`)
		doc.CreateElement(rootTag).CreateAttr("xmlns", ns)
	}
	fn(doc.Root())
	out, err := doc.WriteToBytes()
	if err != nil {
		return errors.WrapSigningFailed(err)
	}
	p.put(name, out)
	return nil
}

func addRelationship(root *etree.Element, typ, target string) {
	ids := make(map[string]bool)
	for _, r := range root.ChildElements() {
		ids[r.SelectAttrValue("Id", "")] = true
	}
	n := 1
	for ids[fmt.Sprintf("rIdSig%d", n)] {
		n++
	}
	rel := root.CreateElement("Relationship")
	rel.CreateAttr("Id", fmt.Sprintf("rIdSig%d", n))
	rel.CreateAttr("Type", typ)
	rel.CreateAttr("Target", target)
}
