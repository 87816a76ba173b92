// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package xades

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/params"
)

// ManifestEntry is an external resource covered through a ds:Manifest,
// such as one part of a zip package.
type ManifestEntry struct {
	URI  string
	Data []byte
}

// SignManifest returns a standalone signature whose only data reference
// is a ds:Manifest listing the digest of every entry.
func SignManifest(entries []ManifestEntry, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) (*etree.Element, error) {
	if len(entries) == 0 {
		return nil, errors.ErrNoDataToSign
	}
	alg, err := format.LookupAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, errors.ErrCertificateEncoding
	}
	alg = alg.ForKey(key.Public())

	t := newTemplate(alg, chain, p)
	manifestID := "Manifest-" + uuid.NewString()
	obj := etree.NewElement("ds:Object")
	manifest := obj.CreateElement("ds:Manifest")
	manifest.CreateAttr("Id", manifestID)
	for _, e := range entries {
		h := alg.Hash.New()
		h.Write(e.Data)
		ref := manifest.CreateElement("ds:Reference")
		ref.CreateAttr("URI", e.URI)
		ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", format.DigestURI(alg.Hash))
		ref.CreateElement("ds:DigestValue").SetText(base64.StdEncoding.EncodeToString(h.Sum(nil)))
	}
	t.object = obj
	t.refs = []reference{{uri: "#" + manifestID, typ: TypeManifest, transforms: []string{AlgExcC14N}}}

	return signTemplate(etree.NewDocument(), nil, t, key)
}

// VerifyManifest verifies sig and then every reference of its manifests,
// reading the referenced bytes through resolve.
func VerifyManifest(doc *etree.Document, sig *etree.Element, resolve func(uri string) ([]byte, bool)) error {
	if err := Verify(doc, sig); err != nil {
		return err
	}
	var manifests []*etree.Element
	for _, obj := range Children(sig, NSDSig, "Object") {
		manifests = append(manifests, Children(obj, NSDSig, "Manifest")...)
	}
	if len(manifests) == 0 {
		return fmt.Errorf("signature has no manifest")
	}
	for _, m := range manifests {
		for _, ref := range Children(m, NSDSig, "Reference") {
			uri := ref.SelectAttrValue("URI", "")
			data, ok := resolve(uri)
			if !ok {
				return fmt.Errorf("manifest entry %q not found", uri)
			}
			var method string
			if dm := Child(ref, NSDSig, "DigestMethod"); dm != nil {
				method = dm.SelectAttrValue("Algorithm", "")
			}
			h, ok := format.HashForDigestURI(method)
			if !ok {
				return fmt.Errorf("manifest entry %q: unsupported digest %s", uri, method)
			}
			want, err := base64.StdEncoding.DecodeString(compact(ChildText(ref, NSDSig, "DigestValue")))
			if err != nil {
				return fmt.Errorf("manifest entry %q: %w", uri, err)
			}
			d := h.New()
			d.Write(data)
			if !bytes.Equal(d.Sum(nil), want) {
				return fmt.Errorf("manifest entry %q does not match its digest", uri)
			}
		}
	}
	return nil
}
