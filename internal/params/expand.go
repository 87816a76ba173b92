// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package params

import (
	"strings"

	"github.com/dotandev/firma/internal/errors"
)

// Policy describes a signature policy in the shape the signers consume.
type Policy struct {
	Name          string
	Identifier    string
	Hash          string
	HashAlgorithm string
	Qualifier     string
}

const (
	PolicyFirmaAGE   = "FirmaAGE"
	PolicyFirmaAGE18 = "FirmaAGE18"
	PolicyFacturaE   = "FacturaE"
)

// AGE19XML is the general state administration policy, version 1.9, as
// referenced from XML signatures.
var AGE19XML = Policy{
	Name:          "Política de firma AGE v1.9",
	Identifier:    "urn:oid:2.16.724.1.3.1.1.2.1.9",
	Hash:          "G7roucf600+f03r/o0bAOQ6WAs0=",
	HashAlgorithm: "http://www.w3.org/2000/09/xmldsig#sha1",
	Qualifier:     "https://sede.administracion.gob.es/politica_de_firma_anexo_1.pdf",
}

// AGE19CMS is AGE19XML as referenced from CMS and PDF signatures.
var AGE19CMS = Policy{
	Name:          AGE19XML.Name,
	Identifier:    "2.16.724.1.3.1.1.2.1.9",
	Hash:          AGE19XML.Hash,
	HashAlgorithm: "SHA1",
	Qualifier:     AGE19XML.Qualifier,
}

var age18XML = Policy{
	Name:          "Política de firma AGE v1.8",
	Identifier:    "urn:oid:2.16.724.1.3.1.1.2.1.8",
	Hash:          "V8lVVNGDCPen6VELRD1Ja8HARFk=",
	HashAlgorithm: "http://www.w3.org/2000/09/xmldsig#sha1",
	Qualifier:     "http://administracionelectronica.gob.es/es/ctt/politicafirma/politica_firma_AGE_v1_8.pdf",
}

var age18CMS = Policy{
	Name:          age18XML.Name,
	Identifier:    "2.16.724.1.3.1.1.2.1.8",
	Hash:          age18XML.Hash,
	HashAlgorithm: "SHA1",
	Qualifier:     age18XML.Qualifier,
}

// FacturaE31 is the electronic invoice signature policy, version 3.1.
var FacturaE31 = Policy{
	Name:          "Política de firma FacturaE v3.1",
	Identifier:    "http://www.facturae.es/politica_de_firma_formato_facturae/politica_de_firma_formato_facturae_v3_1.pdf",
	Hash:          "Ohixl6upD6av8N7pEvDABhEL6hM=",
	HashAlgorithm: "http://www.w3.org/2000/09/xmldsig#sha1",
}

// Format families the expansion cares about. They match the family names
// reported by the format catalog.
const (
	familyXAdES    = "xades"
	familyCAdES    = "cades"
	familyPAdES    = "pades"
	familyFacturaE = "facturae"
	familyODF      = "odf"
	familyOOXML    = "ooxml"
)

// Expand resolves shorthand parameters for the given format family and
// returns a new Params. The only shorthand today is expPolicy, which is
// replaced by the full policy description. A policy the family cannot carry
// yields ErrIncompatiblePolicy.
func Expand(p *Params, family string) (*Params, error) {
	out := p.Clone()
	name, ok := out.Get(ExpPolicy)
	if !ok || strings.TrimSpace(name) == "" {
		return out, nil
	}
	family = strings.ToLower(family)

	policy, err := policyFor(strings.TrimSpace(name), family)
	if err != nil {
		return nil, err
	}

	out.Delete(ExpPolicy)
	out.Set(PolicyIdentifier, policy.Identifier)
	out.Set(PolicyIdentifierHash, policy.Hash)
	out.Set(PolicyIdentifierHashAlgorithm, policy.HashAlgorithm)
	if policy.Qualifier != "" {
		out.Set(PolicyQualifier, policy.Qualifier)
	}
	if family == familyPAdES && !out.Has(SignatureSubFilter) {
		out.Set(SignatureSubFilter, "ETSI.CAdES.detached")
	}
	return out, nil
}

func policyFor(name, family string) (Policy, error) {
	switch family {
	case familyODF, familyOOXML:
		return Policy{}, errors.WrapIncompatiblePolicy(name, family)
	}

	switch name {
	case PolicyFirmaAGE:
		switch family {
		case familyXAdES:
			return AGE19XML, nil
		case familyCAdES, familyPAdES:
			return AGE19CMS, nil
		}
	case PolicyFirmaAGE18:
		switch family {
		case familyXAdES:
			return age18XML, nil
		case familyCAdES, familyPAdES:
			return age18CMS, nil
		}
	case PolicyFacturaE:
		if family == familyFacturaE {
			return FacturaE31, nil
		}
	default:
		return Policy{}, errors.WrapInvalidParameters("unknown signature policy " + name)
	}
	return Policy{}, errors.WrapIncompatiblePolicy(name, family)
}

// LookupPolicy returns the well-known policy with the given identifier, in
// either its XML or CMS spelling.
func LookupPolicy(identifier string) (Policy, bool) {
	id := strings.TrimSpace(identifier)
	for _, p := range []Policy{AGE19XML, AGE19CMS, age18XML, age18CMS, FacturaE31} {
		if p.Identifier == id {
			return p, true
		}
	}
	return Policy{}, false
}
