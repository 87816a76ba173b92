// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"strings"

	"github.com/dotandev/firma/internal/errors"
)

// KeyType is the public key algorithm of a signature algorithm.
type KeyType string

const (
	KeyRSA   KeyType = "RSA"
	KeyECDSA KeyType = "ECDSA"
)

// Algorithm is a signature algorithm known by name and by XMLDSig URI.
type Algorithm struct {
	Name   string
	Hash   crypto.Hash
	Key    KeyType
	XMLURI string
}

var algorithms = []Algorithm{
	{"SHA1withRSA", crypto.SHA1, KeyRSA, "http://www.w3.org/2000/09/xmldsig#rsa-sha1"},
	{"SHA256withRSA", crypto.SHA256, KeyRSA, "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"},
	{"SHA384withRSA", crypto.SHA384, KeyRSA, "http://www.w3.org/2001/04/xmldsig-more#rsa-sha384"},
	{"SHA512withRSA", crypto.SHA512, KeyRSA, "http://www.w3.org/2001/04/xmldsig-more#rsa-sha512"},
	{"SHA1withECDSA", crypto.SHA1, KeyECDSA, "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha1"},
	{"SHA256withECDSA", crypto.SHA256, KeyECDSA, "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"},
	{"SHA384withECDSA", crypto.SHA384, KeyECDSA, "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha384"},
	{"SHA512withECDSA", crypto.SHA512, KeyECDSA, "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha512"},
}

var digestURIs = map[crypto.Hash]string{
	crypto.SHA1:   "http://www.w3.org/2000/09/xmldsig#sha1",
	crypto.SHA256: "http://www.w3.org/2001/04/xmlenc#sha256",
	crypto.SHA384: "http://www.w3.org/2001/04/xmldsig-more#sha384",
	crypto.SHA512: "http://www.w3.org/2001/04/xmlenc#sha512",
}

// LookupAlgorithm finds an algorithm by name. Names are matched ignoring case
// and dashes, so "SHA-256withRSA" is accepted too.
func LookupAlgorithm(name string) (Algorithm, error) {
	norm := normalizeAlgorithm(name)
	for _, a := range algorithms {
		if normalizeAlgorithm(a.Name) == norm {
			return a, nil
		}
	}
	return Algorithm{}, errors.WrapInvalidParameters("unsupported signature algorithm " + name)
}

// ForKey returns the algorithm with the same hash whose key type matches
// pub. Callers often name an RSA algorithm out of habit while the selected
// certificate holds an EC key; unknown key types leave a unchanged.
func (a Algorithm) ForKey(pub crypto.PublicKey) Algorithm {
	var want KeyType
	switch pub.(type) {
	case *rsa.PublicKey:
		want = KeyRSA
	case *ecdsa.PublicKey:
		want = KeyECDSA
	default:
		return a
	}
	if a.Key == want {
		return a
	}
	for _, b := range algorithms {
		if b.Hash == a.Hash && b.Key == want {
			return b
		}
	}
	return a
}

// AlgorithmForURI maps an XMLDSig SignatureMethod URI to a known algorithm.
func AlgorithmForURI(uri string) (Algorithm, bool) {
	for _, a := range algorithms {
		if a.XMLURI == uri {
			return a, true
		}
	}
	return Algorithm{}, false
}

// DigestURI returns the XMLDSig DigestMethod URI of h.
func DigestURI(h crypto.Hash) string {
	return digestURIs[h]
}

// HashForDigestURI maps a DigestMethod URI back to its hash.
func HashForDigestURI(uri string) (crypto.Hash, bool) {
	for h, u := range digestURIs {
		if u == uri {
			return h, true
		}
	}
	return 0, false
}

// HashName returns the short name used in policies, e.g. "SHA1".
func HashName(h crypto.Hash) string {
	return strings.ReplaceAll(h.String(), "-", "")
}

func normalizeAlgorithm(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
}
