// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"context"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"strings"
	"time"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/params"
)

// Filter narrows the certificates offered for signing.
type Filter interface {
	Match(cert *x509.Certificate) bool
	String() string
}

// SubjectContains matches certificates whose subject contains a substring,
// ignoring case.
type SubjectContains string

func (f SubjectContains) Match(cert *x509.Certificate) bool {
	return containsFold(cert.Subject.String(), string(f))
}

func (f SubjectContains) String() string { return "subject contains " + string(f) }

// IssuerContains matches on the issuer name.
type IssuerContains string

func (f IssuerContains) Match(cert *x509.Certificate) bool {
	return containsFold(cert.Issuer.String(), string(f))
}

func (f IssuerContains) String() string { return "issuer contains " + string(f) }

// Thumbprint matches the hex SHA-1 fingerprint of the certificate.
type Thumbprint string

func (f Thumbprint) Match(cert *x509.Certificate) bool {
	want := strings.ToLower(strings.NewReplacer(":", "", " ", "").Replace(string(f)))
	return Fingerprint(cert) == want
}

func (f Thumbprint) String() string { return "thumbprint " + string(f) }

// NonExpired matches certificates valid at Now.
type NonExpired struct {
	Now func() time.Time
}

func (f NonExpired) Match(cert *x509.Certificate) bool {
	now := time.Now()
	if f.Now != nil {
		now = f.Now()
	}
	return !now.Before(cert.NotBefore) && !now.After(cert.NotAfter)
}

func (f NonExpired) String() string { return "non expired" }

// SigningKeyUsage matches certificates usable for signatures.
type SigningKeyUsage struct{}

func (SigningKeyUsage) Match(cert *x509.Certificate) bool {
	if cert.KeyUsage == 0 {
		return true
	}
	return cert.KeyUsage&(x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment) != 0
}

func (SigningKeyUsage) String() string { return "signing key usage" }

// Fingerprint returns the lower-case hex SHA-1 of the certificate.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// FiltersFromParams builds the filters requested by the operation
// parameters.
func FiltersFromParams(p *params.Params) []Filter {
	var out []Filter
	if v := p.Value(params.FilterSubjectContains); v != "" {
		out = append(out, SubjectContains(v))
	}
	if v := p.Value(params.FilterIssuerContains); v != "" {
		out = append(out, IssuerContains(v))
	}
	if v := p.Value(params.FilterThumbprint); v != "" {
		out = append(out, Thumbprint(v))
	}
	if p.Bool(params.FilterNonExpired) {
		out = append(out, NonExpired{})
	}
	if p.Bool(params.FilterSigningKeyUsage) {
		out = append(out, SigningKeyUsage{})
	}
	return out
}

// Candidate is a certificate that passed every filter.
type Candidate struct {
	Context     CertificateContext
	Certificate *x509.Certificate
}

// Candidates lists the entries of store that match all filters. An empty
// store is reported as errors.ErrNoCertificates.
func Candidates(ctx context.Context, store Store, filters []Filter) ([]Candidate, error) {
	aliases, err := store.Aliases(ctx)
	if err != nil {
		return nil, err
	}
	if len(aliases) == 0 {
		return nil, &StoreError{Op: "select", Msg: store.Name() + " is empty", Err: errors.ErrNoCertificates}
	}

	var out []Candidate
	for _, alias := range aliases {
		cert, err := store.Certificate(ctx, alias)
		if err != nil {
			return nil, err
		}
		if matchAll(cert, filters) {
			out = append(out, Candidate{Context: CertificateContext{Store: store, Alias: alias}, Certificate: cert})
		}
	}
	if len(out) == 0 {
		return nil, &StoreError{Op: "select", Msg: "no certificate matches the filters", Err: errors.ErrNoCertificates}
	}
	return out, nil
}

func matchAll(cert *x509.Certificate, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(cert) {
			return false
		}
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
