// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"

	"github.com/dotandev/firma/internal/errors"
)

// Store is a source of signing certificates and their private keys.
// Implementations may hold keys in memory (MemoryStore, loaded from PEM or
// PKCS#12 files) or delegate to a PKCS#11 token (Pkcs11Store).
type Store interface {
	// Name identifies the backend in logs and listings.
	Name() string

	// Aliases lists the entries that carry a private key.
	Aliases(ctx context.Context) ([]string, error)

	// Certificate returns the signing certificate of alias.
	Certificate(ctx context.Context, alias string) (*x509.Certificate, error)

	// Entry loads the key material of alias for a single signing call.
	Entry(ctx context.Context, alias string) (*Entry, error)
}

// Entry is the key material of one alias. Callers must not keep it past the
// operation it was loaded for.
type Entry struct {
	Signer crypto.Signer
	// Chain starts with the signing certificate.
	Chain []*x509.Certificate
}

// Leaf returns the signing certificate, or nil for an empty chain.
func (e *Entry) Leaf() *x509.Certificate {
	if e == nil || len(e.Chain) == 0 {
		return nil
	}
	return e.Chain[0]
}

// CertificateContext references a keystore entry without holding its key.
type CertificateContext struct {
	Store Store
	Alias string
}

// IsZero reports whether the context references nothing.
func (c CertificateContext) IsZero() bool {
	return c.Store == nil || c.Alias == ""
}

// Certificate returns the referenced signing certificate.
func (c CertificateContext) Certificate(ctx context.Context) (*x509.Certificate, error) {
	if c.IsZero() {
		return nil, &StoreError{Op: "context", Msg: "no certificate selected", Err: errors.ErrKeystoreAccess}
	}
	return c.Store.Certificate(ctx, c.Alias)
}

// Load fetches the key material of the referenced entry.
func (c CertificateContext) Load(ctx context.Context) (*Entry, error) {
	if c.IsZero() {
		return nil, &StoreError{Op: "context", Msg: "no certificate selected", Err: errors.ErrKeystoreAccess}
	}
	return c.Store.Entry(ctx, c.Alias)
}

func (c CertificateContext) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s:%s", c.Store.Name(), c.Alias)
}

// StoreError represents an error originating from a keystore backend.
type StoreError struct {
	Op  string
	Msg string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
