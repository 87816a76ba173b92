// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package testkeys generates throwaway certificates and documents for tests.
package testkeys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync/atomic"
	"testing"
	"time"
)

var serial atomic.Int64

// Identity is a key with its certificate chain, leaf first.
type Identity struct {
	Key   crypto.Signer
	Chain []*x509.Certificate
}

// Leaf returns the signing certificate.
func (id Identity) Leaf() *x509.Certificate {
	return id.Chain[0]
}

// RSA returns a CA-issued RSA identity for cn.
func RSA(t testing.TB, cn string) Identity {
	t.Helper()
	caKey := mustRSA(t)
	ca := issue(t, "Test CA", caKey.Public(), nil, caKey, true)
	key := mustRSA(t)
	leaf := issue(t, cn, key.Public(), ca, caKey, false)
	return Identity{Key: key, Chain: []*x509.Certificate{leaf, ca}}
}

// ECDSA returns a self-signed P-256 identity for cn.
func ECDSA(t testing.TB, cn string) Identity {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ecdsa key: %v", err)
	}
	leaf := issue(t, cn, key.Public(), nil, key, false)
	return Identity{Key: key, Chain: []*x509.Certificate{leaf}}
}

func mustRSA(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

func issue(t testing.TB, cn string, pub crypto.PublicKey, parent *x509.Certificate, parentKey crypto.Signer, isCA bool) *x509.Certificate {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1)),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"Firma Test"}, Country: []string{"ES"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
		IsCA:                  isCA,
	}
	if isCA {
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}
	if parent == nil {
		parent = tmpl
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, parentKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}
