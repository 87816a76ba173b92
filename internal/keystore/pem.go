// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/dotandev/firma/internal/errors"
)

// LoadPEM reads a PEM bundle holding one private key and its certificate
// chain, leaf first.
func LoadPEM(path, alias string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StoreError{Op: "pem", Msg: "failed to read " + path, Err: errors.WrapKeystoreAccess(err)}
	}
	key, chain, err := ParsePEM(data)
	if err != nil {
		return nil, err
	}
	store := NewMemoryStore("pem:" + path)
	if _, err := store.Add(alias, key, chain); err != nil {
		return nil, err
	}
	return store, nil
}

// ParsePEM decodes a private key and a certificate chain from PEM blocks.
func ParsePEM(data []byte) (crypto.Signer, []*x509.Certificate, error) {
	var (
		key   crypto.Signer
		chain []*x509.Certificate
	)
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, &StoreError{Op: "pem", Msg: "invalid certificate", Err: errors.WrapKeystoreAccess(err)}
			}
			chain = append(chain, cert)
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			k, err := parsePrivateKey(block)
			if err != nil {
				return nil, nil, err
			}
			key = k
		}
	}

	if key == nil {
		return nil, nil, &StoreError{Op: "pem", Msg: "no private key found", Err: errors.ErrKeystoreAccess}
	}
	if len(chain) == 0 {
		return nil, nil, &StoreError{Op: "pem", Msg: "no certificate found", Err: errors.ErrNoCertificates}
	}
	return key, chain, nil
}

func parsePrivateKey(block *pem.Block) (crypto.Signer, error) {
	var (
		parsed any
		err    error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		parsed, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		parsed, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, &StoreError{Op: "pem", Msg: "invalid private key", Err: errors.WrapKeystoreAccess(err)}
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, &StoreError{Op: "pem", Msg: fmt.Sprintf("unsupported key type %T", parsed), Err: errors.ErrKeystoreAccess}
	}
	return signer, nil
}
