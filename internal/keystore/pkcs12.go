// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/dotandev/firma/internal/errors"
)

// LoadPKCS12 opens a PKCS#12 (.p12/.pfx) file protected by password.
func LoadPKCS12(path, password, alias string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &StoreError{Op: "pkcs12", Msg: "failed to read " + path, Err: errors.WrapKeystoreAccess(err)}
	}
	store := NewMemoryStore("pkcs12:" + path)
	if err := AddPKCS12(store, data, password, alias); err != nil {
		return nil, err
	}
	return store, nil
}

// AddPKCS12 decodes a PKCS#12 blob into store.
func AddPKCS12(store *MemoryStore, data []byte, password, alias string) error {
	key, leaf, cas, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return &StoreError{Op: "pkcs12", Msg: "failed to decode keystore", Err: errors.WrapKeystoreAccess(err)}
	}
	if leaf == nil {
		return &StoreError{Op: "pkcs12", Msg: "keystore holds no certificate", Err: errors.ErrNoCertificates}
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return &StoreError{Op: "pkcs12", Msg: fmt.Sprintf("unsupported key type %T", key), Err: errors.ErrKeystoreAccess}
	}

	chain := append([]*x509.Certificate{leaf}, cas...)
	_, err = store.Add(alias, signer, chain)
	return err
}
