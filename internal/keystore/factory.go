// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"io"

	"github.com/dotandev/firma/internal/config"
	"github.com/dotandev/firma/internal/errors"
)

// Open creates the Store selected by the configuration. When the keystore
// type is absent, pkcs12 is assumed. The pkcs11 backend is driven by the
// [pkcs11] section rather than by Keystore.Path.
func Open(cfg *config.Config) (Store, error) {
	ks := cfg.Keystore
	typ := ks.Type
	if typ == "" {
		typ = config.KeystorePKCS12
	}

	switch typ {
	case config.KeystorePEM:
		if ks.Path == "" {
			return nil, &StoreError{Op: "factory", Msg: "FIRMA_KEYSTORE_PATH is required for pem keystores", Err: errors.ErrKeystoreAccess}
		}
		return LoadPEM(ks.Path, ks.Alias)

	case config.KeystorePKCS12:
		if ks.Path == "" {
			return nil, &StoreError{Op: "factory", Msg: "FIRMA_KEYSTORE_PATH is required for pkcs12 keystores", Err: errors.ErrKeystoreAccess}
		}
		return LoadPKCS12(ks.Path, ks.Password, ks.Alias)

	case config.KeystorePKCS11:
		if cfg.Pkcs11.ModulePath == "" {
			return nil, &StoreError{Op: "factory", Msg: "FIRMA_PKCS11_MODULE is required for pkcs11 keystores", Err: errors.ErrKeystoreAccess}
		}
		return OpenPkcs11(cfg.Pkcs11)

	default:
		return nil, &StoreError{Op: "factory", Msg: "unsupported keystore type: " + string(typ), Err: errors.ErrKeystoreAccess}
	}
}

// Close releases store when the backend holds resources.
func Close(store Store) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
