// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotandev/firma/internal/errors"
)

// MemoryStore holds private keys in process memory. It backs the PEM and
// PKCS#12 loaders and is handy for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	name    string
	entries map[string]*Entry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name, entries: make(map[string]*Entry)}
}

// Add registers key and chain under alias. An empty alias is derived from
// the leaf certificate.
func (s *MemoryStore) Add(alias string, key crypto.Signer, chain []*x509.Certificate) (string, error) {
	if key == nil {
		return "", &StoreError{Op: "memory", Msg: "private key is required", Err: errors.ErrKeystoreAccess}
	}
	if len(chain) == 0 || chain[0] == nil {
		return "", &StoreError{Op: "memory", Msg: "certificate chain is empty", Err: errors.ErrKeystoreAccess}
	}
	if alias == "" {
		alias = AliasFor(chain[0])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[alias] = &Entry{Signer: key, Chain: chain}
	return alias, nil
}

func (s *MemoryStore) Name() string {
	return s.name
}

func (s *MemoryStore) Aliases(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.entries))
	for alias := range s.entries {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Certificate(_ context.Context, alias string) (*x509.Certificate, error) {
	e, err := s.lookup(alias)
	if err != nil {
		return nil, err
	}
	return e.Chain[0], nil
}

func (s *MemoryStore) Entry(_ context.Context, alias string) (*Entry, error) {
	e, err := s.lookup(alias)
	if err != nil {
		return nil, err
	}
	chain := make([]*x509.Certificate, len(e.Chain))
	copy(chain, e.Chain)
	return &Entry{Signer: e.Signer, Chain: chain}, nil
}

func (s *MemoryStore) lookup(alias string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[alias]
	if !ok {
		return nil, &StoreError{Op: "memory", Msg: fmt.Sprintf("alias %q not found", alias), Err: errors.ErrKeystoreAccess}
	}
	return e, nil
}

// AliasFor derives a readable alias from a certificate.
func AliasFor(cert *x509.Certificate) string {
	if cn := strings.TrimSpace(cert.Subject.CommonName); cn != "" {
		return cn
	}
	return fmt.Sprintf("%x", cert.SerialNumber)
}
