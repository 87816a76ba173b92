// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"sync"

	"github.com/dotandev/firma/internal/keystore"
	"github.com/dotandev/firma/internal/logger"
)

// StickySlot remembers the certificate chosen by an earlier operation so
// later ones can sign without asking again.
type StickySlot struct {
	mu      sync.Mutex
	current keystore.CertificateContext
}

// Acquire returns the remembered certificate, or runs selectFn and
// remembers its result when the slot is empty or reset is set. The lock
// is held while selectFn runs so concurrent requests share one choice.
func (s *StickySlot) Acquire(ctx context.Context, reset bool, selectFn func(context.Context) (keystore.CertificateContext, error)) (keystore.CertificateContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !reset && !s.current.IsZero() {
		logger.Logger.Debug("Reusing sticky certificate", "certificate", s.current.String())
		return s.current, nil
	}
	s.current = keystore.CertificateContext{}
	cc, err := selectFn(ctx)
	if err != nil {
		return keystore.CertificateContext{}, err
	}
	s.current = cc
	return cc, nil
}

// Reset forgets the remembered certificate.
func (s *StickySlot) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = keystore.CertificateContext{}
}

// Current returns the remembered certificate, zero when there is none.
func (s *StickySlot) Current() keystore.CertificateContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
