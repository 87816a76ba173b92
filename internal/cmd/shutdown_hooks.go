// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"io"
	"sync"
	"time"

	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/shutdown"
)

const shutdownTimeout = 3 * time.Second

var shutdownState struct {
	mu          sync.RWMutex
	coordinator *shutdown.Coordinator
}

func setShutdownCoordinator(c *shutdown.Coordinator) {
	shutdownState.mu.Lock()
	defer shutdownState.mu.Unlock()
	shutdownState.coordinator = c
}

func clearShutdownCoordinator() {
	shutdownState.mu.Lock()
	defer shutdownState.mu.Unlock()
	shutdownState.coordinator = nil
}

func currentCoordinator() *shutdown.Coordinator {
	shutdownState.mu.RLock()
	defer shutdownState.mu.RUnlock()
	return shutdownState.coordinator
}

// registerShutdownHook runs fn when the CLI exits. Without a coordinator,
// as in tests driving rootCmd directly, it reports false and the caller
// owns the cleanup.
func registerShutdownHook(name string, fn shutdown.HookFunc) bool {
	c := currentCoordinator()
	if c == nil {
		return false
	}
	c.Register(name, fn)
	return true
}

// registerCloser closes r at exit, or returns it to the caller to close
// when no coordinator is installed.
func registerCloser(name string, r io.Closer) io.Closer {
	c := currentCoordinator()
	if c == nil {
		return r
	}
	c.RegisterCloser(name, r)
	return nopCloser{}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func runShutdownHooksWithTimeout(c *shutdown.Coordinator, timeout time.Duration) {
	if c == nil {
		return
	}

	if err := c.RunWithTimeout(timeout); err != nil {
		logger.Logger.Warn("Shutdown hooks completed with errors", "error", err)
	}
}
