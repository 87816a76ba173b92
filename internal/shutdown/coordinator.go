// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package shutdown releases process resources (keystore sessions, the
// history database, the tracer) when a command or the daemon exits.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dotandev/firma/internal/logger"
)

type HookFunc func(context.Context) error

type hook struct {
	name string
	fn   HookFunc
}

// Coordinator runs registered hooks once, newest first, so resources are
// released in the reverse order of their acquisition.
type Coordinator struct {
	mu    sync.Mutex
	hooks []hook
	ran   bool
}

func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Register adds a hook. Hooks registered after Run are ignored.
func (c *Coordinator) Register(name string, fn HookFunc) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ran {
		logger.Logger.Debug("Shutdown hook registered too late", "hook", name)
		return
	}
	c.hooks = append(c.hooks, hook{name: name, fn: fn})
}

// RegisterCloser closes r on shutdown. A nil closer is ignored.
func (c *Coordinator) RegisterCloser(name string, r io.Closer) {
	if r == nil {
		return
	}
	c.Register(name, func(context.Context) error { return r.Close() })
}

// Run executes the hooks and joins their errors. The deadline of ctx, if
// any, is shared fairly between the hooks still to run.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return nil
	}
	c.ran = true
	hooks := c.hooks
	c.hooks = nil
	c.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		hookCtx, cancel := share(ctx, i+1)
		err := h.fn(hookCtx)
		cancel()
		if err != nil {
			logger.Logger.Warn("Shutdown hook failed", "hook", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		logger.Logger.Debug("Shutdown hook done", "hook", h.name)
	}
	return errors.Join(errs...)
}

// RunWithTimeout runs the hooks under a fresh deadline.
func (c *Coordinator) RunWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Run(ctx)
}

func share(ctx context.Context, remaining int) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return ctx, func() {}
	}
	left := time.Until(deadline)
	if left <= 0 {
		return context.WithTimeout(ctx, time.Millisecond)
	}
	return context.WithTimeout(ctx, left/time.Duration(remaining))
}
