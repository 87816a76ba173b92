// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closer struct {
	closed *[]string
	name   string
	err    error
}

func (c closer) Close() error {
	*c.closed = append(*c.closed, c.name)
	return c.err
}

func TestRunOrderAndOnce(t *testing.T) {
	c := NewCoordinator()
	var order []string
	c.RegisterCloser("history", closer{closed: &order, name: "history"})
	c.RegisterCloser("keystore", closer{closed: &order, name: "keystore"})
	c.Register("tracer", func(context.Context) error {
		order = append(order, "tracer")
		return nil
	})
	c.RegisterCloser("nil", nil)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"tracer", "keystore", "history"}, order)

	require.NoError(t, c.Run(context.Background()))
	assert.Len(t, order, 3)

	c.Register("late", func(context.Context) error { return errors.New("never runs") })
	assert.NoError(t, c.Run(context.Background()))
}

func TestErrorsAreJoined(t *testing.T) {
	c := NewCoordinator()
	var order []string
	c.RegisterCloser("keystore", closer{closed: &order, name: "keystore", err: errors.New("token busy")})
	c.RegisterCloser("history", closer{closed: &order, name: "history", err: errors.New("database locked")})

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keystore: token busy")
	assert.Contains(t, err.Error(), "history: database locked")
	assert.Len(t, order, 2, "a failing hook does not stop the rest")
}

func TestDeadlineIsShared(t *testing.T) {
	c := NewCoordinator()
	var budgets []time.Duration
	for i := 0; i < 2; i++ {
		c.Register("hook", func(ctx context.Context) error {
			deadline, ok := ctx.Deadline()
			require.True(t, ok)
			budgets = append(budgets, time.Until(deadline))
			return nil
		})
	}

	require.NoError(t, c.RunWithTimeout(time.Second))
	require.Len(t, budgets, 2)
	assert.LessOrEqual(t, budgets[0], 500*time.Millisecond)
	assert.Greater(t, budgets[1], 400*time.Millisecond)
}
