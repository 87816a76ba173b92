// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dotandev/firma/internal/analyzer"
	"github.com/dotandev/firma/internal/eventbus"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/format/builtin"
	"github.com/dotandev/firma/internal/history"
	"github.com/dotandev/firma/internal/keystore"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/orchestrator"
	"github.com/dotandev/firma/internal/telemetry"
	"github.com/dotandev/firma/internal/terminal"
	"github.com/dotandev/firma/internal/version"
	"github.com/dotandev/firma/internal/wizard"
)

// session holds what a signing command needs for the life of the process.
type session struct {
	catalog *format.Catalog
	store   keystore.Store
	journal *history.Store
	bus     *eventbus.EventBus
	closers []io.Closer
}

// openSession opens the keystore and the history journal named by the
// configuration and starts tracing when enabled.
func openSession(ctx context.Context) (*session, error) {
	s := &session{catalog: builtin.Catalog(), bus: eventbus.New()}

	shutdownTracing, err := telemetry.Init(ctx, telemetry.FromConfig(cfg.Telemetry, "firma", version.Current))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if !registerShutdownHook("telemetry", func(context.Context) error { shutdownTracing(); return nil }) {
		s.closers = append(s.closers, closerFunc(shutdownTracing))
	}

	store, err := keystore.Open(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store = store
	if c, ok := store.(io.Closer); ok {
		s.closers = append(s.closers, registerCloser("keystore", c))
	}

	journal, err := history.Open(cfg.HistoryPath)
	if err != nil {
		// The journal is a record, not a requirement for signing.
		logger.Logger.Warn("History disabled", "path", cfg.HistoryPath, "error", err)
	} else {
		s.journal = journal
		s.closers = append(s.closers, registerCloser("history", journal))
	}
	return s, nil
}

// Close releases what no shutdown coordinator took charge of.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			logger.Logger.Warn("Failed to release resource", "error", err)
		}
	}
	s.closers = nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// interaction picks the collaborators of a request: the console wizard,
// or none at all when running headless.
type interaction struct {
	headless bool
	alias    string
	renderer terminal.Renderer
}

func newInteraction(cmd *cobra.Command, alias string) interaction {
	return interaction{
		headless: cfg.Headless,
		alias:    alias,
		renderer: terminal.NewColorRenderer(cmd.ErrOrStderr(), cmd.InOrStdin()),
	}
}

func (s *session) orchestrator(in interaction) *orchestrator.Orchestrator {
	opts := orchestrator.Options{
		Catalog: s.catalog,
		Store:   s.store,
		Bus:     s.bus,
	}
	if s.journal != nil {
		opts.History = s.journal
	}

	alias := in.alias
	if alias == "" && in.headless {
		alias = cfg.Keystore.Alias
	}
	if alias != "" {
		opts.Certificates = orchestrator.ByAlias(alias)
	}

	if !in.headless {
		w := wizard.New().WithRenderer(in.renderer)
		opts.Confirmer = w
		opts.Placement = w
		opts.Data = w
		if alias == "" {
			opts.Certificates = w
		}
	}
	return orchestrator.New(opts)
}

func (s *session) analyzer() *analyzer.Analyzer {
	return analyzer.New(s.catalog)
}

// followProgress prints state changes while a request runs.
func followProgress(bus *eventbus.EventBus, r terminal.Renderer) func() {
	id := bus.Subscribe(eventbus.TopicState, func(e eventbus.Event) {
		change, ok := e.Payload.(orchestrator.StateChange)
		if !ok {
			return
		}
		switch change.To {
		case orchestrator.StateSucceeded:
			r.Println(r.Success(), change.RequestID, "done")
		case orchestrator.StateFailed:
			r.Println(r.Error(), change.RequestID, "failed:", change.Kind)
		case orchestrator.StateCancelled:
			r.Println(r.Warning(), change.RequestID, "cancelled")
		default:
			r.Println(r.Colorize("  "+string(change.To), "dim"))
		}
	})
	return func() { bus.Unsubscribe(eventbus.TopicState, id) }
}
