// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package crashreport sends opt-in crash reports for the firma CLI.
//
// Two sinks are supported and may be used together: Sentry, through the
// official SDK, and a custom endpoint receiving a JSON Report. Both are off
// unless crash reporting is enabled in the [crash] section of the
// configuration or with FIRMA_CRASH_REPORTING. Reports never carry
// documents, signatures, certificates or parameters: only the error
// message, its result kind, the stack and the build.
package crashreport

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/dotandev/firma/internal/config"
	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/logger"
)

const defaultTimeout = 5 * time.Second

// Report is the JSON payload delivered to the custom endpoint.
type Report struct {
	Version      string `json:"version"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	GoVersion    string `json:"go_version"`
	CrashTime    string `json:"crash_time"`
	ErrorMessage string `json:"error_message"`
	// Kind is the result kind of a signing failure, empty for panics.
	Kind       string `json:"kind,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
	Command    string `json:"command,omitempty"`
}

type Config struct {
	Enabled   bool
	SentryDSN string
	Endpoint  string
	Version   string
}

// FromConfig builds the reporter setup from the loaded configuration.
func FromConfig(c config.CrashConfig, version string) Config {
	return Config{
		Enabled:   c.Enabled,
		SentryDSN: c.SentryDSN,
		Endpoint:  c.Endpoint,
		Version:   version,
	}
}

// Reporter dispatches crash reports to the configured sinks.
type Reporter struct {
	cfg          Config
	client       *http.Client
	sentryActive bool
}

// New creates a Reporter, initialising Sentry when enabled with a DSN.
func New(cfg Config) *Reporter {
	r := &Reporter{
		cfg:    cfg,
		client: &http.Client{Timeout: defaultTimeout},
	}
	if cfg.Enabled && cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: "firma@" + cfg.Version,
		}); err != nil {
			logger.Logger.Warn("Sentry disabled", "error", err)
		} else {
			r.sentryActive = true
		}
	}
	return r
}

// IsEnabled reports whether any report can be sent.
func (r *Reporter) IsEnabled() bool {
	return r.cfg.Enabled && (r.sentryActive || r.cfg.Endpoint != "")
}

// ShouldReport keeps expected outcomes out of crash reports. Only signing
// failures that fit no result kind but the generic one are worth a report;
// usage mistakes and interrupts are not.
func ShouldReport(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return false
	}
	var se *errors.SignError
	return stderrors.As(err, &se) && se.Kind == errors.KindGenericSigningFailure
}

// Send reports err to every active sink. Sink errors are joined; callers
// on a crash path can ignore them.
func (r *Reporter) Send(ctx context.Context, err error, stack []byte, command string) error {
	if !r.IsEnabled() {
		return nil
	}
	report := r.buildReport(err, stack, command)

	var errs []error
	if r.sentryActive {
		r.sendToSentry(report)
	}
	if r.cfg.Endpoint != "" {
		if sendErr := r.sendToEndpoint(ctx, report); sendErr != nil {
			errs = append(errs, sendErr)
		}
	}
	if err := stderrors.Join(errs...); err != nil {
		return fmt.Errorf("crashreport: %w", err)
	}
	return nil
}

func (r *Reporter) sendToSentry(report Report) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("os", report.OS)
		scope.SetTag("arch", report.Arch)
		scope.SetTag("go_version", report.GoVersion)
		scope.SetTag("command", report.Command)
		if report.Kind != "" {
			scope.SetTag("kind", report.Kind)
		}
		scope.SetExtra("stack_trace", report.StackTrace)
		sentry.CaptureMessage(report.ErrorMessage)
	})
	sentry.Flush(defaultTimeout)
}

func (r *Reporter) sendToEndpoint(ctx context.Context, report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "firma/"+r.cfg.Version)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

func (r *Reporter) buildReport(err error, stack []byte, command string) Report {
	report := Report{
		Version:    r.cfg.Version,
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		GoVersion:  "unknown",
		CrashTime:  time.Now().UTC().Format(time.RFC3339),
		StackTrace: string(stack),
		Command:    command,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		report.GoVersion = bi.GoVersion
	}
	if err != nil {
		report.ErrorMessage = err.Error()
		var se *errors.SignError
		if stderrors.As(err, &se) {
			report.Kind = string(se.Kind)
		}
	}
	return report
}

// HandlePanic is deferred at the top of main. A panic in flight is
// reported, best effort, and then resumed so the process still dies.
func (r *Reporter) HandlePanic(ctx context.Context, command string) {
	v := recover()
	if v == nil {
		return
	}
	panicErr, ok := v.(error)
	if !ok {
		panicErr = fmt.Errorf("%v", v)
	}
	_ = r.Send(ctx, panicErr, debug.Stack(), command)
	panic(v)
}
