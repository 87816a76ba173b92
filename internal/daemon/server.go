// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dotandev/firma/internal/analyzer"
	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/orchestrator"
	"github.com/dotandev/firma/internal/telemetry"
	"github.com/dotandev/firma/internal/version"
)

// ServiceName prefixes every RPC method, as in "Firma.Sign".
const ServiceName = "Firma"

// Server exposes the orchestrator over JSON-RPC 2.0. Requests arrive
// without a user at the console, so the orchestrator it is given should
// have no interactive collaborators.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	analyzer     *analyzer.Analyzer
	authToken    string
}

// Config holds daemon configuration
type Config struct {
	Port      string
	AuthToken string
}

func NewServer(o *orchestrator.Orchestrator, a *analyzer.Analyzer, authToken string) *Server {
	return &Server{orchestrator: o, analyzer: a, authToken: authToken}
}

// authenticate validates the authorization token
func (s *Server) authenticate(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return false
	}
	token := strings.TrimPrefix(auth, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

// rpcError carries the result kind to the caller in the error data.
func rpcError(err error) *json2.Error {
	kind := errors.KindOf(err)
	return &json2.Error{
		Code:    json2.E_SERVER,
		Message: err.Error(),
		Data:    map[string]string{"kind": string(kind)},
	}
}

// Sign handles Firma.Sign calls.
func (s *Server) Sign(r *http.Request, args *SignArgs, reply *SignReply) error {
	ctx, span := telemetry.GetTracer().Start(r.Context(), "rpc_sign")
	defer span.End()

	req, err := args.request()
	if err != nil {
		return rpcError(errors.Classify(args.Operation, err))
	}
	span.SetAttributes(attribute.String("operation", req.Descriptor.Operation.String()))
	logger.Logger.Info("Processing sign RPC", "operation", req.Descriptor.Operation, "format", req.Descriptor.Format, "size", len(req.Descriptor.Data))

	res, err := s.orchestrator.Run(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, string(errors.KindOf(err)))
		return rpcError(err)
	}
	*reply = replyFrom(res)
	return nil
}

// Batch handles Firma.Batch calls. Item failures are reported per item;
// the call itself only fails when the arguments are unusable.
func (s *Server) Batch(r *http.Request, args *BatchArgs, reply *BatchReply) error {
	ctx, span := telemetry.GetTracer().Start(r.Context(), "rpc_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.items", len(args.Items)))

	batch, err := args.batch()
	if err != nil {
		return rpcError(errors.Classify("batch", err))
	}
	logger.Logger.Info("Processing batch RPC", "items", len(batch.Items))

	out := s.orchestrator.RunBatch(ctx, batch)
	*reply = batchReplyFrom(out)
	return nil
}

// Analyze handles Firma.Analyze calls.
func (s *Server) Analyze(r *http.Request, args *AnalyzeArgs, reply *analyzer.Report) error {
	ctx, span := telemetry.GetTracer().Start(r.Context(), "rpc_analyze")
	defer span.End()

	report, err := s.analyzer.Analyze(ctx, args.Data)
	if err != nil {
		return rpcError(err)
	}
	*reply = *report
	return nil
}

// ResetSticky handles Firma.ResetSticky calls.
func (s *Server) ResetSticky(r *http.Request, _ *struct{}, reply *ResetReply) error {
	reply.Had = !s.orchestrator.Sticky().Current().IsZero()
	s.orchestrator.Sticky().Reset()
	logger.Logger.Info("Sticky certificate reset", "had", reply.Had)
	return nil
}

// Handler returns the HTTP handler serving /rpc and /health.
func (s *Server) Handler() (http.Handler, error) {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	server.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")
	if err := server.RegisterService(s, ServiceName); err != nil {
		return nil, fmt.Errorf("failed to register service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", s.requireAuth(server))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version.Current})
	})
	return mux, nil
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			logger.Logger.Warn("Rejected unauthenticated RPC", "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves on port until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port string) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logger.Logger.Info("Starting JSON-RPC server", "addr", ln.Addr().String())

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Logger.Info("Shutting down JSON-RPC server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
