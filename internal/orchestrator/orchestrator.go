// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs signing requests end to end: it checks the
// request preamble, resolves the format, validates existing signatures,
// negotiates the visible signature, picks the certificate and hands the
// operation to the dispatcher.
package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dotandev/firma/internal/cipher"
	"github.com/dotandev/firma/internal/confirmation"
	"github.com/dotandev/firma/internal/dispatch"
	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/eventbus"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/history"
	"github.com/dotandev/firma/internal/keystore"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/placement"
	"github.com/dotandev/firma/internal/telemetry"
	"github.com/dotandev/firma/internal/version"
)

// Journal records finished requests.
type Journal interface {
	Save(ctx context.Context, e *history.Entry) error
}

// Options wires the collaborators of an Orchestrator. Catalog and Store
// are required for signing; the rest may be nil.
type Options struct {
	Catalog *format.Catalog
	Store   keystore.Store

	// Confirmer answers validation prompts. Nil behaves as headless.
	Confirmer confirmation.Confirmer
	// Placement shows the visible signature dialog. Nil behaves as a
	// dismissed dialog.
	Placement    placement.Selector
	Certificates CertificateSelector
	Data         DataSource

	// Sticky is shared by every request of the process. A new slot is
	// created when nil.
	Sticky  *StickySlot
	Bus     *eventbus.EventBus
	History Journal
	// Version is the client version checked against minimumClientVersion.
	Version string
}

// Orchestrator runs signing requests. It is safe for concurrent use; the
// sticky slot is the only state shared between requests.
type Orchestrator struct {
	opts Options
}

func New(opts Options) *Orchestrator {
	if opts.Sticky == nil {
		opts.Sticky = &StickySlot{}
	}
	if opts.Certificates == nil {
		opts.Certificates = FirstMatch{}
	}
	if opts.Version == "" {
		opts.Version = version.Current
	}
	return &Orchestrator{opts: opts}
}

// Sticky returns the slot shared by the requests of this orchestrator.
func (o *Orchestrator) Sticky() *StickySlot {
	return o.opts.Sticky
}

// Request is one signing request with its protocol envelope.
type Request struct {
	Descriptor *operation.Descriptor
	// ProtocolVersion is the caller's protocol version, zero when unknown.
	ProtocolVersion int
	// Sticky reuses the remembered certificate, or remembers the chosen
	// one. ResetSticky forces a new choice first.
	Sticky      bool
	ResetSticky bool
	// RequestID is generated when empty.
	RequestID string
	// Batch is set for the items of a batch with more than one item.
	Batch bool
}

// run tracks the progress of one request.
type run struct {
	o     *Orchestrator
	id    string
	state State
}

func (r *run) to(next State, kind errors.Kind) {
	change := StateChange{RequestID: r.id, From: r.state, To: next, Kind: kind}
	r.state = next
	logger.Logger.Debug("Request state", "request", r.id, "from", change.From, "to", next)
	r.o.opts.Bus.Emit(eventbus.TopicState, r.id, change)
}

// Run executes req and returns its result. Every error returned is a
// *errors.SignError.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res *operation.Result, err error) {
	d := req.Descriptor
	if d == nil {
		return nil, errors.Classify("request", errors.WrapInvalidParameters("missing operation descriptor"))
	}
	op := d.Operation.String()
	r := &run{o: o, id: req.RequestID, state: StateReceived}
	if r.id == "" {
		r.id = uuid.NewString()
	}

	ctx, span := telemetry.GetTracer().Start(ctx, "orchestrate")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", r.id),
		attribute.String("operation", op),
		attribute.String("format.requested", d.Format),
	)

	entry := &history.Entry{RequestID: r.id, Operation: op, Format: d.Format}
	defer func() {
		if err != nil {
			err = errors.Classify(op, err)
			kind := errors.KindOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(kind))
			entry.ErrorKind, entry.ErrorMsg = string(kind), err.Error()
			if kind == errors.KindUserCancelled {
				entry.Status = history.StatusCancelled
				r.to(StateCancelled, kind)
			} else {
				entry.Status = history.StatusFailed
				r.to(StateFailed, kind)
			}
			logger.Logger.Warn("Request failed", "request", r.id, "operation", op, "kind", kind, "error", err)
		} else {
			entry.Status = history.StatusSucceeded
			entry.Size = len(res.Signature)
			if entry.Size == 0 {
				entry.Size = len(res.Encrypted)
			}
			r.to(StateSucceeded, "")
			o.opts.Bus.Emit(eventbus.TopicResult, r.id, res)
		}
		o.record(ctx, entry)
	}()

	res, err = o.run(ctx, r, req, entry)
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, r *run, req Request, entry *history.Entry) (*operation.Result, error) {
	d := req.Descriptor

	if err := version.CheckProtocol(req.ProtocolVersion); err != nil {
		return nil, err
	}
	if err := version.CheckMinimum(o.opts.Version, d.Params.Value(params.MinimumClientVersion)); err != nil {
		return nil, err
	}

	data, filename := d.Data, ""
	if !d.HasData() {
		r.to(StateSelectingData, "")
		var err error
		filename, data, err = o.selectData(ctx, d)
		if err != nil {
			return nil, err
		}
		entry.Filename = filename
	}
	if ctx.Err() != nil {
		return nil, errors.ErrCancelled
	}

	r.to(StateResolving, "")
	if o.opts.Catalog == nil {
		return nil, errors.WrapUnsupportedFormat(d.Format)
	}
	resolved, err := o.opts.Catalog.Resolve(d.Format, d.Operation, data)
	if err != nil {
		return nil, err
	}
	entry.Format = resolved.ID
	logger.Logger.Info("Format resolved", "request", r.id, "format", resolved.String())

	data, p := dispatch.PrepareData(resolved, d.Operation, data, d.Params)
	if p.Bool(params.CheckSignatures) {
		r.to(StateValidating, "")
		controller := confirmation.New(o.opts.Confirmer)
		controller.OnPrompt = func(prompt string) {
			r.to(StateAwaitingConfirmation, "")
			o.opts.Bus.Emit(eventbus.TopicPrompt, r.id, prompt)
		}
		controller.OnConfirmed = func(string) {
			r.to(StateValidating, "")
		}
		p, err = controller.Run(ctx, confirmation.Request{
			Capability: resolved.Capability,
			Operation:  d.Operation,
			Data:       data,
			Params:     p,
			PDF:        resolved.IsPDF(),
		})
		if err != nil {
			return nil, err
		}
	}

	p, err = params.Expand(p, resolved.ID)
	if err != nil {
		return nil, err
	}

	placementReq := placement.Request{Data: data, Operation: d.Operation, Params: p, PDF: resolved.IsPDF(), Batch: req.Batch}
	if placement.Applies(placementReq) {
		r.to(StateNegotiatingPlacement, "")
		if p, err = placement.Negotiate(ctx, o.opts.Placement, placementReq); err != nil {
			return nil, err
		}
	}

	r.to(StateSelectingCertificate, "")
	cc, err := o.certificate(ctx, req, p)
	if err != nil {
		return nil, err
	}
	key, err := cc.Load(ctx)
	if err != nil {
		return nil, selectionError(err)
	}
	if leaf := key.Leaf(); leaf != nil {
		entry.Signer = leaf.Subject.CommonName
	}

	r.to(StateDispatching, "")
	res, err := dispatch.Dispatch(ctx, dispatch.Request{
		Resolved:  resolved,
		Operation: d.Operation,
		Data:      data,
		Algorithm: d.Algorithm,
		Key:       key.Signer,
		Chain:     key.Chain,
		Params:    p,
		RequestID: r.id,
	})
	if err != nil {
		return nil, err
	}
	if filename != "" {
		res.Metadata[operation.MetadataFilename] = filename
	}

	if len(d.CipherKey) > 0 {
		text, err := cipher.Encrypt(d.CipherKey, res.Signature)
		if err != nil {
			return nil, err
		}
		res.Encrypted, res.Signature = text, nil
	}
	return res, nil
}

func (o *Orchestrator) selectData(ctx context.Context, d *operation.Descriptor) (string, []byte, error) {
	if o.opts.Data == nil {
		return "", nil, errors.ErrNoDataToSign
	}
	name, data, err := o.opts.Data.SelectData(ctx, d.Operation, hintsFrom(d.Params))
	switch {
	case isCancel(err):
		return "", nil, errors.ErrCancelled
	case err != nil:
		return "", nil, errors.WrapReadingData(err)
	case data == nil:
		return "", nil, errors.ErrNoDataToSign
	}
	logger.Logger.Debug("Data selected", "file", name, "size", len(data))
	return name, data, nil
}

// certificate picks the signing certificate, going through the sticky
// slot when the request asks for it. A non-sticky request clears the
// slot.
func (o *Orchestrator) certificate(ctx context.Context, req Request, p *params.Params) (keystore.CertificateContext, error) {
	selectFn := func(ctx context.Context) (keystore.CertificateContext, error) {
		if o.opts.Store == nil {
			return keystore.CertificateContext{}, errors.WrapKeystoreAccess(fmt.Errorf("no keystore configured"))
		}
		cc, err := o.opts.Certificates.SelectCertificate(ctx, o.opts.Store, keystore.FiltersFromParams(p), p.Bool(params.MandatoryCertSelection))
		if err != nil {
			return keystore.CertificateContext{}, selectionError(err)
		}
		if cc.IsZero() {
			return keystore.CertificateContext{}, errors.ErrCancelled
		}
		logger.Logger.Info("Certificate selected", "certificate", cc.String())
		return cc, nil
	}

	if req.Sticky {
		return o.opts.Sticky.Acquire(ctx, req.ResetSticky, selectFn)
	}
	o.opts.Sticky.Reset()
	return selectFn(ctx)
}

// selectionError maps keystore failures onto the result kinds.
func selectionError(err error) error {
	switch {
	case isCancel(err):
		return errors.ErrCancelled
	case stderrors.Is(err, errors.ErrNoCertificates), stderrors.Is(err, errors.ErrKeystoreAccess):
		return err
	}
	return errors.WrapKeystoreAccess(err)
}

func isCancel(err error) bool {
	return stderrors.Is(err, errors.ErrCancelled) || stderrors.Is(err, context.Canceled)
}

func (o *Orchestrator) record(ctx context.Context, e *history.Entry) {
	if o.opts.History == nil {
		return
	}
	if err := o.opts.History.Save(context.WithoutCancel(ctx), e); err != nil {
		logger.Logger.Warn("Failed to record request", "request", e.RequestID, "error", err)
	}
}
