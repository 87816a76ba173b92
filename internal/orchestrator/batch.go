// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/operation"
)

// Batch is a list of operations signed with one certificate.
type Batch struct {
	ID    string
	Items []*operation.Descriptor
	// ErrorsAllowed keeps going after a failed item. User cancellation and
	// a missing mandatory visible signature stop the batch regardless.
	ErrorsAllowed   bool
	ResetSticky     bool
	ProtocolVersion int
}

// ItemResult is the outcome of one batch item. Exactly one of Result and
// Err is set for items that ran; Skipped items have neither.
type ItemResult struct {
	RequestID string
	Result    *operation.Result
	Err       error
	Skipped   bool
}

// BatchResult collects item outcomes in input order.
type BatchResult struct {
	ID    string
	Items []ItemResult
	// Err is the failure that stopped the batch, nil when every item ran.
	Err error
}

// Failed counts the items that ran and failed.
func (b *BatchResult) Failed() int {
	n := 0
	for _, item := range b.Items {
		if item.Err != nil {
			n++
		}
	}
	return n
}

// RunBatch runs the items strictly in order through the sticky slot so
// the certificate is chosen once.
func (o *Orchestrator) RunBatch(ctx context.Context, b Batch) *BatchResult {
	id := b.ID
	if id == "" {
		id = uuid.NewString()
	}
	out := &BatchResult{ID: id, Items: make([]ItemResult, len(b.Items))}
	if b.ResetSticky {
		o.opts.Sticky.Reset()
	}
	logger.Logger.Info("Batch started", "batch", id, "items", len(b.Items), "errors_allowed", b.ErrorsAllowed)

	for i, d := range b.Items {
		itemID := id + "-" + strconv.Itoa(i+1)
		out.Items[i].RequestID = itemID
		if out.Err != nil {
			out.Items[i].Skipped = true
			continue
		}

		res, err := o.Run(ctx, Request{
			Descriptor:      d,
			ProtocolVersion: b.ProtocolVersion,
			Sticky:          true,
			RequestID:       itemID,
			Batch:           len(b.Items) > 1,
		})
		out.Items[i].Result, out.Items[i].Err = res, err
		if err != nil && (!b.ErrorsAllowed || stopsBatch(err)) {
			out.Err = err
		}
	}
	logger.Logger.Info("Batch finished", "batch", id, "failed", out.Failed(), "stopped", out.Err != nil)
	return out
}

func stopsBatch(err error) bool {
	switch errors.KindOf(err) {
	case errors.KindUserCancelled, errors.KindVisibleSignatureMandatory:
		return true
	}
	return false
}
