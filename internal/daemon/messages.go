// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/orchestrator"
	"github.com/dotandev/firma/internal/params"
)

// SignArgs is the Firma.Sign request. Data is base64 in JSON. Properties
// holds extra parameters in properties syntax; Params entries override
// them.
type SignArgs struct {
	RequestID       string            `json:"requestId,omitempty"`
	Operation       string            `json:"operation"`
	Format          string            `json:"format,omitempty"`
	Algorithm       string            `json:"algorithm,omitempty"`
	Data            []byte            `json:"data,omitempty"`
	Properties      string            `json:"properties,omitempty"`
	Params          map[string]string `json:"params,omitempty"`
	CipherKey       string            `json:"cipherKey,omitempty"`
	ProtocolVersion int               `json:"protocolVersion,omitempty"`
	Sticky          bool              `json:"sticky,omitempty"`
	ResetSticky     bool              `json:"resetSticky,omitempty"`
}

// SignReply is the Firma.Sign response.
type SignReply struct {
	RequestID   string            `json:"requestId"`
	Operation   string            `json:"operation"`
	Format      string            `json:"format"`
	Signature   []byte            `json:"signature,omitempty"`
	Encrypted   string            `json:"encrypted,omitempty"`
	Certificate []byte            `json:"certificate"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BatchArgs is the Firma.Batch request.
type BatchArgs struct {
	ID              string     `json:"id,omitempty"`
	Items           []SignArgs `json:"items"`
	ErrorsAllowed   bool       `json:"errorsAllowed,omitempty"`
	ResetSticky     bool       `json:"resetSticky,omitempty"`
	ProtocolVersion int        `json:"protocolVersion,omitempty"`
}

// BatchItemReply is the outcome of one batch item.
type BatchItemReply struct {
	RequestID string     `json:"requestId"`
	Result    *SignReply `json:"result,omitempty"`
	Kind      string     `json:"kind,omitempty"`
	Message   string     `json:"message,omitempty"`
	Skipped   bool       `json:"skipped,omitempty"`
}

// BatchReply is the Firma.Batch response. Kind is set when the batch
// stopped early.
type BatchReply struct {
	ID    string           `json:"id"`
	Items []BatchItemReply `json:"items"`
	Kind  string           `json:"kind,omitempty"`
}

// AnalyzeArgs is the Firma.Analyze request.
type AnalyzeArgs struct {
	Data []byte `json:"data"`
}

// ResetReply reports whether a certificate was remembered.
type ResetReply struct {
	Had bool `json:"had"`
}

func (a *SignArgs) descriptor() (*operation.Descriptor, error) {
	op, err := operation.ParseKind(a.Operation)
	if err != nil {
		return nil, err
	}
	p := params.New()
	if a.Properties != "" {
		if p, err = params.Parse(a.Properties); err != nil {
			return nil, errors.WrapInvalidParameters(err.Error())
		}
	}
	p.Merge(params.FromMap(a.Params))

	d := operation.New(op, a.Format, a.Algorithm, a.Data, p)
	if a.CipherKey != "" {
		d.CipherKey = []byte(a.CipherKey)
	}
	return d, nil
}

func (a *SignArgs) request() (orchestrator.Request, error) {
	d, err := a.descriptor()
	if err != nil {
		return orchestrator.Request{}, err
	}
	return orchestrator.Request{
		Descriptor:      d,
		ProtocolVersion: a.ProtocolVersion,
		Sticky:          a.Sticky,
		ResetSticky:     a.ResetSticky,
		RequestID:       a.RequestID,
	}, nil
}

func (a *BatchArgs) batch() (orchestrator.Batch, error) {
	if len(a.Items) == 0 {
		return orchestrator.Batch{}, errors.WrapInvalidParameters("batch has no items")
	}
	b := orchestrator.Batch{
		ID:              a.ID,
		ErrorsAllowed:   a.ErrorsAllowed,
		ResetSticky:     a.ResetSticky,
		ProtocolVersion: a.ProtocolVersion,
	}
	for i := range a.Items {
		d, err := a.Items[i].descriptor()
		if err != nil {
			return orchestrator.Batch{}, err
		}
		b.Items = append(b.Items, d)
	}
	return b, nil
}

func replyFrom(res *operation.Result) SignReply {
	return SignReply{
		RequestID:   res.RequestID,
		Operation:   res.Operation.String(),
		Format:      res.Format,
		Signature:   res.Signature,
		Encrypted:   res.Encrypted,
		Certificate: res.Certificate,
		Metadata:    res.Metadata,
	}
}

func batchReplyFrom(out *orchestrator.BatchResult) BatchReply {
	reply := BatchReply{ID: out.ID, Items: make([]BatchItemReply, len(out.Items))}
	for i, item := range out.Items {
		r := BatchItemReply{RequestID: item.RequestID, Skipped: item.Skipped}
		switch {
		case item.Err != nil:
			r.Kind, r.Message = string(errors.KindOf(item.Err)), item.Err.Error()
		case item.Result != nil:
			res := replyFrom(item.Result)
			r.Result = &res
		}
		reply.Items[i] = r
	}
	if out.Err != nil {
		reply.Kind = string(errors.KindOf(out.Err))
	}
	return reply
}
