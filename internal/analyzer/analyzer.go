// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package analyzer inspects existing signature containers and describes
// their signers for display.
package analyzer

import (
	"context"

	"github.com/beevik/etree"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/telemetry"
)

// Report is the result of analyzing one container.
type Report struct {
	Format       string           `json:"format"`
	DataLocation DataLocation     `json:"dataLocation,omitempty"`
	Signers      []*SignerNode    `json:"signers"`
	Info         *format.SignInfo `json:"info,omitempty"`
	// Data is the signed content when it could be extracted.
	Data []byte `json:"-"`
}

// Count returns the number of signatures in the report, counter-signatures
// included.
func (r *Report) Count() int {
	n := 0
	var walk func([]*SignerNode)
	walk = func(nodes []*SignerNode) {
		for _, node := range nodes {
			n++
			walk(node.Children)
		}
	}
	walk(r.Signers)
	return n
}

type Analyzer struct {
	catalog *format.Catalog
}

func New(catalog *format.Catalog) *Analyzer {
	return &Analyzer{catalog: catalog}
}

// Analyze builds the signer trees of data. Integrity failures of single
// signatures are reported on their nodes; a container that cannot be read
// as signatures fails the whole analysis with ErrInvalidFormat.
func (a *Analyzer) Analyze(ctx context.Context, data []byte) (*Report, error) {
	ctx, span := telemetry.GetTracer().Start(ctx, "analyze")
	defer span.End()

	report, err := a.analyze(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.KindOf(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("format", report.Format),
		attribute.Int("signatures", report.Count()),
	)
	return report, nil
}

func (a *Analyzer) analyze(ctx context.Context, data []byte) (*Report, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalidFormat("there is no signature to analyze")
	}
	resolved, err := a.catalog.Detect(data)
	if err != nil {
		return nil, errors.WrapInvalidFormat("no signer recognizes the signature container")
	}
	logger.Logger.Debug("Analyzing signature container", "format", resolved.ID, "size", len(data))

	report := &Report{Format: resolved.ID}
	if doc := format.ParseXML(data); doc != nil {
		report.DataLocation = Locate(doc)
		report.Signers, err = analyzeXML(ctx, doc, resolved.ID)
	} else {
		report.Signers, err = analyzeTree(ctx, resolved.Capability, data)
	}
	if err != nil {
		return nil, err
	}

	describe(report, resolved.Capability, data)
	return report, nil
}

// describe adds what the capability can tell about the container. None of
// it is required, so failures are only logged.
func describe(report *Report, capability format.Capability, data []byte) {
	info, err := capability.SignInfo(data)
	if err != nil {
		logger.Logger.Warn("Could not read signature information", "format", report.Format, "error", err)
	}
	report.Info = info

	content, err := capability.Data(data)
	if err != nil {
		logger.Logger.Warn("Could not extract the signed data", "format", report.Format, "error", err)
	}
	report.Data = content
}

// analyzeXML builds one node per ds:Signature of doc.
func analyzeXML(ctx context.Context, doc *etree.Document, formatID string) ([]*SignerNode, error) {
	external := Locate(doc) == LocationExternallyDetached
	var nodes []*SignerNode
	for _, sig := range signatures(doc) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node, err := buildNode(doc, sig, formatID, external)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if len(nodes) == 0 {
		return nil, errors.WrapInvalidFormat("the document holds no signatures")
	}
	return nodes, nil
}

// analyzeTree describes containers that are not XML through the signer
// structure of their capability. The container is validated as a whole.
func analyzeTree(ctx context.Context, capability format.Capability, data []byte) ([]*SignerNode, error) {
	tree, err := capability.SignersStructure(data)
	if err != nil {
		return nil, errors.WrapInvalidFormat(err.Error())
	}
	outcome, err := capability.Validate(ctx, data, params.New())
	if err != nil {
		return nil, err
	}

	var convert func(n *format.SignerNode) (*SignerNode, error)
	convert = func(n *format.SignerNode) (*SignerNode, error) {
		node := &SignerNode{
			ID:          n.ID,
			Format:      capability.Name(),
			SigningTime: n.SigningTime,
			Metadata:    make(map[string]string),
			Validity:    outcome,
		}
		if n.Certificate != nil {
			node.Signers = append(node.Signers, certificateDetails(n.Certificate))
		}
		for _, c := range n.Children {
			child, err := convert(c)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}

	var nodes []*SignerNode
	for _, n := range tree.Signers {
		node, err := convert(n)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
