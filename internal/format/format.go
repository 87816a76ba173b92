// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package format maps signature format identifiers to the signer
// capabilities that implement them and picks a format from raw content when
// the caller asks for AUTO.
package format

import (
	"context"
	"crypto"
	"crypto/x509"
	"strings"
	"time"

	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/validity"
)

// Canonical format identifiers.
const (
	PAdES    = "PAdES"
	FacturaE = "FacturaE"
	XAdES    = "XAdES"
	ODF      = "ODF"
	OOXML    = "OOXML"
	CAdES    = "CAdES"
)

// Identifiers that resolve to a canonical format but keep their own meaning
// for the caller.
const (
	PDF        = "PDF"
	PDFTri     = "PDFtri"
	AdobePDF   = "Adobe PDF"
	PAdESBES   = "PAdES-BES"
	PAdESBasic = "PAdES-Basic"
	PAdESTri   = "PAdEStri"
	XAdESTri   = "XAdEStri"
	CAdESTri   = "CAdEStri"
)

// Priority is the fixed order used both to sniff payloads and to find the
// capability that owns an existing signature container. Later formats are
// often structural supersets of earlier ones, so the order matters.
var Priority = []string{PAdES, FacturaE, XAdES, ODF, OOXML, CAdES}

// Capability is a format-specific signer.
type Capability interface {
	// Name returns the canonical identifier.
	Name() string
	// IsSign reports whether data is a signature container of this format.
	IsSign(data []byte) bool
	// Validate checks the signatures already present in data. An error means
	// the check could not be run at all.
	Validate(ctx context.Context, data []byte, p *params.Params) (validity.Outcome, error)
	Sign(ctx context.Context, data []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error)
	CoSign(ctx context.Context, sign []byte, algorithm string, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error)
	CounterSign(ctx context.Context, sign []byte, algorithm string, target Target, key crypto.Signer, chain []*x509.Certificate, p *params.Params) ([]byte, error)
	SignInfo(sign []byte) (*SignInfo, error)
	SignersStructure(sign []byte) (*SignerTree, error)
	// Data extracts the signed payload when the container carries it.
	Data(sign []byte) ([]byte, error)
}

// SignInfo is a short description of a signature container.
type SignInfo struct {
	Format  string `json:"format"`
	Variant string `json:"variant,omitempty"`
	Signers int    `json:"signers"`
}

// SignerNode is one signature of a container. Counter-signatures are
// children of the signature they endorse.
type SignerNode struct {
	ID          string
	Subject     string
	Certificate *x509.Certificate
	SigningTime time.Time
	Children    []*SignerNode
}

// IsLeaf reports whether no counter-signature endorses this node.
func (n *SignerNode) IsLeaf() bool {
	return len(n.Children) == 0
}

// SignerTree holds the top-level signatures of a container.
type SignerTree struct {
	Signers []*SignerNode
}

// Walk visits every node depth first, parents before children.
func (t *SignerTree) Walk(fn func(*SignerNode)) {
	if t == nil {
		return
	}
	var visit func(n *SignerNode)
	visit = func(n *SignerNode) {
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	for _, n := range t.Signers {
		visit(n)
	}
}

// Count returns the number of signatures in the tree.
func (t *SignerTree) Count() int {
	n := 0
	t.Walk(func(*SignerNode) { n++ })
	return n
}

// Target selects which signatures a counter-signature endorses.
type Target string

const (
	TargetLeafs Target = params.TargetLeafs
	TargetTree  Target = params.TargetTree
)

// ParseTarget reads the target parameter. Anything other than "tree" means
// leaves.
func ParseTarget(s string) Target {
	if strings.EqualFold(strings.TrimSpace(s), string(TargetTree)) {
		return TargetTree
	}
	return TargetLeafs
}

// CounterSignTargets returns the nodes a counter-signature must endorse.
func CounterSignTargets(tree *SignerTree, target Target) []*SignerNode {
	var out []*SignerNode
	tree.Walk(func(n *SignerNode) {
		if target == TargetTree || n.IsLeaf() {
			out = append(out, n)
		}
	})
	return out
}
