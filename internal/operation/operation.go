// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package operation describes one signing request and its result.
package operation

import (
	"fmt"
	"strings"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/params"
)

// Kind is the cryptographic operation to perform.
type Kind int

const (
	Sign Kind = iota
	CoSign
	CounterSign
)

func (k Kind) String() string {
	switch k {
	case Sign:
		return "sign"
	case CoSign:
		return "cosign"
	case CounterSign:
		return "countersign"
	default:
		return fmt.Sprintf("operation(%d)", int(k))
	}
}

// ParseKind accepts the operation names used on the command line and by
// calling applications.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sign", "":
		return Sign, nil
	case "cosign":
		return CoSign, nil
	case "countersign":
		return CounterSign, nil
	}
	return Sign, errors.WrapInvalidParameters("unknown operation " + s)
}

// FormatAuto asks the catalog to pick the format from the data.
const FormatAuto = "AUTO"

// DefaultAlgorithm is used when a request names none.
const DefaultAlgorithm = "SHA256withRSA"

// Descriptor is one signing request. It is treated as immutable once it has
// been handed to the orchestrator; use With* to derive variants.
type Descriptor struct {
	// Data is the payload for Sign and the signature container for CoSign
	// and CounterSign. Nil means the data still has to be selected.
	Data      []byte
	Operation Kind
	Format    string
	Algorithm string
	Params    *params.Params
	// CipherKey, when set, is used to encrypt the result for the caller.
	CipherKey []byte
}

// New returns a descriptor with defaults filled in.
func New(op Kind, format, algorithm string, data []byte, p *params.Params) *Descriptor {
	if format == "" {
		format = FormatAuto
	}
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	if p == nil {
		p = params.New()
	}
	return &Descriptor{
		Data:      data,
		Operation: op,
		Format:    format,
		Algorithm: algorithm,
		Params:    p,
	}
}

// HasData reports whether the payload is present.
func (d *Descriptor) HasData() bool {
	return d.Data != nil
}

// IsAuto reports whether the format must be detected.
func (d *Descriptor) IsAuto() bool {
	return strings.EqualFold(d.Format, FormatAuto)
}

// Clone copies the descriptor, params included. Data is shared.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Params = d.Params.Clone()
	return &c
}

func (d *Descriptor) WithData(data []byte) *Descriptor {
	c := d.Clone()
	c.Data = data
	return c
}

func (d *Descriptor) WithFormat(format string) *Descriptor {
	c := d.Clone()
	c.Format = format
	return c
}

func (d *Descriptor) WithParams(p *params.Params) *Descriptor {
	c := *d
	c.Params = p
	return &c
}

// Result is the artifact of one successful operation.
type Result struct {
	RequestID   string
	Operation   Kind
	Format      string
	Signature   []byte
	Certificate []byte
	Metadata    map[string]string
	// Encrypted replaces Signature when the descriptor carried a cipher key.
	Encrypted string
}

// MetadataFilename is set when the data was picked interactively.
const MetadataFilename = "filename"
