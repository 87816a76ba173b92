// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package format

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/operation"
)

// Resolved binds a format identifier to the capability that implements it.
type Resolved struct {
	// ID is the canonical identifier.
	ID string
	// Requested is the identifier the caller used, or the sniffed one for
	// AUTO requests.
	Requested  string
	Capability Capability
}

// IsPDF reports whether the resolved format belongs to the PDF family.
func (r *Resolved) IsPDF() bool {
	return r != nil && r.ID == PAdES
}

// IsXAdES reports whether the caller asked for an XAdES variant.
func (r *Resolved) IsXAdES() bool {
	return r != nil && strings.HasPrefix(strings.ToLower(r.Requested), "xades")
}

func (r *Resolved) String() string {
	if r.Requested != "" && !strings.EqualFold(r.Requested, r.ID) {
		return fmt.Sprintf("%s (%s)", r.ID, r.Requested)
	}
	return r.ID
}

// Catalog is a registry of capabilities. It is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	byID    map[string]Capability
	aliases map[string]string
}

// NewCatalog returns an empty catalog that already knows the standard
// aliases of every canonical format.
func NewCatalog() *Catalog {
	c := &Catalog{
		byID:    make(map[string]Capability),
		aliases: make(map[string]string),
	}
	for alias, id := range defaultAliases {
		c.aliases[strings.ToLower(alias)] = id
	}
	return c
}

var defaultAliases = map[string]string{
	PDF:                PAdES,
	PDFTri:             PAdES,
	AdobePDF:           PAdES,
	PAdESBES:           PAdES,
	PAdESBasic:         PAdES,
	PAdESTri:           PAdES,
	XAdESTri:           XAdES,
	"XAdES Detached":   XAdES,
	"XAdES Enveloped":  XAdES,
	"XAdES Enveloping": XAdES,
	"XMLDSig":          XAdES,
	CAdESTri:           CAdES,
	"CMS":              CAdES,
	"FacturaE-tri":     FacturaE,
}

// Register adds a capability under its canonical name plus any extra
// aliases.
func (c *Catalog) Register(capability Capability, aliases ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := capability.Name()
	c.byID[strings.ToLower(id)] = capability
	for _, a := range aliases {
		c.aliases[strings.ToLower(a)] = id
	}
}

// Formats returns the canonical identifiers of the registered capabilities.
func (c *Catalog) Formats() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.byID))
	for _, capability := range c.byID {
		out = append(out, capability.Name())
	}
	sort.Strings(out)
	return out
}

// Lookup resolves a concrete identifier, ignoring case.
func (c *Catalog) Lookup(id string) (*Resolved, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := c.aliases[key]; ok {
		key = strings.ToLower(canonical)
	}
	capability, ok := c.byID[key]
	if !ok {
		return nil, errors.WrapUnsupportedFormat(id)
	}
	return &Resolved{ID: capability.Name(), Requested: id, Capability: capability}, nil
}

// Resolve picks the capability for a request. A concrete format is looked
// up directly. AUTO sniffs the payload for Sign and asks each capability,
// in Priority order, whether it owns the container for CoSign and
// CounterSign.
func (c *Catalog) Resolve(explicit string, op operation.Kind, data []byte) (*Resolved, error) {
	if explicit != "" && !strings.EqualFold(explicit, operation.FormatAuto) {
		return c.Lookup(explicit)
	}

	if op == operation.Sign {
		id := Sniff(data)
		logger.Logger.Debug("Format sniffed from payload", "format", id, "size", len(data))
		return c.Lookup(id)
	}

	r, err := c.Detect(data)
	if err != nil {
		return nil, err
	}
	logger.Logger.Debug("Format detected from signature container", "format", r.ID, "operation", op.String())
	return r, nil
}

// Detect finds the capability that recognizes data as one of its signature
// containers.
func (c *Catalog) Detect(data []byte) (*Resolved, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, id := range Priority {
		capability, ok := c.byID[strings.ToLower(id)]
		if !ok {
			continue
		}
		if capability.IsSign(data) {
			return &Resolved{ID: capability.Name(), Requested: capability.Name(), Capability: capability}, nil
		}
	}
	return nil, errors.ErrUnrecognizedSignatureContainer
}
