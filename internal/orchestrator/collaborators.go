// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/keystore"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/params"
)

// CertificateSelector picks the signing certificate. Returning
// errors.ErrCancelled means the user declined.
type CertificateSelector interface {
	SelectCertificate(ctx context.Context, store keystore.Store, filters []keystore.Filter, mandatory bool) (keystore.CertificateContext, error)
}

// DataHints describe the file the caller expects when no data was sent.
type DataHints struct {
	Extensions  []string
	Description string
	Dir         string
	Filename    string
}

func hintsFrom(p *params.Params) DataHints {
	h := DataHints{
		Description: p.Value(params.LoadFileDescription),
		Dir:         p.Value(params.LoadFileCurrentDir),
		Filename:    p.Value(params.LoadFileName),
	}
	for _, ext := range strings.Split(p.Value(params.LoadFileExtensions), ",") {
		if ext = strings.TrimSpace(ext); ext != "" {
			h.Extensions = append(h.Extensions, ext)
		}
	}
	return h
}

// DataSource supplies the payload of requests that arrive without one.
type DataSource interface {
	SelectData(ctx context.Context, op operation.Kind, hints DataHints) (name string, data []byte, err error)
}

// FirstMatch selects the first certificate passing the filters. With
// mandatory selection it requires exactly one candidate, since nobody can
// be asked to choose.
type FirstMatch struct{}

func (FirstMatch) SelectCertificate(ctx context.Context, store keystore.Store, filters []keystore.Filter, mandatory bool) (keystore.CertificateContext, error) {
	candidates, err := keystore.Candidates(ctx, store, filters)
	if err != nil {
		return keystore.CertificateContext{}, err
	}
	if mandatory && len(candidates) > 1 {
		return keystore.CertificateContext{}, errors.ErrCancelled
	}
	return candidates[0].Context, nil
}

// ByAlias selects the entry stored under a known alias. Filters still
// apply, so an alias naming an expired certificate is refused when the
// request asks for valid ones.
type ByAlias string

func (a ByAlias) SelectCertificate(ctx context.Context, store keystore.Store, filters []keystore.Filter, _ bool) (keystore.CertificateContext, error) {
	candidates, err := keystore.Candidates(ctx, store, filters)
	if err != nil {
		return keystore.CertificateContext{}, err
	}
	for _, c := range candidates {
		if c.Context.Alias == string(a) {
			return c.Context, nil
		}
	}
	return keystore.CertificateContext{}, fmt.Errorf("%w: no certificate under alias %q", errors.ErrNoCertificates, string(a))
}

// FileSource reads the file named by the hints, relative to their
// directory. It never prompts, so a request without a file name is
// cancelled.
type FileSource struct{}

func (FileSource) SelectData(_ context.Context, _ operation.Kind, hints DataHints) (string, []byte, error) {
	if hints.Filename == "" {
		return "", nil, errors.ErrCancelled
	}
	path := hints.Filename
	if !filepath.IsAbs(path) && hints.Dir != "" {
		path = filepath.Join(hints.Dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	return filepath.Base(path), data, nil
}
