// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package wizard asks the console user the questions a signing request
// may raise: confirmations, the certificate, the visible signature area
// and the file to sign.
package wizard

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/keystore"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/orchestrator"
	"github.com/dotandev/firma/internal/params"
	"github.com/dotandev/firma/internal/terminal"
)

const rule = "────────────────────────────────────────────────────"

type Wizard struct {
	renderer terminal.Renderer
}

func New() *Wizard {
	return &Wizard{renderer: terminal.NewStdRenderer()}
}

func (w *Wizard) WithRenderer(r terminal.Renderer) *Wizard {
	w.renderer = r
	return w
}

// ask prints prompt and returns the trimmed answer. A closed input
// cancels the request.
func (w *Wizard) ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.ErrCancelled
	}
	w.renderer.Print(prompt)
	line, err := w.renderer.ReadLine()
	if stderrors.Is(err, io.EOF) {
		return "", errors.ErrCancelled
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks a yes or no question. Anything but yes declines.
func (w *Wizard) Confirm(ctx context.Context, prompt string) (bool, error) {
	w.renderer.Println(w.renderer.Warning(), prompt)
	answer, err := w.ask(ctx, "Continue? [y/N]: ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes", "s", "si", "sí":
		return true, nil
	}
	return false, nil
}

// SelectCertificate lists the matching certificates and reads a choice. A
// single candidate is taken without asking unless selection is mandatory.
func (w *Wizard) SelectCertificate(ctx context.Context, store keystore.Store, filters []keystore.Filter, mandatory bool) (keystore.CertificateContext, error) {
	candidates, err := keystore.Candidates(ctx, store, filters)
	if err != nil {
		return keystore.CertificateContext{}, err
	}
	if len(candidates) == 1 && !mandatory {
		return candidates[0].Context, nil
	}

	w.renderer.Println("\nCertificates in " + store.Name() + ":")
	w.renderer.Println(rule)
	for i, c := range candidates {
		w.renderer.Printf("[%d] %s | issued by %s | expires %s\n", i+1,
			w.renderer.Colorize(c.Certificate.Subject.CommonName, "bold"),
			c.Certificate.Issuer.CommonName,
			c.Certificate.NotAfter.Format("2006-01-02"))
	}
	w.renderer.Println(rule)

	for {
		answer, err := w.ask(ctx, "Select certificate (number, empty to cancel): ")
		if err != nil {
			return keystore.CertificateContext{}, err
		}
		if answer == "" {
			return keystore.CertificateContext{}, errors.ErrCancelled
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(candidates) {
			chosen := candidates[n-1]
			logger.Logger.Info("Certificate chosen", "alias", chosen.Context.Alias)
			return chosen.Context, nil
		}
		w.renderer.Println(w.renderer.Error(), "Invalid selection")
	}
}

// SelectPlacement reads the visible signature area. An empty answer
// returns an empty result, which the negotiator treats as a dismissal.
func (w *Wizard) SelectPlacement(ctx context.Context, _ []byte, isExistingSignature, isBatch, customizable bool) (map[string]string, error) {
	if isExistingSignature {
		w.renderer.Println("The document is already signed; the new signature may not overlap the existing ones.")
	}
	for {
		answer, err := w.ask(ctx, "Signature area as llx,lly,urx,ury in points (empty to skip): ")
		if err != nil {
			return nil, err
		}
		if answer == "" {
			return nil, nil
		}
		corners, ok := parseArea(answer)
		if !ok {
			w.renderer.Println(w.renderer.Error(), "Expected four numbers with the upper right corner above and right of the lower left one")
			continue
		}

		result := make(map[string]string, len(params.PositionKeys)+2)
		for i, k := range params.PositionKeys {
			result[k] = corners[i]
		}
		pagePrompt := "Page (-1 for the last one) [1]: "
		if isBatch {
			pagePrompt = "Page in every document (-1 for the last one) [1]: "
		}
		page, err := w.ask(ctx, pagePrompt)
		if err != nil {
			return nil, err
		}
		if page == "" {
			page = "1"
		}
		result[params.SignaturePage] = page

		if customizable {
			text, err := w.ask(ctx, "Signature text (empty for the default): ")
			if err != nil {
				return nil, err
			}
			if text != "" {
				result[params.Layer2Text] = text
			}
		}
		return result, nil
	}
}

func parseArea(s string) ([]string, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, false
	}
	v := make([]float64, 4)
	out := make([]string, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, false
		}
		v[i], out[i] = f, strings.TrimSpace(p)
	}
	return out, v[2] > v[0] && v[3] > v[1]
}

// SelectData asks for the file to operate on, offering the suggested
// name, and reads it.
func (w *Wizard) SelectData(ctx context.Context, op operation.Kind, hints orchestrator.DataHints) (string, []byte, error) {
	prompt := fmt.Sprintf("File to %s", op)
	if hints.Description != "" {
		prompt += " (" + hints.Description + ")"
	} else if len(hints.Extensions) > 0 {
		prompt += " (" + strings.Join(hints.Extensions, ", ") + ")"
	}
	if hints.Filename != "" {
		prompt += " [" + hints.Filename + "]"
	}
	answer, err := w.ask(ctx, prompt+": ")
	if err != nil {
		return "", nil, err
	}
	if answer == "" {
		answer = hints.Filename
	}
	if answer == "" {
		return "", nil, errors.ErrCancelled
	}
	path := answer
	if !filepath.IsAbs(path) && hints.Dir != "" {
		path = filepath.Join(hints.Dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	return filepath.Base(path), data, nil
}
