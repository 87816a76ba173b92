// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package pades

import (
	"crypto/x509"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/params"
)

// DefaultLayer2Text is shown in visible signatures without custom text.
const DefaultLayer2Text = "Signed by $$SUBJECTCN$$\n$$SIGNDATE=dd/MM/yyyy HH:mm$$"

// placement is where a visible signature goes. A nil placement means an
// invisible signature.
type placement struct {
	rect     [4]float64
	pages    []int
	rotation int
}

// placementFrom reads the visible signature position. All four corners
// are needed; without them the signature is invisible.
func placementFrom(p *params.Params, numPages int) (*placement, error) {
	var pl placement
	for i, key := range params.PositionKeys {
		raw := strings.TrimSpace(p.Value(key))
		if raw == "" {
			return nil, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.WrapInvalidParameters(fmt.Sprintf("%s is not a number", key))
		}
		pl.rect[i] = v
	}
	if pl.rect[2] <= pl.rect[0] || pl.rect[3] <= pl.rect[1] {
		return nil, errors.WrapInvalidParameters("visible signature area is empty")
	}

	pages, err := pagesFrom(p, numPages)
	if err != nil {
		return nil, err
	}
	pl.pages = pages
	if r := p.Value(params.SignatureRotation); r != "" {
		rot, err := strconv.Atoi(r)
		if err != nil || rot%90 != 0 {
			return nil, errors.WrapInvalidParameters("signature rotation must be a multiple of 90")
		}
		pl.rotation = ((rot % 360) + 360) % 360
	}
	return &pl, nil
}

// pagesFrom resolves signaturePages ("all" or a comma list) or
// signaturePage. Page -1 and 0 mean the last page.
func pagesFrom(p *params.Params, numPages int) ([]int, error) {
	resolve := func(raw string) (int, error) {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return 0, errors.WrapInvalidParameters(fmt.Sprintf("bad page number %q", raw))
		}
		if n <= 0 {
			n = numPages
		}
		if n > numPages {
			return 0, errors.WrapInvalidParameters(fmt.Sprintf("page %d does not exist", n))
		}
		return n, nil
	}

	if raw := strings.TrimSpace(p.Value(params.SignaturePages)); raw != "" {
		if strings.EqualFold(raw, "all") {
			out := make([]int, numPages)
			for i := range out {
				out[i] = i + 1
			}
			return out, nil
		}
		seen := make(map[int]bool)
		var out []int
		for _, part := range strings.Split(raw, ",") {
			n, err := resolve(part)
			if err != nil {
				return nil, err
			}
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
		return out, nil
	}
	n, err := resolve(p.ValueOr(params.SignaturePage, "1"))
	if err != nil {
		return nil, err
	}
	return []int{n}, nil
}

var datePattern = regexp.MustCompile(`\$\$SIGNDATE(=([^$]*))?\$\$`)

var javaLayout = strings.NewReplacer(
	"yyyy", "2006", "yy", "06", "MM", "01", "dd", "02",
	"HH", "15", "mm", "04", "ss", "05",
)

// expandText substitutes the signer placeholders of a layer 2 text.
func expandText(text string, leaf *x509.Certificate, now time.Time, p *params.Params) string {
	text = datePattern.ReplaceAllStringFunc(text, func(m string) string {
		layout := "02/01/2006"
		if sub := datePattern.FindStringSubmatch(m); sub[2] != "" {
			layout = javaLayout.Replace(sub[2])
		}
		return now.Format(layout)
	})
	return strings.NewReplacer(
		"$$SUBJECTCN$$", leaf.Subject.CommonName,
		"$$ISSUERCN$$", leaf.Issuer.CommonName,
		"$$CERTSERIAL$$", leaf.SerialNumber.String(),
		"$$REASON$$", p.Value(params.SignReason),
		"$$LOCATION$$", p.Value(params.SignatureProductionCity),
	).Replace(text)
}

// baseFont maps the font family (0 Courier, 1 Helvetica, 2 Times) and
// style bits (1 bold, 2 italic) to a standard Type 1 font.
func baseFont(family, style string) string {
	bold := style == "1" || style == "3"
	italic := style == "2" || style == "3"
	switch family {
	case "0":
		return pick(bold, italic, "Courier", "Courier-Bold", "Courier-Oblique", "Courier-BoldOblique")
	case "2":
		return pick(bold, italic, "Times-Roman", "Times-Bold", "Times-Italic", "Times-BoldItalic")
	}
	return pick(bold, italic, "Helvetica", "Helvetica-Bold", "Helvetica-Oblique", "Helvetica-BoldOblique")
}

func pick(bold, italic bool, regular, b, i, bi string) string {
	switch {
	case bold && italic:
		return bi
	case bold:
		return b
	case italic:
		return i
	}
	return regular
}

var namedColors = map[string][3]float64{
	"black":     {0, 0, 0},
	"white":     {1, 1, 1},
	"gray":      {0.5, 0.5, 0.5},
	"lightgray": {0.75, 0.75, 0.75},
	"darkgray":  {0.25, 0.25, 0.25},
	"red":       {1, 0, 0},
	"pink":      {1, 0.69, 0.69},
	"orange":    {1, 0.78, 0},
	"yellow":    {1, 1, 0},
	"green":     {0, 1, 0},
	"magenta":   {1, 0, 1},
	"cyan":      {0, 1, 1},
	"blue":      {0, 0, 1},
}

// appearanceStream draws the layer 2 text inside a w x h box.
func appearanceStream(text string, w, h float64, p *params.Params) []byte {
	size := 10.0
	if v, err := strconv.ParseFloat(p.Value(params.Layer2FontSize), 64); err == nil && v > 0 {
		size = v
	}
	color, ok := namedColors[strings.ToLower(p.Value(params.Layer2FontColor))]
	if !ok {
		color = namedColors["black"]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "q\n%s %s %s rg\nBT\n/F1 %s Tf\n%s TL\n2 %s Td\n",
		num(color[0]), num(color[1]), num(color[2]), num(size), num(size*1.2), num(h-size-2))
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteString("T*\n")
		}
		fmt.Fprintf(&b, "(%s) Tj\n", escapeLiteral(winAnsi(line)))
	}
	b.WriteString("ET\nQ")
	return []byte(b.String())
}

// winAnsi keeps Latin-1 characters, which WinAnsiEncoding shares, and
// replaces the rest.
func winAnsi(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 256 {
			out = append(out, byte(r))
		} else {
			out = append(out, '?')
		}
	}
	return string(out)
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
