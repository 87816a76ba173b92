// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package office

import (
	"bytes"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/dotandev/firma/internal/errors"
)

type entry struct {
	header zip.FileHeader
	data   []byte
}

// pkg is a zip package held in memory. Entry order is kept so that a
// rewritten package differs from the original only where it was changed.
type pkg struct {
	entries []*entry
	index   map[string]*entry
}

func readPackage(data []byte) (*pkg, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.WrapInvalidInputFormat(err)
	}
	p := &pkg{index: make(map[string]*entry)}
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, errors.WrapReadingData(err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, errors.WrapReadingData(err)
		}
		e := &entry{header: f.FileHeader, data: b}
		p.entries = append(p.entries, e)
		p.index[f.Name] = e
	}
	return p, nil
}

func (p *pkg) get(name string) ([]byte, bool) {
	e, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// put replaces the content of name, adding a deflated entry when it does
// not exist yet.
func (p *pkg) put(name string, data []byte) {
	if e, ok := p.index[name]; ok {
		e.data = data
		return
	}
	e := &entry{header: zip.FileHeader{Name: name, Method: zip.Deflate}, data: data}
	p.entries = append(p.entries, e)
	p.index[name] = e
}

// names lists the file entries in package order, skipping directories.
func (p *pkg) names() []string {
	out := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		if !strings.HasSuffix(e.header.Name, "/") {
			out = append(out, e.header.Name)
		}
	}
	return out
}

func (p *pkg) bytes() ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range p.entries {
		h := e.header
		h.CompressedSize64, h.UncompressedSize64, h.CRC32 = 0, 0, 0
		fw, err := w.CreateHeader(&h)
		if err != nil {
			return nil, errors.WrapSigningFailed(err)
		}
		if _, err := fw.Write(e.data); err != nil {
			return nil, errors.WrapSigningFailed(err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.WrapSigningFailed(err)
	}
	return buf.Bytes(), nil
}
