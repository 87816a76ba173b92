// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package pades

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/digitorus/pdf"

	"github.com/dotandev/firma/internal/errors"
)

// update appends an incremental revision to a document. Objects are
// written in the order they are added; the cross-reference section and
// trailer are written by finish.
type update struct {
	doc      *document
	buf      bytes.Buffer
	offsets  map[uint32]int64
	gens     map[uint32]uint16
	next     uint32
	prevXref int64
	xrefKind string
}

const (
	xrefTable  = "table"
	xrefStream = "stream"
)

func newUpdate(doc *document) (*update, error) {
	prev, kind, err := lastXref(doc.data)
	if err != nil {
		return nil, err
	}
	u := &update{
		doc:      doc,
		offsets:  make(map[uint32]int64),
		gens:     make(map[uint32]uint16),
		next:     uint32(doc.reader.Trailer().Key("Size").Int64()),
		prevXref: prev,
		xrefKind: kind,
	}
	u.buf.Write(doc.data)
	if !bytes.HasSuffix(doc.data, []byte("\n")) {
		u.buf.WriteByte('\n')
	}
	return u, nil
}

// lastXref locates the cross-reference section the current trailer points
// at and reports whether it is a table or a stream.
func lastXref(data []byte) (int64, string, error) {
	i := bytes.LastIndex(data, []byte("startxref"))
	if i < 0 {
		return 0, "", errors.WrapInvalidPdf(fmt.Errorf("startxref not found"))
	}
	fields := strings.Fields(string(data[i+len("startxref"):]))
	if len(fields) == 0 {
		return 0, "", errors.WrapInvalidPdf(fmt.Errorf("startxref has no offset"))
	}
	off, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || off < 0 || off >= int64(len(data)) {
		return 0, "", errors.WrapInvalidPdf(fmt.Errorf("bad startxref offset %q", fields[0]))
	}
	if bytes.HasPrefix(bytes.TrimLeft(data[off:], " \r\n\t"), []byte("xref")) {
		return off, xrefTable, nil
	}
	return off, xrefStream, nil
}

func (u *update) alloc() ref {
	r := ref{id: u.next}
	u.next++
	return r
}

// object writes body as object r. The returned value is the offset of the
// body inside the output.
func (u *update) object(r ref, body string) int64 {
	u.offsets[r.id] = int64(u.buf.Len())
	u.gens[r.id] = r.gen
	fmt.Fprintf(&u.buf, "%d %d obj\n", r.id, r.gen)
	at := int64(u.buf.Len())
	u.buf.WriteString(body)
	u.buf.WriteString("\nendobj\n")
	return at
}

func (u *update) stream(r ref, dict string, data []byte) {
	u.offsets[r.id] = int64(u.buf.Len())
	u.gens[r.id] = r.gen
	fmt.Fprintf(&u.buf, "%d %d obj\n<<%s /Length %d>>\nstream\n", r.id, r.gen, dict, len(data))
	u.buf.Write(data)
	u.buf.WriteString("\nendstream\nendobj\n")
}

// finish writes the cross-reference section and trailer and returns the
// complete document.
func (u *update) finish() []byte {
	trailer := u.trailerEntries()
	if u.xrefKind == xrefStream {
		u.finishStream(trailer)
	} else {
		u.finishTable(trailer)
	}
	return u.buf.Bytes()
}

func (u *update) trailerEntries() string {
	t := u.doc.reader.Trailer()
	self := refOf(t)
	var b strings.Builder
	fmt.Fprintf(&b, " /Root %s", refOf(t.Key("Root")))
	if info := t.Key("Info"); !info.IsNull() {
		b.WriteString(" /Info ")
		writeValue(&b, info, self)
	}
	if id := t.Key("ID"); !id.IsNull() {
		b.WriteString(" /ID ")
		writeValue(&b, id, self)
	}
	fmt.Fprintf(&b, " /Prev %d", u.prevXref)
	return b.String()
}

func (u *update) sortedIDs() []uint32 {
	ids := make([]uint32, 0, len(u.offsets))
	for id := range u.offsets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (u *update) finishTable(trailer string) {
	start := u.buf.Len()
	u.buf.WriteString("xref\n")
	ids := u.sortedIDs()
	for i := 0; i < len(ids); {
		j := i
		for j+1 < len(ids) && ids[j+1] == ids[j]+1 {
			j++
		}
		fmt.Fprintf(&u.buf, "%d %d\n", ids[i], j-i+1)
		for k := i; k <= j; k++ {
			fmt.Fprintf(&u.buf, "%010d %05d n\r\n", u.offsets[ids[k]], u.gens[ids[k]])
		}
		i = j + 1
	}
	fmt.Fprintf(&u.buf, "trailer\n<< /Size %d%s >>\nstartxref\n%d\n%%%%EOF\n", u.next, trailer, start)
}

func (u *update) finishStream(trailer string) {
	self := u.alloc()
	start := int64(u.buf.Len())
	u.offsets[self.id] = start

	ids := u.sortedIDs()
	var index strings.Builder
	var rows bytes.Buffer
	for _, id := range ids {
		fmt.Fprintf(&index, " %d 1", id)
		row := make([]byte, 7)
		row[0] = 1
		binary.BigEndian.PutUint32(row[1:5], uint32(u.offsets[id]))
		binary.BigEndian.PutUint16(row[5:7], u.gens[id])
		rows.Write(row)
	}
	dict := fmt.Sprintf(" /Type /XRef /Size %d /W [1 4 2] /Index [%s ]%s", u.next, index.String(), trailer)
	fmt.Fprintf(&u.buf, "%d 0 obj\n<<%s /Length %d>>\nstream\n", self.id, dict, rows.Len())
	u.buf.Write(rows.Bytes())
	fmt.Fprintf(&u.buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", start)
}

// writeValue serializes v. Values living in another indirect object than
// parent are written as references.
func writeValue(b *strings.Builder, v pdf.Value, parent ref) {
	if r := refOf(v); r.id != 0 && r != parent {
		b.WriteString(r.String())
		return
	}
	switch v.Kind() {
	case pdf.Bool:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case pdf.Integer:
		b.WriteString(strconv.FormatInt(v.Int64(), 10))
	case pdf.Real:
		b.WriteString(strconv.FormatFloat(v.Float64(), 'f', -1, 64))
	case pdf.String:
		b.WriteString("<" + hex.EncodeToString([]byte(v.RawString())) + ">")
	case pdf.Name:
		b.WriteString(pdfName(v.Name()))
	case pdf.Array:
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeValue(b, v.Index(i), parent)
		}
		b.WriteByte(']')
	case pdf.Dict:
		writeDict(b, v, parent, nil)
	default:
		b.WriteString("null")
	}
}

// writeDict serializes the dictionary v replacing or adding the entries of
// overrides, which hold already serialized values.
func writeDict(b *strings.Builder, v pdf.Value, parent ref, overrides map[string]string) {
	b.WriteString("<<")
	for _, k := range v.Keys() {
		if _, ok := overrides[k]; ok {
			continue
		}
		b.WriteString(" " + pdfName(k) + " ")
		writeValue(b, v.Key(k), parent)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" " + pdfName(k) + " " + overrides[k])
	}
	b.WriteString(" >>")
}

func pdfName(n string) string {
	var b strings.Builder
	b.WriteByte('/')
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c < '!' || c > '~' || strings.IndexByte("()<>[]{}/%#", c) >= 0 {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// textString encodes s as a PDF text string, using UTF-16BE when it is not
// plain ASCII.
func textString(s string) string {
	ascii := true
	for _, r := range s {
		if r > 0x7e || (r < 0x20 && r != '\n') {
			ascii = false
			break
		}
	}
	if ascii {
		return "(" + escapeLiteral(s) + ")"
	}
	var raw []byte
	raw = append(raw, 0xfe, 0xff)
	for _, u := range utf16.Encode([]rune(s)) {
		raw = append(raw, byte(u>>8), byte(u))
	}
	return "<" + strings.ToUpper(hex.EncodeToString(raw)) + ">"
}

func escapeLiteral(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`, "\r", `\r`, "\n", `\n`).Replace(s)
}

// rewritePage writes a new version of page with annots added to its
// annotation array.
func (u *update) rewritePage(page pdf.Value, annots []ref) {
	self := refOf(page)
	existing := page.Key("Annots")
	var arr strings.Builder
	arr.WriteByte('[')
	for i := 0; i < existing.Len(); i++ {
		writeValue(&arr, existing.Index(i), refOf(existing))
		arr.WriteByte(' ')
	}
	for i, a := range annots {
		if i > 0 {
			arr.WriteByte(' ')
		}
		arr.WriteString(a.String())
	}
	arr.WriteByte(']')

	var b strings.Builder
	writeDict(&b, page, self, map[string]string{"Annots": arr.String()})
	u.object(self, b.String())
}

// rewriteCatalog adds field to the interactive form, creating the form
// when the document has none, and points the catalog at the new version.
func (u *update) rewriteCatalog(field ref) {
	root := u.doc.root
	form := root.Key("AcroForm")
	fields := form.Key("Fields")

	var arr strings.Builder
	arr.WriteByte('[')
	for i := 0; i < fields.Len(); i++ {
		writeValue(&arr, fields.Index(i), refOf(fields))
		arr.WriteByte(' ')
	}
	arr.WriteString(field.String() + "]")

	formRef := u.alloc()
	var fb strings.Builder
	writeDict(&fb, form, refOf(form), map[string]string{"Fields": arr.String(), "SigFlags": "3"})
	u.object(formRef, fb.String())

	var cb strings.Builder
	writeDict(&cb, root, refOf(root), map[string]string{"AcroForm": formRef.String()})
	u.object(refOf(root), cb.String())
}
