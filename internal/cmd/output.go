// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"sigs.k8s.io/yaml"

	"github.com/dotandev/firma/internal/analyzer"
	"github.com/dotandev/firma/internal/history"
	"github.com/dotandev/firma/internal/keystore"
)

// Output formats accepted by -o.
const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

var outputFormats = []string{OutputTable, OutputJSON, OutputYAML}

// encode writes v as JSON or YAML, or calls table for the table format.
func encode(w io.Writer, output string, v any, table func() string) error {
	var data []byte
	var err error
	switch output {
	case OutputJSON:
		data, err = json.MarshalIndent(v, "", "  ")
		data = append(data, '\n')
	case OutputYAML:
		data, err = yaml.Marshal(v)
	case OutputTable, "":
		data = []byte(table() + "\n")
	default:
		err = fmt.Errorf("unknown output format: %q (want one of %s)", output, strings.Join(outputFormats, ", "))
	}
	if err != nil {
		return fmt.Errorf("encoding output as %q failed: %w", output, err)
	}
	_, err = w.Write(data)
	return err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// tableStyle is the light style with footers printed as written; the
// default upper-cases them.
func tableStyle() table.Style {
	style := table.StyleLight
	style.Format.Footer = text.FormatDefault
	return style
}

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(header)
	t.SetStyle(tableStyle())
	return t
}

// reportTable lists the signers of a report, counter-signatures indented
// under the signature they endorse.
func reportTable(r *analyzer.Report) string {
	t := newTable(table.Row{"Signer", "Issuer", "Profile", "Algorithm", "Signing time", "Validity"})
	var walk func(nodes []*analyzer.SignerNode, depth int)
	walk = func(nodes []*analyzer.SignerNode, depth int) {
		for _, node := range nodes {
			subject, issuer := "", ""
			if len(node.Signers) > 0 {
				subject, issuer = node.Signers[0].Subject, node.Signers[0].Issuer
			}
			t.AppendRow(table.Row{
				strings.Repeat("  ", depth) + subject,
				issuer,
				node.Profile,
				node.Algorithm,
				formatTime(node.SigningTime),
				node.Validity.String(),
			})
			walk(node.Children, depth+1)
		}
	}
	walk(r.Signers, 0)

	title := r.Format
	if r.DataLocation != "" {
		title += " (" + string(r.DataLocation) + ")"
	}
	t.SetTitle(title)
	t.AppendFooter(table.Row{fmt.Sprintf("%d signature(s)", r.Count())})
	return t.Render()
}

// certificateRow is the serialized form of one keystore entry.
type certificateRow struct {
	Alias      string    `json:"alias"`
	Subject    string    `json:"subject"`
	Issuer     string    `json:"issuer"`
	NotAfter   time.Time `json:"notAfter"`
	Thumbprint string    `json:"thumbprint"`
}

func certificateRows(candidates []keystore.Candidate) []certificateRow {
	rows := make([]certificateRow, len(candidates))
	for i, c := range candidates {
		rows[i] = certificateRow{
			Alias:      c.Context.Alias,
			Subject:    c.Certificate.Subject.String(),
			Issuer:     c.Certificate.Issuer.String(),
			NotAfter:   c.Certificate.NotAfter,
			Thumbprint: keystore.Fingerprint(c.Certificate),
		}
	}
	return rows
}

func certificatesTable(rows []certificateRow) string {
	t := newTable(table.Row{"Alias", "Subject", "Issuer", "Expires", "Thumbprint"})
	for _, r := range rows {
		expires := formatTime(r.NotAfter)
		if time.Now().After(r.NotAfter) {
			expires = text.FgRed.Sprint(expires)
		}
		t.AppendRow(table.Row{r.Alias, r.Subject, r.Issuer, expires, r.Thumbprint})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 48},
		{Number: 3, WidthMax: 48},
	})
	return t.Render()
}

func historyTable(entries []history.Entry) string {
	t := newTable(table.Row{"Time", "Request", "Operation", "Format", "Status", "Signer", "Error"})
	for _, e := range entries {
		status := e.Status
		switch e.Status {
		case history.StatusSucceeded:
			status = text.FgGreen.Sprint(status)
		case history.StatusFailed:
			status = text.FgRed.Sprint(status)
		}
		t.AppendRow(table.Row{formatTime(e.Timestamp), e.RequestID, e.Operation, e.Format, status, e.Signer, e.ErrorKind})
	}
	return t.Render()
}

func entryTable(e *history.Entry) string {
	t := table.NewWriter()
	t.SetStyle(tableStyle())
	t.AppendRows([]table.Row{
		{"Request", e.RequestID},
		{"Time", formatTime(e.Timestamp)},
		{"Operation", e.Operation},
		{"Format", e.Format},
		{"Status", e.Status},
		{"Signer", e.Signer},
		{"File", e.Filename},
		{"Size", e.Size},
		{"Error kind", e.ErrorKind},
		{"Error", e.ErrorMsg},
	})
	return t.Render()
}
