// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/orchestrator"
	"github.com/dotandev/firma/internal/params"
)

// BatchFile is the YAML description of a batch.
type BatchFile struct {
	ID            string      `json:"id,omitempty"`
	ErrorsAllowed bool        `json:"errorsAllowed,omitempty"`
	ResetSticky   bool        `json:"resetSticky,omitempty"`
	Items         []BatchItem `json:"items"`
}

// BatchItem is one document of a batch. Paths are relative to the batch
// file.
type BatchItem struct {
	File      string            `json:"file"`
	Operation string            `json:"operation,omitempty"`
	Format    string            `json:"format,omitempty"`
	Algorithm string            `json:"algorithm,omitempty"`
	Output    string            `json:"output,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// loadBatchFile reads path and resolves the item paths against its
// directory.
func loadBatchFile(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapReadingData(err)
	}
	var bf BatchFile
	if err := yaml.UnmarshalStrict(data, &bf); err != nil {
		return nil, errors.WrapInvalidParameters(fmt.Sprintf("%s: %v", path, err))
	}
	if len(bf.Items) == 0 {
		return nil, errors.WrapInvalidParameters(path + " has no items")
	}
	dir := filepath.Dir(path)
	for i := range bf.Items {
		item := &bf.Items[i]
		if item.File == "" {
			return nil, errors.WrapInvalidParameters(fmt.Sprintf("item %d has no file", i+1))
		}
		if !filepath.IsAbs(item.File) {
			item.File = filepath.Join(dir, item.File)
		}
		if item.Output != "" && item.Output != "-" && !filepath.IsAbs(item.Output) {
			item.Output = filepath.Join(dir, item.Output)
		}
	}
	return &bf, nil
}

// batch reads the documents and builds the orchestrator batch.
func (bf *BatchFile) batch(defaultAlgorithm string, headless bool) (orchestrator.Batch, error) {
	b := orchestrator.Batch{ID: bf.ID, ErrorsAllowed: bf.ErrorsAllowed, ResetSticky: bf.ResetSticky}
	for _, item := range bf.Items {
		op, err := operation.ParseKind(item.Operation)
		if err != nil {
			return orchestrator.Batch{}, err
		}
		data, err := os.ReadFile(item.File)
		if err != nil {
			return orchestrator.Batch{}, errors.WrapReadingData(err)
		}
		p := params.FromMap(item.Params)
		if headless {
			p.Set(params.Headless, "true")
		}
		algorithm := item.Algorithm
		if algorithm == "" {
			algorithm = defaultAlgorithm
		}
		b.Items = append(b.Items, operation.New(op, item.Format, algorithm, data, p))
	}
	return b, nil
}

func renderBatch(bf *BatchFile, out *orchestrator.BatchResult, paths []string) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "File", "Status", "Output"})
	for i, item := range out.Items {
		var status, written string
		switch {
		case item.Skipped:
			status = "skipped"
		case item.Err != nil:
			status = string(errors.KindOf(item.Err))
		default:
			status = "signed (" + item.Result.Format + ")"
			written = paths[i]
		}
		t.AppendRow(table.Row{i + 1, filepath.Base(bf.Items[i].File), status, written})
	}
	t.SetStyle(tableStyle())
	return t.Render()
}

var batchCmd = &cobra.Command{
	Use:     "batch <file.yaml>",
	GroupID: "signing",
	Short:   "Sign several documents with one certificate",
	Long: `Run the operations listed in a YAML batch file, in order, with a single
certificate selection. The first failure stops the batch unless errorsAllowed
is set; a refused mandatory visible signature always stops it.

Batch file:
  id: monthly-invoices
  errorsAllowed: true
  items:
    - file: invoice-01.xml
      format: FacturaE
    - file: contract.pdf
      params:
        visibleSignature: optional`,
	Example: `  # Run a batch
  firma batch invoices.yaml

  # Run it without prompts
  firma batch --headless --alias alice invoices.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bf, err := loadBatchFile(args[0])
		if err != nil {
			return errors.Classify("batch", err)
		}
		b, err := bf.batch(cfg.DefaultAlgorithm, cfg.Headless)
		if err != nil {
			return errors.Classify("batch", err)
		}

		s, err := openSession(cmd.Context())
		if err != nil {
			return errors.Classify("batch", err)
		}
		defer s.Close()

		in := newInteraction(cmd, batchAliasFlag)
		if !in.headless {
			defer followProgress(s.bus, in.renderer)()
		}
		out := s.orchestrator(in).RunBatch(cmd.Context(), b)

		paths := make([]string, len(out.Items))
		for i, item := range out.Items {
			if item.Result == nil {
				continue
			}
			paths[i] = bf.Items[i].Output
			if paths[i] == "" {
				paths[i] = outputPath(bf.Items[i].File, item.Result.Format)
			}
			if err := writeResult(cmd, paths[i], item.Result); err != nil {
				return err
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), renderBatch(bf, out, paths))
		if out.Err != nil {
			return out.Err
		}
		if n := out.Failed(); n > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d items failed\n", n, len(out.Items))
		}
		return nil
	},
}

var batchAliasFlag string

func init() {
	batchCmd.Flags().StringVar(&batchAliasFlag, "alias", "", "Keystore alias of the signing certificate")
	rootCmd.AddCommand(batchCmd)
}
