// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotandev/firma/internal/errors"
	"github.com/dotandev/firma/internal/format"
	"github.com/dotandev/firma/internal/logger"
	"github.com/dotandev/firma/internal/operation"
	"github.com/dotandev/firma/internal/orchestrator"
	"github.com/dotandev/firma/internal/params"
)

// signOptions are the flags shared by sign, cosign and countersign.
type signOptions struct {
	format          string
	algorithm       string
	params          []string
	paramsFile      string
	checkSignatures bool
	target          string
	alias           string
	sticky          bool
	output          string
}

func (o *signOptions) bind(cmd *cobra.Command, op operation.Kind) {
	f := cmd.Flags()
	f.StringVarP(&o.format, "format", "f", operation.FormatAuto, "Signature format (AUTO, CAdES, XAdES, PAdES, FacturaE, ODF, OOXML)")
	f.StringVarP(&o.algorithm, "algorithm", "a", "", "Signature algorithm, e.g. SHA256withRSA (default from configuration)")
	f.StringArrayVarP(&o.params, "param", "p", nil, "Extra parameter as key=value (repeatable)")
	f.StringVar(&o.paramsFile, "params-file", "", "File with extra parameters in properties syntax")
	f.BoolVar(&o.checkSignatures, "check-signatures", op != operation.Sign, "Check the signatures already present before signing")
	f.StringVar(&o.alias, "alias", "", "Keystore alias of the signing certificate")
	f.BoolVar(&o.sticky, "sticky", false, "Remember the selected certificate for later operations")
	f.StringVarP(&o.output, "output", "o", "", "Output file, - for stdout (default <name>_signed.<ext>)")
	if op == operation.CounterSign {
		f.StringVar(&o.target, "target", params.TargetLeafs, "Signatures to counter-sign: leafs or tree")
	}
}

// parseParamFlags turns key=value flags into parameters.
func parseParamFlags(values []string) (*params.Params, error) {
	p := params.New()
	for _, kv := range values {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.WrapInvalidParameters(fmt.Sprintf("--param %q is not key=value", kv))
		}
		p.Set(key, value)
	}
	return p, nil
}

// descriptor builds the request from the flags. File parameters come
// first so --param and the dedicated flags override them.
func (o *signOptions) descriptor(op operation.Kind, data []byte, headless bool) (*operation.Descriptor, error) {
	p := params.New()
	if o.paramsFile != "" {
		text, err := os.ReadFile(o.paramsFile)
		if err != nil {
			return nil, errors.WrapReadingData(err)
		}
		if p, err = params.Parse(string(text)); err != nil {
			return nil, errors.WrapInvalidParameters(err.Error())
		}
	}
	extra, err := parseParamFlags(o.params)
	if err != nil {
		return nil, err
	}
	p.Merge(extra)

	if o.checkSignatures {
		p.Set(params.CheckSignatures, "true")
	}
	if o.target != "" {
		p.Set(params.Target, o.target)
	}
	if headless {
		p.Set(params.Headless, "true")
	}

	algorithm := o.algorithm
	if algorithm == "" {
		algorithm = cfg.DefaultAlgorithm
	}
	return operation.New(op, o.format, algorithm, data, p), nil
}

// extensions maps a resolved format to the suffix of its output.
var extensions = map[string]string{
	format.CAdES:    ".csig",
	format.XAdES:    ".xsig",
	format.FacturaE: ".xsig",
	format.PAdES:    ".pdf",
}

// outputPath names the result of signing input. Formats that sign inside
// the document keep its extension.
func outputPath(input, formatID string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	if e, ok := extensions[formatID]; ok {
		ext = e
	}
	if input == "" {
		base = "signature"
	}
	return base + "_signed" + ext
}

func writeResult(cmd *cobra.Command, path string, res *operation.Result) error {
	out := res.Signature
	if res.Encrypted != "" {
		out = []byte(res.Encrypted)
	}
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(out)
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logger.Logger.Info("Signature written", "path", path, "size", len(out))
	return nil
}

func newOperationCmd(op operation.Kind, short, long, example string) *cobra.Command {
	opts := &signOptions{}
	cmd := &cobra.Command{
		Use:     op.String() + " [file]",
		GroupID: "signing",
		Short:   short,
		Long:    long,
		Example: example,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input string
			var data []byte
			if len(args) == 1 {
				input = args[0]
				var err error
				if data, err = os.ReadFile(input); err != nil {
					return errors.Classify(op.String(), errors.WrapReadingData(err))
				}
			}

			d, err := opts.descriptor(op, data, cfg.Headless)
			if err != nil {
				return errors.Classify(op.String(), err)
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return errors.Classify(op.String(), err)
			}
			defer s.Close()

			in := newInteraction(cmd, opts.alias)
			if !in.headless {
				defer followProgress(s.bus, in.renderer)()
			}

			res, err := s.orchestrator(in).Run(cmd.Context(), orchestrator.Request{
				Descriptor: d,
				Sticky:     opts.sticky,
			})
			if err != nil {
				return err
			}

			if input == "" {
				input = res.Metadata[operation.MetadataFilename]
			}
			path := opts.output
			if path == "" {
				path = outputPath(input, res.Format)
			}
			if err := writeResult(cmd, path, res); err != nil {
				return err
			}
			if path != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s signature written to %s (request %s)\n", res.Format, path, res.RequestID)
			}
			return nil
		},
	}
	opts.bind(cmd, op)
	return cmd
}

var signCmd = newOperationCmd(operation.Sign,
	"Sign a document",
	`Sign a document with a certificate from the configured keystore.

The format is detected from the content unless --format names one. Without
a file argument the document is asked for interactively.`,
	`  # Sign an XML invoice, detecting the format
  firma sign invoice.xml

  # Visible PAdES signature, asking for the area
  firma sign --format PAdES -p visibleSignature=want contract.pdf

  # Sign under the AGE 1.9 policy without any prompt
  firma sign --headless -p expPolicy=FirmaAGE --alias alice report.xml`,
)

var cosignCmd = newOperationCmd(operation.CoSign,
	"Add a parallel signature to a signed document",
	`Co-sign an existing signature container. The signatures already present are
checked first unless --check-signatures=false.`,
	`  # Co-sign a XAdES container
  firma cosign report_signed.xsig

  # Co-sign a PDF and write the result next to it
  firma cosign -o contract_cosigned.pdf contract_signed.pdf`,
)

var countersignCmd = newOperationCmd(operation.CounterSign,
	"Counter-sign the signatures of a document",
	`Counter-sign the signatures of an existing container. By default only the
leaf signatures are endorsed; --target tree endorses every signature.`,
	`  # Counter-sign the last signers
  firma countersign report_signed.xsig

  # Counter-sign every signature in the tree
  firma countersign --target tree report_signed.xsig`,
)

func init() {
	rootCmd.AddCommand(signCmd, cosignCmd, countersignCmd)
}
