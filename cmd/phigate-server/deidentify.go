package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/phigate/phigate/internal/config"
	"github.com/phigate/phigate/internal/platform/deid"
)

func deidentifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deidentify",
		Short: "Redact PHI from an extracted JSON document",
		Long: "Reads an extracted document, writes the redacted document, and prints\n" +
			"the inventory of PHI values found. No profile check is made.",
		RunE: func(cmd *cobra.Command, args []string) error {
			inPath, _ := cmd.Flags().GetString("in")
			outPath, _ := cmd.Flags().GetString("out")
			format, _ := cmd.Flags().GetString("format")
			patternsOnly, _ := cmd.Flags().GetBool("no-recognizer")
			if format != "json" && format != "yaml" {
				return fmt.Errorf("--format must be json or yaml, got %q", format)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if patternsOnly {
				cfg.Recognizer = config.RecognizerNone
			}
			logger := newLogger(cfg).Output(zerolog.ConsoleWriter{Out: os.Stderr})

			rec, err := newRecognizer(cfg, logger)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if lc, ok := rec.(deid.Lifecycle); ok {
				if err := lc.Load(ctx); err != nil {
					return err
				}
				defer lc.Close()
			}
			walker, err := newWalker(cfg, rec)
			if err != nil {
				return err
			}

			in := io.Reader(os.Stdin)
			if inPath != "-" {
				f, err := os.Open(inPath)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			// The report goes to stdout unless the document does.
			out, reportTo := io.Writer(os.Stdout), io.Writer(os.Stderr)
			if outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out, reportTo = f, os.Stdout
			}

			rep, err := deidentify(ctx, walker, in, out)
			if err != nil {
				return err
			}
			rep.Input, rep.Output = inPath, outPath
			return writeReport(reportTo, rep, format)
		},
	}
	cmd.Flags().String("in", "-", "Extracted JSON document (- for stdin)")
	cmd.Flags().String("out", "-", "Where to write the redacted document (- for stdout)")
	cmd.Flags().String("format", "json", "Report format: json or yaml")
	cmd.Flags().Bool("no-recognizer", false, "Run pattern rules only, without entity recognition (development only)")
	return cmd
}

// report summarizes one offline run. The inventory holds literal PHI values,
// so it is printed locally and never sent anywhere.
type report struct {
	Input      string          `json:"input" yaml:"input"`
	Output     string          `json:"output" yaml:"output"`
	Units      int             `json:"units" yaml:"units"`
	Detections map[string]int  `json:"detections" yaml:"detections"`
	Inventory  *deid.Inventory `json:"inventory" yaml:"inventory"`
}

// deidentify reads one document from in, writes its redacted form to out as
// indented JSON, and returns the run's report.
func deidentify(ctx context.Context, walker *deid.Walker, in io.Reader, out io.Writer) (*report, error) {
	doc, err := deid.ReadDocument(in)
	if err != nil {
		return nil, err
	}
	res, err := walker.Walk(ctx, doc)
	if err != nil {
		return nil, err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res.Document); err != nil {
		return nil, fmt.Errorf("write document: %w", err)
	}

	detections := make(map[string]int, len(res.Detections))
	for c, n := range res.Detections {
		detections[string(c)] = n
	}
	return &report{Units: res.Units, Detections: detections, Inventory: res.Inventory}, nil
}

func writeReport(w io.Writer, rep *report, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
