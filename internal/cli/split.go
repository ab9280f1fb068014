package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kernelci/kcidb/internal/report"
)

// recordSeparator starts every report in --seq output (RFC 7464).
const recordSeparator = '\x1e'

// SplitOptions holds the report-stream output flags shared by query and
// dump.
type SplitOptions struct {
	ObjectsPerReport int
	Indent           int
	Seq              bool
}

func addSplitFlags(cmd *cobra.Command, opts *SplitOptions) {
	cmd.Flags().IntVarP(&opts.ObjectsPerReport, "objects-per-report", "o", 0, "put at most NUMBER objects into each output report, all if zero")
	cmd.Flags().IntVar(&opts.Indent, "indent", 2, "indent JSON output by NUMBER spaces, one line per report if zero")
	cmd.Flags().BoolVar(&opts.Seq, "seq", false, "prefix each report with the RS character (RFC 7464 JSON text sequence)")
}

func (o *SplitOptions) validate() error {
	if o.ObjectsPerReport < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --objects-per-report %d: must not be negative", o.ObjectsPerReport))
	}
	if o.Indent < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --indent %d: must not be negative", o.Indent))
	}
	return nil
}

// writeReports prints docs as a stream of JSON reports.
func (o *SplitOptions) writeReports(w io.Writer, docs []*report.Document) error {
	for _, doc := range docs {
		if o.Seq {
			if _, err := w.Write([]byte{recordSeparator}); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
		}
		enc := json.NewEncoder(w)
		if o.Indent > 0 {
			enc.SetIndent("", strings.Repeat(" ", o.Indent))
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}
