package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// LoadResult summarizes a load command.
type LoadResult struct {
	Documents int `json:"documents"`
	Objects   int `json:"objects"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load [FILE...]",
		Short: "Load report documents into the database",
		Long: `Validate and load JSON report documents.

Each FILE, or standard input when none is given or FILE is "-", holds one
or more concatenated documents. Loading stops at the first document that
fails validation or loading.

Example:
  kcidb load report.json
  cat *.json | kcidb -d mux:sqlite:a.db null load`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, cmd, args)
		},
	}
}

func runLoad(opts *RootOptions, cmd *cobra.Command, files []string) error {
	if len(files) == 0 {
		files = []string{"-"}
	}
	validator := schema.NewJSONSchemaValidator(schema.Default)

	return opts.withDriver(cmd, func(ctx context.Context, d db.Driver) error {
		var res LoadResult
		f := opts.formatter(cmd)
		for _, name := range files {
			if err := loadFile(ctx, cmd, f, d, validator, name, &res); err != nil {
				return err
			}
		}
		return f.Result(
			fmt.Sprintf("Loaded %s documents (%s objects)", humanize.Comma(int64(res.Documents)), humanize.Comma(int64(res.Objects))),
			res,
		)
	})
}

func loadFile(ctx context.Context, cmd *cobra.Command, f *OutputFormatter, d db.Driver, v schema.Validator, name string, res *LoadResult) error {
	var r io.Reader = cmd.InOrStdin()
	if name != "-" {
		file, err := os.Open(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open input", err)
		}
		defer file.Close()
		r = file
	}

	dec := json.NewDecoder(r)
	for n := 0; ; n++ {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to decode %s document %d", name, n), err)
		}
		if err := v.Validate(raw); err != nil {
			return failure(fmt.Sprintf("invalid %s document %d", name, n), err)
		}
		doc, err := report.Parse(raw)
		if err != nil {
			return failure(fmt.Sprintf("invalid %s document %d", name, n), err)
		}
		if err := d.Load(ctx, doc); err != nil {
			return failure(fmt.Sprintf("failed to load %s document %d", name, n), err)
		}
		slog.Debug("document loaded", "input", name, "document", n, "objects", doc.Count())
		f.VerboseLog("%s document %d loaded (%d objects)", name, n, doc.Count())
		res.Documents++
		res.Objects += doc.Count()
	}
}
