package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/schema"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Checkouts   []string
	Builds      []string
	Tests       []string
	Parents     bool
	Children    bool
	Limits      []string
	PatternHelp bool
	Split       SplitOptions
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query [PATTERN...]",
		Short: "Query objects and print them as a report document",
		Long: `Select objects with patterns and object ids, and print the result as
report documents. See --pattern-help for the pattern syntax. The result is
one document unless --objects-per-report splits it.

Example:
  kcidb query 'checkout[redhat:123]>#build>'
  kcidb query -c redhat:123 --children
  kcidb query 'test%' --limit test=10 -o 100 --seq`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd, args)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Checkouts, "checkout-id", "c", nil, "select a checkout by id (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Builds, "build-id", "b", nil, "select a build by id (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Tests, "test-id", "t", nil, "select a test by id (repeatable)")
	cmd.Flags().BoolVar(&opts.Parents, "parents", false, "also select the ancestors of objects selected by id")
	cmd.Flags().BoolVar(&opts.Children, "children", false, "also select the descendants of objects selected by id")
	cmd.Flags().StringArrayVar(&opts.Limits, "limit", nil, "cap objects of TYPE fetched per step, as TYPE=N (repeatable)")
	cmd.Flags().BoolVar(&opts.PatternHelp, "pattern-help", false, "print pattern syntax help and exit")
	addSplitFlags(cmd, &opts.Split)

	return cmd
}

func runQuery(opts *QueryOptions, cmd *cobra.Command, patterns []string) error {
	if opts.PatternHelp {
		fmt.Fprint(cmd.OutOrStdout(), orm.Help)
		return nil
	}

	if err := opts.Split.validate(); err != nil {
		return err
	}
	q, err := opts.buildQuery(patterns)
	if err != nil {
		return err
	}

	return opts.withDriver(cmd, func(ctx context.Context, d db.Driver) error {
		g, err := d.Query(ctx, q)
		if err != nil {
			return failure("failed to query database", err)
		}
		return printGraph(ctx, opts.RootOptions, &opts.Split, cmd, d, g)
	})
}

func (o *QueryOptions) buildQuery(patterns []string) (orm.Query, error) {
	q, err := orm.ParseQuery(patterns...)
	if err != nil {
		return orm.Query{}, failure("invalid pattern", err)
	}
	ids := map[*schema.Type][]string{
		schema.Checkout: normalizeIDs(o.Checkouts),
		schema.Build:    normalizeIDs(o.Builds),
		schema.Test:     normalizeIDs(o.Tests),
	}
	q.Chains = append(q.Chains, orm.ChainsFromIDs(ids, o.Parents, o.Children)...)

	for _, l := range o.Limits {
		t, n, err := parseLimit(l)
		if err != nil {
			return orm.Query{}, WrapExitError(ExitCommandError, "invalid --limit", err)
		}
		if q.Limits == nil {
			q.Limits = make(map[*schema.Type]int)
		}
		q.Limits[t] = n
	}
	return q, nil
}

// normalizeIDs returns ids in NFC, the form objects are stored under.
func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = norm.NFC.String(id)
	}
	return out
}

// parseLimit parses "TYPE=N".
func parseLimit(s string) (*schema.Type, int, error) {
	name, count, ok := strings.Cut(s, "=")
	if !ok {
		return nil, 0, fmt.Errorf("%q: want TYPE=N", s)
	}
	t, ok := schema.LookupType(strings.TrimSpace(name))
	if !ok {
		return nil, 0, fmt.Errorf("%q: unknown object type %q", s, name)
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n < 0 {
		return nil, 0, fmt.Errorf("%q: limit must be a non-negative integer", s)
	}
	return t, n, nil
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(opts *RootOptions) *cobra.Command {
	var split SplitOptions

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the whole database as a report document",
		Long: `Print every object in the database as report documents.

Example:
  kcidb dump
  kcidb dump --objects-per-report 1000 --indent 0 --seq`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := split.validate(); err != nil {
				return err
			}
			return opts.withDriver(cmd, func(ctx context.Context, d db.Driver) error {
				g, err := d.Dump(ctx)
				if err != nil {
					return failure("failed to dump database", err)
				}
				return printGraph(ctx, opts, &split, cmd, d, g)
			})
		},
	}

	addSplitFlags(cmd, &split)
	return cmd
}

// printGraph prints g as documents at the database's schema version, split
// per the report-stream flags. Text output is the raw report stream; json
// and yaml wrap a single document, or the list of documents when split.
func printGraph(ctx context.Context, opts *RootOptions, split *SplitOptions, cmd *cobra.Command, d db.Driver, g *orm.Graph) error {
	v, err := d.SchemaVersion(ctx)
	if err != nil {
		return failure("failed to read schema version", err)
	}
	docs := g.Document(v).Split(split.ObjectsPerReport)
	f := opts.formatter(cmd)
	switch {
	case f.Format == "text":
		return split.writeReports(f.Writer, docs)
	case split.ObjectsPerReport > 0:
		return f.Success(docs)
	default:
		return f.Success(docs[0])
	}
}
