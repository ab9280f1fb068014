package cli

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/ingest"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Timeout  string
	Messages string
}

// IngestResult summarizes an ingest run.
type IngestResult struct {
	Messages int     `json:"messages"`
	Loaded   int     `json:"loaded"`
	Failed   int     `json:"failed"`
	Objects  int     `json:"objects"`
	Seconds  float64 `json:"seconds"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a stream of report messages from standard input",
		Long: `Pull report documents from standard input as queue messages, validate
and load each one. Invalid or unloadable messages are rejected and the
stream continues. The command fails if any message was rejected.

Example:
  kcidb ingest --messages inf < reports.json
  kcidb ingest --timeout 30 -m 100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Timeout, "timeout", "", `wait at most SECONDS for messages, or "inf" (default from configuration)`)
	cmd.Flags().StringVarP(&opts.Messages, "messages", "m", "", `process at most NUMBER messages, or "inf" (default from configuration)`)

	return cmd
}

func runIngest(opts *IngestOptions, cmd *cobra.Command) error {
	cfg, err := opts.Settings()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	runOpts := ingest.Options{Timeout: cfg.Ingest.Timeout, MaxMessages: cfg.Ingest.Messages}
	if opts.Timeout != "" {
		if runOpts.Timeout, err = parseSeconds(opts.Timeout); err != nil {
			return WrapExitError(ExitCommandError, "invalid --timeout", err)
		}
	}
	pull := true
	if opts.Messages != "" {
		n, err := parseCount(opts.Messages)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --messages", err)
		}
		switch {
		case n < 0:
			runOpts.MaxMessages = 0
		case n == 0:
			pull = false
		default:
			runOpts.MaxMessages = n
		}
	}

	return opts.withDriver(cmd, func(ctx context.Context, d db.Driver) error {
		var sum ingest.Summary
		if pull {
			sub := ingest.NewStreamSubscriber(cmd.InOrStdin())
			defer sub.Close()
			f := opts.formatter(cmd)
			p := ingest.NewPipeline(d)
			p.Progress = func(m ingest.Message, objects int, err error) {
				if err != nil {
					f.VerboseLog("message %s rejected: %v", m.ID, err)
					return
				}
				f.VerboseLog("message %s loaded (%d objects)", m.ID, objects)
			}
			var err error
			if sum, err = p.Run(ctx, sub, runOpts); err != nil {
				return failure("ingest failed", err)
			}
		}
		res := IngestResult{
			Messages: sum.Messages,
			Loaded:   sum.Loaded,
			Failed:   sum.Failed,
			Objects:  sum.Objects,
			Seconds:  sum.Duration.Seconds(),
		}
		if err := opts.formatter(cmd).Result("Ingested "+sum.String(), res); err != nil {
			return err
		}
		if sum.Failed > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d of %d messages rejected", sum.Failed, sum.Messages))
		}
		return nil
	})
}

// parseSeconds parses a positive number of seconds or "inf", which maps to
// zero: no timeout.
func parseSeconds(s string) (time.Duration, error) {
	if s == "inf" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q: want positive SECONDS or \"inf\"", s)
	}
	return time.Duration(f * float64(time.Second)), nil
}

// parseCount parses a non-negative count or "inf", which maps to -1.
func parseCount(s string) (int, error) {
	if s == "inf" {
		return -1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q: want a non-negative NUMBER or \"inf\"", s)
	}
	return n, nil
}
