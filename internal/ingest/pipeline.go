package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// batchSize caps the messages requested by one Pull.
const batchSize = 16

// Options bounds a pipeline run.
type Options struct {
	// Timeout bounds the time spent waiting for messages. Zero waits
	// until the queue drains or the context ends.
	Timeout time.Duration

	// MaxMessages stops the run after this many messages. Zero means
	// unbounded.
	MaxMessages int
}

// Summary counts the outcome of a run.
type Summary struct {
	Messages int
	Loaded   int
	Failed   int
	Objects  int
	Duration time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("%s messages, %s loaded, %s failed, %s objects in %s",
		humanize.Comma(int64(s.Messages)), humanize.Comma(int64(s.Loaded)),
		humanize.Comma(int64(s.Failed)), humanize.Comma(int64(s.Objects)),
		s.Duration.Round(time.Millisecond))
}

// Pipeline validates each pulled document and loads it into Driver.
type Pipeline struct {
	Driver    db.Driver
	Validator schema.Validator

	// Progress, if set, is called after each message with its object
	// count or the error that rejected it.
	Progress func(m Message, objects int, err error)
}

// NewPipeline returns a pipeline validating against the default registry.
func NewPipeline(d db.Driver) *Pipeline {
	return &Pipeline{Driver: d, Validator: schema.NewJSONSchemaValidator(schema.Default)}
}

// Run pulls messages from sub until it drains, the timeout passes, or
// MaxMessages were processed. Each message is acked after a successful
// load and nacked otherwise; a failed message does not stop the run.
// Run returns an error only when pulling fails.
func (p *Pipeline) Run(ctx context.Context, sub Subscriber, opts Options) (Summary, error) {
	start := time.Now()
	var sum Summary

	pullCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		pullCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	for opts.MaxMessages == 0 || sum.Messages < opts.MaxMessages {
		n := batchSize
		if opts.MaxMessages > 0 {
			n = min(n, opts.MaxMessages-sum.Messages)
		}
		msgs, err := sub.Pull(pullCtx, n)
		for _, m := range msgs {
			sum.Messages++
			objects, loadErr := p.process(ctx, m)
			if p.Progress != nil {
				p.Progress(m, objects, loadErr)
			}
			if loadErr != nil {
				sum.Failed++
				if err := sub.Nack(ctx, m.ID); err != nil {
					slog.Warn("nack failed", "message", m.ID, "error", err)
				}
				continue
			}
			sum.Loaded++
			sum.Objects += objects
			if err := sub.Ack(ctx, m.ID); err != nil {
				slog.Warn("ack failed", "message", m.ID, "error", err)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || (pullCtx.Err() != nil && ctx.Err() == nil) {
				break
			}
			sum.Duration = time.Since(start)
			return sum, fmt.Errorf("pull messages: %w", err)
		}
	}

	sum.Duration = time.Since(start)
	slog.Info("ingest finished", "messages", sum.Messages, "loaded", sum.Loaded, "failed", sum.Failed, "objects", sum.Objects)
	return sum, nil
}

// process validates and loads one message, returning its object count.
func (p *Pipeline) process(ctx context.Context, m Message) (int, error) {
	loadID := uuid.Must(uuid.NewV7()).String()
	log := slog.With("load_id", loadID, "message", m.ID)

	if p.Validator != nil {
		if err := p.Validator.Validate(m.Data); err != nil {
			log.Warn("invalid report", "error", err)
			return 0, err
		}
	}
	doc, err := report.Parse(m.Data)
	if err != nil {
		log.Warn("undecodable report", "error", err)
		return 0, err
	}
	if err := p.Driver.Load(ctx, doc); err != nil {
		log.Warn("load failed", "error", err)
		return 0, err
	}
	log.Info("report loaded", "version", doc.Version, "objects", doc.Count())
	return doc.Count(), nil
}
