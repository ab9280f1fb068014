package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/bigquery"
	"github.com/kernelci/kcidb/internal/db/bolt"
	"github.com/kernelci/kcidb/internal/db/jsonfile"
	"github.com/kernelci/kcidb/internal/db/memory"
	"github.com/kernelci/kcidb/internal/db/null"
	"github.com/kernelci/kcidb/internal/db/postgresql"
	"github.com/kernelci/kcidb/internal/db/sqlite"
	"github.com/kernelci/kcidb/internal/errs"
)

// Options tunes the drivers Open builds.
type Options struct {
	// Timeout bounds every call on a leaf driver. Zero means unbounded.
	Timeout time.Duration

	// Instrument records per-call metrics for every leaf driver.
	Instrument bool
}

// OpenSpec parses spec and opens the driver it names.
func OpenSpec(ctx context.Context, spec string, opts Options) (db.Driver, error) {
	s, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	return Open(ctx, s, opts)
}

// Open connects the driver described by s. Mux members are opened in order;
// if one fails, those already open are closed.
func Open(ctx context.Context, s Spec, opts Options) (db.Driver, error) {
	if s.Kind == Mux {
		return openMux(ctx, s, opts)
	}
	d, err := openLeaf(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s, err)
	}
	d = db.WithTimeout(d, opts.Timeout)
	if opts.Instrument {
		d = db.Instrument(d, s.Kind.String())
	}
	return d, nil
}

func openLeaf(ctx context.Context, s Spec) (db.Driver, error) {
	switch s.Kind {
	case SQLite:
		return sqlite.Open(s.Params)
	case PostgreSQL:
		return postgresql.Open(ctx, s.Params)
	case BigQuery:
		return bigquery.Open(ctx, s.Params)
	case Bolt:
		return bolt.Open(s.Params)
	case JSON:
		return jsonfile.Open(s.Params), nil
	case Memory:
		return memory.New(), nil
	case Null:
		return null.New(), nil
	default:
		return nil, errs.New(errs.UnknownDriverError, "open", "no factory for %s", s.Kind)
	}
}

// memberName labels a mux member by its spec and position, so identical
// members stay distinguishable in errors.
func memberName(i int, ms Spec) string {
	return fmt.Sprintf("%s#%d", ms, i)
}

func openMux(ctx context.Context, s Spec, opts Options) (db.Driver, error) {
	members := make([]db.Member, 0, len(s.Members))
	for i, ms := range s.Members {
		d, err := Open(ctx, ms, opts)
		if err != nil {
			var closeErrs []error
			for _, m := range members {
				closeErrs = append(closeErrs, m.Driver.Close())
			}
			return nil, errors.Join(append([]error{err}, closeErrs...)...)
		}
		members = append(members, db.Member{Name: memberName(i, ms), Driver: d})
	}
	return db.NewMux(members...)
}
