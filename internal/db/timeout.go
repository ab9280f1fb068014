package db

import (
	"context"
	"errors"
	"time"

	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// WithTimeout bounds every call on d by timeout. A zero or negative timeout
// returns d unchanged. Expiry surfaces as an errs.Timeout error.
func WithTimeout(d Driver, timeout time.Duration) Driver {
	if timeout <= 0 {
		return d
	}
	return &timeoutDriver{next: d, timeout: timeout}
}

type timeoutDriver struct {
	next    Driver
	timeout time.Duration
}

func (t *timeoutDriver) do(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errs.Is(err, errs.Timeout) {
		return errs.Wrap(errs.Timeout, op, err)
	}
	return err
}

func (t *timeoutDriver) Init(ctx context.Context, version schema.Version) error {
	return t.do(ctx, "init", func(ctx context.Context) error { return t.next.Init(ctx, version) })
}

func (t *timeoutDriver) Cleanup(ctx context.Context) error {
	return t.do(ctx, "cleanup", t.next.Cleanup)
}

func (t *timeoutDriver) SchemaVersion(ctx context.Context) (schema.Version, error) {
	var v schema.Version
	err := t.do(ctx, "schema version", func(ctx context.Context) error {
		var err error
		v, err = t.next.SchemaVersion(ctx)
		return err
	})
	return v, err
}

func (t *timeoutDriver) UpgradeSchema(ctx context.Context, target schema.Version) error {
	return t.do(ctx, "upgrade schema", func(ctx context.Context) error { return t.next.UpgradeSchema(ctx, target) })
}

func (t *timeoutDriver) Load(ctx context.Context, doc *report.Document) error {
	return t.do(ctx, "load", func(ctx context.Context) error { return t.next.Load(ctx, doc) })
}

func (t *timeoutDriver) Query(ctx context.Context, q orm.Query) (*orm.Graph, error) {
	var g *orm.Graph
	err := t.do(ctx, "query", func(ctx context.Context) error {
		var err error
		g, err = t.next.Query(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (t *timeoutDriver) Dump(ctx context.Context) (*orm.Graph, error) {
	var g *orm.Graph
	err := t.do(ctx, "dump", func(ctx context.Context) error {
		var err error
		g, err = t.next.Dump(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (t *timeoutDriver) Capabilities() Capabilities { return t.next.Capabilities() }

func (t *timeoutDriver) Close() error { return t.next.Close() }
