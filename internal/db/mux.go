package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Member is a named Mux member.
type Member struct {
	Name   string
	Driver Driver
}

// Mux fans writes out to every member and routes reads to the first member
// able to read. A Mux owns its members and closes them on Close.
type Mux struct {
	members []Member
}

// NewMux returns a Mux over members, in order. At least one member is
// required.
func NewMux(members ...Member) (*Mux, error) {
	if len(members) == 0 {
		return nil, errors.New("mux needs at least one member")
	}
	return &Mux{members: members}, nil
}

// Members returns the members in configured order.
func (m *Mux) Members() []Member {
	return append([]Member(nil), m.members...)
}

// fanOut runs fn once per member concurrently and waits for all of them.
// Failures are reported in member order.
func (m *Mux) fanOut(ctx context.Context, op string, fn func(context.Context, Driver) error) error {
	results := make([]error, len(m.members))
	var wg sync.WaitGroup
	for i, mem := range m.members {
		wg.Add(1)
		go func(i int, d Driver) {
			defer wg.Done()
			results[i] = fn(ctx, d)
		}(i, mem.Driver)
	}
	wg.Wait()

	var failures []errs.Failure
	for i, err := range results {
		if err == nil {
			continue
		}
		slog.Warn("mux member failed", "op", op, "driver", m.members[i].Name, "error", err)
		failures = append(failures, errs.Failure{Name: m.members[i].Name, Err: err})
	}
	if len(failures) == 0 {
		return nil
	}
	return &errs.AggregateError{Op: op, Failures: failures}
}

func (m *Mux) Init(ctx context.Context, version schema.Version) error {
	return m.fanOut(ctx, "init", func(ctx context.Context, d Driver) error {
		return d.Init(ctx, version)
	})
}

func (m *Mux) Cleanup(ctx context.Context) error {
	return m.fanOut(ctx, "cleanup", func(ctx context.Context, d Driver) error {
		return d.Cleanup(ctx)
	})
}

// SchemaVersion returns the first member's version. Members are not
// required to agree.
func (m *Mux) SchemaVersion(ctx context.Context) (schema.Version, error) {
	v, err := m.members[0].Driver.SchemaVersion(ctx)
	if err != nil {
		return schema.Version{}, fmt.Errorf("%s: %w", m.members[0].Name, err)
	}
	return v, nil
}

func (m *Mux) UpgradeSchema(ctx context.Context, target schema.Version) error {
	return m.fanOut(ctx, "upgrade schema", func(ctx context.Context, d Driver) error {
		return d.UpgradeSchema(ctx, target)
	})
}

// Load gives every member the whole document. A partial failure leaves
// members in different states and is reported as an AggregateError.
func (m *Mux) Load(ctx context.Context, doc *report.Document) error {
	return m.fanOut(ctx, "load", func(ctx context.Context, d Driver) error {
		return d.Load(ctx, doc)
	})
}

func (m *Mux) Query(ctx context.Context, q orm.Query) (*orm.Graph, error) {
	d, err := m.reader("query")
	if err != nil {
		return nil, err
	}
	return d.Query(ctx, q)
}

func (m *Mux) Dump(ctx context.Context) (*orm.Graph, error) {
	d, err := m.reader("dump")
	if err != nil {
		return nil, err
	}
	return d.Dump(ctx)
}

// reader returns the first member with read capability.
func (m *Mux) reader(op string) (Driver, error) {
	for _, mem := range m.members {
		if mem.Driver.Capabilities().Read {
			return mem.Driver, nil
		}
	}
	return nil, errs.New(errs.UnsupportedOperation, op, "no mux member can read")
}

func (m *Mux) Capabilities() Capabilities {
	var c Capabilities
	for _, mem := range m.members {
		c = c.Union(mem.Driver.Capabilities())
	}
	return c
}

// Close closes every member, even after a failure.
func (m *Mux) Close() error {
	var failures []errs.Failure
	for _, mem := range m.members {
		if err := mem.Driver.Close(); err != nil {
			failures = append(failures, errs.Failure{Name: mem.Name, Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &errs.AggregateError{Op: "close", Failures: failures}
}
