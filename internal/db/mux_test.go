package db_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/dbtest"
	"github.com/kernelci/kcidb/internal/db/memory"
	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// faulty wraps a driver, failing selected operations.
type faulty struct {
	db.Driver
	failLoad bool
	readable bool
	closed   atomic.Bool
	loads    atomic.Int32
}

func (f *faulty) Load(ctx context.Context, doc *report.Document) error {
	f.loads.Add(1)
	if f.failLoad {
		return errs.New(errs.ConnectionError, "load", "backend unreachable")
	}
	return f.Driver.Load(ctx, doc)
}

func (f *faulty) Capabilities() db.Capabilities {
	return db.Capabilities{Read: f.readable, Write: true}
}

func (f *faulty) Close() error {
	f.closed.Store(true)
	return f.Driver.Close()
}

func newMux(t *testing.T, members ...db.Member) *db.Mux {
	t.Helper()
	m, err := db.NewMux(members...)
	require.NoError(t, err)
	return m
}

func TestMuxConformance(t *testing.T) {
	dbtest.Run(t, func(*testing.T) db.Driver {
		m, _ := db.NewMux(
			db.Member{Name: "primary", Driver: memory.New()},
			db.Member{Name: "replica", Driver: memory.New()},
		)
		return m
	})
}

func TestMuxRequiresMembers(t *testing.T) {
	_, err := db.NewMux()
	require.Error(t, err)
}

func TestMuxLoadPartialFailure(t *testing.T) {
	ctx := context.Background()
	d1 := &faulty{Driver: memory.New(), readable: true}
	d2 := &faulty{Driver: memory.New(), readable: true, failLoad: true}
	m := newMux(t, db.Member{Name: "d1", Driver: d1}, db.Member{Name: "d2", Driver: d2})
	require.NoError(t, m.Init(ctx, schema.Version{}))

	err := m.Load(ctx, dbtest.Fixture(schema.V(4, 0)))
	require.Error(t, err)

	var agg *errs.AggregateError
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, []string{"d2"}, agg.Names())
	assert.True(t, errs.Is(err, errs.ConnectionError))
	assert.Contains(t, err.Error(), "d2")
	assert.NotContains(t, err.Error(), "d1")
	assert.Equal(t, int32(1), d1.loads.Load())
	assert.Equal(t, int32(1), d2.loads.Load())

	g, err := d1.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, g.Len())
}

func TestMuxFanOutAttemptsEveryMember(t *testing.T) {
	ctx := context.Background()
	a, b, c := memory.New(), memory.New(), memory.New()
	require.NoError(t, b.Init(ctx, schema.Version{}))
	m := newMux(t, db.Member{Name: "a", Driver: a}, db.Member{Name: "b", Driver: b}, db.Member{Name: "c", Driver: c})

	err := m.Init(ctx, schema.Version{})
	var agg *errs.AggregateError
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, []string{"b"}, agg.Names())
	assert.True(t, errs.Is(err, errs.AlreadyExists))

	for _, d := range []db.Driver{a, c} {
		_, err := d.SchemaVersion(ctx)
		require.NoError(t, err)
	}
}

func TestMuxReadRouting(t *testing.T) {
	ctx := context.Background()
	writeOnly := &faulty{Driver: memory.New()}
	readable := &faulty{Driver: memory.New(), readable: true}
	m := newMux(t, db.Member{Name: "sink", Driver: writeOnly}, db.Member{Name: "store", Driver: readable})
	require.NoError(t, m.Init(ctx, schema.Version{}))

	// Give the write-only member different contents so the source is visible.
	require.NoError(t, readable.Load(ctx, dbtest.Fixture(schema.V(4, 0))))

	q, err := orm.ParseQuery("checkout[C]>")
	require.NoError(t, err)
	g, err := m.Query(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"checkout": {"C"}, "build": {"B1", "B2"}}, dbtest.IDs(g))

	g, err = m.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, g.Len())

	assert.Equal(t, db.ReadWrite, m.Capabilities())
}

func TestMuxNoReader(t *testing.T) {
	m := newMux(t, db.Member{Name: "sink", Driver: &faulty{Driver: memory.New()}})

	_, err := m.Query(context.Background(), orm.Query{})
	assert.True(t, errs.Is(err, errs.UnsupportedOperation))
	_, err = m.Dump(context.Background())
	assert.True(t, errs.Is(err, errs.UnsupportedOperation))
	assert.Equal(t, db.Capabilities{Write: true}, m.Capabilities())
}

func TestMuxSchemaVersionFromFirstMember(t *testing.T) {
	ctx := context.Background()
	first, second := memory.New(), memory.New()
	require.NoError(t, first.Init(ctx, schema.V(4, 0)))
	require.NoError(t, second.Init(ctx, schema.V(4, 2)))
	m := newMux(t, db.Member{Name: "first", Driver: first}, db.Member{Name: "second", Driver: second})

	v, err := m.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.V(4, 0), v)
}

func TestNestedMux(t *testing.T) {
	ctx := context.Background()
	leaf := &faulty{Driver: memory.New(), readable: true}
	broken := &faulty{Driver: memory.New(), readable: true, failLoad: true}
	inner := newMux(t, db.Member{Name: "leaf", Driver: leaf}, db.Member{Name: "broken", Driver: broken})
	other := memory.New()
	outer := newMux(t, db.Member{Name: "inner", Driver: inner}, db.Member{Name: "other", Driver: other})
	require.NoError(t, outer.Init(ctx, schema.Version{}))

	err := outer.Load(ctx, dbtest.Fixture(schema.V(4, 0)))
	var agg *errs.AggregateError
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, []string{"inner"}, agg.Names())
	assert.Contains(t, err.Error(), "broken")

	g, err := other.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, g.Len())

	require.NoError(t, outer.Close())
	assert.True(t, leaf.closed.Load())
	assert.True(t, broken.closed.Load())
}

// slow blocks until its context ends.
type slow struct{ db.Driver }

func (s slow) Load(ctx context.Context, _ *report.Document) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()
	base := memory.New()
	require.NoError(t, base.Init(ctx, schema.Version{}))

	d := db.WithTimeout(slow{base}, 10*time.Millisecond)
	err := d.Load(ctx, dbtest.Fixture(schema.V(4, 0)))
	assert.True(t, errs.Is(err, errs.Timeout), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := d.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.Default.Current(), v)

	assert.Same(t, base, db.WithTimeout(base, 0))
}

func TestMuxTimeoutIsMemberFailure(t *testing.T) {
	ctx := context.Background()
	fast := memory.New()
	base := memory.New()
	m := newMux(t,
		db.Member{Name: "fast", Driver: fast},
		db.Member{Name: "slow", Driver: db.WithTimeout(slow{base}, 10*time.Millisecond)},
	)
	require.NoError(t, m.Init(ctx, schema.Version{}))

	err := m.Load(ctx, dbtest.Fixture(schema.V(4, 0)))
	var agg *errs.AggregateError
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, []string{"slow"}, agg.Names())
	assert.True(t, errs.Is(err, errs.Timeout))
}
