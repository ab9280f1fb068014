// Package dbtest is a conformance suite for db.Driver implementations.
//
// A driver package runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//	    dbtest.Run(t, func(t *testing.T) db.Driver {
//	        return mydriver.Open(filepath.Join(t.TempDir(), "kcidb.db"))
//	    })
//	}
//
// The factory must return a fresh, unprovisioned driver on every call.
package dbtest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Factory opens a fresh, unprovisioned driver.
type Factory func(t *testing.T) db.Driver

// Fixture returns a document with checkout C, builds {B1, B2} of C, and
// tests {T1, T2} of B1.
func Fixture(v schema.Version) *report.Document {
	doc := report.New(v)
	doc.Add(schema.Checkout, report.Object{"id": "C", "origin": "test", "valid": true})
	doc.Add(schema.Build,
		report.Object{"id": "B1", "checkout_id": "C", "origin": "test", "architecture": "x86_64"},
		report.Object{"id": "B2", "checkout_id": "C", "origin": "test", "architecture": "arm64"},
	)
	doc.Add(schema.Test,
		report.Object{"id": "T1", "build_id": "B1", "origin": "test", "status": "PASS"},
		report.Object{"id": "T2", "build_id": "B1", "origin": "test", "status": "FAIL"},
	)
	return doc
}

// IDs lists the ids in g per type name, omitting empty types.
func IDs(g *orm.Graph) map[string][]string {
	out := make(map[string][]string)
	for _, t := range schema.Types {
		if ids := g.IDs(t); len(ids) > 0 {
			out[t.Name] = ids
		}
	}
	return out
}

// Open returns a fresh driver closed at test end, initialized at version v
// unless v is zero.
func Open(t *testing.T, f Factory, v schema.Version) db.Driver {
	t.Helper()
	d := f(t)
	t.Cleanup(func() { _ = d.Close() })
	if !v.IsZero() {
		require.NoError(t, d.Init(context.Background(), v))
	}
	return d
}

// Run runs every conformance test against drivers produced by f.
func Run(t *testing.T, f Factory) {
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, f) })
	t.Run("LoadAndDump", func(t *testing.T) { testLoadAndDump(t, f) })
	t.Run("UpsertIdempotent", func(t *testing.T) { testUpsertIdempotent(t, f) })
	t.Run("UpsertMerges", func(t *testing.T) { testUpsertMerges(t, f) })
	t.Run("ReferentialIntegrity", func(t *testing.T) { testReferentialIntegrity(t, f) })
	t.Run("VersionGate", func(t *testing.T) { testVersionGate(t, f) })
	t.Run("Downgrade", func(t *testing.T) { testDowngrade(t, f) })
	t.Run("Query", func(t *testing.T) { testQuery(t, f) })
	t.Run("ConcurrentQueries", func(t *testing.T) { testConcurrentQueries(t, f) })
}

func testLifecycle(t *testing.T, f Factory) {
	ctx := context.Background()
	d := Open(t, f, schema.Version{})

	_, err := d.SchemaVersion(ctx)
	assert.True(t, errs.Is(err, errs.Uninitialized), "got %v", err)

	_, err = d.Query(ctx, orm.Query{})
	assert.True(t, errs.Is(err, errs.NotFound), "got %v", err)

	require.NoError(t, d.Init(ctx, schema.Version{}))
	v, err := d.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.Default.Current(), v)

	err = d.Init(ctx, schema.Version{})
	assert.True(t, errs.Is(err, errs.AlreadyExists), "got %v", err)

	g, err := d.Dump(ctx)
	require.NoError(t, err)
	assert.Zero(t, g.Len())

	require.NoError(t, d.Cleanup(ctx))
	require.NoError(t, d.Cleanup(ctx))
	_, err = d.SchemaVersion(ctx)
	assert.True(t, errs.Is(err, errs.Uninitialized), "got %v", err)

	require.NoError(t, d.Init(ctx, schema.V(4, 0)))
	v, err = d.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.V(4, 0), v)
}

func testLoadAndDump(t *testing.T, f Factory) {
	ctx := context.Background()
	d := Open(t, f, schema.Default.Current())

	require.NoError(t, d.Load(ctx, Fixture(schema.V(4, 0))))
	g, err := d.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"checkout": {"C"},
		"build":    {"B1", "B2"},
		"test":     {"T1", "T2"},
	}, IDs(g))

	b1, ok := g.Get(schema.Build, "B1")
	require.True(t, ok)
	assert.Equal(t, "x86_64", b1["architecture"])
	assert.Equal(t, "C", b1["checkout_id"])
	t1, _ := g.Get(schema.Test, "T1")
	assert.Equal(t, "PASS", t1["status"])
}

func testUpsertIdempotent(t *testing.T, f Factory) {
	ctx := context.Background()
	d := Open(t, f, schema.Default.Current())

	require.NoError(t, d.Load(ctx, Fixture(schema.V(4, 0))))
	once, err := d.Dump(ctx)
	require.NoError(t, err)

	require.NoError(t, d.Load(ctx, Fixture(schema.V(4, 0))))
	twice, err := d.Dump(ctx)
	require.NoError(t, err)

	v := schema.Default.Current()
	assert.Equal(t, once.Document(v), twice.Document(v))
}

func testUpsertMerges(t *testing.T, f Factory) {
	ctx := context.Background()
	d := Open(t, f, schema.Default.Current())
	require.NoError(t, d.Load(ctx, Fixture(schema.V(4, 0))))

	update := report.New(schema.V(4, 1))
	update.Add(schema.Build, report.Object{"id": "B1", "checkout_id": "C", "architecture": "riscv64", "command": "make -j8"})
	require.NoError(t, d.Load(ctx, update))

	g, err := d.Dump(ctx)
	require.NoError(t, err)
	b1, ok := g.Get(schema.Build, "B1")
	require.True(t, ok)
	assert.Equal(t, "riscv64", b1["architecture"])
	assert.Equal(t, "make -j8", b1["command"])
	assert.Equal(t, "C", b1["checkout_id"])
	assert.Equal(t, "test", b1["origin"])
	assert.Equal(t, 5, g.Len())
}

func testReferentialIntegrity(t *testing.T, f Factory) {
	ctx := context.Background()
	d := Open(t, f, schema.Default.Current())
	require.NoError(t, d.Load(ctx, Fixture(schema.V(4, 0))))

	// parent already stored
	later := report.New(schema.V(4, 0))
	later.Add(schema.Test, report.Object{"id": "T3", "build_id": "B2", "origin": "test"})
	require.NoError(t, d.Load(ctx, later))

	dangling := report.New(schema.V(4, 0))
	dangling.Add(schema.Build, report.Object{"id": "B9", "checkout_id": "nowhere", "origin": "test"})
	err := d.Load(ctx, dangling)
	assert.True(t, errs.Is(err, errs.ReferentialError), "got %v", err)

	g, err := d.Dump(ctx)
	require.NoError(t, err)
	assert.False(t, g.Has(schema.Build, "B9"))
	assert.True(t, g.Has(schema.Test, "T3"))
}

func testVersionGate(t *testing.T, f Factory) {
	ctx := context.Background()
	d := Open(t, f, schema.V(4, 1))

	doc := Fixture(schema.V(4, 2))
	err := d.Load(ctx, doc)
	assert.True(t, errs.Is(err, errs.SchemaVersionMismatch), "got %v", err)

	require.NoError(t, d.Load(ctx, Fixture(schema.V(4, 0))))

	err = d.UpgradeSchema(ctx, schema.V(5, 0))
	assert.True(t, errs.Is(err, errs.UnsupportedVersion), "got %v", err)

	require.NoError(t, d.UpgradeSchema(ctx, schema.V(4, 2)))
	v, err := d.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.V(4, 2), v)

	require.NoError(t, d.Load(ctx, doc))
	g, err := d.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, g.Len())

	require.NoError(t, d.UpgradeSchema(ctx, schema.V(4, 2)))
}

func testDowngrade(t *testing.T, f Factory) {
	ctx := context.Background()
	d := Open(t, f, schema.V(4, 2))
	require.NoError(t, d.Load(ctx, Fixture(schema.V(4, 0))))

	require.NoError(t, d.UpgradeSchema(ctx, schema.V(4, 1)))
	v, err := d.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.V(4, 1), v)

	require.NoError(t, d.UpgradeSchema(ctx, schema.V(4, 2)))
	newer := report.New(schema.V(4, 2))
	newer.Add(schema.Test, report.Object{"id": "T1", "build_id": "B1", "log_excerpt": "oops"})
	require.NoError(t, d.Load(ctx, newer))

	err = d.UpgradeSchema(ctx, schema.V(4, 1))
	assert.True(t, errs.Is(err, errs.DowngradeRequired), "got %v", err)
	v, err = d.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.V(4, 2), v)
}

func testQuery(t *testing.T, f Factory) {
	ctx := context.Background()
	d := Open(t, f, schema.Default.Current())
	require.NoError(t, d.Load(ctx, Fixture(schema.V(4, 0))))

	tests := []struct {
		patterns []string
		want     map[string][]string
	}{
		{
			patterns: []string{"checkout[C]>"},
			want:     map[string][]string{"checkout": {"C"}, "build": {"B1", "B2"}},
		},
		{
			patterns: []string{"test[T1]<"},
			want:     map[string][]string{"checkout": {"C"}, "build": {"B1"}, "test": {"T1"}},
		},
		{
			patterns: []string{"build[B2]", "test[T2]"},
			want:     map[string][]string{"build": {"B2"}, "test": {"T2"}},
		},
		{
			patterns: []string{"test%"},
			want:     map[string][]string{"test": {"T1", "T2"}},
		},
		{
			patterns: []string{"checkout[nothing]>"},
			want:     map[string][]string{},
		},
	}
	for _, tt := range tests {
		q, err := orm.ParseQuery(tt.patterns...)
		require.NoError(t, err)
		g, err := d.Query(ctx, q)
		require.NoError(t, err, tt.patterns)
		assert.Equal(t, tt.want, IDs(g), tt.patterns)
	}
}

func testConcurrentQueries(t *testing.T, f Factory) {
	ctx := context.Background()
	d := Open(t, f, schema.Default.Current())
	require.NoError(t, d.Load(ctx, Fixture(schema.V(4, 0))))

	q, err := orm.ParseQuery("checkout%>#build>")
	require.NoError(t, err)

	var wg sync.WaitGroup
	lens := make([]int, 8)
	failures := make([]error, 8)
	for i := range lens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := d.Query(ctx, q)
			failures[i] = err
			if err == nil {
				lens[i] = g.Len()
			}
		}(i)
	}
	wg.Wait()
	for i := range lens {
		require.NoError(t, failures[i])
		assert.Equal(t, 5, lens[i])
	}
}
