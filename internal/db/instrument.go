package db

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

type driverMetrics struct {
	once sync.Once

	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	objects  *prometheus.CounterVec
}

var dbMetrics driverMetrics

func (m *driverMetrics) init() {
	m.once.Do(func() {
		m.calls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kcidb_db_calls_total",
			Help: "Driver calls by operation and outcome code.",
		}, []string{"driver", "op", "code"})
		m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kcidb_db_call_seconds",
			Help:    "Driver call duration.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"driver", "op"})
		m.objects = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kcidb_db_objects_total",
			Help: "Objects loaded or returned, by direction.",
		}, []string{"driver", "direction"})
		prometheus.MustRegister(m.calls, m.duration, m.objects)
	})
}

// Instrument records call counts, durations and object counts for d under
// the given driver label.
func Instrument(d Driver, name string) Driver {
	dbMetrics.init()
	return &instrumented{next: d, name: name}
}

type instrumented struct {
	next Driver
	name string
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	code := "ok"
	if err != nil {
		code = string(errs.CodeOf(err))
		if code == "" {
			code = "error"
		}
	}
	dbMetrics.calls.WithLabelValues(i.name, op, code).Inc()
	dbMetrics.duration.WithLabelValues(i.name, op).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Init(ctx context.Context, version schema.Version) (err error) {
	defer func(start time.Time) { i.observe("init", start, err) }(time.Now())
	return i.next.Init(ctx, version)
}

func (i *instrumented) Cleanup(ctx context.Context) (err error) {
	defer func(start time.Time) { i.observe("cleanup", start, err) }(time.Now())
	return i.next.Cleanup(ctx)
}

func (i *instrumented) SchemaVersion(ctx context.Context) (v schema.Version, err error) {
	defer func(start time.Time) { i.observe("schema_version", start, err) }(time.Now())
	return i.next.SchemaVersion(ctx)
}

func (i *instrumented) UpgradeSchema(ctx context.Context, target schema.Version) (err error) {
	defer func(start time.Time) { i.observe("upgrade_schema", start, err) }(time.Now())
	return i.next.UpgradeSchema(ctx, target)
}

func (i *instrumented) Load(ctx context.Context, doc *report.Document) (err error) {
	defer func(start time.Time) { i.observe("load", start, err) }(time.Now())
	if err = i.next.Load(ctx, doc); err == nil {
		dbMetrics.objects.WithLabelValues(i.name, "loaded").Add(float64(doc.Count()))
	}
	return err
}

func (i *instrumented) Query(ctx context.Context, q orm.Query) (g *orm.Graph, err error) {
	defer func(start time.Time) { i.observe("query", start, err) }(time.Now())
	if g, err = i.next.Query(ctx, q); err == nil {
		dbMetrics.objects.WithLabelValues(i.name, "returned").Add(float64(g.Len()))
	}
	return g, err
}

func (i *instrumented) Dump(ctx context.Context) (g *orm.Graph, err error) {
	defer func(start time.Time) { i.observe("dump", start, err) }(time.Now())
	if g, err = i.next.Dump(ctx); err == nil {
		dbMetrics.objects.WithLabelValues(i.name, "returned").Add(float64(g.Len()))
	}
	return g, err
}

func (i *instrumented) Capabilities() Capabilities { return i.next.Capabilities() }

func (i *instrumented) Close() error { return i.next.Close() }
