// Package bigquery stores reports in a Google BigQuery dataset.
//
// Tables are append-only: every load inserts a new row per object stamped
// with loaded_at, and reads keep the newest row per id. Views read the
// tables as of the timestamp taken when the view starts, so every select
// within one view sees the same snapshot. The schema version lives in a
// _meta table, newest row wins.
package bigquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/sqldb"
	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Storage implements db.Storage over one dataset.
type Storage struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	name    string
}

// ParseDataset splits a "PROJECT.DATASET" spec.
func ParseDataset(spec string) (project, dataset string, err error) {
	project, dataset, ok := strings.Cut(spec, ".")
	if !ok || project == "" || dataset == "" || strings.Contains(dataset, ".") {
		return "", "", fmt.Errorf("invalid dataset %q: want PROJECT.DATASET", spec)
	}
	return project, dataset, nil
}

// Open returns a read-write driver over the dataset named by spec.
func Open(ctx context.Context, spec string) (*db.Leaf, error) {
	s, err := NewStorage(ctx, spec)
	if err != nil {
		return nil, err
	}
	return db.NewLeaf(s, db.ReadWrite), nil
}

// NewStorage connects to BigQuery with application default credentials.
func NewStorage(ctx context.Context, spec string) (*Storage, error) {
	project, dataset, err := ParseDataset(spec)
	if err != nil {
		return nil, err
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionError, "open", err)
	}
	return &Storage{client: client, dataset: client.Dataset(dataset), name: spec}, nil
}

func (s *Storage) table(name string) string {
	return s.name + "." + name
}

func (s *Storage) Provision(ctx context.Context, v schema.Version) error {
	if _, err := s.dataset.Metadata(ctx); isNotFound(err) {
		if err := s.dataset.Create(ctx, &bigquery.DatasetMetadata{}); err != nil {
			return fmt.Errorf("create dataset %s: %w", s.name, err)
		}
	} else if err != nil {
		return errs.Wrap(errs.ConnectionError, "init", err)
	}

	if _, err := s.dataset.Table(metaTable).Metadata(ctx); err == nil {
		return errs.New(errs.AlreadyExists, "init", "dataset %s already initialized", s.name)
	} else if !isNotFound(err) {
		return fmt.Errorf("check %s: %w", metaTable, err)
	}

	for _, t := range schema.Types {
		md := &bigquery.TableMetadata{Schema: tableSchema(t, v)}
		if err := s.dataset.Table(t.Collection).Create(ctx, md); err != nil {
			return fmt.Errorf("create %s: %w", t.Collection, err)
		}
	}
	if err := s.dataset.Table(metaTable).Create(ctx, &bigquery.TableMetadata{Schema: metaSchema}); err != nil {
		return fmt.Errorf("create %s: %w", metaTable, err)
	}
	return s.writeVersion(ctx, v)
}

func (s *Storage) Teardown(ctx context.Context) error {
	names := []string{metaTable}
	for i := len(schema.Types) - 1; i >= 0; i-- {
		names = append(names, schema.Types[i].Collection)
	}
	for _, name := range names {
		if err := s.dataset.Table(name).Delete(ctx); err != nil && !isNotFound(err) {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	return nil
}

func (s *Storage) Version(ctx context.Context) (schema.Version, error) {
	if _, err := s.dataset.Table(metaTable).Metadata(ctx); isNotFound(err) {
		return schema.Version{}, errs.ErrUninitialized
	} else if err != nil {
		return schema.Version{}, fmt.Errorf("read schema version: %w", err)
	}

	q := s.client.Query(fmt.Sprintf("SELECT major, minor FROM `%s` ORDER BY %s DESC LIMIT 1", s.table(metaTable), loadedAt))
	it, err := q.Read(ctx)
	if err != nil {
		return schema.Version{}, fmt.Errorf("read schema version: %w", err)
	}
	var row struct {
		Major int64 `bigquery:"major"`
		Minor int64 `bigquery:"minor"`
	}
	if err := it.Next(&row); err == iterator.Done {
		return schema.Version{}, errs.ErrUninitialized
	} else if err != nil {
		return schema.Version{}, fmt.Errorf("read schema version: %w", err)
	}
	return schema.V(int(row.Major), int(row.Minor)), nil
}

func (s *Storage) Migrate(ctx context.Context, from, to schema.Version) error {
	for _, p := range sqldb.PromotedColumns {
		if !added(p, from, to) {
			continue
		}
		t := s.dataset.Table(p.Type.Collection)
		md, err := t.Metadata(ctx)
		if err != nil {
			return fmt.Errorf("read %s metadata: %w", p.Type.Collection, err)
		}
		update := bigquery.TableMetadataToUpdate{
			Schema: append(md.Schema, &bigquery.FieldSchema{Name: p.Field, Type: bigquery.StringFieldType}),
		}
		if _, err := t.Update(ctx, update, md.ETag); err != nil {
			return fmt.Errorf("add column %s.%s: %w", p.Type.Collection, p.Field, err)
		}
	}
	for _, stmt := range migrationSQL(s.name, from, to) {
		if err := s.exec(ctx, stmt); err != nil {
			return err
		}
	}
	return s.writeVersion(ctx, to)
}

func (s *Storage) View(ctx context.Context, fn func(db.Reader) error) error {
	v, err := s.Version(ctx)
	if err != nil {
		return err
	}
	now, err := s.now(ctx)
	if err != nil {
		return err
	}
	return fn(&txn{s: s, version: v, snapshot: now})
}

// Update runs fn without a snapshot: selects see the latest rows. Puts are
// appended as they happen, so a failing fn may leave earlier puts applied.
func (s *Storage) Update(ctx context.Context, fn func(db.Writer) error) error {
	v, err := s.Version(ctx)
	if err != nil {
		return err
	}
	return fn(&txn{s: s, version: v})
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) now(ctx context.Context) (time.Time, error) {
	it, err := s.client.Query("SELECT CURRENT_TIMESTAMP() AS now").Read(ctx)
	if err != nil {
		return time.Time{}, errs.Wrap(errs.ConnectionError, "snapshot", err)
	}
	var row struct {
		Now time.Time `bigquery:"now"`
	}
	if err := it.Next(&row); err != nil {
		return time.Time{}, fmt.Errorf("read snapshot time: %w", err)
	}
	return row.Now, nil
}

func (s *Storage) writeVersion(ctx context.Context, v schema.Version) error {
	stmt := fmt.Sprintf("INSERT INTO `%s` (major, minor, %s) VALUES (@major, @minor, CURRENT_TIMESTAMP())", s.table(metaTable), loadedAt)
	return s.exec(ctx, stmt,
		bigquery.QueryParameter{Name: "major", Value: v.Major},
		bigquery.QueryParameter{Name: "minor", Value: v.Minor},
	)
}

func (s *Storage) exec(ctx context.Context, stmt string, params ...bigquery.QueryParameter) error {
	q := s.client.Query(stmt)
	q.Parameters = params
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("run %q: %w", stmt, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait %q: %w", stmt, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("exec %q: %w", stmt, err)
	}
	return nil
}

// txn serves one View or Update. A zero snapshot reads the latest rows.
type txn struct {
	s        *Storage
	version  schema.Version
	snapshot time.Time
}

func (t *txn) Select(ctx context.Context, f orm.Fetch) ([]report.Object, error) {
	if f.Field != "" && len(f.Values) == 0 {
		return []report.Object{}, nil
	}
	q := t.s.client.Query(selectSQL(t.s.table(f.Type.Collection), f, columns(f.Type, t.version), !t.snapshot.IsZero()))
	if f.Field != "" {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Name: paramValues, Value: f.Values})
	}
	if !t.snapshot.IsZero() {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Name: paramSnapshot, Value: t.snapshot})
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", f.Type.Collection, err)
	}

	out := []report.Object{}
	for {
		var row struct {
			Data string `bigquery:"data"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Type.Collection, err)
		}
		var o report.Object
		if err := json.Unmarshal([]byte(row.Data), &o); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Type.Collection, err)
		}
		out = append(out, o)
	}
	return out, nil
}

func (t *txn) Put(ctx context.Context, typ *schema.Type, objs []report.Object) error {
	if len(objs) == 0 {
		return nil
	}
	cols := columns(typ, t.version)
	rows := make([]string, len(objs))
	for i, o := range objs {
		data, err := json.Marshal(normalizedRow(o, cols))
		if err != nil {
			return fmt.Errorf("encode %s %q: %w", typ.Name, o.ID(), err)
		}
		rows[i] = string(data)
	}
	stmt := insertSQL(t.s.table(typ.Collection), cols)
	return t.s.exec(ctx, stmt, bigquery.QueryParameter{Name: paramRows, Value: rows})
}

var metaSchema = bigquery.Schema{
	{Name: "major", Type: bigquery.IntegerFieldType, Required: true},
	{Name: "minor", Type: bigquery.IntegerFieldType, Required: true},
	{Name: loadedAt, Type: bigquery.TimestampFieldType, Required: true},
}

// tableSchema returns t's table schema at v.
func tableSchema(t *schema.Type, v schema.Version) bigquery.Schema {
	var out bigquery.Schema
	for _, c := range columns(t, v) {
		out = append(out, &bigquery.FieldSchema{
			Name:     c,
			Type:     bigquery.StringFieldType,
			Required: c == t.PrimaryKey || c == "data" || isParentField(t, c),
		})
	}
	return append(out, &bigquery.FieldSchema{Name: loadedAt, Type: bigquery.TimestampFieldType, Required: true})
}

func isParentField(t *schema.Type, field string) bool {
	for _, rel := range t.Parents {
		if rel.Field == field {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var e *googleapi.Error
	return errors.As(err, &e) && e.Code == http.StatusNotFound
}
