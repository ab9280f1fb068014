package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// maxBatch bounds the number of values bound into one IN list.
const maxBatch = 500

// Storage implements db.Storage over a database/sql handle.
type Storage struct {
	db      *sql.DB
	dialect Dialect
}

// NewStorage returns storage over an open handle. The storage owns the
// handle and closes it on Close.
func NewStorage(handle *sql.DB, d Dialect) *Storage {
	return &Storage{db: handle, dialect: d}
}

// DB returns the underlying handle.
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) Provision(ctx context.Context, v schema.Version) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if _, ok, err := s.dialect.ReadVersion(ctx, tx); err != nil {
			return err
		} else if ok {
			return errs.New(errs.AlreadyExists, "init", "%s database already initialized", s.dialect.Name())
		}
		for _, t := range schema.Types {
			for _, stmt := range CreateTable(s.dialect, t, v) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("create %s: %w", t.Collection, err)
				}
			}
		}
		return s.dialect.WriteVersion(ctx, tx, v)
	})
}

func (s *Storage) Teardown(ctx context.Context) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		for i := len(schema.Types) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+schema.Types[i].Collection); err != nil {
				return fmt.Errorf("drop %s: %w", schema.Types[i].Collection, err)
			}
		}
		return s.dialect.DropVersion(ctx, tx)
	})
}

func (s *Storage) Version(ctx context.Context) (schema.Version, error) {
	v, ok, err := s.dialect.ReadVersion(ctx, s.db)
	if err != nil {
		return schema.Version{}, fmt.Errorf("read schema version: %w", err)
	}
	if !ok {
		return schema.Version{}, errs.ErrUninitialized
	}
	return v, nil
}

func (s *Storage) Migrate(ctx context.Context, from, to schema.Version) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		for _, stmt := range MigrationStatements(s.dialect, from, to) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %q: %w", stmt, err)
			}
		}
		return s.dialect.WriteVersion(ctx, tx, to)
	})
}

func (s *Storage) View(ctx context.Context, fn func(db.Reader) error) error {
	return s.inTx(ctx, s.dialect.SnapshotOptions(), func(tx *sql.Tx) error {
		t, err := s.newTxn(ctx, tx)
		if err != nil {
			return err
		}
		return fn(t)
	})
}

func (s *Storage) Update(ctx context.Context, fn func(db.Writer) error) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		t, err := s.newTxn(ctx, tx)
		if err != nil {
			return err
		}
		return fn(t)
	})
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) inTx(ctx context.Context, opts *sql.TxOptions, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return errs.Wrap(errs.ConnectionError, "begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Storage) newTxn(ctx context.Context, tx *sql.Tx) (*txn, error) {
	v, ok, err := s.dialect.ReadVersion(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	if !ok {
		return nil, errs.ErrUninitialized
	}
	return &txn{tx: tx, dialect: s.dialect, version: v}, nil
}

// txn serves reads and writes inside one transaction.
type txn struct {
	tx      *sql.Tx
	dialect Dialect
	version schema.Version
}

func (t *txn) Select(ctx context.Context, f orm.Fetch) ([]report.Object, error) {
	if f.Field != "" && len(f.Values) == 0 {
		return []report.Object{}, nil
	}
	columns := Columns(f.Type, t.version)
	if len(f.Values) <= maxBatch {
		return t.query(ctx, f, columns)
	}

	var out []report.Object
	for chunk := range slices.Chunk(f.Values, maxBatch) {
		part := f
		part.Values = chunk
		objs, err := t.query(ctx, part, columns)
		if err != nil {
			return nil, err
		}
		out = append(out, objs...)
	}
	slices.SortFunc(out, func(a, b report.Object) int {
		return strings.Compare(a.ID(), b.ID())
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *txn) query(ctx context.Context, f orm.Fetch, columns []string) ([]report.Object, error) {
	stmt, args := CompileSelect(t.dialect, f, columns)
	rows, err := t.tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", f.Type.Collection, err)
	}
	defer rows.Close()

	out := []report.Object{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", f.Type.Collection, err)
		}
		var o report.Object
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Type.Collection, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *txn) Put(ctx context.Context, typ *schema.Type, objs []report.Object) error {
	columns := Columns(typ, t.version)
	stmt, err := t.tx.PrepareContext(ctx, CompileUpsert(t.dialect, typ.Collection, columns))
	if err != nil {
		return fmt.Errorf("prepare upsert %s: %w", typ.Collection, err)
	}
	defer stmt.Close()

	for _, o := range objs {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode %s %q: %w", typ.Name, o.ID(), err)
		}
		args := make([]any, len(columns))
		for i, c := range columns {
			switch {
			case c == "data":
				args[i] = string(data)
			case c == typ.PrimaryKey:
				args[i] = o.ID()
			default:
				if _, ok := o[c]; ok {
					args[i] = o.Ref(c)
				} else {
					args[i] = nil
				}
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upsert %s %q: %w", typ.Name, o.ID(), err)
		}
	}
	return nil
}
