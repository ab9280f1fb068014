// Package bolt stores a KCIDB database in a bbolt file.
//
// Layout:
//
//	meta                     "version" -> "MAJOR.MINOR"
//	checkouts, builds, tests id -> object JSON
//	builds_by_checkout_id    checkout_id NUL id -> empty
//	tests_by_build_id        build_id NUL id -> empty
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

const (
	bucketMeta = "meta"
	keyVersion = "version"
)

func indexBucket(t *schema.Type, field string) []byte {
	return []byte(t.Collection + "_by_" + field)
}

// Storage is a bbolt-backed Storage.
type Storage struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the bbolt file at path and returns a
// read-write driver over it.
func Open(path string) (*db.Leaf, error) {
	s, err := NewStorage(path)
	if err != nil {
		return nil, err
	}
	return db.NewLeaf(s, db.ReadWrite), nil
}

// NewStorage opens the bbolt file at path.
func NewStorage(path string) (*Storage, error) {
	bdb, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionError, "open", err)
	}
	return &Storage{db: bdb}, nil
}

func (s *Storage) Provision(_ context.Context, v schema.Version) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketMeta)) != nil {
			return errs.New(errs.AlreadyExists, "init", "%s already initialized", s.db.Path())
		}
		for _, name := range bucketNames() {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(keyVersion), []byte(v.String()))
	})
}

func (s *Storage) Teardown(context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range bucketNames() {
			if tx.Bucket(name) == nil {
				continue
			}
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("delete bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func bucketNames() [][]byte {
	names := [][]byte{[]byte(bucketMeta)}
	for _, t := range schema.Types {
		names = append(names, []byte(t.Collection))
		for _, rel := range t.Parents {
			names = append(names, indexBucket(t, rel.Field))
		}
	}
	return names
}

func (s *Storage) Version(context.Context) (schema.Version, error) {
	var v schema.Version
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		v, err = readVersion(tx)
		return err
	})
	return v, err
}

func readVersion(tx *bbolt.Tx) (schema.Version, error) {
	meta := tx.Bucket([]byte(bucketMeta))
	if meta == nil {
		return schema.Version{}, errs.ErrUninitialized
	}
	return schema.ParseVersion(string(meta.Get([]byte(keyVersion))))
}

func (s *Storage) Migrate(_ context.Context, _, to schema.Version) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		if meta == nil {
			return errs.ErrUninitialized
		}
		return meta.Put([]byte(keyVersion), []byte(to.String()))
	})
}

func (s *Storage) View(_ context.Context, fn func(db.Reader) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketMeta)) == nil {
			return errs.ErrUninitialized
		}
		return fn(&txn{tx: tx})
	})
}

func (s *Storage) Update(_ context.Context, fn func(db.Writer) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketMeta)) == nil {
			return errs.ErrUninitialized
		}
		return fn(&txn{tx: tx})
	})
}

func (s *Storage) Close() error {
	return s.db.Close()
}

type txn struct {
	tx *bbolt.Tx
}

func (t *txn) Select(ctx context.Context, f orm.Fetch) ([]report.Object, error) {
	objects := t.tx.Bucket([]byte(f.Type.Collection))
	switch {
	case f.Field == "":
		var out []report.Object
		c := objects.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			o, err := decode(v)
			if err != nil {
				return nil, err
			}
			out = append(out, o)
			if f.Limit > 0 && len(out) == f.Limit {
				break
			}
		}
		return out, nil

	case f.Field == f.Type.PrimaryKey:
		return t.byIDs(objects, f.Values, f.Limit)

	case isIndexed(f.Type, f.Field):
		index := t.tx.Bucket(indexBucket(f.Type, f.Field))
		var ids []string
		for _, value := range f.Values {
			prefix := append([]byte(value), 0)
			c := index.Cursor()
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				ids = append(ids, string(k[len(prefix):]))
			}
		}
		return t.byIDs(objects, ids, f.Limit)

	default:
		var out []report.Object
		err := objects.ForEach(func(_, v []byte) error {
			o, err := decode(v)
			if err != nil {
				return err
			}
			if slices.Contains(f.Values, o.Ref(f.Field)) && (f.Limit == 0 || len(out) < f.Limit) {
				out = append(out, o)
			}
			return nil
		})
		return out, err
	}
}

func (t *txn) byIDs(objects *bbolt.Bucket, ids []string, limit int) ([]report.Object, error) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	var out []report.Object
	for _, id := range ids {
		v := objects.Get([]byte(id))
		if v == nil {
			continue
		}
		o, err := decode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *txn) Put(_ context.Context, typ *schema.Type, objs []report.Object) error {
	objects := t.tx.Bucket([]byte(typ.Collection))
	for _, o := range objs {
		id := []byte(o.ID())
		if old := objects.Get(id); old != nil {
			prev, err := decode(old)
			if err != nil {
				return err
			}
			for _, rel := range typ.Parents {
				if err := t.tx.Bucket(indexBucket(typ, rel.Field)).Delete(indexKey(prev.Ref(rel.Field), o.ID())); err != nil {
					return err
				}
			}
		}
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode %s %q: %w", typ.Name, o.ID(), err)
		}
		if err := objects.Put(id, data); err != nil {
			return err
		}
		for _, rel := range typ.Parents {
			if err := t.tx.Bucket(indexBucket(typ, rel.Field)).Put(indexKey(o.Ref(rel.Field), o.ID()), []byte{}); err != nil {
				return err
			}
		}
	}
	return nil
}

func indexKey(value, id string) []byte {
	k := make([]byte, 0, len(value)+1+len(id))
	k = append(k, value...)
	k = append(k, 0)
	return append(k, id...)
}

func isIndexed(t *schema.Type, field string) bool {
	return slices.ContainsFunc(t.Parents, func(r schema.Relation) bool { return r.Field == field })
}

func decode(data []byte) (report.Object, error) {
	var o report.Object
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return o, nil
}
