// Package memory implements an in-process KCIDB database, mostly for tests
// and as a scratch mux member.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Storage keeps every object in maps guarded by a RWMutex. Updates are
// buffered and applied only if the transaction function succeeds.
type Storage struct {
	mu          sync.RWMutex
	provisioned bool
	version     schema.Version
	objects     map[*schema.Type]map[string]report.Object
}

// New returns a read-write driver over a fresh Storage.
func New() *db.Leaf {
	return db.NewLeaf(NewStorage(), db.ReadWrite)
}

// NewStorage returns empty, unprovisioned storage.
func NewStorage() *Storage {
	return &Storage{}
}

func (s *Storage) Provision(_ context.Context, v schema.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provisioned {
		return errs.New(errs.AlreadyExists, "init", "memory database already initialized")
	}
	s.provisioned = true
	s.version = v
	s.objects = make(map[*schema.Type]map[string]report.Object)
	return nil
}

func (s *Storage) Teardown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisioned = false
	s.version = schema.Version{}
	s.objects = nil
	return nil
}

func (s *Storage) Version(context.Context) (schema.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.provisioned {
		return schema.Version{}, errs.ErrUninitialized
	}
	return s.version, nil
}

func (s *Storage) Migrate(_ context.Context, _, to schema.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = to
	return nil
}

func (s *Storage) View(_ context.Context, fn func(db.Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.provisioned {
		return errs.ErrUninitialized
	}
	return fn(&tx{s: s})
}

func (s *Storage) Update(_ context.Context, fn func(db.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.provisioned {
		return errs.ErrUninitialized
	}
	t := &tx{s: s, pending: make(map[*schema.Type]map[string]report.Object)}
	if err := fn(t); err != nil {
		return err
	}
	for typ, objs := range t.pending {
		if s.objects[typ] == nil {
			s.objects[typ] = make(map[string]report.Object)
		}
		maps.Copy(s.objects[typ], objs)
	}
	return nil
}

func (s *Storage) Close() error {
	return nil
}

// tx is both the read view and the write transaction. pending is nil in
// read views.
type tx struct {
	s       *Storage
	pending map[*schema.Type]map[string]report.Object
}

func (t *tx) Select(_ context.Context, f orm.Fetch) ([]report.Object, error) {
	merged := t.s.objects[f.Type]
	if len(t.pending[f.Type]) > 0 {
		merged = maps.Clone(merged)
		if merged == nil {
			merged = make(map[string]report.Object)
		}
		maps.Copy(merged, t.pending[f.Type])
	}
	return Select(merged, f), nil
}

func (t *tx) Put(_ context.Context, typ *schema.Type, objs []report.Object) error {
	if t.pending[typ] == nil {
		t.pending[typ] = make(map[string]report.Object)
	}
	for _, o := range objs {
		t.pending[typ][o.ID()] = o.Clone()
	}
	return nil
}

// Select applies f to an id-keyed object set, returning copies ordered by
// id.
func Select(objs map[string]report.Object, f orm.Fetch) []report.Object {
	var want map[string]bool
	if f.Field != "" {
		want = make(map[string]bool, len(f.Values))
		for _, v := range f.Values {
			want[v] = true
		}
	}
	ids := slices.Sorted(maps.Keys(objs))
	out := []report.Object{}
	for _, id := range ids {
		o := objs[id]
		if want != nil && !want[o.Ref(f.Field)] {
			continue
		}
		out = append(out, o.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}
