package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Leaf lifts a Storage into a Driver.
type Leaf struct {
	storage  Storage
	caps     Capabilities
	registry *schema.Registry
}

// NewLeaf returns a driver over s using the default schema registry.
func NewLeaf(s Storage, caps Capabilities) *Leaf {
	return &Leaf{storage: s, caps: caps, registry: schema.Default}
}

// WithRegistry replaces the schema registry. Used by tests exercising
// version gates.
func (l *Leaf) WithRegistry(r *schema.Registry) *Leaf {
	l.registry = r
	return l
}

// Storage returns the wrapped storage.
func (l *Leaf) Storage() Storage {
	return l.storage
}

func (l *Leaf) Init(ctx context.Context, version schema.Version) error {
	if version.IsZero() {
		version = l.registry.Current()
	}
	if !l.registry.Supports(version) {
		return errs.New(errs.UnsupportedVersion, "init", "schema version %s is not supported", version)
	}
	return wrapContext("init", l.storage.Provision(ctx, version))
}

func (l *Leaf) Cleanup(ctx context.Context) error {
	return wrapContext("cleanup", l.storage.Teardown(ctx))
}

func (l *Leaf) SchemaVersion(ctx context.Context) (schema.Version, error) {
	v, err := l.storage.Version(ctx)
	return v, wrapContext("schema version", err)
}

func (l *Leaf) UpgradeSchema(ctx context.Context, target schema.Version) error {
	const op = "upgrade schema"
	cur, err := l.storage.Version(ctx)
	if err != nil {
		return wrapContext(op, err)
	}
	if target.IsZero() {
		target = l.registry.Current()
	}
	if !l.registry.Supports(target) || target.Major != cur.Major {
		return errs.New(errs.UnsupportedVersion, op, "no migration path from %s to %s", cur, target)
	}
	switch target.Compare(cur) {
	case 0:
		return nil
	case -1:
		if err := l.checkDowngrade(ctx, target); err != nil {
			return wrapContext(op, err)
		}
	}
	if err := l.storage.Migrate(ctx, cur, target); err != nil {
		return wrapContext(op, fmt.Errorf("migrate %s to %s: %w", cur, target, err))
	}
	slog.Info("schema migrated", "from", cur.String(), "to", target.String())
	return nil
}

// checkDowngrade fails with DowngradeRequired if any stored object carries
// a field introduced after target.
func (l *Leaf) checkDowngrade(ctx context.Context, target schema.Version) error {
	return l.storage.View(ctx, func(r Reader) error {
		for _, t := range schema.Types {
			objs, err := r.Select(ctx, orm.Fetch{Type: t})
			if err != nil {
				return fmt.Errorf("scan %s: %w", t.Collection, err)
			}
			for _, o := range objs {
				if v := l.registry.MinVersionFor(t, o); target.Less(v) {
					return errs.New(errs.DowngradeRequired, "upgrade schema",
						"%s %q needs schema %s", t.Name, o.ID(), v)
				}
			}
		}
		return nil
	})
}

func (l *Leaf) Load(ctx context.Context, doc *report.Document) error {
	const op = "load"
	cur, err := l.storage.Version(ctx)
	if err != nil {
		return wrapContext(op, err)
	}
	if !l.registry.CanLoad(cur, doc.Version) {
		return errs.New(errs.SchemaVersionMismatch, op,
			"document version %s cannot be loaded into schema %s", doc.Version, cur)
	}

	err = l.storage.Update(ctx, func(w Writer) error {
		lookup := func(ctx context.Context, t *schema.Type, ids []string) ([]string, error) {
			objs, err := w.Select(ctx, orm.Fetch{Type: t, Field: t.PrimaryKey, Values: ids})
			if err != nil {
				return nil, err
			}
			found := make([]string, len(objs))
			for i, o := range objs {
				found[i] = o.ID()
			}
			return found, nil
		}
		if err := report.CheckReferences(ctx, doc, lookup); err != nil {
			return err
		}
		for _, t := range schema.Types {
			if err := upsert(ctx, w, t, doc.Objects(t)); err != nil {
				return fmt.Errorf("upsert %s: %w", t.Collection, err)
			}
		}
		return nil
	})
	return wrapContext(op, err)
}

// upsert merges incoming objects into the stored ones and writes them back.
// Duplicates within the batch merge in document order.
func upsert(ctx context.Context, w Writer, t *schema.Type, incoming []report.Object) error {
	if len(incoming) == 0 {
		return nil
	}
	var order []string
	batch := make(map[string]report.Object, len(incoming))
	for _, o := range incoming {
		id := o.ID()
		if prev, ok := batch[id]; ok {
			prev.MergeFrom(o)
			continue
		}
		order = append(order, id)
		batch[id] = o.Clone()
		batch[id]["id"] = id
	}

	stored, err := w.Select(ctx, orm.Fetch{Type: t, Field: t.PrimaryKey, Values: order})
	if err != nil {
		return err
	}
	for _, s := range stored {
		merged := s.Clone()
		merged.MergeFrom(batch[s.ID()])
		batch[s.ID()] = merged
	}

	out := make([]report.Object, len(order))
	for i, id := range order {
		out[i] = batch[id]
	}
	return w.Put(ctx, t, out)
}

func (l *Leaf) Query(ctx context.Context, q orm.Query) (*orm.Graph, error) {
	const op = "query"
	if !l.caps.Read {
		return nil, errs.New(errs.UnsupportedOperation, op, "driver is write-only")
	}
	if err := l.provisioned(ctx, op); err != nil {
		return nil, err
	}
	var g *orm.Graph
	err := l.storage.View(ctx, func(r Reader) error {
		var err error
		g, err = orm.Resolve(ctx, r, q)
		return err
	})
	if err != nil {
		return nil, wrapContext(op, err)
	}
	return g, nil
}

func (l *Leaf) Dump(ctx context.Context) (*orm.Graph, error) {
	const op = "dump"
	if !l.caps.Read {
		return nil, errs.New(errs.UnsupportedOperation, op, "driver is write-only")
	}
	if err := l.provisioned(ctx, op); err != nil {
		return nil, err
	}
	g := orm.NewGraph()
	err := l.storage.View(ctx, func(r Reader) error {
		for _, t := range schema.Types {
			objs, err := r.Select(ctx, orm.Fetch{Type: t})
			if err != nil {
				return fmt.Errorf("scan %s: %w", t.Collection, err)
			}
			g.Add(t, objs...)
		}
		return nil
	})
	if err != nil {
		return nil, wrapContext(op, err)
	}
	return g, nil
}

// provisioned maps Uninitialized to NotFound for read operations.
func (l *Leaf) provisioned(ctx context.Context, op string) error {
	_, err := l.storage.Version(ctx)
	if errs.Is(err, errs.Uninitialized) {
		return errs.Wrap(errs.NotFound, op, err)
	}
	return wrapContext(op, err)
}

func (l *Leaf) Capabilities() Capabilities {
	return l.caps
}

func (l *Leaf) Close() error {
	return l.storage.Close()
}

// wrapContext turns an expired deadline into a Timeout error. Other errors
// pass through unchanged.
func wrapContext(op string, err error) error {
	if err == nil || errs.Is(err, errs.Timeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.Timeout, op, err)
	}
	return err
}
