package orm

import (
	"context"
	"slices"

	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Resolve evaluates q against src. On any Source error no graph is
// returned and the error is passed through unchanged.
func Resolve(ctx context.Context, src Source, q Query) (*Graph, error) {
	r := &resolver{
		src:      src,
		limits:   q.Limits,
		graph:    NewGraph(),
		fetched:  make(map[*schema.Type]map[string]report.Object),
		children: make(map[childKey][]string),
		wildcard: make(map[*schema.Type][]report.Object),
	}
	for _, c := range q.Chains {
		if err := r.chain(ctx, c); err != nil {
			return nil, err
		}
	}
	return r.graph, nil
}

type childKey struct {
	child    *schema.Type
	parentID string
}

// resolver memoizes fetched objects for one Resolve call. A nil entry in
// fetched records an id known to be absent.
type resolver struct {
	src    Source
	limits map[*schema.Type]int
	graph  *Graph

	fetched  map[*schema.Type]map[string]report.Object
	children map[childKey][]string
	wildcard map[*schema.Type][]report.Object
}

type reached map[*schema.Type][]report.Object

func (r *resolver) chain(ctx context.Context, c Chain) error {
	var reach reached
	for i, p := range c {
		var set []report.Object
		switch {
		case i > 0:
			set = reach[p.Type]
			if p.IDs != nil {
				set = filterIDs(set, p.IDs)
			}
		case p.IDs == nil:
			all, err := r.all(ctx, p.Type)
			if err != nil {
				return err
			}
			set = all
		default:
			objs, err := r.byID(ctx, p.Type, p.IDs)
			if err != nil {
				return err
			}
			set = objs
		}
		r.graph.Add(p.Type, set...)

		reach = reached{}
		if p.Parents {
			if err := r.ancestors(ctx, p.Type, set, reach); err != nil {
				return err
			}
		}
		if p.Children {
			if err := r.childrenOf(ctx, p.Type, set, reach); err != nil {
				return err
			}
		}
		for t, objs := range reach {
			r.graph.Add(t, objs...)
		}
	}
	return nil
}

// all returns every object of type t, up to its limit. The result is
// fetched once per Resolve.
func (r *resolver) all(ctx context.Context, t *schema.Type) ([]report.Object, error) {
	if objs, ok := r.wildcard[t]; ok {
		return objs, nil
	}
	objs, err := r.src.Select(ctx, Fetch{Type: t, Limit: r.limits[t]})
	if err != nil {
		return nil, err
	}
	objs = r.remember(t, objs)
	r.wildcard[t] = objs
	return objs, nil
}

// byID returns the objects of type t with the given ids, fetching only the
// ones not seen yet in a single Select.
func (r *resolver) byID(ctx context.Context, t *schema.Type, ids []string) ([]report.Object, error) {
	ids = uniqueSorted(ids)
	known := r.fetched[t]
	var missing []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		objs, err := r.src.Select(ctx, Fetch{Type: t, Field: t.PrimaryKey, Values: missing})
		if err != nil {
			return nil, err
		}
		r.remember(t, objs)
		for _, id := range missing {
			if _, ok := r.fetched[t][id]; !ok {
				r.fetched[t][id] = nil
			}
		}
	}
	var out []report.Object
	for _, id := range ids {
		if o := r.fetched[t][id]; o != nil {
			out = append(out, o)
		}
	}
	return out, nil
}

// ancestors adds every ancestor of objs, one batched Select per parent type
// and level.
func (r *resolver) ancestors(ctx context.Context, t *schema.Type, objs []report.Object, into reached) error {
	for _, rel := range t.Parents {
		var refs []string
		for _, o := range objs {
			if ref := o.Ref(rel.Field); ref != "" {
				refs = append(refs, ref)
			}
		}
		if len(refs) == 0 {
			continue
		}
		parents, err := r.byID(ctx, rel.Parent, refs)
		if err != nil {
			return err
		}
		into[rel.Parent] = appendUnique(into[rel.Parent], parents)
		if err := r.ancestors(ctx, rel.Parent, parents, into); err != nil {
			return err
		}
	}
	return nil
}

// childrenOf adds the direct children of objs, one batched Select per child
// type. Parents whose children were already listed are not asked again.
func (r *resolver) childrenOf(ctx context.Context, t *schema.Type, objs []report.Object, into reached) error {
	parentIDs := make([]string, 0, len(objs))
	for _, o := range objs {
		parentIDs = append(parentIDs, o.ID())
	}
	parentIDs = uniqueSorted(parentIDs)

	for _, rel := range t.Children() {
		var found []report.Object
		var pending []string
		for _, pid := range parentIDs {
			ids, ok := r.children[childKey{rel.Child, pid}]
			if !ok {
				pending = append(pending, pid)
				continue
			}
			for _, id := range ids {
				found = append(found, r.fetched[rel.Child][id])
			}
		}

		if len(pending) > 0 {
			limit := r.limits[rel.Child]
			objs, err := r.src.Select(ctx, Fetch{Type: rel.Child, Field: rel.Field, Values: pending, Limit: limit})
			if err != nil {
				return err
			}
			objs = r.remember(rel.Child, objs)
			found = append(found, objs...)

			if limit == 0 || len(objs) < limit {
				byParent := make(map[string][]string, len(pending))
				for _, o := range objs {
					ref := o.Ref(rel.Field)
					byParent[ref] = append(byParent[ref], o.ID())
				}
				for _, pid := range pending {
					r.children[childKey{rel.Child, pid}] = byParent[pid]
				}
			}
		}
		into[rel.Child] = appendUnique(into[rel.Child], found)
	}
	return nil
}

// remember caches objs and returns the cached instances, so an object
// fetched twice is represented once.
func (r *resolver) remember(t *schema.Type, objs []report.Object) []report.Object {
	known := r.fetched[t]
	if known == nil {
		known = make(map[string]report.Object)
		r.fetched[t] = known
	}
	out := make([]report.Object, 0, len(objs))
	for _, o := range objs {
		id := o.ID()
		if prev := known[id]; prev != nil {
			out = append(out, prev)
			continue
		}
		known[id] = o
		out = append(out, o)
	}
	return out
}

func filterIDs(objs []report.Object, ids []string) []report.Object {
	var out []report.Object
	for _, o := range objs {
		if slices.Contains(ids, o.ID()) {
			out = append(out, o)
		}
	}
	return out
}

func appendUnique(dst, src []report.Object) []report.Object {
	seen := make(map[string]bool, len(dst)+len(src))
	for _, o := range dst {
		seen[o.ID()] = true
	}
	for _, o := range src {
		if id := o.ID(); !seen[id] {
			seen[id] = true
			dst = append(dst, o)
		}
	}
	return dst
}

func uniqueSorted(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
