package orm

import (
	"slices"

	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Graph is a type-partitioned set of objects, unique by id within a type.
type Graph struct {
	objects map[*schema.Type]map[string]report.Object
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{objects: make(map[*schema.Type]map[string]report.Object)}
}

// Add inserts objects of type t. An object whose id is already present is
// ignored. Returns the number of objects actually inserted.
func (g *Graph) Add(t *schema.Type, objs ...report.Object) int {
	set := g.objects[t]
	if set == nil {
		set = make(map[string]report.Object)
		g.objects[t] = set
	}
	added := 0
	for _, o := range objs {
		id := o.ID()
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = o
		added++
	}
	return added
}

// Has reports whether (t, id) is in the graph.
func (g *Graph) Has(t *schema.Type, id string) bool {
	_, ok := g.objects[t][id]
	return ok
}

// Get returns the object (t, id).
func (g *Graph) Get(t *schema.Type, id string) (report.Object, bool) {
	o, ok := g.objects[t][id]
	return o, ok
}

// IDs returns the ids of type t, sorted.
func (g *Graph) IDs(t *schema.Type) []string {
	ids := make([]string, 0, len(g.objects[t]))
	for id := range g.objects[t] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Objects returns the objects of type t, sorted by id.
func (g *Graph) Objects(t *schema.Type) []report.Object {
	ids := g.IDs(t)
	out := make([]report.Object, len(ids))
	for i, id := range ids {
		out[i] = g.objects[t][id]
	}
	return out
}

// Len returns the total number of objects.
func (g *Graph) Len() int {
	n := 0
	for _, set := range g.objects {
		n += len(set)
	}
	return n
}

// Merge adds every object of other.
func (g *Graph) Merge(other *Graph) {
	for t, set := range other.objects {
		for _, o := range set {
			g.Add(t, o)
		}
	}
}

// Document renders the graph as a report document at version v, with every
// type's objects sorted by id.
func (g *Graph) Document(v schema.Version) *report.Document {
	doc := report.New(v)
	for _, t := range schema.Types {
		if objs := g.Objects(t); len(objs) > 0 {
			doc.Add(t, objs...)
		}
	}
	return doc
}

// GraphOf builds a graph from a document.
func GraphOf(doc *report.Document) *Graph {
	g := NewGraph()
	for _, t := range schema.Types {
		g.Add(t, doc.Objects(t)...)
	}
	return g
}
