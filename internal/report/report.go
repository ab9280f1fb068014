// Package report holds the KCIDB report document: a versioned batch of
// checkouts, builds and tests.
package report

import (
	"encoding/json"
	"maps"

	"golang.org/x/text/unicode/norm"

	"github.com/kernelci/kcidb/internal/schema"
)

// Object is a single report object. Field values are whatever encoding/json
// produces for the wire form.
type Object map[string]any

// ID returns the object's primary key, NFC-normalized. Missing or
// non-string ids yield "".
func (o Object) ID() string {
	return o.Ref("id")
}

// Ref returns the string value of field, NFC-normalized.
func (o Object) Ref(field string) string {
	s, _ := o[field].(string)
	return norm.NFC.String(s)
}

// MergeFrom applies newer on top of o. Each top-level field present in newer
// replaces the stored value; fields only in o are kept.
func (o Object) MergeFrom(newer Object) {
	maps.Copy(o, newer)
}

// Clone returns a shallow copy of o.
func (o Object) Clone() Object {
	return maps.Clone(o)
}

// Document is a report at a given schema version.
type Document struct {
	Version   schema.Version `json:"version"`
	Checkouts []Object       `json:"checkouts,omitempty"`
	Builds    []Object       `json:"builds,omitempty"`
	Tests     []Object       `json:"tests,omitempty"`
}

// New returns an empty document at version v.
func New(v schema.Version) *Document {
	return &Document{Version: v}
}

// Parse decodes a document from its JSON form.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Objects returns the objects of type t.
func (d *Document) Objects(t *schema.Type) []Object {
	return *d.slot(t)
}

// Add appends objects of type t.
func (d *Document) Add(t *schema.Type, objs ...Object) {
	s := d.slot(t)
	*s = append(*s, objs...)
}

// Count returns the total number of objects.
func (d *Document) Count() int {
	n := 0
	for _, t := range schema.Types {
		n += len(d.Objects(t))
	}
	return n
}

// Merge appends every object of other. The version is raised to other's if
// it is newer.
func (d *Document) Merge(other *Document) {
	if d.Version.Less(other.Version) {
		d.Version = other.Version
	}
	for _, t := range schema.Types {
		d.Add(t, other.Objects(t)...)
	}
}

// Split divides d into documents holding at most n objects each, taking
// objects in type order. Parents therefore precede their children across
// the sequence. n <= 0 returns d alone, as does an empty d.
func (d *Document) Split(n int) []*Document {
	if n <= 0 || d.Count() <= n {
		return []*Document{d}
	}
	var out []*Document
	cur := New(d.Version)
	for _, t := range schema.Types {
		for _, o := range d.Objects(t) {
			if cur.Count() == n {
				out = append(out, cur)
				cur = New(d.Version)
			}
			cur.Add(t, o)
		}
	}
	return append(out, cur)
}

func (d *Document) slot(t *schema.Type) *[]Object {
	switch t {
	case schema.Checkout:
		return &d.Checkouts
	case schema.Build:
		return &d.Builds
	case schema.Test:
		return &d.Tests
	}
	panic("report: unknown object type " + t.Name)
}
