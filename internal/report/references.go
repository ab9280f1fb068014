package report

import (
	"context"
	"fmt"
	"slices"

	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/schema"
)

// LookupFunc returns the subset of ids of type t that already exist in
// storage.
type LookupFunc func(ctx context.Context, t *schema.Type, ids []string) ([]string, error)

// CheckReferences verifies that every foreign key in doc points at an object
// in doc itself or in storage. lookup is called at most once per parent type,
// only with ids missing from the batch.
func CheckReferences(ctx context.Context, doc *Document, lookup LookupFunc) error {
	type dangling struct {
		child *schema.Type
		id    string
		field string
		ref   string
	}

	for _, parent := range schema.Types {
		inBatch := make(map[string]bool)
		for _, o := range doc.Objects(parent) {
			inBatch[o.ID()] = true
		}

		var refs []dangling
		missing := make(map[string]bool)
		for _, rel := range parent.Children() {
			for _, o := range doc.Objects(rel.Child) {
				ref := o.Ref(rel.Field)
				if inBatch[ref] {
					continue
				}
				refs = append(refs, dangling{child: rel.Child, id: o.ID(), field: rel.Field, ref: ref})
				missing[ref] = true
			}
		}
		if len(refs) == 0 {
			continue
		}

		ids := make([]string, 0, len(missing))
		for id := range missing {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		found, err := lookup(ctx, parent, ids)
		if err != nil {
			return fmt.Errorf("look up %s: %w", parent.Collection, err)
		}
		exists := make(map[string]bool, len(found))
		for _, id := range found {
			exists[id] = true
		}
		for _, r := range refs {
			if !exists[r.ref] {
				return errs.New(errs.ReferentialError, "load",
					"%s %q: %s %q does not exist", r.child.Name, r.id, r.field, r.ref)
			}
		}
	}
	return nil
}
