package orm

import (
	"context"

	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Fetch is a typed request for objects of one type.
//
//	Fetch{Type: schema.Build}                                        every build
//	Fetch{Type: schema.Build, Field: "id", Values: ids}              builds by id
//	Fetch{Type: schema.Build, Field: "checkout_id", Values: parents} builds of the checkouts
type Fetch struct {
	Type *schema.Type

	// Field selects objects whose Field value is one of Values. An empty
	// Field selects every object of Type.
	Field  string
	Values []string

	// Limit caps the number of returned objects. Zero means no limit.
	Limit int
}

// Source answers typed fetches. Results must be ordered by id.
type Source interface {
	Select(ctx context.Context, f Fetch) ([]report.Object, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, f Fetch) ([]report.Object, error)

// Select implements Source.
func (fn SourceFunc) Select(ctx context.Context, f Fetch) ([]report.Object, error) {
	return fn(ctx, f)
}
