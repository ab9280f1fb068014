package db

import (
	"context"

	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Reader is a read view of storage. Selects within one View see a single
// snapshot.
type Reader interface {
	orm.Source
}

// Writer is a read-write transaction.
type Writer interface {
	Reader

	// Put stores objs of type t, replacing any stored object with the same
	// id. Objects arrive already merged.
	Put(ctx context.Context, t *schema.Type, objs []report.Object) error
}

// Storage is the backend-specific half of a leaf driver. NewLeaf supplies
// the rest of the Driver contract on top of it.
type Storage interface {
	// Provision creates storage at version v. AlreadyExists if present.
	Provision(ctx context.Context, v schema.Version) error

	// Teardown removes storage. No-op if absent.
	Teardown(ctx context.Context) error

	// Version returns the persisted version, or Uninitialized.
	Version(ctx context.Context) (schema.Version, error)

	// Migrate moves storage from one version to another within a major.
	// Data compatibility has already been checked.
	Migrate(ctx context.Context, from, to schema.Version) error

	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Writer) error) error

	Close() error
}
