// Package null implements a write-only driver that accepts and discards
// every compatible report.
package null

import (
	"context"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Driver always reports the current schema version and stores nothing.
type Driver struct {
	registry *schema.Registry
}

// New returns a null driver.
func New() *Driver {
	return &Driver{registry: schema.Default}
}

func (d *Driver) Init(_ context.Context, version schema.Version) error {
	if !version.IsZero() && !d.registry.Supports(version) {
		return errs.New(errs.UnsupportedVersion, "init", "schema version %s is not supported", version)
	}
	return nil
}

func (d *Driver) Cleanup(context.Context) error {
	return nil
}

func (d *Driver) SchemaVersion(context.Context) (schema.Version, error) {
	return d.registry.Current(), nil
}

func (d *Driver) UpgradeSchema(_ context.Context, target schema.Version) error {
	if !target.IsZero() && target != d.registry.Current() {
		return errs.New(errs.UnsupportedVersion, "upgrade schema", "null driver is always at %s", d.registry.Current())
	}
	return nil
}

// Load discards doc after checking its version is loadable.
func (d *Driver) Load(_ context.Context, doc *report.Document) error {
	if !d.registry.CanLoad(d.registry.Current(), doc.Version) {
		return errs.New(errs.SchemaVersionMismatch, "load",
			"document version %s cannot be loaded into schema %s", doc.Version, d.registry.Current())
	}
	return nil
}

func (d *Driver) Query(context.Context, orm.Query) (*orm.Graph, error) {
	return nil, errs.New(errs.UnsupportedOperation, "query", "null driver cannot be queried")
}

func (d *Driver) Dump(context.Context) (*orm.Graph, error) {
	return nil, errs.New(errs.UnsupportedOperation, "dump", "null driver cannot be dumped")
}

func (d *Driver) Capabilities() db.Capabilities {
	return db.Capabilities{Write: true}
}

func (d *Driver) Close() error {
	return nil
}
