// Package db defines the backend driver contract and the generic pieces
// built on it: the leaf adapter lifting a Storage into a Driver, the Mux
// composite, and the timeout and metrics decorators.
//
// Every driver, leaf or composite, satisfies the same Driver interface, so
// a Mux may contain another Mux and decorators stack in any order.
package db

import (
	"context"
	"strings"

	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

// Driver is one logical KCIDB database.
type Driver interface {
	// Init provisions storage at version, or at the current version if
	// version is zero. Fails with AlreadyExists if storage is provisioned.
	Init(ctx context.Context, version schema.Version) error

	// Cleanup removes everything Init created. No-op if already absent.
	Cleanup(ctx context.Context) error

	// SchemaVersion returns the persisted version, or Uninitialized.
	SchemaVersion(ctx context.Context) (schema.Version, error)

	// UpgradeSchema migrates storage to target. A zero target means the
	// current version.
	UpgradeSchema(ctx context.Context, target schema.Version) error

	// Load upserts every object of doc after checking referential integrity.
	Load(ctx context.Context, doc *report.Document) error

	// Query resolves q. NotFound is returned only for unprovisioned storage.
	Query(ctx context.Context, q orm.Query) (*orm.Graph, error)

	// Dump returns every stored object from a single snapshot.
	Dump(ctx context.Context) (*orm.Graph, error)

	Capabilities() Capabilities

	// Close releases connections and file handles.
	Close() error
}

// Capabilities flags what a driver can do.
type Capabilities struct {
	Read  bool
	Write bool
}

// ReadWrite is the capability set of an ordinary database.
var ReadWrite = Capabilities{Read: true, Write: true}

// Union returns the capabilities present in either c or o.
func (c Capabilities) Union(o Capabilities) Capabilities {
	return Capabilities{Read: c.Read || o.Read, Write: c.Write || o.Write}
}

func (c Capabilities) String() string {
	var parts []string
	if c.Read {
		parts = append(parts, "read")
	}
	if c.Write {
		parts = append(parts, "write")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}
