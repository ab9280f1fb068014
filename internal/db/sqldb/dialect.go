// Package sqldb is the relational half shared by the SQL drivers.
//
// Every object type is a table holding the primary key, one column per
// foreign key, a few promoted columns, and the whole object as JSON:
//
//	checkouts(id, [patchset_hash], data)
//	builds(id, checkout_id, data)
//	tests(id, build_id, [path], data)
//
// Promoted columns appear with the schema version that introduced them and
// are backfilled from the JSON on upgrade. A Dialect supplies the few
// statements that differ between engines.
package sqldb

import (
	"context"
	"database/sql"

	"github.com/kernelci/kcidb/internal/schema"
)

// Querier is the subset of *sql.DB and *sql.Tx the storage needs.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures engine differences.
type Dialect interface {
	// Name identifies the engine in errors and logs.
	Name() string

	// Placeholder returns the n-th bind parameter, counting from 1.
	Placeholder(n int) string

	// DataType is the column type holding object JSON.
	DataType() string

	// ExtractText returns an expression selecting a top-level JSON field as
	// text.
	ExtractText(column, field string) string

	// OrderByID returns the ORDER BY clause giving byte-wise id order.
	OrderByID() string

	// SnapshotOptions are the transaction options for read views.
	SnapshotOptions() *sql.TxOptions

	// ReadVersion returns the persisted version. ok is false when storage
	// is not provisioned.
	ReadVersion(ctx context.Context, q Querier) (v schema.Version, ok bool, err error)

	// WriteVersion persists v, creating any metadata storage it needs.
	WriteVersion(ctx context.Context, q Querier, v schema.Version) error

	// DropVersion removes the persisted version and its metadata storage.
	DropVersion(ctx context.Context, q Querier) error

	// DropColumn returns the statements removing a promoted column and its
	// index.
	DropColumn(table, column, index string) []string
}
