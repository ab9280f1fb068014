// Package postgresql implements the KCIDB driver over PostgreSQL through
// the pgx database/sql adapter.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/sqldb"
	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/schema"
)

// DefaultConnString is used when the database spec carries no parameters.
const DefaultConnString = "dbname=kcidb"

const metaTable = "kcidb_meta"

// Open connects to the database described by connString (libpq keyword
// string or postgres:// URL) and returns a read-write driver.
func Open(ctx context.Context, connString string) (*db.Leaf, error) {
	s, err := NewStorage(ctx, connString)
	if err != nil {
		return nil, err
	}
	return db.NewLeaf(s, db.ReadWrite), nil
}

// NewStorage connects to PostgreSQL.
func NewStorage(ctx context.Context, connString string) (*sqldb.Storage, error) {
	if connString == "" {
		connString = DefaultConnString
	}
	handle, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionError, "open", err)
	}
	if err := handle.PingContext(ctx); err != nil {
		handle.Close()
		return nil, errs.Wrap(errs.ConnectionError, "open", err)
	}
	return sqldb.NewStorage(handle, Dialect{}), nil
}

// Dialect is the PostgreSQL flavour of sqldb.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "postgresql" }

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) DataType() string { return "JSONB" }

func (Dialect) ExtractText(column, field string) string {
	return fmt.Sprintf("%s->>'%s'", column, field)
}

func (Dialect) OrderByID() string { return `id COLLATE "C" ASC` }

// SnapshotOptions gives every view one consistent snapshot.
func (Dialect) SnapshotOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

func (Dialect) ReadVersion(ctx context.Context, q sqldb.Querier) (schema.Version, bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", metaTable).Scan(&exists); err != nil {
		return schema.Version{}, false, fmt.Errorf("look up %s: %w", metaTable, err)
	}
	if !exists {
		return schema.Version{}, false, nil
	}
	var major, minor int
	err := q.QueryRowContext(ctx, "SELECT major, minor FROM "+metaTable).Scan(&major, &minor)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Version{}, false, nil
	}
	if err != nil {
		return schema.Version{}, false, fmt.Errorf("read %s: %w", metaTable, err)
	}
	return schema.V(major, minor), true, nil
}

func (Dialect) WriteVersion(ctx context.Context, q sqldb.Querier, v schema.Version) error {
	create := "CREATE TABLE IF NOT EXISTS " + metaTable +
		" (singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton), major INTEGER NOT NULL, minor INTEGER NOT NULL)"
	if _, err := q.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create %s: %w", metaTable, err)
	}
	_, err := q.ExecContext(ctx,
		"INSERT INTO "+metaTable+" (major, minor) VALUES ($1, $2) ON CONFLICT (singleton) DO UPDATE SET major = excluded.major, minor = excluded.minor",
		v.Major, v.Minor)
	if err != nil {
		return fmt.Errorf("write %s: %w", metaTable, err)
	}
	return nil
}

func (Dialect) DropVersion(ctx context.Context, q sqldb.Querier) error {
	if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+metaTable); err != nil {
		return fmt.Errorf("drop %s: %w", metaTable, err)
	}
	return nil
}

// DropColumn relies on PostgreSQL dropping the column's indexes with it.
func (Dialect) DropColumn(table, column, _ string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", table, column)}
}
