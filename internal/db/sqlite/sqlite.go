// Package sqlite implements the KCIDB driver over an SQLite file.
//
// The schema version lives in PRAGMA user_version as MAJOR*1000+MINOR, so
// a zero user_version means the file was never initialized.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/sqldb"
	"github.com/kernelci/kcidb/internal/errs"
	"github.com/kernelci/kcidb/internal/schema"
)

// DefaultPath is used when the database spec carries no file name.
const DefaultPath = "kcidb.sqlite3"

// Open opens or creates the SQLite file at path and returns a read-write
// driver over it.
//
// The connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single connection, since SQLite allows one writer
func Open(path string) (*db.Leaf, error) {
	s, err := NewStorage(path)
	if err != nil {
		return nil, err
	}
	return db.NewLeaf(s, db.ReadWrite), nil
}

// NewStorage opens the SQLite file at path.
func NewStorage(path string) (*sqldb.Storage, error) {
	if path == "" {
		path = DefaultPath
	}
	handle, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionError, "open", err)
	}
	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, errs.Wrap(errs.ConnectionError, "open", fmt.Errorf("connect to %s: %w", path, err))
	}

	handle.SetMaxOpenConns(1)
	handle.SetMaxIdleConns(1)

	if err := applyPragmas(handle); err != nil {
		handle.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	return sqldb.NewStorage(handle, Dialect{}), nil
}

func applyPragmas(handle *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := handle.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Dialect is the SQLite flavour of sqldb.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) DataType() string { return "TEXT" }

func (Dialect) ExtractText(column, field string) string {
	return fmt.Sprintf("json_extract(%s, '$.%s')", column, field)
}

// OrderByID uses COLLATE BINARY for byte-wise ordering across SQLite
// versions.
func (Dialect) OrderByID() string { return "id ASC COLLATE BINARY" }

func (Dialect) SnapshotOptions() *sql.TxOptions { return nil }

func (Dialect) ReadVersion(ctx context.Context, q sqldb.Querier) (schema.Version, bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&n); err != nil {
		return schema.Version{}, false, fmt.Errorf("get user_version: %w", err)
	}
	if n == 0 {
		return schema.Version{}, false, nil
	}
	return schema.V(n/1000, n%1000), true, nil
}

func (Dialect) WriteVersion(ctx context.Context, q sqldb.Querier, v schema.Version) error {
	if _, err := q.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v.Major*1000+v.Minor)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (Dialect) DropVersion(ctx context.Context, q sqldb.Querier) error {
	if _, err := q.ExecContext(ctx, "PRAGMA user_version = 0"); err != nil {
		return fmt.Errorf("reset user_version: %w", err)
	}
	return nil
}

func (Dialect) DropColumn(table, column, index string) []string {
	var stmts []string
	if index != "" {
		stmts = append(stmts, "DROP INDEX IF EXISTS "+index)
	}
	return append(stmts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, column))
}
