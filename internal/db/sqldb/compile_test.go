package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/schema"
)

// plainDialect is a minimal dialect for statement shape tests.
type plainDialect struct{}

func (plainDialect) Name() string { return "plain" }
func (plainDialect) Placeholder(int) string { return "?" }
func (plainDialect) DataType() string { return "TEXT" }
func (plainDialect) OrderByID() string { return "id ASC COLLATE BINARY" }
func (plainDialect) SnapshotOptions() *sql.TxOptions { return nil }
func (plainDialect) ExtractText(column, field string) string {
	return fmt.Sprintf("json_extract(%s, '$.%s')", column, field)
}
func (plainDialect) ReadVersion(context.Context, Querier) (schema.Version, bool, error) {
	return schema.Version{}, false, nil
}
func (plainDialect) WriteVersion(context.Context, Querier, schema.Version) error { return nil }
func (plainDialect) DropVersion(context.Context, Querier) error { return nil }
func (plainDialect) DropColumn(table, column, index string) []string {
	return []string{"DROP " + table + "." + column}
}

func TestCompileSelect(t *testing.T) {
	d := plainDialect{}

	sql, args := CompileSelect(d, orm.Fetch{Type: schema.Build}, Columns(schema.Build, schema.V(4, 2)))
	assert.Equal(t, "SELECT data FROM builds ORDER BY id ASC COLLATE BINARY", sql)
	assert.Empty(t, args)

	sql, args = CompileSelect(d,
		orm.Fetch{Type: schema.Test, Field: "path", Values: []string{"boot"}, Limit: 3},
		Columns(schema.Test, schema.V(4, 0)))
	assert.Equal(t, "SELECT data FROM tests WHERE json_extract(data, '$.path') IN (?) ORDER BY id ASC COLLATE BINARY LIMIT 3", sql)
	assert.Equal(t, []any{"boot"}, args)

	sql, _ = CompileSelect(d,
		orm.Fetch{Type: schema.Test, Field: "path", Values: []string{"boot"}},
		Columns(schema.Test, schema.V(4, 1)))
	assert.Equal(t, "SELECT data FROM tests WHERE path IN (?) ORDER BY id ASC COLLATE BINARY", sql)
}

func TestCompileSelectNeverInterpolates(t *testing.T) {
	sql, args := CompileSelect(plainDialect{},
		orm.Fetch{Type: schema.Checkout, Field: "id", Values: []string{"x'; DROP TABLE checkouts; --"}},
		Columns(schema.Checkout, schema.V(4, 2)))
	assert.NotContains(t, sql, "DROP")
	assert.Equal(t, []any{"x'; DROP TABLE checkouts; --"}, args)
}

func TestColumns(t *testing.T) {
	assert.Equal(t, []string{"id", "data"}, Columns(schema.Checkout, schema.V(4, 1)))
	assert.Equal(t, []string{"id", "patchset_hash", "data"}, Columns(schema.Checkout, schema.V(4, 2)))
	assert.Equal(t, []string{"id", "build_id", "path", "data"}, Columns(schema.Test, schema.V(4, 2)))
}

func TestMigrationStatementsSameVersion(t *testing.T) {
	assert.Empty(t, MigrationStatements(plainDialect{}, schema.V(4, 1), schema.V(4, 1)))
	assert.Equal(t, []string{"DROP tests.path"}, MigrationStatements(plainDialect{}, schema.V(4, 1), schema.V(4, 0)))
}
