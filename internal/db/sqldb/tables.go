package sqldb

import (
	"fmt"
	"strings"

	"github.com/kernelci/kcidb/internal/schema"
)

// Promoted is a JSON field copied into its own column.
type Promoted struct {
	Type  *schema.Type
	Field string
	Since schema.Version
	Index bool
}

// IndexName returns the name of the promoted column's index.
func (p Promoted) IndexName() string {
	return fmt.Sprintf("%s_%s_idx", p.Type.Collection, p.Field)
}

// PromotedColumns lists the promoted columns in version order.
var PromotedColumns = []Promoted{
	{Type: schema.Test, Field: "path", Since: schema.V(4, 1), Index: true},
	{Type: schema.Checkout, Field: "patchset_hash", Since: schema.V(4, 2)},
}

func promotedAt(t *schema.Type, v schema.Version) []Promoted {
	var out []Promoted
	for _, p := range PromotedColumns {
		if p.Type == t && !v.Less(p.Since) {
			out = append(out, p)
		}
	}
	return out
}

// Columns returns the columns of t's table at version v, data last.
func Columns(t *schema.Type, v schema.Version) []string {
	cols := []string{t.PrimaryKey}
	for _, rel := range t.Parents {
		cols = append(cols, rel.Field)
	}
	for _, p := range promotedAt(t, v) {
		cols = append(cols, p.Field)
	}
	return append(cols, "data")
}

// CreateTable returns the statements creating t's table and indexes at v.
func CreateTable(d Dialect, t *schema.Type, v schema.Version) []string {
	defs := []string{t.PrimaryKey + " TEXT PRIMARY KEY"}
	for _, rel := range t.Parents {
		defs = append(defs, rel.Field+" TEXT NOT NULL")
	}
	for _, p := range promotedAt(t, v) {
		defs = append(defs, p.Field+" TEXT")
	}
	defs = append(defs, "data "+d.DataType()+" NOT NULL")

	stmts := []string{fmt.Sprintf("CREATE TABLE %s (%s)", t.Collection, strings.Join(defs, ", "))}
	for _, rel := range t.Parents {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s_%s_idx ON %s (%s)", t.Collection, rel.Field, t.Collection, rel.Field))
	}
	for _, p := range promotedAt(t, v) {
		if p.Index {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", p.IndexName(), t.Collection, p.Field))
		}
	}
	return stmts
}

// MigrationStatements returns the statements moving tables from one
// version to another within a major.
func MigrationStatements(d Dialect, from, to schema.Version) []string {
	var stmts []string
	if from.Less(to) {
		for _, p := range PromotedColumns {
			if !(from.Less(p.Since) && !to.Less(p.Since)) {
				continue
			}
			table := p.Type.Collection
			stmts = append(stmts,
				fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", table, p.Field),
				fmt.Sprintf("UPDATE %s SET %s = %s", table, p.Field, d.ExtractText("data", p.Field)),
			)
			if p.Index {
				stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", p.IndexName(), table, p.Field))
			}
		}
		return stmts
	}
	for i := len(PromotedColumns) - 1; i >= 0; i-- {
		p := PromotedColumns[i]
		if !(to.Less(p.Since) && !from.Less(p.Since)) {
			continue
		}
		index := ""
		if p.Index {
			index = p.IndexName()
		}
		stmts = append(stmts, d.DropColumn(p.Type.Collection, p.Field, index)...)
	}
	return stmts
}
