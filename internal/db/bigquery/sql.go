package bigquery

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kernelci/kcidb/internal/db/sqldb"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

const (
	metaTable     = "_meta"
	loadedAt      = "loaded_at"
	dedupeClause  = "QUALIFY ROW_NUMBER() OVER (PARTITION BY id ORDER BY " + loadedAt + " DESC) = 1"
	paramValues   = "values"
	paramRows     = "rows"
	paramSnapshot = "snapshot"
)

// columns lists t's table columns at v, excluding loaded_at.
func columns(t *schema.Type, v schema.Version) []string {
	return sqldb.Columns(t, v)
}

// selectSQL builds the query for f. Rows are deduplicated to the newest
// version of each id before filtering. With snapshot set, the table is read
// as of the @snapshot timestamp.
func selectSQL(table string, f orm.Fetch, cols []string, snapshot bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT data FROM (SELECT * FROM `%s`", table)
	if snapshot {
		b.WriteString(" FOR SYSTEM_TIME AS OF @" + paramSnapshot)
	}
	b.WriteString(" WHERE TRUE " + dedupeClause + ")")
	if f.Field != "" {
		target := fmt.Sprintf("JSON_VALUE(data, '$.%s')", f.Field)
		if slices.Contains(cols, f.Field) {
			target = f.Field
		}
		fmt.Fprintf(&b, " WHERE %s IN UNNEST(@%s)", target, paramValues)
	}
	b.WriteString(" ORDER BY id")
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	return b.String()
}

// insertSQL appends one row per JSON object in @rows.
func insertSQL(table string, cols []string) string {
	exprs := make([]string, len(cols))
	for i, c := range cols {
		if c == "data" {
			exprs[i] = "r"
			continue
		}
		exprs[i] = fmt.Sprintf("JSON_VALUE(r, '$.%s')", c)
	}
	return fmt.Sprintf("INSERT INTO `%s` (%s, %s) SELECT %s, CURRENT_TIMESTAMP() FROM UNNEST(@%s) AS r",
		table, strings.Join(cols, ", "), loadedAt, strings.Join(exprs, ", "), paramRows)
}

// normalizedRow returns o with its id and the string values of cols in
// NFC, so column extraction yields the keys other drivers compare against.
func normalizedRow(o report.Object, cols []string) report.Object {
	out := o.Clone()
	for _, c := range cols {
		if _, ok := o[c].(string); ok {
			out[c] = o.Ref(c)
		}
	}
	return out
}

// added reports whether p's column appears moving from one version to
// another.
func added(p sqldb.Promoted, from, to schema.Version) bool {
	return from.Less(to) && from.Less(p.Since) && !to.Less(p.Since)
}

// removed reports whether p's column disappears moving from one version to
// another.
func removed(p sqldb.Promoted, from, to schema.Version) bool {
	return to.Less(from) && to.Less(p.Since) && !from.Less(p.Since)
}

// migrationSQL returns the statements run after table schemas were
// updated: backfills on upgrade, column drops on downgrade.
func migrationSQL(dataset string, from, to schema.Version) []string {
	var stmts []string
	for _, p := range sqldb.PromotedColumns {
		table := dataset + "." + p.Type.Collection
		switch {
		case added(p, from, to):
			stmts = append(stmts, fmt.Sprintf("UPDATE `%s` SET %s = JSON_VALUE(data, '$.%s') WHERE TRUE", table, p.Field, p.Field))
		case removed(p, from, to):
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE `%s` DROP COLUMN IF EXISTS %s", table, p.Field))
		}
	}
	return stmts
}
