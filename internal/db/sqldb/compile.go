package sqldb

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kernelci/kcidb/internal/orm"
)

// CompileSelect turns a fetch into a parameterized SELECT over the data
// column. columns are the columns present in the table; fields without a
// column are matched through the JSON. Every statement is ordered by id and
// values are never interpolated.
func CompileSelect(d Dialect, f orm.Fetch, columns []string) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT data FROM %s", f.Type.Collection)

	var args []any
	if f.Field != "" {
		target := d.ExtractText("data", f.Field)
		if slices.Contains(columns, f.Field) {
			target = f.Field
		}
		marks := make([]string, len(f.Values))
		for i, v := range f.Values {
			marks[i] = d.Placeholder(i + 1)
			args = append(args, v)
		}
		fmt.Fprintf(&b, " WHERE %s IN (%s)", target, strings.Join(marks, ", "))
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(d.OrderByID())
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	return b.String(), args
}

// CompileUpsert returns an INSERT that replaces the row on id conflict.
func CompileUpsert(d Dialect, table string, columns []string) string {
	marks := make([]string, len(columns))
	var sets []string
	for i, c := range columns {
		marks[i] = d.Placeholder(i + 1)
		if i > 0 {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, strings.Join(columns, ", "), strings.Join(marks, ", "), columns[0], strings.Join(sets, ", "))
}
