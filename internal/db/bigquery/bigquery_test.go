package bigquery

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/dbtest"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

func TestParseDataset(t *testing.T) {
	project, dataset, err := ParseDataset("kernelci-prod.kcidb_04")
	require.NoError(t, err)
	assert.Equal(t, "kernelci-prod", project)
	assert.Equal(t, "kcidb_04", dataset)

	for _, bad := range []string{"", "project", ".dataset", "project.", "a.b.c"} {
		_, _, err := ParseDataset(bad)
		assert.Error(t, err, bad)
	}
}

func TestSelectSQL(t *testing.T) {
	const dedupe = "SELECT data FROM (SELECT * FROM `p.d.%s`%s WHERE TRUE " +
		"QUALIFY ROW_NUMBER() OVER (PARTITION BY id ORDER BY loaded_at DESC) = 1)"
	tests := []struct {
		name     string
		fetch    orm.Fetch
		snapshot bool
		want     string
	}{
		{
			name:  "all",
			fetch: orm.Fetch{Type: schema.Checkout},
			want:  fmt.Sprintf(dedupe, "checkouts", "") + " ORDER BY id",
		},
		{
			name:     "snapshot with limit",
			fetch:    orm.Fetch{Type: schema.Build, Limit: 3},
			snapshot: true,
			want:     fmt.Sprintf(dedupe, "builds", " FOR SYSTEM_TIME AS OF @snapshot") + " ORDER BY id LIMIT 3",
		},
		{
			name:  "by column",
			fetch: orm.Fetch{Type: schema.Test, Field: "build_id", Values: []string{"b"}},
			want:  fmt.Sprintf(dedupe, "tests", "") + " WHERE build_id IN UNNEST(@values) ORDER BY id",
		},
		{
			name:  "by json field",
			fetch: orm.Fetch{Type: schema.Test, Field: "status", Values: []string{"FAIL"}},
			want:  fmt.Sprintf(dedupe, "tests", "") + " WHERE JSON_VALUE(data, '$.status') IN UNNEST(@values) ORDER BY id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := "p.d." + tt.fetch.Type.Collection
			got := selectSQL(table, tt.fetch, columns(tt.fetch.Type, schema.V(4, 2)), tt.snapshot)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInsertSQL(t *testing.T) {
	got := insertSQL("p.d.tests", columns(schema.Test, schema.V(4, 1)))
	assert.Equal(t, "INSERT INTO `p.d.tests` (id, build_id, path, data, loaded_at) "+
		"SELECT JSON_VALUE(r, '$.id'), JSON_VALUE(r, '$.build_id'), JSON_VALUE(r, '$.path'), r, CURRENT_TIMESTAMP() "+
		"FROM UNNEST(@rows) AS r", got)
}

func TestNormalizedRow(t *testing.T) {
	in := report.Object{
		"id":       "te\u0301st",
		"build_id": "bu\u0301ild",
		"path":     "ba\u0301se",
		"origin":   "o",
		"comment":  "cafe\u0301",
		"duration": 1.5,
	}
	out := normalizedRow(in, columns(schema.Test, schema.V(4, 2)))

	assert.Equal(t, "t\u00e9st", out["id"])
	assert.Equal(t, "b\u00faild", out["build_id"])
	assert.Equal(t, "b\u00e1se", out["path"])
	assert.Equal(t, "cafe\u0301", out["comment"], "unpromoted fields keep their form")
	assert.Equal(t, 1.5, out["duration"])
	assert.Equal(t, "te\u0301st", in["id"], "input is not modified")
}

func TestMigrationSQL(t *testing.T) {
	assert.Equal(t, []string{
		"UPDATE `p.d.tests` SET path = JSON_VALUE(data, '$.path') WHERE TRUE",
		"UPDATE `p.d.checkouts` SET patchset_hash = JSON_VALUE(data, '$.patchset_hash') WHERE TRUE",
	}, migrationSQL("p.d", schema.V(4, 0), schema.V(4, 2)))

	assert.Equal(t, []string{
		"ALTER TABLE `p.d.checkouts` DROP COLUMN IF EXISTS patchset_hash",
	}, migrationSQL("p.d", schema.V(4, 2), schema.V(4, 1)))

	assert.Empty(t, migrationSQL("p.d", schema.V(4, 1), schema.V(4, 1)))
}

func TestTableSchema(t *testing.T) {
	s := tableSchema(schema.Build, schema.V(4, 0))
	require.Len(t, s, 4)
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"id", "checkout_id", "data", "loaded_at"}, names)
	assert.True(t, s[1].Required)
}

// TestConformance needs a scratch project; KCIDB_TEST_BIGQUERY names it.
// Every subtest gets its own dataset.
func TestConformance(t *testing.T) {
	project := os.Getenv("KCIDB_TEST_BIGQUERY")
	if project == "" {
		t.Skip("KCIDB_TEST_BIGQUERY not set")
	}
	n := 0
	dbtest.Run(t, func(t *testing.T) db.Driver {
		n++
		spec := fmt.Sprintf("%s.kcidb_test_%d_%d", project, time.Now().Unix(), n)
		ctx := context.Background()
		d, err := Open(ctx, spec)
		require.NoError(t, err)
		t.Cleanup(func() {
			s, err := NewStorage(ctx, spec)
			if err != nil {
				return
			}
			defer s.Close()
			_ = s.dataset.DeleteWithContents(ctx)
		})
		return d
	})
}
