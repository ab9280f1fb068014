package sqldb_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/sqlite"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

func TestSelectChunksLargeValueLists(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.NewStorage(filepath.Join(t.TempDir(), "kcidb.sqlite3"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Provision(ctx, schema.Default.Current()))

	var objs []report.Object
	var ids []string
	for i := range 1200 {
		id := fmt.Sprintf("c%04d", i)
		ids = append(ids, id)
		objs = append(objs, report.Object{"id": id, "origin": "test"})
	}
	require.NoError(t, s.Update(ctx, func(w db.Writer) error {
		return w.Put(ctx, schema.Checkout, objs)
	}))

	require.NoError(t, s.View(ctx, func(r db.Reader) error {
		got, err := r.Select(ctx, orm.Fetch{Type: schema.Checkout, Field: "id", Values: ids, Limit: 1000})
		require.NoError(t, err)
		require.Len(t, got, 1000)
		assert.Equal(t, "c0000", got[0].ID())
		assert.Equal(t, "c0999", got[999].ID())

		got, err = r.Select(ctx, orm.Fetch{Type: schema.Checkout, Field: "id", Values: nil})
		require.NoError(t, err)
		assert.Empty(t, got)
		return nil
	}))
}
