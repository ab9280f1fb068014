package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/dbtest"
	"github.com/kernelci/kcidb/internal/orm"
	"github.com/kernelci/kcidb/internal/report"
	"github.com/kernelci/kcidb/internal/schema"
)

func TestConformance(t *testing.T) {
	dbtest.Run(t, func(*testing.T) db.Driver { return New() })
}

func TestUpdateDiscardsWritesOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Provision(ctx, schema.V(4, 2)))

	boom := errors.New("boom")
	err := s.Update(ctx, func(w db.Writer) error {
		require.NoError(t, w.Put(ctx, schema.Checkout, []report.Object{{"id": "c1"}}))
		got, err := w.Select(ctx, orm.Fetch{Type: schema.Checkout})
		require.NoError(t, err)
		assert.Len(t, got, 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.View(ctx, func(r db.Reader) error {
		got, err := r.Select(ctx, orm.Fetch{Type: schema.Checkout})
		assert.Empty(t, got)
		return err
	})
	require.NoError(t, err)
}

func TestSelect(t *testing.T) {
	objs := map[string]report.Object{
		"b3": {"id": "b3", "checkout_id": "c2"},
		"b1": {"id": "b1", "checkout_id": "c1"},
		"b2": {"id": "b2", "checkout_id": "c1"},
	}

	got := Select(objs, orm.Fetch{Type: schema.Build})
	assert.Equal(t, []report.Object{objs["b1"], objs["b2"], objs["b3"]}, got)

	got = Select(objs, orm.Fetch{Type: schema.Build, Field: "checkout_id", Values: []string{"c1"}, Limit: 1})
	assert.Equal(t, []report.Object{objs["b1"]}, got)

	got = Select(objs, orm.Fetch{Type: schema.Build, Field: "id", Values: []string{"zz"}})
	assert.Empty(t, got)

	got = Select(objs, orm.Fetch{Type: schema.Build, Field: "id", Values: []string{"b1"}})
	got[0]["checkout_id"] = "mutated"
	assert.Equal(t, "c1", objs["b1"]["checkout_id"])
}
