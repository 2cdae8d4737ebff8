package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relhist/internal/descriptor"
	"github.com/roach88/relhist/internal/history"
	"github.com/roach88/relhist/internal/row"
	"github.com/roach88/relhist/internal/testutil"
)

// createTestStore opens a fresh SQLite store with the article mapping applied.
func createTestStore(t *testing.T) (*Store, *descriptor.Registry) {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := testutil.MustRegistry(t, testutil.ArticleMapping())
	require.NoError(t, s.EnsureSchema(context.Background(), reg))
	return s, reg
}

func mustEntity(t *testing.T, reg *descriptor.Registry, key string) *descriptor.EntityType {
	t.Helper()
	et, ok := reg.Entity(key)
	require.True(t, ok, "entity %q", key)
	return et
}

func mustRole(t *testing.T, reg *descriptor.Registry, owner, name string) *descriptor.Descriptor {
	t.Helper()
	d, ok := reg.Lookup(owner, name)
	require.True(t, ok, "role %s.%s", owner, name)
	return d
}

func testTx(id int64) history.Transaction {
	return history.Transaction{ID: id, IssuedAt: testutil.Epoch.Add(time.Duration(id) * time.Second)}
}

func version(et *descriptor.EntityType, id string, op history.Operation, values row.Values) VersionRow {
	return VersionRow{
		Entity:  et,
		Version: history.EntityVersion{EntityType: et.Key(), EntityID: id, Operation: op, Values: values},
	}
}
