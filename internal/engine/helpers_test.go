package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relhist/internal/history"
	"github.com/roach88/relhist/internal/mapping"
	"github.com/roach88/relhist/internal/row"
	"github.com/roach88/relhist/internal/store"
	"github.com/roach88/relhist/internal/testutil"
)

// newTestEngine opens a fresh SQLite store for cfg and returns an engine
// with a deterministic clock and handles.
func newTestEngine(t *testing.T, cfg *mapping.Config, opts ...Option) *Engine {
	t.Helper()
	s := openTestStore(t, cfg)
	return newEngineOn(t, s, cfg, opts...)
}

func openTestStore(t *testing.T, cfg *mapping.Config) *store.Store {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := testutil.MustRegistry(t, cfg)
	require.NoError(t, s.EnsureSchema(context.Background(), reg))
	return s
}

func newEngineOn(t *testing.T, s *store.Store, cfg *mapping.Config, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithNow(testutil.NewStepClock().Now),
		WithHandleGenerator(&testutil.SequentialHandles{}),
	}
	e, err := New(context.Background(), s, testutil.MustRegistry(t, cfg), append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func mustCommit(t *testing.T, u *UnitOfWork) history.Transaction {
	t.Helper()
	tx, err := u.Commit(context.Background())
	require.NoError(t, err)
	return tx
}

func mustVersions(t *testing.T, e *Engine, entityType, id string) []*Version {
	t.Helper()
	vs, err := e.Versions(context.Background(), entityType, id)
	require.NoError(t, err)
	return vs
}

func mustRelationship(t *testing.T, v *Version, role string) []*Version {
	t.Helper()
	members, err := v.Relationship(context.Background(), role)
	require.NoError(t, err)
	return members
}

// memberKeys renders members as type:id@tx for compact assertions.
func memberKeys(members []*Version) []string {
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = m.Key().String()
	}
	return keys
}

func named(s string) row.Values {
	return row.Values{"name": row.Text(s)}
}

func title(s string) row.Values {
	return row.Values{"title": row.Text(s)}
}

func vkey(entityType, id string, tx int64) string {
	return fmt.Sprintf("%s:%s@%d", entityType, id, tx)
}
