package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relhist/internal/history"
	"github.com/roach88/relhist/internal/row"
)

func TestWriteCommit_PersistsEverything(t *testing.T) {
	s, reg := createTestStore(t)
	ctx := context.Background()

	article := mustEntity(t, reg, "article")
	tag := mustEntity(t, reg, "tag")
	tags := mustRole(t, reg, "article", "tags")

	tx := testTx(1)
	tx.Actor = "user-1"
	tx.RemoteAddr = "10.0.0.1"

	err := s.WriteCommit(ctx, Commit{
		Transaction: tx,
		Versions: []VersionRow{
			version(article, "a1", history.OpInsert, row.Values{"name": row.Text("Some article")}),
			version(tag, "t1", history.OpInsert, row.Values{"name": row.Text("some tag")}),
		},
		Operations: []LedgerRow{{
			Association: tags.Association,
			LeftID:      "a1",
			RightID:     "t1",
			Operation:   history.OpInsert,
			Carried:     row.Values{"created_date": row.Time(tx.IssuedAt)},
		}},
	})
	require.NoError(t, err)

	got, err := s.ReadTransaction(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Actor)
	assert.Equal(t, "10.0.0.1", got.RemoteAddr)
	assert.True(t, tx.IssuedAt.Equal(got.IssuedAt))

	max, err := s.MaxTransactionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), max)

	n, err := s.CountOperations(ctx, tags.Association)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWriteCommit_AtomicOnFailure(t *testing.T) {
	s, reg := createTestStore(t)
	ctx := context.Background()

	article := mustEntity(t, reg, "article")
	tags := mustRole(t, reg, "article", "tags")

	// Two versions of the same entity in one transaction violate the
	// primary key; nothing from this commit may persist.
	err := s.WriteCommit(ctx, Commit{
		Transaction: testTx(1),
		Operations: []LedgerRow{{
			Association: tags.Association, LeftID: "a1", RightID: "t1", Operation: history.OpInsert,
		}},
		Versions: []VersionRow{
			version(article, "a1", history.OpInsert, row.Values{}),
			version(article, "a1", history.OpUpdate, row.Values{}),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write commit")

	max, err := s.MaxTransactionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), max)

	n, err := s.CountOperations(ctx, tags.Association)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWriteCommit_RejectsDuplicateTransaction(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteCommit(ctx, Commit{Transaction: testTx(1)}))
	require.Error(t, s.WriteCommit(ctx, Commit{Transaction: testTx(1)}))
}

func TestWriteCommit_CarriedTypeMismatch(t *testing.T) {
	s, reg := createTestStore(t)
	tags := mustRole(t, reg, "article", "tags")

	err := s.WriteCommit(context.Background(), Commit{
		Transaction: testTx(1),
		Operations: []LedgerRow{{
			Association: tags.Association, LeftID: "a1", RightID: "t1", Operation: history.OpInsert,
			Carried: row.Values{"created_date": row.Int(5)},
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want timestamp")
}

func TestWriteCommit_VersionRequiresTransactionRow(t *testing.T) {
	s, _ := createTestStore(t)

	// foreign_keys=ON: a version row cannot reference a missing transaction.
	_, err := s.DB().Exec(`INSERT INTO article_version (entity_id, transaction_id, operation_type, data) VALUES ('a1', 99, 0, '{}')`)
	require.Error(t, err)
}
