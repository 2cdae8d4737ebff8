package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relhist/internal/history"
	"github.com/roach88/relhist/internal/row"
	fixtures "github.com/roach88/relhist/internal/testutil"
)

func TestUnitOfWork_LazyAllocation(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())

	u := e.Begin()
	assert.Equal(t, "uow-1", u.Handle())
	assert.Zero(t, u.ID(), "no id before the first change")

	tx := mustCommit(t, u)
	assert.Zero(t, tx.ID)
	assert.Zero(t, e.clock.Current(), "an empty unit allocates nothing")

	txs, err := e.Transactions(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestUnitOfWork_CurrentIDIsStable(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())

	u := e.Begin()
	first, err := u.CurrentID()
	require.NoError(t, err)
	require.NoError(t, u.Insert("article", "a1", title("x")))
	second, err := u.CurrentID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, first, u.ID())

	other := e.Begin()
	otherID, err := other.CurrentID()
	require.NoError(t, err)
	assert.NotEqual(t, first, otherID, "units never share an id")
	other.Abort()
	u.Abort()
}

func TestUnitOfWork_AbortLeavesNoTrace(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())
	ctx := context.Background()

	u := e.Begin()
	require.NoError(t, u.Insert("article", "a1", title("x")))
	require.NoError(t, u.Link("article", "tags", "a1", "t1", nil))
	abortedID := u.ID()
	u.Abort()
	u.Abort()

	versions := mustVersions(t, e, "article", "a1")
	assert.Empty(t, versions)
	_, err := e.Transaction(ctx, abortedID)
	assert.True(t, IsMissingTransaction(err))

	// The aborted id is a gap; the next unit gets a fresh one.
	u = e.Begin()
	require.NoError(t, u.Insert("article", "a1", title("y")))
	tx := mustCommit(t, u)
	assert.Equal(t, abortedID+1, tx.ID)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.Aborts))
}

func TestUnitOfWork_ClosedUnitRejectsChanges(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())
	ctx := context.Background()

	committed := e.Begin()
	require.NoError(t, committed.Insert("article", "a1", title("x")))
	mustCommit(t, committed)

	aborted := e.Begin()
	aborted.Abort()

	for _, u := range []*UnitOfWork{committed, aborted} {
		assert.True(t, IsMissingTransaction(u.Insert("article", "a2", nil)))
		assert.True(t, IsMissingTransaction(u.Link("article", "tags", "a1", "t1", nil)))
		_, err := u.CurrentID()
		assert.True(t, IsMissingTransaction(err))
		_, err = u.Commit(ctx)
		assert.True(t, IsMissingTransaction(err))
	}
}

func TestUnitOfWork_RestampWhenOvertaken(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())

	early := e.Begin()
	require.NoError(t, early.Insert("article", "a1", title("early")))
	require.NoError(t, early.Link("article", "tags", "a1", "t1", nil))
	require.Equal(t, int64(1), early.ID())

	late := e.Begin()
	require.NoError(t, late.Insert("article", "a2", title("late")))
	require.Equal(t, int64(2), late.ID())

	lateTx := mustCommit(t, late)
	earlyTx := mustCommit(t, early)

	assert.Equal(t, int64(2), lateTx.ID)
	assert.Equal(t, int64(3), earlyTx.ID, "re-stamped above the watermark")
	assert.Equal(t, int64(3), e.Watermark())
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.Restamps))

	// id 1 is a gap.
	txs, err := e.Transactions(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, []int64{2, 3}, []int64{txs[0].ID, txs[1].ID})

	// The ledger ops moved with the unit.
	d := mustDescriptor(t, e, "article", "tags")
	ops, err := e.Ledger().OperationsFor(context.Background(), d, "a1", 3)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, int64(3), ops[0].TransactionID)
}

func TestUnitOfWork_ConcurrentCommitsIncreaseStrictly(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())
	const workers = 8

	var wg sync.WaitGroup
	ids := make(chan int64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := e.Begin()
			id := string(rune('a' + i))
			if err := u.Insert("article", id, title(id)); err != nil {
				t.Error(err)
				return
			}
			tx, err := u.Commit(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			ids <- tx.ID
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, workers)

	txs, err := e.Transactions(context.Background(), 0, 100)
	require.NoError(t, err)
	assert.Len(t, txs, workers)
}

func TestUnitOfWork_VersionMerging(t *testing.T) {
	tests := []struct {
		name    string
		stage   func(u *UnitOfWork) error
		wantOp  *history.Operation
		wantVal row.Values
	}{
		{
			name: "insert then update stays insert",
			stage: func(u *UnitOfWork) error {
				if err := u.Insert("article", "a1", row.Values{"title": row.Text("x"), "body": row.Text("b")}); err != nil {
					return err
				}
				return u.Update("article", "a1", row.Values{"title": row.Text("y")})
			},
			wantOp:  opPtr(history.OpInsert),
			wantVal: row.Values{"title": row.Text("y"), "body": row.Text("b")},
		},
		{
			name: "insert then delete cancels",
			stage: func(u *UnitOfWork) error {
				if err := u.Insert("article", "a1", title("x")); err != nil {
					return err
				}
				return u.Delete(context.Background(), "article", "a1", nil)
			},
		},
		{
			name: "update then delete is delete",
			stage: func(u *UnitOfWork) error {
				if err := u.Update("article", "a1", title("x")); err != nil {
					return err
				}
				return u.Delete(context.Background(), "article", "a1", nil)
			},
			wantOp:  opPtr(history.OpDelete),
			wantVal: title("x"),
		},
		{
			name: "delete then insert is update",
			stage: func(u *UnitOfWork) error {
				if err := u.Delete(context.Background(), "article", "a1", title("old")); err != nil {
					return err
				}
				return u.Insert("article", "a1", title("new"))
			},
			wantOp:  opPtr(history.OpUpdate),
			wantVal: title("new"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, fixtures.ArticleMapping())
			u := e.Begin()
			require.NoError(t, tt.stage(u))
			mustCommit(t, u)

			versions := mustVersions(t, e, "article", "a1")
			if tt.wantOp == nil {
				assert.Empty(t, versions)
				return
			}
			require.Len(t, versions, 1)
			assert.Equal(t, *tt.wantOp, versions[0].Operation)
			assert.Equal(t, tt.wantVal, versions[0].Values)
		})
	}
}

func opPtr(op history.Operation) *history.Operation {
	return &op
}

func TestUnitOfWork_ContradictoryChangesRejected(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())
	ctx := context.Background()

	u := e.Begin()
	require.NoError(t, u.Insert("article", "a1", title("x")))
	assert.True(t, IsInvalidOperation(u.Insert("article", "a1", title("again"))))

	require.NoError(t, u.Update("article", "a2", title("x")))
	require.NoError(t, u.Delete(ctx, "article", "a2", nil))
	assert.True(t, IsInvalidOperation(u.Update("article", "a2", title("zombie"))))
	u.Abort()
}

func TestUnitOfWork_DeleteUnlinksLivePairs(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())
	ctx := context.Background()

	u := e.Begin()
	require.NoError(t, u.Insert("article", "a1", title("x")))
	require.NoError(t, u.Insert("article", "a2", title("y")))
	require.NoError(t, u.Insert("tag", "t1", named("go")))
	require.NoError(t, u.Link("article", "tags", "a1", "t1", nil))
	require.NoError(t, u.Link("article", "references", "a1", "a2", nil))
	require.NoError(t, u.Link("article", "references", "a2", "a1", nil))
	mustCommit(t, u)

	u = e.Begin()
	require.NoError(t, u.Insert("tag", "t2", named("new")))
	require.NoError(t, u.Link("article", "tags", "a1", "t2", nil))
	require.NoError(t, u.Delete(ctx, "article", "a1", nil))
	tx := mustCommit(t, u)

	for _, role := range []string{"tags", "references", "cited_by"} {
		members, err := e.Reconstruct(ctx, "article", role, "a1", tx.ID)
		require.NoError(t, err)
		assert.Empty(t, members, role)
	}
	citedBy, err := e.Reconstruct(ctx, "article", "cited_by", "a2", tx.ID)
	require.NoError(t, err)
	assert.Empty(t, citedBy)

	// The staged link to t2 collapsed; only t1's unlink was written.
	d := mustDescriptor(t, e, "article", "tags")
	ops, err := e.Ledger().OperationsFor(ctx, d, "a1", tx.ID)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "t1", ops[1].PartnerID)
	assert.Equal(t, history.OpDelete, ops[1].Operation)
}

func TestUnitOfWork_DeleteAfterRedundantLinkUnlinks(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())
	ctx := context.Background()

	u := e.Begin()
	require.NoError(t, u.Insert("article", "a1", title("x")))
	require.NoError(t, u.Insert("tag", "t1", named("go")))
	require.NoError(t, u.Link("article", "tags", "a1", "t1", nil))
	mustCommit(t, u)

	u = e.Begin()
	require.NoError(t, u.Link("article", "tags", "a1", "t1", nil))
	require.NoError(t, u.Delete(ctx, "article", "a1", nil))
	deleted := mustCommit(t, u)

	u = e.Begin()
	require.NoError(t, u.Insert("article", "a1", title("again")))
	recreated := mustCommit(t, u)

	members, err := e.Reconstruct(ctx, "article", "tags", "a1", recreated.ID)
	require.NoError(t, err)
	assert.Empty(t, members, "the re-created article starts without tags")

	d := mustDescriptor(t, e, "article", "tags")
	ops, err := e.Ledger().OperationsFor(ctx, d, "a1", recreated.ID)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, history.OpDelete, ops[1].Operation)
	assert.Equal(t, deleted.ID, ops[1].TransactionID)
}

func TestUnitOfWork_LinkAfterDeleteRejected(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())
	ctx := context.Background()

	u := e.Begin()
	require.NoError(t, u.Insert("article", "a1", title("x")))
	require.NoError(t, u.Insert("tag", "t1", named("go")))
	require.NoError(t, u.Insert("tag", "t2", named("db")))
	require.NoError(t, u.Link("article", "tags", "a1", "t1", nil))
	mustCommit(t, u)

	u = e.Begin()
	require.NoError(t, u.Delete(ctx, "article", "a1", nil))
	assert.True(t, IsInvalidOperation(u.Link("article", "tags", "a1", "t1", nil)))
	assert.True(t, IsInvalidOperation(u.Link("tag", "articles", "t2", "a1", nil)), "deleted partner")
	require.NoError(t, u.Unlink("article", "tags", "a1", "t1"), "unlinking stays allowed")
	tx := mustCommit(t, u)

	for _, tag := range []string{"t1", "t2"} {
		members, err := e.Reconstruct(ctx, "tag", "articles", tag, tx.ID)
		require.NoError(t, err)
		assert.Empty(t, members, tag)
	}
}

func TestUnitOfWork_TransactionMetadata(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())

	u := e.Begin(WithActor("user-7"), WithRemoteAddr("10.0.0.7"))
	require.NoError(t, u.Insert("article", "a1", title("x")))
	tx := mustCommit(t, u)

	got, err := e.Transaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-7", got.Actor)
	assert.Equal(t, "10.0.0.7", got.RemoteAddr)
	assert.True(t, got.IssuedAt.Equal(fixtures.Epoch))
}

func TestUnitOfWork_UnknownNames(t *testing.T) {
	e := newTestEngine(t, fixtures.ArticleMapping())

	u := e.Begin()
	assert.True(t, IsUnknownName(u.Insert("comment", "c1", nil)))
	assert.True(t, IsUnknownName(u.Link("article", "comments", "a1", "c1", nil)))
	assert.True(t, IsUnknownName(u.Link("comment", "tags", "a1", "c1", nil)))
	assert.True(t, IsConfigurationError(u.Insert("category", "c1", nil)), "category is not versioned")
	assert.True(t, IsConfigurationError(u.Link("article", "view_tags", "a1", "t1", nil)))
	assert.Zero(t, u.ID(), "rejected changes allocate nothing")
	u.Abort()
}

func TestUnitOfWork_FailedCommitAborts(t *testing.T) {
	cfg := fixtures.ArticleMapping()
	s := openTestStore(t, cfg)
	e := newEngineOn(t, s, cfg)

	u := e.Begin()
	require.NoError(t, u.Insert("article", "a1", title("x")))
	require.NoError(t, s.Close())

	_, err := u.Commit(context.Background())
	require.Error(t, err)
	var he *HistoryError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, ErrCodeStorage, he.Code)
	assert.Zero(t, e.Watermark())

	_, err = u.Commit(context.Background())
	assert.True(t, IsMissingTransaction(err), "unit is closed after a failed commit")
}
