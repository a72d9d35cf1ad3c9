package kv_test

import (
	"context"
	"testing"

	dbm "github.com/cosmos/cosmos-db"
	"github.com/stretchr/testify/require"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store"
	"github.com/xraph/rtp/store/kv"
	"github.com/xraph/rtp/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := kv.NewMem()
		require.NoError(t, s.Migrate(context.Background()))
		return s
	})
}

func TestReopenKeepsSequence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := kv.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	storetest.Commit(t, s, point.ConnectedPost{AuthorID: "p1", PostID: "e1", Head: "ア", Last: "イ", AcceptedAt: 1000})
	before, err := s.LoadGrantState(ctx, "p2")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = kv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	storetest.Commit(t, s, point.ConnectedPost{AuthorID: "p2", PostID: "e2", Head: "イ", Last: "ウ", AcceptedAt: 1001})
	after, err := s.LoadGrantState(ctx, "p2")
	require.NoError(t, err)
	require.NotEqual(t, before.LastConnectionVersion, after.LastConnectionVersion)
	require.NotNil(t, after.LastAcceptedAt)
}

func TestSequenceSurvivesSkippedMigrate(t *testing.T) {
	ctx := context.Background()
	db := dbm.NewMemDB()

	first := kv.New(db)
	require.NoError(t, first.Migrate(ctx))
	storetest.Commit(t, first, point.ConnectedPost{AuthorID: "p1", PostID: "e1", Head: "ア", Last: "イ", AcceptedAt: 1000})

	second := kv.New(db)
	t.Cleanup(func() { _ = second.Close() })
	stale, err := second.LoadGrantState(ctx, "p3")
	require.NoError(t, err)

	storetest.Commit(t, second, point.ConnectedPost{AuthorID: "p2", PostID: "e2", Head: "イ", Last: "ウ", AcceptedAt: 1001})
	fresh, err := second.LoadGrantState(ctx, "p3")
	require.NoError(t, err)
	require.NotEqual(t, stale.LastConnectionVersion, fresh.LastConnectionVersion)

	err = second.CommitGrant(ctx, &store.GrantCommit{
		AuthorID:             "p3",
		ExpectLastAccepted:   stale.LastAcceptedVersion,
		ExpectLastConnection: stale.LastConnectionVersion,
		LastAcceptedAt:       1002,
		LastConnection: point.LastConnection{ConnectedPost: point.ConnectedPost{
			AuthorID: "p3", PostID: "e3", Head: "ウ", Last: "エ", AcceptedAt: 1002,
		}},
	})
	require.ErrorIs(t, err, rtp.ErrConflict)
}

func TestAuthorPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMem()
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	storetest.Commit(t, s, point.ConnectedPost{AuthorID: "a/b", PostID: "e1", Head: "ア", Last: "イ", AcceptedAt: 1000},
		storetest.Tx(t, point.TypeShiritori, "a/b", 1, 1000))

	txs, err := s.ListTransactions(ctx, store.TxQuery{AuthorID: "a"})
	require.NoError(t, err)
	require.Empty(t, txs)
}
