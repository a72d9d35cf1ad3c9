package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store"
	"github.com/xraph/rtp/store/sqlite"
	"github.com/xraph/rtp/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := sqlite.Open(":memory:")
		require.NoError(t, err)
		require.NoError(t, s.Migrate(context.Background()))
		return s
	})
}

func TestFileConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := sqlite.Open(filepath.Join(t.TempDir(), "rtp.db"))
		require.NoError(t, err)
		require.NoError(t, s.Migrate(context.Background()))
		return s
	})
}

func TestMigrateRecordsGroup(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rtp.db")

	for range 2 {
		s, err := sqlite.Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))

		var applied int
		err = sqlitedriver.Unwrap(s.DB()).
			NewRaw(`SELECT count(*) FROM grove_migrations WHERE "group" = ?`, "rtp").
			Scan(ctx, &applied)
		require.NoError(t, err)
		require.Equal(t, len(sqlite.Migrations.Migrations()), applied)
		require.NoError(t, s.Close())
	}
}

func TestReopenKeepsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rtp.db")

	s, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	tx := storetest.Tx(t, point.TypeDaily, "p1", 3, 1000)
	storetest.Commit(t, s, point.ConnectedPost{AuthorID: "p1", PostID: "e1", Head: "ア", Last: "イ", AcceptedAt: 1000}, tx)
	require.NoError(t, s.Close())

	s, err = sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	got, err := s.GetTransaction(ctx, tx.Key)
	require.NoError(t, err)
	require.Equal(t, int64(3), got.Amount)

	at, err := s.GetLastAcceptedAt(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), at)
}
