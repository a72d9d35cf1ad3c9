// Package storetest is a conformance suite shared by every store backend.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store"
)

// Factory returns a fresh, migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run runs the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EmptyState", testEmptyState},
		{"CommitAndLoad", testCommitAndLoad},
		{"StaleConnectionConflicts", testStaleConnectionConflicts},
		{"StaleAuthorConflicts", testStaleAuthorConflicts},
		{"AbsentExpectationConflicts", testAbsentExpectationConflicts},
		{"GetTransaction", testGetTransaction},
		{"ListOrderAndRange", testListOrderAndRange},
		{"AuthorIndex", testAuthorIndex},
		{"ListLimit", testListLimit},
		{"ConcurrentGrants", testConcurrentGrants},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// Tx builds a keyed transaction granted at unix second at.
func Tx(t *testing.T, typ point.Type, author string, amount, at int64) *point.Transaction {
	t.Helper()
	key, err := id.NewOrderKey(time.Unix(at, 0))
	require.NoError(t, err)
	return &point.Transaction{
		Key:       key,
		GrantID:   id.NewGrantID(),
		Type:      typ,
		Amount:    amount,
		AuthorID:  author,
		PostID:    "post-" + author,
		GrantedAt: at,
	}
}

// Commit loads the author's state and commits post with txs on top of it.
func Commit(t *testing.T, s store.Store, post point.ConnectedPost, txs ...*point.Transaction) {
	t.Helper()
	ctx := context.Background()

	st, err := s.LoadGrantState(ctx, post.AuthorID)
	require.NoError(t, err)
	require.NoError(t, s.CommitGrant(ctx, &store.GrantCommit{
		AuthorID:             post.AuthorID,
		ExpectLastAccepted:   st.LastAcceptedVersion,
		ExpectLastConnection: st.LastConnectionVersion,
		LastAcceptedAt:       post.AcceptedAt,
		LastConnection:       point.LastConnection{ConnectedPost: post},
		Transactions:         txs,
	}))
}

func post(author, postID string, at int64) point.ConnectedPost {
	return point.ConnectedPost{AuthorID: author, PostID: postID, Head: "ア", Last: "イ", AcceptedAt: at}
}

func keysOf(txs []*point.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Key.String()
	}
	return out
}

func testEmptyState(t *testing.T, s store.Store) {
	ctx := context.Background()

	st, err := s.LoadGrantState(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, st.LastAcceptedAt)
	assert.Nil(t, st.LastConnection)
	assert.Empty(t, st.LastAcceptedVersion)
	assert.Empty(t, st.LastConnectionVersion)

	_, err = s.GetLastAcceptedAt(ctx, "p1")
	assert.ErrorIs(t, err, rtp.ErrNotFound)

	_, err = s.GetLastConnection(ctx)
	assert.ErrorIs(t, err, rtp.ErrNotFound)

	txs, err := s.ListTransactions(ctx, store.TxQuery{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func testCommitAndLoad(t *testing.T, s store.Store) {
	ctx := context.Background()
	p := post("p1", "e1", 1000)
	tx := Tx(t, point.TypeDaily, "p1", 3, 1000)

	Commit(t, s, p, tx)

	st, err := s.LoadGrantState(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, st.LastAcceptedAt)
	assert.Equal(t, int64(1000), *st.LastAcceptedAt)
	require.NotNil(t, st.LastConnection)
	assert.Equal(t, p, st.LastConnection.ConnectedPost)
	assert.NotEmpty(t, st.LastAcceptedVersion)
	assert.NotEmpty(t, st.LastConnectionVersion)

	at, err := s.GetLastAcceptedAt(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), at)

	lc, err := s.GetLastConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", lc.PostID)
	assert.False(t, lc.HibernationBreaking)

	// Other authors see the shared connection but no acceptance.
	other, err := s.LoadGrantState(ctx, "p2")
	require.NoError(t, err)
	assert.Nil(t, other.LastAcceptedAt)
	assert.Equal(t, st.LastConnectionVersion, other.LastConnectionVersion)
}

func testStaleConnectionConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()

	stale, err := s.LoadGrantState(ctx, "p2")
	require.NoError(t, err)

	Commit(t, s, post("p1", "e1", 1000), Tx(t, point.TypeShiritori, "p1", 1, 1000))

	loser := Tx(t, point.TypeShiritori, "p2", 1, 1001)
	err = s.CommitGrant(ctx, &store.GrantCommit{
		AuthorID:             "p2",
		ExpectLastAccepted:   stale.LastAcceptedVersion,
		ExpectLastConnection: stale.LastConnectionVersion,
		LastAcceptedAt:       1001,
		LastConnection:       point.LastConnection{ConnectedPost: post("p2", "e2", 1001)},
		Transactions:         []*point.Transaction{loser},
	})
	require.ErrorIs(t, err, rtp.ErrConflict)

	// Nothing from the losing commit is visible.
	_, err = s.GetLastAcceptedAt(ctx, "p2")
	assert.ErrorIs(t, err, rtp.ErrNotFound)
	_, err = s.GetTransaction(ctx, loser.Key)
	assert.ErrorIs(t, err, rtp.ErrNotFound)
	byAuthor, err := s.ListTransactions(ctx, store.TxQuery{AuthorID: "p2"})
	require.NoError(t, err)
	assert.Empty(t, byAuthor)
	lc, err := s.GetLastConnection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "e1", lc.PostID)
}

func testStaleAuthorConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()

	Commit(t, s, post("p1", "e1", 1000))
	st, err := s.LoadGrantState(ctx, "p1")
	require.NoError(t, err)

	// Bump only the connection version through another author, then reuse the
	// fresh connection version with a stale acceptance version.
	Commit(t, s, post("p2", "e2", 1001))
	fresh, err := s.LoadGrantState(ctx, "p2")
	require.NoError(t, err)

	err = s.CommitGrant(ctx, &store.GrantCommit{
		AuthorID:             "p1",
		ExpectLastAccepted:   "",
		ExpectLastConnection: fresh.LastConnectionVersion,
		LastAcceptedAt:       1002,
		LastConnection:       point.LastConnection{ConnectedPost: post("p1", "e3", 1002)},
	})
	require.ErrorIs(t, err, rtp.ErrConflict)

	at, err := s.GetLastAcceptedAt(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, *st.LastAcceptedAt, at)
}

func testAbsentExpectationConflicts(t *testing.T, s store.Store) {
	ctx := context.Background()
	Commit(t, s, post("p1", "e1", 1000))

	err := s.CommitGrant(ctx, &store.GrantCommit{
		AuthorID:       "p2",
		LastAcceptedAt: 1001,
		LastConnection: point.LastConnection{ConnectedPost: post("p2", "e2", 1001)},
	})
	require.ErrorIs(t, err, rtp.ErrConflict)
}

func testGetTransaction(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx := Tx(t, point.TypeSpecialConnection, "p1", 10, 2000)
	Commit(t, s, post("p1", "e1", 2000), tx)

	got, err := s.GetTransaction(ctx, tx.Key)
	require.NoError(t, err)
	assert.Equal(t, tx.Key, got.Key)
	assert.Equal(t, tx.GrantID.String(), got.GrantID.String())
	assert.Equal(t, point.TypeSpecialConnection, got.Type)
	assert.Equal(t, int64(10), got.Amount)
	assert.Equal(t, "p1", got.AuthorID)
	assert.Equal(t, tx.PostID, got.PostID)
	assert.Equal(t, int64(2000), got.GrantedAt)

	missing, err := id.MinOrderKey(time.Unix(1, 0))
	require.NoError(t, err)
	_, err = s.GetTransaction(ctx, missing)
	assert.ErrorIs(t, err, rtp.ErrNotFound)
}

func testListOrderAndRange(t *testing.T, s store.Store) {
	ctx := context.Background()

	var all []*point.Transaction
	for i, at := range []int64{3000, 1000, 2000, 2000} {
		author := []string{"p1", "p2", "p1", "p2"}[i]
		tx := Tx(t, point.TypeShiritori, author, 1, at)
		Commit(t, s, post(author, "e", at), tx)
		all = append(all, tx)
	}

	got, err := s.ListTransactions(ctx, store.TxQuery{})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.True(t, sort.StringsAreSorted(keysOf(got)), "primary scan not ordered")
	assert.Equal(t, int64(1000), got[0].GrantedAt)
	assert.Equal(t, int64(3000), got[3].GrantedAt)

	start := id.MustMinOrderKey(time.Unix(2000, 0))
	end := id.MustMinOrderKey(time.Unix(3000, 0))

	mid, err := s.ListTransactions(ctx, store.TxQuery{Start: start, End: end})
	require.NoError(t, err)
	require.Len(t, mid, 2)
	for _, tx := range mid {
		assert.Equal(t, int64(2000), tx.GrantedAt)
	}

	since, err := s.ListTransactions(ctx, store.TxQuery{Start: start})
	require.NoError(t, err)
	assert.Len(t, since, 3)

	until, err := s.ListTransactions(ctx, store.TxQuery{End: start})
	require.NoError(t, err)
	require.Len(t, until, 1)
	assert.Equal(t, int64(1000), until[0].GrantedAt)
}

func testAuthorIndex(t *testing.T, s store.Store) {
	ctx := context.Background()

	Commit(t, s, post("p1", "e1", 1000),
		Tx(t, point.TypeShiritori, "p1", 1, 1000),
		Tx(t, point.TypeDaily, "p1", 3, 1000))
	Commit(t, s, post("p2", "e2", 1100),
		Tx(t, point.TypeShiritori, "p2", 1, 1100),
		Tx(t, point.TypeNicePass, "p1", 5, 1100))

	p1, err := s.ListTransactions(ctx, store.TxQuery{AuthorID: "p1"})
	require.NoError(t, err)
	require.Len(t, p1, 3)
	assert.True(t, sort.StringsAreSorted(keysOf(p1)), "author scan not ordered")
	assert.Equal(t, int64(9), point.Total(p1))

	p2, err := s.ListTransactions(ctx, store.TxQuery{AuthorID: "p2"})
	require.NoError(t, err)
	require.Len(t, p2, 1)

	windowed, err := s.ListTransactions(ctx, store.TxQuery{
		AuthorID: "p1",
		Start:    id.MustMinOrderKey(time.Unix(1050, 0)),
	})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, point.TypeNicePass, windowed[0].Type)

	// Every transaction is visible under both indexes.
	primary, err := s.ListTransactions(ctx, store.TxQuery{})
	require.NoError(t, err)
	byKey := make(map[id.OrderKey]bool, len(primary))
	for _, tx := range primary {
		byKey[tx.Key] = true
	}
	for _, tx := range append(p1, p2...) {
		assert.True(t, byKey[tx.Key], "key %s missing from primary index", tx.Key)
	}
	assert.Len(t, primary, len(p1)+len(p2))
}

func testListLimit(t *testing.T, s store.Store) {
	ctx := context.Background()
	for at := int64(1000); at < 1005; at++ {
		Commit(t, s, post("p1", "e", at), Tx(t, point.TypeShiritori, "p1", 1, at))
	}

	got, err := s.ListTransactions(ctx, store.TxQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1000), got[0].GrantedAt)
	assert.Equal(t, int64(1001), got[1].GrantedAt)
}

// concurrentAuthors is the number of authors granting at once in
// testConcurrentGrants.
const concurrentAuthors = 24

func testConcurrentGrants(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := rtp.New(s, rtp.WithMaxAttempts(1000), rtp.WithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, e.Start(ctx))

	var wg sync.WaitGroup
	errs := make(chan error, concurrentAuthors)
	for i := range concurrentAuthors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Grant(ctx, point.ConnectedPost{
				AuthorID:   fmt.Sprintf("p%02d", i),
				PostID:     fmt.Sprintf("e%02d", i),
				Head:       "ア",
				Last:       "イ",
				AcceptedAt: 1707836400 + int64(i),
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Grant: %v", err)
	}

	primary, err := s.ListTransactions(ctx, store.TxQuery{})
	require.NoError(t, err)
	assert.True(t, sort.StringsAreSorted(keysOf(primary)), "primary scan not ordered")

	base := 0
	for _, tx := range primary {
		if tx.Type == point.TypeShiritori {
			base++
		}
	}
	assert.Equal(t, concurrentAuthors, base, "base grants")

	indexed := 0
	for i := range concurrentAuthors {
		author := fmt.Sprintf("p%02d", i)
		txs, err := s.ListTransactions(ctx, store.TxQuery{AuthorID: author})
		require.NoError(t, err)
		indexed += len(txs)

		_, err = s.GetLastAcceptedAt(ctx, author)
		assert.NoError(t, err, "author %s", author)
	}
	assert.Equal(t, len(primary), indexed, "primary and author index disagree")
}
