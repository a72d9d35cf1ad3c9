package ranking_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/ranking"
	"github.com/xraph/rtp/store/memory"
	"github.com/xraph/rtp/store/storetest"
	"github.com/xraph/rtp/txrepo"
	"github.com/xraph/rtp/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func tx(author string, amount int64) *point.Transaction {
	return &point.Transaction{Type: point.TypeShiritori, AuthorID: author, Amount: amount}
}

func TestAggregate(t *testing.T) {
	txs := []*point.Transaction{
		tx("a", 3), tx("a", 4), // 7
		tx("b", 7),             // 7
		tx("c", 9),             // 9
		tx("d", 4),             // dropped
		tx("e", 5),             // 5
	}

	got := ranking.Aggregate(txs, ranking.DefaultOptions())
	want := []ranking.Entry{
		{Rank: 1, AuthorID: "c", Points: 9},
		{Rank: 2, AuthorID: "a", Points: 7},
		{Rank: 2, AuthorID: "b", Points: 7},
		{Rank: 4, AuthorID: "e", Points: 5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateLimit(t *testing.T) {
	var txs []*point.Transaction
	for i := range 15 {
		txs = append(txs, tx(string(rune('a'+i)), int64(100-i)))
	}

	got := ranking.Aggregate(txs, ranking.Options{Limit: 10})
	if len(got) != 10 {
		t.Fatalf("got %d entries, want 10", len(got))
	}
	if got[9].Rank != 10 || got[9].AuthorID != "j" {
		t.Errorf("last entry = %+v, want rank 10 for j", got[9])
	}

	if all := ranking.Aggregate(txs, ranking.Options{}); len(all) != 15 {
		t.Errorf("unlimited aggregation returned %d entries, want 15", len(all))
	}
}

func TestFormat(t *testing.T) {
	entries := []ranking.Entry{
		{Rank: 1, AuthorID: "aaa", Name: "alice", Points: 12},
		{Rank: 1, AuthorID: "bbb", Points: 12},
		{Rank: 4, AuthorID: "ccc", Name: "carol", Points: 6},
		{Rank: 11, AuthorID: "ddd", Points: 5},
	}

	got := ranking.Format(entries)
	want := []string{
		"🥇 12 alice (nostr:aaa)",
		"🥇 12 nostr:bbb",
		"4️⃣ 6 carol (nostr:ccc)",
		"11 5 nostr:ddd",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Format mismatch (-want +got):\n%s", diff)
	}
}

func TestResolve(t *testing.T) {
	entries := []ranking.Entry{{Rank: 1, AuthorID: "aaa", Points: 9}, {Rank: 2, AuthorID: "bbb", Points: 8}}

	named, err := ranking.Resolve(context.Background(), entries, ranking.ResolverFunc(
		func(_ context.Context, ids []string) (map[string]string, error) {
			return map[string]string{"aaa": "alice"}, nil
		}))
	if err != nil {
		t.Fatal(err)
	}
	if named[0].Name != "alice" || named[1].Name != "" {
		t.Errorf("names = %q, %q", named[0].Name, named[1].Name)
	}
	if entries[0].Name != "" {
		t.Error("Resolve modified its input")
	}

	raw, err := ranking.Resolve(context.Background(), entries, ranking.ResolverFunc(
		func(context.Context, []string) (map[string]string, error) {
			return nil, errors.New("relay unreachable")
		}))
	if err == nil {
		t.Error("expected resolver error")
	}
	if len(raw) != 2 || raw[0].Name != "" {
		t.Errorf("entries on failure = %+v, want unnamed copies", raw)
	}
}

func seededAggregator(t *testing.T, opts ...ranking.AggregatorOption) *ranking.Aggregator {
	t.Helper()
	s := memory.New()
	day := int64(1707836400) // 2024-02-14 00:00:00 JST
	for _, e := range []struct {
		author string
		amount int64
		at     int64
	}{
		{"p1", 6, day - 1}, // previous day
		{"p1", 5, day},
		{"p2", 8, day + 3600},
		{"p3", 2, day + 7200},
	} {
		p := point.ConnectedPost{AuthorID: e.author, PostID: "e", Head: "ア", Last: "イ", AcceptedAt: e.at}
		storetest.Commit(t, s, p, storetest.Tx(t, point.TypeShiritori, e.author, e.amount, e.at))
	}
	return ranking.NewAggregator(txrepo.New(s), opts...)
}

func TestDailyText(t *testing.T) {
	agg := seededAggregator(t, ranking.WithResolver(ranking.ResolverFunc(
		func(context.Context, []string) (map[string]string, error) {
			return map[string]string{"p2": "bob"}, nil
		})))

	d, err := types.ParseDay("2024-02-14")
	if err != nil {
		t.Fatal(err)
	}
	text, err := agg.DailyText(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}

	want := "2024/2/14の獲得りとポランキング❗\n\n🥇 8 bob (nostr:p2)\n🥈 5 nostr:p1"
	if text != want {
		t.Errorf("DailyText =\n%s\nwant\n%s", text, want)
	}
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		now  string
		want string
	}{
		{"before post time", "2024-02-14T00:00:05+09:00", "2024-02-14T00:00:10+09:00"},
		{"exactly at post time", "2024-02-14T00:00:10+09:00", "2024-02-15T00:00:10+09:00"},
		{"afternoon", "2024-02-14T15:00:00+09:00", "2024-02-15T00:00:10+09:00"},
		{"UTC evening is already the next JST day", "2024-02-14T15:30:00Z", "2024-02-16T00:00:10+09:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now, _ := time.Parse(time.RFC3339, tt.now)
			want, _ := time.Parse(time.RFC3339, tt.want)
			if got := ranking.NextRun(now, ranking.DefaultPostOffset); !got.Equal(want) {
				t.Errorf("NextRun(%s) = %s, want %s", tt.now, got, want)
			}
		})
	}
}

func TestPosterPostsYesterday(t *testing.T) {
	// 10ms before the post time of 2024-02-15, so the loop fires almost at once.
	base, _ := time.Parse(time.RFC3339Nano, "2024-02-15T00:00:09.99+09:00")
	started := time.Now()
	clock := func() time.Time { return base.Add(time.Since(started)) }

	notes := make(chan string, 1)
	var published atomic.Int32
	pub := ranking.NotePublisherFunc(func(_ context.Context, content string) error {
		if published.Add(1) == 1 {
			notes <- content
		}
		return nil
	})

	p := ranking.NewPoster(seededAggregator(t), pub, ranking.WithClock(clock))
	p.Start(context.Background())
	defer p.Stop()

	select {
	case note := <-notes:
		if !strings.HasPrefix(note, "2024/2/14の獲得りとポランキング❗") {
			t.Errorf("note header = %q", strings.SplitN(note, "\n", 2)[0])
		}
		if !strings.Contains(note, "🥇 8 nostr:p2") {
			t.Errorf("note = %q, want p2 first", note)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poster did not publish")
	}
}

func TestPosterStopIsIdempotent(t *testing.T) {
	p := ranking.NewPoster(seededAggregator(t), ranking.NotePublisherFunc(
		func(context.Context, string) error { return nil }))

	p.Start(context.Background())
	p.Start(context.Background())
	p.Stop()
	p.Stop()
}
