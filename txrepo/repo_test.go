package txrepo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store/memory"
	"github.com/xraph/rtp/store/storetest"
	"github.com/xraph/rtp/txrepo"
)

func unix(t *testing.T, s string) int64 {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts.Unix()
}

// seed commits one transaction per (author, instant).
func seed(t *testing.T, entries []struct {
	author string
	at     string
	amount int64
}) *txrepo.Repository {
	t.Helper()
	s := memory.New()
	for _, e := range entries {
		at := unix(t, e.at)
		post := point.ConnectedPost{AuthorID: e.author, PostID: "e", Head: "ア", Last: "イ", AcceptedAt: at}
		storetest.Commit(t, s, post, storetest.Tx(t, point.TypeShiritori, e.author, e.amount, at))
	}
	return txrepo.New(s)
}

var fixture = []struct {
	author string
	at     string
	amount int64
}{
	{"p1", "2024-02-13T23:59:59+09:00", 1},
	{"p1", "2024-02-14T00:00:00+09:00", 2},
	{"p2", "2024-02-14T12:00:00+09:00", 3},
	{"p1", "2024-02-14T23:59:59+09:00", 4},
	{"p2", "2024-02-15T00:00:00+09:00", 5},
}

func TestFindAllWithinDay(t *testing.T) {
	repo := seed(t, fixture)
	ctx := context.Background()

	txs, err := repo.FindAllWithinDay(ctx, "2024-02-14")
	if err != nil {
		t.Fatalf("FindAllWithinDay: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("got %d transactions, want 3", len(txs))
	}
	start := unix(t, "2024-02-14T00:00:00+09:00")
	for _, tx := range txs {
		if tx.GrantedAt < start || tx.GrantedAt >= start+24*3600 {
			t.Errorf("transaction at %d outside the day", tx.GrantedAt)
		}
	}
	if got := point.Total(txs); got != 9 {
		t.Errorf("total = %d, want 9", got)
	}
}

func TestFindAllByAuthorWithinDay(t *testing.T) {
	repo := seed(t, fixture)
	ctx := context.Background()

	txs, err := repo.FindAllByAuthorWithinDay(ctx, "p1", "2024-02-14")
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 || point.Total(txs) != 6 {
		t.Errorf("got %d transactions totalling %d, want 2 totalling 6", len(txs), point.Total(txs))
	}
}

func TestFindAllWithinTimeRangeOpenBounds(t *testing.T) {
	repo := seed(t, fixture)
	ctx := context.Background()
	pivot := time.Unix(unix(t, "2024-02-14T12:00:00+09:00"), 0)

	tests := []struct {
		name string
		tr   txrepo.TimeRange
		want int
	}{
		{"unbounded", txrepo.TimeRange{}, 5},
		{"since only", txrepo.TimeRange{Since: &pivot}, 3},
		{"until only", txrepo.TimeRange{Until: &pivot}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs, err := repo.FindAllWithinTimeRange(ctx, tt.tr)
			if err != nil {
				t.Fatal(err)
			}
			if len(txs) != tt.want {
				t.Errorf("got %d transactions, want %d", len(txs), tt.want)
			}
		})
	}
}

func TestPreEpochBoundsClamp(t *testing.T) {
	repo := seed(t, []struct {
		author string
		at     string
		amount int64
	}{
		{"p1", "1970-01-01T00:01:00Z", 1},
		{"p1", "2024-02-14T00:00:00+09:00", 2},
	})
	ctx := context.Background()

	days := []struct {
		date string
		want int
	}{
		{"1969-12-31", 0},
		{"1970-01-01", 1},
	}
	for _, tt := range days {
		t.Run(tt.date, func(t *testing.T) {
			txs, err := repo.FindAllWithinDay(ctx, tt.date)
			if err != nil {
				t.Fatalf("FindAllWithinDay: %v", err)
			}
			if len(txs) != tt.want {
				t.Errorf("got %d transactions, want %d", len(txs), tt.want)
			}
		})
	}

	since := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	txs, err := repo.FindAllByAuthorWithinTimeRange(ctx, "p1", txrepo.TimeRange{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("FindAllByAuthorWithinTimeRange: %v", err)
	}
	if len(txs) != 1 {
		t.Errorf("got %d transactions, want 1", len(txs))
	}
}

func TestFindAllByAuthor(t *testing.T) {
	repo := seed(t, fixture)
	txs, err := repo.FindAllByAuthor(context.Background(), "p2")
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txs))
	}

	got, err := repo.FindByKey(context.Background(), txs[0].Key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Amount != 3 {
		t.Errorf("FindByKey amount = %d, want 3", got.Amount)
	}
}

func TestTotalPoints(t *testing.T) {
	repo := seed(t, fixture)
	ctx := context.Background()

	all, err := repo.TotalPoints(ctx, "p1", "")
	if err != nil {
		t.Fatal(err)
	}
	if all != 7 {
		t.Errorf("all-time total = %d, want 7", all)
	}

	day, err := repo.TotalPoints(ctx, "p1", "2024-02-13")
	if err != nil {
		t.Fatal(err)
	}
	if day != 1 {
		t.Errorf("day total = %d, want 1", day)
	}
}

func TestInvalidDate(t *testing.T) {
	repo := seed(t, nil)
	_, err := repo.FindAllWithinDay(context.Background(), "14/02/2024")
	if !errors.Is(err, rtp.ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}
