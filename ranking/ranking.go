// Package ranking aggregates point transactions into per-author rankings
// and formats them for posting.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/types"
)

// Defaults for daily rankings.
const (
	DefaultMinPoints = 5
	DefaultLimit     = 10
)

// Options controls aggregation.
type Options struct {
	// MinPoints drops authors whose total is below it.
	MinPoints int64 `json:"min_points" mapstructure:"min_points" yaml:"min_points"`

	// Limit truncates the ranking. Zero or negative means no limit.
	Limit int `json:"limit" mapstructure:"limit" yaml:"limit"`
}

// DefaultOptions returns the options used for the daily ranking post.
func DefaultOptions() Options {
	return Options{MinPoints: DefaultMinPoints, Limit: DefaultLimit}
}

// Entry is one ranked author.
type Entry struct {
	Rank     int    `json:"rank"`
	AuthorID string `json:"pubkey"`
	Name     string `json:"name,omitempty"`
	Points   int64  `json:"points"`
}

// Aggregate sums points per author and ranks the authors by total,
// descending. Equal totals share a rank and the next rank skips ahead
// (1, 1, 3). Ties are listed by author id.
func Aggregate(txs []*point.Transaction, opts Options) []Entry {
	totals := make(map[string]int64)
	for _, tx := range txs {
		totals[tx.AuthorID] += tx.Amount
	}

	entries := make([]Entry, 0, len(totals))
	for author, pts := range totals {
		if pts < opts.MinPoints {
			continue
		}
		entries = append(entries, Entry{AuthorID: author, Points: pts})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].AuthorID < entries[j].AuthorID
	})

	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	for i := range entries {
		if i > 0 && entries[i].Points == entries[i-1].Points {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}
	}
	return entries
}

// ProfileResolver looks up display names. Ids without a name are absent
// from the returned map.
type ProfileResolver interface {
	ResolveNames(ctx context.Context, authorIDs []string) (map[string]string, error)
}

// ResolverFunc is an adapter to use a plain function as a ProfileResolver.
type ResolverFunc func(ctx context.Context, authorIDs []string) (map[string]string, error)

// ResolveNames implements ProfileResolver.
func (f ResolverFunc) ResolveNames(ctx context.Context, authorIDs []string) (map[string]string, error) {
	return f(ctx, authorIDs)
}

// Resolve fills entry names through r. On failure the entries are returned
// unnamed together with the error; they remain usable.
func Resolve(ctx context.Context, entries []Entry, r ProfileResolver) ([]Entry, error) {
	out := append([]Entry(nil), entries...)
	if r == nil || len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i, e := range out {
		ids[i] = e.AuthorID
	}
	names, err := r.ResolveNames(ctx, ids)
	if err != nil {
		return out, fmt.Errorf("ranking: resolve names: %w", err)
	}
	for i := range out {
		out[i].Name = names[out[i].AuthorID]
	}
	return out, nil
}

var rankEmojis = []string{"", "🥇", "🥈", "🥉", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// RankLabel renders a rank, using emoji for 1 through 10.
func RankLabel(rank int) string {
	if rank > 0 && rank < len(rankEmojis) {
		return rankEmojis[rank]
	}
	return strconv.Itoa(rank)
}

// Format renders one line per entry.
func Format(entries []Entry) []string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		if e.Name != "" {
			lines[i] = fmt.Sprintf("%s %d %s (nostr:%s)", RankLabel(e.Rank), e.Points, e.Name, e.AuthorID)
		} else {
			lines[i] = fmt.Sprintf("%s %d nostr:%s", RankLabel(e.Rank), e.Points, e.AuthorID)
		}
	}
	return lines
}

// Header is the first line of the daily ranking post for d.
func Header(d types.Day) string {
	return d.Label() + "の獲得りとポランキング❗"
}
