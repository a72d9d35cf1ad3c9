// Package txrepo is the read-only query façade over the point ledger.
package txrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store"
	"github.com/xraph/rtp/types"
)

// TimeRange is a half-open window [Since, Until). A nil bound is open.
type TimeRange struct {
	Since *time.Time
	Until *time.Time
}

// Day returns the window covering the UTC+9 calendar day d.
func Day(d types.Day) TimeRange {
	start, end := d.Start(), d.End()
	return TimeRange{Since: &start, Until: &end}
}

// Repository answers transaction queries.
type Repository struct {
	store store.Store
}

// New returns a repository over s.
func New(s store.Store) *Repository {
	return &Repository{store: s}
}

// FindByKey returns the transaction stored under key.
func (r *Repository) FindByKey(ctx context.Context, key id.OrderKey) (*point.Transaction, error) {
	return r.store.GetTransaction(ctx, key)
}

// FindAllByAuthor returns every transaction credited to authorID.
func (r *Repository) FindAllByAuthor(ctx context.Context, authorID string) ([]*point.Transaction, error) {
	return r.store.ListTransactions(ctx, store.TxQuery{AuthorID: authorID})
}

// FindAllWithinTimeRange returns every transaction granted within tr.
func (r *Repository) FindAllWithinTimeRange(ctx context.Context, tr TimeRange) ([]*point.Transaction, error) {
	return r.list(ctx, "", tr)
}

// FindAllByAuthorWithinTimeRange returns authorID's transactions within tr.
func (r *Repository) FindAllByAuthorWithinTimeRange(ctx context.Context, authorID string, tr TimeRange) ([]*point.Transaction, error) {
	return r.list(ctx, authorID, tr)
}

// FindAllWithinDay returns every transaction granted on the UTC+9 date
// dateStr ("YYYY-MM-DD" or "today").
func (r *Repository) FindAllWithinDay(ctx context.Context, dateStr string) ([]*point.Transaction, error) {
	d, err := parseDay(dateStr)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "", Day(d))
}

// FindAllByAuthorWithinDay returns authorID's transactions on dateStr.
func (r *Repository) FindAllByAuthorWithinDay(ctx context.Context, authorID, dateStr string) ([]*point.Transaction, error) {
	d, err := parseDay(dateStr)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, authorID, Day(d))
}

// TotalPoints sums authorID's points, over dateStr when it is non-empty.
func (r *Repository) TotalPoints(ctx context.Context, authorID, dateStr string) (int64, error) {
	var (
		txs []*point.Transaction
		err error
	)
	if dateStr == "" {
		txs, err = r.FindAllByAuthor(ctx, authorID)
	} else {
		txs, err = r.FindAllByAuthorWithinDay(ctx, authorID, dateStr)
	}
	if err != nil {
		return 0, err
	}
	return point.Total(txs), nil
}

func parseDay(s string) (types.Day, error) {
	d, err := types.ParseDay(s)
	if err != nil {
		return types.Day{}, fmt.Errorf("%w: %w", rtp.ErrInvalidDate, err)
	}
	return d, nil
}

func (r *Repository) list(ctx context.Context, authorID string, tr TimeRange) ([]*point.Transaction, error) {
	q := store.TxQuery{AuthorID: authorID}
	if tr.Since != nil {
		k, err := boundKey(*tr.Since)
		if err != nil {
			return nil, fmt.Errorf("txrepo: since bound: %w", err)
		}
		q.Start = k
	}
	if tr.Until != nil {
		k, err := boundKey(*tr.Until)
		if err != nil {
			return nil, fmt.Errorf("txrepo: until bound: %w", err)
		}
		q.End = k
	}
	return r.store.ListTransactions(ctx, q)
}

// boundKey is the smallest key at or after t. Keys start at the Unix epoch,
// so earlier bounds clamp to the first key.
func boundKey(t time.Time) (id.OrderKey, error) {
	if t.UnixMilli() < 0 {
		t = time.UnixMilli(0)
	}
	return id.MinOrderKey(t)
}
