package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/rtp/txrepo"
	"github.com/xraph/rtp/types"
)

// Aggregator builds rankings from the transaction log.
type Aggregator struct {
	repo     *txrepo.Repository
	resolver ProfileResolver
	opts     Options
	logger   *slog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithResolver sets the profile resolver used for names.
func WithResolver(r ProfileResolver) AggregatorOption {
	return func(a *Aggregator) { a.resolver = r }
}

// WithOptions replaces the aggregation options.
func WithOptions(opts Options) AggregatorOption {
	return func(a *Aggregator) { a.opts = opts }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = logger }
}

// NewAggregator creates an Aggregator over repo.
func NewAggregator(repo *txrepo.Repository, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		repo:   repo,
		opts:   DefaultOptions(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Options returns the aggregation options.
func (a *Aggregator) Options() Options { return a.opts }

// Daily ranks the points granted on day d. Name lookup is best effort.
func (a *Aggregator) Daily(ctx context.Context, d types.Day) ([]Entry, error) {
	txs, err := a.repo.FindAllWithinTimeRange(ctx, txrepo.Day(d))
	if err != nil {
		return nil, fmt.Errorf("ranking: load %s: %w", d, err)
	}

	entries, err := Resolve(ctx, Aggregate(txs, a.opts), a.resolver)
	if err != nil {
		a.logger.Warn("ranking names unavailable, using raw ids",
			"day", d.String(),
			"error", err,
		)
	}
	return entries, nil
}

// DailyText renders the ranking post for day d.
func (a *Aggregator) DailyText(ctx context.Context, d types.Day) (string, error) {
	entries, err := a.Daily(ctx, d)
	if err != nil {
		return "", err
	}
	lines := append([]string{Header(d), ""}, Format(entries)...)
	return strings.Join(lines, "\n"), nil
}
