package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/rtp/types"
)

// DefaultPostOffset is how long after UTC+9 midnight the daily ranking for
// the previous day is posted.
const DefaultPostOffset = 10 * time.Second

// NotePublisher publishes a text note to the feed.
type NotePublisher interface {
	PublishNote(ctx context.Context, content string) error
}

// NotePublisherFunc is an adapter to use a plain function as a NotePublisher.
type NotePublisherFunc func(ctx context.Context, content string) error

// PublishNote implements NotePublisher.
func (f NotePublisherFunc) PublishNote(ctx context.Context, content string) error {
	return f(ctx, content)
}

// Poster posts the previous day's ranking once a day.
type Poster struct {
	agg       *Aggregator
	publisher NotePublisher
	logger    *slog.Logger
	offset    time.Duration
	now       func() time.Time

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// PosterOption configures a Poster.
type PosterOption func(*Poster)

// WithPostOffset sets the time after UTC+9 midnight to post at.
func WithPostOffset(d time.Duration) PosterOption {
	return func(p *Poster) { p.offset = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PosterOption {
	return func(p *Poster) { p.now = now }
}

// WithPosterLogger sets the logger.
func WithPosterLogger(logger *slog.Logger) PosterOption {
	return func(p *Poster) { p.logger = logger }
}

// NewPoster creates a Poster.
func NewPoster(agg *Aggregator, pub NotePublisher, opts ...PosterOption) *Poster {
	p := &Poster{
		agg:       agg,
		publisher: pub,
		logger:    slog.Default(),
		offset:    DefaultPostOffset,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NextRun returns the first UTC+9 midnight plus offset strictly after now.
func NextRun(now time.Time, offset time.Duration) time.Time {
	next := types.DayOf(now).Start().Add(offset)
	for !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// PostDay publishes the ranking for day d.
func (p *Poster) PostDay(ctx context.Context, d types.Day) error {
	text, err := p.agg.DailyText(ctx, d)
	if err != nil {
		return err
	}
	if err := p.publisher.PublishNote(ctx, text); err != nil {
		return fmt.Errorf("ranking: publish %s: %w", d, err)
	}
	return nil
}

// Start launches the daily loop. It is a no-op if already running.
func (p *Poster) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopChan != nil {
		return
	}
	p.stopChan = make(chan struct{})

	p.wg.Add(1)
	go p.run(ctx, p.stopChan)

	p.logger.Info("daily ranking poster started",
		"next_run", NextRun(p.now(), p.offset).Format(time.RFC3339),
	)
}

// Stop ends the loop and waits for an in-flight post to finish.
func (p *Poster) Stop() {
	p.mu.Lock()
	stop := p.stopChan
	p.stopChan = nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	p.wg.Wait()
}

func (p *Poster) run(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()

	for {
		next := NextRun(p.now(), p.offset)
		timer := time.NewTimer(next.Sub(p.now()))

		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		day := types.DayOf(next).AddDays(-1)
		if err := p.PostDay(ctx, day); err != nil {
			p.logger.Error("failed to post daily ranking",
				"day", day.String(),
				"error", err,
			)
			continue
		}
		p.logger.Info("daily ranking posted", "day", day.String())
	}
}
