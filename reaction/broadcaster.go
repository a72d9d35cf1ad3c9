package reaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each delivery to a single destination.
const DefaultTimeout = 5 * time.Second

// Broadcaster publishes reactions to every destination concurrently. A slow
// or failing destination never holds up or cancels the others.
type Broadcaster struct {
	publisher    Publisher
	destinations []string
	timeout      time.Duration
	logger       *slog.Logger
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithTimeout sets the per-destination timeout.
func WithTimeout(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) { b.logger = logger }
}

// NewBroadcaster creates a Broadcaster delivering through p to destinations.
func NewBroadcaster(p Publisher, destinations []string, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		publisher:    p,
		destinations: append([]string(nil), destinations...),
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Destinations returns the configured destinations.
func (b *Broadcaster) Destinations() []string {
	return append([]string(nil), b.destinations...)
}

// Broadcast delivers every reaction to every destination and waits for all
// deliveries to finish. Failures are logged and returned joined.
func (b *Broadcaster) Broadcast(ctx context.Context, rs ...Reaction) error {
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	for _, r := range rs {
		for _, dest := range b.destinations {
			g.Go(func() error {
				if err := b.deliver(ctx, dest, r); err != nil {
					b.logger.Warn("reaction delivery failed",
						"destination", dest,
						"post", r.PostID,
						"content", r.Content,
						"error", err,
					)
					mu.Lock()
					errs = append(errs, fmt.Errorf("reaction: %s: %w", dest, err))
					mu.Unlock()
				}
				return nil
			})
		}
	}
	_ = g.Wait() //nolint:errcheck // goroutines report through errs

	return errors.Join(errs...)
}

func (b *Broadcaster) deliver(ctx context.Context, dest string, r Reaction) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.publisher.Publish(ctx, dest, r)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
