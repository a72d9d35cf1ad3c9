package rtp

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/id"
	"github.com/xraph/rtp/plugin"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/store"
)

// Defaults for the grant retry loop.
const (
	DefaultMaxAttempts = 8
	DefaultBackoffBase = 5 * time.Millisecond
	DefaultBackoffMax  = 100 * time.Millisecond
)

// Engine grants ritrin points. Every cycle reads the grant state, evaluates
// the rules and commits conditionally; a lost race restarts the cycle from a
// fresh read.
type Engine struct {
	store     store.Store
	evaluator *grant.Evaluator
	plugins   *plugin.Registry
	logger    *slog.Logger
	keys      *id.OrderKeyGenerator

	// Configuration
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	skipMigrate bool
}

// New creates a new Engine over s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		evaluator:   grant.NewEvaluator(grant.DefaultConfig()),
		plugins:     plugin.NewRegistry(),
		logger:      slog.Default(),
		keys:        id.NewOrderKeyGenerator(nil),
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithPluginTimeout bounds each plugin hook call.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.plugins.WithTimeout(d)
	}
}

// WithGrantConfig replaces the rule amounts and thresholds.
func WithGrantConfig(cfg grant.Config) Option {
	return func(e *Engine) {
		e.evaluator = grant.NewEvaluator(cfg)
	}
}

// WithMaxAttempts bounds the read-evaluate-commit rounds per grant.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		e.maxAttempts = n
	}
}

// WithBackoff sets the jittered backoff between attempts. A zero base
// retries immediately.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(e *Engine) {
		e.backoffBase = base
		e.backoffMax = maxDelay
	}
}

// WithOrderKeyGenerator sets the generator for transaction keys.
func WithOrderKeyGenerator(g *id.OrderKeyGenerator) Option {
	return func(e *Engine) {
		e.keys = g
	}
}

// WithoutMigrate leaves the schema alone on Start. The store is still
// pinged.
func WithoutMigrate() Option {
	return func(e *Engine) {
		e.skipMigrate = true
	}
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Evaluator returns the rule evaluator.
func (e *Engine) Evaluator() *grant.Evaluator { return e.evaluator }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Start checks the store and prepares its schema. A store that cannot be
// reached is fatal.
func (e *Engine) Start(ctx context.Context) error {
	if e.maxAttempts < 1 {
		return ValidationError{Field: "max_attempts", Message: fmt.Sprintf("must be at least 1, got %d", e.maxAttempts)}
	}
	if err := e.evaluator.Config().Validate(); err != nil {
		return ValidationError{Field: "grant", Message: err.Error()}
	}

	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreNotReady, err)
	}
	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrStoreNotReady, err)
		}
	}

	e.plugins.EmitInit(ctx, e)

	cfg := e.evaluator.Config()
	e.logger.Info("rtp engine started",
		"max_attempts", e.maxAttempts,
		"migrate", !e.skipMigrate,
		"hibernation_min_interval", cfg.HibernationMinInterval,
		"nice_pass_max_interval", cfg.NicePassMaxInterval,
		"plugins", e.plugins.Count(),
	)

	return nil
}

// Stop shuts down the Engine and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// ──────────────────────────────────────────────────
// Granting
// ──────────────────────────────────────────────────

// Grant evaluates post against the current state and commits the outcome.
// It returns only after a successful commit, or with an error: conflicts
// are retried up to the configured attempts, then ErrContentionExhausted is
// returned. Plugins see the result after the commit.
func (e *Engine) Grant(ctx context.Context, post point.ConnectedPost) (*grant.Result, error) {
	if err := post.Validate(); err != nil {
		return nil, e.fail(ctx, post, fmt.Errorf("%w: %w", ErrInvalidEvent, err))
	}

	start := time.Now()
	grantID := id.NewGrantID()

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.backoff(ctx, attempt); err != nil {
				return nil, e.fail(ctx, post, err)
			}
		}

		res, err := e.attempt(ctx, grantID, post)
		if err == nil {
			res.Attempts = attempt
			res.Elapsed = time.Since(start)

			e.logger.Debug("points granted",
				"grant_id", grantID.String(),
				"author", post.AuthorID,
				"post", post.PostID,
				"transactions", len(res.Decision.Transactions),
				"total", res.Decision.Total(),
				"attempts", attempt,
			)
			e.plugins.EmitPointsGranted(ctx, res)
			return res, nil
		}

		if !IsRetryable(err) {
			return nil, e.fail(ctx, post, err)
		}

		e.logger.Debug("grant conflict, retrying",
			"grant_id", grantID.String(),
			"post", post.PostID,
			"attempt", attempt,
		)
		e.plugins.EmitGrantConflict(ctx, post, attempt)
	}

	return nil, e.fail(ctx, post, fmt.Errorf("%w: post %s after %d attempts", ErrContentionExhausted, post.PostID, e.maxAttempts))
}

func (e *Engine) attempt(ctx context.Context, grantID id.GrantID, post point.ConnectedPost) (*grant.Result, error) {
	st, err := e.store.LoadGrantState(ctx, post.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("rtp: load grant state: %w", err)
	}

	decision := e.evaluator.Evaluate(grant.State{
		LastAcceptedAt: st.LastAcceptedAt,
		Prev:           st.LastConnection,
	}, post)

	for _, tx := range decision.Transactions {
		key, err := e.keys.New(tx.GrantedTime())
		if err != nil {
			return nil, fmt.Errorf("rtp: order key: %w", err)
		}
		tx.Key = key
		tx.GrantID = grantID
	}

	err = e.store.CommitGrant(ctx, &store.GrantCommit{
		AuthorID:             post.AuthorID,
		ExpectLastAccepted:   st.LastAcceptedVersion,
		ExpectLastConnection: st.LastConnectionVersion,
		LastAcceptedAt:       post.AcceptedAt,
		LastConnection:       decision.NextConnection,
		Transactions:         decision.Transactions,
	})
	if err != nil {
		return nil, err
	}

	return &grant.Result{
		ID:       grantID,
		Post:     post,
		Prev:     st.LastConnection,
		Decision: decision,
	}, nil
}

func (e *Engine) fail(ctx context.Context, post point.ConnectedPost, err error) error {
	e.logger.Warn("grant failed",
		"author", post.AuthorID,
		"post", post.PostID,
		"error", err,
	)
	e.plugins.EmitGrantFailed(ctx, post, err)
	return err
}

// backoff sleeps a jittered, exponentially growing delay before attempt.
func (e *Engine) backoff(ctx context.Context, attempt int) error {
	if e.backoffBase <= 0 {
		return ctx.Err()
	}
	ceiling := e.backoffBase << min(attempt-2, 16)
	if e.backoffMax > 0 && ceiling > e.backoffMax {
		ceiling = e.backoffMax
	}
	delay := ceiling/2 + rand.N(ceiling/2+1)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ──────────────────────────────────────────────────
// Lookups
// ──────────────────────────────────────────────────

// LastAcceptedAt returns the author's most recent accepted connection.
func (e *Engine) LastAcceptedAt(ctx context.Context, authorID string) (time.Time, error) {
	at, err := e.store.GetLastAcceptedAt(ctx, authorID)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(at, 0), nil
}

// LastConnection returns the most recently accepted post system-wide.
func (e *Engine) LastConnection(ctx context.Context) (*point.LastConnection, error) {
	return e.store.GetLastConnection(ctx)
}
