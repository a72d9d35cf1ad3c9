// Package plugin provides an extensible plugin system for the rtp engine.
// Plugins hook into the engine lifecycle and into every grant cycle.
package plugin

import (
	"context"

	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/point"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Grant hooks
// ──────────────────────────────────────────────────

// OnPointsGranted is called after a grant cycle commits. It is never called
// for a cycle that did not commit.
type OnPointsGranted interface {
	Plugin
	OnPointsGranted(ctx context.Context, res *grant.Result) error
}

// OnGrantConflict is called each time a commit loses the race and the cycle
// is retried.
type OnGrantConflict interface {
	Plugin
	OnGrantConflict(ctx context.Context, post point.ConnectedPost, attempt int) error
}

// OnGrantFailed is called when a grant cycle gives up.
type OnGrantFailed interface {
	Plugin
	OnGrantFailed(ctx context.Context, post point.ConnectedPost, err error) error
}
