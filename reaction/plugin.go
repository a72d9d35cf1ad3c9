package reaction

import (
	"context"
	"log/slog"

	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin          = (*Plugin)(nil)
	_ plugin.OnPointsGranted = (*Plugin)(nil)
)

// Plugin reacts to every committed grant through a Broadcaster.
type Plugin struct {
	broadcaster *Broadcaster
}

// NewPlugin creates the reaction plugin.
func NewPlugin(b *Broadcaster) *Plugin {
	return &Plugin{broadcaster: b}
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return "reaction" }

// OnPointsGranted implements plugin.OnPointsGranted.
func (p *Plugin) OnPointsGranted(ctx context.Context, res *grant.Result) error {
	return p.broadcaster.Broadcast(ctx, ForResult(res)...)
}

// LogPublisher writes reactions to a logger instead of a network. It stands
// in for a feed client in development.
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements Publisher.
func (l LogPublisher) Publish(ctx context.Context, dest string, r Reaction) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "reaction",
		"destination", dest,
		"content", r.Content,
		"post", r.PostID,
		"author", r.AuthorID,
	)
	return nil
}
