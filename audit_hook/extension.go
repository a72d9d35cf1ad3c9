// Package audithook bridges rtp grant events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/plugin"
	"github.com/xraph/rtp/point"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin          = (*Extension)(nil)
	_ plugin.OnInit          = (*Extension)(nil)
	_ plugin.OnShutdown      = (*Extension)(nil)
	_ plugin.OnPointsGranted = (*Extension)(nil)
	_ plugin.OnGrantConflict = (*Extension)(nil)
	_ plugin.OnGrantFailed   = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges rtp grant events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Engine lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit implements plugin.OnInit.
func (e *Extension) OnInit(ctx context.Context, _ any) error {
	return e.record(ctx, ActionEngineStarted, SeverityInfo, OutcomeSuccess,
		ResourceEngine, "", CategoryLifecycle, nil,
	)
}

// OnShutdown implements plugin.OnShutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionEngineStopped, SeverityInfo, OutcomeSuccess,
		ResourceEngine, "", CategoryLifecycle, nil,
	)
}

// ──────────────────────────────────────────────────
// Grant hooks
// ──────────────────────────────────────────────────

// OnPointsGranted implements plugin.OnPointsGranted. Besides the grant
// itself every bonus transaction is recorded on its own.
func (e *Extension) OnPointsGranted(ctx context.Context, res *grant.Result) error {
	grantID := res.ID.String()
	_ = e.record(ctx, ActionPointsGranted, SeverityInfo, OutcomeSuccess, //nolint:errcheck // record never fails
		ResourceGrant, grantID, CategoryPoints, nil,
		"author", res.Post.AuthorID,
		"post", res.Post.PostID,
		"total", res.Decision.Total(),
		"transactions", len(res.Transactions()),
		"attempts", res.Attempts,
		"hibernation_breaking", res.Decision.NextConnection.HibernationBreaking,
	)

	for _, tx := range res.Transactions() {
		if !tx.Type.IsBonus() {
			continue
		}
		_ = e.record(ctx, ActionBonusGranted, SeverityInfo, OutcomeSuccess, //nolint:errcheck // record never fails
			ResourceGrant, grantID, CategoryPoints, nil,
			"type", string(tx.Type),
			"amount", tx.Amount,
			"author", tx.AuthorID,
			"post", tx.PostID,
			"key", tx.Key.String(),
		)
	}
	return nil
}

// OnGrantConflict implements plugin.OnGrantConflict.
func (e *Extension) OnGrantConflict(ctx context.Context, post point.ConnectedPost, attempt int) error {
	return e.record(ctx, ActionGrantConflict, SeverityInfo, OutcomeFailure,
		ResourcePost, post.PostID, CategoryContention, nil,
		"author", post.AuthorID,
		"attempt", attempt,
	)
}

// OnGrantFailed implements plugin.OnGrantFailed.
func (e *Extension) OnGrantFailed(ctx context.Context, post point.ConnectedPost, err error) error {
	action, severity, category := ActionGrantFailed, SeverityError, CategoryPoints
	switch {
	case errors.Is(err, rtp.ErrContentionExhausted):
		action, severity, category = ActionGrantExhausted, SeverityCritical, CategoryContention
	case errors.Is(err, rtp.ErrInvalidEvent):
		action, severity, category = ActionEventRejected, SeverityWarning, CategoryValidation
	}
	return e.record(ctx, action, severity, OutcomeFailure,
		ResourcePost, post.PostID, category, err,
		"author", post.AuthorID,
		"accepted_at", post.AcceptedAt,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
