// Package observability provides a metrics plugin for rtp that records
// grant outcomes through a MetricFactory.
package observability

import (
	"context"
	"errors"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/plugin"
	"github.com/xraph/rtp/point"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin          = (*MetricsExtension)(nil)
	_ plugin.OnInit          = (*MetricsExtension)(nil)
	_ plugin.OnPointsGranted = (*MetricsExtension)(nil)
	_ plugin.OnGrantConflict = (*MetricsExtension)(nil)
	_ plugin.OnGrantFailed   = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records grant metrics.
// Register it as an rtp plugin to track every grant cycle.
type MetricsExtension struct {
	factory MetricFactory

	// Grant metrics
	GrantsCommitted Counter
	GrantAttempts   Histogram
	GrantLatency    Histogram
	PointsGranted   Counter

	// Per-type transaction counts, keyed by point.Type
	Transactions map[point.Type]Counter

	// Contention metrics
	GrantConflicts Counter
	GrantExhausted Counter

	// Error metrics
	GrantFailures Counter
	InvalidEvents Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	m := &MetricsExtension{
		factory: factory,

		// Grant metrics
		GrantsCommitted: factory.Counter("rtp.grant.committed"),
		GrantAttempts:   factory.Histogram("rtp.grant.attempts"),
		GrantLatency:    factory.Histogram("rtp.grant.latency_ms"),
		PointsGranted:   factory.Counter("rtp.points.granted"),

		Transactions: make(map[point.Type]Counter, len(point.Types)),

		// Contention metrics
		GrantConflicts: factory.Counter("rtp.grant.conflicts"),
		GrantExhausted: factory.Counter("rtp.grant.exhausted"),

		// Error metrics
		GrantFailures: factory.Counter("rtp.grant.failures"),
		InvalidEvents: factory.Counter("rtp.grant.invalid_events"),
	}
	for _, t := range point.Types {
		m.Transactions[t] = factory.Counter("rtp.tx." + string(t))
	}
	return m
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	// No initialization needed
	return nil
}

// OnPointsGranted implements plugin.OnPointsGranted.
func (m *MetricsExtension) OnPointsGranted(_ context.Context, res *grant.Result) error {
	m.GrantsCommitted.Inc()
	m.GrantAttempts.Observe(float64(res.Attempts))
	m.GrantLatency.Observe(float64(res.Elapsed.Milliseconds()))

	for _, tx := range res.Transactions() {
		m.PointsGranted.Add(float64(tx.Amount))
		if c, ok := m.Transactions[tx.Type]; ok {
			c.Inc()
		}
	}
	return nil
}

// OnGrantConflict implements plugin.OnGrantConflict.
func (m *MetricsExtension) OnGrantConflict(_ context.Context, _ point.ConnectedPost, _ int) error {
	m.GrantConflicts.Inc()
	return nil
}

// OnGrantFailed implements plugin.OnGrantFailed.
func (m *MetricsExtension) OnGrantFailed(_ context.Context, _ point.ConnectedPost, err error) error {
	m.GrantFailures.Inc()
	switch {
	case errors.Is(err, rtp.ErrContentionExhausted):
		m.GrantExhausted.Inc()
	case errors.Is(err, rtp.ErrInvalidEvent):
		m.InvalidEvents.Inc()
	}
	return nil
}
