package observability_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/grant"
	"github.com/xraph/rtp/observability"
	"github.com/xraph/rtp/point"
)

func TestMetricsExtension(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))
	ctx := context.Background()

	p := point.ConnectedPost{AuthorID: "p1", PostID: "e1", Head: "ア", Last: "イ", AcceptedAt: 1707836400}
	d := grant.NewEvaluator(grant.DefaultConfig()).Evaluate(grant.State{}, p)
	res := &grant.Result{Post: p, Decision: d, Attempts: 2, Elapsed: 3 * time.Millisecond}

	if err := m.OnPointsGranted(ctx, res); err != nil {
		t.Fatal(err)
	}
	_ = m.OnGrantConflict(ctx, p, 1)
	_ = m.OnGrantFailed(ctx, p, fmt.Errorf("wrapped: %w", rtp.ErrContentionExhausted))
	_ = m.OnGrantFailed(ctx, p, errors.New("disk full"))

	tests := []struct {
		name    string
		counter observability.Counter
		want    float64
	}{
		{"committed", m.GrantsCommitted, 1},
		{"points", m.PointsGranted, 4},
		{"base transactions", m.Transactions[point.TypeShiritori], 1},
		{"daily transactions", m.Transactions[point.TypeDaily], 1},
		{"nice-pass transactions", m.Transactions[point.TypeNicePass], 0},
		{"conflicts", m.GrantConflicts, 1},
		{"failures", m.GrantFailures, 2},
		{"exhausted", m.GrantExhausted, 1},
		{"invalid events", m.InvalidEvents, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := tt.counter.(prometheus.Counter)
			if !ok {
				t.Fatalf("counter is %T", tt.counter)
			}
			if got := testutil.ToFloat64(c); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestPrometheusFactoryReusesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := observability.NewPrometheusFactory(reg)

	a := f.Counter("rtp.grant.committed")
	b := f.Counter("rtp.grant.committed")
	a.Inc()
	b.Inc()

	if got := testutil.ToFloat64(a.(prometheus.Counter)); got != 2 {
		t.Errorf("counter = %v, want 2", got)
	}
	if n, err := testutil.GatherAndCount(reg, "rtp_grant_committed"); err != nil || n != 1 {
		t.Errorf("gathered %d series (err %v), want 1", n, err)
	}
}

func TestMetricName(t *testing.T) {
	if got := observability.MetricName("rtp.tx.hibernation-breaking"); got != "rtp_tx_hibernation_breaking" {
		t.Errorf("MetricName = %q", got)
	}
}
