package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xraph/rtp"
	audithook "github.com/xraph/rtp/audit_hook"
	"github.com/xraph/rtp/hook"
	"github.com/xraph/rtp/observability"
	"github.com/xraph/rtp/ranking"
	"github.com/xraph/rtp/reaction"
	"github.com/xraph/rtp/txrepo"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Grant points for connections received on the hook socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	destinations := a.cfg.ReactionDestinations
	if len(destinations) == 0 {
		destinations = []string{"log"}
	}
	broadcaster := reaction.NewBroadcaster(
		reaction.LogPublisher{Logger: a.logger},
		destinations,
		reaction.WithTimeout(a.cfg.ReactionTimeout),
		reaction.WithLogger(a.logger),
	)

	audit := audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		a.logger.DebugContext(ctx, "audit",
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"outcome", evt.Outcome,
			"severity", evt.Severity,
		)
		return nil
	}), audithook.WithLogger(a.logger))

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(registry))

	opts := []rtp.Option{
		rtp.WithPluginTimeout(a.cfg.ReactionTimeout + time.Second),
		rtp.WithPlugin(reaction.NewPlugin(broadcaster)),
		rtp.WithPlugin(audit),
		rtp.WithPlugin(metrics),
	}

	return a.withEngine(ctx, func(e *rtp.Engine) error {
		listener := hook.NewListener(hook.SocketPath(a.cfg.ResourceDir), e, hook.WithLogger(a.logger))
		if err := listener.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := listener.Stop(); err != nil {
				a.logger.Warn("hook listener stop failed", "error", err)
			}
		}()

		if a.cfg.DailyRanking {
			agg := ranking.NewAggregator(txrepo.New(e.Store()), ranking.WithLogger(a.logger))
			poster := ranking.NewPoster(agg, ranking.NotePublisherFunc(func(ctx context.Context, content string) error {
				a.logger.InfoContext(ctx, "daily ranking", "content", content)
				return nil
			}), ranking.WithPosterLogger(a.logger))
			poster.Start(ctx)
			defer poster.Stop()
		}

		if a.cfg.MetricsAddr != "" {
			srv := &http.Server{
				Addr:              a.cfg.MetricsAddr,
				Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.Error("metrics server failed", "error", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			a.logger.Info("metrics listening", "addr", a.cfg.MetricsAddr)
		}

		<-ctx.Done()
		a.logger.Info("shutting down")
		return nil
	}, opts...)
}
