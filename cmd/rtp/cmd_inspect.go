package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/rtp"
	"github.com/xraph/rtp/hook"
	"github.com/xraph/rtp/point"
	"github.com/xraph/rtp/ranking"
	"github.com/xraph/rtp/txrepo"
	"github.com/xraph/rtp/types"
)

func newNotifyCmd(a *app) *cobra.Command {
	var (
		post point.ConnectedPost
		at   string
	)
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a connected post to a running server's hook socket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			post.AcceptedAt = time.Now().Unix()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				post.AcceptedAt = t.Unix()
			}
			if err := post.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			return hook.Notify(ctx, hook.SocketPath(a.cfg.ResourceDir), post)
		},
	}
	cmd.Flags().StringVar(&post.AuthorID, "pubkey", "", "author public key")
	cmd.Flags().StringVar(&post.PostID, "event", "", "post id")
	cmd.Flags().StringVar(&post.Head, "head", "", "first kana")
	cmd.Flags().StringVar(&post.Last, "last", "", "last kana")
	cmd.Flags().StringVar(&at, "at", "", "acceptance time (RFC 3339, default now)")
	return cmd
}

func newLastAcceptedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "last-accepted <pubkey>",
		Short: "Show when an author's connection was last accepted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *rtp.Engine) error {
				at, err := e.LastAcceptedAt(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), at.In(types.JST).Format(time.RFC3339))
				return err
			})
		},
	}
}

func newLastConnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "last-conn",
		Short: "Show the last accepted connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(e *rtp.Engine) error {
				last, err := e.LastConnection(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), last)
			})
		},
	}
}

func newPointsCmd(a *app) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "points <pubkey>",
		Short: "Sum an author's points, all time or on one day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *rtp.Engine) error {
				total, err := txrepo.New(e.Store()).TotalPoints(cmd.Context(), args[0], date)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), total)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "UTC+9 date (YYYY-MM-DD or today)")
	return cmd
}

func newTxsCmd(a *app) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "txs <pubkey>",
		Short: "List an author's point transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *rtp.Engine) error {
				repo := txrepo.New(e.Store())
				var (
					txs []*point.Transaction
					err error
				)
				if date == "" {
					txs, err = repo.FindAllByAuthor(cmd.Context(), args[0])
				} else {
					txs, err = repo.FindAllByAuthorWithinDay(cmd.Context(), args[0], date)
				}
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				for _, tx := range txs {
					if _, err := fmt.Fprintf(w, "%s\t%s\t%-20s\t%d\t%s\n",
						tx.Key, tx.GrantedTime().In(types.JST).Format(time.DateTime), tx.Type, tx.Amount, tx.PostID,
					); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "UTC+9 date (YYYY-MM-DD or today)")
	return cmd
}

func newRankingCmd(a *app) *cobra.Command {
	var (
		date string
		opts = ranking.DefaultOptions()
	)
	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Print the point ranking of a day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := types.ParseDay(date)
			if err != nil {
				return fmt.Errorf("%w: %w", rtp.ErrInvalidDate, err)
			}
			return a.withEngine(cmd.Context(), func(e *rtp.Engine) error {
				agg := ranking.NewAggregator(txrepo.New(e.Store()),
					ranking.WithOptions(opts),
					ranking.WithLogger(a.logger),
				)
				text, err := agg.DailyText(cmd.Context(), d)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "today", "UTC+9 date (YYYY-MM-DD or today)")
	cmd.Flags().IntVar(&opts.Limit, "limit", opts.Limit, "maximum number of entries")
	cmd.Flags().Int64Var(&opts.MinPoints, "min-points", opts.MinPoints, "minimum total to be ranked")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
