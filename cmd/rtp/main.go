// Command rtp runs the ritrin point ledger and inspects its data.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/rtp"
)

// app carries what every subcommand needs once the root command has
// loaded configuration.
type app struct {
	configPath string
	cfg        config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "rtp",
		Short:         "Ritrin point ledger for the shiritori bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("store") {
				cfg.Store, _ = cmd.Flags().GetString("store")
			}
			a.cfg = cfg

			logger, err := cfg.newLogger()
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	root.PersistentFlags().String("store", "", "store backend: kv, sqlite or memory (overrides RTP_STORE)")

	root.AddCommand(
		newServeCmd(a),
		newNotifyCmd(a),
		newLastAcceptedCmd(a),
		newLastConnCmd(a),
		newPointsCmd(a),
		newTxsCmd(a),
		newRankingCmd(a),
	)
	return root
}

// withEngine opens the configured store, starts an engine over it and
// runs fn.
func (a *app) withEngine(ctx context.Context, fn func(*rtp.Engine) error, opts ...rtp.Option) error {
	s, err := a.cfg.openStore()
	if err != nil {
		return err
	}

	opts = append([]rtp.Option{
		rtp.WithLogger(a.logger),
		rtp.WithGrantConfig(a.cfg.grantConfig()),
		rtp.WithMaxAttempts(a.cfg.MaxAttempts),
	}, opts...)

	e := rtp.New(s, opts...)
	if err := e.Start(ctx); err != nil {
		_ = s.Close()
		return err
	}
	defer func() {
		if err := e.Stop(); err != nil {
			a.logger.Warn("engine stop failed", "error", err)
		}
	}()

	return fn(e)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "rtp:", err)
		stop()
		os.Exit(1)
	}
}
