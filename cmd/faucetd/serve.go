package main

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"faucet/internal/identity"
	"faucet/internal/logging"
	"faucet/internal/ssh"
)

var log = logging.For("faucetd")

func newServeCommand(opts *rootOptions) *cobra.Command {
	var consoleListen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the faucet with its operator console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("console-listen") {
				opts.cfg.Console.Listen = consoleListen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&consoleListen, "console-listen", "", "SSH console listen address, empty disables (overrides config)")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	log.Info("faucet started",
		"store", cfg.Store.Path,
		"cooldown", cfg.Faucet.Cooldown(),
		"payout_base", cfg.Faucet.PayoutBase,
		"names", len(cfg.Chain.Names))

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Console.Listen != "" {
		hostKey, err := identity.Load(filepath.Dir(cfg.Store.Path))
		if err != nil {
			return err
		}
		srv, err := ssh.NewServer(cfg.Console.Listen, hostKey, a.svc, cfg.Console.AuthorizedKeys)
		if err != nil {
			return err
		}
		srv.LimitCommands(cfg.Console.CommandsPerSec)
		registerChainCommands(srv.Commands(), a.chain)
		if err := srv.Listen(); err != nil {
			return err
		}
		g.Go(func() error {
			return srv.Serve(ctx)
		})
		g.Go(func() error {
			<-ctx.Done()
			srv.Stop()
			return nil
		})
	}

	if interval := cfg.Faucet.MetaInterval.Duration; interval > 0 {
		g.Go(func() error {
			reportMeta(ctx, a, interval)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err = g.Wait()
	log.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reportMeta logs store usage every interval until ctx is done.
func reportMeta(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m, err := a.db.Meta()
			if err != nil {
				log.Warn("meta unavailable", "err", err)
				continue
			}
			log.Info("store meta",
				"disk", m.JournalDiskSpace,
				"claims", m.ClaimEntries,
				"claims_disk", m.ClaimDiskSpace,
				"logs", m.LogEntries,
				"logs_disk", m.LogDiskSpace,
				"log_segments", m.LogSegments,
				"audit_failures", a.auditFailures.Load())
		}
	}
}
