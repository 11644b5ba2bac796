package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wikigreet/greeterbot/internal/bucket"
	"github.com/wikigreet/greeterbot/internal/config"
	"github.com/wikigreet/greeterbot/internal/controller"
	"github.com/wikigreet/greeterbot/internal/correlator"
	"github.com/wikigreet/greeterbot/internal/feed"
	"github.com/wikigreet/greeterbot/internal/roster"
	"github.com/wikigreet/greeterbot/internal/scheduler"
	"github.com/wikigreet/greeterbot/internal/wiki"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the continuous greeting service",
		Long: `Run both long-lived loops: the batch scheduler, which periodically
discovers and welcomes new users, and the live correlator, which watches the
edit-event feed and notifies greeters when their users become active.

Configuration comes from GREETERBOT_* environment variables; the store and
bucketing secrets are required.

Example:
  GREETERBOT_STORE_SECRET=... GREETERBOT_BUCKET_SECRET=... greeterbot serve --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.Verbose)

	cfg, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	site, err := config.LoadSite(opts.Site)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid site description", err)
	}
	location, err := cfg.Location()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger.Info("opening state store", "dsn", cfg.StoreDSN)
	st, err := openStore(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state store", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing state store", "error", closeErr)
		}
	}()

	client, err := newWikiClient(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid wiki bridge address", err)
	}
	loader, err := roster.NewLoader(client, site, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid site description", err)
	}

	locker := wiki.NewPageLocker()
	splitter := bucket.NewSplitter(cfg.BucketSecret, bucket.DefaultModulus, cfg.ControlPermille)

	batch := scheduler.New(st, client, site, loader, splitter, locker, logger, scheduler.Options{
		ActiveFromHour: cfg.ActiveFromHour,
		ActiveToHour:   cfg.ActiveToHour,
		CycleDelay:     cfg.CycleDelay,
		Lookback:       cfg.Lookback,
		Lag:            cfg.Lag,
		Location:       location,
	})
	live := correlator.New(st, client, site, loader, locker, feed.NewDialer(cfg.FeedURL, logger), logger, correlator.Options{
		Location: location,
	})
	ctrl := controller.New(batch, live, logger)

	// Setup signal handling for graceful shutdown
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("service starting", "feed", cfg.FeedURL, "wiki", cfg.WikiURL)
	fmt.Fprintln(cmd.OutOrStdout(), "Greeting service started. Press Ctrl-C to stop.")

	if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "service error", err)
	}

	logger.Info("service stopped gracefully")
	return nil
}
