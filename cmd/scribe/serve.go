package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/scribe/internal/api"
	"github.com/MikeSquared-Agency/scribe/internal/app"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
)

func serve(ctx context.Context, cfg config.Config) error {
	slog.Info("scribe starting", "port", cfg.Port, "provider", cfg.Provider)

	d, err := app.Build(ctx, cfg, app.Want{Store: true, Bus: true, Sinks: true, Slack: true})
	if err != nil {
		return err
	}
	defer d.Close()

	proc := d.Processor()

	if d.Bus != nil {
		if err := d.Bus.Subscribe(hermes.SubjectTranscriptReady, proc.HandleTranscriptReady); err != nil {
			return err
		}
		if err := d.Bus.Announce(cfg.Provider, []string{hermes.SubjectTranscriptReady}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	} else {
		slog.Warn("NATS_URL not set, running without event bus")
	}

	apiDeps := api.Deps{
		Runner:   proc,
		Provider: cfg.Provider,
		Analyzer: cfg.Analyzer(),
		APIToken: cfg.APIToken,
	}
	if d.DB != nil {
		apiDeps.Runs = d.DB
	}
	srv := api.NewServer(cfg.Port, apiDeps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("scribe ready", "port", cfg.Port)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	slog.Info("scribe stopped")
	return nil
}
