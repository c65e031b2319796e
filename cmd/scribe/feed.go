package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/MikeSquared-Agency/scribe/internal/app"
	"github.com/MikeSquared-Agency/scribe/internal/backfill"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/history"
	"github.com/MikeSquared-Agency/scribe/internal/source"
)

func feed(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("feed", flag.ContinueOnError)
	url := fs.String("url", "", "RSS or Atom feed URL (required)")
	limit := fs.Int("limit", 10, "newest items to consider")
	src := fs.String("source", "", "lesson source label (default: feed title)")
	minChars := fs.Int("min-chars", 50, "skip items with less text than this")
	pause := fs.Duration("pause", backfill.DefaultPause, "wait between items")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *url == "" {
		return errors.New("feed: -url is required")
	}

	h, err := history.Load(cfg.HistoryPath)
	if err != nil {
		return err
	}

	d, err := app.Build(ctx, cfg, app.Want{Store: true, Sinks: true, Slack: true})
	if err != nil {
		return err
	}
	defer d.Close()

	runner := backfill.NewRunner(backfill.Config{
		Key:      *url,
		Pause:    *pause,
		MinChars: *minChars,
		Options:  extractor.DefaultOptions(),
	}, source.FeedSource{URL: *url, Limit: *limit, Source: *src}, d.Processor(), h, slog.Default())

	sum, err := runner.Run(ctx)
	backfill.WriteSummary(os.Stderr, sum, h.Path())
	return err
}
