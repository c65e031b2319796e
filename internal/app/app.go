package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/MikeSquared-Agency/scribe/internal/anthropic"
	"github.com/MikeSquared-Agency/scribe/internal/cache"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/extractor"
	"github.com/MikeSquared-Agency/scribe/internal/feishu"
	"github.com/MikeSquared-Agency/scribe/internal/gemini"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/notion"
	"github.com/MikeSquared-Agency/scribe/internal/processor"
	"github.com/MikeSquared-Agency/scribe/internal/slack"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Deps holds the optional collaborators built from config. Nil fields
// mean the collaborator is not configured.
type Deps struct {
	LLM   extractor.LLM
	DB    *store.Store
	Bus   *hermes.Client
	Slack *slack.Poster
	Sinks []processor.Sink

	cfg    config.Config
	closer []func()
}

func (d *Deps) Close() {
	for i := len(d.closer) - 1; i >= 0; i-- {
		d.closer[i]()
	}
}

// Want selects which optional collaborators Build connects. The analyzer
// is always built.
type Want struct {
	Store bool
	Bus   bool
	Sinks bool
	Slack bool
}

func Build(ctx context.Context, cfg config.Config, w Want) (*Deps, error) {
	d := &Deps{cfg: cfg}
	logger := slog.Default()

	llm, err := newAnalyzer(ctx, cfg, d)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.LLM = llm

	if w.Store {
		if cfg.DatabaseURL == "" {
			slog.Warn("DATABASE_URL not set, running without persistence")
		} else {
			db, err := store.New(ctx, cfg.DatabaseURL)
			if err != nil {
				d.Close()
				return nil, err
			}
			d.closer = append(d.closer, db.Close)
			if err := db.Migrate(ctx); err != nil {
				d.Close()
				return nil, err
			}
			d.DB = db
			slog.Info("database connected")
		}
	}

	if w.Bus && cfg.NatsURL != "" {
		bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closer = append(d.closer, bus.Close)
		d.Bus = bus
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	if w.Sinks {
		if cfg.Feishu() {
			d.Sinks = append(d.Sinks, feishu.NewClient(cfg.FeishuAppID, cfg.FeishuAppSecret, cfg.FeishuAppToken, cfg.FeishuTableID, logger))
			slog.Info("feishu sink ready", "table", cfg.FeishuTableID)
		}
		if cfg.Notion() {
			d.Sinks = append(d.Sinks, notion.NewSink(cfg.NotionToken, cfg.NotionDatabaseID, logger))
			slog.Info("notion sink ready", "database", cfg.NotionDatabaseID)
		}
		if len(d.Sinks) == 0 {
			slog.Warn("no record sink configured, records are only persisted and returned")
		}
	}

	if w.Slack && cfg.Slack() {
		d.Slack = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	return d, nil
}

// newAnalyzer returns a nil LLM when the provider has no credentials, so
// extraction falls back to the empty result.
func newAnalyzer(ctx context.Context, cfg config.Config, d *Deps) (extractor.LLM, error) {
	if !cfg.Analyzer() {
		slog.Warn("analyzer not configured, extraction will return empty results", "provider", cfg.Provider)
		return nil, nil
	}

	var llm extractor.LLM
	switch cfg.Provider {
	case config.ProviderAnthropic:
		llm = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	case config.ProviderGemini:
		g, err := gemini.NewClient(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		d.closer = append(d.closer, func() { _ = g.Close() })
		llm = g
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
	slog.Info("analyzer ready", "provider", cfg.Provider, "model", cfg.Model())

	if cfg.RedisURL == "" {
		return llm, nil
	}
	kv, err := cache.NewRedisKV(ctx, cfg.RedisURL)
	if err != nil {
		slog.Warn("redis unavailable, running without reply cache", "error", err)
		return llm, nil
	}
	d.closer = append(d.closer, func() { _ = kv.Close() })
	slog.Info("reply cache ready", "ttl", cfg.CacheTTL)
	return cache.New(llm, kv, cfg.CacheTTL, cfg.Provider+":"+cfg.Model(), slog.Default()), nil
}

func (d *Deps) Extractor() *extractor.Extractor {
	cfg := d.cfg
	return extractor.New(d.LLM, slog.Default(),
		extractor.WithMaxChars(cfg.MaxChars),
		extractor.WithConcurrency(cfg.Concurrency),
		extractor.WithCallTimeout(cfg.CallTimeout),
	)
}

func (d *Deps) Processor() *processor.Processor {
	opts := []processor.Option{
		processor.WithSinks(d.Sinks...),
		processor.WithDryRun(d.cfg.DryRun),
	}
	if d.DB != nil {
		opts = append(opts, processor.WithStore(d.DB))
	}
	if d.Slack != nil {
		opts = append(opts, processor.WithNotifier(d.Slack))
	}
	if d.Bus != nil {
		opts = append(opts, processor.WithPublisher(d.Bus))
	}
	return processor.New(d.Extractor(), slog.Default(), opts...)
}

// SetupLogging installs the JSON handler at the given level as the default logger.
func SetupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
