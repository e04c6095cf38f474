package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/chatty/internal/analytics"
	"github.com/kalambet/chatty/internal/api"
	"github.com/kalambet/chatty/internal/chat"
	"github.com/kalambet/chatty/internal/config"
	"github.com/kalambet/chatty/internal/ingest"
	"github.com/kalambet/chatty/internal/intelligence"
	"github.com/kalambet/chatty/internal/profile"
	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/search"
	"github.com/kalambet/chatty/internal/share"
	"github.com/kalambet/chatty/internal/storage"
	"github.com/kalambet/chatty/internal/tasks"
)

// app is the fully wired service graph shared by serve and the local
// maintenance commands.
type app struct {
	cfg       config.Config
	store     *storage.Store
	chat      *chat.Service
	intel     *intelligence.Service
	profile   *profile.Builder
	search    *search.Service
	share     *share.Service
	analytics *analytics.Service
	runner    *tasks.Runner
	worker    *ingest.Worker

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{cfg: cfg, store: store, closers: []func() error{store.Close}}

	settings := cfg.ProviderSettings()

	a.intel = intelligence.NewService(store, nil)
	a.profile = profile.NewBuilder(store)
	a.intel.SetInvalidator(a.profile)

	a.chat = chat.NewService(store, chat.Config{
		Providers:    settings,
		AnalyzeEvery: cfg.Intelligence.AnalyzeEvery,
	}, a.profile, a.intel)

	embedder, embedModel := newEmbedder(ctx, settings)
	a.search = search.NewService(store, search.NewVectors(store.DB()), embedder, embedModel)

	var cache share.Cache = share.NewSQLiteCache(store)
	if cfg.Cache.RedisURL != "" {
		rc, err := share.NewRedisCache(ctx, cfg.Cache.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		cache = rc
	}
	a.share = share.NewService(store, cache)
	a.share.SetDefaultExpiry(cfg.Share.ExpiryDays)

	a.analytics = analytics.NewService(store)

	a.runner = tasks.NewRunner(store, func(ctx context.Context) (provider.Generator, error) {
		return a.chat.Generator(ctx, "", "")
	}, a.intel, tasks.Config{
		SummarizeSchedule: cfg.Tasks.SummarizeSchedule,
		CleanupSchedule:   cfg.Tasks.CleanupSchedule,
		AnalyzeSchedule:   cfg.Tasks.AnalyzeSchedule,
		Inactivity:        cfg.Tasks.Inactivity(),
		ArchiveAfter:      cfg.Tasks.ArchiveAfter(),
		AnalyzeLimit:      cfg.Tasks.AnalyzeLimit,
	})
	a.worker = ingest.NewWorker(store, a.search, 500*time.Millisecond)

	return a, nil
}

// newEmbedder returns nil when the default provider cannot embed; search then
// uses keyword scoring only.
func newEmbedder(ctx context.Context, settings provider.Settings) (provider.Embedder, string) {
	pcfg, err := settings.Resolve("", "")
	if err != nil {
		slog.Info("semantic search disabled", "reason", err)
		return nil, ""
	}
	emb, err := provider.NewEmbedder(ctx, pcfg)
	if err != nil {
		if !errors.Is(err, provider.ErrEmbeddingsUnsupported) {
			slog.Warn("creating embedder failed", "provider", pcfg.Name, "error", err)
		} else {
			slog.Info("semantic search disabled", "provider", pcfg.Name, "reason", err)
		}
		return nil, ""
	}
	return emb, pcfg.EmbedModel
}

func (a *app) appDeps() api.AppDeps {
	return api.AppDeps{
		Store:        a.store,
		Chat:         a.chat,
		Intelligence: a.intel,
		Profile:      a.profile,
		Search:       a.search,
		Share:        a.share,
		Analytics:    a.analytics,
		Providers:    a.cfg.ProviderSettings(),
	}
}

func (a *app) mcpDeps() api.MCPDeps {
	return api.MCPDeps{Intelligence: a.intel, Profile: a.profile, Search: a.search}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
