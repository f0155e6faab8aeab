package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scentdex/catalog-cli/internal/approval"
	"github.com/scentdex/catalog-cli/internal/cost"
	"github.com/scentdex/catalog-cli/internal/engine"
	"github.com/scentdex/catalog-cli/internal/engine/provider"
	"github.com/scentdex/catalog-cli/internal/queue"
	"github.com/scentdex/catalog-cli/internal/stats"
	"github.com/scentdex/catalog-cli/internal/store"
	anthropicpkg "github.com/scentdex/catalog-cli/pkg/anthropic"
)

// env holds the initialized store and the services built on it, shared by
// the serve/process/review commands.
type env struct {
	Store    store.Store
	Queue    *queue.Queue
	Engine   *engine.Engine
	Approval *approval.Service
	Stats    *stats.Aggregator
}

// Close releases resources held by the environment.
func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	rules := cfg.MergeRules()

	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "catalog.db"
		}
		st, err = store.NewSQLite(dsn, rules)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, rules, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initProviders registers the enhancement sources that are configured.
// Requests whose sources are all missing fail at processing time.
func initProviders() (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		registry.Register(provider.NewAIProvider(client, cfg.Anthropic.Model, cfg.Pricing.AIAnalysisPerRequest))
		zap.L().Info("ai analysis provider enabled", zap.String("model", cfg.Anthropic.Model))
	} else {
		zap.L().Warn("CATALOG_ANTHROPIC_KEY not set, ai_analysis source disabled")
	}

	scrapeDefaults := provider.ScrapeOptions{
		BaseURL:           cfg.Scrape.BaseURL,
		UserAgent:         cfg.Scrape.UserAgent,
		Timeout:           time.Duration(cfg.Scrape.TimeoutSecs) * time.Second,
		CostPerFetch:      cfg.Pricing.WebScrapePerRequest,
		RequestsPerSecond: cfg.Scrape.RequestsPerSecond,
	}
	switch {
	case cfg.Scrape.SourcesFile != "":
		sources, err := provider.LoadSources(cfg.Scrape.SourcesFile, scrapeDefaults)
		if err != nil {
			return nil, err
		}
		registry.Register(provider.NewScrapeChain(sources))
		zap.L().Info("web scrape source chain enabled",
			zap.String("sources_file", cfg.Scrape.SourcesFile),
			zap.Int("sources", len(sources)),
		)
	case cfg.Scrape.BaseURL != "":
		registry.Register(provider.NewScrapeProvider(scrapeDefaults))
		zap.L().Info("web scrape provider enabled", zap.String("base_url", cfg.Scrape.BaseURL))
	default:
		zap.L().Warn("CATALOG_SCRAPE_BASE_URL not set, web_scrape source disabled")
	}

	return registry, nil
}

// initEnv validates the config for the given mode and builds the service
// environment. Callers should defer e.Close().
func initEnv(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	providers, err := initProviders()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	rules := cfg.MergeRules()
	estimator := cost.NewEstimator(cfg.CostRates())
	eng := engine.New(providers, rules, engine.Options{
		FetchTimeout:        time.Duration(cfg.Pipeline.FetchTimeoutSecs) * time.Second,
		AutoSelectThreshold: cfg.Merge.AutoSelectThreshold,
	})

	e := &env{
		Store:    st,
		Queue:    queue.New(st, estimator),
		Engine:   eng,
		Approval: approval.New(st, rules),
		Stats:    stats.New(st),
	}

	e.Queue.OnTransition(e.Stats.ObserveTransition)
	e.Approval.OnChangesReady(func(ev approval.ChangesReadyEvent) {
		zap.L().Info("changes ready for review",
			zap.String("request_id", ev.RequestID),
			zap.String("fragrance_id", ev.FragranceID),
			zap.Int("changes", ev.Changes),
			zap.Int("auto_selected", ev.AutoSelected),
		)
	})
	return e, nil
}
