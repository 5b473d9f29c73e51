package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/chain"
	"github.com/dost0092/web-scraper-atomic/internal/extract"
	"github.com/dost0092/web-scraper-atomic/internal/llm"
	"github.com/dost0092/web-scraper-atomic/internal/pipeline"
	"github.com/dost0092/web-scraper-atomic/internal/resilience"
	"github.com/dost0092/web-scraper-atomic/internal/scrape"
	"github.com/dost0092/web-scraper-atomic/internal/store"
	"github.com/dost0092/web-scraper-atomic/internal/webcontext"
)

// pipelineEnv holds the store, clients, orchestrator and discoverer used
// by the extract, batch, resume, discover and serve commands.
type pipelineEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
	Discoverer   *scrape.Discoverer
	closers      []io.Closer
}

// Close releases resources held by the environment in reverse order.
func (pe *pipelineEnv) Close() {
	for i := len(pe.closers) - 1; i >= 0; i-- {
		if err := pe.closers[i].Close(); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "hotelx.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for the postgres driver (HOTELX_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func newDiscoverer(f scrape.Fetcher) *scrape.Discoverer {
	return scrape.NewDiscoverer(f, chain.Default(), scrape.DiscoverOptions{MaxPages: cfg.Scrape.DiscoverMaxPages})
}

// initDiscovery builds the store and discoverer without the LLM clients.
// Callers should defer env.Close().
func initDiscovery(ctx context.Context) (*pipelineEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	scraper := scrape.NewFromConfig(cfg.Scrape)
	return &pipelineEnv{
		Store:      st,
		Discoverer: newDiscoverer(scraper),
		closers:    []io.Closer{scraper},
	}, nil
}

// initPipeline builds the store, LLM client, scraper chain and
// orchestrator. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &pipelineEnv{Store: st}

	client, cacheCloser, err := llm.NewFromConfig(ctx, cfg.LLM)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "init llm client")
	}
	env.closers = append(env.closers, cacheCloser)

	policy := resilience.NewPolicy(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.Jitter,
	)

	gen := webcontext.New(client, policy, webcontext.Options{
		Model:          cfg.LLM.ContextModel,
		MaxFieldChars:  cfg.Context.MaxFieldChars,
		MaxPromptChars: cfg.Context.MaxPromptChars,
		MaxLength:      cfg.Context.MaxLength,
		MaxTokens:      cfg.Context.MaxTokens,
		Timeout:        cfg.LLM.Timeout,
	})
	ext := extract.New(client, policy, extract.Options{
		Model:     cfg.LLM.ExtractModel,
		MaxTokens: cfg.Extract.MaxTokens,
		Timeout:   cfg.LLM.Timeout,
		Limits:    cfg.Limits,
	})

	scraper := scrape.NewFromConfig(cfg.Scrape)
	env.closers = append(env.closers, scraper)
	env.Discoverer = newDiscoverer(scraper)

	env.Orchestrator = pipeline.New(st, scraper, gen, ext, pipeline.Options{
		MinConfidence: cfg.Pipeline.MinConfidence,
		LeaseTTL:      cfg.Pipeline.LeaseTTL,
		StoreTimeout:  cfg.Store.Timeout,
		ScrapeTimeout: cfg.Scrape.Timeout,
		Policy:        policy,
	})

	zap.L().Info("pipeline ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("llm", client.Name()),
		zap.String("scrape_engine", cfg.Scrape.Engine),
	)
	return env, nil
}
