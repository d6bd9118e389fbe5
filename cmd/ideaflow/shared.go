package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/ideaflow/internal/agent"
	"github.com/jkaninda/ideaflow/internal/audit"
	"github.com/jkaninda/ideaflow/internal/catalog"
	"github.com/jkaninda/ideaflow/internal/config"
	"github.com/jkaninda/ideaflow/internal/conversation"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/llm"
	"github.com/jkaninda/ideaflow/internal/llm/anthropic"
	"github.com/jkaninda/ideaflow/internal/llm/openai"
	"github.com/jkaninda/ideaflow/internal/observability"
	"github.com/jkaninda/ideaflow/internal/relay"
	"github.com/jkaninda/ideaflow/internal/resolver"
	"github.com/jkaninda/ideaflow/internal/sandbox"
	"github.com/jkaninda/ideaflow/internal/storage"
	pgstore "github.com/jkaninda/ideaflow/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/ideaflow/internal/storage/sqlite"
	"github.com/jkaninda/ideaflow/internal/tools"
	"github.com/jkaninda/ideaflow/internal/tools/database"
	mcptools "github.com/jkaninda/ideaflow/internal/tools/mcp"
	"github.com/jkaninda/ideaflow/internal/tools/plan"
	"github.com/jkaninda/ideaflow/internal/tools/shell"
	"github.com/jkaninda/ideaflow/internal/tools/web"
)

var configPath string

// SharedComponents holds the subsystems built by initShared, torn down by
// Cleanup. The catalog commands only use Config, Logger, Store and Catalog.
type SharedComponents struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store

	Catalog       *catalog.Service
	Resolver      *resolver.Resolver
	Conversations *conversation.Service

	Obs      *observability.Observability
	Provider llm.StreamingProvider
	ToolReg  *tools.Registry
	Auditor  *audit.Auditor
	Relay    *relay.Relay

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig reads the config file named by IDEAFLOW_CONFIG, the --config
// flag or the default path, and builds the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(goutils.Env("IDEAFLOW_CONFIG", path))
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	return cfg, logger, nil
}

// initStorage opens and migrates the store and builds the catalog services.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{Config: cfg, Logger: logger}

	store, err := initStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	if err := store.Migrate(ctx); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	sc.Catalog = catalog.NewService(store.Catalog(), logger)
	sc.Resolver = resolver.New(store.Catalog(), logger)
	sc.Conversations = conversation.NewService(store.Conversations(), store.Catalog(), logger)
	return sc, nil
}

// initShared performs the full initialization used by serve. Callers must
// call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	obs.Health.AddCheck("storage", sc.Store.Ping)
	logger.Debug("observability initialized",
		slog.Bool("metrics", obs.Metrics != nil),
		slog.Bool("tracing", obs.Tracer != nil),
		slog.Bool("anomaly", obs.Anomaly != nil),
	)

	// Model providers.
	provider, err := newProvider(cfg, obs, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing model providers: %w", err)
	}
	sc.Provider = provider

	// Tool executors, with builtin and integration tools mirrored into the catalog.
	reg, entries := buildTools(ctx, sc, obs)
	sc.ToolReg = reg
	if err := registerCatalogTools(ctx, sc.Catalog, sc.Store.Catalog(), entries, logger); err != nil {
		sc.Cleanup()
		return nil, err
	}

	if cfg.Catalog.SeedFile != "" {
		if err := seedCatalog(ctx, sc.Catalog, cfg.Catalog.SeedFile, logger); err != nil {
			sc.Cleanup()
			return nil, err
		}
	}

	// Usage audit.
	auditor := audit.New(sc.Store.Audit(), logger)
	if obs.Metrics != nil {
		auditor.WithMetrics(obs.Metrics)
	}
	if cfg.Audit.FilePath != "" {
		sink, err := audit.OpenFileSink(cfg.Audit.FilePath)
		if err != nil {
			sc.Cleanup()
			return nil, fmt.Errorf("opening audit file: %w", err)
		}
		auditor.WithSink(sink)
		sc.addCleanup(func() { _ = sink.Close() })
		logger.Debug("audit file sink enabled", slog.String("path", cfg.Audit.FilePath))
	}
	sc.Auditor = auditor

	// Relay.
	flush := cfg.Relay.FlushSize
	if flush == 0 {
		flush = relay.DefaultFlushSize
	}
	r := relay.New(provider, agent.NewFactory(sc.Store.Catalog(), sc.Resolver, logger), sc.Store.Conversations(), sc.Resolver, logger).
		WithExecutors(reg).
		WithAuditor(auditor).
		WithConfig(relay.Config{
			MaxToolRounds: cfg.Relay.MaxToolRounds,
			ToolTimeout:   cfg.Relay.ToolTimeout(),
			FlushSize:     flush,
		})
	if obs.Metrics != nil {
		r.WithMetrics(obs.Metrics)
	}
	if obs.Tracer != nil {
		r.WithTracer(obs.Tracer.Tracer())
	}
	sc.Relay = r

	return sc, nil
}

// initStore creates the storage backend selected in config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		pg := cfg.Storage.Postgres
		return pgstore.OpenStore(pgstore.Config{
			DSN:             pg.DSN,
			MaxOpenConns:    pg.MaxOpenConns,
			MaxIdleConns:    pg.MaxIdleConns,
			ConnMaxLifetime: pg.ConnMaxLifetime(),
		}, logger)
	case storage.DriverSQLite:
		journalMode := "wal"
		if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
			journalMode = cfg.Storage.SQLite.JournalMode
		}
		return sqlitestore.Open(sqlitestore.Config{
			Path:        cfg.DatabasePath(),
			JournalMode: journalMode,
		}, logger)
	case storage.DriverMemory:
		logger.Warn("using in-memory storage, nothing survives a restart")
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func seedCatalog(ctx context.Context, svc *catalog.Service, path string, logger *slog.Logger) error {
	f, err := catalog.LoadSeedFile(path)
	if err != nil {
		return err
	}
	res, err := svc.Seed(ctx, f)
	if err != nil {
		return fmt.Errorf("seeding catalog from %s: %w", path, err)
	}
	logger.Info("catalog seeded",
		slog.String("file", path),
		slog.Int("tools", res.Tools),
		slog.Int("agent_types", res.AgentTypes),
		slog.Int("assignments", res.Assignments),
	)
	return nil
}

// newProvider builds every configured provider behind a model-prefix router.
// Each provider is instrumented, then wrapped in its own circuit breaker.
func newProvider(cfg *config.Config, obs *observability.Observability, logger *slog.Logger) (llm.StreamingProvider, error) {
	var breaker llm.BreakerSettings
	breakerOff := false
	if b := cfg.Providers.Breaker; b != nil {
		breakerOff = b.Disabled
		breaker = llm.BreakerSettings{
			MaxFailures: b.MaxFailures,
			Timeout:     time.Duration(b.TimeoutSeconds) * time.Second,
			Interval:    time.Duration(b.IntervalSeconds) * time.Second,
		}
	}
	wrap := func(p llm.StreamingProvider) llm.StreamingProvider {
		if obs.Metrics != nil {
			p = observability.NewInstrumentedProvider(p, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
		}
		if !breakerOff {
			p = llm.NewBreakerProvider(p, breaker, logger)
		}
		return p
	}

	built := make(map[string]llm.StreamingProvider, 3)
	if a := cfg.Providers.Anthropic; a.APIKey != "" {
		var opts []anthropic.Option
		if a.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(a.BaseURL))
		}
		built["anthropic"] = wrap(anthropic.NewClient(a.APIKey, a.Model, logger, opts...))
	}
	if o := cfg.Providers.OpenAI; o.APIKey != "" {
		var opts []openai.Option
		if o.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(o.BaseURL))
		}
		built["openai"] = wrap(openai.NewClient(o.APIKey, o.Model, logger, opts...))
	}
	if ol := cfg.Providers.Ollama; ol.Model != "" {
		built["ollama"] = wrap(openai.NewClient("", ol.Model, logger,
			openai.WithBaseURL(ol.OllamaBaseURL()),
			openai.WithName("ollama"),
		))
	}

	def, ok := built[cfg.Providers.Default]
	if !ok {
		return nil, fmt.Errorf("default provider %q is not configured", cfg.Providers.Default)
	}
	router := llm.NewRouter(def, logger)
	if p, ok := built["anthropic"]; ok {
		router.Route("claude", p)
	}
	if p, ok := built["openai"]; ok {
		for _, prefix := range []string{"gpt-", "o1", "o3", "o4"} {
			router.Route(prefix, p)
		}
	}
	if p, ok := built["ollama"]; ok {
		router.Route(cfg.Providers.Ollama.Model, p)
	}
	logger.Debug("model providers initialized",
		slog.String("default", cfg.Providers.Default),
		slog.Int("count", len(built)),
	)
	return router, nil
}

// buildTools registers the enabled builtin tools and the tools discovered on
// MCP servers. It returns the catalog records describing them.
func buildTools(ctx context.Context, sc *SharedComponents, obs *observability.Observability) (*tools.Registry, []*domain.Tool) {
	cfg, logger := sc.Config, sc.Logger
	reg := tools.NewRegistry(logger, tools.WithWebhookClient(&http.Client{Timeout: cfg.Tools.WebhookTimeout()}))
	var entries []*domain.Tool
	builtin := func(t tools.Tool, category string) {
		reg.Register(t)
		entries = append(entries, tools.CatalogEntry(t, domain.SourceBuiltin, category))
	}

	if cfg.Tools.Plan {
		builtin(plan.NewTool(logger), "planning")
	}
	if s := cfg.Tools.Search; s != nil {
		builtin(web.NewSearchTool(web.SearchConfig{
			BaseURL:        s.BaseURL,
			MaxResults:     s.MaxResults,
			TimeoutSeconds: s.TimeoutSeconds,
			Language:       s.Language,
		}, logger), "research")
	}
	if w := cfg.Tools.Web; w != nil {
		builtin(web.NewFetchTool(web.FetchConfig{
			AllowedDomains:   w.AllowedDomains,
			MaxResponseBytes: w.MaxResponseBytes,
			TimeoutSeconds:   w.TimeoutSeconds,
		}, logger), "research")
	}
	if sh := cfg.Tools.Shell; sh != nil {
		var sbx sandbox.Sandbox = sandbox.NewProcessSandbox(sandbox.ProcessConfig{
			DefaultTimeout: time.Duration(sh.MaxExecutionSeconds) * time.Second,
			DefaultLimits: sandbox.ResourceLimits{
				MaxCPUSeconds: sh.MaxCPUSeconds,
				MaxMemoryMB:   sh.MaxMemoryMB,
			},
		}, logger)
		if obs.Metrics != nil {
			sbx = observability.NewInstrumentedSandbox(sbx, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
		}
		builtin(shell.NewTool(shell.Config{Workspace: sh.Workspace}, sbx, logger), "system")
	}
	if d := cfg.Tools.Database; d != nil {
		dbTool := database.NewTool(database.Config{
			DSN:            d.DSN,
			MaxRows:        d.MaxRows,
			TimeoutSeconds: d.TimeoutSeconds,
		}, logger)
		builtin(dbTool, "analysis")
		sc.addCleanup(func() { _ = dbTool.Close() })
	}

	if len(cfg.Tools.MCP) > 0 {
		bridge := mcptools.NewBridge(logger)
		mcpCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		for _, srv := range cfg.Tools.MCP {
			found, err := bridge.ConnectAndDiscover(mcpCtx, srv)
			if err != nil {
				logger.Error("MCP server failed, skipping",
					slog.String("server", srv.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			for _, t := range found {
				reg.Register(t)
				entries = append(entries, t.CatalogEntry())
			}
		}
		cancel()
		sc.addCleanup(bridge.Close)
	}

	logger.Debug("tools registered", slog.Any("tools", reg.Names()))
	return reg, entries
}

// registerCatalogTools adds catalog records for registered tools that the
// catalog does not know yet. Existing records are left alone so operator
// changes (enabled flag, approval) survive restarts.
func registerCatalogTools(ctx context.Context, svc *catalog.Service, reader catalog.Reader, entries []*domain.Tool, logger *slog.Logger) error {
	added := 0
	for _, t := range entries {
		_, err := reader.ToolByName(ctx, t.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("looking up tool %s: %w", t.Name, err)
		}
		if err := svc.SaveTool(ctx, t); err != nil {
			return fmt.Errorf("registering tool %s: %w", t.Name, err)
		}
		added++
	}
	if added > 0 {
		logger.Info("tools added to catalog", slog.Int("count", added))
	}
	return nil
}
