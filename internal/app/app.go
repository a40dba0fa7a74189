// Package app wires the engine from configuration: storage, run store, ledger, cache, provider,
// extractors and sinks. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/order-extractor/internal/budget"
	"github.com/joseph-ayodele/order-extractor/internal/cache"
	"github.com/joseph-ayodele/order-extractor/internal/common"
	"github.com/joseph-ayodele/order-extractor/internal/core"
	"github.com/joseph-ayodele/order-extractor/internal/decision"
	"github.com/joseph-ayodele/order-extractor/internal/events"
	"github.com/joseph-ayodele/order-extractor/internal/extract"
	"github.com/joseph-ayodele/order-extractor/internal/llm"
	"github.com/joseph-ayodele/order-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/order-extractor/internal/metrics"
	"github.com/joseph-ayodele/order-extractor/internal/raster"
	repo "github.com/joseph-ayodele/order-extractor/internal/repository"
	"github.com/joseph-ayodele/order-extractor/internal/storage"
	"github.com/joseph-ayodele/order-extractor/internal/tenant"
)

// Options override parts of the configuration for a specific binary.
type Options struct {
	// StorageRoot replaces storage.root_dir when set.
	StorageRoot string
	// Registerer receives the engine collectors; nil uses a private registry.
	Registerer prometheus.Registerer
}

// App is a wired engine. Close releases every connection it opened.
type App struct {
	Processor *core.Processor
	DB        *repo.DB
	Runs      repo.RunRepository
	Metrics   *metrics.Metrics

	logger  *slog.Logger
	closers []func() error
}

// Build wires the engine described by cfg.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	root := cfg.Storage.RootDir
	if opts.StorageRoot != "" {
		root = opts.StorageRoot
	}
	store, err := storage.NewFSStore(root)
	if err != nil {
		return nil, err
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a.Metrics = metrics.New(reg)

	db, err := ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, common.NewAppError(common.CodeStorageUnavailable, "connect run store", err)
	}
	a.DB = db
	a.closers = append(a.closers, func() error { CloseDB(db, logger); return nil })
	a.Runs = repo.NewRunRepository(db, logger)
	feedback := repo.NewFeedbackRepository(db, logger)

	ledger, results, err := a.redisStores(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	tenants, err := tenant.LoadStaticProvider(logger, cfg.Tenants.File)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "load tenant policies", err)
	}

	registry := extract.NewRegistry()
	registry.RegisterRuleBased(
		extract.NewSpreadsheetExtractor(logger, cfg.Extraction.MaxLines),
		extract.NewDelimitedExtractor(logger, cfg.Extraction.MaxLines),
		extract.NewTextPDFExtractor(logger, cfg.Extraction.MaxLines, cfg.Extraction.PDFMinCoverage),
	)
	a.registerLLM(registry, cfg, store, feedback)

	sinks := []core.RunSink{core.SinkFunc(a.Runs.Insert)}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewPublisher(logger, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, core.SinkFunc(pub.Publish))
		logger.Info("run events enabled", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	}

	a.Processor = core.NewProcessor(logger, core.Deps{
		Store:    store,
		Registry: registry,
		Tenants:  tenants,
		Gate:     budget.NewGate(logger, ledger),
		Cache:    results,
		Sinks:    sinks,
		Recorder: a.Metrics,
	}, core.Config{
		Thresholds: decision.Thresholds{
			VisionCoverage:       cfg.Extraction.VisionCoverageThreshold,
			EscalationConfidence: cfg.Extraction.EscalationConfidence,
		},
		MaxLines:        cfg.Extraction.MaxLines,
		MaxQuantity:     cfg.Extraction.MaxQuantity,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		SourceCharLimit: cfg.LLM.SourceCharLimit,
		Pricing: budget.Pricing{
			InputPer1KUSD:  cfg.LLM.InputPricePer1KUSD,
			OutputPer1KUSD: cfg.LLM.OutputPricePer1KUSD,
		},
	})
	ok = true
	return a, nil
}

// redisStores returns the Redis-backed ledger and cache, or in-memory ones when no address is set.
func (a *App) redisStores(ctx context.Context, cfg common.RedisConfig) (budget.SpendLedger, cache.ResultCache, error) {
	if cfg.Addr == "" {
		a.logger.Info("redis not configured, using in-memory spend ledger and result cache")
		return budget.NewMemoryLedger(), cache.NewMemoryCache(), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	a.closers = append(a.closers, rdb.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, nil, common.NewAppError(common.CodeStorageUnavailable, "redis ping failed", err)
	}
	a.logger.Info("connected to redis", "addr", cfg.Addr)
	return budget.NewRedisLedger(rdb), cache.NewRedisCache(a.logger, rdb, cfg.CacheTTL), nil
}

// registerLLM binds the model-backed variants. Without an API key nothing is registered and
// escalations fail with a CONFIG error on the run.
func (a *App) registerLLM(registry *extract.Registry, cfg *common.Config, store storage.Store, feedback llm.FeedbackStore) {
	if err := cfg.RequireLLM(); err != nil {
		a.logger.Warn("llm disabled", "error", err)
		return
	}
	client := openai.NewClient(openai.Config{
		APIKey:              cfg.LLM.APIKey,
		BaseURL:             cfg.LLM.BaseURL,
		Model:               cfg.LLM.Model,
		VisionModel:         cfg.LLM.VisionModel,
		Temperature:         cfg.LLM.Temperature,
		Timeout:             cfg.LLM.Timeout,
		RequestsPerMinute:   cfg.LLM.RequestsPerMinute,
		InputPricePer1KUSD:  cfg.LLM.InputPricePer1KUSD,
		OutputPricePer1KUSD: cfg.LLM.OutputPricePer1KUSD,
	}, a.logger)

	acfg := llm.AdapterConfig{
		Timeout:             cfg.LLM.Timeout,
		MaxOutputTokens:     cfg.LLM.MaxOutputTokens,
		VisionTokensPerCall: cfg.LLM.VisionTokensPerCall,
		MaxLines:            cfg.Extraction.MaxLines,
		SourceCharLimit:     cfg.LLM.SourceCharLimit,
		FewShotExamples:     cfg.LLM.FewShotExamples,
	}
	pages := raster.NewRasterizer(a.logger, store, raster.ExecRunner{}, raster.Config{
		Binary: cfg.Raster.Binary,
		DPI:    cfg.Raster.DPI,
	})
	registry.Register(extract.AnyFormat, decision.LLMText,
		llm.NewTextAdapter(a.logger, client, feedback, acfg).WithObserver(a.Metrics))
	registry.Register(extract.AnyFormat, decision.LLMVision,
		llm.NewVisionAdapter(a.logger, client, feedback, pages, acfg).WithObserver(a.Metrics))
	a.logger.Info("llm enabled", "model", cfg.LLM.Model, "vision_model", cfg.LLM.VisionModel)
}

// Health pings the run store.
func (a *App) Health(ctx context.Context) error {
	if a.DB == nil {
		return fmt.Errorf("run store not connected")
	}
	return PingDB(ctx, a.DB, a.logger, 2*time.Second)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
