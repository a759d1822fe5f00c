package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/config"
	"github.com/ekaya-inc/puzzle-engine/pkg/database"
	"github.com/ekaya-inc/puzzle-engine/pkg/embedding"
	"github.com/ekaya-inc/puzzle-engine/pkg/generation"
	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/logging"
	"github.com/ekaya-inc/puzzle-engine/pkg/metrics"
	"github.com/ekaya-inc/puzzle-engine/pkg/repositories"
	"github.com/ekaya-inc/puzzle-engine/pkg/services"
	"github.com/ekaya-inc/puzzle-engine/pkg/solver"
	"github.com/ekaya-inc/puzzle-engine/pkg/validation"
)

// app holds the storage-backed components every command needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *database.DB
	metrics *metrics.Collector
	configs repositories.PuzzleConfigRepository
	jobs    repositories.GenerationJobRepository
	pool    services.PoolService
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w",
			logging.SanitizeConnectionString(cfg.Database.URL()), err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	var fallback *services.FallbackSource
	if cfg.Pool.FallbackFile != "" {
		fallback, err = services.LoadFallbackFile(cfg.Pool.FallbackFile)
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("Loaded fallback puzzles", zap.String("file", cfg.Pool.FallbackFile))
	}

	configs := repositories.NewPuzzleConfigRepository(db)
	puzzles := repositories.NewPuzzleRepository(db)
	jobs := repositories.NewGenerationJobRepository(db)

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		metrics: collector,
		configs: configs,
		jobs:    jobs,
		pool: services.NewPoolService(configs, puzzles, jobs, fallback,
			cfg.Pool, cfg.Scheduler.MaxAttempts, collector, logger),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

// pipeline is the model-backed half of the engine: composition and validation.
type pipeline struct {
	composer  *generation.Composer
	validator *validation.Orchestrator
	redis     *redis.Client
}

func (a *app) newPipeline(ctx context.Context) (*pipeline, error) {
	factory := llm.NewClientFactory(a.cfg.Generation, a.cfg.Embedding, a.logger)

	gen, err := factory.CreateGenerator()
	if err != nil {
		return nil, err
	}
	solverGen, err := factory.CreateSolverGenerator()
	if err != nil {
		return nil, err
	}
	embedder, err := factory.CreateEmbedder()
	if err != nil {
		return nil, err
	}

	rdb, err := database.NewRedisClient(ctx, &a.cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		a.logger.Info("Redis not configured, embedding cache disabled")
	}
	clients := newModelClients(a.cfg, gen, solverGen, embedder, rdb, a.metrics, a.logger)
	genCaller, solverCaller, embedder := clients.generation, clients.solver, clients.embedder

	maxTokens := a.cfg.Generation.MaxTokens
	groups := generation.NewGroupGenerator(genCaller, maxTokens, a.logger)
	composer := generation.NewComposer(genCaller, groups, embedder, maxTokens, a.logger)

	workers := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: a.cfg.Validation.MaxConcurrent}, a.logger)
	solverValidator := solver.NewValidator(solverCaller, workers, solver.Config{
		Attempts:    a.cfg.Validation.SelfConsistencyAttempts,
		Temperature: a.cfg.Validation.SolverTemperature,
		MaxTokens:   maxTokens,
	}, a.logger)

	return &pipeline{
		composer:  composer,
		validator: validation.NewOrchestrator(embedding.NewValidator(embedder, a.logger), solverValidator, a.logger),
		redis:     rdb,
	}, nil
}

// modelClients are the handles pipeline stages use to reach external models.
// All of them draw from one token bucket.
type modelClients struct {
	generation *llm.Caller
	solver     *llm.Caller
	embedder   llm.Embedder
}

// newModelClients guards every model with its own circuit breaker and a
// shared throttle. The Redis cache, when rdb is set, sits in front of the
// embedding throttle so cache hits cost nothing.
func newModelClients(cfg *config.Config, gen, solverGen llm.Generator, embedder llm.Embedder, rdb *redis.Client, observer llm.CallObserver, logger *zap.Logger) *modelClients {
	throttle := llm.NewThrottle(cfg.Scheduler.RatePerMinute, cfg.Scheduler.RateBurst)
	callerCfg := llm.CallerConfigFrom(cfg.Generation)

	embedCfg := callerCfg
	if cfg.Embedding.CallTimeout > 0 {
		embedCfg.CallTimeout = cfg.Embedding.CallTimeout
	}
	embedder = llm.NewGuardedEmbedder(embedder,
		llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig("embedding")),
		throttle, embedCfg, logger)
	if rdb != nil {
		embedder = embedding.NewCachedEmbedder(embedder, rdb, cfg.Embedding.CacheTTL, logger)
	}

	return &modelClients{
		generation: llm.NewCaller(gen,
			llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig("generation")),
			throttle, callerCfg, observer, logger),
		solver: llm.NewCaller(solverGen,
			llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig("solver")),
			throttle, callerCfg, observer, logger),
		embedder: embedder,
	}
}

func (p *pipeline) Close() {
	if p.redis != nil {
		_ = p.redis.Close()
	}
}
