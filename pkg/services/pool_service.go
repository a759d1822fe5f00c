package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/config"
	"github.com/ekaya-inc/puzzle-engine/pkg/metrics"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
	"github.com/ekaya-inc/puzzle-engine/pkg/repositories"
)

// PoolService owns the durable puzzle inventory: configs, drafts,
// dispositions, allocation and replenishment.
type PoolService interface {
	CreateConfig(ctx context.Context, cfg *models.PuzzleConfig) error
	GetConfig(ctx context.Context, name string) (*models.PuzzleConfig, error)
	ListConfigs(ctx context.Context) ([]*models.PuzzleConfig, error)

	// Allocate hands out one approved puzzle. Returns nil, nil when the pool
	// for configID is empty.
	Allocate(ctx context.Context, configID uuid.UUID) (*uuid.UUID, error)

	// GetPuzzle returns a puzzle with its groups, words and validation report.
	GetPuzzle(ctx context.Context, id uuid.UUID) (*models.Puzzle, error)

	// RecordDraft stores a composed candidate as a draft and returns it with
	// its new IDs.
	RecordDraft(ctx context.Context, candidate *models.CandidatePuzzle) (*models.Puzzle, error)
	MarkValidating(ctx context.Context, puzzleID uuid.UUID) error
	ApplyDisposition(ctx context.Context, puzzleID uuid.UUID, d *models.Disposition) error
	DiscardDraft(ctx context.Context, puzzleID uuid.UUID) error

	PoolStats(ctx context.Context, configID uuid.UUID) (*models.PoolStats, error)
	EnqueueGenerationJobs(ctx context.Context, configID uuid.UUID, count int, source models.JobSource, themeHint *string) ([]*models.GenerationJob, error)

	// Replenish tops up every config whose approved count fell below the low
	// water mark. Returns the number of jobs enqueued.
	Replenish(ctx context.Context) (int, error)
	// RunReplenisher replenishes immediately and then every interval until
	// ctx is cancelled.
	RunReplenisher(ctx context.Context, interval time.Duration)

	// ServePuzzle allocates a puzzle for the named config and returns its
	// player-facing content. A starved pool falls back to static puzzles;
	// nil, nil means there was nothing to serve at all.
	ServePuzzle(ctx context.Context, configName string) (*models.ServedPuzzle, error)
}

type poolService struct {
	configs     repositories.PuzzleConfigRepository
	puzzles     repositories.PuzzleRepository
	jobs        repositories.GenerationJobRepository
	fallback    *FallbackSource
	cfg         config.PoolConfig
	maxAttempts int
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewPoolService creates a new PoolService. fallback and collector may be nil.
func NewPoolService(
	configs repositories.PuzzleConfigRepository,
	puzzles repositories.PuzzleRepository,
	jobs repositories.GenerationJobRepository,
	fallback *FallbackSource,
	cfg config.PoolConfig,
	maxAttempts int,
	collector *metrics.Collector,
	logger *zap.Logger,
) PoolService {
	return &poolService{
		configs:     configs,
		puzzles:     puzzles,
		jobs:        jobs,
		fallback:    fallback,
		cfg:         cfg,
		maxAttempts: maxAttempts,
		metrics:     collector,
		logger:      logger.Named("pool-service"),
	}
}

var _ PoolService = (*poolService)(nil)

func (s *poolService) CreateConfig(ctx context.Context, cfg *models.PuzzleConfig) error {
	if err := s.configs.Create(ctx, cfg); err != nil {
		return err
	}
	s.logger.Info("Puzzle config created",
		zap.String("config", cfg.Name),
		zap.Int("group_count", cfg.GroupCount),
		zap.Int("words_per_group", cfg.WordsPerGroup),
		zap.String("difficulty_profile", string(cfg.DifficultyProfile)))
	return nil
}

func (s *poolService) GetConfig(ctx context.Context, name string) (*models.PuzzleConfig, error) {
	return s.configs.GetByName(ctx, name)
}

func (s *poolService) ListConfigs(ctx context.Context) ([]*models.PuzzleConfig, error) {
	return s.configs.List(ctx)
}

func (s *poolService) Allocate(ctx context.Context, configID uuid.UUID) (*uuid.UUID, error) {
	return s.puzzles.Allocate(ctx, configID)
}

func (s *poolService) GetPuzzle(ctx context.Context, id uuid.UUID) (*models.Puzzle, error) {
	return s.puzzles.GetByID(ctx, id)
}

func (s *poolService) RecordDraft(ctx context.Context, candidate *models.CandidatePuzzle) (*models.Puzzle, error) {
	p := candidate.ToPuzzle()
	if err := s.puzzles.CreateDraft(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record draft: %w", err)
	}
	s.logger.Debug("Draft recorded",
		zap.String("puzzle_id", p.ID.String()),
		zap.String("config_id", p.ConfigID.String()),
		zap.Int("groups", len(p.Groups)))
	return p, nil
}

func (s *poolService) MarkValidating(ctx context.Context, puzzleID uuid.UUID) error {
	return s.puzzles.MarkValidating(ctx, puzzleID)
}

func (s *poolService) ApplyDisposition(ctx context.Context, puzzleID uuid.UUID, d *models.Disposition) error {
	if err := s.puzzles.ApplyDisposition(ctx, puzzleID, d); err != nil {
		return err
	}
	s.metrics.RecordDisposition(string(d.Status), d.Score)

	fields := []zap.Field{
		zap.String("puzzle_id", puzzleID.String()),
		zap.String("status", string(d.Status)),
		zap.Float64("score", d.Score),
	}
	if d.Report != nil && len(d.Report.AutoFailReasons) > 0 {
		fields = append(fields, zap.Strings("auto_fail_reasons", d.Report.AutoFailReasons))
	}
	s.logger.Info("Disposition applied", fields...)
	return nil
}

func (s *poolService) DiscardDraft(ctx context.Context, puzzleID uuid.UUID) error {
	return s.puzzles.DiscardDraft(ctx, puzzleID)
}

func (s *poolService) PoolStats(ctx context.Context, configID uuid.UUID) (*models.PoolStats, error) {
	byStatus, err := s.puzzles.CountByStatus(ctx, configID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.jobs.CountByStatus(ctx, configID)
	if err != nil {
		return nil, err
	}

	stats := &models.PoolStats{
		ConfigID:     configID,
		ByStatus:     make(map[models.PuzzleStatus]int64, len(models.ValidPuzzleStatuses)),
		JobsByStatus: make(map[models.JobStatus]int64, len(models.ValidJobStatuses)),
	}
	for _, st := range models.ValidPuzzleStatuses {
		stats.ByStatus[st] = byStatus[st]
		stats.Total += byStatus[st]
	}
	for _, st := range models.ValidJobStatuses {
		stats.JobsByStatus[st] = jobs[st]
	}
	return stats, nil
}

func (s *poolService) EnqueueGenerationJobs(ctx context.Context, configID uuid.UUID, count int, source models.JobSource, themeHint *string) ([]*models.GenerationJob, error) {
	if count <= 0 {
		return nil, nil
	}
	jobs, err := s.jobs.Enqueue(ctx, configID, count, source, themeHint, s.maxAttempts)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordEnqueued(string(source), len(jobs))
	s.logger.Info("Generation jobs enqueued",
		zap.String("config_id", configID.String()),
		zap.Int("count", len(jobs)),
		zap.String("source", string(source)))
	return jobs, nil
}

func (s *poolService) Replenish(ctx context.Context) (int, error) {
	configs, err := s.configs.List(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, cfg := range configs {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := s.replenishConfig(ctx, cfg)
		if err != nil {
			s.logger.Error("Failed to replenish config",
				zap.String("config", cfg.Name),
				zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

// replenishConfig enqueues enough jobs to lift the approved count back to
// the high water mark, counting jobs already in flight.
func (s *poolService) replenishConfig(ctx context.Context, cfg *models.PuzzleConfig) (int, error) {
	stats, err := s.PoolStats(ctx, cfg.ID)
	if err != nil {
		return 0, err
	}
	for status, n := range stats.ByStatus {
		s.metrics.SetPoolSize(cfg.Name, string(status), n)
	}

	approved := stats.Approved()
	if approved >= int64(s.cfg.LowWater) {
		return 0, nil
	}

	pending := stats.PendingJobs()
	needed := int64(s.cfg.HighWater) - approved - pending
	if needed <= 0 {
		return 0, nil
	}

	s.logger.Info("Pool below low water mark",
		zap.String("config", cfg.Name),
		zap.Int64("approved", approved),
		zap.Int64("pending_jobs", pending),
		zap.Int64("enqueue", needed))

	jobs, err := s.EnqueueGenerationJobs(ctx, cfg.ID, int(needed), models.JobSourceReplenish, nil)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

func (s *poolService) RunReplenisher(ctx context.Context, interval time.Duration) {
	s.logger.Info("Replenisher started",
		zap.Duration("interval", interval),
		zap.Int("low_water", s.cfg.LowWater),
		zap.Int("high_water", s.cfg.HighWater))

	s.replenishOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Replenisher stopped")
			return
		case <-ticker.C:
			s.replenishOnce(ctx)
		}
	}
}

func (s *poolService) replenishOnce(ctx context.Context) {
	n, err := s.Replenish(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Replenish failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		s.logger.Debug("Replenish pass complete", zap.Int("enqueued", n))
	}
}

func (s *poolService) ServePuzzle(ctx context.Context, configName string) (*models.ServedPuzzle, error) {
	cfg, err := s.configs.GetByName(ctx, configName)
	if err != nil {
		return nil, err
	}

	id, err := s.puzzles.Allocate(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	if id == nil {
		served := s.fallback.Pick(configName)
		if served == nil {
			s.metrics.RecordAllocation(configName, metrics.AllocationEmpty)
			s.logger.Warn("Pool starved and no fallback puzzle available", zap.String("config", configName))
			return nil, nil
		}
		s.metrics.RecordAllocation(configName, metrics.AllocationFallback)
		s.logger.Warn("Pool starved, serving fallback puzzle", zap.String("config", configName))
		return served, nil
	}

	groups, err := s.puzzles.LoadGroups(ctx, *id)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAllocation(configName, metrics.AllocationHit)

	served := &models.ServedPuzzle{
		PuzzleID:   id,
		ConfigName: configName,
		Groups:     make([]models.ServedGroup, len(groups)),
	}
	for i, g := range groups {
		words := make([]string, len(g.Words))
		for j, w := range g.Words {
			words[j] = w.Display()
		}
		served.Groups[i] = models.ServedGroup{
			CategoryName:   g.CategoryName,
			DifficultyRank: g.DifficultyRank,
			Words:          words,
		}
	}
	return served, nil
}
