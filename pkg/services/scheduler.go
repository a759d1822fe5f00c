package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/config"
	"github.com/ekaya-inc/puzzle-engine/pkg/metrics"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
	"github.com/ekaya-inc/puzzle-engine/pkg/repositories"
)

// PuzzleComposer produces a candidate puzzle for a config.
type PuzzleComposer interface {
	Compose(ctx context.Context, cfg *models.PuzzleConfig, themeHint string) (*models.CandidatePuzzle, error)
}

// PuzzleValidator decides the disposition of a stored draft.
type PuzzleValidator interface {
	Validate(ctx context.Context, p *models.Puzzle, cfg *models.PuzzleConfig) (*models.Disposition, error)
}

// Scheduler drains the generation job queue. Each job runs compose, draft,
// validate and disposition in sequence. The scheduler alone decides whether
// a failed attempt is retried or the job fails for good.
type Scheduler struct {
	jobs      repositories.GenerationJobRepository
	configs   repositories.PuzzleConfigRepository
	pool      PoolService
	composer  PuzzleComposer
	validator PuzzleValidator
	cfg       config.SchedulerConfig
	metrics   *metrics.Collector
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a new Scheduler. collector may be nil.
func NewScheduler(
	jobs repositories.GenerationJobRepository,
	configs repositories.PuzzleConfigRepository,
	pool PoolService,
	composer PuzzleComposer,
	validator PuzzleValidator,
	cfg config.SchedulerConfig,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.JobsPerTick <= 0 {
		cfg.JobsPerTick = 1
	}
	if cfg.ShutdownRequeue <= 0 {
		cfg.ShutdownRequeue = 10 * time.Second
	}
	return &Scheduler{
		jobs:      jobs,
		configs:   configs,
		pool:      pool,
		composer:  composer,
		validator: validator,
		cfg:       cfg,
		metrics:   collector,
		logger:    logger.Named("scheduler"),
	}
}

// Start runs the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.Run(ctx)
	}(s.done)
}

// Stop cancels the loop and waits for the in-flight job to be requeued.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run polls for work until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("jobs_per_tick", s.cfg.JobsPerTick),
		zap.Duration("stale_after", s.cfg.StaleAfter))

	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick recovers stale jobs and then processes up to JobsPerTick queued jobs
// one at a time. Returns the number of jobs processed.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.recoverStale(ctx)

	processed := 0
	for processed < s.cfg.JobsPerTick {
		if ctx.Err() != nil {
			return processed
		}
		job, err := s.jobs.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("Failed to claim job", zap.Error(err))
			}
			return processed
		}
		if job == nil {
			return processed
		}
		s.processJob(ctx, job)
		processed++
	}
	return processed
}

func (s *Scheduler) recoverStale(ctx context.Context) {
	if s.cfg.StaleAfter <= 0 {
		return
	}
	requeued, failed, err := s.jobs.RequeueStale(ctx, time.Now().Add(-s.cfg.StaleAfter))
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Failed to recover stale jobs", zap.Error(err))
		}
		return
	}
	if requeued > 0 || failed > 0 {
		s.logger.Warn("Recovered stale jobs",
			zap.Int64("requeued", requeued),
			zap.Int64("failed", failed))
		s.metrics.RecordRequeued("stale", requeued)
	}
}

// processJob runs one attempt of job. Any failure is routed through
// handleFailure; nothing here returns an error.
func (s *Scheduler) processJob(ctx context.Context, job *models.GenerationJob) {
	start := time.Now()
	logger := s.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("config_id", job.ConfigID.String()),
		zap.Int("attempt", job.Attempts+1))
	logger.Info("Job started")

	jobCtx := ctx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	cfg, err := s.configs.GetByID(jobCtx, job.ConfigID)
	if err != nil {
		s.handleFailure(ctx, job, models.JobStatusGenerating, nil, fmt.Errorf("load config: %w", err), start)
		return
	}

	themeHint := ""
	if job.ThemeHint != nil {
		themeHint = *job.ThemeHint
	}
	candidate, err := s.composer.Compose(jobCtx, cfg, themeHint)
	if err != nil {
		s.handleFailure(ctx, job, models.JobStatusGenerating, nil, err, start)
		return
	}

	puzzle, err := s.pool.RecordDraft(jobCtx, candidate)
	if err != nil {
		s.handleFailure(ctx, job, models.JobStatusGenerating, nil, err, start)
		return
	}

	validating, err := s.jobs.Transition(ctx, job.ID, models.JobStatusGenerating, models.JobStatusValidating,
		repositories.JobUpdate{PuzzleID: &puzzle.ID})
	if err != nil {
		if ctx.Err() != nil {
			s.requeueOnShutdown(job, models.JobStatusGenerating, &puzzle.ID)
			return
		}
		s.abandon(ctx, logger, puzzle.ID, err)
		return
	}
	job = validating

	if err := s.pool.MarkValidating(jobCtx, puzzle.ID); err != nil {
		s.handleFailure(ctx, job, models.JobStatusValidating, &puzzle.ID, err, start)
		return
	}

	disposition, err := s.validator.Validate(jobCtx, puzzle, cfg)
	if err != nil {
		s.handleFailure(ctx, job, models.JobStatusValidating, &puzzle.ID, fmt.Errorf("validate: %w", err), start)
		return
	}

	if err := s.pool.ApplyDisposition(jobCtx, puzzle.ID, disposition); err != nil {
		s.handleFailure(ctx, job, models.JobStatusValidating, &puzzle.ID, err, start)
		return
	}

	// The disposition is already stored, so completion must not be lost to shutdown.
	if _, err := s.jobs.Transition(context.WithoutCancel(ctx), job.ID, models.JobStatusValidating, models.JobStatusComplete, repositories.JobUpdate{}); err != nil {
		logger.Error("Failed to complete job after disposition", zap.Error(err))
		return
	}

	s.metrics.RecordJobFinished(string(models.JobStatusComplete), time.Since(start))
	logger.Info("Job complete",
		zap.String("puzzle_id", puzzle.ID.String()),
		zap.String("disposition", string(disposition.Status)),
		zap.Float64("score", disposition.Score),
		zap.Duration("elapsed", time.Since(start)))
}

// handleFailure records a failed attempt. A shutdown returns the job to the
// queue without spending an attempt; otherwise the attempt is counted and
// the job is requeued or failed.
func (s *Scheduler) handleFailure(ctx context.Context, job *models.GenerationJob, from models.JobStatus, puzzleID *uuid.UUID, cause error, start time.Time) {
	logger := s.logger.With(zap.String("job_id", job.ID.String()))

	if ctx.Err() != nil {
		s.requeueOnShutdown(job, from, puzzleID)
		return
	}

	if puzzleID != nil {
		if err := s.pool.DiscardDraft(ctx, *puzzleID); err != nil {
			logger.Error("Failed to discard draft", zap.String("puzzle_id", puzzleID.String()), zap.Error(err))
		}
	}

	attempts := job.Attempts + 1
	if job.AttemptsRemaining(attempts) {
		if _, err := s.jobs.Transition(ctx, job.ID, from, models.JobStatusQueued,
			repositories.JobUpdate{IncrementAttempts: true}); err != nil {
			logger.Error("Failed to requeue job", zap.Error(err))
			return
		}
		s.metrics.RecordRequeued("retry", 1)
		logger.Warn("Job attempt failed, requeued",
			zap.Int("attempts", attempts),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Error(cause))
		return
	}

	msg := cause.Error()
	if _, err := s.jobs.Transition(ctx, job.ID, from, models.JobStatusFailed,
		repositories.JobUpdate{IncrementAttempts: true, ErrorMessage: &msg}); err != nil {
		logger.Error("Failed to mark job failed", zap.Error(err))
		return
	}
	s.metrics.RecordJobFinished(string(models.JobStatusFailed), time.Since(start))
	logger.Error("Job failed",
		zap.Int("attempts", attempts),
		zap.Error(cause))
}

// requeueOnShutdown uses a fresh context because the scheduler's own context
// is already cancelled.
func (s *Scheduler) requeueOnShutdown(job *models.GenerationJob, from models.JobStatus, puzzleID *uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownRequeue)
	defer cancel()

	if puzzleID != nil {
		if err := s.pool.DiscardDraft(ctx, *puzzleID); err != nil {
			s.logger.Error("Failed to discard draft on shutdown", zap.Error(err))
		}
	}
	if _, err := s.jobs.Transition(ctx, job.ID, from, models.JobStatusQueued, repositories.JobUpdate{}); err != nil {
		s.logger.Error("Failed to requeue job on shutdown",
			zap.String("job_id", job.ID.String()),
			zap.Error(err))
		return
	}
	s.metrics.RecordRequeued("shutdown", 1)
	s.logger.Info("Job requeued on shutdown", zap.String("job_id", job.ID.String()))
}

// abandon handles a job that was taken away mid-attempt, usually by stale
// recovery. The draft is dropped and the job is left to its new owner.
func (s *Scheduler) abandon(ctx context.Context, logger *zap.Logger, puzzleID uuid.UUID, err error) {
	if derr := s.pool.DiscardDraft(ctx, puzzleID); derr != nil {
		logger.Error("Failed to discard draft", zap.Error(derr))
	}
	if errors.Is(err, apperrors.ErrConflict) {
		logger.Warn("Job changed status during attempt, abandoning", zap.Error(err))
		return
	}
	logger.Error("Failed to move job to validating", zap.Error(err))
}
