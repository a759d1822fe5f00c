package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/database"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// JobUpdate carries the optional column changes applied with a status transition.
type JobUpdate struct {
	PuzzleID          *uuid.UUID
	ErrorMessage      *string
	IncrementAttempts bool
}

// GenerationJobRepository provides data access for generation jobs.
// Every status change is conditional on the current status so concurrent
// workers cannot double-process a job.
type GenerationJobRepository interface {
	Enqueue(ctx context.Context, configID uuid.UUID, count int, source models.JobSource, themeHint *string, maxAttempts int) ([]*models.GenerationJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)

	// ClaimNext moves the oldest queued job to generating and returns it.
	// Returns nil, nil when nothing is queued.
	ClaimNext(ctx context.Context) (*models.GenerationJob, error)

	// Transition moves a job from one status to another. Returns
	// apperrors.ErrConflict when the job is no longer in from.
	Transition(ctx context.Context, id uuid.UUID, from, to models.JobStatus, update JobUpdate) (*models.GenerationJob, error)

	// RequeueStale returns jobs stuck in generating or validating since before
	// olderThan to the queue, counting the lost attempt. Jobs out of attempts
	// are failed instead.
	RequeueStale(ctx context.Context, olderThan time.Time) (requeued, failed int64, err error)

	CountByStatus(ctx context.Context, configID uuid.UUID) (map[models.JobStatus]int64, error)
	CountPending(ctx context.Context, configID uuid.UUID) (int64, error)
}

type generationJobRepository struct {
	db *database.DB
}

// NewGenerationJobRepository creates a new GenerationJobRepository.
func NewGenerationJobRepository(db *database.DB) GenerationJobRepository {
	return &generationJobRepository{db: db}
}

var _ GenerationJobRepository = (*generationJobRepository)(nil)

const jobColumns = `id, config_id, status, attempts, max_attempts, error_message, puzzle_id,
	source, theme_hint, created_at, updated_at, started_at, completed_at`

// ============================================================================
// Create / Read
// ============================================================================

func (r *generationJobRepository) Enqueue(ctx context.Context, configID uuid.UUID, count int, source models.JobSource, themeHint *string, maxAttempts int) ([]*models.GenerationJob, error) {
	if count <= 0 {
		return nil, nil
	}
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultJobMaxAttempts
	}

	jobs := make([]*models.GenerationJob, 0, count)
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			row := tx.QueryRow(ctx, `
				INSERT INTO generation_jobs (id, config_id, status, attempts, max_attempts, source, theme_hint)
				VALUES ($1, $2, 'queued', 0, $3, $4, $5)
				RETURNING `+jobColumns,
				uuid.New(), configID, maxAttempts, source, themeHint)
			job, err := scanGenerationJob(row)
			if err != nil {
				return fmt.Errorf("failed to enqueue generation job: %w", err)
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *generationJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = $1`, id)
	job, err := scanGenerationJob(row)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return job, nil
}

func (r *generationJobRepository) CountByStatus(ctx context.Context, configID uuid.UUID) (map[models.JobStatus]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT status, COUNT(*) FROM generation_jobs WHERE config_id = $1 GROUP BY status`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to count generation jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64, len(models.ValidJobStatuses))
	for _, s := range models.ValidJobStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status models.JobStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job counts: %w", err)
	}
	return counts, nil
}

func (r *generationJobRepository) CountPending(ctx context.Context, configID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM generation_jobs
		WHERE config_id = $1 AND status IN ('queued', 'generating', 'validating')`, configID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return n, nil
}

// ============================================================================
// State Transitions
// ============================================================================

func (r *generationJobRepository) ClaimNext(ctx context.Context) (*models.GenerationJob, error) {
	row := r.db.Pool.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = 'generating',
		    started_at = now(),
		    updated_at = now()
		WHERE id = (
			SELECT id FROM generation_jobs
			WHERE status = 'queued'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns)
	job, err := scanGenerationJob(row)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim generation job: %w", err)
	}
	return job, nil
}

func (r *generationJobRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.JobStatus, update JobUpdate) (*models.GenerationJob, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("invalid job transition %s -> %s", from, to)
	}

	inc := 0
	if update.IncrementAttempts {
		inc = 1
	}
	row := r.db.Pool.QueryRow(ctx, `
		UPDATE generation_jobs
		SET status = $3,
		    attempts = attempts + $4,
		    puzzle_id = COALESCE($5, puzzle_id),
		    error_message = COALESCE($6, error_message),
		    completed_at = CASE WHEN $3 IN ('complete', 'failed') THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+jobColumns,
		id, from, to, inc, update.PuzzleID, update.ErrorMessage)
	job, err := scanGenerationJob(row)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, r.missingOrConflict(ctx, id, from)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition job %s: %w", id, err)
	}
	return job, nil
}

func (r *generationJobRepository) RequeueStale(ctx context.Context, olderThan time.Time) (int64, int64, error) {
	var requeued, failed int64
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE generation_jobs
			SET status = 'failed',
			    attempts = attempts + 1,
			    error_message = 'abandoned by worker',
			    completed_at = now(),
			    updated_at = now()
			WHERE status IN ('generating', 'validating')
			  AND updated_at < $1
			  AND attempts + 1 >= max_attempts`, olderThan)
		if err != nil {
			return fmt.Errorf("failed to fail stale jobs: %w", err)
		}
		failed = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			UPDATE generation_jobs
			SET status = 'queued',
			    attempts = attempts + 1,
			    updated_at = now()
			WHERE status IN ('generating', 'validating')
			  AND updated_at < $1`, olderThan)
		if err != nil {
			return fmt.Errorf("failed to requeue stale jobs: %w", err)
		}
		requeued = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return requeued, failed, nil
}

func (r *generationJobRepository) missingOrConflict(ctx context.Context, id uuid.UUID, expected models.JobStatus) error {
	var status models.JobStatus
	err := r.db.Pool.QueryRow(ctx, `SELECT status FROM generation_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read job status: %w", err)
	}
	return fmt.Errorf("job %s is %s, expected %s: %w", id, status, expected, apperrors.ErrConflict)
}

func scanGenerationJob(row pgx.Row) (*models.GenerationJob, error) {
	var j models.GenerationJob
	err := row.Scan(&j.ID, &j.ConfigID, &j.Status, &j.Attempts, &j.MaxAttempts, &j.ErrorMessage, &j.PuzzleID,
		&j.Source, &j.ThemeHint, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan generation job: %w", err)
	}
	return &j, nil
}
