//go:build integration

package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

func TestGenerationJobRepository_EnqueueAndClaimInOrder(t *testing.T) {
	tc := setupPoolTest(t)
	ctx := context.Background()

	hint := "the ocean"
	jobs, err := tc.jobs.Enqueue(ctx, tc.config.ID, 3, models.JobSourceOperator, &hint, 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Status != models.JobStatusQueued || j.Attempts != 0 || j.MaxAttempts != models.DefaultJobMaxAttempts {
			t.Errorf("unexpected new job state: %+v", j)
		}
		if j.ThemeHint == nil || *j.ThemeHint != hint {
			t.Errorf("expected theme hint to be stored, got %v", j.ThemeHint)
		}
	}

	claimed, err := tc.jobs.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a job to be claimed")
	}
	if claimed.ID != jobs[0].ID {
		t.Errorf("expected oldest job %s, got %s", jobs[0].ID, claimed.ID)
	}
	if claimed.Status != models.JobStatusGenerating || claimed.StartedAt == nil {
		t.Errorf("expected generating with started_at, got %+v", claimed)
	}

	pending, err := tc.jobs.CountPending(ctx, tc.config.ID)
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if pending != 3 {
		t.Errorf("expected 3 pending jobs, got %d", pending)
	}
}

func TestGenerationJobRepository_ClaimNextEmpty(t *testing.T) {
	tc := setupPoolTest(t)

	job, err := tc.jobs.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if job != nil {
		t.Errorf("expected no job, got %+v", job)
	}
}

func TestGenerationJobRepository_ConcurrentClaimsNeverShareAJob(t *testing.T) {
	tc := setupPoolTest(t)
	ctx := context.Background()

	if _, err := tc.jobs.Enqueue(ctx, tc.config.ID, 5, models.JobSourceReplenish, nil, 3); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	const workers = 10
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		claimed = map[uuid.UUID]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := tc.jobs.ClaimNext(ctx)
			if err != nil {
				t.Errorf("ClaimNext failed: %v", err)
				return
			}
			if job == nil {
				return
			}
			mu.Lock()
			claimed[job.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(claimed) != 5 {
		t.Errorf("expected all 5 jobs claimed, got %d", len(claimed))
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", id, n)
		}
	}
}

func TestGenerationJobRepository_TransitionHappyPath(t *testing.T) {
	tc := setupPoolTest(t)
	ctx := context.Background()

	if _, err := tc.jobs.Enqueue(ctx, tc.config.ID, 1, models.JobSourceReplenish, nil, 3); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	job, err := tc.jobs.ClaimNext(ctx)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	p := tc.draft("Job")
	job, err = tc.jobs.Transition(ctx, job.ID, models.JobStatusGenerating, models.JobStatusValidating, JobUpdate{PuzzleID: &p.ID})
	if err != nil {
		t.Fatalf("Transition to validating failed: %v", err)
	}
	if job.PuzzleID == nil || *job.PuzzleID != p.ID {
		t.Errorf("expected puzzle id to be recorded, got %v", job.PuzzleID)
	}

	job, err = tc.jobs.Transition(ctx, job.ID, models.JobStatusValidating, models.JobStatusComplete, JobUpdate{})
	if err != nil {
		t.Fatalf("Transition to complete failed: %v", err)
	}
	if job.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if job.PuzzleID == nil {
		t.Error("puzzle id must survive later transitions")
	}

	_, err = tc.jobs.Transition(ctx, job.ID, models.JobStatusValidating, models.JobStatusComplete, JobUpdate{})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected ErrConflict for stale transition, got %v", err)
	}
	_, err = tc.jobs.Transition(ctx, uuid.New(), models.JobStatusGenerating, models.JobStatusFailed, JobUpdate{})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown job, got %v", err)
	}
	_, err = tc.jobs.Transition(ctx, job.ID, models.JobStatusComplete, models.JobStatusQueued, JobUpdate{})
	if err == nil {
		t.Error("expected illegal transition to be refused")
	}
}

func TestGenerationJobRepository_FailureCountsAttempts(t *testing.T) {
	tc := setupPoolTest(t)
	ctx := context.Background()

	if _, err := tc.jobs.Enqueue(ctx, tc.config.ID, 1, models.JobSourceReplenish, nil, 3); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		job, err := tc.jobs.ClaimNext(ctx)
		if err != nil || job == nil {
			t.Fatalf("ClaimNext failed: %v", err)
		}
		job, err = tc.jobs.Transition(ctx, job.ID, models.JobStatusGenerating, models.JobStatusQueued, JobUpdate{IncrementAttempts: true})
		if err != nil {
			t.Fatalf("requeue failed: %v", err)
		}
		if job.Attempts != attempt {
			t.Errorf("expected %d attempts, got %d", attempt, job.Attempts)
		}
	}

	job, err := tc.jobs.ClaimNext(ctx)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	msg := "model unavailable"
	job, err = tc.jobs.Transition(ctx, job.ID, models.JobStatusGenerating, models.JobStatusFailed, JobUpdate{
		IncrementAttempts: true,
		ErrorMessage:      &msg,
	})
	if err != nil {
		t.Fatalf("fail transition failed: %v", err)
	}
	if job.Attempts != 3 || job.ErrorMessage == nil || *job.ErrorMessage != msg {
		t.Errorf("unexpected failed job: %+v", job)
	}

	counts, err := tc.jobs.CountByStatus(ctx, tc.config.ID)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[models.JobStatusFailed] != 1 || counts[models.JobStatusQueued] != 0 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestGenerationJobRepository_RequeueStale(t *testing.T) {
	tc := setupPoolTest(t)
	ctx := context.Background()

	jobs, err := tc.jobs.Enqueue(ctx, tc.config.ID, 2, models.JobSourceReplenish, nil, 3)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	for range jobs {
		if _, err := tc.jobs.ClaimNext(ctx); err != nil {
			t.Fatalf("ClaimNext failed: %v", err)
		}
	}
	// The second job is on its last attempt.
	if _, err := tc.engineDB.DB.Pool.Exec(ctx,
		`UPDATE generation_jobs SET attempts = 2, updated_at = now() - interval '1 hour' WHERE id = $1`, jobs[1].ID); err != nil {
		t.Fatalf("failed to age job: %v", err)
	}
	if _, err := tc.engineDB.DB.Pool.Exec(ctx,
		`UPDATE generation_jobs SET updated_at = now() - interval '1 hour' WHERE id = $1`, jobs[0].ID); err != nil {
		t.Fatalf("failed to age job: %v", err)
	}

	requeued, failed, err := tc.jobs.RequeueStale(ctx, time.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("RequeueStale failed: %v", err)
	}
	if requeued != 1 || failed != 1 {
		t.Errorf("expected 1 requeued and 1 failed, got %d and %d", requeued, failed)
	}

	first, err := tc.jobs.GetByID(ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if first.Status != models.JobStatusQueued || first.Attempts != 1 {
		t.Errorf("expected queued with 1 attempt, got %s with %d", first.Status, first.Attempts)
	}

	second, err := tc.jobs.GetByID(ctx, jobs[1].ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if second.Status != models.JobStatusFailed || second.Attempts != 3 {
		t.Errorf("expected failed with 3 attempts, got %s with %d", second.Status, second.Attempts)
	}

	requeued, failed, err = tc.jobs.RequeueStale(ctx, time.Now().Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("RequeueStale failed: %v", err)
	}
	if requeued != 0 || failed != 0 {
		t.Errorf("fresh jobs must not be touched, got %d requeued and %d failed", requeued, failed)
	}
}
