package services

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/config"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

func newTestPoolService(store *memStore, fallback *FallbackSource) PoolService {
	return NewPoolService(
		store.configRepo(), store.puzzleRepo(), store.jobRepo(),
		fallback,
		config.PoolConfig{LowWater: 20, HighWater: 50},
		3,
		nil,
		zap.NewNop(),
	)
}

func TestPoolService_ReplenishCountsPendingJobs(t *testing.T) {
	store := newMemStore()
	cfg := store.addConfig("standard")
	store.addPuzzles(cfg.ID, models.PuzzleStatusApproved, 15)
	store.addJobs(cfg.ID, models.JobStatusQueued, 0, 6)
	store.addJobs(cfg.ID, models.JobStatusGenerating, 0, 3)
	store.addJobs(cfg.ID, models.JobStatusValidating, 0, 1)
	svc := newTestPoolService(store, nil)

	n, err := svc.Replenish(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	stats, err := svc.PoolStats(t.Context(), cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(31), stats.JobsByStatus[models.JobStatusQueued])
	assert.Equal(t, int64(35), stats.PendingJobs())
}

func TestPoolService_ReplenishSkipsHealthyPools(t *testing.T) {
	store := newMemStore()
	healthy := store.addConfig("healthy")
	store.addPuzzles(healthy.ID, models.PuzzleStatusApproved, 20)
	covered := store.addConfig("covered")
	store.addPuzzles(covered.ID, models.PuzzleStatusApproved, 5)
	store.addJobs(covered.ID, models.JobStatusQueued, 0, 45)
	svc := newTestPoolService(store, nil)

	n, err := svc.Replenish(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPoolService_ReplenishEmptyPool(t *testing.T) {
	store := newMemStore()
	cfg := store.addConfig("fresh")
	svc := newTestPoolService(store, nil)

	n, err := svc.Replenish(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 50, n)

	jobs, err := store.jobRepo().CountByStatus(t.Context(), cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), jobs[models.JobStatusQueued])
}

func TestPoolService_PoolStatsZeroFilled(t *testing.T) {
	store := newMemStore()
	cfg := store.addConfig("standard")
	store.addPuzzles(cfg.ID, models.PuzzleStatusApproved, 2)
	store.addPuzzles(cfg.ID, models.PuzzleStatusRejected, 1)
	svc := newTestPoolService(store, nil)

	stats, err := svc.PoolStats(t.Context(), cfg.ID)
	require.NoError(t, err)
	assert.Len(t, stats.ByStatus, len(models.ValidPuzzleStatuses))
	assert.Len(t, stats.JobsByStatus, len(models.ValidJobStatuses))
	assert.Equal(t, int64(0), stats.ByStatus[models.PuzzleStatusDraft])
	assert.Equal(t, int64(2), stats.Approved())
	assert.Equal(t, int64(3), stats.Total)

	again, err := svc.PoolStats(t.Context(), cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, stats, again)
}

func TestPoolService_ServePuzzleFromPool(t *testing.T) {
	store := newMemStore()
	cfg := store.addConfig("standard")
	store.addPuzzles(cfg.ID, models.PuzzleStatusApproved, 1)
	svc := newTestPoolService(store, nil)

	served, err := svc.ServePuzzle(t.Context(), "standard")
	require.NoError(t, err)
	require.NotNil(t, served)
	require.NotNil(t, served.PuzzleID)
	assert.False(t, served.FromFallback)
	require.Len(t, served.Groups, 4)
	assert.Equal(t, "GROUP 0", served.Groups[0].CategoryName)
	assert.Equal(t, []string{"Word0-0"}, served.Groups[0].Words)

	p, err := store.puzzleRepo().GetByID(t.Context(), *served.PuzzleID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.TimesServed)
	assert.Equal(t, models.PuzzleStatusApproved, p.Status)
}

func TestPoolService_ServePuzzleFallsBack(t *testing.T) {
	store := newMemStore()
	store.addConfig("standard")
	fallback, err := ParseFallback([]byte(fallbackYAML))
	require.NoError(t, err)
	svc := newTestPoolService(store, fallback)

	served, err := svc.ServePuzzle(t.Context(), "standard")
	require.NoError(t, err)
	require.NotNil(t, served)
	assert.True(t, served.FromFallback)
	assert.Nil(t, served.PuzzleID)
	assert.Len(t, served.Groups, 2)
}

func TestPoolService_ServePuzzleStarvedWithoutFallback(t *testing.T) {
	store := newMemStore()
	cfg := store.addConfig("standard")
	store.addPuzzles(cfg.ID, models.PuzzleStatusDraft, 3)
	svc := newTestPoolService(store, nil)

	served, err := svc.ServePuzzle(t.Context(), "standard")
	require.NoError(t, err)
	assert.Nil(t, served)

	_, err = svc.ServePuzzle(t.Context(), "missing")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestPoolService_EnqueueOperatorJobs(t *testing.T) {
	store := newMemStore()
	cfg := store.addConfig("standard")
	svc := newTestPoolService(store, nil)

	hint := "space"
	jobs, err := svc.EnqueueGenerationJobs(t.Context(), cfg.ID, 2, models.JobSourceOperator, &hint)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, models.JobSourceOperator, jobs[0].Source)
	assert.Equal(t, 3, jobs[0].MaxAttempts)
	assert.Equal(t, "space", *jobs[0].ThemeHint)

	none, err := svc.EnqueueGenerationJobs(t.Context(), cfg.ID, 0, models.JobSourceOperator, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPoolService_CreateConfig(t *testing.T) {
	store := newMemStore()
	svc := newTestPoolService(store, nil)

	cfg := &models.PuzzleConfig{Name: "mini", GroupCount: 3, WordsPerGroup: 3}
	require.NoError(t, svc.CreateConfig(t.Context(), cfg))
	assert.Equal(t, models.DifficultyProfileStandard, cfg.DifficultyProfile)

	err := svc.CreateConfig(t.Context(), &models.PuzzleConfig{Name: "mini", GroupCount: 3, WordsPerGroup: 3})
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	got, err := svc.GetConfig(t.Context(), "mini")
	require.NoError(t, err)
	assert.Equal(t, 3, got.GroupCount)
}

func TestPoolService_GetPuzzle(t *testing.T) {
	store := newMemStore()
	cfg := store.addConfig("standard")
	p := store.addPuzzles(cfg.ID, models.PuzzleStatusRejected, 1)[0]
	svc := newTestPoolService(store, nil)

	got, err := svc.GetPuzzle(t.Context(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PuzzleStatusRejected, got.Status)
	require.Len(t, got.Groups, 4)
	assert.Equal(t, "word0-0", got.Groups[0].Words[0].Word)
	assert.Zero(t, store.groupLoads)

	_, err = svc.GetPuzzle(t.Context(), uuid.New())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
