package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
	"github.com/ekaya-inc/puzzle-engine/pkg/repositories"
)

// memStore is an in-memory stand-in for the three pool repositories. One
// mutex covers every table, which is enough for single-process tests.
type memStore struct {
	mu      sync.Mutex
	configs map[uuid.UUID]*models.PuzzleConfig
	puzzles map[uuid.UUID]*models.Puzzle
	jobs    map[uuid.UUID]*models.GenerationJob
	order   []uuid.UUID
	now     func() time.Time

	discarded  []uuid.UUID
	groupLoads int
}

func newMemStore() *memStore {
	return &memStore{
		configs: make(map[uuid.UUID]*models.PuzzleConfig),
		puzzles: make(map[uuid.UUID]*models.Puzzle),
		jobs:    make(map[uuid.UUID]*models.GenerationJob),
		now:     time.Now,
	}
}

func (m *memStore) configRepo() repositories.PuzzleConfigRepository { return (*memConfigs)(m) }
func (m *memStore) puzzleRepo() repositories.PuzzleRepository { return (*memPuzzles)(m) }
func (m *memStore) jobRepo() repositories.GenerationJobRepository { return (*memJobs)(m) }

func (m *memStore) addConfig(name string) *models.PuzzleConfig {
	cfg := &models.PuzzleConfig{
		ID:                uuid.New(),
		Name:              name,
		GroupCount:        4,
		WordsPerGroup:     4,
		DifficultyProfile: models.DifficultyProfileStandard,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.ID] = cfg
	return cfg
}

// addPuzzles stores n puzzles with the given status and four one-word groups.
func (m *memStore) addPuzzles(configID uuid.UUID, status models.PuzzleStatus, n int) []*models.Puzzle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Puzzle
	for i := 0; i < n; i++ {
		p := &models.Puzzle{ID: uuid.New(), ConfigID: configID, Status: status}
		for g := 0; g < 4; g++ {
			p.Groups = append(p.Groups, models.PuzzleGroup{
				ID:             uuid.New(),
				CategoryName:   fmt.Sprintf("GROUP %d", g),
				DifficultyRank: g + 1,
				SortOrder:      g,
				Words:          []models.PuzzleWord{models.NewPuzzleWord(fmt.Sprintf("Word%d-%d", i, g))},
			})
		}
		m.puzzles[p.ID] = p
		out = append(out, p)
	}
	return out
}

func (m *memStore) addJobs(configID uuid.UUID, status models.JobStatus, attempts, n int) []*models.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GenerationJob
	for i := 0; i < n; i++ {
		j := &models.GenerationJob{
			ID:          uuid.New(),
			ConfigID:    configID,
			Status:      status,
			Attempts:    attempts,
			MaxAttempts: models.DefaultJobMaxAttempts,
			Source:      models.JobSourceReplenish,
			CreatedAt:   m.now(),
			UpdatedAt:   m.now(),
		}
		m.jobs[j.ID] = j
		m.order = append(m.order, j.ID)
		out = append(out, j)
	}
	return out
}

func (m *memStore) job(id uuid.UUID) models.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) puzzlesWithStatus(status models.PuzzleStatus) []*models.Puzzle {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Puzzle
	for _, p := range m.puzzles {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

// ====== configs ======

type memConfigs memStore

func (r *memConfigs) Create(ctx context.Context, cfg *models.PuzzleConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.configs {
		if c.Name == cfg.Name {
			return apperrors.ErrConflict
		}
	}
	cfg.ID = uuid.New()
	c := *cfg
	r.configs[cfg.ID] = &c
	return nil
}

func (r *memConfigs) GetByID(ctx context.Context, id uuid.UUID) (*models.PuzzleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.configs[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *memConfigs) GetByName(ctx context.Context, name string) (*models.PuzzleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.configs {
		if c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memConfigs) List(ctx context.Context) ([]*models.PuzzleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PuzzleConfig
	for _, c := range r.configs {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ====== puzzles ======

type memPuzzles memStore

func (r *memPuzzles) CreateDraft(ctx context.Context, p *models.Puzzle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	for _, w := range p.AllWords() {
		key := strings.ToLower(w)
		if seen[key] {
			return fmt.Errorf("duplicate word %q", w)
		}
		seen[key] = true
	}
	p.ID = uuid.New()
	p.Status = models.PuzzleStatusDraft
	cp := *p
	r.puzzles[p.ID] = &cp
	return nil
}

func (r *memPuzzles) GetByID(ctx context.Context, id uuid.UUID) (*models.Puzzle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.puzzles[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *memPuzzles) LoadGroups(ctx context.Context, puzzleID uuid.UUID) ([]models.PuzzleGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupLoads++
	p, ok := r.puzzles[puzzleID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return append([]models.PuzzleGroup(nil), p.Groups...), nil
}

func (r *memPuzzles) Allocate(ctx context.Context, configID uuid.UUID) (*uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.puzzles {
		if p.ConfigID == configID && p.Status == models.PuzzleStatusApproved {
			p.TimesServed++
			id := p.ID
			return &id, nil
		}
	}
	return nil, nil
}

func (r *memPuzzles) MarkValidating(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.puzzles[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if p.Status != models.PuzzleStatusDraft {
		return apperrors.ErrConflict
	}
	p.Status = models.PuzzleStatusValidating
	return nil
}

func (r *memPuzzles) ApplyDisposition(ctx context.Context, id uuid.UUID, d *models.Disposition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.puzzles[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if p.Status != models.PuzzleStatusDraft && p.Status != models.PuzzleStatusValidating {
		return apperrors.ErrConflict
	}
	score := d.Score
	p.Status = d.Status
	p.ValidationScore = &score
	p.ValidationReport = d.Report
	return nil
}

func (r *memPuzzles) DiscardDraft(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.puzzles[id]; ok && !p.Status.IsTerminal() {
		delete(r.puzzles, id)
		r.discarded = append(r.discarded, id)
	}
	return nil
}

func (r *memPuzzles) CountByStatus(ctx context.Context, configID uuid.UUID) (map[models.PuzzleStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[models.PuzzleStatus]int64{}
	for _, p := range r.puzzles {
		if p.ConfigID == configID {
			counts[p.Status]++
		}
	}
	return counts, nil
}

// ====== jobs ======

type memJobs memStore

func (r *memJobs) Enqueue(ctx context.Context, configID uuid.UUID, count int, source models.JobSource, themeHint *string, maxAttempts int) ([]*models.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultJobMaxAttempts
	}
	var out []*models.GenerationJob
	for i := 0; i < count; i++ {
		j := &models.GenerationJob{
			ID:          uuid.New(),
			ConfigID:    configID,
			Status:      models.JobStatusQueued,
			MaxAttempts: maxAttempts,
			Source:      source,
			ThemeHint:   themeHint,
			CreatedAt:   r.now(),
			UpdatedAt:   r.now(),
		}
		r.jobs[j.ID] = j
		r.order = append(r.order, j.ID)
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memJobs) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, apperrors.ErrNotFound
}

func (r *memJobs) ClaimNext(ctx context.Context) (*models.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		j := r.jobs[id]
		if j.Status == models.JobStatusQueued {
			j.Status = models.JobStatusGenerating
			j.UpdatedAt = r.now()
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memJobs) Transition(ctx context.Context, id uuid.UUID, from, to models.JobStatus, update repositories.JobUpdate) (*models.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("invalid job transition %s -> %s", from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if j.Status != from {
		return nil, apperrors.ErrConflict
	}
	j.Status = to
	if update.IncrementAttempts {
		j.Attempts++
	}
	if update.PuzzleID != nil {
		pid := *update.PuzzleID
		j.PuzzleID = &pid
	}
	if update.ErrorMessage != nil {
		msg := *update.ErrorMessage
		j.ErrorMessage = &msg
	}
	j.UpdatedAt = r.now()
	cp := *j
	return &cp, nil
}

func (r *memJobs) RequeueStale(ctx context.Context, olderThan time.Time) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var requeued, failed int64
	for _, j := range r.jobs {
		if (j.Status != models.JobStatusGenerating && j.Status != models.JobStatusValidating) || !j.UpdatedAt.Before(olderThan) {
			continue
		}
		j.Attempts++
		if j.Attempts >= j.MaxAttempts {
			j.Status = models.JobStatusFailed
			failed++
		} else {
			j.Status = models.JobStatusQueued
			requeued++
		}
	}
	return requeued, failed, nil
}

func (r *memJobs) CountByStatus(ctx context.Context, configID uuid.UUID) (map[models.JobStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[models.JobStatus]int64{}
	for _, j := range r.jobs {
		if j.ConfigID == configID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

func (r *memJobs) CountPending(ctx context.Context, configID uuid.UUID) (int64, error) {
	counts, _ := r.CountByStatus(ctx, configID)
	return counts[models.JobStatusQueued] + counts[models.JobStatusGenerating] + counts[models.JobStatusValidating], nil
}
