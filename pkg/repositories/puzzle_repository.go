package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/database"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// PuzzleRepository provides data access for puzzles and their groups and words.
type PuzzleRepository interface {
	// CreateDraft inserts the puzzle with its groups and words in one
	// transaction and fills in the generated IDs.
	CreateDraft(ctx context.Context, p *models.Puzzle) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Puzzle, error)
	LoadGroups(ctx context.Context, puzzleID uuid.UUID) ([]models.PuzzleGroup, error)

	// Allocate picks one random approved puzzle for the config, increments
	// its serve counter and returns its id. Returns nil, nil when the pool
	// is empty.
	Allocate(ctx context.Context, configID uuid.UUID) (*uuid.UUID, error)

	MarkValidating(ctx context.Context, id uuid.UUID) error
	ApplyDisposition(ctx context.Context, id uuid.UUID, d *models.Disposition) error
	// DiscardDraft deletes a puzzle that never finished validation.
	DiscardDraft(ctx context.Context, id uuid.UUID) error

	CountByStatus(ctx context.Context, configID uuid.UUID) (map[models.PuzzleStatus]int64, error)
}

type puzzleRepository struct {
	db *database.DB
}

// NewPuzzleRepository creates a new PuzzleRepository.
func NewPuzzleRepository(db *database.DB) PuzzleRepository {
	return &puzzleRepository{db: db}
}

var _ PuzzleRepository = (*puzzleRepository)(nil)

// ============================================================================
// Create Operations
// ============================================================================

func (r *puzzleRepository) CreateDraft(ctx context.Context, p *models.Puzzle) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = models.PuzzleStatusDraft
	p.CreatedAt = time.Now()

	metadataJSON, err := marshalNullable(p.GenerationMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal generation metadata: %w", err)
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO puzzles (id, config_id, status, generation_model, generation_metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, p.ConfigID, p.Status, p.GenerationModel, metadataJSON, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert puzzle: %w", err)
		}

		batch := &pgx.Batch{}
		for gi := range p.Groups {
			g := &p.Groups[gi]
			if g.ID == uuid.Nil {
				g.ID = uuid.New()
			}
			g.PuzzleID = p.ID
			batch.Queue(`
				INSERT INTO puzzle_groups (id, puzzle_id, category_name, category_type, difficulty_rank, sort_order)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				g.ID, g.PuzzleID, g.CategoryName, g.CategoryType, g.DifficultyRank, g.SortOrder)

			for wi := range g.Words {
				w := &g.Words[wi]
				if w.ID == uuid.Nil {
					w.ID = uuid.New()
				}
				w.GroupID = g.ID
				w.PuzzleID = p.ID
				batch.Queue(`
					INSERT INTO puzzle_words (id, group_id, puzzle_id, word, display_text, position)
					VALUES ($1, $2, $3, $4, $5, $6)`,
					w.ID, w.GroupID, w.PuzzleID, w.Word, w.DisplayText, wi)
			}
		}

		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to insert puzzle content: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to insert puzzle content: %w", err)
		}
		return nil
	})
}

// ============================================================================
// Read Operations
// ============================================================================

func (r *puzzleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Puzzle, error) {
	var (
		p            models.Puzzle
		reportJSON   []byte
		metadataJSON []byte
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, config_id, status, difficulty_score, validation_score, validation_report,
		       generation_model, generation_metadata, times_served, created_at, approved_at
		FROM puzzles
		WHERE id = $1`, id).Scan(
		&p.ID, &p.ConfigID, &p.Status, &p.DifficultyScore, &p.ValidationScore, &reportJSON,
		&p.GenerationModel, &metadataJSON, &p.TimesServed, &p.CreatedAt, &p.ApprovedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("puzzle %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get puzzle: %w", err)
	}

	if len(reportJSON) > 0 {
		p.ValidationReport = &models.ValidationReport{}
		if err := json.Unmarshal(reportJSON, p.ValidationReport); err != nil {
			return nil, fmt.Errorf("failed to decode validation report: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		p.GenerationMetadata = &models.GenerationMetadata{}
		if err := json.Unmarshal(metadataJSON, p.GenerationMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode generation metadata: %w", err)
		}
	}

	groups, err := r.LoadGroups(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Groups = groups
	return &p, nil
}

// LoadGroups returns the puzzle's groups in sort order with their words in
// insertion order.
func (r *puzzleRepository) LoadGroups(ctx context.Context, puzzleID uuid.UUID) ([]models.PuzzleGroup, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT g.id, g.category_name, g.category_type, g.difficulty_rank, g.sort_order,
		       w.id, w.word, w.display_text
		FROM puzzle_groups g
		JOIN puzzle_words w ON w.group_id = g.id
		WHERE g.puzzle_id = $1
		ORDER BY g.sort_order, w.position`, puzzleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load puzzle groups: %w", err)
	}
	defer rows.Close()

	var groups []models.PuzzleGroup
	for rows.Next() {
		var (
			g models.PuzzleGroup
			w models.PuzzleWord
		)
		if err := rows.Scan(&g.ID, &g.CategoryName, &g.CategoryType, &g.DifficultyRank, &g.SortOrder,
			&w.ID, &w.Word, &w.DisplayText); err != nil {
			return nil, fmt.Errorf("failed to scan puzzle group: %w", err)
		}
		g.PuzzleID = puzzleID
		w.GroupID = g.ID
		w.PuzzleID = puzzleID

		if n := len(groups); n == 0 || groups[n-1].ID != g.ID {
			groups = append(groups, g)
		}
		last := &groups[len(groups)-1]
		last.Words = append(last.Words, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate puzzle groups: %w", err)
	}
	return groups, nil
}

func (r *puzzleRepository) CountByStatus(ctx context.Context, configID uuid.UUID) (map[models.PuzzleStatus]int64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT status, COUNT(*) FROM puzzles WHERE config_id = $1 GROUP BY status`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to count puzzles: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.PuzzleStatus]int64, len(models.ValidPuzzleStatuses))
	for _, s := range models.ValidPuzzleStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status models.PuzzleStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan puzzle count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate puzzle counts: %w", err)
	}
	return counts, nil
}

// ============================================================================
// State Updates
// ============================================================================

// Allocate runs as a single statement. SKIP LOCKED lets concurrent callers
// pick different rows instead of queueing behind each other.
func (r *puzzleRepository) Allocate(ctx context.Context, configID uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.Pool.QueryRow(ctx, `
		WITH picked AS (
			SELECT id FROM puzzles
			WHERE config_id = $1 AND status = 'approved'
			ORDER BY random()
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE puzzles p
		SET times_served = p.times_served + 1
		FROM picked
		WHERE p.id = picked.id
		RETURNING p.id`, configID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to allocate puzzle: %w", err)
	}
	return &id, nil
}

func (r *puzzleRepository) MarkValidating(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE puzzles SET status = 'validating'
		WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark puzzle validating: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id, "mark validating")
	}
	return nil
}

// ApplyDisposition records the validation outcome. Only draft or validating
// puzzles accept a disposition.
func (r *puzzleRepository) ApplyDisposition(ctx context.Context, id uuid.UUID, d *models.Disposition) error {
	if d == nil || (d.Status != models.PuzzleStatusApproved && d.Status != models.PuzzleStatusRejected) {
		return fmt.Errorf("disposition must approve or reject the puzzle")
	}
	reportJSON, err := marshalNullable(d.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal validation report: %w", err)
	}

	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE puzzles
		SET status = $2,
		    validation_score = $3,
		    difficulty_score = $4,
		    validation_report = $5,
		    approved_at = CASE WHEN $2 = 'approved' THEN now() ELSE NULL END
		WHERE id = $1 AND status IN ('draft', 'validating')`,
		id, d.Status, d.Score, d.DifficultyScore, reportJSON)
	if err != nil {
		return fmt.Errorf("failed to apply disposition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrConflict(ctx, id, "apply disposition")
	}
	return nil
}

func (r *puzzleRepository) DiscardDraft(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `
		DELETE FROM puzzles WHERE id = $1 AND status IN ('draft', 'validating')`, id)
	if err != nil {
		return fmt.Errorf("failed to discard draft puzzle: %w", err)
	}
	return nil
}

// missingOrConflict explains why a conditional update touched no rows.
func (r *puzzleRepository) missingOrConflict(ctx context.Context, id uuid.UUID, op string) error {
	var status models.PuzzleStatus
	err := r.db.Pool.QueryRow(ctx, `SELECT status FROM puzzles WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: puzzle %s: %w", op, id, apperrors.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: failed to read puzzle status: %w", op, err)
	}
	return fmt.Errorf("%s: puzzle %s is %s: %w", op, id, status, apperrors.ErrConflict)
}

// marshalNullable encodes v as JSON, mapping a nil pointer to SQL NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
