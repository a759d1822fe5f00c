package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/database"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// PuzzleConfigRepository provides data access for puzzle configs. Configs
// are immutable once created, so there is no update operation.
type PuzzleConfigRepository interface {
	Create(ctx context.Context, cfg *models.PuzzleConfig) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PuzzleConfig, error)
	GetByName(ctx context.Context, name string) (*models.PuzzleConfig, error)
	List(ctx context.Context) ([]*models.PuzzleConfig, error)
}

type puzzleConfigRepository struct {
	db *database.DB
}

// NewPuzzleConfigRepository creates a new PuzzleConfigRepository.
func NewPuzzleConfigRepository(db *database.DB) PuzzleConfigRepository {
	return &puzzleConfigRepository{db: db}
}

var _ PuzzleConfigRepository = (*puzzleConfigRepository)(nil)

const configColumns = `id, name, group_count, words_per_group, difficulty_profile, created_at`

// Create validates and inserts cfg. A duplicate name returns apperrors.ErrConflict.
func (r *puzzleConfigRepository) Create(ctx context.Context, cfg *models.PuzzleConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	cfg.CreatedAt = time.Now()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO puzzle_configs (`+configColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		cfg.ID, cfg.Name, cfg.GroupCount, cfg.WordsPerGroup, cfg.DifficultyProfile, cfg.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: config %q already exists", apperrors.ErrConflict, cfg.Name)
		}
		return fmt.Errorf("failed to create puzzle config: %w", err)
	}
	return nil
}

func (r *puzzleConfigRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PuzzleConfig, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+configColumns+` FROM puzzle_configs WHERE id = $1`, id)
	cfg, err := scanPuzzleConfig(row)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", id, err)
	}
	return cfg, nil
}

func (r *puzzleConfigRepository) GetByName(ctx context.Context, name string) (*models.PuzzleConfig, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+configColumns+` FROM puzzle_configs WHERE name = $1`, name)
	cfg, err := scanPuzzleConfig(row)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", name, err)
	}
	return cfg, nil
}

func (r *puzzleConfigRepository) List(ctx context.Context) ([]*models.PuzzleConfig, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+configColumns+` FROM puzzle_configs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list puzzle configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.PuzzleConfig
	for rows.Next() {
		cfg, err := scanPuzzleConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate puzzle configs: %w", err)
	}
	return configs, nil
}

func scanPuzzleConfig(row pgx.Row) (*models.PuzzleConfig, error) {
	var cfg models.PuzzleConfig
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.GroupCount, &cfg.WordsPerGroup, &cfg.DifficultyProfile, &cfg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan puzzle config: %w", err)
	}
	return &cfg, nil
}
