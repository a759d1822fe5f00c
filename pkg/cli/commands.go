package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/database"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// withApp loads configuration, connects to the database and runs fn.
func withApp(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func buildMigrateCommand(opts *rootOptions) *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations, or roll back with --down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if down > 0 {
					return database.RollbackMigrations(a.db.SQLDB(), a.cfg.MigrationsPath, down, a.logger)
				}
				return database.RunMigrations(a.db.SQLDB(), a.cfg.MigrationsPath, a.logger)
			})
		},
	}

	cmd.Flags().IntVar(&down, "down", 0, "number of migrations to roll back")

	return cmd
}

func buildConfigsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configs",
		Short: "Manage puzzle configs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List puzzle configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				configs, err := a.pool.ListConfigs(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), configs)
			})
		},
	})

	var (
		groups  int
		words   int
		profile string
	)
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a puzzle config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				cfg := &models.PuzzleConfig{
					Name:              args[0],
					GroupCount:        groups,
					WordsPerGroup:     words,
					DifficultyProfile: models.DifficultyProfile(profile),
				}
				if err := a.pool.CreateConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cfg)
			})
		},
	}
	create.Flags().IntVar(&groups, "groups", 4, "groups per puzzle")
	create.Flags().IntVar(&words, "words", 4, "words per group")
	create.Flags().StringVar(&profile, "profile", string(models.DifficultyProfileStandard), "difficulty profile: easy, standard or hard")
	cmd.AddCommand(create)

	return cmd
}

func buildEnqueueCommand(opts *rootOptions) *cobra.Command {
	var (
		configName string
		count      int
		theme      string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue operator generation jobs for a config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				cfg, err := a.pool.GetConfig(ctx, configName)
				if err != nil {
					return err
				}
				var themeHint *string
				if theme != "" {
					themeHint = &theme
				}
				jobs, err := a.pool.EnqueueGenerationJobs(ctx, cfg.ID, count, models.JobSourceOperator, themeHint)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), jobs)
			})
		},
	}

	cmd.Flags().StringVarP(&configName, "config", "c", "", "puzzle config name")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of jobs")
	cmd.Flags().StringVar(&theme, "theme", "", "optional theme hint for the seed stage")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func buildStatsCommand(opts *rootOptions) *cobra.Command {
	var configName string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pool inventory for one or every config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				var configs []*models.PuzzleConfig
				if configName != "" {
					cfg, err := a.pool.GetConfig(ctx, configName)
					if err != nil {
						return err
					}
					configs = append(configs, cfg)
				} else {
					var err error
					if configs, err = a.pool.ListConfigs(ctx); err != nil {
						return err
					}
				}

				out := make(map[string]*models.PoolStats, len(configs))
				for _, cfg := range configs {
					stats, err := a.pool.PoolStats(ctx, cfg.ID)
					if err != nil {
						return err
					}
					out[cfg.Name] = stats
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}

	cmd.Flags().StringVarP(&configName, "config", "c", "", "puzzle config name (default: all)")

	return cmd
}

// generateResult is the output of the generate command.
type generateResult struct {
	Puzzle      *models.CandidatePuzzle `json:"puzzle"`
	Disposition *models.Disposition     `json:"disposition,omitempty"`
	PuzzleID    string                  `json:"puzzle_id,omitempty"`
	Elapsed     string                  `json:"elapsed"`
}

func buildGenerateCommand(opts *rootOptions) *cobra.Command {
	var (
		configName string
		theme      string
		persist    bool
		skipCheck  bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Compose and validate one puzzle outside the job queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if persist && skipCheck {
				return errors.New("--persist requires validation; drop --no-validate")
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				cfg, err := a.pool.GetConfig(ctx, configName)
				if err != nil {
					return err
				}

				p, err := a.newPipeline(ctx)
				if err != nil {
					return err
				}
				defer p.Close()

				start := time.Now()
				candidate, err := p.composer.Compose(ctx, cfg, theme)
				if err != nil {
					return err
				}
				result := &generateResult{Puzzle: candidate}

				if !skipCheck {
					result.Disposition, result.PuzzleID, err = validateCandidate(ctx, a, p, cfg, candidate, persist)
					if err != nil {
						return err
					}
				}

				result.Elapsed = time.Since(start).Round(time.Millisecond).String()
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().StringVarP(&configName, "config", "c", "", "puzzle config name")
	cmd.Flags().StringVar(&theme, "theme", "", "optional theme hint for the seed stage")
	cmd.Flags().BoolVar(&persist, "persist", false, "store the puzzle and its disposition in the pool")
	cmd.Flags().BoolVar(&skipCheck, "no-validate", false, "print the composed puzzle without validating it")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// validateCandidate validates a composed puzzle. With persist it goes through
// the pool's draft lifecycle and the returned ID is the stored puzzle's.
func validateCandidate(ctx context.Context, a *app, p *pipeline, cfg *models.PuzzleConfig, candidate *models.CandidatePuzzle, persist bool) (*models.Disposition, string, error) {
	if !persist {
		d, err := p.validator.Validate(ctx, candidate.ToPuzzle(), cfg)
		return d, "", err
	}

	draft, err := a.pool.RecordDraft(ctx, candidate)
	if err != nil {
		return nil, "", err
	}
	if err := a.pool.MarkValidating(ctx, draft.ID); err != nil {
		return nil, "", err
	}

	d, err := p.validator.Validate(ctx, draft, cfg)
	if err != nil {
		if derr := a.pool.DiscardDraft(context.WithoutCancel(ctx), draft.ID); derr != nil {
			a.logger.Warn("Failed to discard draft", zap.String("puzzle_id", draft.ID.String()), zap.Error(derr))
		}
		return nil, "", err
	}
	if err := a.pool.ApplyDisposition(ctx, draft.ID, d); err != nil {
		return nil, "", err
	}
	return d, draft.ID.String(), nil
}
