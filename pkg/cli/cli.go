// Package cli builds the puzzle-engine command tree.
//
//	puzzle-engine serve                       # HTTP API, scheduler and replenisher
//	puzzle-engine migrate [--down N]          # apply or roll back migrations
//	puzzle-engine configs list|create         # manage puzzle shapes
//	puzzle-engine enqueue --config standard   # queue operator generation jobs
//	puzzle-engine stats [--config standard]   # pool inventory
//	puzzle-engine generate --config standard  # compose and validate one puzzle
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/config"
	"github.com/ekaya-inc/puzzle-engine/pkg/logging"
)

type rootOptions struct {
	configPath string
	version    string
}

// load reads configuration and builds the process logger.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFile(o.configPath, o.version)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// BuildCLI returns the root command.
func BuildCLI(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "puzzle-engine",
		Short: "Generate, validate and serve word-grouping puzzles",
		Long: `puzzle-engine keeps a pool of validated word-grouping puzzles topped up.
Puzzles are composed by a language model, scored by embedding geometry and
model solvers, and handed out one at a time over HTTP.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config-file", "f", "config.yaml", "config file path")

	rootCmd.AddCommand(buildServeCommand(opts))
	rootCmd.AddCommand(buildMigrateCommand(opts))
	rootCmd.AddCommand(buildConfigsCommand(opts))
	rootCmd.AddCommand(buildEnqueueCommand(opts))
	rootCmd.AddCommand(buildStatsCommand(opts))
	rootCmd.AddCommand(buildGenerateCommand(opts))

	return rootCmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
