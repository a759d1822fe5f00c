package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/puzzle-engine/pkg/database"
	"github.com/ekaya-inc/puzzle-engine/pkg/handlers"
	"github.com/ekaya-inc/puzzle-engine/pkg/middleware"
	"github.com/ekaya-inc/puzzle-engine/pkg/services"
)

const shutdownTimeout = 15 * time.Second

func buildServeCommand(opts *rootOptions) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, generation scheduler and pool replenisher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply database migrations before starting")

	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, migrate bool) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := database.RunMigrations(a.db.SQLDB(), cfg.MigrationsPath, logger); err != nil {
			return err
		}
	}

	p, err := a.newPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	scheduler := services.NewScheduler(a.jobs, a.configs, a.pool, p.composer, p.validator, cfg.Scheduler, a.metrics, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, a.db, logger).RegisterRoutes(mux)
	handlers.NewPoolHandler(a.pool, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", a.metrics.Handler())

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestObserver(logger, a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting puzzle-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		logger.Info("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.pool.RunReplenisher(gctx, cfg.Pool.ReplenishInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("puzzle-engine stopped")
	return nil
}
