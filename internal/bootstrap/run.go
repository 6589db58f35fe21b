package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/fortify-rocks/fix-agent/config"
	"github.com/fortify-rocks/fix-agent/internal/adapters/fixworker"
	"github.com/fortify-rocks/fix-agent/internal/adapters/reaper"
)

// RunConfig contains everything needed to run the enabled services until
// shutdown.
type RunConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts every enabled service and blocks until a
// termination signal or the first service failure. Sibling services are
// stopped through context cancellation; a clean signal-driven shutdown
// returns nil.
func RunServicesWithShutdown(ctx context.Context, cfg *RunConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	if cfg.Config.IsHTTPServerEnabled() {
		server, err := BuildHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			DB:       cfg.DB,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("build http server: %w", err)
		}
		group.Go(func() error {
			logger.Info("starting HTTP server", "addr", server.Addr)
			if serveErr := server.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", serveErr)
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down HTTP server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Config.HTTP.ShutdownTimeout)
			defer cancel()
			if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
				return fmt.Errorf("http shutdown: %w", shutdownErr)
			}
			return nil
		})
	}

	if cfg.Config.IsWorkerEnabled() {
		runner, err := fixworker.NewRunner(fixworker.RunnerOptions{
			Jobs:        cfg.Services.Jobs,
			Generator:   cfg.Services.Generator,
			Analyzer:    cfg.Services.Analyzer,
			Deliverer:   cfg.Services.Deliverer,
			Credentials: cfg.Services.Credentials,
			Cancels:     cfg.Services.Cancels,
			Worker:      cfg.Config.Worker,
			GitHub:      cfg.Config.GitHub,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("wire fix worker: %w", err)
		}
		group.Go(func() error {
			return runner.Run(gctx)
		})
	}

	if cfg.Config.IsReaperEnabled() {
		runner, err := reaper.NewRunner(reaper.RunnerOptions{
			Store:   cfg.Services.Store,
			Config:  cfg.Config.Reaper,
			Audit:   cfg.Services.Audit,
			Metrics: cfg.Services.Observability.Sink,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("wire reaper: %w", err)
		}
		group.Go(func() error {
			return runner.Run(gctx)
		})
	}

	err := group.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		logger.Info("all services stopped")
		return nil
	}
	return err
}
