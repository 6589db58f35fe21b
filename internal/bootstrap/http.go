package bootstrap

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/fortify-rocks/fix-agent/config"
	httpx "github.com/fortify-rocks/fix-agent/internal/http"
)

// dbChecker adapts *sql.DB to the health check interface.
type dbChecker struct {
	db *sql.DB
}

func (c dbChecker) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	DB       *sql.DB
	Logger   *slog.Logger
}

// BuildHTTPServer assembles the API handler and server. The caller owns
// serving and shutdown.
func BuildHTTPServer(cfg *HTTPServerConfig) (*http.Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	checks := map[string]httpx.HealthChecker{
		"redis": cfg.Services.Store,
	}
	if cfg.DB != nil {
		checks["postgres"] = dbChecker{db: cfg.DB}
	}

	handler, err := httpx.NewRouter(httpx.RouterOptions{
		Jobs:     cfg.Services.Jobs,
		Webhooks: cfg.Services.Webhooks,
		Health:   checks,
		Config:   cfg.Config.HTTP,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	addr := cfg.Config.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Config.HTTP.ReadHeaderTimeout,
	}, nil
}
