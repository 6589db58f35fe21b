package httpx

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fortify-rocks/fix-agent/config"
	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/service"
)

// RouterOptions carries the services the HTTP surface exposes.
type RouterOptions struct {
	Jobs     core.JobQueue
	Webhooks *service.WebhookService
	Health   map[string]HealthChecker
	Config   config.HTTPConfig
	Logger   *slog.Logger
}

// NewRouter builds the API mux with logging, panic recovery and request
// body limits applied to every route.
func NewRouter(opts RouterOptions) (http.Handler, error) {
	if opts.Jobs == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Config.Sanitize()

	jobs := &JobHandlers{Svc: opts.Jobs}
	health := &HealthHandlers{Checks: opts.Health}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", jobs.CreateJob)
	mux.HandleFunc("GET /api/jobs", jobs.ListJobs)
	mux.HandleFunc("GET /api/jobs/stats", jobs.Stats)
	mux.HandleFunc("GET /api/jobs/{id}", jobs.GetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", jobs.CancelJob)

	if opts.Webhooks != nil {
		hooks := &WebhookHandlers{Svc: opts.Webhooks}
		mux.HandleFunc("POST /webhooks/github", hooks.GitHubWebhook)
	}

	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("HEAD /health", health.Health)

	var handler http.Handler = mux
	handler = MaxBody(opts.Config.MaxBodyBytes)(handler)
	handler = Logging(opts.Logger)(handler)
	handler = Recover(opts.Logger)(handler)
	return handler, nil
}

// MustNewRouter is NewRouter that panics on invalid options.
func MustNewRouter(opts RouterOptions) http.Handler {
	h, err := NewRouter(opts)
	if err != nil {
		panic(err)
	}
	return h
}
