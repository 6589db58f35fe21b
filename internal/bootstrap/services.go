package bootstrap

import (
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/fortify-rocks/fix-agent/config"
	"github.com/fortify-rocks/fix-agent/internal/ai"
	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/data"
	"github.com/fortify-rocks/fix-agent/internal/github"
	"github.com/fortify-rocks/fix-agent/internal/observability/metrics"
	"github.com/fortify-rocks/fix-agent/internal/observability/statsd"
	"github.com/fortify-rocks/fix-agent/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Store       *data.RedisQueueStore
	Jobs        *service.JobService
	Webhooks    *service.WebhookService
	Cancels     *service.CancellationRegistry
	Credentials core.CredentialRepository
	Audit       core.JobAuditRepository

	// Worker collaborators. Built regardless of service mode so a
	// combined http,worker deployment shares one wiring path.
	Generator core.FixGenerator
	Analyzer  core.ScanAnalyzer
	Deliverer core.Deliverer

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	Sink       statsd.Sink
	JobMetrics core.JobMetrics
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink. A dial failure degrades
// to a disabled sink instead of blocking startup.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	client, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.IsEnabled(),
		Address: cfg.StatsdAddress,
		Prefix:  cfg.StatsdPrefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Warn("statsd unavailable, metrics disabled", "error", err)
		client, _ = statsd.NewClient(statsd.Config{Logger: logger})
	}
	return ObservabilityContainer{
		Sink:       client,
		JobMetrics: metrics.NewJobLifecycle(client),
	}
}

// buildGenerator returns the configured fix collaborator, degrading to
// placeholder annotations when no API key is present.
func buildGenerator(cfg config.AIConfig, logger *slog.Logger) core.FixGenerator {
	if cfg.APIKey == "" {
		logger.Warn("no AI API key configured, fixes use placeholder annotations")
		return ai.NewPlaceholder()
	}
	generator, err := ai.NewGenerator(ai.GeneratorOptions{Config: cfg, Logger: logger})
	if err != nil {
		logger.Warn("fix generator unavailable, falling back to placeholder", "error", err)
		return ai.NewPlaceholder()
	}
	return ai.WithFallback(generator, ai.NewPlaceholder(), logger)
}

// buildAnalyzer mirrors buildGenerator for the scan collaborator.
func buildAnalyzer(cfg config.AIConfig, logger *slog.Logger) core.ScanAnalyzer {
	if cfg.APIKey == "" {
		return ai.NewPlaceholderAnalyzer()
	}
	analyzer, err := ai.NewAnalyzer(ai.GeneratorOptions{Config: cfg, Logger: logger})
	if err != nil {
		logger.Warn("scan analyzer unavailable, falling back to placeholder", "error", err)
		return ai.NewPlaceholderAnalyzer()
	}
	return ai.WithAnalyzerFallback(analyzer, ai.NewPlaceholderAnalyzer(), logger)
}

// NewServices wires repositories, services, and collaborators.
func NewServices(deps *ServiceDeps) ServiceContainer {
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	observability := buildObservability(logger, cfg.Observability)

	store := data.NewRedisQueueStore(deps.RedisClient, cfg.Queue.Namespace)
	audit := data.NewJobAuditRepo(deps.DB)
	credentials := data.NewCredentialRepo(deps.DB)
	cancels := service.NewCancellationRegistry()

	jobs := service.MustNewJobService(service.JobServiceOptions{
		Store:   store,
		Lease:   cfg.Queue.Lease,
		Audit:   audit,
		Cancels: cancels,
		Logger:  logger,
		Metrics: observability.JobMetrics,
	})

	webhooks := service.MustNewWebhookService(service.WebhookServiceOptions{
		Events:  data.NewWebhookRepo(deps.DB),
		Jobs:    jobs,
		Secret:  cfg.Webhook.Secret,
		Logger:  logger,
		Metrics: observability.JobMetrics,
	})

	return ServiceContainer{
		Store:         store,
		Jobs:          jobs,
		Webhooks:      webhooks,
		Cancels:       cancels,
		Credentials:   credentials,
		Audit:         audit,
		Generator:     buildGenerator(cfg.AI, logger),
		Analyzer:      buildAnalyzer(cfg.AI, logger),
		Deliverer:     github.NewClient(github.ClientOptions{Config: cfg.GitHub, Logger: logger}),
		Observability: observability,
	}
}
