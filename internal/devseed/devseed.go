// Package devseed populates a development database with a working tenant
// so webhook deliveries and fix jobs can be exercised end to end locally.
package devseed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// Defaults for the seeded development tenant. The webhook id matches the
// X-Webhook-Id header local tooling sends.
const (
	DefaultTenantID   = "dev-tenant"
	DefaultProjectID  = "dev-project"
	DefaultWebhookID  = "dev-webhook"
	DefaultRepository = "fortify-dev/sample-app"
)

// Options controls what gets seeded.
type Options struct {
	TenantID   string
	ProjectID  string
	WebhookID  string
	Repository string
	// Token is the GitHub token stored for the tenant. Falls back to the
	// GITHUB_TOKEN environment variable; an empty token skips the
	// credential row.
	Token  string
	Logger *slog.Logger
}

func (o *Options) sanitize() {
	if o.TenantID == "" {
		o.TenantID = DefaultTenantID
	}
	if o.ProjectID == "" {
		o.ProjectID = DefaultProjectID
	}
	if o.WebhookID == "" {
		o.WebhookID = DefaultWebhookID
	}
	if o.Repository == "" {
		o.Repository = DefaultRepository
	}
	if o.Token == "" {
		o.Token = os.Getenv("GITHUB_TOKEN")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Seed upserts the development tenant mapping and credential. Safe to run
// repeatedly.
func Seed(ctx context.Context, db *sql.DB, opts Options) error {
	opts.sanitize()

	const mappingQuery = `
		INSERT INTO webhook_mappings (webhook_id, tenant_id, project_id, repository_name, active)
		VALUES ($1, $2, $3, $4, true)
		ON CONFLICT (webhook_id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			project_id = EXCLUDED.project_id,
			repository_name = EXCLUDED.repository_name,
			active = true`
	if _, err := db.ExecContext(ctx, mappingQuery,
		opts.WebhookID, opts.TenantID, opts.ProjectID, opts.Repository); err != nil {
		return fmt.Errorf("seed webhook mapping: %w", apperrors.MapDBError(err))
	}
	opts.Logger.InfoContext(ctx, "seeded webhook mapping",
		"webhook_id", opts.WebhookID,
		"tenant_id", opts.TenantID,
		"repository", opts.Repository)

	if opts.Token == "" {
		opts.Logger.WarnContext(ctx, "no GITHUB_TOKEN set, skipping credential seed",
			"tenant_id", opts.TenantID)
		return nil
	}

	const credentialQuery = `
		INSERT INTO repository_credentials (tenant_id, token)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET token = EXCLUDED.token`
	if _, err := db.ExecContext(ctx, credentialQuery, opts.TenantID, opts.Token); err != nil {
		return fmt.Errorf("seed repository credential: %w", apperrors.MapDBError(err))
	}
	opts.Logger.InfoContext(ctx, "seeded repository credential", "tenant_id", opts.TenantID)

	return nil
}
