package data

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// CredentialRepo resolves per-tenant GitHub access tokens. Tokens are
// written by the provisioning flow outside this service; this repository
// only reads them.
type CredentialRepo struct {
	DB *sql.DB
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *sql.DB) *CredentialRepo {
	return &CredentialRepo{DB: db}
}

// TokenForTenant returns the GitHub token for a tenant id.
func (r *CredentialRepo) TokenForTenant(ctx context.Context, tenantID string) (string, error) {
	if tenantID == "" {
		return "", apperrors.NotFound("no tenant associated with job")
	}
	var token string
	row := r.DB.QueryRowContext(ctx,
		`SELECT token FROM repository_credentials WHERE tenant_id = $1`, tenantID)
	if err := row.Scan(&token); err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return "", apperrors.NotFoundf("no credential for tenant %s", tenantID)
		}
		return "", fmt.Errorf("get credential for tenant %s: %w", tenantID, mapped)
	}
	return token, nil
}

// TokenForJob resolves the token for the tenant a job was enqueued for,
// via the job audit mirror.
func (r *CredentialRepo) TokenForJob(ctx context.Context, jobID string) (string, error) {
	var token string
	row := r.DB.QueryRowContext(ctx, `
		SELECT rc.token
		FROM repository_credentials rc
		JOIN job_audit ja ON ja.tenant_id = rc.tenant_id
		WHERE ja.job_id = $1`,
		jobID,
	)
	if err := row.Scan(&token); err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return "", apperrors.NotFoundf("no credential for job %s", jobID)
		}
		return "", fmt.Errorf("get credential for job %s: %w", jobID, mapped)
	}
	return token, nil
}

// UpsertTenantToken stores or replaces the token for a tenant. Used by dev
// seeding and tests.
func (r *CredentialRepo) UpsertTenantToken(ctx context.Context, tenantID, token string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO repository_credentials (tenant_id, token)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET token = EXCLUDED.token`,
		tenantID, token,
	)
	if err != nil {
		return fmt.Errorf("upsert credential for tenant %s: %w", tenantID, apperrors.MapDBError(err))
	}
	return nil
}
