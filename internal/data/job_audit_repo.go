package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// JobAuditRepo mirrors job records into Postgres for display and
// reconciliation. The queue store stays authoritative for live state.
type JobAuditRepo struct {
	DB *sql.DB
}

// NewJobAuditRepo creates a new JobAuditRepo.
func NewJobAuditRepo(db *sql.DB) *JobAuditRepo {
	return &JobAuditRepo{DB: db}
}

// Upsert writes the current job snapshot. An empty tenantID preserves the
// tenant recorded by an earlier write.
func (r *JobAuditRepo) Upsert(ctx context.Context, job *model.Job, tenantID string) error {
	payload := job.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var result any
	if len(job.Result) > 0 {
		result = []byte(job.Result)
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO job_audit
			(job_id, tenant_id, type, status, payload, result, error,
			 created_at, updated_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id) DO UPDATE SET
			tenant_id   = COALESCE(NULLIF(EXCLUDED.tenant_id, ''), job_audit.tenant_id),
			status      = EXCLUDED.status,
			result      = EXCLUDED.result,
			error       = EXCLUDED.error,
			updated_at  = EXCLUDED.updated_at,
			started_at  = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`,
		job.ID, tenantID, job.Type, job.Status, payload, result, job.Error,
		job.CreatedAt, job.UpdatedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert job audit %s: %w", job.ID, apperrors.MapDBError(err))
	}
	return nil
}

// GetByJobID loads the mirrored job snapshot.
func (r *JobAuditRepo) GetByJobID(ctx context.Context, jobID string) (*model.Job, error) {
	var (
		job    model.Job
		result sql.NullString
	)
	row := r.DB.QueryRowContext(ctx, `
		SELECT job_id, type, status, payload, result::text, error,
		       created_at, updated_at, started_at, finished_at
		FROM job_audit WHERE job_id = $1`,
		jobID,
	)
	err := row.Scan(
		&job.ID, &job.Type, &job.Status, &job.Payload, &result, &job.Error,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return nil, apperrors.NotFoundf("job audit %s not found", jobID)
		}
		return nil, fmt.Errorf("get job audit %s: %w", jobID, mapped)
	}
	if result.Valid {
		job.Result = []byte(result.String)
	}
	return &job, nil
}

// TenantForJob returns the tenant recorded for a job id.
func (r *JobAuditRepo) TenantForJob(ctx context.Context, jobID string) (string, error) {
	var tenantID string
	row := r.DB.QueryRowContext(ctx,
		`SELECT tenant_id FROM job_audit WHERE job_id = $1`, jobID)
	if err := row.Scan(&tenantID); err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return "", apperrors.NotFoundf("job audit %s not found", jobID)
		}
		return "", fmt.Errorf("get tenant for job %s: %w", jobID, mapped)
	}
	return tenantID, nil
}

// DeleteOlderThan removes terminal audit rows whose last update is older
// than age, at most limit rows per call.
func (r *JobAuditRepo) DeleteOlderThan(ctx context.Context, age time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-age)
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM job_audit
		WHERE job_id IN (
			SELECT job_id FROM job_audit
			WHERE status IN ('COMPLETED', 'FAILED', 'CANCELLED')
			  AND updated_at < $1
			ORDER BY updated_at
			LIMIT $2
		)`,
		cutoff, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old job audit rows: %w", apperrors.MapDBError(err))
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
