package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// ErrDuplicateDelivery is returned when a webhook delivery id was already
// recorded.
var ErrDuplicateDelivery = model.ErrDuplicateDelivery

// WebhookRepo persists webhook delivery audit records and resolves tenant
// mappings.
type WebhookRepo struct {
	DB *sql.DB
}

// NewWebhookRepo creates a new WebhookRepo.
func NewWebhookRepo(db *sql.DB) *WebhookRepo {
	return &WebhookRepo{DB: db}
}

const webhookEventColumns = `
	id::text AS id, delivery_id, event_type, event_action,
	COALESCE(tenant_mapping_id::text, '') AS tenant_mapping_id,
	repository_full_name, payload, status, outcome, job_id, error_message,
	processed_at, created_at, updated_at`

// CreateEvent inserts the audit record for one delivery. A duplicate
// delivery id maps to ErrDuplicateDelivery.
func (r *WebhookRepo) CreateEvent(ctx context.Context, event *model.WebhookEvent) error {
	if event.DeliveryID == "" {
		return apperrors.Validation("delivery id is required")
	}
	if event.Status == "" {
		event.Status = model.WebhookStatusPending
	}
	if len(event.Payload) == 0 {
		event.Payload = []byte("{}")
	}

	var mappingID any
	if event.TenantMappingID != "" {
		mappingID = event.TenantMappingID
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO webhook_events
			(delivery_id, event_type, event_action, tenant_mapping_id,
			 repository_full_name, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		event.DeliveryID, event.EventType, event.EventAction, mappingID,
		event.RepositoryFullName, event.Payload, event.Status,
	)
	if err := row.Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt); err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsConflict(mapped) {
			return fmt.Errorf("%w: %s", ErrDuplicateDelivery, event.DeliveryID)
		}
		return fmt.Errorf("create webhook event: %w", mapped)
	}
	return nil
}

// GetEventByDeliveryID loads the audit record for a delivery id.
func (r *WebhookRepo) GetEventByDeliveryID(ctx context.Context, deliveryID string) (*model.WebhookEvent, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE delivery_id = $1`,
		deliveryID,
	)
	event, err := scanWebhookEvent(row)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return nil, apperrors.NotFoundf("webhook delivery %s not found", deliveryID)
		}
		return nil, fmt.Errorf("get webhook event: %w", mapped)
	}
	return event, nil
}

func scanWebhookEvent(row *sql.Row) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := row.Scan(
		&event.ID, &event.DeliveryID, &event.EventType, &event.EventAction,
		&event.TenantMappingID, &event.RepositoryFullName, &event.Payload,
		&event.Status, &event.Outcome, &event.JobID, &event.ErrorMessage,
		&event.ProcessedAt, &event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// UpdateEventStatus advances the delivery state machine. Terminal statuses
// stamp processed_at.
func (r *WebhookRepo) UpdateEventStatus(ctx context.Context, id string, upd model.WebhookEventUpdate) error {
	if !upd.Status.Valid() {
		return apperrors.Validationf("invalid webhook status %q", upd.Status)
	}
	terminal := upd.Status == model.WebhookStatusCompleted || upd.Status == model.WebhookStatusFailed

	res, err := r.DB.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = $2,
		    outcome = COALESCE(NULLIF($3, ''), outcome),
		    job_id = COALESCE($4, job_id),
		    error_message = $5,
		    processed_at = CASE WHEN $6 THEN now() ELSE processed_at END,
		    updated_at = now()
		WHERE id = $1`,
		id, upd.Status, upd.Outcome, upd.JobID, upd.ErrorMessage, terminal,
	)
	if err != nil {
		return fmt.Errorf("update webhook event %s: %w", id, apperrors.MapDBError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFoundf("webhook event %s not found", id)
	}
	return nil
}

// GetMappingByWebhookID resolves the active tenant mapping for an
// externally-registered webhook identifier.
func (r *WebhookRepo) GetMappingByWebhookID(ctx context.Context, webhookID string) (*model.WebhookMapping, error) {
	var mapping model.WebhookMapping
	row := r.DB.QueryRowContext(ctx, `
		SELECT id::text, webhook_id, tenant_id, project_id, repository_name, active
		FROM webhook_mappings
		WHERE webhook_id = $1 AND active`,
		webhookID,
	)
	err := row.Scan(
		&mapping.ID, &mapping.WebhookID, &mapping.TenantID,
		&mapping.ProjectID, &mapping.RepositoryName, &mapping.Active,
	)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return nil, apperrors.NotFoundf("no mapping for webhook %s", webhookID)
		}
		return nil, fmt.Errorf("get webhook mapping: %w", mapped)
	}
	return &mapping, nil
}
