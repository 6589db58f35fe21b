package model

import (
	"encoding/json"
	"errors"
	"time"
)

// WebhookStatus tracks a webhook delivery through its audit lifecycle.
type WebhookStatus string

const (
	// WebhookStatusPending indicates the delivery is recorded but unhandled.
	WebhookStatusPending WebhookStatus = "PENDING"
	// WebhookStatusProcessing indicates handler logic is running. A crash
	// mid-handler leaves the record here for manual reconciliation.
	WebhookStatusProcessing WebhookStatus = "PROCESSING"
	// WebhookStatusCompleted indicates the delivery was handled, including
	// deliveries acknowledged but ignored.
	WebhookStatusCompleted WebhookStatus = "COMPLETED"
	// WebhookStatusFailed indicates handler logic failed.
	WebhookStatusFailed WebhookStatus = "FAILED"
)

// Valid returns true if the WebhookStatus is valid.
func (s WebhookStatus) Valid() bool {
	switch s {
	case WebhookStatusPending, WebhookStatusProcessing, WebhookStatusCompleted, WebhookStatusFailed:
		return true
	}
	return false
}

// WebhookEvent is the audit record for one inbound delivery. DeliveryID is
// the sender-supplied idempotency key and is unique.
type WebhookEvent struct {
	ID                 string          `json:"id"                   db:"id"`
	DeliveryID         string          `json:"delivery_id"          db:"delivery_id"`
	EventType          string          `json:"event_type"           db:"event_type"`
	EventAction        string          `json:"event_action"         db:"event_action"`
	TenantMappingID    string          `json:"tenant_mapping_id"    db:"tenant_mapping_id"`
	RepositoryFullName string          `json:"repository_full_name" db:"repository_full_name"`
	Payload            json.RawMessage `json:"payload"              db:"payload"`
	Status             WebhookStatus   `json:"status"               db:"status"`
	Outcome            string          `json:"outcome"              db:"outcome"`
	JobID              *string         `json:"job_id,omitempty"     db:"job_id"`
	ErrorMessage       *string         `json:"error_message,omitempty" db:"error_message"`
	ProcessedAt        *time.Time      `json:"processed_at,omitempty"  db:"processed_at"`
	CreatedAt          time.Time       `json:"created_at"           db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"           db:"updated_at"`
}

// ErrDuplicateDelivery reports that a webhook delivery id was already
// recorded.
var ErrDuplicateDelivery = errors.New("webhook delivery already recorded")

// Webhook delivery outcomes recorded on terminal audit records.
const (
	// WebhookOutcomeJobEnqueued marks a qualifying event that produced a job.
	WebhookOutcomeJobEnqueued = "job_enqueued"
	// WebhookOutcomeIgnored marks an acknowledged but unprocessed event.
	WebhookOutcomeIgnored = "ignored"
)

// WebhookEventUpdate describes one state-machine advance for a delivery.
type WebhookEventUpdate struct {
	Status       WebhookStatus
	Outcome      string
	JobID        *string
	ErrorMessage *string
}

// WebhookMapping associates an externally-registered webhook identifier with
// the tenant and repository that own it. Read-only from this service.
type WebhookMapping struct {
	ID             string `json:"id"              db:"id"`
	WebhookID      string `json:"webhook_id"      db:"webhook_id"`
	TenantID       string `json:"tenant_id"       db:"tenant_id"`
	ProjectID      string `json:"project_id"      db:"project_id"`
	RepositoryName string `json:"repository_name" db:"repository_name"`
	Active         bool   `json:"active"          db:"active"`
}

// RepositoryCredential is a per-tenant GitHub access token used for pushes
// and pull requests.
type RepositoryCredential struct {
	ID        string    `json:"-"          db:"id"`
	TenantID  string    `json:"tenant_id"  db:"tenant_id"`
	Token     string    `json:"-"          db:"token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
