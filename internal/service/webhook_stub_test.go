package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// memWebhookRepo is an in-memory WebhookRepository for service tests.
type memWebhookRepo struct {
	mu       sync.Mutex
	events   map[string]*model.WebhookEvent
	mappings map[string]*model.WebhookMapping
	nextID   int
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{
		events:   make(map[string]*model.WebhookEvent),
		mappings: make(map[string]*model.WebhookMapping),
	}
}

func (r *memWebhookRepo) addMapping(webhookID, tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[webhookID] = &model.WebhookMapping{
		ID:        "mapping-" + webhookID,
		WebhookID: webhookID,
		TenantID:  tenantID,
		Active:    true,
	}
}

func (r *memWebhookRepo) CreateEvent(ctx context.Context, event *model.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.DeliveryID]; ok {
		return fmt.Errorf("%w: %s", model.ErrDuplicateDelivery, event.DeliveryID)
	}
	r.nextID++
	event.ID = fmt.Sprintf("event-%d", r.nextID)
	event.CreatedAt = time.Now().UTC()
	event.UpdatedAt = event.CreatedAt
	clone := *event
	r.events[event.DeliveryID] = &clone
	return nil
}

func (r *memWebhookRepo) GetEventByDeliveryID(ctx context.Context, deliveryID string) (*model.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[deliveryID]
	if !ok {
		return nil, apperrors.NotFoundf("webhook delivery %s not found", deliveryID)
	}
	clone := *event
	return &clone, nil
}

func (r *memWebhookRepo) UpdateEventStatus(ctx context.Context, id string, upd model.WebhookEventUpdate) error {
	if !upd.Status.Valid() {
		return apperrors.Validationf("invalid webhook status %q", upd.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.ID != id {
			continue
		}
		event.Status = upd.Status
		if upd.Outcome != "" {
			event.Outcome = upd.Outcome
		}
		if upd.JobID != nil {
			event.JobID = upd.JobID
		}
		event.ErrorMessage = upd.ErrorMessage
		if upd.Status == model.WebhookStatusCompleted || upd.Status == model.WebhookStatusFailed {
			now := time.Now().UTC()
			event.ProcessedAt = &now
		}
		event.UpdatedAt = time.Now().UTC()
		return nil
	}
	return apperrors.NotFoundf("webhook event %s not found", id)
}

// captureAudit records the tenant passed on the most recent mirror write.
type captureAudit struct {
	mu         sync.Mutex
	lastTenant string
}

func (a *captureAudit) Upsert(ctx context.Context, job *model.Job, tenantID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tenantID != "" {
		a.lastTenant = tenantID
	}
	return nil
}

func (a *captureAudit) GetByJobID(ctx context.Context, jobID string) (*model.Job, error) {
	return nil, apperrors.NotFoundf("job %s not found", jobID)
}

func (a *captureAudit) DeleteOlderThan(ctx context.Context, age time.Duration, limit int) (int, error) {
	return 0, nil
}

func (r *memWebhookRepo) GetMappingByWebhookID(ctx context.Context, webhookID string) (*model.WebhookMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mapping, ok := r.mappings[webhookID]
	if !ok {
		return nil, apperrors.NotFoundf("no mapping for webhook %s", webhookID)
	}
	clone := *mapping
	return &clone, nil
}
