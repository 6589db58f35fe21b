package httpx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// stubQueue is an in-memory core.JobQueue for handler tests.
type stubQueue struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	tenants map[string]string

	enqueueErr error
	statsErr   error
}

func newStubQueue() *stubQueue {
	return &stubQueue{
		jobs:    make(map[string]*model.Job),
		tenants: make(map[string]string),
	}
}

func (q *stubQueue) Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if q.enqueueErr != nil {
		return nil, q.enqueueErr
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}
	job := model.NewJob(req.Type, req.Payload, req.ID)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
	q.tenants[job.ID] = req.TenantID
	return job, nil
}

func (q *stubQueue) Claim(ctx context.Context, timeout time.Duration) (*model.Job, error) {
	return nil, model.ErrNoJobsAvailable
}

func (q *stubQueue) Update(ctx context.Context, job *model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
	return nil
}

func (q *stubQueue) Complete(ctx context.Context, id string, result any) error {
	return q.transition(id, model.JobStatusCompleted, "")
}

func (q *stubQueue) Fail(ctx context.Context, id, errMsg string) error {
	return q.transition(id, model.JobStatusFailed, errMsg)
}

func (q *stubQueue) Cancel(ctx context.Context, id, reason string) error {
	return q.transition(id, model.JobStatusCancelled, reason)
}

func (q *stubQueue) transition(id string, status model.JobStatus, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return apperrors.NotFoundf("job %s not found", id)
	}
	if job.Status.Terminal() {
		return apperrors.Conflictf("job %s already %s", id, job.Status)
	}
	job.Status = status
	if msg != "" {
		job.Error = &msg
	}
	return nil
}

func (q *stubQueue) Get(ctx context.Context, id string) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	clone := *job
	return &clone, nil
}

func (q *stubQueue) ListByStatus(ctx context.Context, status model.JobStatus, limit int64) ([]*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*model.Job
	for _, job := range q.jobs {
		if job.Status != status {
			continue
		}
		clone := *job
		out = append(out, &clone)
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (q *stubQueue) Stats(ctx context.Context) (*model.QueueStats, error) {
	if q.statsErr != nil {
		return nil, q.statsErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := &model.QueueStats{}
	for _, job := range q.jobs {
		switch job.Status {
		case model.JobStatusPending:
			stats.Pending++
		case model.JobStatusInProgress:
			stats.Processing++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// stubWebhookRepo is an in-memory core.WebhookRepository keyed on delivery id.
type stubWebhookRepo struct {
	mu       sync.Mutex
	events   map[string]*model.WebhookEvent
	mappings map[string]*model.WebhookMapping
	nextID   int
}

func newStubWebhookRepo() *stubWebhookRepo {
	return &stubWebhookRepo{
		events:   make(map[string]*model.WebhookEvent),
		mappings: make(map[string]*model.WebhookMapping),
	}
}

func (r *stubWebhookRepo) addMapping(webhookID, tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[webhookID] = &model.WebhookMapping{
		ID:        "mapping-" + webhookID,
		WebhookID: webhookID,
		TenantID:  tenantID,
		Active:    true,
	}
}

func (r *stubWebhookRepo) CreateEvent(ctx context.Context, event *model.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.DeliveryID]; ok {
		return fmt.Errorf("%w: %s", model.ErrDuplicateDelivery, event.DeliveryID)
	}
	r.nextID++
	event.ID = fmt.Sprintf("event-%d", r.nextID)
	clone := *event
	r.events[event.DeliveryID] = &clone
	return nil
}

func (r *stubWebhookRepo) GetEventByDeliveryID(ctx context.Context, deliveryID string) (*model.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[deliveryID]
	if !ok {
		return nil, apperrors.NotFoundf("webhook delivery %s not found", deliveryID)
	}
	clone := *event
	return &clone, nil
}

func (r *stubWebhookRepo) UpdateEventStatus(ctx context.Context, id string, upd model.WebhookEventUpdate) error {
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
		if upd.ErrorMessage != nil {
			event.ErrorMessage = upd.ErrorMessage
		}
		return nil
	}
	return apperrors.NotFoundf("webhook event %s not found", id)
}

func (r *stubWebhookRepo) GetMappingByWebhookID(ctx context.Context, webhookID string) (*model.WebhookMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mapping, ok := r.mappings[webhookID]
	if !ok {
		return nil, apperrors.NotFoundf("webhook mapping %s not found", webhookID)
	}
	clone := *mapping
	return &clone, nil
}
