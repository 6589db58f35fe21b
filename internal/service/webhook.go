package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// zeroSHA is the commit id GitHub sends on branch-deletion pushes.
const zeroSHA = "0000000000000000000000000000000000000000"

// pull_request actions that translate into scan jobs.
var scanPRActions = map[string]struct{}{
	"opened":      {},
	"synchronize": {},
	"reopened":    {},
}

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// WebhookDelivery is one inbound delivery as received on the wire.
type WebhookDelivery struct {
	DeliveryID string
	EventType  string
	WebhookID  string
	// Signature is the X-Hub-Signature-256 header value, if present.
	Signature string
	Body      []byte
}

// WebhookServiceOptions groups dependencies for WebhookService.
type WebhookServiceOptions struct {
	Events core.WebhookRepository // Required
	Jobs   core.JobQueue          // Required
	// Secret is the shared HMAC secret. Leaving it empty disables
	// signature verification entirely; every accepted delivery is
	// logged loudly in that mode.
	Secret    string
	Evaluator JMESPathEvaluator
	Logger    *slog.Logger
	Metrics   core.JobMetrics
}

// WebhookService authenticates, deduplicates, and routes inbound repository
// events into scan jobs. Every delivery leaves an audit record that moves
// PENDING -> PROCESSING -> COMPLETED or FAILED.
type WebhookService struct {
	events  core.WebhookRepository
	jobs    core.JobQueue
	secret  string
	jems    JMESPathEvaluator
	logger  *slog.Logger
	metrics core.JobMetrics
}

// NewWebhookService constructs a new service.
func NewWebhookService(opts WebhookServiceOptions) (*WebhookService, error) {
	if opts.Events == nil {
		return nil, errors.New("webhook service: events repository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("webhook service: job queue is required")
	}
	jems := opts.Evaluator
	if jems == nil {
		jems = jmespathLibEvaluator{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		events:  opts.Events,
		jobs:    opts.Jobs,
		secret:  opts.Secret,
		jems:    jems,
		logger:  logger.With("component", "webhook_service"),
		metrics: opts.Metrics,
	}, nil
}

// MustNewWebhookService constructs a new service and panics on invalid options.
func MustNewWebhookService(opts WebhookServiceOptions) *WebhookService {
	s, err := NewWebhookService(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// VerifySignature checks the request body against the shared secret using a
// constant-time HMAC-SHA256 comparison. With no secret configured every
// delivery is accepted, and each acceptance is logged as a warning.
func (s *WebhookService) VerifySignature(signature string, body []byte) error {
	if s.secret == "" {
		s.logger.Warn("webhook signature verification disabled, no secret configured")
		return nil
	}
	if signature == "" {
		return apperrors.Unauthorized("missing webhook signature")
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return apperrors.Unauthorized("webhook signature mismatch")
	}
	return nil
}

// Process handles one delivery end to end: authenticate, record, resolve the
// tenant mapping, and enqueue a scan job for qualifying events. The returned
// event reflects the final audit state. A replayed delivery id returns the
// original event together with model.ErrDuplicateDelivery.
func (s *WebhookService) Process(ctx context.Context, delivery WebhookDelivery) (*model.WebhookEvent, error) {
	if err := s.VerifySignature(delivery.Signature, delivery.Body); err != nil {
		return nil, err
	}
	if delivery.DeliveryID == "" {
		return nil, apperrors.Validation("delivery id is required")
	}
	if delivery.EventType == "" {
		return nil, apperrors.Validation("event type is required")
	}
	if s.metrics != nil {
		s.metrics.WebhookReceived(delivery.EventType)
	}

	var payload map[string]any
	parseErr := json.Unmarshal(delivery.Body, &payload)

	event := &model.WebhookEvent{
		DeliveryID:         delivery.DeliveryID,
		EventType:          delivery.EventType,
		EventAction:        s.extractString(payload, "action"),
		RepositoryFullName: s.extractString(payload, "repository.full_name"),
		Payload:            delivery.Body,
		Status:             model.WebhookStatusPending,
	}

	var mapping *model.WebhookMapping
	if delivery.WebhookID != "" {
		m, err := s.events.GetMappingByWebhookID(ctx, delivery.WebhookID)
		if err == nil {
			mapping = m
			event.TenantMappingID = m.ID
		} else if !apperrors.IsNotFound(err) {
			return nil, err
		}
	}

	if err := s.events.CreateEvent(ctx, event); err != nil {
		if errors.Is(err, model.ErrDuplicateDelivery) {
			existing, getErr := s.events.GetEventByDeliveryID(ctx, delivery.DeliveryID)
			if getErr != nil {
				return nil, getErr
			}
			s.logger.InfoContext(ctx, "duplicate webhook delivery",
				"delivery_id", delivery.DeliveryID,
				"status", existing.Status)
			return existing, model.ErrDuplicateDelivery
		}
		return nil, err
	}

	if err := s.advance(ctx, event, model.WebhookEventUpdate{Status: model.WebhookStatusProcessing}); err != nil {
		return event, err
	}

	if parseErr != nil {
		return event, s.finishFailed(ctx, event, apperrors.Validation("malformed webhook payload"))
	}
	if mapping == nil {
		return event, s.finishFailed(ctx, event,
			apperrors.Unauthorized(fmt.Sprintf("no tenant mapping for webhook %q", delivery.WebhookID)))
	}

	req, routed := s.route(delivery.EventType, event.EventAction, payload)
	if !routed {
		err := s.advance(ctx, event, model.WebhookEventUpdate{
			Status:  model.WebhookStatusCompleted,
			Outcome: model.WebhookOutcomeIgnored,
		})
		return event, err
	}
	req.TenantID = mapping.TenantID

	job, err := s.jobs.Enqueue(ctx, req)
	if err != nil {
		return event, s.finishFailed(ctx, event, fmt.Errorf("enqueue scan job: %w", err))
	}
	if err := s.advance(ctx, event, model.WebhookEventUpdate{
		Status:  model.WebhookStatusCompleted,
		Outcome: model.WebhookOutcomeJobEnqueued,
		JobID:   &job.ID,
	}); err != nil {
		return event, err
	}
	s.logger.InfoContext(ctx, "webhook delivery enqueued scan job",
		"delivery_id", delivery.DeliveryID,
		"event_type", delivery.EventType,
		"job_id", job.ID,
		"repository", event.RepositoryFullName)
	return event, nil
}

// route translates a qualifying event into a scan job request. The second
// return value is false for event types and actions that are acknowledged
// but never processed.
func (s *WebhookService) route(eventType, action string, payload map[string]any) (*model.CreateJobRequest, bool) {
	data := model.ScanJobData{
		RepositoryURL: s.extractString(payload, "repository.clone_url"),
		Trigger: &model.TriggerInfo{
			Source:    "webhook",
			EventType: eventType,
			Action:    action,
			Sender:    s.extractString(payload, "sender.login"),
		},
	}
	if data.RepositoryURL == "" {
		data.RepositoryURL = s.extractString(payload, "repository.html_url")
	}

	switch eventType {
	case "pull_request":
		if _, ok := scanPRActions[action]; !ok {
			return nil, false
		}
		data.Branch = s.extractString(payload, "pull_request.head.ref")
		data.CommitSha = s.extractString(payload, "pull_request.head.sha")
		data.PRNumber = s.extractInt(payload, "pull_request.number")
	case "push":
		after := s.extractString(payload, "after")
		if after == zeroSHA {
			return nil, false
		}
		data.Branch = strings.TrimPrefix(s.extractString(payload, "ref"), "refs/heads/")
		data.CommitSha = after
	default:
		return nil, false
	}
	if data.RepositoryURL == "" || data.Branch == "" {
		return nil, false
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	return &model.CreateJobRequest{Type: model.JobTypeScanRepository, Payload: raw}, true
}

// advance moves the audit record forward, keeping the in-memory event in sync.
func (s *WebhookService) advance(ctx context.Context, event *model.WebhookEvent, upd model.WebhookEventUpdate) error {
	if err := s.events.UpdateEventStatus(ctx, event.ID, upd); err != nil {
		return err
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

// finishFailed records the terminal failure on the audit record and returns
// cause so callers surface the original error.
func (s *WebhookService) finishFailed(ctx context.Context, event *model.WebhookEvent, cause error) error {
	msg := cause.Error()
	if err := s.advance(ctx, event, model.WebhookEventUpdate{
		Status:       model.WebhookStatusFailed,
		ErrorMessage: &msg,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to record webhook failure",
			"delivery_id", event.DeliveryID, "error", err)
	}
	return cause
}

func (s *WebhookService) extractString(payload map[string]any, expr string) string {
	if payload == nil {
		return ""
	}
	v, err := s.jems.Evaluate(expr, payload)
	if err != nil {
		return ""
	}
	str, _ := v.(string)
	return str
}

func (s *WebhookService) extractInt(payload map[string]any, expr string) int {
	if payload == nil {
		return 0
	}
	v, err := s.jems.Evaluate(expr, payload)
	if err != nil {
		return 0
	}
	f, _ := v.(float64)
	return int(f)
}
