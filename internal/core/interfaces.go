// Package core provides the business logic contracts for the fix-agent job system.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
)

// This file contains the interface definitions (ports in hexagonal architecture)
// between the service layer and the data, delivery, and AI layers. Service
// implementations should depend on these interfaces, not concrete implementations.

// QueueStore is the durable store backing the job queue. It is the single
// source of truth for job state. One named list exists per job status; the
// claim primitive is atomic at the store level.
type QueueStore interface {
	// SaveJob persists the job record unconditionally.
	SaveJob(ctx context.Context, job *model.Job) error

	// SaveJobIfNotTerminal persists the job only when the stored record is
	// absent or non-terminal. Returns false when an earlier terminal state
	// would have been overwritten.
	SaveJobIfNotTerminal(ctx context.Context, job *model.Job) (bool, error)

	// GetJob loads a job record. Missing ids map to a not-found error.
	GetJob(ctx context.Context, id string) (*model.Job, error)

	// DeleteJob removes the job record.
	DeleteJob(ctx context.Context, id string) error

	// ClaimPending atomically moves one id from the pending list to the
	// processing list, blocking up to timeout. Returns
	// model.ErrNoJobsAvailable when the wait expires empty.
	ClaimPending(ctx context.Context, timeout time.Duration) (string, error)

	// PushToList appends the id to the list owned by status.
	PushToList(ctx context.Context, status model.JobStatus, id string) error

	// RemoveFromList removes the id from the list owned by status. Removing
	// an id that is not present is not an error.
	RemoveFromList(ctx context.Context, status model.JobStatus, id string) error

	// ListIDs returns up to limit ids from the list owned by status, oldest
	// first. A non-positive limit returns the whole list.
	ListIDs(ctx context.Context, status model.JobStatus, limit int64) ([]string, error)

	// Counts returns the length of every status list.
	Counts(ctx context.Context) (map[model.JobStatus]int64, error)

	// Health checks the store connection.
	Health(ctx context.Context) error
}

// JobQueue wraps the queue store with job lifecycle operations.
type JobQueue interface {
	Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	// Claim blocks up to timeout for one pending job and transitions it to
	// IN_PROGRESS. Returns model.ErrNoJobsAvailable when the wait expires.
	Claim(ctx context.Context, timeout time.Duration) (*model.Job, error)
	Update(ctx context.Context, job *model.Job) error
	Complete(ctx context.Context, id string, result any) error
	Fail(ctx context.Context, id, errMsg string) error
	Cancel(ctx context.Context, id, reason string) error
	Get(ctx context.Context, id string) (*model.Job, error)
	ListByStatus(ctx context.Context, status model.JobStatus, limit int64) ([]*model.Job, error)
	Stats(ctx context.Context) (*model.QueueStats, error)
}

// WebhookRepository persists webhook delivery audit records and resolves
// tenant mappings.
type WebhookRepository interface {
	// CreateEvent inserts the audit record. A duplicate delivery id maps to
	// a conflict error.
	CreateEvent(ctx context.Context, event *model.WebhookEvent) error
	GetEventByDeliveryID(ctx context.Context, deliveryID string) (*model.WebhookEvent, error)
	// UpdateEventStatus advances the delivery state machine and stamps
	// processed_at on terminal states.
	UpdateEventStatus(ctx context.Context, id string, upd model.WebhookEventUpdate) error
	GetMappingByWebhookID(ctx context.Context, webhookID string) (*model.WebhookMapping, error)
}

// JobAuditRepository mirrors job state into relational storage for display
// and reconciliation. The queue store stays authoritative; a mirror failure
// never rolls back a queue transition.
type JobAuditRepository interface {
	Upsert(ctx context.Context, job *model.Job, tenantID string) error
	GetByJobID(ctx context.Context, jobID string) (*model.Job, error)
	DeleteOlderThan(ctx context.Context, age time.Duration, limit int) (int, error)
}

// CredentialRepository resolves the GitHub access token for a job. The
// token belongs to the tenant the job was enqueued for.
type CredentialRepository interface {
	TokenForJob(ctx context.Context, jobID string) (string, error)
	TokenForTenant(ctx context.Context, tenantID string) (string, error)
}

// FixRequest is the input to the external fix generation collaborator.
type FixRequest struct {
	Vulnerability model.VulnerabilityData
	WorkspaceDir  string
}

// FixSuggestion is the collaborator's output. When WroteFiles is true the
// collaborator already modified FilesModified in place; otherwise Content
// holds replacement text to apply near the vulnerable line.
type FixSuggestion struct {
	Content       string
	FilesModified []string
	WroteFiles    bool
	Summary       string
	Confidence    float64
}

// FixGenerator produces a fix for a vulnerability against a cloned
// workspace. Implementations must be safe for concurrent use.
type FixGenerator interface {
	GenerateFix(ctx context.Context, req FixRequest) (*FixSuggestion, error)
}

// ScanReport is the collaborator's analysis of a cloned repository.
type ScanReport struct {
	Findings []model.VulnerabilityData
	Summary  string
}

// ScanAnalyzer inspects a cloned repository for vulnerabilities.
type ScanAnalyzer interface {
	AnalyzeRepository(ctx context.Context, dir string) (*ScanReport, error)
}

// PullRequest is the result of opening a pull request.
type PullRequest struct {
	Number  int
	HTMLURL string
}

// PushRequest describes one branch push.
type PushRequest struct {
	RepoDir   string
	RepoURL   string
	Branch    string
	CommitSha string
	Token     string
}

// PullRequestSpec describes one pull request to open.
type PullRequestSpec struct {
	RepoURL string
	Token   string
	Title   string
	Body    string
	Head    string
	Base    string
}

// CheckRunSpec describes one check run create or update.
type CheckRunSpec struct {
	RepoURL    string
	Token      string
	Name       string
	HeadSha    string
	Status     string
	Conclusion string
	Summary    string
	ID         int64
}

// Deliverer pushes locally-created commits to GitHub and opens pull
// requests, without requiring a credentialed local git remote.
type Deliverer interface {
	// PushBranch materializes the branch on the remote, via REST object
	// upload with a native-push fallback.
	PushBranch(ctx context.Context, req PushRequest) error
	CreatePullRequest(ctx context.Context, spec PullRequestSpec) (*PullRequest, error)
	CreateCheckRun(ctx context.Context, spec CheckRunSpec) (int64, error)
	UpdateCheckRun(ctx context.Context, spec CheckRunSpec) error
}

// JobMetrics records job lifecycle events for observability. Emission is
// best effort; no correctness dependency.
type JobMetrics interface {
	JobClaimed(jobType model.JobType)
	JobCompleted(jobType model.JobType, duration time.Duration)
	JobFailed(jobType model.JobType, duration time.Duration)
	JobCancelled(jobType model.JobType)
	WebhookReceived(eventType string)
}

// MarshalResult encodes a terminal result payload for storage.
func MarshalResult(result any) (json.RawMessage, error) {
	if result == nil {
		return nil, nil
	}
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(result)
}
