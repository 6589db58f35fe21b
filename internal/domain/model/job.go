// Package model defines the core data types used throughout the fix-agent job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobType represents the type of job to be executed.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeScanRepository represents a repository security scan job.
	JobTypeScanRepository JobType = "scan_repository"
	// JobTypeFixVulnerability represents a vulnerability auto-fix job.
	JobTypeFixVulnerability JobType = "fix_vulnerability"

	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusInProgress indicates a job is held by a worker.
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	// JobStatusCompleted indicates a job finished successfully.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates a job failed to complete.
	JobStatusFailed JobStatus = "FAILED"
	// JobStatusCancelled indicates a job was cancelled before finishing.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// ErrNoJobsAvailable is returned when no jobs are available to claim.
var ErrNoJobsAvailable = errors.New("no jobs available")

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeScanRepository || t == JobTypeFixVulnerability
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal returns true for statuses with no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job represents a unit of work. Payload and Result are stored opaquely and
// decoded per Type; Result and Error are mutually exclusive and both absent
// while the job is non-terminal.
type Job struct {
	ID             string          `json:"id"`
	Type           JobType         `json:"type"`
	Status         JobStatus       `json:"status"`
	Payload        json.RawMessage `json:"payload"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
}

// NewJob constructs a pending job, assigning an id when none is supplied.
func NewJob(jobType JobType, payload json.RawMessage, id string) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Type:      jobType,
		Status:    JobStatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FixData decodes the payload of a fix_vulnerability job.
func (j *Job) FixData() (*FixJobData, error) {
	if j.Type != JobTypeFixVulnerability {
		return nil, fmt.Errorf("job %s is %s, not %s", j.ID, j.Type, JobTypeFixVulnerability)
	}
	// Branch and pull request creation default on; an absent field must
	// not silently push fixes onto the base branch.
	data := FixJobData{
		FixOptions: FixOptions{CreateBranch: true, CreatePullRequest: true},
	}
	if err := json.Unmarshal(j.Payload, &data); err != nil {
		return nil, fmt.Errorf("decode fix payload: %w", err)
	}
	data.applyDefaults()
	return &data, nil
}

// ScanData decodes the payload of a scan_repository job.
func (j *Job) ScanData() (*ScanJobData, error) {
	if j.Type != JobTypeScanRepository {
		return nil, fmt.Errorf("job %s is %s, not %s", j.ID, j.Type, JobTypeScanRepository)
	}
	var data ScanJobData
	if err := json.Unmarshal(j.Payload, &data); err != nil {
		return nil, fmt.Errorf("decode scan payload: %w", err)
	}
	if data.Branch == "" {
		data.Branch = "main"
	}
	return &data, nil
}

// VulnerabilityData is the vulnerability descriptor carried by a fix job.
// Field names follow the wire format produced by the scan service.
type VulnerabilityData struct {
	Title          string `json:"title"`
	FilePath       string `json:"filePath"`
	StartLine      int    `json:"startLine"`
	EndLine        int    `json:"endLine,omitempty"`
	CodeSnippet    string `json:"codeSnippet"`
	Severity       string `json:"severity"`
	Category       string `json:"category"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// FixOptions controls how a fix is delivered.
type FixOptions struct {
	CreateBranch      bool   `json:"createBranch"`
	BranchPrefix      string `json:"branchPrefix"`
	CreatePullRequest bool   `json:"createPullRequest"`
	PRTitle           string `json:"prTitle"`
	PRDescription     string `json:"prDescription"`
}

// FixJobData is the payload of a fix_vulnerability job.
type FixJobData struct {
	VulnerabilityID string            `json:"vulnerabilityId"`
	ScanJobID       string            `json:"scanJobId,omitempty"`
	RepositoryURL   string            `json:"repositoryUrl"`
	Branch          string            `json:"branch"`
	CommitSha       string            `json:"commitSha,omitempty"`
	Vulnerability   VulnerabilityData `json:"vulnerability"`
	FixOptions      FixOptions        `json:"fixOptions"`
}

func (d *FixJobData) applyDefaults() {
	if d.Branch == "" {
		d.Branch = "main"
	}
	if d.FixOptions.BranchPrefix == "" {
		d.FixOptions.BranchPrefix = "fix"
	}
}

// Validate checks the fields required to run a fix pipeline.
func (d *FixJobData) Validate() error {
	if d.RepositoryURL == "" {
		return errors.New("repositoryUrl is required")
	}
	if d.Vulnerability.Title == "" {
		return errors.New("vulnerability.title is required")
	}
	if d.Vulnerability.FilePath == "" {
		return errors.New("vulnerability.filePath is required")
	}
	if d.Vulnerability.StartLine < 1 {
		return errors.New("vulnerability.startLine must be >= 1")
	}
	return nil
}

// TriggerInfo records what caused a scan job to be enqueued, for later display.
type TriggerInfo struct {
	Source     string `json:"source"`
	EventType  string `json:"eventType,omitempty"`
	Action     string `json:"action,omitempty"`
	DeliveryID string `json:"deliveryId,omitempty"`
	Sender     string `json:"sender,omitempty"`
}

// ScanJobData is the payload of a scan_repository job.
type ScanJobData struct {
	RepositoryURL string       `json:"repositoryUrl"`
	Branch        string       `json:"branch"`
	CommitSha     string       `json:"commitSha,omitempty"`
	PRNumber      int          `json:"prNumber,omitempty"`
	Trigger       *TriggerInfo `json:"trigger,omitempty"`
}

// Validate checks the fields required to run a scan pipeline.
func (d *ScanJobData) Validate() error {
	if d.RepositoryURL == "" {
		return errors.New("repositoryUrl is required")
	}
	return nil
}

// FixResult is the result recorded on a completed fix job.
type FixResult struct {
	Success        bool     `json:"success"`
	BranchName     string   `json:"branchName,omitempty"`
	CommitSha      string   `json:"commitSha,omitempty"`
	PullRequestURL string   `json:"pullRequestUrl,omitempty"`
	PullRequestID  int      `json:"pullRequestId,omitempty"`
	FilesModified  []string `json:"filesModified"`
	FixApplied     string   `json:"fixApplied"`
	Confidence     float64  `json:"confidence"`
}

// ScanResult is the result recorded on a completed scan job.
type ScanResult struct {
	FindingsCount int    `json:"findingsCount"`
	Summary       string `json:"summary"`
	CommitSha     string `json:"commitSha,omitempty"`
}

// CreateJobRequest represents a request to create a new job.
type CreateJobRequest struct {
	Type    JobType         `json:"type"`
	Payload json.RawMessage `json:"payload"`
	ID      string          `json:"id,omitempty"`

	// TenantID attributes the job to a tenant for credential resolution.
	// Set internally by the webhook processor, never from client JSON.
	TenantID string `json:"-"`
}

// Validate validates the request, including the type-specific payload shape.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	probe := NewJob(r.Type, r.Payload, "probe")
	switch r.Type {
	case JobTypeFixVulnerability:
		data, err := probe.FixData()
		if err != nil {
			return err
		}
		return data.Validate()
	case JobTypeScanRepository:
		data, err := probe.ScanData()
		if err != nil {
			return err
		}
		return data.Validate()
	}
	return nil
}
