package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// CancelledByUserReason is the fixed reason recorded for API cancellations.
const CancelledByUserReason = "cancelled by user"

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Store   core.QueueStore         // Required: queue store
	Lease   time.Duration           // Required: visibility timeout for claimed jobs
	Audit   core.JobAuditRepository // Optional: relational mirror
	Cancels *CancellationRegistry   // Optional: cancellation registry shared with the worker
	Logger  *slog.Logger            // Optional: structured logger
	Metrics core.JobMetrics         // Optional: lifecycle metrics
}

// JobService implements the job queue lifecycle on top of the queue store.
//
// The store is the single source of truth for job state. Terminal
// transitions are compare-and-set guarded so a late duplicate complete or
// fail call never overwrites an earlier terminal result. When an audit
// repository is attached, every transition is mirrored best-effort after
// the store write; a mirror failure never rolls back the queue state.
type JobService struct {
	store   core.QueueStore
	audit   core.JobAuditRepository
	cancels *CancellationRegistry
	lease   time.Duration
	logger  *slog.Logger
	metrics core.JobMetrics
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Store == nil {
		return nil, errors.New("QueueStore is required")
	}
	if opts.Lease <= 0 {
		return nil, errors.New("Lease must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		store:   opts.Store,
		audit:   opts.Audit,
		cancels: opts.Cancels,
		lease:   opts.Lease,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Enqueue validates the request, stores the job in PENDING, and makes it
// visible to claimants.
func (s *JobService) Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	job := model.NewJob(req.Type, req.Payload, req.ID)
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.store.PushToList(ctx, model.JobStatusPending, job.ID); err != nil {
		return nil, err
	}

	s.mirror(ctx, job, req.TenantID)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job enqueued", "job_id", job.ID, "type", job.Type)
	}
	return job, nil
}

// Claim blocks up to timeout for one pending job and transitions it to
// IN_PROGRESS with a fresh lease. The atomic pop at the store level is what
// guarantees at-most-one concurrent claimant per job id.
func (s *JobService) Claim(ctx context.Context, timeout time.Duration) (*model.Job, error) {
	id, err := s.store.ClaimPending(ctx, timeout)
	if err != nil {
		return nil, err
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		// The list entry outlived its record. Drop the orphan and report
		// an empty claim.
		if apperrors.IsNotFound(err) {
			if s.logger != nil {
				s.logger.ErrorContext(ctx, "claimed id has no job record, dropping", "job_id", id)
			}
			_ = s.store.RemoveFromList(ctx, model.JobStatusInProgress, id)
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}

	now := time.Now().UTC()
	expiry := now.Add(s.lease)
	job.Status = model.JobStatusInProgress
	job.StartedAt = &now
	job.UpdatedAt = now
	job.LeaseExpiresAt = &expiry

	ok, err := s.store.SaveJobIfNotTerminal(ctx, job)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Cancelled between push and claim. Leave the terminal record
		// alone and drop the processing entry.
		_ = s.store.RemoveFromList(ctx, model.JobStatusInProgress, id)
		return nil, model.ErrNoJobsAvailable
	}

	s.mirror(ctx, job, "")
	if s.metrics != nil {
		s.metrics.JobClaimed(job.Type)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job claimed", "job_id", job.ID, "type", job.Type)
	}
	return job, nil
}

// Update persists an in-place mutation without moving list membership.
func (s *JobService) Update(ctx context.Context, job *model.Job) error {
	job.UpdatedAt = time.Now().UTC()
	ok, err := s.store.SaveJobIfNotTerminal(ctx, job)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflictf("job %s already terminal", job.ID)
	}
	s.mirror(ctx, job, "")
	return nil
}

// Complete transitions the job to COMPLETED with the given result.
func (s *JobService) Complete(ctx context.Context, id string, result any) error {
	raw, err := core.MarshalResult(result)
	if err != nil {
		return fmt.Errorf("marshal result for job %s: %w", id, err)
	}
	return s.finish(ctx, id, model.JobStatusCompleted, func(job *model.Job) {
		job.Result = raw
		job.Error = nil
	})
}

// Fail transitions the job to FAILED with the given error message.
func (s *JobService) Fail(ctx context.Context, id, errMsg string) error {
	return s.finish(ctx, id, model.JobStatusFailed, func(job *model.Job) {
		job.Result = nil
		job.Error = &errMsg
	})
}

// Cancel transitions the job to CANCELLED from any non-terminal state. A
// pending job is removed before a worker ever claims it; an in-progress job
// is additionally flagged in the cancellation registry so the worker
// observes the request at its next checkpoint.
func (s *JobService) Cancel(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = CancelledByUserReason
	}
	if s.cancels != nil {
		s.cancels.Request(id)
	}
	claimed := false
	err := s.finish(ctx, id, model.JobStatusCancelled, func(job *model.Job) {
		claimed = job.StartedAt != nil
		job.Result = nil
		job.Error = &reason
	})
	// A job cancelled before any worker claimed it has no checkpoint left
	// to clear the registry entry, so clear it here. Same for a cancel that
	// never landed.
	if s.cancels != nil && (err != nil || !claimed) {
		s.cancels.Clear(id)
	}
	return err
}

// finish performs a guarded terminal transition: stamp terminal fields,
// compare-and-set the record, then fix up list membership.
func (s *JobService) finish(
	ctx context.Context,
	id string,
	status model.JobStatus,
	mutate func(*model.Job),
) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return apperrors.Conflictf("job %s already terminal (%s)", id, job.Status)
	}

	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	job.FinishedAt = &now
	job.LeaseExpiresAt = nil
	mutate(job)

	ok, err := s.store.SaveJobIfNotTerminal(ctx, job)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Conflictf("job %s already terminal", id)
	}

	// Membership cleanup is idempotent; removing from a list the id never
	// joined is a no-op.
	_ = s.store.RemoveFromList(ctx, model.JobStatusPending, id)
	_ = s.store.RemoveFromList(ctx, model.JobStatusInProgress, id)
	if err := s.store.PushToList(ctx, status, id); err != nil {
		return err
	}

	if s.cancels != nil && status != model.JobStatusCancelled {
		s.cancels.Clear(id)
	}

	s.mirror(ctx, job, "")
	s.emitTerminal(job)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "job finished", "job_id", id, "status", status)
	}
	return nil
}

func (s *JobService) emitTerminal(job *model.Job) {
	if s.metrics == nil {
		return
	}
	var duration time.Duration
	if job.StartedAt != nil && job.FinishedAt != nil {
		duration = job.FinishedAt.Sub(*job.StartedAt)
	}
	switch job.Status {
	case model.JobStatusCompleted:
		s.metrics.JobCompleted(job.Type, duration)
	case model.JobStatusFailed:
		s.metrics.JobFailed(job.Type, duration)
	case model.JobStatusCancelled:
		s.metrics.JobCancelled(job.Type)
	default:
	}
}

// Get returns the last successfully persisted job state.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListByStatus returns up to limit jobs in the given status, oldest first.
// Ids whose records have been swept are skipped.
func (s *JobService) ListByStatus(ctx context.Context, status model.JobStatus, limit int64) ([]*model.Job, error) {
	ids, err := s.store.ListIDs(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	jobs := make([]*model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			if apperrors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Stats returns per-list counts for observability.
func (s *JobService) Stats(ctx context.Context) (*model.QueueStats, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &model.QueueStats{
		Pending:    counts[model.JobStatusPending],
		Processing: counts[model.JobStatusInProgress],
		Completed:  counts[model.JobStatusCompleted],
		Failed:     counts[model.JobStatusFailed],
		Cancelled:  counts[model.JobStatusCancelled],
	}, nil
}

// mirror writes the job snapshot to the audit repository. Best effort only;
// the queue store has already been updated and stays authoritative.
func (s *JobService) mirror(ctx context.Context, job *model.Job, tenantID string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Upsert(ctx, job, tenantID); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "job audit mirror failed",
			"job_id", job.ID, "error", err)
	}
}

var _ core.JobQueue = (*JobService)(nil)
