package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fortify-rocks/fix-agent/config"
	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
	"github.com/fortify-rocks/fix-agent/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Store   core.QueueStore         // Required: queue store
	Config  config.ReaperConfig     // Required: reaper configuration
	Audit   core.JobAuditRepository // Optional: relational mirror to prune
	Logger  *slog.Logger            // Optional: structured logger
	Metrics statsd.Sink             // Optional: metrics sink
}

// ReaperService keeps the queue store healthy over time.
//
// This service manages:
// - Requeueing in-flight jobs whose claim lease expired (worker crash or hang).
// - Deleting aged terminal jobs to bound Redis memory.
// - Pruning the relational audit mirror in step with the store.
type ReaperService struct {
	store   core.QueueStore
	config  config.ReaperConfig
	audit   core.JobAuditRepository
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Store == nil {
		return nil, errors.New("queue store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReaperService{
		store:   opts.Store,
		config:  opts.Config,
		audit:   opts.Audit,
		logger:  logger.With("component", "reaper_service"),
		metrics: opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		panic(err)
	}
	return svc
}

// Run executes sweeps at the configured interval until the context is
// cancelled. Returns nil on graceful shutdown.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	// Jitter spreads sweep starts when several instances boot together.
	s.waitWithJitter(ctx)
	if ctx.Err() != nil {
		return ignoreCancellation(ctx.Err())
	}

	if err := s.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "initial sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			return ignoreCancellation(ctx.Err())
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && !isContextError(err) {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one full maintenance pass.
func (s *ReaperService) Sweep(ctx context.Context) error {
	start := time.Now()
	var errs []error

	requeued, err := s.RequeueExpiredLeases(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("requeue expired leases: %w", err))
	}

	var deleted int
	for _, sweep := range []struct {
		status model.JobStatus
		maxAge time.Duration
	}{
		{model.JobStatusCompleted, s.config.CompletedMaxAge},
		{model.JobStatusFailed, s.config.FailedMaxAge},
		{model.JobStatusCancelled, s.config.FailedMaxAge},
	} {
		n, err := s.deleteAgedJobs(ctx, sweep.status, sweep.maxAge)
		deleted += n
		if err != nil {
			errs = append(errs, fmt.Errorf("delete aged %s jobs: %w", sweep.status, err))
		}
	}

	pruned, err := s.pruneAudit(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("prune audit rows: %w", err))
	}

	s.emitSweepMetrics(requeued, deleted, pruned, time.Since(start))
	if requeued+deleted+pruned > 0 {
		s.logger.InfoContext(ctx, "sweep finished",
			"requeued", requeued,
			"deleted", deleted,
			"audit_pruned", pruned,
			"elapsed", time.Since(start))
	}
	return errors.Join(errs...)
}

// RequeueExpiredLeases returns expired in-flight jobs to the pending list so
// another worker can claim them. An id on the processing list with no job
// record is dropped as an orphan.
func (s *ReaperService) RequeueExpiredLeases(ctx context.Context) (int, error) {
	ids, err := s.store.ListIDs(ctx, model.JobStatusInProgress, int64(s.config.BatchSize))
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	requeued := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return requeued, ctx.Err()
		}
		job, err := s.store.GetJob(ctx, id)
		if apperrors.IsNotFound(err) {
			if err := s.store.RemoveFromList(ctx, model.JobStatusInProgress, id); err != nil {
				return requeued, err
			}
			s.logger.WarnContext(ctx, "dropped orphaned processing id", "job_id", id)
			continue
		}
		if err != nil {
			return requeued, err
		}
		if job.Status != model.JobStatusInProgress || job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(now) {
			continue
		}

		job.Status = model.JobStatusPending
		job.StartedAt = nil
		job.LeaseExpiresAt = nil
		job.UpdatedAt = now
		saved, err := s.store.SaveJobIfNotTerminal(ctx, job)
		if err != nil {
			return requeued, err
		}
		if !saved {
			// Finished between our read and write; leave it alone.
			continue
		}
		if err := s.store.RemoveFromList(ctx, model.JobStatusInProgress, id); err != nil {
			return requeued, err
		}
		if err := s.store.PushToList(ctx, model.JobStatusPending, id); err != nil {
			return requeued, err
		}
		requeued++
		s.logger.WarnContext(ctx, "requeued job with expired lease",
			"job_id", id, "lease_expired_at", job.LeaseExpiresAt)
	}
	return requeued, nil
}

// deleteAgedJobs removes terminal jobs whose last update is older than
// maxAge. Lists are oldest first, so the scan stops at the first fresh job.
func (s *ReaperService) deleteAgedJobs(ctx context.Context, status model.JobStatus, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	ids, err := s.store.ListIDs(ctx, status, int64(s.config.BatchSize))
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	deleted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		job, err := s.store.GetJob(ctx, id)
		if apperrors.IsNotFound(err) {
			if err := s.store.RemoveFromList(ctx, status, id); err != nil {
				return deleted, err
			}
			continue
		}
		if err != nil {
			return deleted, err
		}
		if job.UpdatedAt.After(cutoff) {
			break
		}
		if err := s.store.DeleteJob(ctx, id); err != nil {
			return deleted, err
		}
		if err := s.store.RemoveFromList(ctx, status, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *ReaperService) pruneAudit(ctx context.Context) (int, error) {
	if s.audit == nil {
		return 0, nil
	}
	maxAge := s.config.CompletedMaxAge
	if s.config.FailedMaxAge > maxAge {
		maxAge = s.config.FailedMaxAge
	}
	if maxAge <= 0 {
		return 0, nil
	}
	return s.audit.DeleteOlderThan(ctx, maxAge, s.config.BatchSize)
}

func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *ReaperService) emitSweepMetrics(requeued, deleted, pruned int, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count("reaper.requeued", int64(requeued), nil)
	s.metrics.Count("reaper.deleted", int64(deleted), nil)
	s.metrics.Count("reaper.audit_pruned", int64(pruned), nil)
	s.metrics.Timing("reaper.sweep_duration", elapsed, nil)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func ignoreCancellation(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
