// Package fixworker runs the worker side of the queue: claim loops that
// pull jobs and drive the fix and scan pipelines to a terminal state.
package fixworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fortify-rocks/fix-agent/config"
	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
	"github.com/fortify-rocks/fix-agent/internal/service"
)

// claimWait bounds a single blocking claim so workers re-check the stop
// signal at least this often.
const claimWait = 5 * time.Second

// errCancelled aborts a pipeline whose job was cancelled at a checkpoint.
// The cancel path has already written the terminal state.
var errCancelled = errors.New("job cancelled")

// HandlerFunc executes one job and returns the result to record on
// completion.
type HandlerFunc func(ctx context.Context, job *model.Job) (any, error)

// RunnerOptions configures the worker runner.
type RunnerOptions struct {
	Jobs        core.JobQueue                 // Required: queue lifecycle
	Generator   core.FixGenerator             // Required: fix collaborator
	Analyzer    core.ScanAnalyzer             // Required: scan collaborator
	Deliverer   core.Deliverer                // Required: GitHub delivery
	Credentials core.CredentialRepository     // Optional: per-tenant tokens
	Cancels     *service.CancellationRegistry // Optional: cancellation checkpoints
	Worker      config.WorkerConfig
	GitHub      config.GitHubConfig // FallbackToken source
	Logger      *slog.Logger
}

// Runner claims jobs and executes the pipeline for their type.
type Runner struct {
	jobs          core.JobQueue
	generator     core.FixGenerator
	analyzer      core.ScanAnalyzer
	deliverer     core.Deliverer
	credentials   core.CredentialRepository
	cancels       *service.CancellationRegistry
	fallbackToken string
	cloneTimeout  time.Duration
	jobTimeout    time.Duration
	branchPrefix  string
	workspace     string
	workers       int
	logger        *slog.Logger
	handlers      map[model.JobType]HandlerFunc
}

// NewRunner validates options and constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobQueue is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("FixGenerator is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("ScanAnalyzer is required")
	}
	if opts.Deliverer == nil {
		return nil, errors.New("Deliverer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	worker := opts.Worker
	worker.Sanitize()

	r := &Runner{
		jobs:          opts.Jobs,
		generator:     opts.Generator,
		analyzer:      opts.Analyzer,
		deliverer:     opts.Deliverer,
		credentials:   opts.Credentials,
		cancels:       opts.Cancels,
		fallbackToken: opts.GitHub.Token,
		cloneTimeout:  worker.CloneTimeout,
		jobTimeout:    worker.JobTimeout,
		branchPrefix:  worker.BranchPrefix,
		workspace:     worker.Workspace,
		workers:       worker.Concurrency,
		logger:        logger.With("component", "fix_worker"),
		handlers:      make(map[model.JobType]HandlerFunc),
	}
	r.handlers[model.JobTypeFixVulnerability] = r.handleFixJob
	r.handlers[model.JobTypeScanRepository] = r.handleScanJob
	return r, nil
}

// MustNewRunner constructs a Runner and panics on error.
func MustNewRunner(opts RunnerOptions) *Runner {
	r, err := NewRunner(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create fix worker runner: %v", err))
	}
	return r
}

// Run starts the worker goroutines and blocks until the context is
// cancelled. A cancelled context stops claiming; a job already claimed
// runs its pipeline to a checkpoint or to completion.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting fix worker", "workers", r.workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for i := range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, i); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, worker int) error {
	logger := r.logger.With("worker", worker)
	for ctx.Err() == nil {
		job, err := r.jobs.Claim(ctx, claimWait)
		switch {
		case err == nil:
			r.processJob(ctx, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			// Blocking claim expired empty; loop re-checks the stop signal.
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("claim job: %w", err)
		}
	}
	logger.InfoContext(ctx, "worker stopping")
	return nil
}

// processJob drives one claimed job to a terminal state. The pipeline and
// its terminal writes run detached from the claim loop's context so a
// shutdown cannot abort a job mid-stage; the job timeout bounds the
// detached run.
func (r *Runner) processJob(loopCtx context.Context, job *model.Job) {
	logger := r.logger.With("job_id", job.ID, "type", job.Type)
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(loopCtx), r.jobTimeout)
	defer cancel()

	h, ok := r.handlers[job.Type]
	if !ok {
		r.fail(ctx, job.ID, fmt.Sprintf("no handler for job type %s", job.Type))
		return
	}

	result, err := h(ctx, job)
	switch {
	case errors.Is(err, errCancelled):
		logger.InfoContext(ctx, "job cancelled mid-pipeline", "elapsed", time.Since(start))
	case err != nil:
		logger.ErrorContext(ctx, "job failed", "error", err, "elapsed", time.Since(start))
		r.fail(ctx, job.ID, err.Error())
	default:
		if err := r.jobs.Complete(ctx, job.ID, result); err != nil {
			if apperrors.IsConflict(err) {
				logger.InfoContext(ctx, "job finished elsewhere before completion", "error", err)
				return
			}
			logger.ErrorContext(ctx, "complete job error", "error", err)
			return
		}
		logger.InfoContext(ctx, "job completed", "elapsed", time.Since(start))
	}
}

// fail records a failure; a conflict means the job reached a terminal
// state through another path, usually a cancel, and is not an error here.
func (r *Runner) fail(ctx context.Context, id, msg string) {
	if err := r.jobs.Fail(ctx, id, msg); err != nil && !apperrors.IsConflict(err) {
		r.logger.ErrorContext(ctx, "fail job error", "job_id", id, "error", err)
	}
}

// checkpoint aborts the pipeline when cancellation was requested for the
// job. The cancel request has normally already written the terminal state;
// Cancel is retried here so a half-applied cancel still lands, with the
// conflict from an already-cancelled job ignored.
func (r *Runner) checkpoint(ctx context.Context, id string) error {
	if r.cancels == nil || !r.cancels.Requested(id) {
		return nil
	}
	if err := r.jobs.Cancel(ctx, id, service.CancelledByUserReason); err != nil && !apperrors.IsConflict(err) {
		r.logger.ErrorContext(ctx, "cancel job error", "job_id", id, "error", err)
	}
	r.cancels.Clear(id)
	return errCancelled
}

// tokenFor resolves the GitHub token for a job, preferring the tenant
// credential and falling back to the service-wide token. No token is a
// non-retryable failure for the job.
func (r *Runner) tokenFor(ctx context.Context, jobID string) (string, error) {
	if r.credentials != nil {
		token, err := r.credentials.TokenForJob(ctx, jobID)
		if err == nil && token != "" {
			return token, nil
		}
		if err != nil && !apperrors.IsNotFound(err) {
			return "", fmt.Errorf("resolve credential: %w", err)
		}
	}
	if r.fallbackToken != "" {
		return r.fallbackToken, nil
	}
	return "", apperrors.Unauthorized("no GitHub access token available for job")
}
