package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortify-rocks/fix-agent/internal/bootstrap"
	"github.com/fortify-rocks/fix-agent/internal/data"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	"github.com/fortify-rocks/fix-agent/internal/service"
)

const commandTimeout = 2 * time.Minute

type queueDeps struct {
	db    *sql.DB
	redis redis.UniversalClient
	jobs  *service.JobService
}

func (d *queueDeps) Close(cmdCtx *commandContext) {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			cmdCtx.Logger.Warn("db close failed", "error", err)
		}
	}
}

// openQueueDeps connects the queue store and its relational mirror and
// wires a job service over them.
func openQueueDeps(cmdCtx *commandContext) (*queueDeps, error) {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close db: %w", closeErr))
		}
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	store := data.NewRedisQueueStore(redisClient, cmdCtx.Config.Queue.Namespace)
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Store:  store,
		Lease:  cmdCtx.Config.Queue.Lease,
		Audit:  data.NewJobAuditRepo(db),
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		deps := &queueDeps{db: db, redis: redisClient}
		deps.Close(cmdCtx)
		return nil, fmt.Errorf("wire job service: %w", err)
	}

	return &queueDeps{db: db, redis: redisClient, jobs: jobs}, nil
}

func runQueueStats(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	deps, err := openQueueDeps(cmdCtx)
	if err != nil {
		return err
	}
	defer deps.Close(cmdCtx)

	stats, err := deps.jobs.Stats(ctx)
	if err != nil {
		return fmt.Errorf("queue stats: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	fmt.Fprintf(w, "pending\t%d\n", stats.Pending)
	fmt.Fprintf(w, "processing\t%d\n", stats.Processing)
	fmt.Fprintf(w, "completed\t%d\n", stats.Completed)
	fmt.Fprintf(w, "failed\t%d\n", stats.Failed)
	fmt.Fprintf(w, "cancelled\t%d\n", stats.Cancelled)
	fmt.Fprintf(w, "total\t%d\n", stats.Total())
	return w.Flush()
}

type listJobsOptions struct {
	Status string
	Limit  int
}

func parseListJobsFlags(args []string) (listJobsOptions, error) {
	fs := flag.NewFlagSet("list-jobs", flag.ContinueOnError)
	opts := listJobsOptions{}
	fs.StringVar(&opts.Status, "status", "PENDING", "job status to list (PENDING, IN_PROGRESS, COMPLETED, FAILED, CANCELLED)")
	fs.IntVar(&opts.Limit, "limit", 50, "maximum number of jobs to show")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if !model.JobStatus(opts.Status).Valid() {
		return opts, fmt.Errorf("invalid status %q", opts.Status)
	}
	return opts, nil
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	opts, err := parseListJobsFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	deps, err := openQueueDeps(cmdCtx)
	if err != nil {
		return err
	}
	defer deps.Close(cmdCtx)

	jobs, err := deps.jobs.ListByStatus(ctx, model.JobStatus(opts.Status), int64(opts.Limit))
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tCREATED\tERROR")
	for _, job := range jobs {
		errMsg := ""
		if job.Error != nil {
			errMsg = *job.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Type, job.Status, job.CreatedAt.Format(time.RFC3339), errMsg)
	}
	return w.Flush()
}

type enqueueScanOptions struct {
	RepositoryURL string
	Branch        string
	CommitSha     string
}

func parseEnqueueScanFlags(args []string) (enqueueScanOptions, error) {
	fs := flag.NewFlagSet("enqueue-scan", flag.ContinueOnError)
	opts := enqueueScanOptions{}
	fs.StringVar(&opts.RepositoryURL, "repo", "", "repository clone URL (required)")
	fs.StringVar(&opts.Branch, "branch", "main", "branch to scan")
	fs.StringVar(&opts.CommitSha, "commit", "", "commit to report against (optional)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.RepositoryURL == "" {
		return opts, errors.New("-repo is required")
	}
	return opts, nil
}

func runEnqueueScan(cmdCtx *commandContext, args []string) error {
	opts, err := parseEnqueueScanFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	deps, err := openQueueDeps(cmdCtx)
	if err != nil {
		return err
	}
	defer deps.Close(cmdCtx)

	payload, err := json.Marshal(model.ScanJobData{
		RepositoryURL: opts.RepositoryURL,
		Branch:        opts.Branch,
		CommitSha:     opts.CommitSha,
		Trigger:       &model.TriggerInfo{Source: "admin"},
	})
	if err != nil {
		return fmt.Errorf("marshal scan payload: %w", err)
	}

	job, err := deps.jobs.Enqueue(ctx, &model.CreateJobRequest{
		Type:    model.JobTypeScanRepository,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue scan: %w", err)
	}

	return writef(os.Stdout, "enqueued %s scan job %s\n", opts.RepositoryURL, job.ID)
}

type cancelJobOptions struct {
	JobID  string
	Reason string
}

func parseCancelJobFlags(args []string) (cancelJobOptions, error) {
	fs := flag.NewFlagSet("cancel-job", flag.ContinueOnError)
	opts := cancelJobOptions{}
	fs.StringVar(&opts.JobID, "id", "", "job id to cancel (required)")
	fs.StringVar(&opts.Reason, "reason", "cancelled by operator", "reason recorded on the job")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.JobID == "" {
		return opts, errors.New("-id is required")
	}
	return opts, nil
}

func runCancelJob(cmdCtx *commandContext, args []string) error {
	opts, err := parseCancelJobFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	deps, err := openQueueDeps(cmdCtx)
	if err != nil {
		return err
	}
	defer deps.Close(cmdCtx)

	if err := deps.jobs.Cancel(ctx, opts.JobID, opts.Reason); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}

	return writef(os.Stdout, "cancelled job %s\n", opts.JobID)
}
