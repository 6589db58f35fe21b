package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
	"github.com/fortify-rocks/fix-agent/internal/testutil"
)

func newTestJobService(t *testing.T, store *memQueueStore) *JobService {
	t.Helper()
	svc, err := NewJobService(JobServiceOptions{
		Store:   store,
		Lease:   10 * time.Minute,
		Cancels: NewCancellationRegistry(),
	})
	require.NoError(t, err)
	return svc
}

func TestNewJobServiceValidation(t *testing.T) {
	_, err := NewJobService(JobServiceOptions{Lease: time.Minute})
	assert.Error(t, err)

	_, err = NewJobService(JobServiceOptions{Store: newMemQueueStore()})
	assert.Error(t, err)
}

func TestEnqueueClaimComplete(t *testing.T) {
	store := newMemQueueStore()
	svc := newTestJobService(t, store)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, testutil.NewFixJobData().BuildRequest())
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)

	claimed, err := svc.Claim(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, model.JobStatusInProgress, claimed.Status)
	require.NotNil(t, claimed.StartedAt)
	require.NotNil(t, claimed.LeaseExpiresAt)

	result := model.FixResult{
		Success:       true,
		BranchName:    "fortify/fix/injection-query-js-abc12345",
		FilesModified: []string{"src/db/query.js"},
		FixApplied:    "parameterized query",
		Confidence:    0.9,
	}
	require.NoError(t, svc.Complete(ctx, job.ID, result))

	final, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, final.Status)
	require.NotNil(t, final.FinishedAt)
	assert.Nil(t, final.Error)
	assert.Nil(t, final.LeaseExpiresAt)

	var decoded model.FixResult
	require.NoError(t, json.Unmarshal(final.Result, &decoded))
	assert.Equal(t, result.BranchName, decoded.BranchName)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(0), stats.Processing)
}

func TestEnqueueRejectsInvalidRequest(t *testing.T) {
	svc := newTestJobService(t, newMemQueueStore())

	_, err := svc.Enqueue(context.Background(), &model.CreateJobRequest{
		Type:    model.JobTypeFixVulnerability,
		Payload: json.RawMessage(`{}`),
	})
	assert.True(t, apperrors.IsValidation(err))
}

func TestClaimEmptyQueue(t *testing.T) {
	svc := newTestJobService(t, newMemQueueStore())

	_, err := svc.Claim(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
}

func TestAtMostOneClaim(t *testing.T) {
	store := newMemQueueStore()
	svc := newTestJobService(t, store)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, testutil.NewFixJobData().BuildRequest())
	require.NoError(t, err)

	const claimants = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := svc.Claim(ctx, 100*time.Millisecond)
			if err == nil && claimed.ID == job.ID {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestClaimDropsOrphanedID(t *testing.T) {
	store := newMemQueueStore()
	svc := newTestJobService(t, store)
	ctx := context.Background()

	// A list entry with no backing record, as after data loss.
	require.NoError(t, store.PushToList(ctx, model.JobStatusPending, "ghost"))

	_, err := svc.Claim(ctx, 100*time.Millisecond)
	assert.ErrorIs(t, err, model.ErrNoJobsAvailable)

	ids, err := store.ListIDs(ctx, model.JobStatusInProgress, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFailRecordsError(t *testing.T) {
	store := newMemQueueStore()
	svc := newTestJobService(t, store)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, testutil.NewFixJobData().BuildRequest())
	require.NoError(t, err)
	_, err = svc.Claim(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, svc.Fail(ctx, job.ID, "clone timed out"))

	final, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, "clone timed out", *final.Error)
	assert.Nil(t, final.Result)
}

func TestTerminalGuard(t *testing.T) {
	store := newMemQueueStore()
	svc := newTestJobService(t, store)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, testutil.NewFixJobData().BuildRequest())
	require.NoError(t, err)
	_, err = svc.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, job.ID, model.FixResult{Success: true, FixApplied: "x"}))

	// A late duplicate fail call must not overwrite the terminal result.
	err = svc.Fail(ctx, job.ID, "late failure")
	assert.True(t, apperrors.IsConflict(err))

	final, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, final.Status)
	assert.Nil(t, final.Error)

	err = svc.Update(ctx, final)
	assert.True(t, apperrors.IsConflict(err))
}

func TestCancelPendingJob(t *testing.T) {
	store := newMemQueueStore()
	svc := newTestJobService(t, store)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, testutil.NewFixJobData().BuildRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, job.ID, ""))

	final, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, final.Status)
	require.NotNil(t, final.Error)
	assert.Equal(t, CancelledByUserReason, *final.Error)

	// The job never reaches a claimant.
	_, err = svc.Claim(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
}

func TestCancelPendingJobClearsRegistry(t *testing.T) {
	store := newMemQueueStore()
	registry := NewCancellationRegistry()
	svc, err := NewJobService(JobServiceOptions{
		Store:   store,
		Lease:   time.Minute,
		Cancels: registry,
	})
	require.NoError(t, err)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, testutil.NewFixJobData().BuildRequest())
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, job.ID, ""))

	// No worker ever claims the job, so nothing else clears the entry.
	assert.False(t, registry.Requested(job.ID))

	// A cancel that conflicts with an already terminal job leaves no entry
	// behind either.
	err = svc.Cancel(ctx, job.ID, "")
	assert.True(t, apperrors.IsConflict(err))
	assert.False(t, registry.Requested(job.ID))
}

func TestCancelInProgressJobFlagsRegistry(t *testing.T) {
	store := newMemQueueStore()
	registry := NewCancellationRegistry()
	svc, err := NewJobService(JobServiceOptions{
		Store:   store,
		Lease:   time.Minute,
		Cancels: registry,
	})
	require.NoError(t, err)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, testutil.NewFixJobData().BuildRequest())
	require.NoError(t, err)
	_, err = svc.Claim(ctx, time.Second)
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, job.ID, "cancelled by user"))
	assert.True(t, registry.Requested(job.ID))

	final, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, final.Status)

	ids, err := store.ListIDs(ctx, model.JobStatusInProgress, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	store := newMemQueueStore()
	svc := newTestJobService(t, store)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, testutil.NewFixJobData().BuildRequest())
	require.NoError(t, err)
	_, err = svc.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, job.ID, "boom"))

	err = svc.Cancel(ctx, job.ID, "")
	assert.True(t, apperrors.IsConflict(err))
}

func TestListByStatus(t *testing.T) {
	store := newMemQueueStore()
	svc := newTestJobService(t, store)
	ctx := context.Background()

	first, err := svc.Enqueue(ctx, testutil.ScanJobRequest("https://github.com/a/one.git"))
	require.NoError(t, err)
	second, err := svc.Enqueue(ctx, testutil.ScanJobRequest("https://github.com/a/two.git"))
	require.NoError(t, err)

	jobs, err := svc.ListByStatus(ctx, model.JobStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, second.ID, jobs[1].ID)

	// Swept records are skipped, not fatal.
	require.NoError(t, store.DeleteJob(ctx, first.ID))
	jobs, err = svc.ListByStatus(ctx, model.JobStatusPending, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, second.ID, jobs[0].ID)
}
