package fixworker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
)

func scanJob(t *testing.T, data model.ScanJobData) *model.Job {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	job := model.NewJob(model.JobTypeScanRepository, raw, "")
	job.Status = model.JobStatusInProgress
	return job
}

func TestScanPipelineRecordsFindings(t *testing.T) {
	requireGit(t)

	origin := initOriginRepo(t, map[string]string{
		"app.py":  "import os\n",
		"util.py": "import subprocess\n",
	})

	stubs := &runnerStubs{
		analyzer: &stubAnalyzer{report: core.ScanReport{
			Findings: []model.VulnerabilityData{
				{Title: "Command injection", FilePath: "util.py", StartLine: 1,
					Severity: "HIGH", Category: "INJECTION"},
			},
			Summary: "One injection issue found",
		}},
	}
	runner := newTestRunner(t, stubs)

	job := scanJob(t, model.ScanJobData{
		RepositoryURL: "file://" + origin,
		Branch:        "main",
	})
	runner.processJob(context.Background(), job)

	result, ok := stubs.jobs.completedResult(job.ID)
	require.True(t, ok, "job should complete, failed: %v", stubs.jobs.failed)
	scanResult, ok := result.(*model.ScanResult)
	require.True(t, ok)

	assert.Equal(t, 1, scanResult.FindingsCount)
	assert.Equal(t, "One injection issue found", scanResult.Summary)
	assert.NotEmpty(t, scanResult.CommitSha, "head sha resolved from the clone")

	// No PR context, so no check run.
	assert.Empty(t, stubs.deliverer.checkCreates)
}

func TestScanPipelineUpdatesCheckRun(t *testing.T) {
	requireGit(t)

	origin := initOriginRepo(t, map[string]string{"app.py": "import os\n"})

	stubs := &runnerStubs{
		analyzer: &stubAnalyzer{report: core.ScanReport{
			Findings: []model.VulnerabilityData{
				{Title: "Hardcoded secret", FilePath: "app.py", StartLine: 1,
					Severity: "MEDIUM", Category: "CONFIGURATION"},
			},
			Summary: "One issue",
		}},
	}
	runner := newTestRunner(t, stubs)

	job := scanJob(t, model.ScanJobData{
		RepositoryURL: "file://" + origin,
		Branch:        "main",
		CommitSha:     "abc123",
		PRNumber:      12,
	})
	runner.processJob(context.Background(), job)

	_, ok := stubs.jobs.completedResult(job.ID)
	require.True(t, ok, "job should complete, failed: %v", stubs.jobs.failed)

	require.Len(t, stubs.deliverer.checkCreates, 1)
	created := stubs.deliverer.checkCreates[0]
	assert.Equal(t, "Fortify Security Scan", created.Name)
	assert.Equal(t, "abc123", created.HeadSha)
	assert.Equal(t, "in_progress", created.Status)

	require.Len(t, stubs.deliverer.checkUpdates, 1)
	updated := stubs.deliverer.checkUpdates[0]
	assert.Equal(t, int64(42), updated.ID)
	assert.Equal(t, "completed", updated.Status)
	assert.Equal(t, "failure", updated.Conclusion)
	assert.Contains(t, updated.Summary, "Hardcoded secret")
}

func TestScanPipelineCleanCheckRunSucceeds(t *testing.T) {
	requireGit(t)

	origin := initOriginRepo(t, map[string]string{"app.py": "import os\n"})

	stubs := &runnerStubs{
		analyzer: &stubAnalyzer{report: core.ScanReport{Summary: "clean"}},
	}
	runner := newTestRunner(t, stubs)

	job := scanJob(t, model.ScanJobData{
		RepositoryURL: "file://" + origin,
		Branch:        "main",
		CommitSha:     "abc123",
		PRNumber:      3,
	})
	runner.processJob(context.Background(), job)

	require.Len(t, stubs.deliverer.checkUpdates, 1)
	assert.Equal(t, "success", stubs.deliverer.checkUpdates[0].Conclusion)
}

func TestScanPipelineAnalyzerFailureFailsJob(t *testing.T) {
	requireGit(t)

	origin := initOriginRepo(t, map[string]string{"app.py": "import os\n"})

	stubs := &runnerStubs{
		analyzer: &stubAnalyzer{err: errors.New("model unavailable")},
	}
	runner := newTestRunner(t, stubs)

	job := scanJob(t, model.ScanJobData{
		RepositoryURL: "file://" + origin,
		Branch:        "main",
		CommitSha:     "abc123",
		PRNumber:      3,
	})
	runner.processJob(context.Background(), job)

	msg, failed := stubs.jobs.failedMessage(job.ID)
	require.True(t, failed)
	assert.Contains(t, msg, "model unavailable")

	// The check run closes as failed even when the scan errors out.
	require.Len(t, stubs.deliverer.checkUpdates, 1)
	assert.Equal(t, "failure", stubs.deliverer.checkUpdates[0].Conclusion)
	assert.Contains(t, stubs.deliverer.checkUpdates[0].Summary, "Scan failed")
}

func TestRunDrainsQueueAndStopsOnCancel(t *testing.T) {
	requireGit(t)

	origin := initOriginRepo(t, map[string]string{"app.py": "import os\n"})

	jobs := newStubJobs(
		scanJob(t, model.ScanJobData{RepositoryURL: "file://" + origin, Branch: "main"}),
		scanJob(t, model.ScanJobData{RepositoryURL: "file://" + origin, Branch: "main"}),
	)
	stubs := &runnerStubs{jobs: jobs}
	runner := newTestRunner(t, stubs)
	runner.workers = 2

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return len(jobs.completed) == 2
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after context cancel")
	}
}

// gatedAnalyzer blocks inside the analysis stage until released, holding a
// job mid-pipeline.
type gatedAnalyzer struct {
	started chan struct{}
	release chan struct{}
	report  core.ScanReport
}

func (a *gatedAnalyzer) AnalyzeRepository(ctx context.Context, _ string) (*core.ScanReport, error) {
	close(a.started)
	select {
	case <-a.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := a.report
	return &out, nil
}

func TestShutdownFinishesInFlightJob(t *testing.T) {
	requireGit(t)

	origin := initOriginRepo(t, map[string]string{"app.py": "import os\n"})

	analyzer := &gatedAnalyzer{
		started: make(chan struct{}),
		release: make(chan struct{}),
		report:  core.ScanReport{Summary: "clean"},
	}
	job := scanJob(t, model.ScanJobData{RepositoryURL: "file://" + origin, Branch: "main"})
	stubs := &runnerStubs{jobs: newStubJobs(job)}
	runner := newTestRunner(t, stubs)
	runner.analyzer = analyzer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	// Cancel the run while the job is held in the analysis stage, then let
	// the stage finish.
	<-analyzer.started
	cancel()
	close(analyzer.release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not stop after context cancel")
	}

	_, completed := stubs.jobs.completedResult(job.ID)
	assert.True(t, completed, "in-flight job should run to completion, failed: %v", stubs.jobs.failed)
	msg, failed := stubs.jobs.failedMessage(job.ID)
	assert.False(t, failed, "job recorded FAILED: %s", msg)
}

func TestRunReportsClaimFailure(t *testing.T) {
	stubs := &runnerStubs{jobs: newStubJobs()}
	runner := newTestRunner(t, stubs)

	// A dead queue store surfaces as a runner error rather than a spin.
	broken := &brokenQueue{stubJobs: stubs.jobs}
	runner.jobs = broken

	err := runner.Run(context.Background())
	assert.ErrorContains(t, err, "claim job")
}

type brokenQueue struct {
	*stubJobs
}

func (b *brokenQueue) Claim(context.Context, time.Duration) (*model.Job, error) {
	return nil, errors.New("connection refused")
}
