package fixworker

import (
	"context"
	"sync"
	"time"

	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// stubJobs is an in-memory core.JobQueue recording terminal transitions.
type stubJobs struct {
	mu        sync.Mutex
	queue     []*model.Job
	completed map[string]any
	failed    map[string]string
	cancelled map[string]string
}

func newStubJobs(jobs ...*model.Job) *stubJobs {
	return &stubJobs{
		queue:     jobs,
		completed: make(map[string]any),
		failed:    make(map[string]string),
		cancelled: make(map[string]string),
	}
}

func (s *stubJobs) Enqueue(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	job := model.NewJob(req.Type, req.Payload, req.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, job)
	return job, nil
}

func (s *stubJobs) Claim(ctx context.Context, timeout time.Duration) (*model.Job, error) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		job := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		job.Status = model.JobStatusInProgress
		return job, nil
	}
	s.mu.Unlock()

	wait := timeout
	if wait > 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, model.ErrNoJobsAvailable
	}
}

func (s *stubJobs) Update(context.Context, *model.Job) error { return nil }

func (s *stubJobs) Complete(_ context.Context, id string, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cancelled[id]; ok {
		return apperrors.Conflictf("job %s already terminal", id)
	}
	s.completed[id] = result
	return nil
}

func (s *stubJobs) Fail(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cancelled[id]; ok {
		return apperrors.Conflictf("job %s already terminal", id)
	}
	s.failed[id] = errMsg
	return nil
}

func (s *stubJobs) Cancel(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[id] = reason
	return nil
}

func (s *stubJobs) Get(_ context.Context, id string) (*model.Job, error) {
	return nil, apperrors.NotFoundf("job %s not found", id)
}

func (s *stubJobs) ListByStatus(context.Context, model.JobStatus, int64) ([]*model.Job, error) {
	return nil, nil
}

func (s *stubJobs) Stats(context.Context) (*model.QueueStats, error) {
	return &model.QueueStats{}, nil
}

func (s *stubJobs) completedResult(id string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.completed[id]
	return result, ok
}

func (s *stubJobs) failedMessage(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.failed[id]
	return msg, ok
}

var _ core.JobQueue = (*stubJobs)(nil)

// stubGenerator returns a canned suggestion and records invocation.
type stubGenerator struct {
	mu         sync.Mutex
	suggestion core.FixSuggestion
	err        error
	calls      int
}

func (g *stubGenerator) GenerateFix(_ context.Context, _ core.FixRequest) (*core.FixSuggestion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	out := g.suggestion
	return &out, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// stubAnalyzer returns a canned scan report.
type stubAnalyzer struct {
	report core.ScanReport
	err    error
}

func (a *stubAnalyzer) AnalyzeRepository(context.Context, string) (*core.ScanReport, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := a.report
	return &out, nil
}

// stubDeliverer records delivery calls. onPush runs while the workspace
// still exists, letting tests inspect the working tree at push time.
type stubDeliverer struct {
	mu           sync.Mutex
	pushes       []core.PushRequest
	prSpecs      []core.PullRequestSpec
	checkCreates []core.CheckRunSpec
	checkUpdates []core.CheckRunSpec
	pushErr      error
	prErr        error
	onPush       func(req core.PushRequest)
}

func (d *stubDeliverer) PushBranch(_ context.Context, req core.PushRequest) error {
	d.mu.Lock()
	d.pushes = append(d.pushes, req)
	onPush := d.onPush
	d.mu.Unlock()
	if onPush != nil {
		onPush(req)
	}
	return d.pushErr
}

func (d *stubDeliverer) CreatePullRequest(_ context.Context, spec core.PullRequestSpec) (*core.PullRequest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.prErr != nil {
		return nil, d.prErr
	}
	d.prSpecs = append(d.prSpecs, spec)
	return &core.PullRequest{Number: 7, HTMLURL: "https://github.com/acme/app/pull/7"}, nil
}

func (d *stubDeliverer) CreateCheckRun(_ context.Context, spec core.CheckRunSpec) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkCreates = append(d.checkCreates, spec)
	return 42, nil
}

func (d *stubDeliverer) UpdateCheckRun(_ context.Context, spec core.CheckRunSpec) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checkUpdates = append(d.checkUpdates, spec)
	return nil
}

var _ core.Deliverer = (*stubDeliverer)(nil)

// stubCreds resolves tokens from a fixed map; missing ids are not found.
type stubCreds struct {
	tokens map[string]string
}

func (c *stubCreds) TokenForJob(_ context.Context, jobID string) (string, error) {
	if token, ok := c.tokens[jobID]; ok {
		return token, nil
	}
	return "", apperrors.NotFoundf("no credential for job %s", jobID)
}

func (c *stubCreds) TokenForTenant(_ context.Context, tenantID string) (string, error) {
	if token, ok := c.tokens[tenantID]; ok {
		return token, nil
	}
	return "", apperrors.NotFoundf("no credential for tenant %s", tenantID)
}

var _ core.CredentialRepository = (*stubCreds)(nil)
