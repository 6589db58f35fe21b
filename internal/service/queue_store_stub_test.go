package service

import (
	"context"
	"sync"
	"time"

	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// memQueueStore is an in-memory core.QueueStore used by service tests. The
// mutex makes the pop-and-push in ClaimPending atomic, matching the
// guarantee the Redis implementation gets from BLMOVE.
type memQueueStore struct {
	mu    sync.Mutex
	jobs  map[string]*model.Job
	lists map[model.JobStatus][]string
}

func newMemQueueStore() *memQueueStore {
	return &memQueueStore{
		jobs:  make(map[string]*model.Job),
		lists: make(map[model.JobStatus][]string),
	}
}

func cloneJob(job *model.Job) *model.Job {
	c := *job
	return &c
}

func (s *memQueueStore) SaveJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *memQueueStore) SaveJobIfNotTerminal(_ context.Context, job *model.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job.ID]; ok && existing.Status.Terminal() {
		return false, nil
	}
	s.jobs[job.ID] = cloneJob(job)
	return true, nil
}

func (s *memQueueStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return cloneJob(job), nil
}

func (s *memQueueStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *memQueueStore) ClaimPending(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		pending := s.lists[model.JobStatusPending]
		if len(pending) > 0 {
			id := pending[0]
			s.lists[model.JobStatusPending] = pending[1:]
			s.lists[model.JobStatusInProgress] = append(s.lists[model.JobStatusInProgress], id)
			s.mu.Unlock()
			return id, nil
		}
		s.mu.Unlock()

		if time.Now().After(deadline) {
			return "", model.ErrNoJobsAvailable
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (s *memQueueStore) PushToList(_ context.Context, status model.JobStatus, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[status] = append(s.lists[status], id)
	return nil
}

func (s *memQueueStore) RemoveFromList(_ context.Context, status model.JobStatus, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[status]
	for i, v := range list {
		if v == id {
			s.lists[status] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memQueueStore) ListIDs(_ context.Context, status model.JobStatus, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[status]
	if limit > 0 && int64(len(list)) > limit {
		list = list[:limit]
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

func (s *memQueueStore) Counts(_ context.Context) (map[model.JobStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.JobStatus]int64)
	for _, status := range []model.JobStatus{
		model.JobStatusPending,
		model.JobStatusInProgress,
		model.JobStatusCompleted,
		model.JobStatusFailed,
		model.JobStatusCancelled,
	} {
		counts[status] = int64(len(s.lists[status]))
	}
	return counts, nil
}

func (s *memQueueStore) Health(context.Context) error { return nil }

var _ core.QueueStore = (*memQueueStore)(nil)
