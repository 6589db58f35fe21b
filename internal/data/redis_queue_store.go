package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	apperrors "github.com/fortify-rocks/fix-agent/internal/errors"
)

// casRetries bounds optimistic retries of the terminal-guard transaction
// when a concurrent writer touches the same job key.
const casRetries = 3

// RedisQueueStore implements the core.QueueStore interface using Redis.
//
// Layout under the configured namespace:
//   - {ns}:data:{id}    hash holding the job record
//   - {ns}:pending      list of ids awaiting a claim
//   - {ns}:processing   list of ids held by a worker
//   - {ns}:completed, {ns}:failed, {ns}:cancelled
//     terminal lists retained for the retention sweep
//
// Claiming is a single BLMOVE from pending to processing, so at most one
// caller ever receives a given id.
type RedisQueueStore struct {
	client redis.UniversalClient
	ns     string
}

// NewRedisQueueStore creates a new RedisQueueStore with the given Redis
// client and key namespace.
func NewRedisQueueStore(client redis.UniversalClient, namespace string) *RedisQueueStore {
	if namespace == "" {
		namespace = "fix_jobs"
	}
	return &RedisQueueStore{client: client, ns: namespace}
}

func (s *RedisQueueStore) jobKey(id string) string {
	return s.ns + ":data:" + id
}

func (s *RedisQueueStore) listKey(status model.JobStatus) (string, error) {
	switch status {
	case model.JobStatusPending:
		return s.ns + ":pending", nil
	case model.JobStatusInProgress:
		return s.ns + ":processing", nil
	case model.JobStatusCompleted:
		return s.ns + ":completed", nil
	case model.JobStatusFailed:
		return s.ns + ":failed", nil
	case model.JobStatusCancelled:
		return s.ns + ":cancelled", nil
	default:
		return "", fmt.Errorf("no list for status %q", status)
	}
}

// SaveJob persists the job record unconditionally.
func (s *RedisQueueStore) SaveJob(ctx context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id cannot be empty")
	}
	fields, err := marshalJobFields(job)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.jobKey(job.ID))
		pipe.HSet(ctx, s.jobKey(job.ID), fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save job %s: %w", job.ID, err)
	}
	return nil
}

// SaveJobIfNotTerminal persists the job only when the stored record is
// absent or non-terminal. The check and write run under WATCH so a
// concurrent terminal transition cannot be overwritten.
func (s *RedisQueueStore) SaveJobIfNotTerminal(ctx context.Context, job *model.Job) (bool, error) {
	if job == nil || job.ID == "" {
		return false, errors.New("job id cannot be empty")
	}
	fields, err := marshalJobFields(job)
	if err != nil {
		return false, err
	}

	key := s.jobKey(job.ID)
	refused := errors.New("terminal")

	txn := func(tx *redis.Tx) error {
		status, err := tx.HGet(ctx, key, "status").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && model.JobStatus(status).Terminal() {
			return refused
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
			return nil
		})
		return err
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, refused):
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return false, fmt.Errorf("redis guarded save job %s: %w", job.ID, err)
		}
	}
	return false, fmt.Errorf("redis guarded save job %s: too much contention", job.ID)
}

// GetJob loads a job record by id.
func (s *RedisQueueStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, errors.New("job id cannot be empty")
	}
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return unmarshalJobFields(id, fields)
}

// DeleteJob removes the job record.
func (s *RedisQueueStore) DeleteJob(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("job id cannot be empty")
	}
	if err := s.client.Del(ctx, s.jobKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete job %s: %w", id, err)
	}
	return nil
}

// ClaimPending atomically moves one id from pending to processing, blocking
// up to timeout. The store-level atomicity of BLMOVE is what guarantees
// at-most-one concurrent claimant per job id.
func (s *RedisQueueStore) ClaimPending(ctx context.Context, timeout time.Duration) (string, error) {
	pending, _ := s.listKey(model.JobStatusPending)
	processing, _ := s.listKey(model.JobStatusInProgress)

	id, err := s.client.BLMove(ctx, pending, processing, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", model.ErrNoJobsAvailable
		}
		return "", fmt.Errorf("redis claim: %w", err)
	}
	return id, nil
}

// PushToList appends the id to the list owned by status.
func (s *RedisQueueStore) PushToList(ctx context.Context, status model.JobStatus, id string) error {
	key, err := s.listKey(status)
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, key, id).Err(); err != nil {
		return fmt.Errorf("redis push %s to %s: %w", id, key, err)
	}
	return nil
}

// RemoveFromList removes the id from the list owned by status. Removing an
// absent id is a no-op.
func (s *RedisQueueStore) RemoveFromList(ctx context.Context, status model.JobStatus, id string) error {
	key, err := s.listKey(status)
	if err != nil {
		return err
	}
	if err := s.client.LRem(ctx, key, 1, id).Err(); err != nil {
		return fmt.Errorf("redis remove %s from %s: %w", id, key, err)
	}
	return nil
}

// ListIDs returns up to limit ids from the list owned by status, oldest
// first. A non-positive limit returns the whole list.
func (s *RedisQueueStore) ListIDs(ctx context.Context, status model.JobStatus, limit int64) ([]string, error) {
	key, err := s.listKey(status)
	if err != nil {
		return nil, err
	}

	// Ids are LPUSHed, so the oldest entries sit at the tail.
	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	ids, err := s.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range %s: %w", key, err)
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, nil
}

// Counts returns the length of every status list.
func (s *RedisQueueStore) Counts(ctx context.Context) (map[model.JobStatus]int64, error) {
	statuses := []model.JobStatus{
		model.JobStatusPending,
		model.JobStatusInProgress,
		model.JobStatusCompleted,
		model.JobStatusFailed,
		model.JobStatusCancelled,
	}

	cmds := make([]*redis.IntCmd, len(statuses))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, status := range statuses {
			key, _ := s.listKey(status)
			cmds[i] = pipe.LLen(ctx, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis counts: %w", err)
	}

	counts := make(map[model.JobStatus]int64, len(statuses))
	for i, status := range statuses {
		counts[status] = cmds[i].Val()
	}
	return counts, nil
}

// Health checks the health of the Redis connection.
func (s *RedisQueueStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
