package data

import (
	"fmt"
	"time"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
)

// Hash field names for the job record. Optional fields are simply absent
// from the hash when unset.
const (
	fieldType      = "type"
	fieldStatus    = "status"
	fieldPayload   = "payload"
	fieldResult    = "result"
	fieldError     = "error"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
	fieldStartedAt = "started_at"
	fieldFinished  = "finished_at"
	fieldLease     = "lease_expires_at"
)

func marshalJobFields(job *model.Job) (map[string]string, error) {
	if !job.Status.Valid() {
		return nil, fmt.Errorf("invalid job status %q", job.Status)
	}
	fields := map[string]string{
		fieldType:      string(job.Type),
		fieldStatus:    string(job.Status),
		fieldPayload:   string(job.Payload),
		fieldCreatedAt: job.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldUpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(job.Result) > 0 {
		fields[fieldResult] = string(job.Result)
	}
	if job.Error != nil {
		fields[fieldError] = *job.Error
	}
	if job.StartedAt != nil {
		fields[fieldStartedAt] = job.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if job.FinishedAt != nil {
		fields[fieldFinished] = job.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	if job.LeaseExpiresAt != nil {
		fields[fieldLease] = job.LeaseExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return fields, nil
}

func unmarshalJobFields(id string, fields map[string]string) (*model.Job, error) {
	job := &model.Job{
		ID:      id,
		Type:    model.JobType(fields[fieldType]),
		Status:  model.JobStatus(fields[fieldStatus]),
		Payload: []byte(fields[fieldPayload]),
	}
	if !job.Status.Valid() {
		return nil, fmt.Errorf("job %s has invalid status %q", id, fields[fieldStatus])
	}

	var err error
	if job.CreatedAt, err = parseTime(fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("job %s created_at: %w", id, err)
	}
	if job.UpdatedAt, err = parseTime(fields[fieldUpdatedAt]); err != nil {
		return nil, fmt.Errorf("job %s updated_at: %w", id, err)
	}

	if v, ok := fields[fieldResult]; ok && v != "" {
		job.Result = []byte(v)
	}
	if v, ok := fields[fieldError]; ok {
		job.Error = &v
	}
	if job.StartedAt, err = parseOptionalTime(fields[fieldStartedAt]); err != nil {
		return nil, fmt.Errorf("job %s started_at: %w", id, err)
	}
	if job.FinishedAt, err = parseOptionalTime(fields[fieldFinished]); err != nil {
		return nil, fmt.Errorf("job %s finished_at: %w", id, err)
	}
	if job.LeaseExpiresAt, err = parseOptionalTime(fields[fieldLease]); err != nil {
		return nil, fmt.Errorf("job %s lease_expires_at: %w", id, err)
	}
	return job, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func parseOptionalTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
