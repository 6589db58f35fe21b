package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	"github.com/fortify-rocks/fix-agent/internal/testutil"
)

func TestJobFieldsRoundTrip(t *testing.T) {
	started := time.Date(2026, 8, 30, 10, 0, 0, 123456789, time.UTC)
	finished := started.Add(90 * time.Second)
	job := &model.Job{
		ID:         "job-1",
		Type:       model.JobTypeFixVulnerability,
		Status:     model.JobStatusFailed,
		Payload:    []byte(`{"repositoryUrl":"https://github.com/a/b.git"}`),
		Error:      testutil.StringPtr("clone timed out"),
		CreatedAt:  started.Add(-time.Minute),
		UpdatedAt:  finished,
		StartedAt:  &started,
		FinishedAt: &finished,
	}

	fields, err := marshalJobFields(job)
	require.NoError(t, err)
	assert.NotContains(t, fields, fieldResult)
	assert.NotContains(t, fields, fieldLease)

	decoded, err := unmarshalJobFields("job-1", fields)
	require.NoError(t, err)
	assert.Equal(t, job.Status, decoded.Status)
	assert.Equal(t, job.Payload, decoded.Payload)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, "clone timed out", *decoded.Error)
	require.NotNil(t, decoded.StartedAt)
	assert.True(t, decoded.StartedAt.Equal(started))
	require.NotNil(t, decoded.FinishedAt)
	assert.True(t, decoded.FinishedAt.Equal(finished))
	assert.Nil(t, decoded.Result)
	assert.Nil(t, decoded.LeaseExpiresAt)
}

func TestMarshalJobFieldsInvalidStatus(t *testing.T) {
	job := &model.Job{ID: "x", Status: "bogus"}
	_, err := marshalJobFields(job)
	assert.Error(t, err)
}

func TestUnmarshalJobFieldsInvalidStatus(t *testing.T) {
	_, err := unmarshalJobFields("x", map[string]string{fieldStatus: "NOPE"})
	assert.Error(t, err)
}

func TestUnmarshalJobFieldsBadTimestamp(t *testing.T) {
	_, err := unmarshalJobFields("x", map[string]string{
		fieldStatus:    string(model.JobStatusPending),
		fieldCreatedAt: "yesterday",
	})
	assert.Error(t, err)
}
