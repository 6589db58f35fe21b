package metrics

import (
	"time"

	"github.com/fortify-rocks/fix-agent/internal/core"
	"github.com/fortify-rocks/fix-agent/internal/domain/model"
	"github.com/fortify-rocks/fix-agent/internal/observability/statsd"
)

// JobLifecycle emits job and webhook lifecycle metrics to a StatsD sink.
// A nil sink turns every emission into a no-op.
type JobLifecycle struct {
	sink statsd.Sink
}

var _ core.JobMetrics = (*JobLifecycle)(nil)

// NewJobLifecycle wraps the sink for lifecycle emission.
func NewJobLifecycle(sink statsd.Sink) *JobLifecycle {
	return &JobLifecycle{sink: sink}
}

// JobClaimed counts a claim transition.
func (m *JobLifecycle) JobClaimed(jobType model.JobType) {
	m.transition(jobType, "claimed", 0)
}

// JobCompleted counts a successful terminal transition with its duration.
func (m *JobLifecycle) JobCompleted(jobType model.JobType, duration time.Duration) {
	m.transition(jobType, "completed", duration)
}

// JobFailed counts a failed terminal transition with its duration.
func (m *JobLifecycle) JobFailed(jobType model.JobType, duration time.Duration) {
	m.transition(jobType, "failed", duration)
}

// JobCancelled counts a cancellation.
func (m *JobLifecycle) JobCancelled(jobType model.JobType) {
	m.transition(jobType, "cancelled", 0)
}

// WebhookReceived counts one inbound webhook delivery by event type.
func (m *JobLifecycle) WebhookReceived(eventType string) {
	if m == nil || m.sink == nil {
		return
	}
	m.sink.Count("webhook.received", 1, map[string]string{"event_type": eventType})
}

func (m *JobLifecycle) transition(jobType model.JobType, transition string, duration time.Duration) {
	if m == nil || m.sink == nil {
		return
	}
	tags := map[string]string{
		"job_type":   string(jobType),
		"transition": transition,
	}
	m.sink.Count("job.transition", 1, tags)
	if duration > 0 {
		m.sink.Timing("job.duration", duration, tags)
	}
}
