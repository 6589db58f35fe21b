package service

import "sync"

// CancellationRegistry records cancellation requests for in-flight jobs.
// It is an explicit object handed to the worker pipeline, scoped to the
// process, so cancellation state never lives in a package-level singleton.
// The worker polls it at pipeline checkpoints; there is no preemptive
// interruption of an in-flight external call.
type CancellationRegistry struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewCancellationRegistry creates an empty registry.
func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{ids: make(map[string]struct{})}
}

// Request marks a job id as cancellation-requested.
func (r *CancellationRegistry) Request(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = struct{}{}
}

// Requested reports whether cancellation was requested for the id.
func (r *CancellationRegistry) Requested(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

// Clear removes the id once the job has reached a terminal state.
func (r *CancellationRegistry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
}
