package orchestrator

import (
	"jobengine/internal/apperrors"
	"sync"
)

// activeRun holds the in-process state of a supervised job.
type activeRun struct {
	handle        Handle
	stopRequested bool
}

// activeRuns tracks jobs currently supervised by this process.
type activeRuns struct {
	mu   sync.RWMutex
	runs map[string]*activeRun
}

func newActiveRuns() *activeRuns {
	return &activeRuns{
		runs: make(map[string]*activeRun),
	}
}

// reserve claims the slot for jobID before its container exists.
// Returns a Conflict error if the job is already being supervised.
func (r *activeRuns) reserve(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[jobID]; exists {
		return apperrors.Conflict("job", jobID, "already executing")
	}
	r.runs[jobID] = &activeRun{}
	return nil
}

// commit attaches the launched container to a reserved slot.
// Reports whether a stop was requested while the slot had no container.
func (r *activeRuns) commit(jobID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, exists := r.runs[jobID]
	if !exists {
		return false
	}
	run.handle = h
	return run.stopRequested
}

// release frees the slot for jobID.
func (r *activeRuns) release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, jobID)
}

// requestStop marks jobID for stopping and returns its container handle, if
// one is attached yet. The second result is false when the job is not active.
func (r *activeRuns) requestStop(jobID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, exists := r.runs[jobID]
	if !exists {
		return nil, false
	}
	run.stopRequested = true
	return run.handle, true
}

// contains reports whether jobID is being supervised.
func (r *activeRuns) contains(jobID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.runs[jobID]
	return exists
}

// ids returns the supervised job IDs.
func (r *activeRuns) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}
