package job

import (
	"encoding/json"
	"fmt"
	"jobengine/internal/apperrors"
	"time"
)

// transitions lists the statuses reachable from each status.
// Terminal statuses have no outgoing edges.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusSuccess, StatusFailed, StatusCancelled},
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionToRunning moves a queued job to running and stamps started_at.
func (j *Job) TransitionToRunning(now time.Time) error {
	if j.Status != StatusQueued {
		return apperrors.Conflict("job", j.ID, fmt.Sprintf("cannot start job in status %s", j.Status))
	}
	j.Status = StatusRunning
	started := now.UTC()
	j.StartedAt = &started
	return nil
}

// TransitionToTerminal moves a job to a terminal status. finished_at is set
// once; runtime is derived when the job had started. exitCode and resultPath
// are recorded only when provided.
func (j *Job) TransitionToTerminal(now time.Time, status Status, exitCode *int, resultPath string) error {
	if !status.IsTerminal() {
		return apperrors.Validation("status", fmt.Sprintf("%s is not a terminal status", status))
	}
	if !j.Status.CanTransitionTo(status) {
		return apperrors.Conflict("job", j.ID, fmt.Sprintf("cannot move job from %s to %s", j.Status, status))
	}

	j.Status = status
	if j.FinishedAt == nil {
		finished := now.UTC()
		j.FinishedAt = &finished
	}
	if j.StartedAt != nil {
		runtime := j.FinishedAt.Sub(*j.StartedAt).Seconds()
		if runtime < 0 {
			runtime = 0
		}
		j.RuntimeSeconds = &runtime
	}
	if exitCode != nil {
		code := *exitCode
		j.ExitCode = &code
	}
	if resultPath != "" {
		j.ResultPath = resultPath
	}
	return nil
}

// Cancel moves a non-terminal job to cancelled. It reports false and leaves
// the job untouched when the job already finished.
func (j *Job) Cancel(now time.Time) bool {
	if j.Status.IsTerminal() {
		return false
	}
	return j.TransitionToTerminal(now, StatusCancelled, nil, "") == nil
}

// Clone returns a deep copy suitable for compare-and-set updates.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	if j.ExitCode != nil {
		v := *j.ExitCode
		c.ExitCode = &v
	}
	if j.RuntimeSeconds != nil {
		v := *j.RuntimeSeconds
		c.RuntimeSeconds = &v
	}
	if j.Metadata != nil {
		c.Metadata = make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	params := NewParams()
	j.Params.Each(func(key string, value json.RawMessage) {
		params.Set(key, append(json.RawMessage(nil), value...))
	})
	c.Params = params
	return &c
}
