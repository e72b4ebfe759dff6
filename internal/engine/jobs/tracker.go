package jobs

import (
	"encoding/json"
	"strings"

	"stockr/internal/platform/models"
)

// LiveSource reports the real-time state of jobs running in this process.
type LiveSource interface {
	LiveState(jobID string) (string, bool)
}

type JobStore interface {
	Get(id string) (*models.Job, error)
}

// Tracker resolves the state of a background job for the status endpoint.
// The live runner record is consulted first; the persisted row is the
// fallback and the source of results and error messages.
type Tracker struct {
	live  LiveSource
	store JobStore
}

func NewTracker(live LiveSource, store JobStore) *Tracker {
	return &Tracker{live: live, store: store}
}

type Status struct {
	TaskID string          `json:"task_id"`
	State  string          `json:"state"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (t *Tracker) Status(jobID string) (*Status, error) {
	job, err := t.store.Get(jobID)
	if err != nil {
		return nil, err
	}

	state := job.State
	if !job.Terminal() && t.live != nil {
		// The runner updates its live map before the row is written, so the
		// live state can be ahead of the persisted one mid-transition.
		if liveState, ok := t.live.LiveState(jobID); ok {
			state = liveState
		}
	}

	status := &Status{TaskID: job.ID, State: state}
	switch state {
	case models.JobStateSuccess:
		status.Result = job.Result
	case models.JobStateFailure:
		status.Error = failureMessage(job)
	}
	return status, nil
}

// failureMessage derives a human-readable error for a failed job: the
// structured error field first, then the last meaningful line of a stored
// panic trace, then a generic message.
func failureMessage(job *models.Job) string {
	if job.Error != "" {
		return job.Error
	}
	if msg := lastTraceLine(job.Trace); msg != "" {
		return msg
	}
	return "Job failed with an unknown error"
}

// lastTraceLine scans a recorded trace from the end, skipping goroutine
// headers, stack frames and file/line markers.
func lastTraceLine(trace string) string {
	lines := strings.Split(trace, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(line, "\t") ||
			strings.HasPrefix(trimmed, "goroutine ") ||
			strings.HasPrefix(trimmed, "created by ") ||
			strings.Contains(trimmed, ".go:") ||
			(strings.Contains(trimmed, "(") && strings.HasSuffix(trimmed, ")")) {
			continue
		}
		return trimmed
	}
	return ""
}
