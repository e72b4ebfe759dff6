package models

import "encoding/json"

const (
	JobStatePending = "PENDING"
	JobStateStarted = "STARTED"
	JobStateSuccess = "SUCCESS"
	JobStateFailure = "FAILURE"
)

// Job is the persisted record of one background task. Terminal rows
// (SUCCESS, FAILURE) are never mutated again.
type Job struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	State     string          `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Trace     string          `json:"trace,omitempty"`
	CreatedAt int64           `json:"created_at"`
	UpdatedAt int64           `json:"updated_at"`
}

func (j *Job) Terminal() bool {
	return j.State == JobStateSuccess || j.State == JobStateFailure
}
