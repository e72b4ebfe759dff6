package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	apperrors "stockr/internal/pkg/errors"
	"stockr/internal/platform/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(job *models.Job) error {
	job.State = models.JobStatePending
	job.CreatedAt = time.Now().Unix()
	job.UpdatedAt = job.CreatedAt

	query := `
		INSERT INTO jobs (id, kind, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, job.ID, job.Kind, job.State, job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *JobRepository) Get(id string) (*models.Job, error) {
	query := `SELECT id, kind, state, result, error, trace, created_at, updated_at FROM jobs WHERE id = ?`
	row := r.db.QueryRow(query, id)

	var j models.Job
	var result, errMsg, trace sql.NullString
	err := row.Scan(&j.ID, &j.Kind, &j.State, &result, &errMsg, &trace, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("job", id)
	}
	if err != nil {
		return nil, err
	}

	if result.Valid && result.String != "" {
		j.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		j.Error = errMsg.String
	}
	if trace.Valid {
		j.Trace = trace.String
	}
	return &j, nil
}

func (r *JobRepository) MarkStarted(id string) error {
	return r.transition(id, models.JobStateStarted,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ? AND state NOT IN ('SUCCESS', 'FAILURE')`)
}

func (r *JobRepository) MarkSuccess(id string, result interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(
		`UPDATE jobs SET state = 'SUCCESS', result = ?, updated_at = ? WHERE id = ? AND state NOT IN ('SUCCESS', 'FAILURE')`,
		string(resultJSON), time.Now().Unix(), id)
	return err
}

// MarkFailure records the terminal failure with the operator-facing message
// and an optional trace. Terminal rows are never overwritten, which keeps
// at-least-once redeliveries from clobbering the first outcome.
func (r *JobRepository) MarkFailure(id, errMsg, trace string) error {
	_, err := r.db.Exec(
		`UPDATE jobs SET state = 'FAILURE', error = ?, trace = ?, updated_at = ? WHERE id = ? AND state NOT IN ('SUCCESS', 'FAILURE')`,
		errMsg, trace, time.Now().Unix(), id)
	return err
}

func (r *JobRepository) transition(id, state, query string) error {
	_, err := r.db.Exec(query, state, time.Now().Unix(), id)
	return err
}
