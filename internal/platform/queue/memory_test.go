package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"stockr/internal/platform/models"
	"stockr/internal/platform/repositories"
)

func setupRunner(t *testing.T) (*Runner, *repositories.JobRepository) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every new pool connection to :memory: is a fresh empty database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'PENDING',
			result TEXT,
			error TEXT,
			trace TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	jobs := repositories.NewJobRepository(db)
	return NewRunner(jobs), jobs
}

func TestMemoryQueueRunsJobToSuccess(t *testing.T) {
	runner, jobs := setupRunner(t)
	q := NewMemoryQueue(runner)

	runner.Register("echo", func(ctx context.Context, jobID string, args json.RawMessage) (interface{}, error) {
		var payload map[string]string
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	})

	jobID, err := q.Enqueue(context.Background(), "echo", map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	q.Wait()

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if job.State != models.JobStateSuccess {
		t.Errorf("state = %q, want SUCCESS", job.State)
	}
	if string(job.Result) != `{"hello":"world"}` {
		t.Errorf("result = %s", job.Result)
	}

	if state, ok := runner.LiveState(jobID); !ok || state != models.JobStateSuccess {
		t.Errorf("LiveState() = %q, %v", state, ok)
	}
}

func TestMemoryQueueHandlerError(t *testing.T) {
	runner, jobs := setupRunner(t)
	q := NewMemoryQueue(runner)

	runner.Register("failing", func(ctx context.Context, jobID string, args json.RawMessage) (interface{}, error) {
		return nil, errors.New("sku lookup failed: disk I/O error")
	})

	jobID, err := q.Enqueue(context.Background(), "failing", nil)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	q.Wait()

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if job.State != models.JobStateFailure {
		t.Errorf("state = %q, want FAILURE", job.State)
	}
	if job.Error != "sku lookup failed: disk I/O error" {
		t.Errorf("error = %q", job.Error)
	}
}

func TestMemoryQueuePanicIsRecorded(t *testing.T) {
	runner, jobs := setupRunner(t)
	q := NewMemoryQueue(runner)

	runner.Register("panicking", func(ctx context.Context, jobID string, args json.RawMessage) (interface{}, error) {
		panic("boom")
	})

	jobID, err := q.Enqueue(context.Background(), "panicking", nil)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	q.Wait()

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if job.State != models.JobStateFailure {
		t.Errorf("state = %q, want FAILURE", job.State)
	}
	if job.Trace == "" {
		t.Fatal("panic must record a trace")
	}
	if got := job.Trace[:11]; got != "panic: boom" {
		t.Errorf("trace starts with %q", got)
	}
}

func TestMemoryQueueUnknownKind(t *testing.T) {
	runner, jobs := setupRunner(t)
	q := NewMemoryQueue(runner)

	jobID, err := q.Enqueue(context.Background(), "unregistered", nil)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	q.Wait()

	job, err := jobs.Get(jobID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if job.State != models.JobStateFailure {
		t.Errorf("state = %q, want FAILURE", job.State)
	}
	if job.Error != "no handler registered for kind 'unregistered'" {
		t.Errorf("error = %q", job.Error)
	}
}
