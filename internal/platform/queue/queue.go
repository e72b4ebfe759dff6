package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "stockr/internal/pkg/errors"
	"stockr/internal/pkg/metrics"
	"stockr/internal/platform/models"
	"stockr/internal/platform/repositories"
)

// Job kinds and their argument shapes. Everything crossing the broker is
// JSON so either queue implementation can carry it.
const (
	KindImportCSV      = "import.csv"
	KindWebhookDeliver = "webhook.deliver"
	KindBulkDelete     = "products.bulk_delete"
	KindDeleteAll      = "products.delete_all"
)

type ImportArgs struct {
	FilePath string `json:"file_path"`
}

type WebhookDeliverArgs struct {
	WebhookID string                 `json:"webhook_id"`
	Event     string                 `json:"event"`
	Payload   map[string]interface{} `json:"payload"`
}

type BulkDeleteArgs struct {
	IDs []string `json:"ids"`
}

// Message is the wire format of one enqueued job.
type Message struct {
	JobID string          `json:"job_id"`
	Kind  string          `json:"kind"`
	Args  json.RawMessage `json:"args"`
}

// Enqueuer submits a job for background execution and returns its handle.
// Implementations must create the persisted job row before the job can run.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, args interface{}) (string, error)
}

// Handler executes one job kind. The returned value is stored as the job
// result on success; a returned error marks the job FAILURE.
type Handler func(ctx context.Context, jobID string, args json.RawMessage) (interface{}, error)

// Runner executes jobs to completion and maintains both the persisted job
// row and an in-memory live state for real-time status queries.
type Runner struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	jobs     *repositories.JobRepository
	live     sync.Map // job id -> state
}

func NewRunner(jobs *repositories.JobRepository) *Runner {
	return &Runner{
		handlers: make(map[string]Handler),
		jobs:     jobs,
	}
}

func (r *Runner) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// LiveState reports the in-process state of a job, if this process is
// currently running or has recently finished it.
func (r *Runner) LiveState(jobID string) (string, bool) {
	v, ok := r.live.Load(jobID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Run executes one message to completion. Jobs have no suspension points
// and are not cancellable once started; a panic is recovered and recorded
// as a failure trace so the status endpoint can surface it.
func (r *Runner) Run(ctx context.Context, msg Message) {
	r.mu.RLock()
	handler, ok := r.handlers[msg.Kind]
	r.mu.RUnlock()

	l := log.With().Str("job_id", msg.JobID).Str("kind", msg.Kind).Logger()

	if !ok {
		l.Error().Msg("no handler registered for job kind")
		r.fail(msg.JobID, msg.Kind, fmt.Sprintf("no handler registered for kind '%s'", msg.Kind), "")
		return
	}

	r.live.Store(msg.JobID, models.JobStateStarted)
	if err := r.jobs.MarkStarted(msg.JobID); err != nil {
		l.Error().Err(err).Msg("failed to mark job started")
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			trace := fmt.Sprintf("panic: %v\n%s", rec, debug.Stack())
			l.Error().Str("panic", fmt.Sprint(rec)).Msg("job panicked")
			r.fail(msg.JobID, msg.Kind, "", trace)
		}
	}()

	result, err := handler(ctx, msg.JobID, msg.Args)
	if err != nil {
		l.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
		r.fail(msg.JobID, msg.Kind, err.Error(), "")
		return
	}

	r.live.Store(msg.JobID, models.JobStateSuccess)
	if err := r.jobs.MarkSuccess(msg.JobID, result); err != nil {
		l.Error().Err(err).Msg("failed to persist job result")
	}
	metrics.JobsProcessed.WithLabelValues(msg.Kind, "success").Inc()
	l.Info().Dur("duration", time.Since(start)).Msg("job completed")
}

func (r *Runner) fail(jobID, kind, errMsg, trace string) {
	r.live.Store(jobID, models.JobStateFailure)
	if err := r.jobs.MarkFailure(jobID, errMsg, trace); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to persist job failure")
	}
	metrics.JobsProcessed.WithLabelValues(kind, "failure").Inc()
}

// newJob creates the persisted PENDING row and the message for one enqueue.
func newJob(jobs *repositories.JobRepository, kind string, args interface{}) (Message, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return Message{}, apperrors.NewFatalJob("serialize job args: %v", err)
	}

	job := &models.Job{ID: uuid.New().String(), Kind: kind}
	if err := jobs.Create(job); err != nil {
		return Message{}, err
	}

	return Message{JobID: job.ID, Kind: kind, Args: argsJSON}, nil
}
