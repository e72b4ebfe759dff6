package queue

import (
	"context"
	"sync"
)

// MemoryQueue runs jobs on goroutines inside the enqueuing process. It is
// the single-process deployment mode and the queue used by tests; job rows
// go through the same repository as the broker-backed queue.
type MemoryQueue struct {
	runner *Runner
	wg     sync.WaitGroup
}

func NewMemoryQueue(runner *Runner) *MemoryQueue {
	return &MemoryQueue{runner: runner}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind string, args interface{}) (string, error) {
	msg, err := newJob(q.runner.jobs, kind, args)
	if err != nil {
		return "", err
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		// The request context ends with the response; jobs outlive it.
		q.runner.Run(context.Background(), msg)
	}()

	return msg.JobID, nil
}

// Wait blocks until every enqueued job has settled. Tests use it to avoid
// polling the job table.
func (q *MemoryQueue) Wait() {
	q.wg.Wait()
}
