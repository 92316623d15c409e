package queue

import (
	"context"
	"errors"

	"github.com/taponn/jobcore/pkg/types"
)

// ErrClosed is returned by Enqueue and Dequeue once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue holds pending jobs until a worker takes them.
type Queue interface {
	// Enqueue adds a job to the queue
	Enqueue(ctx context.Context, job *types.Job) error

	// Dequeue removes and returns the next job.
	// This is a blocking operation that waits for jobs
	Dequeue(ctx context.Context) (*types.Job, error)

	// DequeueBatch blocks until at least one job is available and then
	// returns up to max jobs in dispatch order.
	DequeueBatch(ctx context.Context, max int) ([]*types.Job, error)

	// Size returns the current number of jobs in the queue
	Size() int

	// Pending returns the queued jobs in dispatch order without removing them
	Pending() []*types.Job

	// Clear removes every queued job and returns what was removed
	Clear() []*types.Job

	// Close wakes blocked consumers and rejects further use
	Close() error
}
