package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/taponn/jobcore/pkg/types"
)

// PriorityQueue is an in-memory Queue ordered by priority, highest first.
// Jobs of equal priority leave in the order they were enqueued, so a retried
// job goes behind everything already waiting at its priority.
type PriorityQueue struct {
	mu     sync.Mutex
	items  jobHeap
	seq    uint64
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewPriorityQueue creates an empty priority queue
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Enqueue adds a job to the queue. It never blocks on consumers.
func (p *PriorityQueue) Enqueue(ctx context.Context, job *types.Job) error {
	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}

	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	p.mu.Lock()
	p.seq++
	heap.Push(&p.items, &entry{job: job, priority: job.Options.Priority, seq: p.seq})
	p.mu.Unlock()

	p.signal()
	return nil
}

// Dequeue blocks until a job is available, ctx is done or the queue is closed.
func (p *PriorityQueue) Dequeue(ctx context.Context) (*types.Job, error) {
	jobs, err := p.DequeueBatch(ctx, 1)
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

func (p *PriorityQueue) DequeueBatch(ctx context.Context, max int) ([]*types.Job, error) {
	if max <= 0 {
		max = 1
	}

	for {
		// A cancelled caller takes nothing, even when jobs are waiting
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if jobs := p.pop(max); len(jobs) > 0 {
			return jobs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.closed:
			return nil, ErrClosed
		case <-p.ready:
		}
	}
}

func (p *PriorityQueue) pop(max int) []*types.Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items) == 0 {
		return nil
	}

	n := min(max, len(p.items))
	jobs := make([]*types.Job, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, heap.Pop(&p.items).(*entry).job)
	}

	// Leftovers may have been signalled once only; pass the wake-up on.
	if len(p.items) > 0 {
		p.signal()
	}
	return jobs
}

func (p *PriorityQueue) signal() {
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *PriorityQueue) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *PriorityQueue) Pending() []*types.Job {
	p.mu.Lock()
	entries := make([]*entry, len(p.items))
	copy(entries, p.items)
	p.mu.Unlock()

	return sorted(entries)
}

// Clear empties the queue and returns what it held, in dequeue order. The
// snapshot and the reset happen under one lock, so a concurrent Enqueue is
// either returned here or left in the queue.
func (p *PriorityQueue) Clear() []*types.Job {
	p.mu.Lock()
	entries := p.items
	p.items = nil
	p.mu.Unlock()

	return sorted(entries)
}

func sorted(entries []*entry) []*types.Job {
	sort.Slice(entries, func(i, j int) bool { return entries[i].before(entries[j]) })

	jobs := make([]*types.Job, len(entries))
	for i, e := range entries {
		jobs[i] = e.job
	}
	return jobs
}

func (p *PriorityQueue) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

type entry struct {
	job      *types.Job
	priority int
	seq      uint64
	index    int
}

func (e *entry) before(o *entry) bool {
	if e.priority != o.priority {
		return e.priority > o.priority
	}
	return e.seq < o.seq
}

// jobHeap implements heap.Interface
type jobHeap []*entry

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
