package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/taponn/jobcore/pkg/types"
)

const (
	deadLetterQueueKey = "dlq:jobs"  // Redis list storing dead letter jobs
	dlqStatsKey        = "dlq:stats" // Redis hash storing DLQ stats
)

// DeadLetterQueue records jobs that ended in the failed state. It is an
// audit trail only: nothing is replayed from it automatically.
type DeadLetterQueue interface {
	// Send a job to the dead letter queue
	Send(ctx context.Context, job types.JobSnapshot, errorMsg string) error

	// Get the number of jobs in the DLQ
	Size(ctx context.Context) (int, error)

	// List jobs in the DLQ with pagination, newest first
	List(ctx context.Context, offset, limit int) ([]*types.FailedJobInfo, error)
}

// RedisDLQ implements the DeadLetterQueue interface using Redis
type RedisDLQ struct {
	client redis.Cmdable
	maxLen int64
}

// NewRedisDLQ creates a new Redis-backed dead letter queue. maxLen caps the
// list; zero keeps everything.
func NewRedisDLQ(client redis.Cmdable, maxLen int) *RedisDLQ {
	return &RedisDLQ{
		client: client,
		maxLen: int64(maxLen),
	}
}

// Send puts a failed job into the dead letter queue
func (d *RedisDLQ) Send(ctx context.Context, job types.JobSnapshot, errorMsg string) error {
	failedInfo := &types.FailedJobInfo{
		Job:      job,
		Error:    errorMsg,
		FailedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(failedInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal failed job info: %w", err)
	}

	pipe := d.client.Pipeline()

	// Add to DLQ
	pipe.LPush(ctx, deadLetterQueueKey, data)
	if d.maxLen > 0 {
		pipe.LTrim(ctx, deadLetterQueueKey, 0, d.maxLen-1)
	}

	// Update stats
	pipe.HIncrBy(ctx, dlqStatsKey, "total", 1)
	pipe.HIncrBy(ctx, dlqStatsKey, fmt.Sprintf("type:%s", job.Type), 1)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to send job to DLQ: %w", err)
	}

	return nil
}

// Size returns the number of jobs in the DLQ
func (d *RedisDLQ) Size(ctx context.Context) (int, error) {
	result := d.client.LLen(ctx, deadLetterQueueKey)
	if err := result.Err(); err != nil {
		return 0, fmt.Errorf("failed to get DLQ size: %w", err)
	}

	return int(result.Val()), nil
}

// List returns jobs in the DLQ with pagination
func (d *RedisDLQ) List(ctx context.Context, offset, limit int) ([]*types.FailedJobInfo, error) {
	result := d.client.LRange(ctx, deadLetterQueueKey, int64(offset), int64(offset+limit-1))
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to list DLQ jobs: %w", err)
	}

	jobs := make([]*types.FailedJobInfo, 0, len(result.Val()))

	for _, item := range result.Val() {
		var failedInfo types.FailedJobInfo
		if err := json.Unmarshal([]byte(item), &failedInfo); err != nil {
			continue
		}

		jobs = append(jobs, &failedInfo)
	}

	return jobs, nil
}

// MemoryDLQ keeps the most recent failed jobs in process memory.
type MemoryDLQ struct {
	mu     sync.RWMutex
	items  []*types.FailedJobInfo
	maxLen int
}

func NewMemoryDLQ(maxLen int) *MemoryDLQ {
	return &MemoryDLQ{maxLen: maxLen}
}

func (m *MemoryDLQ) Send(_ context.Context, job types.JobSnapshot, errorMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = append(m.items, &types.FailedJobInfo{
		Job:      job,
		Error:    errorMsg,
		FailedAt: time.Now().UTC(),
	})
	if m.maxLen > 0 && len(m.items) > m.maxLen {
		m.items = m.items[len(m.items)-m.maxLen:]
	}
	return nil
}

func (m *MemoryDLQ) Size(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items), nil
}

func (m *MemoryDLQ) List(_ context.Context, offset, limit int) ([]*types.FailedJobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.FailedJobInfo, 0, limit)
	for i := len(m.items) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.items[i])
	}
	return out, nil
}
