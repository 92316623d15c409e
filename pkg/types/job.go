package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a job is moved out of a state it cannot leave.
var ErrInvalidTransition = errors.New("invalid job state transition")

// Job is a unit of background work. Identity, type, payload and options are
// fixed at creation; status and attempts only change through the transition
// methods below.
type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Options   JobOptions      `json:"options"`
	CreatedAt time.Time       `json:"created_at"`

	mu        sync.Mutex
	status    JobStatus
	attempts  int
	lastError string
	updatedAt time.Time
}

// Enum to represent the stage of the job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type JobHandler interface {

	// Handle processes the job with the given context
	Handle(ctx context.Context, job *Job) error

	// Type returns the job type this handler processes
	Type() string

	// Description returns a human-readable description of what this handler does
	Description() string
}

type JobResult struct {
	JobID       string        `json:"job_id"`
	Status      JobStatus     `json:"status"`
	Error       string        `json:"error,omitempty"`
	Err         error         `json:"-"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

func NewJob(jobType string, payload json.RawMessage, opts JobOptions) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        generateJobID(),
		Type:      jobType,
		Payload:   payload,
		Options:   opts,
		CreatedAt: now,
		status:    StatusPending,
		updatedAt: now,
	}
}

func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if j.Type == "" {
		return fmt.Errorf("job type cannot be empty")
	}
	return j.Options.Validate()
}

// Status returns the current state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Attempts returns how many times processing has started.
func (j *Job) Attempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts
}

// LastError returns the error recorded by the most recent failed attempt.
func (j *Job) LastError() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastError
}

// Begin moves a pending job to processing and counts the attempt.
func (j *Job) Begin() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusPending {
		return j.attempts, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, StatusProcessing)
	}
	j.status = StatusProcessing
	j.attempts++
	j.updatedAt = time.Now().UTC()
	return j.attempts, nil
}

// Complete marks a processing job as completed.
func (j *Job) Complete() error {
	return j.transition(StatusProcessing, StatusCompleted, nil)
}

// Requeue returns a processing job to pending after a failed attempt.
func (j *Job) Requeue(cause error) error {
	return j.transition(StatusProcessing, StatusPending, cause)
}

// Release returns a processing job to pending without counting the attempt.
// Used when the worker stops mid-attempt.
func (j *Job) Release() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusProcessing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, StatusPending)
	}
	j.status = StatusPending
	j.attempts--
	j.updatedAt = time.Now().UTC()
	return nil
}

// Fail marks the job as permanently failed. Pending jobs may fail too, which
// happens when a job is rejected before it ever runs.
func (j *Job) Fail(cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, StatusFailed)
	}
	j.status = StatusFailed
	if cause != nil {
		j.lastError = cause.Error()
	}
	j.updatedAt = time.Now().UTC()
	return nil
}

func (j *Job) transition(from, to JobStatus, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.status = to
	if cause != nil {
		j.lastError = cause.Error()
	}
	j.updatedAt = time.Now().UTC()
	return nil
}

// CanRetry reports whether another attempt is allowed. A job with MaxRetries n
// gets n+1 attempts in total.
func (j *Job) CanRetry() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.attempts <= j.Options.MaxRetries
}

// Snapshot returns a copy of the job that is safe to hand to readers.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	return JobSnapshot{
		ID:        j.ID,
		Type:      j.Type,
		Payload:   j.Payload,
		Options:   j.Options,
		Status:    j.status,
		Attempts:  j.attempts,
		LastError: j.lastError,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.updatedAt,
	}
}

// JobSnapshot is a point-in-time, lock-free view of a Job.
type JobSnapshot struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Options   JobOptions      `json:"options"`
	Status    JobStatus       `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func generateJobID() string {
	id := uuid.NewString()
	return "job_" + id
}
