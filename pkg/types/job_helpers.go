package types

import (
	"fmt"
	"time"
)

// JobOptions controls how a job is scheduled and retried.
type JobOptions struct {
	Priority   int           `json:"priority"`
	MaxRetries int           `json:"max_retries"`
	Delay      time.Duration `json:"delay"`
	Timeout    time.Duration `json:"timeout"`
}

// JobOption mutates JobOptions before a job is created.
type JobOption func(*JobOptions)

// DefaultOptions returns priority 0, no delay and the given retry and timeout defaults.
func DefaultOptions(maxRetries int, timeout time.Duration) JobOptions {
	return JobOptions{
		MaxRetries: maxRetries,
		Timeout:    timeout,
	}
}

// Apply returns a copy of o with opts applied in order.
func (o JobOptions) Apply(opts ...JobOption) JobOptions {
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o JobOptions) Validate() error {
	if o.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative, got: %d", o.MaxRetries)
	}
	if o.Delay < 0 {
		return fmt.Errorf("delay cannot be negative, got: %s", o.Delay)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got: %s", o.Timeout)
	}
	return nil
}

// WithPriority sets the job priority. Higher runs first.
func WithPriority(priority int) JobOption {
	return func(o *JobOptions) { o.Priority = priority }
}

// WithMaxRetries sets how many times a failed job is retried. Zero disables retries.
func WithMaxRetries(n int) JobOption {
	return func(o *JobOptions) { o.MaxRetries = n }
}

// WithDelay sets a wait applied before each attempt.
func WithDelay(d time.Duration) JobOption {
	return func(o *JobOptions) { o.Delay = d }
}

// WithTimeout bounds a single attempt.
func WithTimeout(d time.Duration) JobOption {
	return func(o *JobOptions) { o.Timeout = d }
}
