package types

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobDefaults(t *testing.T) {
	job := NewJob("send_email", []byte(`{"to":"a@b.c"}`), DefaultOptions(3, 30*time.Second))

	assert.True(t, strings.HasPrefix(job.ID, "job_"))
	assert.Equal(t, StatusPending, job.Status())
	assert.Equal(t, 0, job.Attempts())
	assert.Equal(t, 0, job.Options.Priority)
	assert.Equal(t, 3, job.Options.MaxRetries)
	assert.Equal(t, time.Duration(0), job.Options.Delay)
	assert.Equal(t, 30*time.Second, job.Options.Timeout)
	require.NoError(t, job.Validate())
}

func TestJobIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewJob("x", nil, DefaultOptions(0, time.Second)).ID
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestOptionsApply(t *testing.T) {
	opts := DefaultOptions(3, 30*time.Second).Apply(
		WithPriority(5),
		WithMaxRetries(0),
		WithDelay(10*time.Millisecond),
		WithTimeout(time.Second),
	)

	assert.Equal(t, 5, opts.Priority)
	assert.Equal(t, 0, opts.MaxRetries, "explicit zero must be kept")
	assert.Equal(t, 10*time.Millisecond, opts.Delay)
	assert.Equal(t, time.Second, opts.Timeout)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opts JobOptions
		ok   bool
	}{
		{"defaults", DefaultOptions(3, time.Second), true},
		{"negative retries", JobOptions{MaxRetries: -1, Timeout: time.Second}, false},
		{"negative delay", JobOptions{Delay: -time.Second, Timeout: time.Second}, false},
		{"zero timeout", JobOptions{}, false},
		{"negative priority is fine", JobOptions{Priority: -3, Timeout: time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestJobLifecycle(t *testing.T) {
	job := NewJob("x", nil, DefaultOptions(1, time.Second))

	attempt, err := job.Begin()
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)
	assert.Equal(t, StatusProcessing, job.Status())

	_, err = job.Begin()
	assert.ErrorIs(t, err, ErrInvalidTransition, "a processing job cannot be started twice")

	require.True(t, job.CanRetry())
	require.NoError(t, job.Requeue(errors.New("boom")))
	assert.Equal(t, StatusPending, job.Status())
	assert.Equal(t, "boom", job.LastError())

	attempt, err = job.Begin()
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)
	assert.False(t, job.CanRetry())

	require.NoError(t, job.Complete())
	assert.Equal(t, StatusCompleted, job.Status())

	assert.ErrorIs(t, job.Fail(errors.New("late")), ErrInvalidTransition)
	assert.ErrorIs(t, job.Requeue(nil), ErrInvalidTransition)
	assert.Equal(t, StatusCompleted, job.Status())
}

func TestFailFromPending(t *testing.T) {
	job := NewJob("x", nil, DefaultOptions(0, time.Second))

	require.NoError(t, job.Fail(errors.New("unknown job type")))

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "unknown job type", snap.LastError)
	assert.Equal(t, 0, snap.Attempts)
}

func TestReleaseRestoresTheAttempt(t *testing.T) {
	job := NewJob("x", nil, DefaultOptions(0, time.Second))

	assert.ErrorIs(t, job.Release(), ErrInvalidTransition, "only a processing job can be released")

	_, err := job.Begin()
	require.NoError(t, err)
	assert.False(t, job.CanRetry())

	require.NoError(t, job.Release())
	assert.Equal(t, StatusPending, job.Status())
	assert.Equal(t, 0, job.Attempts())
	assert.Empty(t, job.LastError())

	attempt, err := job.Begin()
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)
}
