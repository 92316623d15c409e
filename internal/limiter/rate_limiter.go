package limiter

import (
	"context"
	"fmt"
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting job processing
type RateLimiter interface {
	// Allow checks if a job of the given type can be processed right now
	Allow(jobType string) bool

	// Wait blocks until a job of the given type may be processed
	Wait(ctx context.Context, jobType string) error

	// SetLimit sets the rate limit for a job type
	SetLimit(jobType string, limit float64, burst int) error
}

// LocalRateLimiter implements in-memory token buckets, one per job type.
// Job types without a configured limit are not throttled.
type LocalRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewLocalRateLimiter creates a limiter from per-type rates in jobs per
// second. Burst defaults to the rate rounded up, at least one.
func NewLocalRateLimiter(limits map[string]float64) (*LocalRateLimiter, error) {
	l := &LocalRateLimiter{limiters: make(map[string]*rate.Limiter)}
	for jobType, limit := range limits {
		if err := l.SetLimit(jobType, limit, 0); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *LocalRateLimiter) SetLimit(jobType string, limit float64, burst int) error {
	if jobType == "" {
		return fmt.Errorf("job type cannot be empty")
	}
	if limit <= 0 {
		return fmt.Errorf("rate limit for %s must be positive, got: %v", jobType, limit)
	}
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(limit)))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.limiters[jobType]; ok {
		existing.SetLimit(rate.Limit(limit))
		existing.SetBurst(burst)
		return nil
	}
	l.limiters[jobType] = rate.NewLimiter(rate.Limit(limit), burst)
	return nil
}

func (l *LocalRateLimiter) Allow(jobType string) bool {
	lim := l.get(jobType)
	if lim == nil {
		return true
	}
	return lim.Allow()
}

func (l *LocalRateLimiter) Wait(ctx context.Context, jobType string) error {
	lim := l.get(jobType)
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", jobType, err)
	}
	return nil
}

func (l *LocalRateLimiter) get(jobType string) *rate.Limiter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiters[jobType]
}
