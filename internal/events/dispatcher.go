package events

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/metrics"
)

// DefaultMaxDepth bounds how deeply events may trigger further events.
const DefaultMaxDepth = 8

// Payload is the data carried by an event
type Payload map[string]any

// Handler reacts to an event. Returned errors are logged by the dispatcher.
type Handler func(ctx context.Context, payload Payload) error

type subscription struct {
	id      uint64
	handler Handler
}

// Dispatcher delivers named events to subscribers synchronously, in
// registration order. A failing or panicking subscriber is logged and the
// remaining subscribers still run.
type Dispatcher struct {
	maxDepth int
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
}

// Option configures optional Dispatcher collaborators
type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithMaxDepth caps cascades. Values below one fall back to DefaultMaxDepth.
func WithMaxDepth(n int) Option {
	return func(d *Dispatcher) { d.maxDepth = n }
}

func NewDispatcher(logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		maxDepth: DefaultMaxDepth,
		logger:   logger,
		subs:     make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxDepth < 1 {
		d.maxDepth = DefaultMaxDepth
	}
	return d
}

// On subscribes h to name and returns a function that removes it. Calling
// the returned function more than once is harmless.
func (d *Dispatcher) On(name string, h Handler) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[name] = append(d.subs[name], subscription{id: id, handler: h})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(name, id) })
	}
}

func (d *Dispatcher) remove(name string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[name]
	for i, s := range subs {
		if s.id == id {
			// copy so an Emit iterating the old slice is not disturbed
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(d.subs, name)
			} else {
				d.subs[name] = next
			}
			return
		}
	}
}

// Emit delivers payload to every subscriber of name and returns once all of
// them have run. Subscribers may emit further events with the ctx they were
// given; beyond the depth cap those emissions are dropped.
func (d *Dispatcher) Emit(ctx context.Context, name string, payload Payload) {
	chain := chainFrom(ctx)
	if len(chain) >= d.maxDepth {
		d.metrics.EventDropped(name)
		d.logger.Error("Event cascade too deep, dropping event",
			zap.String("event", name),
			zap.Int("max_depth", d.maxDepth),
			zap.String("chain", strings.Join(append(chain, name), " -> ")),
		)
		return
	}

	d.mu.RLock()
	subs := d.subs[name]
	d.mu.RUnlock()

	d.metrics.EventEmitted(name)
	if len(subs) == 0 {
		d.logger.Debug("Event has no subscribers", zap.String("event", name))
		return
	}

	next := make([]string, len(chain), len(chain)+1)
	copy(next, chain)
	ctx = context.WithValue(ctx, chainKey{}, append(next, name))

	for _, s := range subs {
		if err := d.deliver(ctx, s.handler, payload); err != nil {
			d.metrics.SubscriberFailed(name)
			d.logger.Error("Event subscriber failed",
				zap.String("event", name),
				zap.Error(err),
			)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, h Handler, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return h(ctx, payload)
}

// Subscribers returns the number of handlers registered for name
func (d *Dispatcher) Subscribers(name string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[name])
}

// Events returns the names that have at least one subscriber, sorted
func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.subs))
	for name := range d.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type chainKey struct{}

// Chain returns the events that led to the current handler, outermost first
func Chain(ctx context.Context) []string {
	chain := chainFrom(ctx)
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}

func chainFrom(ctx context.Context) []string {
	chain, _ := ctx.Value(chainKey{}).([]string)
	return chain
}
