package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taponn/jobcore/internal/config"
	"github.com/taponn/jobcore/internal/events"
	"github.com/taponn/jobcore/internal/handlers"
	"github.com/taponn/jobcore/pkg/types"
)

func newCore(t *testing.T) *Core {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	c, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func TestEmittedEventsReachTheQueue(t *testing.T) {
	c := newCore(t)

	c.Events.Emit(context.Background(), events.UserRegistered, events.Payload{
		"user_id": "42", "email": "ana@example.com", "full_name": "Ana",
	})

	// Not started, so the job stays pending
	status := c.Queue.GetStatus()
	require.Len(t, status.Jobs, 1)
	assert.Equal(t, handlers.TypeSendWelcomeEmail, status.Jobs[0].Type)
	assert.Equal(t, types.StatusPending, status.Jobs[0].Status)
	assert.JSONEq(t, `{"email":"ana@example.com","name":"Ana"}`, string(status.Jobs[0].Payload))
}

func TestServerDepsWithoutBackends(t *testing.T) {
	c := newCore(t)

	// No DATABASE_URL: the scheduler has nothing to maintain
	assert.Nil(t, c.Scheduler)

	deps := c.ServerDeps()
	assert.Nil(t, deps.Scheduler)
	assert.Empty(t, deps.Checks)
	require.NotNil(t, deps.Events)
	assert.Equal(t, 1, deps.Events.Subscribers(events.UserRegistered))
	assert.Contains(t, c.Registry.Types(), handlers.TypeSendWelcomeEmail)
}

func TestStartAndShutdown(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	c, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Start())
	assert.True(t, c.Queue.GetStatus().Processing)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, c.Shutdown(ctx))
}
