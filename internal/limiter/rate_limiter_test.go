package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimitedTypesPassThrough(t *testing.T) {
	l, err := NewLocalRateLimiter(nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("send_email"))
	}
	assert.NoError(t, l.Wait(context.Background(), "send_email"))
}

func TestBurstThenThrottle(t *testing.T) {
	l, err := NewLocalRateLimiter(map[string]float64{"deliver_webhook": 2})
	require.NoError(t, err)

	assert.True(t, l.Allow("deliver_webhook"))
	assert.True(t, l.Allow("deliver_webhook"))
	assert.False(t, l.Allow("deliver_webhook"))
	assert.True(t, l.Allow("send_email"))
}

func TestWaitHonoursContext(t *testing.T) {
	l, err := NewLocalRateLimiter(map[string]float64{"generate_report": 0.01})
	require.NoError(t, err)
	require.True(t, l.Allow("generate_report"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, l.Wait(ctx, "generate_report"))
}

func TestSetLimitValidation(t *testing.T) {
	l, err := NewLocalRateLimiter(nil)
	require.NoError(t, err)

	assert.Error(t, l.SetLimit("", 1, 1))
	assert.Error(t, l.SetLimit("send_email", 0, 1))
	assert.NoError(t, l.SetLimit("send_email", 5, 10))
	assert.NoError(t, l.SetLimit("send_email", 1, 1))

	_, err = NewLocalRateLimiter(map[string]float64{"x": -1})
	assert.Error(t, err)
}
