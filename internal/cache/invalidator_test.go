package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Runs against a real Redis when REDIS_TEST_URL is set.
func TestDeletePattern(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 250; i++ {
		require.NoError(t, client.Set(ctx, fmt.Sprintf("profile:cachetest:%d", i), "v", time.Minute).Err())
	}
	require.NoError(t, client.Set(ctx, "profile:other:1", "v", time.Minute).Err())
	defer client.Del(ctx, "profile:other:1")

	inv := NewInvalidator(client, zap.NewNop())
	n, err := inv.DeletePattern(ctx, "profile:cachetest:*")
	require.NoError(t, err)
	assert.Equal(t, 250, n)

	exists, err := client.Exists(ctx, "profile:other:1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	n, err = inv.DeletePattern(ctx, "profile:cachetest:*")
	require.NoError(t, err)
	assert.Zero(t, n)
}
