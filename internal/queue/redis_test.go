package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptionsKeepURLDatabase(t *testing.T) {
	opts, err := clientOptions(RedisOptions{URL: "redis://:secret@cache.internal:6379/3", CommandTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, "cache.internal:6379", opts.Addr)
	assert.Equal(t, time.Second, opts.ReadTimeout)
}

func TestClientOptionsOverrides(t *testing.T) {
	db := 0
	opts, err := clientOptions(RedisOptions{URL: "redis://:secret@cache.internal:6379/3", Password: "rotated", DB: &db})
	require.NoError(t, err)
	assert.Equal(t, 0, opts.DB, "an explicit DB wins, even 0")
	assert.Equal(t, "rotated", opts.Password)

	_, err = clientOptions(RedisOptions{URL: "http://cache.internal"})
	assert.ErrorContains(t, err, "failed to parse Redis URL")
}
