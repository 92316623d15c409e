package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions configure the client. Password and DB override what URL
// carries only when set.
type RedisOptions struct {
	URL            string
	Password       string
	DB             *int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// NewRedisClient connects to Redis and verifies the connection with a PING.
// The client backs the failed-job record and cache invalidation.
func NewRedisClient(opts RedisOptions) (*redis.Client, error) {
	redisOpts, err := clientOptions(opts)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func clientOptions(opts RedisOptions) (*redis.Options, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.Password != "" {
		redisOpts.Password = opts.Password
	}
	if opts.DB != nil {
		redisOpts.DB = *opts.DB
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.CommandTimeout
	redisOpts.WriteTimeout = opts.CommandTimeout
	return redisOpts, nil
}

// RedisHealth pings Redis
func RedisHealth(ctx context.Context, client redis.Cmdable) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
