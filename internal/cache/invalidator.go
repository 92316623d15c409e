package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const scanBatch = 100

// Invalidator removes cached keys from Redis
type Invalidator struct {
	client redis.Cmdable
	logger *zap.Logger
}

func NewInvalidator(client redis.Cmdable, logger *zap.Logger) *Invalidator {
	return &Invalidator{client: client, logger: logger}
}

// DeletePattern deletes every key matching a glob pattern such as
// "profile:42:*" and returns how many were removed. Keys are found with SCAN
// so large keyspaces do not block the server.
func (i *Invalidator) DeletePattern(ctx context.Context, pattern string) (int, error) {
	iter := i.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	deleted := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := i.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan keys: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}

	i.logger.Debug("Cache keys deleted",
		zap.String("pattern", pattern),
		zap.Int("deleted", deleted),
	)
	return deleted, nil
}
