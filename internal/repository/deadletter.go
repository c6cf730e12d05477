package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"cptrack/internal/models"

	"github.com/redis/go-redis/v9"
)

// defaultDeadLetterCap bounds the Redis list so a failing upstream cannot
// grow it without limit.
const defaultDeadLetterCap = 1000

// RedisDeadLetter records permanently failed operations in a Redis list,
// newest first.
type RedisDeadLetter struct {
	client *redis.Client
	key    string
	maxLen int64
}

func NewRedisDeadLetter(client *redis.Client, key string) *RedisDeadLetter {
	return &RedisDeadLetter{client: client, key: key, maxLen: defaultDeadLetterCap}
}

func (d *RedisDeadLetter) PushDeadLetter(ctx context.Context, op models.Operation) error {
	if d.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to marshal operation %s: %w", op.ID, err)
	}

	pipe := d.client.TxPipeline()
	pipe.LPush(ctx, d.key, data)
	pipe.LTrim(ctx, d.key, 0, d.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter %s: %w", op.ID, err)
	}
	return nil
}

// ListDeadLetters returns up to limit entries, newest first. limit <= 0 means all.
func (d *RedisDeadLetter) ListDeadLetters(ctx context.Context, limit int64) ([]models.Operation, error) {
	if d.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	raw, err := d.client.LRange(ctx, d.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters: %w", err)
	}

	ops := make([]models.Operation, 0, len(raw))
	for _, item := range raw {
		var op models.Operation
		if err := json.Unmarshal([]byte(item), &op); err != nil {
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}
