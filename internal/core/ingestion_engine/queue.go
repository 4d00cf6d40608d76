package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// JobQueue carries source ids from upload handlers to ingestion workers.
type JobQueue interface {
	Push(ctx context.Context, sourceID string) error
	// Pop blocks until a job is available or ctx is done.
	Pop(ctx context.Context) (string, error)
	Close() error
}

// ChannelQueue is an in-process queue. Push blocks while the buffer is full.
type ChannelQueue struct {
	jobs chan string
}

func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 64
	}
	return &ChannelQueue{jobs: make(chan string, size)}
}

func (q *ChannelQueue) Push(ctx context.Context, sourceID string) error {
	select {
	case q.jobs <- sourceID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelQueue) Pop(ctx context.Context) (string, error) {
	select {
	case id := <-q.jobs:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *ChannelQueue) Close() error { return nil }

const DefaultQueueKey = "sourcebook:ingest"

// RedisQueue shares jobs between server replicas through a redis list.
type RedisQueue struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key, pollTimeout: 5 * time.Second}
}

func (q *RedisQueue) Push(ctx context.Context, sourceID string) error {
	if err := q.client.LPush(ctx, q.key, sourceID).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("redis brpop: %w", err)
		}
		// BRPOP replies with [key, value].
		if len(res) != 2 {
			return "", fmt.Errorf("redis brpop: unexpected reply %v", res)
		}
		return res[1], nil
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
