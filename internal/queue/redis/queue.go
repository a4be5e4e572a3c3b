// Package redis provides a job queue backed by a Redis list, shared by
// every replica that points at the same key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const connectionTimeout = 5 * time.Second

// Config holds Redis connection and queue settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	// Depth caps the list length; 0 means unbounded.
	Depth int
	// PollTimeout bounds each BRPOP so Dequeue can observe ctx and Close.
	PollTimeout time.Duration
}

// Queue pushes with LPUSH and pops with BRPOP, giving FIFO order.
type Queue struct {
	client      *redis.Client
	key         string
	depth       int64
	pollTimeout time.Duration
	closed      atomic.Bool
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Queue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg Config) *Queue {
	key := cfg.Key
	if key == "" {
		key = "catalog:jobs"
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Queue{
		client:      client,
		key:         key,
		depth:       int64(cfg.Depth),
		pollTimeout: poll,
	}
}

// Enqueue appends item, returning crawler.ErrQueueFull when the list is at depth.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if q.closed.Load() {
		return crawler.ErrQueueClosed
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode queue item: %w", err)
	}
	if q.depth > 0 {
		n, err := q.client.LLen(ctx, q.key).Result()
		if err != nil {
			return fmt.Errorf("queue length: %w", err)
		}
		if n >= q.depth {
			return crawler.ErrQueueFull
		}
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// Dequeue blocks until an item arrives, ctx ends or the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		if q.closed.Load() {
			return crawler.QueueItem{}, crawler.ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		res, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return crawler.QueueItem{}, crawler.ErrQueueClosed
		case err != nil:
			if ctx.Err() != nil {
				return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return crawler.QueueItem{}, fmt.Errorf("brpop: %w", err)
		}
		// BRPOP returns [key, value].
		if len(res) != 2 {
			return crawler.QueueItem{}, fmt.Errorf("brpop: unexpected reply length %d", len(res))
		}
		var item crawler.QueueItem
		if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("decode queue item: %w", err)
		}
		return item, nil
	}
}

// Len returns the current list length.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Ping checks connectivity for readiness probes.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close stops the queue and releases the client.
func (q *Queue) Close() {
	if q.closed.Swap(true) {
		return
	}
	_ = q.client.Close()
}
