package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned by Pop when nothing arrived before the timeout.
var ErrQueueEmpty = errors.New("queue empty")

type Queue interface {
	Push(ctx context.Context, raw []byte) error
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type redisQueue struct {
	rdb *goredis.Client
	key string
}

// NewRedisQueue connects to Redis and verifies the connection. Jobs are
// LPUSHed and BRPOPed so the list behaves as FIFO.
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (Queue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	if cfg.Key == "" {
		cfg.Key = "lms:dispatch:jobs"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisQueue{rdb: rdb, key: cfg.Key}, nil
}

func (q *redisQueue) Push(ctx context.Context, raw []byte) error {
	return q.rdb.LPush(ctx, q.key, raw).Err()
}

func (q *redisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of %d items", len(res))
	}
	return []byte(res[1]), nil
}

func (q *redisQueue) Close() error { return q.rdb.Close() }
