// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is the queue-mode backend: a Redis list shared by every
// worker process, so Runs survive a single worker's restart (unlike
// MemoryQueue). It is a plain FIFO; per-project ordering and the
// at-most-one-RUNNING policy are enforced by the Scheduler via
// CompareAndSetStatus, not by queue order.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// RedisQueueConfig mirrors the rq_redis_* options read by
// internal/config; NewRedisQueue is the one place they turn into a live
// connection.
type RedisQueueConfig struct {
	Host            string
	Port            int
	DB              int
	Username        string
	Password        string
	DefaultTimeout  time.Duration
	SSL             bool
	// QueueKey is the list key jobs are pushed to; defaults to
	// "scanpipe:runs" when empty.
	QueueKey string
}

// NewRedisQueue dials Redis and returns a Queue backed by it. It does
// not block on connectivity; the first Enqueue/Dequeue surfaces any
// connection failure.
func NewRedisQueue(cfg RedisQueueConfig) *RedisQueue {
	key := cfg.QueueKey
	if key == "" {
		key = "scanpipe:runs"
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.SSL {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &RedisQueue{
		client: redis.NewClient(opts),
		key:    key,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Dequeue blocks on BRPOP until a job is available or ctx is cancelled.
// It polls in bounded slices so context cancellation is observed
// promptly even though the redis client itself blocks per-call.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		result, err := q.client.BRPop(ctx, 2*time.Second, q.key).Result()
		if err == redis.Nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				continue
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("brpop %s: %w", q.key, err)
		}

		// result is [key, value]
		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		return &job, nil
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	return int(n), err
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var _ HeartbeatQueue = (*RedisQueue)(nil)

func (q *RedisQueue) heartbeatKey(runUUID string) string {
	return q.key + ":heartbeat:" + runUUID
}

// Touch sets a TTL'd key so a crashed worker's heartbeat naturally
// expires without any cleanup step.
func (q *RedisQueue) Touch(ctx context.Context, runUUID string, ttl time.Duration) error {
	return q.client.Set(ctx, q.heartbeatKey(runUUID), "1", ttl).Err()
}

func (q *RedisQueue) Alive(ctx context.Context, runUUID string) (bool, error) {
	n, err := q.client.Exists(ctx, q.heartbeatKey(runUUID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
