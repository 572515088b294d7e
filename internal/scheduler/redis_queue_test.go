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
	"testing"

	"github.com/stretchr/testify/assert"
)

// NewRedisQueue dials lazily, so these exercise wiring only; a live
// Redis instance is required for Enqueue/Dequeue integration coverage.

func TestNewRedisQueueDefaultsQueueKey(t *testing.T) {
	q := NewRedisQueue(RedisQueueConfig{Host: "localhost", Port: 6379})
	defer q.Close()
	assert.Equal(t, "scanpipe:runs", q.key)
}

func TestNewRedisQueueRespectsCustomKey(t *testing.T) {
	q := NewRedisQueue(RedisQueueConfig{Host: "localhost", Port: 6379, QueueKey: "custom:queue"})
	defer q.Close()
	assert.Equal(t, "custom:queue", q.key)
	assert.Equal(t, "custom:queue:heartbeat:run-1", q.heartbeatKey("run-1"))
}

func TestRedisQueueImplementsHeartbeatQueue(t *testing.T) {
	var _ HeartbeatQueue = (*RedisQueue)(nil)
	var _ Queue = (*RedisQueue)(nil)
}
