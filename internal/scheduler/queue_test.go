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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFOForEqualPriority(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(context.Background(), &Job{RunUUID: "a"}))
	require.NoError(t, q.Enqueue(context.Background(), &Job{RunUUID: "b"}))

	first, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", first.RunUUID)

	second, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", second.RunUUID)
}

func TestMemoryQueueOrdersByPriority(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(context.Background(), &Job{RunUUID: "low", Priority: 0}))
	require.NoError(t, q.Enqueue(context.Background(), &Job{RunUUID: "high", Priority: 10}))

	first, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "high", first.RunUUID)
}

func TestMemoryQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	done := make(chan *Job, 1)
	go func() {
		job, err := q.Dequeue(context.Background())
		if err == nil {
			done <- job
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), &Job{RunUUID: "late"}))

	select {
	case job := <-done:
		assert.Equal(t, "late", job.RunUUID)
	case <-time.After(time.Second):
		t.Fatal("Dequeue never returned the enqueued job")
	}
}

func TestMemoryQueueDequeueRespectsContextCancellation(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueueCloseUnblocksDequeue(t *testing.T) {
	q := NewMemoryQueue()
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.Equal(t, ErrQueueClosed, err)
	case <-time.After(time.Second):
		t.Fatal("Dequeue never unblocked after Close")
	}
}

func TestMemoryQueueHeartbeatExpires(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Touch(context.Background(), "run-1", 10*time.Millisecond))

	alive, err := q.Alive(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, alive)

	time.Sleep(20 * time.Millisecond)
	alive, err = q.Alive(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestMemoryQueueAliveFalseForUnknownRun(t *testing.T) {
	q := NewMemoryQueue()
	alive, err := q.Alive(context.Background(), "never-touched")
	require.NoError(t, err)
	assert.False(t, alive)
}
