package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tangled.sh/tangled.sh/provisioner/log"
)

type recorder struct {
	mu    sync.Mutex
	tasks []Task
	done  chan struct{}
}

func newRecorder(n int) *recorder {
	return &recorder{done: make(chan struct{}, n)}
}

func (r *recorder) handle(ctx context.Context, t Task) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, t)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for range n {
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for task")
		}
	}
}

func TestMemoryQueueRunsTasks(t *testing.T) {
	r := newRecorder(3)
	q := NewMemoryQueue(10, 2, r.handle, log.Discard())
	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), Task{ID: id, Kind: "test"}))
	}
	r.wait(t, 3)

	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, task := range r.tasks {
		ids = append(ids, task.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestMemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(1, 1, func(context.Context, Task) error { return nil }, log.Discard())

	// not started, so nothing drains
	require.NoError(t, q.Enqueue(context.Background(), Task{ID: "a"}))
	err := q.Enqueue(context.Background(), Task{ID: "b"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestMemoryQueueDelayedTask(t *testing.T) {
	r := newRecorder(1)
	q := NewMemoryQueue(10, 1, r.handle, log.Discard())
	q.Start(context.Background())
	defer q.Stop()

	start := time.Now()
	require.NoError(t, q.Enqueue(context.Background(), Task{ID: "later", RunAt: start.Add(50 * time.Millisecond)}))
	r.wait(t, 1)

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryQueueHandlerFailureKeepsWorking(t *testing.T) {
	r := newRecorder(1)
	calls := 0
	h := func(ctx context.Context, task Task) error {
		calls++
		if task.ID == "bad" {
			return errors.New("boom")
		}
		return r.handle(ctx, task)
	}

	q := NewMemoryQueue(10, 1, h, log.Discard())
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(context.Background(), Task{ID: "bad"}))
	require.NoError(t, q.Enqueue(context.Background(), Task{ID: "good"}))
	r.wait(t, 1)

	assert.Equal(t, 2, calls)
}

func TestStopIsIdempotent(t *testing.T) {
	q := NewMemoryQueue(1, 1, func(context.Context, Task) error { return nil }, log.Discard())
	q.Stop()
	q.Start(context.Background())
	q.Stop()
	q.Stop()
}

func TestMux(t *testing.T) {
	m := NewMux()
	var got string
	m.Handle("org-setup", func(ctx context.Context, task Task) error {
		got = task.ID
		return nil
	})

	require.NoError(t, m.Run(context.Background(), Task{ID: "x", Kind: "org-setup"}))
	assert.Equal(t, "x", got)

	err := m.Run(context.Background(), Task{ID: "y", Kind: "unknown"})
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestTaskDue(t *testing.T) {
	now := time.Now()
	assert.True(t, Task{}.Due(now))
	assert.True(t, Task{RunAt: now}.Due(now))
	assert.False(t, Task{RunAt: now.Add(time.Minute)}.Due(now))
}
