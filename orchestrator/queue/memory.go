package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryQueue is a bounded in-process queue drained by a fixed number of
// workers. Tasks are lost on restart.
type MemoryQueue struct {
	tasks   chan Task
	workers int
	handler Handler
	l       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMemoryQueue(size, workers int, handler Handler, l *slog.Logger) *MemoryQueue {
	if workers < 1 {
		workers = 1
	}
	return &MemoryQueue{
		tasks:   make(chan Task, size),
		workers: workers,
		handler: handler,
		l:       l.With("component", "memory-queue"),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if !t.Due(time.Now()) {
		delay := time.Until(t.RunAt)
		time.AfterFunc(delay, func() {
			if err := q.push(t); err != nil {
				q.l.Error("failed to enqueue delayed task", "id", t.ID, "kind", t.Kind, "err", err)
			}
		})
		return nil
	}

	return q.push(t)
}

func (q *MemoryQueue) push(t Task) error {
	select {
	case q.tasks <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel != nil {
		return
	}

	ctx, q.cancel = context.WithCancel(ctx)
	for range q.workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.run(ctx)
		}()
	}
}

func (q *MemoryQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			if err := q.handler(ctx, t); err != nil {
				q.l.Error("task failed", "id", t.ID, "kind", t.Kind, "err", err)
			}
		}
	}
}

// Stop cancels the workers and waits for in-flight tasks to return.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	q.wg.Wait()
}
