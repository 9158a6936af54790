package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps pending tasks in a redis list. Workers atomically move
// a task into a processing list while it runs and remove it afterwards, so
// a task interrupted by a crash is picked up again on the next Start.
type RedisQueue struct {
	client     *redis.Client
	pending    string
	processing string
	workers    int
	handler    Handler
	l          *slog.Logger

	// how long a worker blocks waiting for work
	pollTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRedisQueue(client *redis.Client, key string, workers int, handler Handler, l *slog.Logger) *RedisQueue {
	if workers < 1 {
		workers = 1
	}
	return &RedisQueue{
		client:      client,
		pending:     key,
		processing:  key + ":processing",
		workers:     workers,
		handler:     handler,
		l:           l.With("component", "redis-queue", "key", key),
		pollTimeout: time.Second,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}

	return q.client.LPush(ctx, q.pending, raw).Err()
}

func (q *RedisQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancel != nil {
		return
	}

	if n, err := q.requeueInFlight(ctx); err != nil {
		q.l.Error("failed to recover in-flight tasks", "err", err)
	} else if n > 0 {
		q.l.Info("recovered in-flight tasks", "count", n)
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

// requeueInFlight moves everything left in the processing list back to the
// consuming end of the pending list, oldest first.
func (q *RedisQueue) requeueInFlight(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func (q *RedisQueue) run(ctx context.Context) {
	for {
		raw, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", q.pollTimeout).Result()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			q.l.Error("failed to receive task", "err", err)
			if !sleep(ctx, q.pollTimeout) {
				return
			}
			continue
		}

		q.process(ctx, raw)
	}
}

func (q *RedisQueue) process(ctx context.Context, raw string) {
	// bookkeeping must land even if we are shutting down
	bg := context.WithoutCancel(ctx)

	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		q.l.Error("dropping undecodable task", "err", err)
		q.ack(bg, raw)
		return
	}

	if !t.Due(time.Now()) {
		_, err := q.client.TxPipelined(bg, func(pipe redis.Pipeliner) error {
			pipe.LPush(bg, q.pending, raw)
			pipe.LRem(bg, q.processing, 1, raw)
			return nil
		})
		if err != nil {
			q.l.Error("failed to requeue delayed task", "id", t.ID, "err", err)
		}
		sleep(ctx, min(time.Until(t.RunAt), q.pollTimeout))
		return
	}

	if err := q.handler(ctx, t); err != nil {
		q.l.Error("task failed", "id", t.ID, "kind", t.Kind, "err", err)
	}
	q.ack(bg, raw)
}

func (q *RedisQueue) ack(ctx context.Context, raw string) {
	if err := q.client.LRem(ctx, q.processing, 1, raw).Err(); err != nil {
		q.l.Error("failed to remove task from processing list", "err", err)
	}
}

func (q *RedisQueue) Stop() {
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

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
