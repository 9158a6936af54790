package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrQueueFull = errors.New("queue is full")
	ErrNoHandler = errors.New("no handler registered for task kind")
)

// Task is a unit of deferred work. Payload is opaque to the queue.
type Task struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RunAt   time.Time       `json:"runAt,omitzero"`
}

// Due reports whether the task may run at now.
func (t Task) Due(now time.Time) bool {
	return t.RunAt.IsZero() || !t.RunAt.After(now)
}

type Handler func(ctx context.Context, t Task) error

type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	Start(ctx context.Context)
	Stop()
}
