package queue

import (
	"context"
	"fmt"
	"sync"
)

// Mux routes tasks to handlers by kind.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewMux() *Mux {
	return &Mux{
		handlers: make(map[string]Handler),
	}
}

func (m *Mux) Handle(kind string, h Handler) {
	m.mu.Lock()
	m.handlers[kind] = h
	m.mu.Unlock()
}

func (m *Mux) Run(ctx context.Context, t Task) error {
	m.mu.RLock()
	h, ok := m.handlers[t.Kind]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, t.Kind)
	}
	return h(ctx, t)
}
