package hook

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Manager manages hook handlers and triggers
type Manager struct {
	handlers map[Point][]Handler
	mu       sync.RWMutex
}

// NewManager creates a new hook manager
func NewManager() *Manager {
	return &Manager{
		handlers: make(map[Point][]Handler),
	}
}

// Register adds a handler to the manager
func (m *Manager) Register(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, point := range handler.Points() {
		list := append(m.handlers[point], handler)
		// higher priority first, registration order among equals
		slices.SortStableFunc(list, func(a, b Handler) int {
			return b.Priority() - a.Priority()
		})
		m.handlers[point] = list
	}
}

// Trigger executes all handlers for a hook point in priority order.
// The first denial stops the chain and is returned. A nil Manager allows
// everything.
func (m *Manager) Trigger(ctx context.Context, data *Data) (*Feedback, error) {
	if m == nil {
		return Allow(), nil
	}

	m.mu.RLock()
	handlers := slices.Clone(m.handlers[data.Point])
	m.mu.RUnlock()

	for _, handler := range handlers {
		feedback, err := handler.Handle(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("hook %s: %w", handler.Name(), err)
		}
		if feedback != nil && !feedback.Allow {
			return feedback, nil
		}
	}

	return Allow(), nil
}

// Notify triggers a notification point, ignoring feedback and errors
func (m *Manager) Notify(ctx context.Context, data *Data) {
	_, _ = m.Trigger(ctx, data)
}
