package session

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Session is the scope across which turns run sequentially and shared tool
// state persists. A Session is owned by exactly one caller; it is never
// shared between sessions.
type Session struct {
	id    string
	state *State
	turn  sync.Mutex
}

// New creates a session with a fresh id and empty state
func New() *Session {
	return &Session{
		id:    uuid.NewString(),
		state: NewState(),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the session-scoped state handed to tools
func (s *Session) State() *State {
	return s.state
}

// Lock acquires the turn lock. Only one turn of a session runs at a time.
func (s *Session) Lock() {
	s.turn.Lock()
}

// Unlock releases the turn lock
func (s *Session) Unlock() {
	s.turn.Unlock()
}

// State is a key/value store owned by one session. Writers go through Update,
// which commits all of a mutation or none of it.
type State struct {
	values map[string]any
	mu     sync.RWMutex
}

// NewState creates an empty state
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Get returns a copy of the value stored under key
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return clone(v), ok
}

// Snapshot returns a copy of the whole state
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneMap(s.values)
}

// Update runs fn against a private copy of the state and commits the copy
// only if fn succeeds and ctx is still live. Concurrent updates are
// serialised.
func (s *State) Update(ctx context.Context, fn func(tx map[string]any) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := cloneMap(s.values)
	if err := fn(tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("state update not committed: %w", err)
	}

	s.values = tx
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = clone(v)
	}
	return out
}

// clone copies nested maps and slices so a transaction never aliases
// committed data
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case map[string]string:
		return maps.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = clone(t[i])
		}
		return out
	default:
		return v
	}
}
