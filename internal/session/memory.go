package session

import (
	"context"
	"sync"
)

// Memory is an in-process Store. State is lost on restart.
type Memory struct {
	mu       sync.Mutex
	sessions map[int64]State
	pending  map[int64]string
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[int64]State),
		pending:  make(map[int64]string),
	}
}

// State returns the stored state of a user.
func (m *Memory) State(_ context.Context, userID int64) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok, nil
}

// SetState stores the state of a user.
func (m *Memory) SetState(_ context.Context, userID int64, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = s
	return nil
}

// SetPending replaces the pending code of a user.
func (m *Memory) SetPending(_ context.Context, userID int64, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[userID] = code
	return nil
}

// TakePending returns and clears the pending code of a user.
func (m *Memory) TakePending(_ context.Context, userID int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.pending[userID]
	delete(m.pending, userID)
	return code, ok, nil
}
