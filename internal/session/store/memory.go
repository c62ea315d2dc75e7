package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/weftworks/loom/internal/session"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

// Memory is an ephemeral Store. Sessions are held as serialized snapshots;
// every Get materializes a fresh value, so callers never share state through
// the store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string][]byte)}
}

// Get loads a session by id.
func (m *Memory) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	data, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, loomerrors.NewSessionNotFoundError(id)
	}

	s := &session.Session{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, loomerrors.NewStoreError("get", id, err)
	}
	return s, nil
}

// Save snapshots the session.
func (m *Memory) Save(_ context.Context, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return loomerrors.NewStoreError("save", s.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = data
	return nil
}

// Delete removes a session; deleting an unknown id is an error.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return loomerrors.NewSessionNotFoundError(id)
	}
	delete(m.sessions, id)
	return nil
}

// List returns the stored ids with the given prefix, sorted.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		if prefix == "" || strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
