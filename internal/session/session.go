// Package session models the append-only conversation log: sessions, their
// events, runs, and token accounting. Persistence lives in session/store;
// this package only depends on the narrow Getter/Saver interfaces so callers
// decide which provider backs a session.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	loomerrors "github.com/weftworks/loom/pkg/errors"
)

// Getter loads sessions by id.
type Getter interface {
	Get(ctx context.Context, id string) (*Session, error)
}

// Saver persists sessions.
type Saver interface {
	Save(ctx context.Context, s *Session) error
}

// GetSaver combines loading and saving; the hierarchy factory needs both.
type GetSaver interface {
	Getter
	Saver
}

// Session is the root container of a conversation. The value guards its own
// event list: concurrent appends serialize on the session, as do marshals,
// so a session being saved never observes a half-appended event.
type Session struct {
	mu sync.Mutex

	ID        string
	CreatedAt time.Time
	Metadata  map[string]any
	ParentID  string
	ChildIDs  []string
	Events    []Event
	Runs      []*Run
	State     map[string]any
}

// Option customizes session construction.
type Option func(*Session)

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) { s.ID = id }
}

// WithParent links the new session under an existing one.
func WithParent(parentID string) Option {
	return func(s *Session) { s.ParentID = parentID }
}

// WithMetadata seeds the session's metadata map.
func WithMetadata(meta map[string]any) Option {
	return func(s *Session) {
		for k, v := range meta {
			s.Metadata[k] = v
		}
	}
}

// New builds a session without touching any store.
func New(opts ...Option) *Session {
	s := &Session{
		ID:        "sess-" + uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]any),
		State:     make(map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create builds a session, persists it, and when a parent is set keeps the
// hierarchy bidirectional: the parent's child list gains the new id before
// the child itself is saved.
func Create(ctx context.Context, st GetSaver, opts ...Option) (*Session, error) {
	s := New(opts...)

	if s.ParentID != "" {
		parent, err := st.Get(ctx, s.ParentID)
		if err != nil {
			return nil, err
		}
		parent.addChildID(s.ID)
		if err := st.Save(ctx, parent); err != nil {
			return nil, err
		}
	}

	if err := st.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) addChildID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.ChildIDs {
		if existing == id {
			return
		}
	}
	s.ChildIDs = append(s.ChildIDs, id)
}

// AddEvent appends an event. An event naming a parent that is not already in
// this session is rejected, which keeps the event tree self-contained.
func (s *Session) AddEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parent := ev.ParentEventID(); parent != "" {
		found := false
		for i := range s.Events {
			if s.Events[i].ID == parent {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("session %s: parent event %s does not exist", s.ID, parent)
		}
	}

	s.Events = append(s.Events, ev)
	return nil
}

// AddEventAndSave appends an event and persists the session. This is the
// only write path the engine uses; events are never reordered.
func (s *Session) AddEventAndSave(ctx context.Context, st Saver, ev Event) error {
	if err := s.AddEvent(ev); err != nil {
		return err
	}
	if err := st.Save(ctx, s); err != nil {
		return loomerrors.NewStoreError("save", s.ID, err)
	}
	return nil
}

// Event returns the event with the given id.
func (s *Session) Event(id string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Events {
		if s.Events[i].ID == id {
			return s.Events[i], true
		}
	}
	return Event{}, false
}

// EventsSnapshot returns a copy of the event list for safe iteration.
func (s *Session) EventsSnapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.Events))
	copy(out, s.Events)
	return out
}

// ChildrenOf returns the events whose parent_event_id equals the given id,
// in append order.
func (s *Session) ChildrenOf(parentID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for i := range s.Events {
		if s.Events[i].ParentEventID() == parentID {
			out = append(out, s.Events[i])
		}
	}
	return out
}

// AddRun attaches a run to the session.
func (s *Session) AddRun(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Runs = append(s.Runs, r)
}

// ActiveRun returns the most recent run still in the running state.
func (s *Session) ActiveRun() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.Runs) - 1; i >= 0; i-- {
		if s.Runs[i].Status == RunRunning {
			return s.Runs[i]
		}
	}
	return nil
}

// LastUpdateTime is the newest event timestamp, or the creation time for an
// empty session.
func (s *Session) LastUpdateTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.CreatedAt
	for i := range s.Events {
		if s.Events[i].Timestamp.After(last) {
			last = s.Events[i].Timestamp
		}
	}
	return last
}

// TotalUsage sums the token usage attached to the session's events.
func (s *Session) TotalUsage() TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total TokenUsage
	for i := range s.Events {
		if s.Events[i].Usage != nil {
			total = total.Add(*s.Events[i].Usage)
		}
	}
	return total
}

// UsageByModel breaks the token totals down per model name.
func (s *Session) UsageByModel() map[string]TokenUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TokenUsage)
	for i := range s.Events {
		u := s.Events[i].Usage
		if u == nil {
			continue
		}
		out[u.Model] = out[u.Model].Add(*u)
	}
	return out
}

// SetState stores an entry in the session's opaque state map.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == nil {
		s.State = make(map[string]any)
	}
	s.State[key] = value
}

// GetState reads an entry from the session's opaque state map.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.State[key]
	return v, ok
}

// Ancestors walks parent links through the store, nearest first.
func (s *Session) Ancestors(ctx context.Context, st Getter) ([]*Session, error) {
	var out []*Session
	seen := map[string]bool{s.ID: true}
	parentID := s.ParentID
	for parentID != "" {
		if seen[parentID] {
			return nil, fmt.Errorf("session %s: ancestry cycle through %s", s.ID, parentID)
		}
		seen[parentID] = true
		parent, err := st.Get(ctx, parentID)
		if err != nil {
			return nil, err
		}
		out = append(out, parent)
		parentID = parent.ParentID
	}
	return out, nil
}

// Descendants walks child links breadth-first through the store.
func (s *Session) Descendants(ctx context.Context, st Getter) ([]*Session, error) {
	var out []*Session
	seen := map[string]bool{s.ID: true}
	queue := append([]string(nil), s.childIDsSnapshot()...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		child, err := st.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
		queue = append(queue, child.childIDsSnapshot()...)
	}
	return out, nil
}

func (s *Session) childIDsSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ChildIDs))
	copy(out, s.ChildIDs)
	return out
}

type sessionJSON struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ParentID  string         `json:"parent_id,omitempty"`
	ChildIDs  []string       `json:"child_ids,omitempty"`
	Events    []Event        `json:"events,omitempty"`
	Runs      []*Run         `json:"runs,omitempty"`
	State     map[string]any `json:"state,omitempty"`
}

// MarshalJSON serializes the session under its own lock so stores always
// persist a consistent snapshot.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(sessionJSON{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		Metadata:  s.Metadata,
		ParentID:  s.ParentID,
		ChildIDs:  s.ChildIDs,
		Events:    s.Events,
		Runs:      s.Runs,
		State:     s.State,
	})
}

// UnmarshalJSON restores a session from its persisted form.
func (s *Session) UnmarshalJSON(data []byte) error {
	var raw sessionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ID = raw.ID
	s.CreatedAt = raw.CreatedAt
	s.Metadata = raw.Metadata
	s.ParentID = raw.ParentID
	s.ChildIDs = raw.ChildIDs
	s.Events = raw.Events
	s.Runs = raw.Runs
	s.State = raw.State
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	if s.State == nil {
		s.State = make(map[string]any)
	}
	return nil
}
