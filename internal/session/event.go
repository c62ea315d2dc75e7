package session

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies who produced an event.
type Source string

const (
	SourceUser   Source = "user"
	SourceLLM    Source = "llm"
	SourceSystem Source = "system"
)

// Type identifies what an event records.
type Type string

const (
	TypeMessage  Type = "message"
	TypeSummary  Type = "summary"
	TypeToolCall Type = "tool_call"
)

// MetaParentEventID is the metadata key that links an event to its parent,
// forming the in-session event tree.
const MetaParentEventID = "parent_event_id"

// Event is an append-only session record. Events are never mutated after
// append; the With* helpers return amended copies for use before appending.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      Type           `json:"type"`
	Source    Source         `json:"source"`
	Message   any            `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Usage     *TokenUsage    `json:"token_usage,omitempty"`
}

// NewEvent builds an event with a fresh id and a UTC timestamp.
func NewEvent(typ Type, src Source, message any) Event {
	return Event{
		ID:        "ev-" + uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Source:    src,
		Message:   message,
	}
}

// WithParent returns a copy linked under the given parent event id.
func (e Event) WithParent(parentID string) Event {
	return e.WithMetadata(MetaParentEventID, parentID)
}

// WithMetadata returns a copy carrying the extra metadata entry. The
// original's metadata map is never shared.
func (e Event) WithMetadata(key string, value any) Event {
	meta := make(map[string]any, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[key] = value
	e.Metadata = meta
	return e
}

// WithTask returns a copy linked to the given run id.
func (e Event) WithTask(taskID string) Event {
	e.TaskID = taskID
	return e
}

// WithUsage returns a copy carrying a token-usage record.
func (e Event) WithUsage(usage TokenUsage) Event {
	e.Usage = &usage
	return e
}

// ParentEventID returns the parent event id, or "" for roots.
func (e Event) ParentEventID() string {
	if e.Metadata == nil {
		return ""
	}
	id, _ := e.Metadata[MetaParentEventID].(string)
	return id
}
