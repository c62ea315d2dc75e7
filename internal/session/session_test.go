package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeStore is a minimal GetSaver for hierarchy tests.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*Session)}
}

func (f *fakeStore) Get(_ context.Context, id string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, errNotFound(id)
	}
	return s, nil
}

func (f *fakeStore) Save(_ context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

type notFoundErr string

func (e notFoundErr) Error() string { return "not found: " + string(e) }

func errNotFound(id string) error { return notFoundErr(id) }

func TestNewSessionDefaults(t *testing.T) {
	t.Parallel()

	s := New()
	require.NotEmpty(t, s.ID)
	require.Contains(t, s.ID, "sess-")
	require.False(t, s.CreatedAt.IsZero())
	require.Empty(t, s.Events)
	require.NotNil(t, s.Metadata)
	require.NotNil(t, s.State)
}

func TestCreateSyncsParentChildIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newFakeStore()

	parent, err := Create(ctx, st)
	require.NoError(t, err)

	child, err := Create(ctx, st, WithParent(parent.ID))
	require.NoError(t, err)

	storedParent, err := st.Get(ctx, parent.ID)
	require.NoError(t, err)
	require.Contains(t, storedParent.ChildIDs, child.ID)
	require.Equal(t, parent.ID, child.ParentID)
}

func TestCreateFailsWhenParentMissing(t *testing.T) {
	t.Parallel()

	_, err := Create(context.Background(), newFakeStore(), WithParent("sess-ghost"))
	require.Error(t, err)
}

func TestAddEventRejectsUnknownParentEvent(t *testing.T) {
	t.Parallel()

	s := New()
	ev := NewEvent(TypeToolCall, SourceSystem, "result").WithParent("ev-ghost")
	err := s.AddEvent(ev)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parent event ev-ghost does not exist")
}

func TestAddEventBuildsTree(t *testing.T) {
	t.Parallel()

	s := New()
	root := NewEvent(TypeMessage, SourceLLM, "batch")
	require.NoError(t, s.AddEvent(root))

	child := NewEvent(TypeToolCall, SourceSystem, "result").WithParent(root.ID)
	require.NoError(t, s.AddEvent(child))

	kids := s.ChildrenOf(root.ID)
	require.Len(t, kids, 1)
	require.Equal(t, child.ID, kids[0].ID)
}

func TestConcurrentAppendsSerializeAndKeepUniqueIDs(t *testing.T) {
	t.Parallel()

	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, s.AddEvent(NewEvent(TypeMessage, SourceUser, "ping")))
		}()
	}
	wg.Wait()

	events := s.EventsSnapshot()
	require.Len(t, events, 32)
	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		require.False(t, seen[ev.ID], "duplicate event id %s", ev.ID)
		seen[ev.ID] = true
	}
}

func TestEventTimestampsNonDecreasing(t *testing.T) {
	t.Parallel()

	s := New()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.AddEvent(NewEvent(TypeMessage, SourceUser, i)))
	}

	events := s.EventsSnapshot()
	for i := 1; i < len(events); i++ {
		require.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestLastUpdateTime(t *testing.T) {
	t.Parallel()

	s := New()
	require.Equal(t, s.CreatedAt, s.LastUpdateTime())

	ev := NewEvent(TypeMessage, SourceUser, "hello")
	ev.Timestamp = s.CreatedAt.Add(time.Minute)
	require.NoError(t, s.AddEvent(ev))
	require.Equal(t, ev.Timestamp, s.LastUpdateTime())
}

func TestTotalUsageAggregatesAcrossEvents(t *testing.T) {
	t.Parallel()

	s := New()
	e1 := NewEvent(TypeMessage, SourceLLM, "a").WithUsage(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Model: "gpt-4o-mini"})
	e2 := NewEvent(TypeMessage, SourceLLM, "b").WithUsage(TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5, Model: "gpt-4o-mini"})
	require.NoError(t, s.AddEvent(e1))
	require.NoError(t, s.AddEvent(e2))

	total := s.TotalUsage()
	require.Equal(t, 13, total.PromptTokens)
	require.Equal(t, 7, total.CompletionTokens)
	require.Equal(t, 20, total.TotalTokens)
	require.Equal(t, "gpt-4o-mini", total.Model)

	byModel := s.UsageByModel()
	require.Len(t, byModel, 1)
	require.Equal(t, 20, byModel["gpt-4o-mini"].TotalTokens)
}

func TestAncestorsWalkNearestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newFakeStore()

	root, err := Create(ctx, st)
	require.NoError(t, err)
	mid, err := Create(ctx, st, WithParent(root.ID))
	require.NoError(t, err)
	leaf, err := Create(ctx, st, WithParent(mid.ID))
	require.NoError(t, err)

	ancestors, err := leaf.Ancestors(ctx, st)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	require.Equal(t, mid.ID, ancestors[0].ID)
	require.Equal(t, root.ID, ancestors[1].ID)

	descendants, err := root.Descendants(ctx, st)
	require.NoError(t, err)
	require.Len(t, descendants, 2)
	require.Equal(t, mid.ID, descendants[0].ID)
	require.Equal(t, leaf.ID, descendants[1].ID)
}

func TestSessionJSONRoundTrip(t *testing.T) {
	t.Parallel()

	s := New(WithMetadata(map[string]any{"origin": "cli"}))
	run := NewRun()
	require.NoError(t, run.MarkRunning())
	require.NoError(t, run.MarkCompleted())
	s.AddRun(run)

	root := NewEvent(TypeMessage, SourceUser, "find flights")
	require.NoError(t, s.AddEvent(root))
	child := NewEvent(TypeToolCall, SourceSystem, map[string]any{"tool": "search", "result": []any{"a", "b"}}).
		WithParent(root.ID).
		WithTask(run.ID)
	require.NoError(t, s.AddEvent(child))
	s.SetState("cursor", "1.2")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	restored := &Session{}
	require.NoError(t, json.Unmarshal(data, restored))

	require.Equal(t, s.ID, restored.ID)
	require.Equal(t, len(s.Events), len(restored.Events))
	require.Equal(t, s.Events[1].ID, restored.Events[1].ID)
	require.Equal(t, run.ID, restored.Runs[0].ID)
	require.Equal(t, RunCompleted, restored.Runs[0].Status)

	// Serialized forms are identical as well.
	again, err := json.Marshal(restored)
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(again))
}
