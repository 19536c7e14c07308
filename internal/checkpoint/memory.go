package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/chatloop/internal/conversation"
)

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string][]Snapshot
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string][]Snapshot),
		now:   time.Now,
	}
}

func (m *MemoryStore) Save(ctx context.Context, conversationID, parentID string, state conversation.State) (string, error) {
	if err := validateConversationID(conversationID); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.convs[conversationID]
	created := m.now().UTC()
	snap := Snapshot{
		Meta: Meta{
			ID:             NewID(created),
			ParentID:       parentID,
			ConversationID: conversationID,
			Step:           stepAfter(lastMeta(history)),
			Next:           state.Next,
			Phase:          state.Phase,
			CreatedAt:      created,
		},
		State: state.Clone(),
	}
	m.convs[conversationID] = append(history, snap)
	return snap.ID, nil
}

func (m *MemoryStore) Load(ctx context.Context, conversationID, checkpointID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.convs[conversationID]
	if len(history) == 0 {
		return nil, notFound(conversationID, checkpointID)
	}
	if checkpointID == "" {
		snap := history[len(history)-1]
		snap.State = snap.State.Clone()
		return &snap, nil
	}
	for _, snap := range history {
		if snap.ID == checkpointID {
			snap.State = snap.State.Clone()
			return &snap, nil
		}
	}
	return nil, notFound(conversationID, checkpointID)
}

func (m *MemoryStore) List(ctx context.Context, conversationID string) ([]Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.convs[conversationID]
	out := make([]Meta, 0, len(history))
	for _, snap := range history {
		out = append(out, snap.Meta)
	}
	return out, nil
}

func (m *MemoryStore) Prune(ctx context.Context, conversationID string, keep int) (int, error) {
	keep = normalizeKeep(keep)

	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.convs[conversationID]
	if len(history) <= keep {
		return 0, nil
	}
	removed := len(history) - keep
	m.convs[conversationID] = append([]Snapshot(nil), history[removed:]...)
	return removed, nil
}

func (m *MemoryStore) Conversations(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.convs))
	for id := range m.convs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func lastMeta(history []Snapshot) *Meta {
	if len(history) == 0 {
		return nil
	}
	return &history[len(history)-1].Meta
}
