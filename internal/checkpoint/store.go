package checkpoint

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/conversation"
	chatErrors "github.com/harunnryd/chatloop/internal/errors"

	"github.com/oklog/ulid/v2"
)

// Meta describes one snapshot in a conversation's history.
type Meta struct {
	ID             string             `json:"id" yaml:"id"`
	ParentID       string             `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	ConversationID string             `json:"conversation_id" yaml:"conversation_id"`
	Step           int                `json:"step" yaml:"step"`
	Next           conversation.Next  `json:"next" yaml:"next"`
	Phase          conversation.Phase `json:"phase" yaml:"phase"`
	CreatedAt      time.Time          `json:"created_at" yaml:"created_at"`
}

// Snapshot is an immutable copy of a conversation state.
type Snapshot struct {
	Meta
	State conversation.State `json:"state"`
}

// Store persists state machine snapshots keyed by conversation id.
type Store interface {
	// Save appends a snapshot and returns its checkpoint id. Ids are
	// monotonic per conversation.
	Save(ctx context.Context, conversationID, parentID string, state conversation.State) (string, error)
	// Load returns the snapshot with checkpointID, or the latest when it is empty.
	Load(ctx context.Context, conversationID, checkpointID string) (*Snapshot, error)
	// List returns the history oldest first.
	List(ctx context.Context, conversationID string) ([]Meta, error)
	// Prune drops all but the newest keep snapshots and reports how many went.
	Prune(ctx context.Context, conversationID string, keep int) (int, error)
	Conversations(ctx context.Context) ([]string, error)
	Close() error
}

// New builds the store selected by cfg.Driver.
func New(cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "memory":
		return NewMemoryStore(), nil
	case "", "file":
		return NewFileStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

var ids = struct {
	mu      sync.Mutex
	lastMs  uint64
	entropy *ulid.MonotonicEntropy
}{
	entropy: ulid.Monotonic(rand.Reader, 0),
}

// NewID returns a ULID strictly greater than every id it returned before,
// even when the wall clock steps backwards.
func NewID(now time.Time) string {
	ids.mu.Lock()
	defer ids.mu.Unlock()

	ms := ulid.Timestamp(now)
	if ms < ids.lastMs {
		ms = ids.lastMs
	}
	ids.lastMs = ms
	return ulid.MustNew(ms, ids.entropy).String()
}

func validateConversationID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || trimmed == "." || trimmed == ".." {
		return chatErrors.InvalidInput("conversation id is required")
	}
	return nil
}

// dirName maps a conversation id to a single reversible path segment.
func dirName(conversationID string) string {
	return url.PathEscape(conversationID)
}

func conversationFromDir(name string) (string, bool) {
	id, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	return id, true
}

func notFound(conversationID, checkpointID string) error {
	if checkpointID == "" {
		return chatErrors.NotFound(fmt.Sprintf("no checkpoints for conversation %s", conversationID))
	}
	return chatErrors.NotFound(fmt.Sprintf("checkpoint %s not found for conversation %s", checkpointID, conversationID))
}

func normalizeKeep(keep int) int {
	if keep < 1 {
		return 1
	}
	return keep
}

func stepAfter(last *Meta) int {
	if last == nil {
		return 1
	}
	return last.Step + 1
}
