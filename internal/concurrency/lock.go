package concurrency

import "sync"

// TurnGuard admits at most one in-flight turn per conversation.
type TurnGuard struct {
	active map[string]struct{}
	mu     sync.Mutex
}

func NewTurnGuard() *TurnGuard {
	return &TurnGuard{
		active: make(map[string]struct{}),
	}
}

// TryAcquire marks conversationID busy. It returns false when a turn for the
// same conversation is already running.
func (g *TurnGuard) TryAcquire(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[conversationID]; busy {
		return false
	}
	g.active[conversationID] = struct{}{}
	return true
}

func (g *TurnGuard) Release(conversationID string) {
	g.mu.Lock()
	delete(g.active, conversationID)
	g.mu.Unlock()
}

// Busy reports whether a turn is running for conversationID.
func (g *TurnGuard) Busy(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.active[conversationID]
	return busy
}
