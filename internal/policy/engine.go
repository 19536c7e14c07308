package policy

import (
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/chatloop/internal/config"
)

// Engine answers whether a capability needs a human decision before it runs.
// The danger set is configuration; nothing is hardcoded here.
type Engine struct {
	mu        sync.RWMutex
	dangerous map[string]struct{}
}

func NewEngine(cfg config.GovernanceConfig) *Engine {
	e := &Engine{}
	e.SetDangerSet(cfg.RequireApproval)
	return e
}

// SetDangerSet replaces the set of capability names gated behind approval.
func (e *Engine) SetDangerSet(names []string) {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		normalized := normalizeToolName(name)
		if normalized == "" {
			continue
		}
		set[normalized] = struct{}{}
	}

	e.mu.Lock()
	e.dangerous = set
	e.mu.Unlock()
}

// RequiresApproval matches the exact capability name against the danger set.
func (e *Engine) RequiresApproval(toolName string) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.dangerous[normalizeToolName(toolName)]
	return ok
}

// DangerSet returns the gated names in sorted order.
func (e *Engine) DangerSet() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.dangerous))
	for name := range e.dangerous {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeToolName(name string) string {
	return strings.TrimSpace(name)
}
