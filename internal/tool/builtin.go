package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/chatloop/internal/sandbox"
)

// ErrBuiltinUnavailable is returned by a factory whose backing service is not
// configured; the built-in is skipped instead of failing startup.
var ErrBuiltinUnavailable = errors.New("built-in unavailable")

// DocumentHit is one ranked chunk from the document index.
type DocumentHit struct {
	ID      string
	File    string
	Chunk   int
	Content string
	Score   float32
}

// DocumentIndex is the search side of the document store.
type DocumentIndex interface {
	Search(ctx context.Context, query string, top int) ([]DocumentHit, error)
}

// BuiltinOptions carries runtime dependencies needed by built-in tool factories.
type BuiltinOptions struct {
	WebBaseURL    string
	WebTimeout    time.Duration
	WebMaxResults int

	Documents     DocumentIndex
	DocumentsTopK int

	ImageAPIKey  string
	ImageBaseURL string
	ImageModel   string
	ImageSize    string

	PythonCommand string
	PythonTimeout time.Duration
	Sandbox       sandbox.SandboxManager
}

const (
	DefaultBuiltinWebTimeout    = 10 * time.Second
	DefaultBuiltinPythonTimeout = 60 * time.Second
)

type BuiltinFactory func(options BuiltinOptions) (Tool, error)

var builtinCatalog = struct {
	mu        sync.RWMutex
	factories map[string]BuiltinFactory
}{
	factories: map[string]BuiltinFactory{},
}

// RegisterBuiltin registers a built-in tool factory under a tool name.
// Intended to be called in init() from built-in tool files.
func RegisterBuiltin(name string, factory BuiltinFactory) {
	normalized := NormalizeToolName(name)
	if normalized == "" {
		panic("tool: built-in name cannot be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("tool: built-in factory cannot be nil (%s)", normalized))
	}

	builtinCatalog.mu.Lock()
	defer builtinCatalog.mu.Unlock()

	if _, exists := builtinCatalog.factories[normalized]; exists {
		panic(fmt.Sprintf("tool: built-in already registered: %s", normalized))
	}
	builtinCatalog.factories[normalized] = factory
}

// BuiltinNames returns all registered built-in names in deterministic order.
func BuiltinNames() []string {
	builtinCatalog.mu.RLock()
	defer builtinCatalog.mu.RUnlock()

	names := make([]string, 0, len(builtinCatalog.factories))
	for name := range builtinCatalog.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstantiateBuiltins constructs all built-in tools using their registered
// factories. Factories reporting ErrBuiltinUnavailable are skipped.
func InstantiateBuiltins(options BuiltinOptions) ([]Tool, error) {
	names := BuiltinNames()

	builtinCatalog.mu.RLock()
	factories := make(map[string]BuiltinFactory, len(builtinCatalog.factories))
	for name, factory := range builtinCatalog.factories {
		factories[name] = factory
	}
	builtinCatalog.mu.RUnlock()

	tools := make([]Tool, 0, len(names))
	for _, name := range names {
		t, err := factories[name](options)
		if errors.Is(err, ErrBuiltinUnavailable) {
			slog.Warn("Built-in tool disabled", "tool", name, "reason", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("instantiate built-in %q: %w", name, err)
		}
		tools = append(tools, t)
	}

	return tools, nil
}
