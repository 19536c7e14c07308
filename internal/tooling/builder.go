package tooling

import (
	"fmt"
	"log/slog"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/policy"
	"github.com/harunnryd/chatloop/internal/sandbox"
	"github.com/harunnryd/chatloop/internal/tool"
	_ "github.com/harunnryd/chatloop/internal/tool/builtin"
)

// Components is the assembled capability registry.
type Components struct {
	Registry *tool.Registry
	Runner   *tool.Runner
}

// Deps are the runtime services some built-ins need. Nil fields disable the
// built-ins that depend on them.
type Deps struct {
	Documents tool.DocumentIndex
	Sandbox   sandbox.SandboxManager
	// Extra tools are registered after the built-ins and replace any built-in
	// with the same name.
	Extra []tool.Tool
}

func Build(cfg *config.Config, policyEngine *policy.Engine, deps Deps) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if policyEngine == nil {
		return nil, fmt.Errorf("policy engine cannot be nil")
	}

	builtinOptions, err := resolveBuiltinOptions(cfg, deps)
	if err != nil {
		return nil, err
	}

	toolTimeout, err := config.DurationOrDefault(cfg.Governance.ToolTimeout, config.DefaultGovernanceToolTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse governance.tool_timeout: %w", err)
	}

	toolRegistry := tool.NewRegistry()

	builtins, err := tool.InstantiateBuiltins(builtinOptions)
	if err != nil {
		return nil, fmt.Errorf("instantiate built-in tools: %w", err)
	}

	all := dedupeToolsByName(append(builtins, deps.Extra...))
	for _, t := range all {
		toolRegistry.Register(t)
	}
	slog.Info("Capabilities registered", "count", len(all), "builtin", len(builtins), "extra", len(deps.Extra))

	for _, name := range policyEngine.DangerSet() {
		if _, ok := toolRegistry.Get(name); !ok {
			slog.Warn("Approval required for unregistered capability", "tool", name)
		}
	}

	return &Components{
		Registry: toolRegistry,
		Runner:   tool.NewRunner(toolRegistry, policyEngine, toolTimeout),
	}, nil
}

// dedupeToolsByName keeps the first position of each name and the last tool
// registered under it.
func dedupeToolsByName(tools []tool.Tool) []tool.Tool {
	if len(tools) == 0 {
		return nil
	}

	indexByName := make(map[string]int, len(tools))
	ordered := make([]tool.Tool, 0, len(tools))

	for _, t := range tools {
		if t == nil {
			continue
		}
		name := tool.NormalizeToolName(t.Name())
		if name == "" {
			continue
		}

		if idx, exists := indexByName[name]; exists {
			ordered[idx] = t
			continue
		}

		indexByName[name] = len(ordered)
		ordered = append(ordered, t)
	}

	return ordered
}
