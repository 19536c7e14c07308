package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/docindex"
	"github.com/harunnryd/chatloop/internal/model"
	"github.com/harunnryd/chatloop/internal/policy"
	"github.com/harunnryd/chatloop/internal/sandbox"
	"github.com/harunnryd/chatloop/internal/tool"
	"github.com/harunnryd/chatloop/internal/tooling"
)

// Capabilities is everything a turn can reach outside the state machine: the
// model router and the tool registry with its governance.
type Capabilities struct {
	Router    *model.DefaultModelRouter
	Documents *docindex.Index
	Policy    *policy.Engine
	Audit     *policy.DefaultAuditLogger
	Registry  *tool.Registry
	Tools     *tool.Runner
}

// NewCapabilities wires the model router, document index, sandbox and tool
// registry from cfg. A router is optional only when withModels is false.
func NewCapabilities(ctx context.Context, cfg *config.Config, withModels bool) (*Capabilities, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	caps := &Capabilities{Policy: policy.NewEngine(cfg.Governance)}

	audit, err := policy.NewAuditLogger(cfg.Governance.Audit)
	if err != nil {
		return nil, fmt.Errorf("init audit log: %w", err)
	}
	caps.Audit = audit

	if withModels {
		router, err := model.NewModelRouter(cfg.Models)
		if err != nil {
			return nil, fmt.Errorf("init model router: %w", err)
		}
		caps.Router = router
	}

	deps := tooling.Deps{}
	if caps.Router != nil && strings.TrimSpace(cfg.Tools.Documents.Path) != "" {
		idx, err := docindex.Open(cfg.Tools.Documents, caps.Router, cfg.Models.Embedding)
		if err != nil {
			slog.Warn("Document index unavailable", "path", cfg.Tools.Documents.Path, "error", err)
		} else {
			caps.Documents = idx
			deps.Documents = idx
		}
	}

	if path := strings.TrimSpace(cfg.Tools.Python.SandboxPath); path != "" {
		sb, err := sandbox.NewBasicSandboxManager(path)
		if err != nil {
			slog.Warn("Python sandbox unavailable", "path", path, "error", err)
		} else {
			deps.Sandbox = sb
		}
	}

	built, err := tooling.Build(cfg, caps.Policy, deps)
	if err != nil {
		return nil, err
	}
	caps.Registry = built.Registry
	caps.Tools = built.Runner

	slog.Debug("Capabilities ready", "tools", len(caps.Tools.Definitions()), "danger_set", caps.Policy.DangerSet())
	return caps, nil
}

// OpenDocuments opens the document index for ingestion.
func (c *Capabilities) OpenDocuments(cfg *config.Config) (*docindex.Index, error) {
	if c.Documents != nil {
		return c.Documents, nil
	}
	if c.Router == nil {
		return nil, fmt.Errorf("document index needs an embedding model")
	}
	return docindex.Open(cfg.Tools.Documents, c.Router, cfg.Models.Embedding)
}
