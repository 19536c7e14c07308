package tooling

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/policy"
	"github.com/harunnryd/chatloop/internal/sandbox"
	"github.com/harunnryd/chatloop/internal/tool"
)

type echoTool struct{ name string }

func (e echoTool) Name() string                       { return e.name }
func (e echoTool) Description() string                { return "echo" }
func (e echoTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (e echoTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return json.Marshal("echo:" + string(input))
}

func TestBuildRegistersConfiguredBuiltins(t *testing.T) {
	sb, err := sandbox.NewBasicSandboxManager(t.TempDir())
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	cfg := &config.Config{
		Tools: config.ToolsConfig{
			Web:   config.WebToolConfig{BaseURL: "http://localhost:8888/search"},
			Image: config.ImageToolConfig{APIKey: "sk-test"},
		},
	}
	engine := policy.NewEngine(config.GovernanceConfig{RequireApproval: []string{"python"}})

	components, err := Build(cfg, engine, Deps{Sandbox: sb})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	for _, name := range []string{"web_search", "generate_image", "python", "get_current_time"} {
		if _, ok := components.Registry.Get(name); !ok {
			t.Fatalf("expected built-in tool %q to be registered", name)
		}
	}
	if _, ok := components.Registry.Get("document_search"); ok {
		t.Fatal("document_search must be disabled without an index")
	}
	if !components.Runner.RequiresApproval("python") || components.Runner.RequiresApproval("web_search") {
		t.Fatal("runner must follow the configured danger set")
	}
}

func TestBuildExtraToolsOverrideBuiltins(t *testing.T) {
	engine := policy.NewEngine(config.GovernanceConfig{})
	components, err := Build(&config.Config{}, engine, Deps{Extra: []tool.Tool{echoTool{name: "get_current_time"}}})
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	out := components.Runner.Invoke(context.Background(), "get_current_time", nil)
	if out != "echo:{}" {
		t.Fatalf("expected extra tool to replace built-in, got %q", out)
	}
}

func TestBuildRejectsBadTimeout(t *testing.T) {
	engine := policy.NewEngine(config.GovernanceConfig{})
	cfg := &config.Config{Governance: config.GovernanceConfig{ToolTimeout: "soon"}}
	if _, err := Build(cfg, engine, Deps{}); err == nil {
		t.Fatal("expected error for invalid tool timeout")
	}
}
