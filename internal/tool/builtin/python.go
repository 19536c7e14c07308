package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/chatloop/internal/logger"
	"github.com/harunnryd/chatloop/internal/sandbox"
	toolcore "github.com/harunnryd/chatloop/internal/tool"
)

const pythonScratchConversation = "scratch"

type pythonInput struct {
	Code string `json:"code"`
}

// PythonTool runs a script inside the caller's conversation sandbox.
type PythonTool struct {
	Sandbox sandbox.SandboxManager
	Command string
	Timeout time.Duration
}

func init() {
	toolcore.RegisterBuiltin("python", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		if options.Sandbox == nil {
			return nil, fmt.Errorf("no sandbox configured: %w", toolcore.ErrBuiltinUnavailable)
		}
		command := strings.TrimSpace(options.PythonCommand)
		if command == "" {
			command = "python3"
		}
		timeout := options.PythonTimeout
		if timeout <= 0 {
			timeout = toolcore.DefaultBuiltinPythonTimeout
		}
		return &PythonTool{Sandbox: options.Sandbox, Command: command, Timeout: timeout}, nil
	})
}

func (t *PythonTool) Name() string {
	return "python"
}

func (t *PythonTool) Description() string {
	return "Execute Python code and return its printed output. Use print() to show results. " +
		"Useful for calculations, data processing and quick experiments."
}

func (t *PythonTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"code.execute"},
		Risk:         toolcore.RiskHigh,
	}
}

func (t *PythonTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code": map[string]interface{}{
				"type":        "string",
				"description": "Python source to execute.",
			},
		},
		"required": []string{"code"},
	}
}

func (t *PythonTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args pythonInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if strings.TrimSpace(args.Code) == "" {
		return nil, fmt.Errorf("code is required")
	}

	conversationID := logger.GetConversationID(ctx)
	if conversationID == "" {
		conversationID = pythonScratchConversation
	}

	res, err := t.Sandbox.RunScript(ctx, conversationID, t.Command, args.Code, ".py", t.Timeout)
	if err != nil {
		return nil, err
	}

	return json.Marshal(formatRunResult(res, t.Timeout))
}

func formatRunResult(res *sandbox.Result, timeout time.Duration) string {
	output := strings.TrimRight(res.Output, "\n")
	switch {
	case res.TimedOut:
		if output == "" {
			return fmt.Sprintf("Execution timed out after %s.", timeout)
		}
		return fmt.Sprintf("%s\n\nExecution timed out after %s.", output, timeout)
	case res.ExitCode != 0:
		return fmt.Sprintf("%s\n\nProcess exited with code %d.", output, res.ExitCode)
	case output == "":
		return "Code executed successfully with no output."
	default:
		return output
	}
}
