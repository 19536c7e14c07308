package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/conversation"
	chatErrors "github.com/harunnryd/chatloop/internal/errors"
	"github.com/harunnryd/chatloop/internal/logger"
	"github.com/harunnryd/chatloop/internal/model"
	"github.com/harunnryd/chatloop/internal/model/contract"

	"github.com/oklog/ulid/v2"
)

// Model is the language-model capability the machine calls.
type Model interface {
	Route(ctx context.Context, modelName string, req contract.CompletionRequest, onDelta model.DeltaFunc) (*contract.CompletionResponse, error)
}

// Capabilities is the tool registry as the machine sees it.
type Capabilities interface {
	Definitions() []contract.ToolDef
	RequiresApproval(name string) bool
	Invoke(ctx context.Context, name string, args map[string]interface{}) string
}

// Machine performs single state machine transitions. It holds no
// conversation state; everything it knows about a turn is in the State it is
// handed.
type Machine struct {
	model        Model
	tools        Capabilities
	instructions *Instructions
	modelName    string
	tokenBudget  int
	maxSteps     int
	now          func() time.Time
}

func NewMachine(m Model, tools Capabilities, cfg config.AgentConfig) (*Machine, error) {
	if m == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if tools == nil {
		return nil, fmt.Errorf("capabilities cannot be nil")
	}
	instructions, err := NewInstructions(cfg.InstructionTemplate)
	if err != nil {
		return nil, err
	}

	tokenBudget := cfg.TokenBudget
	if tokenBudget <= 0 {
		tokenBudget = config.DefaultAgentTokenBudget
	}
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = config.DefaultAgentMaxSteps
	}

	return &Machine{
		model:        m,
		tools:        tools,
		instructions: instructions,
		modelName:    cfg.Model,
		tokenBudget:  tokenBudget,
		maxSteps:     maxSteps,
		now:          time.Now,
	}, nil
}

// Step runs the transition for st.Phase and returns the resulting state.
// decisions are only read in APPROVAL. On error the returned state is the
// input state, except for TOOL_EXEC cancelled part way, which returns the
// results gathered so far.
func (m *Machine) Step(ctx context.Context, st conversation.State, decisions []conversation.ApprovalDecision, emit func(Event)) (conversation.State, error) {
	next := st.Clone()
	switch st.Phase {
	case conversation.PhaseRoute, "":
		return m.route(next), nil
	case conversation.PhaseModelCall:
		return m.callModel(ctx, next, emit)
	case conversation.PhaseApproval:
		return m.applyApproval(next, decisions, emit)
	case conversation.PhaseToolExec:
		return m.execTools(ctx, next, emit)
	case conversation.PhaseTerminal:
		return next, nil
	default:
		return st, chatErrors.RoutingInvariant(fmt.Sprintf("unknown phase %q", st.Phase))
	}
}

func (m *Machine) route(st conversation.State) conversation.State {
	st.Phase = Route(st.Messages, m.tools.RequiresApproval)
	st.Pending = nil
	switch st.Phase {
	case conversation.PhaseApproval:
		st.Pending = pendingFor(st.Messages[len(st.Messages)-1], m.tools.RequiresApproval)
		st.Next = conversation.NextAwaitingApproval
	case conversation.PhaseTerminal:
		st.Next = conversation.NextNone
		st.Steps = 0
	default:
		st.Next = conversation.NextContinue
	}
	return st
}

func (m *Machine) callModel(ctx context.Context, st conversation.State, emit func(Event)) (conversation.State, error) {
	if st.Steps >= m.maxSteps {
		return st, chatErrors.Internal(fmt.Sprintf("turn stopped after %d model calls", st.Steps))
	}

	system, err := m.instructions.Render(m.now(), m.tools.Definitions())
	if err != nil {
		return st, err
	}
	window := Sanitize(Trim(st.Messages, m.tokenBudget))
	req := contract.CompletionRequest{
		Model:    m.modelName,
		Messages: append([]contract.Message{system}, window...),
		Tools:    m.tools.Definitions(),
	}

	logger.From(ctx).Debug("Calling model", "model", m.modelName, "window", len(window), "log", len(st.Messages))

	resp, err := m.model.Route(ctx, m.modelName, req, func(d contract.Delta) {
		if d.Text != "" {
			emit(TextDelta{Text: d.Text})
		}
		if d.ToolCall != nil {
			emit(ToolCallChunk{
				Index:     d.ToolCall.Index,
				ID:        d.ToolCall.ID,
				Name:      d.ToolCall.Name,
				Arguments: d.ToolCall.Arguments,
			})
		}
	})
	if err != nil {
		return st, fmt.Errorf("model call: %w", err)
	}
	if resp == nil {
		return st, chatErrors.Internal("model returned no response")
	}

	msg := resp.Message
	msg.Role = contract.RoleAssistant
	if msg.ID == "" {
		msg.ID = "msg_" + ulid.Make().String()
	}
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = "call_" + ulid.Make().String()
		}
		if msg.ToolCalls[i].Arguments == nil {
			msg.ToolCalls[i].Arguments = map[string]interface{}{}
		}
	}
	emit(ModelEnd{Message: msg})

	st.Messages = append(st.Messages, msg)
	st.Steps++
	st.Phase = conversation.PhaseRoute
	return st, nil
}

func (m *Machine) applyApproval(st conversation.State, decisions []conversation.ApprovalDecision, emit func(Event)) (conversation.State, error) {
	if !st.Interrupted() {
		return st, chatErrors.ErrNoPendingApproval
	}
	idx := st.LastAssistant()
	if idx < 0 || idx != len(st.Messages)-1 {
		return st, chatErrors.RoutingInvariant("approval pending without a trailing assistant message")
	}

	rebuilt, verdicts, err := Gate(st.Messages[idx], decisions, m.tools.RequiresApproval)
	if err != nil {
		return st, err
	}
	emit(ApprovalApplied{Verdicts: verdicts})

	st.Messages[idx] = rebuilt
	st.Pending = nil
	st.Next = conversation.NextContinue
	st.Phase = conversation.PhaseToolExec
	return st, nil
}

// execTools runs every call of the trailing assistant message that has no
// result yet. Calls already started finish even if ctx is cancelled; calls not
// yet started are left for a later continue.
func (m *Machine) execTools(ctx context.Context, st conversation.State, emit func(Event)) (conversation.State, error) {
	idx := st.LastAssistant()
	if idx < 0 {
		return st, chatErrors.RoutingInvariant("tool execution without an assistant message")
	}

	done := map[string]struct{}{}
	for _, msg := range st.Messages[idx+1:] {
		if msg.Role == contract.RoleTool {
			done[msg.ToolCallID] = struct{}{}
		}
	}

	log := logger.From(ctx)
	toolCtx := context.WithoutCancel(ctx)
	for _, call := range st.Messages[idx].ToolCalls {
		if _, ok := done[call.ID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			log.Info("Tool batch interrupted", "remaining_from", call.ID)
			return st, err
		}

		runID := ulid.Make().String()
		content := m.tools.Invoke(toolCtx, call.Name, call.Arguments)
		st.Messages = append(st.Messages, contract.Message{
			ID:         "tool_" + runID,
			Role:       contract.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Name:       call.Name,
		})
		done[call.ID] = struct{}{}
		emit(ToolResult{RunID: runID, ToolCallID: call.ID, Name: call.Name, Content: content})
	}

	st.Phase = conversation.PhaseRoute
	st.Next = conversation.NextContinue
	return st, nil
}
