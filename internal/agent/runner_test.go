package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/harunnryd/chatloop/internal/checkpoint"
	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/conversation"
	chatErrors "github.com/harunnryd/chatloop/internal/errors"
	"github.com/harunnryd/chatloop/internal/model"
	"github.com/harunnryd/chatloop/internal/model/contract"
	"github.com/harunnryd/chatloop/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []*policy.AuditEntry
}

func (a *recordingAudit) Log(ctx context.Context, entry *policy.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) Query(ctx context.Context, filter *policy.AuditFilter) ([]*policy.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*policy.AuditEntry(nil), a.entries...), nil
}

type harness struct {
	runner *Runner
	store  *checkpoint.MemoryStore
	model  *scriptedModel
	tools  *fakeTools
	audit  *recordingAudit
}

func newHarness(t *testing.T, agentCfg config.AgentConfig, tools *fakeTools, turns ...modelTurn) *harness {
	t.Helper()
	m := &scriptedModel{turns: turns}
	if agentCfg.Model == "" {
		agentCfg.Model = "test-model"
	}
	machine, err := NewMachine(m, tools, agentCfg)
	require.NoError(t, err)

	store := checkpoint.NewMemoryStore()
	audit := &recordingAudit{}
	return &harness{
		runner: NewRunner(machine, store, audit, config.StreamConfig{EventBuffer: 4}),
		store:  store,
		model:  m,
		tools:  tools,
		audit:  audit,
	}
}

func ask(text string) contract.Message {
	return contract.Message{Role: contract.RoleUser, Content: text}
}

func catCall() contract.ToolCall {
	return contract.ToolCall{ID: "call_img", Name: "generate_image", Arguments: map[string]interface{}{"prompt": "a cat"}}
}

func TestRunner_PlainAnswer(t *testing.T) {
	h := newHarness(t, config.AgentConfig{}, newFakeTools("generate_image"), textReply("2 + 2", " = 4"))
	ctx := context.Background()

	ch, err := h.runner.Start(ctx, "conv-1", "", ask("what's 2+2"))
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, 2, countOf[TextDelta](events))
	assert.Equal(t, 0, countOf[ToolCallChunk](events))
	assert.Equal(t, 0, countOf[Failed](events))
	settled := lastSettled(t, events)
	assert.Equal(t, conversation.NextNone, settled.Next)
	assert.Nil(t, settled.Pending)

	snap, err := h.store.Load(ctx, "conv-1", settled.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, conversation.PhaseTerminal, snap.State.Phase)
	require.Len(t, snap.State.Messages, 2)
	assert.Equal(t, "2 + 2 = 4", snap.State.Messages[1].Content)

	history, err := h.store.List(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i := 1; i < len(history); i++ {
		assert.Equal(t, history[i-1].ID, history[i].ParentID)
	}

	require.Equal(t, 1, h.model.calls())
	req := h.model.requests[0]
	assert.Equal(t, contract.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "what's 2+2", req.Messages[1].Content)
	assert.Len(t, req.Tools, 3)
}

func TestRunner_ApprovalRoundTrip(t *testing.T) {
	h := newHarness(t, config.AgentConfig{}, newFakeTools("generate_image"),
		toolReply(catCall()),
		textReply("Here is your cat."),
	)
	ctx := context.Background()

	ch, err := h.runner.Start(ctx, "conv-1", "", ask("generate a picture of a cat"))
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, 3, countOf[ToolCallChunk](events))
	interrupt := lastSettled(t, events)
	assert.Equal(t, conversation.NextAwaitingApproval, interrupt.Next)
	require.NotNil(t, interrupt.Pending)
	require.Len(t, interrupt.Pending.Calls, 1)
	assert.Equal(t, "call_img", interrupt.Pending.Calls[0].ID)
	assert.Empty(t, h.tools.names(), "nothing runs before approval")

	ch, err = h.runner.Resume(ctx, "conv-1", interrupt.CheckpointID, []conversation.ApprovalDecision{
		{ID: "call_img", Decision: conversation.DecisionApproved},
	})
	require.NoError(t, err)
	events = collect(t, ch)

	require.Equal(t, 1, countOf[ToolResult](events))
	for _, ev := range events {
		if res, ok := ev.(ToolResult); ok {
			assert.Equal(t, "call_img", res.ToolCallID)
			assert.Equal(t, "generate_image", res.Name)
			assert.Equal(t, "result:generate_image", res.Content)
		}
	}
	done := lastSettled(t, events)
	assert.Equal(t, conversation.NextNone, done.Next)
	assert.Equal(t, []string{"generate_image"}, h.tools.names())

	require.Equal(t, 2, h.model.calls())
	second := h.model.requests[1].Messages
	assert.Equal(t, contract.RoleTool, second[len(second)-1].Role)

	decisions := make([]string, 0, len(h.audit.entries))
	for _, e := range h.audit.entries {
		decisions = append(decisions, e.Decision)
	}
	assert.Equal(t, []string{"requested", "approved"}, decisions)
}

func TestRunner_ResumeIsIdempotent(t *testing.T) {
	h := newHarness(t, config.AgentConfig{}, newFakeTools("generate_image"),
		toolReply(catCall()),
		textReply("Here is your cat."),
	)
	ctx := context.Background()

	ch, err := h.runner.Start(ctx, "conv-1", "", ask("generate a picture of a cat"))
	require.NoError(t, err)
	interrupt := lastSettled(t, collect(t, ch))

	approve := []conversation.ApprovalDecision{{ID: "call_img", Decision: conversation.DecisionApproved}}
	ch, err = h.runner.Resume(ctx, "conv-1", interrupt.CheckpointID, approve)
	require.NoError(t, err)
	first := lastSettled(t, collect(t, ch))

	ch, err = h.runner.Resume(ctx, "conv-1", interrupt.CheckpointID, approve)
	require.NoError(t, err)
	again := collect(t, ch)
	assert.Equal(t, 0, countOf[ToolResult](again))
	assert.Equal(t, first, lastSettled(t, again))
	assert.Equal(t, []string{"generate_image"}, h.tools.names())
	assert.Equal(t, 2, h.model.calls())

	// A different outcome branches from the same checkpoint.
	ch, err = h.runner.Resume(ctx, "conv-1", interrupt.CheckpointID, []conversation.ApprovalDecision{
		{ID: "call_img", Decision: conversation.DecisionRejected},
	})
	require.NoError(t, err)
	rejected := collect(t, ch)
	assert.Equal(t, 0, countOf[ToolResult](rejected))
	branch := lastSettled(t, rejected)
	assert.NotEqual(t, first.CheckpointID, branch.CheckpointID)
	assert.Equal(t, []string{"generate_image"}, h.tools.names())
}

func TestRunner_AllRejectedDropsCalls(t *testing.T) {
	h := newHarness(t, config.AgentConfig{}, newFakeTools("generate_image"), toolReply(catCall()))
	ctx := context.Background()

	ch, err := h.runner.Start(ctx, "conv-1", "", ask("generate a picture of a cat"))
	require.NoError(t, err)
	interrupt := lastSettled(t, collect(t, ch))

	ch, err = h.runner.Resume(ctx, "conv-1", interrupt.CheckpointID, nil)
	require.NoError(t, err)
	done := lastSettled(t, collect(t, ch))
	assert.Equal(t, conversation.NextNone, done.Next)
	assert.Empty(t, h.tools.names())

	snap, err := h.store.Load(ctx, "conv-1", done.CheckpointID)
	require.NoError(t, err)
	last := snap.State.Messages[len(snap.State.Messages)-1]
	assert.Equal(t, contract.RoleAssistant, last.Role)
	assert.Equal(t, "msg_tools", last.ID)
	assert.Empty(t, last.ToolCalls)
}

func TestRunner_NewMessageWhileAwaitingApproval(t *testing.T) {
	h := newHarness(t, config.AgentConfig{}, newFakeTools("generate_image"), toolReply(catCall()))
	ctx := context.Background()

	ch, err := h.runner.Start(ctx, "conv-1", "", ask("generate a picture of a cat"))
	require.NoError(t, err)
	collect(t, ch)

	_, err = h.runner.Start(ctx, "conv-1", "", ask("never mind"))
	assert.ErrorIs(t, err, chatErrors.ErrApprovalRequired)

	_, err = h.runner.Continue(ctx, "conv-1", "")
	assert.ErrorIs(t, err, chatErrors.ErrApprovalRequired)
}

func TestRunner_ResumeWithoutPendingApproval(t *testing.T) {
	h := newHarness(t, config.AgentConfig{}, newFakeTools(), textReply("4"))
	ctx := context.Background()

	ch, err := h.runner.Start(ctx, "conv-1", "", ask("what's 2+2"))
	require.NoError(t, err)
	done := lastSettled(t, collect(t, ch))

	ch, err = h.runner.Resume(ctx, "conv-1", done.CheckpointID, nil)
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 1)
	failed, ok := events[0].(Failed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, chatErrors.ErrNoPendingApproval)

	_, err = h.runner.Continue(ctx, "conv-1", done.CheckpointID)
	assert.ErrorIs(t, err, chatErrors.ErrInvalidInput)

	_, err = h.runner.Resume(ctx, "conv-1", "01ARZ3NDEKTSV4RRFFQ69G5FAV", nil)
	assert.ErrorIs(t, err, chatErrors.ErrNotFound)
}

func TestRunner_ResumeAfterDangerSetChangedFails(t *testing.T) {
	h := newHarness(t, config.AgentConfig{}, newFakeTools("generate_image"), toolReply(catCall()))
	ctx := context.Background()

	ch, err := h.runner.Start(ctx, "conv-1", "", ask("generate a picture of a cat"))
	require.NoError(t, err)
	interrupt := lastSettled(t, collect(t, ch))
	require.Equal(t, conversation.NextAwaitingApproval, interrupt.Next)

	before, err := h.store.List(ctx, "conv-1")
	require.NoError(t, err)

	machine, err := NewMachine(h.model, newFakeTools(), config.AgentConfig{Model: "test-model"})
	require.NoError(t, err)
	relaxed := NewRunner(machine, h.store, h.audit, config.StreamConfig{EventBuffer: 4})

	ch, err = relaxed.Resume(ctx, "conv-1", interrupt.CheckpointID, []conversation.ApprovalDecision{
		{ID: "call_img", Decision: conversation.DecisionApproved},
	})
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 1)
	failed, ok := events[0].(Failed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, chatErrors.ErrRoutingInvariant)

	after, err := h.store.List(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Empty(t, h.tools.names())
}

func TestRunner_RejectsConcurrentTurn(t *testing.T) {
	release := make(chan struct{})
	blocking := func(req contract.CompletionRequest, onDelta model.DeltaFunc) (*contract.CompletionResponse, error) {
		<-release
		return textReply("done")(req, onDelta)
	}
	h := newHarness(t, config.AgentConfig{}, newFakeTools(), blocking, textReply("again"))
	ctx := context.Background()

	ch, err := h.runner.Start(ctx, "conv-1", "", ask("slow"))
	require.NoError(t, err)

	_, err = h.runner.Start(ctx, "conv-1", "", ask("impatient"))
	assert.ErrorIs(t, err, chatErrors.ErrConflict)

	_, err = h.runner.Start(ctx, "", "", ask("who"))
	assert.ErrorIs(t, err, chatErrors.ErrInvalidInput)

	close(release)
	lastSettled(t, collect(t, ch))

	ch, err = h.runner.Start(ctx, "conv-1", "", ask("next"))
	require.NoError(t, err)
	assert.Equal(t, conversation.NextNone, lastSettled(t, collect(t, ch)).Next)
}

func TestRunner_DetachKeepsFinishedToolResults(t *testing.T) {
	tools := newFakeTools()
	h := newHarness(t, config.AgentConfig{}, tools,
		toolReply(
			contract.ToolCall{ID: "t1", Name: "get_current_time", Arguments: map[string]interface{}{}},
			contract.ToolCall{ID: "t2", Name: "get_current_time", Arguments: map[string]interface{}{"timezone": "UTC"}},
		),
		textReply("It is noon."),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var once sync.Once
	tools.onCall = func(string) { once.Do(cancel) }

	ch, err := h.runner.Start(ctx, "conv-1", "", ask("what time is it"))
	require.NoError(t, err)
	events := collect(t, ch)
	assert.Equal(t, 0, countOf[Settled](events))
	assert.Equal(t, 0, countOf[Failed](events))

	snap, err := h.store.Load(context.Background(), "conv-1", "")
	require.NoError(t, err)
	assert.Equal(t, conversation.NextContinue, snap.State.Next)
	assert.Equal(t, conversation.PhaseToolExec, snap.State.Phase)
	last := snap.State.Messages[len(snap.State.Messages)-1]
	assert.Equal(t, "t1", last.ToolCallID)

	tools.onCall = nil
	ch, err = h.runner.Continue(context.Background(), "conv-1", "")
	require.NoError(t, err)
	events = collect(t, ch)
	assert.Equal(t, 1, countOf[ToolResult](events))
	assert.Equal(t, conversation.NextNone, lastSettled(t, events).Next)
	assert.Equal(t, []string{"get_current_time", "get_current_time"}, tools.names())
}

func TestRunner_StepLimit(t *testing.T) {
	loop := toolReply(contract.ToolCall{ID: "t1", Name: "get_current_time", Arguments: map[string]interface{}{}})
	h := newHarness(t, config.AgentConfig{MaxSteps: 1}, newFakeTools(), loop, loop)

	ch, err := h.runner.Start(context.Background(), "conv-1", "", ask("loop forever"))
	require.NoError(t, err)
	events := collect(t, ch)

	failed, ok := events[len(events)-1].(Failed)
	require.True(t, ok)
	assert.True(t, errors.Is(failed.Err, chatErrors.ErrInternal))
	assert.Equal(t, 1, h.model.calls())
}
