package agent

import (
	"testing"

	"github.com/harunnryd/chatloop/internal/conversation"
	"github.com/harunnryd/chatloop/internal/model/contract"

	"github.com/stretchr/testify/assert"
)

func dangerSet(names ...string) func(string) bool {
	set := map[string]bool{}
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func assistantWith(names ...string) contract.Message {
	msg := contract.Message{ID: "m1", Role: contract.RoleAssistant, Content: "working on it"}
	for i, n := range names {
		msg.ToolCalls = append(msg.ToolCalls, contract.ToolCall{ID: string(rune('a' + i)), Name: n, Arguments: map[string]interface{}{}})
	}
	return msg
}

func TestRoute_SafeBatchesNeverNeedApproval(t *testing.T) {
	danger := dangerSet("python", "web_search", "generate_image")
	batches := [][]string{
		{"get_current_time"},
		{"document_search"},
		{"get_current_time", "document_search"},
		{"Python"},
		{"python_helper", "web"},
		{"unknown_tool", "get_current_time", "document_search"},
	}
	for _, batch := range batches {
		msgs := []contract.Message{{Role: contract.RoleUser, Content: "hi"}, assistantWith(batch...)}
		assert.Equal(t, conversation.PhaseToolExec, Route(msgs, danger), "batch %v", batch)
	}
}

func TestRoute_Transitions(t *testing.T) {
	danger := dangerSet("generate_image")
	user := contract.Message{Role: contract.RoleUser, Content: "hi"}
	tool := contract.Message{Role: contract.RoleTool, ToolCallID: "a", Content: "ok"}

	assert.Equal(t, conversation.PhaseModelCall, Route([]contract.Message{user}, danger))
	assert.Equal(t, conversation.PhaseModelCall, Route([]contract.Message{user, assistantWith("x"), tool}, danger))
	assert.Equal(t, conversation.PhaseTerminal, Route([]contract.Message{user, assistantWith()}, danger))
	assert.Equal(t, conversation.PhaseApproval, Route([]contract.Message{user, assistantWith("get_current_time", "generate_image")}, danger))
	assert.Equal(t, conversation.PhaseTerminal, Route(nil, danger))
}

func TestPendingForListsOnlyDangerousCalls(t *testing.T) {
	p := pendingFor(assistantWith("get_current_time", "python", "generate_image"), dangerSet("python", "generate_image"))
	if assert.Len(t, p.Calls, 2) {
		assert.Equal(t, "python", p.Calls[0].Name)
		assert.Equal(t, "b", p.Calls[0].ID)
		assert.Equal(t, "generate_image", p.Calls[1].Name)
	}
}
