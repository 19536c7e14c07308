package agent

import (
	"encoding/json"
	"testing"

	"github.com/harunnryd/chatloop/internal/conversation"
	chatErrors "github.com/harunnryd/chatloop/internal/errors"
	"github.com/harunnryd/chatloop/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatedMessage() contract.Message {
	return contract.Message{
		ID:      "msg_1",
		Role:    contract.RoleAssistant,
		Content: "let me check",
		ToolCalls: []contract.ToolCall{
			{ID: "safe", Name: "get_current_time", Arguments: map[string]interface{}{}},
			{ID: "img", Name: "generate_image", Arguments: map[string]interface{}{"prompt": "a cat"}},
			{ID: "py", Name: "python", Arguments: map[string]interface{}{"code": "print(1)"}},
		},
	}
}

func TestGate_RejectedAndUndecidedAreDropped(t *testing.T) {
	danger := dangerSet("generate_image", "python")
	cases := map[string][]conversation.ApprovalDecision{
		"empty":     nil,
		"rejected":  {{ID: "img", Decision: conversation.DecisionRejected}, {ID: "py", Decision: conversation.DecisionRejected}},
		"mixed":     {{ID: "img", Decision: conversation.DecisionRejected}},
		"unknownID": {{ID: "other", Decision: conversation.DecisionApproved}},
	}
	for name, decisions := range cases {
		t.Run(name, func(t *testing.T) {
			rebuilt, verdicts, err := Gate(gatedMessage(), decisions, danger)
			require.NoError(t, err)
			assert.Equal(t, "msg_1", rebuilt.ID)
			assert.Equal(t, "let me check", rebuilt.Content)
			require.Len(t, rebuilt.ToolCalls, 1)
			assert.Equal(t, "safe", rebuilt.ToolCalls[0].ID)
			assert.Len(t, verdicts, 2)
		})
	}
}

func TestGate_AllDangerousRejectedLeavesEmptyBatch(t *testing.T) {
	msg := gatedMessage()
	msg.ToolCalls = msg.ToolCalls[1:]

	rebuilt, _, err := Gate(msg, []conversation.ApprovalDecision{{ID: "img", Decision: conversation.DecisionRejected}}, dangerSet("generate_image", "python"))
	require.NoError(t, err)
	assert.NotNil(t, rebuilt.ToolCalls)
	assert.Empty(t, rebuilt.ToolCalls)
	assert.Len(t, msg.ToolCalls, 2, "the original message is untouched")
}

func TestGate_ApprovedWithOverride(t *testing.T) {
	decisions := []conversation.ApprovalDecision{
		{ID: "img", Decision: conversation.DecisionApproved, Arguments: json.RawMessage(`{"prompt":"a dog"}`)},
		{ID: "py", Decision: conversation.DecisionApproved, Arguments: json.RawMessage(`"not a map"`)},
	}
	rebuilt, verdicts, err := Gate(gatedMessage(), decisions, dangerSet("generate_image", "python"))
	require.NoError(t, err)
	require.Len(t, rebuilt.ToolCalls, 3)
	assert.Equal(t, map[string]interface{}{"prompt": "a dog"}, rebuilt.ToolCalls[1].Arguments)
	assert.Equal(t, map[string]interface{}{"code": "print(1)"}, rebuilt.ToolCalls[2].Arguments)

	require.Len(t, verdicts, 2)
	assert.True(t, verdicts[0].Overridden)
	assert.False(t, verdicts[1].Overridden)
	assert.Equal(t, "approved", verdicts[1].Decision)
}

func TestGate_NoDangerousCallsIsInvariantViolation(t *testing.T) {
	_, _, err := Gate(assistantWith("get_current_time"), nil, dangerSet("python"))
	assert.ErrorIs(t, err, chatErrors.ErrRoutingInvariant)
}

func TestGate_IsDeterministic(t *testing.T) {
	decisions := []conversation.ApprovalDecision{{ID: "img", Decision: conversation.DecisionApproved}}
	a, _, err := Gate(gatedMessage(), decisions, dangerSet("generate_image", "python"))
	require.NoError(t, err)
	b, _, err := Gate(gatedMessage(), decisions, dangerSet("generate_image", "python"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseDecisions(t *testing.T) {
	got := ParseDecisions([]RawDecision{
		{ID: "", Decision: "approved"},
		{ID: "a", Decision: "maybe"},
		{ID: "b", Decision: " Approved "},
		{ID: "c", Decision: "rejected"},
		{ID: "b", Decision: "rejected"},
		{ID: "d", Decision: "approved", Arguments: json.RawMessage(`{"x":1}`)},
	})
	require.Len(t, got, 3)
	assert.Equal(t, conversation.ApprovalDecision{ID: "b", Decision: conversation.DecisionRejected}, got[0])
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, json.RawMessage(`{"x":1}`), got[2].Arguments)
}
