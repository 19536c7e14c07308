package agent

import (
	"strings"
	"testing"

	"github.com/harunnryd/chatloop/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func user(id, text string) contract.Message {
	return contract.Message{ID: id, Role: contract.RoleUser, Content: text}
}

func assistant(id, text string, calls ...contract.ToolCall) contract.Message {
	return contract.Message{ID: id, Role: contract.RoleAssistant, Content: text, ToolCalls: calls}
}

func toolResult(callID, text string) contract.Message {
	return contract.Message{ID: "tool_" + callID, Role: contract.RoleTool, ToolCallID: callID, Content: text}
}

func ids(msgs []contract.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestTrim_KeepsLatestUserEvenOverBudget(t *testing.T) {
	msgs := []contract.Message{
		user("u1", "first question"),
		assistant("a1", "first answer"),
		user("u2", strings.Repeat("long ", 200)),
		assistant("a2", "", contract.ToolCall{ID: "c1", Name: "get_current_time"}),
		toolResult("c1", "noon"),
	}

	got := Trim(msgs, 1)
	assert.Equal(t, []string{"u2", "a2", "tool_c1"}, ids(got))
}

func TestTrim_WindowStartsOnUserMessage(t *testing.T) {
	msgs := []contract.Message{
		user("u1", strings.Repeat("x", 400)),
		assistant("a1", strings.Repeat("y", 40)),
		user("u2", "b"),
	}

	got := Trim(msgs, 30)
	require.NotEmpty(t, got)
	assert.Equal(t, contract.RoleUser, got[0].Role)
	assert.Equal(t, []string{"u2"}, ids(got))
}

func TestTrim_DropsLeadingOrphansAndTrailingAssistant(t *testing.T) {
	msgs := []contract.Message{
		toolResult("old", "stale"),
		assistant("a0", "hello"),
		user("u1", "hi"),
		assistant("a1", "hey"),
		user("u2", "again"),
		assistant("a2", "still here"),
	}

	got := Trim(msgs, 100000)
	assert.Equal(t, []string{"u1", "a1", "u2"}, ids(got))
}

func TestTrim_NoUserMessage(t *testing.T) {
	assert.Empty(t, Trim([]contract.Message{assistant("a", "x")}, 100))
	assert.Empty(t, Trim(nil, 100))
}

func TestTrim_EveryWindowStartsOnUserAndKeepsLatestUser(t *testing.T) {
	msgs := []contract.Message{
		user("u1", "one"),
		assistant("a1", "", contract.ToolCall{ID: "c1", Name: "python"}),
		toolResult("c1", strings.Repeat("r", 120)),
		assistant("a2", "done"),
		user("u2", "two"),
		assistant("a3", "", contract.ToolCall{ID: "c2", Name: "web_search"}),
		toolResult("c2", "hits"),
	}

	for budget := 0; budget < 200; budget += 7 {
		got := Trim(msgs, budget)
		require.NotEmpty(t, got, "budget %d", budget)
		assert.Equal(t, contract.RoleUser, got[0].Role, "budget %d", budget)
		assert.Contains(t, ids(got), "u2", "budget %d", budget)
		assert.True(t, endsWindow(got[len(got)-1].Role), "budget %d", budget)
	}
}

func TestSanitize(t *testing.T) {
	msgs := []contract.Message{
		toolResult("orphan", "lost"),
		user("u1", "hi"),
		assistant("a1", "", contract.ToolCall{ID: "x"}, contract.ToolCall{ID: "y"}),
		toolResult("x", "ok"),
		assistant("a2", "", contract.ToolCall{ID: "z"}),
		user("u2", "next"),
		assistant("a3", "", contract.ToolCall{ID: "w"}),
	}

	got := Sanitize(msgs)
	assert.Equal(t, []string{"u1", "a1", "tool_x", "u2", "a3"}, ids(got))
	require.Len(t, got[1].ToolCalls, 1)
	assert.Equal(t, "x", got[1].ToolCalls[0].ID)
	assert.Len(t, got[4].ToolCalls, 1, "trailing calls are left alone")
	assert.Len(t, msgs[2].ToolCalls, 2, "input is not modified")
}
