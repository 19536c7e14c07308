package agent

import (
	"github.com/harunnryd/chatloop/internal/conversation"
	"github.com/harunnryd/chatloop/internal/model/contract"
)

// Route picks the phase after ROUTE from the tail of the log. A user or tool
// message asks for a model call; an assistant message ends the turn, runs its
// tools, or suspends for approval when any call is dangerous.
func Route(msgs []contract.Message, dangerous func(string) bool) conversation.Phase {
	if len(msgs) == 0 {
		return conversation.PhaseTerminal
	}
	last := msgs[len(msgs)-1]
	if last.Role != contract.RoleAssistant {
		return conversation.PhaseModelCall
	}
	if len(last.ToolCalls) == 0 {
		return conversation.PhaseTerminal
	}
	for _, c := range last.ToolCalls {
		if dangerous(c.Name) {
			return conversation.PhaseApproval
		}
	}
	return conversation.PhaseToolExec
}

// pendingFor lists the dangerous calls of msg.
func pendingFor(msg contract.Message, dangerous func(string) bool) *conversation.PendingApproval {
	p := &conversation.PendingApproval{Calls: []conversation.PendingCall{}}
	for _, c := range msg.ToolCalls {
		if !dangerous(c.Name) {
			continue
		}
		p.Calls = append(p.Calls, conversation.PendingCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	return p
}
