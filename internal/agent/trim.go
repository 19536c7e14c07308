package agent

import (
	"github.com/harunnryd/chatloop/internal/model/contract"
)

const perMessageTokens = 4

// approxTokens estimates a message at four characters per token plus a fixed
// per-message overhead.
func approxTokens(m contract.Message) int {
	chars := len(m.Text()) + len(m.Role) + len(m.Name)
	for _, p := range m.Parts {
		if p.Type != contract.PartText {
			chars += len(p.Data) + len(p.URL)
		}
	}
	for _, c := range m.ToolCalls {
		chars += len(c.Name) + len(c.ArgumentsJSON())
	}
	return chars/4 + perMessageTokens
}

// Trim keeps the most recent messages that fit budget. The window always
// starts on a user message, always contains the latest user message and its
// followers even when they alone exceed the budget, and ends on a user or
// tool message.
func Trim(msgs []contract.Message, budget int) []contract.Message {
	end := len(msgs)
	for end > 0 && !endsWindow(msgs[end-1].Role) {
		end--
	}
	if end == 0 {
		return nil
	}

	lastUser := -1
	for i := end - 1; i >= 0; i-- {
		if msgs[i].Role == contract.RoleUser {
			lastUser = i
			break
		}
	}
	if lastUser < 0 {
		return nil
	}

	total := 0
	for _, m := range msgs[lastUser:end] {
		total += approxTokens(m)
	}

	start := lastUser
	for i := lastUser - 1; i >= 0; i-- {
		total += approxTokens(msgs[i])
		if budget > 0 && total > budget {
			break
		}
		if msgs[i].Role == contract.RoleUser {
			start = i
		}
	}

	return msgs[start:end]
}

func endsWindow(role string) bool {
	return role == contract.RoleUser || role == contract.RoleTool
}

// Sanitize repairs tool-call pairing inside a window. Tool results whose call
// is not in the window are dropped, and calls without a result are removed
// from every assistant message except a trailing one. An assistant message
// left with neither text nor calls is dropped.
func Sanitize(msgs []contract.Message) []contract.Message {
	calls := map[string]struct{}{}
	results := map[string]struct{}{}
	for _, m := range msgs {
		switch m.Role {
		case contract.RoleAssistant:
			for _, c := range m.ToolCalls {
				calls[c.ID] = struct{}{}
			}
		case contract.RoleTool:
			results[m.ToolCallID] = struct{}{}
		}
	}

	out := make([]contract.Message, 0, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case contract.RoleTool:
			if _, ok := calls[m.ToolCallID]; !ok {
				continue
			}
		case contract.RoleAssistant:
			if len(m.ToolCalls) == 0 || i == len(msgs)-1 {
				break
			}
			kept := make([]contract.ToolCall, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				if _, ok := results[c.ID]; ok {
					kept = append(kept, c)
				}
			}
			if len(kept) == len(m.ToolCalls) {
				break
			}
			m.ToolCalls = kept
			if len(kept) == 0 && m.Text() == "" {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
