package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harunnryd/chatloop/internal/conversation"
	chatErrors "github.com/harunnryd/chatloop/internal/errors"
	"github.com/harunnryd/chatloop/internal/model/contract"
)

// Verdict is the gate outcome for one dangerous call.
type Verdict struct {
	Call       contract.ToolCall
	Decision   string
	Overridden bool
}

const decisionUndecided = "undecided"

// Gate filters the tool calls of msg by decisions. Safe calls pass through;
// dangerous calls survive only with an approved decision, taking a map
// override as their arguments when one is given. The rebuilt message keeps
// msg's id and content.
func Gate(msg contract.Message, decisions []conversation.ApprovalDecision, dangerous func(string) bool) (contract.Message, []Verdict, error) {
	byID := make(map[string]conversation.ApprovalDecision, len(decisions))
	for _, d := range decisions {
		byID[d.ID] = d
	}

	kept := make([]contract.ToolCall, 0, len(msg.ToolCalls))
	var verdicts []Verdict
	for _, call := range msg.ToolCalls {
		if !dangerous(call.Name) {
			kept = append(kept, call)
			continue
		}

		d, ok := byID[call.ID]
		if !ok || call.ID == "" || d.Decision != conversation.DecisionApproved {
			decision := decisionUndecided
			if ok && call.ID != "" {
				decision = string(d.Decision)
			}
			verdicts = append(verdicts, Verdict{Call: call, Decision: decision})
			continue
		}

		v := Verdict{Call: call, Decision: string(conversation.DecisionApproved)}
		if override, ok := argumentOverride(d.Arguments); ok {
			call.Arguments = override
			v.Call = call
			v.Overridden = true
		}
		kept = append(kept, call)
		verdicts = append(verdicts, v)
	}

	if len(verdicts) == 0 {
		return msg, nil, chatErrors.RoutingInvariant("approval gate entered without dangerous tool calls")
	}

	rebuilt := msg
	rebuilt.ToolCalls = kept
	return rebuilt, verdicts, nil
}

func argumentOverride(raw json.RawMessage) (map[string]interface{}, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var out map[string]interface{}
	if err := json.Unmarshal(trimmed, &out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

// RawDecision is a resume payload entry as it arrives on the wire.
type RawDecision struct {
	ID        string          `json:"id"`
	Decision  string          `json:"decision"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ParseDecisions drops entries without an id or with a decision other than
// approved or rejected. Later entries for the same id win.
func ParseDecisions(raw []RawDecision) []conversation.ApprovalDecision {
	out := make([]conversation.ApprovalDecision, 0, len(raw))
	index := map[string]int{}
	for _, r := range raw {
		id := strings.TrimSpace(r.ID)
		decision := conversation.Decision(strings.ToLower(strings.TrimSpace(r.Decision)))
		if id == "" || (decision != conversation.DecisionApproved && decision != conversation.DecisionRejected) {
			slog.Debug("Dropping malformed approval decision", "id", r.ID, "decision", r.Decision)
			continue
		}
		d := conversation.ApprovalDecision{ID: id, Decision: decision, Arguments: r.Arguments}
		if i, seen := index[id]; seen {
			out[i] = d
			continue
		}
		index[id] = len(out)
		out = append(out, d)
	}
	return out
}

func (v Verdict) String() string {
	return fmt.Sprintf("%s(%s)=%s", v.Call.Name, v.Call.ID, v.Decision)
}
