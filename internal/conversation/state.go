package conversation

import (
	"encoding/json"

	"github.com/harunnryd/chatloop/internal/model/contract"
)

// Next is the pending action recorded on a state.
type Next string

const (
	NextNone             Next = "none"
	NextAwaitingApproval Next = "awaiting-approval"
	NextContinue         Next = "continue"
)

// Phase is the state machine position a snapshot resumes from.
type Phase string

const (
	PhaseRoute     Phase = "ROUTE"
	PhaseModelCall Phase = "MODEL_CALL"
	PhaseApproval  Phase = "APPROVAL"
	PhaseToolExec  Phase = "TOOL_EXEC"
	PhaseTerminal  Phase = "TERMINAL"
)

// State is the conversation as the state machine owns it: an append-only
// message log plus where the machine stands.
type State struct {
	ConversationID string             `json:"conversation_id"`
	Messages       []contract.Message `json:"messages"`
	Next           Next               `json:"next"`
	Phase          Phase              `json:"phase"`
	Pending        *PendingApproval   `json:"pending,omitempty"`
	// Steps counts model calls in the current turn.
	Steps int `json:"steps"`
}

// PendingApproval lists the gated calls of the last assistant message.
type PendingApproval struct {
	Calls []PendingCall `json:"calls"`
}

type PendingCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalDecision is one entry of a resume payload. Arguments is kept raw so
// the gate can tell a map override from any other shape.
type ApprovalDecision struct {
	ID        string          `json:"id"`
	Decision  Decision        `json:"decision"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Clone returns a copy whose message slice and pending payload can be
// mutated without touching s.
func (s State) Clone() State {
	out := s
	out.Messages = append([]contract.Message(nil), s.Messages...)
	if s.Pending != nil {
		p := PendingApproval{Calls: append([]PendingCall(nil), s.Pending.Calls...)}
		out.Pending = &p
	}
	return out
}

// LastAssistant returns the index of the last assistant message, or -1.
func (s State) LastAssistant() int {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == contract.RoleAssistant {
			return i
		}
	}
	return -1
}

// Interrupted reports whether the state is suspended for approval.
func (s State) Interrupted() bool {
	return s.Next == NextAwaitingApproval && s.Pending != nil
}
