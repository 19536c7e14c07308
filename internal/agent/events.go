package agent

import (
	"github.com/harunnryd/chatloop/internal/conversation"
	"github.com/harunnryd/chatloop/internal/model/contract"
)

// Event is the closed set of things the state machine reports while a turn
// runs. Consumers switch on the concrete type and ignore what they do not use.
type Event interface {
	isEvent()
}

// TextDelta is a fragment of assistant free text.
type TextDelta struct {
	Text string
}

// ToolCallChunk is a streamed tool-call fragment. Only the first fragment of
// a call is guaranteed to carry ID and Name; later ones may only have Index.
type ToolCallChunk struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ModelEnd carries the assembled assistant message of a model call.
type ModelEnd struct {
	Message contract.Message
}

// ToolResult is the outcome of one capability invocation.
type ToolResult struct {
	RunID      string
	ToolCallID string
	Name       string
	Content    string
}

// ApprovalApplied lists what the gate did with each dangerous call.
type ApprovalApplied struct {
	Verdicts []Verdict
}

// Settled is always the last event of a successful turn.
type Settled struct {
	CheckpointID string
	Next         conversation.Next
	Pending      *conversation.PendingApproval
}

// Failed is the last event of a turn that could not finish.
type Failed struct {
	Err error
}

func (TextDelta) isEvent()       {}
func (ToolCallChunk) isEvent()   {}
func (ModelEnd) isEvent()        {}
func (ToolResult) isEvent()      {}
func (ApprovalApplied) isEvent() {}
func (Settled) isEvent()         {}
func (Failed) isEvent()          {}
