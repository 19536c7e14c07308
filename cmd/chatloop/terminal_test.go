package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/harunnryd/chatloop/internal/conversation"
	"github.com/harunnryd/chatloop/internal/stream"
)

func TestTerminalSinkRendersTurn(t *testing.T) {
	var out bytes.Buffer
	sink := newTerminalSink(&out)

	chunks := []stream.Chunk{
		{Type: stream.ChunkTextDelta, Content: "Let me check"},
		{Type: stream.ChunkToolCallStart, ID: "c1", Name: "get_current_time"},
		{Type: stream.ChunkToolCallArgsDelta, ID: "c1", ArgsFragment: `{}`},
		{Type: stream.ChunkToolResult, ID: "c1", Name: "get_current_time", Content: "12:00"},
		{Type: stream.ChunkTextDelta, Content: "It is noon."},
		{Type: stream.ChunkComplete, CheckpointID: "cp-2"},
		{Type: stream.ChunkEnd},
	}
	for _, c := range chunks {
		if err := sink.Write(c); err != nil {
			t.Fatalf("Write(%s) error = %v", c.Type, err)
		}
	}

	text := out.String()
	for _, want := range []string{"Let me check", "get_current_time", "12:00", "It is noon."} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if !strings.HasSuffix(text, "\n") {
		t.Errorf("complete should end the line: %q", text)
	}
	if sink.checkpointID != "cp-2" {
		t.Errorf("checkpointID = %q", sink.checkpointID)
	}
	if sink.takePending() != nil {
		t.Error("no interrupt was sent")
	}
}

func TestTerminalSinkKeepsInterrupt(t *testing.T) {
	var out bytes.Buffer
	sink := newTerminalSink(&out)

	payload := &conversation.PendingApproval{Calls: []conversation.PendingCall{
		{ID: "c9", Name: "python", Arguments: map[string]interface{}{"code": "print(1)"}},
	}}
	if err := sink.Write(stream.Chunk{Type: stream.ChunkInterrupt, Payload: payload, CheckpointID: "cp-3"}); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out.String(), "c9") || !strings.Contains(out.String(), "print(1)") {
		t.Errorf("interrupt should list the pending call:\n%s", out.String())
	}
	if got := sink.takePending(); got != payload {
		t.Fatalf("takePending() = %v", got)
	}
	if sink.takePending() != nil {
		t.Fatal("takePending must clear the payload")
	}
}

func TestTerminalSinkError(t *testing.T) {
	var out bytes.Buffer
	sink := newTerminalSink(&out)
	_ = sink.Write(stream.Chunk{Type: stream.ChunkError, Message: stream.GenericErrorMessage})
	if !strings.Contains(out.String(), stream.GenericErrorMessage) {
		t.Errorf("error chunk not rendered: %q", out.String())
	}
}

func TestBuildDecisions(t *testing.T) {
	got := buildDecisions([]string{"a", " b "}, []string{"a", ""})
	if len(got) != 2 {
		t.Fatalf("decisions = %+v", got)
	}
	if got[0].ID != "a" || got[0].Decision != conversation.DecisionRejected {
		t.Errorf("later reject should win for a: %+v", got[0])
	}
	if got[1].ID != "b" || got[1].Decision != conversation.DecisionApproved {
		t.Errorf("b should be approved: %+v", got[1])
	}
}
