package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/chatloop/internal/model"
	"github.com/harunnryd/chatloop/internal/model/contract"
)

type modelTurn func(req contract.CompletionRequest, onDelta model.DeltaFunc) (*contract.CompletionResponse, error)

type scriptedModel struct {
	mu       sync.Mutex
	turns    []modelTurn
	requests []contract.CompletionRequest
}

func (m *scriptedModel) Route(ctx context.Context, modelName string, req contract.CompletionRequest, onDelta model.DeltaFunc) (*contract.CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.turns) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("no scripted model turn left")
	}
	turn := m.turns[0]
	m.turns = m.turns[1:]
	m.mu.Unlock()
	return turn(req, onDelta)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func textReply(chunks ...string) modelTurn {
	return func(req contract.CompletionRequest, onDelta model.DeltaFunc) (*contract.CompletionResponse, error) {
		text := ""
		for _, c := range chunks {
			onDelta(contract.Delta{Text: c})
			text += c
		}
		return &contract.CompletionResponse{Message: contract.Message{Role: contract.RoleAssistant, Content: text}}, nil
	}
}

// toolReply streams each call as an id-carrying fragment followed by
// index-only argument fragments.
func toolReply(calls ...contract.ToolCall) modelTurn {
	return func(req contract.CompletionRequest, onDelta model.DeltaFunc) (*contract.CompletionResponse, error) {
		for i, c := range calls {
			onDelta(contract.Delta{ToolCall: &contract.ToolCallDelta{Index: i, ID: c.ID, Name: c.Name}})
			args := c.ArgumentsJSON()
			half := len(args) / 2
			onDelta(contract.Delta{ToolCall: &contract.ToolCallDelta{Index: i, Arguments: args[:half]}})
			onDelta(contract.Delta{ToolCall: &contract.ToolCallDelta{Index: i, Arguments: args[half:]}})
		}
		return &contract.CompletionResponse{Message: contract.Message{
			ID:        "msg_tools",
			Role:      contract.RoleAssistant,
			ToolCalls: calls,
		}}, nil
	}
}

type fakeTools struct {
	mu      sync.Mutex
	danger  map[string]bool
	invoked []contract.ToolCall
	onCall  func(name string)
}

func newFakeTools(danger ...string) *fakeTools {
	d := map[string]bool{}
	for _, n := range danger {
		d[n] = true
	}
	return &fakeTools{danger: d}
}

func (f *fakeTools) Definitions() []contract.ToolDef {
	return []contract.ToolDef{
		{Name: "generate_image", Description: "make a picture"},
		{Name: "get_current_time", Description: "clock"},
		{Name: "python", Description: "run code"},
	}
}

func (f *fakeTools) RequiresApproval(name string) bool {
	return f.danger[name]
}

func (f *fakeTools) Invoke(ctx context.Context, name string, args map[string]interface{}) string {
	f.mu.Lock()
	f.invoked = append(f.invoked, contract.ToolCall{Name: name, Arguments: args})
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return "result:" + name
}

func (f *fakeTools) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.invoked))
	for _, c := range f.invoked {
		out = append(out, c.Name)
	}
	return out
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for turn events")
			return out
		}
	}
}

func lastSettled(t *testing.T, events []Event) Settled {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events")
	}
	s, ok := events[len(events)-1].(Settled)
	if !ok {
		t.Fatalf("last event is %T, want Settled", events[len(events)-1])
	}
	return s
}

func countOf[T Event](events []Event) int {
	n := 0
	for _, ev := range events {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}
