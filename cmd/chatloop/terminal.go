package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/harunnryd/chatloop/internal/conversation"
	"github.com/harunnryd/chatloop/internal/stream"

	"charm.land/lipgloss/v2"
)

// terminalSink renders wire chunks for a human at a terminal. It remembers
// the last interrupt so the caller can prompt for decisions.
type terminalSink struct {
	out io.Writer

	toolStyle   lipgloss.Style
	argsStyle   lipgloss.Style
	resultStyle lipgloss.Style
	promptStyle lipgloss.Style
	errorStyle  lipgloss.Style

	midLine      bool
	pending      *conversation.PendingApproval
	checkpointID string
}

func newTerminalSink(out io.Writer) *terminalSink {
	return &terminalSink{
		out:         out,
		toolStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("99")).Bold(true),
		argsStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		resultStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		promptStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		errorStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func (t *terminalSink) Write(c stream.Chunk) error {
	var err error
	switch c.Type {
	case stream.ChunkTextDelta:
		_, err = io.WriteString(t.out, c.Content)
		t.midLine = !strings.HasSuffix(c.Content, "\n")
	case stream.ChunkToolCallStart:
		t.newline()
		_, err = fmt.Fprint(t.out, t.toolStyle.Render("→ "+c.Name)+" ")
		t.midLine = true
	case stream.ChunkToolCallArgsDelta:
		_, err = fmt.Fprint(t.out, t.argsStyle.Render(c.ArgsFragment))
	case stream.ChunkToolResult:
		t.newline()
		_, err = fmt.Fprintln(t.out, t.resultStyle.Render("✓ "+c.Name+": ")+c.Content)
	case stream.ChunkInterrupt:
		t.newline()
		t.pending = c.Payload
		t.checkpointID = c.CheckpointID
		_, err = fmt.Fprintln(t.out, t.promptStyle.Render("Approval required (checkpoint "+c.CheckpointID+")"))
		if c.Payload != nil {
			for _, call := range c.Payload.Calls {
				args, _ := json.Marshal(call.Arguments)
				fmt.Fprintf(t.out, "  %s %s %s\n", call.ID, t.toolStyle.Render(call.Name), t.argsStyle.Render(string(args)))
			}
		}
	case stream.ChunkComplete:
		t.checkpointID = c.CheckpointID
		t.pending = nil
		t.newline()
	case stream.ChunkError:
		t.newline()
		_, err = fmt.Fprintln(t.out, t.errorStyle.Render(c.Message))
	case stream.ChunkEnd:
	}
	return err
}

func (t *terminalSink) newline() {
	if t.midLine {
		fmt.Fprintln(t.out)
		t.midLine = false
	}
}

// takePending returns and clears the last interrupt payload.
func (t *terminalSink) takePending() *conversation.PendingApproval {
	p := t.pending
	t.pending = nil
	return p
}
