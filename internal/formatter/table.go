package formatter

import (
	"strconv"
	"time"

	"github.com/harunnryd/chatloop/internal/checkpoint"
	"github.com/harunnryd/chatloop/internal/policy"
	"github.com/harunnryd/chatloop/internal/tool"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

type TableFormatter struct {
	headerStyle  lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *TableFormatter) newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers(headers...)
}

func (f *TableFormatter) FormatCheckpoints(metas []checkpoint.Meta) (string, error) {
	if len(metas) == 0 {
		return "No checkpoints found", nil
	}

	t := f.newTable("Step", "Checkpoint", "Parent", "Next", "Phase", "Created")
	for _, m := range metas {
		t.Row(
			strconv.Itoa(m.Step),
			m.ID,
			m.ParentID,
			string(m.Next),
			string(m.Phase),
			m.CreatedAt.Local().Format(time.DateTime),
		)
	}
	return t.String(), nil
}

func (f *TableFormatter) FormatTools(caps []tool.Capability) (string, error) {
	if len(caps) == 0 {
		return "No tools registered", nil
	}

	t := f.newTable("Name", "Approval", "Risk", "Description")
	for _, c := range caps {
		approval := "no"
		if c.RequiresApproval {
			approval = "yes"
		}
		t.Row(c.Name, approval, string(c.Risk), truncateString(c.Description, 60))
	}
	return t.String(), nil
}

func (f *TableFormatter) FormatAudit(entries []*policy.AuditEntry) (string, error) {
	if len(entries) == 0 {
		return "No audit entries found", nil
	}

	t := f.newTable("Time", "Conversation", "Tool", "Call", "Decision")
	for _, e := range entries {
		t.Row(
			e.Timestamp.Local().Format(time.DateTime),
			e.ConversationID,
			e.ToolName,
			e.ToolCallID,
			e.Decision,
		)
	}
	return t.String(), nil
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
