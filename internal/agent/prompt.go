package agent

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/model/contract"
)

// Instructions renders the system message prepended to every model call.
type Instructions struct {
	tmpl *template.Template
}

type instructionData struct {
	Date  string
	Tools []contract.ToolDef
}

func NewInstructions(text string) (*Instructions, error) {
	if strings.TrimSpace(text) == "" {
		text = config.DefaultAgentInstructionTemplate
	}
	tmpl, err := template.New("instructions").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse instruction template: %w", err)
	}
	return &Instructions{tmpl: tmpl}, nil
}

func (in *Instructions) Render(now time.Time, tools []contract.ToolDef) (contract.Message, error) {
	var sb strings.Builder
	if err := in.tmpl.Execute(&sb, instructionData{Date: now.Format(time.DateOnly), Tools: tools}); err != nil {
		return contract.Message{}, fmt.Errorf("render instruction template: %w", err)
	}
	return contract.Message{Role: contract.RoleSystem, Content: strings.TrimSpace(sb.String())}, nil
}
