package formatter

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harunnryd/chatloop/internal/checkpoint"
	"github.com/harunnryd/chatloop/internal/policy"
	"github.com/harunnryd/chatloop/internal/tool"
)

type YAMLFormatter struct{}

func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) FormatCheckpoints(metas []checkpoint.Meta) (string, error) {
	return marshalYAML(metas)
}

func (f *YAMLFormatter) FormatTools(caps []tool.Capability) (string, error) {
	return marshalYAML(caps)
}

// FormatAudit drops the raw arguments; they are JSON and read poorly as YAML.
func (f *YAMLFormatter) FormatAudit(entries []*policy.AuditEntry) (string, error) {
	type row struct {
		Timestamp      string `yaml:"timestamp"`
		ConversationID string `yaml:"conversation_id"`
		CheckpointID   string `yaml:"checkpoint_id,omitempty"`
		ToolCallID     string `yaml:"tool_call_id"`
		ToolName       string `yaml:"tool_name"`
		Decision       string `yaml:"decision"`
	}
	rows := make([]row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, row{
			Timestamp:      e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			ConversationID: e.ConversationID,
			CheckpointID:   e.CheckpointID,
			ToolCallID:     e.ToolCallID,
			ToolName:       e.ToolName,
			Decision:       e.Decision,
		})
	}
	return marshalYAML(rows)
}

func marshalYAML(v interface{}) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
