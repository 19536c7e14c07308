package formatter

import (
	"encoding/json"

	"github.com/harunnryd/chatloop/internal/checkpoint"
	"github.com/harunnryd/chatloop/internal/policy"
	"github.com/harunnryd/chatloop/internal/tool"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatCheckpoints(metas []checkpoint.Meta) (string, error) {
	return marshalJSON(metas)
}

func (f *JSONFormatter) FormatTools(caps []tool.Capability) (string, error) {
	return marshalJSON(caps)
}

func (f *JSONFormatter) FormatAudit(entries []*policy.AuditEntry) (string, error) {
	return marshalJSON(entries)
}

func marshalJSON(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
