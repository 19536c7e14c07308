package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	toolcore "github.com/harunnryd/chatloop/internal/tool"
)

func init() {
	toolcore.RegisterBuiltin("get_current_time", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &TimeTool{now: time.Now}, nil
	})
}

// TimeTool returns the current date and time in ISO-8601.
type TimeTool struct {
	now func() time.Time
}

func (t *TimeTool) Name() string {
	return "get_current_time"
}

func (t *TimeTool) Description() string {
	return "Get the current date and time in ISO-8601 format."
}

func (t *TimeTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"time.query", "clock.now"},
		Risk:         toolcore.RiskLow,
	}
}

func (t *TimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"utc_offset": map[string]interface{}{
				"type":        "string",
				"description": "UTC offset like +07:00 (optional, defaults to UTC)",
			},
		},
	}
}

func (t *TimeTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args struct {
		UTCOffset string `json:"utc_offset"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}

	now := time.Now
	if t.now != nil {
		now = t.now
	}
	current := now().UTC()

	offset := strings.TrimSpace(args.UTCOffset)
	if offset != "" {
		seconds, err := parseUTCOffset(offset)
		if err != nil {
			return nil, err
		}
		current = current.In(time.FixedZone(offset, seconds))
	}

	return json.Marshal(current.Format(time.RFC3339))
}

func parseUTCOffset(offset string) (int, error) {
	if len(offset) != 6 || offset[3] != ':' {
		return 0, fmt.Errorf("invalid utc_offset format %q, want +HH:MM", offset)
	}
	if offset[0] != '+' && offset[0] != '-' {
		return 0, fmt.Errorf("invalid utc_offset sign")
	}
	for _, i := range []int{1, 2, 4, 5} {
		if offset[i] < '0' || offset[i] > '9' {
			return 0, fmt.Errorf("invalid utc_offset format %q, want +HH:MM", offset)
		}
	}

	hours := int(offset[1]-'0')*10 + int(offset[2]-'0')
	minutes := int(offset[4]-'0')*10 + int(offset[5]-'0')
	if hours > 23 || minutes > 59 {
		return 0, fmt.Errorf("invalid utc_offset value")
	}

	totalSeconds := hours*3600 + minutes*60
	if offset[0] == '-' {
		totalSeconds = -totalSeconds
	}
	return totalSeconds, nil
}
