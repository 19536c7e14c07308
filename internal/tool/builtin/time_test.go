package builtin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
}

func TestTimeTool_DefaultsToUTC(t *testing.T) {
	tool := &TimeTool{now: fixedClock}
	raw, err := tool.Execute(context.Background(), nil)
	require.NoError(t, err)

	var out string
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "2026-03-01T10:30:00Z", out)
}

func TestTimeTool_AppliesOffset(t *testing.T) {
	tool := &TimeTool{now: fixedClock}
	raw, err := tool.Execute(context.Background(), json.RawMessage(`{"utc_offset":"+07:00"}`))
	require.NoError(t, err)

	var out string
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "2026-03-01T17:30:00+07:00", out)
}

func TestTimeTool_RejectsBadOffset(t *testing.T) {
	tool := &TimeTool{now: fixedClock}
	for _, in := range []string{`{"utc_offset":"7"}`, `{"utc_offset":"*07:00"}`, `{"utc_offset":"+25:00"}`, `{"utc_offset":"+0a:00"}`} {
		_, err := tool.Execute(context.Background(), json.RawMessage(in))
		assert.Error(t, err, in)
	}
}
