package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name   string
	schema map[string]interface{}
	exec   func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub " + t.name }
func (t *stubTool) Parameters() map[string]interface{} {
	if t.schema != nil {
		return t.schema
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *stubTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	if t.exec != nil {
		return t.exec(ctx, input)
	}
	return json.Marshal("ok")
}

func newTestRunner(timeout time.Duration, tools ...Tool) *Runner {
	registry := NewRegistry()
	for _, t := range tools {
		registry.Register(t)
	}
	pol := policy.NewEngine(config.GovernanceConfig{RequireApproval: []string{"python", "generate_image"}})
	return NewRunner(registry, pol, timeout)
}

func TestRegistry_DescriptorsAreSorted(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubTool{name: "web_search"})
	registry.Register(&stubTool{name: " get_current_time "})

	_, ok := registry.Get("get_current_time")
	require.True(t, ok)

	defs := registry.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "get_current_time", defs[0].Name)
	assert.Equal(t, "web_search", defs[1].Name)
}

func TestRunnerList_FlagsDangerSet(t *testing.T) {
	r := newTestRunner(0, &stubTool{name: "python"}, &stubTool{name: "get_current_time"})

	caps := r.List()
	require.Len(t, caps, 2)
	assert.Equal(t, "get_current_time", caps[0].Name)
	assert.False(t, caps[0].RequiresApproval)
	assert.Equal(t, "python", caps[1].Name)
	assert.True(t, caps[1].RequiresApproval)
	assert.Equal(t, RiskMedium, caps[1].Risk)
}

func TestRunnerInvoke_UnknownToolIsResultText(t *testing.T) {
	r := newTestRunner(0, &stubTool{name: "get_current_time"})

	out := r.Invoke(context.Background(), "draw", nil)
	assert.Equal(t, "Error: draw is not a valid tool, try one of [get_current_time].", out)
}

func TestRunnerInvoke_PassesArgumentsAndUnwrapsStrings(t *testing.T) {
	var seen map[string]interface{}
	r := newTestRunner(0, &stubTool{name: "echo", exec: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		require.NoError(t, json.Unmarshal(input, &seen))
		return json.Marshal("hello")
	}})

	out := r.Invoke(context.Background(), "echo", map[string]interface{}{"x": 1})
	assert.Equal(t, "hello", out)
	assert.Equal(t, map[string]interface{}{"x": float64(1)}, seen)
}

func TestRunnerInvoke_FailuresBecomeText(t *testing.T) {
	r := newTestRunner(0,
		&stubTool{name: "boom", exec: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("kaboom")
		}},
		&stubTool{name: "strict", schema: map[string]interface{}{"required": []string{"query"}}},
	)

	assert.Equal(t, "Error: kaboom. Please fix your mistakes.", r.Invoke(context.Background(), "boom", nil))
	assert.Contains(t, r.Invoke(context.Background(), "strict", map[string]interface{}{}), "missing required field: query")
}

func TestRunnerInvoke_PanicIsResultText(t *testing.T) {
	r := newTestRunner(0, &stubTool{name: "crash", exec: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var counts map[string]int
		counts["x"]++
		return nil, nil
	}})

	out := r.Invoke(context.Background(), "crash", nil)
	assert.Contains(t, out, "Error: crash panicked")
	assert.Contains(t, out, "assignment to entry in nil map")
	assert.Equal(t, out, r.Invoke(context.Background(), "crash", nil))
}

func TestRunnerInvoke_TimeoutIsResultText(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	r := newTestRunner(20*time.Millisecond, &stubTool{name: "slow", exec: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		<-release
		return json.Marshal("late")
	}})

	out := r.Invoke(context.Background(), "slow", nil)
	assert.Equal(t, "Error: slow timed out after 20ms", out)
}

func TestRunnerInvoke_JSONResultsVerbatim(t *testing.T) {
	r := newTestRunner(0, &stubTool{name: "obj", exec: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"time":"now"}`), nil
	}})
	assert.Equal(t, `{"time":"now"}`, r.Invoke(context.Background(), "obj", nil))
}
