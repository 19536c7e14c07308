package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/chatloop/internal/concurrency"
	"github.com/harunnryd/chatloop/internal/logger"
	"github.com/harunnryd/chatloop/internal/model/contract"
	"github.com/harunnryd/chatloop/internal/policy"
)

// Runner is the capability registry as the state machine sees it: a listing
// with approval flags and an Invoke that never fails.
type Runner struct {
	registry *Registry
	policy   *policy.Engine
	timeout  time.Duration
}

func NewRunner(registry *Registry, policy *policy.Engine, timeout time.Duration) *Runner {
	return &Runner{
		registry: registry,
		policy:   policy,
		timeout:  timeout,
	}
}

func (r *Runner) GetDescriptors() []ToolDescriptor {
	if r == nil || r.registry == nil {
		return nil
	}
	return r.registry.GetDescriptors()
}

// Definitions returns the tool definitions bound to every model call.
func (r *Runner) Definitions() []contract.ToolDef {
	if r == nil || r.registry == nil {
		return nil
	}
	return r.registry.Definitions()
}

// List returns every registered capability with its approval flag.
func (r *Runner) List() []Capability {
	descriptors := r.GetDescriptors()
	out := make([]Capability, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, Capability{
			Name:             d.Definition.Name,
			Description:      d.Definition.Description,
			ArgumentSchema:   d.Definition.Parameters,
			RequiresApproval: r.RequiresApproval(d.Definition.Name),
			Risk:             d.Metadata.Risk,
		})
	}
	return out
}

// RequiresApproval reports whether name is in the configured danger set.
func (r *Runner) RequiresApproval(name string) bool {
	if r == nil {
		return false
	}
	return r.policy.RequiresApproval(name)
}

// Invoke runs a capability and always returns text. Unknown names, invalid
// arguments, failures and timeouts all come back as an error string for the
// model to read.
func (r *Runner) Invoke(ctx context.Context, name string, args map[string]interface{}) string {
	log := logger.From(ctx).With("tool", name)

	t, ok := r.registry.Get(name)
	if !ok {
		log.Warn("Model requested unknown tool")
		return fmt.Sprintf("Error: %s is not a valid tool, try one of [%s].", name, strings.Join(r.names(), ", "))
	}

	if err := ValidateArguments(t.Parameters(), args); err != nil {
		log.Warn("Tool input validation failed", "error", err)
		return fmt.Sprintf("Error: invalid arguments for %s: %v. Please fix your mistakes.", name, err)
	}

	input, err := json.Marshal(nonNil(args))
	if err != nil {
		return fmt.Sprintf("Error: arguments for %s are not serializable: %v", name, err)
	}

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	log.Info("Executing tool")

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	concurrency.SafeGo(runCtx, func() {
		result, err := t.Execute(runCtx, input)
		done <- outcome{result: result, err: err}
	}, func(p interface{}) {
		done <- outcome{err: fmt.Errorf("%s panicked: %v", name, p)}
	})

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		duration := time.Since(start)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			log.Error("Tool execution timed out", "duration", duration, "timeout", r.timeout)
			return fmt.Sprintf("Error: %s timed out after %s", name, r.timeout)
		}
		log.Warn("Tool execution cancelled", "duration", duration)
		return fmt.Sprintf("Error: %s was cancelled", name)
	}

	duration := time.Since(start)
	if out.err != nil {
		log.Error("Tool execution failed", "error", out.err, "duration", duration)
		return fmt.Sprintf("Error: %v. Please fix your mistakes.", out.err)
	}

	log.Info("Tool execution success", "duration", duration, "bytes", len(out.result))
	return resultText(out.result)
}

func (r *Runner) names() []string {
	descriptors := r.GetDescriptors()
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.Definition.Name)
	}
	return names
}

// resultText unwraps JSON string results; other JSON is returned verbatim.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func nonNil(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}
