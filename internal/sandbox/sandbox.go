package sandbox

import (
	"context"
	"time"
)

// Sandbox is the working directory a conversation's code runs in.
type Sandbox struct {
	ID             string
	ConversationID string
	RootPath       string
	State          SandboxState
	CreatedAt      time.Time
}

type SandboxState string

const (
	SandboxStateReady    SandboxState = "ready"
	SandboxStateRunning  SandboxState = "running"
	SandboxStateTeardown SandboxState = "teardown"
)

// Result is the outcome of one script run.
type Result struct {
	Output   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

type SandboxManager interface {
	Setup(conversationID string) (*Sandbox, error)
	Teardown(conversationID string) error
	RunScript(ctx context.Context, conversationID string, command string, script string, ext string, timeout time.Duration) (*Result, error)
}
