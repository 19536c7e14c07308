package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrInvalidInput - malformed request body, unknown content part, bad decision payload
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - unknown conversation or checkpoint
	ErrNotFound = errors.New("not found")

	// ErrConflict - another turn is already running for the conversation
	ErrConflict = errors.New("conflict")

	// ErrTransient - provider outage, rate limit or timeout; safe to retry the turn
	ErrTransient = errors.New("transient error")

	// ErrApprovalRequired - the conversation is suspended at the approval gate
	ErrApprovalRequired = errors.New("approval required")

	// ErrNoPendingApproval - a resume arrived for a conversation that is not suspended
	ErrNoPendingApproval = errors.New("no pending approval")

	// ErrRoutingInvariant - the state machine reached a phase it can never legally reach
	ErrRoutingInvariant = errors.New("routing invariant violated")

	// ErrInternal - everything else (generic message on the wire, details in the log)
	ErrInternal = errors.New("internal error")
)
