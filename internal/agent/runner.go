package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/chatloop/internal/checkpoint"
	"github.com/harunnryd/chatloop/internal/concurrency"
	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/conversation"
	chatErrors "github.com/harunnryd/chatloop/internal/errors"
	"github.com/harunnryd/chatloop/internal/logger"
	"github.com/harunnryd/chatloop/internal/model/contract"
	"github.com/harunnryd/chatloop/internal/policy"

	"github.com/oklog/ulid/v2"
)

const auditRequested = "requested"

// Runner drives turns: it feeds states through the Machine, writes a
// snapshot after every transition and streams events to the caller.
type Runner struct {
	machine *Machine
	store   checkpoint.Store
	guard   *concurrency.TurnGuard
	audit   policy.AuditLogger
	buffer  int
}

func NewRunner(machine *Machine, store checkpoint.Store, audit policy.AuditLogger, cfg config.StreamConfig) *Runner {
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = config.DefaultStreamEventBuffer
	}
	return &Runner{
		machine: machine,
		store:   store,
		guard:   concurrency.NewTurnGuard(),
		audit:   audit,
		buffer:  buffer,
	}
}

// Start appends msg to the conversation and runs a turn. An empty
// checkpointID continues from the latest snapshot; a new conversation starts
// empty.
func (r *Runner) Start(ctx context.Context, conversationID, checkpointID string, msg contract.Message) (<-chan Event, error) {
	if err := r.acquire(conversationID); err != nil {
		return nil, err
	}

	st, parentID, err := r.loadForStart(ctx, conversationID, checkpointID)
	if err != nil {
		r.guard.Release(conversationID)
		return nil, err
	}

	msg.Role = contract.RoleUser
	if msg.ID == "" {
		msg.ID = "msg_" + ulid.Make().String()
	}
	st.ConversationID = conversationID
	st.Messages = append(st.Messages, msg)
	st.Phase = conversation.PhaseRoute
	st.Next = conversation.NextContinue
	st.Pending = nil
	st.Steps = 0

	id, err := r.store.Save(ctx, conversationID, parentID, st)
	if err != nil {
		r.guard.Release(conversationID)
		return nil, fmt.Errorf("save user message: %w", err)
	}
	logger.From(ctx).Info("Turn started", "checkpoint_id", id, "parent_id", parentID)

	return r.launch(ctx, conversationID, id, st, nil), nil
}

// Resume applies decisions to a snapshot suspended at the approval gate. A
// snapshot already resumed with the same outcome is not executed again; the
// earlier run is picked up where it stands.
func (r *Runner) Resume(ctx context.Context, conversationID, checkpointID string, decisions []conversation.ApprovalDecision) (<-chan Event, error) {
	if err := r.acquire(conversationID); err != nil {
		return nil, err
	}

	snap, err := r.store.Load(ctx, conversationID, checkpointID)
	if err != nil {
		r.guard.Release(conversationID)
		return nil, err
	}
	if !snap.State.Interrupted() || snap.State.Phase != conversation.PhaseApproval {
		return r.failed(ctx, conversationID, fmt.Errorf("checkpoint %s: %w", snap.ID, chatErrors.ErrNoPendingApproval)), nil
	}

	prior, err := r.priorResume(ctx, snap, decisions)
	if err != nil {
		return r.failed(ctx, conversationID, err), nil
	}
	if prior != nil {
		logger.From(ctx).Info("Resume matches an earlier run", "checkpoint_id", snap.ID, "resumed_at", prior.ID)
		return r.pickUp(ctx, conversationID, prior), nil
	}

	logger.From(ctx).Info("Turn resumed", "checkpoint_id", snap.ID, "decisions", len(decisions))
	return r.launch(ctx, conversationID, snap.ID, snap.State, decisions), nil
}

// Continue finishes a turn whose client went away before it settled.
func (r *Runner) Continue(ctx context.Context, conversationID, checkpointID string) (<-chan Event, error) {
	if err := r.acquire(conversationID); err != nil {
		return nil, err
	}

	snap, err := r.store.Load(ctx, conversationID, checkpointID)
	if err != nil {
		r.guard.Release(conversationID)
		return nil, err
	}

	switch snap.State.Next {
	case conversation.NextContinue:
		logger.From(ctx).Info("Turn continued", "checkpoint_id", snap.ID, "phase", snap.State.Phase)
		return r.launch(ctx, conversationID, snap.ID, snap.State, nil), nil
	case conversation.NextAwaitingApproval:
		r.guard.Release(conversationID)
		return nil, fmt.Errorf("checkpoint %s: %w", snap.ID, chatErrors.ErrApprovalRequired)
	default:
		r.guard.Release(conversationID)
		return nil, chatErrors.InvalidInput(fmt.Sprintf("checkpoint %s has no unfinished turn", snap.ID))
	}
}

func (r *Runner) acquire(conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return chatErrors.InvalidInput("conversation id is required")
	}
	if !r.guard.TryAcquire(conversationID) {
		return chatErrors.Conflict(fmt.Sprintf("a turn is already running for conversation %s", conversationID))
	}
	return nil
}

func (r *Runner) loadForStart(ctx context.Context, conversationID, checkpointID string) (conversation.State, string, error) {
	snap, err := r.store.Load(ctx, conversationID, checkpointID)
	if err != nil {
		if checkpointID == "" && errors.Is(err, chatErrors.ErrNotFound) {
			return conversation.State{ConversationID: conversationID}, "", nil
		}
		return conversation.State{}, "", err
	}
	if snap.State.Interrupted() {
		return conversation.State{}, "", fmt.Errorf("checkpoint %s: %w", snap.ID, chatErrors.ErrApprovalRequired)
	}
	return snap.State, snap.ID, nil
}

func (r *Runner) launch(ctx context.Context, conversationID, parentID string, st conversation.State, decisions []conversation.ApprovalDecision) <-chan Event {
	events := make(chan Event, r.buffer)
	concurrency.SafeGo(ctx, func() {
		defer close(events)
		defer r.guard.Release(conversationID)
		r.drive(ctx, conversationID, parentID, st, decisions, r.emitter(ctx, events))
	}, nil)
	return events
}

// emitter drops events once ctx is done so a vanished client never blocks
// the machine.
func (r *Runner) emitter(ctx context.Context, events chan<- Event) func(Event) {
	return func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
}

func (r *Runner) drive(ctx context.Context, conversationID, parentID string, st conversation.State, decisions []conversation.ApprovalDecision, emit func(Event)) {
	log := logger.From(ctx)
	saveCtx := context.WithoutCancel(ctx)

	step := func(ev Event) {
		if applied, ok := ev.(ApprovalApplied); ok {
			r.auditVerdicts(saveCtx, conversationID, parentID, applied.Verdicts)
		}
		emit(ev)
	}

	for {
		if ctx.Err() != nil {
			log.Info("Client detached, turn left to continue", "checkpoint_id", parentID, "phase", st.Phase)
			return
		}

		from := st.Phase
		next, err := r.machine.Step(ctx, st, decisions, step)
		decisions = nil
		if err != nil {
			if ctx.Err() != nil {
				if len(next.Messages) != len(st.Messages) {
					next.Next = conversation.NextContinue
					if id, saveErr := r.store.Save(saveCtx, conversationID, parentID, next); saveErr != nil {
						log.Error("Failed to save partial tool results", "error", saveErr)
					} else {
						log.Info("Saved partial tool results after detach", "checkpoint_id", id)
					}
				}
				log.Info("Client detached, turn left to continue", "checkpoint_id", parentID, "phase", from)
				return
			}
			log.Error("Turn failed", "phase", from, "checkpoint_id", parentID, "error", err)
			emit(Failed{Err: err})
			return
		}

		id, err := r.store.Save(saveCtx, conversationID, parentID, next)
		if err != nil {
			log.Error("Failed to save snapshot", "phase", from, "error", err)
			emit(Failed{Err: err})
			return
		}
		log.Debug("Transition", "from", from, "to", next.Phase, "checkpoint_id", id)
		parentID = id
		st = next

		switch st.Phase {
		case conversation.PhaseApproval:
			r.auditPending(saveCtx, conversationID, id, st.Pending)
			log.Info("Turn suspended for approval", "checkpoint_id", id, "pending", len(st.Pending.Calls))
			emit(Settled{CheckpointID: id, Next: st.Next, Pending: st.Pending})
			return
		case conversation.PhaseTerminal:
			log.Info("Turn complete", "checkpoint_id", id)
			emit(Settled{CheckpointID: id, Next: st.Next})
			return
		}
	}
}

// priorResume looks for an earlier resume of snap whose gate produced the
// same rebuilt log, and returns the furthest snapshot of that run.
func (r *Runner) priorResume(ctx context.Context, snap *checkpoint.Snapshot, decisions []conversation.ApprovalDecision) (*checkpoint.Snapshot, error) {
	gated, err := r.machine.Step(ctx, snap.State, decisions, func(Event) {})
	if err != nil {
		return nil, err
	}
	want, err := json.Marshal(gated.Messages)
	if err != nil {
		return nil, err
	}

	history, err := r.store.List(ctx, snap.ConversationID)
	if err != nil {
		return nil, err
	}
	children := map[string][]checkpoint.Meta{}
	for _, m := range history {
		children[m.ParentID] = append(children[m.ParentID], m)
	}

	for _, child := range children[snap.ID] {
		if child.Phase != conversation.PhaseToolExec {
			continue
		}
		candidate, err := r.store.Load(ctx, snap.ConversationID, child.ID)
		if err != nil {
			return nil, err
		}
		got, err := json.Marshal(candidate.State.Messages)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(got, want) {
			continue
		}

		tip := child
		for tip.Next == conversation.NextContinue && len(children[tip.ID]) > 0 {
			tip = children[tip.ID][0]
		}
		return r.store.Load(ctx, snap.ConversationID, tip.ID)
	}
	return nil, nil
}

// pickUp streams the outcome of an earlier run from snap on.
func (r *Runner) pickUp(ctx context.Context, conversationID string, snap *checkpoint.Snapshot) <-chan Event {
	if snap.State.Next == conversation.NextContinue {
		return r.launch(ctx, conversationID, snap.ID, snap.State, nil)
	}

	events := make(chan Event, 1)
	events <- Settled{CheckpointID: snap.ID, Next: snap.State.Next, Pending: snap.State.Pending}
	r.guard.Release(conversationID)
	close(events)
	return events
}

// failed reports a turn that is rejected by the state machine itself. The
// caller sees it on the event stream like any other failed turn.
func (r *Runner) failed(ctx context.Context, conversationID string, err error) <-chan Event {
	logger.From(ctx).Error("Turn failed", "error", err)
	events := make(chan Event, 1)
	events <- Failed{Err: err}
	r.guard.Release(conversationID)
	close(events)
	return events
}

func (r *Runner) auditPending(ctx context.Context, conversationID, checkpointID string, pending *conversation.PendingApproval) {
	if r.audit == nil || pending == nil {
		return
	}
	for _, call := range pending.Calls {
		r.writeAudit(ctx, conversationID, checkpointID, call.ID, call.Name, auditRequested, call.Arguments)
	}
}

func (r *Runner) auditVerdicts(ctx context.Context, conversationID, checkpointID string, verdicts []Verdict) {
	if r.audit == nil {
		return
	}
	for _, v := range verdicts {
		r.writeAudit(ctx, conversationID, checkpointID, v.Call.ID, v.Call.Name, v.Decision, v.Call.Arguments)
	}
}

func (r *Runner) writeAudit(ctx context.Context, conversationID, checkpointID, callID, name, decision string, args map[string]interface{}) {
	raw, _ := json.Marshal(args)
	entry := &policy.AuditEntry{
		Timestamp:      time.Now().UTC(),
		TraceID:        logger.GetTraceID(ctx),
		ConversationID: conversationID,
		CheckpointID:   checkpointID,
		ToolCallID:     callID,
		ToolName:       name,
		Decision:       decision,
		Arguments:      raw,
	}
	if err := r.audit.Log(ctx, entry); err != nil {
		logger.From(ctx).Warn("Failed to write approval audit entry", "tool", name, "error", err)
	}
}
