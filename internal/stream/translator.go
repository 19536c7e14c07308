package stream

import (
	"context"
	"unicode/utf8"

	"github.com/harunnryd/chatloop/internal/agent"
	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/conversation"
	"github.com/harunnryd/chatloop/internal/logger"
)

const truncationMarker = "\n\n... (truncated)"

// Outcome is how a translated stream ended.
type Outcome string

const (
	OutcomeComplete    Outcome = "complete"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeFailed      Outcome = "failed"
	OutcomeDetached    Outcome = "detached"
)

type Result struct {
	Outcome      Outcome
	CheckpointID string
}

// Translator turns the agent event feed into wire chunks.
type Translator struct {
	resultMaxChars int
}

func NewTranslator(cfg config.StreamConfig) *Translator {
	max := cfg.ResultMaxChars
	if max <= 0 {
		max = config.DefaultStreamResultMaxChars
	}
	return &Translator{resultMaxChars: max}
}

// Run forwards events to sink until the turn settles, fails, or the consumer
// goes away. It never emits anything after a disconnect.
func (t *Translator) Run(ctx context.Context, events <-chan agent.Event, sink Sink) Result {
	log := logger.From(ctx)
	s := &session{
		sink:    sink,
		indexID: map[int]string{},
		started: map[string]bool{},
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Stream consumer detached")
			return Result{Outcome: OutcomeDetached}
		case ev, ok := <-events:
			if !ok {
				log.Error("Event feed closed before the turn settled")
				return s.fail()
			}
			if ctx.Err() != nil {
				log.Info("Stream consumer detached")
				return Result{Outcome: OutcomeDetached}
			}
			res, done := t.handle(ctx, s, ev)
			if s.err != nil {
				log.Info("Stream write failed, stopping", "error", s.err)
				return Result{Outcome: OutcomeDetached}
			}
			if done {
				log.Debug("Stream finished", "outcome", res.Outcome, "checkpoint_id", res.CheckpointID)
				return res
			}
		}
	}
}

func (t *Translator) handle(ctx context.Context, s *session, ev agent.Event) (Result, bool) {
	switch e := ev.(type) {
	case agent.TextDelta:
		s.write(Chunk{Type: ChunkTextDelta, Content: e.Text})

	case agent.ToolCallChunk:
		if e.ID != "" {
			s.indexID[e.Index] = e.ID
		}
		id, ok := s.indexID[e.Index]
		if !ok {
			logger.From(ctx).Debug("Dropping tool call fragment without a known id", "index", e.Index)
			return Result{}, false
		}
		if !s.started[id] {
			s.started[id] = true
			s.write(Chunk{Type: ChunkToolCallStart, ID: id, Name: e.Name})
		}
		if e.Arguments != "" {
			s.write(Chunk{Type: ChunkToolCallArgsDelta, ID: id, ArgsFragment: e.Arguments})
		}

	case agent.ModelEnd:
		for _, call := range e.Message.ToolCalls {
			if s.started[call.ID] {
				continue
			}
			s.started[call.ID] = true
			s.write(Chunk{Type: ChunkToolCallStart, ID: call.ID, Name: call.Name})
			s.write(Chunk{Type: ChunkToolCallArgsDelta, ID: call.ID, ArgsFragment: call.ArgumentsJSON()})
		}
		s.indexID = map[int]string{}

	case agent.ToolResult:
		id := e.ToolCallID
		if id == "" {
			id = e.Name
		}
		if id == "" {
			id = e.RunID
		}
		s.write(Chunk{Type: ChunkToolResult, ID: id, Name: e.Name, Content: t.truncate(e.Content)})

	case agent.Settled:
		if e.Next == conversation.NextAwaitingApproval {
			s.write(Chunk{Type: ChunkInterrupt, Payload: e.Pending, CheckpointID: e.CheckpointID})
			return Result{Outcome: OutcomeInterrupted, CheckpointID: e.CheckpointID}, true
		}
		s.write(Chunk{Type: ChunkComplete, CheckpointID: e.CheckpointID})
		s.write(Chunk{Type: ChunkEnd})
		return Result{Outcome: OutcomeComplete, CheckpointID: e.CheckpointID}, true

	case agent.Failed:
		logger.From(ctx).Error("Turn failed", "error", e.Err)
		return s.fail(), true
	}
	return Result{}, false
}

func (t *Translator) truncate(content string) string {
	if utf8.RuneCountInString(content) <= t.resultMaxChars {
		return content
	}
	return string([]rune(content)[:t.resultMaxChars]) + truncationMarker
}

type session struct {
	sink    Sink
	err     error
	indexID map[int]string
	started map[string]bool
}

func (s *session) write(c Chunk) {
	if s.err != nil {
		return
	}
	s.err = s.sink.Write(c)
}

func (s *session) fail() Result {
	s.write(Chunk{Type: ChunkError, Message: GenericErrorMessage})
	s.write(Chunk{Type: ChunkEnd})
	return Result{Outcome: OutcomeFailed}
}
