package runtime

import (
	"fmt"

	"github.com/harunnryd/chatloop/internal/agent"
	"github.com/harunnryd/chatloop/internal/checkpoint"
	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/stream"
)

// Turns is the turn service plus the translator that renders it.
type Turns struct {
	Runner     *agent.Runner
	Translator *stream.Translator
}

func NewTurns(cfg *config.Config, caps *Capabilities, store checkpoint.Store) (*Turns, error) {
	if caps == nil || caps.Router == nil {
		return nil, fmt.Errorf("turns need a model router")
	}
	if store == nil {
		return nil, fmt.Errorf("turns need a checkpoint store")
	}

	machine, err := agent.NewMachine(caps.Router, caps.Tools, cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("init state machine: %w", err)
	}

	return &Turns{
		Runner:     agent.NewRunner(machine, store, caps.Audit, cfg.Stream),
		Translator: stream.NewTranslator(cfg.Stream),
	}, nil
}
