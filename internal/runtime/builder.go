package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/chatloop/internal/checkpoint"
	"github.com/harunnryd/chatloop/internal/config"
)

// Components is a fully wired local runtime for the CLI.
type Components struct {
	Config *config.Config
	Store  checkpoint.Store
	Caps   *Capabilities
	Turns  *Turns
}

type Builder struct {
	ctx        context.Context
	cfg        *config.Config
	withModels bool
	withStore  bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) WithContext(ctx context.Context) *Builder {
	b.ctx = ctx
	return b
}

func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.cfg = cfg
	return b
}

// WithModels requires a working model router and builds the turn service.
func (b *Builder) WithModels() *Builder {
	b.withModels = true
	return b
}

// WithStore opens the checkpoint store.
func (b *Builder) WithStore() *Builder {
	b.withStore = true
	return b
}

func (b *Builder) Build() (*Components, error) {
	if b.ctx == nil {
		b.ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	c := &Components{Config: b.cfg}

	if b.withStore {
		store, err := checkpoint.New(b.cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint store: %w", err)
		}
		c.Store = store
	}

	caps, err := NewCapabilities(b.ctx, b.cfg, b.withModels)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Caps = caps

	if b.withModels && c.Store != nil {
		turns, err := NewTurns(b.cfg, caps, c.Store)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Turns = turns
	}
	return c, nil
}

func (c *Components) Close() {
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			slog.Warn("Failed to close checkpoint store", "error", err)
		}
	}
}
