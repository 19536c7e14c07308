package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/daemon"
	"github.com/harunnryd/chatloop/internal/runtime"
)

const CapabilitiesName = "Capabilities"

// CapabilitiesComponent owns the model router, policy engine, audit log and
// tool registry shared by every turn.
type CapabilitiesComponent struct {
	cfg  *config.Config
	caps *runtime.Capabilities
	mu   sync.RWMutex
}

func NewCapabilitiesComponent(cfg *config.Config) *CapabilitiesComponent {
	return &CapabilitiesComponent{cfg: cfg}
}

func (c *CapabilitiesComponent) Name() string {
	return CapabilitiesName
}

func (c *CapabilitiesComponent) Dependencies() []string {
	return []string{}
}

func (c *CapabilitiesComponent) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	caps, err := runtime.NewCapabilities(ctx, c.cfg, true)
	if err != nil {
		return fmt.Errorf("failed to build capabilities: %w", err)
	}
	c.caps = caps

	slog.Info("Capabilities initialized", "component", c.Name(), "tools", len(caps.Tools.List()))
	return nil
}

func (c *CapabilitiesComponent) Start(ctx context.Context) error {
	return nil
}

func (c *CapabilitiesComponent) Stop(ctx context.Context) error {
	return nil
}

func (c *CapabilitiesComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.caps == nil {
		return daemon.Unhealthy(c.Name(), fmt.Errorf("not initialized")), nil
	}
	return daemon.Healthy(c.Name()), nil
}

func (c *CapabilitiesComponent) Capabilities() *runtime.Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}
