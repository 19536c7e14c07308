package components

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harunnryd/chatloop/internal/checkpoint"
	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/daemon"
)

const CheckpointJanitorName = "CheckpointJanitor"

// CheckpointJanitorComponent prunes checkpoint histories on the configured schedule.
type CheckpointJanitorComponent struct {
	cfg       config.StoreConfig
	storeComp *CheckpointStoreComponent
	janitor   *checkpoint.Janitor
}

func NewCheckpointJanitorComponent(cfg config.StoreConfig, storeComp *CheckpointStoreComponent) *CheckpointJanitorComponent {
	return &CheckpointJanitorComponent{cfg: cfg, storeComp: storeComp}
}

func (j *CheckpointJanitorComponent) Name() string {
	return CheckpointJanitorName
}

func (j *CheckpointJanitorComponent) Dependencies() []string {
	return []string{CheckpointStoreName}
}

func (j *CheckpointJanitorComponent) Init(ctx context.Context) error {
	if j.storeComp == nil {
		return fmt.Errorf("storeComp not provided")
	}
	store := j.storeComp.Store()
	if store == nil {
		return fmt.Errorf("checkpoint store not initialized")
	}

	janitor, err := checkpoint.NewJanitor(store, j.cfg)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint janitor: %w", err)
	}
	j.janitor = janitor

	slog.Info("CheckpointJanitor initialized", "component", j.Name(), "schedule", j.cfg.PruneSchedule)
	return nil
}

func (j *CheckpointJanitorComponent) Start(ctx context.Context) error {
	if j.janitor == nil {
		return fmt.Errorf("janitor not initialized")
	}
	if err := j.janitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}
	slog.Info("CheckpointJanitor started", "component", j.Name())
	return nil
}

func (j *CheckpointJanitorComponent) Stop(ctx context.Context) error {
	if j.janitor == nil {
		return nil
	}
	if err := j.janitor.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop janitor: %w", err)
	}
	slog.Info("CheckpointJanitor stopped", "component", j.Name())
	return nil
}

func (j *CheckpointJanitorComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	if j.janitor == nil {
		return daemon.Unhealthy(j.Name(), fmt.Errorf("not initialized")), nil
	}
	if err := j.janitor.Health(ctx); err != nil {
		return daemon.Unhealthy(j.Name(), err), nil
	}
	return daemon.Healthy(j.Name()), nil
}
