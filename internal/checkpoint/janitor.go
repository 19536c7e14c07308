package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/harunnryd/chatloop/internal/config"

	"github.com/robfig/cron/v3"
)

// Janitor prunes conversation histories on a cron schedule. The latest
// snapshot of a conversation is never removed.
type Janitor struct {
	store    Store
	keep     int
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	lastErr error
}

func NewJanitor(store Store, cfg config.StoreConfig) (*Janitor, error) {
	schedule := strings.TrimSpace(cfg.PruneSchedule)
	if schedule == "" {
		schedule = config.DefaultStorePruneSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}

	keep := cfg.KeepPerConversation
	if keep <= 0 {
		keep = config.DefaultStoreKeepPerConversation
	}

	return &Janitor{
		store:    store,
		keep:     keep,
		schedule: schedule,
	}, nil
}

// Sweep prunes every conversation once and returns the number of snapshots removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	convs, err := j.store.Conversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}

	total := 0
	var firstErr error
	for _, conv := range convs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := j.store.Prune(ctx, conv, j.keep)
		if err != nil {
			slog.Warn("Checkpoint prune failed", "conversation_id", conv, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
	}

	if total > 0 {
		slog.Info("Pruned checkpoints", "removed", total, "conversations", len(convs), "keep", j.keep)
	}
	return total, firstErr
}

func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() {
		_, err := j.Sweep(ctx)
		j.mu.Lock()
		j.lastErr = err
		j.mu.Unlock()
	}); err != nil {
		return fmt.Errorf("schedule checkpoint janitor: %w", err)
	}
	c.Start()

	j.cron = c
	j.running = true
	slog.Info("Checkpoint janitor started", "schedule", j.schedule, "keep", j.keep)
	return nil
}

func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	c := j.cron
	j.running = false
	j.cron = nil
	j.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	slog.Info("Checkpoint janitor stopped")
	return nil
}

// Health reports the error of the most recent scheduled sweep.
func (j *Janitor) Health(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}
