package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/harunnryd/chatloop/internal/config"
)

// Daemon owns the serve process: it brings components up in dependency
// order, watches their health and takes them down in reverse.
type Daemon struct {
	cfg           *config.Config
	components    []Component
	initOrder     []string
	shutdownOrder []string
	health        HealthStatus
	startedAt     time.Time
	monitorDone   chan struct{}
	mu            sync.RWMutex
}

func NewDaemon(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return &Daemon{
		cfg:         cfg,
		health:      StatusStarting,
		startedAt:   time.Now(),
		monitorDone: make(chan struct{}),
	}, nil
}

// AddComponent registers comp. Registration order only matters for
// components that are never initialized.
func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, comp)
	d.shutdownOrder = append([]string{comp.Name()}, d.shutdownOrder...)
	slog.Info("Component registered", "component", comp.Name(), "total_components", len(d.components))
}

// Start blocks until ctx is cancelled or SIGINT/SIGTERM arrives. It returns
// the context error after a clean shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("Chatloop daemon starting...", "port", d.cfg.Server.Port)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.validateConfig(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	shutdownTimeout, err := config.DurationOrDefault(d.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse daemon shutdown timeout: %w", err)
	}

	if err := d.initializeComponents(ctx); err != nil {
		d.rollback(ctx)
		return fmt.Errorf("component initialization failed: %w", err)
	}
	if err := d.startComponents(ctx); err != nil {
		d.gracefulShutdown(context.Background(), shutdownTimeout)
		return fmt.Errorf("component startup failed: %w", err)
	}

	d.setHealth(StatusRunning)
	slog.Info("Chatloop daemon is running", "components", len(d.components))
	go d.monitorHealth(ctx)

	<-ctx.Done()
	slog.Info("Shutdown requested", "reason", ctx.Err())
	d.setHealth(StatusStopping)
	close(d.monitorDone)

	if err := d.gracefulShutdown(context.Background(), shutdownTimeout); err != nil {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return nil
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

func (d *Daemon) Uptime() time.Duration {
	return time.Since(d.startedAt)
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	d.health = status
	d.mu.Unlock()
}

// ComponentHealth polls every registered component. A Health error marks the
// component unhealthy.
func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	d.mu.RLock()
	components := append([]Component(nil), d.components...)
	d.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(components))
	for _, comp := range components {
		health, err := comp.Health(context.Background())
		if health == nil {
			health = &ComponentHealth{Name: comp.Name()}
		}
		if err != nil {
			health.Healthy = false
			health.Error = err
		}
		result[comp.Name()] = health
	}
	return result
}

// HealthErrors flattens ComponentHealth into name -> error, nil when healthy.
func (d *Daemon) HealthErrors() map[string]error {
	out := map[string]error{}
	for name, h := range d.ComponentHealth() {
		switch {
		case h.Healthy:
			out[name] = nil
		case h.Error != nil:
			out[name] = h.Error
		default:
			out[name] = fmt.Errorf("unhealthy")
		}
	}
	return out
}

// validateConfig checks the listen port and creates the directories the
// file-backed components write into.
func (d *Daemon) validateConfig() error {
	if d.cfg.Server.Port < 1 || d.cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", d.cfg.Server.Port)
	}

	var dirs []string
	if d.cfg.Store.Driver != "memory" && strings.TrimSpace(d.cfg.Store.Path) != "" {
		dirs = append(dirs, d.cfg.Store.Path)
	}
	if d.cfg.Governance.Audit.Enabled && strings.TrimSpace(d.cfg.Governance.Audit.Path) != "" {
		dirs = append(dirs, filepath.Dir(d.cfg.Governance.Audit.Path))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	slog.Info("Configuration validated", "port", d.cfg.Server.Port, "store", d.cfg.Store.Driver)
	return nil
}

func (d *Daemon) initializeComponents(ctx context.Context) error {
	order, err := d.resolveInitOrder()
	if err != nil {
		return err
	}
	slog.Info("Initialization order resolved", "order", order)

	for _, name := range order {
		comp := d.getComponentByName(name)
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", name, "error", err)
			return fmt.Errorf("component %s init failed: %w", name, err)
		}
		d.mu.Lock()
		d.initOrder = append(d.initOrder, name)
		d.mu.Unlock()
		slog.Info("Component initialized", "component", name)
	}
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	d.mu.RLock()
	order := append([]string(nil), d.initOrder...)
	d.mu.RUnlock()
	if len(order) == 0 {
		order = d.registeredNames()
	}

	for _, name := range order {
		if err := d.getComponentByName(name).Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", name, "error", err)
			return fmt.Errorf("component %s startup failed: %w", name, err)
		}
		slog.Info("Component started", "component", name)
	}
	return nil
}

func (d *Daemon) gracefulShutdown(ctx context.Context, timeout time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.shutdownComponents(shutdownCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-shutdownCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
		}
		slog.Error("Shutdown timeout exceeded", "timeout", timeout)
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// shutdownComponents stops components in reverse init order, or reverse
// registration order when nothing was initialized. A failing Stop is logged
// and the rest still stop.
func (d *Daemon) shutdownComponents(ctx context.Context) error {
	d.mu.RLock()
	var order []string
	if len(d.initOrder) > 0 {
		for i := len(d.initOrder) - 1; i >= 0; i-- {
			order = append(order, d.initOrder[i])
		}
	} else {
		order = append(order, d.shutdownOrder...)
	}
	d.mu.RUnlock()

	for _, name := range order {
		comp := d.getComponentByName(name)
		if comp == nil {
			continue
		}
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", name, "error", err)
			continue
		}
		slog.Info("Component stopped", "component", name)
	}

	d.setHealth(StatusStopped)
	return nil
}

func (d *Daemon) rollback(ctx context.Context) {
	slog.Warn("Rolling back initialized components...")
	d.shutdownComponents(ctx)
}

func (d *Daemon) getComponentByName(name string) Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, comp := range d.components {
		if comp.Name() == name {
			return comp
		}
	}
	return nil
}

// Component returns the registered component called name, or nil.
func (d *Daemon) Component(name string) Component {
	return d.getComponentByName(name)
}

func (d *Daemon) registeredNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.components))
	for _, comp := range d.components {
		names = append(names, comp.Name())
	}
	return names
}

func (d *Daemon) monitorHealth(ctx context.Context) {
	interval := config.LenientDuration("daemon.health_check_interval", d.cfg.Daemon.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.monitorDone:
			return
		case <-ticker.C:
			unhealthy := 0
			for name, err := range d.HealthErrors() {
				if err != nil {
					unhealthy++
					slog.Warn("Component unhealthy", "component", name, "error", err)
				}
			}
			if unhealthy == 0 {
				slog.Debug("All components healthy", "count", len(d.components))
			}
		}
	}
}

// resolveInitOrder sorts components so every dependency comes first. Unknown
// dependencies and cycles are errors.
func (d *Daemon) resolveInitOrder() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var order []string

	var visit func(comp Component) error
	visit = func(comp Component) error {
		switch state[comp.Name()] {
		case visiting:
			return fmt.Errorf("circular dependency detected involving %s", comp.Name())
		case done:
			return nil
		}
		state[comp.Name()] = visiting
		for _, dep := range comp.Dependencies() {
			next := d.getComponentByName(dep)
			if next == nil {
				return fmt.Errorf("component %s depends on %s which is not registered", comp.Name(), dep)
			}
			if err := visit(next); err != nil {
				return err
			}
		}
		state[comp.Name()] = done
		order = append(order, comp.Name())
		return nil
	}

	d.mu.RLock()
	components := append([]Component(nil), d.components...)
	d.mu.RUnlock()
	for _, comp := range components {
		if err := visit(comp); err != nil {
			return nil, err
		}
	}
	return order, nil
}
