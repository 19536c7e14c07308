package components

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/daemon"
	"github.com/harunnryd/chatloop/internal/runtime"
	"github.com/harunnryd/chatloop/internal/server"
)

const HTTPServerName = "HTTPServer"

// HTTPServerComponent serves the chat streaming API. Responses are streamed,
// so the server sets no write timeout.
type HTTPServerComponent struct {
	daemon       *daemon.Daemon
	cfg          *config.Config
	storeComp    *CheckpointStoreComponent
	capsComp     *CapabilitiesComponent
	dependencies []string

	server      *http.Server
	listener    net.Listener
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewHTTPServerComponent(d *daemon.Daemon, cfg *config.Config, storeComp *CheckpointStoreComponent, capsComp *CapabilitiesComponent) *HTTPServerComponent {
	return NewHTTPServerComponentWithDependencies(d, cfg, storeComp, capsComp, []string{CheckpointStoreName, CapabilitiesName})
}

func NewHTTPServerComponentWithDependencies(d *daemon.Daemon, cfg *config.Config, storeComp *CheckpointStoreComponent, capsComp *CapabilitiesComponent, deps []string) *HTTPServerComponent {
	return &HTTPServerComponent{
		daemon:       d,
		cfg:          cfg,
		storeComp:    storeComp,
		capsComp:     capsComp,
		dependencies: append([]string(nil), deps...),
	}
}

func (h *HTTPServerComponent) Name() string {
	return HTTPServerName
}

func (h *HTTPServerComponent) Dependencies() []string {
	return append([]string(nil), h.dependencies...)
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.storeComp == nil || h.capsComp == nil {
		return fmt.Errorf("HTTPServer needs checkpoint store and capabilities")
	}
	store := h.storeComp.Store()
	if store == nil {
		return fmt.Errorf("checkpoint store not initialized")
	}

	turns, err := runtime.NewTurns(h.cfg, h.capsComp.Capabilities(), store)
	if err != nil {
		return fmt.Errorf("build turn service: %w", err)
	}

	var health server.HealthFunc
	if h.daemon != nil {
		health = h.daemon.HealthErrors
	}
	srv := server.New(turns.Runner, store, turns.Translator, health)

	readTimeout, err := config.DurationOrDefault(h.cfg.Server.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(h.cfg.Server.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}

	h.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", h.cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
	}

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", h.cfg.Server.Port)
	return nil
}

func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	slog.Info("HTTPServer started", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		slog.Info("HTTPServer not started, skipping stop", "component", h.Name())
		return nil
	}

	shutdownTimeout := config.LenientDuration("server.shutdown_timeout", h.cfg.Server.ShutdownTimeout, config.DefaultServerShutdownTimeout)

	slog.Info("Stopping HTTPServer...", "component", h.Name())
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.initialized {
		return daemon.Unhealthy(h.Name(), fmt.Errorf("not initialized")), nil
	}
	if !h.started {
		return daemon.Unhealthy(h.Name(), fmt.Errorf("not started")), nil
	}
	return daemon.Healthy(h.Name()), nil
}

// Addr is the bound listen address once started.
func (h *HTTPServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}
