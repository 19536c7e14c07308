package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/harunnryd/chatloop/internal/daemon"
	"github.com/harunnryd/chatloop/internal/daemon/components"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"daemon"},
	Short:   "Serve the chat streaming API",
	Long:    `Starts the long-running HTTP service: checkpoint store, model router, tool registry, checkpoint janitor and the streaming chat endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}

		daemonMgr, err := daemon.NewDaemon(cfg)
		if err != nil {
			return fmt.Errorf("failed to create daemon manager: %w", err)
		}

		storeComp := components.NewCheckpointStoreComponent(cfg.Store)
		capsComp := components.NewCapabilitiesComponent(cfg)
		janitorComp := components.NewCheckpointJanitorComponent(cfg.Store, storeComp)
		httpComp := components.NewHTTPServerComponent(daemonMgr, cfg, storeComp, capsComp)

		daemonMgr.AddComponent(storeComp)
		daemonMgr.AddComponent(capsComp)
		daemonMgr.AddComponent(janitorComp)
		daemonMgr.AddComponent(httpComp)

		slog.Info("Chatloop starting up...", "port", cfg.Server.Port)
		err = daemonMgr.Start(context.Background())
		if err != nil {
			// Cancellation via signal/context is a graceful shutdown case for CLI.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				slog.Info("Chatloop stopped gracefully")
				return nil
			}
			return fmt.Errorf("daemon failed: %w", err)
		}

		slog.Info("Chatloop stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
