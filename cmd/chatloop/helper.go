package main

import (
	"context"
	"fmt"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/runtime"

	"github.com/spf13/cobra"
)

type runtimeNeeds struct {
	models bool
	store  bool
}

// executeWithRuntime builds a local runtime, runs fn under a signal-aware
// context and tears the runtime down afterwards.
func executeWithRuntime(cmd *cobra.Command, needs runtimeNeeds, fn func(context.Context, *runtime.Components) error) error {
	loaded, err := loadConfigForCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	signals := NewSignalHandler(parent)
	signals.Start()
	defer signals.Stop()

	builder := runtime.NewBuilder().
		WithContext(signals.Context()).
		WithConfig(loaded)
	if needs.models {
		builder = builder.WithModels()
	}
	if needs.store {
		builder = builder.WithStore()
	}

	components, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer components.Close()

	return fn(signals.Context(), components)
}

func loadConfigForCommand(cmd *cobra.Command) (*config.Config, error) {
	if cfg != nil {
		return cfg, nil
	}
	return config.Load(cmd)
}
