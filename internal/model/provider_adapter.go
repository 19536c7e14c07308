package model

import (
	"context"

	"github.com/harunnryd/chatloop/internal/model/contract"
)

// backend is what every concrete provider package implements.
type backend interface {
	Stream(ctx context.Context, req contract.CompletionRequest, onDelta func(contract.Delta)) (*contract.CompletionResponse, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderAdapter binds a concrete backend to the registry name it serves.
type ProviderAdapter struct {
	backend      backend
	name         string
	providerType string
}

func NewProviderAdapter(b backend, name, providerType string) *ProviderAdapter {
	return &ProviderAdapter{backend: b, name: name, providerType: providerType}
}

func (a *ProviderAdapter) Stream(ctx context.Context, req contract.CompletionRequest, onDelta func(contract.Delta)) (*contract.CompletionResponse, error) {
	if req.Model == "" {
		req.Model = a.name
	}
	return a.backend.Stream(ctx, req, onDelta)
}

func (a *ProviderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.backend.Embed(ctx, text)
}

func (a *ProviderAdapter) Name() string {
	return a.name
}

func (a *ProviderAdapter) Type() string {
	return a.providerType
}

func (a *ProviderAdapter) Health(ctx context.Context) error {
	return nil
}
