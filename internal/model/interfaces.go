package model

import (
	"context"

	"github.com/harunnryd/chatloop/internal/model/contract"
)

// DeltaFunc receives streamed pieces of a model response in arrival order.
type DeltaFunc func(contract.Delta)

type ModelRouter interface {
	Route(ctx context.Context, model string, req contract.CompletionRequest, onDelta DeltaFunc) (*contract.CompletionResponse, error)
	RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error)
	ListModels() []string
	Health(ctx context.Context) error
}

type Provider interface {
	Stream(ctx context.Context, req contract.CompletionRequest, onDelta func(contract.Delta)) (*contract.CompletionResponse, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Type() string
	Health(ctx context.Context) error
}
