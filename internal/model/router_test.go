package model

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/chatloop/internal/config"
	chatErrors "github.com/harunnryd/chatloop/internal/errors"
	"github.com/harunnryd/chatloop/internal/model/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	deltas []string
	reply  string
	err    error
	embed  []float32
	models []string
}

func (f *fakeBackend) Stream(ctx context.Context, req contract.CompletionRequest, onDelta func(contract.Delta)) (*contract.CompletionResponse, error) {
	f.models = append(f.models, req.Model)
	for _, d := range f.deltas {
		onDelta(contract.Delta{Text: d})
	}
	if f.err != nil {
		return nil, f.err
	}
	return &contract.CompletionResponse{Message: contract.Message{Role: contract.RoleAssistant, Content: f.reply}}, nil
}

func (f *fakeBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embed == nil {
		return nil, errors.New("embedding not supported by fake")
	}
	return f.embed, nil
}

func TestRoute_FallsBackBeforeAnyDelta(t *testing.T) {
	primary := &fakeBackend{err: errors.New("503 service unavailable: connection reset")}
	backup := &fakeBackend{reply: "hi"}
	r := NewModelRouterWithProviders(config.ModelsConfig{Default: "a", Fallback: "b", MaxFallbackAttempts: 2},
		NewProviderAdapter(primary, "a", "fake"),
		NewProviderAdapter(backup, "b", "fake"),
	)

	resp, err := r.Route(context.Background(), "a", contract.CompletionRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Message.Content)
	assert.Equal(t, []string{"a"}, primary.models)
	assert.Equal(t, []string{"b"}, backup.models)
}

func TestRoute_NoFallbackOnceStreamStarted(t *testing.T) {
	primary := &fakeBackend{deltas: []string{"partial"}, err: errors.New("stream broke: connection reset")}
	backup := &fakeBackend{reply: "hi"}
	r := NewModelRouterWithProviders(config.ModelsConfig{Default: "a", Fallback: "b"},
		NewProviderAdapter(primary, "a", "fake"),
		NewProviderAdapter(backup, "b", "fake"),
	)

	var got []string
	_, err := r.Route(context.Background(), "a", contract.CompletionRequest{}, func(d contract.Delta) { got = append(got, d.Text) })
	require.Error(t, err)
	assert.ErrorIs(t, err, chatErrors.ErrTransient)
	assert.Equal(t, []string{"partial"}, got)
	assert.Empty(t, backup.models)
}

func TestRoute_UnknownModelUsesDefaultsAndFallback(t *testing.T) {
	backup := &fakeBackend{reply: "ok"}
	r := NewModelRouterWithProviders(config.ModelsConfig{Fallback: "b"}, NewProviderAdapter(backup, "b", "fake"))

	resp, err := r.Route(context.Background(), "missing", contract.CompletionRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)

	empty := NewModelRouterWithProviders(config.ModelsConfig{})
	_, err = empty.Route(context.Background(), "missing", contract.CompletionRequest{}, nil)
	assert.ErrorIs(t, err, chatErrors.ErrNotFound)
	assert.Error(t, empty.Health(context.Background()))
}

func TestRouteEmbedding_SkipsUnsupportedProviders(t *testing.T) {
	r := NewModelRouterWithProviders(config.ModelsConfig{Embedding: "emb"},
		NewProviderAdapter(&fakeBackend{}, "chat", "fake"),
		NewProviderAdapter(&fakeBackend{embed: []float32{1, 0}}, "emb", "fake"),
	)

	vec, err := r.RouteEmbedding(context.Background(), "chat", "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, []string{"chat", "emb"}, r.ListModels())
}

func TestCreateProvider_RequiresKeys(t *testing.T) {
	_, err := createProvider(config.ModelRegistry{Name: "gpt", Provider: "openai"})
	assert.ErrorIs(t, err, chatErrors.ErrInvalidInput)

	_, err = createProvider(config.ModelRegistry{Name: "x", Provider: "nope"})
	assert.ErrorIs(t, err, chatErrors.ErrInvalidInput)

	p, err := createProvider(config.ModelRegistry{Name: "llama3", Provider: "ollama"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Type())
}
