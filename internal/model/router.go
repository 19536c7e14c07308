package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/chatloop/internal/config"
	chatErrors "github.com/harunnryd/chatloop/internal/errors"
	"github.com/harunnryd/chatloop/internal/logger"
	"github.com/harunnryd/chatloop/internal/model/contract"
	anthropicProvider "github.com/harunnryd/chatloop/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/chatloop/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/chatloop/internal/model/providers/openai"
)

// DefaultModelRouter implements ModelRouter interface
type DefaultModelRouter struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	mapper    chatErrors.ErrorMapper
	mu        sync.RWMutex
}

// NewModelRouter creates a new model router
func NewModelRouter(cfg config.ModelsConfig) (*DefaultModelRouter, error) {
	router := newRouter(cfg)

	if err := router.initProviders(); err != nil {
		return nil, err
	}

	return router, nil
}

// NewModelRouterWithProviders builds a router over already constructed providers.
func NewModelRouterWithProviders(cfg config.ModelsConfig, providers ...Provider) *DefaultModelRouter {
	router := newRouter(cfg)
	for _, p := range providers {
		router.providers[p.Name()] = p
	}
	return router
}

func newRouter(cfg config.ModelsConfig) *DefaultModelRouter {
	return &DefaultModelRouter{
		cfg:       cfg,
		providers: make(map[string]Provider),
		mapper:    chatErrors.NewDefaultErrorMapper(),
	}
}

// Route streams a completion from the provider serving model. The fallback
// model is only tried while nothing has been forwarded to onDelta, so a
// client never sees two interleaved answers.
func (r *DefaultModelRouter) Route(ctx context.Context, model string, req contract.CompletionRequest, onDelta DeltaFunc) (*contract.CompletionResponse, error) {
	log := logger.From(ctx)
	log.Info("Routing completion request", "model", model, "messages", len(req.Messages), "tools", len(req.Tools))

	provider, resolved, err := r.resolveProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	maxAttempts := r.cfg.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultModelMaxFallbackAttempts
	}

	forwarded := false
	forward := func(d contract.Delta) {
		forwarded = true
		if onDelta != nil {
			onDelta(d)
		}
	}

	currentModel := resolved
	currentProvider := provider

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, chatErrors.Wrap(ctx.Err(), "request execution cancelled")
		default:
		}

		attemptReq := req
		attemptReq.Model = currentModel
		resp, err := currentProvider.Stream(ctx, attemptReq, forward)
		if err == nil {
			log.Info("Request completed", "model", currentModel, "attempt", attempt+1, "tool_calls", len(resp.Message.ToolCalls))
			return resp, nil
		}

		mapped := r.mapper.MapError(err)
		log.Error("Provider request failed", "model", currentModel, "attempt", attempt+1, "error", err, "category", r.mapper.Category(mapped))

		if forwarded || r.cfg.Fallback == "" || currentModel == r.cfg.Fallback {
			return nil, chatErrors.Wrap(mapped, fmt.Sprintf("provider %s request failed", currentModel))
		}

		fallbackProvider, exists := r.lookup(r.cfg.Fallback)
		if !exists {
			return nil, chatErrors.NotFound(fmt.Sprintf("fallback model %s not found", r.cfg.Fallback))
		}

		log.Info("Attempting fallback", "from", currentModel, "to", r.cfg.Fallback)
		currentModel = r.cfg.Fallback
		currentProvider = fallbackProvider
	}

	return nil, chatErrors.Internal("fallback exhausted")
}

// RouteEmbedding routes an embedding request to the first provider able to serve it
func (r *DefaultModelRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	log := logger.From(ctx)
	var lastErr error

	for _, tryModel := range r.embeddingTryOrder(model) {
		select {
		case <-ctx.Done():
			return nil, chatErrors.Wrap(ctx.Err(), "embedding request cancelled")
		default:
		}

		provider, exists := r.lookup(tryModel)
		if !exists {
			continue
		}

		embeddings, err := provider.Embed(ctx, text)
		if err == nil {
			log.Debug("Embedding completed", "model", tryModel, "dims", len(embeddings))
			return embeddings, nil
		}

		if isEmbeddingUnsupported(err) {
			log.Debug("Embedding unsupported by provider, trying next model", "model", tryModel)
			continue
		}

		lastErr = err
		log.Warn("Embedding failed for model, trying next model", "model", tryModel, "error", err)
	}

	if lastErr != nil {
		return nil, chatErrors.Wrap(r.mapper.MapError(lastErr), "embedding failed")
	}

	return nil, chatErrors.NotFound("no embedding-capable model configured")
}

func (r *DefaultModelRouter) embeddingTryOrder(requestedModel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.providers)+2)
	order := make([]string, 0, len(r.providers)+2)

	appendUnique := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	appendUnique(requestedModel)
	appendUnique(r.cfg.Embedding)

	registered := make([]string, 0, len(r.providers))
	for name := range r.providers {
		registered = append(registered, name)
	}
	sort.Strings(registered)

	for _, name := range registered {
		appendUnique(name)
	}

	return order
}

func isEmbeddingUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "embedding not supported") ||
		strings.Contains(msg, "not support embeddings")
}

// ListModels returns all registered model names, sorted
func (r *DefaultModelRouter) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for name := range r.providers {
		models = append(models, name)
	}
	sort.Strings(models)

	return models
}

// Health checks the health of the router and its providers
func (r *DefaultModelRouter) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.providers) == 0 {
		return chatErrors.Transient("no model providers configured")
	}

	for name, provider := range r.providers {
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", name, "error", err)
			return chatErrors.Transient(fmt.Sprintf("provider %s unhealthy", name))
		}
	}

	return nil
}

func (r *DefaultModelRouter) lookup(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// initProviders initializes all providers from configuration
func (r *DefaultModelRouter) initProviders() error {
	for _, entry := range r.cfg.Registry {
		provider, err := createProvider(entry)
		if err != nil {
			slog.Warn("Failed to create provider", "provider", entry.Provider, "model", entry.Name, "error", err)
			continue
		}

		r.providers[entry.Name] = provider
		slog.Info("Provider initialized", "name", entry.Name, "type", entry.Provider)
	}

	if len(r.providers) == 0 && len(r.cfg.Registry) > 0 {
		return chatErrors.Internal("no providers initialized")
	}

	return nil
}

// resolveProvider resolves a provider by model name with fallback
func (r *DefaultModelRouter) resolveProvider(ctx context.Context, model string) (Provider, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", chatErrors.Wrap(ctx.Err(), "provider resolution cancelled")
	default:
	}

	if model == "" {
		model = r.cfg.Default
	}

	if provider, exists := r.lookup(model); exists {
		return provider, model, nil
	}

	slog.Warn("Model not found", "model", model)

	if r.cfg.Fallback != "" && model != r.cfg.Fallback {
		if fallbackProvider, ok := r.lookup(r.cfg.Fallback); ok {
			slog.Info("Using fallback model", "model", model, "fallback", r.cfg.Fallback)
			return fallbackProvider, r.cfg.Fallback, nil
		}
	}

	return nil, "", chatErrors.NotFound(fmt.Sprintf("model %s not found", model))
}

// createProvider creates a provider instance based on registry entry
func createProvider(entry config.ModelRegistry) (Provider, error) {
	switch entry.Provider {
	case "openai":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}

		if entry.APIKey == "" {
			return nil, chatErrors.InvalidInput("API key required for OpenAI provider")
		}

		return NewProviderAdapter(openaiProvider.New(entry.APIKey, baseURL, entry.Name), entry.Name, "openai"), nil

	case "ollama":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOllamaBaseURL
		}

		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = config.DefaultOllamaAPIKey
		}

		return NewProviderAdapter(openaiProvider.New(apiKey, baseURL, entry.Name), entry.Name, "ollama"), nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, chatErrors.InvalidInput("API key required for Anthropic provider")
		}

		return NewProviderAdapter(anthropicProvider.New(entry.APIKey), entry.Name, "anthropic"), nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, chatErrors.InvalidInput("API key required for Gemini provider")
		}

		provider, err := geminiProvider.New(entry.APIKey)
		if err != nil {
			return nil, chatErrors.WrapWithCategory(err, "failed to create Gemini provider", chatErrors.ErrInternal)
		}

		return NewProviderAdapter(provider, entry.Name, "gemini"), nil

	default:
		return nil, chatErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}
