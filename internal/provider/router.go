package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages the registered generative providers and routes requests
// through the default provider with a fallback chain.
type Router struct {
	providers map[string]Provider
	fallbacks []string // fallback provider chain, tried in order
	defaults  string   // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Register adds a provider to the router. The first registered provider
// becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// AddFallback appends a provider to the fallback chain.
func (r *Router) AddFallback(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append(r.fallbacks, providerID)
}

// Route sends a chat request through the default provider, falling back
// down the chain. When every provider fails the error wraps ErrUnavailable.
func (r *Router) Route(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary, ok := r.providers[r.defaults]
	if !ok {
		return nil, fmt.Errorf("%w: no providers registered", ErrUnavailable)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("provider", primary.ID()), zap.Error(err))

	for _, fbID := range r.fallbacks {
		fb, ok := r.providers[fbID]
		if !ok || fbID == r.defaults {
			continue
		}
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fbID), zap.Error(err))
	}

	return nil, fmt.Errorf("%w: all providers failed: %v", ErrUnavailable, err)
}

// RouteStream opens a streaming chat request on the default provider.
// Fallbacks are not attempted mid-stream.
func (r *Router) RouteStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary, ok := r.providers[r.defaults]
	if !ok {
		return nil, fmt.Errorf("%w: no providers registered", ErrUnavailable)
	}
	ch, err := primary.ChatStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ch, nil
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}
