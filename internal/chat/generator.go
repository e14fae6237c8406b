package chat

import (
	"context"

	"github.com/calder-labs/hoplite/internal/provider"
)

// Generator is the generative collaborator the chat service drives.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
	GenerateStream(ctx context.Context, prompt string, stop []string) (<-chan *provider.StreamChunk, error)
}

// RouterGenerator adapts the provider router to plain prompt-in,
// text-out calls. It also satisfies the reasoning components' generator
// contract.
type RouterGenerator struct {
	router *provider.Router
	model  string
}

// NewRouterGenerator wraps a provider router with a fixed model.
func NewRouterGenerator(router *provider.Router, model string) *RouterGenerator {
	return &RouterGenerator{router: router, model: model}
}

// Generate runs one completion through the router's fallback chain.
func (g *RouterGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := g.router.Route(ctx, &provider.ChatRequest{
		Model:     g.model,
		Messages:  []provider.Message{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// GenerateStream opens a streaming completion on the default provider.
func (g *RouterGenerator) GenerateStream(ctx context.Context, prompt string, stop []string) (<-chan *provider.StreamChunk, error) {
	return g.router.RouteStream(ctx, &provider.ChatRequest{
		Model:    g.model,
		Messages: []provider.Message{{Role: "user", Content: prompt}},
		Stop:     stop,
	})
}
