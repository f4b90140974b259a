// Package openaicompat serves vendors that expose an OpenAI-compatible chat
// completions endpoint (Groq, Cohere's compatibility API). It delegates the
// wire work to the openai adapter and only overrides the provider name and
// base URL.
package openaicompat

import (
	"context"

	"github.com/sharma23Mukul/ai-router/internal/providers"
	"github.com/sharma23Mukul/ai-router/internal/providers/openai"
)

const (
	// GroqBaseURL is Groq's OpenAI-compatible endpoint.
	GroqBaseURL = "https://api.groq.com/openai/v1"
	// CohereBaseURL is Cohere's OpenAI-compatibility endpoint.
	CohereBaseURL = "https://api.cohere.ai/compatibility/v1"
)

// Provider adapts one OpenAI-compatible vendor.
type Provider struct {
	name     string
	delegate *openai.Provider
}

// New creates an adapter for the vendor reachable at baseURL.
func New(name, baseURL, apiKey string) *Provider {
	return &Provider{
		name:     name,
		delegate: openai.New(apiKey, openai.WithBaseURL(baseURL)),
	}
}

// NewGroq creates the Groq adapter.
func NewGroq(apiKey string) *Provider {
	return New("groq", GroqBaseURL, apiKey)
}

// NewCohere creates the Cohere adapter.
func NewCohere(apiKey string) *Provider {
	return New("cohere", CohereBaseURL, apiKey)
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	return p.delegate.Request(ctx, req)
}
