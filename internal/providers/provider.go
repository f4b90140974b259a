// Package providers defines the common interfaces and types used by all LLM
// provider implementations (OpenAI, Anthropic, Gemini, Groq, Cohere).
//
// Each provider lives in its own sub-package and implements the Provider
// interface. The generic openaicompat adapter serves any vendor exposing an
// OpenAI-compatible endpoint.
package providers

import (
	"context"
	"time"
)

type (
	// StreamChunk is a single token chunk delivered during a streaming response.
	// Usage is populated only on the terminal chunk when the upstream reports it.
	StreamChunk struct {
		Content      string
		FinishReason string
		Usage        *Usage
	}

	// Message is a single turn in a conversation (role + text content).
	Message struct {
		Role    string
		Content string
	}

	// Usage — token usage stats as returned by the upstream, never estimated
	// for real providers.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// ProxyRequest — normalized client request. Internal routing fields
	// (strategy, tenant) are stripped before this struct is built, so the
	// adapter forwards exactly what the upstream expects.
	ProxyRequest struct {
		Model       string
		Messages    []Message
		Stream      bool
		Temperature float64
		TopP        float64
		MaxTokens   int
		RequestID   string
	}

	// ProxyResponse — normalized provider response.
	ProxyResponse struct {
		ID           string
		Model        string
		Content      string
		FinishReason string
		Usage        Usage
		Status       int                // upstream HTTP status; 200 for SDK successes
		Stream       <-chan StreamChunk // nil if it's not a stream
	}
)

// Provider — LLM provider interface.
type Provider interface {
	Name() string
	Request(ctx context.Context, req *ProxyRequest) (*ProxyResponse, error)
}

// Default adapter constants shared by all provider clients.
const (
	MaxRetries      = 3
	ProviderTimeout = 90 * time.Second
)

// StatusCoder is implemented by provider errors that carry the upstream
// HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Timeouter is implemented by provider errors caused by an upstream
// timeout. The circuit breaker accounts timeouts separately from other
// failures.
type Timeouter interface {
	TimedOut() bool
}
