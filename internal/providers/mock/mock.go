// Package mock is a zero-dependency provider used when no upstream API keys
// are configured. It echoes a canned completion with estimated token counts
// so the full routing path stays exercisable in development.
package mock

import (
	"context"
	"fmt"
	"strings"

	"github.com/sharma23Mukul/ai-router/internal/providers"
)

// Provider fakes any upstream by name.
type Provider struct {
	name string
}

// New creates a mock standing in for the named provider.
func New(name string) *Provider {
	return &Provider{name: name}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	prompt := lastUserContent(req.Messages)
	content := fmt.Sprintf("[mock:%s] This is a simulated response from %s to: %s",
		p.name, req.Model, truncate(prompt, 120))

	usage := providers.Usage{
		InputTokens:  estimateTokens(prompt),
		OutputTokens: estimateTokens(content),
	}

	if req.Stream {
		return p.stream(ctx, req, content, usage), nil
	}

	return &providers.ProxyResponse{
		ID:           "mock-" + req.RequestID,
		Model:        req.Model,
		Content:      content,
		FinishReason: "stop",
		Status:       200,
		Usage:        usage,
	}, nil
}

// stream emits the canned content word by word so SSE plumbing sees more
// than one frame.
func (p *Provider) stream(ctx context.Context, req *providers.ProxyRequest, content string, usage providers.Usage) *providers.ProxyResponse {
	ch := make(chan providers.StreamChunk, 64)

	go func() {
		defer close(ch)

		for _, word := range strings.SplitAfter(content, " ") {
			select {
			case <-ctx.Done():
				return
			case ch <- providers.StreamChunk{Content: word}:
			}
		}
		u := usage
		ch <- providers.StreamChunk{FinishReason: "stop", Usage: &u}
	}()

	return &providers.ProxyResponse{Status: 200, Stream: ch}
}

func lastUserContent(msgs []providers.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.EqualFold(msgs[i].Role, "user") {
			return msgs[i].Content
		}
	}
	return ""
}

// estimateTokens approximates ~4 characters per token.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(s)/4 + 1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
