package mock

import (
	"context"
	"strings"
	"testing"

	"github.com/sharma23Mukul/ai-router/internal/providers"
)

func baseRequest() *providers.ProxyRequest {
	return &providers.ProxyRequest{
		Model:     "gpt-4.1-mini",
		Messages:  []providers.Message{{Role: "user", Content: "Hello there"}},
		RequestID: "req-1",
	}
}

func TestProvider_Request(t *testing.T) {
	p := New("openai")
	if p.Name() != "openai" {
		t.Fatalf("expected name 'openai', got %q", p.Name())
	}

	resp, err := p.Request(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resp.Content, "Hello there") {
		t.Fatalf("response should echo the prompt, got %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Fatalf("expected finish reason 'stop', got %q", resp.FinishReason)
	}
	if resp.Usage.InputTokens == 0 || resp.Usage.OutputTokens == 0 {
		t.Fatalf("expected estimated token counts, got %+v", resp.Usage)
	}
}

func TestProvider_Request_Streaming(t *testing.T) {
	req := baseRequest()
	req.Stream = true

	p := New("anthropic")
	resp, err := p.Request(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Stream == nil {
		t.Fatal("expected non-nil Stream channel")
	}

	var (
		content   strings.Builder
		chunks    int
		terminals int
	)
	for chunk := range resp.Stream {
		if chunk.Content != "" {
			chunks++
			content.WriteString(chunk.Content)
		}
		if chunk.FinishReason != "" {
			terminals++
			if chunk.Usage == nil {
				t.Fatal("terminal chunk should carry usage")
			}
		}
	}

	if chunks < 2 {
		t.Fatalf("expected multiple content chunks, got %d", chunks)
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal chunk, got %d", terminals)
	}
	if !strings.Contains(content.String(), "Hello there") {
		t.Fatalf("streamed content should echo the prompt, got %q", content.String())
	}
}
