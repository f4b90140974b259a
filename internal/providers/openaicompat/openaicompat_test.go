package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sharma23Mukul/ai-router/internal/providers"
)

func TestProvider_Name(t *testing.T) {
	if got := NewGroq("key").Name(); got != "groq" {
		t.Fatalf("expected 'groq', got %q", got)
	}
	if got := NewCohere("key").Name(); got != "cohere" {
		t.Fatalf("expected 'cohere', got %q", got)
	}
}

func TestProvider_Request_DelegatesToBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer mock-api-key" {
			t.Fatalf("missing or wrong Authorization header: %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-groq-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "llama-3.3-70b",
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": "fast answer"},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]any{
				"prompt_tokens":     5,
				"completion_tokens": 2,
				"total_tokens":      7,
			},
		})
	}))
	defer srv.Close()

	p := New("groq", srv.URL, "mock-api-key")
	resp, err := p.Request(context.Background(), &providers.ProxyRequest{
		Model:    "llama-3.3-70b",
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "fast answer" {
		t.Fatalf("expected 'fast answer', got %q", resp.Content)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 2 {
		t.Fatalf("usage mismatch: %+v", resp.Usage)
	}
}
