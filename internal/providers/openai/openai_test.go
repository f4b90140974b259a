package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sharma23Mukul/ai-router/internal/providers"
)

func newTestProvider(srv *httptest.Server) *Provider {
	return New("mock-api-key", WithBaseURL(srv.URL))
}

func baseRequest() *providers.ProxyRequest {
	return &providers.ProxyRequest{
		Model: "gpt-4.1-mini",
		Messages: []providers.Message{
			{Role: "user", Content: "Hello"},
		},
		RequestID: "req-mock-1",
	}
}

func isCompletionsPath(p string) bool {
	return strings.HasSuffix(p, "/chat/completions")
}

func respondCompletionJSON(w http.ResponseWriter, id, model, text, finish string, inTok, outTok int) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   model,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": text},
				"finish_reason": finish,
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     inTok,
			"completion_tokens": outTok,
			"total_tokens":      inTok + outTok,
		},
	})
}

func respondErrorJSON(w http.ResponseWriter, status int, errType, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"type":    errType,
			"message": msg,
			"code":    nil,
		},
	})
}

func requireProviderError(t *testing.T, err error, wantStatus int) *ProviderError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError (via errors.As), got %T: %v", err, err)
	}
	if pe.StatusCode != wantStatus {
		t.Fatalf("expected status=%d, got %d", wantStatus, pe.StatusCode)
	}
	if pe.HTTPStatus() != wantStatus {
		t.Fatalf("expected HTTPStatus()=%d, got %d", wantStatus, pe.HTTPStatus())
	}
	return pe
}

func TestProvider_Name(t *testing.T) {
	p := New("key")
	if p.Name() != "openai" {
		t.Fatalf("expected 'openai', got %q", p.Name())
	}
}

func TestProvider_Request_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !isCompletionsPath(r.URL.Path) {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer mock-api-key" {
			t.Fatalf("missing or wrong Authorization header: %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if body["model"] != "gpt-4.1-mini" {
			t.Fatalf("expected model=gpt-4.1-mini, got %#v", body["model"])
		}
		msgs, ok := body["messages"].([]any)
		if !ok || len(msgs) != 1 {
			t.Fatalf("expected 1 message, got %#v", body["messages"])
		}

		respondCompletionJSON(w, "chatcmpl-abc", "gpt-4.1-mini", "Hi there!", "stop", 9, 4)
	}))
	defer srv.Close()

	p := newTestProvider(srv)
	resp, err := p.Request(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.ID != "chatcmpl-abc" {
		t.Fatalf("expected ID 'chatcmpl-abc', got %q", resp.ID)
	}
	if resp.Content != "Hi there!" {
		t.Fatalf("expected content 'Hi there!', got %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Fatalf("expected finish reason 'stop', got %q", resp.FinishReason)
	}
	if resp.Usage.InputTokens != 9 || resp.Usage.OutputTokens != 4 {
		t.Fatalf("usage mismatch: %+v", resp.Usage)
	}
}

func TestProvider_Request_MaxTokensMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		// The request-level max_tokens travels as max_completion_tokens.
		if v, ok := body["max_completion_tokens"].(float64); !ok || int(v) != 256 {
			t.Fatalf("expected max_completion_tokens=256, got %#v", body["max_completion_tokens"])
		}
		if _, ok := body["max_tokens"]; ok {
			t.Fatalf("did not expect legacy max_tokens field")
		}
		respondCompletionJSON(w, "chatcmpl-def", "gpt-4.1-mini", "ok", "stop", 1, 1)
	}))
	defer srv.Close()

	req := baseRequest()
	req.MaxTokens = 256

	p := newTestProvider(srv)
	if _, err := p.Request(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

var streamFrames = []string{
	`{"id":"chatcmpl-s1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4.1-mini","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`,
	`{"id":"chatcmpl-s1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4.1-mini","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}`,
	`{"id":"chatcmpl-s1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4.1-mini","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":null}]}`,
	`{"id":"chatcmpl-s1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4.1-mini","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	`{"id":"chatcmpl-s1","object":"chat.completion.chunk","created":1700000000,"model":"gpt-4.1-mini","choices":[],"usage":{"prompt_tokens":11,"completion_tokens":6,"total_tokens":17}}`,
}

func TestProvider_Request_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if v, _ := body["stream"].(bool); !v {
			t.Fatalf("expected stream=true, got %#v", body["stream"])
		}
		so, ok := body["stream_options"].(map[string]any)
		if !ok || so["include_usage"] != true {
			t.Fatalf("expected stream_options.include_usage=true, got %#v", body["stream_options"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, frame := range streamFrames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			if flusher != nil {
				flusher.Flush()
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	req := baseRequest()
	req.Stream = true

	p := newTestProvider(srv)
	resp, err := p.Request(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Stream == nil {
		t.Fatal("expected non-nil Stream channel")
	}

	var (
		content   strings.Builder
		terminals int
		usage     *providers.Usage
	)
	for chunk := range resp.Stream {
		content.WriteString(chunk.Content)
		if chunk.FinishReason != "" {
			terminals++
			if chunk.FinishReason != "stop" {
				t.Fatalf("expected finish_reason 'stop', got %q", chunk.FinishReason)
			}
			usage = chunk.Usage
		}
	}

	if content.String() != "Hello world" {
		t.Fatalf("expected %q, got %q", "Hello world", content.String())
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal chunk, got %d", terminals)
	}
	// Usage arrives after finish_reason on the wire; the adapter holds the
	// terminal chunk until the stream drains so usage rides on it.
	if usage == nil || usage.InputTokens != 11 || usage.OutputTokens != 6 {
		t.Fatalf("terminal chunk should carry usage, got %+v", usage)
	}
}

func TestProvider_Request_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondErrorJSON(w, http.StatusTooManyRequests, "rate_limit_error", "Rate limit exceeded")
	}))
	defer srv.Close()

	p := newTestProvider(srv)
	_, err := p.Request(context.Background(), baseRequest())
	pe := requireProviderError(t, err, http.StatusTooManyRequests)
	if pe.Message == "" {
		t.Fatalf("expected non-empty ProviderError.Message")
	}
}

func TestProvider_Request_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondErrorJSON(w, http.StatusBadGateway, "server_error", "upstream exploded")
	}))
	defer srv.Close()

	p := newTestProvider(srv)
	_, err := p.Request(context.Background(), baseRequest())
	_ = requireProviderError(t, err, http.StatusBadGateway)
}

func TestProvider_NoKeyConfigured(t *testing.T) {
	p := New("")
	if _, err := p.Request(context.Background(), baseRequest()); err == nil {
		t.Fatal("expected an error with no API key configured")
	}
}

func TestProvider_ProviderError_ErrorString(t *testing.T) {
	e := &ProviderError{StatusCode: 502, Message: "bad gateway"}
	s := e.Error()
	if !strings.Contains(s, "openai") || !strings.Contains(s, "502") {
		t.Fatalf("Error() should mention provider and status, got: %s", s)
	}
}
