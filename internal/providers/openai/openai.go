// Package openai adapts the OpenAI chat completions API to the internal
// provider contract.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/sharma23Mukul/ai-router/internal/providers"
)

const providerName = "openai"

// Provider is the OpenAI adapter.
type Provider struct {
	apiKey  string
	baseURL string
	client  openaiSDK.Client
}

type Option func(*Provider)

// WithBaseURL points the adapter at a different endpoint. Used by tests and
// by the openaicompat wrapper for OpenAI-compatible vendors.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates the adapter. Retries for 429/5xx/network errors are handled
// by the SDK with exponential backoff.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey}
	for _, o := range opts {
		o(p)
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(p.apiKey),
		option.WithMaxRetries(providers.MaxRetries),
		option.WithHTTPClient(&http.Client{Timeout: providers.ProviderTimeout}),
	}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = openaiSDK.NewClient(clientOpts...)
	return p
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("openai: no API key configured")
	}
	params := buildParams(req)
	if req.Stream {
		return p.stream(ctx, params)
	}
	return p.complete(ctx, params)
}

func buildParams(req *providers.ProxyRequest) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toSDKMessage(m.Role, m.Content))
	}

	params := openaiSDK.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}
	if req.Temperature != 0 {
		params.Temperature = openaiSDK.Float(req.Temperature)
	}
	if req.TopP != 0 {
		params.TopP = openaiSDK.Float(req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxTokens))
	}
	return params
}

func (p *Provider) complete(ctx context.Context, params openaiSDK.ChatCompletionNewParams) (*providers.ProxyResponse, error) {
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, toProviderError(err)
	}

	content, finish := "", ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finish = string(resp.Choices[0].FinishReason)
	}
	return &providers.ProxyResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      content,
		FinishReason: finish,
		Status:       http.StatusOK,
		Usage: providers.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (p *Provider) stream(ctx context.Context, params openaiSDK.ChatCompletionNewParams) (*providers.ProxyResponse, error) {
	params.StreamOptions = openaiSDK.ChatCompletionStreamOptionsParam{
		IncludeUsage: openaiSDK.Bool(true),
	}

	ch := make(chan providers.StreamChunk, 64)
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	go func() {
		defer close(ch)

		// The usage frame trails finish_reason on the wire, so the terminal
		// chunk is held back until the stream drains.
		var (
			usage  *providers.Usage
			finish string
		)
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &providers.Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]
			if c.Delta.Content != "" {
				ch <- providers.StreamChunk{Content: c.Delta.Content}
			}
			if c.FinishReason != "" {
				finish = c.FinishReason
			}
		}

		if err := stream.Err(); err != nil {
			ch <- providers.StreamChunk{FinishReason: "error", Usage: usage}
			return
		}
		if finish == "" {
			finish = "stop"
		}
		ch <- providers.StreamChunk{FinishReason: finish, Usage: usage}
	}()

	return &providers.ProxyResponse{Status: http.StatusOK, Stream: ch}, nil
}

// ProviderError carries the upstream HTTP status so the gateway can map it.
type ProviderError struct {
	StatusCode int
	Message    string
	Timeout    bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("openai: %s (status=%d)", e.Message, e.StatusCode)
}

func (e *ProviderError) HTTPStatus() int { return e.StatusCode }
func (e *ProviderError) TimedOut() bool  { return e.Timeout }

func toProviderError(err error) error {
	var apiErr *openaiSDK.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Error(),
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{StatusCode: http.StatusGatewayTimeout, Message: err.Error(), Timeout: true}
	}
	return err
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch strings.ToLower(role) {
	case "developer":
		return openaiSDK.DeveloperMessage(content)
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}
