// Package anthropic adapts the Anthropic Messages API to the internal
// provider contract. It is the only translating adapter: system messages
// move into the top-level system field, and the Anthropic streaming events
// are mapped onto canonical chunks:
//
//	message_start       → input token count captured
//	content_block_delta → one chunk per text delta
//	message_delta       → terminal chunk with finish_reason "stop" + usage
//	message_stop        → stream close (the gateway emits [DONE])
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sharma23Mukul/ai-router/internal/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	defaultMaxTokens = 4096
)

// Provider implements providers.Provider for Anthropic.
type Provider struct {
	apiKey  string
	baseURL string
	client  anthropic.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// New creates the adapter. The SDK retries 429/5xx/network errors with
// exponential backoff.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}

	p.client = anthropic.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithMaxRetries(providers.MaxRetries),
		option.WithHTTPClient(&http.Client{Timeout: providers.ProviderTimeout}),
	)
	return p
}

func (p *Provider) Name() string { return providerName }

// HealthCheck verifies auth and connectivity with a one-item model list.
func (p *Provider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1),
	})
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", toProviderError(err))
	}
	return nil
}

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("anthropic: no API key configured")
	}
	params := buildParams(req)
	if req.Stream {
		return p.stream(ctx, params)
	}
	return p.complete(ctx, params)
}

func buildParams(req *providers.ProxyRequest) anthropic.MessageNewParams {
	var systemPrompt string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		default:
			msgs = append(msgs, toSDKMessage(m.Role, m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	return params
}

func toSDKMessage(role, content string) anthropic.MessageParam {
	anthRole := anthropic.MessageParamRoleUser
	if strings.ToLower(role) == "assistant" {
		anthRole = anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParam{
		Role: anthRole,
		Content: []anthropic.ContentBlockParamUnion{
			{OfText: &anthropic.TextBlockParam{Text: content}},
		},
	}
}

func (p *Provider) complete(ctx context.Context, params anthropic.MessageNewParams) (*providers.ProxyResponse, error) {
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, toProviderError(err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case *anthropic.TextBlock:
			sb.WriteString(v.Text)
		}
	}

	return &providers.ProxyResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Content:      sb.String(),
		FinishReason: "stop",
		Status:       http.StatusOK,
		Usage: providers.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (p *Provider) stream(ctx context.Context, params anthropic.MessageNewParams) (*providers.ProxyResponse, error) {
	ch := make(chan providers.StreamChunk, 64)
	stream := p.client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(ch)

		var usage providers.Usage
		for stream.Next() {
			ev := stream.Current()

			switch event := ev.AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.InputTokens = int(event.Message.Usage.InputTokens)

			case anthropic.ContentBlockDeltaEvent:
				switch delta := event.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						ch <- providers.StreamChunk{Content: delta.Text}
					}
				case *anthropic.TextDelta:
					if delta.Text != "" {
						ch <- providers.StreamChunk{Content: delta.Text}
					}
				}

			case anthropic.MessageDeltaEvent:
				usage.OutputTokens = int(event.Usage.OutputTokens)
				u := usage
				ch <- providers.StreamChunk{FinishReason: "stop", Usage: &u}

			case anthropic.MessageStopEvent:
				// Channel close below translates to the [DONE] sentinel.
			}
		}

		if err := stream.Err(); err != nil {
			ch <- providers.StreamChunk{FinishReason: "error"}
		}
	}()

	return &providers.ProxyResponse{Status: http.StatusOK, Stream: ch}, nil
}

// ProviderError is a structured error returned by the Anthropic API.
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
	Timeout    bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("anthropic: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// TimedOut implements providers.Timeouter.
func (e *ProviderError) TimedOut() bool { return e.Timeout }

func toProviderError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Error(),
			Type:       "anthropic_error",
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{
			StatusCode: http.StatusGatewayTimeout,
			Message:    err.Error(),
			Type:       "anthropic_error",
			Timeout:    true,
		}
	}
	return err
}
