// Package gemini adapts the Google Gemini API (official GenAI SDK) to the
// internal provider contract.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/sharma23Mukul/ai-router/internal/providers"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "gemini"
)

// Provider implements providers.Provider for Google Gemini.
type Provider struct {
	apiKey  string
	baseURL string
	client  *genai.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// New creates the adapter. The SDK wants the API version split off the base
// URL, so "…/v1beta" is parsed apart before the client is built.
func New(ctx context.Context, apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}

	base, ver := splitBaseURLAndVersion(p.baseURL)
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      p.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: providers.ProviderTimeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: base, APIVersion: ver},
	})
	if err != nil {
		return p
	}
	p.client = client
	return p
}

func (p *Provider) Name() string { return providerName }

// HealthCheck verifies auth and connectivity with a one-item model list.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if p.client == nil {
		return fmt.Errorf("gemini: client not initialized")
	}
	if _, err := p.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		return fmt.Errorf("gemini: health check: %w", toProviderError(err))
	}
	return nil
}

func (p *Provider) Request(ctx context.Context, req *providers.ProxyRequest) (*providers.ProxyResponse, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("gemini: no API key configured")
	}
	if p.client == nil {
		return nil, fmt.Errorf("gemini: client not initialized")
	}

	contents, cfg := buildContentsAndConfig(req)
	if req.Stream {
		return p.stream(ctx, req, contents, cfg)
	}
	return p.complete(ctx, req, contents, cfg)
}

func buildContentsAndConfig(req *providers.ProxyRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemPrompt string
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	var cfg *genai.GenerateContentConfig
	ensure := func() *genai.GenerateContentConfig {
		if cfg == nil {
			cfg = &genai.GenerateContentConfig{}
		}
		return cfg
	}

	if systemPrompt != "" {
		ensure().SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		}
	}
	if req.Temperature > 0 {
		ensure().Temperature = genai.Ptr[float32](float32(req.Temperature))
	}
	if req.TopP > 0 {
		ensure().TopP = genai.Ptr[float32](float32(req.TopP))
	}
	if req.MaxTokens > 0 {
		ensure().MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, cfg
}

func (p *Provider) complete(
	ctx context.Context,
	req *providers.ProxyRequest,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*providers.ProxyResponse, error) {
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, toProviderError(err)
	}

	id := req.RequestID
	if resp.ResponseID != "" {
		id = resp.ResponseID
	}

	var usage providers.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return &providers.ProxyResponse{
		ID:           id,
		Model:        req.Model,
		Content:      resp.Text(),
		FinishReason: "stop",
		Status:       http.StatusOK,
		Usage:        usage,
	}, nil
}

func (p *Provider) stream(
	ctx context.Context,
	req *providers.ProxyRequest,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*providers.ProxyResponse, error) {
	ch := make(chan providers.StreamChunk, 64)

	go func() {
		defer close(ch)

		var usage providers.Usage
		for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				ch <- providers.StreamChunk{FinishReason: "error"}
				return
			}
			if resp == nil {
				continue
			}
			if resp.UsageMetadata != nil {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
				continue
			}
			if text := candidateText(resp.Candidates[0]); text != "" {
				ch <- providers.StreamChunk{Content: text}
			}
		}

		u := usage
		ch <- providers.StreamChunk{FinishReason: "stop", Usage: &u}
	}()

	return &providers.ProxyResponse{Status: http.StatusOK, Stream: ch}, nil
}

func candidateText(c *genai.Candidate) string {
	if c.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range c.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// splitBaseURLAndVersion separates a trailing API version segment ("v1beta",
// "v1") from the base URL, since the SDK configures them independently.
func splitBaseURLAndVersion(raw string) (baseURL string, apiVersion string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		base := u.String()
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		return base, ""
	}

	parts := strings.Split(path, "/")
	if last := parts[len(parts)-1]; looksLikeAPIVersion(last) {
		apiVersion = last
		parts = parts[:len(parts)-1]
	}

	u.Path = "/" + strings.Join(parts, "/")
	if u.Path == "/" {
		u.Path = ""
	}

	baseURL = u.String()
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return baseURL, apiVersion
}

func looksLikeAPIVersion(s string) bool {
	if !strings.HasPrefix(s, "v") || len(s) < 2 {
		return false
	}
	return s[1] >= '0' && s[1] <= '9'
}

// ProviderError is a structured error returned by the Gemini API.
type ProviderError struct {
	StatusCode int
	Message    string
	Type       string
	Timeout    bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gemini: %s (status=%d, type=%s)", e.Message, e.StatusCode, e.Type)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// TimedOut implements providers.Timeouter.
func (e *ProviderError) TimedOut() bool { return e.Timeout }

func toProviderError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Type:       apiErr.Status,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{
			StatusCode: http.StatusGatewayTimeout,
			Message:    err.Error(),
			Type:       "timeout",
			Timeout:    true,
		}
	}
	return err
}
