// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants.
const (
	TypeProviderError      = "provider_error"
	TypeRateLimitError     = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeAuthenticationErr  = "authentication_error"
	TypeServerError        = "server_error"
	TypeServiceUnavailable = "service_unavailable"
)

// Code constants.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeBudgetExceeded    = "budget_exceeded"
	CodeConcurrencyLimit  = "concurrency_limit"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeBreakerOpen       = "circuit_breaker_open"
	CodeInvalidRequest    = "invalid_request"
)

// APIError is the structured error returned to clients.
type (
	APIError struct {
		Message   string `json:"message"`
		Type      string `json:"type"`
		Code      string `json:"code,omitempty"`
		RequestID string `json:"requestId,omitempty"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Write writes the error as JSON to the fasthttp response with the given
// HTTP status. The request id is echoed when the middleware has set one.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	reqID, _ := ctx.UserValue("request_id").(string)
	ctx.ResetBody()
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message:   message,
		Type:      errType,
		Code:      code,
		RequestID: reqID,
	}})
	ctx.SetBody(body)
}

// WriteProviderError maps a provider HTTP status to the gateway status.
//
//	Provider 429  → 429 + Retry-After: 60
//	Provider 4xx  → passed through
//	Everything else → 502
func WriteProviderError(ctx *fasthttp.RequestCtx, providerStatus int, msg string) {
	switch {
	case providerStatus == fasthttp.StatusTooManyRequests:
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeRateLimitError, CodeRateLimitExceeded)
	case providerStatus >= 400 && providerStatus < 500:
		Write(ctx, providerStatus, msg, TypeProviderError, CodeProviderError)
	default:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	}
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteRateLimit writes a 429 rate limit error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}

// WriteBudgetExceeded writes a 429 monthly-budget error.
func WriteBudgetExceeded(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusTooManyRequests, "monthly budget exceeded", TypeRateLimitError, CodeBudgetExceeded)
}

// WriteConcurrencyLimit writes a 429 for the global in-flight cap.
func WriteConcurrencyLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "1")
	Write(ctx, fasthttp.StatusTooManyRequests, "too many concurrent requests", TypeRateLimitError, CodeConcurrencyLimit)
}

// WriteInvalidAPIKey writes a 401 authentication error.
func WriteInvalidAPIKey(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusUnauthorized, "invalid API key", TypeAuthenticationErr, CodeInvalidAPIKey)
}

// WriteBreakerOpen writes a 503 for an open circuit breaker.
func WriteBreakerOpen(ctx *fasthttp.RequestCtx, reason string) {
	msg := "provider temporarily unavailable"
	if reason != "" {
		msg += ": " + reason
	}
	Write(ctx, fasthttp.StatusServiceUnavailable, msg, TypeServiceUnavailable, CodeBreakerOpen)
}
