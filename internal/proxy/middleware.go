package proxy

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/sharma23Mukul/ai-router/internal/tenant"
	"github.com/sharma23Mukul/ai-router/pkg/apierr"
)

// User-value keys shared between middleware and handlers.
const (
	ctxKeyRequestID   = "request_id"
	ctxKeyTenant      = "tenant"
	ctxKeyReleaseSlot = "release_slot"
)

// recovery catches panics in any handler and returns a 500 without crashing
// the server process. The panic value is logged at ERROR level.
func recovery(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("handler_panic",
					slog.Any("panic", r),
					slog.String("path", string(ctx.Path())),
					slog.String("method", string(ctx.Method())),
				)
				apierr.Write(ctx, fasthttp.StatusInternalServerError,
					"internal server error", apierr.TypeServerError, apierr.CodeInternalError)
			}
		}()
		next(ctx)
	}
}

// requestID ensures every request has an X-Request-ID header. If the client
// does not supply one a UUID v4 is generated. The ID is also stored in the
// request context for downstream handlers and the error envelope.
func requestID(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		id := string(ctx.Request.Header.Peek("X-Request-ID"))
		if id == "" {
			id = uuid.New().String()
		}
		ctx.Response.Header.Set("X-Request-ID", id)
		ctx.SetUserValue(ctxKeyRequestID, id)
		next(ctx)
	}
}

// timing records the total handler duration in the X-Response-Time response
// header. The value uses Go's default Duration string format (e.g. "2.5ms").
func timing(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		ctx.Response.Header.Set("X-Response-Time", time.Since(start).String())
	}
}

// securityHeaders adds HTTP security headers recommended by OWASP to every
// response.
func securityHeaders(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		next(ctx)
		h := &ctx.Response.Header
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		// X-XSS-Protection is deprecated; set to 0 and rely on CSP instead.
		h.Set("X-XSS-Protection", "0")
		// API-only CSP: no HTML resources served, so deny everything.
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Referrer-Policy", "no-referrer")
	}
}

// corsHandler returns a CORS middleware configured for the given allowed
// origins.
//
//   - nil or []string{"*"} → Access-Control-Allow-Origin: *  (open)
//   - specific origins      → joined with ", "  (strict allowlist)
//
// OPTIONS preflight requests are answered with 204 No Content and no body.
func corsHandler(origins []string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	origin := "*"
	if len(origins) > 0 && !(len(origins) == 1 && origins[0] == "*") {
		origin = strings.Join(origins, ", ")
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, x-api-key")

			if string(ctx.Method()) == fasthttp.MethodOptions {
				ctx.SetStatusCode(fasthttp.StatusNoContent)
				return
			}
			next(ctx)
		}
	}
}

// extractAPIKey returns the credential from the Authorization bearer header
// or the x-api-key header, empty when neither is present.
func extractAPIKey(ctx *fasthttp.RequestCtx) string {
	raw := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	if raw != "" {
		parts := strings.SplitN(raw, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(string(ctx.Request.Header.Peek("x-api-key")))
}

// authenticate resolves the API key to a tenant.
//
//   - No key, vendor-prefixed keys (sk-, ant-) and unrecognized prefixes pass
//     through anonymously.
//   - Gateway-issued keys (fra_) must resolve; unknown ones get a 401.
//   - A tenant over its monthly budget is rejected with 429 budget_exceeded
//     before any classification or routing work happens.
func (g *Gateway) authenticate(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key := extractAPIKey(ctx)
		if key == "" || !strings.HasPrefix(key, tenant.KeyPrefix) {
			next(ctx)
			return
		}

		t, err := g.tenants.Authenticate(ctx, key)
		if err != nil {
			if !errors.Is(err, tenant.ErrNotFound) {
				g.log.ErrorContext(ctx, "tenant lookup failed",
					slog.String("error", err.Error()))
			}
			apierr.WriteInvalidAPIKey(ctx)
			return
		}
		if t.OverBudget() {
			g.log.WarnContext(ctx, "budget exceeded",
				slog.String("tenant_id", t.ID),
				slog.Float64("usage", t.UsageThisMonth))
			apierr.WriteBudgetExceeded(ctx)
			return
		}

		ctx.SetUserValue(ctxKeyTenant, t)
		next(ctx)
	}
}

// rateLimit enforces the per-tenant token bucket (capacity = rate_limit_rpm,
// refilled at capacity/60 per second) and emits X-RateLimit-Remaining.
// Anonymous traffic falls under the optional Redis global RPM window.
func (g *Gateway) rateLimit(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if t, ok := ctx.UserValue(ctxKeyTenant).(*tenant.Tenant); ok {
			allowed, remaining := g.buckets.Allow(t.ID, t.RateLimitRPM)
			ctx.Response.Header.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !allowed {
				if g.metrics != nil {
					g.metrics.RecordRateLimit("blocked")
				}
				apierr.WriteRateLimit(ctx)
				return
			}
		} else if g.globalRPM != nil {
			allowed, err := g.globalRPM.Allow(ctx)
			if err == nil && !allowed {
				if g.metrics != nil {
					g.metrics.RecordRateLimit("blocked")
				}
				apierr.WriteRateLimit(ctx)
				return
			}
		}
		if g.metrics != nil {
			g.metrics.RecordRateLimit("allowed")
		}
		next(ctx)
	}
}

// concurrencyGate bounds the number of simultaneously active inference
// requests. The release closure is once-guarded so the slot is freed exactly
// once whether the handler returns synchronously or hands the connection to
// a stream writer (which claims the closure via the request context).
func (g *Gateway) concurrencyGate(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !g.inflight.Acquire() {
			if g.metrics != nil {
				g.metrics.RecordRateLimit("concurrency_blocked")
			}
			apierr.WriteConcurrencyLimit(ctx)
			return
		}
		if g.metrics != nil {
			g.metrics.IncInFlight()
		}

		var once sync.Once
		release := func() {
			once.Do(func() {
				g.inflight.Release()
				if g.metrics != nil {
					g.metrics.DecInFlight()
				}
			})
		}
		ctx.SetUserValue(ctxKeyReleaseSlot, release)

		defer func() {
			// Streaming handlers overwrite the key to claim the slot until
			// the stream drains; everyone else is released here.
			if _, claimed := ctx.UserValue(ctxKeyReleaseSlot).(bool); !claimed {
				release()
			}
		}()
		next(ctx)
	}
}

// applyMiddleware wraps h with the given middleware chain. The first
// middleware in the slice becomes the outermost wrapper:
//
//	applyMiddleware(h, mw1, mw2) → mw1(mw2(h))
func applyMiddleware(h fasthttp.RequestHandler, mws ...func(fasthttp.RequestHandler) fasthttp.RequestHandler) fasthttp.RequestHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
