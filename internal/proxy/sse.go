package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/sharma23Mukul/ai-router/internal/classify"
	"github.com/sharma23Mukul/ai-router/internal/providers"
	"github.com/sharma23Mukul/ai-router/internal/router"
	"github.com/sharma23Mukul/ai-router/internal/tenant"
	"github.com/sharma23Mukul/ai-router/pkg/apierr"
)

// sseChunk is one canonical chat.completion.chunk frame.
type sseChunk struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []sseChunkChoice `json:"choices"`
	Usage   *outboundUsage   `json:"usage,omitempty"`
}

type sseChunkChoice struct {
	Index        int            `json:"index"`
	Delta        map[string]any `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
}

// dispatchStream serves the streaming branch of handleChat. Only the
// primary candidate is dispatched: a denied breaker permit is a 503, not a
// fallback, because the SSE headers commit the response before any bytes
// from a second provider could arrive.
func (g *Gateway) dispatchStream(
	ctx *fasthttp.RequestCtx,
	req *inboundRequest,
	decision router.Decision,
	cls classify.Result,
	strategy, prompt string,
	t *tenant.Tenant,
	start time.Time,
) {
	reqID, _ := ctx.UserValue(ctxKeyRequestID).(string)
	cand := decision.Candidates[0]

	prov, ok := g.providers[cand.Provider]
	if !ok {
		apierr.WriteBreakerOpen(ctx, "provider not configured")
		return
	}
	if allowed, reason := g.cb.CanExecute(cand.Provider); !allowed {
		if g.metrics != nil {
			g.metrics.RecordCircuitBreakerRejection(cand.Provider)
		}
		apierr.WriteBreakerOpen(ctx, reason)
		return
	}

	// The stream outlives the handler, so its context cannot hang off the
	// request context fasthttp reuses after return.
	provCtx, cancel := context.WithTimeout(context.Background(), g.providerTimeout)

	resp, err := prov.Request(provCtx, g.proxyRequest(req, cand.ModelID, reqID))
	if err != nil {
		cancel()
		latencyMs := float64(time.Since(start).Milliseconds())
		g.cb.RecordFailure(cand.Provider, latencyMs, isTimeout(err))
		g.bench.Record(cand.ModelID, latencyMs, false, isTimeout(err))
		g.log.ErrorContext(ctx, "stream open failed",
			slog.String("request_id", reqID),
			slog.String("provider", cand.Provider),
			slog.String("error", err.Error()))
		g.writeDispatchError(ctx, err)
		return
	}

	stream := resp.Stream
	if stream == nil {
		// Provider answered synchronously; replay it as a single chunk.
		ch := make(chan providers.StreamChunk, 2)
		ch <- providers.StreamChunk{Content: resp.Content}
		ch <- providers.StreamChunk{FinishReason: finishReason(resp.FinishReason), Usage: &resp.Usage}
		close(ch)
		stream = ch
	}

	// Claim the concurrency slot: the stream writer frees it once the
	// stream drains or the client disconnects.
	release, _ := ctx.UserValue(ctxKeyReleaseSlot).(func())
	ctx.SetUserValue(ctxKeyReleaseSlot, true)

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	chunkID := "chatcmpl-" + reqID
	model := g.catalog.Get(cand.ModelID)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() // stream writer must never crash the server
		defer cancel()
		if release != nil {
			defer release()
		}

		var (
			usage        providers.Usage
			contentChars int
			disconnected bool
		)

		for chunk := range stream {
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			if disconnected {
				continue // drain the upstream so the provider can close cleanly
			}
			contentChars += len(chunk.Content)

			frame := sseChunk{
				ID:      chunkID,
				Object:  "chat.completion.chunk",
				Created: time.Now().Unix(),
				Model:   cand.ModelID,
				Choices: []sseChunkChoice{{
					Delta: deltaFor(chunk),
					FinishReason: func() *string {
						if chunk.FinishReason != "" {
							fr := chunk.FinishReason
							return &fr
						}
						return nil
					}(),
				}},
			}
			if chunk.Usage != nil {
				frame.Usage = &outboundUsage{
					PromptTokens:     chunk.Usage.InputTokens,
					CompletionTokens: chunk.Usage.OutputTokens,
					TotalTokens:      chunk.Usage.InputTokens + chunk.Usage.OutputTokens,
				}
			}
			data, _ := json.Marshal(frame)
			if _, werr := fmt.Fprintf(w, "data: %s\n\n", data); werr != nil {
				disconnected = true
				cancel() // tear down the upstream stream
				continue
			}
			if werr := w.Flush(); werr != nil {
				disconnected = true
				cancel()
			}
		}

		if !disconnected {
			fmt.Fprint(w, "data: [DONE]\n\n")
			w.Flush()
		}

		// Usage from the upstream when reported, estimated otherwise
		// (~4 chars per token).
		if usage.OutputTokens == 0 && contentChars > 0 {
			usage.OutputTokens = contentChars/4 + 1
		}
		latencyMs := float64(time.Since(start).Milliseconds())
		cost := model.Cost(usage.InputTokens, usage.OutputTokens)
		energy := model.Energy(usage.InputTokens, usage.OutputTokens)

		g.cb.RecordSuccess(cand.Provider, latencyMs)
		g.bench.Record(cand.ModelID, latencyMs, true, false)
		g.recordOutcome(outcome{
			requestID: reqID,
			tenant:    t,
			prompt:    prompt,
			cls:       cls,
			strategy:  strategy,
			candidate: cand,
			reasoning: decision.Reasoning,
			usage:     usage,
			cost:      cost,
			energy:    energy,
			latencyMs: latencyMs,
			upstream:  time.Duration(latencyMs) * time.Millisecond,
			status:    fasthttp.StatusOK,
		})
		if g.metrics != nil {
			g.metrics.RecordRequest(cand.Provider, cand.ModelID, fasthttp.StatusOK, cost)
			g.metrics.AddTokens(cand.Provider, usage.InputTokens, usage.OutputTokens)
			g.metrics.ObserveHTTP("chat_completions", fasthttp.StatusOK, time.Since(start))
			g.syncBreakerGauge(cand.Provider)
		}

		if disconnected {
			g.log.InfoContext(context.Background(), "client disconnected mid-stream",
				slog.String("request_id", reqID),
				slog.Float64("latency_ms", latencyMs))
		}
	})
}

func deltaFor(chunk providers.StreamChunk) map[string]any {
	if chunk.Content == "" {
		return map[string]any{}
	}
	return map[string]any{"content": chunk.Content}
}
