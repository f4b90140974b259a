// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// gateway_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// gateway_requests_total{provider,model,status}
	requestsTotal *prometheus.CounterVec

	// gateway_request_cost_dollars_total{model}
	costTotal *prometheus.CounterVec

	// gateway_routing_decisions_total{strategy,model}
	routingDecisions *prometheus.CounterVec

	// gateway_classifications_total{tier,method}
	classifications *prometheus.CounterVec

	// gateway_fallback_attempts_total{from,to}
	fallbackAttempts *prometheus.CounterVec

	// cache_hits_total{source} / cache_misses_total
	cacheHits   *prometheus.CounterVec
	cacheMisses prometheus.Counter

	// provider_errors_total{provider,error_type}
	providerErrors *prometheus.CounterVec

	// circuit_breaker_state{provider} — 0=closed, 1=open, 2=half-open
	circuitBreakerState *prometheus.GaugeVec

	// gateway_circuit_breaker_transitions_total{provider,to_state}
	cbTransitions *prometheus.CounterVec

	// gateway_circuit_breaker_rejections_total{provider}
	cbRejections *prometheus.CounterVec

	// gateway_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// gateway_tokens_total{provider,direction}
	tokensTotal *prometheus.CounterVec

	// gateway_write_queue_depth
	queueDepth prometheus.Gauge

	// gateway_bandit_updates_total{model}
	banditUpdates *prometheus.CounterVec

	// gateway_provider_health{provider}
	providerHealth *prometheus.GaugeVec

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	cbMu        sync.Mutex
	lastCBState map[string]float64

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg:         reg,
		lastCBState: make(map[string]float64),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the gateway",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes cache + upstream)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of completed inference requests",
			},
			[]string{"provider", "model", "status"},
		),

		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_request_cost_dollars_total",
				Help: "Accumulated request cost in dollars, from actual token counts",
			},
			[]string{"model"},
		),

		routingDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_routing_decisions_total",
				Help: "Routing decisions by strategy and selected model",
			},
			[]string{"strategy", "model"},
		),

		classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_classifications_total",
				Help: "Prompt classifications by tier and method",
			},
			[]string{"tier", "method"},
		),

		fallbackAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_fallback_attempts_total",
				Help: "Fallback hops after a provider failure",
			},
			[]string{"from", "to"},
		),

		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total cache hits by source tier",
			},
			[]string{"source"},
		),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total cache misses",
		}),

		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_errors_total",
				Help: "Total provider errors by type",
			},
			[]string{"provider", "error_type"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed,1=open,2=half-open)",
			},
			[]string{"provider"},
		),

		cbTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_transitions_total",
				Help: "Circuit breaker transitions to a new state",
			},
			[]string{"provider", "to_state"},
		),

		cbRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_rejections_total",
				Help: "Requests rejected due to circuit breaker state",
			},
			[]string{"provider"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_total",
				Help: "Token usage totals derived from upstream usage fields",
			},
			[]string{"provider", "direction"},
		),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_write_queue_depth",
			Help: "Request-log rows awaiting flush",
		}),

		banditUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_bandit_updates_total",
				Help: "Bandit posterior updates per model",
			},
			[]string{"model"},
		),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_provider_health",
				Help: "Provider health status (1=ok, 0=degraded)",
			},
			[]string{"provider"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.requestsTotal,
		r.costTotal,
		r.routingDecisions,
		r.classifications,
		r.fallbackAttempts,
		r.cacheHits,
		r.cacheMisses,
		r.providerErrors,
		r.circuitBreakerState,
		r.cbTransitions,
		r.cbRejections,
		r.rateLimitTotal,
		r.tokensTotal,
		r.queueDepth,
		r.banditUpdates,
		r.providerHealth,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// RecordRequest records one completed inference request.
func (r *Registry) RecordRequest(provider, model string, statusCode int, cost float64) {
	r.requestsTotal.WithLabelValues(provider, model, strconv.Itoa(statusCode)).Inc()
	if cost > 0 {
		r.costTotal.WithLabelValues(model).Add(cost)
	}
}

// RecordRouting records a routing decision.
func (r *Registry) RecordRouting(strategy, model string) {
	r.routingDecisions.WithLabelValues(strategy, model).Inc()
}

// RecordClassification records one prompt classification.
func (r *Registry) RecordClassification(tier, method string) {
	r.classifications.WithLabelValues(tier, method).Inc()
}

// RecordFallback records one fallback hop between providers.
func (r *Registry) RecordFallback(from, to string) {
	r.fallbackAttempts.WithLabelValues(from, to).Inc()
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

// CacheHit records a hit on the named tier ("exact" or "semantic").
func (r *Registry) CacheHit(source string) {
	r.cacheHits.WithLabelValues(source).Inc()
}

func (r *Registry) CacheMiss() {
	r.cacheMisses.Inc()
}

func (r *Registry) AddTokens(provider string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

// SetQueueDepth publishes the write queue's pending row count.
func (r *Registry) SetQueueDepth(depth int) {
	r.queueDepth.Set(float64(depth))
}

// RecordBanditUpdate counts one posterior update.
func (r *Registry) RecordBanditUpdate(model string) {
	r.banditUpdates.WithLabelValues(model).Inc()
}

func (r *Registry) SetProviderHealth(provider string, ok bool) {
	if ok {
		r.providerHealth.WithLabelValues(provider).Set(1)
		return
	}
	r.providerHealth.WithLabelValues(provider).Set(0)
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) RecordError(provider, errType string) {
	r.providerErrors.WithLabelValues(provider, errType).Inc()
}

// SetCircuitBreaker sets the circuit breaker state gauge and increments a
// transition counter when the state changes.
func (r *Registry) SetCircuitBreaker(provider string, state int64) {
	r.circuitBreakerState.WithLabelValues(provider).Set(float64(state))

	r.cbMu.Lock()
	prev, ok := r.lastCBState[provider]
	if !ok || prev != float64(state) {
		r.lastCBState[provider] = float64(state)
		toState := strconv.FormatInt(state, 10)
		r.cbTransitions.WithLabelValues(provider, toState).Inc()
	}
	r.cbMu.Unlock()
}

func (r *Registry) RecordCircuitBreakerRejection(provider string) {
	r.cbRejections.WithLabelValues(provider).Inc()
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
