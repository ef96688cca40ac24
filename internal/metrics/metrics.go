// Package metrics provides Prometheus instrumentation for the settlement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts settled trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpad_trades_total",
		Help: "Total number of settled trades",
	}, []string{"side"})

	// TradeLatency tracks settlement latency, including rejected attempts.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "creatorpad_trade_latency_seconds",
		Help:    "Settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// Rejections counts rejected operations by reason code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpad_rejections_total",
		Help: "Operations rejected by the settlement engine, by reason",
	}, []string{"op", "reason"})

	// ActiveTokens tracks the number of launched tokens.
	ActiveTokens = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "creatorpad_active_tokens",
		Help: "Number of launched tokens",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "creatorpad_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsDropped counts events a sink could not deliver.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpad_events_dropped_total",
		Help: "Events dropped by a sink",
	}, []string{"sink"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpad_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "creatorpad_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// TokenVolume tracks cumulative ETH volume per token, in ETH.
	TokenVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpad_token_volume_eth_total",
		Help: "Cumulative trade volume in ETH",
	}, []string{"token", "side"})

	// HolderCount tracks the number of holders per token.
	HolderCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "creatorpad_token_holders",
		Help: "Addresses holding a positive token balance",
	}, []string{"token"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
