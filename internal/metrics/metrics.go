// Package metrics provides Prometheus instrumentation for the tulip bot.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TulipPrice is the last observed trade-in price per variant.
	TulipPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tulipbot_tulip_price_chroner",
		Help: "Last observed flower trade-in price in chroner",
	}, []string{"variant"})

	PriceRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tulipbot_price_refreshes_total",
		Help: "Price page fetches by result",
	}, []string{"result"})

	// CyclesTotal counts settlement cycles by outcome (completed, skipped, failed).
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tulipbot_cycles_total",
		Help: "Settlement cycles by outcome",
	}, []string{"outcome"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tulipbot_cycle_duration_seconds",
		Help:    "Settlement cycle duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// SalesTotal counts trade-in sales by variant and result.
	SalesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tulipbot_sales_total",
		Help: "Trade-in sales by variant and result",
	}, []string{"variant", "result"})

	TulipsSold = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tulipbot_tulips_sold_total",
		Help: "Tulips sold on behalf of players",
	}, []string{"variant"})

	ChronerCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tulipbot_chroner_credited_total",
		Help: "Chroner credited to player balances from sales",
	})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tulipbot_notification_failures_total",
		Help: "Sale notifications that could not be delivered",
	})

	// InventoryDiscrepancy is expected minus actual per asset at last reconcile.
	InventoryDiscrepancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tulipbot_inventory_discrepancy",
		Help: "Ledger total minus agent inventory per asset",
	}, []string{"asset"})

	MessagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tulipbot_messages_handled_total",
		Help: "Inbound player messages by kind and command",
	}, []string{"kind", "command"})

	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tulipbot_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tulipbot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tulipbot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
