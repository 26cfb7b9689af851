// Package metrics provides Prometheus instrumentation for the paper engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by action.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_trades_total",
		Help: "Total number of trades executed",
	}, []string{"action"})

	// OrdersPlaced counts pending orders placed, partitioned by order type.
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_orders_placed_total",
		Help: "Total pending orders placed",
	}, []string{"type"})

	// OrdersFilled counts pending orders that triggered and executed.
	OrdersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_orders_filled_total",
		Help: "Total pending orders filled",
	}, []string{"type"})

	// OrdersCancelled counts user-cancelled orders.
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paper_orders_cancelled_total",
		Help: "Total pending orders cancelled",
	})

	// OrdersExpired counts orders lapsed past their TTL.
	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paper_orders_expired_total",
		Help: "Total pending orders expired",
	})

	// RiskRejections counts trades rejected by the risk limiter.
	RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paper_risk_rejections_total",
		Help: "Trades rejected by risk limits",
	})

	// PortfolioValue tracks the last recorded total account value.
	PortfolioValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_portfolio_value",
		Help: "Last recorded total portfolio value",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paper_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paper_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paper_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
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

		// Use the raw path for the label; the API surface is small and fixed.
		path := r.URL.Path
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
