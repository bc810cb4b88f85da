package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	BookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_bookings_total",
			Help: "Booking attempts by result",
		},
		[]string{"result"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appointment_transitions_total",
			Help: "Status transition attempts by action and result",
		},
		[]string{"action", "result"},
	)

	StoreRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appointment_store_retries_total",
			Help: "Retried store operations after a transient failure",
		},
	)

	SlotLockFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appointment_slot_lock_fallbacks_total",
			Help: "Bookings that ran without the slot lock because Redis was unreachable",
		},
	)

	RealtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Change events handled by the notifier by outcome",
		},
		[]string{"outcome"},
	)

	NotificationsRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_relayed_total",
			Help: "Outbox notifications handled by the relay by result",
		},
		[]string{"result"},
	)

	WebsocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_websocket_clients",
			Help: "Currently connected websocket clients",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BookingsTotal,
		TransitionsTotal,
		StoreRetriesTotal,
		SlotLockFallbacksTotal,
		RealtimeEventsTotal,
		NotificationsRelayedTotal,
		WebsocketClients,
	)
}

// Result labels shared by the counters above.
const (
	ResultSuccess  = "success"
	ResultConflict = "conflict"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Middleware records request count and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
