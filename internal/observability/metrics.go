// Package observability mengumpulkan metrik Prometheus untuk portal.
package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	remoteTotal     *prometheus.CounterVec
	remoteDuration  *prometheus.HistogramVec
	staleDiscards   *prometheus.CounterVec
	pollFailures    prometheus.Counter
	liveSessions    prometheus.Gauge
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taxdesk_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taxdesk_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	remoteTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taxdesk_remote_requests_total",
		Help: "Panggilan ke API remote berdasarkan method, route dan status.",
	}, []string{"method", "route", "code"})
	remoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taxdesk_remote_request_duration_seconds",
		Help:    "Durasi panggilan ke API remote.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
	stale := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taxdesk_stale_responses_discarded_total",
		Help: "Respons list atau chat yang dibuang karena sudah digantikan permintaan baru.",
	}, []string{"view"})
	pollFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taxdesk_chat_poll_failures_total",
		Help: "Polling chat yang gagal.",
	})
	live := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taxdesk_chat_live_sessions",
		Help: "Koneksi websocket chat yang sedang aktif.",
	})
	registry.MustRegister(requests, duration, remoteTotal, remoteDuration, stale, pollFailures, live)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		remoteTotal:     remoteTotal,
		remoteDuration:  remoteDuration,
		staleDiscards:   stale,
		pollFailures:    pollFailures,
		liveSessions:    live,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveRemote mencatat satu panggilan API remote. Status 0 berarti gagal
// di level jaringan.
func (m *Metrics) ObserveRemote(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.remoteTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.remoteDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// StaleDiscarded returns a hook counting dropped responses for view.
func (m *Metrics) StaleDiscarded(view string) func() {
	if m == nil {
		return func() {}
	}
	counter := m.staleDiscards.WithLabelValues(view)
	return counter.Inc
}

// PollFailed counts a failed chat poll.
func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.pollFailures.Inc()
}

// LiveSessionOpened tracks a websocket chat session; the returned func closes it.
func (m *Metrics) LiveSessionOpened() func() {
	if m == nil {
		return func() {}
	}
	m.liveSessions.Inc()
	return m.liveSessions.Dec
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over instrumented connections.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("observability: %T does not support hijacking", r.ResponseWriter)
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
