package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Status poller
	PollsOK     atomic.Uint64
	PollsFailed atomic.Uint64

	// Camera relay
	RelaySessions atomic.Uint64
	RelayActive   atomic.Int64
	RelayErrors   atomic.Uint64
	RelayBytes    atomic.Uint64

	// Fall checks
	ChecksStarted  atomic.Uint64
	ChecksSkipped  atomic.Uint64 // automatic ticks dropped while a check was in flight
	ChecksTimedOut atomic.Uint64
	ChecksFailed   atomic.Uint64
	CaptureErrors  atomic.Uint64
	FallsDetected  atomic.Uint64

	// Live push clients (SSE, WebSocket, WebRTC)
	LiveClients atomic.Int64

	AnalysisLatency prometheus.Histogram
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counterFunc(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counterFunc("care_polls_ok_total", "Status polls that returned a snapshot", &m.PollsOK)
	m.counterFunc("care_polls_failed_total", "Status polls that failed", &m.PollsFailed)

	m.counterFunc("care_relay_sessions_total", "Camera relay sessions opened", &m.RelaySessions)
	m.counterFunc("care_relay_errors_total", "Camera relay sessions that failed upstream", &m.RelayErrors)
	m.counterFunc("care_relay_bytes_total", "Bytes copied from the camera to clients", &m.RelayBytes)
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "care_relay_active",
			Help: "Camera relay sessions currently streaming",
		},
		func() float64 { return float64(m.RelayActive.Load()) },
	))

	m.counterFunc("care_checks_started_total", "Fall checks started", &m.ChecksStarted)
	m.counterFunc("care_checks_skipped_total", "Automatic fall checks skipped while one was in flight", &m.ChecksSkipped)
	m.counterFunc("care_checks_timeout_total", "Fall checks that hit the analysis timeout", &m.ChecksTimedOut)
	m.counterFunc("care_checks_failed_total", "Fall checks that failed", &m.ChecksFailed)
	m.counterFunc("care_capture_errors_total", "Frame captures that failed", &m.CaptureErrors)
	m.counterFunc("care_falls_detected_total", "Falls detected (rising edge)", &m.FallsDetected)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "care_live_clients",
			Help: "Connected live status clients",
		},
		func() float64 { return float64(m.LiveClients.Load()) },
	))

	m.AnalysisLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "care_analysis_latency_seconds",
		Help:    "Round trip of one fall analysis request.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})
	m.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	m.registry.MustRegister(m.AnalysisLatency, m.requests, m.requestDuration)
}

// ObserveAnalysis records the latency of one analysis round trip.
func (m *Metrics) ObserveAnalysis(d time.Duration) {
	m.AnalysisLatency.Observe(d.Seconds())
}

// Registry exposes the private registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on a separate address.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}

// Middleware counts requests per route template. Long-lived streams are
// observed when they end.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		m.requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rw.status)).Inc()
	})
}

type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(p []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(p)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
