package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voyagehq/voyage/internal/oplog"
)

// Metrics collects the Prometheus metrics exposed by the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	persistFailures   *prometheus.CounterVec
	incomplete        *prometheus.CounterVec
}

// NewMetrics builds a private registry with HTTP and operation collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voyage_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voyage_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voyage_operations_total",
		Help: "Tracked business operations by kind, outcome and error code.",
	}, []string{"operation", "status", "code"})
	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voyage_operation_duration_seconds",
		Help:    "Duration of tracked business operations.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation"})
	persistFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voyage_operation_log_persist_failures_total",
		Help: "Operation log records the audit sink failed to store.",
	}, []string{"operation"})
	incomplete := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voyage_operations_incomplete_total",
		Help: "Operations that were started but never reported an outcome in time.",
	}, []string{"operation"})
	registry.MustRegister(
		requests, duration,
		operations, opDuration, persistFailures, incomplete,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		operationsTotal:   operations,
		operationDuration: opDuration,
		persistFailures:   persistFailures,
		incomplete:        incomplete,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and latency per chi route pattern.
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

// Registerer exposes the registry for job and component collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveOperation counts a finished operation.
func (m *Metrics) ObserveOperation(rec oplog.OperationLog) {
	if m == nil {
		return
	}
	status, code := "success", ""
	if !rec.Success {
		status = "failure"
		code = oplog.CodeInternal
		if rec.Error != nil && rec.Error.Code != "" {
			code = rec.Error.Code
		}
	}
	m.operationsTotal.WithLabelValues(rec.Operation, status, code).Inc()
	m.operationDuration.WithLabelValues(rec.Operation).Observe(rec.Duration.Seconds())
}

// ObservePersistFailure counts an audit sink failure.
func (m *Metrics) ObservePersistFailure(operation string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(operation).Inc()
}

// ObserveIncomplete counts an operation that outlived its deadline.
func (m *Metrics) ObserveIncomplete(operation string) {
	if m == nil {
		return
	}
	m.incomplete.WithLabelValues(operation).Inc()
}

// TrackOpenOperations exposes the recorder's open tracker count as a gauge.
func (m *Metrics) TrackOpenOperations(open func() int64) {
	if m == nil || open == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "voyage_operations_open",
		Help: "Operations started but not yet finished.",
	}, func() float64 { return float64(open()) }))
}

var _ oplog.Observer = (*Metrics)(nil)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
