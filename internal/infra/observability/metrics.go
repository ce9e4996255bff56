package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/sony/gobreaker"
)

// Metrics holds all Prometheus metrics for the API.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	httpDuration    *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	mutations       *prometheus.CounterVec
	auditEvents     *prometheus.CounterVec
	avatarUploads   *prometheus.CounterVec
	overdueMarked   prometheus.Counter
	breakerState    *prometheus.GaugeVec
}

// NewMetrics creates a private registry so it can be called more than once
// (e.g. in tests) without duplicate collector panics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gestor_operation_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gestor_http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route pattern.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestor_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestor_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestor_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestor_mutations_total",
				Help: "Successful writes by entity and operation.",
			},
			[]string{"entity", "op"},
		),
		auditEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestor_audit_events_total",
				Help: "Audit rows by outcome (written, failed, dropped).",
			},
			[]string{"outcome"},
		),
		avatarUploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gestor_avatar_uploads_total",
				Help: "Avatar uploads by result.",
			},
			[]string{"result"},
		),
		overdueMarked: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gestor_invoices_marked_overdue_total",
				Help: "Invoices moved to overdue by the sweeper.",
			},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gestor_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
			},
			[]string{"name"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveHTTP records one served request. route is the chi pattern, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrMutation counts a successful create/update/delete.
func (m *Metrics) IncrMutation(entity, op string) {
	m.mutations.WithLabelValues(entity, op).Inc()
}

// IncrAudit counts an audit row outcome: "written", "failed" or "dropped".
func (m *Metrics) IncrAudit(outcome string) {
	m.auditEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrAvatarUpload(result string) {
	m.avatarUploads.WithLabelValues(result).Inc()
}

func (m *Metrics) AddOverdue(n int) {
	m.overdueMarked.Add(float64(n))
}

// SetBreakerState mirrors a gobreaker state change.
func (m *Metrics) SetBreakerState(name string, state gobreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// AuditDropped returns how many audit rows were dropped because the queue was full.
func (m *Metrics) AuditDropped() float64 {
	return counterValue(m.auditEvents, "dropped")
}

func counterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	pb := &dto.Metric{}
	if err := counter.Write(pb); err != nil {
		return 0
	}
	if pb.Counter != nil && pb.Counter.Value != nil {
		return *pb.Counter.Value
	}
	return 0
}
