// Package health implements the Health Monitor (C9): per-service status
// aggregation, rolling metrics, and a publish/subscribe event bus that
// the dispatcher, queue, and provider clients report into.
package health

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mentat-sh/mentat/internal/provider"
)

// Status is a single service's health classification.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Metrics is the rolling snapshot kept per service.
type Metrics struct {
	RequestCount   int64
	ErrorCount     int64
	TotalLatencyMs int64
	TokenUsage     int64
	CacheHits      int64
	CacheMisses    int64
}

func (m Metrics) AvgResponseMs() float64 {
	if m.RequestCount == 0 {
		return 0
	}
	return float64(m.TotalLatencyMs) / float64(m.RequestCount)
}

func (m Metrics) ErrorRate() float64 {
	if m.RequestCount == 0 {
		return 0
	}
	return float64(m.ErrorCount) / float64(m.RequestCount)
}

func (m Metrics) CacheHitRate() float64 {
	total := m.CacheHits + m.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(m.CacheHits) / float64(total)
}

// HealthUpdate is published whenever a service's status changes.
type HealthUpdate struct {
	Service   string
	Status    Status
	Timestamp time.Time
}

// MetricsUpdate is published whenever a service's rolling metrics change.
type MetricsUpdate struct {
	Service   string
	Metrics   Metrics
	Timestamp time.Time
}

// QueryErrorEvent mirrors the dispatcher's per-attempt failure.
type QueryErrorEvent struct {
	Provider   string
	InstanceID string
	Err        error
	Timestamp  time.Time
}

// AllProvidersFailedEvent is published when the dispatcher exhausts every
// retry round.
type AllProvidersFailedEvent struct {
	LastErr   error
	Timestamp time.Time
}

// Subscriber receives events from Monitor. Any field may be nil; Monitor
// skips nil handlers.
type Subscriber struct {
	OnHealthUpdate        func(HealthUpdate)
	OnMetricsUpdate       func(MetricsUpdate)
	OnQueryError          func(QueryErrorEvent)
	OnAllProvidersFailed  func(AllProvidersFailedEvent)
}

type serviceState struct {
	status  Status
	metrics Metrics
}

// Monitor aggregates per-service health, exposes Prometheus gauges, and
// fans events out to subscribers (notably internal/notify's Slack/Telegram
// egress). Grounded on the teacher's internal/daemon health-status shape
// (daemon.HealthStatus, daemon.ComponentHealth), generalized from a
// single daemon-wide status to a per-service map since mentat has many
// independently-failing services (one per provider, cache, memory, ...).
type Monitor struct {
	mu       sync.RWMutex
	services map[string]*serviceState
	subs     []Subscriber

	promRequests  *prometheus.CounterVec
	promErrors    *prometheus.CounterVec
	promLatency   *prometheus.HistogramVec
	promStatus    *prometheus.GaugeVec
}

func New() *Monitor {
	return &Monitor{
		services: make(map[string]*serviceState),
		promRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentat_provider_requests_total",
			Help: "Total provider query attempts.",
		}, []string{"provider"}),
		promErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentat_provider_errors_total",
			Help: "Total provider query errors.",
		}, []string{"provider", "class"}),
		promLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mentat_provider_latency_ms",
			Help:    "Provider query latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"provider"}),
		promStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mentat_service_status",
			Help: "Service status: 1=up, 0.5=degraded, 0=down.",
		}, []string{"service"}),
	}
}

// Collectors returns the prometheus collectors for external registration
// (e.g. into prometheus.DefaultRegisterer from cmd/mentatd).
func (m *Monitor) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.promRequests, m.promErrors, m.promLatency, m.promStatus}
}

func (m *Monitor) Subscribe(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
}

// ReportQuery implements provider.Reporter: every ProviderClient call
// reports here regardless of outcome (spec §4.1 side effect).
func (m *Monitor) ReportQuery(rec provider.HealthRecord) {
	m.promRequests.WithLabelValues(rec.Provider).Inc()
	m.promLatency.WithLabelValues(rec.Provider).Observe(float64(rec.LatencyMs))

	m.mu.Lock()
	st := m.serviceLocked(rec.Provider)
	st.metrics.RequestCount++
	st.metrics.TotalLatencyMs += rec.LatencyMs
	st.metrics.TokenUsage += int64(rec.TokenUsage.Total)
	if rec.ErrorClass != "" {
		st.metrics.ErrorCount++
		m.promErrors.WithLabelValues(rec.Provider, rec.ErrorClass).Inc()
	}
	metricsSnapshot := st.metrics
	m.mu.Unlock()

	m.publishMetrics(rec.Provider, metricsSnapshot)
}

// ReportCacheAccess lets the cache layer feed hit/miss counts into a
// named service's CacheHitRate.
func (m *Monitor) ReportCacheAccess(service string, hit bool) {
	m.mu.Lock()
	st := m.serviceLocked(service)
	if hit {
		st.metrics.CacheHits++
	} else {
		st.metrics.CacheMisses++
	}
	snapshot := st.metrics
	m.mu.Unlock()
	m.publishMetrics(service, snapshot)
}

func (m *Monitor) serviceLocked(name string) *serviceState {
	st, ok := m.services[name]
	if !ok {
		st = &serviceState{status: StatusUp}
		m.services[name] = st
	}
	return st
}

// SetStatus updates a service's status and publishes HealthUpdate if it
// changed.
func (m *Monitor) SetStatus(service string, status Status) {
	m.mu.Lock()
	st := m.serviceLocked(service)
	changed := st.status != status
	st.status = status
	m.mu.Unlock()

	m.promStatus.WithLabelValues(service).Set(statusValue(status))
	if changed {
		m.publishHealth(service, status)
	}
}

func statusValue(s Status) float64 {
	switch s {
	case StatusUp:
		return 1
	case StatusDegraded:
		return 0.5
	default:
		return 0
	}
}

// Overall aggregates every known service's status: unhealthy if any is
// down, degraded if any is degraded, healthy otherwise (spec §4.9).
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	degraded := false
	for _, st := range m.services {
		if st.status == StatusDown {
			return Status("unhealthy")
		}
		if st.status == StatusDegraded {
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return Status("healthy")
}

// Snapshot returns a copy of every service's status and metrics, for the
// status/stats CLI and the mcp://cache/stats-style resources.
func (m *Monitor) Snapshot() map[string]struct {
	Status  Status
	Metrics Metrics
} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]struct {
		Status  Status
		Metrics Metrics
	}, len(m.services))
	for name, st := range m.services {
		out[name] = struct {
			Status  Status
			Metrics Metrics
		}{Status: st.status, Metrics: st.metrics}
	}
	return out
}

func (m *Monitor) publishHealth(service string, status Status) {
	upd := HealthUpdate{Service: service, Status: status, Timestamp: time.Now()}
	m.mu.RLock()
	subs := append([]Subscriber(nil), m.subs...)
	m.mu.RUnlock()
	for _, s := range subs {
		if s.OnHealthUpdate != nil {
			s.OnHealthUpdate(upd)
		}
	}
}

func (m *Monitor) publishMetrics(service string, metrics Metrics) {
	upd := MetricsUpdate{Service: service, Metrics: metrics, Timestamp: time.Now()}
	m.mu.RLock()
	subs := append([]Subscriber(nil), m.subs...)
	m.mu.RUnlock()
	for _, s := range subs {
		if s.OnMetricsUpdate != nil {
			s.OnMetricsUpdate(upd)
		}
	}
}

// PublishQueryError lets the dispatcher report a per-attempt failure.
func (m *Monitor) PublishQueryError(providerName, instanceID string, err error) {
	evt := QueryErrorEvent{Provider: providerName, InstanceID: instanceID, Err: err, Timestamp: time.Now()}
	m.mu.RLock()
	subs := append([]Subscriber(nil), m.subs...)
	m.mu.RUnlock()
	for _, s := range subs {
		if s.OnQueryError != nil {
			s.OnQueryError(evt)
		}
	}
}

// PublishAllProvidersFailed lets the dispatcher report total exhaustion.
func (m *Monitor) PublishAllProvidersFailed(lastErr error) {
	evt := AllProvidersFailedEvent{LastErr: lastErr, Timestamp: time.Now()}
	m.mu.RLock()
	subs := append([]Subscriber(nil), m.subs...)
	m.mu.RUnlock()
	for _, s := range subs {
		if s.OnAllProvidersFailed != nil {
			s.OnAllProvidersFailed(evt)
		}
	}
}

var _ provider.Reporter = (*Monitor)(nil)
