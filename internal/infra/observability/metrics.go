package observability

import (
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Emission modes and outcomes used as label values.
const (
	ModeOnline      = "online"
	ModeContingency = "contingency"

	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all Prometheus metrics for the fiscal service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration   *prometheus.HistogramVec
	authorityDuration   *prometheus.HistogramVec
	emissions           *prometheus.CounterVec
	authorityErrors     *prometheus.CounterVec
	contingencyEnqueued *prometheus.CounterVec
	contingencyReplayed prometheus.Counter
	contingencyPending  prometheus.Gauge
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// fiscal metrics in it, so tests can build as many as they need.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fiscal_operation_duration_seconds",
				Help:    "Duration of fiscal operations (emit, cancel, status, replay).",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		authorityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fiscal_authority_call_duration_seconds",
				Help:    "Duration of calls to the fiscal authority.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		emissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiscal_emissions_total",
				Help: "Emission attempts by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		authorityErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiscal_authority_errors_total",
				Help: "Authority call failures by kind.",
			},
			[]string{"kind"},
		),
		contingencyEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiscal_contingency_enqueued_total",
				Help: "Documents placed in the contingency queue.",
			},
			[]string{"trigger"},
		),
		contingencyReplayed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fiscal_contingency_replayed_total",
				Help: "Queued documents accepted by the authority on replay.",
			},
		),
		contingencyPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fiscal_contingency_pending",
				Help: "Documents waiting in the contingency queue.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiscal_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiscal_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordOperationDuration records the duration of a fiscal operation.
func (m *Metrics) RecordOperationDuration(operation string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordAuthorityDuration records the duration of one authority call.
func (m *Metrics) RecordAuthorityDuration(operation string, d time.Duration) {
	m.authorityDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrEmission counts an emission attempt.
func (m *Metrics) IncrEmission(mode, outcome string) {
	m.emissions.WithLabelValues(mode, outcome).Inc()
}

// IncrAuthorityError counts an authority failure (unavailable, timeout,
// rejected, malformed, circuit_open).
func (m *Metrics) IncrAuthorityError(kind string) {
	m.authorityErrors.WithLabelValues(kind).Inc()
}

// IncrContingencyEnqueued counts a queued document. trigger is manual or fallback.
func (m *Metrics) IncrContingencyEnqueued(trigger string) {
	m.contingencyEnqueued.WithLabelValues(trigger).Inc()
}

// AddContingencyReplayed adds n replayed documents.
func (m *Metrics) AddContingencyReplayed(n int) {
	m.contingencyReplayed.Add(float64(n))
}

// SetContingencyPending sets the current queue depth.
func (m *Metrics) SetContingencyPending(n int) {
	m.contingencyPending.Set(float64(n))
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// Snapshot returns the fiscal counters for GET /v1/fiscal/metrics.
func (m *Metrics) Snapshot() *domain.FiscalMetrics {
	families, err := m.Registry.Gather()
	if err != nil {
		return &domain.FiscalMetrics{}
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	hits := sumValues(byName["fiscal_cache_hits_total"], map[string]string{"cache": "status"})
	misses := sumValues(byName["fiscal_cache_misses_total"], map[string]string{"cache": "status"})
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.FiscalMetrics{
		EmittedOnline:       int64(sumValues(byName["fiscal_emissions_total"], map[string]string{"mode": ModeOnline, "outcome": OutcomeSuccess})),
		EmittedContingency:  int64(sumValues(byName["fiscal_emissions_total"], map[string]string{"mode": ModeContingency, "outcome": OutcomeSuccess})),
		EmissionFailures:    int64(sumValues(byName["fiscal_emissions_total"], map[string]string{"outcome": OutcomeFailure})),
		ContingencyReplayed: int64(sumValues(byName["fiscal_contingency_replayed_total"], nil)),
		ContingencyPending:  int64(sumValues(byName["fiscal_contingency_pending"], nil)),
		AuthorityErrors:     int64(sumValues(byName["fiscal_authority_errors_total"], nil)),
		StatusCacheHitRate:  hitRate,
	}
}

// sumValues adds the counter or gauge values of every series in f whose
// labels match all of want.
func sumValues(f *dto.MetricFamily, want map[string]string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, metric := range f.GetMetric() {
		if !labelsMatch(metric.GetLabel(), want) {
			continue
		}
		switch {
		case metric.Counter != nil:
			total += metric.GetCounter().GetValue()
		case metric.Gauge != nil:
			total += metric.GetGauge().GetValue()
		}
	}
	return total
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok {
			if v != p.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}
