package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// Metrics holds the Prometheus collectors for the engine. It satisfies the
// observer interfaces of the project registry, the history manager and the
// LLM generator, and wraps HTTP handlers.
type Metrics struct {
	registry *prometheus.Registry

	mutations        *prometheus.CounterVec
	mutationDuration *prometheus.HistogramVec
	snapshots        prometheus.Counter
	snapshotBytes    prometheus.Histogram
	pruned           prometheus.Counter
	rollbacks        prometheus.Counter
	discarded        prometheus.Counter
	generations      *prometheus.CounterVec
	genDuration      *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry under namespace.
// Each call is independent, so tests can build as many as they need.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Graph mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		mutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Time spent holding a project's write lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_recorded_total",
			Help:      "History snapshots recorded.",
		}),
		snapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "snapshot_size_bytes",
			Help:      "Compressed size of recorded snapshots.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_pruned_total",
			Help:      "Snapshots removed by the retention limit.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Completed rollbacks.",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollback_discarded_snapshots_total",
			Help:      "Snapshots discarded by rollbacks.",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Content generation calls by kind and outcome.",
		}, []string{"kind", "outcome"}),
		genDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Content generation latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}, []string{"kind"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generator_breaker_state",
			Help:      "1 for the generator circuit breaker's current state.",
		}, []string{"state"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.mutations, m.mutationDuration,
		m.snapshots, m.snapshotBytes, m.pruned, m.rollbacks, m.discarded,
		m.generations, m.genDuration, m.breakerState,
		m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.BreakerStateChanged("closed")
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// outcome buckets errors by kind for labels.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, schemas.ErrGeneration):
		return "generation_error"
	case errors.Is(err, schemas.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, schemas.ErrNotFound):
		return "not_found"
	case errors.Is(err, schemas.ErrValidation):
		return "validation_error"
	default:
		return "error"
	}
}

// ObserveMutation implements project.MutationObserver.
func (m *Metrics) ObserveMutation(op schemas.OperationType, elapsed time.Duration, err error) {
	m.mutations.WithLabelValues(string(op), outcome(err)).Inc()
	m.mutationDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// SnapshotRecorded implements history.Observer.
func (m *Metrics) SnapshotRecorded(sizeBytes int) {
	m.snapshots.Inc()
	m.snapshotBytes.Observe(float64(sizeBytes))
}

// SnapshotsPruned implements history.Observer.
func (m *Metrics) SnapshotsPruned(n int) { m.pruned.Add(float64(n)) }

// RolledBack implements history.Observer.
func (m *Metrics) RolledBack(discarded int) {
	m.rollbacks.Inc()
	m.discarded.Add(float64(discarded))
}

// GenerationFinished implements generator.Observer.
func (m *Metrics) GenerationFinished(kind string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.generations.WithLabelValues(kind, result).Inc()
	m.genDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// BreakerStateChanged implements generator.Observer.
func (m *Metrics) BreakerStateChanged(to string) {
	for _, s := range []string{"closed", "half-open", "open"} {
		v := 0.0
		if s == to {
			v = 1
		}
		m.breakerState.WithLabelValues(s).Set(v)
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
