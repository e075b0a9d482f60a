package memo

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Outcomes recorded by memo_calls_total.
const (
	outcomeHit       = "hit"
	outcomeRecompute = "recompute"
)

// Stages recorded by memo_errors_total.
const (
	stageBind      = "bind"
	stageLock      = "lock"
	stageDecide    = "decide"
	stageCompute   = "compute"
	stageWrite     = "write"
	stageRead      = "read"
	stageDelete    = "delete"
	stageProcessor = "process"
)

// metrics holds the Prometheus collectors of one Cacher.
type metrics struct {
	calls         *prometheus.CounterVec
	invalidations prometheus.Counter
	errors        *prometheus.CounterVec
	lockWait      prometheus.Histogram
}

// newMetrics creates the collectors and registers them with reg, if any.
// A collector that cannot be registered is still counted into, and the
// failure is logged.
func newMetrics(reg prometheus.Registerer, log logrus.FieldLogger) *metrics {
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memo_calls_total",
			Help: "Memoized calls by outcome.",
		}, []string{"outcome"}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "memo_invalidations_total",
			Help: "Slots removed by invalidation.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memo_errors_total",
			Help: "Failed operations by stage.",
		}, []string{"stage"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "memo_lock_wait_seconds",
			Help:    "Time spent acquiring slot locks.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}
	if reg == nil {
		return m
	}

	m.calls = register(reg, log, "memo_calls_total", m.calls)
	m.invalidations = register(reg, log, "memo_invalidations_total", m.invalidations)
	m.errors = register(reg, log, "memo_errors_total", m.errors)
	m.lockWait = register(reg, log, "memo_lock_wait_seconds", m.lockWait)
	return m
}

// register registers c, reusing the collector already registered under the
// same name so that several Cachers can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, log logrus.FieldLogger, name string, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	log.WithError(err).WithField("metric", name).Warn("failed to register metric")
	return c
}
