package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "firestarter",
			Subsystem: "task",
			Name:      "runs_total",
			Help:      "Number of finished tasks by kind and outcome.",
		}, []string{"kind", "outcome"},
	)
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "firestarter",
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Wall time of build, release and migrate tasks.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"kind"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "firestarter",
			Subsystem: "orchestrator",
			Name:      "state_transitions_total",
			Help:      "Number of orchestrator state transitions.",
		}, []string{"from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "firestarter",
			Subsystem: "orchestrator",
			Name:      "current_state",
			Help:      "Current orchestrator state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	schemaVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "firestarter",
			Subsystem: "migration",
			Name:      "schema_version",
			Help:      "Last schema version reported by the database per application.",
		}, []string{"app"},
	)
	pendingMigrations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "firestarter",
			Subsystem: "migration",
			Name:      "pending",
			Help:      "Number of migration files newer than the schema version per application.",
		}, []string{"app"},
	)
	runCPU = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "firestarter",
			Subsystem: "run",
			Name:      "cpu_percent",
			Help:      "CPU usage of the run process at the last sample.",
		},
	)
	runMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "firestarter",
			Subsystem: "run",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the run process at the last sample.",
		},
	)
)

// Outcome labels for task runs.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{taskRuns, taskDuration, stateTransitions, currentState, schemaVersion, pendingMigrations, runCPU, runMemory}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveTask(kind, outcome string, seconds float64) {
	if regOK.Load() {
		taskRuns.WithLabelValues(kind, outcome).Inc()
		if outcome != OutcomeRejected {
			taskDuration.WithLabelValues(kind).Observe(seconds)
		}
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
		currentState.WithLabelValues(from).Set(0)
		currentState.WithLabelValues(to).Set(1)
	}
}

func SetSchemaVersion(app string, version int) {
	if regOK.Load() {
		schemaVersion.WithLabelValues(app).Set(float64(version))
	}
}

func SetPendingMigrations(app string, n int) {
	if regOK.Load() {
		pendingMigrations.WithLabelValues(app).Set(float64(n))
	}
}

// SetRunUsage records the last resource sample of the run process.
// Pass zeros once the process has exited.
func SetRunUsage(cpuPercent float64, rssBytes uint64) {
	if regOK.Load() {
		runCPU.Set(cpuPercent)
		runMemory.Set(float64(rssBytes))
	}
}
