package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trayvisor",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful child spawns.",
		}, []string{"name"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trayvisor",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts after a crash.",
		}, []string{"name"},
	)
	serviceCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trayvisor",
			Subsystem: "service",
			Name:      "crashes_total",
			Help:      "Number of spawn failures and unexpected exits.",
		}, []string{"name", "reason"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trayvisor",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of requested stops (graceful or kill).",
		}, []string{"name"},
	)
	serviceUptime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trayvisor",
			Subsystem: "service",
			Name:      "run_duration_seconds",
			Help:      "How long each child run lasted.",
			Buckets:   []float64{1, 5, 30, 60, 300, 1800, 3600, 21600, 86400},
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trayvisor",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between supervisor states.",
		}, []string{"name", "from", "to"},
	)
	historyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trayvisor",
			Subsystem: "history",
			Name:      "events_dropped_total",
			Help:      "Lifecycle events discarded because the history queue was full or closed.",
		},
	)
	historyFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trayvisor",
			Subsystem: "history",
			Name:      "send_failures_total",
			Help:      "Lifecycle events the history store rejected.",
		},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trayvisor",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceRestarts, serviceCrashes, serviceStops, serviceUptime, stateTransitions, currentStates, historyDropped, historyFailed}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer, for callers that keep their own registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by the supervisor to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}
func IncRestart(name string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(name).Inc()
	}
}
func IncCrash(name, reason string) {
	if regOK.Load() {
		serviceCrashes.WithLabelValues(name, reason).Inc()
	}
}
func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}
func ObserveRun(name string, d time.Duration) {
	if regOK.Load() {
		serviceUptime.WithLabelValues(name).Observe(d.Seconds())
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}

func IncHistoryDropped() {
	if regOK.Load() {
		historyDropped.Inc()
	}
}

func IncHistoryFailed() {
	if regOK.Load() {
		historyFailed.Inc()
	}
}
