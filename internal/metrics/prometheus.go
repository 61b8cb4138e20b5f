package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Engine metrics
	runsTotal        prometheus.Counter
	runErrorsTotal   prometheus.Counter
	runsSkippedTotal prometheus.Counter
	runDuration      prometheus.Histogram
	remindersTotal   *prometheus.CounterVec

	// Dispatcher metrics
	resolveFailuresTotal prometheus.Counter
	actionsTotal         *prometheus.CounterVec
	actionDuration       prometheus.Histogram
	pairsInFlight        prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initEngineMetrics(reg)
	s.initDispatcherMetrics(reg)
	return s
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "caltrigger_engine_runs_total",
		Help: "Total number of dispatch runs started.",
	})
	s.runErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "caltrigger_engine_run_errors_total",
		Help: "Total number of dispatch runs that failed fatally.",
	})
	s.runsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "caltrigger_engine_runs_skipped_total",
		Help: "Total number of ticks skipped because another instance held the run lock.",
	})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "caltrigger_engine_run_duration_seconds",
		Help:    "Duration of each dispatch run in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})
	s.remindersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caltrigger_engine_reminders_total",
		Help: "Total reminders per run outcome.",
	}, []string{"outcome"})

	s.register(reg, s.runsTotal, "caltrigger_engine_runs_total")
	s.register(reg, s.runErrorsTotal, "caltrigger_engine_run_errors_total")
	s.register(reg, s.runsSkippedTotal, "caltrigger_engine_runs_skipped_total")
	s.register(reg, s.runDuration, "caltrigger_engine_run_duration_seconds")
	s.register(reg, s.remindersTotal, "caltrigger_engine_reminders_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.resolveFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "caltrigger_dispatcher_resolve_failures_total",
		Help: "Total number of booking resolution failures.",
	})
	s.actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caltrigger_dispatcher_actions_total",
		Help: "Total number of reminder actions performed.",
	}, []string{"action_type", "status_class"})
	s.actionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "caltrigger_dispatcher_action_duration_seconds",
		Help:    "Reminder action latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
	s.pairsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "caltrigger_dispatcher_pairs_in_flight",
		Help: "Number of (trigger, booking) pairs currently being dispatched.",
	})

	s.register(reg, s.resolveFailuresTotal, "caltrigger_dispatcher_resolve_failures_total")
	s.register(reg, s.actionsTotal, "caltrigger_dispatcher_actions_total")
	s.register(reg, s.actionDuration, "caltrigger_dispatcher_action_duration_seconds")
	s.register(reg, s.pairsInFlight, "caltrigger_dispatcher_pairs_in_flight")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Engine metrics implementation

func (s *PrometheusSink) RunStarted() {
	s.runsTotal.Inc()
}

func (s *PrometheusSink) RunCompleted(duration time.Duration, due, sent, failed, skipped int, err error) {
	s.runDuration.Observe(duration.Seconds())
	s.remindersTotal.WithLabelValues("due").Add(float64(due))
	s.remindersTotal.WithLabelValues("sent").Add(float64(sent))
	s.remindersTotal.WithLabelValues("failed").Add(float64(failed))
	s.remindersTotal.WithLabelValues("skipped").Add(float64(skipped))
	if err != nil {
		s.runErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) RunSkippedLockHeld() {
	s.runsSkippedTotal.Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) ResolveFailed() {
	s.resolveFailuresTotal.Inc()
}

func (s *PrometheusSink) ActionCompleted(actionType, statusClass string, duration time.Duration) {
	s.actionsTotal.WithLabelValues(actionType, statusClass).Inc()
	s.actionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) PairsInFlightIncr() {
	s.pairsInFlight.Inc()
}

func (s *PrometheusSink) PairsInFlightDecr() {
	s.pairsInFlight.Dec()
}
