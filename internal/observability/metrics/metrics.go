package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "geotech_"

	resultSuccess = "success"
	resultError   = "error"

	outcomeEvaluated = "evaluated"
	outcomeSkipped   = "skipped"
	outcomeError     = "error"
)

var (
	registerOnce sync.Once

	tickTotal   *prometheus.CounterVec
	tickLatency *prometheus.HistogramVec

	nodeOutcomes *prometheus.CounterVec

	fetchRetries prometheus.Counter

	alertEvents *prometheus.CounterVec

	dispatches *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers monitoring metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		tickTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ticks_total",
				Help: "Total monitoring ticks by result",
			},
			[]string{"result"},
		)
		tickLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "tick_latency_seconds",
				Help:    "Monitoring tick latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		nodeOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "node_outcomes_total",
				Help: "Per-node tick outcomes",
			},
			[]string{"outcome"},
		)

		fetchRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "fetch_retries_total",
				Help: "Total sensor fetch retry attempts",
			},
		)

		alertEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total admitted alert events by severity",
			},
			[]string{"severity"},
		)

		dispatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatches_total",
				Help: "Total notification dispatches by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "export_total",
				Help: "Total readings exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "export_latency_seconds",
				Help:    "Readings export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			tickTotal,
			tickLatency,
			nodeOutcomes,
			fetchRetries,
			alertEvents,
			dispatches,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveTick records tick duration and result.
func ObserveTick(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if tickTotal != nil {
		tickTotal.WithLabelValues(result).Inc()
	}
	if tickLatency != nil {
		tickLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncNodeOutcome increments the per-node outcome counter.
func IncNodeOutcome(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if nodeOutcomes != nil {
		nodeOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncFetchRetry increments the fetch retry counter.
func IncFetchRetry() {
	if fetchRetries != nil {
		fetchRetries.Inc()
	}
}

// IncAlertEvent increments admitted alert counters.
func IncAlertEvent(severity string) {
	if severity == "" {
		severity = "unknown"
	}
	if alertEvents != nil {
		alertEvents.WithLabelValues(severity).Inc()
	}
}

// IncDispatch increments the dispatch result counter.
func IncDispatch(result string) {
	if result == "" {
		result = resultSuccess
	}
	if dispatches != nil {
		dispatches.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	OutcomeEvaluated = outcomeEvaluated
	OutcomeSkipped   = outcomeSkipped
	OutcomeError     = outcomeError
)
