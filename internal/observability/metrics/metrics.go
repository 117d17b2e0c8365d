package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "plantwatch_"

	resultSuccess = "success"
	resultError   = "error"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	tagUpdates   *prometheus.CounterVec
	staleUpdates prometheus.Counter

	supervisionChanges *prometheus.CounterVec
	heartbeatExpiries  *prometheus.CounterVec

	alarmEvents           *prometheus.CounterVec
	alarmEvaluationErrors prometheus.Counter
	oscillationSuppressed prometheus.Counter
	oscillatingAlarms     prometheus.Gauge

	scanRuns     *prometheus.CounterVec
	lockTimeouts *prometheus.CounterVec

	commandResults *prometheus.CounterVec

	archiveDropped *prometheus.CounterVec
)

// Init registers engine metrics with the default registry.
func Init() {
	InitWith(prometheus.DefaultRegisterer)
}

// InitWith registers engine metrics with registerer. Only the first call has an effect.
func InitWith(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		tagUpdates = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "tag_updates_total",
				Help: "Total tag updates by tag kind",
			},
			[]string{"kind"},
		)
		staleUpdates = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "tag_updates_stale_total",
				Help: "Tag updates discarded because they were older than the cached value",
			},
		)
		supervisionChanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "supervision_changes_total",
				Help: "Supervision status writes by entity kind and status",
			},
			[]string{"kind", "status"},
		)
		heartbeatExpiries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "heartbeat_expiries_total",
				Help: "Expired alive timers by entity kind",
			},
			[]string{"kind"},
		)
		alarmEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Published alarm events by type",
			},
			[]string{"event"},
		)
		alarmEvaluationErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_evaluation_errors_total",
				Help: "Alarm condition evaluations that failed",
			},
		)
		oscillationSuppressed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_oscillation_suppressed_total",
				Help: "Alarm transitions withheld from publication while oscillating",
			},
		)
		oscillatingAlarms = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alarms_oscillating",
				Help: "Alarms currently flagged as oscillating",
			},
		)
		scanRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scan_runs_total",
				Help: "Periodic scan passes by scan and result",
			},
			[]string{"scan", "result"},
		)
		lockTimeouts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "lock_timeouts_total",
				Help: "Key lock acquisitions that timed out by component",
			},
			[]string{"component"},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Command executions by report status",
			},
			[]string{"status"},
		)
		archiveDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "archive_dropped_total",
				Help: "Archive records dropped because the queue was full",
			},
			[]string{"record"},
		)

		registerer.MustRegister(
			tagUpdates,
			staleUpdates,
			supervisionChanges,
			heartbeatExpiries,
			alarmEvents,
			alarmEvaluationErrors,
			oscillationSuppressed,
			oscillatingAlarms,
			scanRuns,
			lockTimeouts,
			commandResults,
			archiveDropped,
		)
	})
}

// IncTagUpdate increments the tag update counter.
func IncTagUpdate(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if tagUpdates != nil {
		tagUpdates.WithLabelValues(kind).Inc()
	}
}

// IncStaleUpdate counts a discarded out-of-order update.
func IncStaleUpdate() {
	if staleUpdates != nil {
		staleUpdates.Inc()
	}
}

// IncSupervisionChange counts a supervision status write.
func IncSupervisionChange(kind, status string) {
	if supervisionChanges != nil {
		supervisionChanges.WithLabelValues(kind, status).Inc()
	}
}

// IncHeartbeatExpiry counts an expired alive timer.
func IncHeartbeatExpiry(kind string) {
	if heartbeatExpiries != nil {
		heartbeatExpiries.WithLabelValues(kind).Inc()
	}
}

// IncAlarmEvent increments alarm publication counters.
func IncAlarmEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alarmEvents != nil {
		alarmEvents.WithLabelValues(event).Inc()
	}
}

// IncAlarmEvaluationError counts a failed condition evaluation.
func IncAlarmEvaluationError() {
	if alarmEvaluationErrors != nil {
		alarmEvaluationErrors.Inc()
	}
}

// IncOscillationSuppressed counts a transition withheld from publication.
func IncOscillationSuppressed() {
	if oscillationSuppressed != nil {
		oscillationSuppressed.Inc()
	}
}

// AddOscillating moves the oscillating alarms gauge by delta.
func AddOscillating(delta int) {
	if oscillatingAlarms != nil {
		oscillatingAlarms.Add(float64(delta))
	}
}

// ObserveScan records a periodic scan outcome.
func ObserveScan(scan, result string) {
	if result == "" {
		result = resultSuccess
	}
	if scanRuns != nil {
		scanRuns.WithLabelValues(scan, result).Inc()
	}
}

// IncLockTimeout counts a lock acquisition timeout.
func IncLockTimeout(component string) {
	if lockTimeouts != nil {
		lockTimeouts.WithLabelValues(component).Inc()
	}
}

// IncCommandResult increments command result counter.
func IncCommandResult(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandResults != nil {
		commandResults.WithLabelValues(status).Inc()
	}
}

// IncArchiveDropped counts a record dropped by the archive queue.
func IncArchiveDropped(record string) {
	if archiveDropped != nil {
		archiveDropped.WithLabelValues(record).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = resultSkipped
)
