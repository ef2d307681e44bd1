package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/uplink/pkg/db"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeUnknown          = "unknown"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonUnknown              = "unknown"
)

const (
	LockResourceMember = "member"
	LockResourceOutbox = "outbox"
)

// SchedulerMetrics captures background job health.
type SchedulerMetrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTimeouts     *prometheus.CounterVec
	jobErrors       *prometheus.CounterVec
	batchProcessed  *prometheus.CounterVec
	batchFailed     *prometheus.CounterVec
	runLoopLag      prometheus.Observer
	lockWait        *prometheus.HistogramVec
	lockContention  *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	lockWaitByLabel map[string]prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "uplink"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "uplink_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "uplink_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "uplink_scheduler_job_timeouts_total",
		Help:        "Scheduler jobs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "uplink_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "uplink_scheduler_batch_processed_total",
		Help:        "Items processed by scheduler batches.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	batchFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "uplink_scheduler_batch_failed_total",
		Help:        "Items skipped by scheduler batches, by failure kind.",
		ConstLabels: constLabels,
	}, []string{"job", "kind"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "uplink_scheduler_runloop_lag_seconds",
		Help:        "Delay between the scheduled tick and the actual run start.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "uplink_lock_wait_seconds",
		Help:        "Time spent acquiring engine locks.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})
	lockContention := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "uplink_lock_contention_total",
		Help:        "Lock acquisitions abandoned after bounded retries.",
		ConstLabels: constLabels,
	}, []string{"resource"})
	outboxPending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "uplink_outbox_pending_events",
		Help:        "Outbox events waiting for dispatch after the last relay pass.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		batchProcessed,
		batchFailed,
		runLoopLag,
		lockWait,
		lockContention,
		outboxPending,
	)

	return &SchedulerMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		batchProcessed: batchProcessed,
		batchFailed:    batchFailed,
		runLoopLag:     runLoopLag,
		lockWait:       lockWait,
		lockContention: lockContention,
		outboxPending:  outboxPending,
		lockWaitByLabel: map[string]prometheus.Observer{
			LockResourceMember: lockWait.WithLabelValues(LockResourceMember),
			LockResourceOutbox: lockWait.WithLabelValues(LockResourceOutbox),
		},
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// AddBatchProcessed increments the batch processed counter for a resource by count.
func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 || m.batchProcessed == nil {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

// AddBatchFailed increments the batch failure counter for a failure kind.
func (m *SchedulerMetrics) AddBatchFailed(job, kind string, count int) {
	if m == nil || count <= 0 || m.batchFailed == nil {
		return
	}
	m.batchFailed.WithLabelValues(job, kind).Add(float64(count))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// ObserveLockWait records time spent waiting on an engine lock.
func (m *SchedulerMetrics) ObserveLockWait(resource string, duration time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	if observer, ok := m.lockWaitByLabel[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.lockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// IncLockContention counts a lock that could not be taken within the retry budget.
func (m *SchedulerMetrics) IncLockContention(resource string) {
	if m == nil || m.lockContention == nil {
		return
	}
	m.lockContention.WithLabelValues(resource).Inc()
}

// SetOutboxPending publishes the outbox backlog size.
func (m *SchedulerMetrics) SetOutboxPending(count int64) {
	if m == nil || m.outboxPending == nil {
		return
	}
	m.outboxPending.Set(float64(count))
}

// ClassifySchedulerErrorType returns a low-cardinality error type for logging.
func ClassifySchedulerErrorType(err error) string {
	if err == nil {
		return SchedulerErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SchedulerErrorTypeDeadlineExceeded
	}
	if isDBError(err) {
		return SchedulerErrorTypeDB
	}
	return SchedulerErrorTypeBusinessRule
}

// IsSchedulerErrorRetryable reports whether the scheduler error should be retried.
func IsSchedulerErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return db.IsRetryable(err)
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case db.IsLockTimeout(err):
		return SchedulerJobReasonDBLockTimeout
	case db.IsSerializationFailure(err):
		return SchedulerJobReasonSerializationFailure
	case db.IsDuplicateKeyErr(err):
		return SchedulerJobReasonUniqueViolation
	default:
		return SchedulerJobReasonUnknown
	}
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return db.IsRetryable(err) || db.IsDuplicateKeyErr(err)
}
