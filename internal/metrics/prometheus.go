package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the rent node
type Metrics struct {
	Registry *prometheus.Registry

	// Call metrics
	CallsTotal     *prometheus.CounterVec
	CallDuration   *prometheus.HistogramVec
	TrackedBytes   prometheus.Histogram
	RollbacksTotal prometheus.Counter

	// Ledger metrics
	AccountsRegistered      prometheus.Gauge
	StorageUsageBytes       prometheus.Gauge
	DepositedTotal          prometheus.Counter
	BelowMinimumWithdrawals prometheus.Counter

	// Payout metrics
	PayoutsQueuedTotal    prometheus.Counter
	PayoutsPublishedTotal prometheus.Counter
	PayoutsFailedTotal    prometheus.Counter
	PayoutsPending        prometheus.Gauge
	PayoutPublishDuration prometheus.Histogram

	// Journal metrics
	JournalAppendsTotal   prometheus.Counter
	JournalSegmentsTotal  prometheus.Gauge
	JournalAppendDuration prometheus.Histogram

	// Transport metrics
	IdempotentReplaysTotal prometheus.Counter
	RateLimitedTotal       prometheus.Counter

	// System metrics
	DiskUsagePercent prometheus.Gauge
}

// NewMetrics creates all Prometheus metrics and registers them on registry
func NewMetrics(registry *prometheus.Registry, nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		// Call metrics
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "rent",
			Name:        "calls_total",
			Help:        "Total number of calls by operation and outcome",
			ConstLabels: labels,
		}, []string{"operation", "outcome"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "rent",
			Name:        "call_duration_seconds",
			Help:        "Histogram of call durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation"}),
		TrackedBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "rent",
			Name:        "tracked_bytes",
			Help:        "Histogram of storage bytes measured at account registration",
			ConstLabels: labels,
			Buckets:     prometheus.LinearBuckets(64, 16, 8),
		}),
		RollbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "rent",
			Name:        "rollbacks_total",
			Help:        "Total number of calls whose writes were discarded",
			ConstLabels: labels,
		}),

		// Ledger metrics
		AccountsRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "accounts_registered",
			Help:        "Current number of registered accounts",
			ConstLabels: labels,
		}),
		StorageUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "storage_usage_bytes",
			Help:        "Committed host store byte-usage counter",
			ConstLabels: labels,
		}),
		DepositedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "deposited_units_total",
			Help:        "Total attached currency accepted by deposits, in smallest units",
			ConstLabels: labels,
		}),
		BelowMinimumWithdrawals: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "ledger",
			Name:        "below_minimum_withdrawals_total",
			Help:        "Explicit withdrawals rejected for leaving a balance below the required minimum",
			ConstLabels: labels,
		}),

		// Payout metrics
		PayoutsQueuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "payout",
			Name:        "queued_total",
			Help:        "Total number of payouts committed to the outbox",
			ConstLabels: labels,
		}),
		PayoutsPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "payout",
			Name:        "published_total",
			Help:        "Total number of payouts delivered to the sink",
			ConstLabels: labels,
		}),
		PayoutsFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "payout",
			Name:        "failed_total",
			Help:        "Total number of failed payout deliveries",
			ConstLabels: labels,
		}),
		PayoutsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "payout",
			Name:        "pending",
			Help:        "Payouts found in the outbox by the last broadcaster scan",
			ConstLabels: labels,
		}),
		PayoutPublishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "payout",
			Name:        "publish_duration_seconds",
			Help:        "Histogram of payout publish durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		// Journal metrics
		JournalAppendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "journal",
			Name:        "appends_total",
			Help:        "Total number of journal appends",
			ConstLabels: labels,
		}),
		JournalSegmentsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "journal",
			Name:        "segments_total",
			Help:        "Current number of journal segments",
			ConstLabels: labels,
		}),
		JournalAppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "pairdb",
			Subsystem:   "journal",
			Name:        "append_duration_seconds",
			Help:        "Histogram of journal append durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		// Transport metrics
		IdempotentReplaysTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "api",
			Name:        "idempotent_replays_total",
			Help:        "Total number of responses served from the idempotency cache",
			ConstLabels: labels,
		}),
		RateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "pairdb",
			Subsystem:   "api",
			Name:        "rate_limited_total",
			Help:        "Total number of requests rejected by the rate limiter",
			ConstLabels: labels,
		}),

		// System metrics
		DiskUsagePercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pairdb",
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Disk usage of the data directory in percent",
			ConstLabels: labels,
		}),
	}
}

// RecordCall records metrics for a completed call
func (m *Metrics) RecordCall(operation, outcome string, duration float64) {
	m.CallsTotal.WithLabelValues(operation, outcome).Inc()
	m.CallDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRollback records a discarded call
func (m *Metrics) RecordRollback() {
	m.RollbacksTotal.Inc()
}

// RecordRegistration records a newly created account
func (m *Metrics) RecordRegistration(trackedBytes uint64) {
	m.AccountsRegistered.Inc()
	m.TrackedBytes.Observe(float64(trackedBytes))
}

// RecordUnregistration records a removed account
func (m *Metrics) RecordUnregistration() {
	m.AccountsRegistered.Dec()
}

// RecordDeposit records accepted attached currency
func (m *Metrics) RecordDeposit(units float64) {
	m.DepositedTotal.Add(units)
}

// RecordBelowMinimumWithdrawal records a withdrawal rejected for dropping below the minimum
func (m *Metrics) RecordBelowMinimumWithdrawal() {
	m.BelowMinimumWithdrawals.Inc()
}

// UpdateLedgerStats updates ledger gauges
func (m *Metrics) UpdateLedgerStats(accounts int, storageUsage uint64) {
	m.AccountsRegistered.Set(float64(accounts))
	m.StorageUsageBytes.Set(float64(storageUsage))
}

// UpdateStorageUsage updates the storage usage gauge
func (m *Metrics) UpdateStorageUsage(storageUsage uint64) {
	m.StorageUsageBytes.Set(float64(storageUsage))
}

// RecordPayoutsQueued records payouts committed to the outbox
func (m *Metrics) RecordPayoutsQueued(n int) {
	m.PayoutsQueuedTotal.Add(float64(n))
}

// RecordPayoutPublished records a delivered payout
func (m *Metrics) RecordPayoutPublished(duration float64) {
	m.PayoutsPublishedTotal.Inc()
	m.PayoutPublishDuration.Observe(duration)
}

// RecordPayoutFailed records a failed payout delivery
func (m *Metrics) RecordPayoutFailed() {
	m.PayoutsFailedTotal.Inc()
}

// UpdatePendingPayouts updates the outbox backlog gauge
func (m *Metrics) UpdatePendingPayouts(n int) {
	m.PayoutsPending.Set(float64(n))
}

// RecordJournalAppend records a journal append
func (m *Metrics) RecordJournalAppend(duration float64) {
	m.JournalAppendsTotal.Inc()
	m.JournalAppendDuration.Observe(duration)
}

// UpdateJournalSegments updates the journal segment gauge
func (m *Metrics) UpdateJournalSegments(segments int) {
	m.JournalSegmentsTotal.Set(float64(segments))
}

// RecordIdempotentReplay records a response served from the idempotency cache
func (m *Metrics) RecordIdempotentReplay() {
	m.IdempotentReplaysTotal.Inc()
}

// RecordRateLimited records a rejected request
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

// UpdateDiskUsage updates the disk usage gauge
func (m *Metrics) UpdateDiskUsage(percent float64) {
	m.DiskUsagePercent.Set(percent)
}
