package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduler metrics
	PassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_passes_total",
			Help: "Total number of scheduler passes",
		},
		[]string{"trigger", "result"},
	)

	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "compliance_pass_duration_seconds",
			Help:    "Scheduler pass duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	CredentialsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compliance_credentials_evaluated_total",
			Help: "Total number of per-credential cycles run",
		},
	)

	// Dispatch metrics
	RemindersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_reminders_dispatched_total",
			Help: "Total reminder payloads handed to transports",
		},
		[]string{"channel", "threshold"},
	)

	ChannelFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compliance_channel_failures_total",
			Help: "Total transport handoffs that failed",
		},
		[]string{"channel"},
	)

	LedgerConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "compliance_ledger_conflicts_total",
			Help: "Total optimistic-concurrency conflicts on ledger writes",
		},
	)

	// Fleet status, refreshed each pass
	CredentialsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "compliance_credentials_by_status",
			Help: "Tracked credentials by derived status",
		},
		[]string{"status"},
	)
)
