package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Scheduling metrics
	RemindersScheduled *prometheus.CounterVec
	RemindersCancelled prometheus.Counter

	// Dispatch metrics
	DeliveriesSent   *prometheus.CounterVec
	DeliveriesFailed *prometheus.CounterVec
	DispatchSkipped  *prometheus.CounterVec
	DispatchLatency  prometheus.Histogram
	RetryAttempts    prometheus.Counter
	RetriesExhausted prometheus.Counter

	// Sweep metrics
	DueBacklog      prometheus.Gauge
	SweepDuration   prometheus.Histogram
	StaleReclaimed  prometheus.Counter
	DeliverySuccess prometheus.Gauge
}

// New creates and registers all application metrics
func New(namespace string) *Metrics {
	return &Metrics{
		RemindersScheduled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_scheduled_total",
			Help:      "Total number of reminders materialized, by reminder type",
		}, []string{"reminder_type"}),
		RemindersCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_cancelled_total",
			Help:      "Total number of reminders cancelled by appointment lifecycle changes",
		}),
		DeliveriesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_sent_total",
			Help:      "Total number of successful deliveries, by channel",
		}, []string{"channel"}),
		DeliveriesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_failed_total",
			Help:      "Total number of failed delivery attempts, by channel",
		}, []string{"channel"}),
		DispatchSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_skipped_total",
			Help:      "Dispatch attempts that no-opped, by reason",
		}, []string{"reason"}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one reminder, including the channel send",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		RetryAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of automatic delivery retries",
		}),
		RetriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_exhausted_total",
			Help:      "Reminders that hit the retry ceiling and await manual intervention",
		}),
		DueBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_backlog",
			Help:      "Number of due pending reminders observed by the last sweep",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent in one delivery sweep",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		StaleReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_claims_reclaimed_total",
			Help:      "Processing claims returned to pending by the stale sweep",
		}),
		DeliverySuccess: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delivery_success_rate",
			Help:      "Trailing-window delivery success rate reported by the health check",
		}),
	}
}

// NewUnregistered returns metrics backed by a private registry, for tests
// that construct services more than once per process.
func NewUnregistered(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		RemindersScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminders_scheduled_total",
		}, []string{"reminder_type"}),
		RemindersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminders_cancelled_total",
		}),
		DeliveriesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_sent_total",
		}, []string{"channel"}),
		DeliveriesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_failed_total",
		}, []string{"channel"}),
		DispatchSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_skipped_total",
		}, []string{"reason"}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "dispatch_duration_seconds",
		}),
		RetryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retry_attempts_total",
		}),
		RetriesExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retries_exhausted_total",
		}),
		DueBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "due_backlog",
		}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sweep_duration_seconds",
		}),
		StaleReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stale_claims_reclaimed_total",
		}),
		DeliverySuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "delivery_success_rate",
		}),
	}
}
