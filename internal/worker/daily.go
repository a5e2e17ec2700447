package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/reminder-service/internal/config"
	"github.com/jwalitptl/reminder-service/internal/repository"
	"github.com/jwalitptl/reminder-service/internal/service/dispatcher"
	"github.com/jwalitptl/reminder-service/internal/service/scheduler"
	"github.com/jwalitptl/reminder-service/pkg/logger"
	"github.com/jwalitptl/reminder-service/pkg/metrics"
)

// materializationOffsets are the look-ahead windows the daily cycle scans
// for appointments whose reminders should exist by now.
var materializationOffsets = []int{7, 3}

// CycleStats aggregates one daily cycle run.
type CycleStats struct {
	Delivered int `json:"delivered"`
	Created   int `json:"created"`
}

// DailyDriver runs the delivery sweep and the materialization sweep. The
// delivery sweep is safe at any frequency since it only acts on due pending
// reminders; the materialization sweep is meant to run once per day.
type DailyDriver struct {
	reminders    repository.ReminderRepository
	appointments repository.AppointmentRepository
	dispatcher   *dispatcher.Service
	scheduler    *scheduler.Service

	batchSize       int
	pollInterval    time.Duration
	staleClaimAfter time.Duration

	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*DailyDriver)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *DailyDriver) { d.now = now }
}

func NewDailyDriver(
	cfg config.DeliveryConfig,
	reminders repository.ReminderRepository,
	appointments repository.AppointmentRepository,
	disp *dispatcher.Service,
	sched *scheduler.Service,
	l *logger.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *DailyDriver {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Minute
	}
	staleClaimAfter := cfg.StaleClaimAfter
	if staleClaimAfter <= 0 {
		staleClaimAfter = 10 * time.Minute
	}

	d := &DailyDriver{
		reminders:       reminders,
		appointments:    appointments,
		dispatcher:      disp,
		scheduler:       sched,
		batchSize:       batchSize,
		pollInterval:    pollInterval,
		staleClaimAfter: staleClaimAfter,
		logger:          l,
		metrics:         m,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs the delivery sweep on a ticker until the context is cancelled.
func (d *DailyDriver) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info("starting delivery sweep loop", "poll_interval", d.pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down delivery sweep loop")
			return
		case <-ticker.C:
			if _, err := d.DeliverySweep(ctx); err != nil {
				d.logger.Error(err, "delivery sweep failed")
			}
		}
	}
}

// DeliverySweep dispatches every due pending reminder, continuing past
// individual failures, and returns the number actually sent. Stuck
// processing claims from crashed workers are reclaimed first.
func (d *DailyDriver) DeliverySweep(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(d.metrics.SweepDuration)
	defer timer.ObserveDuration()

	now := d.now()

	reclaimed, err := d.reminders.ReclaimStale(ctx, now.Add(-d.staleClaimAfter))
	if err != nil {
		d.logger.Error(err, "failed to reclaim stale claims")
	} else if reclaimed > 0 {
		d.metrics.StaleReclaimed.Add(float64(reclaimed))
		d.logger.Warn("reclaimed stale processing claims", "count", reclaimed)
	}

	due, err := d.reminders.FindDue(ctx, now, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find due reminders: %w", err)
	}
	d.metrics.DueBacklog.Set(float64(len(due)))

	sent := 0
	for _, reminder := range due {
		outcome, err := d.dispatcher.Deliver(ctx, reminder)
		if err != nil {
			// One bad reminder must not abort the batch.
			d.logger.Error(err, "failed to dispatch reminder", "reminder_id", reminder.ID.String())
			continue
		}
		if outcome == dispatcher.OutcomeSent {
			sent++
		}
	}
	return sent, nil
}

// MaterializationSweep schedules reminders for appointments falling exactly
// seven and three days after asOf. Scheduling is idempotent, so re-running
// for the same day cannot duplicate reminders.
func (d *DailyDriver) MaterializationSweep(ctx context.Context, asOf time.Time) (int, error) {
	created := 0
	for _, offset := range materializationOffsets {
		day := asOf.AddDate(0, 0, offset)
		appointments, err := d.appointments.FindScheduledOn(ctx, day)
		if err != nil {
			return created, fmt.Errorf("failed to find appointments %d days out: %w", offset, err)
		}
		for _, appt := range appointments {
			reminders, err := d.scheduler.ScheduleForAppointment(ctx, appt)
			if err != nil {
				d.logger.Error(err, "failed to schedule reminders",
					"appointment_id", appt.ID.String())
				continue
			}
			created += len(reminders)
		}
	}
	return created, nil
}

// RunDailyCycle runs the delivery sweep followed by the materialization
// sweep. Idempotent for a given asOf: already-sent reminders are guarded by
// their delivery status and existing reminders are never duplicated.
func (d *DailyDriver) RunDailyCycle(ctx context.Context, asOf time.Time) (CycleStats, error) {
	var stats CycleStats

	delivered, err := d.DeliverySweep(ctx)
	stats.Delivered = delivered
	if err != nil {
		return stats, err
	}

	created, err := d.MaterializationSweep(ctx, asOf)
	stats.Created = created
	if err != nil {
		return stats, err
	}

	d.logger.Info("daily cycle complete",
		"as_of", asOf.Format("2006-01-02"),
		"delivered", stats.Delivered,
		"created", stats.Created)
	return stats, nil
}
