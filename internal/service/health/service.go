package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/reminder-service/internal/config"
	"github.com/jwalitptl/reminder-service/internal/repository"
	"github.com/jwalitptl/reminder-service/internal/service/dispatcher"
	"github.com/jwalitptl/reminder-service/pkg/logger"
	"github.com/jwalitptl/reminder-service/pkg/messaging"
	"github.com/jwalitptl/reminder-service/pkg/metrics"
)

// Report summarizes one health check run.
type Report struct {
	WindowStart    time.Time `json:"window_start"`
	Attempts       int       `json:"attempts"`
	Sent           int       `json:"sent"`
	Failed         int       `json:"failed"`
	SuccessRate    float64   `json:"success_rate"`
	BelowThreshold bool      `json:"below_threshold"`
	Retried        int       `json:"retried"`
	StaleFailed    int       `json:"stale_failed"`
	Warnings       []string  `json:"warnings,omitempty"`
}

// Service audits delivery health, consumes the backoff windows the
// dispatcher schedules, and verifies channel configuration completeness.
type Service struct {
	reminders  repository.ReminderRepository
	deliveries repository.DeliveryRepository
	dispatcher *dispatcher.Service
	broker     messaging.Broker

	channels  config.ChannelsConfig
	threshold float64
	window    time.Duration
	staleAge  time.Duration
	batchSize int

	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	cfg *config.Config,
	reminders repository.ReminderRepository,
	deliveries repository.DeliveryRepository,
	disp *dispatcher.Service,
	broker messaging.Broker,
	l *logger.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Service {
	threshold := cfg.Health.SuccessRateThreshold
	if threshold <= 0 {
		threshold = 0.8
	}
	window := cfg.Health.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	staleAge := cfg.Health.StaleAfter
	if staleAge <= 0 {
		staleAge = 30 * time.Minute
	}
	batchSize := cfg.Delivery.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	s := &Service{
		reminders:  reminders,
		deliveries: deliveries,
		dispatcher: disp,
		broker:     broker,
		channels:   cfg.Channels,
		threshold:  threshold,
		window:     window,
		staleAge:   staleAge,
		batchSize:  batchSize,
		logger:     l,
		metrics:    m,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs the full check: success-rate audit, retry sweep, stale
// sweep, and configuration audit. Individual item failures are logged and
// skipped; the report always comes back.
func (s *Service) Run(ctx context.Context) (Report, error) {
	now := s.now()
	report := Report{WindowStart: now.Add(-s.window)}

	stats, err := s.deliveries.StatsSince(ctx, report.WindowStart)
	if err != nil {
		return report, fmt.Errorf("failed to aggregate delivery stats: %w", err)
	}
	report.Sent = stats.Sent
	report.Failed = stats.Failed
	report.Attempts = stats.Attempts()
	report.SuccessRate = stats.SuccessRate()
	s.metrics.DeliverySuccess.Set(report.SuccessRate)

	if report.Attempts > 0 && report.SuccessRate < s.threshold {
		report.BelowThreshold = true
		warning := fmt.Sprintf("delivery success rate %.0f%% below threshold %.0f%%",
			report.SuccessRate*100, s.threshold*100)
		report.Warnings = append(report.Warnings, warning)
		s.logger.Warn(warning, "sent", report.Sent, "failed", report.Failed)
		s.publishAlert(ctx, messaging.AlertLowSuccessRate, warning)
	}

	report.Retried = s.retrySweep(ctx, now)

	stale, err := s.deliveries.CountStaleFailed(ctx, now.Add(-s.staleAge), s.dispatcher.RetryCeiling())
	if err != nil {
		s.logger.Error(err, "failed to count stale failed deliveries")
	} else {
		report.StaleFailed = stale
	}

	report.Warnings = append(report.Warnings, s.configAudit(ctx)...)
	return report, nil
}

// retrySweep is the poller that acts on the backoff windows: failed
// reminders under the ceiling whose next_retry_at has elapsed are requeued
// and dispatched, along with failed reminders that never got a retry
// scheduled (e.g. no contactable channel) once they have aged past the
// stale cutoff.
func (s *Service) retrySweep(ctx context.Context, now time.Time) int {
	ceiling := s.dispatcher.RetryCeiling()

	retryable, err := s.reminders.FindRetryable(ctx, now, ceiling, s.batchSize)
	if err != nil {
		s.logger.Error(err, "failed to find retryable reminders")
		retryable = nil
	}

	stale, err := s.reminders.FindStaleFailed(ctx, now.Add(-s.staleAge), ceiling, s.batchSize)
	if err != nil {
		s.logger.Error(err, "failed to find stale failed reminders")
		stale = nil
	}

	retried := 0
	for _, reminder := range append(retryable, stale...) {
		requeued, err := s.reminders.Requeue(ctx, reminder.ID, ceiling)
		if err != nil {
			s.logger.Error(err, "failed to requeue reminder", "reminder_id", reminder.ID.String())
			continue
		}
		if !requeued {
			continue
		}

		// Re-read for the fresh pending state before handing to the
		// dispatcher's claim.
		fresh, err := s.reminders.Get(ctx, reminder.ID)
		if err != nil {
			s.logger.Error(err, "failed to reload requeued reminder", "reminder_id", reminder.ID.String())
			continue
		}
		if _, err := s.dispatcher.Deliver(ctx, fresh); err != nil {
			s.logger.Error(err, "failed to dispatch requeued reminder", "reminder_id", reminder.ID.String())
			continue
		}
		retried++
	}
	return retried
}

// configAudit reports missing channel credentials as warnings. Partial
// channel availability is tolerated; the dispatcher's fallback policy
// routes around unconfigured channels.
func (s *Service) configAudit(ctx context.Context) []string {
	var warnings []string

	if !s.channels.Line.Configured() {
		warnings = append(warnings, "line channel token not configured")
	}
	if !s.channels.Email.Configured() {
		warnings = append(warnings, "email smtp settings not configured")
	}
	if s.channels.SMS.Enabled && !s.channels.SMS.Configured() {
		warnings = append(warnings, "sms enabled but twilio credentials not configured")
	}

	for _, warning := range warnings {
		s.logger.Warn("channel configuration incomplete", "detail", warning)
		s.publishAlert(ctx, messaging.AlertMissingConfig, warning)
	}
	return warnings
}

func (s *Service) publishAlert(ctx context.Context, alertType, message string) {
	alert := messaging.Alert{Type: alertType, Message: message}
	if err := s.broker.Publish(ctx, messaging.AlertsTopic, alert); err != nil {
		s.logger.Error(err, "failed to publish health alert", "alert_type", alertType)
	}
}
