package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/repository"
	apperrors "github.com/jwalitptl/reminder-service/pkg/errors"
	"github.com/jwalitptl/reminder-service/pkg/logger"
	"github.com/jwalitptl/reminder-service/pkg/metrics"
)

// Reminder anchor times. Offsets land at a fixed time of day so patients are
// not notified at odd hours: the week-ahead reminder mid-morning, the
// three-day reminder early afternoon, the same-day reminder first thing.
const (
	sevenDayAnchorHour = 10
	threeDayAnchorHour = 14
	sameDayAnchorHour  = 9
)

// Service materializes reminders for appointments. Scheduling is idempotent:
// the repository enforces at most one reminder per (appointment, type) for
// non-manual types, so repeated invocations cannot duplicate rows.
type Service struct {
	reminders repository.ReminderRepository
	logger    *logger.Logger
	metrics   *metrics.Metrics
	validate  *validator.Validate
	now       func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(reminders repository.ReminderRepository, l *logger.Logger, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		reminders: reminders,
		logger:    l,
		metrics:   m,
		validate:  validator.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type candidate struct {
	reminderType model.ReminderType
	scheduledAt  time.Time
}

func anchor(day time.Time, hour int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
}

// candidatesFor computes the reminder times for an appointment: seven days
// and three days ahead, plus a same-day reminder if it would still precede
// the appointment itself.
func candidatesFor(appt *model.Appointment) []candidate {
	out := []candidate{
		{model.ReminderTypeSevenDays, anchor(appt.ScheduledAt.AddDate(0, 0, -7), sevenDayAnchorHour)},
		{model.ReminderTypeThreeDays, anchor(appt.ScheduledAt.AddDate(0, 0, -3), threeDayAnchorHour)},
	}
	if sameDay := anchor(appt.ScheduledAt, sameDayAnchorHour); sameDay.Before(appt.ScheduledAt) {
		out = append(out, candidate{model.ReminderTypeOneDay, sameDay})
	}
	return out
}

// ScheduleForAppointment creates the pending reminders for the appointment.
// Candidates whose time has already passed are skipped, as are (appointment,
// type) pairs that already exist. Returns the reminders actually created.
func (s *Service) ScheduleForAppointment(ctx context.Context, appt *model.Appointment) ([]*model.Reminder, error) {
	if appt == nil {
		return nil, apperrors.InvalidState("appointment is nil")
	}
	if appt.ScheduledAt.IsZero() {
		return nil, apperrors.InvalidState("appointment has no scheduled time")
	}
	if !appt.RemindersAllowed() {
		// Guard, not an error: lifecycle hooks may race a cancellation.
		s.logger.Warn("skipping reminder scheduling for non-remindable appointment",
			"appointment_id", appt.ID.String(), "status", string(appt.Status))
		return nil, nil
	}

	now := s.now()
	var created []*model.Reminder
	for _, c := range candidatesFor(appt) {
		if !c.scheduledAt.After(now) {
			continue
		}

		exists, err := s.reminders.ExistsForAppointmentType(ctx, appt.ID, c.reminderType)
		if err != nil {
			return created, fmt.Errorf("failed to check existing reminder: %w", err)
		}
		if exists {
			continue
		}

		reminder := &model.Reminder{
			ID:             uuid.New(),
			AppointmentID:  appt.ID,
			Type:           c.reminderType,
			ScheduledAt:    c.scheduledAt,
			DeliveryStatus: model.ReminderStatusPending,
		}
		// Create no-ops on conflict, so a concurrent scheduler invocation
		// cannot produce a duplicate even past the existence check.
		inserted, err := s.reminders.Create(ctx, reminder)
		if err != nil {
			return created, fmt.Errorf("failed to create reminder: %w", err)
		}
		if !inserted {
			continue
		}

		s.metrics.RemindersScheduled.WithLabelValues(string(c.reminderType)).Inc()
		s.logger.Info("reminder scheduled",
			"appointment_id", appt.ID.String(),
			"reminder_type", string(c.reminderType),
			"scheduled_at", c.scheduledAt)
		created = append(created, reminder)
	}
	return created, nil
}

// CreateManualReminder schedules an ad-hoc reminder whose subject and body
// are delivered verbatim.
func (s *Service) CreateManualReminder(ctx context.Context, req *model.CreateManualReminderRequest) (*model.Reminder, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.InvalidInput("invalid manual reminder request", err)
	}
	if !req.ScheduledAt.After(s.now()) {
		return nil, apperrors.InvalidInput("scheduled_at must be in the future", nil)
	}

	subject := req.Subject
	content := req.Content
	reminder := &model.Reminder{
		ID:             uuid.New(),
		AppointmentID:  req.AppointmentID,
		Type:           model.ReminderTypeManual,
		ScheduledAt:    req.ScheduledAt,
		DeliveryStatus: model.ReminderStatusPending,
		Subject:        &subject,
		MessageContent: &content,
	}
	if _, err := s.reminders.Create(ctx, reminder); err != nil {
		return nil, fmt.Errorf("failed to create manual reminder: %w", err)
	}

	s.metrics.RemindersScheduled.WithLabelValues(string(model.ReminderTypeManual)).Inc()
	return reminder, nil
}

// CancelForAppointment cancels every pending reminder of the appointment in
// place. Reminders are never deleted.
func (s *Service) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	cancelled, err := s.reminders.CancelPendingForAppointment(ctx, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel reminders: %w", err)
	}
	if cancelled > 0 {
		s.metrics.RemindersCancelled.Add(float64(cancelled))
		s.logger.Info("reminders cancelled",
			"appointment_id", appointmentID.String(), "count", cancelled)
	}
	return cancelled, nil
}

// OnAppointmentCreated is the lifecycle hook for a freshly booked
// appointment.
func (s *Service) OnAppointmentCreated(ctx context.Context, appt *model.Appointment) error {
	_, err := s.ScheduleForAppointment(ctx, appt)
	return err
}

// OnAppointmentUpdated re-plans reminders when the appointment date moved.
// Existing pending reminders target the old date and are cancelled before a
// fresh set is scheduled.
func (s *Service) OnAppointmentUpdated(ctx context.Context, appt *model.Appointment, previousScheduledAt time.Time) error {
	if !appt.RemindersAllowed() {
		_, err := s.CancelForAppointment(ctx, appt.ID)
		return err
	}
	if appt.ScheduledAt.Equal(previousScheduledAt) {
		return nil
	}
	if _, err := s.CancelForAppointment(ctx, appt.ID); err != nil {
		return err
	}
	_, err := s.ScheduleForAppointment(ctx, appt)
	return err
}

// OnAppointmentCancelled cancels all pending reminders synchronously so a
// concurrent sweep cannot pick one up for the dead appointment.
func (s *Service) OnAppointmentCancelled(ctx context.Context, appt *model.Appointment) error {
	_, err := s.CancelForAppointment(ctx, appt.ID)
	return err
}
