package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/reminder-service/internal/model"
)

// ReminderRepository persists reminders and implements every status
// transition as a conditional, single-row update so concurrent workers
// cannot both act on the same reminder.
type ReminderRepository interface {
	// Create inserts the reminder. For non-manual types the (appointment,
	// type) pair is unique; a duplicate insert is a no-op and Create
	// returns false.
	Create(ctx context.Context, reminder *model.Reminder) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Reminder, error)
	ExistsForAppointmentType(ctx context.Context, appointmentID uuid.UUID, t model.ReminderType) (bool, error)
	ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Reminder, error)

	// FindDue returns pending reminders whose scheduled_at has elapsed.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Reminder, error)
	// FindRetryable returns failed reminders under the retry ceiling whose
	// next_retry_at has elapsed.
	FindRetryable(ctx context.Context, now time.Time, maxRetries, limit int) ([]*model.Reminder, error)
	// FindStaleFailed returns failed reminders under the ceiling with no
	// retry scheduled that have not been touched since the cutoff.
	FindStaleFailed(ctx context.Context, cutoff time.Time, maxRetries, limit int) ([]*model.Reminder, error)

	// ClaimForDispatch atomically moves pending -> processing. Exactly one
	// concurrent caller observes true.
	ClaimForDispatch(ctx context.Context, id uuid.UUID) (bool, error)
	// Requeue moves failed -> pending so the dispatcher can claim it again.
	Requeue(ctx context.Context, id uuid.UUID, maxRetries int) (bool, error)
	// ReclaimStale moves processing rows older than cutoff back to pending
	// (crash recovery under at-least-once job delivery).
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)

	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount int, nextRetryAt *time.Time) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
	// CancelPendingForAppointment cancels every pending reminder of the
	// appointment in one statement and reports how many were cancelled.
	CancelPendingForAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error)
}

// DeliveryRepository persists send-attempt evidence. Rows are updated in
// place on retry and never deleted.
type DeliveryRepository interface {
	Create(ctx context.Context, delivery *model.Delivery) error
	Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
	// StatsSince aggregates sent/failed counts for attempts concluded after
	// the given time.
	StatsSince(ctx context.Context, since time.Time) (model.DeliveryStats, error)
	CountStaleFailed(ctx context.Context, cutoff time.Time, maxRetries int) (int, error)
}

// AppointmentRepository reads appointment state owned by the web layer.
type AppointmentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	// FindScheduledOn returns remindable appointments whose scheduled_at
	// falls on the given calendar day.
	FindScheduledOn(ctx context.Context, day time.Time) ([]*model.Appointment, error)
}

// PatientRepository reads patient contact data owned by the web layer.
type PatientRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
}
