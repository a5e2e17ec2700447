package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/repository"
)

type reminderRepository struct {
	BaseRepository
}

func NewReminderRepository(base BaseRepository) repository.ReminderRepository {
	return &reminderRepository{base}
}

// Create relies on a partial unique index over (appointment_id,
// reminder_type) WHERE reminder_type <> 'manual' AND delivery_status <>
// 'cancelled' so duplicate scheduling attempts collapse into a no-op.
// Cancelled rows fall out of the index, which is what lets a rescheduled
// appointment get a fresh set.
func (r *reminderRepository) Create(ctx context.Context, reminder *model.Reminder) (bool, error) {
	if reminder == nil {
		return false, fmt.Errorf("reminder cannot be nil")
	}

	query := `
		INSERT INTO reminders (
			id, appointment_id, reminder_type, scheduled_at, delivery_status,
			retry_count, subject, message_content, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (appointment_id, reminder_type)
			WHERE reminder_type <> 'manual' AND delivery_status <> 'cancelled'
		DO NOTHING
	`
	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}
	reminder.CreatedAt = time.Now()
	reminder.UpdatedAt = reminder.CreatedAt
	if reminder.DeliveryStatus == "" {
		reminder.DeliveryStatus = model.ReminderStatusPending
	}

	result, err := r.db.ExecContext(ctx, query,
		reminder.ID,
		reminder.AppointmentID,
		reminder.Type,
		reminder.ScheduledAt,
		reminder.DeliveryStatus,
		reminder.RetryCount,
		reminder.Subject,
		reminder.MessageContent,
		reminder.CreatedAt,
		reminder.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create reminder: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

const reminderColumns = `
	id, appointment_id, reminder_type, scheduled_at, delivery_status,
	retry_count, next_retry_at, sent_at, error_message, subject,
	message_content, created_at, updated_at
`

func (r *reminderRepository) Get(ctx context.Context, id uuid.UUID) (*model.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE id = $1`

	var reminder model.Reminder
	if err := r.db.GetContext(ctx, &reminder, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reminder not found")
		}
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return &reminder, nil
}

// ExistsForAppointmentType ignores cancelled rows: a cancelled reminder is
// history, not an active claim on its (appointment, type) slot.
func (r *reminderRepository) ExistsForAppointmentType(ctx context.Context, appointmentID uuid.UUID, t model.ReminderType) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM reminders
			WHERE appointment_id = $1 AND reminder_type = $2
			  AND delivery_status <> 'cancelled'
		)
	`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, appointmentID, t); err != nil {
		return false, fmt.Errorf("failed to check reminder existence: %w", err)
	}
	return exists, nil
}

func (r *reminderRepository) ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*model.Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE appointment_id = $1
		ORDER BY scheduled_at ASC
	`
	var reminders []*model.Reminder
	if err := r.db.SelectContext(ctx, &reminders, query, appointmentID); err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return reminders, nil
}

func (r *reminderRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE delivery_status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`
	var reminders []*model.Reminder
	if err := r.db.SelectContext(ctx, &reminders, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to find due reminders: %w", err)
	}
	return reminders, nil
}

func (r *reminderRepository) FindRetryable(ctx context.Context, now time.Time, maxRetries, limit int) ([]*model.Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE delivery_status = 'failed'
		AND retry_count < $2
		AND next_retry_at IS NOT NULL
		AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $3
	`
	var reminders []*model.Reminder
	if err := r.db.SelectContext(ctx, &reminders, query, now, maxRetries, limit); err != nil {
		return nil, fmt.Errorf("failed to find retryable reminders: %w", err)
	}
	return reminders, nil
}

func (r *reminderRepository) FindStaleFailed(ctx context.Context, cutoff time.Time, maxRetries, limit int) ([]*model.Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE delivery_status = 'failed'
		AND retry_count < $2
		AND next_retry_at IS NULL
		AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $3
	`
	var reminders []*model.Reminder
	if err := r.db.SelectContext(ctx, &reminders, query, cutoff, maxRetries, limit); err != nil {
		return nil, fmt.Errorf("failed to find stale failed reminders: %w", err)
	}
	return reminders, nil
}

// ClaimForDispatch is the at-most-one-send guard: only the caller whose
// conditional update lands observes a row change.
func (r *reminderRepository) ClaimForDispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE reminders
		SET delivery_status = 'processing', updated_at = NOW()
		WHERE id = $1 AND delivery_status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim reminder: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *reminderRepository) Requeue(ctx context.Context, id uuid.UUID, maxRetries int) (bool, error) {
	query := `
		UPDATE reminders
		SET delivery_status = 'pending', next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1 AND delivery_status = 'failed' AND retry_count < $2
	`
	result, err := r.db.ExecContext(ctx, query, id, maxRetries)
	if err != nil {
		return false, fmt.Errorf("failed to requeue reminder: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *reminderRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE reminders
		SET delivery_status = 'pending', updated_at = NOW()
		WHERE delivery_status = 'processing' AND updated_at < $1
	`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale reminders: %w", err)
	}
	return result.RowsAffected()
}

func (r *reminderRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE reminders
		SET delivery_status = 'sent', sent_at = $2, retry_count = 0,
			error_message = NULL, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1 AND delivery_status = 'processing'
	`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("reminder not in processing state")
	}
	return nil
}

func (r *reminderRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount int, nextRetryAt *time.Time) error {
	query := `
		UPDATE reminders
		SET delivery_status = 'failed', error_message = $2, retry_count = $3,
			next_retry_at = $4, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, errMsg, retryCount, nextRetryAt); err != nil {
		return fmt.Errorf("failed to mark reminder failed: %w", err)
	}
	return nil
}

func (r *reminderRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE reminders
		SET delivery_status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND delivery_status IN ('pending', 'processing', 'failed')
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to cancel reminder: %w", err)
	}
	return nil
}

func (r *reminderRepository) CancelPendingForAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	query := `
		UPDATE reminders
		SET delivery_status = 'cancelled', updated_at = NOW()
		WHERE appointment_id = $1 AND delivery_status = 'pending'
	`
	result, err := r.db.ExecContext(ctx, query, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel reminders for appointment: %w", err)
	}
	return result.RowsAffected()
}
