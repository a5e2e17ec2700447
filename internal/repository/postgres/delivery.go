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

type deliveryRepository struct {
	BaseRepository
}

func NewDeliveryRepository(base BaseRepository) repository.DeliveryRepository {
	return &deliveryRepository{base}
}

func (r *deliveryRepository) Create(ctx context.Context, delivery *model.Delivery) error {
	if delivery == nil {
		return fmt.Errorf("delivery cannot be nil")
	}

	query := `
		INSERT INTO deliveries (
			id, patient_id, appointment_id, reminder_id, delivery_method,
			reminder_type, status, subject, content, retry_count,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	delivery.CreatedAt = time.Now()
	delivery.UpdatedAt = delivery.CreatedAt
	if delivery.Status == "" {
		delivery.Status = model.DeliveryStatusPending
	}

	_, err := r.db.ExecContext(ctx, query,
		delivery.ID,
		delivery.PatientID,
		delivery.AppointmentID,
		delivery.ReminderID,
		delivery.Method,
		delivery.ReminderType,
		delivery.Status,
		delivery.Subject,
		delivery.Content,
		delivery.RetryCount,
		delivery.CreatedAt,
		delivery.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepository) Get(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	query := `
		SELECT id, patient_id, appointment_id, reminder_id, delivery_method,
			   reminder_type, status, subject, content, sent_at, opened_at,
			   read_at, error_message, retry_count, created_at, updated_at
		FROM deliveries
		WHERE id = $1
	`
	var delivery model.Delivery
	if err := r.db.GetContext(ctx, &delivery, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("delivery not found")
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return &delivery, nil
}

func (r *deliveryRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE deliveries
		SET status = 'sent', sent_at = $2, error_message = NULL, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark delivery sent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delivery not found")
	}
	return nil
}

func (r *deliveryRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error {
	query := `
		UPDATE deliveries
		SET status = 'failed', error_message = $2, retry_count = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, id, errMsg, retryCount)
	if err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("delivery not found")
	}
	return nil
}

func (r *deliveryRepository) StatsSince(ctx context.Context, since time.Time) (model.DeliveryStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'sent')   AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM deliveries
		WHERE updated_at >= $1
	`
	var stats model.DeliveryStats
	if err := r.db.GetContext(ctx, &stats, query, since); err != nil {
		return model.DeliveryStats{}, fmt.Errorf("failed to aggregate delivery stats: %w", err)
	}
	return stats, nil
}

func (r *deliveryRepository) CountStaleFailed(ctx context.Context, cutoff time.Time, maxRetries int) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM deliveries
		WHERE status = 'failed' AND updated_at < $1 AND retry_count < $2
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, cutoff, maxRetries); err != nil {
		return 0, fmt.Errorf("failed to count stale failed deliveries: %w", err)
	}
	return count, nil
}
